package icc

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/colorforge/go-colord/colorderr"
	"github.com/colorforge/go-colord/log"
)

// profileMimeType is the content type a store candidate must detect as.
const profileMimeType = "application/vnd.iccprofile"

// storeMaxDepth bounds directory recursion below a watched location.
const storeMaxDepth = 2

// StoreSearchKind names a well-known set of profile directories.
type StoreSearchKind int

const (
	// SearchUser is the per-user data directory plus the legacy
	// ~/.color/icc directory.
	SearchUser StoreSearchKind = iota
	// SearchMachine is the local state profile directory.
	SearchMachine
	// SearchSystem is the distribution profile directories.
	SearchSystem
)

// StoreEventKind distinguishes store events.
type StoreEventKind int

const (
	// StoreAdded fires once per newly discovered profile.
	StoreAdded StoreEventKind = iota
	// StoreRemoved fires when a profile's file disappears.
	StoreRemoved
)

// StoreEvent is delivered on the store's event channel.
type StoreEvent struct {
	Kind    StoreEventKind
	Profile *Profile
}

// StoreConfig is the optional YAML configuration for a store.
type StoreConfig struct {
	// Locations are extra directories searched in addition to any
	// search-kind directories.
	Locations []string `yaml:"locations"`
	// TempfileMarkers are substrings identifying in-progress files to
	// ignore; ".goutputstream" is always included.
	TempfileMarkers []string `yaml:"tempfile-markers"`
	// CreateLocation makes SearchKind create its first directory.
	CreateLocation bool `yaml:"create-location"`
}

// Store is a content-addressed set of profiles discovered in watched
// directories. Profiles are deduplicated by checksum; a second file with
// identical content is ignored but logged.
type Store struct {
	mu       sync.Mutex
	profiles map[string]*Profile // checksum → profile
	byPath   map[string]string   // filename → checksum
	watched  map[string]bool

	config  StoreConfig
	bundle  fs.FS
	prefix  string
	watcher *fsnotify.Watcher
	events  chan StoreEvent
	done    chan struct{}
}

// NewStore creates an empty store. Close releases the watcher.
func NewStore() *Store {
	return &Store{
		profiles: map[string]*Profile{},
		byPath:   map[string]string{},
		watched:  map[string]bool{},
		config: StoreConfig{
			TempfileMarkers: []string{".goutputstream"},
		},
		events: make(chan StoreEvent, 64),
		done:   make(chan struct{}),
	}
}

// LoadConfig merges settings from a YAML file.
func (s *Store) LoadConfig(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return colorderr.Wrap(colorderr.FailedToRead,
			errors.Wrap(err, "store config"), "cannot read %s", filename)
	}
	var cfg StoreConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return colorderr.Wrap(colorderr.FileInvalid, err,
			"bad store config %s", filename)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.Locations = append(s.config.Locations, cfg.Locations...)
	s.config.TempfileMarkers = append(s.config.TempfileMarkers,
		cfg.TempfileMarkers...)
	s.config.CreateLocation = s.config.CreateLocation || cfg.CreateLocation
	return nil
}

// SetResourceBundle binds a read-only bundle: files whose path starts with
// prefix load from the bundle by basename instead of the filesystem.
func (s *Store) SetResourceBundle(bundle fs.FS, prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundle = bundle
	s.prefix = prefix
}

// Events returns the add/remove notification channel. Receivers must drain
// promptly and must not call back into the store from the same goroutine
// that blocks the channel.
func (s *Store) Events() <-chan StoreEvent {
	return s.events
}

// Profiles snapshots the known profiles.
func (s *Store) Profiles() []*Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	return out
}

// ProfileByChecksum looks up a profile by its content hash.
func (s *Store) ProfileByChecksum(checksum string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[checksum]; ok {
		return p, nil
	}
	return nil, colorderr.New(colorderr.NotFound,
		"no profile with checksum %s", checksum)
}

// ProfileByFilename looks up a profile by the path it was loaded from.
func (s *Store) ProfileByFilename(filename string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sum, ok := s.byPath[filename]; ok {
		return s.profiles[sum], nil
	}
	return nil, colorderr.New(colorderr.NotFound,
		"no profile from %s", filename)
}

// isTempfile reports whether the path carries an in-progress marker.
func (s *Store) isTempfile(path string) bool {
	for _, marker := range s.config.TempfileMarkers {
		if marker != "" && strings.Contains(path, marker) {
			return true
		}
	}
	return false
}

// loadCandidate loads a path as a profile, honoring the resource bundle.
func (s *Store) loadCandidate(path string) (*Profile, error) {
	if s.bundle != nil && s.prefix != "" && strings.HasPrefix(path, s.prefix) {
		data, err := fs.ReadFile(s.bundle, filepath.Base(path))
		if err != nil {
			return nil, colorderr.Wrap(colorderr.FailedToRead,
				errors.Wrap(err, "resource bundle"),
				"cannot read bundled %s", path)
		}
		p, err := Parse(data)
		if err != nil {
			return nil, err
		}
		p.SetFilename(path)
		return p, nil
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, colorderr.Wrap(colorderr.FailedToRead,
			errors.Wrap(err, "mime sniff"), "cannot read %s", path)
	}
	if !mt.Is(profileMimeType) {
		return nil, colorderr.New(colorderr.FileInvalid,
			"%s is %s, not %s", path, mt.String(), profileMimeType)
	}
	return Load(path)
}

// addProfile inserts a loaded profile, emitting Added. A duplicate
// checksum returns AlreadyExists.
func (s *Store) addProfile(p *Profile) error {
	s.mu.Lock()
	if _, dup := s.profiles[p.Checksum()]; dup {
		s.mu.Unlock()
		return colorderr.New(colorderr.AlreadyExists,
			"profile %s already added", p.Checksum())
	}
	s.profiles[p.Checksum()] = p
	if p.Filename() != "" {
		s.byPath[p.Filename()] = p.Checksum()
	}
	s.mu.Unlock()
	s.emit(StoreEvent{Kind: StoreAdded, Profile: p})
	return nil
}

// AddProfile inserts an externally loaded profile.
func (s *Store) AddProfile(p *Profile) error {
	return s.addProfile(p)
}

// removeByPrefix drops every profile whose filename starts with the prefix
// and emits Removed for each.
func (s *Store) removeByPrefix(prefix string) {
	s.mu.Lock()
	var removed []*Profile
	for path, sum := range s.byPath {
		if strings.HasPrefix(path, prefix) {
			if p, ok := s.profiles[sum]; ok {
				removed = append(removed, p)
				delete(s.profiles, sum)
			}
			delete(s.byPath, path)
		}
	}
	s.mu.Unlock()
	for _, p := range removed {
		s.emit(StoreEvent{Kind: StoreRemoved, Profile: p})
	}
}

func (s *Store) emit(ev StoreEvent) {
	select {
	case s.events <- ev:
	default:
		log.Info.Printf("store event dropped, receiver too slow")
	}
}

// SearchLocation enumerates a directory (to the fixed recursion depth),
// loads every profile found and watches the tree for changes.
func (s *Store) SearchLocation(path string) error {
	return s.searchPath(path, 0)
}

func (s *Store) searchPath(path string, depth int) error {
	if depth > storeMaxDepth {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return colorderr.Wrap(colorderr.NotFound,
			errors.Wrap(err, "search location"), "cannot stat %s", path)
	}
	if !info.IsDir() {
		return s.searchChild(path, depth)
	}
	if err := s.watchPath(path); err != nil {
		return err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return colorderr.Wrap(colorderr.FailedToRead,
			errors.Wrap(err, "search location"), "cannot list %s", path)
	}
	for _, entry := range entries {
		if err := s.searchChild(filepath.Join(path, entry.Name()), depth); err != nil {
			// keep scanning, a single bad file is not fatal
			log.Debug.Printf("skipping %s: %v", entry.Name(), err)
		}
	}
	return nil
}

// searchChild handles one directory entry during a scan.
func (s *Store) searchChild(path string, depth int) error {
	info, err := os.Stat(path)
	if err != nil {
		return colorderr.Wrap(colorderr.NotFound,
			errors.Wrap(err, "scan"), "cannot stat %s", path)
	}
	if info.IsDir() {
		return s.searchPath(path, depth+1)
	}
	if s.isTempfile(path) {
		return nil
	}
	p, err := s.loadCandidate(path)
	if err != nil {
		return err
	}
	if err := s.addProfile(p); err != nil {
		if colorderr.IsKind(err, colorderr.AlreadyExists) {
			log.Info.Printf("ignoring duplicate profile %s", path)
			return nil
		}
		return err
	}
	return nil
}

// SearchKind enumerates the well-known directories for a search kind.
// Directories that do not exist are skipped; with CreateLocation set the
// first directory of the list is created.
func (s *Store) SearchKind(kind StoreSearchKind) error {
	var locations []string
	switch kind {
	case SearchUser:
		if home, err := os.UserHomeDir(); err == nil {
			locations = append(locations,
				filepath.Join(home, ".local", "share", "icc"),
				filepath.Join(home, ".color", "icc"))
		}
	case SearchMachine:
		locations = append(locations, "/var/lib/color/icc")
	case SearchSystem:
		locations = append(locations,
			"/usr/share/color/icc",
			"/usr/local/share/color/icc",
			"/Library/ColorSync/Profiles/Displays")
	}
	locations = append(locations, s.config.Locations...)

	if s.config.CreateLocation && len(locations) > 0 {
		if err := os.MkdirAll(locations[0], 0o755); err != nil {
			return colorderr.Wrap(colorderr.FailedToWrite,
				errors.Wrap(err, "create location"),
				"cannot create %s", locations[0])
		}
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err != nil {
			continue
		}
		if err := s.searchPath(loc, 0); err != nil {
			return err
		}
	}
	return nil
}

// watchPath registers a directory with the change watcher, starting it on
// first use.
func (s *Store) watchPath(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watched[path] {
		return nil
	}
	if s.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return colorderr.Wrap(colorderr.Internal, err,
				"cannot start file monitor")
		}
		s.watcher = w
		go s.watchLoop()
	}
	if err := s.watcher.Add(path); err != nil {
		return colorderr.Wrap(colorderr.Internal,
			errors.Wrap(err, "watch"), "cannot watch %s", path)
	}
	s.watched[path] = true
	return nil
}

// watchLoop services filesystem events until Close.
func (s *Store) watchLoop() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleFsEvent(ev)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Debug.Printf("file monitor: %v", err)
		}
	}
}

func (s *Store) handleFsEvent(ev fsnotify.Event) {
	switch {
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		if s.isTempfile(ev.Name) {
			return
		}
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if err := s.searchPath(ev.Name, 1); err != nil {
				log.Debug.Printf("watch scan %s: %v", ev.Name, err)
			}
			return
		}
		if _, err := s.ProfileByFilename(ev.Name); err == nil {
			return
		}
		p, err := s.loadCandidate(ev.Name)
		if err != nil {
			log.Debug.Printf("watch load %s: %v", ev.Name, err)
			return
		}
		if err := s.addProfile(p); err != nil {
			log.Info.Printf("ignoring duplicate profile %s", ev.Name)
		}
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		s.removeByPrefix(ev.Name)
	}
}

// Close stops the watcher and the event channel.
func (s *Store) Close() error {
	close(s.done)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			return colorderr.Wrap(colorderr.Internal, err,
				"cannot close file monitor")
		}
		s.watcher = nil
	}
	return nil
}
