package sensor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/colorforge/go-colord/color"
	"github.com/colorforge/go-colord/colorderr"
	"github.com/colorforge/go-colord/log"
	"github.com/colorforge/go-colord/spectrum"
)

// Driver is the per-hardware implementation behind a Sensor. The framework
// serializes all calls on one sensor, so drivers never see concurrent
// invocations.
type Driver interface {
	// Coldplug probes the hardware and fills in the sensor's identity
	// fields through the setters.
	Coldplug(ctx context.Context, s *Sensor) error
	// Lock claims the hardware and performs per-driver warmup.
	Lock(ctx context.Context) error
	// Unlock reverses the warmup.
	Unlock(ctx context.Context) error
	// GetSample takes an XYZ reading for the given display technology.
	GetSample(ctx context.Context, cap Cap) (color.XYZ, error)
	// GetSpectrum takes a spectral reading. Colorimeters without
	// spectral hardware return NoSupport.
	GetSpectrum(ctx context.Context, cap Cap) (*spectrum.Spectrum, error)
	// SetOptions applies driver-specific options.
	SetOptions(ctx context.Context, options map[string]interface{}) error
	// DumpDevice renders driver-private state for bug reports.
	DumpDevice(ctx context.Context) (string, error)
	// Close drops the hardware handles.
	Close() error
}

// EventKind distinguishes sensor events.
type EventKind int

const (
	// EventChanged fires on every attribute mutation, carrying the
	// property name.
	EventChanged EventKind = iota
	// EventButtonPressed fires when the hardware reports its button,
	// regardless of state.
	EventButtonPressed
)

// Event is delivered on the sensor's event channel.
type Event struct {
	Kind     EventKind
	Property string
}

// Sensor is one measurement device and its lifecycle bookkeeping. All
// methods are safe for concurrent use; overlapping operations on the same
// sensor fail with Busy.
type Sensor struct {
	mu sync.Mutex

	driver Driver

	kind       Kind
	state      State
	mode       Cap
	caps       Cap
	serial     string
	model      string
	vendor     string
	id         string
	objectPath string
	native     bool
	embedded   bool
	locked     bool

	options  map[string]interface{}
	metadata map[string]string

	inflight bool
	events   chan Event
}

// New wraps a driver. Coldplug must be called before use.
func New(driver Driver, kind Kind, native, embedded bool) *Sensor {
	return &Sensor{
		driver:   driver,
		kind:     kind,
		native:   native,
		embedded: embedded,
		options:  map[string]interface{}{},
		metadata: map[string]string{},
		events:   make(chan Event, 32),
	}
}

// Events returns the sensor's event channel. Receivers must not block.
func (s *Sensor) Events() <-chan Event { return s.events }

func (s *Sensor) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		log.Debug.Printf("sensor %s event dropped", s.id)
	}
}

// notifyChanged publishes a property mutation.
func (s *Sensor) notifyChanged(property string) {
	s.emit(Event{Kind: EventChanged, Property: property})
}

// EmitButtonPressed is called by drivers when the hardware button fires.
func (s *Sensor) EmitButtonPressed() {
	s.emit(Event{Kind: EventButtonPressed})
}

// Kind returns the hardware model.
func (s *Sensor) Kind() Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind
}

// State returns the lifecycle state.
func (s *Sensor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState publishes a state transition.
func (s *Sensor) setState(state State) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()
	if changed {
		s.notifyChanged("state")
	}
}

// Mode returns the last capability used for a measurement.
func (s *Sensor) Mode() Cap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode records the active capability; drivers with a physical dial call
// this from their interrupt path.
func (s *Sensor) SetMode(mode Cap) {
	s.mu.Lock()
	changed := s.mode != mode
	s.mode = mode
	s.mu.Unlock()
	if changed {
		s.notifyChanged("mode")
	}
}

// Caps returns the capability bitfield.
func (s *Sensor) Caps() Cap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// SetCaps is called by drivers during coldplug.
func (s *Sensor) SetCaps(caps Cap) {
	s.mu.Lock()
	s.caps = caps
	s.mu.Unlock()
	s.notifyChanged("caps")
}

// Serial returns the hardware serial number.
func (s *Sensor) Serial() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serial
}

// SetSerial is called by drivers once the EEPROM is readable.
func (s *Sensor) SetSerial(serial string) {
	s.mu.Lock()
	s.serial = serial
	s.mu.Unlock()
	s.notifyChanged("serial")
}

// Model returns the marketing model name.
func (s *Sensor) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// SetModel is called by drivers during coldplug.
func (s *Sensor) SetModel(model string) {
	s.mu.Lock()
	s.model = model
	s.mu.Unlock()
	s.notifyChanged("model")
}

// Vendor returns the vendor name.
func (s *Sensor) Vendor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vendor
}

// SetVendor is called by drivers during coldplug.
func (s *Sensor) SetVendor(vendor string) {
	s.mu.Lock()
	s.vendor = vendor
	s.mu.Unlock()
	s.notifyChanged("vendor")
}

// ID returns the stable identifier.
func (s *Sensor) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// ObjectPath returns the opaque identifier handed to IPC layers.
func (s *Sensor) ObjectPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objectPath
}

// Native reports whether a direct driver serves this sensor, false for the
// Argyll adapter.
func (s *Sensor) Native() bool { return s.native }

// Embedded reports whether the sensor is built into the chassis.
func (s *Sensor) Embedded() bool { return s.embedded }

// Locked reports whether the sensor is claimed for measurement.
func (s *Sensor) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// Metadata returns a copy of the metadata map.
func (s *Sensor) Metadata() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

// SetMetadataItem is called by drivers to publish identity details.
func (s *Sensor) SetMetadataItem(key, value string) {
	s.mu.Lock()
	s.metadata[key] = value
	s.mu.Unlock()
	s.notifyChanged("metadata")
}

// Options returns a copy of the option map.
func (s *Sensor) Options() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]interface{}, len(s.options))
	for k, v := range s.options {
		out[k] = v
	}
	return out
}

// begin acquires the sensor's single task lane. A second in-flight
// operation is rejected with Busy, never queued.
func (s *Sensor) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return colorderr.New(colorderr.Busy,
			"sensor %s already has an operation in flight", s.id)
	}
	s.inflight = true
	return nil
}

func (s *Sensor) end() {
	s.mu.Lock()
	s.inflight = false
	s.mu.Unlock()
}

// mapDriverErr folds cancellation and unclassified failures into the
// taxonomy. The framework has already transitioned back to idle when the
// caller sees this.
func mapDriverErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled {
		return colorderr.Wrap(colorderr.Cancelled, err, "operation cancelled")
	}
	var ce *colorderr.Error
	if errors.As(err, &ce) {
		return err
	}
	return colorderr.Wrap(colorderr.Internal, err, "driver failure")
}

// Coldplug probes the hardware and brings the sensor to idle. The id is
// derived from the kind and serial once known.
func (s *Sensor) Coldplug(ctx context.Context) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()
	s.setState(StateStarting)
	if err := s.driver.Coldplug(ctx, s); err != nil {
		s.setState(StateUnknown)
		return mapDriverErr(ctx, err)
	}
	s.mu.Lock()
	s.id = fmt.Sprintf("%s-%s", s.kind, s.serial)
	s.objectPath = fmt.Sprintf("/org/freedesktop/ColorManager/sensors/%s",
		strings.ReplaceAll(s.id, "-", "_"))
	s.mu.Unlock()
	s.setState(StateIdle)
	s.notifyChanged("id")
	return nil
}

// Lock claims the hardware, running the driver's warmup. The sensor is
// busy for the duration and stays locked on success.
func (s *Sensor) Lock(ctx context.Context) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()
	s.mu.Lock()
	if s.locked {
		s.mu.Unlock()
		return colorderr.New(colorderr.AlreadyLocked,
			"sensor %s is already locked", s.id)
	}
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return colorderr.New(colorderr.Internal,
			"cannot lock in state %s", state)
	}
	s.mu.Unlock()

	s.setState(StateBusy)
	if err := s.driver.Lock(ctx); err != nil {
		s.setState(StateIdle)
		return mapDriverErr(ctx, err)
	}
	s.mu.Lock()
	s.locked = true
	s.mu.Unlock()
	s.notifyChanged("locked")
	s.setState(StateIdle)
	return nil
}

// Unlock releases the hardware claim.
func (s *Sensor) Unlock(ctx context.Context) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()
	s.mu.Lock()
	if !s.locked {
		s.mu.Unlock()
		return colorderr.New(colorderr.NotLocked,
			"sensor %s is not locked", s.id)
	}
	s.mu.Unlock()

	s.setState(StateBusy)
	err := s.driver.Unlock(ctx)
	s.mu.Lock()
	s.locked = false
	s.mu.Unlock()
	s.notifyChanged("locked")
	s.setState(StateIdle)
	return mapDriverErr(ctx, err)
}

// GetSample takes an XYZ reading. The sensor must be locked.
func (s *Sensor) GetSample(ctx context.Context, cap Cap) (color.XYZ, error) {
	if err := s.begin(); err != nil {
		return color.XYZ{}, err
	}
	defer s.end()
	s.mu.Lock()
	if !s.locked {
		s.mu.Unlock()
		return color.XYZ{}, colorderr.New(colorderr.NotLocked,
			"sensor %s must be locked before sampling", s.id)
	}
	s.mode = cap
	s.mu.Unlock()
	s.notifyChanged("mode")

	s.setState(StateMeasuring)
	sample, err := s.driver.GetSample(ctx, cap)
	s.setState(StateIdle)
	if err != nil {
		return color.XYZ{}, mapDriverErr(ctx, err)
	}
	return sample, nil
}

// GetSpectrum takes a spectral reading. The sensor must be locked.
func (s *Sensor) GetSpectrum(ctx context.Context, cap Cap) (*spectrum.Spectrum, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()
	s.mu.Lock()
	if !s.locked {
		s.mu.Unlock()
		return nil, colorderr.New(colorderr.NotLocked,
			"sensor %s must be locked before sampling", s.id)
	}
	s.mode = cap
	s.mu.Unlock()
	s.notifyChanged("mode")

	s.setState(StateMeasuring)
	sp, err := s.driver.GetSpectrum(ctx, cap)
	s.setState(StateIdle)
	if err != nil {
		return nil, mapDriverErr(ctx, err)
	}
	return sp, nil
}

// SetOptions merges options after driver validation.
func (s *Sensor) SetOptions(ctx context.Context, options map[string]interface{}) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()
	if err := s.driver.SetOptions(ctx, options); err != nil {
		return mapDriverErr(ctx, err)
	}
	s.mu.Lock()
	for k, v := range options {
		s.options[k] = v
	}
	s.mu.Unlock()
	s.notifyChanged("options")
	return nil
}

// DumpDevice renders the framework fields and the driver's private state
// as a text report.
func (s *Sensor) DumpDevice(ctx context.Context) (string, error) {
	var sb strings.Builder
	s.mu.Lock()
	fmt.Fprintf(&sb, "sensor-id: %s\n", s.id)
	fmt.Fprintf(&sb, "kind: %s\n", s.kind)
	fmt.Fprintf(&sb, "vendor: %s\n", s.vendor)
	fmt.Fprintf(&sb, "model: %s\n", s.model)
	fmt.Fprintf(&sb, "serial: %s\n", s.serial)
	fmt.Fprintf(&sb, "caps: %s\n", s.caps)
	fmt.Fprintf(&sb, "native: %v\n", s.native)
	fmt.Fprintf(&sb, "embedded: %v\n", s.embedded)
	keys := make([]string, 0, len(s.metadata))
	for k := range s.metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "metadata[%s]: %s\n", k, s.metadata[k])
	}
	s.mu.Unlock()

	private, err := s.driver.DumpDevice(ctx)
	if err != nil {
		return "", mapDriverErr(ctx, err)
	}
	sb.WriteString(private)
	return sb.String(), nil
}

// Close drops the driver's hardware handles. The sensor is unusable
// afterwards.
func (s *Sensor) Close() error {
	return s.driver.Close()
}
