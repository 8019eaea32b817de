// Package argyll adapts any ArgyllCMS-supported instrument to the sensor
// contract by shelling out to spotread: the communication port is found by
// parsing `spotread --help`, samples are requested by feeding newlines to
// a long-running child, and its stdout is scanned for sample lines and
// position prompts.
package argyll

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/colorforge/go-colord/color"
	"github.com/colorforge/go-colord/colorderr"
	"github.com/colorforge/go-colord/log"
	"github.com/colorforge/go-colord/sensor"
	"github.com/colorforge/go-colord/spawn"
	"github.com/colorforge/go-colord/spectrum"
)

// maxSampleTime bounds one reading; spotread crashes leave the request
// hanging otherwise.
const maxSampleTime = 10 * time.Second

const notInteractiveEnv = "ARGYLL_NOT_INTERACTIVE=1"

// position tracks whether the instrument needs physical repositioning.
type position int

const (
	positionUnknown position = iota
	positionCalibrate
)

// runner is the slice of the spawn API the adapter drives; satisfied by
// *spawn.Spawn and by the test fake.
type runner interface {
	IsRunning() bool
	Start(argv []string, env []string, cwd string) error
	Lines() <-chan string
	Exited() <-chan spawn.Exit
	SendStdin(line string) error
	Signal(sig syscall.Signal) error
}

// Driver implements sensor.Driver over a spotread child process.
type Driver struct {
	kind  sensor.Kind
	child runner

	// helpOutput runs `spotread --help` and returns its output; split
	// out so tests can script it.
	helpOutput func(ctx context.Context) (string, error)

	communicationPort int
	posRequired       position
}

// New creates an adapter for the given instrument kind.
func New(kind sensor.Kind) *Driver {
	return &Driver{
		kind:  kind,
		child: spawn.New(),
		helpOutput: func(ctx context.Context) (string, error) {
			cmd := exec.CommandContext(ctx, "spotread", "--help")
			cmd.Env = append(cmd.Environ(), notInteractiveEnv)
			// spotread prints usage on stderr and exits non-zero
			out, _ := cmd.CombinedOutput()
			return string(out), nil
		},
	}
}

// newWithRunner is the test hook.
func newWithRunner(kind sensor.Kind, child runner,
	helpOutput func(ctx context.Context) (string, error)) *Driver {
	return &Driver{kind: kind, child: child, helpOutput: helpOutput}
}

// argyllName maps the sensor kind to the instrument name spotread lists.
func argyllName(kind sensor.Kind) string {
	switch kind {
	case sensor.KindDTP20:
		return "Xrite DTP20"
	case sensor.KindDTP22:
		return "Xrite DTP22"
	case sensor.KindDTP41:
		return "Xrite DTP41"
	case sensor.KindDTP51:
		return "Xrite DTP51"
	case sensor.KindDTP92:
		return "Xrite DTP92"
	case sensor.KindDTP94:
		return "Xrite DTP94"
	case sensor.KindSpectroScan:
		return "GretagMacbeth SpectroScan"
	case sensor.KindI1Display1:
		return "GretagMacbeth i1 Display 1"
	case sensor.KindI1Display2:
		return "GretagMacbeth i1 Display 2"
	case sensor.KindI1Display3:
		return "Xrite i1 DisplayPro, ColorMunki Display"
	case sensor.KindI1Monitor:
		return "GretagMacbeth i1 Monitor"
	case sensor.KindI1Pro:
		return "GretagMacbeth i1 Pro"
	case sensor.KindColorMunkiPhoto:
		return "X-Rite ColorMunki"
	case sensor.KindColorMunkiSmile:
		return "ColorMunki Smile"
	case sensor.KindColorimtreHCFR:
		return "Colorimtre HCFR"
	case sensor.KindSpyder2:
		return "ColorVision Spyder2"
	case sensor.KindSpyder3:
		return "Datacolor Spyder3"
	case sensor.KindSpyder:
		return "Datacolor Spyder4"
	case sensor.KindSpyder5:
		return "Datacolor Spyder5"
	case sensor.KindHuey:
		return "GretagMacbeth Huey"
	case sensor.KindColorHug:
		return "Hughski ColorHug"
	case sensor.KindColorHug2:
		return "Hughski ColorHug2"
	case sensor.KindColorHugPlus:
		return "Hughski ColorHug+"
	}
	return ""
}

// yArgForCap maps the display technology onto spotread's -y flag.
func yArgForCap(cap sensor.Cap) (string, error) {
	switch cap {
	case sensor.CapLCD, sensor.CapLED:
		return "-yl", nil
	case sensor.CapCRT, sensor.CapPlasma:
		return "-yc", nil
	case sensor.CapProjector:
		return "-yp", nil
	case sensor.CapLCDCCFL:
		return "-yf", nil
	case sensor.CapLCDRGBLED:
		return "-yb", nil
	case sensor.CapWideGamutLCDCCFL:
		return "-yL", nil
	case sensor.CapWideGamutLCDRGBLED:
		return "-yB", nil
	case sensor.CapLCDWhiteLED:
		return "-ye", nil
	}
	return "", colorderr.New(colorderr.NoSupport,
		"no spotread flag for %s", cap)
}

// Coldplug implements sensor.Driver: find the communication port by
// matching the instrument name in the port listing.
func (d *Driver) Coldplug(ctx context.Context, s *sensor.Sensor) error {
	name := argyllName(d.kind)
	if name == "" {
		return colorderr.New(colorderr.Internal, "failed to find sensor")
	}
	out, err := d.helpOutput(ctx)
	if err != nil {
		return colorderr.Wrap(colorderr.Internal, err,
			"cannot run spotread --help")
	}
	listno := 0
	found := false
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, " = ") {
			continue
		}
		listno++
		if strings.Contains(line, name) {
			d.communicationPort = listno
			found = true
			break
		}
	}
	if !found {
		return colorderr.New(colorderr.NotFound,
			"spotread does not list a %s", name)
	}
	log.Debug.Printf("argyll: %s on communication port %d",
		name, d.communicationPort)
	s.SetModel(name)
	s.SetCaps(sensor.CapLCD | sensor.CapCRT | sensor.CapProjector |
		sensor.CapSpot)
	s.SetSerial(strconv.Itoa(d.communicationPort))
	return nil
}

// Lock implements sensor.Driver. The child is started lazily on the first
// sample, nothing to warm up here.
func (d *Driver) Lock(ctx context.Context) error {
	return nil
}

// Unlock implements sensor.Driver: ask the child to quit.
func (d *Driver) Unlock(ctx context.Context) error {
	if !d.child.IsRunning() {
		return nil
	}
	return d.child.Signal(syscall.SIGQUIT)
}

// parseXYZLine picks the three numbers out of a "Result is XYZ:" line.
func parseXYZLine(line string) (color.XYZ, error) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ' ' || r == ','
	})
	for i, f := range fields {
		if f != "XYZ:" || i+3 >= len(fields) {
			continue
		}
		x, err1 := strconv.ParseFloat(fields[i+1], 64)
		y, err2 := strconv.ParseFloat(fields[i+2], 64)
		z, err3 := strconv.ParseFloat(fields[i+3], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			break
		}
		return color.XYZ{X: x, Y: y, Z: z}, nil
	}
	return color.XYZ{}, colorderr.New(colorderr.Protocol,
		"unparseable sample line %q", line)
}

// GetSample implements sensor.Driver: start or reuse the spotread child,
// feed it a newline and scan its stdout for the result.
func (d *Driver) GetSample(ctx context.Context, cap sensor.Cap) (color.XYZ, error) {
	if !d.child.IsRunning() {
		yArg, err := yArgForCap(cap)
		if err != nil {
			return color.XYZ{}, err
		}
		argv := []string{
			"spotread",
			"-d",
			"-c" + strconv.Itoa(d.communicationPort),
			"-N", // no autocal
			yArg,
		}
		if err := d.child.Start(argv, []string{notInteractiveEnv}, ""); err != nil {
			return color.XYZ{}, err
		}
	} else {
		if err := d.child.SendStdin(""); err != nil {
			return color.XYZ{}, err
		}
	}

	timeout := time.NewTimer(maxSampleTime)
	defer timeout.Stop()
	for {
		select {
		case <-ctx.Done():
			return color.XYZ{}, colorderr.Wrap(colorderr.Cancelled,
				ctx.Err(), "sample abandoned")
		case <-timeout.C:
			return color.XYZ{}, colorderr.New(colorderr.Internal,
				"spotread timed out")
		case <-d.child.Exited():
			return color.XYZ{}, colorderr.New(colorderr.Internal,
				"spotread exited unexpectedly")
		case line := <-d.child.Lines():
			log.Debug.Printf("argyll: line=%q", line)
			sample, done, err := d.handleLine(line)
			if err != nil {
				return color.XYZ{}, err
			}
			if done {
				return sample, nil
			}
		}
	}
}

// handleLine reacts to one spotread stdout line. done reports that a
// sample was produced.
func (d *Driver) handleLine(line string) (color.XYZ, bool, error) {
	switch {
	case strings.HasPrefix(line, "Place instrument on spot to be measured"):
		// ready to go, answer when no position change is outstanding
		if d.posRequired == positionUnknown {
			if err := d.child.SendStdin(""); err != nil {
				return color.XYZ{}, false, err
			}
		}
	case line == "Calibration complete":
		d.posRequired = positionUnknown
	case strings.Contains(line, "Result is XYZ:"):
		sample, err := parseXYZLine(line)
		if err != nil {
			return color.XYZ{}, false, err
		}
		return sample, true, nil
	case strings.HasPrefix(line, "Instrument initialisation failed"):
		return color.XYZ{}, false, colorderr.New(colorderr.Internal,
			"failed to contact hardware (replug)")
	case line == "(Sensor should be in surface position)":
		return color.XYZ{}, false, colorderr.New(
			colorderr.RequiredPositionSurface, "move to surface position")
	case strings.HasPrefix(line, "Set instrument sensor to calibration position,"):
		// argyll asks the user to move the dial before it has checked
		// where the dial is; try one read optimistically and only
		// surface the prompt when it comes back
		if d.posRequired == positionUnknown {
			d.posRequired = positionCalibrate
			if err := d.child.SendStdin(""); err != nil {
				return color.XYZ{}, false, err
			}
			break
		}
		return color.XYZ{}, false, colorderr.New(
			colorderr.RequiredPositionCalibrate,
			"move to calibration position")
	}
	return color.XYZ{}, false, nil
}

// GetSpectrum implements sensor.Driver. spotread's spectral output is not
// parsed by this adapter.
func (d *Driver) GetSpectrum(ctx context.Context, cap sensor.Cap) (*spectrum.Spectrum, error) {
	return nil, colorderr.New(colorderr.NoSupport,
		"the spotread adapter only returns XYZ samples")
}

// SetOptions implements sensor.Driver.
func (d *Driver) SetOptions(ctx context.Context, options map[string]interface{}) error {
	for key := range options {
		return colorderr.New(colorderr.InputInvalid,
			"unknown option %q", key)
	}
	return nil
}

// DumpDevice implements sensor.Driver.
func (d *Driver) DumpDevice(ctx context.Context) (string, error) {
	return "communication-port: " +
		strconv.Itoa(d.communicationPort) + "\n", nil
}

// Close implements sensor.Driver: kill any straggling child.
func (d *Driver) Close() error {
	if d.child.IsRunning() {
		return d.child.Signal(syscall.SIGKILL)
	}
	return nil
}
