package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/alexeyco/simpletable"
	charmlog "github.com/charmbracelet/log"

	"github.com/colorforge/go-colord/sensor"
	"github.com/colorforge/go-colord/sensor/colorhug"
	"github.com/colorforge/go-colord/sensor/huey"
	"github.com/colorforge/go-colord/sensor/munki"
	"github.com/colorforge/go-colord/sensor/spark"
	"github.com/colorforge/go-colord/usb"
)

// knownDevices maps USB ids onto driver constructors.
var knownDevices = []struct {
	vid, pid uint16
	kind     sensor.Kind
	embedded bool
	driver   func(dev usb.Device) sensor.Driver
}{
	{huey.VendorID, huey.ProductID, sensor.KindHuey, false,
		func(dev usb.Device) sensor.Driver { return huey.New(dev) }},
	{huey.VendorIDLenovo, huey.ProductIDLenovo, sensor.KindHuey, true,
		func(dev usb.Device) sensor.Driver { return huey.New(dev) }},
	{colorhug.VendorID, colorhug.ProductID, sensor.KindColorHug, false,
		func(dev usb.Device) sensor.Driver { return colorhug.New(dev) }},
	{munki.VendorID, munki.ProductID, sensor.KindColorMunkiPhoto, false,
		func(dev usb.Device) sensor.Driver { return munki.New(dev) }},
	{spark.VendorID, spark.ProductID, sensor.KindSpark, false,
		func(dev usb.Device) sensor.Driver { return spark.New(dev) }},
}

// coldplugAll enumerates the sensors on the bus.
func coldplugAll(ctx context.Context, host usb.Host) []*sensor.Sensor {
	var sensors []*sensor.Sensor
	for _, entry := range knownDevices {
		dev, err := host.FindDevice(entry.vid, entry.pid)
		if err != nil {
			continue
		}
		s := sensor.New(entry.driver(dev), entry.kind, true, entry.embedded)
		if err := s.Coldplug(ctx); err != nil {
			charmlog.Debug("coldplug failed",
				"kind", entry.kind.String(), "err", err)
			continue
		}
		sensors = append(sensors, s)
	}
	return sensors
}

// SensorsCmd lists attached sensors or takes one reading.
type SensorsCmd struct {
	Measure bool   `help:"Take one LCD reading from the first sensor."`
	Display string `help:"Display technology for the reading." default:"lcd"`
}

// Run implements the kong command contract.
func (c *SensorsCmd) Run() error {
	host := usb.NewHost()
	defer host.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sensors := coldplugAll(ctx, host)
	if len(sensors) == 0 {
		return fmt.Errorf("failed to find sensors: no supported hardware attached")
	}
	defer func() {
		for _, s := range sensors {
			s.Close()
		}
	}()

	if !c.Measure {
		table := simpletable.New()
		table.Header = &simpletable.Header{Cells: []*simpletable.Cell{
			{Text: "ID"}, {Text: "Model"}, {Text: "Serial"}, {Text: "Caps"},
		}}
		for _, s := range sensors {
			table.Body.Cells = append(table.Body.Cells, []*simpletable.Cell{
				{Text: s.ID()},
				{Text: s.Model()},
				{Text: s.Serial()},
				{Text: s.Caps().String()},
			})
		}
		fmt.Println(table.String())
		return nil
	}

	cap := sensor.CapFromString(c.Display)
	if cap == 0 {
		return fmt.Errorf("failed to parse arguments: unknown display type %q", c.Display)
	}
	s := sensors[0]
	if err := s.Lock(ctx); err != nil {
		return fmt.Errorf("failed to lock sensor: %w", err)
	}
	defer s.Unlock(context.Background())
	sample, err := s.GetSample(ctx, cap)
	if err != nil {
		return fmt.Errorf("failed to measure: %w", err)
	}
	charmlog.Info("sample",
		"sensor", s.ID(),
		"X", fmt.Sprintf("%.4f", sample.X),
		"Y", fmt.Sprintf("%.4f", sample.Y),
		"Z", fmt.Sprintf("%.4f", sample.Z),
	)
	return nil
}
