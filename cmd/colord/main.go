// Command colord is the thin CLI shim over the library: profile
// inspection, IT8 conversion and sensor measurement. Errors print a short
// one-line verb to stderr and exit 1; success exits 0.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	charmlog "github.com/charmbracelet/log"

	"github.com/colorforge/go-colord/cmd/colord/internal/commands"
)

var cli struct {
	Verbose bool `help:"Enable verbose logging." short:"v"`

	Dump    commands.DumpCmd    `cmd:"" help:"Dump an ICC profile's tags and metadata."`
	FixTag  commands.FixTagCmd  `cmd:"" name:"extract-tag" help:"Extract a raw tag from an ICC profile."`
	It8     commands.It8Cmd     `cmd:"" help:"Inspect or convert CGATS/IT8 files."`
	Ccmx    commands.CcmxCmd    `cmd:"" help:"Generate a correction matrix from two TI3 files."`
	Sensors commands.SensorsCmd `cmd:"" help:"List and measure with attached sensors."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("colord"),
		kong.Description("Color management companion tool."),
		kong.UsageOnError(),
	)
	if cli.Verbose {
		charmlog.SetLevel(charmlog.DebugLevel)
	}
	if err := ctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}
