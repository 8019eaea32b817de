// Package commands implements the colord CLI verbs.
package commands

import (
	"fmt"
	"os"

	"github.com/alexeyco/simpletable"
	charmlog "github.com/charmbracelet/log"

	"github.com/colorforge/go-colord/icc"
)

// DumpCmd prints a profile's identity, tags and metadata.
type DumpCmd struct {
	File   string `arg:"" help:"Profile to inspect." type:"existingfile"`
	Locale string `help:"Locale for localized text." default:""`
}

// Run implements the kong command contract.
func (c *DumpCmd) Run() error {
	p, err := icc.Load(c.File)
	if err != nil {
		return fmt.Errorf("failed to parse profile: %w", err)
	}
	table := simpletable.New()
	table.Header = &simpletable.Header{Cells: []*simpletable.Cell{
		{Text: "Field"}, {Text: "Value"},
	}}
	row := func(k, v string) {
		table.Body.Cells = append(table.Body.Cells, []*simpletable.Cell{
			{Text: k}, {Text: v},
		})
	}
	row("Filename", p.Filename())
	row("Kind", p.Kind().String())
	row("Colorspace", p.Colorspace().String())
	row("Version", fmt.Sprintf("%.2f", p.Version()))
	row("Checksum", p.Checksum())
	row("Size", fmt.Sprintf("%d bytes", p.Size()))
	if s, err := p.Description(c.Locale); err == nil {
		row("Description", s)
	}
	if s, err := p.Copyright(c.Locale); err == nil {
		row("Copyright", s)
	}
	if temp, err := p.Temperature(); err == nil {
		row("Whitepoint", fmt.Sprintf("%.0fK", temp))
	}
	for _, sig := range p.TagSignatures() {
		data, _ := p.TagData(sig)
		row("Tag "+sig, fmt.Sprintf("%d bytes", len(data)))
	}
	if md, err := p.Metadata(); err == nil {
		for k, v := range md {
			row("Metadata "+k, v)
		}
	}
	fmt.Println(table.String())
	for _, w := range p.Warnings() {
		charmlog.Warn("profile defect", "warning", w.String())
	}
	return nil
}

// FixTagCmd dumps one tag's raw bytes to ./<signature>.bin.
type FixTagCmd struct {
	File string `arg:"" help:"Profile to read." type:"existingfile"`
	Tag  string `arg:"" help:"4-character tag signature."`
}

// Run implements the kong command contract.
func (c *FixTagCmd) Run() error {
	p, err := icc.Load(c.File)
	if err != nil {
		return fmt.Errorf("failed to parse profile: %w", err)
	}
	data, err := p.TagData(c.Tag)
	if err != nil {
		return fmt.Errorf("failed to read tag: %w", err)
	}
	out := "./" + c.Tag + ".bin"
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("failed to write tag: %w", err)
	}
	charmlog.Info("wrote tag", "file", out, "bytes", len(data))
	return nil
}
