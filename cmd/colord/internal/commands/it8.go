package commands

import (
	"fmt"

	charmlog "github.com/charmbracelet/log"

	"github.com/colorforge/go-colord/it8"
)

// It8Cmd inspects or rewrites a CGATS/IT8 document.
type It8Cmd struct {
	File   string `arg:"" help:"Document to read." type:"existingfile"`
	Output string `help:"Rewrite the document to this path." short:"o"`
}

// Run implements the kong command contract.
func (c *It8Cmd) Run() error {
	doc, err := it8.Load(c.File)
	if err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}
	charmlog.Info("loaded document",
		"kind", doc.Kind.String(),
		"title", doc.Title,
		"originator", doc.Originator,
		"rows", len(doc.Rows),
		"spectra", len(doc.Spectra),
	)
	if c.Output != "" {
		if err := doc.Save(c.Output, it8.WriteOptions{WriteCreated: true}); err != nil {
			return fmt.Errorf("failed to write document: %w", err)
		}
	}
	return nil
}

// CcmxCmd fits a correction matrix from matched reference and measured
// TI3 documents.
type CcmxCmd struct {
	Reference string `arg:"" help:"Reference TI3." type:"existingfile"`
	Measured  string `arg:"" help:"Measured TI3." type:"existingfile"`
	Output    string `arg:"" help:"CCMX to write."`
	Factory   bool   `help:"Mark the matrix as factory calibration."`
}

// Run implements the kong command contract.
func (c *CcmxCmd) Run() error {
	reference, err := it8.Load(c.Reference)
	if err != nil {
		return fmt.Errorf("failed to parse reference: %w", err)
	}
	measured, err := it8.Load(c.Measured)
	if err != nil {
		return fmt.Errorf("failed to parse measurements: %w", err)
	}
	doc, err := it8.GenerateCCMX(reference, measured, c.Factory)
	if err != nil {
		return fmt.Errorf("failed to calibrate: %w", err)
	}
	if err := doc.Save(c.Output, it8.WriteOptions{WriteCreated: true}); err != nil {
		return fmt.Errorf("failed to write matrix: %w", err)
	}
	charmlog.Info("wrote correction matrix", "file", c.Output)
	return nil
}
