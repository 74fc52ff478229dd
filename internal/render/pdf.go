// Package render draws finalized report documents as PDF.
package render

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-pdf/fpdf"
	"go.uber.org/zap"

	"github.com/Ilia01/jira2drive/internal/report"
)

const (
	pageMargin  = 72.0
	lineSpacing = 1.2
	unicodeFont = "DejaVu"
	coreFont    = "Helvetica"
)

type PDF struct {
	fontPath string
	log      *zap.Logger
}

// NewPDF returns a renderer using the TrueType font at fontPath. Without
// that file it falls back to a core font that only covers cp1252.
func NewPDF(fontPath string, log *zap.Logger) *PDF {
	if log == nil {
		log = zap.NewNop()
	}
	return &PDF{fontPath: fontPath, log: log}
}

// RenderFile writes doc to path and closes the file. A partially written
// file is removed.
func (r *PDF) RenderFile(doc *report.Document, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := r.Render(doc, f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func (r *PDF) Render(doc *report.Document, w io.Writer) error {
	pdf, err := r.draw(doc)
	if err != nil {
		return err
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

type canvas struct {
	pdf       *fpdf.Fpdf
	family    string
	translate func(string) string
}

func (r *PDF) draw(doc *report.Document) (*fpdf.Fpdf, error) {
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)

	c := &canvas{pdf: pdf}
	r.setupFont(c)
	pdf.SetFont(c.family, "", 12)
	pdf.AddPage()

	for _, section := range doc.Sections() {
		for _, block := range section.Blocks {
			switch block.Kind {
			case report.BlockLine:
				c.line(block)
			case report.BlockSpace:
				_, size := pdf.GetFontSize()
				pdf.Ln(size * lineSpacing * block.Lines)
			case report.BlockPageBreak:
				pdf.AddPage()
			case report.BlockImage:
				c.image(block.Image)
			}
		}
		if pdf.Err() {
			return nil, fmt.Errorf("draw section %s: %w", section.Key, pdf.Error())
		}
	}
	return pdf, nil
}

func (r *PDF) setupFont(c *canvas) {
	if r.fontPath != "" {
		if _, err := os.Stat(r.fontPath); err == nil {
			c.pdf.AddUTF8Font(unicodeFont, "", r.fontPath)
			c.family = unicodeFont
			c.translate = func(s string) string { return s }
			return
		}
	}
	r.log.Warn("unicode font not found, falling back to core font", zap.String("path", r.fontPath))
	c.family = coreFont
	c.translate = c.pdf.UnicodeTranslatorFromDescriptor("")
}

func (c *canvas) line(b report.Block) {
	h := b.Size * lineSpacing
	for _, sp := range b.Spans {
		style := ""
		if sp.Underline {
			style = "U"
		}
		c.pdf.SetFont(c.family, style, b.Size)
		c.setColor(sp.Color)
		text := c.translate(sp.Text)
		if sp.Link != "" {
			c.pdf.WriteLinkString(h, text, sp.Link)
		} else {
			c.pdf.Write(h, text)
		}
	}
	c.pdf.Ln(h)
	c.setColor(report.Black)
}

func (c *canvas) setColor(col report.Color) {
	switch col {
	case report.Blue:
		c.pdf.SetTextColor(0, 0, 255)
	case report.Gray:
		c.pdf.SetTextColor(128, 128, 128)
	default:
		c.pdf.SetTextColor(0, 0, 0)
	}
}

// image draws img fitted into its box, centered horizontally on the page
// and vertically inside the box.
func (c *canvas) image(img *report.Image) {
	if img == nil {
		return
	}
	opts := fpdf.ImageOptions{ImageType: img.Format}
	c.pdf.RegisterImageOptionsReader(img.Name, opts, bytes.NewReader(img.Data))
	if c.pdf.Err() {
		return
	}

	w, h := report.FitBox(float64(img.Width), float64(img.Height), img.BoxW, img.BoxH)
	pageW, _ := c.pdf.GetPageSize()
	left, _, right, _ := c.pdf.GetMargins()
	x := left + (pageW-left-right-w)/2
	top := c.pdf.GetY()
	y := top + (img.BoxH-h)/2

	c.pdf.ImageOptions(img.Name, x, y, w, h, false, opts, 0, "")
	c.pdf.SetY(top + img.BoxH)
}
