// Package report lays out flat issue records as a sequence of immutable
// document sections. Drawing is left to a renderer.
package report

import (
	"errors"
)

var ErrFinalized = errors.New("report: document already finalized")

type Color int

const (
	Black Color = iota
	Blue
	Gray
)

// Span is a run of text drawn in one style. A non-empty Link makes the
// span a hyperlink.
type Span struct {
	Text      string
	Color     Color
	Underline bool
	Link      string
}

type BlockKind int

const (
	// BlockLine is one line of text made of spans.
	BlockLine BlockKind = iota
	// BlockSpace advances by Lines line heights.
	BlockSpace
	// BlockPageBreak starts a new page.
	BlockPageBreak
	// BlockImage draws Image fitted into its box and centered.
	BlockImage
)

type Block struct {
	Kind  BlockKind
	Size  float64
	Spans []Span
	Lines float64
	Image *Image
}

// Image holds already fetched and validated image bytes.
type Image struct {
	Name   string
	Format string // "JPG" or "PNG"
	Data   []byte
	Width  int
	Height int
	BoxW   float64
	BoxH   float64
}

type SectionKind int

const (
	SectionMain SectionKind = iota
	SectionSubtask
	SectionUnavailable
)

func (k SectionKind) String() string {
	switch k {
	case SectionMain:
		return "main"
	case SectionSubtask:
		return "subtask"
	default:
		return "unavailable"
	}
}

// Section is everything drawn for one issue.
type Section struct {
	Kind   SectionKind
	Key    string
	Blocks []Block
}

// Count returns how many blocks of kind the section holds.
func (s Section) Count(kind BlockKind) int {
	n := 0
	for _, b := range s.Blocks {
		if b.Kind == kind {
			n++
		}
	}
	return n
}

// Builder accumulates sections for one report. It is single-writer and
// not safe for concurrent use.
type Builder struct {
	sections  []Section
	finalized bool
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Append stores a copy of s after the previously appended sections.
func (b *Builder) Append(s Section) error {
	if b.finalized {
		return ErrFinalized
	}
	s.Blocks = append([]Block(nil), s.Blocks...)
	b.sections = append(b.sections, s)
	return nil
}

func (b *Builder) Len() int { return len(b.sections) }

// Finalize closes the builder and returns the finished document.
func (b *Builder) Finalize() (*Document, error) {
	if b.finalized {
		return nil, ErrFinalized
	}
	b.finalized = true
	return &Document{sections: b.sections}, nil
}

// Document is a finalized, read-only report.
type Document struct {
	sections []Section
}

func (d *Document) Sections() []Section {
	return append([]Section(nil), d.sections...)
}
