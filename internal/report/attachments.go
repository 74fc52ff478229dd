package report

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/Ilia01/jira2drive/internal/models"
)

// Bounding box for embedded images, in points.
const (
	imageBoxWidth  = 500
	imageBoxHeight = 400
)

var imagePattern = regexp.MustCompile(`(?i)\.(jpg|jpeg|png)$`)

// Fetcher downloads attachment content.
type Fetcher interface {
	Download(ctx context.Context, contentURL string, w io.Writer) error
}

// AttachmentError is a failure to embed one attachment. It never aborts
// the report.
type AttachmentError struct {
	Filename string
	Err      error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("attachment %s: %v", e.Filename, e.Err)
}

func (e *AttachmentError) Unwrap() error { return e.Err }

func IsImage(filename string) bool {
	return imagePattern.MatchString(filename)
}

// Partition splits attachments into images and everything else, keeping
// the original order inside each group.
func Partition(atts []models.Attachment) (images, others []models.Attachment) {
	for _, a := range atts {
		if IsImage(a.Filename) {
			images = append(images, a)
		} else {
			others = append(others, a)
		}
	}
	return images, others
}

// attachmentBlocks emits one page per embeddable image, the first carrying
// the "Attachments" header, then a single page listing the other files.
func (c *Composer) attachmentBlocks(ctx context.Context, issueKey string, atts []models.Attachment) []Block {
	images, others := Partition(atts)
	w := &sectionWriter{}

	emitted := 0
	for i, att := range images {
		img, err := c.loadImage(ctx, att, fmt.Sprintf("%s-%d-%s", issueKey, i, att.Filename))
		if err != nil {
			c.log.Warn("skipping attachment",
				zap.String("issue", issueKey),
				zap.Error(&AttachmentError{Filename: att.Filename, Err: err}))
			continue
		}

		w.pageBreak()
		if emitted == 0 {
			w.line(14, Span{Text: "Attachments", Underline: true})
			w.space(2)
		}
		w.line(12, Span{Text: "Filename: " + att.Filename})
		w.line(12, Span{Text: "Author: " + att.Author})
		w.line(12, Span{Text: "Created: " + formatDateField(att.Created)})
		w.space(1)
		w.blocks = append(w.blocks, Block{Kind: BlockImage, Image: img})
		emitted++
	}

	if len(others) > 0 {
		w.pageBreak()
		w.line(16, Span{Text: "Other Attachments:", Underline: true})
		w.space(1)
		for _, att := range others {
			w.line(12,
				Span{Text: "Filename: " + att.Filename},
				Span{Text: "  [Download]", Color: Blue, Underline: true, Link: att.ContentRef},
			)
			w.line(10, Span{Text: fmt.Sprintf("Author: %s | Created: %s", att.Author, formatDateField(att.Created)), Color: Gray})
			w.space(1.5)
		}
	}
	return w.blocks
}

// loadImage downloads att into a temporary file, validates it as an image
// and returns its bytes. The temporary file is always removed.
func (c *Composer) loadImage(ctx context.Context, att models.Attachment, name string) (*Image, error) {
	if c.fetcher == nil {
		return nil, fmt.Errorf("no fetcher configured")
	}
	if c.tempDir != "" {
		if err := os.MkdirAll(c.tempDir, 0o755); err != nil {
			return nil, fmt.Errorf("create temp dir: %w", err)
		}
	}

	f, err := os.CreateTemp(c.tempDir, "attachment-*"+strings.ToLower(filepath.Ext(att.Filename)))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if err := c.fetcher.Download(ctx, att.ContentRef, f); err != nil {
		f.Close()
		return nil, fmt.Errorf("download: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read temp file: %w", err)
	}
	decoded, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	bounds := decoded.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, fmt.Errorf("empty image %dx%d", bounds.Dx(), bounds.Dy())
	}

	var pdfFormat string
	switch format {
	case "jpeg":
		pdfFormat = "JPG"
	case "png":
		pdfFormat = "PNG"
		// The PDF writer only reads 8-bit non-interlaced PNGs.
		if data, err = normalizePNG(decoded); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported image format %q", format)
	}

	return &Image{
		Name:   name,
		Format: pdfFormat,
		Data:   data,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		BoxW:   imageBoxWidth,
		BoxH:   imageBoxHeight,
	}, nil
}

func normalizePNG(src image.Image) ([]byte, error) {
	dst := image.NewNRGBA(image.Rect(0, 0, src.Bounds().Dx(), src.Bounds().Dy()))
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// FitBox scales w×h to the largest size that fits inside boxW×boxH while
// keeping the aspect ratio.
func FitBox(w, h, boxW, boxH float64) (float64, float64) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	scale := boxW / w
	if s := boxH / h; s < scale {
		scale = s
	}
	return w * scale, h * scale
}
