package drive

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

// PublishError reports a failed folder lookup, folder creation or upload.
type PublishError struct {
	Op   string
	Name string
	Err  error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("drive %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// API is the part of Drive the publisher depends on.
type API interface {
	FindFolder(ctx context.Context, name, parentID string) (string, bool, error)
	CreateFolder(ctx context.Context, name, parentID string) (string, error)
	Upload(ctx context.Context, name, parentID, mimeType string, body io.Reader) (*UploadedFile, error)
}

type Publisher struct {
	api    API
	rootID string
	log    *zap.Logger
}

func NewPublisher(api API, rootID string, log *zap.Logger) *Publisher {
	if rootID == "" {
		rootID = "root"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{api: api, rootID: rootID, log: log}
}

// Publish uploads the file at filePath as filename into root/topKey/subKey,
// creating either folder when missing, and returns the file's web link.
// Folders created before a failure are left in place; the next run finds
// and reuses them.
func (p *Publisher) Publish(ctx context.Context, filePath, filename, topKey, subKey string) (string, error) {
	folderID, err := p.ResolveFolder(ctx, topKey, subKey)
	if err != nil {
		return "", err
	}

	f, err := os.Open(filePath)
	if err != nil {
		return "", &PublishError{Op: "open", Name: filePath, Err: err}
	}
	defer f.Close()

	uploaded, err := p.api.Upload(ctx, filename, folderID, pdfMimeType, f)
	if err != nil {
		return "", &PublishError{Op: "upload", Name: filename, Err: err}
	}
	p.log.Info("file uploaded",
		zap.String("file", filename),
		zap.String("id", uploaded.ID),
		zap.String("folder", folderID))
	return uploaded.WebViewLink, nil
}

// ResolveFolder returns the id of root/topKey/subKey.
func (p *Publisher) ResolveFolder(ctx context.Context, topKey, subKey string) (string, error) {
	topID, err := p.findOrCreate(ctx, topKey, p.rootID)
	if err != nil {
		return "", err
	}
	return p.findOrCreate(ctx, subKey, topID)
}

func (p *Publisher) findOrCreate(ctx context.Context, name, parentID string) (string, error) {
	id, found, err := p.api.FindFolder(ctx, name, parentID)
	if err != nil {
		return "", &PublishError{Op: "find folder", Name: name, Err: err}
	}
	if found {
		return id, nil
	}
	id, err = p.api.CreateFolder(ctx, name, parentID)
	if err != nil {
		return "", &PublishError{Op: "create folder", Name: name, Err: err}
	}
	p.log.Info("folder created", zap.String("name", name), zap.String("id", id), zap.String("parent", parentID))
	return id, nil
}
