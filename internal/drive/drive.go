// Package drive publishes finished reports into a two-level Google Drive
// folder hierarchy.
package drive

import (
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/oauth2/google"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	pdfMimeType    = "application/pdf"
)

// UploadedFile is what Drive returns for a created file.
type UploadedFile struct {
	ID          string
	WebViewLink string
}

// Service wraps Drive v3 files calls.
type Service struct {
	files *gdrive.FilesService
}

// NewService authenticates with a service account key given as JSON.
func NewService(ctx context.Context, credentialsJSON string, opts ...option.ClientOption) (*Service, error) {
	creds, err := google.CredentialsFromJSON(ctx, []byte(credentialsJSON), gdrive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("parse drive credentials: %w", err)
	}
	return newService(ctx, append([]option.ClientOption{option.WithCredentials(creds)}, opts...)...)
}

func newService(ctx context.Context, opts ...option.ClientOption) (*Service, error) {
	srv, err := gdrive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &Service{files: srv.Files}, nil
}

// FolderQuery builds the files.list query for a non-trashed folder named
// name directly under parentID.
func FolderQuery(name, parentID string) string {
	return fmt.Sprintf("'%s' in parents and name = '%s' and mimeType = '%s' and trashed = false",
		escapeQuery(parentID), escapeQuery(name), folderMimeType)
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func (s *Service) FindFolder(ctx context.Context, name, parentID string) (string, bool, error) {
	list, err := s.files.List().
		Q(FolderQuery(name, parentID)).
		Fields("files(id, name)").
		Spaces("drive").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", false, err
	}
	if len(list.Files) == 0 {
		return "", false, nil
	}
	return list.Files[0].Id, true, nil
}

func (s *Service) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	f, err := s.files.Create(&gdrive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parentID},
	}).Fields("id").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return f.Id, nil
}

func (s *Service) Upload(ctx context.Context, name, parentID, mimeType string, body io.Reader) (*UploadedFile, error) {
	f, err := s.files.Create(&gdrive.File{
		Name:    name,
		Parents: []string{parentID},
	}).Media(body, googleapi.ContentType(mimeType)).
		Fields("id, webViewLink").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	return &UploadedFile{ID: f.Id, WebViewLink: f.WebViewLink}, nil
}
