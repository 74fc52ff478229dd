package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Ilia01/jira2drive/internal/config"
	"github.com/Ilia01/jira2drive/internal/jira"
	"github.com/Ilia01/jira2drive/internal/models"
	"github.com/Ilia01/jira2drive/internal/render"
	"github.com/Ilia01/jira2drive/internal/report"
)

type fakeSource struct {
	mu         sync.Mutex
	fieldErr   error
	fieldCalls int
	issues     map[string]*models.RawIssue
	files      map[string][]byte
	fetched    []string
}

func (f *fakeSource) FieldMap(context.Context) (models.FieldMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fieldCalls++
	if f.fieldErr != nil {
		return models.FieldMap{}, f.fieldErr
	}
	return models.NewFieldMap([]models.FieldDefinition{
		{ID: "summary", Name: "Summary"},
		{ID: "project", Name: "Project"},
		{ID: "status", Name: "Status"},
		{ID: "customfield_10", Name: "ΑΚ"},
		{ID: "customfield_11", Name: "Εταιρεία Ανάθεσης"},
		{ID: "votes", Name: "Votes"},
		{ID: "comment", Name: "Comment"},
		{ID: "attachment", Name: "Attachment"},
		{ID: "subtasks", Name: "Sub-tasks"},
	}), nil
}

func (f *fakeSource) GetIssue(_ context.Context, key string) (*models.RawIssue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, key)
	issue, ok := f.issues[key]
	if !ok {
		return nil, &jira.FetchError{Op: "get issue " + key, StatusCode: 404, Err: errors.New("status 404")}
	}
	return issue, nil
}

func (f *fakeSource) Download(_ context.Context, contentURL string, w io.Writer) error {
	data, ok := f.files[contentURL]
	if !ok {
		return fmt.Errorf("no content at %s", contentURL)
	}
	_, err := w.Write(data)
	return err
}

type captureRenderer struct {
	doc  *report.Document
	path string
}

func (r *captureRenderer) RenderFile(doc *report.Document, path string) error {
	r.doc, r.path = doc, path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("%PDF-1.3"), 0o644)
}

type publishCall struct {
	filePath, filename, topKey, subKey string
}

type fakePublisher struct {
	calls []publishCall
	err   error
}

func (p *fakePublisher) Publish(_ context.Context, filePath, filename, topKey, subKey string) (string, error) {
	p.calls = append(p.calls, publishCall{filePath, filename, topKey, subKey})
	if p.err != nil {
		return "", p.err
	}
	return "https://drive.example/" + filename, nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 8, 4))))
	return buf.Bytes()
}

func comment(author, text string) map[string]any {
	return map[string]any{
		"author": map[string]any{"displayName": author},
		"body": map[string]any{"type": "doc", "content": []any{
			map[string]any{"type": "paragraph", "content": []any{
				map[string]any{"type": "text", "text": text},
			}},
		}},
		"updateAuthor": map[string]any{"displayName": author},
		"created":      "2024-03-05T10:15:30.000+0200",
		"updated":      "2024-03-05T10:15:30.000+0200",
	}
}

func subtaskRef(key, summary string) map[string]any {
	return map[string]any{
		"key": key,
		"fields": map[string]any{
			"summary":   summary,
			"status":    map[string]any{"name": "Open"},
			"priority":  map[string]any{"name": "High"},
			"issuetype": map[string]any{"name": "Sub-task"},
		},
	}
}

func newSource(t *testing.T) *fakeSource {
	return &fakeSource{
		issues: map[string]*models.RawIssue{
			"FTT-1": {Key: "FTT-1", Fields: map[string]any{
				"summary":        "Water leak",
				"project":        map[string]any{"name": "Facilities"},
				"status":         map[string]any{"name": "Open"},
				"customfield_10": "AK-7",
				"customfield_11": map[string]any{"value": "ACME"},
				"votes":          map[string]any{"votes": 0},
				"comment":        map[string]any{"comments": []any{comment("Maria", "Checked the roof")}},
				"attachment": []any{
					map[string]any{"filename": "photo.png", "author": map[string]any{"displayName": "Nikos"}, "created": "2024-03-05T10:15:30.000+0200", "content": "https://jira/att/1"},
					map[string]any{"filename": "invoice.pdf", "author": map[string]any{"displayName": "Nikos"}, "created": "2024-03-05T10:15:30.000+0200", "content": "https://jira/att/2"},
				},
				"subtasks": []any{subtaskRef("FTT-2", "Inspect"), subtaskRef("FTT-3", "Repair")},
			}},
			"FTT-2": {Key: "FTT-2", Fields: map[string]any{
				"summary": "Inspect",
				"status":  map[string]any{"name": "Open"},
				"comment": map[string]any{"comments": []any{comment("Eleni", "On site")}},
			}},
			"FTT-3": {Key: "FTT-3", Fields: map[string]any{
				"summary": "Repair",
				"status":  map[string]any{"name": "Done"},
				"comment": map[string]any{"comments": []any{comment("Eleni", "Fixed")}},
			}},
		},
		files: map[string][]byte{"https://jira/att/1": pngBytes(t)},
	}
}

func newSettings(t *testing.T) *config.Settings {
	return &config.Settings{
		Server: config.ServerConfig{PipelineTimeout: time.Minute},
		Report: config.ReportConfig{
			WorkDir:            filepath.Join(t.TempDir(), "work"),
			ArtifactDir:        filepath.Join(t.TempDir(), "artifacts"),
			SubtaskConcurrency: 2,
			NoiseFields:        config.DefaultNoiseFields,
		},
	}
}

func hasLine(section report.Section, text string) bool {
	for _, b := range section.Blocks {
		var sb strings.Builder
		for _, sp := range b.Spans {
			sb.WriteString(sp.Text)
		}
		if sb.String() == text {
			return true
		}
	}
	return false
}

func TestRunComposesMainThenSubtasksInOrder(t *testing.T) {
	src := newSource(t)
	settings := newSettings(t)
	renderer := &captureRenderer{}
	pub := &fakePublisher{}

	res, err := New(settings, src, renderer, pub, zaptest.NewLogger(t)).Run(context.Background(), "FTT-1")
	require.NoError(t, err)

	assert.Equal(t, []report.SectionKind{report.SectionMain, report.SectionSubtask, report.SectionSubtask}, res.Sections)
	sections := renderer.doc.Sections()
	require.Len(t, sections, 3)
	assert.Equal(t, "FTT-2", sections[1].Key)
	assert.Equal(t, "FTT-3", sections[2].Key)

	mainSection := sections[0]
	assert.Equal(t, 1, mainSection.Count(report.BlockImage))
	assert.True(t, hasLine(mainSection, "Other Attachments:"))
	assert.True(t, hasLine(mainSection, "Filename: invoice.pdf  [Download]"))
	assert.True(t, hasLine(sections[1], "Text: On site"))
	assert.True(t, hasLine(sections[2], "Text: Fixed"))

	want := filepath.Join(settings.Report.WorkDir, "FTT-1.pdf")
	assert.Equal(t, want, res.FilePath)
	assert.Equal(t, []publishCall{{want, "FTT-1.pdf", "AK-7", "ACME"}}, pub.calls)
	assert.Equal(t, "https://drive.example/FTT-1.pdf", res.Link)
	assert.Equal(t, 1, src.fieldCalls)

	entries, err := os.ReadDir(settings.Report.WorkDir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "run dir must be removed")
	assert.Equal(t, "FTT-1.pdf", entries[0].Name())

	_, err = os.Stat(filepath.Join(settings.Report.ArtifactDir, "finalObj_FTT-1.json"))
	assert.NoError(t, err)
}

func TestRunUsesFallbackFolderKeys(t *testing.T) {
	src := newSource(t)
	delete(src.issues["FTT-1"].Fields, "customfield_10")
	src.issues["FTT-1"].Fields["customfield_11"] = nil
	pub := &fakePublisher{}

	_, err := New(newSettings(t), src, &captureRenderer{}, pub, zaptest.NewLogger(t)).Run(context.Background(), "FTT-1")
	require.NoError(t, err)

	require.Len(t, pub.calls, 1)
	assert.Equal(t, FallbackAK, pub.calls[0].topKey)
	assert.Equal(t, FallbackCompany, pub.calls[0].subKey)
}

func TestRunAbortsWhenFieldMetadataFails(t *testing.T) {
	src := newSource(t)
	src.fieldErr = &jira.FetchError{Op: "list fields", StatusCode: 500, Err: errors.New("status 500")}
	settings := newSettings(t)
	renderer := &captureRenderer{}
	pub := &fakePublisher{}

	res, err := New(settings, src, renderer, pub, zaptest.NewLogger(t)).Run(context.Background(), "FTT-1")
	require.Error(t, err)
	assert.Nil(t, res)

	var fe *jira.FetchError
	assert.ErrorAs(t, err, &fe)
	assert.Nil(t, renderer.doc)
	assert.Empty(t, pub.calls)
	assert.Empty(t, src.fetched)
	assert.NoDirExists(t, settings.Report.WorkDir)
	assert.NoDirExists(t, settings.Report.ArtifactDir)
}

func TestRunAbortsWhenMainIssueMissing(t *testing.T) {
	src := newSource(t)
	renderer := &captureRenderer{}
	pub := &fakePublisher{}

	_, err := New(newSettings(t), src, renderer, pub, zaptest.NewLogger(t)).Run(context.Background(), "NOPE-1")

	var fe *jira.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 404, fe.StatusCode)
	assert.Nil(t, renderer.doc)
	assert.Empty(t, pub.calls)
}

func TestRunReplacesMissingSubtaskWithPlaceholder(t *testing.T) {
	src := newSource(t)
	delete(src.issues, "FTT-2")
	renderer := &captureRenderer{}

	res, err := New(newSettings(t), src, renderer, &fakePublisher{}, zaptest.NewLogger(t)).Run(context.Background(), "FTT-1")
	require.NoError(t, err)

	assert.Equal(t, []report.SectionKind{report.SectionMain, report.SectionUnavailable, report.SectionSubtask}, res.Sections)
	sections := renderer.doc.Sections()
	assert.Equal(t, "FTT-2", sections[1].Key)
	assert.True(t, hasLine(sections[1], "Subtask unavailable"))
	assert.True(t, hasLine(sections[2], "Text: Fixed"))
}

func TestRunKeepsReportWhenPublishFails(t *testing.T) {
	boom := errors.New("drive down")
	pub := &fakePublisher{err: boom}

	res, err := New(newSettings(t), newSource(t), &captureRenderer{}, pub, zaptest.NewLogger(t)).Run(context.Background(), "FTT-1")
	require.ErrorIs(t, err, boom)
	require.NotNil(t, res)
	assert.FileExists(t, res.FilePath)
	assert.Empty(t, res.Link)
}

func TestRunWithoutPublisher(t *testing.T) {
	res, err := New(newSettings(t), newSource(t), &captureRenderer{}, nil, zaptest.NewLogger(t)).Run(context.Background(), "FTT-1")
	require.NoError(t, err)
	assert.FileExists(t, res.FilePath)
	assert.Empty(t, res.Link)
	assert.Equal(t, "AK-7", res.TopKey)
}

func TestRunRendersRealPDF(t *testing.T) {
	settings := newSettings(t)
	renderer := render.NewPDF(filepath.Join(t.TempDir(), "missing.ttf"), zaptest.NewLogger(t))

	res, err := New(settings, newSource(t), renderer, nil, zaptest.NewLogger(t)).Run(context.Background(), "FTT-1")
	require.NoError(t, err)

	data, err := os.ReadFile(res.FilePath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func TestRunRequiresKey(t *testing.T) {
	_, err := New(newSettings(t), newSource(t), &captureRenderer{}, nil, zaptest.NewLogger(t)).Run(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoIssueKey)
}

func TestFolderKeys(t *testing.T) {
	rec := models.NewFlatRecord()
	top, sub := FolderKeys(rec)
	assert.Equal(t, FallbackAK, top)
	assert.Equal(t, FallbackCompany, sub)

	rec.Fields["ΑΚ"] = "AK-1"
	rec.Fields["Εταιρεία Ανάθεσης"] = ""
	top, sub = FolderKeys(rec)
	assert.Equal(t, "AK-1", top)
	assert.Equal(t, FallbackCompany, sub)
}
