// Package pipeline runs one issue export: assemble the main issue and its
// subtasks, compose the report, render it and publish it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ilia01/jira2drive/internal/assemble"
	"github.com/Ilia01/jira2drive/internal/config"
	"github.com/Ilia01/jira2drive/internal/models"
	"github.com/Ilia01/jira2drive/internal/report"
)

// Folder keys used when the main issue has no value for the
// classification fields.
const (
	FallbackAK      = "Χωρίς ΑΚ"
	FallbackCompany = "Χωρίς Εταιρεία"
)

// ErrNoIssueKey is returned when Run is called without an issue key.
var ErrNoIssueKey = errors.New("issue key is required")

// Source is the Jira side of a run: metadata, issues and attachment bytes.
type Source interface {
	assemble.IssueSource
	report.Fetcher
}

type Renderer interface {
	RenderFile(doc *report.Document, path string) error
}

type Publisher interface {
	Publish(ctx context.Context, filePath, filename, topKey, subKey string) (string, error)
}

// Result describes a finished run. FilePath is set once the PDF exists,
// also when publishing failed afterwards.
type Result struct {
	RunID    string
	IssueKey string
	FilePath string
	TopKey   string
	SubKey   string
	Link     string
	Sections []report.SectionKind
}

type Pipeline struct {
	source      Source
	renderer    Renderer
	publisher   Publisher
	report      config.ReportConfig
	timeout     time.Duration
	concurrency int
	log         *zap.Logger
}

// New builds a pipeline. A nil publisher leaves the PDF in the work
// directory without uploading it.
func New(settings *config.Settings, source Source, renderer Renderer, publisher Publisher, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	concurrency := settings.Report.SubtaskConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pipeline{
		source:      source,
		renderer:    renderer,
		publisher:   publisher,
		report:      settings.Report,
		timeout:     settings.Server.PipelineTimeout,
		concurrency: concurrency,
		log:         log,
	}
}

// Run exports issueKey. Failing to fetch field metadata or the main issue
// aborts before anything is written. A subtask that cannot be fetched is
// replaced by a placeholder section.
func (p *Pipeline) Run(ctx context.Context, issueKey string) (*Result, error) {
	if issueKey == "" {
		return nil, ErrNoIssueKey
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	res := &Result{RunID: uuid.NewString(), IssueKey: issueKey}
	log := p.log.With(zap.String("run_id", res.RunID), zap.String("issue", issueKey))
	started := time.Now()
	log.Info("run started")

	runDir := filepath.Join(p.report.WorkDir, "run-"+res.RunID)
	defer func() {
		if err := os.RemoveAll(runDir); err != nil {
			log.Warn("remove run dir", zap.String("path", runDir), zap.Error(err))
		}
	}()

	asm := assemble.New(p.source, p.report.NoiseFields, p.report.ArtifactDir, log)
	if _, err := asm.FieldMap(ctx); err != nil {
		log.Error("run aborted", zap.Error(err))
		return nil, err
	}
	issue, err := asm.Assemble(ctx, issueKey)
	if err != nil {
		log.Error("run aborted", zap.Error(err))
		return nil, err
	}
	res.IssueKey = issue.Key

	composer := report.NewComposer(p.source, runDir, log)
	builder := report.NewBuilder()
	if err := builder.Append(composer.MainSection(ctx, issue)); err != nil {
		return nil, err
	}

	for _, sub := range p.fetchSubtasks(ctx, asm, issue.Subtasks) {
		var section report.Section
		if sub.err != nil {
			log.Warn("subtask unavailable", zap.String("subtask", sub.key), zap.Error(sub.err))
			section = report.UnavailableSection(sub.key, sub.err)
		} else {
			section = composer.SubtaskSection(ctx, sub.rec)
		}
		if err := builder.Append(section); err != nil {
			return nil, err
		}
	}

	doc, err := builder.Finalize()
	if err != nil {
		return nil, err
	}
	for _, s := range doc.Sections() {
		res.Sections = append(res.Sections, s.Kind)
	}
	if err := ctx.Err(); err != nil {
		log.Error("run aborted before render", zap.Error(err))
		return nil, fmt.Errorf("run %s: %w", issueKey, err)
	}

	filename := issue.Key + ".pdf"
	path := filepath.Join(p.report.WorkDir, filename)
	if err := p.renderer.RenderFile(doc, path); err != nil {
		log.Error("render failed", zap.Error(err))
		return nil, fmt.Errorf("render %s: %w", filename, err)
	}
	res.FilePath = path
	res.TopKey, res.SubKey = FolderKeys(issue)
	log.Info("report written", zap.String("path", path), zap.Int("sections", len(res.Sections)))

	if p.publisher == nil {
		log.Info("run finished without upload", zap.Duration("elapsed", time.Since(started)))
		return res, nil
	}

	link, err := p.publisher.Publish(ctx, path, filename, res.TopKey, res.SubKey)
	if err != nil {
		log.Error("publish failed, report kept locally", zap.String("path", path), zap.Error(err))
		return res, fmt.Errorf("publish %s: %w", filename, err)
	}
	res.Link = link
	log.Info("run finished",
		zap.String("link", link),
		zap.String("folder", res.TopKey+"/"+res.SubKey),
		zap.Duration("elapsed", time.Since(started)))
	return res, nil
}

type subtaskRecord struct {
	key string
	rec *models.FlatRecord
	err error
}

// fetchSubtasks assembles every subtask concurrently and returns the
// results in the order of subtasks.
func (p *Pipeline) fetchSubtasks(ctx context.Context, asm *assemble.Assembler, subtasks []models.Subtask) []subtaskRecord {
	out := make([]subtaskRecord, len(subtasks))
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, sub := range subtasks {
		out[i].key = sub.Key
		g.Go(func() error {
			out[i].rec, out[i].err = asm.Assemble(ctx, sub.Key)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// FolderKeys returns the Drive folder names for rec: its ΑΚ value and its
// assigned company, each replaced by a fallback when empty.
func FolderKeys(rec *models.FlatRecord) (top, sub string) {
	top, sub = FallbackAK, FallbackCompany
	if v, ok := rec.Get(report.LabelAK); ok && v != "" {
		top = v
	}
	if v, ok := rec.Get(report.LabelCompany); ok && v != "" {
		sub = v
	}
	return top, sub
}
