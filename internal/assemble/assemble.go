// Package assemble fetches issues and turns them into cleaned flat records.
package assemble

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/Ilia01/jira2drive/internal/models"
	"github.com/Ilia01/jira2drive/internal/normalize"
)

// IssueSource is the subset of the Jira client the assembler needs.
type IssueSource interface {
	FieldMap(ctx context.Context) (models.FieldMap, error)
	GetIssue(ctx context.Context, key string) (*models.RawIssue, error)
}

// Assembler is meant to live for one pipeline run: the field map is
// fetched on first use and reused for every issue after that.
type Assembler struct {
	source      IssueSource
	noise       map[string]struct{}
	artifactDir string
	log         *zap.Logger

	mu     sync.Mutex
	fields *models.FieldMap
}

func New(source IssueSource, noiseFields []string, artifactDir string, log *zap.Logger) *Assembler {
	noise := make(map[string]struct{}, len(noiseFields))
	for _, f := range noiseFields {
		noise[f] = struct{}{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Assembler{
		source:      source,
		noise:       noise,
		artifactDir: artifactDir,
		log:         log,
	}
}

// FieldMap returns the cached field map, fetching it on first call. A
// failed fetch is not cached.
func (a *Assembler) FieldMap(ctx context.Context) (models.FieldMap, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fields != nil {
		return *a.fields, nil
	}
	fm, err := a.source.FieldMap(ctx)
	if err != nil {
		return models.FieldMap{}, fmt.Errorf("fetch field map: %w", err)
	}
	a.log.Debug("field map fetched", zap.Int("fields", fm.Len()))
	a.fields = &fm
	return fm, nil
}

// Assemble fetches issueKey, normalizes it, drops noise fields and writes
// the debug artifact. On error no record is returned.
func (a *Assembler) Assemble(ctx context.Context, issueKey string) (*models.FlatRecord, error) {
	fm, err := a.FieldMap(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := a.source.GetIssue(ctx, issueKey)
	if err != nil {
		return nil, fmt.Errorf("fetch issue %s: %w", issueKey, err)
	}

	rec := normalize.Normalize(raw, fm)
	if raw.Key != "" {
		rec.Key = raw.Key
	} else {
		rec.Key = issueKey
	}
	DropNoise(rec, a.noise)

	if path, err := a.writeArtifact(rec); err != nil {
		a.log.Warn("write record artifact", zap.String("issue", rec.Key), zap.Error(err))
	} else if path != "" {
		a.log.Debug("record artifact written", zap.String("issue", rec.Key), zap.String("path", path))
	}
	return rec, nil
}

// DropNoise removes noise labels from the scalar fields. The structured
// collections are separate from Fields and are never touched.
func DropNoise(rec *models.FlatRecord, noise map[string]struct{}) {
	for label := range rec.Fields {
		if _, ok := noise[label]; ok {
			delete(rec.Fields, label)
		}
	}
}

// ArtifactName is the debug artifact's file name for an issue.
func ArtifactName(issueKey string) string {
	return fmt.Sprintf("finalObj_%s.json", issueKey)
}

func (a *Assembler) writeArtifact(rec *models.FlatRecord) (string, error) {
	if a.artifactDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(a.artifactDir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	path := filepath.Join(a.artifactDir, ArtifactName(rec.Key))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
