package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	ErrConfigNotFound = errors.New("configuration not found")
	ErrMissingSetting = errors.New("missing required setting")
)

const (
	WebhookModeAsync = "async"
	WebhookModeSync  = "sync"

	AuthAPIToken            = "api_token"
	AuthPersonalAccessToken = "personal_access_token"
)

// DefaultNoiseFields are the labels dropped from every record before
// rendering.
var DefaultNoiseFields = []string{
	"Linked Issues",
	"Votes",
	"Log Work",
	"Time tracking",
	"ΤΙΜΗ ΒΕΡ",
	"Work Ratio",
	"Request participants",
	"Components",
	"Progress",
	"Συνεργείο Εμφύσησης",
	"Watchers",
	"[CHART] Time in Status",
	"Parent Link",
	"Rank",
	"Organizations",
	"Fix versions",
	"Affects versions",
	"Σ Progress",
	"[CHART] Date of First Response",
	"Συνεργείο Ηλεκτρολόγου",
	"Συνεργείο Μηχανικού",
}

type Settings struct {
	Env    string
	Jira   JiraConfig
	Drive  DriveConfig
	Server ServerConfig
	Report ReportConfig
}

type JiraConfig struct {
	Domain     string
	Email      string
	APIVersion string
	Timeout    time.Duration
	AuthMethod AuthMethod
}

type AuthMethod struct {
	Type  string
	Token string
}

type DriveConfig struct {
	CredentialsJSON string
	ParentFolderID  string
}

type ServerConfig struct {
	Port            string
	WebhookMode     string
	PipelineTimeout time.Duration
}

type ReportConfig struct {
	WorkDir            string
	ArtifactDir        string
	FontPath           string
	SubtaskConcurrency int
	NoiseFieldsFile    string
	NoiseFields        []string
}

// Load merges an optional .env file from the working directory into the
// process environment and reads the settings from it.
func Load() (*Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds settings from an environment lookup function.
func FromLookup(lookup func(string) (string, bool)) (*Settings, error) {
	env := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	jiraTimeout, err := parseDuration(env("JIRA_HTTP_TIMEOUT", ""), 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("JIRA_HTTP_TIMEOUT: %w", err)
	}
	pipelineTimeout, err := parseDuration(env("PIPELINE_TIMEOUT", ""), 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PIPELINE_TIMEOUT: %w", err)
	}
	concurrency, err := parseInt(env("REPORT_SUBTASK_CONCURRENCY", ""), 4)
	if err != nil {
		return nil, fmt.Errorf("REPORT_SUBTASK_CONCURRENCY: %w", err)
	}

	s := &Settings{
		Env: env("APP_ENV", "production"),
		Jira: JiraConfig{
			Domain:     env("ATLASSIAN_DOMAIN", ""),
			Email:      env("ATLASSIAN_EMAIL", ""),
			APIVersion: env("JIRA_API_VERSION", "3"),
			Timeout:    jiraTimeout,
			AuthMethod: AuthMethod{
				Type:  env("JIRA_AUTH_TYPE", AuthAPIToken),
				Token: env("ATLASSIAN_API_TOKEN", ""),
			},
		},
		Drive: DriveConfig{
			CredentialsJSON: env("GOOGLE_CREDENTIALS", ""),
			ParentFolderID:  env("GOOGLE_DRIVE_PARENT_FOLDER", "root"),
		},
		Server: ServerConfig{
			Port:            env("PORT", "3000"),
			WebhookMode:     strings.ToLower(env("WEBHOOK_MODE", WebhookModeAsync)),
			PipelineTimeout: pipelineTimeout,
		},
		Report: ReportConfig{
			WorkDir:            env("REPORT_WORK_DIR", "./temp"),
			ArtifactDir:        env("REPORT_ARTIFACT_DIR", "."),
			FontPath:           env("REPORT_FONT_PATH", filepath.Join("fonts", "DejaVuSans.ttf")),
			SubtaskConcurrency: concurrency,
			NoiseFieldsFile:    env("REPORT_NOISE_FIELDS_FILE", ""),
			NoiseFields:        append([]string(nil), DefaultNoiseFields...),
		},
	}

	if s.Report.NoiseFieldsFile != "" {
		fields, err := LoadNoiseFields(s.Report.NoiseFieldsFile)
		if err != nil {
			return nil, err
		}
		s.Report.NoiseFields = fields
	}

	return s, nil
}

type noiseFile struct {
	NoiseFields []string `yaml:"noise_fields"`
}

// LoadNoiseFields reads a YAML file of the form
//
//	noise_fields:
//	  - Votes
//	  - Watchers
func LoadNoiseFields(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("noise fields file %s: %w", path, ErrConfigNotFound)
		}
		return nil, fmt.Errorf("read noise fields: %w", err)
	}
	var nf noiseFile
	if err := yaml.Unmarshal(data, &nf); err != nil {
		return nil, fmt.Errorf("parse noise fields: %w", err)
	}
	out := make([]string, 0, len(nf.NoiseFields))
	for _, f := range nf.NoiseFields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out, nil
}

// BaseURL returns the Jira site root. A bare domain is served over https.
func (j JiraConfig) BaseURL() string {
	d := strings.TrimRight(j.Domain, "/")
	if strings.Contains(d, "://") {
		return d
	}
	return "https://" + d
}

// Validate reports every missing or malformed setting at once. Drive
// credentials are only required when uploads are enabled.
func (s *Settings) Validate(requireDrive bool) error {
	var errs []error
	missing := func(name string) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrMissingSetting, name))
	}
	if s.Jira.Domain == "" {
		missing("ATLASSIAN_DOMAIN")
	}
	if s.Jira.AuthMethod.Token == "" {
		missing("ATLASSIAN_API_TOKEN")
	}
	switch s.Jira.AuthMethod.Type {
	case AuthAPIToken:
		if s.Jira.Email == "" {
			missing("ATLASSIAN_EMAIL")
		}
	case AuthPersonalAccessToken:
	default:
		errs = append(errs, fmt.Errorf("JIRA_AUTH_TYPE: unknown type %q", s.Jira.AuthMethod.Type))
	}
	if requireDrive && s.Drive.CredentialsJSON == "" {
		missing("GOOGLE_CREDENTIALS")
	}
	switch s.Server.WebhookMode {
	case WebhookModeAsync, WebhookModeSync:
	default:
		errs = append(errs, fmt.Errorf("WEBHOOK_MODE: unknown mode %q", s.Server.WebhookMode))
	}
	if s.Report.SubtaskConcurrency < 1 {
		errs = append(errs, fmt.Errorf("REPORT_SUBTASK_CONCURRENCY must be at least 1, got %d", s.Report.SubtaskConcurrency))
	}
	return errors.Join(errs...)
}

// EnvMap renders the settings as the variables Load reads back.
func (s *Settings) EnvMap() map[string]string {
	m := map[string]string{
		"APP_ENV":                    s.Env,
		"ATLASSIAN_DOMAIN":           s.Jira.Domain,
		"ATLASSIAN_EMAIL":            s.Jira.Email,
		"ATLASSIAN_API_TOKEN":        s.Jira.AuthMethod.Token,
		"JIRA_AUTH_TYPE":             s.Jira.AuthMethod.Type,
		"JIRA_API_VERSION":           s.Jira.APIVersion,
		"JIRA_HTTP_TIMEOUT":          s.Jira.Timeout.String(),
		"GOOGLE_DRIVE_PARENT_FOLDER": s.Drive.ParentFolderID,
		"PORT":                       s.Server.Port,
		"WEBHOOK_MODE":               s.Server.WebhookMode,
		"PIPELINE_TIMEOUT":           s.Server.PipelineTimeout.String(),
		"REPORT_WORK_DIR":            s.Report.WorkDir,
		"REPORT_ARTIFACT_DIR":        s.Report.ArtifactDir,
		"REPORT_FONT_PATH":           s.Report.FontPath,
		"REPORT_SUBTASK_CONCURRENCY": strconv.Itoa(s.Report.SubtaskConcurrency),
	}
	if s.Drive.CredentialsJSON != "" {
		m["GOOGLE_CREDENTIALS"] = s.Drive.CredentialsJSON
	}
	if s.Report.NoiseFieldsFile != "" {
		m["REPORT_NOISE_FIELDS_FILE"] = s.Report.NoiseFieldsFile
	}
	return m
}

// SaveEnv writes the settings to a dotenv file readable only by the owner.
func (s *Settings) SaveEnv(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := godotenv.Write(s.EnvMap(), path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("chmod config: %w", err)
	}
	return nil
}

func parseDuration(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	return time.ParseDuration(raw)
}

func parseInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func MaskToken(token string) string {
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	head := token[:min(4, len(token))]
	tail := token[max(0, len(token)-4):]
	return fmt.Sprintf("%s***%s", head, tail)
}
