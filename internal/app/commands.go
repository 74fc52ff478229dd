package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Ilia01/jira2drive/internal/config"
	"github.com/Ilia01/jira2drive/internal/drive"
	"github.com/Ilia01/jira2drive/internal/jira"
	"github.com/Ilia01/jira2drive/internal/logging"
	"github.com/Ilia01/jira2drive/internal/models"
	"github.com/Ilia01/jira2drive/internal/normalize"
	"github.com/Ilia01/jira2drive/internal/pipeline"
	"github.com/Ilia01/jira2drive/internal/render"
	"github.com/Ilia01/jira2drive/internal/server"
	"github.com/Ilia01/jira2drive/internal/utils"
)

type jiraService interface {
	pipeline.Source
	ListFields(ctx context.Context) ([]models.FieldDefinition, error)
	TestConnection(ctx context.Context) error
}

var (
	out io.Writer = os.Stdout

	settingsLoader = config.Load

	jiraFactory = func(cfg config.JiraConfig) jiraService {
		return jira.NewClient(cfg)
	}

	publisherFactory = func(ctx context.Context, cfg config.DriveConfig, log *zap.Logger) (pipeline.Publisher, error) {
		svc, err := drive.NewService(ctx, cfg.CredentialsJSON)
		if err != nil {
			return nil, err
		}
		return drive.NewPublisher(svc, cfg.ParentFolderID, log), nil
	}

	loggerFactory = logging.New

	openURL = utils.OpenURL
)

const defaultShutdownGrace = 30 * time.Second

func handleServe() error {
	settings, log, err := setup(true)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, settings, log, true)
	if err != nil {
		return err
	}
	srv := server.New(settings, p, log)

	fmt.Fprintln(out, utils.Cyan(utils.Bold("jira2drive webhook listener")))
	fmt.Fprintf(out, "  %s %s\n", utils.Dim("port:"), utils.BrightWhite(settings.Server.Port))
	fmt.Fprintf(out, "  %s %s\n", utils.Dim("mode:"), utils.BrightWhite(settings.Server.WebhookMode))
	fmt.Fprintf(out, "  %s %s\n", utils.Dim("jira:"), utils.BrightWhite(settings.Jira.BaseURL()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	grace := settings.Server.PipelineTimeout
	if grace <= 0 {
		grace = defaultShutdownGrace
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func handleExport(issueKey string, noUpload, open bool) error {
	settings, log, err := setup(!noUpload)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, settings, log, !noUpload)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, utils.Cyan(utils.Bold(fmt.Sprintf("Exporting %s...", issueKey))))
	res, err := p.Run(ctx, issueKey)
	if res != nil && res.FilePath != "" {
		fmt.Fprintf(out, "  %s %s\n", utils.Green("✓ Report written:"), utils.BrightWhite(res.FilePath))
		fmt.Fprintln(out, utils.Dim(fmt.Sprintf("    %d section(s), run %s", len(res.Sections), res.RunID)))
	}
	if err != nil {
		if res != nil && res.FilePath != "" {
			fmt.Fprintln(out, utils.Yellow("  Upload failed; the report was kept locally."))
		}
		return err
	}

	target := res.FilePath
	if res.Link != "" {
		fmt.Fprintf(out, "  %s %s\n", utils.Green("✓ Uploaded:"), utils.BrightWhite(res.Link))
		fmt.Fprintf(out, "  %s %s / %s\n", utils.Dim("folder:"), res.TopKey, res.SubKey)
		target = res.Link
	}
	if open {
		if err := openURL(target); err != nil {
			fmt.Fprintf(out, "  %s %v\n", utils.Yellow("Could not open report:"), err)
		}
	}
	return nil
}

func handleFields(jsonOutput bool) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if err := settings.Validate(false); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout(settings))
	defer cancel()

	defs, err := jiraFactory(settings.Jira).ListFields(ctx)
	if err != nil {
		return err
	}
	defs = models.NewFieldMap(defs).Definitions()

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(defs)
	}

	fmt.Fprintln(out, utils.Cyan(utils.Bold(fmt.Sprintf("%d fields", len(defs)))))
	for _, d := range defs {
		fmt.Fprintf(out, "  %s %s\n", utils.Dim(fmt.Sprintf("%-24s", d.ID)), d.Name)
	}
	return nil
}

func handleTestJira(issueKey string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if err := settings.Validate(false); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	client := jiraFactory(settings.Jira)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout(settings))
	defer cancel()

	fmt.Fprintln(out, utils.Cyan("Testing Jira API connection..."))
	fmt.Fprintln(out, utils.Dim("  "+settings.Jira.BaseURL()))
	fmt.Fprintln(out)

	if err := client.TestConnection(ctx); err != nil {
		fmt.Fprintln(out, utils.Red("✗ Connection failed"))
		return err
	}
	fmt.Fprintln(out, utils.Green(utils.Bold("✓ Connected")))
	if issueKey == "" {
		return nil
	}

	fmt.Fprintln(out, utils.Dim(fmt.Sprintf("  Fetching issue %s...", issueKey)))
	raw, err := client.GetIssue(ctx, issueKey)
	if err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "  %s %s\n", utils.Bold("Key:"), utils.BrightWhite(raw.Key))
	fmt.Fprintf(out, "  %s %s\n", utils.Bold("Summary:"), fieldText(raw, "summary"))
	fmt.Fprintf(out, "  %s %s\n", utils.Bold("Status:"), utils.Yellow(fieldText(raw, "status")))
	if subtasks, ok := raw.Fields["subtasks"].([]any); ok {
		fmt.Fprintf(out, "  %s %d\n", utils.Bold("Subtasks:"), len(subtasks))
	}
	return nil
}

func handleConfigShow() error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	printConfig(settings)
	return nil
}

func handleConfigValidate() error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, utils.Cyan(utils.Bold("Validating configuration...")))
	fmt.Fprintln(out)

	valid := true
	if err := settings.Validate(false); err != nil {
		valid = false
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Fprintf(out, "  %s %s\n", utils.Mark(false), line)
		}
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout(settings))
		defer cancel()
		fmt.Fprint(out, utils.Dim("  Testing Jira connection... "))
		if err := jiraFactory(settings.Jira).TestConnection(ctx); err != nil {
			valid = false
			fmt.Fprintln(out, utils.Mark(false))
			fmt.Fprintln(out, utils.Yellow(fmt.Sprintf("  Jira validation failed: %v", err)))
		} else {
			fmt.Fprintln(out, utils.Mark(true))
		}
	}

	fmt.Fprint(out, utils.Dim("  Checking Drive credentials... "))
	if settings.Drive.CredentialsJSON == "" {
		fmt.Fprintln(out, utils.Yellow("not set (only export --no-upload will work)"))
	} else if _, err := drive.NewService(context.Background(), settings.Drive.CredentialsJSON); err != nil {
		valid = false
		fmt.Fprintln(out, utils.Mark(false))
		fmt.Fprintln(out, utils.Yellow(fmt.Sprintf("  %v", err)))
	} else {
		fmt.Fprintln(out, utils.Mark(true))
	}

	if !valid {
		return errors.New("configuration is invalid")
	}
	return nil
}

func handleConfigInit(path string) error {
	fmt.Fprintln(out, utils.Cyan(utils.Bold("jira2drive Configuration Setup")))
	fmt.Fprintln(out)
	fmt.Fprintln(out, utils.Dim(fmt.Sprintf("This will store your credentials in %s", path)))
	fmt.Fprintln(out, utils.Dim("The file will be created with read-only permissions (600)"))
	fmt.Fprintln(out)

	settings, err := config.FromLookup(func(string) (string, bool) { return "", false })
	if err != nil {
		return err
	}

	domain, err := utils.Prompt("Jira site (e.g., <company>.atlassian.net)")
	if err != nil {
		return err
	}
	settings.Jira.Domain = domain

	fmt.Fprintln(out)
	fmt.Fprintln(out, utils.Bold("Select authentication method:"))
	fmt.Fprintln(out, utils.Dim("  1. Personal Access Token (for Jira Data Center/Server)"))
	fmt.Fprintln(out, utils.Dim("  2. API Token (for Jira Cloud)"))
	authChoice, err := utils.PromptChoice("Choice", []string{"1", "2"}, "2")
	if err != nil {
		return err
	}

	if authChoice == "1" {
		token, err := utils.PromptPassword("Personal Access Token")
		if err != nil {
			return err
		}
		settings.Jira.AuthMethod = config.AuthMethod{Type: config.AuthPersonalAccessToken, Token: token}
	} else {
		email, err := utils.Prompt("Jira email")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, utils.Dim("  Create a token at https://id.atlassian.com/manage-profile/security/api-tokens"))
		token, err := utils.PromptPassword("Jira API token")
		if err != nil {
			return err
		}
		settings.Jira.Email = email
		settings.Jira.AuthMethod = config.AuthMethod{Type: config.AuthAPIToken, Token: token}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, utils.Bold("=== Google Drive ==="))
	keyFile, err := utils.Prompt("Service account key file (leave empty to skip uploads)")
	if err != nil {
		return err
	}
	if keyFile != "" {
		creds, err := readCredentials(keyFile)
		if err != nil {
			return err
		}
		settings.Drive.CredentialsJSON = creds
	}
	if settings.Drive.ParentFolderID, err = utils.PromptWithDefault("Parent folder id", settings.Drive.ParentFolderID); err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, utils.Bold("=== Webhook ==="))
	if settings.Server.Port, err = utils.PromptWithDefault("Port", settings.Server.Port); err != nil {
		return err
	}
	mode, err := utils.PromptChoice("Webhook mode", []string{config.WebhookModeAsync, config.WebhookModeSync}, settings.Server.WebhookMode)
	if err != nil {
		return err
	}
	settings.Server.WebhookMode = mode

	if err := settings.Validate(false); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	if err := settings.SaveEnv(path); err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, utils.Green(utils.Bold("Configuration saved!")))
	fmt.Fprintf(out, "  Location: %s\n\n", utils.BrightWhite(path))

	fmt.Fprint(out, utils.Dim("  Testing Jira connection... "))
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout(settings))
	defer cancel()
	if err := jiraFactory(settings.Jira).TestConnection(ctx); err != nil {
		fmt.Fprintln(out, utils.Mark(false))
		fmt.Fprintf(out, "  %s %v\n", utils.Yellow("Warning:"), err)
		fmt.Fprintln(out, utils.Dim("  This may be expected if VPN/network restrictions apply."))
	} else {
		fmt.Fprintln(out, utils.Mark(true))
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, utils.Yellow("Keep your API tokens secure!"))
	fmt.Fprintln(out, utils.Dim(fmt.Sprintf("  Never commit %s to git", path)))
	return nil
}

func loadSettings() (*config.Settings, error) {
	settings, err := settingsLoader()
	if err != nil {
		if errors.Is(err, config.ErrConfigNotFound) {
			return nil, fmt.Errorf("%w. Check REPORT_NOISE_FIELDS_FILE or run 'jira2drive config init'", err)
		}
		return nil, err
	}
	return settings, nil
}

// setup loads and validates the settings and builds the logger.
func setup(requireDrive bool) (*config.Settings, *zap.Logger, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, nil, err
	}
	if err := settings.Validate(requireDrive); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	log, err := loggerFactory(settings.Env, verbose)
	if err != nil {
		return nil, nil, err
	}
	return settings, log, nil
}

func newPipeline(ctx context.Context, settings *config.Settings, log *zap.Logger, upload bool) (*pipeline.Pipeline, error) {
	var publisher pipeline.Publisher
	if upload {
		var err error
		if publisher, err = publisherFactory(ctx, settings.Drive, log); err != nil {
			return nil, err
		}
	}
	renderer := render.NewPDF(settings.Report.FontPath, log)
	return pipeline.New(settings, jiraFactory(settings.Jira), renderer, publisher, log), nil
}

func requestTimeout(settings *config.Settings) time.Duration {
	if settings.Jira.Timeout > 0 {
		return settings.Jira.Timeout
	}
	return 30 * time.Second
}

func fieldText(raw *models.RawIssue, id string) string {
	v, ok := raw.Fields[id]
	if !ok || v == nil {
		return "-"
	}
	return normalize.Resolve(v)
}

// readCredentials loads a service account key and compacts it onto one
// line for the dotenv file.
func readCredentials(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read credentials: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return "", fmt.Errorf("credentials file is not JSON: %w", err)
	}
	return buf.String(), nil
}

func printConfig(settings *config.Settings) {
	fmt.Fprintln(out, utils.Cyan(utils.Bold("Current Configuration")))
	fmt.Fprintln(out)

	row := func(name, value string) {
		fmt.Fprintf(out, "  %s %s\n", utils.Dim(name+":"), utils.BrightWhite(value))
	}
	secret := func(name, value string) {
		fmt.Fprintf(out, "  %s %s\n", utils.Dim(name+":"), utils.Yellow(config.MaskToken(value)))
	}

	fmt.Fprintln(out, utils.Bold("[jira]"))
	row("site", settings.Jira.BaseURL())
	row("email", settings.Jira.Email)
	row("auth_method", settings.Jira.AuthMethod.Type)
	secret("token", settings.Jira.AuthMethod.Token)
	row("api_version", settings.Jira.APIVersion)
	row("timeout", settings.Jira.Timeout.String())

	fmt.Fprintln(out)
	fmt.Fprintln(out, utils.Bold("[drive]"))
	secret("credentials", settings.Drive.CredentialsJSON)
	row("parent_folder", settings.Drive.ParentFolderID)

	fmt.Fprintln(out)
	fmt.Fprintln(out, utils.Bold("[server]"))
	row("port", settings.Server.Port)
	row("webhook_mode", settings.Server.WebhookMode)
	row("pipeline_timeout", settings.Server.PipelineTimeout.String())

	fmt.Fprintln(out)
	fmt.Fprintln(out, utils.Bold("[report]"))
	row("work_dir", settings.Report.WorkDir)
	row("artifact_dir", settings.Report.ArtifactDir)
	row("font", settings.Report.FontPath)
	row("subtask_concurrency", fmt.Sprint(settings.Report.SubtaskConcurrency))
	row("noise_fields", fmt.Sprintf("%d", len(settings.Report.NoiseFields)))
	if settings.Report.NoiseFieldsFile != "" {
		row("noise_fields_file", settings.Report.NoiseFieldsFile)
	}
	row("env", settings.Env)
}
