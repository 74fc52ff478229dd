package app

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Ilia01/jira2drive/internal/utils"
)

var (
	rootCmd = &cobra.Command{
		Use:           "jira2drive",
		Short:         "Export Jira issues as PDF reports to Google Drive",
		Long:          "jira2drive turns a Jira issue and its subtasks into a PDF report and files it in Google Drive, from a webhook or the terminal.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			utils.SetColor(!noColor && utils.IsTerminal(os.Stdout))
		},
	}

	verbose bool
	noColor bool

	serveHandler      = handleServe
	exportHandler     = handleExport
	fieldsHandler     = handleFields
	testJiraHandler   = handleTestJira
	configShowHandler = handleConfigShow
	configValHandler  = handleConfigValidate
	configInitHandler = handleConfigInit
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(fieldsCmd)
	rootCmd.AddCommand(testJiraCmd)
	rootCmd.AddCommand(configCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Listen for Jira webhooks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveHandler()
	},
}

var (
	exportNoUpload bool
	exportOpen     bool
)

var exportCmd = &cobra.Command{
	Use:   "export <issue-key|browse-url>",
	Short: "Export one issue and its subtasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issueKey, err := utils.ExtractIssueKey(args[0])
		if err != nil {
			return err
		}
		return exportHandler(issueKey, exportNoUpload, exportOpen)
	},
}

var fieldsJSON bool

var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "List Jira field ids and their labels",
	RunE: func(cmd *cobra.Command, args []string) error {
		return fieldsHandler(fieldsJSON)
	},
}

var testJiraCmd = &cobra.Command{
	Use:   "test-jira [issue-key]",
	Short: "Test Jira API connection",
	Args:  cobra.RangeArgs(0, 1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issueKey := ""
		if len(args) > 0 {
			key, err := utils.ExtractIssueKey(args[0])
			if err != nil {
				return err
			}
			issueKey = key
		}
		return testJiraHandler(issueKey)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowHandler()
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configValHandler()
	},
}

var configInitPath string

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a .env file interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitHandler(configInitPath)
	},
}

func init() {
	exportCmd.Flags().BoolVar(&exportNoUpload, "no-upload", false, "Keep the PDF locally instead of uploading it")
	exportCmd.Flags().BoolVar(&exportOpen, "open", false, "Open the uploaded report (or the local file) when done")

	fieldsCmd.Flags().BoolVar(&fieldsJSON, "json", false, "Output JSON")

	configInitCmd.Flags().StringVar(&configInitPath, "file", ".env", "Path of the dotenv file to write")

	configCmd.AddCommand(configShowCmd, configValidateCmd, configInitCmd)
}
