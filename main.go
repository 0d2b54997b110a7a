// Package main provides the calinsight CLI entry point.
// calinsight syncs Google Calendar events into a meetings table and serves
// meeting analytics over a CLI, an HTTP API and a natural-language assistant.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/calinsight/cmd"
	"github.com/otherjamesbrown/calinsight/config"
	"github.com/otherjamesbrown/calinsight/pkg/buildinfo"
	cierrors "github.com/otherjamesbrown/calinsight/pkg/errors"
	"github.com/otherjamesbrown/calinsight/pkg/logging"
)

// Global flags and state.
var (
	cfgFile      string
	outputFormat string
	debug        bool
	logJSON      bool

	// deps is shared by every subcommand and filled in by PersistentPreRunE.
	deps = cmd.DefaultDeps()
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "calinsight",
	Short: "Calendar analytics - sync meetings and report on them",
	Long: `calinsight pulls Google Calendar events for a set of users into a meetings
table, enriches them with organizational metadata, and reports on them.

COMMON WORKFLOWS:
  First setup:     calinsight config init  →  calinsight db migrate
  Backfill:        calinsight sync --years 2
  Scheduled job:   calinsight sync --daily
  Reporting:       calinsight stats --days 30  |  calinsight ask "question"
  Dashboard API:   calinsight serve

Every command supports --output json|yaml for structured output.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		// Skip initialization for commands that don't need it.
		switch c.Name() {
		case "version", "help", "completion", "init":
			return nil
		}
		return initDeps()
	},
}

// initDeps loads configuration, applies the global flags and builds the logger.
func initDeps() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// Override with command-line flags.
	if outputFormat != "" {
		cfg.OutputFormat = config.OutputFormat(outputFormat)
		if !cfg.OutputFormat.IsValid() {
			return fmt.Errorf("invalid --output %q (must be text, json, or yaml): %w", outputFormat, cierrors.ErrValidation)
		}
	}
	if debug {
		cfg.Logging.Level = string(logging.LevelDebug)
	}
	if logJSON {
		cfg.Logging.JSON = true
	}

	format := logging.FormatAuto
	if cfg.Logging.JSON {
		format = logging.FormatJSON
	}
	deps.Config = cfg
	deps.Logger = logging.NewLogger(&logging.Config{
		Level:     logging.Level(cfg.Logging.Level),
		Component: "calinsight",
		Format:    format,
		Output:    os.Stderr,
	})
	return nil
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the version, commit hash, and build time of calinsight.

Use --output json for machine-readable output.`,
	RunE: func(c *cobra.Command, args []string) error {
		info := buildinfo.Get()
		out := c.OutOrStdout()
		switch config.OutputFormat(outputFormat) {
		case config.OutputFormatJSON, config.OutputFormatYAML:
			_, err := cmd.WriteStructured(out, config.OutputFormat(outputFormat), info)
			return err
		}
		fmt.Fprintf(out, "calinsight %s\n", info.Version)
		fmt.Fprintf(out, "  Commit:     %s\n", info.Commit)
		fmt.Fprintf(out, "  Built:      %s\n", info.BuildTime)
		fmt.Fprintf(out, "  Go version: %s\n", info.GoVersion)
		return nil
	},
}

// configCmd groups configuration subcommands.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `View and create the calinsight configuration file.

Configuration is read from ~/.calinsight/config.yaml (or --config), then
overridden by CALINSIGHT_* environment variables. A .env file in the working
directory is loaded first.`,
}

// configShowCmd displays the effective configuration with secrets masked.
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration after file and environment overrides. Secrets are masked.`,
	RunE: func(c *cobra.Command, args []string) error {
		out := c.OutOrStdout()
		redacted := deps.Config.Redacted()
		format := deps.Config.OutputFormat
		if format == config.OutputFormatText {
			format = config.OutputFormatYAML
			path := cfgFile
			if path == "" {
				path, _ = config.ConfigPath()
			}
			fmt.Fprintf(out, "# Config file: %s\n", path)
		}
		_, err := cmd.WriteStructured(out, format, redacted)
		return err
	},
}

var configInitForce bool

// configInitCmd writes a default configuration file.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long:  `Create a new configuration file with default values if one doesn't exist.`,
	RunE: func(c *cobra.Command, args []string) error {
		out := c.OutOrStdout()
		path := cfgFile
		if path == "" {
			p, err := config.ConfigPath()
			if err != nil {
				return fmt.Errorf("getting config path: %w", err)
			}
			path = p
		}

		if _, err := os.Stat(path); err == nil && !configInitForce {
			fmt.Fprintf(out, "Configuration file already exists: %s\n", path)
			fmt.Fprintln(out, "Use 'calinsight config show' to view current settings, or --force to overwrite.")
			return nil
		}

		if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
			return fmt.Errorf("saving configuration: %w", err)
		}
		fmt.Fprintf(out, "Created configuration file: %s\n", path)
		fmt.Fprintln(out, "\nNext steps:")
		fmt.Fprintln(out, "  1. Set database.url (or database.driver: sqlite)")
		fmt.Fprintln(out, "  2. Set calendar.credentials_file and calendar.users")
		fmt.Fprintln(out, "  3. Run 'calinsight db migrate'")
		return nil
	},
}

// completionCmd generates shell completion scripts.
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for calinsight.

To load completions:

Bash:
  $ source <(calinsight completion bash)

Zsh:
  $ calinsight completion zsh > "${fpath[1]}/_calinsight"

Fish:
  $ calinsight completion fish | source

PowerShell:
  PS> calinsight completion powershell | Out-String | Invoke-Expression
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(c *cobra.Command, args []string) error {
		out := c.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(out)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(out)
		}
		return nil
	},
}

func init() {
	// Global flags.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.calinsight/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format: text, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "write logs as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "report", Title: "Reporting Commands:"},
		&cobra.Group{ID: "setup", Title: "Setup Commands:"},
	)

	syncCmd := cmd.NewSyncCommand(deps)
	syncCmd.GroupID = "sync"
	rootCmd.AddCommand(syncCmd)

	dbCmd := cmd.NewDbCommand(deps)
	dbCmd.GroupID = "setup"
	rootCmd.AddCommand(dbCmd)

	directoryCmd := cmd.NewDirectoryCommand(deps)
	directoryCmd.GroupID = "setup"
	rootCmd.AddCommand(directoryCmd)

	statsCmd := cmd.NewStatsCommand(deps)
	statsCmd.GroupID = "report"
	rootCmd.AddCommand(statsCmd)

	runsCmd := cmd.NewRunsCommand(deps)
	runsCmd.GroupID = "sync"
	rootCmd.AddCommand(runsCmd)

	askCmd := cmd.NewAskCommand(deps)
	askCmd.GroupID = "report"
	rootCmd.AddCommand(askCmd)

	serveCmd := cmd.NewServeCommand(deps)
	serveCmd.GroupID = "report"
	rootCmd.AddCommand(serveCmd)

	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing configuration file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.GroupID = "setup"
	rootCmd.AddCommand(configCmd)

	completionCmd.GroupID = "setup"
	rootCmd.AddCommand(completionCmd)

	versionCmd.GroupID = "setup"
	rootCmd.AddCommand(versionCmd)
}

func main() {
	// Cancel the command context on SIGINT/SIGTERM so syncs stop between
	// batches and the server shuts down gracefully.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	stop()
	os.Exit(cierrors.ExitCode(err))
}
