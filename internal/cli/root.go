// Package cli provides the command-line interface for the historical
// data engine.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"alphahistory/internal/config"
	"alphahistory/internal/engine"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-01-01"
)

// App holds the application dependencies shared by every command.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Engine *engine.Engine
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
		Engine: engine.New(cfg, logger),
	}

	rootCmd := &cobra.Command{
		Use:   "alphahistory",
		Short: "Local historical market-data engine for equity-index options",
		Long: `alphahistory is a local, read-optimized historical market-data engine
for equity-index options: daily contract universes, minute option-quote
snapshots, and minute underlying bars, organized into per-(symbol, month)
partitions with a completeness score and integrity-verification layer.

Use 'alphahistory help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (ignored: configuration is always loaded from ~/.config/alphahistory)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addQueryCommands(rootCmd, app)
	addVerifyCommands(rootCmd, app)
	addHealthCommands(rootCmd, app)

	return rootCmd
}

// addCoreCommands adds version and config-management commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("alphahistory v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage engine configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Storage")
	output.Printf("  Root:       %s\n", cfg.Storage.Root)
	output.Printf("  Vocabulary: %v\n", cfg.Storage.Vocabulary)
	output.Println()

	output.Bold("Pool")
	output.Printf("  Size:           %d\n", cfg.Pool.Size)
	output.Printf("  Idle timeout:   %s\n", FormatDuration(cfg.Pool.IdleTimeout))
	output.Printf("  Sweep interval: %s\n", FormatDuration(cfg.Pool.SweepInterval))
	output.Println()

	output.Bold("Cache")
	output.Printf("  Chain entries/TTL: %d / %s\n", cfg.Cache.ChainEntries, FormatDuration(cfg.Cache.ChainTTL))
	output.Printf("  Bar entries/TTL:   %d / %s\n", cfg.Cache.BarEntries, FormatDuration(cfg.Cache.BarTTL))
	output.Printf("  Spot entries/TTL:  %d / %s\n", cfg.Cache.SpotEntries, FormatDuration(cfg.Cache.SpotTTL))
	output.Println()

	output.Bold("Retry")
	output.Printf("  Max attempts:   %d\n", cfg.Retry.MaxAttempts)
	output.Printf("  Initial delay:  %s\n", FormatDuration(cfg.Retry.InitialDelay))
	output.Printf("  Max delay:      %s\n", FormatDuration(cfg.Retry.MaxDelay))
	output.Printf("  Backoff factor: %.1f\n", cfg.Retry.BackoffFactor)
	output.Println()

	output.Bold("Logging")
	output.Printf("  Level:   %s\n", cfg.Logging.Level)
	output.Printf("  Console: %v\n", cfg.Logging.Console)
	output.Printf("  File:    %v (%s)\n", cfg.Logging.File, cfg.Logging.FilePath)

	return nil
}
