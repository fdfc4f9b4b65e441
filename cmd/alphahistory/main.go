// Command alphahistory is the CLI entrypoint: it loads configuration,
// builds the structured logger, and runs the root cobra command.
package main

import (
	"fmt"
	"os"

	"alphahistory/internal/cli"
	"alphahistory/internal/config"
	"alphahistory/internal/obslog"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(config.DefaultConfigDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		return 1
	}

	logCfg := obslog.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Console = cfg.Logging.Console
	logCfg.File = cfg.Logging.File
	logCfg.FilePath = cfg.Logging.FilePath
	logger := obslog.NewWithConfig(logCfg)

	rootCmd := cli.NewRootCmd(cfg, logger)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return 0
}
