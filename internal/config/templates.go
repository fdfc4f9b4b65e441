// Package config template: the on-disk config.toml written on first run,
// adapted from the teacher's internal/config/templates.go createTemplateConfig
// pattern to this engine's storage/pool/cache/retry/logging sections.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# alphahistory engine configuration

[storage]
# Root of the partitioned historical data tree.
root = "%s"
# Symbols this engine serves (0-45 DTE equity-index options universe).
vocabulary = [%s]

[pool]
# Maximum concurrently open storage handles.
size = %d
idle_timeout = "%s"
sweep_interval = "%s"

[cache]
chain_entries = %d
chain_ttl = "%s"
bar_entries = %d
bar_ttl = "%s"
spot_entries = %d
spot_ttl = "%s"

[retry]
# Write-path retry policy for transient storage-busy conditions.
max_attempts = %d
initial_delay = "%s"
max_delay = "%s"
backoff_factor = %.1f

[logging]
level = "%s"
console = %t
file = %t
file_path = "%s"
`

func writeTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	d := Default()
	vocab := ""
	for i, sym := range d.Storage.Vocabulary {
		if i > 0 {
			vocab += ", "
		}
		vocab += fmt.Sprintf("%q", sym)
	}

	rendered := fmt.Sprintf(configTemplate,
		d.Storage.Root, vocab,
		d.Pool.Size, d.Pool.IdleTimeout, d.Pool.SweepInterval,
		d.Cache.ChainEntries, d.Cache.ChainTTL, d.Cache.BarEntries, d.Cache.BarTTL, d.Cache.SpotEntries, d.Cache.SpotTTL,
		d.Retry.MaxAttempts, d.Retry.InitialDelay, d.Retry.MaxDelay, d.Retry.BackoffFactor,
		d.Logging.Level, d.Logging.Console, d.Logging.File, d.Logging.FilePath,
	)

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(rendered), 0o644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}
