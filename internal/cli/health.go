package cli

import (
	"github.com/spf13/cobra"
)

// addHealthCommands adds the readiness/health-snapshot command.
func addHealthCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newHealthCmd(app))
}

func newHealthCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report pool and cache health",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			report := app.Engine.Health.Snapshot()

			if output.IsJSON() {
				return output.JSON(report)
			}

			lines := make([]string, len(report.Components))
			for i, c := range report.Components {
				lines[i] = c.Name + ": " + output.colorForStatus(string(c.Status), string(c.Status))
			}
			output.Box("overall: "+output.colorForStatus(string(report.Overall), string(report.Overall)), lines)

			table := NewTable(output, "COMPONENT", "STATUS", "MESSAGE")
			for _, c := range report.Components {
				table.AddRow(c.Name, output.colorForStatus(string(c.Status), string(c.Status)), c.Message)
			}
			table.Render()
			return nil
		},
	}
}
