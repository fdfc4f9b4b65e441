package cli

import (
	"github.com/spf13/cobra"

	"alphahistory/internal/models"
)

// addVerifyCommands adds integrity commands: per-partition file
// verification and combined session validation (spec.md §4.5, §6.4).
func addVerifyCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVerifyCmd(app))
	rootCmd.AddCommand(newValidateSessionCmd(app))
}

func newVerifyCmd(app *App) *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "verify <symbol>",
		Short: "Verify a partition's tracked files against its manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := models.Symbol(args[0])
			day, err := models.ParseSessionDate(session)
			if err != nil {
				return err
			}

			report, err := app.Engine.Query.VerifyPartition(symbol, day)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(report)
			}

			switch report.Status {
			case "VALID":
				output.Success("%s %s: %s (%d/%d files verified)", symbol, day, report.Status, report.VerifiedFiles, report.TotalFiles)
			case "METADATA_MISSING":
				output.Warning("%s %s: %s", symbol, day, report.Status)
			default:
				output.Error("%s %s: %s", symbol, day, report.Status)
			}
			for _, f := range report.MissingFiles {
				output.Printf("  missing:   %s\n", output.DimText(f))
			}
			for _, f := range report.CorruptedFiles {
				output.Printf("  corrupted: %s\n", output.DimText(f))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "session date, YYYY-MM-DD (required)")
	cmd.MarkFlagRequired("session")
	return cmd
}

func newValidateSessionCmd(app *App) *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "validate-session <symbol>",
		Short: "Validate a session's file integrity and minute-bar completeness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := models.Symbol(args[0])
			day, err := models.ParseSessionDate(session)
			if err != nil {
				return err
			}

			report, err := app.Engine.Query.ValidateSession(cmd.Context(), symbol, day)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(report)
			}

			switch report.Status {
			case "VALID":
				output.Success("%s %s: %s (minute-bar ratio %.2f)", symbol, day, report.Status, report.MinuteBarRatio)
			case "INCOMPLETE":
				output.Warning("%s %s: %s (minute-bar ratio %.2f)", symbol, day, report.Status, report.MinuteBarRatio)
			default:
				output.Error("%s %s: %s (minute-bar ratio %.2f)", symbol, day, report.Status, report.MinuteBarRatio)
			}
			output.Printf("  expected minute bars: %d\n", report.ExpectedMinuteBars)
			output.Printf("  actual minute bars:   %d\n", report.ActualMinuteBars)
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "session date, YYYY-MM-DD (required)")
	cmd.MarkFlagRequired("session")
	return cmd
}
