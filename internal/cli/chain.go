package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"alphahistory/internal/models"
	"alphahistory/internal/query"
)

// addQueryCommands adds the "query" command group: chain snapshot,
// expiries, underlying bars, and completeness score (spec.md §6.4).
func addQueryCommands(rootCmd *cobra.Command, app *App) {
	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Read-path queries against stored partitions",
	}
	queryCmd.AddCommand(newChainCmd(app))
	queryCmd.AddCommand(newExpiriesCmd(app))
	queryCmd.AddCommand(newBarsCmd(app))
	queryCmd.AddCommand(newScoreCmd(app))
	rootCmd.AddCommand(queryCmd)
}

func parseAt(s string) (models.InstantUtc, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return models.InstantUtc{}, fmt.Errorf("parsing --at %q (want RFC3339, e.g. 2024-01-15T15:00:00Z): %w", s, err)
	}
	return models.NewInstantUtc(t), nil
}

func newChainCmd(app *App) *cobra.Command {
	var dteMin, dteMax int
	var moneyness float64
	var at string

	cmd := &cobra.Command{
		Use:   "chain <symbol>",
		Short: "Snapshot an option chain at a point in time",
		Long:  "Reconstruct the retained option chain for a symbol at the latest observation at or before --at.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := models.Symbol(args[0])
			ts, err := parseAt(at)
			if err != nil {
				return err
			}

			view, err := app.Engine.Query.SnapshotChain(cmd.Context(), query.ChainRequest{
				Symbol:    symbol,
				At:        ts,
				DTEMin:    dteMin,
				DTEMax:    dteMax,
				Moneyness: moneyness,
			})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(view)
			}
			return renderChainView(output, view, symbol, ts)
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "RFC3339 instant to snapshot at (required)")
	cmd.Flags().IntVar(&dteMin, "dte-min", query.DefaultDTEMin, "minimum days-to-expiry")
	cmd.Flags().IntVar(&dteMax, "dte-max", query.DefaultDTEMax, "maximum days-to-expiry")
	cmd.Flags().Float64Var(&moneyness, "moneyness", query.DefaultMoneyness, "moneyness half-width around spot")
	cmd.MarkFlagRequired("at")

	return cmd
}

func renderChainView(output *Output, view query.ChainView, symbol models.Symbol, ts models.InstantUtc) error {
	output.Printf("%s %s %s\n", output.BoldText(string(symbol)), FormatDate(ts.Time()), FormatTime(ts.Time()))
	if view.Hint != query.HintNone {
		output.Warning("hint: %s", view.Hint)
	}
	if view.Spot != nil {
		output.Printf("Spot: %s\n", view.Spot.String())
	}
	output.Println()

	table := NewTable(output, "EXPIRY", "STRIKE", "RIGHT", "BID / ASK", "DTE", "MONEYNESS")
	for _, row := range view.Rows {
		quote := FormatBidAsk(row.Bid, row.Ask)
		table.AddRow(
			row.Expiry.String(),
			FormatPrice(row.Strike),
			string(row.Right),
			quote,
			fmt.Sprintf("%d", row.DTE),
			row.Moneyness.String(),
		)
	}
	table.Render()
	output.Println()
	output.Dim("%d rows", len(view.Rows))
	return nil
}

func newExpiriesCmd(app *App) *cobra.Command {
	var at string
	var dteMax int

	cmd := &cobra.Command{
		Use:   "expiries <symbol>",
		Short: "List retained expiries within a DTE window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := models.Symbol(args[0])
			ts, err := parseAt(at)
			if err != nil {
				return err
			}
			exps, err := app.Engine.Query.Expiries(cmd.Context(), symbol, ts, dteMax)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(exps)
			}
			for _, e := range exps {
				output.Println(output.Cyan(FormatDate(e.Time())))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "RFC3339 instant to resolve expiries as-of (required)")
	cmd.Flags().IntVar(&dteMax, "dte-max", query.DefaultDTEMax, "maximum days-to-expiry")
	cmd.MarkFlagRequired("at")
	return cmd
}

func newScoreCmd(app *App) *cobra.Command {
	var dteMin, dteMax int
	var moneyness float64
	var at string

	cmd := &cobra.Command{
		Use:   "score <symbol>",
		Short: "Compute the completeness score for a chain snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := models.Symbol(args[0])
			ts, err := parseAt(at)
			if err != nil {
				return err
			}
			view, err := app.Engine.Query.SnapshotChain(cmd.Context(), query.ChainRequest{
				Symbol:    symbol,
				At:        ts,
				DTEMin:    dteMin,
				DTEMax:    dteMax,
				Moneyness: moneyness,
			})
			if err != nil {
				return err
			}
			report := app.Engine.Query.Score(view)
			if output.IsJSON() {
				return output.JSON(report)
			}
			output.Printf("Overall: %s\n", FormatScore(report.Overall))
			for _, b := range report.Buckets {
				output.Printf("  DTE %-3d %s\n", b.DTE, FormatScore(b.Score))
			}
			for _, h := range report.Hints {
				output.Dim("  hint: %s", h)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "RFC3339 instant to score (required)")
	cmd.Flags().IntVar(&dteMin, "dte-min", query.DefaultDTEMin, "minimum days-to-expiry")
	cmd.Flags().IntVar(&dteMax, "dte-max", query.DefaultDTEMax, "maximum days-to-expiry")
	cmd.Flags().Float64Var(&moneyness, "moneyness", query.DefaultMoneyness, "moneyness half-width around spot")
	cmd.MarkFlagRequired("at")
	return cmd
}
