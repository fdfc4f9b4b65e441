package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"alphahistory/internal/models"
	"alphahistory/internal/query"
)

func newBarsCmd(app *App) *cobra.Command {
	var from, to, interval string

	cmd := &cobra.Command{
		Use:   "bars <symbol>",
		Short: "Fetch interval-aggregated underlying bars over a range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := models.Symbol(args[0])
			fromTs, err := parseAt(from)
			if err != nil {
				return err
			}
			toTs, err := parseAt(to)
			if err != nil {
				return err
			}

			bars, err := app.Engine.Query.Bars(cmd.Context(), query.BarsRequest{
				Symbol:   symbol,
				From:     fromTs,
				To:       toTs,
				Interval: query.Interval(interval),
			})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(bars)
			}

			table := NewTable(output, "TIME", "OHLC", "VOLUME")
			for _, b := range bars {
				table.AddRow(
					FormatDateTime(b.Ts.Time()),
					FormatOHLC(b.Open, b.High, b.Low, b.Close),
					fmt.Sprintf("%d", b.Volume),
				)
			}
			table.Render()
			output.Println()
			output.Dim("%d bars", len(bars))
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "RFC3339 range start (required)")
	cmd.Flags().StringVar(&to, "to", "", "RFC3339 range end (required)")
	cmd.Flags().StringVar(&interval, "interval", string(query.Interval1m), "aggregation interval: 1m, 5m, 15m, 1h, 1d")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")

	return cmd
}
