package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"consensus-trader/internal/cache"
	apperrors "consensus-trader/internal/errors"
)

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show system status",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			calendar := cache.NewCalendar(app.Config.Market.Timezone,
				app.Config.Market.OpenHour, app.Config.Market.OpenMin,
				app.Config.Market.CloseHour, app.Config.Market.CloseMin)
			marketOpen := calendar.IsOpen()

			halted := false
			haltReason := ""
			if app.Store != nil {
				var err error
				halted, haltReason, err = app.Store.Halted(cmd.Context())
				if err != nil {
					return err
				}
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"market_open": marketOpen,
					"halted":      halted,
					"halt_reason": haltReason,
					"symbols":     app.Config.Scheduler.Symbols,
				})
			}

			output.Bold("Consensus Trader")
			if marketOpen {
				output.Printf("  Market:   %s\n", output.ColoredString(ColorGreen, "OPEN"))
			} else {
				output.Printf("  Market:   %s\n", output.ColoredString(ColorRed, "CLOSED"))
			}
			if halted {
				output.Printf("  Trading:  %s (%s)\n", output.ColoredString(ColorRed, "HALTED"), haltReason)
			} else {
				output.Printf("  Trading:  %s\n", output.ColoredString(ColorGreen, "ENABLED"))
			}
			output.Printf("  Symbols:  %v\n", app.Config.Scheduler.Symbols)
			output.Printf("  Interval: %s\n", app.Config.Scheduler.Interval)
			return nil
		},
	}
}

func newSignalsCmd(app *App) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "signals [symbol]",
		Short: "List recent consensus signals",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return apperrors.Wrap(apperrors.ErrDataNotFound, "signal store unavailable")
			}
			symbol := ""
			if len(args) > 0 {
				symbol = args[0]
			}

			signals, err := app.Store.RecentSignals(cmd.Context(), symbol, limit)
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(signals)
			}
			if len(signals) == 0 {
				output.Dim("No signals recorded")
				return nil
			}

			table := NewTable(output, "TIME", "SYMBOL", "DIRECTION", "CONF", "NET", "TRADABLE", "REASON")
			for _, s := range signals {
				tradable := "no"
				if s.Tradable {
					tradable = output.ColoredString(ColorGreen, "yes")
				}
				table.AddRow(
					s.GeneratedAt.Format("01-02 15:04:05"),
					s.Symbol,
					output.Direction(string(s.Direction)),
					fmt.Sprintf("%.1f", s.Confidence),
					fmt.Sprintf("%+.1f", s.NetScore),
					tradable,
					s.Reason,
				)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum signals to list")
	return cmd
}

func newSourcesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "Show source weights and accuracy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return apperrors.Wrap(apperrors.ErrDataNotFound, "signal store unavailable")
			}

			stats, err := app.Store.SourceStats(cmd.Context())
			if err != nil {
				return err
			}
			weights, err := app.Store.LoadWeights(cmd.Context())
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"stats":   stats,
					"weights": weights,
				})
			}

			if len(stats) == 0 && len(weights) == 0 {
				output.Dim("No source history recorded")
				return nil
			}

			byID := make(map[string]int)
			table := NewTable(output, "SOURCE", "WEIGHT", "OUTCOMES", "HIT RATE")
			for i, stat := range stats {
				byID[stat.SourceID] = i
				table.AddRow(
					stat.SourceID,
					fmt.Sprintf("%.3f", weights[stat.SourceID]),
					strconv.Itoa(stat.Total),
					fmt.Sprintf("%.0f%%", stat.HitRate()*100),
				)
			}
			for id, w := range weights {
				if _, seen := byID[id]; !seen {
					table.AddRow(id, fmt.Sprintf("%.3f", w), "0", "-")
				}
			}
			table.Render()
			return nil
		},
	}
}

func newRiskCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "risk",
		Short: "Risk limits and trading halt control",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show risk limits and halt state",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			halted := false
			reason := ""
			if app.Store != nil {
				var err error
				halted, reason, err = app.Store.Halted(cmd.Context())
				if err != nil {
					return err
				}
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"max_drawdown_pct":   app.Config.Risk.MaxDrawdownPct,
					"max_daily_loss_pct": app.Config.Risk.MaxDailyLossPct,
					"halted":             halted,
					"halt_reason":        reason,
				})
			}

			output.Bold("Risk Limits")
			output.Printf("  Max drawdown:   %.2f%%\n", app.Config.Risk.MaxDrawdownPct*100)
			output.Printf("  Max daily loss: %.2f%%\n", app.Config.Risk.MaxDailyLossPct*100)
			output.Printf("  Warning at:     %.0f%% of limit\n", app.Config.Risk.WarningRatio*100)
			output.Printf("  Critical at:    %.0f%% of limit\n", app.Config.Risk.CriticalRatio*100)
			if halted {
				output.Warning("Trading is HALTED: %s", reason)
			} else {
				output.Success("Trading is enabled")
			}
			return nil
		},
	})

	var haltReason string
	haltCmd := &cobra.Command{
		Use:   "halt",
		Short: "Halt trading (effective at loop startup)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return apperrors.Wrap(apperrors.ErrDataNotFound, "signal store unavailable")
			}
			if err := app.Store.SetHalted(cmd.Context(), true, haltReason); err != nil {
				return err
			}
			NewOutput(cmd).Warning("Trading halted: %s", haltReason)
			return nil
		},
	}
	haltCmd.Flags().StringVar(&haltReason, "reason", "manual halt", "reason recorded with the halt")
	cmd.AddCommand(haltCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "resume",
		Short: "Clear the trading halt",
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return apperrors.Wrap(apperrors.ErrDataNotFound, "signal store unavailable")
			}
			if err := app.Store.SetHalted(cmd.Context(), false, "manual resume"); err != nil {
				return err
			}
			NewOutput(cmd).Success("Trading halt cleared")
			return nil
		},
	})

	return cmd
}
