package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/risk-signal-service/internal/app"
	"github.com/kjstillabower/risk-signal-service/internal/service"
	"github.com/kjstillabower/risk-signal-service/internal/validation"
)

func newScoreCmd(c *cli) *cobra.Command {
	var lat, lon, place, at string
	var noHistory bool

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Assess risk for a point or place",
		Long: `Assess risk for a point or place using live signals and the configured history.

Examples:
  riskctl score
  riskctl score --lat 34.27717 --lon 133.20986 --at 2019-07-19T22:00:00+09:00
  riskctl score --place 上島町弓削 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			when := time.Now()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("%w: --at must be RFC 3339: %v", errUsage, err)
				}
				when = parsed
			}
			point := c.cfg.DefaultPoint
			if lat != "" || lon != "" {
				parsed, err := validation.ParseCoordinate(lat, lon)
				if err != nil {
					return fmt.Errorf("%w: %v", errUsage, err)
				}
				point = parsed
			}

			a, err := app.New(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if !noHistory {
				if _, err := a.LoadHistory(ctx); err != nil {
					c.logger.Warn("historical data not loaded", zap.Error(err))
				}
			}
			if place != "" {
				resolved, ok := a.Resolver.Resolve(ctx, place)
				if !ok {
					return fmt.Errorf("%w: %s", service.ErrPlaceNotFound, place)
				}
				point = resolved
			}

			report := a.Service.AssessAt(ctx, point, when)
			report.Place = place
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			renderReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().StringVar(&lat, "lat", "", "latitude in decimal degrees (default: configured point)")
	cmd.Flags().StringVar(&lon, "lon", "", "longitude in decimal degrees (default: configured point)")
	cmd.Flags().StringVarP(&place, "place", "p", "", "place name to geocode instead of lat/lon")
	cmd.Flags().StringVar(&at, "at", "", "assessment time, RFC 3339 (default: now)")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "score live signals only")
	cmd.MarkFlagsMutuallyExclusive("place", "lat")
	cmd.MarkFlagsMutuallyExclusive("place", "lon")
	return cmd
}

func renderReport(w io.Writer, r service.RiskReport) {
	summary := newTable(w, table.Row{"Field", "Value"})
	if r.Place != "" {
		summary.AppendRow(table.Row{"Place", r.Place})
	}
	summary.AppendRows([]table.Row{
		{"Coordinate", fmt.Sprintf("%.5f, %.5f", r.Coordinate.Lat, r.Coordinate.Lon)},
		{"Assessed at", r.AssessedAt.Format(time.RFC3339)},
		{"Score", fmt.Sprintf("%.1f", r.Score)},
		{"Level", r.Level.String()},
		{"Weather", fmt.Sprintf("%.1f°C %.0f%% %s (%s)", r.Signals.TemperatureC, r.Signals.HumidityPct, r.Signals.Condition, r.Signals.WeatherProvider)},
		{"Moon", moonCell(r.Signals)},
		{"Fallback", r.Fallback},
	})
	summary.Render()

	reasons := newTable(w, table.Row{"#", "Reason", "Delta"})
	for i, reason := range r.Reasons {
		reasons.AppendRow(table.Row{i + 1, reason.Label, fmt.Sprintf("%+.1f", reason.Delta)})
	}
	reasons.AppendFooter(table.Row{"", "Score", fmt.Sprintf("%.1f", r.Score)})
	reasons.Render()
}

func moonCell(s service.SignalView) string {
	if s.MoonAgeDays == nil {
		return fmt.Sprintf("%s (%s)", s.MoonPhase, s.MoonProvider)
	}
	return fmt.Sprintf("%s, age %.1f (%s)", s.MoonPhase, *s.MoonAgeDays, s.MoonProvider)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
