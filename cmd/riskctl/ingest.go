package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/kjstillabower/risk-signal-service/internal/ingest"
	"github.com/kjstillabower/risk-signal-service/internal/models"
	"github.com/kjstillabower/risk-signal-service/internal/service"
)

type sourceView struct {
	Name     string `json:"name"`
	Encoding string `json:"encoding,omitempty"`
	Rows     int    `json:"rows"`
	Kept     int    `json:"kept"`
	Error    string `json:"error,omitempty"`
}

type ingestView struct {
	Sources []sourceView           `json:"sources"`
	Summary service.HistorySummary `json:"summary"`
}

func newIngestCmd(c *cli) *cobra.Command {
	var year int

	cmd := &cobra.Command{
		Use:   "ingest [glob]",
		Short: "Normalize historical exports and summarize them",
		Long: `Read every file matching glob (default: the configured history glob),
detect its encoding and columns, and print what was kept for the target year.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			glob := c.cfg.HistoryGlob
			if len(args) == 1 {
				glob = args[0]
			}
			if !cmd.Flags().Changed("year") {
				year = c.cfg.TargetYear
			}

			sources, err := ingest.Discover(glob)
			if err != nil {
				return fmt.Errorf("%w: %v", errUsage, err)
			}
			ds, report := ingest.NewAggregator(year, c.logger).Aggregate(cmd.Context(), sources)
			view := newIngestView(ds, report)
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), view)
			}
			renderIngest(cmd.OutOrStdout(), glob, view)
			return nil
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "target year (default: configured year)")
	return cmd
}

func newIngestView(ds *models.Dataset, report ingest.AggregateReport) ingestView {
	view := ingestView{Sources: []sourceView{}, Summary: service.Summarize(ds)}
	for _, s := range report.Sources {
		sv := sourceView{Name: s.Name, Encoding: s.Encoding, Rows: s.Rows, Kept: s.Kept}
		if s.Err != nil {
			sv.Error = s.Err.Error()
		}
		view.Sources = append(view.Sources, sv)
	}
	return view
}

func renderIngest(w io.Writer, glob string, v ingestView) {
	if len(v.Sources) == 0 {
		fmt.Fprintf(w, "no files match %s\n", glob)
		return
	}
	sources := newTable(w, table.Row{"Source", "Encoding", "Rows", "Kept", "Status"})
	for _, s := range v.Sources {
		status := "ok"
		if s.Error != "" {
			status = s.Error
		}
		sources.AppendRow(table.Row{s.Name, s.Encoding, s.Rows, s.Kept, status})
	}
	sources.AppendFooter(table.Row{"Total", "", "", v.Summary.Records, ""})
	sources.Render()

	types := newTable(w, table.Row{"Incident type", "Records"})
	for _, tc := range v.Summary.Types {
		label := tc.Type
		if label == "" {
			label = "(unknown)"
		}
		types.AppendRow(table.Row{label, tc.Count})
	}
	types.Render()
}
