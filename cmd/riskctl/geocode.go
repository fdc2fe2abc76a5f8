package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/kjstillabower/risk-signal-service/internal/app"
	"github.com/kjstillabower/risk-signal-service/internal/geocode"
	"github.com/kjstillabower/risk-signal-service/internal/models"
	"github.com/kjstillabower/risk-signal-service/internal/service"
)

func newGeocodeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "geocode <place>",
		Short: "Resolve a place name through the geocode cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			coord, ok := a.Resolver.Resolve(cmd.Context(), args[0])
			if !ok {
				return fmt.Errorf("%w: %s", service.ErrPlaceNotFound, args[0])
			}
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), struct {
					Query string `json:"query"`
					Key   string `json:"key"`
					models.Coordinate
				}{args[0], geocode.Key(args[0]), coord})
			}
			t := newTable(cmd.OutOrStdout(), table.Row{"Query", "Lat", "Lon"})
			t.AppendRow(table.Row{args[0], coord.Lat, coord.Lon})
			t.Render()
			return nil
		},
	}
}
