package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/risk-signal-service/internal/config"
	"github.com/kjstillabower/risk-signal-service/internal/observability"
)

// cli carries the collaborators shared by every subcommand.
type cli struct {
	loadConfig func() (*config.Config, error)
	newLogger  func(verbose bool) (*zap.Logger, error)

	verbose bool
	asJSON  bool

	cfg    *config.Config
	logger *zap.Logger
}

func defaultCLI() *cli {
	return &cli{
		loadConfig: config.Load,
		newLogger: func(verbose bool) (*zap.Logger, error) {
			if !verbose {
				return zap.NewNop(), nil
			}
			return observability.NewLogger()
		},
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "riskctl",
		Short:         "Situational risk scoring from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := c.newLogger(c.verbose)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			c.cfg, c.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log to stderr")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print JSON instead of a table")

	root.AddCommand(newScoreCmd(c))
	root.AddCommand(newIngestCmd(c))
	root.AddCommand(newGeocodeCmd(c))
	return root
}

var errUsage = errors.New("invalid arguments")

func newTable(w io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(header)
	return t
}
