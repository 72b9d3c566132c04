package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/liutianyi617/weather-advisor/internal/app"
	"github.com/liutianyi617/weather-advisor/internal/config"
	"github.com/liutianyi617/weather-advisor/internal/models"
	"github.com/liutianyi617/weather-advisor/internal/observability"
)

// pipeline loads configuration and wires the shared components.
func pipeline(opts *rootOptions) (*app.Components, *config.Config, error) {
	cfg, err := config.LoadFromDir(opts.configDir)
	if err != nil {
		return nil, nil, err
	}
	logger := zap.NewNop()
	if opts.verbose {
		if logger, err = observability.NewLogger(); err != nil {
			return nil, nil, fmt.Errorf("logger: %w", err)
		}
	}
	return app.Build(cfg, logger), cfg, nil
}

func newLocationsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "locations",
		Short: "List the locations that can be queried",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := pipeline(opts)
			if err != nil {
				return err
			}
			defer c.Close()
			out := cmd.OutOrStdout()
			for _, loc := range c.Locations.List() {
				fmt.Fprintln(out, loc)
			}
			return nil
		},
	}
}

func newForecastCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "forecast <location>",
		Short: "Show the forecast summary and temperature table for a location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cfg, err := pipeline(opts)
			if err != nil {
				return err
			}
			defer c.Close()

			loc, err := c.Locations.Validate(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
			defer cancel()

			f, err := c.Dashboards.Forecast(ctx, loc)
			if err != nil {
				return describe(err, c.Dashboards.MissingCredentials())
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, f.Summary)
			fmt.Fprintln(out)
			return writeChartTable(out, f.Series)
		},
	}
}

func newAdviseCmd(opts *rootOptions) *cobra.Command {
	var showChart bool

	cmd := &cobra.Command{
		Use:   "advise <location>",
		Short: "Run the full pipeline and print the weather advisory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cfg, err := pipeline(opts)
			if err != nil {
				return err
			}
			defer c.Close()

			loc, err := c.Locations.Validate(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
			defer cancel()

			d, err := c.Dashboards.Dashboard(ctx, loc)
			if err != nil {
				return describe(err, c.Dashboards.MissingCredentials())
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, d.Advisory.Text)
			if showChart {
				fmt.Fprintln(out)
				return writeChartTable(out, d.Forecast.Series)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showChart, "chart", false, "also print the temperature table")
	return cmd
}

// writeChartTable prints one row per time slot with MinT and MaxT side by side.
func writeChartTable(out io.Writer, series []models.ChartPoint) error {
	if len(series) == 0 {
		fmt.Fprintln(out, "No temperature data.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "START\tMINT\tMAXT")
	for i := 0; i+1 < len(series); i += 2 {
		minT, maxT := series[i], series[i+1]
		fmt.Fprintf(w, "%s\t%d\t%d\n", minT.Time.Format("01-02 15:04"), minT.Value, maxT.Value)
	}
	return w.Flush()
}

func describe(err error, missing []string) error {
	switch {
	case errors.Is(err, models.ErrConfiguration) && len(missing) > 0:
		return fmt.Errorf("API key not configured (set %s): %w", strings.Join(missing, ", "), err)
	case errors.Is(err, models.ErrUpstream):
		return fmt.Errorf("weather provider unavailable: %w", err)
	case errors.Is(err, models.ErrExtraction):
		return fmt.Errorf("forecast data incomplete: %w", err)
	}
	return err
}
