package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/datapipes/etl/config"
	"github.com/datapipes/etl/load"
	"github.com/datapipes/etl/report"
	"github.com/datapipes/etl/template"
	"github.com/datapipes/etl/utils"
	"github.com/spf13/cobra"
)

var reportFormat string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Read-only reports over the loaded tables",
}

// withReader opens the configured database for one report command.
func withReader(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, r *report.Reader, store load.Store, log *slog.Logger) error) error {
	cfg, log, err := initializeConfigAndLogger()
	if err != nil {
		return err
	}
	if err := cfg.ValidateDatabase(); err != nil {
		return err
	}

	ctx := cmd.Context()
	store, err := load.Open(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("error creating DB connection: %w", err)
	}
	defer store.Close()

	return fn(ctx, cfg, report.NewReader(store, log), store, log)
}

func printTable(w io.Writer, table *report.Table) error {
	switch reportFormat {
	case "csv":
		return table.WriteCSV(w)
	case "json":
		return json.NewEncoder(w).Encode(table)
	case "table", "":
		return table.Render(w)
	default:
		return fmt.Errorf("unknown format %q, expected table, csv or json", reportFormat)
	}
}

func newRankingCmd() *cobra.Command {
	var day string
	var hour int

	cmd := &cobra.Command{
		Use:   "ranking",
		Short: "Tracked companies by pageviews for one hour",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReader(cmd, func(ctx context.Context, _ *config.Config, r *report.Reader, _ load.Store, _ *slog.Logger) error {
				at, err := dumpHour(day, hour, utils.RealTimeProvider{})
				if err != nil {
					return err
				}
				table, err := r.PageviewRanking(ctx, at.Format("2006-01-02"), at.Hour())
				if err != nil {
					return err
				}
				return printTable(cmd.OutOrStdout(), table)
			})
		},
	}
	addHourFlags(cmd, &day, &hour)
	return cmd
}

func newLatestWeatherCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "weather",
		Short: "Latest reading of every city",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReader(cmd, func(ctx context.Context, _ *config.Config, r *report.Reader, _ load.Store, _ *slog.Logger) error {
				table, err := r.LatestWeather(ctx)
				if err != nil {
					return err
				}
				return printTable(cmd.OutOrStdout(), table)
			})
		},
	}
}

func newTrendCmd() *cobra.Command {
	var industry, variable string

	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Yearly total of one survey variable for one industry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReader(cmd, func(ctx context.Context, _ *config.Config, r *report.Reader, _ load.Store, _ *slog.Logger) error {
				table, err := r.SurveyTrend(ctx, industry, variable)
				if err != nil {
					return err
				}
				return printTable(cmd.OutOrStdout(), table)
			})
		},
	}
	cmd.Flags().StringVar(&industry, "industry", "", "Industry name")
	cmd.Flags().StringVar(&variable, "variable", "", "Variable name")
	cmd.MarkFlagRequired("industry")
	cmd.MarkFlagRequired("variable")
	return cmd
}

func newFiltersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "filters",
		Short: "Industries and variables available for the trend report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReader(cmd, func(ctx context.Context, _ *config.Config, r *report.Reader, _ load.Store, _ *slog.Logger) error {
				filters, err := r.SurveyFilters(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Industries:\n  %s\n", strings.Join(filters.Industries, "\n  "))
				fmt.Fprintf(out, "Variables:\n  %s\n", strings.Join(filters.Variables, "\n  "))
				return nil
			})
		},
	}
}

func newRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Latest pipeline runs from the run log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReader(cmd, func(ctx context.Context, _ *config.Config, r *report.Reader, _ load.Store, _ *slog.Logger) error {
				table, err := r.RecentRuns(ctx, limit)
				if err != nil {
					return err
				}
				return printTable(cmd.OutOrStdout(), table)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to show")
	return cmd
}

func newQueryCmd() *cobra.Command {
	var file, name string
	var params map[string]string

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Runs a read-only SQL template from a file or a built-in query",
		Long: `Runs a read-only SQL template from a file or one of the built-in queries.
Templates use the same helpers as the built-in reports: {{param .Name}} binds a
--param value and {{ident "table"}} quotes an identifier for the configured
database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReader(cmd, func(ctx context.Context, _ *config.Config, r *report.Reader, store load.Store, _ *slog.Logger) error {
				values := make(map[string]any, len(params))
				for k, v := range params {
					values[k] = v
				}

				var q template.Query
				var err error
				if file != "" {
					var text string
					if text, err = template.ReadSqlTemplate(file); err != nil {
						return err
					}
					q, err = template.RenderString(filepath.Base(file), text, store.Dialect(), values)
				} else {
					q, err = renderBuiltin(name, store.Dialect(), values)
				}
				if err != nil {
					return err
				}

				table, err := r.Query(ctx, q.SQL, q.Args...)
				if err != nil {
					return err
				}
				return printTable(cmd.OutOrStdout(), table)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Path to the SQL template")
	cmd.Flags().StringVar(&name, "name", "", "Name of a built-in query")
	cmd.Flags().StringToStringVar(&params, "param", nil, "Template parameters as name=value")
	cmd.MarkFlagsOneRequired("file", "name")
	cmd.MarkFlagsMutuallyExclusive("file", "name")
	return cmd
}

func renderBuiltin(name string, d template.Dialect, params map[string]any) (template.Query, error) {
	names, err := template.Names()
	if err != nil {
		return template.Query{}, err
	}
	if !slices.Contains(names, name) {
		return template.Query{}, fmt.Errorf("unknown query %q, available: %s", name, strings.Join(names, ", "))
	}
	return template.Render(name, d, params)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the reports as a JSON API for dashboards",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReader(cmd, func(ctx context.Context, cfg *config.Config, r *report.Reader, _ load.Store, log *slog.Logger) error {
				if err := cfg.ValidateReport(); err != nil {
					return err
				}
				return report.NewServer(r, log).ListenAndServe(ctx, cfg.Report.Addr)
			})
		},
	}
}

func init() {
	reportCmd.PersistentFlags().StringVar(&reportFormat, "format", "table", "Output format: table, csv or json")
	reportCmd.AddCommand(newRankingCmd())
	reportCmd.AddCommand(newLatestWeatherCmd())
	reportCmd.AddCommand(newTrendCmd())
	reportCmd.AddCommand(newFiltersCmd())
	reportCmd.AddCommand(newRunsCmd())
	reportCmd.AddCommand(newQueryCmd())
	reportCmd.AddCommand(newServeCmd())
}
