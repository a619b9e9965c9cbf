package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/datapipes/etl/extract"
	"github.com/datapipes/etl/pipeline"
	"github.com/datapipes/etl/utils"
	"github.com/spf13/cobra"
)

// dumpLag is how long after the end of an hour its dump is usually published.
const dumpLag = 2 * time.Hour

var pageviewsCmd = &cobra.Command{
	Use:   "pageviews",
	Short: "Hourly Wikipedia pageviews of the tracked companies",
}

// dumpHour resolves --day and --hour. Without --day the most recent hour that
// should already be published is used.
func dumpHour(day string, hour int, now utils.TimeProvider) (time.Time, error) {
	if day == "" {
		return now.Now().UTC().Add(-dumpLag).Truncate(time.Hour), nil
	}
	if hour < 0 || hour > 23 {
		return time.Time{}, fmt.Errorf("hour must be between 0 and 23, got %d", hour)
	}
	d, err := time.Parse("2006-01-02", day)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q, expected YYYY-MM-DD: %w", day, err)
	}
	return d.Add(time.Duration(hour) * time.Hour), nil
}

func addHourFlags(cmd *cobra.Command, day *string, hour *int) {
	cmd.Flags().StringVar(day, "day", "", "Day of the dump in UTC (YYYY-MM-DD); defaults to the latest published hour")
	cmd.Flags().IntVar(hour, "hour", 0, "Hour of the dump in UTC (0-23), used with --day")
}

func newPageviewsRunCmd() *cobra.Command {
	var day string
	var hour int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Loads the tracked pages of one hourly dump",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initializeConfigAndLogger()
			if err != nil {
				return err
			}
			if err := cfg.ValidatePageviews(); err != nil {
				return err
			}
			at, err := dumpHour(day, hour, utils.RealTimeProvider{})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			opts, err := pipelineOptions(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer opts.Store.Close()

			p, err := pipeline.NewPageviews(ctx, cfg, at, opts)
			if err != nil {
				return err
			}
			return runPipeline(ctx, p, log)
		},
	}
	addHourFlags(cmd, &day, &hour)
	return cmd
}

func newPageviewsDownloadCmd() *cobra.Command {
	var day string
	var hour int

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Downloads one hourly dump into the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initializeConfigAndLogger()
			if err != nil {
				return err
			}
			if err := cfg.ValidatePageviewsSource(); err != nil {
				return err
			}
			at, err := dumpHour(day, hour, utils.RealTimeProvider{})
			if err != nil {
				return err
			}

			client := extract.NewClient(cfg.Extract, log)
			path, err := client.DownloadDump(cmd.Context(), extract.DumpURL(cfg.Pageviews.BaseURL, at), cfg.Pageviews.DataDir)
			if err != nil {
				return fmt.Errorf("error downloading dump: %w", err)
			}
			log.Info(fmt.Sprintf("Dump saved to %s", path))
			return nil
		},
	}
	addHourFlags(cmd, &day, &hour)
	return cmd
}

func newPageviewsAvailableCmd() *cobra.Command {
	var month string

	cmd := &cobra.Command{
		Use:   "available",
		Short: "Lists the dumps published for a month",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initializeConfigAndLogger()
			if err != nil {
				return err
			}
			if err := cfg.ValidatePageviewsSource(); err != nil {
				return err
			}

			at := time.Now().UTC()
			if month != "" {
				if at, err = time.Parse("2006-01", month); err != nil {
					return fmt.Errorf("invalid month %q, expected YYYY-MM: %w", month, err)
				}
			}

			client := extract.NewClient(cfg.Extract, log)
			dumps, err := client.ListDumps(cmd.Context(), extract.MonthIndexURL(cfg.Pageviews.BaseURL, at))
			if err != nil {
				return err
			}

			latest, ok := extract.LatestDump(dumps)
			if !ok {
				return errors.New("no dumps published for this month yet")
			}
			for _, d := range dumps {
				fmt.Fprintln(cmd.OutOrStdout(), d.Name)
			}
			log.Info(fmt.Sprintf("%d dumps available, latest is %s", len(dumps), latest.Name),
				"day", latest.Hour.Format("2006-01-02"), "hour", latest.Hour.Hour())
			return nil
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "Month to list (YYYY-MM); defaults to the current month")
	return cmd
}

func init() {
	pageviewsCmd.AddCommand(newPageviewsRunCmd())
	pageviewsCmd.AddCommand(newPageviewsDownloadCmd())
	pageviewsCmd.AddCommand(newPageviewsAvailableCmd())
}
