package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/datapipes/etl/pipeline"
	"github.com/datapipes/etl/utils"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
)

func newAllCmd() *cobra.Command {
	var maxGoroutines int

	cmd := &cobra.Command{
		Use:   "all",
		Short: "Runs the weather, pageviews and survey pipelines side by side",
		Long: `Runs the weather, pageviews and survey pipelines side by side, each as its
own run with its own transaction. Pageviews load the latest published hour.
A failing pipeline does not stop the others; all failures are reported.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxGoroutines < 1 {
				return fmt.Errorf("--parallel must be at least 1, got %d", maxGoroutines)
			}
			cfg, log, err := initializeConfigAndLogger()
			if err != nil {
				return err
			}
			if err := cfg.ValidateWeather(); err != nil {
				return err
			}
			if err := cfg.ValidatePageviews(); err != nil {
				return err
			}
			if err := cfg.ValidateSurvey(); err != nil {
				return err
			}

			ctx := cmd.Context()
			opts, err := pipelineOptions(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer opts.Store.Close()

			hour, err := dumpHour("", 0, utils.RealTimeProvider{})
			if err != nil {
				return err
			}

			// Built one after the other: creating tables concurrently is not
			// safe on every database.
			weather, err := pipeline.NewWeather(ctx, cfg, opts)
			if err != nil {
				return err
			}
			pageviews, err := pipeline.NewPageviews(ctx, cfg, hour, opts)
			if err != nil {
				return err
			}
			survey, err := pipeline.NewSurvey(ctx, cfg, opts)
			if err != nil {
				return err
			}

			started := time.Now()
			p := pool.New().WithMaxGoroutines(maxGoroutines).WithErrors().WithContext(ctx)
			for _, pl := range []*pipeline.Pipeline{weather, pageviews, survey} {
				p.Go(func(ctx context.Context) error {
					if err := runPipeline(ctx, pl, log); err != nil {
						return fmt.Errorf("%s: %w", pl.Name, err)
					}
					return nil
				})
			}
			if err := p.Wait(); err != nil {
				return err
			}

			log.Info(fmt.Sprintf("All pipelines completed in %s", time.Since(started).Round(time.Millisecond)))
			return nil
		},
	}
	cmd.Flags().IntVar(&maxGoroutines, "parallel", 3, "Maximum number of pipelines running at once")
	return cmd
}
