package cmd

import (
	"github.com/datapipes/etl/pipeline"
	"github.com/spf13/cobra"
)

var weatherCmd = &cobra.Command{
	Use:   "weather",
	Short: "Current weather per city from the OpenWeatherMap API",
}

func newWeatherRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Fetches the current weather of every configured city and loads it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initializeConfigAndLogger()
			if err != nil {
				return err
			}
			if err := cfg.ValidateWeather(); err != nil {
				return err
			}

			ctx := cmd.Context()
			opts, err := pipelineOptions(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer opts.Store.Close()

			p, err := pipeline.NewWeather(ctx, cfg, opts)
			if err != nil {
				return err
			}
			return runPipeline(ctx, p, log)
		},
	}
}

func init() {
	weatherCmd.AddCommand(newWeatherRunCmd())
}
