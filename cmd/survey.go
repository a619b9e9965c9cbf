package cmd

import (
	"github.com/datapipes/etl/pipeline"
	"github.com/spf13/cobra"
)

var surveyCmd = &cobra.Command{
	Use:   "survey",
	Short: "Annual enterprise survey CSV",
}

func newSurveyRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Downloads the survey CSV and loads it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initializeConfigAndLogger()
			if err != nil {
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

			p, err := pipeline.NewSurvey(ctx, cfg, opts)
			if err != nil {
				return err
			}
			return runPipeline(ctx, p, log)
		},
	}
}

func init() {
	surveyCmd.AddCommand(newSurveyRunCmd())
}
