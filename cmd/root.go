package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"github.com/datapipes/etl/config"
	"github.com/datapipes/etl/load"
	"github.com/datapipes/etl/logger"
	"github.com/datapipes/etl/metrics"
	"github.com/datapipes/etl/metrics/datadog"
	"github.com/datapipes/etl/pipeline"
	"github.com/datapipes/etl/utils"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "etl",
	Short: "etl cli for the weather, pageviews and survey pipelines",
}

// Execute runs the CLI. Interrupts cancel the command context so running
// fetches and the report server stop cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(weatherCmd)
	rootCmd.AddCommand(pageviewsCmd)
	rootCmd.AddCommand(surveyCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(newSchemaCmd())
	rootCmd.AddCommand(newAllCmd())
}

func isRunningOnGitHubActions() bool {
	return os.Getenv("GITHUB_ACTIONS") == "true"
}

func initializeConfigAndLogger() (*config.Config, *slog.Logger, error) {
	log := logger.NewLogger()
	if !isRunningOnGitHubActions() {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.Error("Error loading .env file")
			return nil, nil, err
		}
	}

	// 1. Open the base configuration file
	basePath, err := utils.FindFile("config.base.yaml")
	if err != nil {
		log.Error(err.Error())
		return nil, nil, err
	}
	baseConfigFile, err := os.Open(basePath)
	if err != nil {
		log.Error(fmt.Sprintf("Error opening base config file: %v", err))
		return nil, nil, err
	}
	defer baseConfigFile.Close()

	// 2. Prepare environment-specific config reader (if needed)
	env := os.Getenv("APP_ENV")
	envConfig, closeEnv, err := openEnvConfig(env, log)
	if err != nil {
		return nil, nil, err
	}
	defer closeEnv()

	// 3. Create the config
	cfg, err := config.NewConfig(baseConfigFile, envConfig, env)
	if err != nil {
		log.Error(fmt.Sprintf("Error reading config: %v", err))
		return nil, nil, err
	}

	// 4. Rebuild the logger with the configured level and format
	log = logger.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)

	return cfg, log, nil
}

// openEnvConfig opens config.$APP_ENV.yaml. A missing file is not an error
// but is logged, so a mistyped APP_ENV does not go unnoticed.
func openEnvConfig(env string, log *slog.Logger) (io.Reader, func(), error) {
	noop := func() {}
	if env == "" {
		return nil, noop, nil
	}

	name := fmt.Sprintf("config.%s.yaml", env)
	envPath, err := utils.FindFile(name)
	if err != nil {
		log.Warn(fmt.Sprintf("No %s found, using base configuration only", name), "app_env", env)
		return nil, noop, nil
	}

	envConfigFile, err := os.Open(envPath)
	if err != nil {
		log.Error(fmt.Sprintf("Error opening environment config file: %v", err))
		return nil, noop, err
	}
	return envConfigFile, func() { envConfigFile.Close() }, nil
}

// pipelineOptions opens the store and the metrics recorder the pipelines share.
// The caller closes the store.
func pipelineOptions(ctx context.Context, cfg *config.Config, log *slog.Logger) (pipeline.Options, error) {
	store, err := load.Open(ctx, cfg.Database, log)
	if err != nil {
		return pipeline.Options{}, fmt.Errorf("error creating DB connection: %w", err)
	}

	return pipeline.Options{
		Store:   store,
		Logger:  log,
		Metrics: newRecorder(cfg),
	}, nil
}

func newRecorder(cfg *config.Config) metrics.Recorder {
	if !cfg.Metrics.Enabled {
		return metrics.Noop{}
	}
	return datadog.New(cfg.Metrics, cfg.Env)
}

func runPipeline(ctx context.Context, p *pipeline.Pipeline, log *slog.Logger) error {
	summary, err := p.Run(ctx)
	if err != nil {
		return err
	}
	log.Info(fmt.Sprintf("Batch job completed without errors. Fetched %d, skipped %d, inserted %d, already present %d",
		summary.Fetched, summary.Skipped, summary.FactsInserted, summary.FactsSkipped),
		"run_id", summary.RunID.String(), "pipeline", p.Name)
	return nil
}
