package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/datapipes/etl/extract"
	"github.com/datapipes/etl/load"
	"github.com/datapipes/etl/metrics"
	"github.com/datapipes/etl/transform"
	"github.com/datapipes/etl/utils"
	"github.com/google/uuid"
)

// Summary describes one run. The embedded UpsertSummary is zero when nothing
// was loaded.
type Summary struct {
	RunID   uuid.UUID
	Fetched int
	Skipped int
	load.UpsertSummary
}

// Pipeline runs one fetch, normalize and upsert pass. The three pipelines
// differ only in the parts they are built from.
type Pipeline struct {
	Name       string
	Fetcher    extract.Fetcher
	Normalizer *transform.Normalizer
	Upserter   *load.Upserter
	BatchKey   load.BatchKey
	Logger     *slog.Logger
	Metrics    metrics.Recorder
	RunLog     *load.RunLog

	timeProvider utils.TimeProvider
}

// Run executes the pipeline once. Records that fail normalization are logged
// and counted as skipped; fetch and upsert failures abort the run and are
// returned unchanged so callers can use errors.As on them.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	summary := Summary{RunID: uuid.New()}
	logger := p.Logger.With("run_id", summary.RunID.String(), "pipeline", p.Name)
	started := p.now()

	logger.Info(fmt.Sprintf("Starting %s pipeline", p.Name), "batch", p.BatchKey.String())
	err := p.run(ctx, logger, &summary)
	p.finish(ctx, logger, summary, started, err)

	return summary, err
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, summary *Summary) error {
	raws, err := p.Fetcher.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("error fetching %s data: %w", p.Name, err)
	}
	summary.Fetched = len(raws)

	records, failures := p.Normalizer.NormalizeAll(raws)
	for _, f := range failures {
		logger.Warn("Skipping record", "record", f.Record, "field", f.Field, "error", f.Err)
	}
	summary.Skipped = len(failures)

	if len(records) == 0 {
		logger.Warn("No valid records to load", "fetched", summary.Fetched, "skipped", summary.Skipped)
		return nil
	}

	result, err := p.Upserter.Upsert(ctx, records, p.BatchKey)
	if err != nil {
		return fmt.Errorf("error loading %s batch: %w", p.Name, err)
	}
	summary.UpsertSummary = result

	return nil
}

// finish reports the run. Neither the metrics backend nor the run log can fail
// a run that already happened, so their errors are only logged.
func (p *Pipeline) finish(ctx context.Context, logger *slog.Logger, summary Summary, started time.Time, runErr error) {
	status := load.RunSucceeded
	if runErr != nil {
		status = load.RunFailed
		logger.Error(fmt.Sprintf("%s pipeline failed", p.Name), "error", runErr)
	} else {
		logger.Info(fmt.Sprintf("%s pipeline finished", p.Name),
			"fetched", summary.Fetched,
			"skipped", summary.Skipped,
			"dimensions_created", summary.DimensionsCreated,
			"facts_inserted", summary.FactsInserted,
			"facts_skipped", summary.FactsSkipped,
		)
	}

	if p.Metrics != nil {
		err := p.Metrics.RecordRun(ctx, metrics.Run{
			Pipeline:          p.Name,
			Status:            status,
			Fetched:           summary.Fetched,
			Skipped:           summary.Skipped,
			DimensionsCreated: summary.DimensionsCreated,
			FactsInserted:     summary.FactsInserted,
			FactsSkipped:      summary.FactsSkipped,
		})
		if err != nil {
			logger.Warn("Error recording run metrics", "error", err)
		}
	}

	if p.RunLog != nil {
		err := p.RunLog.Record(ctx, load.RunRecord{
			RunID:      summary.RunID,
			Pipeline:   p.Name,
			StartedAt:  started,
			FinishedAt: p.now(),
			Fetched:    summary.Fetched,
			Skipped:    summary.Skipped,
			Summary:    summary.UpsertSummary,
			Err:        runErr,
		})
		if err != nil {
			logger.Warn("Error writing run log", "error", err)
		}
	}
}

func (p *Pipeline) now() time.Time {
	if p.timeProvider == nil {
		return time.Now()
	}
	return p.timeProvider.Now()
}

// Options are the collaborators shared by every pipeline constructor.
type Options struct {
	Store        load.Store
	Logger       *slog.Logger
	Metrics      metrics.Recorder
	TimeProvider utils.TimeProvider
}

// newPipeline wires the mapping and schema registered under name and makes
// sure the tables exist before anything is loaded.
func newPipeline(ctx context.Context, name string, fetcher extract.Fetcher, batchKey load.BatchKey, opts Options) (*Pipeline, error) {
	schema, ok := load.Schemas[name]
	if !ok {
		return nil, fmt.Errorf("no schema registered for pipeline %s", name)
	}

	mapping, err := transform.LoadMapping(name)
	if err != nil {
		return nil, fmt.Errorf("error loading %s mapping: %w", name, err)
	}
	normalizer, err := transform.NewNormalizer(mapping)
	if err != nil {
		return nil, fmt.Errorf("error creating %s normalizer: %w", name, err)
	}

	if err := load.EnsureSchema(ctx, opts.Store, schema); err != nil {
		return nil, err
	}

	recorder := opts.Metrics
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	timeProvider := opts.TimeProvider
	if timeProvider == nil {
		timeProvider = utils.RealTimeProvider{}
	}

	return &Pipeline{
		Name:         name,
		Fetcher:      fetcher,
		Normalizer:   normalizer,
		Upserter:     load.NewUpserter(opts.Store, schema, opts.Logger),
		BatchKey:     batchKey,
		Logger:       opts.Logger,
		Metrics:      recorder,
		RunLog:       load.NewRunLog(opts.Store),
		timeProvider: timeProvider,
	}, nil
}
