package pipeline

import (
	"context"

	"github.com/datapipes/etl/config"
	"github.com/datapipes/etl/extract"
)

// NewSurvey builds the annual enterprise survey pipeline.
func NewSurvey(ctx context.Context, cfg *config.Config, opts Options) (*Pipeline, error) {
	fetcher := &extract.CSVFetcher{Encoding: cfg.Survey.Encoding}
	switch cfg.Survey.Source {
	case "file":
		fetcher.Path = cfg.Survey.File
	default:
		fetcher.Client = extract.NewClient(cfg.Extract, opts.Logger)
		fetcher.URL = cfg.Survey.URL
	}

	return newPipeline(ctx, "survey", fetcher, nil, opts)
}
