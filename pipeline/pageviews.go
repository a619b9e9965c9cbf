package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"github.com/datapipes/etl/config"
	"github.com/datapipes/etl/extract"
	"github.com/datapipes/etl/load"
)

const dayLayout = "2006-01-02"

// PageviewsBatchKey is the day and hour one dump is loaded under.
func PageviewsBatchKey(hour time.Time) load.BatchKey {
	hour = hour.UTC()
	return load.BatchKey{
		{Column: "day", Value: hour.Format(dayLayout)},
		{Column: "hour", Value: hour.Hour()},
	}
}

// NewPageviews builds the pageviews pipeline for the dump of the given hour.
// With the file source the dump is read from the data directory under its
// original name, as written by the download command.
func NewPageviews(ctx context.Context, cfg *config.Config, hour time.Time, opts Options) (*Pipeline, error) {
	hour = hour.UTC().Truncate(time.Hour)

	fetcher := &extract.PageviewsFetcher{
		Companies: cfg.Pageviews.Companies,
		Logger:    opts.Logger,
	}
	switch cfg.Pageviews.Source {
	case "file":
		fetcher.Path = filepath.Join(cfg.Pageviews.DataDir, extract.DumpName(hour))
	default:
		fetcher.Client = extract.NewClient(cfg.Extract, opts.Logger)
		fetcher.URL = extract.DumpURL(cfg.Pageviews.BaseURL, hour)
	}

	return newPipeline(ctx, "pageviews", fetcher, PageviewsBatchKey(hour), opts)
}
