package pipeline

import (
	"context"

	"github.com/datapipes/etl/config"
	"github.com/datapipes/etl/extract"
)

// NewWeather builds the weather pipeline. The API source calls the current
// weather endpoint once per configured city; the file source replays saved
// responses.
func NewWeather(ctx context.Context, cfg *config.Config, opts Options) (*Pipeline, error) {
	var fetcher extract.Fetcher
	switch cfg.Weather.Source {
	case "file":
		fetcher = &extract.JSONFileFetcher{Path: cfg.Weather.File}
	default:
		client := extract.NewClient(cfg.Extract, opts.Logger)
		fetcher = extract.NewWeatherFetcher(client, cfg.Weather, opts.Logger)
	}

	return newPipeline(ctx, "weather", fetcher, nil, opts)
}
