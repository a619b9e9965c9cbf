// Package metrics reports per-run pipeline counts to an observability backend.
package metrics

import "context"

// Run holds the counts of one finished pipeline run.
type Run struct {
	Pipeline          string
	Status            string
	Fetched           int
	Skipped           int
	DimensionsCreated int
	FactsInserted     int
	FactsSkipped      int
}

type Recorder interface {
	RecordRun(ctx context.Context, run Run) error
}

// Noop discards everything. It is used when metrics are disabled.
type Noop struct{}

func (Noop) RecordRun(context.Context, Run) error { return nil }
