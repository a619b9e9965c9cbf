// Package datadog submits run metrics through the Datadog metrics intake API.
//
// Every run becomes one payload of COUNT series stamped with the submission
// time and tagged env:, job: and pipeline:.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/datapipes/etl/config"
	"github.com/datapipes/etl/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

const defaultJob = "etl"

// metricsSubmitter is the part of *datadogV2.MetricsApi the recorder needs.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

type Recorder struct {
	api      metricsSubmitter
	apiKey   string
	baseTags []string
	now      func() time.Time
}

// New builds a recorder from the metrics config. The API key falls back to
// DD_API_KEY through dd.NewDefaultContext when cfg.APIKey is empty.
func New(cfg config.MetricsConfig, env string) *Recorder {
	client := dd.NewAPIClient(dd.NewConfiguration())
	return newRecorder(datadogV2.NewMetricsApi(client), cfg, env, time.Now)
}

func newRecorder(api metricsSubmitter, cfg config.MetricsConfig, env string, now func() time.Time) *Recorder {
	job := strings.TrimSpace(cfg.JobName)
	if job == "" {
		job = defaultJob
	}
	if env == "" {
		env = "unknown"
	}

	tags := make([]string, 0, 2+len(cfg.Tags))
	tags = append(tags, "env:"+env, "job:"+job)
	for _, tag := range cfg.Tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}

	return &Recorder{api: api, apiKey: cfg.APIKey, baseTags: tags, now: now}
}

func (r *Recorder) RecordRun(ctx context.Context, run metrics.Run) error {
	payload := datadogV2.MetricPayload{Series: r.buildSeries(run, r.now().Unix())}

	_, _, err := r.api.SubmitMetrics(r.context(ctx), payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	if err != nil {
		return fmt.Errorf("error submitting metrics to Datadog: %w", err)
	}
	return nil
}

func (r *Recorder) context(parent context.Context) context.Context {
	ctx := dd.NewDefaultContext(parent)
	if r.apiKey != "" {
		ctx = context.WithValue(ctx, dd.ContextAPIKeys, map[string]dd.APIKey{
			"apiKeyAuth": {Key: r.apiKey},
		})
	}
	return ctx
}

func (r *Recorder) buildSeries(run metrics.Run, nowUnix int64) []datadogV2.MetricSeries {
	tags := withTags(r.baseTags, "pipeline:"+run.Pipeline)

	count := func(metric string, value int, tags []string) datadogV2.MetricSeries {
		return datadogV2.MetricSeries{
			Metric: metric,
			Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
			Points: []datadogV2.MetricPoint{
				{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(float64(value))},
			},
			Tags: tags,
		}
	}

	return []datadogV2.MetricSeries{
		count("etl.runs", 1, withTags(tags, "status:"+run.Status)),
		count("etl.records.fetched", run.Fetched, tags),
		count("etl.records.skipped", run.Skipped, tags),
		count("etl.dimensions.created", run.DimensionsCreated, tags),
		count("etl.facts.inserted", run.FactsInserted, tags),
		count("etl.facts.skipped", run.FactsSkipped, tags),
	}
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	return append(out, extras...)
}

var _ metrics.Recorder = (*Recorder)(nil)
