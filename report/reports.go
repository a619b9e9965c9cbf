package report

import (
	"context"
	"fmt"

	"github.com/datapipes/etl/template"
)

func (r *Reader) named(ctx context.Context, name string, params map[string]any) (*Table, error) {
	q, err := template.Render(name, r.store.Dialect(), params)
	if err != nil {
		return nil, err
	}
	table, err := r.Query(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("report %s: %w", name, err)
	}
	return table, nil
}

// PageviewRanking lists the tracked companies by views for one dump hour.
func (r *Reader) PageviewRanking(ctx context.Context, day string, hour int) (*Table, error) {
	return r.named(ctx, "pageview_ranking", map[string]any{"Day": day, "Hour": hour})
}

// LatestWeather returns the newest reading of every city.
func (r *Reader) LatestWeather(ctx context.Context) (*Table, error) {
	return r.named(ctx, "latest_weather", nil)
}

// SurveyTrend sums one variable of one industry per survey year.
func (r *Reader) SurveyTrend(ctx context.Context, industry, variable string) (*Table, error) {
	return r.named(ctx, "survey_trend", map[string]any{"Industry": industry, "Variable": variable})
}

func (r *Reader) RecentRuns(ctx context.Context, limit int) (*Table, error) {
	return r.named(ctx, "recent_runs", map[string]any{"Limit": limit})
}

// SurveyFilters are the values a dashboard offers for SurveyTrend.
type SurveyFilters struct {
	Industries []string `json:"industries"`
	Variables  []string `json:"variables"`
}

func (r *Reader) SurveyFilters(ctx context.Context) (SurveyFilters, error) {
	industries, err := r.named(ctx, "survey_industries", nil)
	if err != nil {
		return SurveyFilters{}, err
	}
	variables, err := r.named(ctx, "survey_variables", nil)
	if err != nil {
		return SurveyFilters{}, err
	}

	return SurveyFilters{
		Industries: industries.Column("industry_name"),
		Variables:  variables.Column("variable_name"),
	}, nil
}
