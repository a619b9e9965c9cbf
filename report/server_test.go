package report

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer(t *testing.T) {
	server := httptest.NewServer(NewServer(NewReader(seedStore(t), testLogger()), testLogger()).Handler())
	defer server.Close()

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		check      func(t *testing.T, body map[string]any)
	}{
		{
			name:       "health",
			path:       "/api/health",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "ok", body["status"])
			},
		},
		{
			name:       "ranking",
			path:       "/api/pageviews/ranking?day=2025-10-22&hour=14",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				rows := body["rows"].([]any)
				require.Len(t, rows, 3)
				assert.Equal(t, []any{"Apple", "Apple_Inc.", "120"}, rows[0])
			},
		},
		{
			name:       "ranking bad hour",
			path:       "/api/pageviews/ranking?day=2025-10-22&hour=24",
			wantStatus: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]any) {
				assert.Contains(t, body["error"], "hour must be between 0 and 23")
			},
		},
		{
			name:       "ranking bad day",
			path:       "/api/pageviews/ranking?day=22-10-2025&hour=1",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "latest weather",
			path:       "/api/weather/latest",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Len(t, body["rows"], 2)
			},
		},
		{
			name:       "survey trend",
			path:       "/api/survey/trend?industry=Agriculture&variable=Total+income",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, []any{"survey_year", "total_value"}, body["columns"])
			},
		},
		{
			name:       "survey trend missing filter",
			path:       "/api/survey/trend?industry=Agriculture",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "survey filters",
			path:       "/api/survey/filters",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, []any{"Agriculture"}, body["industries"])
			},
		},
		{
			name:       "runs",
			path:       "/api/runs?limit=1",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Len(t, body["rows"], 1)
			},
		},
		{
			name:       "runs bad limit",
			path:       "/api/runs?limit=0",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "writes are not routed",
			method:     http.MethodPost,
			path:       "/api/weather/latest",
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "unknown route",
			path:       "/api/nope",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req, err := http.NewRequest(method, server.URL+tt.path, nil)
			require.NoError(t, err)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.check == nil {
				return
			}
			assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			tt.check(t, body)
		})
	}
}

func TestServerPreflight(t *testing.T) {
	server := httptest.NewServer(NewServer(NewReader(seedStore(t), testLogger()), testLogger()).Handler())
	defer server.Close()

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/api/survey/filters", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "GET, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
}
