package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/datapipes/etl/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const abujaResponse = `{"id": 2352778, "name": "Abuja", "dt": 1758760667, "main": {"temp": 30.5}, "sys": {"country": "NG"}}`

func setupWeatherServer(t *testing.T) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("appid") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("units") != "metric" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		switch r.URL.Query().Get("q") {
		case "Abuja,NG":
			w.Write([]byte(abujaResponse))
		case "Lagos,NG":
			w.Write([]byte(`{"id": 2332459, "name": "Lagos", "dt": 1758760667}`))
		case "Garbled,NG":
			w.Write([]byte(`{"id": `))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"cod":"404","message":"city not found"}`))
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func weatherConfig(baseURL string, cities ...string) config.WeatherConfig {
	return config.WeatherConfig{
		Source:      "api",
		BaseURL:     baseURL,
		APIKey:      "test-key",
		CountryCode: "NG",
		Cities:      cities,
	}
}

func TestWeatherFetcher(t *testing.T) {
	server := setupWeatherServer(t)
	logs := &bytes.Buffer{}
	client := NewClient(getTestConfig(), getTestLogger(&bytes.Buffer{}))

	fetcher := NewWeatherFetcher(client, weatherConfig(server.URL, "Abuja", "Atlantis", "Lagos", "Garbled"), getTestLogger(logs))
	records, err := fetcher.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "Abuja", records[0]["name"])
	assert.Equal(t, json.Number("2352778"), records[0]["id"])
	assert.Equal(t, json.Number("30.5"), records[0]["main"].(map[string]any)["temp"])
	assert.Equal(t, "Lagos", records[1]["name"])

	assert.Contains(t, logs.String(), "Atlantis")
	assert.Contains(t, logs.String(), "Garbled")
	assert.NotContains(t, logs.String(), "test-key")
}

func TestWeatherFetcherAllCitiesFail(t *testing.T) {
	server := setupWeatherServer(t)
	client := NewClient(getTestConfig(), getTestLogger(&bytes.Buffer{}))

	fetcher := NewWeatherFetcher(client, weatherConfig(server.URL, "Atlantis", "Mu"), getTestLogger(&bytes.Buffer{}))
	records, err := fetcher.Fetch(context.Background())
	assert.Nil(t, records)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "weather", fetchErr.Source)
	assert.ErrorIs(t, err, ErrNotAvailable)
}

func TestWeatherFetcherCityURL(t *testing.T) {
	cfg := weatherConfig("https://api.openweathermap.org/data/2.5/weather")
	cfg.Units = "imperial"
	fetcher := NewWeatherFetcher(nil, cfg, nil)

	got, err := fetcher.cityURL("Port Harcourt")
	require.NoError(t, err)
	assert.Equal(t, "https://api.openweathermap.org/data/2.5/weather?appid=test-key&q=Port+Harcourt%2CNG&units=imperial", got)
}

func TestJSONFileFetcher(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name      string
		content   string
		wantCount int
		wantError string
	}{
		{name: "array", content: "[" + abujaResponse + "," + abujaResponse + "]", wantCount: 2},
		{name: "single object", content: abujaResponse, wantCount: 1},
		{name: "empty array", content: "[]", wantCount: 0},
		{name: "empty file", content: "  ", wantError: "empty JSON document"},
		{name: "array of scalars", content: "[1, 2]", wantError: "failed to decode JSON array"},
		{name: "null element", content: "[null]", wantError: "element 0 is not a JSON object"},
		{name: "truncated", content: `{"id": 1`, wantError: "failed to decode JSON object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			records, err := (&JSONFileFetcher{Path: path}).Fetch(context.Background())
			if tt.wantError != "" {
				var fetchErr *FetchError
				require.ErrorAs(t, err, &fetchErr)
				assert.Contains(t, err.Error(), tt.wantError)
				return
			}
			require.NoError(t, err)
			assert.Len(t, records, tt.wantCount)
		})
	}
}

func TestJSONFileFetcherMissingFile(t *testing.T) {
	_, err := (&JSONFileFetcher{Path: filepath.Join(t.TempDir(), "missing.json")}).Fetch(context.Background())

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
