package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"github.com/datapipes/etl/config"
	"github.com/datapipes/etl/transform"
)

// WeatherFetcher calls the current weather API once per configured city.
type WeatherFetcher struct {
	client *Client
	cfg    config.WeatherConfig
	logger *slog.Logger
}

func NewWeatherFetcher(client *Client, cfg config.WeatherConfig, logger *slog.Logger) *WeatherFetcher {
	return &WeatherFetcher{client: client, cfg: cfg, logger: logger}
}

// Fetch skips cities that fail and only fails when no city could be fetched.
func (f *WeatherFetcher) Fetch(ctx context.Context) ([]transform.RawRecord, error) {
	var records []transform.RawRecord
	var errs []error

	for _, city := range f.cfg.Cities {
		rawURL, err := f.cityURL(city)
		if err != nil {
			return nil, &FetchError{Source: "weather", URL: f.cfg.BaseURL, Err: err}
		}

		body, err := f.client.FetchData(ctx, rawURL, fmt.Sprintf("weather for %s", city))
		if err != nil {
			f.logger.Warn("Skipping city", "city", city, "error", err)
			errs = append(errs, err)
			continue
		}

		raw, err := decodeObject(body)
		if err != nil {
			f.logger.Warn("Skipping city with malformed response", "city", city, "error", err)
			errs = append(errs, fmt.Errorf("weather for %s: %w", city, err))
			continue
		}
		records = append(records, raw)
	}

	if len(records) == 0 && len(errs) > 0 {
		return nil, &FetchError{Source: "weather", URL: f.cfg.BaseURL, Err: errors.Join(errs...)}
	}

	f.logger.Info(fmt.Sprintf("Fetched weather for %d of %d cities", len(records), len(f.cfg.Cities)))
	return records, nil
}

// cityURL builds {base_url}?q={city},{country}&appid={key}&units={units}.
func (f *WeatherFetcher) cityURL(city string) (string, error) {
	parsedURL, err := url.Parse(f.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}

	q := city
	if f.cfg.CountryCode != "" {
		q = city + "," + f.cfg.CountryCode
	}
	units := f.cfg.Units
	if units == "" {
		units = "metric"
	}

	query := parsedURL.Query()
	query.Set("q", q)
	query.Set("appid", f.cfg.APIKey)
	query.Set("units", units)
	parsedURL.RawQuery = query.Encode()

	return parsedURL.String(), nil
}

// JSONFileFetcher reads previously saved API responses: either a JSON array
// of objects or a single object.
type JSONFileFetcher struct {
	Path string
}

func (f *JSONFileFetcher) Fetch(_ context.Context) ([]transform.RawRecord, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, &FetchError{Source: "json file", URL: f.Path, Err: err}
	}

	records, err := decodeRecords(data)
	if err != nil {
		return nil, &FetchError{Source: "json file", URL: f.Path, Err: err}
	}
	return records, nil
}

// decodeRecords keeps numbers as json.Number so integer ids stay exact.
func decodeRecords(data []byte) ([]transform.RawRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty JSON document")
	}

	if trimmed[0] != '[' {
		raw, err := decodeObject(trimmed)
		if err != nil {
			return nil, err
		}
		return []transform.RawRecord{raw}, nil
	}

	var records []transform.RawRecord
	if err := newDecoder(trimmed).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode JSON array: %w", err)
	}
	for i, r := range records {
		if r == nil {
			return nil, fmt.Errorf("element %d is not a JSON object", i)
		}
	}
	return records, nil
}

func decodeObject(data []byte) (transform.RawRecord, error) {
	var raw transform.RawRecord
	if err := newDecoder(data).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode JSON object: %w", err)
	}
	if raw == nil {
		return nil, errors.New("JSON document is null")
	}
	return raw, nil
}

func newDecoder(data []byte) *json.Decoder {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec
}
