package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func validPostgres() DatabaseConfig {
	return DatabaseConfig{
		Driver:   "postgres",
		Host:     "localhost",
		Port:     5432,
		User:     "etl",
		Password: "secret",
		Name:     "warehouse",
	}
}

func TestValidateDatabase(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantErrs []error
	}{
		{
			name: "complete postgres",
			cfg:  Config{Database: validPostgres()},
		},
		{
			name: "sqlite needs only a path",
			cfg:  Config{Database: DatabaseConfig{Driver: "sqlite", Path: ":memory:"}},
		},
		{
			name:     "missing driver",
			cfg:      Config{},
			wantErrs: []error{ErrMissingDBDriver},
		},
		{
			name:     "unknown driver",
			cfg:      Config{Database: DatabaseConfig{Driver: "oracle"}},
			wantErrs: []error{ErrUnknownDBDriver},
		},
		{
			name:     "all server values missing are reported together",
			cfg:      Config{Database: DatabaseConfig{Driver: "mysql"}},
			wantErrs: []error{ErrMissingDBHost, ErrMissingDBPort, ErrMissingDBUser, ErrMissingDBPassword, ErrMissingDBName},
		},
		{
			name:     "duckdb without path",
			cfg:      Config{Database: DatabaseConfig{Driver: "duckdb"}},
			wantErrs: []error{ErrMissingDBPath},
		},
		{
			name: "metrics without api key",
			cfg: Config{
				Database: validPostgres(),
				Metrics:  MetricsConfig{Enabled: true},
			},
			wantErrs: []error{ErrMissingMetricsKey},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.ValidateDatabase()
			if len(tt.wantErrs) == 0 {
				assert.NoError(t, err)
				return
			}
			for _, want := range tt.wantErrs {
				assert.True(t, errors.Is(err, want), "expected %v in %v", want, err)
			}
		})
	}
}

func TestValidateWeather(t *testing.T) {
	cfg := Config{
		Database: validPostgres(),
		Weather: WeatherConfig{
			Source:  "api",
			BaseURL: "https://api.openweathermap.org/data/2.5/weather",
			Cities:  []string{"Abuja"},
		},
	}

	err := cfg.ValidateWeather()
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	cfg.Weather.APIKey = "key"
	assert.NoError(t, cfg.ValidateWeather())

	cfg.Weather = WeatherConfig{Source: "file"}
	assert.ErrorIs(t, cfg.ValidateWeather(), ErrMissingFile)

	cfg.Weather = WeatherConfig{Source: "ftp"}
	assert.ErrorIs(t, cfg.ValidateWeather(), ErrUnknownSource)
}

func TestValidatePageviews(t *testing.T) {
	cfg := Config{
		Database: validPostgres(),
		Pageviews: PageviewsConfig{
			Source:  "http",
			BaseURL: "https://dumps.wikimedia.org/other/pageviews",
		},
	}
	assert.ErrorIs(t, cfg.ValidatePageviews(), ErrMissingCompanies)

	cfg.Pageviews.Companies = []CompanyConfig{{Name: "Apple", DomainCode: "en"}}
	assert.ErrorIs(t, cfg.ValidatePageviews(), ErrInvalidCompanyEntry)

	cfg.Pageviews.Companies[0].PageTitle = "Apple_Inc."
	assert.NoError(t, cfg.ValidatePageviews())

	// Download commands do not need a database.
	cfg.Database = DatabaseConfig{}
	assert.NoError(t, cfg.ValidatePageviewsSource())
	assert.ErrorIs(t, cfg.ValidatePageviews(), ErrMissingDBDriver)
}

func TestValidateSurvey(t *testing.T) {
	cfg := Config{
		Database: validPostgres(),
		Survey:   SurveyConfig{Source: "http"},
	}
	assert.ErrorIs(t, cfg.ValidateSurvey(), ErrMissingSurveyURL)

	cfg.Survey.URL = "https://example.com/survey.csv"
	assert.NoError(t, cfg.ValidateSurvey())
}

func TestValidateReport(t *testing.T) {
	cfg := Config{Database: validPostgres()}
	assert.ErrorIs(t, cfg.ValidateReport(), ErrMissingReportAddr)

	cfg.Report.Addr = ":8080"
	assert.NoError(t, cfg.ValidateReport())
}
