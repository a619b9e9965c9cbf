package config

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrMissingDBDriver     = errors.New("database driver is not set (DB_DRIVER)")
	ErrUnknownDBDriver     = errors.New("unknown database driver")
	ErrMissingDBHost       = errors.New("database host is not set (DB_HOST)")
	ErrMissingDBPort       = errors.New("database port is not set (DB_PORT)")
	ErrMissingDBUser       = errors.New("database user is not set (DB_USER)")
	ErrMissingDBPassword   = errors.New("database password is not set (DB_PASSWORD)")
	ErrMissingDBName       = errors.New("database name is not set (DB_NAME)")
	ErrMissingDBPath       = errors.New("database path is not set (DB_PATH)")
	ErrUnknownSource       = errors.New("unknown source")
	ErrMissingBaseURL      = errors.New("base url is not set")
	ErrMissingAPIKey       = errors.New("weather api key is not set (API_KEY)")
	ErrMissingCities       = errors.New("no weather cities configured")
	ErrMissingFile         = errors.New("source file is not set")
	ErrMissingCompanies    = errors.New("no pageview companies configured")
	ErrMissingSurveyURL    = errors.New("survey csv url is not set (CSV_URL)")
	ErrMissingMetricsKey   = errors.New("metrics are enabled but DD_API_KEY is not set")
	ErrMissingDataDir      = errors.New("pageviews data directory is not set")
	ErrMissingReportAddr   = errors.New("report server address is not set")
	ErrInvalidCompanyEntry = errors.New("pageview company needs name, domain_code and page_title")
)

var (
	serverDrivers = []string{"postgres", "mysql", "sqlserver"}
	fileDrivers   = []string{"sqlite", "duckdb"}
)

// ValidateDatabase checks that every connection value the configured driver
// needs is present. All problems are reported at once.
func (c *Config) ValidateDatabase() error {
	db := c.Database
	if db.Driver == "" {
		return ErrMissingDBDriver
	}

	var errs []error
	switch {
	case slices.Contains(serverDrivers, db.Driver):
		if db.Host == "" {
			errs = append(errs, ErrMissingDBHost)
		}
		if db.Port == 0 {
			errs = append(errs, ErrMissingDBPort)
		}
		if db.User == "" {
			errs = append(errs, ErrMissingDBUser)
		}
		if db.Password == "" {
			errs = append(errs, ErrMissingDBPassword)
		}
		if db.Name == "" {
			errs = append(errs, ErrMissingDBName)
		}
	case slices.Contains(fileDrivers, db.Driver):
		if db.Path == "" {
			errs = append(errs, ErrMissingDBPath)
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownDBDriver, db.Driver))
	}

	if c.Metrics.Enabled && c.Metrics.APIKey == "" {
		errs = append(errs, ErrMissingMetricsKey)
	}

	return errors.Join(errs...)
}

// ValidateWeather validates the weather pipeline and its database.
func (c *Config) ValidateWeather() error {
	errs := []error{c.ValidateDatabase()}

	w := c.Weather
	switch w.Source {
	case "api":
		if w.BaseURL == "" {
			errs = append(errs, fmt.Errorf("weather: %w", ErrMissingBaseURL))
		}
		if w.APIKey == "" {
			errs = append(errs, ErrMissingAPIKey)
		}
		if len(w.Cities) == 0 {
			errs = append(errs, ErrMissingCities)
		}
	case "file":
		if w.File == "" {
			errs = append(errs, fmt.Errorf("weather: %w", ErrMissingFile))
		}
	default:
		errs = append(errs, fmt.Errorf("weather: %w %q", ErrUnknownSource, w.Source))
	}

	return errors.Join(errs...)
}

// ValidatePageviews validates the pageviews pipeline and its database.
func (c *Config) ValidatePageviews() error {
	errs := []error{c.ValidateDatabase(), c.ValidatePageviewsSource()}
	return errors.Join(errs...)
}

// ValidatePageviewsSource validates only the dump source, for commands that
// never touch the database (download, available).
func (c *Config) ValidatePageviewsSource() error {
	var errs []error

	p := c.Pageviews
	switch p.Source {
	case "http":
		if p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("pageviews: %w", ErrMissingBaseURL))
		}
	case "file":
		if p.DataDir == "" {
			errs = append(errs, ErrMissingDataDir)
		}
	default:
		errs = append(errs, fmt.Errorf("pageviews: %w %q", ErrUnknownSource, p.Source))
	}

	if len(p.Companies) == 0 {
		errs = append(errs, ErrMissingCompanies)
	}
	for _, company := range p.Companies {
		if company.Name == "" || company.DomainCode == "" || company.PageTitle == "" {
			errs = append(errs, fmt.Errorf("%w: %+v", ErrInvalidCompanyEntry, company))
		}
	}

	return errors.Join(errs...)
}

// ValidateSurvey validates the survey pipeline and its database.
func (c *Config) ValidateSurvey() error {
	errs := []error{c.ValidateDatabase()}

	s := c.Survey
	switch s.Source {
	case "http":
		if s.URL == "" {
			errs = append(errs, ErrMissingSurveyURL)
		}
	case "file":
		if s.File == "" {
			errs = append(errs, fmt.Errorf("survey: %w", ErrMissingFile))
		}
	default:
		errs = append(errs, fmt.Errorf("survey: %w %q", ErrUnknownSource, s.Source))
	}

	return errors.Join(errs...)
}

// ValidateReport validates the report server.
func (c *Config) ValidateReport() error {
	errs := []error{c.ValidateDatabase()}
	if c.Report.Addr == "" {
		errs = append(errs, ErrMissingReportAddr)
	}
	return errors.Join(errs...)
}
