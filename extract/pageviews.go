package extract

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/datapipes/etl/config"
	"github.com/datapipes/etl/transform"
)

const dumpLayout = "20060102-150405"

// DumpName returns the name of the hourly pageviews dump covering t,
// e.g. pageviews-20251022-140000.gz.
func DumpName(t time.Time) string {
	return fmt.Sprintf("pageviews-%s.gz", t.UTC().Truncate(time.Hour).Format(dumpLayout))
}

// MonthIndexURL returns the directory listing of the dumps of t's month.
func MonthIndexURL(baseURL string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%d/%s/", strings.TrimRight(baseURL, "/"), t.Year(), t.Format("2006-01"))
}

func DumpURL(baseURL string, t time.Time) string {
	return MonthIndexURL(baseURL, t) + DumpName(t)
}

// PageviewsFetcher extracts the tracked pages from one hourly dump. It reads
// Path when set, otherwise it streams URL.
type PageviewsFetcher struct {
	Client    *Client
	URL       string
	Path      string
	Companies []config.CompanyConfig
	Logger    *slog.Logger
}

func (f *PageviewsFetcher) Fetch(ctx context.Context) ([]transform.RawRecord, error) {
	var body io.ReadCloser
	source, location := "pageviews dump", f.URL

	if f.Path != "" {
		location = f.Path
		file, err := os.Open(f.Path)
		if err != nil {
			return nil, &FetchError{Source: source, URL: location, Err: err}
		}
		body = file
	} else {
		var err error
		body, err = f.Client.open(ctx, f.URL, source)
		if err != nil {
			return nil, err
		}
	}
	defer body.Close()

	records, err := ParseDump(body, f.Companies)
	if err != nil {
		return nil, &FetchError{Source: source, URL: location, Err: err}
	}

	f.Logger.Info(fmt.Sprintf("Found %d of %d tracked pages in %s", len(records), len(f.Companies), location))
	return records, nil
}

// ParseDump scans a pageviews dump, gzipped or not. Lines look like
//
//	domain_code page_title view_count response_size
//
// Lines with fewer than four fields are ignored. Only pages listed in
// companies are returned, annotated with the company name.
func ParseDump(r io.Reader, companies []config.CompanyConfig) ([]transform.RawRecord, error) {
	tracked := make(map[string]string, len(companies))
	for _, c := range companies {
		tracked[c.DomainCode+" "+c.PageTitle] = c.Name
	}

	br := bufio.NewReader(r)
	var src io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == gzipMagic[0] && magic[1] == gzipMagic[1] {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		src = gz
	}

	var records []transform.RawRecord
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		parts := strings.Split(strings.TrimSpace(scanner.Text()), " ")
		if len(parts) < 4 {
			continue
		}

		company, ok := tracked[parts[0]+" "+parts[1]]
		if !ok {
			continue
		}
		records = append(records, transform.RawRecord{
			"domain_code":   parts[0],
			"page_title":    parts[1],
			"view_count":    parts[2],
			"response_size": parts[3],
			"company_name":  company,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pageviews dump: %w", err)
	}

	return records, nil
}
