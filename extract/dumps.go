package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var dumpNamePattern = regexp.MustCompile(`^pageviews-(\d{8}-\d{6})\.gz$`)

// Dump is one hourly pageviews file listed in a month index.
type Dump struct {
	Name string
	URL  string
	Hour time.Time
}

// ParseDumpName returns the hour a dump file covers.
func ParseDumpName(name string) (time.Time, error) {
	m := dumpNamePattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, fmt.Errorf("not a pageviews dump name: %q", name)
	}
	return time.ParseInLocation(dumpLayout, m[1], time.UTC)
}

// ListDumps scrapes a month index page and returns its hourly dumps, oldest
// first.
func (c *Client) ListDumps(ctx context.Context, monthURL string) ([]Dump, error) {
	body, err := c.FetchData(ctx, monthURL, "pageviews index")
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(monthURL)
	if err != nil {
		return nil, &FetchError{Source: "pageviews index", URL: monthURL, Err: err}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Source: "pageviews index", URL: monthURL, Err: fmt.Errorf("failed to parse HTML: %w", err)}
	}

	seen := map[string]bool{}
	var dumps []Dump
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		name := path.Base(ref.Path)
		hour, err := ParseDumpName(name)
		if err != nil || seen[name] {
			return
		}
		seen[name] = true
		dumps = append(dumps, Dump{Name: name, URL: base.ResolveReference(ref).String(), Hour: hour})
	})

	sort.Slice(dumps, func(i, j int) bool { return dumps[i].Hour.Before(dumps[j].Hour) })

	c.Logger.Debug(fmt.Sprintf("Found %d pageview dumps at %s", len(dumps), monthURL))
	return dumps, nil
}

// LatestDump returns the newest dump, false when there is none.
func LatestDump(dumps []Dump) (Dump, bool) {
	var latest Dump
	for _, d := range dumps {
		if d.Hour.After(latest.Hour) {
			latest = d
		}
	}
	return latest, latest.Name != ""
}

// DownloadDump saves the file at rawURL into dir and returns its path. The
// file only appears under its final name once fully written.
func (c *Client) DownloadDump(ctx context.Context, rawURL, dir string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &FetchError{Source: "pageviews dump", URL: rawURL, Err: err}
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return "", &FetchError{Source: "pageviews dump", URL: rawURL, Err: fmt.Errorf("no file name in URL")}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	body, err := c.open(ctx, rawURL, "pageviews dump")
	if err != nil {
		return "", err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(dir, name+".*.part")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", &FetchError{Source: "pageviews dump", URL: rawURL, Err: fmt.Errorf("failed to save dump: %w", err)}
	}

	target := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("failed to move dump into place: %w", err)
	}

	c.Logger.Info(fmt.Sprintf("Downloaded %s (%d bytes) to %s", name, n, target))
	return target, nil
}
