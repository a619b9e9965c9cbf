package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/datapipes/etl/config"
	"github.com/datapipes/etl/transform"
	"github.com/hashicorp/go-retryablehttp"
)

// ErrNotAvailable means the server answered 404: the resource is not
// published (yet).
var ErrNotAvailable = errors.New("resource not available")

// FetchError aborts a fetch. StatusCode is zero for transport, file and
// decoding failures.
type FetchError struct {
	Source     string
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("failed to fetch %s", e.Source)
	if e.URL != "" {
		msg += " from " + redact(e.URL)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(", status: %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + redactErr(e.Err, e.URL)
	}
	return msg
}

// redactErr formats err with rawURL and the URL of a transport error
// redacted.
func redactErr(err error, rawURL string) string {
	msg := err.Error()
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.URL != "" {
		msg = strings.ReplaceAll(msg, uerr.URL, redact(uerr.URL))
	}
	if rawURL != "" {
		msg = strings.ReplaceAll(msg, rawURL, redact(rawURL))
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher retrieves the raw records of one pipeline run.
type Fetcher interface {
	Fetch(ctx context.Context) ([]transform.RawRecord, error)
}

type Client struct {
	HTTPClient *retryablehttp.Client
	Logger     *slog.Logger
}

// NewClient configures a retryablehttp client from the extract config. With the
// default retry_max of zero every request is attempted exactly once.
func NewClient(cfg config.ExtractConfig, logger *slog.Logger) *Client {
	client := &Client{
		HTTPClient: retryablehttp.NewClient(),
		Logger:     logger,
	}

	client.HTTPClient.RetryWaitMin = cfg.Backoff.RetryWaitMin
	client.HTTPClient.RetryWaitMax = cfg.Backoff.RetryWaitMax
	client.HTTPClient.RetryMax = cfg.Backoff.RetryMax
	client.HTTPClient.Logger = logger
	client.HTTPClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if cfg.Timeout > 0 {
		client.HTTPClient.HTTPClient.Timeout = cfg.Timeout
	}

	return client
}

// FetchData handles the common logic of making the HTTP request and checking the response status
func (c *Client) FetchData(ctx context.Context, url, description string) ([]byte, error) {
	body, resp, err := c.get(ctx, url)
	if err != nil {
		return nil, &FetchError{Source: description, URL: url, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(description, url, resp, body)
	}

	return body, nil
}

// open returns the response body for streaming. The caller closes it.
func (c *Client) open(ctx context.Context, url, description string) (io.ReadCloser, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Source: description, URL: url, Err: err}
	}

	resp, err := c.HTTPClient.Do(req)
	if resp == nil {
		return nil, &FetchError{Source: description, URL: url, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, statusError(description, url, resp, body)
	}

	return resp.Body, nil
}

// get fetches the URL and returns the body and response
func (c *Client) get(ctx context.Context, url string) (body []byte, resp *http.Response, err error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}

	// The passthrough error handler hands back the last response together
	// with the retry policy's error; the status check reports it instead.
	resp, err = c.HTTPClient.Do(req)
	if resp == nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	return body, resp, nil
}

func statusError(description, url string, resp *http.Response, body []byte) error {
	err := fmt.Errorf("unexpected status %s, body: %s", resp.Status, string(body))
	if resp.StatusCode == http.StatusNotFound {
		err = fmt.Errorf("%w: %s", ErrNotAvailable, resp.Status)
	}
	return &FetchError{Source: description, URL: url, StatusCode: resp.StatusCode, Err: err}
}

// redact hides credentials passed as query parameters.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	query := u.Query()
	for _, key := range []string{"appid", "token", "api_key"} {
		if query.Has(key) {
			query.Set(key, "REDACTED")
		}
	}
	u.RawQuery = query.Encode()
	return u.String()
}
