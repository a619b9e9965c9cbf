package extract

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/datapipes/etl/transform"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// CSVFetcher reads a CSV document from a URL or, when Path is set, from a local
// file. Zip and gzip archives holding a single CSV are unpacked first.
type CSVFetcher struct {
	Client   *Client
	URL      string
	Path     string
	Encoding string
}

func (f *CSVFetcher) Fetch(ctx context.Context) ([]transform.RawRecord, error) {
	source, location := "csv", f.URL
	var data []byte
	var err error

	if f.Path != "" {
		source, location = "csv file", f.Path
		data, err = os.ReadFile(f.Path)
		if err != nil {
			return nil, &FetchError{Source: source, URL: location, Err: err}
		}
	} else {
		data, err = f.Client.FetchData(ctx, f.URL, source)
		if err != nil {
			return nil, err
		}
	}

	data, err = Decompress(data)
	if err != nil {
		return nil, &FetchError{Source: source, URL: location, Err: err}
	}

	records, err := ParseCSV(bytes.NewReader(data), f.Encoding)
	if err != nil {
		return nil, &FetchError{Source: source, URL: location, Err: err}
	}
	return records, nil
}

// ParseCSV turns each row into a record keyed by the header names. Values
// stay strings; typing is up to the normalizer.
func ParseCSV(r io.Reader, charset string) ([]transform.RawRecord, error) {
	dec, err := decoderFor(charset)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(dec.Reader(r))
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("CSV document is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	seen := make(map[string]bool, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if seen[h] {
			return nil, fmt.Errorf("duplicate CSV column %q", h)
		}
		seen[h] = true
		header[i] = h
	}

	var records []transform.RawRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}

		raw := make(transform.RawRecord, len(header))
		for i, col := range header {
			raw[col] = row[i]
		}
		records = append(records, raw)
	}

	return records, nil
}

// decoderFor resolves WHATWG encoding labels such as windows-1252 or
// iso-8859-1. UTF-8 input has its byte order mark stripped.
func decoderFor(charset string) (*encoding.Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8":
		return unicode.UTF8BOM.NewDecoder(), nil
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported encoding %q: %w", charset, err)
	}
	return enc.NewDecoder(), nil
}
