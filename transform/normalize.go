package transform

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// TimestampLayout is the format of every derived timestamp. Values are always UTC.
const TimestampLayout = "2006-01-02 15:04:05"

var (
	ErrMissingField = errors.New("missing field")
	ErrTypeMismatch = errors.New("type mismatch")
	ErrEmptyKey     = errors.New("empty natural key")
)

// RawRecord is one untyped record as produced by a fetcher.
type RawRecord = map[string]any

// Record is a flat, typed record. Values holds exactly the targets of the
// mapping that produced it; absent optional fields are nil.
type Record struct {
	Name   string
	Values map[string]any
}

// NormalizationError reports why a single raw record was rejected.
type NormalizationError struct {
	Record string
	Field  string
	Path   string
	Err    error
	Detail string
}

func (e *NormalizationError) Error() string {
	msg := fmt.Sprintf("could not normalize record %q: field %s (path %s): %v", e.Record, e.Field, e.Path, e.Err)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

type Normalizer struct {
	mapping Mapping
}

func NewNormalizer(m Mapping) (*Normalizer, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &Normalizer{mapping: m}, nil
}

// Mapping returns the mapping the normalizer applies.
func (n *Normalizer) Mapping() Mapping {
	return n.mapping
}

// Normalize flattens raw along the mapping. It has no side effects; a failure
// concerns this record only.
func (n *Normalizer) Normalize(raw RawRecord) (Record, error) {
	name := n.displayName(raw)
	values := make(map[string]any, len(n.mapping.Fields)+len(n.mapping.Derived))

	for _, f := range n.mapping.Fields {
		v, found := lookup(raw, f.Path)
		if !found || v == nil {
			if f.Optional {
				values[f.Target] = nil
				continue
			}
			return Record{}, &NormalizationError{Record: name, Field: f.Target, Path: f.Path, Err: ErrMissingField}
		}

		coerced, err := coerce(v, f)
		if err != nil {
			return Record{}, &NormalizationError{Record: name, Field: f.Target, Path: f.Path, Err: ErrTypeMismatch, Detail: err.Error()}
		}
		values[f.Target] = coerced
	}

	if s, ok := values[n.mapping.Key].(string); ok && strings.TrimSpace(s) == "" {
		return Record{}, &NormalizationError{Record: name, Field: n.mapping.Key, Path: n.keyPath(), Err: ErrEmptyKey}
	}

	for _, d := range n.mapping.Derived {
		v, err := derive(raw, d)
		if err != nil {
			var nerr *NormalizationError
			if errors.As(err, &nerr) {
				nerr.Record = name
				nerr.Field = d.Target
				return Record{}, nerr
			}
			return Record{}, err
		}
		values[d.Target] = v
	}

	return Record{Name: name, Values: values}, nil
}

// NormalizeAll normalizes every raw record, collecting the failures instead of
// stopping at the first one. The order of the surviving records is preserved.
func (n *Normalizer) NormalizeAll(raws []RawRecord) ([]Record, []*NormalizationError) {
	records := make([]Record, 0, len(raws))
	var failures []*NormalizationError

	for _, raw := range raws {
		rec, err := n.Normalize(raw)
		if err != nil {
			var nerr *NormalizationError
			if !errors.As(err, &nerr) {
				nerr = &NormalizationError{Record: n.displayName(raw), Err: err}
			}
			failures = append(failures, nerr)
			continue
		}
		records = append(records, rec)
	}
	return records, failures
}

func (n *Normalizer) displayName(raw RawRecord) string {
	if n.mapping.DisplayPath != "" {
		if v, ok := lookup(raw, n.mapping.DisplayPath); ok && v != nil {
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				return s
			}
		}
	}
	if n.mapping.DisplayDefault != "" {
		return n.mapping.DisplayDefault
	}
	return "Unknown"
}

func (n *Normalizer) keyPath() string {
	for _, f := range n.mapping.Fields {
		if f.Target == n.mapping.Key {
			return f.Path
		}
	}
	return ""
}

func derive(raw RawRecord, d Derived) (any, error) {
	switch d.Kind {
	case DerivedUTCTimestamp:
		sec, err := requireUnix(raw, d.Path)
		if err != nil {
			return nil, err
		}
		return FormatUTC(sec), nil

	case DerivedHoursBetween:
		from, err := requireUnix(raw, d.From)
		if err != nil {
			return nil, err
		}
		to, err := requireUnix(raw, d.To)
		if err != nil {
			return nil, err
		}
		hours := float64(to-from) / 3600
		return math.Round(hours*100) / 100, nil

	case DerivedConstant:
		return d.Value, nil
	}
	return nil, fmt.Errorf("unknown derived kind %q", d.Kind)
}

func requireUnix(raw RawRecord, path string) (int64, error) {
	v, found := lookup(raw, path)
	if !found || v == nil {
		return 0, &NormalizationError{Path: path, Err: ErrMissingField}
	}
	sec, err := toInt(v)
	if err != nil {
		return 0, &NormalizationError{Path: path, Err: ErrTypeMismatch, Detail: err.Error()}
	}
	return sec, nil
}

// FormatUTC renders unix seconds in TimestampLayout, in UTC regardless of the
// local time zone.
func FormatUTC(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(TimestampLayout)
}
