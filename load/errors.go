package load

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an upsert was aborted.
type ErrorKind string

const (
	KindInvalidBatch ErrorKind = "invalid_batch"
	KindMissingKey   ErrorKind = "missing_key"
	KindConnection   ErrorKind = "connection"
	KindSchema       ErrorKind = "schema"
	KindConstraint   ErrorKind = "constraint"
	KindTransaction  ErrorKind = "transaction"
	KindDatabase     ErrorKind = "database"
)

var ErrNoRows = errors.New("no rows in result set")

// errConcurrentKey means a natural key conflicted with a row written by a
// concurrent transaction that is not visible yet.
var errConcurrentKey = errors.New("key was inserted by a concurrent load, retry the batch")

// UpsertError aborts a whole batch. Nothing of the batch is committed when it
// is returned.
type UpsertError struct {
	Kind   ErrorKind
	Op     string
	Table  string
	Record string
	Err    error
}

func (e *UpsertError) Error() string {
	msg := fmt.Sprintf("upsert failed (%s) during %s", e.Kind, e.Op)
	if e.Table != "" {
		msg += " on " + e.Table
	}
	if e.Record != "" {
		msg += fmt.Sprintf(" for record %q", e.Record)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpsertError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an UpsertError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var uerr *UpsertError
	return errors.As(err, &uerr) && uerr.Kind == kind
}
