package load

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

const maxRunMessage = 255

var runLogTable = tableDef{
	name: "etl_runs",
	id:   "id",
	columns: []columnDef{
		{name: "run_id", typ: TypeText, notNull: true},
		{name: "pipeline", typ: TypeText, notNull: true},
		{name: "status", typ: TypeText, notNull: true},
		{name: "started_at", typ: TypeTimestamp, notNull: true},
		{name: "finished_at", typ: TypeTimestamp, notNull: true},
		{name: "fetched", typ: TypeInt},
		{name: "skipped", typ: TypeInt},
		{name: "dimensions_created", typ: TypeInt},
		{name: "facts_inserted", typ: TypeInt},
		{name: "facts_skipped", typ: TypeInt},
		{name: "error_message", typ: TypeText},
	},
	unique: []string{"run_id"},
}

// RunRecord is one row of the run log.
type RunRecord struct {
	RunID      uuid.UUID
	Pipeline   string
	StartedAt  time.Time
	FinishedAt time.Time
	Fetched    int
	Skipped    int
	Summary    UpsertSummary
	Err        error
}

func (r RunRecord) Status() string {
	if r.Err != nil {
		return RunFailed
	}
	return RunSucceeded
}

// RunLog appends run records to the etl_runs table. It writes outside of the
// upsert transaction.
type RunLog struct {
	store Store
	sql   string
}

func NewRunLog(store Store) *RunLog {
	d := store.Dialect()
	columns := make([]string, len(runLogTable.columns))
	for i, c := range runLogTable.columns {
		columns[i] = c.name
	}
	return &RunLog{
		store: store,
		sql: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			d.Quote(runLogTable.name),
			strings.Join(d.quoteAll(columns), ", "),
			strings.Join(d.placeholders(1, len(columns)), ", "),
		),
	}
}

func (l *RunLog) Record(ctx context.Context, run RunRecord) error {
	var message any
	if run.Err != nil {
		msg := run.Err.Error()
		if len(msg) > maxRunMessage {
			msg = strings.ToValidUTF8(msg[:maxRunMessage], "")
		}
		message = msg
	}

	_, err := l.store.Exec(ctx, l.sql,
		run.RunID.String(),
		run.Pipeline,
		run.Status(),
		run.StartedAt.UTC().Format(timestampLayout),
		run.FinishedAt.UTC().Format(timestampLayout),
		run.Fetched,
		run.Skipped,
		run.Summary.DimensionsCreated,
		run.Summary.FactsInserted,
		run.Summary.FactsSkipped,
		message,
	)
	if err != nil {
		return fmt.Errorf("error recording run %s: %w", run.RunID, err)
	}
	return nil
}
