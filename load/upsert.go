package load

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/datapipes/etl/transform"
	"github.com/datapipes/etl/utils"
)

// Partition is one column of a batch key, e.g. day=2025-10-22.
type Partition struct {
	Column string
	Value  any
}

// BatchKey holds the bucket values shared by every fact row of a batch. It is
// empty when each record carries its own time bucket.
type BatchKey []Partition

func (b BatchKey) lookup(column string) (any, bool) {
	for _, p := range b {
		if p.Column == column {
			return p.Value, true
		}
	}
	return nil, false
}

func (b BatchKey) String() string {
	if len(b) == 0 {
		return "-"
	}
	parts := make([]string, len(b))
	for i, p := range b {
		parts[i] = fmt.Sprintf("%s=%v", p.Column, p.Value)
	}
	return strings.Join(parts, " ")
}

// UpsertSummary counts what a committed batch changed.
type UpsertSummary struct {
	DimensionsCreated int
	FactsInserted     int
	FactsSkipped      int
}

// Upserter writes normalized records into one dimension and one fact table
// with insert-if-absent semantics. Existing rows are never updated.
type Upserter struct {
	store  Store
	schema Schema
	logger *slog.Logger

	dimColumns  []string
	factColumns []string

	insertDimensionSQL string
	selectDimensionSQL string
	insertFactSQL      string
}

func NewUpserter(store Store, schema Schema, logger *slog.Logger) *Upserter {
	d := store.Dialect()
	dim, fact := schema.Dimension, schema.Fact

	dimColumns := []string{dim.Key.Name}
	for _, c := range dim.Columns {
		dimColumns = append(dimColumns, c.Name)
	}

	factColumns := []string{fact.DimensionFK}
	conflict := []string{fact.DimensionFK}
	for _, c := range fact.Buckets {
		factColumns = append(factColumns, c.Name)
		conflict = append(conflict, c.Name)
	}
	for _, c := range fact.Measures {
		factColumns = append(factColumns, c.Name)
	}

	return &Upserter{
		store:              store,
		schema:             schema,
		logger:             logger,
		dimColumns:         dimColumns,
		factColumns:        factColumns,
		insertDimensionSQL: d.InsertIfAbsent(dim.Table, dimColumns, []string{dim.Key.Name}, dim.IDColumn),
		selectDimensionSQL: fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
			d.Quote(dim.IDColumn), d.Quote(dim.Table), d.Quote(dim.Key.Name), d.Placeholder(1)),
		insertFactSQL: d.InsertIfAbsent(fact.Table, factColumns, conflict, ""),
	}
}

// Upsert writes the batch in a single transaction:
//
//  1. dimension rows are deduplicated by natural key, first occurrence wins
//  2. each dimension row is inserted if absent and its surrogate id resolved
//     inside the same transaction
//  3. each fact row is inserted if absent on (dimension id, buckets)
//
// Any error rolls the whole batch back and is returned as an *UpsertError.
// Calling Upsert twice with the same batch changes nothing the second time.
func (u *Upserter) Upsert(ctx context.Context, records []transform.Record, batchKey BatchKey) (UpsertSummary, error) {
	if err := u.validate(records, batchKey); err != nil {
		return UpsertSummary{}, err
	}

	dim := u.schema.Dimension
	unique := utils.DedupeFirst(records, func(r transform.Record) string {
		return naturalKey(r.Values[dim.Key.Name])
	})

	tx, err := u.store.Begin(ctx)
	if err != nil {
		return UpsertSummary{}, u.wrap(err, "begin", "", "")
	}

	summary, err := u.write(ctx, tx, records, unique, batchKey)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			u.logger.Error("Error rolling back upsert", "table", dim.Table, "error", rbErr)
		}
		return UpsertSummary{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return UpsertSummary{}, u.wrapKind(KindTransaction, err, "commit", "", "")
	}

	u.logger.Info(fmt.Sprintf("Upserted batch into %s/%s", dim.Table, u.schema.Fact.Table),
		"batch", batchKey.String(),
		"dimensions_created", summary.DimensionsCreated,
		"facts_inserted", summary.FactsInserted,
		"facts_skipped", summary.FactsSkipped,
	)
	return summary, nil
}

func (u *Upserter) write(ctx context.Context, tx Tx, records, unique []transform.Record, batchKey BatchKey) (UpsertSummary, error) {
	var summary UpsertSummary
	dim, fact := u.schema.Dimension, u.schema.Fact

	ids := make(map[string]int64, len(unique))
	for _, rec := range unique {
		id, created, err := u.resolveDimension(ctx, tx, rec)
		if errors.Is(err, errConcurrentKey) {
			return summary, u.wrapKind(KindTransaction, err, "insert dimension", dim.Table, rec.Name)
		}
		if err != nil {
			return summary, u.wrap(err, "insert dimension", dim.Table, rec.Name)
		}
		if created {
			summary.DimensionsCreated++
		}
		ids[naturalKey(rec.Values[dim.Key.Name])] = id
	}

	for _, rec := range records {
		id := ids[naturalKey(rec.Values[dim.Key.Name])]
		n, err := tx.Exec(ctx, u.insertFactSQL, u.factArgs(id, rec, batchKey)...)
		if err != nil {
			return summary, u.wrap(err, "insert fact", fact.Table, rec.Name)
		}
		if n > 0 {
			summary.FactsInserted++
		} else {
			summary.FactsSkipped++
		}
	}

	return summary, nil
}

// resolveDimension inserts the dimension row unless its natural key exists and
// returns the surrogate id either way.
func (u *Upserter) resolveDimension(ctx context.Context, tx Tx, rec transform.Record) (id int64, created bool, err error) {
	args := make([]any, len(u.dimColumns))
	for i, col := range u.dimColumns {
		args[i] = rec.Values[col]
	}
	key := rec.Values[u.schema.Dimension.Key.Name]

	if u.store.Dialect().SupportsReturning() {
		err := tx.QueryRow(ctx, u.insertDimensionSQL, args...).Scan(&id)
		if err == nil {
			return id, true, nil
		}
		if !errors.Is(err, ErrNoRows) {
			return 0, false, err
		}
		// Conflict: the row exists, read it back.
		err = tx.QueryRow(ctx, u.selectDimensionSQL, key).Scan(&id)
		if errors.Is(err, ErrNoRows) {
			// The conflicting row belongs to a transaction this snapshot
			// cannot see (DuckDB). Rerunning the batch resolves it.
			return 0, false, errConcurrentKey
		}
		return id, false, err
	}

	n, err := tx.Exec(ctx, u.insertDimensionSQL, args...)
	if err != nil {
		return 0, false, err
	}
	if err := tx.QueryRow(ctx, u.selectDimensionSQL, key).Scan(&id); err != nil {
		return 0, false, err
	}
	return id, n > 0, nil
}

func (u *Upserter) factArgs(id int64, rec transform.Record, batchKey BatchKey) []any {
	args := make([]any, len(u.factColumns))
	args[0] = id
	for i, col := range u.factColumns[1:] {
		if v, ok := batchKey.lookup(col); ok {
			args[i+1] = v
			continue
		}
		args[i+1] = rec.Values[col]
	}
	return args
}

// validate rejects the batch before anything is written.
func (u *Upserter) validate(records []transform.Record, batchKey BatchKey) error {
	if len(records) == 0 {
		return &UpsertError{Kind: KindInvalidBatch, Op: "validate", Err: errors.New("empty batch")}
	}

	keyCol := u.schema.Dimension.Key.Name
	for _, rec := range records {
		if isMissing(rec.Values[keyCol]) {
			return &UpsertError{
				Kind:   KindMissingKey,
				Op:     "validate",
				Table:  u.schema.Dimension.Table,
				Record: rec.Name,
				Err:    fmt.Errorf("natural key %s is missing", keyCol),
			}
		}
		for _, bucket := range u.schema.Fact.Buckets {
			if _, ok := batchKey.lookup(bucket.Name); ok {
				continue
			}
			if isMissing(rec.Values[bucket.Name]) {
				return &UpsertError{
					Kind:   KindMissingKey,
					Op:     "validate",
					Table:  u.schema.Fact.Table,
					Record: rec.Name,
					Err:    fmt.Errorf("time bucket %s is missing", bucket.Name),
				}
			}
		}
	}
	return nil
}

func (u *Upserter) wrap(err error, op, table, record string) error {
	return u.wrapKind(u.store.Dialect().Classify(err), err, op, table, record)
}

func (u *Upserter) wrapKind(kind ErrorKind, err error, op, table, record string) error {
	return &UpsertError{Kind: kind, Op: op, Table: table, Record: record, Err: err}
}

func isMissing(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// naturalKey is the in-batch identity of a key value. A mapping always yields
// the same Go type for its key, so the printed form is unambiguous.
func naturalKey(v any) string {
	return fmt.Sprint(v)
}
