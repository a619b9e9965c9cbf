package load

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/datapipes/etl/config"
	"github.com/datapipes/etl/transform"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func setupSQLite(t *testing.T, schemas ...Schema) Store {
	t.Helper()

	store, err := Open(context.Background(), config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, EnsureSchema(context.Background(), store, schemas...))
	return store
}

func countRows(t *testing.T, store Store, table string) int64 {
	t.Helper()

	res, err := store.Query(context.Background(), "SELECT COUNT(*) FROM "+store.Dialect().Quote(table))
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	n, ok := res.Rows[0][0].(int64)
	require.True(t, ok, "unexpected count type %T", res.Rows[0][0])
	return n
}

func weatherRecord(cityID int64, name, observedAt string, temp float64) transform.Record {
	return transform.Record{
		Name: name,
		Values: map[string]any{
			"city_id":                   cityID,
			"city_name":                 name,
			"country_code":              "NG",
			"observation_timestamp_utc": observedAt,
			"temperature_celsius":       temp,
			"humidity_percent":          int64(70),
			"weather_condition":         "Clouds",
		},
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	store := setupSQLite(t, WeatherSchema)
	upserter := NewUpserter(store, WeatherSchema, testLogger())
	ctx := context.Background()

	batch := []transform.Record{weatherRecord(1, "Abuja", "2025-09-25 00:37:47", 30.5)}

	summary, err := upserter.Upsert(ctx, batch, nil)
	require.NoError(t, err)
	assert.Equal(t, UpsertSummary{DimensionsCreated: 1, FactsInserted: 1, FactsSkipped: 0}, summary)

	before, err := store.Query(ctx, "SELECT * FROM weather_readings")
	require.NoError(t, err)

	summary, err = upserter.Upsert(ctx, batch, nil)
	require.NoError(t, err)
	assert.Equal(t, UpsertSummary{DimensionsCreated: 0, FactsInserted: 0, FactsSkipped: 1}, summary)

	assert.Equal(t, int64(1), countRows(t, store, "cities"))
	assert.Equal(t, int64(1), countRows(t, store, "weather_readings"))

	after, err := store.Query(ctx, "SELECT * FROM weather_readings")
	require.NoError(t, err)
	assert.Equal(t, before.ByColumn(), after.ByColumn())
}

func TestUpsertDedupesDimensionsWithinBatch(t *testing.T) {
	store := setupSQLite(t, WeatherSchema)
	upserter := NewUpserter(store, WeatherSchema, testLogger())
	ctx := context.Background()

	first := weatherRecord(1, "Abuja", "2025-09-25 00:37:47", 30.5)
	second := weatherRecord(1, "Abuja Renamed", "2025-09-25 01:37:47", 29.0)

	summary, err := upserter.Upsert(ctx, []transform.Record{first, second}, nil)
	require.NoError(t, err)
	assert.Equal(t, UpsertSummary{DimensionsCreated: 1, FactsInserted: 2}, summary)

	res, err := store.Query(ctx, "SELECT city_name FROM cities")
	require.NoError(t, err)
	assert.Equal(t, []string{"Abuja"}, res.ByColumn()["city_name"])

	res, err = store.Query(ctx, "SELECT DISTINCT r.city_ref FROM weather_readings r JOIN cities c ON c.id = r.city_ref")
	require.NoError(t, err)
	assert.Len(t, res.Rows, 1)
}

func TestUpsertDoesNotUpdateExistingDimension(t *testing.T) {
	store := setupSQLite(t, WeatherSchema)
	upserter := NewUpserter(store, WeatherSchema, testLogger())
	ctx := context.Background()

	_, err := upserter.Upsert(ctx, []transform.Record{weatherRecord(1, "Abuja", "2025-09-25 00:37:47", 30.5)}, nil)
	require.NoError(t, err)

	summary, err := upserter.Upsert(ctx, []transform.Record{weatherRecord(1, "Other", "2025-09-25 03:00:00", 28.0)}, nil)
	require.NoError(t, err)
	assert.Equal(t, UpsertSummary{DimensionsCreated: 0, FactsInserted: 1}, summary)

	res, err := store.Query(ctx, "SELECT city_name FROM cities")
	require.NoError(t, err)
	assert.Equal(t, []string{"Abuja"}, res.ByColumn()["city_name"])
	assert.Equal(t, int64(2), countRows(t, store, "weather_readings"))
}

func TestUpsertWithBatchKey(t *testing.T) {
	store := setupSQLite(t, PageviewsSchema)
	upserter := NewUpserter(store, PageviewsSchema, testLogger())
	ctx := context.Background()

	records := []transform.Record{
		{Name: "Apple_Inc.", Values: map[string]any{"page_title": "Apple_Inc.", "company_name": "Apple", "domain_code": "en", "view_count": int64(120), "response_size": int64(0)}},
		{Name: "Amazon_(company)", Values: map[string]any{"page_title": "Amazon_(company)", "company_name": "Amazon", "domain_code": "en", "view_count": int64(80), "response_size": int64(0)}},
	}
	key := BatchKey{{Column: "day", Value: "2025-10-22"}, {Column: "hour", Value: 14}}

	summary, err := upserter.Upsert(ctx, records, key)
	require.NoError(t, err)
	assert.Equal(t, UpsertSummary{DimensionsCreated: 2, FactsInserted: 2}, summary)

	// Same companies, next hour: new facts only.
	next := BatchKey{{Column: "day", Value: "2025-10-22"}, {Column: "hour", Value: 15}}
	summary, err = upserter.Upsert(ctx, records, next)
	require.NoError(t, err)
	assert.Equal(t, UpsertSummary{DimensionsCreated: 0, FactsInserted: 2}, summary)

	summary, err = upserter.Upsert(ctx, records, key)
	require.NoError(t, err)
	assert.Equal(t, UpsertSummary{FactsSkipped: 2}, summary)

	res, err := store.Query(ctx, "SELECT hour, COUNT(*) AS n FROM pageviews_hourly GROUP BY hour ORDER BY hour")
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"hour": {"14", "15"}, "n": {"2", "2"}}, res.ByColumn())
}

func TestUpsertRejectsInvalidBatches(t *testing.T) {
	tests := []struct {
		name    string
		records []transform.Record
		kind    ErrorKind
	}{
		{
			name:    "empty batch",
			records: nil,
			kind:    KindInvalidBatch,
		},
		{
			name: "nil natural key",
			records: []transform.Record{
				weatherRecord(1, "Abuja", "2025-09-25 00:37:47", 30.5),
				{Name: "Broken", Values: map[string]any{"city_id": nil, "observation_timestamp_utc": "2025-09-25 00:37:47"}},
			},
			kind: KindMissingKey,
		},
		{
			name: "absent natural key",
			records: []transform.Record{
				{Name: "Broken", Values: map[string]any{"observation_timestamp_utc": "2025-09-25 00:37:47"}},
			},
			kind: KindMissingKey,
		},
		{
			name: "missing time bucket",
			records: []transform.Record{
				{Name: "Abuja", Values: map[string]any{"city_id": int64(1), "city_name": "Abuja"}},
			},
			kind: KindMissingKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupSQLite(t, WeatherSchema)
			upserter := NewUpserter(store, WeatherSchema, testLogger())

			summary, err := upserter.Upsert(context.Background(), tt.records, nil)
			require.Error(t, err)
			assert.True(t, IsKind(err, tt.kind), "got %v", err)
			assert.Equal(t, UpsertSummary{}, summary)

			assert.Equal(t, int64(0), countRows(t, store, "cities"))
			assert.Equal(t, int64(0), countRows(t, store, "weather_readings"))
		})
	}
}

func TestUpsertRejectsEmptyStringKey(t *testing.T) {
	store := setupSQLite(t, PageviewsSchema)
	upserter := NewUpserter(store, PageviewsSchema, testLogger())

	records := []transform.Record{{Name: "blank", Values: map[string]any{"page_title": "  ", "view_count": int64(1)}}}
	_, err := upserter.Upsert(context.Background(), records, BatchKey{{Column: "day", Value: "2025-10-22"}, {Column: "hour", Value: 0}})

	var uerr *UpsertError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, KindMissingKey, uerr.Kind)
	assert.Equal(t, "blank", uerr.Record)
}

func TestUpsertRollsBackOnFailure(t *testing.T) {
	store := setupSQLite(t, WeatherSchema)
	upserter := NewUpserter(store, WeatherSchema, testLogger())
	ctx := context.Background()

	_, err := store.Exec(ctx, "DROP TABLE weather_readings")
	require.NoError(t, err)

	summary, err := upserter.Upsert(ctx, []transform.Record{weatherRecord(1, "Abuja", "2025-09-25 00:37:47", 30.5)}, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSchema), "got %v", err)
	assert.Equal(t, UpsertSummary{}, summary)

	var uerr *UpsertError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "weather_readings", uerr.Table)
	assert.Equal(t, "Abuja", uerr.Record)

	// The dimension insert that preceded the failure is gone as well.
	assert.Equal(t, int64(0), countRows(t, store, "cities"))
}

func TestUpsertMissingDimensionTable(t *testing.T) {
	store := setupSQLite(t)
	upserter := NewUpserter(store, WeatherSchema, testLogger())

	_, err := upserter.Upsert(context.Background(), []transform.Record{weatherRecord(1, "Abuja", "2025-09-25 00:37:47", 30.5)}, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSchema), "got %v", err)
}

func TestUpsertConcurrentRuns(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "etl.db")}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, EnsureSchema(ctx, store, WeatherSchema))

	const rounds, runs = 10, 4
	var (
		mu   sync.Mutex
		errs []error
	)
	for round := range rounds {
		batch := []transform.Record{
			weatherRecord(int64(round), fmt.Sprintf("City %d", round), "2025-09-25 00:37:47", 30.5),
		}

		var wg conc.WaitGroup
		for range runs {
			wg.Go(func() {
				upserter := NewUpserter(store, WeatherSchema, testLogger())
				if _, err := upserter.Upsert(ctx, batch, nil); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			})
		}
		wg.Wait()
	}

	assert.Empty(t, errs)
	assert.Equal(t, int64(rounds), countRows(t, store, "cities"))
	assert.Equal(t, int64(rounds), countRows(t, store, "weather_readings"))
}

// hiddenConflictStore behaves like DuckDB when another open transaction holds
// the key: the insert returns nothing and the read-back finds nothing.
type hiddenConflictStore struct {
	Store
}

func (hiddenConflictStore) Dialect() *Dialect { return duckdbDialect }

func (hiddenConflictStore) Begin(context.Context) (Tx, error) { return hiddenConflictTx{}, nil }

type hiddenConflictTx struct{}

func (hiddenConflictTx) Exec(context.Context, string, ...any) (int64, error) { return 1, nil }

func (hiddenConflictTx) QueryRow(context.Context, string, ...any) Row { return noRow{} }

func (hiddenConflictTx) Commit(context.Context) error { return nil }

func (hiddenConflictTx) Rollback(context.Context) error { return nil }

type noRow struct{}

func (noRow) Scan(...any) error { return ErrNoRows }

func TestUpsertInvisibleConflictIsTransactionError(t *testing.T) {
	upserter := NewUpserter(hiddenConflictStore{}, WeatherSchema, testLogger())

	_, err := upserter.Upsert(context.Background(), []transform.Record{weatherRecord(1, "Abuja", "2025-09-25 00:37:47", 30.5)}, nil)

	var uerr *UpsertError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, KindTransaction, uerr.Kind)
	assert.Equal(t, "cities", uerr.Table)
	assert.Contains(t, err.Error(), "concurrent load")
	assert.NotContains(t, err.Error(), "no rows in result set")
}

func TestBatchKeyString(t *testing.T) {
	assert.Equal(t, "-", BatchKey(nil).String())
	assert.Equal(t, "day=2025-10-22 hour=14", BatchKey{{"day", "2025-10-22"}, {"hour", 14}}.String())
}
