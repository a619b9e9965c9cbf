package load

import (
	"context"
	"fmt"
	"strings"
)

type Column struct {
	Name string
	Type ColumnType
}

// DimensionSpec describes an entity table: a store generated surrogate id,
// a unique natural key and descriptive columns written once.
type DimensionSpec struct {
	Table    string
	IDColumn string
	Key      Column
	Columns  []Column
}

// FactSpec describes a fact table unique on (DimensionFK, Buckets...).
// Bucket values come from the batch key when it has the column, otherwise
// from the record.
type FactSpec struct {
	Table       string
	IDColumn    string
	DimensionFK string
	Buckets     []Column
	Measures    []Column
}

type Schema struct {
	Name      string
	Dimension DimensionSpec
	Fact      FactSpec
}

var WeatherSchema = Schema{
	Name: "weather",
	Dimension: DimensionSpec{
		Table:    "cities",
		IDColumn: "id",
		Key:      Column{"city_id", TypeInt},
		Columns: []Column{
			{"city_name", TypeText},
			{"country_code", TypeText},
		},
	},
	Fact: FactSpec{
		Table:       "weather_readings",
		IDColumn:    "id",
		DimensionFK: "city_ref",
		Buckets: []Column{
			{"observation_timestamp_utc", TypeTimestamp},
		},
		Measures: []Column{
			{"temperature_celsius", TypeFloat},
			{"feels_like_celsius", TypeFloat},
			{"min_temperature_celsius", TypeFloat},
			{"max_temperature_celsius", TypeFloat},
			{"humidity_percent", TypeInt},
			{"pressure_hpa", TypeInt},
			{"visibility_meters", TypeInt},
			{"wind_speed_ms", TypeFloat},
			{"wind_direction_deg", TypeInt},
			{"weather_condition", TypeText},
			{"weather_description", TypeText},
			{"sunrise_utc", TypeTimestamp},
			{"sunset_utc", TypeTimestamp},
			{"daylight_duration_hours", TypeFloat},
		},
	},
}

var PageviewsSchema = Schema{
	Name: "pageviews",
	Dimension: DimensionSpec{
		Table:    "companies",
		IDColumn: "id",
		Key:      Column{"page_title", TypeText},
		Columns: []Column{
			{"company_name", TypeText},
			{"domain_code", TypeText},
		},
	},
	Fact: FactSpec{
		Table:       "pageviews_hourly",
		IDColumn:    "id",
		DimensionFK: "company_id",
		Buckets: []Column{
			{"day", TypeText},
			{"hour", TypeInt},
		},
		Measures: []Column{
			{"view_count", TypeInt},
			{"response_size", TypeInt},
		},
	},
}

var SurveySchema = Schema{
	Name: "survey",
	Dimension: DimensionSpec{
		Table:    "industries",
		IDColumn: "id",
		Key:      Column{"industry_code", TypeText},
		Columns: []Column{
			{"industry_name", TypeText},
			{"industry_level", TypeText},
		},
	},
	Fact: FactSpec{
		Table:       "survey_values",
		IDColumn:    "id",
		DimensionFK: "industry_id",
		Buckets: []Column{
			{"survey_year", TypeInt},
			{"variable_code", TypeText},
		},
		Measures: []Column{
			{"variable_name", TypeText},
			{"variable_category", TypeText},
			{"units", TypeText},
			{"value", TypeFloat},
		},
	},
}

// Schemas lists the built-in pipeline schemas by name.
var Schemas = map[string]Schema{
	WeatherSchema.Name:   WeatherSchema,
	PageviewsSchema.Name: PageviewsSchema,
	SurveySchema.Name:    SurveySchema,
}

type tableDef struct {
	name    string
	id      string
	columns []columnDef
	unique  []string
	fk      *foreignKey
}

type columnDef struct {
	name    string
	typ     ColumnType
	notNull bool
}

type foreignKey struct {
	column    string
	refTable  string
	refColumn string
}

// createTableStatements renders the statements creating t if it does not exist yet.
func (d *Dialect) createTableStatements(t tableDef) []string {
	idDef, pre := d.identity(d, t.name, t.id)

	lines := []string{"  " + idDef}
	for _, c := range t.columns {
		line := fmt.Sprintf("  %s %s", d.quote(c.name), d.columnType(c.typ))
		if c.notNull {
			line += " NOT NULL"
		}
		lines = append(lines, line)
	}
	if len(t.unique) > 0 {
		lines = append(lines, fmt.Sprintf("  UNIQUE (%s)", strings.Join(d.quoteAll(t.unique), ", ")))
	}
	if t.fk != nil {
		fk := fmt.Sprintf("  FOREIGN KEY (%s) REFERENCES %s (%s)",
			d.quote(t.fk.column), d.quote(t.fk.refTable), d.quote(t.fk.refColumn))
		if d.cascade {
			fk += " ON DELETE CASCADE"
		}
		lines = append(lines, fk)
	}

	return append(pre, d.createTable(d, t.name, strings.Join(lines, ",\n")))
}

func (s Schema) tables() []tableDef {
	dim := tableDef{
		name:    s.Dimension.Table,
		id:      s.Dimension.IDColumn,
		columns: []columnDef{{name: s.Dimension.Key.Name, typ: s.Dimension.Key.Type, notNull: true}},
		unique:  []string{s.Dimension.Key.Name},
	}
	for _, c := range s.Dimension.Columns {
		dim.columns = append(dim.columns, columnDef{name: c.Name, typ: c.Type})
	}
	dim.columns = append(dim.columns, columnDef{name: "created_at", typ: TypeCreatedAt})

	fact := tableDef{
		name:    s.Fact.Table,
		id:      s.Fact.IDColumn,
		columns: []columnDef{{name: s.Fact.DimensionFK, typ: TypeInt, notNull: true}},
		unique:  []string{s.Fact.DimensionFK},
		fk: &foreignKey{
			column:    s.Fact.DimensionFK,
			refTable:  s.Dimension.Table,
			refColumn: s.Dimension.IDColumn,
		},
	}
	for _, c := range s.Fact.Buckets {
		fact.columns = append(fact.columns, columnDef{name: c.Name, typ: c.Type, notNull: true})
		fact.unique = append(fact.unique, c.Name)
	}
	for _, c := range s.Fact.Measures {
		fact.columns = append(fact.columns, columnDef{name: c.Name, typ: c.Type})
	}
	fact.columns = append(fact.columns, columnDef{name: "created_at", typ: TypeCreatedAt})

	return []tableDef{dim, fact}
}

// DDL returns the CREATE statements for the schema in dependency order.
func (s Schema) DDL(d *Dialect) []string {
	var stmts []string
	for _, t := range s.tables() {
		stmts = append(stmts, d.createTableStatements(t)...)
	}
	return stmts
}

// EnsureSchema creates the tables of every schema, and the run log table,
// when they are missing. Existing tables are left untouched.
func EnsureSchema(ctx context.Context, store Store, schemas ...Schema) error {
	stmts := store.Dialect().createTableStatements(runLogTable)
	for _, s := range schemas {
		stmts = append(stmts, s.DDL(store.Dialect())...)
	}

	for _, stmt := range stmts {
		if _, err := store.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("error creating schema: %w\n%s", err, stmt)
		}
	}
	return nil
}
