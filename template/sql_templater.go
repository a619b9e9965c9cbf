package template

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"text/template"
)

//go:embed queries/*.sql
var queryFS embed.FS

// Dialect is the part of a SQL dialect templates need.
type Dialect interface {
	Name() string
	Placeholder(n int) string
	Quote(ident string) string
}

// Query is a rendered statement and its bind arguments in placeholder order.
type Query struct {
	SQL  string
	Args []any
}

// Render executes the embedded query template queries/<name>.sql.
func Render(name string, d Dialect, params map[string]any) (Query, error) {
	content, err := queryFS.ReadFile("queries/" + name + ".sql")
	if err != nil {
		return Query{}, fmt.Errorf("unknown query %q: %w", name, err)
	}
	return RenderString(name, string(content), d, params)
}

// RenderString executes a query template. Inside the template
//
//	{{param .Day}}   binds a value and prints the dialect's placeholder
//	{{ident "day"}}  prints a quoted identifier
//	{{dialect}}      prints the dialect name, for {{if eq dialect "sqlserver"}} branches
//
// Referencing a parameter that is not in params is an error.
func RenderString(name, text string, d Dialect, params map[string]any) (Query, error) {
	var args []any
	funcs := template.FuncMap{
		"param": func(v any) string {
			args = append(args, v)
			return d.Placeholder(len(args))
		},
		"ident":   d.Quote,
		"dialect": d.Name,
	}

	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return Query{}, fmt.Errorf("failed to parse query template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return Query{}, fmt.Errorf("failed to render query template %s: %w", name, err)
	}

	return Query{SQL: buf.String(), Args: args}, nil
}

// Names lists the embedded query templates.
func Names() ([]string, error) {
	entries, err := queryFS.ReadDir("queries")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name()[:len(e.Name())-len(".sql")])
	}
	return names, nil
}

// ReadSqlTemplate reads a SQL template file and returns its contents as a string
func ReadSqlTemplate(templatePath string) (string, error) {
	content, err := os.ReadFile(templatePath)
	if err != nil {
		return "", fmt.Errorf("failed to read template file: %w", err)
	}
	return string(content), nil
}
