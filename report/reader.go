package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/datapipes/etl/load"
)

var ErrNotReadOnly = errors.New("only a single SELECT or WITH statement is allowed")

// Reader runs read-only queries against the store. It never writes.
type Reader struct {
	store  load.Store
	logger *slog.Logger
}

func NewReader(store load.Store, logger *slog.Logger) *Reader {
	return &Reader{store: store, logger: logger}
}

// Query executes sqlText with positional params and materializes the result.
// Statements other than a single SELECT or WITH are rejected before reaching
// the database.
func (r *Reader) Query(ctx context.Context, sqlText string, params ...any) (*Table, error) {
	if err := checkReadOnly(sqlText); err != nil {
		return nil, err
	}

	res, err := r.store.Query(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("error running report query: %w", err)
	}

	r.logger.Debug(fmt.Sprintf("Report query returned %d rows", len(res.Rows)))
	return FromResult(res), nil
}

func checkReadOnly(sqlText string) error {
	body, statements := scanStatements(sqlText)
	if statements != 1 {
		return fmt.Errorf("%w: found %d statements", ErrNotReadOnly, statements)
	}

	keyword := strings.ToUpper(firstWord(body))
	if keyword != "SELECT" && keyword != "WITH" {
		return fmt.Errorf("%w: statement starts with %q", ErrNotReadOnly, keyword)
	}

	// WITH may wrap a data-modifying statement.
	words := strings.FieldsFunc(body, func(r rune) bool {
		return !(r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r))
	})
	for _, w := range words {
		if writeKeywords[strings.ToUpper(w)] {
			return fmt.Errorf("%w: found %s", ErrNotReadOnly, strings.ToUpper(w))
		}
	}
	return nil
}

var writeKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true, "UPSERT": true,
	"CREATE": true, "DROP": true, "ALTER": true, "TRUNCATE": true, "GRANT": true,
	"REVOKE": true, "ATTACH": true, "DETACH": true, "COPY": true, "PRAGMA": true,
	"INTO": true, "CALL": true, "EXEC": true, "EXECUTE": true,
}

// scanStatements blanks out comments and quoted text and counts the
// non-empty statements.
func scanStatements(sqlText string) (string, int) {
	var out strings.Builder
	statements := 0
	current := false

	for i := 0; i < len(sqlText); i++ {
		c := sqlText[i]
		switch {
		case c == '-' && i+1 < len(sqlText) && sqlText[i+1] == '-':
			for i < len(sqlText) && sqlText[i] != '\n' {
				i++
			}
			out.WriteByte(' ')
		case c == '/' && i+1 < len(sqlText) && sqlText[i+1] == '*':
			end := strings.Index(sqlText[i+2:], "*/")
			if end < 0 {
				i = len(sqlText)
			} else {
				i += end + 3
			}
			out.WriteByte(' ')
		case c == '\'' || c == '"' || c == '`':
			end := strings.IndexByte(sqlText[i+1:], c)
			if end < 0 {
				i = len(sqlText)
			} else {
				i += end + 1
			}
			out.WriteString("''")
			current = true
		case c == ';':
			if current {
				statements++
				current = false
			}
			out.WriteByte(' ')
		default:
			if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
				current = true
			}
			out.WriteByte(c)
		}
	}
	if current {
		statements++
	}
	return out.String(), statements
}

func firstWord(s string) string {
	s = strings.TrimLeft(s, " \t\r\n(")
	end := strings.IndexFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\r' || r == '\n' || r == '('
	})
	if end < 0 {
		return s
	}
	return s[:end]
}
