package wolke

import (
	"fmt"
	"strings"
)

// Dialect describes the SQL flavor of a connection: driver name and the
// placeholder style queries are rebound to before execution.
type Dialect struct {
	DriverName                string
	PlaceholderChar           string
	IncludeIndexInPlaceholder bool
}

// Dialects holds the supported SQL dialects.
var Dialects = &struct {
	MySQL      *Dialect
	PostgreSQL *Dialect
	SQLite3    *Dialect
}{
	MySQL: &Dialect{
		DriverName:                "mysql",
		PlaceholderChar:           "?",
		IncludeIndexInPlaceholder: false,
	},

	PostgreSQL: &Dialect{
		DriverName:                "pgx",
		PlaceholderChar:           "$",
		IncludeIndexInPlaceholder: true,
	},

	SQLite3: &Dialect{
		DriverName:                "sqlite3",
		PlaceholderChar:           "?",
		IncludeIndexInPlaceholder: false,
	},
}

// Rebind converts a query built with "?" placeholders into the dialect's
// placeholder style. Question marks inside single-quoted literals are left
// untouched.
func (d *Dialect) Rebind(query string) string {
	if !d.IncludeIndexInPlaceholder {
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + 8)

	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			sb.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			fmt.Fprintf(&sb, "%s%d", d.PlaceholderChar, n)
		default:
			sb.WriteRune(r)
		}
	}

	return sb.String()
}
