package airtable

import (
	"strings"

	"github.com/ErlanBelekov/prospect-portal/internal/repository"
)

var (
	fieldEscaper  = strings.NewReplacer(`}`, `\}`)
	stringEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)
)

// Formula renders a filter as an Airtable filterByFormula expression.
func Formula(f repository.Filter) string {
	field := "{" + fieldEscaper.Replace(f.Field) + "}"
	if f.FoldCase {
		field = "LOWER(TRIM(" + field + "))"
	}
	value := `"` + stringEscaper.Replace(f.Value) + `"`

	if f.Match == repository.MatchContains {
		return "FIND(" + value + ", " + field + ") > 0"
	}
	return field + " = " + value
}
