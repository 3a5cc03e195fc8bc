package jira

import (
	"fmt"
	"strconv"
	"strings"
)

const customFieldPrefix = "customfield_"

// FieldClause returns the JQL reference for a field. Custom fields with the
// standard customfield_N id use the numeric cf[N] form; other ids are quoted.
func FieldClause(fieldID string) string {
	if n, ok := strings.CutPrefix(fieldID, customFieldPrefix); ok {
		if _, err := strconv.ParseUint(n, 10, 64); err == nil {
			return "cf[" + n + "]"
		}
	}
	return strconv.Quote(fieldID)
}

// PopulatedJQL matches every issue where the field has a value.
func PopulatedJQL(fieldID string) string {
	return fmt.Sprintf("%s is not EMPTY", FieldClause(fieldID))
}
