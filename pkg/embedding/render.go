package embedding

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// maxFieldChars caps a single rendered field so one large text column does
// not crowd out the rest of the row.
const maxFieldChars = 2000

// RenderRow renders a row as "table: <name> | col: value | ..." with columns
// sorted by name and null values omitted. The output is deterministic.
func RenderRow(table string, row map[string]any) string {
	cols := make([]string, 0, len(row))
	for col, v := range row {
		if v == nil {
			continue
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	parts := make([]string, 0, len(cols)+1)
	parts = append(parts, "table: "+table)
	for _, col := range cols {
		value := renderValue(row[col])
		if value == "" {
			continue
		}
		parts = append(parts, col+": "+value)
	}
	return strings.Join(parts, " | ")
}

func renderValue(v any) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		s = fmt.Sprintf("%g", t)
	case map[string]any, []any:
		raw, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		s = string(raw)
	default:
		s = fmt.Sprint(t)
	}

	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) > maxFieldChars {
		s = string([]rune(s)[:maxFieldChars])
	}
	return s
}
