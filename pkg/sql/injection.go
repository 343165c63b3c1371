// Package sql screens search input for SQL injection and script payloads.
// Search never executes caller text as SQL; findings are recorded in the
// search log so suspicious traffic can be reviewed.
package sql

import (
	"sort"

	libinjection "github.com/corazawaf/libinjection-go"
)

// Finding kinds.
const (
	KindSQLi = "sqli"
	KindXSS  = "xss"
)

// Finding describes one suspicious input value.
type Finding struct {
	Field       string `json:"field"`
	Kind        string `json:"kind"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// CheckValue checks one input value. Only strings (and strings nested in
// slices) can carry a payload; other values return nil.
//
//	CheckValue("text", "wireless mouse")         // nil
//	CheckValue("text", "'; DROP TABLE users--")  // &Finding{Kind: "sqli", ...}
func CheckValue(field string, value any) *Finding {
	switch v := value.(type) {
	case string:
		if isSQLi, fingerprint := libinjection.IsSQLi(v); isSQLi {
			return &Finding{Field: field, Kind: KindSQLi, Fingerprint: string(fingerprint)}
		}
		if libinjection.IsXSS(v) {
			return &Finding{Field: field, Kind: KindXSS}
		}
	case []any:
		for _, item := range v {
			if f := CheckValue(field, item); f != nil {
				return f
			}
		}
	case []string:
		for _, item := range v {
			if f := CheckValue(field, item); f != nil {
				return f
			}
		}
	}
	return nil
}

// CheckSearchInput checks the query text and every metadata filter value.
// Findings are ordered by field, with the text first.
func CheckSearchInput(text string, filter map[string]any) []Finding {
	var findings []Finding
	if f := CheckValue("text", text); f != nil {
		findings = append(findings, *f)
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if f := CheckValue("metadata_filter."+k, filter[k]); f != nil {
			findings = append(findings, *f)
		}
	}
	return findings
}
