// Package ingest holds the logic shared by both dialect-specific SAX
// walkers (internal/ingest/telemetry and internal/ingest/datalink):
// CSV tokenization, finite-number parsing, field-name synthesis, and
// the event-schema/value derivation rule that is
// "same rules as §4.5's E record".
package ingest

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MaxFields mirrors apxtlm.MaxFields so ingest packages can cap
// synthesized/dynamic field lists without importing the encoder
// package purely for a constant.
const MaxFields = 2048

// TokenizeCSV splits s on comma, whitespace, or semicolon, trims each
// token, and drops empties.
func TokenizeCSV(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// ParseFiniteFloat parses tok as a float64, returning ok=false for
// malformed tokens or non-finite results (BadNumeric:
// "recovered by skipping that column in that row").
func ParseFiniteFloat(tok string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// SynthFieldNames returns "#0".."#{n-1}", capped at MaxFields.
func SynthFieldNames(n int) []string {
	if n > MaxFields {
		n = MaxFields
	}
	if n < 0 {
		n = 0
	}
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("#%d", i)
	}
	return out
}

// Attr is an ordered attribute key/value pair, preserving document
// order the way encoding/xml.StartElement.Attr does — event key order
// must be deterministic across runs for the round-trip/idempotence
// property to hold across runs, so this is a slice, not a map.
type Attr struct {
	Key   string
	Value string
}

// EventDerivation is the name/keys/values triple an E or event/evt
// element resolves to ("E record", reused verbatim by
// §4.6 for datalink's event/evt tags).
type EventDerivation struct {
	Name   string
	Keys   []string
	Values []string
}

// DeriveEvent builds an EventDerivation from an element's attributes
// (excluding name and t) plus its trimmed inner text, which becomes a
// synthetic "text" key/value when non-empty.
func DeriveEvent(attrs []Attr, text string) EventDerivation {
	name := ""
	keys := make([]string, 0, len(attrs)+1)
	values := make([]string, 0, len(attrs)+1)
	for _, a := range attrs {
		switch a.Key {
		case "name":
			name = a.Value
		case "t":
			// excluded from the key list
		default:
			keys = append(keys, a.Key)
			values = append(values, a.Value)
		}
	}
	if name == "" {
		name = "event"
	}

	trimmed := strings.TrimSpace(text)
	if trimmed != "" {
		keys = append(keys, "text")
		values = append(values, trimmed)
	}

	return EventDerivation{Name: name, Keys: keys, Values: values}
}
