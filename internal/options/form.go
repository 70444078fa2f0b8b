package options

import (
	"fmt"
	"maps"
	"strconv"

	"github.com/fpang/erasebg-relay/internal/protocol"
)

// FormState maps each normalised option key to its current value. Values are
// string (enum) or bool (boolean). A FormState produced by this package
// always has exactly the schema's key set.
type FormState map[string]any

// Reconcile builds a FormState from persisted values: for every schema entry
// the persisted value is used when present, non-nil and valid for the option,
// otherwise the schema default. Persisted keys unknown to the schema are
// dropped.
func Reconcile(s *Schema, persisted map[string]any) FormState {
	out := make(FormState, len(s.entries))
	for i, opt := range s.entries {
		key := s.keys[i]
		out[key] = opt.defaultValue()

		raw, ok := persisted[key]
		if !ok || raw == nil {
			continue
		}
		if v, ok := opt.coerce(raw); ok {
			out[key] = v
		}
	}
	return out
}

// Reset returns the schema defaults.
func Reset(s *Schema) FormState {
	return Reconcile(s, nil)
}

// Set returns a copy of f with key set to value. Unknown keys and values that
// are invalid for the option are rejected and f is left untouched.
func Set(s *Schema, f FormState, key string, value any) (FormState, error) {
	i, ok := s.index[key]
	if !ok {
		return nil, fmt.Errorf("options: unknown key %q", key)
	}
	v, ok := s.entries[i].coerce(value)
	if !ok {
		return nil, fmt.Errorf("options: invalid value %v for %q", value, key)
	}
	out := Reconcile(s, f)
	out[key] = v
	return out, nil
}

// Clone returns an independent copy of f.
func (f FormState) Clone() FormState {
	return maps.Clone(f)
}

// Values converts f to its wire form.
func (f FormState) Values() protocol.FormValues {
	return protocol.FormValues(maps.Clone(f))
}

// Equal reports whether f and other hold the same keys and values.
func (f FormState) Equal(other FormState) bool {
	return maps.Equal(f, other)
}

// Param is one transformation parameter derived from a FormState.
type Param struct {
	Key   string
	Value string
}

// Params returns the transformation parameters for f in schema order.
// f is reconciled first, so missing or invalid values fall back to defaults.
func Params(s *Schema, f FormState) []Param {
	rec := Reconcile(s, f)
	out := make([]Param, 0, len(s.entries))
	for i, opt := range s.entries {
		out = append(out, Param{
			Key:   opt.header().param,
			Value: formatValue(rec[s.keys[i]]),
		})
	}
	return out
}

func formatValue(v any) string {
	switch t := v.(type) {
	case bool:
		return strconv.FormatBool(t)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
