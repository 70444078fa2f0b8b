// Package options maps the declarative option schema of the background
// removal transformation to the flat key/value FormState edited by the user
// and persisted by the host.
//
// The schema is a closed set of variants (EnumOption, BoolOption). Form keys
// are derived from option names by Normalize, and NewSchema refuses schemas
// in which two names collapse onto the same key.
package options

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/fpang/erasebg-relay/internal/protocol"
)

// Kind is the wire name of an option variant.
type Kind string

const (
	KindEnum    Kind = "enum"
	KindBoolean Kind = "boolean"
)

// Option is one schema entry. Implemented only by EnumOption and BoolOption.
type Option interface {
	header() header
	kind() Kind
	defaultValue() any
	coerce(v any) (any, bool)
	validate() error
}

type header struct {
	name  string
	title string
	param string
}

// EnumOption selects one of a fixed set of string values.
type EnumOption struct {
	Name    string
	Title   string
	Param   string // short name used in the transformation URL
	Values  []string
	Default string
}

func (o EnumOption) header() header    { return header{o.Name, o.Title, o.Param} }
func (o EnumOption) kind() Kind        { return KindEnum }
func (o EnumOption) defaultValue() any { return o.Default }

func (o EnumOption) coerce(v any) (any, bool) {
	s, ok := v.(string)
	if !ok || !slices.Contains(o.Values, s) {
		return nil, false
	}
	return s, true
}

func (o EnumOption) validate() error {
	if len(o.Values) == 0 {
		return fmt.Errorf("enum option %q has no values", o.Name)
	}
	if !slices.Contains(o.Values, o.Default) {
		return fmt.Errorf("enum option %q: default %q is not one of %v", o.Name, o.Default, o.Values)
	}
	return nil
}

// BoolOption is an on/off flag.
type BoolOption struct {
	Name    string
	Title   string
	Param   string
	Default bool
}

func (o BoolOption) header() header    { return header{o.Name, o.Title, o.Param} }
func (o BoolOption) kind() Kind        { return KindBoolean }
func (o BoolOption) defaultValue() any { return o.Default }
func (o BoolOption) validate() error   { return nil }

func (o BoolOption) coerce(v any) (any, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(b) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return nil, false
}

// Schema is an immutable, validated list of options.
type Schema struct {
	entries []Option
	keys    []string
	index   map[string]int
}

// NewSchema validates opts and builds a Schema. It rejects empty or
// duplicate names, names that normalise to the same key, duplicate
// transformation params, and defaults that are not valid for their option.
func NewSchema(opts ...Option) (*Schema, error) {
	if len(opts) == 0 {
		return nil, errors.New("options: schema has no entries")
	}

	s := &Schema{
		entries: make([]Option, 0, len(opts)),
		keys:    make([]string, 0, len(opts)),
		index:   make(map[string]int, len(opts)),
	}
	params := make(map[string]string, len(opts))

	for _, opt := range opts {
		if opt == nil {
			return nil, errors.New("options: nil entry")
		}
		h := opt.header()
		key := Normalize(h.name)
		if key == "" {
			return nil, fmt.Errorf("options: name %q has no usable characters", h.name)
		}
		if i, dup := s.index[key]; dup {
			return nil, fmt.Errorf("options: %q and %q both normalise to key %q",
				s.entries[i].header().name, h.name, key)
		}
		if h.param == "" {
			return nil, fmt.Errorf("options: %q has no transformation param", h.name)
		}
		if other, dup := params[h.param]; dup {
			return nil, fmt.Errorf("options: %q and %q share param %q", other, h.name, h.param)
		}
		if err := opt.validate(); err != nil {
			return nil, fmt.Errorf("options: %w", err)
		}

		params[h.param] = h.name
		s.index[key] = len(s.entries)
		s.entries = append(s.entries, opt)
		s.keys = append(s.keys, key)
	}
	return s, nil
}

// MustSchema is NewSchema for schemas fixed at compile time.
func MustSchema(opts ...Option) *Schema {
	s, err := NewSchema(opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Keys returns the normalised form keys in schema order.
func (s *Schema) Keys() []string {
	return slices.Clone(s.keys)
}

// Len returns the number of entries.
func (s *Schema) Len() int { return len(s.entries) }

// Has reports whether key is a form key of the schema.
func (s *Schema) Has(key string) bool {
	_, ok := s.index[key]
	return ok
}

// Descriptors renders the schema for the CREATE_FORM message.
func (s *Schema) Descriptors() []protocol.Option {
	out := make([]protocol.Option, 0, len(s.entries))
	for _, opt := range s.entries {
		h := opt.header()
		d := protocol.Option{
			Name:    h.name,
			Title:   h.title,
			Type:    string(opt.kind()),
			Default: opt.defaultValue(),
		}
		if e, ok := opt.(EnumOption); ok {
			d.Enum = slices.Clone(e.Values)
		}
		out = append(out, d)
	}
	return out
}

// Normalize converts an option name to its form key: words are split on
// non-alphanumeric runes and lower-to-upper case changes, the first word is
// lower-cased and the rest are title-cased ("Industry Type" -> "industryType").
func Normalize(name string) string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}

	runes := []rune(name)
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]) {
			flush()
		}
		cur = append(cur, r)
	}
	flush()

	var b strings.Builder
	for i, w := range words {
		lower := []rune(strings.ToLower(w))
		if i > 0 {
			lower[0] = unicode.ToUpper(lower[0])
		}
		b.WriteString(string(lower))
	}
	return b.String()
}
