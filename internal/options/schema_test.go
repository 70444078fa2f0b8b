package options

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Industry Type", "industryType"},
		{"Add Shadow", "addShadow"},
		{"Refine", "refine"},
		{"add_shadow", "addShadow"},
		{"  spaced   out  ", "spacedOut"},
		{"alreadyCamel", "alreadyCamel"},
		{"HTTP Mode", "httpMode"},
		{"v2 output", "v2Output"},
		{"---", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	for _, name := range []string{"Industry Type", "Add Shadow", "Refine"} {
		if Normalize(name) != Normalize(name) {
			t.Errorf("Normalize(%q) not deterministic", name)
		}
	}
}

func TestNewSchemaRejects(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr string
	}{
		{"empty", nil, "no entries"},
		{
			"normalised collision",
			[]Option{
				BoolOption{Name: "Add Shadow", Param: "a"},
				BoolOption{Name: "add_shadow", Param: "b"},
			},
			"both normalise to key",
		},
		{
			"exact duplicate",
			[]Option{
				BoolOption{Name: "Refine", Param: "a"},
				BoolOption{Name: "Refine", Param: "b"},
			},
			"both normalise to key",
		},
		{"unusable name", []Option{BoolOption{Name: "!!", Param: "a"}}, "no usable characters"},
		{"missing param", []Option{BoolOption{Name: "Refine"}}, "no transformation param"},
		{
			"shared param",
			[]Option{
				BoolOption{Name: "One", Param: "x"},
				BoolOption{Name: "Two", Param: "x"},
			},
			"share param",
		},
		{
			"enum default outside values",
			[]Option{EnumOption{Name: "Mode", Param: "m", Values: []string{"a", "b"}, Default: "c"}},
			"is not one of",
		},
		{
			"enum without values",
			[]Option{EnumOption{Name: "Mode", Param: "m"}},
			"has no values",
		},
		{"nil entry", []Option{nil}, "nil entry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSchema(tt.opts...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultSchema(t *testing.T) {
	s := DefaultSchema()

	keys := s.Keys()
	want := []string{"industryType", "addShadow", "refine"}
	if len(keys) != len(want) {
		t.Fatalf("Keys() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, keys[i], want[i])
		}
	}

	desc := s.Descriptors()
	if desc[0].Type != "enum" || len(desc[0].Enum) != len(IndustryTypes) || desc[0].Default != "general" {
		t.Errorf("unexpected industry descriptor: %+v", desc[0])
	}
	if desc[1].Type != "boolean" || desc[1].Default != false {
		t.Errorf("unexpected shadow descriptor: %+v", desc[1])
	}
	if desc[2].Default != true {
		t.Errorf("unexpected refine descriptor: %+v", desc[2])
	}

	// Descriptors must not alias schema state.
	desc[0].Enum[0] = "mutated"
	if s.Descriptors()[0].Enum[0] != "general" {
		t.Error("Descriptors exposes internal enum slice")
	}
}
