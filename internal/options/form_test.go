package options

import (
	"testing"
)

func testSchemas() map[string]*Schema {
	return map[string]*Schema{
		"default": DefaultSchema(),
		"single bool": MustSchema(
			BoolOption{Name: "Only Flag", Param: "f", Default: true},
		),
		"enums": MustSchema(
			EnumOption{Name: "Size", Param: "s", Values: []string{"s", "m", "l"}, Default: "m"},
			EnumOption{Name: "Output Format", Param: "o", Values: []string{"png", "jpeg"}, Default: "png"},
			BoolOption{Name: "Trim Edges", Param: "t"},
		),
	}
}

func TestReconcileEmptyYieldsDefaults(t *testing.T) {
	for name, s := range testSchemas() {
		t.Run(name, func(t *testing.T) {
			got := Reconcile(s, map[string]any{})

			if len(got) != s.Len() {
				t.Fatalf("expected %d keys, got %d: %v", s.Len(), len(got), got)
			}
			for i, key := range s.Keys() {
				v, ok := got[key]
				if !ok {
					t.Fatalf("missing key %q", key)
				}
				if v != s.entries[i].defaultValue() {
					t.Errorf("%s = %v, want default %v", key, v, s.entries[i].defaultValue())
				}
			}
			if !got.Equal(Reset(s)) {
				t.Errorf("Reset differs from Reconcile with empty map")
			}
		})
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	persisted := []map[string]any{
		nil,
		{"industryType": "car", "addShadow": true},
		{"industryType": "spaceship", "refine": "false", "extra": 42},
		{"addShadow": nil, "refine": 0},
		{"size": "l", "outputFormat": "jpeg", "trimEdges": "TRUE", "onlyFlag": false},
	}
	for name, s := range testSchemas() {
		for _, p := range persisted {
			once := Reconcile(s, p)
			twice := Reconcile(s, once)
			if !once.Equal(twice) {
				t.Errorf("%s: Reconcile not idempotent for %v: %v vs %v", name, p, once, twice)
			}
		}
	}
}

func TestReconcileUsesPersistedValues(t *testing.T) {
	s := DefaultSchema()
	got := Reconcile(s, map[string]any{
		"industryType": "ecommerce",
		"addShadow":    true,
		"refine":       "false",
		"unknownKey":   "dropped",
	})

	if got["industryType"] != "ecommerce" {
		t.Errorf("industryType = %v", got["industryType"])
	}
	if got["addShadow"] != true {
		t.Errorf("addShadow = %v", got["addShadow"])
	}
	if got["refine"] != false {
		t.Errorf("refine = %v", got["refine"])
	}
	if _, ok := got["unknownKey"]; ok {
		t.Error("unknown persisted key survived reconciliation")
	}
}

func TestReconcileFallsBackOnNullAndInvalid(t *testing.T) {
	s := DefaultSchema()
	got := Reconcile(s, map[string]any{
		"industryType": nil,
		"addShadow":    "maybe",
		"refine":       1.0,
	})
	if !got.Equal(Reset(s)) {
		t.Errorf("expected defaults, got %v", got)
	}
}

func TestSet(t *testing.T) {
	s := DefaultSchema()
	base := Reset(s)

	next, err := Set(s, base, "industryType", "human")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next["industryType"] != "human" {
		t.Errorf("industryType = %v", next["industryType"])
	}
	if base["industryType"] != "general" {
		t.Error("Set mutated its input")
	}

	if _, err := Set(s, base, "colour", "red"); err == nil {
		t.Error("expected error for unknown key")
	}
	if _, err := Set(s, base, "industryType", "boat"); err == nil {
		t.Error("expected error for value outside enum")
	}
	if _, err := Set(s, base, "refine", "yes"); err == nil {
		t.Error("expected error for non-boolean value")
	}
}

func TestParams(t *testing.T) {
	s := DefaultSchema()
	f, _ := Set(s, Reset(s), "addShadow", true)

	got := Params(s, f)
	want := []Param{{"i", "general"}, {"shadow", "true"}, {"r", "true"}}
	if len(got) != len(want) {
		t.Fatalf("Params = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Params[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestValuesIsACopy(t *testing.T) {
	s := DefaultSchema()
	f := Reset(s)
	wire := f.Values()
	wire["industryType"] = "car"
	if f["industryType"] != "general" {
		t.Error("Values aliases the FormState")
	}
}
