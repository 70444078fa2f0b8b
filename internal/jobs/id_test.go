package jobs

import "testing"

func TestGenerateID(t *testing.T) {
	a := GenerateID(TransformPrefix)
	b := GenerateID(TransformPrefix)

	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
	if !HasPrefix(a, TransformPrefix) {
		t.Errorf("id %q missing prefix %q", a, TransformPrefix)
	}
	if len(a) != len(TransformPrefix)+16 {
		t.Errorf("unexpected id length %d for %q", len(a), a)
	}
}

func TestHasPrefix(t *testing.T) {
	if HasPrefix("xfm-", TransformPrefix) {
		t.Error("bare prefix should not count as an id")
	}
	if HasPrefix("abc-123", TransformPrefix) {
		t.Error("foreign prefix should not match")
	}
}
