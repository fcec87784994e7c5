package id

import "testing"

func TestNew(t *testing.T) {
	a, b := New(), New()
	if a == b {
		t.Fatalf("expected distinct ids, got %s twice", a)
	}
	if !Valid(a) || !Valid(b) {
		t.Fatalf("expected valid ids, got %s and %s", a, b)
	}
}

func TestValid(t *testing.T) {
	for _, s := range []string{"", "abc123", "../../etc/passwd", "urn:uuid:0190b1e8-6c3e-7c1a-9d5e-1f2a3b4c5d6e"} {
		if Valid(s) {
			t.Fatalf("expected %q to be rejected", s)
		}
	}
}
