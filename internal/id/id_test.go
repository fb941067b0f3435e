package id

import "testing"

func TestGenerate(t *testing.T) {
	got := Generate()

	// 4 random bytes hex-encoded.
	if len(got) != 8 {
		t.Errorf("expected ID length 8, got %d", len(got))
	}
	for _, c := range got {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			t.Errorf("expected hex character, got %c", c)
		}
	}
}

func TestGenerateUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		got := Generate()
		if seen[got] {
			t.Errorf("duplicate ID generated: %s", got)
		}
		seen[got] = true
	}
}

func TestNewUUID(t *testing.T) {
	a, b := NewUUID(), NewUUID()
	if len(a) != 36 {
		t.Errorf("expected canonical UUID length 36, got %d", len(a))
	}
	if a == b {
		t.Error("consecutive UUIDs should differ")
	}
}
