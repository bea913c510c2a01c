package xid

import (
	"strings"
	"testing"
)

func TestNewCarriesPrefixAndRandomTail(t *testing.T) {
	id := New("audit")
	if !strings.HasPrefix(id, "audit-") {
		t.Fatalf("expected audit prefix, got %q", id)
	}
	if parts := strings.Split(id, "-"); len(parts) != 3 {
		t.Fatalf("expected prefix-stamp-tail shape, got %q", id)
	}
}

func TestNewDoesNotCollide(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := New("audit")
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}
