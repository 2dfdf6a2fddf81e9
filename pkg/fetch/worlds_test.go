package fetch

import (
	"testing"
)

type countingResolver struct {
	names map[uint32]string
	calls int
}

func (r *countingResolver) WorldName(worldID uint32) (string, bool) {
	r.calls++
	name, ok := r.names[worldID]
	return name, ok
}

func TestWorldNames(t *testing.T) {
	resolver := &countingResolver{names: map[uint32]string{21: "Lich", 22: ""}}
	names := NewWorldNames(resolver)

	for i := 0; i < 3; i++ {
		name, ok := names.WorldName(21)
		if !ok || name != "Lich" {
			t.Fatalf("WorldName(21) = %q, %v", name, ok)
		}
	}
	if resolver.calls != 1 {
		t.Errorf("Expected 1 resolver call for a cached world, got %d", resolver.calls)
	}

	if _, ok := names.WorldName(99); ok {
		t.Error("Expected miss for unknown world")
	}
	if _, ok := names.WorldName(99); ok {
		t.Error("Expected miss for unknown world")
	}
	if resolver.calls != 3 {
		t.Errorf("Expected misses to be re-resolved, calls = %d", resolver.calls)
	}

	if _, ok := names.WorldName(22); ok {
		t.Error("Expected empty name to be treated as a miss")
	}
}

func TestWorldNames_NilResolver(t *testing.T) {
	names := NewWorldNames(nil)
	if _, ok := names.WorldName(21); ok {
		t.Error("Expected miss without resolver")
	}
}
