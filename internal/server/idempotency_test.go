package server_test

import (
	"fmt"
	"testing"

	"TickVault/internal/server"
)

func TestIdempotencyLRUEviction(t *testing.T) {
	lru := server.NewIdempotencyLRU(3)

	lru.Add("a")
	lru.Add("b")
	lru.Add("c")
	if !lru.Contains("a") || !lru.Contains("b") || !lru.Contains("c") {
		t.Fatal("keys missing before capacity is hit")
	}

	// The probes above promoted in order a, b, c, leaving "a" coldest.
	lru.Add("d")
	if lru.Contains("a") {
		t.Error("oldest key survived eviction")
	}
	if !lru.Contains("b") || !lru.Contains("c") || !lru.Contains("d") {
		t.Error("recent keys evicted")
	}
	if lru.Size() != 3 {
		t.Errorf("size = %d, want 3", lru.Size())
	}
	if lru.Evictions() != 1 {
		t.Errorf("evictions = %d, want 1", lru.Evictions())
	}

	// Re-adding an existing key is a promotion, not growth.
	lru.Add("b")
	if lru.Size() != 3 {
		t.Errorf("size after duplicate add = %d, want 3", lru.Size())
	}
	lru.Add("e")
	if lru.Contains("c") {
		t.Error("promoted key order ignored: c should be the eviction victim")
	}
	if !lru.Contains("b") {
		t.Error("recently re-added key evicted")
	}
}

func TestIdempotencyLRUChurn(t *testing.T) {
	lru := server.NewIdempotencyLRU(16)
	for i := 0; i < 100; i++ {
		lru.Add(fmt.Sprintf("key-%d", i))
	}
	if lru.Size() != 16 {
		t.Errorf("size = %d, want 16", lru.Size())
	}
	if lru.Evictions() != 84 {
		t.Errorf("evictions = %d, want 84", lru.Evictions())
	}
	for i := 84; i < 100; i++ {
		if !lru.Contains(fmt.Sprintf("key-%d", i)) {
			t.Errorf("key-%d missing from the hot set", i)
		}
	}
}
