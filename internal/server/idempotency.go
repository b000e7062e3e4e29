package server

import "container/list"

// IdempotencyLRU deduplicates command requests by their Idempotency-Key
// header. Not thread-safe: it is only touched under the command mutex that
// serializes engine calls.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List

	evictions int64
}

type lruEntry struct {
	key string
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Contains reports whether the key was seen, promoting it to most recent.
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, ok := lru.cache[key]
	if ok {
		lru.order.MoveToFront(elem)
	}
	return ok
}

// Add records a key, evicting the oldest entry when over capacity.
func (lru *IdempotencyLRU) Add(key string) {
	if elem, ok := lru.cache[key]; ok {
		lru.order.MoveToFront(elem)
		return
	}
	lru.cache[key] = lru.order.PushFront(&lruEntry{key: key})
	if lru.order.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.order.Back()
	if elem == nil {
		return
	}
	lru.order.Remove(elem)
	delete(lru.cache, elem.Value.(*lruEntry).key)
	lru.evictions++
}

// Size returns the current number of tracked keys.
func (lru *IdempotencyLRU) Size() int { return lru.order.Len() }

// Evictions returns the total evictions since start.
func (lru *IdempotencyLRU) Evictions() int64 { return lru.evictions }
