package cakemail

import (
	"testing"
	"time"
)

func TestInMemoryCacheRoundTrip(t *testing.T) {
	c := NewInMemoryCache()
	c.Set("GET /lists", &CacheEntry{Body: []byte(`{}`), StatusCode: 200}, time.Minute)

	entry, ok := c.Get("GET /lists")
	if !ok {
		t.Fatal("Expected cache hit")
	}
	if entry.StatusCode != 200 {
		t.Errorf("Expected status 200, got %d", entry.StatusCode)
	}
	if _, ok := c.Get("GET /other"); ok {
		t.Error("Expected miss for unknown key")
	}
}

func TestInMemoryCacheExpiry(t *testing.T) {
	c := NewInMemoryCache()
	c.Set("k", &CacheEntry{Body: []byte(`1`)}, 10*time.Millisecond)

	if _, ok := c.Get("k"); !ok {
		t.Fatal("Expected hit before expiry")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("Expected miss after expiry")
	}
	if c.Len() != 0 {
		t.Errorf("Expected expired entry evicted on read, Len = %d", c.Len())
	}
}

func TestInMemoryCacheDeleteAndClear(t *testing.T) {
	c := NewInMemoryCache()
	c.Set("a", &CacheEntry{}, time.Minute)
	c.Set("b", &CacheEntry{}, time.Minute)

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("Expected deleted key to miss")
	}
	if c.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", c.Len())
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Expected empty cache after Clear, got %d", c.Len())
	}
}
