package classify

import (
	"path/filepath"
	"testing"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenCache failed: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestCacheRoundTrip(t *testing.T) {
	cache := openTestCache(t)

	want := Result{TopClothing: "t-shirt", BottomClothing: "jeans", Description: "casual outfit"}
	if err := cache.Put("abc123", want); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok, err := cache.Get("abc123")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("entry should exist")
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestCacheMiss(t *testing.T) {
	cache := openTestCache(t)

	_, ok, err := cache.Get("missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("missing hash should not hit")
	}
}

func TestCacheFirstWriteWins(t *testing.T) {
	cache := openTestCache(t)

	first := Result{TopClothing: "shirt", BottomClothing: "trousers", Description: "first"}
	second := Result{TopClothing: "jacket", BottomClothing: "skirt", Description: "second"}

	if err := cache.Put("h", first); err != nil {
		t.Fatal(err)
	}
	if err := cache.Put("h", second); err != nil {
		t.Fatal(err)
	}

	got, _, err := cache.Get("h")
	if err != nil {
		t.Fatal(err)
	}
	if got != first {
		t.Errorf("existing entry was overwritten: %+v", got)
	}

	n, err := cache.Size()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Size = %d, want 1", n)
	}
}
