package cache

import (
	"errors"
	"testing"
	"time"
)

func TestCoalescingMemoryCache_GetOrSetDel(t *testing.T) {
	cache := &CoalescingMemoryCache{}

	val, err := cache.GetOrSet("key", func() (any, error) { return "value", nil })
	if err != nil {
		t.Fatalf("cache.GetOrSet() failed: %v", err)
	}
	if val != "value" {
		t.Fatalf("cache.GetOrSet() returned %v, want %v", val, "value")
	}
	val, err = cache.Get("key")
	if err != nil {
		t.Fatalf("cache.Get() failed: %v", err)
	}
	if val != "value" {
		t.Fatalf("cache.Get() returned %v, want %v", val, "value")
	}
	cache.Del("key")
	if _, err := cache.Get("key"); err != ErrNotExist {
		t.Fatalf("cache.Get() after Del() = %v, want ErrNotExist", err)
	}
}

func TestCoalescingMemoryCache_GetOrSetErr(t *testing.T) {
	cache := &CoalescingMemoryCache{}
	foo := errors.New("foo")
	_, err := cache.GetOrSet("key", func() (any, error) { return nil, foo })
	if err != foo {
		t.Fatalf("cache.GetOrSet() failed: %v", err)
	}
	if _, err := cache.Get("key"); err != ErrNotExist {
		t.Fatalf("cache.Get() = %v, want ErrNotExist", err)
	}
}

func TestCoalescingMemoryCache_GetOrSetCoalesces(t *testing.T) {
	cache := &CoalescingMemoryCache{}

	want := "value"
	count := 5
	results := make(chan any, count)
	called := 0
	for range count {
		go func() {
			val, err := cache.GetOrSet("key", func() (any, error) {
				called++
				time.Sleep(100 * time.Millisecond)
				return want, nil
			})
			if err != nil {
				results <- nil
			} else {
				results <- val
			}
		}()
	}
	for range count {
		if got := <-results; got != want {
			t.Fatalf("results differed: want=%v,got=%v", want, got)
		}
	}
	if called != 1 {
		t.Fatalf("call count differed: want=1,got=%v", called)
	}
}
