// Package cache provides in-run request coalescing.
//
// Caching across separate packager invocations is explicitly out of scope
// (see spec Non-goals); what this guards against is pkg/fetch's file
// download fan-out issuing the same request twice when two manifests name
// the same URL. Manifest resolution does not go through this cache.
package cache

import "sync"

type notExistErr struct{}

func (notExistErr) Error() string { return "does not exist" }

// ErrNotExist is returned when a key has no entry.
var ErrNotExist = notExistErr{}

// Cache coalesces concurrent lookups for the same key within a single run.
type Cache interface {
	Get(key any) (any, error)
	GetOrSet(key any, fetch func() (any, error)) (any, error)
	Del(key any)
}

// fn wraps a func() so it can be stored as a comparable sync.Map value.
type fn struct {
	Func func() (any, error)
}

// CoalescingMemoryCache is a Cache that coalesces concurrent requests for
// the same key, so two goroutines fetching the same file only do the work
// once.
type CoalescingMemoryCache struct {
	data sync.Map // key -> *fn wrapping a sync.OnceValues
}

func (c *CoalescingMemoryCache) valueOrClear(key, once any) (any, error) {
	val, err := once.(*fn).Func()
	if err != nil {
		c.data.CompareAndDelete(key, once)
	}
	return val, err
}

// Get returns the value for key, or ErrNotExist.
func (c *CoalescingMemoryCache) Get(key any) (any, error) {
	once, ok := c.data.Load(key)
	if !ok {
		return nil, ErrNotExist
	}
	return c.valueOrClear(key, once)
}

// GetOrSet returns the cached value for key, computing and storing it via
// fetch on first access. Concurrent callers for the same key block on the
// same fetch rather than each issuing their own request.
func (c *CoalescingMemoryCache) GetOrSet(key any, fetch func() (any, error)) (any, error) {
	once, _ := c.data.LoadOrStore(key, &fn{sync.OnceValues(fetch)})
	return c.valueOrClear(key, once)
}

// Del removes the cached value for key, if any.
func (c *CoalescingMemoryCache) Del(key any) {
	c.data.Delete(key)
}

var _ Cache = &CoalescingMemoryCache{}
