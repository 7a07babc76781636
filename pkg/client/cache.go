package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FetchFunc loads the authoritative value for a cache key
type FetchFunc func(ctx context.Context) (any, error)

// WatchFunc observes a key. data is nil when the key was invalidated.
type WatchFunc func(data []byte)

type entry struct {
	data    []byte
	version uint64
}

// Cache is a query-keyed store of canonical JSON bytes shared by views.
// ARCHITECTURAL DISCOVERY: every write bumps the key's version; a fetch that
// started before the latest write is discarded so a slow response can never
// overwrite newer realtime state. An event that finds no value while the
// first fetch is in flight still bumps the version, and the fetch retries.
type Cache struct {
	logger       *zap.Logger
	fetchTimeout time.Duration

	mu       sync.Mutex
	entries  map[string]*entry
	fetchers map[string]FetchFunc
	watchers map[string]map[uint64]WatchFunc
	inflight map[string]int
	nextID   uint64
}

// NewCache creates an empty cache
func NewCache(logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		logger:       logger.Named("cache"),
		fetchTimeout: 10 * time.Second,
		entries:      make(map[string]*entry),
		fetchers:     make(map[string]FetchFunc),
		watchers:     make(map[string]map[uint64]WatchFunc),
		inflight:     make(map[string]int),
	}
}

// Get returns a copy of the cached bytes for key
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.data == nil {
		return nil, false
	}
	return bytes.Clone(e.data), true
}

// Decode unmarshals the cached value for key into v
func (c *Cache) Decode(key string, v any) (bool, error) {
	data, ok := c.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("failed to decode cache key %s: %w", key, err)
	}
	return true, nil
}

// Set stores the canonical JSON encoding of v
func (c *Cache) Set(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache key %s: %w", key, err)
	}
	c.SetRaw(key, data)
	return nil
}

// SetRaw stores data as-is
func (c *Cache) SetRaw(key string, data []byte) {
	c.mu.Lock()
	c.writeLocked(key, bytes.Clone(data))
	watchers := c.watchersLocked(key)
	c.mu.Unlock()
	notify(watchers, data)
}

// Update transforms the cached bytes for key. A missing key is a no-op, as
// is a transform that returns identical bytes. A missing key with a fetch in
// flight is marked stale so that fetch loads again.
func (c *Cache) Update(key string, fn func(current []byte) ([]byte, error)) error {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.data == nil {
		if c.inflight[key] > 0 {
			c.writeLocked(key, nil)
		}
		c.mu.Unlock()
		return nil
	}

	next, err := fn(bytes.Clone(e.data))
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if bytes.Equal(next, e.data) {
		c.mu.Unlock()
		return nil
	}

	c.writeLocked(key, next)
	watchers := c.watchersLocked(key)
	c.mu.Unlock()
	notify(watchers, next)
	return nil
}

// Invalidate discards the cached value and refetches it in the background if
// a fetcher is registered for key
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	c.writeLocked(key, nil)
	fetch := c.fetchers[key]
	watchers := c.watchersLocked(key)
	c.mu.Unlock()

	notify(watchers, nil)
	if fetch != nil {
		go c.refetch(key, fetch)
	}
}

// Refresh refetches key in the background, keeping the current value until
// the response arrives
func (c *Cache) Refresh(key string) {
	c.mu.Lock()
	fetch := c.fetchers[key]
	c.mu.Unlock()
	if fetch != nil {
		go c.refetch(key, fetch)
	}
}

// Fetch loads key and stores the result unless the key was written while the
// fetch was in flight. When that write left no value to keep, the fetch runs
// again.
func (c *Cache) Fetch(ctx context.Context, key string, fetch FetchFunc) error {
	c.mu.Lock()
	c.inflight[key]++
	started := c.versionLocked(key)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.inflight[key]--; c.inflight[key] <= 0 {
			delete(c.inflight, key)
		}
		c.mu.Unlock()
	}()

	for {
		v, err := fetch(ctx)
		if err != nil {
			return err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode cache key %s: %w", key, err)
		}

		c.mu.Lock()
		if version := c.versionLocked(key); version != started {
			if e := c.entries[key]; e.data == nil {
				started = version
				c.mu.Unlock()
				c.logger.Debug("key changed during fetch, fetching again", zap.String("key", key))
				continue
			}
			c.mu.Unlock()
			c.logger.Debug("discarding stale fetch", zap.String("key", key))
			return nil
		}
		c.writeLocked(key, data)
		watchers := c.watchersLocked(key)
		c.mu.Unlock()

		notify(watchers, data)
		return nil
	}
}

// Register installs the fetcher used by Invalidate and Refresh. The returned
// func unregisters it.
func (c *Cache) Register(key string, fetch FetchFunc) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchers[key] = fetch
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.fetchers, key)
	}
}

// Watch calls fn after every change to key. The returned func stops it.
func (c *Cache) Watch(key string, fn WatchFunc) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	if c.watchers[key] == nil {
		c.watchers[key] = make(map[uint64]WatchFunc)
	}
	c.watchers[key][id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.watchers[key], id)
		if len(c.watchers[key]) == 0 {
			delete(c.watchers, key)
		}
	}
}

// apply runs an optimistic transform and returns the exact pre-mutation bytes
func (c *Cache) apply(key string, fn func(current []byte) ([]byte, error)) (snapshot []byte, present bool, err error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.data == nil {
		c.mu.Unlock()
		return nil, false, nil
	}
	snapshot = bytes.Clone(e.data)

	next, err := fn(bytes.Clone(e.data))
	if err != nil {
		c.mu.Unlock()
		return nil, false, err
	}
	c.writeLocked(key, next)
	watchers := c.watchersLocked(key)
	c.mu.Unlock()

	notify(watchers, next)
	return snapshot, true, nil
}

// restore puts a mutation's snapshot back verbatim
func (c *Cache) restore(key string, snapshot []byte) {
	c.mu.Lock()
	c.writeLocked(key, snapshot)
	watchers := c.watchersLocked(key)
	c.mu.Unlock()
	notify(watchers, snapshot)
}

func (c *Cache) refetch(key string, fetch FetchFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
	defer cancel()
	if err := c.Fetch(ctx, key, fetch); err != nil {
		c.logger.Warn("refetch failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache) writeLocked(key string, data []byte) {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	e.data = data
	e.version++
}

func (c *Cache) versionLocked(key string) uint64 {
	if e, ok := c.entries[key]; ok {
		return e.version
	}
	return 0
}

func (c *Cache) watchersLocked(key string) []WatchFunc {
	out := make([]WatchFunc, 0, len(c.watchers[key]))
	for _, fn := range c.watchers[key] {
		out = append(out, fn)
	}
	return out
}

func notify(watchers []WatchFunc, data []byte) {
	for _, fn := range watchers {
		fn(bytes.Clone(data))
	}
}
