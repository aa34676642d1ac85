// Package cache holds server-derived data keyed by hierarchical cache keys.
//
// Writes come from two directions: fetch completions and event-driven
// writes or patches. Both are applied in completion order, so for a single
// key the last write to finish wins. Values are treated as immutable; Patch
// callbacks must return a new value instead of mutating the current one.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNoFetcher = errors.New("no fetcher registered for key")

// Fetcher loads the authoritative value for one key.
type Fetcher func(ctx context.Context) (any, error)

type Logger interface {
	Printf(format string, args ...any)
}

// Entry is a point-in-time snapshot of one cache entry.
type Entry struct {
	Key         Key
	Value       any
	HasValue    bool
	FetchedAt   time.Time
	Stale       bool
	Fetching    bool
	Subscribers int
	Err         error
}

type Options struct {
	Now func() time.Time
	// DefaultTTL applies to key-spaces without an entry in TTLs. Zero means
	// values are stale as soon as they are written.
	DefaultTTL time.Duration
	TTLs       map[string]time.Duration
	// TTLFor overrides the key-space TTL for individual keys when it
	// returns true.
	TTLFor func(Key) (time.Duration, bool)
	// Go runs background refetches. Defaults to starting a goroutine.
	Go     func(func())
	Logger Logger
}

type Store struct {
	mu         sync.Mutex
	entries    map[string]*entry
	now        func() time.Time
	defaultTTL time.Duration
	ttls       map[string]time.Duration
	ttlFor     func(Key) (time.Duration, bool)
	goFn       func(func())
	logger     Logger
	ctx        context.Context
	cancel     context.CancelFunc
	nextSubID  int64
}

type entry struct {
	key         Key
	value       any
	hasValue    bool
	fetchedAt   time.Time
	invalidated bool
	fetcher     Fetcher
	inflight    *call
	lastErr     error
	subs        map[int64]func(Entry)
	// gen changes on Remove; fetches begun under an older gen are dropped.
	gen uint64
}

type call struct {
	done  chan struct{}
	gen   uint64
	value any
	err   error
}

func NewStore() *Store {
	return NewStoreWithOptions(Options{})
}

func NewStoreWithOptions(opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	goFn := opts.Go
	if goFn == nil {
		goFn = func(f func()) { go f() }
	}
	ttls := make(map[string]time.Duration, len(opts.TTLs))
	for space, ttl := range opts.TTLs {
		ttls[space] = ttl
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		entries:    map[string]*entry{},
		now:        now,
		defaultTTL: opts.DefaultTTL,
		ttls:       ttls,
		ttlFor:     opts.TTLFor,
		goFn:       goFn,
		logger:     opts.Logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Close cancels background refetches. The store stays readable.
func (s *Store) Close() {
	s.cancel()
}

// SetTTL configures the staleness window for a key-space.
func (s *Store) SetTTL(space string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttls[space] = ttl
}

// Read returns the cached value for key. A stale entry with active
// subscribers schedules a background refetch; without subscribers the read
// stays lazy.
func (s *Store) Read(key Key) (any, bool) {
	s.mu.Lock()
	e, ok := s.entries[key.mapKey()]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	value, has := e.value, e.hasValue
	var started *call
	if len(e.subs) > 0 && s.isStaleLocked(e) {
		started = s.beginFetchLocked(e)
	}
	s.mu.Unlock()
	if started != nil {
		s.background(e, started)
	}
	return value, has
}

// Entry returns a snapshot of the entry stored under key.
func (s *Store) Entry(key Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key.mapKey()]
	if !ok {
		return Entry{}, false
	}
	return s.snapshotLocked(e), true
}

// Write sets the value for key, marks it fresh and notifies subscribers.
func (s *Store) Write(key Key, value any) {
	s.mu.Lock()
	e := s.ensureLocked(key)
	s.applyLocked(e, value)
	snap, subs := s.snapshotLocked(e), listenersOf(e)
	s.mu.Unlock()
	notify(subs, snap)
}

// Patch merges into the existing value of key. merge receives the current
// value and returns the replacement; returning false leaves the entry as is.
// Staleness metadata is not touched. Patch is a no-op when the key holds no
// value. merge runs under the store lock and must not call back into the store.
func (s *Store) Patch(key Key, merge func(current any) (any, bool)) bool {
	s.mu.Lock()
	e, ok := s.entries[key.mapKey()]
	if !ok || !e.hasValue {
		s.mu.Unlock()
		return false
	}
	next, changed := merge(e.value)
	if !changed {
		s.mu.Unlock()
		return false
	}
	e.value = next
	snap, subs := s.snapshotLocked(e), listenersOf(e)
	s.mu.Unlock()
	notify(subs, snap)
	return true
}

// Invalidate marks every entry under prefix stale and refetches the ones
// that have active subscribers and a registered fetcher. It returns the
// number of entries matched.
func (s *Store) Invalidate(prefix Key) int {
	type pending struct {
		e *entry
		c *call
	}
	var refetch []pending
	matched := 0
	s.mu.Lock()
	for _, e := range s.entries {
		if !e.key.HasPrefix(prefix) {
			continue
		}
		matched++
		e.invalidated = true
		if len(e.subs) == 0 {
			continue
		}
		if c := s.beginFetchLocked(e); c != nil {
			refetch = append(refetch, pending{e: e, c: c})
		}
	}
	s.mu.Unlock()
	for _, p := range refetch {
		s.background(p.e, p.c)
	}
	return matched
}

// Remove drops the value stored under key. Subscribers stay registered and
// see an empty entry; a fetch still in flight for it is discarded when it
// lands.
func (s *Store) Remove(key Key) bool {
	s.mu.Lock()
	mk := key.mapKey()
	e, ok := s.entries[mk]
	if !ok {
		s.mu.Unlock()
		return false
	}
	e.gen++
	e.inflight = nil
	e.value = nil
	e.hasValue = false
	e.fetchedAt = time.Time{}
	e.invalidated = false
	e.lastErr = nil
	if len(e.subs) == 0 {
		delete(s.entries, mk)
		s.mu.Unlock()
		return true
	}
	snap, subs := s.snapshotLocked(e), listenersOf(e)
	s.mu.Unlock()
	notify(subs, snap)
	return true
}

// Fetch returns the value for key, loading it through fetcher when the
// entry is missing or stale. Concurrent callers share one in-flight fetch.
// fetcher is remembered for later background refetches.
func (s *Store) Fetch(ctx context.Context, key Key, fetcher Fetcher) (any, error) {
	return s.load(ctx, key, fetcher, false)
}

// Refresh always loads key through fetcher, joining a fetch already in flight.
func (s *Store) Refresh(ctx context.Context, key Key, fetcher Fetcher) (any, error) {
	return s.load(ctx, key, fetcher, true)
}

func (s *Store) load(ctx context.Context, key Key, fetcher Fetcher, force bool) (any, error) {
	s.mu.Lock()
	e := s.ensureLocked(key)
	if fetcher != nil {
		e.fetcher = fetcher
	}
	if e.fetcher == nil {
		s.mu.Unlock()
		return nil, ErrNoFetcher
	}
	if !force && e.hasValue && !s.isStaleLocked(e) {
		value := e.value
		s.mu.Unlock()
		return value, nil
	}
	c := e.inflight
	started := false
	if c == nil {
		c = s.beginFetchLocked(e)
		started = true
	}
	fn := e.fetcher
	s.mu.Unlock()

	if started {
		s.run(ctx, e, c, fn)
	}
	select {
	case <-c.done:
		return c.value, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscription tracks one active observer of a key.
type Subscription struct {
	store *Store
	key   Key
	id    int64
	once  sync.Once
}

// Subscribe registers an active observer for key. onChange receives a
// snapshot after every write, patch, removal or failed fetch. If the entry
// is missing or stale and a fetcher is known, a background fetch starts
// immediately.
func (s *Store) Subscribe(key Key, fetcher Fetcher, onChange func(Entry)) *Subscription {
	s.mu.Lock()
	e := s.ensureLocked(key)
	if fetcher != nil {
		e.fetcher = fetcher
	}
	s.nextSubID++
	id := s.nextSubID
	if onChange == nil {
		onChange = func(Entry) {}
	}
	e.subs[id] = onChange
	var started *call
	if s.isStaleLocked(e) {
		started = s.beginFetchLocked(e)
	}
	s.mu.Unlock()
	if started != nil {
		s.background(e, started)
	}
	return &Subscription{store: s, key: NewKey(key...), id: id}
}

func (sub *Subscription) Key() Key {
	return sub.key
}

// Unsubscribe removes the observer. It is safe to call more than once.
func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		s := sub.store
		s.mu.Lock()
		defer s.mu.Unlock()
		if e, ok := s.entries[sub.key.mapKey()]; ok {
			delete(e.subs, sub.id)
		}
	})
}

func (s *Store) ensureLocked(key Key) *entry {
	mk := key.mapKey()
	e, ok := s.entries[mk]
	if !ok {
		e = &entry{key: NewKey(key...), subs: map[int64]func(Entry){}}
		s.entries[mk] = e
	}
	return e
}

func (s *Store) applyLocked(e *entry, value any) {
	e.value = value
	e.hasValue = true
	e.fetchedAt = s.now()
	e.invalidated = false
	e.lastErr = nil
}

func (s *Store) ttlLocked(key Key) time.Duration {
	if s.ttlFor != nil {
		if ttl, ok := s.ttlFor(key); ok {
			return ttl
		}
	}
	if ttl, ok := s.ttls[key.Space()]; ok {
		return ttl
	}
	return s.defaultTTL
}

func (s *Store) isStaleLocked(e *entry) bool {
	if !e.hasValue || e.invalidated {
		return true
	}
	return s.now().Sub(e.fetchedAt) >= s.ttlLocked(e.key)
}

// beginFetchLocked marks a new in-flight fetch for e. It returns nil when
// there is nothing to run: no fetcher, or a fetch is already in flight.
func (s *Store) beginFetchLocked(e *entry) *call {
	if e.fetcher == nil || e.inflight != nil {
		return nil
	}
	c := &call{done: make(chan struct{}), gen: e.gen}
	e.inflight = c
	return c
}

func (s *Store) background(e *entry, c *call) {
	s.mu.Lock()
	fn := e.fetcher
	s.mu.Unlock()
	s.goFn(func() {
		s.run(s.ctx, e, c, fn)
		if c.err != nil && s.logger != nil {
			s.logger.Printf("cache: background refetch of %s failed: %v", e.key, c.err)
		}
	})
}

func (s *Store) run(ctx context.Context, e *entry, c *call, fn Fetcher) {
	value, err := fn(ctx)

	s.mu.Lock()
	current, live := s.entries[e.key.mapKey()]
	live = live && current == e && c.gen == e.gen
	if e.inflight == c {
		e.inflight = nil
	}
	var subs []func(Entry)
	var snap Entry
	if live {
		if err == nil {
			s.applyLocked(e, value)
		} else {
			e.lastErr = err
		}
		subs, snap = listenersOf(e), s.snapshotLocked(e)
	}
	c.value, c.err = value, err
	s.mu.Unlock()

	close(c.done)
	notify(subs, snap)
}

func (s *Store) snapshotLocked(e *entry) Entry {
	return Entry{
		Key:         NewKey(e.key...),
		Value:       e.value,
		HasValue:    e.hasValue,
		FetchedAt:   e.fetchedAt,
		Stale:       s.isStaleLocked(e),
		Fetching:    e.inflight != nil,
		Subscribers: len(e.subs),
		Err:         e.lastErr,
	}
}

func listenersOf(e *entry) []func(Entry) {
	out := make([]func(Entry), 0, len(e.subs))
	for _, fn := range e.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(Entry), snap Entry) {
	for _, fn := range subs {
		fn(snap)
	}
}

// Get reads key and asserts its value to T.
func Get[T any](s *Store, key Key) (T, bool) {
	var zero T
	value, ok := s.Read(key)
	if !ok {
		return zero, false
	}
	typed, ok := value.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// FetchAs wraps Store.Fetch with a typed loader.
func FetchAs[T any](ctx context.Context, s *Store, key Key, load func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	value, err := s.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	if err != nil {
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		return zero, errors.New("cache: unexpected value type for " + key.String())
	}
	return typed, nil
}
