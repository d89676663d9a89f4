package frontier

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrSeedResolution is returned when a dynamic seed function fails.
var ErrSeedResolution = errors.New("failed to resolve seeds")

// SeedFunc produces seed addresses at run time.
type SeedFunc func(ctx context.Context) ([]string, error)

// SeedSource is where a spider's start addresses come from: a static list,
// or a function evaluated once per run. A cached dynamic source calls its
// function only on the first run and replays the result afterwards.
type SeedSource struct {
	static []string
	fn     SeedFunc
	cache  bool

	cached   []string
	resolved bool
}

// StaticSeeds returns a source that always yields addrs.
func StaticSeeds(addrs ...string) *SeedSource {
	return &SeedSource{static: append([]string(nil), addrs...)}
}

// DynamicSeeds returns a source that calls fn on every run, or only on the
// first one when cache is true.
func DynamicSeeds(fn SeedFunc, cache bool) *SeedSource {
	return &SeedSource{fn: fn, cache: cache}
}

// resolve returns the seeds for one run.
func (s *SeedSource) resolve(ctx context.Context) ([]string, error) {
	if s.fn == nil {
		return s.static, nil
	}
	if s.cache && s.resolved {
		return s.cached, nil
	}
	addrs, err := s.fn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSeedResolution, err)
	}
	if s.cache {
		s.cached = append([]string(nil), addrs...)
		s.resolved = true
	}
	return addrs, nil
}

// restorable returns the seeds that Reset puts back without calling out.
func (s *SeedSource) restorable() []string {
	if s.fn == nil {
		return s.static
	}
	if s.cache && s.resolved {
		return s.cached
	}
	return nil
}

// Frontier tracks the addresses of one spider. Pending and fetched are
// disjoint, and a fetched address is never pending again until Reset.
type Frontier struct {
	mu       sync.Mutex
	source   *SeedSource
	pending  *orderedSet
	fetched  map[string]struct{}
	injected *orderedSet
}

// New returns an empty frontier fed by source. A nil source yields no seeds.
func New(source *SeedSource) *Frontier {
	if source == nil {
		source = StaticSeeds()
	}
	return &Frontier{
		source:   source,
		pending:  newOrderedSet(),
		fetched:  make(map[string]struct{}),
		injected: newOrderedSet(),
	}
}

// Seed resolves the seed source and queues its addresses together with any
// addresses handed over by a previous stage.
func (f *Frontier) Seed(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	addrs, err := f.source.resolve(ctx)
	if err != nil {
		return 0, err
	}
	n := f.addPending(addrs)
	n += f.addPending(f.injected.items())
	return n, nil
}

// AddSeeds injects addresses that are queued at the next Seed call.
func (f *Frontier) AddSeeds(addrs []string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, a := range addrs {
		if a != "" && f.injected.add(a) {
			n++
		}
	}
	return n
}

// ClearSeeds drops the addresses injected by AddSeeds that were not yet
// queued by Seed and returns how many were dropped.
func (f *Frontier) ClearSeeds() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.injected.len()
	f.injected = newOrderedSet()
	return n
}

// NextBatch returns up to n pending addresses without removing them.
func (f *Frontier) NextBatch(n int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	items := f.pending.items()
	if n >= 0 && n < len(items) {
		items = items[:n]
	}
	return items
}

// Pending returns the pending addresses in insertion order.
func (f *Frontier) Pending() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending.items()
}

// MarkFetched moves addrs from pending to fetched.
func (f *Frontier) MarkFetched(addrs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, a := range addrs {
		f.pending.remove(a)
		f.fetched[a] = struct{}{}
	}
}

// AddPending queues addrs that were never fetched and returns how many were new.
func (f *Frontier) AddPending(addrs []string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addPending(addrs)
}

func (f *Frontier) addPending(addrs []string) int {
	n := 0
	for _, a := range addrs {
		if a == "" {
			continue
		}
		if _, done := f.fetched[a]; done {
			continue
		}
		if f.pending.add(a) {
			n++
		}
	}
	return n
}

// Discard drops addrs from pending without marking them fetched.
func (f *Frontier) Discard(addrs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, a := range addrs {
		f.pending.remove(a)
	}
}

// IsEmpty reports whether nothing is pending.
func (f *Frontier) IsEmpty() bool {
	return f.Len() == 0
}

// Len returns the number of pending addresses.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending.len()
}

// FetchedLen returns the number of fetched addresses.
func (f *Frontier) FetchedLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

// Fetched reports whether addr was fetched during the current run.
func (f *Frontier) Fetched(addr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.fetched[addr]
	return ok
}

// Reset forgets fetched and injected addresses and restores the static or
// cached seeds as pending.
func (f *Frontier) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetched = make(map[string]struct{})
	f.injected = newOrderedSet()
	f.pending = newOrderedSet()
	for _, a := range f.source.restorable() {
		if a != "" {
			f.pending.add(a)
		}
	}
}

// orderedSet keeps insertion order. Removal leaves a tombstone in list;
// the list is compacted once tombstones outnumber live entries, so add and
// remove are amortized O(1).
type orderedSet struct {
	index map[string]int
	list  []string
	dead  int
}

func newOrderedSet() *orderedSet {
	return &orderedSet{index: make(map[string]int)}
}

func (s *orderedSet) add(v string) bool {
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = len(s.list)
	s.list = append(s.list, v)
	return true
}

func (s *orderedSet) remove(v string) {
	i, ok := s.index[v]
	if !ok {
		return
	}
	delete(s.index, v)
	s.list[i] = ""
	s.dead++
	if s.dead > len(s.index) {
		s.compact()
	}
}

func (s *orderedSet) compact() {
	live := make([]string, 0, len(s.index))
	for _, v := range s.list {
		if v == "" {
			continue
		}
		s.index[v] = len(live)
		live = append(live, v)
	}
	s.list = live
	s.dead = 0
}

func (s *orderedSet) items() []string {
	out := make([]string, 0, len(s.index))
	for _, v := range s.list {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (s *orderedSet) len() int {
	return len(s.index)
}
