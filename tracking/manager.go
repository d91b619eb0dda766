package tracking

import (
	"math"
	"sync"
	"time"

	"github.com/devrev/docmap/cache"
	"github.com/devrev/docmap/dberr"
	"github.com/devrev/docmap/docwrap"
	"github.com/devrev/docmap/identity"
	"github.com/devrev/docmap/metrics"
)

// StateMask selects which of the four lifecycle states an enumeration or
// count operation should cover.
type StateMask uint8

const (
	MaskAdded StateMask = 1 << iota
	MaskModified
	MaskDeleted
	MaskUnchanged

	MaskDirty = MaskAdded | MaskModified | MaskDeleted
	MaskAll   = MaskDirty | MaskUnchanged
)

func (m StateMask) has(s State) bool {
	switch s {
	case Added:
		return m&MaskAdded != 0
	case Modified:
		return m&MaskModified != 0
	case Deleted:
		return m&MaskDeleted != 0
	case Unchanged:
		return m&MaskUnchanged != 0
	default:
		return false
	}
}

// CleanUpStats are the counters spec §4.D's cleanUp maintains.
type CleanUpStats struct {
	LastCleanUp        time.Time
	TotalReclaimed     int64
	TotalDuration      time.Duration
	FullInvocations    int64
	PartialInvocations int64
}

// Manager is the State Manager (spec §4.D): four stores — added, modified,
// deleted as plain maps, unchanged as a Document Cache — protected by a
// single reader-writer lock. Go's sync.RWMutex has no upgradable-read mode,
// so addOrGetExisting — specified as running "under an upgradable read
// lock" — takes the full write lock for its whole check-then-act body; this
// trades read/read concurrency on the upsert path for correctness (see
// DESIGN.md).
//
// Grounded on the teacher's internal/service/cache_service.go tracking
// table, generalized from a single TTL'd map to four state-specific stores
// with change-event routing.
type Manager struct {
	mu sync.RWMutex

	added     map[identity.ID]*Entry
	modified  map[identity.ID]*Entry
	deleted   map[identity.ID]*Entry
	unchanged *cache.Cache[*Entry]

	suppressed map[identity.ID]struct{}

	partialCleanUpPercent int

	statsMu sync.Mutex
	stats   CleanUpStats

	metrics *metrics.Metrics
}

// SetMetrics attaches the Prometheus reporter CleanUp feeds. Pushed on after
// construction because Context builds the Manager before applying
// WithMetrics (mirrors the ObservePool wiring in context.go).
func (m *Manager) SetMetrics(mtr *metrics.Metrics) {
	m.metrics = mtr
}

// NewManager builds an empty Manager. partialCleanUpPercent is the fraction
// (1-100) of the Unchanged store's capacity a partial cleanUp removes at
// most (spec §4.D; default 10, per config.CleanerConfig).
func NewManager(partialCleanUpPercent int) *Manager {
	m := &Manager{
		added:                 make(map[identity.ID]*Entry),
		modified:              make(map[identity.ID]*Entry),
		deleted:               make(map[identity.ID]*Entry),
		suppressed:            make(map[identity.ID]struct{}),
		partialCleanUpPercent: partialCleanUpPercent,
	}
	m.unchanged = cache.New[*Entry]((*Entry).IsDead)
	return m
}

// Find consults all four stores in order — Added, Unchanged, Modified,
// Deleted — and returns the first hit, or nil (spec §4.D Lookup
// invariant). A dead Unchanged entry is treated as absent.
func (m *Manager) Find(key identity.ID) *Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLiveLocked(key)
}

func (m *Manager) findLiveLocked(key identity.ID) *Entry {
	if e, ok := m.added[key]; ok {
		return e
	}
	if e, ok := m.unchanged.TryGet(key); ok {
		return e
	}
	if e, ok := m.modified[key]; ok {
		return e
	}
	if e, ok := m.deleted[key]; ok {
		return e
	}
	return nil
}

// findAnyLocked is like findLiveLocked but also returns a dead Unchanged
// entry, so addOrGetExisting can tell "never seen" apart from "seen, now
// dead."
func (m *Manager) findAnyLocked(key identity.ID) *Entry {
	if e, ok := m.added[key]; ok {
		return e
	}
	if e, ok := m.unchanged.Peek(key); ok {
		return e
	}
	if e, ok := m.modified[key]; ok {
		return e
	}
	if e, ok := m.deleted[key]; ok {
		return e
	}
	return nil
}

// AddOrGetExisting is the atomic upsert of spec §4.D: if a live entry
// already tracks key with the same document, it is returned unchanged; if
// a live entry tracks a different document (or an Unchanged entry's
// document was reclaimed), a new wrapper is swapped in around doc,
// preserving the entry's existing state; otherwise a new entry is created
// in initialState. In every case the manager's property-changed handler is
// (re-)subscribed to doc.
func (m *Manager) AddOrGetExisting(key identity.ID, docType string, doc docwrap.Document, initialState State) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.findAnyLocked(key)
	if existing != nil {
		if !existing.IsDead() && existing.Document() == doc {
			doc.OnChange(m.onControlledPropertyChanged)
			return existing
		}
		prevState := existing.State()
		existing.swapDocument(doc, prevState, m.unchanged.NotifyReclaim)
		doc.OnChange(m.onControlledPropertyChanged)
		return existing
	}

	entry := newEntry(doc, key, doc.CollectionName(), docType, initialState, m.unchanged.NotifyReclaim)
	m.insertLocked(key, entry, initialState)
	doc.OnChange(m.onControlledPropertyChanged)
	return entry
}

// ChangeDocumentState moves entry between stores under the write lock: it
// fails if entry is dead, otherwise removes entry from its source store
// (unless Detached), invokes entry.ChangeState, then inserts it into the
// destination store (unless Detached).
func (m *Manager) ChangeDocumentState(entry *Entry, target State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.IsDead() {
		return dberr.InvalidState("cannot change state of a dead entry")
	}

	source := entry.State()
	if source != Detached {
		m.removeFromStoreLocked(source, entry.Identity())
	}

	ok, err := entry.ChangeState(target)
	if err != nil || !ok {
		if source != Detached {
			m.insertLocked(entry.Identity(), entry, source)
		}
		if err != nil {
			return err
		}
		return dberr.InvalidState("cannot change state of a dead entry")
	}

	if target != Detached {
		m.insertLocked(entry.Identity(), entry, target)
	}
	return nil
}

// SetDocumentPropertyTracking toggles whether property-change events
// mutate state for key; disabling it is how the serializer silences
// hydration writes (spec §4.F steps 3/5).
func (m *Manager) SetDocumentPropertyTracking(key identity.ID, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if enabled {
		delete(m.suppressed, key)
	} else {
		m.suppressed[key] = struct{}{}
	}
}

// onControlledPropertyChanged is the ChangeHandler every tracked document's
// OnChange is pointed at. It ignores documents in the suppression set,
// records the property against the document's entry, and promotes
// Unchanged to Modified. It releases the manager lock before calling
// ChangeDocumentState, which re-acquires it — the locking discipline spec
// §4.D requires ("must not be re-entered under a held read lock by the
// same flow").
func (m *Manager) onControlledPropertyChanged(doc docwrap.Document, propertyName string) {
	key := doc.DocumentID()

	m.mu.Lock()
	if _, suppressed := m.suppressed[key]; suppressed {
		m.mu.Unlock()
		return
	}
	entry := m.findLiveLocked(key)
	if entry == nil {
		m.mu.Unlock()
		return
	}
	_ = entry.NotePropertyChanged(propertyName)
	wasUnchanged := entry.State() == Unchanged
	m.mu.Unlock()

	if wasUnchanged {
		_ = m.ChangeDocumentState(entry, Modified)
	}
}

// GetEntries returns a snapshot of every entry whose state is in mask.
// Enumerating Unchanged necessarily scans the cache and skips dead entries.
func (m *Manager) GetEntries(mask StateMask) []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Entry
	if mask.has(Added) {
		for _, e := range m.added {
			out = append(out, e)
		}
	}
	if mask.has(Modified) {
		for _, e := range m.modified {
			out = append(out, e)
		}
	}
	if mask.has(Deleted) {
		for _, e := range m.deleted {
			out = append(out, e)
		}
	}
	if mask.has(Unchanged) {
		out = append(out, m.unchanged.LiveEntries()...)
	}
	return out
}

// Count sums the sizes of the stores selected by mask; the Unchanged term
// uses ApproximateCount.
func (m *Manager) Count(mask StateMask) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	if mask.has(Added) {
		n += len(m.added)
	}
	if mask.has(Modified) {
		n += len(m.modified)
	}
	if mask.has(Deleted) {
		n += len(m.deleted)
	}
	if mask.has(Unchanged) {
		n += m.unchanged.ApproximateCount()
	}
	return n
}

// CleanUp triggers a cache flush: full removes every dead entry, partial
// removes at most partialCleanUpPercent of the Unchanged store's capacity.
// It updates the last-cleanup timestamp, total reclaimed, total duration,
// and the full/partial invocation counters, and reports the same numbers
// to the attached *metrics.Metrics, if any (see SetMetrics).
func (m *Manager) CleanUp(full bool) {
	start := time.Now()

	var removed int
	if full {
		removed = m.unchanged.Flush(math.MaxInt)
	} else {
		capacity := m.unchanged.Capacity()
		limit := capacity * m.partialCleanUpPercent / 100
		if limit < 1 && capacity > 0 {
			limit = 1
		}
		removed = m.unchanged.Flush(limit)
	}
	duration := time.Since(start)

	m.statsMu.Lock()
	m.stats.LastCleanUp = start
	m.stats.TotalReclaimed += int64(removed)
	m.stats.TotalDuration += duration
	if full {
		m.stats.FullInvocations++
	} else {
		m.stats.PartialInvocations++
	}
	m.statsMu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordCleanUp(full, removed, duration.Seconds())
	}
}

// Stats returns a snapshot of the cleanup counters.
func (m *Manager) Stats() CleanUpStats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

// CacheLiveEntries returns the Unchanged store's approximate live count,
// feeding the "cache live vs. total capacity" statistic spec §4.H asks
// the Context to produce.
func (m *Manager) CacheLiveEntries() int {
	return m.unchanged.ApproximateCount()
}

// CacheCapacity returns the Unchanged store's total slot count, including
// dead entries not yet reclaimed.
func (m *Manager) CacheCapacity() int {
	return m.unchanged.Capacity()
}

func (m *Manager) removeFromStoreLocked(state State, key identity.ID) {
	switch state {
	case Added:
		delete(m.added, key)
	case Modified:
		delete(m.modified, key)
	case Deleted:
		delete(m.deleted, key)
	case Unchanged:
		m.unchanged.Remove(key)
	}
}

func (m *Manager) insertLocked(key identity.ID, entry *Entry, state State) {
	switch state {
	case Added:
		m.added[key] = entry
	case Modified:
		m.modified[key] = entry
	case Deleted:
		m.deleted[key] = entry
	case Unchanged:
		m.unchanged.Set(key, entry)
	}
}
