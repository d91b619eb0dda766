// Package docmap is the Repository Context (spec §4.H): the top-level
// object a caller builds once per process (or per logical session), that
// owns the State Manager, the Cache Cleaner, the store connection, and the
// registry of document serializers, and drives the save/reload pipeline.
//
// Grounded on the teacher's internal/service/storage_service.go for the
// shape of a top-level service struct that wires its dependencies together
// in a constructor and exposes a handful of high-level operations, each
// logged and timed through the same *zap.Logger and *metrics.Metrics the
// constructor was handed.
package docmap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/docmap/cleaner"
	"github.com/devrev/docmap/config"
	"github.com/devrev/docmap/dberr"
	"github.com/devrev/docmap/docset"
	"github.com/devrev/docmap/docwrap"
	"github.com/devrev/docmap/driver"
	"github.com/devrev/docmap/identity"
	"github.com/devrev/docmap/internal/validate"
	"github.com/devrev/docmap/internal/workerpool"
	"github.com/devrev/docmap/metrics"
	"github.com/devrev/docmap/serializer"
	"github.com/devrev/docmap/tracking"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// Context owns one State Manager, one Cache Cleaner, handles to the
// underlying store and its per-kind collections, and a registry of
// serializers keyed by document type (spec §4.H).
type Context struct {
	store     driver.Store
	manager   *tracking.Manager
	cleaner   *cleaner.Cleaner
	registry  *serializer.Registry
	validator *validate.Validator
	pool      *workerpool.WorkerPool
	metrics   *metrics.Metrics
	logger    *zap.Logger

	collMu      sync.Mutex
	collections map[string]driver.Collection
}

// Option customizes a Context built by NewContext.
type Option func(*Context)

// WithMetrics attaches a *metrics.Metrics so saveChanges/reload/cleanUp
// outcomes are reported to Prometheus.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Context) { c.metrics = m }
}

// WithValidator overrides the default argument-error validator.
func WithValidator(v *validate.Validator) Option {
	return func(c *Context) { c.validator = v }
}

// WithWorkerPool overrides the default save-pipeline worker pool.
func WithWorkerPool(p *workerpool.WorkerPool) Option {
	return func(c *Context) { c.pool = p }
}

// NewContext builds a Context over store, using cfg for the cache cleaner's
// bounds and partial-cleanup percentage (spec §4.E, §6).
func NewContext(store driver.Store, registry *serializer.Registry, cfg config.CleanerConfig, logger *zap.Logger, opts ...Option) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	manager := tracking.NewManager(cfg.PartialCleanUpPercent)

	c := &Context{
		store:       store,
		manager:     manager,
		registry:    registry,
		validator:   validate.NewValidator(),
		logger:      logger,
		collections: make(map[string]driver.Collection),
	}
	c.cleaner = cleaner.New(manager, cleaner.Bounds{Lower: cfg.LowerBound(), Upper: cfg.UpperBound()}, logger)
	c.pool = workerpool.NewWorkerPool(&workerpool.Config{Name: "docmap-save", MaxWorkers: 8, QueueSize: 256, Logger: logger})

	for _, opt := range opts {
		opt(c)
	}
	if c.metrics != nil {
		manager.SetMetrics(c.metrics)
	}
	return c
}

// Start launches the cache cleaner's background polling loop. It returns
// immediately; ctx cancellation stops the loop.
func (c *Context) Start(ctx context.Context) {
	go c.cleaner.Run(ctx)
}

// Stop requests cooperative shutdown of the cache cleaner and the save
// pipeline's worker pool, waiting up to timeout for the worker pool to
// drain.
func (c *Context) Stop(timeout time.Duration) error {
	c.cleaner.Stop()
	c.cleaner.Wait()
	return c.pool.Stop(timeout)
}

// Set returns the typed Document Set for docType (spec §4.G). The
// serializer for docType must already be registered on the registry
// NewContext was built with.
func Set[T docwrap.Document](c *Context, docType string) (*docset.Set[T], error) {
	ser, err := c.registry.Get(docType)
	if err != nil {
		return nil, err
	}
	coll := c.collectionFor(ser.CollectionName())
	return docset.New[T](c, coll, ser, c.manager, c.validator), nil
}

// docCollectionName reads doc's collection name without dereferencing a nil
// interface value, so TrackObject can hand the validator something safe to
// inspect even when the caller passed a nil document.
func docCollectionName(doc docwrap.Document) string {
	if doc == nil {
		return ""
	}
	return doc.CollectionName()
}

func (c *Context) collectionFor(name string) driver.Collection {
	c.collMu.Lock()
	defer c.collMu.Unlock()
	if coll, ok := c.collections[name]; ok {
		return coll
	}
	coll := c.store.Collection(name)
	c.collections[name] = coll
	return coll
}

// TrackObject implements docset.Tracker: it routes doc into the State
// Manager under initialState, assigning a fresh identity first if doc is
// new (spec §4.G: "each forwards to trackObject(doc, initialState) on the
// Context").
func (c *Context) TrackObject(docType string, doc docwrap.Document, initialState tracking.State) (*tracking.Entry, error) {
	if err := c.validator.ValidateDocument(doc, docCollectionName(doc)); err != nil {
		return nil, err
	}

	id := doc.DocumentID()
	if id.IsZero() {
		if initialState != tracking.Added {
			return nil, dberr.Argument("document has no identity")
		}
		id = identity.New()
		doc.SetDocumentID(id)
	}

	entry := c.manager.AddOrGetExisting(id, docType, doc, initialState)
	if entry.State() != initialState {
		if err := c.manager.ChangeDocumentState(entry, initialState); err != nil {
			return nil, err
		}
	}
	if initialState == tracking.Modified {
		c.markWholeDocumentChanged(docType, entry)
	}
	return entry, nil
}

// markWholeDocumentChanged notes every one of docType's controlled
// properties as changed. trackObject calls this when a caller hands it an
// already-Modified document directly (spec §4.G update(doc)) rather than
// going through a controlled setter, which is the only path that would
// otherwise call NotePropertyChanged — without it, the entry would sit in
// Modified with an empty modified-property set, violating spec §3's
// invariant that every Modified entry's set is non-empty. Falls back to a
// sentinel name if docType isn't registered, so the invariant still holds
// for a caller that tracks an ad hoc type.
func (c *Context) markWholeDocumentChanged(docType string, entry *tracking.Entry) {
	ser, err := c.registry.Get(docType)
	if err != nil {
		_ = entry.NotePropertyChanged(wholeDocumentSentinel)
		return
	}
	names := ser.PropertyNames()
	if len(names) == 0 {
		_ = entry.NotePropertyChanged(wholeDocumentSentinel)
		return
	}
	for _, name := range names {
		_ = entry.NotePropertyChanged(name)
	}
}

// wholeDocumentSentinel stands in for "every property" when a docType has
// no registered schema (or an empty one) to enumerate property names from.
const wholeDocumentSentinel = "*"

// maskFor maps a dirty lifecycle state onto the StateMask that selects it.
func maskFor(state tracking.State) tracking.StateMask {
	switch state {
	case tracking.Added:
		return tracking.MaskAdded
	case tracking.Modified:
		return tracking.MaskModified
	case tracking.Deleted:
		return tracking.MaskDeleted
	default:
		return 0
	}
}

func groupByType(entries []*tracking.Entry) map[string][]*tracking.Entry {
	out := make(map[string][]*tracking.Entry)
	for _, e := range entries {
		out[e.DocType()] = append(out[e.DocType()], e)
	}
	return out
}

type saveGroupResult struct {
	docType      string
	committed    int64
	writeErrors  int
	err          error
}

// SaveChanges is the save pipeline (spec §4.H saveChanges): for each state
// in order [Added, Modified, Deleted], groups that state's entries by
// document type and issues one bulk command per ≤1000-entry slice per
// group. Groups within a state run concurrently on the worker pool (spec
// §5: "within a state, document kinds are unordered"); the three states
// themselves run strictly in sequence. Returns the total committed count
// across every slice and group.
func (c *Context) SaveChanges(ctx context.Context) (int64, error) {
	start := time.Now()
	var total int64

	for _, state := range [...]tracking.State{tracking.Added, tracking.Modified, tracking.Deleted} {
		entries := c.manager.GetEntries(maskFor(state))
		if len(entries) == 0 {
			continue
		}
		groups := groupByType(entries)

		results := make(chan saveGroupResult, len(groups))
		var wg sync.WaitGroup
		for docType, groupEntries := range groups {
			docType, groupEntries := docType, groupEntries
			wg.Add(1)
			task := workerpool.Task{
				ID: fmt.Sprintf("save:%s:%s", state, docType),
				Fn: func(taskCtx context.Context) error {
					defer wg.Done()
					n, writeErrs, err := c.saveGroup(taskCtx, state, docType, groupEntries)
					results <- saveGroupResult{docType: docType, committed: n, writeErrors: writeErrs, err: err}
					return err
				},
				Context: ctx,
			}
			if err := c.pool.SubmitWithContext(ctx, task); err != nil {
				wg.Done()
				if c.metrics != nil {
					c.metrics.RecordCommandError()
				}
				return total, dberr.Command("failed to schedule save group", err)
			}
		}
		wg.Wait()
		close(results)

		if c.metrics != nil {
			stats := c.pool.Stats()
			c.metrics.ObservePool(stats.Active, stats.Queued)
		}

		for r := range results {
			if c.metrics != nil {
				c.metrics.RecordSave(state.String(), int(r.committed), r.writeErrors)
			}
			if r.err != nil {
				c.logger.Error("save group failed",
					zap.String("doc_type", r.docType),
					zap.String("state", state.String()),
					zap.Error(r.err))
				if c.metrics != nil {
					c.metrics.RecordCommandError()
				}
				total += r.committed
				return total, r.err
			}
			total += r.committed
		}
	}

	if c.metrics != nil {
		c.metrics.RecordSaveDuration(time.Since(start).Seconds())
	}
	return total, nil
}

// saveGroup issues one bulk command per ≤MaxSliceSize slice of entries,
// all of the same docType and state (spec §6: "Insert batches larger than
// 1000 entries are partitioned into slices each ≤ 1000").
func (c *Context) saveGroup(ctx context.Context, state tracking.State, docType string, entries []*tracking.Entry) (int64, int, error) {
	ser, err := c.registry.Get(docType)
	if err != nil {
		return 0, 0, err
	}
	coll := c.collectionFor(ser.CollectionName())

	slices := validate.Slices(entries, c.validator.MaxSliceSize())
	var committed int64
	var writeErrors int
	for _, slice := range slices {
		n, failed, err := c.saveSlice(ctx, state, ser, coll, slice)
		if err != nil {
			return committed, writeErrors, err
		}
		committed += n
		writeErrors += failed
	}
	return committed, writeErrors, nil
}

// saveSlice issues exactly one bulk command for slice, then transitions
// every entry the store did not report a write error for (spec §4.H:
// "subtract entries reported as failed from the slice; for each remaining
// entry, transition via the State Manager").
func (c *Context) saveSlice(ctx context.Context, state tracking.State, ser *serializer.Serializer, coll driver.Collection, slice []*tracking.Entry) (int64, int, error) {
	var result *driver.BulkResult
	var err error

	switch state {
	case tracking.Added:
		docs := make([]bson.D, len(slice))
		for i, e := range slice {
			docs[i] = ser.Encode(e.Document())
		}
		result, err = coll.InsertMany(ctx, docs)
	case tracking.Modified:
		updates := make([]driver.Update, len(slice))
		for i, e := range slice {
			updates[i] = driver.Update{
				Filter:      bson.D{{Key: "_id", Value: e.Identity()}},
				Replacement: ser.Encode(e.Document()),
			}
		}
		result, err = coll.UpdateMany(ctx, updates)
	case tracking.Deleted:
		deletes := make([]driver.Delete, len(slice))
		for i, e := range slice {
			deletes[i] = driver.Delete{Filter: bson.D{{Key: "_id", Value: e.Identity()}}}
		}
		result, err = coll.DeleteMany(ctx, deletes)
	default:
		return 0, 0, dberr.InvalidState("saveSlice called with a non-dirty state")
	}
	if err != nil {
		return 0, 0, dberr.Command("bulk command failed", err)
	}

	failed := make(map[int]struct{}, len(result.Errors))
	for _, we := range result.Errors {
		failed[we.Index] = struct{}{}
		c.logger.Warn("per-document write error",
			zap.String("doc_type", ser.DocType()),
			zap.Int("index", we.Index),
			zap.Int("code", we.Code),
			zap.String("message", we.Message))
	}

	target := tracking.Unchanged
	if state == tracking.Deleted {
		target = tracking.Detached
	}
	for i, e := range slice {
		if _, bad := failed[i]; bad {
			continue
		}
		if err := c.manager.ChangeDocumentState(e, target); err != nil {
			c.logger.Error("failed to transition committed entry",
				zap.String("doc_type", ser.DocType()),
				zap.Error(err))
		}
	}
	return result.CommittedCount, len(result.Errors), nil
}

// SaveEntry is the non-batched single-entry save (spec §4.H: "targets
// exactly one entry and applies the same rules"). A no-op for an entry
// that is already Unchanged or Detached.
func (c *Context) SaveEntry(ctx context.Context, entry *tracking.Entry) error {
	state := entry.State()
	if state != tracking.Added && state != tracking.Modified && state != tracking.Deleted {
		return nil
	}
	ser, err := c.registry.Get(entry.DocType())
	if err != nil {
		return err
	}
	coll := c.collectionFor(ser.CollectionName())
	_, _, err = c.saveSlice(ctx, state, ser, coll, []*tracking.Entry{entry})
	return err
}

// Reload issues the reload command (spec §4.H, §6: find-and-modify with an
// empty update) and re-hydrates entry's document in place through the
// identity-preserving decode path, resetting it to Unchanged. Any property
// edits made concurrently with the in-flight reload are discarded (spec §9
// Design Notes: "reload is last writer wins from the store's
// perspective").
func (c *Context) Reload(ctx context.Context, entry *tracking.Entry) error {
	start := time.Now()
	ser, err := c.registry.Get(entry.DocType())
	if err != nil {
		return err
	}
	coll := c.collectionFor(ser.CollectionName())

	raw, err := coll.FindAndModifyEmpty(ctx, bson.D{{Key: "_id", Value: entry.Identity()}})
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordCommandError()
		}
		return dberr.Command("reload failed", err)
	}
	if raw == nil {
		return dberr.InvalidState("reload target no longer exists in the store")
	}

	_, _, err = ser.Decode(raw, c.manager)
	if c.metrics != nil {
		c.metrics.RecordReload(time.Since(start).Seconds())
	}
	return err
}

// Statistics is the on-demand snapshot spec §4.H's "Statistics" describes:
// per-state entry counts, cache live vs. total capacity, and cleanup
// totals/timings.
type Statistics struct {
	Added     int
	Modified  int
	Deleted   int
	Unchanged int

	CacheLiveEntries int
	CacheCapacity    int

	CleanUp tracking.CleanUpStats
}

// Statistics produces the current snapshot, also pushing the same values
// into Prometheus if a *metrics.Metrics was attached via WithMetrics.
func (c *Context) Statistics() Statistics {
	stats := Statistics{
		Added:            c.manager.Count(tracking.MaskAdded),
		Modified:         c.manager.Count(tracking.MaskModified),
		Deleted:          c.manager.Count(tracking.MaskDeleted),
		Unchanged:        c.manager.Count(tracking.MaskUnchanged),
		CacheLiveEntries: c.manager.CacheLiveEntries(),
		CacheCapacity:    c.manager.CacheCapacity(),
		CleanUp:          c.manager.Stats(),
	}
	if c.metrics != nil {
		c.metrics.ObserveStateCounts(stats.Added, stats.Modified, stats.Deleted, stats.Unchanged)
		c.metrics.ObserveCache(stats.CacheLiveEntries, stats.CacheCapacity)
	}
	return stats
}
