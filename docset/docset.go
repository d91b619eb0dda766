// Package docset implements the Document Set (spec §4.G): a typed facade
// per document kind over a Tracker (the Repository Context) and a
// driver.Collection. Tracker is declared locally, mirroring the pattern
// cleaner.StateManager already uses, so docset never imports the root
// docmap package — the root package imports docset instead, keeping the
// dependency direction one-way.
package docset

import (
	"context"
	"sync/atomic"

	"github.com/devrev/docmap/dberr"
	"github.com/devrev/docmap/docwrap"
	"github.com/devrev/docmap/driver"
	"github.com/devrev/docmap/identity"
	"github.com/devrev/docmap/internal/validate"
	"github.com/devrev/docmap/serializer"
	"github.com/devrev/docmap/tracking"
	"go.mongodb.org/mongo-driver/bson"
)

// Tracker is the subset of Repository Context a Document Set drives
// mutations through (spec §4.G: "each forwards to trackObject(doc,
// initialState) on the Context"). docType is threaded through explicitly
// since docwrap.Document itself carries a collection name but not a
// distinct serializer key.
type Tracker interface {
	TrackObject(docType string, doc docwrap.Document, initialState tracking.State) (*tracking.Entry, error)
}

// Set is the Document Set for one document kind T.
type Set[T docwrap.Document] struct {
	tracker    Tracker
	collection driver.Collection
	serializer *serializer.Serializer
	manager    *tracking.Manager
	validator  *validate.Validator

	findInFlight atomic.Bool
}

// New builds a Set over collection for the given serializer, which is
// assumed registered under tracker's serializer.Registry.
func New[T docwrap.Document](tracker Tracker, collection driver.Collection, ser *serializer.Serializer, manager *tracking.Manager, validator *validate.Validator) *Set[T] {
	if validator == nil {
		validator = validate.NewValidator()
	}
	return &Set[T]{tracker: tracker, collection: collection, serializer: ser, manager: manager, validator: validator}
}

// Add tracks doc as newly created (spec §4.G add).
func (s *Set[T]) Add(doc T) (*tracking.Entry, error) {
	return s.tracker.TrackObject(s.serializer.DocType(), doc, tracking.Added)
}

// Attach tracks doc as an already-persisted, unmodified instance.
func (s *Set[T]) Attach(doc T) (*tracking.Entry, error) {
	return s.tracker.TrackObject(s.serializer.DocType(), doc, tracking.Unchanged)
}

// Update tracks doc as modified.
func (s *Set[T]) Update(doc T) (*tracking.Entry, error) {
	return s.tracker.TrackObject(s.serializer.DocType(), doc, tracking.Modified)
}

// Remove tracks doc as marked for deletion.
func (s *Set[T]) Remove(doc T) (*tracking.Entry, error) {
	return s.tracker.TrackObject(s.serializer.DocType(), doc, tracking.Deleted)
}

// Find fetches the document with id directly from the store — it does not
// consult the State Manager itself, but decoding through the serializer
// still offers the identity to the manager first (spec §4.G: "does not
// consult the state manager" refers to the fetch, not the identity-
// preserving decode that always runs).
func (s *Set[T]) Find(ctx context.Context, id identity.ID) (T, error) {
	var zero T
	if id.IsZero() {
		return zero, dberr.Argument("identity must not be empty")
	}
	raw, err := s.collection.FindOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return zero, dberr.Command("find by identity failed", err)
	}
	if raw == nil {
		return zero, nil
	}
	return s.decodeOne(raw)
}

// FindMany is the pass-through filtered fetch (spec §4.G find(predicate,
// options)). filter and opts are passed through verbatim to the driver —
// there is no query-translation layer (spec §1 Non-goals).
func (s *Set[T]) FindMany(ctx context.Context, filter bson.D, opts driver.FindOptions) ([]T, error) {
	if err := s.validator.ValidateBatchSize(int(opts.Limit)); err != nil {
		return nil, err
	}
	if err := s.validator.ValidateBatchSize(int(opts.Skip)); err != nil {
		return nil, err
	}
	rows, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, dberr.Command("filtered find failed", err)
	}
	out := make([]T, 0, len(rows))
	for _, raw := range rows {
		doc, err := s.decodeOne(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// FindOne is find with limit 1.
func (s *Set[T]) FindOne(ctx context.Context, filter bson.D) (T, error) {
	var zero T
	rows, err := s.FindMany(ctx, filter, driver.FindOptions{Limit: 1})
	if err != nil {
		return zero, err
	}
	if len(rows) == 0 {
		return zero, nil
	}
	return rows[0], nil
}

// All is iteration: find with an empty predicate.
func (s *Set[T]) All(ctx context.Context) ([]T, error) {
	return s.FindMany(ctx, bson.D{}, driver.FindOptions{})
}

// Delete removes doc's stored row directly, bypassing the tracked set
// (spec §4.G: "the caller is responsible for also detaching any tracked
// copies").
func (s *Set[T]) Delete(ctx context.Context, doc T) error {
	id := doc.DocumentID()
	if id.IsZero() {
		return dberr.Argument("document has no identity")
	}
	_, err := s.collection.DeleteFiltered(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return dberr.Command("delete failed", err)
	}
	return nil
}

// DeleteFiltered deletes every document matching filter, bypassing the
// tracked set (spec §4.G delete(predicate), Design Notes "Collection
// deletion bypass").
func (s *Set[T]) DeleteFiltered(ctx context.Context, filter bson.D) (int64, error) {
	n, err := s.collection.DeleteFiltered(ctx, filter)
	if err != nil {
		return 0, dberr.Command("filtered delete failed", err)
	}
	return n, nil
}

// DeleteAll deletes every document in the collection, bypassing the
// tracked set.
func (s *Set[T]) DeleteAll(ctx context.Context) (int64, error) {
	return s.DeleteFiltered(ctx, bson.D{})
}

// Count is the cardinality of the underlying collection.
func (s *Set[T]) Count(ctx context.Context) (int64, error) {
	n, err := s.collection.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, dberr.Command("count failed", err)
	}
	return n, nil
}

// FindAsync is the push-based observable find (spec §5, §9 Design Notes:
// "model it as a task that pumps into a bounded channel with
// caller-supplied observer(s) draining"). Only one may be in flight per
// Set at a time; a second overlapping call is refused with a
// ConcurrentFind error (spec §7). Cancelling ctx stops the pump early
// without raising; the channel is simply closed (spec §5: "on
// cancellation they complete with an empty result and do not raise").
func (s *Set[T]) FindAsync(ctx context.Context, filter bson.D) (<-chan T, error) {
	if !s.findInFlight.CompareAndSwap(false, true) {
		return nil, dberr.ConcurrentFind()
	}

	out := make(chan T, 16)
	go func() {
		defer close(out)
		defer s.findInFlight.Store(false)

		rows, err := s.collection.Find(ctx, filter, driver.FindOptions{})
		if err != nil {
			return
		}
		for _, raw := range rows {
			doc, err := s.decodeOne(raw)
			if err != nil {
				return
			}
			select {
			case out <- doc:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Set[T]) decodeOne(raw bson.Raw) (T, error) {
	var zero T
	doc, _, err := s.serializer.Decode(raw, s.manager)
	if err != nil {
		return zero, err
	}
	typed, ok := doc.(T)
	if !ok {
		return zero, dberr.Command("decoded document has unexpected concrete type", nil)
	}
	return typed, nil
}
