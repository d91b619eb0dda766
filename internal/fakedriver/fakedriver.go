// Package fakedriver is an in-memory driver.Store/driver.Collection used
// only by this module's own tests, standing in for a live MongoDB-compatible
// server the way the teacher's service-layer tests stand in for a live
// commit log with an in-memory stub. It is not wired into any production
// path.
package fakedriver

import (
	"context"
	"sync"

	"github.com/devrev/docmap/driver"
	"github.com/devrev/docmap/identity"
	"go.mongodb.org/mongo-driver/bson"
)

// Store is an in-memory driver.Store: one map of documents per collection
// name.
type Store struct {
	mu          sync.Mutex
	collections map[string]*Collection
}

// New builds an empty Store.
func New() *Store {
	return &Store{collections: make(map[string]*Collection)}
}

// Collection returns the named collection, creating it on first use.
func (s *Store) Collection(name string) driver.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		c = &Collection{docs: make(map[identity.ID]bson.D)}
		s.collections[name] = c
	}
	return c
}

// Ping always succeeds; there is no real connection.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Disconnect is a no-op.
func (s *Store) Disconnect(ctx context.Context) error { return nil }

// RejectNextInsertAt configures coll (obtained via Store.Collection) to
// report a write error at the given batch index on its next InsertMany
// call, modeling spec Scenario S6.
func RejectNextInsertAt(coll driver.Collection, index int, code int, message string) {
	c := coll.(*Collection)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejectInsertIndex = &index
	c.rejectInsertCode = code
	c.rejectInsertMsg = message
}

// Collection is an in-memory driver.Collection backed by a map keyed by
// _id.
type Collection struct {
	mu   sync.Mutex
	docs map[identity.ID]bson.D

	rejectInsertIndex *int
	rejectInsertCode  int
	rejectInsertMsg   string
}

func idOf(d bson.D) (identity.ID, bool) {
	for _, e := range d {
		if e.Key == "_id" {
			id, ok := e.Value.(identity.ID)
			return id, ok
		}
	}
	return identity.Empty, false
}

// InsertMany stores each document, honoring a pending RejectNextInsertAt.
func (c *Collection) InsertMany(ctx context.Context, docs []bson.D) (*driver.BulkResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []driver.WriteError
	rejectAt := -1
	if c.rejectInsertIndex != nil {
		rejectAt = *c.rejectInsertIndex
		c.rejectInsertIndex = nil
	}

	committed := int64(0)
	for i, d := range docs {
		if i == rejectAt {
			errs = append(errs, driver.WriteError{Index: i, Code: c.rejectInsertCode, Message: c.rejectInsertMsg})
			continue
		}
		id, ok := idOf(d)
		if !ok {
			continue
		}
		c.docs[id] = d
		committed++
	}
	return &driver.BulkResult{CommittedCount: committed, Errors: errs}, nil
}

// UpdateMany replaces each matched document wholesale.
func (c *Collection) UpdateMany(ctx context.Context, updates []driver.Update) (*driver.BulkResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	committed := int64(0)
	for _, u := range updates {
		id, ok := idOf(u.Replacement)
		if !ok {
			continue
		}
		c.docs[id] = u.Replacement
		committed++
	}
	return &driver.BulkResult{CommittedCount: committed}, nil
}

// DeleteMany removes each matched document by identity.
func (c *Collection) DeleteMany(ctx context.Context, deletes []driver.Delete) (*driver.BulkResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	committed := int64(0)
	for _, del := range deletes {
		id, ok := filterID(del.Filter)
		if !ok {
			continue
		}
		if _, exists := c.docs[id]; exists {
			delete(c.docs, id)
			committed++
		}
	}
	return &driver.BulkResult{CommittedCount: committed}, nil
}

// FindAndModifyEmpty returns the current stored image for filter's identity,
// unmodified.
func (c *Collection) FindAndModifyEmpty(ctx context.Context, filter bson.D) (bson.Raw, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := filterID(filter)
	if !ok {
		return nil, nil
	}
	d, exists := c.docs[id]
	if !exists {
		return nil, nil
	}
	raw, err := bson.Marshal(d)
	if err != nil {
		return nil, err
	}
	return bson.Raw(raw), nil
}

// FindOne returns the document whose _id matches filter. Any other filter
// is not evaluated: it returns an arbitrary stored document.
func (c *Collection) FindOne(ctx context.Context, filter bson.D) (bson.Raw, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := filterID(filter); ok {
		d, exists := c.docs[id]
		if !exists {
			return nil, nil
		}
		raw, err := bson.Marshal(d)
		if err != nil {
			return nil, err
		}
		return bson.Raw(raw), nil
	}
	for _, d := range c.docs {
		raw, err := bson.Marshal(d)
		if err != nil {
			return nil, err
		}
		return bson.Raw(raw), nil
	}
	return nil, nil
}

// Find returns every document (the fake does not evaluate filter
// predicates beyond an identity match or an {_id: {$in: [...]}} batch
// match), subject to opts.Limit.
func (c *Collection) Find(ctx context.Context, filter bson.D, opts driver.FindOptions) ([]bson.Raw, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []bson.Raw
	if ids, ok := filterIDIn(filter); ok {
		for _, id := range ids {
			if d, exists := c.docs[id]; exists {
				raw, err := bson.Marshal(d)
				if err != nil {
					return nil, err
				}
				out = append(out, bson.Raw(raw))
			}
		}
		return out, nil
	}
	if id, ok := filterID(filter); ok {
		if d, exists := c.docs[id]; exists {
			raw, err := bson.Marshal(d)
			if err != nil {
				return nil, err
			}
			out = append(out, bson.Raw(raw))
		}
		return out, nil
	}
	for _, d := range c.docs {
		raw, err := bson.Marshal(d)
		if err != nil {
			return nil, err
		}
		out = append(out, bson.Raw(raw))
		if opts.Limit > 0 && int64(len(out)) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func filterIDIn(filter bson.D) ([]identity.ID, bool) {
	for _, e := range filter {
		if e.Key != "_id" {
			continue
		}
		inner, ok := e.Value.(bson.D)
		if !ok {
			return nil, false
		}
		for _, ie := range inner {
			if ie.Key != "$in" {
				continue
			}
			ids, ok := ie.Value.([]identity.ID)
			return ids, ok
		}
	}
	return nil, false
}

// DeleteFiltered removes the document whose _id matches filter, bypassing
// any tracked set. Any other filter is not evaluated and removes every
// stored document.
func (c *Collection) DeleteFiltered(ctx context.Context, filter bson.D) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := filterID(filter); ok {
		if _, exists := c.docs[id]; exists {
			delete(c.docs, id)
			return 1, nil
		}
		return 0, nil
	}
	n := int64(len(c.docs))
	c.docs = make(map[identity.ID]bson.D)
	return n, nil
}

// CountDocuments returns 1 or 0 for an _id filter; any other filter is not
// evaluated and counts every stored document.
func (c *Collection) CountDocuments(ctx context.Context, filter bson.D) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := filterID(filter); ok {
		if _, exists := c.docs[id]; exists {
			return 1, nil
		}
		return 0, nil
	}
	return int64(len(c.docs)), nil
}

func filterID(filter bson.D) (identity.ID, bool) {
	for _, e := range filter {
		if e.Key == "_id" {
			id, ok := e.Value.(identity.ID)
			return id, ok
		}
	}
	return identity.Empty, false
}
