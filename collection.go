package docmap

import (
	"context"

	"github.com/devrev/docmap/dberr"
	"github.com/devrev/docmap/docwrap"
	"github.com/devrev/docmap/driver"
	"github.com/devrev/docmap/identity"
	"github.com/devrev/docmap/tracking"
	"go.mongodb.org/mongo-driver/bson"
)

// NavigableSet is the change-notifying collection a CollectionEntry's Load
// assigns (spec §4.H: "wraps them in a change-notifying set"). Every
// mutation re-invokes the owning document's controlled setter so the
// State Manager sees the same property-changed event a scalar write would
// produce.
type NavigableSet struct {
	owner        docwrap.Document
	propertyName string
	items        []docwrap.Document
}

func newNavigableSet(owner docwrap.Document, propertyName string, items []docwrap.Document) *NavigableSet {
	return &NavigableSet{owner: owner, propertyName: propertyName, items: items}
}

// Items returns a snapshot of the set's current members, in no particular
// order (spec Scenario S4: "contains exactly 10 items in any order").
func (s *NavigableSet) Items() []docwrap.Document {
	return append([]docwrap.Document(nil), s.items...)
}

// Len returns the number of members.
func (s *NavigableSet) Len() int { return len(s.items) }

// Contains reports whether a document with doc's identity is a member.
func (s *NavigableSet) Contains(doc docwrap.Document) bool {
	return s.indexOf(doc.DocumentID()) >= 0
}

// Add inserts doc if not already present, firing the owner's change
// notification.
func (s *NavigableSet) Add(doc docwrap.Document) {
	if s.indexOf(doc.DocumentID()) >= 0 {
		return
	}
	s.items = append(s.items, doc)
	s.notify()
}

// Remove deletes the member matching doc's identity, if any, firing the
// owner's change notification.
func (s *NavigableSet) Remove(doc docwrap.Document) {
	i := s.indexOf(doc.DocumentID())
	if i < 0 {
		return
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	s.notify()
}

func (s *NavigableSet) indexOf(id identity.ID) int {
	for i, d := range s.items {
		if d.DocumentID() == id {
			return i
		}
	}
	return -1
}

// notify re-derives the raw identity sequence from the current membership
// and writes it back through SetReference — so the next saveChanges
// re-encodes the mutated set, not the sequence originally decoded from the
// store — then fires the owner's controlled setter so the State Manager
// sees the same property-changed event a scalar write would produce.
func (s *NavigableSet) notify() {
	ids := make([]identity.ID, len(s.items))
	for i, item := range s.items {
		ids[i] = item.DocumentID()
	}
	s.owner.SetReference(s.propertyName, ids)
	s.owner.SetProperty(s.propertyName, s)
}

// CollectionEntry is the Entry Handle spec §4.H describes for a
// collection-reference navigation property: the full set contract plus
// load().
type CollectionEntry struct {
	ctx             *Context
	entry           *tracking.Entry
	propertyName    string
	referentDocType string
}

// CollectionRef builds the Collection Entry Handle for entry's
// propertyName collection-reference navigation property, whose members
// are of referentDocType.
func (c *Context) CollectionRef(entry *tracking.Entry, propertyName, referentDocType string) *CollectionEntry {
	return &CollectionEntry{ctx: c, entry: entry, propertyName: propertyName, referentDocType: referentDocType}
}

func (r *CollectionEntry) storedIdentities(doc docwrap.Document) ([]identity.ID, bool) {
	raw, ok := doc.References()[r.propertyName]
	if !ok {
		return nil, false
	}
	ids, ok := raw.([]identity.ID)
	return ids, ok
}

// CurrentValue returns the resolved set, or nil if unresolved.
func (r *CollectionEntry) CurrentValue() *NavigableSet {
	doc := r.entry.Document()
	if doc == nil {
		return nil
	}
	v, _ := doc.Property(r.propertyName).(*NavigableSet)
	return v
}

// IsLoaded reports whether the current value is non-null or no identity
// sequence exists (spec §4.H).
func (r *CollectionEntry) IsLoaded() bool {
	doc := r.entry.Document()
	if doc == nil {
		return false
	}
	if doc.Property(r.propertyName) != nil {
		return true
	}
	ids, ok := r.storedIdentities(doc)
	return !ok || len(ids) == 0
}

// Load reads the stored identity sequence, fetches every referent in one
// batched query, wraps them in a NavigableSet, and assigns it. A second
// call is a no-op (spec Scenario S4).
func (r *CollectionEntry) Load(ctx context.Context) error {
	if r.IsLoaded() {
		return nil
	}
	doc := r.entry.Document()
	if doc == nil {
		return dberr.InvalidState("cannot load a collection whose owning document has been reclaimed")
	}
	ids, ok := r.storedIdentities(doc)
	if !ok || len(ids) == 0 {
		return nil
	}

	items, err := r.ctx.fetchManyByIdentity(ctx, r.referentDocType, ids)
	if err != nil {
		return err
	}
	ownerID := r.entry.Identity()
	r.ctx.manager.SetDocumentPropertyTracking(ownerID, false)
	doc.SetProperty(r.propertyName, newNavigableSet(doc, r.propertyName, items))
	r.ctx.manager.SetDocumentPropertyTracking(ownerID, true)
	return nil
}

// fetchManyByIdentity resolves every id in one batched query, reusing
// already-tracked instances and fetching the rest with a single {_id:
// {$in: [...]}} find (spec §4.H: "fetches referents in one batched
// query").
func (c *Context) fetchManyByIdentity(ctx context.Context, docType string, ids []identity.ID) ([]docwrap.Document, error) {
	out := make([]docwrap.Document, 0, len(ids))
	var missing []identity.ID
	for _, id := range ids {
		if existing := c.manager.Find(id); existing != nil {
			out = append(out, existing.Document())
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	ser, err := c.registry.Get(docType)
	if err != nil {
		return nil, err
	}
	coll := c.collectionFor(ser.CollectionName())

	rows, err := coll.Find(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: missing}}}}, driver.FindOptions{})
	if err != nil {
		return nil, dberr.Command("batched collection load failed", err)
	}
	for _, row := range rows {
		doc, _, err := ser.Decode(row, c.manager)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}
