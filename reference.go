package docmap

import (
	"context"

	"github.com/devrev/docmap/dberr"
	"github.com/devrev/docmap/docwrap"
	"github.com/devrev/docmap/identity"
	"github.com/devrev/docmap/tracking"
	"go.mongodb.org/mongo-driver/bson"
)

// ReferenceEntry is the Entry Handle spec §4.H describes for a
// single-reference navigation property: "exposes currentValue, isLoaded,
// and load()." referentDocType names the serializer the referent must be
// decoded with — the navigable map only carries a raw identity, never a
// type, so the caller supplies it once when asking the Context for the
// handle.
type ReferenceEntry struct {
	ctx             *Context
	entry           *tracking.Entry
	propertyName    string
	referentDocType string
}

// Reference builds the Reference Entry Handle for entry's propertyName
// single-reference navigation property, whose referent is of
// referentDocType.
func (c *Context) Reference(entry *tracking.Entry, propertyName, referentDocType string) *ReferenceEntry {
	return &ReferenceEntry{ctx: c, entry: entry, propertyName: propertyName, referentDocType: referentDocType}
}

func (r *ReferenceEntry) storedIdentity(doc docwrap.Document) (identity.ID, bool) {
	raw, ok := doc.References()[r.propertyName]
	if !ok {
		return identity.Empty, false
	}
	id, ok := raw.(identity.ID)
	return id, ok
}

// CurrentValue returns the resolved referent, or nil if unresolved.
func (r *ReferenceEntry) CurrentValue() docwrap.Document {
	doc := r.entry.Document()
	if doc == nil {
		return nil
	}
	v, _ := doc.Property(r.propertyName).(docwrap.Document)
	return v
}

// IsLoaded reports whether the current value is non-null or the stored
// identity is empty (spec §4.H: "isLoaded is true if the current value is
// non-null or the stored identity is empty").
func (r *ReferenceEntry) IsLoaded() bool {
	doc := r.entry.Document()
	if doc == nil {
		return false
	}
	if doc.Property(r.propertyName) != nil {
		return true
	}
	id, ok := r.storedIdentity(doc)
	return !ok || id.IsZero()
}

// Load reads the stored identity, fetches the referent by identity, and
// assigns it through the controlled setter. A second call is a no-op
// (spec Scenario S3).
func (r *ReferenceEntry) Load(ctx context.Context) error {
	if r.IsLoaded() {
		return nil
	}
	doc := r.entry.Document()
	if doc == nil {
		return dberr.InvalidState("cannot load a reference whose owning document has been reclaimed")
	}
	id, ok := r.storedIdentity(doc)
	if !ok || id.IsZero() {
		return nil
	}

	referent, err := r.ctx.fetchByIdentity(ctx, r.referentDocType, id)
	if err != nil {
		return err
	}
	if referent != nil {
		ownerID := r.entry.Identity()
		r.ctx.manager.SetDocumentPropertyTracking(ownerID, false)
		doc.SetProperty(r.propertyName, referent)
		r.ctx.manager.SetDocumentPropertyTracking(ownerID, true)
	}
	return nil
}

// fetchByIdentity returns the already-tracked instance for id if one
// exists, otherwise fetches and decodes it from docType's collection
// through the identity-preserving path.
func (c *Context) fetchByIdentity(ctx context.Context, docType string, id identity.ID) (docwrap.Document, error) {
	if existing := c.manager.Find(id); existing != nil {
		return existing.Document(), nil
	}
	ser, err := c.registry.Get(docType)
	if err != nil {
		return nil, err
	}
	coll := c.collectionFor(ser.CollectionName())
	raw, err := coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return nil, dberr.Command("reference load failed", err)
	}
	if raw == nil {
		return nil, nil
	}
	doc, _, err := ser.Decode(raw, c.manager)
	return doc, err
}
