// Package serializer implements the Document Serializer (spec §4.F): the
// identity-preserving encode/decode path that writes a tracked document as
// a self-describing, declaration-ordered BSON record and, on the way back
// in, offers every identity to the State Manager first so a second read of
// the same document reuses the already-tracked in-memory instance.
//
// bson.D (an ordered document, not bson.M's unordered map) is chosen
// specifically because spec §4.F requires a stable field order — _id, then
// scalar/complex fields in declaration order, then single-references, then
// collection-references — which only an ordered BSON type preserves
// through Marshal.
package serializer

import (
	"github.com/devrev/docmap/dberr"
	"github.com/devrev/docmap/docwrap"
	"github.com/devrev/docmap/identity"
	"github.com/devrev/docmap/tracking"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Schema describes the declared shape of one document kind: which property
// names are scalar/complex (persisted by value), which are single-reference
// navigation properties (persisted as one identity), and which are
// collection-reference navigation properties (persisted as an ordered
// identity sequence). New constructs a fresh, empty instance of the
// document type, used when deserialization finds no already-tracked
// instance for an identity (spec §4.F step 2).
type Schema struct {
	DocType              string
	CollectionName       string
	ScalarProperties     []string
	SingleReferences     []string
	CollectionReferences []string
	New                  func() docwrap.Document
}

// Serializer is the identity-preserving codec for one Schema.
type Serializer struct {
	schema Schema
}

// New builds a Serializer for schema.
func New(schema Schema) *Serializer {
	return &Serializer{schema: schema}
}

// DocType returns the document type name this serializer handles.
func (s *Serializer) DocType() string { return s.schema.DocType }

// CollectionName returns the logical collection this serializer's kind is
// stored under.
func (s *Serializer) CollectionName() string { return s.schema.CollectionName }

// PropertyNames returns every controlled property name this schema
// declares: scalar/complex fields, then single-references, then
// collection-references, in declaration order. Used to mark a whole
// document dirty when it is tracked as Modified without going through the
// individual controlled setters (spec §4.G update(doc)).
func (s *Serializer) PropertyNames() []string {
	out := make([]string, 0, len(s.schema.ScalarProperties)+len(s.schema.SingleReferences)+len(s.schema.CollectionReferences))
	out = append(out, s.schema.ScalarProperties...)
	out = append(out, s.schema.SingleReferences...)
	out = append(out, s.schema.CollectionReferences...)
	return out
}

// Encode writes doc as an ordered BSON record per spec §4.F: identity
// first, then each scalar/complex property by declaration order, then each
// single-reference as its referent's identity (or the empty identity if
// absent), then each collection-reference as an ordered identity sequence.
func (s *Serializer) Encode(doc docwrap.Document) bson.D {
	out := make(bson.D, 0, 1+len(s.schema.ScalarProperties)+len(s.schema.SingleReferences)+len(s.schema.CollectionReferences))
	out = append(out, bson.E{Key: "_id", Value: doc.DocumentID()})

	for _, name := range s.schema.ScalarProperties {
		out = append(out, bson.E{Key: name, Value: doc.Property(name)})
	}

	refs := doc.References()
	for _, name := range s.schema.SingleReferences {
		id, _ := refs[name].(identity.ID)
		out = append(out, bson.E{Key: name, Value: id})
	}
	for _, name := range s.schema.CollectionReferences {
		ids, _ := refs[name].([]identity.ID)
		out = append(out, bson.E{Key: name, Value: ids})
	}
	return out
}

// Decode is the critical path of spec §4.F: it reads an identity from raw,
// offers it to manager (beforeDeserialize) to preserve single-instance
// identity, hydrates scalar and navigation fields with property-change
// tracking suppressed, then offers the hydrated document back to manager
// (afterDeserialize), which adds-or-gets an entry and transitions it to
// Unchanged. The returned Entry is always Unchanged on success.
func (s *Serializer) Decode(raw bson.Raw, manager *tracking.Manager) (docwrap.Document, *tracking.Entry, error) {
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, nil, dberr.Command("failed to unmarshal stored document", err)
	}

	id, err := extractID(m)
	if err != nil {
		return nil, nil, err
	}

	// beforeDeserialize: reuse the already-tracked instance if one exists.
	var document docwrap.Document
	if existing := manager.Find(id); existing != nil {
		document = existing.Document()
	}
	if document == nil {
		document = s.schema.New()
		document.SetDocumentID(id)
	}

	manager.SetDocumentPropertyTracking(id, false)
	for _, name := range s.schema.ScalarProperties {
		if v, ok := m[name]; ok {
			document.SetProperty(name, v)
		}
	}
	for _, name := range s.schema.SingleReferences {
		if v, ok := m[name]; ok {
			if oid, ok := v.(primitive.ObjectID); ok {
				document.SetReference(name, identity.ID(oid))
			}
		}
	}
	for _, name := range s.schema.CollectionReferences {
		if v, ok := m[name]; ok {
			if arr, ok := v.(bson.A); ok {
				ids := make([]identity.ID, 0, len(arr))
				for _, elem := range arr {
					if oid, ok := elem.(primitive.ObjectID); ok {
						ids = append(ids, identity.ID(oid))
					}
				}
				document.SetReference(name, ids)
			}
		}
	}
	manager.SetDocumentPropertyTracking(id, true)

	// afterDeserialize: add-or-get, then force Unchanged.
	entry := manager.AddOrGetExisting(id, s.schema.DocType, document, tracking.Unchanged)
	if err := manager.ChangeDocumentState(entry, tracking.Unchanged); err != nil {
		return nil, nil, err
	}
	return document, entry, nil
}

func extractID(m bson.M) (identity.ID, error) {
	raw, ok := m["_id"]
	if !ok {
		return identity.Empty, dberr.Command("stored document has no _id field", nil)
	}
	oid, ok := raw.(primitive.ObjectID)
	if !ok {
		return identity.Empty, dberr.Command("stored document's _id is not an ObjectID", nil)
	}
	return identity.ID(oid), nil
}

// Registry maps document type name to the Serializer registered for it
// (spec §4.H: "a registry of custom serializers keyed by document type").
// Looking up an unregistered type is the ErrCodeSerializerMissing boundary
// spec §7 describes.
type Registry struct {
	byType map[string]*Serializer
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[string]*Serializer)}
}

// Register installs s under its own DocType.
func (r *Registry) Register(s *Serializer) {
	r.byType[s.DocType()] = s
}

// Get returns the serializer registered for docType, or a
// SerializerMissingError.
func (r *Registry) Get(docType string) (*Serializer, error) {
	s, ok := r.byType[docType]
	if !ok {
		return nil, dberr.SerializerMissing(docType)
	}
	return s, nil
}
