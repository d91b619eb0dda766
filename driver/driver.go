// Package driver defines the narrow command surface spec §6 enumerates
// (insert-many, update-many, delete-many, reload) plus the read-side
// operations Document Set needs (§4.G), as an interface the core depends
// on rather than a concrete *mongo.Client. The mongodriver package is the
// one implementation, built on go.mongodb.org/mongo-driver; the interface
// boundary exists so the tracking/serializer/docset packages — the actual
// subject of this module — never import the driver package directly,
// matching spec §1's framing of the wire protocol as "an external
// collaborator."
package driver

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// WriteError is one element of a bulk command's writeErrors array (spec
// §6): a zero-based index into that command's batch, a store-assigned
// error code, and a message.
type WriteError struct {
	Index   int
	Code    int
	Message string
}

// BulkResult is the outcome of one insert-many/update-many/delete-many
// command: how many of the batch committed, and which positions failed.
type BulkResult struct {
	CommittedCount int64
	Errors         []WriteError
}

// Update is one element of an update-many command's updates array: a
// match-by-identity filter and the full replacement document.
type Update struct {
	Filter      bson.D
	Replacement bson.D
}

// Delete is one element of a delete-many command's deletes array: a
// match-by-identity filter, so each element removes at most one document.
type Delete struct {
	Filter bson.D
}

// FindOptions controls a filtered find (spec §4.G find(predicate, options)).
type FindOptions struct {
	Limit int64
	Skip  int64
	Sort  bson.D
}

// Collection is the per-document-kind command surface a Document Set and
// the save pipeline depend on.
type Collection interface {
	// InsertMany issues the insert-many command (spec §6) for an Added
	// slice.
	InsertMany(ctx context.Context, docs []bson.D) (*BulkResult, error)
	// UpdateMany issues the update-many command for a Modified slice.
	UpdateMany(ctx context.Context, updates []Update) (*BulkResult, error)
	// DeleteMany issues the delete-many command for a Deleted slice.
	DeleteMany(ctx context.Context, deletes []Delete) (*BulkResult, error)
	// FindAndModifyEmpty issues the reload command (spec §6): a
	// findAndModify with an empty update, returning the document's current
	// stored image.
	FindAndModifyEmpty(ctx context.Context, filter bson.D) (bson.Raw, error)

	// FindOne returns the first document matching filter, or a nil Raw if
	// none matches.
	FindOne(ctx context.Context, filter bson.D) (bson.Raw, error)
	// Find returns every document matching filter, subject to opts.
	Find(ctx context.Context, filter bson.D, opts FindOptions) ([]bson.Raw, error)
	// DeleteFiltered deletes every document matching filter, bypassing any
	// tracked set (spec §4.G delete(predicate)/deleteAll()), returning the
	// number removed.
	DeleteFiltered(ctx context.Context, filter bson.D) (int64, error)
	// CountDocuments returns the cardinality of filter's matches.
	CountDocuments(ctx context.Context, filter bson.D) (int64, error)
}

// Store opens the named logical collection. The default collection name
// equals the document type's name, with no override (spec §6).
type Store interface {
	Collection(name string) Collection
	// Ping checks connectivity to the underlying store.
	Ping(ctx context.Context) error
	// Disconnect releases any held connections.
	Disconnect(ctx context.Context) error
}
