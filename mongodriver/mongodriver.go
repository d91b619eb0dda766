// Package mongodriver is the one concrete implementation of the driver
// package's interfaces, built on go.mongodb.org/mongo-driver. It maps the
// four bulk commands spec §6 enumerates onto the driver's InsertMany,
// BulkWrite, and FindOneAndUpdate calls, and translates
// mongo.BulkWriteException's per-document failures into driver.WriteError
// (spec: "writeErrors array... {index, code, errmsg}").
//
// Grounded on the teacher's internal/service/storage_service.go for the
// shape of a thin adapter wrapping a client handle behind the core's own
// interface, with every outcome logged through zap rather than returned
// bare.
package mongodriver

import (
	"context"
	"time"

	"github.com/devrev/docmap/driver"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Store wraps a connected *mongo.Client bound to one database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// Connect dials uri and selects database, returning a ready Store. It
// mirrors the teacher's cmd/storage/main.go connection-setup step: connect,
// then ping once to fail fast on a bad address.
func Connect(ctx context.Context, uri, database string, connectTimeout time.Duration, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, err
	}
	logger.Info("connected to document store", zap.String("database", database))
	return &Store{client: client, db: client.Database(database), logger: logger}, nil
}

// Client exposes the underlying *mongo.Client, e.g. for health.Checker.
func (s *Store) Client() *mongo.Client { return s.client }

// Collection returns a driver.Collection bound to name.
func (s *Store) Collection(name string) driver.Collection {
	return &collection{coll: s.db.Collection(name), logger: s.logger}
}

// Ping checks connectivity to the underlying store.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Disconnect releases the underlying connection pool.
func (s *Store) Disconnect(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type collection struct {
	coll   *mongo.Collection
	logger *zap.Logger
}

// InsertMany issues the insert-many command.
func (c *collection) InsertMany(ctx context.Context, docs []bson.D) (*driver.BulkResult, error) {
	if len(docs) == 0 {
		return &driver.BulkResult{}, nil
	}
	items := make([]any, len(docs))
	for i, d := range docs {
		items[i] = d
	}

	_, err := c.coll.InsertMany(ctx, items, options.InsertMany().SetOrdered(false))
	if err == nil {
		return &driver.BulkResult{CommittedCount: int64(len(docs))}, nil
	}

	var bwe mongo.BulkWriteException
	if errorsAs(err, &bwe) {
		failed := make(map[int]struct{}, len(bwe.WriteErrors))
		errs := make([]driver.WriteError, 0, len(bwe.WriteErrors))
		for _, we := range bwe.WriteErrors {
			failed[we.Index] = struct{}{}
			errs = append(errs, driver.WriteError{Index: we.Index, Code: we.Code, Message: we.Message})
		}
		committed := int64(len(docs) - len(failed))
		return &driver.BulkResult{CommittedCount: committed, Errors: errs}, nil
	}
	c.logger.Error("insert-many command failed", zap.Error(err))
	return nil, err
}

// UpdateMany issues the update-many command via BulkWrite, one
// ReplaceOneModel per update (spec: "each per-document entry becomes a
// match-by-identity replace command").
func (c *collection) UpdateMany(ctx context.Context, updates []driver.Update) (*driver.BulkResult, error) {
	if len(updates) == 0 {
		return &driver.BulkResult{}, nil
	}
	models := make([]mongo.WriteModel, len(updates))
	for i, u := range updates {
		models[i] = mongo.NewReplaceOneModel().SetFilter(u.Filter).SetReplacement(u.Replacement)
	}
	return c.bulkWrite(ctx, models, len(updates))
}

// DeleteMany issues the delete-many command via BulkWrite, one
// DeleteOneModel per delete: each removes at most one document, the one
// its match-by-identity filter names.
func (c *collection) DeleteMany(ctx context.Context, deletes []driver.Delete) (*driver.BulkResult, error) {
	if len(deletes) == 0 {
		return &driver.BulkResult{}, nil
	}
	models := make([]mongo.WriteModel, len(deletes))
	for i, d := range deletes {
		models[i] = mongo.NewDeleteOneModel().SetFilter(d.Filter)
	}
	return c.bulkWrite(ctx, models, len(deletes))
}

func (c *collection) bulkWrite(ctx context.Context, models []mongo.WriteModel, batchSize int) (*driver.BulkResult, error) {
	result, err := c.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err == nil {
		committed := result.ModifiedCount + result.DeletedCount + result.UpsertedCount
		return &driver.BulkResult{CommittedCount: committed}, nil
	}

	var bwe mongo.BulkWriteException
	if errorsAs(err, &bwe) {
		errs := make([]driver.WriteError, 0, len(bwe.WriteErrors))
		for _, we := range bwe.WriteErrors {
			errs = append(errs, driver.WriteError{Index: we.Index, Code: we.Code, Message: we.Message})
		}
		committed := int64(batchSize - len(bwe.WriteErrors))
		return &driver.BulkResult{CommittedCount: committed, Errors: errs}, nil
	}
	c.logger.Error("bulk write command failed", zap.Error(err))
	return nil, err
}

// FindAndModifyEmpty issues the reload command: findAndModify with an empty
// update, returning the document's stored image unmodified.
func (c *collection) FindAndModifyEmpty(ctx context.Context, filter bson.D) (bson.Raw, error) {
	res := c.coll.FindOneAndUpdate(ctx, filter, bson.D{{Key: "$set", Value: bson.D{}}}, options.FindOneAndUpdate().SetReturnDocument(options.After))
	var raw bson.Raw
	if err := res.Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return raw, nil
}

// FindOne returns the first document matching filter, or nil if none.
func (c *collection) FindOne(ctx context.Context, filter bson.D) (bson.Raw, error) {
	res := c.coll.FindOne(ctx, filter)
	var raw bson.Raw
	if err := res.Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return raw, nil
}

// Find returns every document matching filter, subject to opts.
func (c *collection) Find(ctx context.Context, filter bson.D, opts driver.FindOptions) ([]bson.Raw, error) {
	findOpts := options.Find()
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}
	if len(opts.Sort) > 0 {
		findOpts.SetSort(opts.Sort)
	}

	cursor, err := c.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []bson.Raw
	for cursor.Next(ctx) {
		out = append(out, append(bson.Raw{}, cursor.Current...))
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteFiltered deletes every document matching filter, returning the
// number removed.
func (c *collection) DeleteFiltered(ctx context.Context, filter bson.D) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// CountDocuments returns the cardinality of filter's matches.
func (c *collection) CountDocuments(ctx context.Context, filter bson.D) (int64, error) {
	return c.coll.CountDocuments(ctx, filter)
}

func errorsAs(err error, target *mongo.BulkWriteException) bool {
	if bwe, ok := err.(mongo.BulkWriteException); ok {
		*target = bwe
		return true
	}
	return false
}
