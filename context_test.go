package docmap_test

import (
	"context"
	"testing"

	"github.com/devrev/docmap"
	"github.com/devrev/docmap/config"
	"github.com/devrev/docmap/dberr"
	"github.com/devrev/docmap/docwrap"
	"github.com/devrev/docmap/identity"
	"github.com/devrev/docmap/internal/fakedriver"
	"github.com/devrev/docmap/serializer"
	"github.com/devrev/docmap/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

type gadget struct {
	docwrap.Base
}

func newGadget() *gadget {
	g := &gadget{}
	g.Init(g)
	return g
}

func (g *gadget) CollectionName() string { return "Gadget" }
func (g *gadget) Name() string           { return stringProp(g.Property("Name")) }
func (g *gadget) SetName(v string)       { g.SetProperty("Name", v) }

func stringProp(v any) string {
	s, _ := v.(string)
	return s
}

func gadgetSchema() serializer.Schema {
	return serializer.Schema{
		DocType:          "Gadget",
		CollectionName:   "Gadget",
		ScalarProperties: []string{"Name"},
		New:              func() docwrap.Document { return newGadget() },
	}
}

type sprocket struct {
	docwrap.Base
}

func newSprocket() *sprocket {
	s := &sprocket{}
	s.Init(s)
	return s
}

func (s *sprocket) CollectionName() string { return "Sprocket" }

func sprocketSchema() serializer.Schema {
	return serializer.Schema{
		DocType:        "Sprocket",
		CollectionName: "Sprocket",
		New:            func() docwrap.Document { return newSprocket() },
	}
}

func newTestContext(t *testing.T) (*docmap.Context, *fakedriver.Store) {
	t.Helper()
	store := fakedriver.New()
	registry := serializer.NewRegistry()
	registry.Register(serializer.New(gadgetSchema()))
	registry.Register(serializer.New(sprocketSchema()))
	cfg := config.CleanerConfig{LowerBoundMillis: 10_000, UpperBoundMillis: 60_000, PartialCleanUpPercent: 10}
	return docmap.NewContext(store, registry, cfg, zap.NewNop()), store
}

func TestContext_TrackObjectAssignsIdentityOnAdd(t *testing.T) {
	ctx, _ := newTestContext(t)
	g := newGadget()

	entry, err := ctx.TrackObject("Gadget", g, tracking.Added)
	require.NoError(t, err)
	assert.False(t, entry.Identity().IsZero())
	assert.Equal(t, tracking.Added, entry.State())
}

func TestContext_TrackObjectRejectsNilDocument(t *testing.T) {
	ctx, _ := newTestContext(t)
	_, err := ctx.TrackObject("Gadget", nil, tracking.Added)
	require.Error(t, err)
	assert.Equal(t, dberr.ErrCodeArgument, dberr.Code(err))
}

func TestContext_TrackObjectRejectsUnidentifiedNonAdd(t *testing.T) {
	ctx, _ := newTestContext(t)
	g := newGadget()
	_, err := ctx.TrackObject("Gadget", g, tracking.Modified)
	require.Error(t, err)
	assert.Equal(t, dberr.ErrCodeArgument, dberr.Code(err))
}

func TestContext_TrackObjectMarksModifiedEntryDirty(t *testing.T) {
	ctx, _ := newTestContext(t)
	g := newGadget()
	g.SetDocumentID(identity.New())
	g.SetName("already on the wire")

	entry, err := ctx.TrackObject("Gadget", g, tracking.Modified)
	require.NoError(t, err)
	assert.Equal(t, tracking.Modified, entry.State())
	assert.NotEmpty(t, entry.ModifiedProperties())
	assert.True(t, entry.IsPropertyChanged("Name"))
}

func TestContext_SaveChangesOnEmptyDirtySetIsNoop(t *testing.T) {
	ctx, _ := newTestContext(t)
	n, err := ctx.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestContext_SaveChangesGroupsMultipleDocumentKindsInOneState(t *testing.T) {
	ctx, _ := newTestContext(t)

	g := newGadget()
	g.SetName("widgetlike")
	_, err := ctx.TrackObject("Gadget", g, tracking.Added)
	require.NoError(t, err)

	s := newSprocket()
	_, err = ctx.TrackObject("Sprocket", s, tracking.Added)
	require.NoError(t, err)

	n, err := ctx.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	stats := ctx.Statistics()
	assert.Equal(t, 0, stats.Added)
	assert.Equal(t, 2, stats.Unchanged)
}

func TestContext_SaveChangesReportsPartialFailureAndLeavesFailedEntryUncommitted(t *testing.T) {
	ctx, store := newTestContext(t)

	g1 := newGadget()
	g1.SetName("first")
	_, err := ctx.TrackObject("Gadget", g1, tracking.Added)
	require.NoError(t, err)

	g2 := newGadget()
	g2.SetName("second")
	_, err = ctx.TrackObject("Gadget", g2, tracking.Added)
	require.NoError(t, err)

	fakedriver.RejectNextInsertAt(store.Collection("Gadget"), 1, 11000, "duplicate key")

	n, err := ctx.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Map iteration order decides which of the two entries lands at batch
	// index 1, so only the aggregate counts - not which entry - are
	// deterministic: one committed entry, one left Added.
	stats := ctx.Statistics()
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, 1, stats.Unchanged)
}

func TestContext_SaveEntrySavesExactlyOneEntry(t *testing.T) {
	ctx, _ := newTestContext(t)
	g := newGadget()
	g.SetName("solo")
	entry, err := ctx.TrackObject("Gadget", g, tracking.Added)
	require.NoError(t, err)

	err = ctx.SaveEntry(context.Background(), entry)
	require.NoError(t, err)
	assert.Equal(t, tracking.Unchanged, entry.State())
}

func TestContext_ReloadRehydratesInPlaceAndResetsToUnchanged(t *testing.T) {
	ctx, store := newTestContext(t)
	g := newGadget()
	g.SetName("before")
	entry, err := ctx.TrackObject("Gadget", g, tracking.Added)
	require.NoError(t, err)
	require.NoError(t, ctx.SaveEntry(context.Background(), entry))

	coll := store.Collection("Gadget")
	raw, err := coll.FindOne(context.Background(), bson.D{{Key: "_id", Value: g.DocumentID()}})
	require.NoError(t, err)
	require.NotNil(t, raw)

	err = ctx.Reload(context.Background(), entry)
	require.NoError(t, err)
	assert.Equal(t, tracking.Unchanged, entry.State())
	assert.Same(t, g, entry.Document())
}

func TestContext_ReloadOnMissingDocumentIsInvalidState(t *testing.T) {
	ctx, _ := newTestContext(t)
	g := newGadget()
	entry, err := ctx.TrackObject("Gadget", g, tracking.Added)
	require.NoError(t, err)

	err = ctx.Reload(context.Background(), entry)
	require.Error(t, err)
	assert.Equal(t, dberr.ErrCodeInvalidState, dberr.Code(err))
}

func TestContext_StatisticsReflectsCacheAndStateCounts(t *testing.T) {
	ctx, _ := newTestContext(t)
	g := newGadget()
	g.SetName("tracked")
	_, err := ctx.TrackObject("Gadget", g, tracking.Added)
	require.NoError(t, err)

	stats := ctx.Statistics()
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, 0, stats.Unchanged)
	assert.Equal(t, 0, stats.CacheLiveEntries)
}

func TestSet_DocumentOfUnregisteredTypeIsSerializerMissing(t *testing.T) {
	ctx, _ := newTestContext(t)
	_, err := docmap.Set[*gadget](ctx, "NoSuchType")
	require.Error(t, err)
	assert.Equal(t, dberr.ErrCodeSerializerMissing, dberr.Code(err))
}

