package docmap_test

import (
	"context"
	"testing"

	"github.com/devrev/docmap"
	"github.com/devrev/docmap/config"
	"github.com/devrev/docmap/docwrap"
	"github.com/devrev/docmap/identity"
	"github.com/devrev/docmap/internal/fakedriver"
	"github.com/devrev/docmap/serializer"
	"github.com/devrev/docmap/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type tag struct {
	docwrap.Base
}

func newTag() *tag {
	t := &tag{}
	t.Init(t)
	return t
}

func (t *tag) CollectionName() string { return "Tag" }

func tagSchema() serializer.Schema {
	return serializer.Schema{
		DocType:        "Tag",
		CollectionName: "Tag",
		New:            func() docwrap.Document { return newTag() },
	}
}

type post struct {
	docwrap.Base
}

func newPost() *post {
	p := &post{}
	p.Init(p)
	return p
}

func (p *post) CollectionName() string { return "Post" }

func postSchema() serializer.Schema {
	return serializer.Schema{
		DocType:              "Post",
		CollectionName:       "Post",
		CollectionReferences: []string{"Tags"},
		New:                  func() docwrap.Document { return newPost() },
	}
}

func newCollectionTestContext(t *testing.T) *docmap.Context {
	t.Helper()
	store := fakedriver.New()
	registry := serializer.NewRegistry()
	registry.Register(serializer.New(tagSchema()))
	registry.Register(serializer.New(postSchema()))
	cfg := config.CleanerConfig{LowerBoundMillis: 10_000, UpperBoundMillis: 60_000, PartialCleanUpPercent: 10}
	return docmap.NewContext(store, registry, cfg, zap.NewNop())
}

func TestCollectionEntry_LoadResolvesAllMembersInOneBatchedFetch(t *testing.T) {
	ctx := newCollectionTestContext(t)

	tags, err := docmap.Set[*tag](ctx, "Tag")
	require.NoError(t, err)
	posts, err := docmap.Set[*post](ctx, "Post")
	require.NoError(t, err)

	var ids []identity.ID
	for i := 0; i < 10; i++ {
		tg := newTag()
		_, err := tags.Add(tg)
		require.NoError(t, err)
		ids = append(ids, tg.DocumentID())
	}

	thePost := newPost()
	thePost.SetReference("Tags", ids)
	postEntry, err := posts.Add(thePost)
	require.NoError(t, err)

	_, err = ctx.SaveChanges(context.Background())
	require.NoError(t, err)

	coll := ctx.CollectionRef(postEntry, "Tags", "Tag")
	assert.False(t, coll.IsLoaded())
	assert.Nil(t, coll.CurrentValue())

	require.NoError(t, coll.Load(context.Background()))
	assert.True(t, coll.IsLoaded())
	require.NotNil(t, coll.CurrentValue())
	assert.Equal(t, 10, coll.CurrentValue().Len())

	seen := make(map[identity.ID]bool, 10)
	for _, item := range coll.CurrentValue().Items() {
		seen[item.DocumentID()] = true
	}
	assert.Len(t, seen, 10)
	for _, id := range ids {
		assert.True(t, seen[id])
	}
}

func TestCollectionEntry_LoadOfEmptySequenceIsNoop(t *testing.T) {
	ctx := newCollectionTestContext(t)
	posts, err := docmap.Set[*post](ctx, "Post")
	require.NoError(t, err)

	thePost := newPost()
	postEntry, err := posts.Add(thePost)
	require.NoError(t, err)
	_, err = ctx.SaveChanges(context.Background())
	require.NoError(t, err)

	coll := ctx.CollectionRef(postEntry, "Tags", "Tag")
	assert.True(t, coll.IsLoaded())
	require.NoError(t, coll.Load(context.Background()))
	assert.Nil(t, coll.CurrentValue())
}

func TestNavigableSet_AddAndRemoveRenotifyOwnerAndPromoteToModified(t *testing.T) {
	ctx := newCollectionTestContext(t)

	tags, err := docmap.Set[*tag](ctx, "Tag")
	require.NoError(t, err)
	posts, err := docmap.Set[*post](ctx, "Post")
	require.NoError(t, err)

	tg1 := newTag()
	_, err = tags.Add(tg1)
	require.NoError(t, err)
	tg2 := newTag()
	_, err = tags.Add(tg2)
	require.NoError(t, err)

	thePost := newPost()
	thePost.SetReference("Tags", []identity.ID{tg1.DocumentID()})
	postEntry, err := posts.Add(thePost)
	require.NoError(t, err)

	_, err = ctx.SaveChanges(context.Background())
	require.NoError(t, err)
	require.Equal(t, tracking.Unchanged, postEntry.State())

	coll := ctx.CollectionRef(postEntry, "Tags", "Tag")
	require.NoError(t, coll.Load(context.Background()))
	require.Equal(t, 1, coll.CurrentValue().Len())

	coll.CurrentValue().Add(tg2)
	assert.Equal(t, 2, coll.CurrentValue().Len())
	assert.True(t, coll.CurrentValue().Contains(tg2))
	assert.Equal(t, tracking.Modified, postEntry.State())

	_, err = ctx.SaveChanges(context.Background())
	require.NoError(t, err)
	require.Equal(t, tracking.Unchanged, postEntry.State())

	coll.CurrentValue().Remove(tg1)
	assert.Equal(t, 1, coll.CurrentValue().Len())
	assert.False(t, coll.CurrentValue().Contains(tg1))
	assert.Equal(t, tracking.Modified, postEntry.State())
}
