package cache_test

import (
	"testing"

	"github.com/devrev/docmap/cache"
	"github.com/devrev/docmap/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEntry struct {
	id   identity.ID
	dead bool
}

func isDead(e *fakeEntry) bool { return e.dead }

func TestSet_OverwritesUnconditionally(t *testing.T) {
	c := cache.New(isDead)
	id := identity.New()

	first := &fakeEntry{id: id}
	c.Set(id, first)
	second := &fakeEntry{id: id}
	c.Set(id, second)

	got, ok := c.TryGet(id)
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestAddOrGet_InsertsOnAbsence(t *testing.T) {
	c := cache.New(isDead)
	id := identity.New()

	built := false
	v := c.AddOrGet(id,
		func(identity.ID) *fakeEntry { built = true; return &fakeEntry{id: id} },
		func(identity.ID, *fakeEntry) *fakeEntry { t.Fatal("revive should not run"); return nil },
	)

	assert.True(t, built)
	assert.Equal(t, id, v.id)
}

func TestAddOrGet_ReturnsExistingWhenLive(t *testing.T) {
	c := cache.New(isDead)
	id := identity.New()
	existing := &fakeEntry{id: id}
	c.Set(id, existing)

	v := c.AddOrGet(id,
		func(identity.ID) *fakeEntry { t.Fatal("make should not run"); return nil },
		func(identity.ID, *fakeEntry) *fakeEntry { t.Fatal("revive should not run"); return nil },
	)

	assert.Same(t, existing, v)
}

func TestAddOrGet_RevivesDeadEntry(t *testing.T) {
	c := cache.New(isDead)
	id := identity.New()
	c.Set(id, &fakeEntry{id: id, dead: true})

	revived := &fakeEntry{id: id}
	v := c.AddOrGet(id,
		func(identity.ID) *fakeEntry { t.Fatal("make should not run"); return nil },
		func(identity.ID, *fakeEntry) *fakeEntry { return revived },
	)

	assert.Same(t, revived, v)
}

func TestTryGet_HidesDeadEntries(t *testing.T) {
	c := cache.New(isDead)
	id := identity.New()
	c.Set(id, &fakeEntry{id: id, dead: true})

	_, ok := c.TryGet(id)
	assert.False(t, ok)
	assert.False(t, c.Contains(id))

	peeked, ok := c.Peek(id)
	require.True(t, ok)
	assert.True(t, peeked.dead)
}

func TestRemove_ReturnsPrevious(t *testing.T) {
	c := cache.New(isDead)
	id := identity.New()
	entry := &fakeEntry{id: id}
	c.Set(id, entry)

	got, ok := c.Remove(id)
	require.True(t, ok)
	assert.Same(t, entry, got)
	assert.False(t, c.Contains(id))
}

func TestFlush_RemovesOnlyDeadUpToLimit(t *testing.T) {
	c := cache.New(isDead)
	for i := 0; i < 5; i++ {
		id := identity.New()
		c.Set(id, &fakeEntry{id: id, dead: true})
	}
	live := identity.New()
	c.Set(live, &fakeEntry{id: live})

	removed := c.Flush(3)
	assert.Equal(t, 3, removed)
	assert.Equal(t, 3, c.Capacity())

	removed = c.Flush(100)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Capacity())
	assert.True(t, c.Contains(live))
}

func TestApproximateCount_MatchesExactAfterSettling(t *testing.T) {
	c := cache.New(isDead)
	for i := 0; i < 3; i++ {
		id := identity.New()
		c.Set(id, &fakeEntry{id: id})
	}
	assert.Equal(t, 3, c.ApproximateCount())
	assert.Equal(t, 3, c.ExactCount())
}

func TestFlush_Idempotent(t *testing.T) {
	c := cache.New(isDead)
	id := identity.New()
	c.Set(id, &fakeEntry{id: id, dead: true})

	first := c.Flush(1000)
	second := c.Flush(1000)

	assert.Equal(t, 1, first)
	assert.Equal(t, 0, second)
}
