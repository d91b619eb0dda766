package docwrap_test

import (
	"runtime"
	"testing"
	"time"

	"github.com/devrev/docmap/docwrap"
	"github.com/devrev/docmap/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDoc struct {
	docwrap.Base
}

func newFakeDoc() *fakeDoc {
	d := &fakeDoc{}
	d.Init(d)
	return d
}

func (d *fakeDoc) CollectionName() string { return "Fake" }

func TestStrong_AlwaysAlive(t *testing.T) {
	doc := newFakeDoc()
	id := identity.New()
	w := docwrap.NewStrong(doc, id, "Fake")

	assert.True(t, w.Alive())
	assert.Equal(t, id, w.Identity())
	assert.Equal(t, "Fake", w.CollectionName())
	assert.Same(t, doc, w.Document())
}

func TestNull_NeverAlive(t *testing.T) {
	id := identity.New()
	w := docwrap.NewNull(id, "Fake")

	assert.False(t, w.Alive())
	assert.Nil(t, w.Document())
	assert.Equal(t, id, w.Identity())
}

func TestWeak_ReportsAbsenceAfterReclamation(t *testing.T) {
	id := identity.New()
	reclaimed := make(chan struct{}, 1)

	var w *docwrap.Weak
	func() {
		doc := newFakeDoc()
		w = docwrap.NewWeak(doc, id, "Fake", func() {
			select {
			case reclaimed <- struct{}{}:
			default:
			}
		})
		require.True(t, w.Alive())
		runtime.KeepAlive(doc)
	}()

	// Force enough collections that the only reference (now out of scope)
	// is reclaimed. This loop bounds a normally nondeterministic wait.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		runtime.GC()
		if !w.Alive() {
			break
		}
		time.Sleep(time.Millisecond)
	}

	assert.False(t, w.Alive())
	assert.Nil(t, w.Document())
	assert.Equal(t, id, w.Identity())
	assert.Equal(t, "Fake", w.CollectionName())

	select {
	case <-reclaimed:
	case <-time.After(time.Second):
		t.Fatal("onReclaimed callback never fired")
	}
}

func TestNewWrapper_PicksVariantByState(t *testing.T) {
	id := identity.New()
	doc := newFakeDoc()

	addedW := docwrap.NewWrapper(doc, id, "Fake", docwrap.Added, nil)
	_, isStrong := addedW.(*docwrap.Strong)
	assert.True(t, isStrong)

	unchangedW := docwrap.NewWrapper(doc, id, "Fake", docwrap.Unchanged, nil)
	_, isWeak := unchangedW.(*docwrap.Weak)
	assert.True(t, isWeak)

	nilW := docwrap.NewWrapper(nil, id, "Fake", docwrap.Unchanged, nil)
	_, isNull := nilW.(*docwrap.Null)
	assert.True(t, isNull)
}
