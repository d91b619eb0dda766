// Package tracking implements the per-identity State Entry (spec §4.C) and
// the State Manager (spec §4.D) that owns the four state-specific stores a
// tracked document moves through. It is grounded on the teacher's
// internal/service/cache_service.go for the shape of a mutex-guarded,
// map-backed tracking table with a background reclamation hook, adapted
// from "recently-written keys with a TTL" to "documents in one of five
// lifecycle states with a weak-reference cache for the quiescent one."
package tracking

import (
	"sync"

	"github.com/devrev/docmap/dberr"
	"github.com/devrev/docmap/docwrap"
	"github.com/devrev/docmap/identity"
)

// State is the document lifecycle state (spec §3): Added, Modified,
// Deleted, Unchanged, or Detached. Re-exported from docwrap, which already
// needs the same enum to pick a wrapper variant, so tracking's callers
// never need to import docwrap just to name a state.
type State = docwrap.State

const (
	Added     = docwrap.Added
	Modified  = docwrap.Modified
	Deleted   = docwrap.Deleted
	Unchanged = docwrap.Unchanged
	Detached  = docwrap.Detached
)

// Entry is one State Entry per tracked identity (spec §4.C): the wrapper,
// the current state, and — while Modified — the set of properties whose
// values differ from the persisted image.
type Entry struct {
	mu sync.Mutex

	id             identity.ID
	collectionName string
	docType        string

	wrapper       docwrap.Wrapper
	state         State
	modifiedProps map[string]struct{}

	onReclaimed func()
}

// newEntry builds an Entry in the given initial state, wrapping doc
// appropriately (spec §4.B Factory). onReclaimed is forwarded to a Weak
// wrapper's cleanup and re-forwarded on every subsequent wrapper swap.
func newEntry(doc docwrap.Document, id identity.ID, collectionName, docType string, state State, onReclaimed func()) *Entry {
	e := &Entry{
		id:             id,
		collectionName: collectionName,
		docType:        docType,
		state:          state,
		onReclaimed:    onReclaimed,
	}
	e.wrapper = docwrap.NewWrapper(doc, id, collectionName, state, e.reclaimed)
	return e
}

func (e *Entry) reclaimed() {
	if e.onReclaimed != nil {
		e.onReclaimed()
	}
}

// Identity returns the entry's identity, valid in every state including
// after the document has been reclaimed.
func (e *Entry) Identity() identity.ID { return e.id }

// CollectionName returns the entry's logical collection, valid in every
// state.
func (e *Entry) CollectionName() string { return e.collectionName }

// DocType returns the entry's document type name, valid in every state.
func (e *Entry) DocType() string { return e.docType }

// State returns the entry's current lifecycle state.
func (e *Entry) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Document forwards to the current wrapper; it returns nil for a dead
// Unchanged entry.
func (e *Entry) Document() docwrap.Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wrapper.Document()
}

// IsDead reports whether this entry is an Unchanged entry whose document
// has already been reclaimed (spec Glossary: "Dead entry").
func (e *Entry) IsDead() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == Unchanged && !e.wrapper.Alive()
}

// ChangeState mutates state and installs the wrapper variant the new state
// requires, clearing the modified-property set on a transition to
// Unchanged. It returns false, leaving the entry untouched, iff the entry
// is dead; operations on a Detached entry fail with an invalid-state error
// (spec §4.C Validation).
func (e *Entry) ChangeState(target State) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == Detached {
		return false, dberr.InvalidState("cannot change state of a detached entry")
	}
	if e.state == Unchanged && !e.wrapper.Alive() {
		return false, nil
	}
	if target == e.state {
		return true, nil // changeState(e, e.state()) is a no-op (testable property 8)
	}

	doc := e.wrapper.Document()
	if oldWeak, ok := e.wrapper.(*docwrap.Weak); ok {
		// Stop the old wrapper's reclamation cleanup: the document stays
		// reachable through the new wrapper, and a stale Weak's box is
		// about to become garbage on its own, which would otherwise fire
		// onReclaimed for a document that never actually went away.
		oldWeak.Stop()
	}
	e.wrapper = docwrap.NewWrapper(doc, e.id, e.collectionName, target, e.reclaimed)
	e.state = target
	if target == Unchanged {
		e.modifiedProps = nil
	}
	return true, nil
}

// swapDocument replaces the held document in place, preserving identity and
// collection name, installing a wrapper for newState. Used by the State
// Manager's addOrGetExisting to revive a dead entry or re-point a live one
// at a different document instance for the same identity.
func (e *Entry) swapDocument(doc docwrap.Document, newState State, onReclaimed func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if oldWeak, ok := e.wrapper.(*docwrap.Weak); ok {
		oldWeak.Stop()
	}
	e.onReclaimed = onReclaimed
	e.wrapper = docwrap.NewWrapper(doc, e.id, e.collectionName, newState, e.reclaimed)
	e.state = newState
	if newState == Unchanged {
		e.modifiedProps = nil
	}
}

// NotePropertyChanged records that name's value no longer matches the
// persisted image.
func (e *Entry) NotePropertyChanged(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Detached {
		return dberr.InvalidState("cannot note a property change on a detached entry")
	}
	if e.modifiedProps == nil {
		e.modifiedProps = make(map[string]struct{})
	}
	e.modifiedProps[name] = struct{}{}
	return nil
}

// IsPropertyChanged reports whether name has been recorded as modified.
func (e *Entry) IsPropertyChanged(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.modifiedProps[name]
	return ok
}

// ModifiedProperties returns a snapshot of the names recorded as modified.
func (e *Entry) ModifiedProperties() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.modifiedProps))
	for name := range e.modifiedProps {
		out = append(out, name)
	}
	return out
}
