package docwrap

import (
	"runtime"
	"weak"

	"github.com/devrev/docmap/identity"
)

// Wrapper is a uniform handle over a document together with its identity
// and logical collection name (spec §4.B). Identity and collection name
// remain readable even after a Weak wrapper's document has been reclaimed.
type Wrapper interface {
	// Identity returns the document's identity, valid in every variant.
	Identity() identity.ID
	// CollectionName returns the document's logical collection, valid in
	// every variant.
	CollectionName() string
	// Document returns the held document, or nil if it has been reclaimed
	// (Weak) or was never present (Null).
	Document() Document
	// Alive reports whether Document() would return non-nil.
	Alive() bool
}

// Strong owns its document for the wrapper's lifetime. Added, Modified, and
// Deleted entries use this variant (spec §3 Invariants).
type Strong struct {
	doc  Document
	id   identity.ID
	coll string
}

// NewStrong builds a Strong wrapper around a non-nil document.
func NewStrong(doc Document, id identity.ID, collection string) *Strong {
	return &Strong{doc: doc, id: id, coll: collection}
}

func (s *Strong) Identity() identity.ID  { return s.id }
func (s *Strong) CollectionName() string { return s.coll }
func (s *Strong) Document() Document     { return s.doc }
func (s *Strong) Alive() bool            { return true }

// Weak holds its document only as long as some other strong owner exists.
// Unchanged and Detached entries use this variant. It is built on Go's
// weak.Pointer plus runtime.AddCleanup — the stdlib's tracing-GC-aware weak
// reference primitive, used directly per the spec's own Design Notes rather
// than approximated with a parked flag.
type Weak struct {
	id       identity.ID
	coll     string
	ptr      weak.Pointer[documentBox]
	cleanup  runtime.Cleanup
	hasClean bool
}

// documentBox indirects the weak pointer through a single-field struct so
// the cleanup can be attached independently of whatever concrete type the
// caller's Document implementation is.
type documentBox struct {
	doc Document
}

// NewWeak builds a Weak wrapper around doc. onReclaimed, if non-nil, is
// invoked (on some future GC-driven goroutine, not necessarily the caller's)
// once the document becomes unreachable through any strong reference other
// than the one this call briefly holds.
func NewWeak(doc Document, id identity.ID, collection string, onReclaimed func()) *Weak {
	box := &documentBox{doc: doc}
	w := &Weak{id: id, coll: collection, ptr: weak.Make(box)}
	if onReclaimed != nil {
		w.cleanup = runtime.AddCleanup(box, func(f func()) { f() }, onReclaimed)
		w.hasClean = true
	}
	return w
}

func (w *Weak) Identity() identity.ID  { return w.id }
func (w *Weak) CollectionName() string { return w.coll }

// Document returns the held document, or nil if it has already been
// reclaimed.
func (w *Weak) Document() Document {
	box := w.ptr.Value()
	if box == nil {
		return nil
	}
	return box.doc
}

func (w *Weak) Alive() bool { return w.ptr.Value() != nil }

// Stop cancels the pending reclamation cleanup. Call this when replacing a
// Weak wrapper (e.g. on revival) so the old cleanup does not fire against a
// wrapper nobody holds anymore.
func (w *Weak) Stop() {
	if w.hasClean {
		w.cleanup.Stop()
	}
}

// Null is the sentinel returned in place of a missing document; it always
// reports absence (spec §4.B).
type Null struct {
	id   identity.ID
	coll string
}

// NewNull builds a Null wrapper carrying only identity and collection name.
func NewNull(id identity.ID, collection string) *Null {
	return &Null{id: id, coll: collection}
}

func (n *Null) Identity() identity.ID  { return n.id }
func (n *Null) CollectionName() string { return n.coll }
func (n *Null) Document() Document     { return nil }
func (n *Null) Alive() bool            { return false }

// State is the minimal state-machine element the factory needs in order to
// pick a wrapper variant — kept here, rather than importing the tracking
// package, to avoid a cycle (tracking imports docwrap, not the reverse).
type State int

const (
	Added State = iota
	Modified
	Deleted
	Unchanged
	Detached
)

// String renders a State for logs and metric labels.
func (s State) String() string {
	switch s {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Unchanged:
		return "unchanged"
	case Detached:
		return "detached"
	default:
		return "unknown"
	}
}

// NewWrapper builds the wrapper variant appropriate for state (spec §4.B
// Factory): Strong for Added/Modified/Deleted, Weak for Unchanged/Detached,
// Null if doc is nil regardless of state.
func NewWrapper(doc Document, id identity.ID, collection string, state State, onReclaimed func()) Wrapper {
	if doc == nil {
		return NewNull(id, collection)
	}
	switch state {
	case Added, Modified, Deleted:
		return NewStrong(doc, id, collection)
	default:
		return NewWeak(doc, id, collection, onReclaimed)
	}
}
