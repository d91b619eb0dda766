// Package docwrap defines the behavioral surface a user-defined record must
// expose to participate in tracking (spec §3's "Document"), and the handle
// types — strong, weak, and null — that the state manager and cache hold
// instead of a bare pointer (spec §4.B).
//
// The interface shape is grounded on other_examples/Nexedi-neoppod's
// IPersistent: a small, behavioral contract the tracking layer depends on,
// rather than a concrete base class every document must inherit from. The
// code-weaving the original system uses to retrofit this contract onto user
// classes is explicitly out of scope (spec §1); Base plays the same role a
// derive-macro would, as an embeddable struct user types opt into.
package docwrap

import "github.com/devrev/docmap/identity"

// ChangeHandler is invoked whenever a controlled property on a document is
// written. The state manager installs exactly one of these per tracked
// identity (spec Design Notes: "a direct function pointer or callback slot
// on the document suffices" — no per-setter virtual dispatch).
type ChangeHandler func(doc Document, property string)

// Document is the contract the state manager, cache, and serializer need
// from a tracked record (spec §3):
//
//   - a unique identity value;
//   - a mapping from navigation-property name to its unresolved reference
//     payload (a single identity.ID for scalar references, an ordered
//     []identity.ID for collection references);
//   - the ability to read and write a named property;
//   - a change notification emitted whenever a controlled property is
//     written.
type Document interface {
	// DocumentID returns the document's identity.
	DocumentID() identity.ID
	// SetDocumentID assigns the document's identity. Called by the
	// serializer when hydrating a freshly constructed instance (spec §4.F
	// step 2), and by the Repository Context when it gives a newly added
	// document a fresh identity.
	SetDocumentID(id identity.ID)

	// CollectionName returns the logical collection this document's kind
	// is stored under. The default is the type's name with no override
	// (spec §6); concrete types typically return a constant.
	CollectionName() string

	// References returns the navigable map from navigation-property name
	// to its unresolved reference payload. Scalar and complex properties
	// never appear here.
	References() map[string]any
	// SetReference stores the raw, unresolved payload (an identity.ID or
	// []identity.ID) for a navigation property without resolving it.
	SetReference(name string, value any)

	// Property reads the current value of a named controlled property.
	Property(name string) any
	// SetProperty writes a named controlled property and, unless change
	// notification is currently suppressed, invokes the registered
	// ChangeHandler.
	SetProperty(name string, value any)

	// OnChange installs the callback invoked by SetProperty. Replaces any
	// previously installed handler.
	OnChange(handler ChangeHandler)
}

// Base is an embeddable implementation of the bookkeeping every Document
// needs: identity storage, the navigable-reference map, a generic
// name-to-value property store, and the single change-notification slot.
// Concrete document types embed Base and add typed accessor methods that
// delegate to Property/SetProperty, e.g.:
//
//	type Order struct {
//	    docwrap.Base
//	}
//
//	func (o *Order) Total() float64        { return o.Property("Total").(float64) }
//	func (o *Order) SetTotal(v float64)    { o.SetProperty("Total", v) }
//
//	func (o *Order) CollectionName() string { return "Order" }
type Base struct {
	id         identity.ID
	self       Document
	refs       map[string]any
	values     map[string]any
	onChange   ChangeHandler
	suppressed bool
}

// Init records the concrete Document that embeds this Base, so
// SetProperty can pass it to the registered ChangeHandler. Go embedding
// gives Base no way to recover the outer type on its own, so concrete
// constructors must call Init(self) once, e.g.:
//
//	func NewOrder() *Order {
//	    o := &Order{}
//	    o.Init(o)
//	    return o
//	}
func (b *Base) Init(self Document) { b.self = self }

// DocumentID returns the document's identity.
func (b *Base) DocumentID() identity.ID { return b.id }

// SetDocumentID assigns the document's identity.
func (b *Base) SetDocumentID(id identity.ID) { b.id = id }

// References returns the navigable reference map, creating it on first use.
func (b *Base) References() map[string]any {
	if b.refs == nil {
		b.refs = make(map[string]any)
	}
	return b.refs
}

// SetReference stores the raw payload for a navigation property.
func (b *Base) SetReference(name string, value any) {
	if b.refs == nil {
		b.refs = make(map[string]any)
	}
	b.refs[name] = value
}

// Property reads a named controlled property's current value.
func (b *Base) Property(name string) any {
	if b.values == nil {
		return nil
	}
	return b.values[name]
}

// SetProperty writes a named controlled property and fires the change
// notification, unless suppressed (spec §4.F step 3/5, during hydration).
func (b *Base) SetProperty(name string, value any) {
	if b.values == nil {
		b.values = make(map[string]any)
	}
	b.values[name] = value
	if !b.suppressed && b.onChange != nil {
		b.onChange(b.self, name)
	}
}

// OnChange installs the change-notification callback.
func (b *Base) OnChange(handler ChangeHandler) { b.onChange = handler }

// SuppressChangeTracking toggles whether SetProperty fires notifications.
// The serializer uses this during hydration (spec §4.F steps 3 and 5); it
// is exported so document types built without embedding Base directly can
// still honor the contract via composition.
func (b *Base) SuppressChangeTracking(suppress bool) { b.suppressed = suppress }
