// Package crdtapi is the black-box boundary between the document engine and
// whatever CRDT library backs it, per spec.md §1: the CRDT itself is an
// external collaborator, described here only by interface
// (init/apply/encodeChange/decodeChange/load/getLastLocalChange/getHeads).
package crdtapi

// Change is one opaque CRDT change: a hash identifying it, the hashes of
// the changes it causally depends on, and its encoded operation bytes.
type Change struct {
	Hash string
	Deps []string
	Data []byte
}

// Mutator is applied to the document's current materialized view inside a
// single synchronous CRDT transaction; it must produce exactly one Change
// (spec.md §9's "callback-with-proxy" re-architected as a plain closure).
type Mutator func(doc map[string]any)

// Doc is one document's live CRDT state.
type Doc interface {
	// Change runs mutator against the current state and returns the single
	// Change it produced.
	Change(mutator Mutator) (Change, error)
	// Apply merges an already-encoded remote or locally-decoded change into
	// the document.
	Apply(change Change) error
	// Snapshot serializes the full document state for doc_snapshot entries.
	Snapshot() ([]byte, error)
	// Materialize returns the current plain-value view of the document.
	Materialize() map[string]any
	// Heads returns the current frontier of change hashes.
	Heads() []string
	// LastLocalChange returns the most recent change produced by this Doc's
	// own Change calls, if any.
	LastLocalChange() (Change, bool)
}

// Provider constructs and loads Doc instances and (de)serializes Change
// values to and from wire bytes. One Provider is shared by every document
// in a database; it must be stateless across documents.
type Provider interface {
	Init() Doc
	Load(snapshot []byte) (Doc, error)
	EncodeChange(c Change) []byte
	DecodeChange(data []byte) (Change, error)
}
