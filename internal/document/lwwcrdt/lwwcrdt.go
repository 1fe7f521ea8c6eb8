// Package lwwcrdt provides the default crdtapi.Provider: a per-field
// last-writer-wins register over top-level document fields, adapted from
// the teacher's whole-replica internal/crdt/lww.go to per-document
// field-level state. List-valued fields are registers like any other: a
// write replaces the whole list, and concurrent element additions are not
// merged.
package lwwcrdt

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"

	"github.com/amaydixit11/mindoo/internal/document/crdtapi"
)

type fieldValue struct {
	Value     json.RawMessage `json:"value"`
	Timestamp int64           `json:"timestamp"`
	Actor     string          `json:"actor"`
	Tombstone bool            `json:"tombstone"`
}

// fieldOp is one field write, part of a change's encoded operation batch.
type fieldOp struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
	Actor string          `json:"actor"`
	Tick  int64           `json:"tick"`
}

type opBatch struct {
	Ops []fieldOp `json:"ops"`
}

// provider is a stateless crdtapi.Provider; actorID distinguishes writers
// for the LWW tie-break ("higher actor id wins" on equal timestamps,
// mirroring the teacher's "higher ID wins" tie-break in LWWSet.Merge).
type provider struct {
	actorID string
}

// NewProvider returns the default field-level LWW CRDT provider.
func NewProvider(actorID string) crdtapi.Provider {
	return &provider{actorID: actorID}
}

func (p *provider) Init() crdtapi.Doc {
	return &doc{actorID: p.actorID, fields: map[string]fieldValue{}}
}

func (p *provider) Load(snapshot []byte) (crdtapi.Doc, error) {
	d := &doc{actorID: p.actorID, fields: map[string]fieldValue{}}
	if len(snapshot) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(snapshot, &d.fields); err != nil {
		return nil, err
	}
	return d, nil
}

func (p *provider) EncodeChange(c crdtapi.Change) []byte {
	raw, _ := json.Marshal(c)
	return raw
}

func (p *provider) DecodeChange(data []byte) (crdtapi.Change, error) {
	var c crdtapi.Change
	if err := json.Unmarshal(data, &c); err != nil {
		return crdtapi.Change{}, err
	}
	return c, nil
}

// doc is one document's live field-register state.
type doc struct {
	mu        sync.Mutex
	actorID   string
	fields    map[string]fieldValue
	tick      int64
	heads     []string
	lastLocal *crdtapi.Change
}

// builder collects field writes a Mutator performs against the live view.
type builder struct {
	d   *doc
	ops []fieldOp
}

func (p *builder) set(field string, value json.RawMessage) {
	p.ops = append(p.ops, fieldOp{Field: field, Value: value})
}

func (d *doc) Change(mutator crdtapi.Mutator) (crdtapi.Change, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	before := d.materializeLocked()
	mutator(before)

	b := &builder{d: d}
	for field, val := range before {
		raw, err := json.Marshal(val)
		if err != nil {
			return crdtapi.Change{}, err
		}
		existing, ok := d.fields[field]
		if ok && string(existing.Value) == string(raw) {
			continue
		}
		b.set(field, raw)
	}
	// Detect field removals: present before mutation, absent after.
	for field := range d.fields {
		if _, stillPresent := before[field]; !stillPresent {
			b.ops = append(b.ops, fieldOp{Field: field, Value: nil})
		}
	}

	d.tick++
	for i := range b.ops {
		b.ops[i].Actor = d.actorID
		b.ops[i].Tick = d.tick
	}

	batch := opBatch{Ops: b.ops}
	data, err := json.Marshal(batch)
	if err != nil {
		return crdtapi.Change{}, err
	}
	hash := changeHash(data, d.heads)
	change := crdtapi.Change{Hash: hash, Deps: append([]string(nil), d.heads...), Data: data}

	d.applyLocked(change)
	d.lastLocal = &change
	return change, nil
}

func (d *doc) Apply(change crdtapi.Change) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applyLocked(change)
}

func (d *doc) applyLocked(change crdtapi.Change) error {
	var batch opBatch
	if len(change.Data) > 0 {
		if err := json.Unmarshal(change.Data, &batch); err != nil {
			return err
		}
	}
	for _, op := range batch.Ops {
		if op.Tick > d.tick {
			d.tick = op.Tick
		}
		existing, ok := d.fields[op.Field]
		wins := !ok ||
			op.Tick > existing.Timestamp ||
			(op.Tick == existing.Timestamp && op.Actor > existing.Actor)
		if !wins {
			continue
		}
		if op.Value == nil {
			d.fields[op.Field] = fieldValue{Timestamp: op.Tick, Actor: op.Actor, Tombstone: true}
		} else {
			d.fields[op.Field] = fieldValue{Value: op.Value, Timestamp: op.Tick, Actor: op.Actor}
		}
	}
	d.heads = []string{change.Hash}
	return nil
}

func (d *doc) Snapshot() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return json.Marshal(d.fields)
}

func (d *doc) Materialize() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.materializeLocked()
}

func (d *doc) materializeLocked() map[string]any {
	out := make(map[string]any, len(d.fields))
	for field, fv := range d.fields {
		if fv.Tombstone {
			continue
		}
		var v any
		if err := json.Unmarshal(fv.Value, &v); err == nil {
			out[field] = v
		}
	}
	return out
}

func (d *doc) Heads() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.heads...)
}

func (d *doc) LastLocalChange() (crdtapi.Change, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastLocal == nil {
		return crdtapi.Change{}, false
	}
	return *d.lastLocal, true
}

// changeHash derives a deterministic hash from a change's op data and its
// dependency heads, so independent peers encoding the same mutation from
// the same state converge on the same hash.
func changeHash(data []byte, deps []string) string {
	sorted := append([]string(nil), deps...)
	sort.Strings(sorted)
	h := sha256.New()
	h.Write(data)
	for _, d := range sorted {
		h.Write([]byte(d))
	}
	return hex.EncodeToString(h.Sum(nil))
}
