// Package document implements the DocumentEngine: per-database projection
// of the entry sequence into CRDT document state, local writes, the sorted
// cursor index and store-to-store sync handles, per spec.md §4.3.
package document

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/amaydixit11/mindoo/internal/document/crdtapi"
	mcrypto "github.com/amaydixit11/mindoo/internal/crypto"
	"github.com/amaydixit11/mindoo/internal/errkind"
	"github.com/amaydixit11/mindoo/internal/idcodec"
	"github.com/amaydixit11/mindoo/internal/store"
)

// CryptoContext is the subset of Tenant's crypto routing the engine needs:
// payload encryption/decryption by named key, and signing/verification by
// the current user's identity. Injected at construction (spec.md §9's
// "explicit dependency injection of a crypto provider").
type CryptoContext interface {
	Encrypt(keyID string, plaintext, aad []byte) ([]byte, error)
	Decrypt(keyID string, ciphertext, aad []byte) ([]byte, error)
	Sign(data []byte) []byte
	Verify(pub string, data, sig []byte) bool
	SigningPublicKeyPEM() string
	IsAdminKey(pub string) bool
}

// DocumentState is the in-memory projection of one document.
type DocumentState struct {
	DocID           string
	CRDT            crdtapi.Doc
	CreatedAt       int64
	LastModified    int64
	DecryptionKeyID string
	IsDeleted       bool
}

// Config configures an Engine.
type Config struct {
	AdminOnly bool
}

// DefaultConfig returns the default, non-admin-only configuration.
func DefaultConfig() Config {
	return Config{AdminOnly: false}
}

type cursorIndexEntry struct {
	LastModified int64
	DocID        string
	IsDeleted    bool
}

// Cursor is the opaque {lastModified, docId} position ProcessChangesSince
// and IterateChangesSince paginate on.
type Cursor struct {
	LastModified int64  `json:"lastModified"`
	DocID        string `json:"docId"`
}

// Engine is one per-database DocumentEngine instance.
type Engine struct {
	mu     sync.RWMutex
	store  store.Store
	crdt   crdtapi.Provider
	crypto CryptoContext
	cfg    Config

	docs        map[string]*DocumentState
	docTypes    map[string]string // docID -> schema-validated document type
	depToEntry  map[string]map[string]string // docID -> crdtHash -> entryID
	sortedIndex []cursorIndexEntry
	processed   map[string]struct{}

	schemas *SchemaRegistry
	hooks   *HookManager
	events  chan Event
}

// Store returns the underlying CAS this engine projects documents from, so
// callers needing store-level operations (sync, attachment resolution,
// lifecycle shutdown) are not forced to keep a second reference around.
func (e *Engine) Store() store.Store { return e.store }

// Schemas returns the registry documents created through CreateDocumentTyped
// are validated against.
func (e *Engine) Schemas() *SchemaRegistry { return e.schemas }

// Hooks returns the HookManager callbacks can be registered on.
func (e *Engine) Hooks() *HookManager { return e.hooks }

// New constructs an Engine over store s with the given CRDT provider and
// crypto context.
func New(s store.Store, provider crdtapi.Provider, crypto CryptoContext, cfg Config) *Engine {
	return &Engine{
		store:      s,
		crdt:       provider,
		crypto:     crypto,
		cfg:        cfg,
		docs:       make(map[string]*DocumentState),
		docTypes:   make(map[string]string),
		depToEntry: make(map[string]map[string]string),
		processed:  make(map[string]struct{}),
		schemas:    NewSchemaRegistry(),
		hooks:      NewHookManager(),
		events:     make(chan Event, 64),
	}
}

// Subscribe returns a channel receiving every Event this engine emits.
func (e *Engine) Subscribe() <-chan Event { return e.events }

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
	}
	e.hooks.Trigger(ev)
}

// LoadDocument projects docID's entries into CRDT state, per spec.md §4.3.
func (e *Engine) LoadDocument(ctx context.Context, docID string) (*DocumentState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadDocumentLocked(ctx, docID)
}

func (e *Engine) loadDocumentLocked(ctx context.Context, docID string) (*DocumentState, error) {
	metas, err := e.store.FindNewEntriesForDoc(ctx, nil, docID)
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, errkind.New(errkind.NotFound, "document not found: "+docID)
	}

	// Select the newest doc_snapshot, if any.
	var snapshot *store.Metadata
	for i := range metas {
		if metas[i].EntryType != store.TypeDocSnapshot {
			continue
		}
		if snapshot == nil || metas[i].CreatedAt > snapshot.CreatedAt {
			snapshot = &metas[i]
		}
	}

	var crdtDoc crdtapi.Doc
	var createdAt int64
	decryptionKeyID := "default"
	isDeleted := false

	if snapshot != nil {
		entries, err := e.store.GetEntries(ctx, []string{snapshot.ID})
		if err != nil || len(entries) == 0 {
			return nil, errkind.Wrap(errkind.StoreCorruption, "load snapshot entry", err)
		}
		se := entries[0]
		if !e.verifyEntry(se) {
			crdtDoc = e.crdt.Init()
		} else {
			plaintext, derr := e.crypto.Decrypt(se.DecryptionKeyID, se.EncryptedData, []byte(se.ID))
			if derr != nil {
				crdtDoc = e.crdt.Init()
			} else {
				loaded, lerr := e.crdt.Load(plaintext)
				if lerr != nil {
					crdtDoc = e.crdt.Init()
				} else {
					crdtDoc = loaded
				}
			}
			decryptionKeyID = se.DecryptionKeyID
		}
		createdAt = se.CreatedAt
	} else {
		crdtDoc = e.crdt.Init()
	}

	// Remaining doc_create/doc_change/doc_delete entries later than the
	// snapshot, sorted (createdAt, id) ascending.
	var rest []store.Metadata
	for _, m := range metas {
		if snapshot != nil && m.CreatedAt < snapshot.CreatedAt {
			continue
		}
		switch m.EntryType {
		case store.TypeDocCreate, store.TypeDocChange, store.TypeDocDelete:
			rest = append(rest, m)
		}
	}
	sort.Slice(rest, func(i, j int) bool {
		if rest[i].CreatedAt != rest[j].CreatedAt {
			return rest[i].CreatedAt < rest[j].CreatedAt
		}
		return rest[i].ID < rest[j].ID
	})

	depMap := e.depToEntry[docID]
	if depMap == nil {
		depMap = make(map[string]string)
		e.depToEntry[docID] = depMap
	}

	var lastModified int64
	if createdAt > 0 {
		lastModified = createdAt
	}
	for _, m := range rest {
		entries, err := e.store.GetEntries(ctx, []string{m.ID})
		if err != nil || len(entries) == 0 {
			continue
		}
		se := entries[0]
		if createdAt == 0 {
			createdAt = se.CreatedAt
		}
		if se.CreatedAt > lastModified {
			lastModified = se.CreatedAt
		}

		if !e.verifyEntry(se) {
			// Non-fatal: skip and continue (spec.md §7 propagation policy).
			continue
		}

		if se.EntryType == store.TypeDocDelete {
			isDeleted = true
			continue
		}

		plaintext, derr := e.crypto.Decrypt(se.DecryptionKeyID, se.EncryptedData, []byte(se.ID))
		if derr != nil {
			// Non-fatal: defence against a revoked key or lost share.
			continue
		}
		change, cerr := e.crdt.DecodeChange(plaintext)
		if cerr != nil {
			continue
		}
		if err := crdtDoc.Apply(change); err != nil {
			continue
		}
		depMap[change.Hash] = se.ID
		decryptionKeyID = se.DecryptionKeyID
	}

	ds := &DocumentState{
		DocID:           docID,
		CRDT:            crdtDoc,
		CreatedAt:       createdAt,
		LastModified:    lastModified,
		DecryptionKeyID: decryptionKeyID,
		IsDeleted:       isDeleted,
	}
	e.docs[docID] = ds
	e.updateSortedIndexLocked(ds)
	return ds, nil
}

// verifyEntry checks an entry's signature against its claimed author and,
// for admin-only databases, that the author is the admin key.
func (e *Engine) verifyEntry(se store.Entry) bool {
	if !e.crypto.Verify(se.CreatedByPublicKey, se.EncryptedData, se.Signature) {
		return false
	}
	if e.cfg.AdminOnly && !e.crypto.IsAdminKey(se.CreatedByPublicKey) {
		return false
	}
	return true
}

func (e *Engine) getOrLoadLocked(ctx context.Context, docID string) (*DocumentState, error) {
	if ds, ok := e.docs[docID]; ok {
		return ds, nil
	}
	return e.loadDocumentLocked(ctx, docID)
}

// GetDocument returns the current materialized view of docID.
func (e *Engine) GetDocument(ctx context.Context, docID string) (map[string]any, error) {
	e.mu.Lock()
	ds, err := e.getOrLoadLocked(ctx, docID)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if ds.IsDeleted {
		return nil, errkind.New(errkind.AlreadyDeleted, "document deleted: "+docID)
	}
	return ds.CRDT.Materialize(), nil
}

// AllDocumentIDs returns every document id that has ever had a doc_create
// entry in this database's store, including deleted ones.
func (e *Engine) AllDocumentIDs(ctx context.Context) ([]string, error) {
	metas, err := e.store.FindEntries(ctx, store.TypeDocCreate, nil, nil)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(metas))
	seen := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		if _, ok := seen[m.DocID]; ok {
			continue
		}
		seen[m.DocID] = struct{}{}
		ids = append(ids, m.DocID)
	}
	return ids, nil
}

// CreateDocument creates a new document, running initial through a single
// CRDT change and persisting a doc_create entry.
func (e *Engine) CreateDocument(ctx context.Context, initial crdtapi.Mutator, decryptionKeyID string) (string, error) {
	return e.CreateDocumentTyped(ctx, "", initial, decryptionKeyID)
}

// CreateDocumentTyped is CreateDocument additionally tagging docID with
// docType for schema validation on every subsequent ChangeDoc. An empty
// docType skips validation entirely.
func (e *Engine) CreateDocumentTyped(ctx context.Context, docType string, initial crdtapi.Mutator, decryptionKeyID string) (string, error) {
	if e.cfg.AdminOnly && !e.crypto.IsAdminKey(e.crypto.SigningPublicKeyPEM()) {
		return "", errkind.New(errkind.AdminOnly, "only the admin key may write to this database")
	}
	if decryptionKeyID == "" {
		decryptionKeyID = "default"
	}
	docID, err := idcodec.NewDocID()
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	crdtDoc := e.crdt.Init()
	change, err := crdtDoc.Change(initial)
	if err != nil {
		return "", err
	}
	if docType != "" {
		if verr := e.schemas.Validate(docType, crdtDoc.Materialize()); verr != nil {
			return "", verr
		}
	}
	entry, err := e.sealChange(ctx, docID, change, decryptionKeyID, store.TypeDocCreate)
	if err != nil {
		return "", err
	}
	if err := e.store.PutEntries(ctx, []store.Entry{entry}); err != nil {
		return "", err
	}

	ds := &DocumentState{DocID: docID, CRDT: crdtDoc, CreatedAt: entry.CreatedAt, LastModified: entry.CreatedAt, DecryptionKeyID: decryptionKeyID}
	e.docs[docID] = ds
	if docType != "" {
		e.docTypes[docID] = docType
	}
	depMap := map[string]string{change.Hash: entry.ID}
	e.depToEntry[docID] = depMap
	e.updateSortedIndexLocked(ds)
	e.processed[entry.ID] = struct{}{}
	e.emit(Event{Type: EventCreate, DocID: docID, EntryID: entry.ID})
	return docID, nil
}

// ChangeDoc applies mutator to docID's current CRDT state in one
// synchronous transaction, then seals and persists exactly one doc_change
// entry (spec.md §9's callback-with-proxy reimplementation).
func (e *Engine) ChangeDoc(ctx context.Context, docID string, mutator crdtapi.Mutator) error {
	if e.cfg.AdminOnly && !e.crypto.IsAdminKey(e.crypto.SigningPublicKeyPEM()) {
		return errkind.New(errkind.AdminOnly, "only the admin key may write to this database")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ds, err := e.getOrLoadLocked(ctx, docID)
	if err != nil {
		return err
	}
	if ds.IsDeleted {
		return errkind.New(errkind.AlreadyDeleted, "document deleted: "+docID)
	}

	change, err := ds.CRDT.Change(mutator)
	if err != nil {
		return err
	}
	if docType, ok := e.docTypes[docID]; ok {
		if verr := e.schemas.Validate(docType, ds.CRDT.Materialize()); verr != nil {
			return verr
		}
	}
	entry, err := e.sealChange(ctx, docID, change, ds.DecryptionKeyID, store.TypeDocChange)
	if err != nil {
		return err
	}
	if err := e.store.PutEntries(ctx, []store.Entry{entry}); err != nil {
		return err
	}
	ds.LastModified = entry.CreatedAt
	e.depToEntry[docID][change.Hash] = entry.ID
	e.updateSortedIndexLocked(ds)
	e.processed[entry.ID] = struct{}{}
	e.emit(Event{Type: EventChange, DocID: docID, EntryID: entry.ID})
	return nil
}

// DeleteDocument appends a doc_delete tombstone for docID.
func (e *Engine) DeleteDocument(ctx context.Context, docID string) error {
	if e.cfg.AdminOnly && !e.crypto.IsAdminKey(e.crypto.SigningPublicKeyPEM()) {
		return errkind.New(errkind.AdminOnly, "only the admin key may write to this database")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ds, err := e.getOrLoadLocked(ctx, docID)
	if err != nil {
		return err
	}
	entry, err := e.sealTombstone(ctx, docID, ds.DecryptionKeyID)
	if err != nil {
		return err
	}
	if err := e.store.PutEntries(ctx, []store.Entry{entry}); err != nil {
		return err
	}
	ds.IsDeleted = true
	ds.LastModified = entry.CreatedAt
	e.updateSortedIndexLocked(ds)
	e.processed[entry.ID] = struct{}{}
	e.emit(Event{Type: EventDelete, DocID: docID, EntryID: entry.ID})
	return nil
}

func (e *Engine) updateSortedIndexLocked(ds *DocumentState) {
	for i, ent := range e.sortedIndex {
		if ent.DocID == ds.DocID {
			e.sortedIndex = append(e.sortedIndex[:i], e.sortedIndex[i+1:]...)
			break
		}
	}
	entry := cursorIndexEntry{LastModified: ds.LastModified, DocID: ds.DocID, IsDeleted: ds.IsDeleted}
	idx := sort.Search(len(e.sortedIndex), func(i int) bool {
		if e.sortedIndex[i].LastModified != entry.LastModified {
			return e.sortedIndex[i].LastModified > entry.LastModified
		}
		return e.sortedIndex[i].DocID > entry.DocID
	})
	e.sortedIndex = append(e.sortedIndex, cursorIndexEntry{})
	copy(e.sortedIndex[idx+1:], e.sortedIndex[idx:])
	e.sortedIndex[idx] = entry
}

// ProcessChangesSince calls cb once for every document whose lastModified
// is strictly after cursor, up to limit documents, in (lastModified, docId)
// order, and returns the advanced cursor.
func (e *Engine) ProcessChangesSince(cursor Cursor, limit int, cb func(docID string, isDeleted bool)) (Cursor, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	count := 0
	next := cursor
	for _, ent := range e.sortedIndex {
		if ent.LastModified < cursor.LastModified ||
			(ent.LastModified == cursor.LastModified && ent.DocID <= cursor.DocID) {
			continue
		}
		cb(ent.DocID, ent.IsDeleted)
		next = Cursor{LastModified: ent.LastModified, DocID: ent.DocID}
		count++
		if limit > 0 && count >= limit {
			break
		}
	}
	return next, nil
}

// IterateChangesSince pages through ProcessChangesSince until a page yields
// fewer than pageSize documents or the cursor fails to advance.
func (e *Engine) IterateChangesSince(start Cursor, pageSize int, cb func(docID string, isDeleted bool)) error {
	cursor := start
	for {
		seen := 0
		next, err := e.ProcessChangesSince(cursor, pageSize, func(docID string, deleted bool) {
			seen++
			cb(docID, deleted)
		})
		if err != nil {
			return err
		}
		if seen < pageSize || next == cursor {
			return nil
		}
		cursor = next
	}
}

// SyncStoreChanges pulls any store entries not yet processed, invalidates
// and reloads the affected documents' cache, and advances processedIds.
func (e *Engine) SyncStoreChanges(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var have []string
	for id := range e.processed {
		have = append(have, id)
	}
	fresh, err := e.store.FindNewEntries(ctx, have)
	if err != nil {
		return err
	}
	if len(fresh) == 0 {
		return nil
	}

	affected := map[string]struct{}{}
	for _, m := range fresh {
		affected[m.DocID] = struct{}{}
		e.processed[m.ID] = struct{}{}
	}
	for docID := range affected {
		delete(e.docs, docID)
		delete(e.depToEntry, docID)
		if _, err := e.loadDocumentLocked(ctx, docID); err != nil && errkind.Of(err) != errkind.NotFound {
			return err
		}
	}
	return nil
}

// RemoteStore is the subset of store.Store a sync peer must implement.
type RemoteStore interface {
	GetAllIDs(ctx context.Context) ([]string, error)
	GetEntries(ctx context.Context, ids []string) ([]store.Entry, error)
	PutEntries(ctx context.Context, entries []store.Entry) error
	StoreID(ctx context.Context) (string, error)
}

// checkCompatible refuses to sync across stores with differing, non-empty
// ids, per spec.md §4.3's "Refuses to operate across stores with differing
// id" and §7's IncompatibleStore.
func (e *Engine) checkCompatible(ctx context.Context, remote RemoteStore) error {
	localID, err := e.store.StoreID(ctx)
	if err != nil {
		return err
	}
	remoteID, err := remote.StoreID(ctx)
	if err != nil {
		return err
	}
	if localID != "" && remoteID != "" && localID != remoteID {
		return errkind.New(errkind.IncompatibleStore, "store id mismatch: local "+localID+" vs remote "+remoteID)
	}
	return nil
}

// PullChangesFrom transfers every entry present in remote but absent
// locally, then resynchronizes the local cache.
func (e *Engine) PullChangesFrom(ctx context.Context, remote RemoteStore) error {
	if err := e.checkCompatible(ctx, remote); err != nil {
		return err
	}
	remoteIDs, err := remote.GetAllIDs(ctx)
	if err != nil {
		return err
	}
	localIDs, err := e.store.GetAllIDs(ctx)
	if err != nil {
		return err
	}
	localSet := make(map[string]struct{}, len(localIDs))
	for _, id := range localIDs {
		localSet[id] = struct{}{}
	}
	var missing []string
	for _, id := range remoteIDs {
		if _, ok := localSet[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	entries, err := remote.GetEntries(ctx, missing)
	if err != nil {
		return err
	}
	if err := e.store.PutEntries(ctx, entries); err != nil {
		return err
	}
	return e.SyncStoreChanges(ctx)
}

// PushChangesTo transfers every entry present locally but absent in remote.
func (e *Engine) PushChangesTo(ctx context.Context, remote RemoteStore) error {
	if err := e.checkCompatible(ctx, remote); err != nil {
		return err
	}
	localIDs, err := e.store.GetAllIDs(ctx)
	if err != nil {
		return err
	}
	remoteIDs, err := remote.GetAllIDs(ctx)
	if err != nil {
		return err
	}
	remoteSet := make(map[string]struct{}, len(remoteIDs))
	for _, id := range remoteIDs {
		remoteSet[id] = struct{}{}
	}
	var missing []string
	for _, id := range localIDs {
		if _, ok := remoteSet[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	entries, err := e.store.GetEntries(ctx, missing)
	if err != nil {
		return err
	}
	return remote.PutEntries(ctx, entries)
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

func (e *Engine) sealChange(ctx context.Context, docID string, change crdtapi.Change, keyID string, entryType store.EntryType) (store.Entry, error) {
	plaintext := e.crdt.EncodeChange(change)

	depIDs := make([]string, 0, len(change.Deps))
	depMap := e.depToEntry[docID]
	for _, depHash := range change.Deps {
		if entryID, ok := depMap[depHash]; ok {
			depIDs = append(depIDs, entryID)
		}
		// Unknown hashes are omitted from dependencyIds without a warning
		// being logged or returned.
	}

	entryID := idcodec.DocEntryID(docID, change.Hash, change.Deps)
	aad := []byte(entryID)
	ciphertext, err := e.crypto.Encrypt(keyID, plaintext, aad)
	if err != nil {
		return store.Entry{}, err
	}
	sig := e.crypto.Sign(ciphertext)
	now := nowMs()

	return store.Entry{
		EntryType:          entryType,
		ID:                 entryID,
		ContentHash:        mcrypto.ContentHash(ciphertext),
		DocID:              docID,
		DependencyIDs:      depIDs,
		CreatedAt:          now,
		CreatedByPublicKey: e.crypto.SigningPublicKeyPEM(),
		DecryptionKeyID:    keyID,
		Signature:          sig,
		OriginalSize:       len(plaintext),
		EncryptedSize:      len(ciphertext),
		EncryptedData:      ciphertext,
	}, nil
}

func (e *Engine) sealTombstone(ctx context.Context, docID string, keyID string) (store.Entry, error) {
	payload, _ := json.Marshal(map[string]any{"deleted": true})
	heads := e.docs[docID].CRDT.Heads()
	entryID := idcodec.DocEntryID(docID, "delete", heads)
	aad := []byte(entryID)
	ciphertext, err := e.crypto.Encrypt(keyID, payload, aad)
	if err != nil {
		return store.Entry{}, err
	}
	sig := e.crypto.Sign(ciphertext)
	now := nowMs()
	return store.Entry{
		EntryType:          store.TypeDocDelete,
		ID:                 entryID,
		ContentHash:        mcrypto.ContentHash(ciphertext),
		DocID:              docID,
		DependencyIDs:      nil,
		CreatedAt:          now,
		CreatedByPublicKey: e.crypto.SigningPublicKeyPEM(),
		DecryptionKeyID:    keyID,
		Signature:          sig,
		OriginalSize:       len(payload),
		EncryptedSize:      len(ciphertext),
		EncryptedData:      ciphertext,
	}, nil
}
