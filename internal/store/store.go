// Package store implements the content-addressed, append-only per-database
// entry log (the CAS): durable storage, metadata scan, dependency
// resolution, bloom-assisted discovery and compaction bookkeeping.
package store

import "context"

// EntryType is one of the five kinds of StoreEntry.
type EntryType string

const (
	TypeDocCreate       EntryType = "doc_create"
	TypeDocChange       EntryType = "doc_change"
	TypeDocSnapshot     EntryType = "doc_snapshot"
	TypeDocDelete       EntryType = "doc_delete"
	TypeAttachmentChunk EntryType = "attachment_chunk"
)

// Entry is the atomic, immutable unit the CAS stores, per spec.md §3.
type Entry struct {
	EntryType          EntryType `json:"entryType"`
	ID                 string    `json:"id"`
	ContentHash        string    `json:"contentHash"`
	DocID              string    `json:"docId"`
	DependencyIDs      []string  `json:"dependencyIds"`
	CreatedAt          int64     `json:"createdAt"`
	CreatedByPublicKey string    `json:"createdByPublicKey"`
	DecryptionKeyID    string    `json:"decryptionKeyId"`
	Signature          []byte    `json:"signature"`
	OriginalSize       int       `json:"originalSize"`
	EncryptedSize      int       `json:"encryptedSize"`
	EncryptedData      []byte    `json:"encryptedData"`
}

// Metadata is an Entry stripped of its ciphertext payload, the shape
// findNewEntries/findEntries/scanEntriesSince deal in.
type Metadata struct {
	EntryType          EntryType `json:"entryType"`
	ID                 string    `json:"id"`
	ContentHash        string    `json:"contentHash"`
	DocID              string    `json:"docId"`
	DependencyIDs      []string  `json:"dependencyIds"`
	CreatedAt          int64     `json:"createdAt"`
	CreatedByPublicKey string    `json:"createdByPublicKey"`
	DecryptionKeyID    string    `json:"decryptionKeyId"`
	OriginalSize       int       `json:"originalSize"`
	EncryptedSize      int       `json:"encryptedSize"`
}

func (e Entry) Metadata() Metadata {
	return Metadata{
		EntryType: e.EntryType, ID: e.ID, ContentHash: e.ContentHash, DocID: e.DocID,
		DependencyIDs: e.DependencyIDs, CreatedAt: e.CreatedAt,
		CreatedByPublicKey: e.CreatedByPublicKey, DecryptionKeyID: e.DecryptionKeyID,
		OriginalSize: e.OriginalSize, EncryptedSize: e.EncryptedSize,
	}
}

// ScanFilter narrows scanEntriesSince; all fields optional.
type ScanFilter struct {
	EntryType EntryType
	DocID     string
}

// ScanPage is the result of one scanEntriesSince call.
type ScanPage struct {
	Entries    []Metadata
	NextCursor string
	HasMore    bool
}

// BloomSummary is the probabilistic id summary exchanged during sync.
type BloomSummary struct {
	K           uint              `json:"kParams"`
	Bits        []byte            `json:"bits"`
	M           uint              `json:"m"`
	Cardinality uint64            `json:"cardinality"`
}

// CompactionStatus reports the CAS's compaction bookkeeping.
type CompactionStatus struct {
	TotalEntries      int64 `json:"totalEntries"`
	TotalCompactions  int64 `json:"totalCompactions"`
	LastCompactionAt  int64 `json:"lastCompactionAt"`
	SegmentCount      int64 `json:"segmentCount"`
	ReclaimedBytes    int64 `json:"reclaimedBytes"`
}

// ResolveOptions tunes resolveDependencies.
type ResolveOptions struct {
	Transitive bool
	Limit      int
}

// Store is the ContentAddressedStore capability interface, per spec.md §4.2.
type Store interface {
	PutEntries(ctx context.Context, entries []Entry) error
	GetEntries(ctx context.Context, ids []string) ([]Entry, error)
	FindNewEntries(ctx context.Context, haveIDs []string) ([]Metadata, error)
	FindNewEntriesForDoc(ctx context.Context, haveIDs []string, docID string) ([]Metadata, error)
	FindEntries(ctx context.Context, entryType EntryType, fromMs, untilMs *int64) ([]Metadata, error)
	ScanEntriesSince(ctx context.Context, cursor string, limit int, filter *ScanFilter) (ScanPage, error)
	GetIDBloomSummary(ctx context.Context) (BloomSummary, error)
	GetCompactionStatus(ctx context.Context) (CompactionStatus, error)
	ResolveDependencies(ctx context.Context, startID string, opts ResolveOptions) ([]string, error)
	GetAllIDs(ctx context.Context) ([]string, error)
	HasEntries(ctx context.Context, ids []string) ([]string, error)
	// StoreID returns this store's logical identity (the database id it was
	// opened for), or "" if none has ever been recorded. PullChangesFrom and
	// PushChangesTo compare this across peers and refuse to operate when
	// both sides report a non-empty, differing id (spec.md §4.3, §7's
	// IncompatibleStore).
	StoreID(ctx context.Context) (string, error)
	Close() error
}
