package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	mcrypto "github.com/amaydixit11/mindoo/internal/crypto"
	"github.com/amaydixit11/mindoo/internal/errkind"
)

// SQLiteStore implements Store with SQLite as both write log and metadata
// index: a single entries table carries full entries (including
// ciphertext), and its indexes on doc_id, entry_type and (created_at, id)
// serve the metadata-only queries, which select every column except the
// ciphertext. There is no separate metadata table. SQLite's own WAL gives the crash-safety
// the spec's segment model asks for, in lieu of hand-rolled segment files
// (explicitly out of scope — see SPEC_FULL.md §4.2).
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serializes writers; reads proceed concurrently via the pool

	bloom *idBloom

	compactions      int64
	lastCompactionAt int64
	reclaimedBytes   int64
}

// New opens (or creates) a CAS at path. Use ":memory:" for an ephemeral store.
func New(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, errkind.Wrap(errkind.StoreCorruption, "open database", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.rebuildBloom(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			entry_type TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			doc_id TEXT NOT NULL,
			dependency_ids TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			created_by_public_key TEXT NOT NULL,
			decryption_key_id TEXT NOT NULL,
			signature BLOB NOT NULL,
			original_size INTEGER NOT NULL,
			encrypted_size INTEGER NOT NULL,
			encrypted_data BLOB NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_entries_doc ON entries(doc_id);
		CREATE INDEX IF NOT EXISTS idx_entries_type ON entries(entry_type);
		CREATE INDEX IF NOT EXISTS idx_entries_scan ON entries(created_at, id);

		CREATE TABLE IF NOT EXISTS compaction_status (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			total_compactions INTEGER NOT NULL DEFAULT 0,
			last_compaction_at INTEGER NOT NULL DEFAULT 0,
			reclaimed_bytes INTEGER NOT NULL DEFAULT 0
		);
		INSERT OR IGNORE INTO compaction_status (id, total_compactions, last_compaction_at, reclaimed_bytes)
		VALUES (1, 0, 0, 0);

		CREATE TABLE IF NOT EXISTS store_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return errkind.Wrap(errkind.StoreCorruption, "init schema", err)
	}
	return nil
}

// PutEntries appends each entry; entries whose id already exists are a
// no-op (dedup by id). Fails the whole batch if any entry's contentHash
// does not match SHA256(encryptedData). dependencyIds are stored as given;
// they are not validated.
func (s *SQLiteStore) PutEntries(ctx context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if e.ContentHash != mcrypto.ContentHash(e.EncryptedData) {
			return errkind.New(errkind.CorruptEntry, "contentHash mismatch for entry "+e.ID)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errkind.Wrap(errkind.StoreCorruption, "begin tx", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO entries
		(id, entry_type, content_hash, doc_id, dependency_ids, created_at,
		 created_by_public_key, decryption_key_id, signature, original_size,
		 encrypted_size, encrypted_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return errkind.Wrap(errkind.StoreCorruption, "prepare insert", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		deps, err := json.Marshal(e.DependencyIDs)
		if err != nil {
			return errkind.Wrap(errkind.InvalidInput, "marshal dependencyIds", err)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, string(e.EntryType), e.ContentHash, e.DocID,
			string(deps), e.CreatedAt, e.CreatedByPublicKey, e.DecryptionKeyID, e.Signature,
			e.OriginalSize, e.EncryptedSize, e.EncryptedData); err != nil {
			return errkind.Wrap(errkind.StoreCorruption, "insert entry "+e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errkind.Wrap(errkind.StoreCorruption, "commit put entries", err)
	}

	for _, e := range entries {
		s.bloom.add(e.ID)
	}
	return nil
}

func scanEntryRow(row interface {
	Scan(dest ...any) error
}) (Entry, error) {
	var e Entry
	var entryType, deps string
	if err := row.Scan(&e.ID, &entryType, &e.ContentHash, &e.DocID, &deps, &e.CreatedAt,
		&e.CreatedByPublicKey, &e.DecryptionKeyID, &e.Signature, &e.OriginalSize,
		&e.EncryptedSize, &e.EncryptedData); err != nil {
		return Entry{}, err
	}
	e.EntryType = EntryType(entryType)
	_ = json.Unmarshal([]byte(deps), &e.DependencyIDs)
	return e, nil
}

const entryColumns = `id, entry_type, content_hash, doc_id, dependency_ids, created_at,
	created_by_public_key, decryption_key_id, signature, original_size, encrypted_size, encrypted_data`

// GetEntries returns found entries; missing ids are silently dropped.
func (s *SQLiteStore) GetEntries(ctx context.Context, ids []string) ([]Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM entries WHERE id IN (%s)", entryColumns, placeholders), args...)
	if err != nil {
		return nil, errkind.Wrap(errkind.StoreCorruption, "get entries", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, errkind.Wrap(errkind.StoreCorruption, "scan entry", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func metadataColumns() string {
	return `id, entry_type, content_hash, doc_id, dependency_ids, created_at,
		created_by_public_key, decryption_key_id, original_size, encrypted_size`
}

func scanMetadataRow(row interface{ Scan(dest ...any) error }) (Metadata, error) {
	var m Metadata
	var entryType, deps string
	if err := row.Scan(&m.ID, &entryType, &m.ContentHash, &m.DocID, &deps, &m.CreatedAt,
		&m.CreatedByPublicKey, &m.DecryptionKeyID, &m.OriginalSize, &m.EncryptedSize); err != nil {
		return Metadata{}, err
	}
	m.EntryType = EntryType(entryType)
	_ = json.Unmarshal([]byte(deps), &m.DependencyIDs)
	return m, nil
}

// FindNewEntries returns metadata for every id not present in haveIDs.
func (s *SQLiteStore) FindNewEntries(ctx context.Context, haveIDs []string) ([]Metadata, error) {
	have := make(map[string]struct{}, len(haveIDs))
	for _, id := range haveIDs {
		have[id] = struct{}{}
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM entries ORDER BY created_at, id", metadataColumns()))
	if err != nil {
		return nil, errkind.Wrap(errkind.StoreCorruption, "find new entries", err)
	}
	defer rows.Close()

	var out []Metadata
	for rows.Next() {
		m, err := scanMetadataRow(rows)
		if err != nil {
			return nil, errkind.Wrap(errkind.StoreCorruption, "scan metadata", err)
		}
		if _, ok := have[m.ID]; !ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// FindNewEntriesForDoc is FindNewEntries scoped to one document.
func (s *SQLiteStore) FindNewEntriesForDoc(ctx context.Context, haveIDs []string, docID string) ([]Metadata, error) {
	have := make(map[string]struct{}, len(haveIDs))
	for _, id := range haveIDs {
		have[id] = struct{}{}
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM entries WHERE doc_id = ? ORDER BY created_at, id", metadataColumns()), docID)
	if err != nil {
		return nil, errkind.Wrap(errkind.StoreCorruption, "find new entries for doc", err)
	}
	defer rows.Close()

	var out []Metadata
	for rows.Next() {
		m, err := scanMetadataRow(rows)
		if err != nil {
			return nil, errkind.Wrap(errkind.StoreCorruption, "scan metadata", err)
		}
		if _, ok := have[m.ID]; !ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// FindEntries returns metadata by entryType and an optional createdAt range.
func (s *SQLiteStore) FindEntries(ctx context.Context, entryType EntryType, fromMs, untilMs *int64) ([]Metadata, error) {
	query := fmt.Sprintf("SELECT %s FROM entries WHERE entry_type = ?", metadataColumns())
	args := []any{string(entryType)}
	if fromMs != nil {
		query += " AND created_at >= ?"
		args = append(args, *fromMs)
	}
	if untilMs != nil {
		query += " AND created_at <= ?"
		args = append(args, *untilMs)
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errkind.Wrap(errkind.StoreCorruption, "find entries", err)
	}
	defer rows.Close()

	var out []Metadata
	for rows.Next() {
		m, err := scanMetadataRow(rows)
		if err != nil {
			return nil, errkind.Wrap(errkind.StoreCorruption, "scan metadata", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// ScanEntriesSince performs the ordered (createdAt, id) cursor scan.
func (s *SQLiteStore) ScanEntriesSince(ctx context.Context, cursor string, limit int, filter *ScanFilter) (ScanPage, error) {
	if limit <= 0 {
		limit = 256
	}
	pos, err := decodeCursor(cursor)
	if err != nil {
		return ScanPage{}, err
	}

	query := fmt.Sprintf(`SELECT %s FROM entries WHERE (created_at > ? OR (created_at = ? AND id > ?))`, metadataColumns())
	args := []any{pos.CreatedAt, pos.CreatedAt, pos.ID}
	if filter != nil {
		if filter.EntryType != "" {
			query += " AND entry_type = ?"
			args = append(args, string(filter.EntryType))
		}
		if filter.DocID != "" {
			query += " AND doc_id = ?"
			args = append(args, filter.DocID)
		}
	}
	query += " ORDER BY created_at, id LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return ScanPage{}, errkind.Wrap(errkind.StoreCorruption, "scan entries since", err)
	}
	defer rows.Close()

	var entries []Metadata
	for rows.Next() {
		m, err := scanMetadataRow(rows)
		if err != nil {
			return ScanPage{}, errkind.Wrap(errkind.StoreCorruption, "scan metadata", err)
		}
		entries = append(entries, m)
	}

	hasMore := len(entries) > limit
	if hasMore {
		entries = entries[:limit]
	}
	next := cursor
	if len(entries) > 0 {
		last := entries[len(entries)-1]
		next = encodeCursor(cursorPosition{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return ScanPage{Entries: entries, NextCursor: next, HasMore: hasMore}, nil
}

// GetIDBloomSummary returns the current bloom filter snapshot.
func (s *SQLiteStore) GetIDBloomSummary(ctx context.Context) (BloomSummary, error) {
	return s.bloom.summary(), nil
}

// GetCompactionStatus reports compaction bookkeeping and current totals.
func (s *SQLiteStore) GetCompactionStatus(ctx context.Context) (CompactionStatus, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&total); err != nil {
		return CompactionStatus{}, errkind.Wrap(errkind.StoreCorruption, "count entries", err)
	}
	var compactions, lastAt, reclaimed int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT total_compactions, last_compaction_at, reclaimed_bytes FROM compaction_status WHERE id = 1").
		Scan(&compactions, &lastAt, &reclaimed); err != nil {
		return CompactionStatus{}, errkind.Wrap(errkind.StoreCorruption, "read compaction status", err)
	}
	return CompactionStatus{
		TotalEntries:     total,
		TotalCompactions: compactions,
		LastCompactionAt: lastAt,
		SegmentCount:     1, // logically one consolidated segment; see Compact
		ReclaimedBytes:   reclaimed,
	}, nil
}

// ResolveDependencies walks the dependency DAG backwards from startID.
func (s *SQLiteStore) ResolveDependencies(ctx context.Context, startID string, opts ResolveOptions) ([]string, error) {
	visited := map[string]struct{}{}
	var out []string
	frontier := []string{startID}

	for len(frontier) > 0 {
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
		id := frontier[0]
		frontier = frontier[1:]
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}

		var depsJSON string
		err := s.db.QueryRowContext(ctx, "SELECT dependency_ids FROM entries WHERE id = ?", id).Scan(&depsJSON)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, errkind.Wrap(errkind.StoreCorruption, "resolve dependencies", err)
		}
		var deps []string
		_ = json.Unmarshal([]byte(depsJSON), &deps)
		out = append(out, deps...)
		if opts.Transitive {
			frontier = append(frontier, deps...)
		}
	}
	return out, nil
}

// GetAllIDs returns a complete id snapshot; intended for small stores/tests.
func (s *SQLiteStore) GetAllIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM entries ORDER BY created_at, id")
	if err != nil {
		return nil, errkind.Wrap(errkind.StoreCorruption, "get all ids", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errkind.Wrap(errkind.StoreCorruption, "scan id", err)
		}
		out = append(out, id)
	}
	return out, nil
}

// HasEntries returns the subset of ids present in the store.
func (s *SQLiteStore) HasEntries(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var present []string
	for _, id := range ids {
		if !s.bloom.mightContain(id) {
			continue
		}
		var found string
		err := s.db.QueryRowContext(ctx, "SELECT id FROM entries WHERE id = ?", id).Scan(&found)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, errkind.Wrap(errkind.StoreCorruption, "has entries", err)
		}
		present = append(present, found)
	}
	return present, nil
}

// Compact records a compaction pass in the compaction_status bookkeeping:
// it increments the pass counter and sets the last-compaction time. No
// rows are merged, moved or dropped and no space is reclaimed, so
// reclaimedBytes stays at zero.
func (s *SQLiteStore) Compact(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		UPDATE compaction_status SET
			total_compactions = total_compactions + 1,
			last_compaction_at = ?
		WHERE id = 1
	`, time.Now().UnixMilli())
	if err != nil {
		return errkind.Wrap(errkind.StoreCorruption, "compact", err)
	}
	return nil
}

func (s *SQLiteStore) rebuildBloom(ctx context.Context) error {
	ids, err := s.GetAllIDs(ctx)
	if err != nil {
		return err
	}
	s.bloom = newIDBloom(uint(len(ids)) + 1024)
	for _, id := range ids {
		s.bloom.add(id)
	}
	return nil
}

// StoreID returns this store's recorded logical identity, or "" if
// SetStoreID has never been called for it.
func (s *SQLiteStore) StoreID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM store_meta WHERE key = 'store_id'").Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errkind.Wrap(errkind.StoreCorruption, "read store id", err)
	}
	return id, nil
}

// SetStoreID records id as this store's logical identity. It is idempotent
// and first-write-wins: once recorded, later calls with a different id do
// not overwrite it, since the id is meant to stay stable for the lifetime
// of the on-disk store.
func (s *SQLiteStore) SetStoreID(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO store_meta (key, value) VALUES ('store_id', ?)", id)
	if err != nil {
		return errkind.Wrap(errkind.StoreCorruption, "set store id", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
