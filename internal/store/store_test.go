package store

import (
	"context"
	"testing"

	mcrypto "github.com/amaydixit11/mindoo/internal/crypto"
)

func newTestEntry(t *testing.T, id, docID string, createdAt int64, deps []string) Entry {
	t.Helper()
	data := []byte("ciphertext-for-" + id)
	return Entry{
		EntryType:          TypeDocChange,
		ID:                 id,
		ContentHash:        mcrypto.ContentHash(data),
		DocID:              docID,
		DependencyIDs:      deps,
		CreatedAt:          createdAt,
		CreatedByPublicKey: "pem-key",
		DecryptionKeyID:    "default",
		Signature:          []byte("sig"),
		OriginalSize:       len(data),
		EncryptedSize:      len(data),
		EncryptedData:      data,
	}
}

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutEntriesDedupByID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	e := newTestEntry(t, "doc1_d_0_abc", "doc1", 1, nil)

	if err := s.PutEntries(ctx, []Entry{e}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutEntries(ctx, []Entry{e}); err != nil {
		t.Fatal(err)
	}
	ids, err := s.GetAllIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected exactly one retained entry after dup put, got %d", len(ids))
	}
}

func TestPutEntriesRejectsBadContentHash(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	e := newTestEntry(t, "doc1_d_0_abc", "doc1", 1, nil)
	e.ContentHash = "deadbeef"
	if err := s.PutEntries(ctx, []Entry{e}); err == nil {
		t.Fatal("expected rejection of mismatched contentHash")
	}
}

func TestHasEntriesMatchesGetAllIDs(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	e := newTestEntry(t, "doc1_d_0_abc", "doc1", 1, nil)
	if err := s.PutEntries(ctx, []Entry{e}); err != nil {
		t.Fatal(err)
	}
	ids, err := s.GetAllIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	has, err := s.HasEntries(ctx, ids)
	if err != nil {
		t.Fatal(err)
	}
	if len(has) != len(ids) {
		t.Fatalf("expected hasEntries(getAllIds) == getAllIds, got %v vs %v", has, ids)
	}
}

func TestScanEntriesSinceMonotonic(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	const n = 50
	for i := 0; i < n; i++ {
		e := newTestEntry(t, "doc1_d_0_"+string(rune('a'+i)), "doc1", int64(i), nil)
		if err := s.PutEntries(ctx, []Entry{e}); err != nil {
			t.Fatal(err)
		}
	}

	seen := map[string]bool{}
	cursor := ""
	for {
		page, err := s.ScanEntriesSince(ctx, cursor, 7, nil)
		if err != nil {
			t.Fatal(err)
		}
		for _, m := range page.Entries {
			if seen[m.ID] {
				t.Fatalf("id %s yielded twice", m.ID)
			}
			seen[m.ID] = true
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}
	if len(seen) != n {
		t.Fatalf("expected to visit %d distinct ids, got %d", n, len(seen))
	}
}

func TestResolveDependenciesWalksDAG(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	a := newTestEntry(t, "doc1_d_0_a", "doc1", 1, nil)
	b := newTestEntry(t, "doc1_d_0_b", "doc1", 2, []string{a.ID})
	c := newTestEntry(t, "doc1_d_0_c", "doc1", 3, []string{b.ID})
	if err := s.PutEntries(ctx, []Entry{a, b, c}); err != nil {
		t.Fatal(err)
	}

	deps, err := s.ResolveDependencies(ctx, c.ID, ResolveOptions{Transitive: true})
	if err != nil {
		t.Fatal(err)
	}
	found := map[string]bool{}
	for _, d := range deps {
		found[d] = true
	}
	if !found[a.ID] || !found[b.ID] {
		t.Fatalf("expected transitive closure to include a and b, got %v", deps)
	}
}

func TestGetEntriesDropsMissingIDs(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	e := newTestEntry(t, "doc1_d_0_a", "doc1", 1, nil)
	if err := s.PutEntries(ctx, []Entry{e}); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetEntries(ctx, []string{e.ID, "does-not-exist"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != e.ID {
		t.Fatalf("expected exactly the one present entry, got %v", got)
	}
}

func TestGetIDBloomSummaryCardinality(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	for i := 0; i < 10; i++ {
		e := newTestEntry(t, "doc1_d_0_"+string(rune('a'+i)), "doc1", int64(i), nil)
		if err := s.PutEntries(ctx, []Entry{e}); err != nil {
			t.Fatal(err)
		}
	}
	summary, err := s.GetIDBloomSummary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Cardinality != 10 {
		t.Fatalf("expected cardinality 10, got %d", summary.Cardinality)
	}
}
