package document

import (
	"context"
	"testing"

	"github.com/amaydixit11/mindoo/internal/document/lwwcrdt"
	"github.com/amaydixit11/mindoo/internal/errkind"
	"github.com/amaydixit11/mindoo/internal/store"
)

// fakeCrypto is a no-op stand-in for Tenant's crypto routing, good enough
// to exercise Engine's encrypt-then-sign sequencing without real keys.
type fakeCrypto struct {
	pub     string
	isAdmin bool
}

func (f *fakeCrypto) Encrypt(keyID string, plaintext, aad []byte) ([]byte, error) {
	out := append([]byte(nil), plaintext...)
	return out, nil
}

func (f *fakeCrypto) Decrypt(keyID string, ciphertext, aad []byte) ([]byte, error) {
	return append([]byte(nil), ciphertext...), nil
}

func (f *fakeCrypto) Sign(data []byte) []byte { return []byte("sig-of-" + f.pub) }

func (f *fakeCrypto) Verify(pub string, data, sig []byte) bool {
	return string(sig) == "sig-of-"+pub
}

func (f *fakeCrypto) SigningPublicKeyPEM() string { return f.pub }

func (f *fakeCrypto) IsAdminKey(pub string) bool { return f.isAdmin }

func newTestEngine(t *testing.T) (*Engine, *store.SQLiteStore) {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	e := New(s, lwwcrdt.NewProvider("tester"), &fakeCrypto{pub: "pem-tester", isAdmin: true}, DefaultConfig())
	return e, s
}

func TestCreateAndLoadDocumentRoundTrip(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	docID, err := e.CreateDocument(ctx, func(d map[string]any) {
		d["title"] = "hello"
	}, "default")
	if err != nil {
		t.Fatal(err)
	}

	view, err := e.GetDocument(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	if view["title"] != "hello" {
		t.Fatalf("unexpected view: %+v", view)
	}

	// Force a fresh load from the store to check the snapshot-less path.
	delete(e.docs, docID)
	view2, err := e.GetDocument(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	if view2["title"] != "hello" {
		t.Fatalf("unexpected reloaded view: %+v", view2)
	}
}

func TestChangeDocPersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	docID, err := e.CreateDocument(ctx, func(d map[string]any) { d["count"] = 0 }, "default")
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 3; i++ {
		n := i
		if err := e.ChangeDoc(ctx, docID, func(d map[string]any) { d["count"] = n }); err != nil {
			t.Fatal(err)
		}
	}

	delete(e.docs, docID)
	view, err := e.GetDocument(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	f, ok := view["count"].(float64)
	if !ok || f != 3 {
		t.Fatalf("expected count=3 after reload, got %+v", view["count"])
	}
}

func TestDeleteDocumentMarksDeleted(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	docID, err := e.CreateDocument(ctx, func(d map[string]any) { d["x"] = 1 }, "default")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.DeleteDocument(ctx, docID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.GetDocument(ctx, docID); err == nil {
		t.Fatal("expected AlreadyDeleted error reading a deleted document")
	}

	delete(e.docs, docID)
	if _, err := e.GetDocument(ctx, docID); err == nil {
		t.Fatal("expected AlreadyDeleted error after reload too")
	}
}

func TestProcessChangesSinceOrdersByLastModified(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	var docIDs []string
	for i := 0; i < 5; i++ {
		id, err := e.CreateDocument(ctx, func(d map[string]any) { d["n"] = i }, "default")
		if err != nil {
			t.Fatal(err)
		}
		docIDs = append(docIDs, id)
	}

	seen := map[string]bool{}
	cursor := Cursor{}
	err := e.IterateChangesSince(cursor, 2, func(docID string, deleted bool) {
		seen[docID] = true
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range docIDs {
		if !seen[id] {
			t.Fatalf("expected IterateChangesSince to visit %s", id)
		}
	}
}

func TestAdminOnlyRejectsNonAdminWriter(t *testing.T) {
	ctx := context.Background()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	e := New(s, lwwcrdt.NewProvider("tester"), &fakeCrypto{pub: "pem-nonadmin", isAdmin: false}, Config{AdminOnly: true})

	if _, err := e.CreateDocument(ctx, func(d map[string]any) { d["x"] = 1 }, "default"); err == nil {
		t.Fatal("expected AdminOnly rejection for non-admin writer")
	}
}

func TestPullChangesFromTransfersMissingEntries(t *testing.T) {
	ctx := context.Background()
	src, srcStore := newTestEngine(t)
	dst, dstStore := newTestEngine(t)

	docID, err := src.CreateDocument(ctx, func(d map[string]any) { d["title"] = "shared" }, "default")
	if err != nil {
		t.Fatal(err)
	}

	if err := dst.PullChangesFrom(ctx, srcStore); err != nil {
		t.Fatal(err)
	}
	_ = dstStore

	view, err := dst.GetDocument(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	if view["title"] != "shared" {
		t.Fatalf("unexpected pulled view: %+v", view)
	}
}

func TestPullChangesFromRefusesIncompatibleStoreIDs(t *testing.T) {
	ctx := context.Background()
	src, srcStore := newTestEngine(t)
	dst, dstStore := newTestEngine(t)

	if err := srcStore.SetStoreID(ctx, "todos"); err != nil {
		t.Fatal(err)
	}
	if err := dstStore.SetStoreID(ctx, "contacts"); err != nil {
		t.Fatal(err)
	}

	if _, err := src.CreateDocument(ctx, func(d map[string]any) { d["title"] = "shared" }, "default"); err != nil {
		t.Fatal(err)
	}

	err := dst.PullChangesFrom(ctx, srcStore)
	if err == nil {
		t.Fatal("expected IncompatibleStore when store ids differ")
	}
	if errkind.Of(err) != errkind.IncompatibleStore {
		t.Fatalf("expected IncompatibleStore, got %v", err)
	}
}
