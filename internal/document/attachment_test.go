package document

import (
	"bytes"
	"context"
	"testing"

	"github.com/amaydixit11/mindoo/internal/document/lwwcrdt"
	"github.com/amaydixit11/mindoo/internal/store"
)

func TestPutAttachmentChunksAndReassembles(t *testing.T) {
	ctx := context.Background()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	e := New(s, lwwcrdt.NewProvider("tester"), &fakeCrypto{pub: "pem-tester", isAdmin: true}, DefaultConfig())

	docID, err := e.CreateDocument(ctx, func(d map[string]any) { d["name"] = "photo.png" }, "default")
	if err != nil {
		t.Fatal(err)
	}

	data := bytes.Repeat([]byte("x"), AttachmentChunkSize*2+100)
	chunkIDs, err := e.PutAttachment(ctx, docID, data, "default")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunkIDs) != 3 {
		t.Fatalf("expected 3 chunks for 2*size+100 bytes, got %d", len(chunkIDs))
	}

	got, err := e.ReassembleAttachment(ctx, chunkIDs[len(chunkIDs)-1])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("reassembled attachment mismatch: got %d bytes, want %d", len(got), len(data))
	}
}

func TestPutAttachmentEmptyProducesOneChunk(t *testing.T) {
	ctx := context.Background()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	e := New(s, lwwcrdt.NewProvider("tester"), &fakeCrypto{pub: "pem-tester", isAdmin: true}, DefaultConfig())

	docID, err := e.CreateDocument(ctx, func(d map[string]any) { d["name"] = "empty" }, "default")
	if err != nil {
		t.Fatal(err)
	}

	chunkIDs, err := e.PutAttachment(ctx, docID, nil, "default")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunkIDs) != 1 {
		t.Fatalf("expected exactly one chunk for empty data, got %d", len(chunkIDs))
	}
	got, err := e.ReassembleAttachment(ctx, chunkIDs[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty reassembled attachment, got %d bytes", len(got))
	}
}
