package idcodec

import (
	"testing"

	"github.com/google/uuid"
)

func TestDepsFingerprintEmpty(t *testing.T) {
	if got := DepsFingerprint(nil); got != "0" {
		t.Fatalf("expected \"0\", got %q", got)
	}
}

func TestDepsFingerprintOrderIndependent(t *testing.T) {
	a := DepsFingerprint([]string{"aaa", "bbb"})
	b := DepsFingerprint([]string{"bbb", "aaa"})
	if a != b {
		t.Fatalf("fingerprint should be order-independent: %q != %q", a, b)
	}
	if len(a) != 8 {
		t.Fatalf("expected 8 hex chars, got %d (%q)", len(a), a)
	}
}

func TestDocEntryIDRoundTrip(t *testing.T) {
	docID, err := NewDocID()
	if err != nil {
		t.Fatal(err)
	}
	id := DocEntryID(docID, "deadbeef", []string{"h1", "h2"})
	gotDoc, gotFp, gotHash, err := ParseDocEntryID(id)
	if err != nil {
		t.Fatal(err)
	}
	if gotDoc != docID || gotHash != "deadbeef" {
		t.Fatalf("round trip mismatch: doc=%s hash=%s", gotDoc, gotHash)
	}
	if gotFp != DepsFingerprint([]string{"h1", "h2"}) {
		t.Fatalf("fingerprint mismatch: %s", gotFp)
	}
}

func TestDocEntryIDNoDeps(t *testing.T) {
	docID, _ := NewDocID()
	id := DocEntryID(docID, "abc123", nil)
	_, fp, _, err := ParseDocEntryID(id)
	if err != nil {
		t.Fatal(err)
	}
	if fp != "0" {
		t.Fatalf("expected fp 0 for no deps, got %s", fp)
	}
}

func TestParseDocEntryIDRejectsMalformed(t *testing.T) {
	if _, _, _, err := ParseDocEntryID("not-an-entry-id"); err == nil {
		t.Fatal("expected error for malformed id")
	}
}

func TestAttachmentChunkIDRoundTrip(t *testing.T) {
	docID, _ := NewDocID()
	fileUUID := uuid.New()
	id, err := AttachmentChunkID(docID, fileUUID, uuid.Nil)
	if err != nil {
		t.Fatal(err)
	}
	gotDoc, gotFile, _, err := ParseAttachmentChunkID(id)
	if err != nil {
		t.Fatal(err)
	}
	if gotDoc != docID || gotFile != fileUUID {
		t.Fatalf("round trip mismatch: doc=%s file=%s", gotDoc, gotFile)
	}
}

func TestAttachmentChunkIDStableChunk(t *testing.T) {
	docID, _ := NewDocID()
	fileUUID := uuid.New()
	chunkUUID := uuid.New()
	id, err := AttachmentChunkID(docID, fileUUID, chunkUUID)
	if err != nil {
		t.Fatal(err)
	}
	_, _, gotChunk, err := ParseAttachmentChunkID(id)
	if err != nil {
		t.Fatal(err)
	}
	if gotChunk != chunkUUID {
		t.Fatalf("expected chunk uuid %s, got %s", chunkUUID, gotChunk)
	}
}
