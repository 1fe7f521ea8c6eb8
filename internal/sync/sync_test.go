package sync

import (
	"context"
	"net/http/httptest"
	"testing"

	mcrypto "github.com/amaydixit11/mindoo/internal/crypto"
	"github.com/amaydixit11/mindoo/internal/document"
	"github.com/amaydixit11/mindoo/internal/errkind"
	"github.com/amaydixit11/mindoo/internal/store"
	"github.com/amaydixit11/mindoo/internal/tenant"
)

func newTestTenant(t *testing.T) *tenant.Tenant {
	t.Helper()
	f, err := tenant.NewFactory(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	tn, err := f.Create("acme", "admin", []byte("admin-pw"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tn.Close() })

	ctx := context.Background()
	id := tn.PublicIdentity()
	if err := tn.Directory().RegisterUser(ctx, tn.Username(), id.SigningPublicKeyPEM, id.EncryptionPublicKeyPEM, 1); err != nil {
		t.Fatal(err)
	}
	return tn
}

func newTestServerAndClient(t *testing.T) (*Server, *Client) {
	t.Helper()
	tn := newTestTenant(t)
	srv := NewServer(tn, []byte("test-jwt-secret"))
	httpSrv := httptest.NewServer(srv)
	t.Cleanup(httpSrv.Close)

	cfg := DefaultClientConfig(httpSrv.URL, tn.TenantID, "notes")
	cl := NewClient(cfg, tn.RSAPrivateKey())

	ctx := context.Background()
	if err := cl.Authenticate(ctx, tn.Username(), func(data []byte) []byte { return tn.Sign(data) }); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	return srv, cl
}

func TestAuthenticateRejectsBadSignature(t *testing.T) {
	tn := newTestTenant(t)
	srv := NewServer(tn, []byte("test-jwt-secret"))
	httpSrv := httptest.NewServer(srv)
	t.Cleanup(httpSrv.Close)

	cfg := DefaultClientConfig(httpSrv.URL, tn.TenantID, "notes")
	cl := NewClient(cfg, tn.RSAPrivateKey())

	err := cl.Authenticate(context.Background(), tn.Username(), func(data []byte) []byte {
		return []byte("not-a-real-signature")
	})
	if err == nil {
		t.Fatal("expected authentication with a bogus signature to fail")
	}
}

func TestAuthenticateRejectsUnknownUser(t *testing.T) {
	tn := newTestTenant(t)
	srv := NewServer(tn, []byte("test-jwt-secret"))
	httpSrv := httptest.NewServer(srv)
	t.Cleanup(httpSrv.Close)

	cfg := DefaultClientConfig(httpSrv.URL, tn.TenantID, "notes")
	cl := NewClient(cfg, tn.RSAPrivateKey())

	err := cl.Authenticate(context.Background(), "nobody", func(data []byte) []byte { return tn.Sign(data) })
	if err == nil {
		t.Fatal("expected authentication as an unregistered user to fail")
	}
}

func TestGetCapabilitiesAfterAuth(t *testing.T) {
	_, cl := newTestServerAndClient(t)
	caps := cl.GetCapabilities(context.Background())
	if caps.ProtocolVersion != ProtocolVersion {
		t.Fatalf("protocolVersion = %q, want %q", caps.ProtocolVersion, ProtocolVersion)
	}
	if !caps.CursorScan || !caps.Bloom || !caps.CompactionStatus {
		t.Fatalf("expected full capabilities from a fresh server, got %+v", caps)
	}
}

func TestGetCapabilitiesFallsBackWithoutAuth(t *testing.T) {
	tn := newTestTenant(t)
	srv := NewServer(tn, []byte("test-jwt-secret"))
	httpSrv := httptest.NewServer(srv)
	t.Cleanup(httpSrv.Close)

	cfg := DefaultClientConfig(httpSrv.URL, tn.TenantID, "notes")
	cl := NewClient(cfg, tn.RSAPrivateKey())
	// No Authenticate call: the capabilities endpoint requires a bearer
	// token, so an unauthenticated client must fall back to legacy.
	caps := cl.GetCapabilities(context.Background())
	if caps != LegacyCapabilities {
		t.Fatalf("expected LegacyCapabilities fallback, got %+v", caps)
	}
}

func TestPullServerCreatedEntriesRoundTrip(t *testing.T) {
	srv, cl := newTestServerAndClient(t)
	ctx := context.Background()

	tn := srv.tenant
	eng, err := tn.OpenDB(ctx, "notes", document.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	docID, err := eng.CreateDocument(ctx, func(v map[string]any) { v["title"] = "hello" }, "default")
	if err != nil {
		t.Fatal(err)
	}

	ids, err := eng.Store().GetAllIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) == 0 {
		t.Fatal("expected at least one locally-created entry")
	}

	remoteIDs, err := cl.GetAllIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(remoteIDs) != len(ids) {
		t.Fatalf("getAllIds returned %d ids, want %d", len(remoteIDs), len(ids))
	}

	entries, err := cl.GetEntries(ctx, remoteIDs)
	if err != nil {
		t.Fatalf("getEntries: %v", err)
	}
	if len(entries) != len(remoteIDs) {
		t.Fatalf("got %d entries, want %d", len(entries), len(remoteIDs))
	}
	found := false
	for _, e := range entries {
		if e.DocID == docID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the created document's entry among getEntries results")
	}

	have, err := cl.HasEntries(ctx, remoteIDs)
	if err != nil {
		t.Fatal(err)
	}
	if len(have) != len(remoteIDs) {
		t.Fatalf("hasEntries: got %d, want %d", len(have), len(remoteIDs))
	}
}

func TestPutEntriesRejectsUntrustedAuthor(t *testing.T) {
	_, cl := newTestServerAndClient(t)
	ctx := context.Background()

	// An entry signed by a key the directory has never seen must be
	// rejected outright, not silently stored.
	stranger, err := mcrypto.GenerateSigningKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	strangerPub, err := mcrypto.EncodeSigningPublicKeyPEM(stranger.Public)
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte("forged-ciphertext")
	forged := store.Entry{
		EntryType:          store.TypeDocCreate,
		ID:                 "forged-id",
		ContentHash:        mcrypto.ContentHash(plaintext),
		DocID:              "forged-doc",
		CreatedAt:          1,
		CreatedByPublicKey: strangerPub,
		EncryptedData:      plaintext,
		Signature:          mcrypto.Sign(stranger.Private, plaintext),
	}

	err = cl.PutEntries(ctx, []store.Entry{forged})
	if err == nil {
		t.Fatal("expected putEntries to reject an entry from an untrusted author")
	}
	if errkind.Of(err) != errkind.InvalidSignature {
		t.Fatalf("error kind = %v, want InvalidSignature", errkind.Of(err))
	}
}
