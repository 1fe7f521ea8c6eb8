package tenant

import (
	"context"
	"testing"

	"github.com/amaydixit11/mindoo/internal/document"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	f, err := NewFactory(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestFactoryCreateAndOpen(t *testing.T) {
	f := newTestFactory(t)

	created, err := f.Create("acme", "admin", []byte("admin-pw"))
	if err != nil {
		t.Fatal(err)
	}
	if !created.IsAdmin() {
		t.Fatal("expected the tenant creator to be admin")
	}
	if created.Username() != "admin" {
		t.Fatalf("username = %q, want admin", created.Username())
	}
	if err := created.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := f.Create("acme", "admin2", []byte("x")); err == nil {
		t.Fatal("expected Create to refuse a duplicate tenant id")
	}

	opened, err := f.Open("acme", "admin", []byte("admin-pw"))
	if err != nil {
		t.Fatal(err)
	}
	defer opened.Close()
	if !opened.IsAdmin() {
		t.Fatal("expected the reopened admin to still be admin")
	}

	if _, err := f.Open("acme", "admin", []byte("wrong-pw")); err == nil {
		t.Fatal("expected Open to fail under the wrong password")
	}
}

func TestTenantEncryptDecryptRoundTrip(t *testing.T) {
	f := newTestFactory(t)
	tn, err := f.Create("acme", "admin", []byte("admin-pw"))
	if err != nil {
		t.Fatal(err)
	}
	defer tn.Close()

	ct, err := tn.Encrypt("", []byte("hello"), []byte("aad"))
	if err != nil {
		t.Fatal(err)
	}
	pt, err := tn.Decrypt("", ct, []byte("aad"))
	if err != nil {
		t.Fatal(err)
	}
	if string(pt) != "hello" {
		t.Fatalf("plaintext = %q, want hello", pt)
	}

	if _, err := tn.Encrypt("nonexistent-doc-key", []byte("x"), nil); err == nil {
		t.Fatal("expected Encrypt to fail for an unregistered named key")
	}
}

func TestTenantSignAndVerify(t *testing.T) {
	f := newTestFactory(t)
	tn, err := f.Create("acme", "admin", []byte("admin-pw"))
	if err != nil {
		t.Fatal(err)
	}
	defer tn.Close()

	sig := tn.Sign([]byte("payload"))
	if !tn.Verify(tn.SigningPublicKeyPEM(), []byte("payload"), sig) {
		t.Fatal("expected the admin's own signature to verify")
	}
	if tn.Verify(tn.SigningPublicKeyPEM(), []byte("tampered"), sig) {
		t.Fatal("expected verification to fail over a different payload")
	}
	if !tn.IsAdminKey(tn.SigningPublicKeyPEM()) {
		t.Fatal("expected the creator's key to be recognized as the admin key")
	}
}

func TestTenantOpenDBCachesAndForcesAdminOnlyForDirectory(t *testing.T) {
	f := newTestFactory(t)
	tn, err := f.Create("acme", "admin", []byte("admin-pw"))
	if err != nil {
		t.Fatal(err)
	}
	defer tn.Close()

	ctx := context.Background()
	e1, err := tn.OpenDB(ctx, "notes", document.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	e2, err := tn.OpenDB(ctx, "notes", document.Config{AdminOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if e1 != e2 {
		t.Fatal("expected OpenDB to return the cached engine on the second call")
	}

	dirEngine, err := tn.OpenDB(ctx, DirectoryDBID, document.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if dirEngine != tn.dbs[DirectoryDBID] {
		t.Fatal("expected the directory database to resolve to the tenant's bootstrap engine")
	}
}

func TestNonAdminMemberCannotWriteAdminOnlyDatabase(t *testing.T) {
	f := newTestFactory(t)
	admin, err := f.Create("acme", "admin", []byte("admin-pw"))
	if err != nil {
		t.Fatal(err)
	}
	defer admin.Close()

	member, err := GenerateIdentity("bob", []byte("bob-pw"), admin.unlocked.signingPriv)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.RegisterUserFile("acme", member); err != nil {
		t.Fatal(err)
	}

	bob, err := f.Open("acme", "bob", []byte("bob-pw"))
	if err != nil {
		t.Fatal(err)
	}
	defer bob.Close()

	if bob.IsAdmin() {
		t.Fatal("expected bob not to be the tenant admin")
	}

	ctx := context.Background()
	dirEngine, err := bob.OpenDB(ctx, DirectoryDBID, document.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dirEngine.CreateDocument(ctx, func(d map[string]any) { d["x"] = 1 }, "default"); err == nil {
		t.Fatal("expected a non-admin write to the directory database to be rejected")
	}
}
