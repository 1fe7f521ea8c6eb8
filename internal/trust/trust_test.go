package trust

import (
	"context"
	"testing"

	"github.com/amaydixit11/mindoo/internal/document"
	"github.com/amaydixit11/mindoo/internal/document/lwwcrdt"
	"github.com/amaydixit11/mindoo/internal/store"
)

type fakeCrypto struct{ pub string }

func (f *fakeCrypto) Encrypt(keyID string, plaintext, aad []byte) ([]byte, error) {
	return append([]byte(nil), plaintext...), nil
}
func (f *fakeCrypto) Decrypt(keyID string, ciphertext, aad []byte) ([]byte, error) {
	return append([]byte(nil), ciphertext...), nil
}
func (f *fakeCrypto) Sign(data []byte) []byte                    { return []byte("sig-of-" + f.pub) }
func (f *fakeCrypto) Verify(pub string, data, sig []byte) bool   { return string(sig) == "sig-of-"+pub }
func (f *fakeCrypto) SigningPublicKeyPEM() string                { return f.pub }
func (f *fakeCrypto) IsAdminKey(pub string) bool                 { return pub == "pem-admin" }

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	eng := document.New(s, lwwcrdt.NewProvider("admin"), &fakeCrypto{pub: "pem-admin"}, document.Config{AdminOnly: true})
	return New(eng)
}

func TestRegisterAndValidatePublicSigningKey(t *testing.T) {
	ctx := context.Background()
	dir := newTestDirectory(t)

	if err := dir.RegisterUser(ctx, "alice", "pem-alice-1", "pem-alice-enc", 1000); err != nil {
		t.Fatal(err)
	}

	ok, err := dir.ValidatePublicSigningKey(ctx, "pem-alice-1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected pem-alice-1 to be trusted after registration")
	}

	ok, err = dir.ValidatePublicSigningKey(ctx, "pem-unknown")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected an unregistered key to be untrusted")
	}
}

func TestRevokeUserInvalidatesKeys(t *testing.T) {
	ctx := context.Background()
	dir := newTestDirectory(t)

	if err := dir.RegisterUser(ctx, "bob", "pem-bob-1", "pem-bob-enc", 1000); err != nil {
		t.Fatal(err)
	}
	if err := dir.RevokeUser(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	ok, err := dir.ValidatePublicSigningKey(ctx, "pem-bob-1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected revoked user's key to no longer be trusted")
	}
}

func TestRegisterUserAppendsAdditionalKey(t *testing.T) {
	ctx := context.Background()
	dir := newTestDirectory(t)

	if err := dir.RegisterUser(ctx, "carol", "pem-carol-1", "pem-carol-enc", 1000); err != nil {
		t.Fatal(err)
	}
	if err := dir.RegisterUser(ctx, "carol", "pem-carol-2", "pem-carol-enc", 1001); err != nil {
		t.Fatal(err)
	}

	keys, err := dir.GetUserPublicKeys(ctx, "carol")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys for carol, got %v", keys)
	}
}
