package keybag

import (
	"path/filepath"
	"testing"

	mcrypto "github.com/amaydixit11/mindoo/internal/crypto"
)

func TestSetGetRoundTrip(t *testing.T) {
	bag := New(filepath.Join(t.TempDir(), "keybag.bin"))
	encKey, _ := mcrypto.GenerateKey()
	if err := bag.Unlock(encKey); err != nil {
		t.Fatal(err)
	}
	key, err := bag.CreateDocKey("doc-1")
	if err != nil {
		t.Fatal(err)
	}
	got, ok := bag.Get(KindDoc, "doc-1")
	if !ok {
		t.Fatal("expected key to be present")
	}
	if got != key {
		t.Fatal("round trip mismatch")
	}
}

func TestPersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keybag.bin")
	encKey, _ := mcrypto.GenerateKey()

	bag := New(path)
	if err := bag.Unlock(encKey); err != nil {
		t.Fatal(err)
	}
	key, err := bag.CreateTenantKey("default")
	if err != nil {
		t.Fatal(err)
	}
	if err := bag.Persist(); err != nil {
		t.Fatal(err)
	}

	reloaded := New(path)
	if err := reloaded.Unlock(encKey); err != nil {
		t.Fatal(err)
	}
	got, ok := reloaded.Get(KindTenant, "default")
	if !ok || got != key {
		t.Fatal("expected reloaded keybag to contain the persisted key")
	}
}

func TestDecryptAndImportKeyRejectsDefaultID(t *testing.T) {
	bag := New(filepath.Join(t.TempDir(), "keybag.bin"))
	encKey, _ := mcrypto.GenerateKey()
	_ = bag.Unlock(encKey)

	wrapped, err := mcrypto.WrapWithPassword(make([]byte, mcrypto.KeySize), []byte("pw"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := bag.DecryptAndImportKey(DefaultKeyID, wrapped, []byte("pw")); err == nil {
		t.Fatal("expected rejection of reserved id \"default\"")
	}
}
