package tenant

import (
	"crypto/ed25519"
	"testing"
)

func TestGenerateIdentityAndUnlockRoundTrip(t *testing.T) {
	password := []byte("correct horse battery staple")
	id, err := GenerateIdentity("alice", password, nil)
	if err != nil {
		t.Fatal(err)
	}
	if id.Username != "alice" {
		t.Fatalf("username = %q, want alice", id.Username)
	}
	if len(id.AdminSignatureOverPublics) != 0 {
		t.Fatal("expected no admin signature for a self-generated (admin) identity")
	}

	unlocked, err := unlock(id, password)
	if err != nil {
		t.Fatal(err)
	}
	if unlocked.signingPriv == nil || unlocked.rsaPriv == nil {
		t.Fatal("expected both private halves to unlock")
	}

	if _, err := unlock(id, []byte("wrong password")); err == nil {
		t.Fatal("expected unlock to fail under the wrong password")
	}
}

func TestGenerateIdentitySignedByAdmin(t *testing.T) {
	adminID, err := GenerateIdentity("admin", []byte("admin-pw"), nil)
	if err != nil {
		t.Fatal(err)
	}
	adminUnlocked, err := unlock(adminID, []byte("admin-pw"))
	if err != nil {
		t.Fatal(err)
	}

	memberID, err := GenerateIdentity("bob", []byte("bob-pw"), adminUnlocked.signingPriv)
	if err != nil {
		t.Fatal(err)
	}
	if len(memberID.AdminSignatureOverPublics) == 0 {
		t.Fatal("expected a member identity to carry the admin's signature")
	}
	adminPub := adminUnlocked.signingPriv.Public().(ed25519.PublicKey)
	if !memberID.VerifyAdminSignature(adminPub) {
		t.Fatal("expected the admin's signature over the member's public identity to verify")
	}
	if memberID.VerifyAdminSignature(ed25519.PublicKey(make([]byte, ed25519.PublicKeySize))) {
		t.Fatal("expected verification to fail under an unrelated key")
	}
}
