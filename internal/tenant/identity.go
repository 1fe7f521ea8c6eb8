// Package tenant implements the Tenant: crypto routing (encrypt/decrypt/
// sign/verify), the per-tenant KeyBag, the current user's identity and the
// per-database engine cache, per spec.md §4.5. TenantFactory (factory.go)
// handles tenant/user creation and on-disk tenant discovery.
package tenant

import (
	"crypto/ed25519"
	"crypto/rsa"
	"time"

	mcrypto "github.com/amaydixit11/mindoo/internal/crypto"
	"github.com/amaydixit11/mindoo/internal/errkind"
)

// PublicIdentity is a user's public half, per spec.md §3: {username,
// adminSignatureOverPublics, signingPubKey, encryptionPubKey}.
type PublicIdentity struct {
	Username                  string `json:"username"`
	AdminSignatureOverPublics []byte `json:"adminSignatureOverPublics"`
	SigningPublicKeyPEM       string `json:"signingPubKey"`
	EncryptionPublicKeyPEM    string `json:"encryptionPubKey"`
}

// SignableFields is the fixed, enumerated field list the admin's signature
// over a user's public identity is computed across, per spec.md §3's
// "both sets of signed fields are enumerated".
func (p PublicIdentity) SignableFields() []byte {
	return []byte(p.Username + "|" + p.SigningPublicKeyPEM + "|" + p.EncryptionPublicKeyPEM)
}

// PrivateIdentity adds the password-wrapped private halves of the user's
// keypair. It never leaves the owning process in this form.
type PrivateIdentity struct {
	PublicIdentity
	EncryptedSigningKey    *mcrypto.EncryptedPrivateKey `json:"encryptedSigningKey"`
	EncryptedEncryptionKey *mcrypto.EncryptedPrivateKey `json:"encryptedEncryptionKey"`
}

// GenerateIdentity mints a fresh Ed25519 signing keypair and RSA-2048
// encryption keypair for username, wrapping both private halves under
// password, and signing the public halves with the admin's signing key
// (pass nil for the admin identity itself, which self-signs nothing until
// registered in the directory).
func GenerateIdentity(username string, password []byte, adminSigningKey ed25519.PrivateKey) (*PrivateIdentity, error) {
	signPair, err := mcrypto.GenerateSigningKeyPair()
	if err != nil {
		return nil, err
	}
	rsaPriv, err := mcrypto.GenerateRSAKeyPair()
	if err != nil {
		return nil, err
	}
	signPubPEM, err := mcrypto.EncodeSigningPublicKeyPEM(signPair.Public)
	if err != nil {
		return nil, err
	}
	encPubPEM, err := mcrypto.EncodeRSAPublicKeyPEM(&rsaPriv.PublicKey)
	if err != nil {
		return nil, err
	}

	pub := PublicIdentity{
		Username:               username,
		SigningPublicKeyPEM:    signPubPEM,
		EncryptionPublicKeyPEM: encPubPEM,
	}
	if adminSigningKey != nil {
		pub.AdminSignatureOverPublics = mcrypto.Sign(adminSigningKey, pub.SignableFields())
	}

	encSigning, err := mcrypto.WrapWithPassword(mcrypto.MarshalSigningPrivateKey(signPair.Private), password, mcrypto.MinIterations)
	if err != nil {
		return nil, err
	}
	encSigning.CreatedAt = time.Now().UnixMilli()

	rsaDER, err := mcrypto.MarshalRSAPrivateKey(rsaPriv)
	if err != nil {
		return nil, err
	}
	encEncryption, err := mcrypto.WrapWithPassword(rsaDER, password, mcrypto.MinIterations)
	if err != nil {
		return nil, err
	}
	encEncryption.CreatedAt = time.Now().UnixMilli()

	return &PrivateIdentity{
		PublicIdentity:         pub,
		EncryptedSigningKey:    encSigning,
		EncryptedEncryptionKey: encEncryption,
	}, nil
}

// VerifyAdminSignature checks that the admin's signature over the public
// identity's enumerated fields is valid under adminPub.
func (p PublicIdentity) VerifyAdminSignature(adminPub ed25519.PublicKey) bool {
	if len(p.AdminSignatureOverPublics) == 0 {
		return false
	}
	return mcrypto.Verify(adminPub, p.SignableFields(), p.AdminSignatureOverPublics)
}

// unlockedIdentity holds the decrypted keypair halves once password-unlocked,
// cached in memory for the lifetime of the Tenant. Both halves are decrypted
// eagerly when the tenant is created or opened, not on first use.
type unlockedIdentity struct {
	signingPriv ed25519.PrivateKey
	rsaPriv     *rsa.PrivateKey
}

// unlock decrypts id's private halves under password.
func unlock(id *PrivateIdentity, password []byte) (*unlockedIdentity, error) {
	seed, err := mcrypto.UnwrapWithPassword(id.EncryptedSigningKey, password)
	if err != nil {
		return nil, errkind.Wrap(errkind.CryptoFailure, "unwrap signing key", err)
	}
	signingPriv, err := mcrypto.UnmarshalSigningPrivateKey(seed)
	if err != nil {
		return nil, err
	}
	rsaDER, err := mcrypto.UnwrapWithPassword(id.EncryptedEncryptionKey, password)
	if err != nil {
		return nil, errkind.Wrap(errkind.CryptoFailure, "unwrap encryption key", err)
	}
	rsaPriv, err := mcrypto.UnmarshalRSAPrivateKey(rsaDER)
	if err != nil {
		return nil, err
	}
	return &unlockedIdentity{signingPriv: signingPriv, rsaPriv: rsaPriv}, nil
}
