package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"

	"github.com/amaydixit11/mindoo/internal/errkind"
)

// SigningKeyPair is an Ed25519 keypair used to sign ciphertext.
type SigningKeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateSigningKeyPair returns a fresh Ed25519 keypair.
func GenerateSigningKeyPair() (*SigningKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errkind.Wrap(errkind.CryptoFailure, "generate signing keypair", err)
	}
	return &SigningKeyPair{Public: pub, Private: priv}, nil
}

// Sign signs data (the ciphertext, per spec.md §3 "signature is Ed25519 over
// encryptedData") with priv.
func Sign(priv ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(priv, data)
}

// Verify checks sig against data under pub.
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// EncodeSigningPublicKeyPEM renders an Ed25519 public key as PEM, matching
// the "createdByPublicKey : PEM Ed25519" field of StoreEntry.
func EncodeSigningPublicKeyPEM(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", errkind.Wrap(errkind.CryptoFailure, "marshal signing public key", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// MarshalSigningPrivateKey renders priv as raw Ed25519 seed bytes, the
// plaintext sealed inside an EncryptedPrivateKey wrapper before it ever
// touches disk.
func MarshalSigningPrivateKey(priv ed25519.PrivateKey) []byte {
	return priv.Seed()
}

// UnmarshalSigningPrivateKey is the inverse of MarshalSigningPrivateKey.
func UnmarshalSigningPrivateKey(seed []byte) (ed25519.PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errkind.New(errkind.CryptoFailure, "invalid ed25519 seed size")
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// DecodeSigningPublicKeyPEM is the inverse of EncodeSigningPublicKeyPEM.
func DecodeSigningPublicKeyPEM(pemStr string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errkind.New(errkind.InvalidInput, "invalid PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidInput, "parse signing public key", err)
	}
	edPub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, errkind.New(errkind.InvalidInput, "not an Ed25519 public key")
	}
	return edPub, nil
}
