package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"

	"github.com/amaydixit11/mindoo/internal/errkind"
)

// RSAKeySize is the modulus size used for network-level re-wrapping.
const RSAKeySize = 2048

// GenerateRSAKeyPair returns a fresh RSA keypair for OAEP wrapping.
func GenerateRSAKeyPair() (*rsa.PrivateKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, RSAKeySize)
	if err != nil {
		return nil, errkind.Wrap(errkind.CryptoFailure, "generate rsa keypair", err)
	}
	return priv, nil
}

// RSAWrap encrypts plaintext with RSA-OAEP(SHA-256) under pub. It can only
// carry short payloads; RSAWrapHybrid uses it to wrap the per-payload AES
// key that seals an entry's ciphertext on getEntries.
func RSAWrap(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.CryptoFailure, "rsa-oaep wrap", err)
	}
	return ct, nil
}

// RSAUnwrap reverses RSAWrap.
func RSAUnwrap(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.CryptoFailure, "rsa-oaep unwrap", err)
	}
	return pt, nil
}

// RSAWrapHybrid hybrid-encrypts plaintext for pub: RSA-OAEP(SHA-256) over a
// raw 2048-bit modulus only carries ~190 bytes directly, far short of a
// StoreEntry's AES-GCM ciphertext (a CRDT change, or a 256 KiB
// attachment_chunk). A fresh AES-256 key seals plaintext instead, and only
// that key is wrapped with RSA-OAEP, used by the sync server's getEntries
// re-wrap (spec.md §4.7).
func RSAWrapHybrid(pub *rsa.PublicKey, plaintext []byte) (wrappedKey, payload []byte, err error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, nil, err
	}
	payload, err = Encrypt(key, plaintext, nil)
	if err != nil {
		return nil, nil, err
	}
	wrappedKey, err = RSAWrap(pub, key[:])
	if err != nil {
		return nil, nil, err
	}
	return wrappedKey, payload, nil
}

// RSAUnwrapHybrid reverses RSAWrapHybrid.
func RSAUnwrapHybrid(priv *rsa.PrivateKey, wrappedKey, payload []byte) ([]byte, error) {
	keyBytes, err := RSAUnwrap(priv, wrappedKey)
	if err != nil {
		return nil, err
	}
	if len(keyBytes) != KeySize {
		return nil, errkind.New(errkind.CryptoFailure, "unwrapped key has wrong size")
	}
	var key Key
	copy(key[:], keyBytes)
	return Decrypt(key, payload, nil)
}

// EncodeRSAPublicKeyPEM renders an RSA public key as PEM for directory storage.
func EncodeRSAPublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", errkind.Wrap(errkind.CryptoFailure, "marshal rsa public key", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// DecodeRSAPublicKeyPEM is the inverse of EncodeRSAPublicKeyPEM.
func DecodeRSAPublicKeyPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errkind.New(errkind.InvalidInput, "invalid PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidInput, "parse rsa public key", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errkind.New(errkind.InvalidInput, "not an RSA public key")
	}
	return rsaPub, nil
}

// MarshalRSAPrivateKey renders priv as PKCS8 DER, the plaintext sealed
// inside an EncryptedPrivateKey wrapper before it ever touches disk.
func MarshalRSAPrivateKey(priv *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, errkind.Wrap(errkind.CryptoFailure, "marshal rsa private key", err)
	}
	return der, nil
}

// UnmarshalRSAPrivateKey is the inverse of MarshalRSAPrivateKey.
func UnmarshalRSAPrivateKey(der []byte) (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, errkind.Wrap(errkind.CryptoFailure, "parse rsa private key", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errkind.New(errkind.CryptoFailure, "not an RSA private key")
	}
	return rsaKey, nil
}
