// Package crypto implements the primitives mindoo's trust pipeline is built
// on: AES-256-GCM symmetric encryption, Ed25519 signing, RSA-OAEP network
// wrapping, PBKDF2-SHA256 password-based key wrapping and SHA-256 content
// hashing. Every wire-visible layout here (iv||ciphertext||tag, the
// password-wrapper fields) is bit-exact per the protocol the rest of the
// system interoperates over.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/amaydixit11/mindoo/internal/errkind"
)

const (
	// KeySize is the AES-256 key size in bytes.
	KeySize = 32
	// IVSize is the GCM nonce size used throughout, 12 bytes per spec.
	IVSize = 12
	// TagSize is the GCM authentication tag size.
	TagSize = 16
)

// Key is a raw AES-256 symmetric key.
type Key [KeySize]byte

// GenerateKey returns a fresh random AES-256 key from the CSPRNG.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, errkind.Wrap(errkind.CryptoFailure, "generate key", err)
	}
	return k, nil
}

func newGCM(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errkind.Wrap(errkind.CryptoFailure, "new cipher", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, errkind.Wrap(errkind.CryptoFailure, "new gcm", err)
	}
	return gcm, nil
}

// Encrypt produces iv||ciphertext||tag under key, binding aad via GCM's
// additional-data channel (the entry id, when encrypting StoreEntry
// payloads, so ciphertext cannot be replayed under a different id).
func Encrypt(key Key, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, errkind.Wrap(errkind.CryptoFailure, "generate iv", err)
	}
	sealed := gcm.Seal(nil, iv, plaintext, aad)
	out := make([]byte, 0, IVSize+len(sealed))
	out = append(out, iv...)
	out = append(out, sealed...)
	return out, nil
}

// Decrypt inverts Encrypt, splitting iv||ciphertext||tag back out of data.
func Decrypt(key Key, data, aad []byte) ([]byte, error) {
	if len(data) < IVSize+TagSize {
		return nil, errkind.New(errkind.CryptoFailure, "ciphertext too short")
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	iv, sealed := data[:IVSize], data[IVSize:]
	plaintext, err := gcm.Open(nil, iv, sealed, aad)
	if err != nil {
		return nil, errkind.Wrap(errkind.CryptoFailure, "decrypt", err)
	}
	return plaintext, nil
}

// String renders a Key as a fixed-width hex string, used only in debug
// logging paths — never persisted or transmitted in this form.
func (k Key) String() string {
	return fmt.Sprintf("%x", k[:4]) + "..."
}
