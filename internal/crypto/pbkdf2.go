package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/pbkdf2"
	"crypto/sha256"

	"github.com/amaydixit11/mindoo/internal/errkind"
)

// MinIterations is the floor spec.md §3 mandates for PBKDF2 wrappers.
const MinIterations = 100_000

// SaltSize is the salt length used by DeriveKey/EncryptedPrivateKey.
const SaltSize = 16

// EncryptedPrivateKey is the uniform PBKDF2-SHA256 -> AES-256-GCM wrapper
// used for both symmetric keys and the two halves of a user keypair.
type EncryptedPrivateKey struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	Tag        []byte `json:"tag"`
	Salt       []byte `json:"salt"`
	Iterations int    `json:"iterations"`
	CreatedAt  int64  `json:"createdAt,omitempty"`
}

// deriveKey runs PBKDF2-SHA256 over password with the given salt/iterations.
func deriveKey(password []byte, salt []byte, iterations int) Key {
	raw := pbkdf2.Key(password, salt, iterations, KeySize, sha256.New)
	var k Key
	copy(k[:], raw)
	return k
}

// WrapWithPassword encrypts plaintext under a PBKDF2-SHA256-derived key and
// returns the uniform wrapper struct. iterations below MinIterations are
// raised to MinIterations.
func WrapWithPassword(plaintext, password []byte, iterations int) (*EncryptedPrivateKey, error) {
	if iterations < MinIterations {
		iterations = MinIterations
	}
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, errkind.Wrap(errkind.CryptoFailure, "generate salt", err)
	}
	key := deriveKey(password, salt, iterations)
	sealed, err := Encrypt(key, plaintext, nil)
	if err != nil {
		return nil, err
	}
	// Encrypt returns iv||ct||tag; split back out to the wrapper's explicit fields.
	iv := sealed[:IVSize]
	ctAndTag := sealed[IVSize:]
	ct := ctAndTag[:len(ctAndTag)-TagSize]
	tag := ctAndTag[len(ctAndTag)-TagSize:]
	return &EncryptedPrivateKey{
		Ciphertext: ct,
		IV:         iv,
		Tag:        tag,
		Salt:       salt,
		Iterations: iterations,
	}, nil
}

// UnwrapWithPassword reverses WrapWithPassword.
func UnwrapWithPassword(wrapped *EncryptedPrivateKey, password []byte) ([]byte, error) {
	key := deriveKey(password, wrapped.Salt, wrapped.Iterations)
	sealed := make([]byte, 0, len(wrapped.IV)+len(wrapped.Ciphertext)+len(wrapped.Tag))
	sealed = append(sealed, wrapped.IV...)
	sealed = append(sealed, wrapped.Ciphertext...)
	sealed = append(sealed, wrapped.Tag...)
	pt, err := Decrypt(key, sealed, nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.CryptoFailure, "unwrap with password", err)
	}
	return pt, nil
}
