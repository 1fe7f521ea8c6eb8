// Package keybag holds the decrypted symmetric keys a user currently has
// access to, indexed by (kind, id), and persists the whole map as one
// AES-GCM blob encrypted under the owner's encryption key.
package keybag

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	mcrypto "github.com/amaydixit11/mindoo/internal/crypto"
	"github.com/amaydixit11/mindoo/internal/errkind"
)

// Kind namespaces a key within the bag.
type Kind string

const (
	KindDoc    Kind = "doc"
	KindTenant Kind = "tenant"
)

// DefaultKeyID is reserved: it always names the tenant's own default key and
// cannot be imported as a named key.
const DefaultKeyID = "default"

type keyEntry struct {
	RawKey    mcrypto.Key `json:"rawKey"`
	CreatedAt int64       `json:"createdAt"`
}

type entryKey struct {
	Kind Kind
	ID   string
}

// KeyBag is the in-memory, lock-guarded (kind,id)->key map plus its
// at-rest persistence path. Reads take the read lock, including reads of
// keys already decrypted into the process, so no read is lock-free;
// mutations take the writer lock and trigger asynchronous persistence.
type KeyBag struct {
	mu       sync.RWMutex
	keys     map[entryKey]keyEntry
	path     string
	encKey   mcrypto.Key
	hasEncKey bool
}

// New constructs an empty KeyBag backed by path, not yet unlocked.
func New(path string) *KeyBag {
	return &KeyBag{keys: make(map[entryKey]keyEntry), path: path}
}

// Unlock sets the key used to encrypt/decrypt the persisted blob and loads
// it from disk if present.
func (b *KeyBag) Unlock(encKey mcrypto.Key) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.encKey = encKey
	b.hasEncKey = true
	return b.loadLocked()
}

func (b *KeyBag) loadLocked() error {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errkind.Wrap(errkind.StoreCorruption, "read keybag", err)
	}
	plaintext, err := mcrypto.Decrypt(b.encKey, data, nil)
	if err != nil {
		return errkind.Wrap(errkind.CryptoFailure, "decrypt keybag", err)
	}
	var wire []wireEntry
	if err := json.Unmarshal(plaintext, &wire); err != nil {
		return errkind.Wrap(errkind.StoreCorruption, "unmarshal keybag", err)
	}
	keys := make(map[entryKey]keyEntry, len(wire))
	for _, w := range wire {
		keys[entryKey{Kind(w.Kind), w.ID}] = keyEntry{RawKey: w.RawKey, CreatedAt: w.CreatedAt}
	}
	b.keys = keys
	return nil
}

type wireEntry struct {
	Kind      string      `json:"kind"`
	ID        string      `json:"id"`
	RawKey    mcrypto.Key `json:"rawKey"`
	CreatedAt int64       `json:"createdAt"`
}

// persistLocked serializes the map and writes it under b.mu already held.
func (b *KeyBag) persistLocked() error {
	wire := make([]wireEntry, 0, len(b.keys))
	for k, v := range b.keys {
		wire = append(wire, wireEntry{Kind: string(k.Kind), ID: k.ID, RawKey: v.RawKey, CreatedAt: v.CreatedAt})
	}
	plaintext, err := json.Marshal(wire)
	if err != nil {
		return errkind.Wrap(errkind.StoreCorruption, "marshal keybag", err)
	}
	blob, err := mcrypto.Encrypt(b.encKey, plaintext, nil)
	if err != nil {
		return errkind.Wrap(errkind.CryptoFailure, "encrypt keybag", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0700); err != nil {
		return errkind.Wrap(errkind.StoreCorruption, "mkdir keybag dir", err)
	}
	return os.WriteFile(b.path, blob, 0600)
}

// Persist writes the current map to disk now, synchronously.
func (b *KeyBag) Persist() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.persistLocked()
}

// persistAsync triggers persistence without blocking the caller, matching
// spec.md §5's "mutations ... trigger asynchronous persistence" policy.
// Errors are swallowed here; callers needing a guarantee use Persist.
func (b *KeyBag) persistAsync() {
	go func() {
		_ = b.Persist()
	}()
}

// Set installs rawKey under (kind,id), overwriting any prior value.
func (b *KeyBag) Set(kind Kind, id string, rawKey mcrypto.Key, createdAt time.Time) {
	b.mu.Lock()
	b.keys[entryKey{kind, id}] = keyEntry{RawKey: rawKey, CreatedAt: createdAt.UnixMilli()}
	b.mu.Unlock()
	b.persistAsync()
}

// Get resolves (kind,id); ok is false if absent.
func (b *KeyBag) Get(kind Kind, id string) (mcrypto.Key, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.keys[entryKey{kind, id}]
	return e.RawKey, ok
}

// ListKeys returns a snapshot of every (kind,id) currently held.
func (b *KeyBag) ListKeys() []struct {
	Kind Kind
	ID   string
} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]struct {
		Kind Kind
		ID   string
	}, 0, len(b.keys))
	for k := range b.keys {
		out = append(out, struct {
			Kind Kind
			ID   string
		}{k.Kind, k.ID})
	}
	return out
}

// CreateDocKey generates and installs a fresh document key under (doc,id).
func (b *KeyBag) CreateDocKey(id string) (mcrypto.Key, error) {
	key, err := mcrypto.GenerateKey()
	if err != nil {
		return mcrypto.Key{}, err
	}
	b.Set(KindDoc, id, key, time.Now())
	return key, nil
}

// CreateTenantKey generates and installs the tenant's default symmetric key.
func (b *KeyBag) CreateTenantKey(id string) (mcrypto.Key, error) {
	key, err := mcrypto.GenerateKey()
	if err != nil {
		return mcrypto.Key{}, err
	}
	b.Set(KindTenant, id, key, time.Now())
	return key, nil
}

// DecryptAndImportKey unwraps a PBKDF2-password-wrapped key and installs it
// under (doc,id). Refuses id == DefaultKeyID, which is reserved for the
// tenant's own key.
func (b *KeyBag) DecryptAndImportKey(id string, wrapped *mcrypto.EncryptedPrivateKey, password []byte) error {
	if id == DefaultKeyID {
		return errkind.New(errkind.InvalidInput, "reserved key id \"default\"")
	}
	raw, err := mcrypto.UnwrapWithPassword(wrapped, password)
	if err != nil {
		return err
	}
	if len(raw) != mcrypto.KeySize {
		return errkind.New(errkind.CryptoFailure, "unwrapped key has wrong size")
	}
	var key mcrypto.Key
	copy(key[:], raw)
	b.Set(KindDoc, id, key, time.Now())
	return nil
}
