package tenant

import (
	"context"
	"crypto/ed25519"
	"crypto/rsa"
	"path/filepath"
	"sync"

	mcrypto "github.com/amaydixit11/mindoo/internal/crypto"
	"github.com/amaydixit11/mindoo/internal/document"
	"github.com/amaydixit11/mindoo/internal/document/lwwcrdt"
	"github.com/amaydixit11/mindoo/internal/errkind"
	"github.com/amaydixit11/mindoo/internal/keybag"
	"github.com/amaydixit11/mindoo/internal/store"
	"github.com/amaydixit11/mindoo/internal/trust"
)

// DirectoryDBID is the reserved database id Tenant always opens adminOnly,
// regardless of the caller's requested config, per spec.md §4.5.
const DirectoryDBID = "directory"

// Info is a tenant's immutable public identity: {tenantId,
// adminSigningPublicKey, adminEncryptionPublicKey}. Named keys are not
// listed here; they exist only as entries in the local user's KeyBag.
type Info struct {
	TenantID                 string `json:"tenantId"`
	AdminSigningPublicKeyPEM string `json:"adminSigningPublicKey"`
	AdminEncryptionPublicKeyPEM string `json:"adminEncryptionPublicKey"`
}

// Tenant orchestrates the KeyBag, crypto primitives, the current user's
// identity and a cache of open per-database DocumentEngines, per
// spec.md §4.5. It implements document.CryptoContext, injected into every
// Engine it opens (spec.md §9's "explicit dependency injection of a crypto
// provider").
type Tenant struct {
	Info
	dataDir string

	user     *PrivateIdentity
	unlocked *unlockedIdentity
	adminPub ed25519.PublicKey

	keys *keybag.KeyBag

	mu        sync.Mutex
	dbs       map[string]*document.Engine
	directory *trust.Directory
}

// open wires up a Tenant over an already-unlocked user identity and keybag,
// shared by Create and Open in factory.go.
func open(info Info, dataDir string, user *PrivateIdentity, unlocked *unlockedIdentity, keys *keybag.KeyBag) (*Tenant, error) {
	adminPub, err := mcrypto.DecodeSigningPublicKeyPEM(info.AdminSigningPublicKeyPEM)
	if err != nil {
		return nil, err
	}
	t := &Tenant{
		Info:     info,
		dataDir:  dataDir,
		user:     user,
		unlocked: unlocked,
		adminPub: adminPub,
		keys:     keys,
		dbs:      make(map[string]*document.Engine),
	}
	dirEngine, err := t.openEngine(context.Background(), DirectoryDBID, document.Config{AdminOnly: true})
	if err != nil {
		return nil, err
	}
	t.directory = trust.New(dirEngine)
	t.dbs[DirectoryDBID] = dirEngine
	return t, nil
}

// Username returns the current user's username.
func (t *Tenant) Username() string { return t.user.Username }

// PublicIdentity returns the current user's public identity, including the
// admin's signature over it.
func (t *Tenant) PublicIdentity() PublicIdentity { return t.user.PublicIdentity }

// Directory returns the tenant's trust directory.
func (t *Tenant) Directory() *trust.Directory { return t.directory }

// KeyBag returns the tenant's symmetric key store.
func (t *Tenant) KeyBag() *keybag.KeyBag { return t.keys }

// IsAdmin reports whether the current user is the tenant's admin (the user
// whose signing key equals the tenant's admin signing key).
func (t *Tenant) IsAdmin() bool {
	return t.user.SigningPublicKeyPEM == t.AdminSigningPublicKeyPEM
}

func (t *Tenant) dbPath(dbID string) string {
	return filepath.Join(t.dataDir, "dbs", dbID+".sqlite3")
}

func (t *Tenant) openEngine(ctx context.Context, dbID string, cfg document.Config) (*document.Engine, error) {
	s, err := store.New(t.dbPath(dbID))
	if err != nil {
		return nil, err
	}
	if err := s.SetStoreID(ctx, dbID); err != nil {
		s.Close()
		return nil, err
	}
	provider := lwwcrdt.NewProvider(t.user.SigningPublicKeyPEM)
	return document.New(s, provider, t, cfg), nil
}

// OpenDB returns the cached or freshly constructed DocumentEngine for dbID.
// adminOnly is forced true for dbID == DirectoryDBID regardless of cfg.
func (t *Tenant) OpenDB(ctx context.Context, dbID string, cfg document.Config) (*document.Engine, error) {
	if dbID == DirectoryDBID {
		cfg.AdminOnly = true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.dbs[dbID]; ok {
		return e, nil
	}
	e, err := t.openEngine(ctx, dbID, cfg)
	if err != nil {
		return nil, err
	}
	t.dbs[dbID] = e
	return e, nil
}

// --- document.CryptoContext ---

func (t *Tenant) resolveKey(keyID string) (mcrypto.Key, error) {
	if keyID == "" || keyID == keybag.DefaultKeyID {
		k, ok := t.keys.Get(keybag.KindTenant, keybag.DefaultKeyID)
		if !ok {
			return mcrypto.Key{}, errkind.New(errkind.KeyNotFound, "tenant default key not present in keybag")
		}
		return k, nil
	}
	k, ok := t.keys.Get(keybag.KindDoc, keyID)
	if !ok {
		return mcrypto.Key{}, errkind.New(errkind.KeyNotFound, "named key not present in keybag: "+keyID)
	}
	return k, nil
}

// Encrypt implements document.CryptoContext.
func (t *Tenant) Encrypt(keyID string, plaintext, aad []byte) ([]byte, error) {
	key, err := t.resolveKey(keyID)
	if err != nil {
		return nil, err
	}
	return mcrypto.Encrypt(key, plaintext, aad)
}

// Decrypt implements document.CryptoContext.
func (t *Tenant) Decrypt(keyID string, ciphertext, aad []byte) ([]byte, error) {
	key, err := t.resolveKey(keyID)
	if err != nil {
		return nil, err
	}
	return mcrypto.Decrypt(key, ciphertext, aad)
}

// Sign implements document.CryptoContext: Ed25519 over data with the
// current user's signing key.
func (t *Tenant) Sign(data []byte) []byte {
	return mcrypto.Sign(t.unlocked.signingPriv, data)
}

// Verify implements document.CryptoContext. The admin's own key is always
// trusted (it is the root of trust and must be verifiable before the
// directory database itself can be loaded); any other key must be a
// currently-registered, non-revoked directory entry.
func (t *Tenant) Verify(pub string, data, sig []byte) bool {
	pubKey, err := mcrypto.DecodeSigningPublicKeyPEM(pub)
	if err != nil {
		return false
	}
	if !mcrypto.Verify(pubKey, data, sig) {
		return false
	}
	if pub == t.AdminSigningPublicKeyPEM {
		return true
	}
	if t.directory == nil {
		return false
	}
	ok, err := t.directory.ValidatePublicSigningKey(context.Background(), pub)
	if err != nil {
		return false
	}
	return ok
}

// SigningPublicKeyPEM implements document.CryptoContext.
func (t *Tenant) SigningPublicKeyPEM() string { return t.user.SigningPublicKeyPEM }

// IsAdminKey implements document.CryptoContext.
func (t *Tenant) IsAdminKey(pub string) bool { return pub == t.AdminSigningPublicKeyPEM }

// RSAPublicKey returns the current user's RSA encryption public key. The
// sync server does not use it: it wraps outgoing entries under the caller's
// key as registered in the directory.
func (t *Tenant) RSAPublicKey() (*rsa.PublicKey, error) {
	return mcrypto.DecodeRSAPublicKeyPEM(t.user.EncryptionPublicKeyPEM)
}

// RSAPrivateKey returns the current user's unwrapped RSA private key, used
// to unwrap getEntries responses on the client side of sync.
func (t *Tenant) RSAPrivateKey() *rsa.PrivateKey { return t.unlocked.rsaPriv }

// AddNamedKey decrypts encryptedKey under password and installs it into the
// KeyBag under (doc,id). Refuses id == "default" per spec.md §4.5.
func (t *Tenant) AddNamedKey(id string, encryptedKey *mcrypto.EncryptedPrivateKey, password []byte) error {
	return t.keys.DecryptAndImportKey(id, encryptedKey, password)
}

// Close flushes the KeyBag and releases every open database handle.
func (t *Tenant) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for id, e := range t.dbs {
		if err := e.Store().Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(t.dbs, id)
	}
	if err := t.keys.Persist(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
