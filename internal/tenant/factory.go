package tenant

import (
	"crypto/sha256"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	mcrypto "github.com/amaydixit11/mindoo/internal/crypto"
	"github.com/amaydixit11/mindoo/internal/errkind"
	"github.com/amaydixit11/mindoo/internal/keybag"
)

// Registry is the on-disk list of tenants known under a base directory, one
// JSON file mirrored by an in-memory RWMutex-guarded map — adapted from the
// teacher's internal/vault/manager.Manager (VaultInfo persisted as a single
// vaults.json) generalized from "named vaults" to "named tenants".
type Registry struct {
	baseDir string
	mu      sync.RWMutex
	tenants map[string]Info
}

func registryPath(baseDir string) string {
	return filepath.Join(baseDir, "tenants.json")
}

// NewRegistry loads (or initializes) the tenant registry under baseDir.
func NewRegistry(baseDir string) (*Registry, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, errkind.Wrap(errkind.StoreCorruption, "create tenant base dir", err)
	}
	r := &Registry{baseDir: baseDir, tenants: make(map[string]Info)}
	data, err := os.ReadFile(registryPath(baseDir))
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.StoreCorruption, "read tenant registry", err)
	}
	var list []Info
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, errkind.Wrap(errkind.StoreCorruption, "unmarshal tenant registry", err)
	}
	for _, info := range list {
		r.tenants[info.TenantID] = info
	}
	return r, nil
}

func (r *Registry) saveLocked() error {
	list := make([]Info, 0, len(r.tenants))
	for _, info := range r.tenants {
		list = append(list, info)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return errkind.Wrap(errkind.StoreCorruption, "marshal tenant registry", err)
	}
	return os.WriteFile(registryPath(r.baseDir), data, 0600)
}

// List returns every tenant this registry knows about.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.tenants))
	for _, info := range r.tenants {
		out = append(out, info)
	}
	return out
}

// Get resolves tenantID to its Info.
func (r *Registry) Get(tenantID string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.tenants[tenantID]
	return info, ok
}

func (r *Registry) register(info Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tenants[info.TenantID]; exists {
		return errkind.New(errkind.InvalidInput, "tenant already exists: "+info.TenantID)
	}
	r.tenants[info.TenantID] = info
	return r.saveLocked()
}

// Factory constructs and opens Tenants rooted under a base directory, one
// subdirectory per tenant (dataDir/<tenantId>/{tenant.json,keybag.bin,
// users/,dbs/}).
type Factory struct {
	baseDir  string
	Registry *Registry
}

// NewFactory opens (initializing if absent) a Factory rooted at baseDir.
func NewFactory(baseDir string) (*Factory, error) {
	reg, err := NewRegistry(baseDir)
	if err != nil {
		return nil, err
	}
	return &Factory{baseDir: baseDir, Registry: reg}, nil
}

func (f *Factory) tenantDir(tenantID string) string {
	return filepath.Join(f.baseDir, tenantID)
}

func (f *Factory) infoPath(tenantID string) string {
	return filepath.Join(f.tenantDir(tenantID), "tenant.json")
}

func (f *Factory) userPath(tenantID, username string) string {
	return filepath.Join(f.tenantDir(tenantID), "users", username+".json")
}

func (f *Factory) keybagPath(tenantID string) string {
	return filepath.Join(f.tenantDir(tenantID), "keybag.bin")
}

// deriveKeyBagKey derives the KeyBag's at-rest encryption key from the
// owner's RSA encryption private key, per spec.md §4.5 ("derived from the
// owner's encryption private key"). Deterministic: the same private key
// always re-derives the same KeyBag key, so Open never needs to persist it
// separately.
func deriveKeyBagKey(priv *unlockedIdentity) (mcrypto.Key, error) {
	der, err := mcrypto.MarshalRSAPrivateKey(priv.rsaPriv)
	if err != nil {
		return mcrypto.Key{}, err
	}
	return sha256.Sum256(der), nil
}

// Create provisions a brand-new tenant: generates the admin identity,
// writes tenant metadata, and mints the tenant's default symmetric key.
func (f *Factory) Create(tenantID, adminUsername string, adminPassword []byte) (*Tenant, error) {
	if _, exists := f.Registry.Get(tenantID); exists {
		return nil, errkind.New(errkind.InvalidInput, "tenant already exists: "+tenantID)
	}
	admin, err := GenerateIdentity(adminUsername, adminPassword, nil)
	if err != nil {
		return nil, err
	}

	dir := f.tenantDir(tenantID)
	for _, sub := range []string{"dbs", "users"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0700); err != nil {
			return nil, errkind.Wrap(errkind.StoreCorruption, "create tenant directory", err)
		}
	}

	info := Info{
		TenantID:                 tenantID,
		AdminSigningPublicKeyPEM: admin.SigningPublicKeyPEM,
		AdminEncryptionPublicKeyPEM: admin.EncryptionPublicKeyPEM,
	}
	if err := writeJSON(f.infoPath(tenantID), info); err != nil {
		return nil, err
	}
	if err := writeJSON(f.userPath(tenantID, adminUsername), admin); err != nil {
		return nil, err
	}

	unlocked, err := unlock(admin, adminPassword)
	if err != nil {
		return nil, err
	}
	keyBagKey, err := deriveKeyBagKey(unlocked)
	if err != nil {
		return nil, err
	}
	keys := keybag.New(f.keybagPath(tenantID))
	if err := keys.Unlock(keyBagKey); err != nil {
		return nil, err
	}
	if _, err := keys.CreateTenantKey(keybag.DefaultKeyID); err != nil {
		return nil, err
	}

	t, err := open(info, dir, admin, unlocked, keys)
	if err != nil {
		return nil, err
	}
	if err := f.Registry.register(info); err != nil {
		return nil, err
	}
	return t, nil
}

// Open unlocks an existing tenant as username.
func (f *Factory) Open(tenantID, username string, password []byte) (*Tenant, error) {
	info, ok := f.Registry.Get(tenantID)
	if !ok {
		return nil, errkind.New(errkind.NotFound, "unknown tenant: "+tenantID)
	}
	var id PrivateIdentity
	if err := readJSON(f.userPath(tenantID, username), &id); err != nil {
		return nil, err
	}
	unlocked, err := unlock(&id, password)
	if err != nil {
		return nil, err
	}
	keyBagKey, err := deriveKeyBagKey(unlocked)
	if err != nil {
		return nil, err
	}
	keys := keybag.New(f.keybagPath(tenantID))
	if err := keys.Unlock(keyBagKey); err != nil {
		return nil, err
	}
	return open(info, f.tenantDir(tenantID), &id, unlocked, keys)
}

// RegisterUserFile persists a newly joined (non-admin) user's private
// identity under the tenant's users/ directory so Open can load it.
// internal/join does not call it; JoinExisting writes the file itself.
func (f *Factory) RegisterUserFile(tenantID string, id *PrivateIdentity) error {
	return writeJSON(f.userPath(tenantID, id.Username), id)
}

// JoinExisting provisions the local on-disk layout for a tenant this process
// did not create — info and id come from a join.Response and the requester's
// own already-generated identity — then opens it. Used by internal/join's
// joinTenant once the share-password-wrapped keys have been unwrapped and are
// ready to install into the fresh KeyBag.
func (f *Factory) JoinExisting(info Info, id *PrivateIdentity, password []byte) (*Tenant, error) {
	if _, exists := f.Registry.Get(info.TenantID); exists {
		return nil, errkind.New(errkind.InvalidInput, "tenant already exists: "+info.TenantID)
	}
	dir := f.tenantDir(info.TenantID)
	for _, sub := range []string{"dbs", "users"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0700); err != nil {
			return nil, errkind.Wrap(errkind.StoreCorruption, "create tenant directory", err)
		}
	}
	if err := writeJSON(f.infoPath(info.TenantID), info); err != nil {
		return nil, err
	}
	if err := writeJSON(f.userPath(info.TenantID, id.Username), id); err != nil {
		return nil, err
	}

	unlocked, err := unlock(id, password)
	if err != nil {
		return nil, err
	}
	keyBagKey, err := deriveKeyBagKey(unlocked)
	if err != nil {
		return nil, err
	}
	keys := keybag.New(f.keybagPath(info.TenantID))
	if err := keys.Unlock(keyBagKey); err != nil {
		return nil, err
	}

	t, err := open(info, dir, id, unlocked, keys)
	if err != nil {
		return nil, err
	}
	if err := f.Registry.register(info); err != nil {
		return nil, err
	}
	return t, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errkind.Wrap(errkind.StoreCorruption, "marshal "+path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errkind.Wrap(errkind.StoreCorruption, "mkdir for "+path, err)
	}
	return os.WriteFile(path, data, 0600)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return errkind.New(errkind.NotFound, "no such file: "+path)
	}
	if err != nil {
		return errkind.Wrap(errkind.StoreCorruption, "read "+path, err)
	}
	return json.Unmarshal(data, v)
}
