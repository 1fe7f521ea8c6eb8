// Package trust implements the Directory: the admin-only database of
// registered users and their trusted signing keys every tenant checks
// incoming entries against, per spec.md §4.5.
package trust

import (
	"context"
	"sync"

	"github.com/amaydixit11/mindoo/internal/document"
	"github.com/amaydixit11/mindoo/internal/errkind"
)

// UserRecord is one registered user's directory entry.
type UserRecord struct {
	DocID                  string   `json:"-"`
	Username               string   `json:"username"`
	PublicKeys             []string `json:"publicKeys"`
	EncryptionPublicKeyPEM string   `json:"encryptionPublicKey"`
	Revoked                bool     `json:"revoked"`
	RegisteredAt           int64    `json:"registeredAt"`
}

// Directory wraps a document.Engine opened with adminOnly=true: every
// write to it must carry the admin's signature, so a forged grant can
// never be smuggled in through sync. Adapted from the teacher's
// internal/acl/store.go (permission-check cache, CheckRead/CheckWrite/
// CheckAdmin style boolean queries) generalized from per-entry ACL rows
// to per-username grant/revoke documents.
type Directory struct {
	engine *document.Engine

	mu          sync.RWMutex
	byUsername  map[string]*UserRecord
	trustedKeys map[string]bool // PEM public key -> valid, invalidated on any write
	loaded      bool
}

// New wraps engine (which must be opened adminOnly=true) as a Directory.
func New(engine *document.Engine) *Directory {
	return &Directory{
		engine:     engine,
		byUsername: make(map[string]*UserRecord),
	}
}

func (d *Directory) ensureLoadedLocked(ctx context.Context) error {
	if d.loaded {
		return nil
	}
	ids, err := d.engine.AllDocumentIDs(ctx)
	if err != nil {
		return err
	}
	for _, docID := range ids {
		view, err := d.engine.GetDocument(ctx, docID)
		if err != nil {
			continue // deleted or unreadable; skip
		}
		rec := recordFromView(docID, view)
		if rec.Username != "" {
			d.byUsername[rec.Username] = rec
		}
	}
	d.loaded = true
	d.invalidateKeyCacheLocked()
	return nil
}

func recordFromView(docID string, view map[string]any) *UserRecord {
	rec := &UserRecord{DocID: docID}
	if v, ok := view["username"].(string); ok {
		rec.Username = v
	}
	if v, ok := view["revoked"].(bool); ok {
		rec.Revoked = v
	}
	if v, ok := view["registeredAt"].(float64); ok {
		rec.RegisteredAt = int64(v)
	}
	if v, ok := view["encryptionPublicKey"].(string); ok {
		rec.EncryptionPublicKeyPEM = v
	}
	if v, ok := view["publicKeys"].([]any); ok {
		for _, k := range v {
			if s, ok := k.(string); ok {
				rec.PublicKeys = append(rec.PublicKeys, s)
			}
		}
	}
	return rec
}

func (d *Directory) invalidateKeyCacheLocked() {
	d.trustedKeys = nil
}

// RegisterUser creates a new directory entry for username with pubKeyPEM as
// its initial trusted signing key and encryptionPubKeyPEM as its RSA-OAEP
// network re-wrapping key, or appends pubKeyPEM to an existing user's key
// set if username is already registered.
func (d *Directory) RegisterUser(ctx context.Context, username, pubKeyPEM, encryptionPubKeyPEM string, now int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureLoadedLocked(ctx); err != nil {
		return err
	}

	if existing, ok := d.byUsername[username]; ok {
		docID := existing.DocID
		if err := d.engine.ChangeDoc(ctx, docID, func(view map[string]any) {
			keys, _ := view["publicKeys"].([]any)
			for _, k := range keys {
				if s, _ := k.(string); s == pubKeyPEM {
					return
				}
			}
			view["publicKeys"] = append(keys, pubKeyPEM)
		}); err != nil {
			return err
		}
		existing.PublicKeys = append(existing.PublicKeys, pubKeyPEM)
		d.invalidateKeyCacheLocked()
		return nil
	}

	docID, err := d.engine.CreateDocument(ctx, func(view map[string]any) {
		view["username"] = username
		view["publicKeys"] = []any{pubKeyPEM}
		view["encryptionPublicKey"] = encryptionPubKeyPEM
		view["revoked"] = false
		view["registeredAt"] = now
	}, "default")
	if err != nil {
		return err
	}
	d.byUsername[username] = &UserRecord{
		DocID: docID, Username: username, PublicKeys: []string{pubKeyPEM},
		EncryptionPublicKeyPEM: encryptionPubKeyPEM, RegisteredAt: now,
	}
	d.invalidateKeyCacheLocked()
	return nil
}

// RevokeUser marks username's directory entry revoked. Every key it ever
// registered becomes untrusted.
func (d *Directory) RevokeUser(ctx context.Context, username string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureLoadedLocked(ctx); err != nil {
		return err
	}
	rec, ok := d.byUsername[username]
	if !ok {
		return errkind.New(errkind.UserNotFound, "no such user: "+username)
	}
	if err := d.engine.ChangeDoc(ctx, rec.DocID, func(view map[string]any) {
		view["revoked"] = true
	}); err != nil {
		return err
	}
	rec.Revoked = true
	d.invalidateKeyCacheLocked()
	return nil
}

// GetUserPublicKeys returns username's currently registered signing keys.
func (d *Directory) GetUserPublicKeys(ctx context.Context, username string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}
	rec, ok := d.byUsername[username]
	if !ok {
		return nil, errkind.New(errkind.UserNotFound, "no such user: "+username)
	}
	return append([]string(nil), rec.PublicKeys...), nil
}

// ValidatePublicSigningKey reports whether pubKeyPEM belongs to a
// registered, non-revoked user. The trusted-key set is cached across calls
// and rebuilt lazily after any RegisterUser/RevokeUser.
func (d *Directory) ValidatePublicSigningKey(ctx context.Context, pubKeyPEM string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoadedLocked(ctx); err != nil {
		return false, err
	}
	if d.trustedKeys == nil {
		d.trustedKeys = make(map[string]bool)
		for _, rec := range d.byUsername {
			if rec.Revoked {
				continue
			}
			for _, k := range rec.PublicKeys {
				d.trustedKeys[k] = true
			}
		}
	}
	return d.trustedKeys[pubKeyPEM], nil
}

// IsRevoked reports whether username is a known, revoked user; an unknown
// username is a UserNotFound error. The sync server calls it before
// checking a challenge signature and on every token-authenticated request.
func (d *Directory) IsRevoked(ctx context.Context, username string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoadedLocked(ctx); err != nil {
		return false, err
	}
	rec, ok := d.byUsername[username]
	if !ok {
		return false, errkind.New(errkind.UserNotFound, "no such user: "+username)
	}
	return rec.Revoked, nil
}

// GetUserEncryptionKey returns username's registered RSA encryption public
// key (PEM), consulted by the sync server to RSA-wrap getEntries responses
// per spec.md §4.7.
func (d *Directory) GetUserEncryptionKey(ctx context.Context, username string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoadedLocked(ctx); err != nil {
		return "", err
	}
	rec, ok := d.byUsername[username]
	if !ok {
		return "", errkind.New(errkind.UserNotFound, "no such user: "+username)
	}
	return rec.EncryptionPublicKeyPEM, nil
}
