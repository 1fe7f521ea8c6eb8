// Package join implements the invite/join state machine of spec.md §4.6:
// created -> request-emitted -> approved -> joined. A join.Request is a pure
// projection of a requester's public identity; a join.Response carries the
// tenant's shared symmetric keys wrapped under a password transmitted
// out-of-band (never over the same channel as the request/response URIs).
// Grounded on the teacher's internal/sync/invite.go (PeerInvite, signed,
// base64url-encoded, QR-renderable) generalized from a libp2p peer invite to
// a tenant membership invite.
package join

import (
	"context"
	"encoding/json"
	"time"

	"github.com/skip2/go-qrcode"

	mcrypto "github.com/amaydixit11/mindoo/internal/crypto"
	"github.com/amaydixit11/mindoo/internal/errkind"
	"github.com/amaydixit11/mindoo/internal/keybag"
	"github.com/amaydixit11/mindoo/internal/tenant"
	"github.com/amaydixit11/mindoo/internal/uri"
)

// Request is the pure public projection of a prospective member's identity,
// per spec.md §4.6.
type Request struct {
	V                      int    `json:"v"`
	Username               string `json:"username"`
	SigningPublicKeyPEM    string `json:"signingPub"`
	EncryptionPublicKeyPEM string `json:"encryptionPub"`
}

// Response is what the admin hands back after approving a Request: enough
// for the requester to reconstruct the tenant's trust root and unwrap the
// two symmetric keys shared with every member.
type Response struct {
	V                           int                          `json:"v"`
	TenantID                    string                       `json:"tenantId"`
	AdminSigningPublicKeyPEM    string                       `json:"adminSigningPub"`
	AdminEncryptionPublicKeyPEM string                       `json:"adminEncryptionPub"`
	AdminSignatureOverRequester []byte                       `json:"adminSignatureOverRequester"`
	EncryptedTenantKey          *mcrypto.EncryptedPrivateKey `json:"encryptedTenantKey"`
	EncryptedPublicInfosKey     *mcrypto.EncryptedPrivateKey `json:"encryptedPublicInfosKey"`
}

// CreateJoinRequest is a pure function of pub, per spec.md §4.6.
func CreateJoinRequest(pub tenant.PublicIdentity) *Request {
	return &Request{
		V:                      1,
		Username:               pub.Username,
		SigningPublicKeyPEM:    pub.SigningPublicKeyPEM,
		EncryptionPublicKeyPEM: pub.EncryptionPublicKeyPEM,
	}
}

func (r *Request) publicIdentity() tenant.PublicIdentity {
	return tenant.PublicIdentity{
		Username:               r.Username,
		SigningPublicKeyPEM:    r.SigningPublicKeyPEM,
		EncryptionPublicKeyPEM: r.EncryptionPublicKeyPEM,
	}
}

// EncodeRequestURI renders req as a "mdb://join-request/<base>" URI.
func EncodeRequestURI(req *Request) (string, error) {
	return uri.EncodeMindooURI(uri.KindJoinRequest, req)
}

// RequestQR renders req's URI as a QR code PNG, for out-of-band sharing.
func RequestQR(req *Request) ([]byte, error) {
	encoded, err := EncodeRequestURI(req)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(encoded, qrcode.Medium, 256)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidInput, "render join request qr", err)
	}
	return png, nil
}

// DecodeRequestURI is the inverse of EncodeRequestURI. Fails TypeMismatch if
// s is a join-response URI instead.
func DecodeRequestURI(s string) (*Request, error) {
	kind, raw, err := uri.DecodeMindooURI(s)
	if err != nil {
		return nil, err
	}
	if kind != uri.KindJoinRequest {
		return nil, errkind.New(errkind.TypeMismatch, "expected a join-request uri, got "+kind)
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, errkind.Wrap(errkind.InvalidInput, "unmarshal join request", err)
	}
	return &req, nil
}

// EncodeResponseURI renders resp as a "mdb://join-response/<base>" URI.
func EncodeResponseURI(resp *Response) (string, error) {
	return uri.EncodeMindooURI(uri.KindJoinResponse, resp)
}

// DecodeResponseURI is the inverse of EncodeResponseURI. Fails TypeMismatch
// if s is a join-request URI instead.
func DecodeResponseURI(s string) (*Response, error) {
	kind, raw, err := uri.DecodeMindooURI(s)
	if err != nil {
		return nil, err
	}
	if kind != uri.KindJoinResponse {
		return nil, errkind.New(errkind.TypeMismatch, "expected a join-response uri, got "+kind)
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errkind.Wrap(errkind.InvalidInput, "unmarshal join response", err)
	}
	return &resp, nil
}

// ApproveJoinRequest is the admin's half: it registers the requester in the
// directory, signs the requester's public identity, and wraps the tenant's
// shared symmetric keys under a PBKDF2(sharePassword)-derived key.
//
// This implementation's directory documents are all encrypted under the
// tenant's own default key (see internal/trust), so "the tenant key" and
// "the public-infos key" of spec.md §4.6 resolve to the same underlying
// KeyBag entry; both response fields carry an independent wrap of it so a
// future split of the two concerns costs nothing on the wire.
func ApproveJoinRequest(ctx context.Context, admin *tenant.Tenant, req *Request, sharePassword []byte) (*Response, error) {
	if !admin.IsAdmin() {
		return nil, errkind.New(errkind.AdminOnly, "only the tenant admin may approve a join request")
	}

	if err := admin.Directory().RegisterUser(ctx, req.Username, req.SigningPublicKeyPEM, req.EncryptionPublicKeyPEM, time.Now().UnixMilli()); err != nil {
		return nil, err
	}

	tenantKey, ok := admin.KeyBag().Get(keybag.KindTenant, keybag.DefaultKeyID)
	if !ok {
		return nil, errkind.New(errkind.KeyNotFound, "tenant has no default key to share")
	}
	encTenantKey, err := mcrypto.WrapWithPassword(tenantKey[:], sharePassword, mcrypto.MinIterations)
	if err != nil {
		return nil, err
	}
	encPublicInfosKey, err := mcrypto.WrapWithPassword(tenantKey[:], sharePassword, mcrypto.MinIterations)
	if err != nil {
		return nil, err
	}

	sig := admin.Sign(req.publicIdentity().SignableFields())

	return &Response{
		V:                           1,
		TenantID:                    admin.TenantID,
		AdminSigningPublicKeyPEM:    admin.AdminSigningPublicKeyPEM,
		AdminEncryptionPublicKeyPEM: admin.AdminEncryptionPublicKeyPEM,
		AdminSignatureOverRequester: sig,
		EncryptedTenantKey:          encTenantKey,
		EncryptedPublicInfosKey:     encPublicInfosKey,
	}, nil
}

// JoinTenant is the requester's half: it derives the share key, unwraps the
// tenant's symmetric keys, provisions the local on-disk tenant layout, and
// opens it as a fully joined member.
func JoinTenant(factory *tenant.Factory, resp *Response, id *tenant.PrivateIdentity, password, sharePassword []byte) (*tenant.Tenant, error) {
	id.AdminSignatureOverPublics = resp.AdminSignatureOverRequester

	info := tenant.Info{
		TenantID:                    resp.TenantID,
		AdminSigningPublicKeyPEM:    resp.AdminSigningPublicKeyPEM,
		AdminEncryptionPublicKeyPEM: resp.AdminEncryptionPublicKeyPEM,
	}

	tn, err := factory.JoinExisting(info, id, password)
	if err != nil {
		return nil, err
	}

	tenantKeyBytes, err := mcrypto.UnwrapWithPassword(resp.EncryptedTenantKey, sharePassword)
	if err != nil {
		tn.Close()
		return nil, errkind.Wrap(errkind.CryptoFailure, "unwrap shared tenant key", err)
	}
	if len(tenantKeyBytes) != mcrypto.KeySize {
		tn.Close()
		return nil, errkind.New(errkind.CryptoFailure, "unwrapped tenant key has wrong size")
	}
	var tenantKey mcrypto.Key
	copy(tenantKey[:], tenantKeyBytes)
	tn.KeyBag().Set(keybag.KindTenant, keybag.DefaultKeyID, tenantKey, time.Now())

	return tn, nil
}
