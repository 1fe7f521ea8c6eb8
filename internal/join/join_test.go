package join

import (
	"context"
	"testing"

	mcrypto "github.com/amaydixit11/mindoo/internal/crypto"
	"github.com/amaydixit11/mindoo/internal/errkind"
	"github.com/amaydixit11/mindoo/internal/tenant"
)

func TestJoinFlowEndToEnd(t *testing.T) {
	ctx := context.Background()

	adminFactory, err := tenant.NewFactory(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	admin, err := adminFactory.Create("acme", "admin", []byte("admin-pw"))
	if err != nil {
		t.Fatal(err)
	}
	defer admin.Close()

	memberID, err := tenant.GenerateIdentity("bob", []byte("bob-pw"), nil)
	if err != nil {
		t.Fatal(err)
	}

	req := CreateJoinRequest(memberID.PublicIdentity)
	if req.Username != "bob" {
		t.Fatalf("request username = %q, want bob", req.Username)
	}

	reqURI, err := EncodeRequestURI(req)
	if err != nil {
		t.Fatal(err)
	}
	decodedReq, err := DecodeRequestURI(reqURI)
	if err != nil {
		t.Fatal(err)
	}
	if *decodedReq != *req {
		t.Fatalf("round-tripped request = %+v, want %+v", decodedReq, req)
	}

	sharePassword := []byte("share-secret")
	resp, err := ApproveJoinRequest(ctx, admin, decodedReq, sharePassword)
	if err != nil {
		t.Fatal(err)
	}
	if resp.TenantID != "acme" {
		t.Fatalf("response tenantId = %q, want acme", resp.TenantID)
	}

	respURI, err := EncodeResponseURI(resp)
	if err != nil {
		t.Fatal(err)
	}
	decodedResp, err := DecodeResponseURI(respURI)
	if err != nil {
		t.Fatal(err)
	}

	memberFactory, err := tenant.NewFactory(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	member, err := JoinTenant(memberFactory, decodedResp, memberID, []byte("bob-pw"), sharePassword)
	if err != nil {
		t.Fatal(err)
	}
	defer member.Close()

	if member.IsAdmin() {
		t.Fatal("expected the joined member not to be the tenant admin")
	}

	adminPub, err := mcrypto.DecodeSigningPublicKeyPEM(admin.AdminSigningPublicKeyPEM)
	if err != nil {
		t.Fatal(err)
	}
	if !member.PublicIdentity().VerifyAdminSignature(adminPub) {
		t.Fatal("expected the joined member's identity to carry a valid admin signature")
	}

	sig := member.Sign([]byte("hello"))
	if !admin.Verify(member.SigningPublicKeyPEM(), []byte("hello"), sig) {
		t.Fatal("expected the admin to trust the newly joined member's signature after directory registration")
	}
}

func TestDecodeRequestURIRejectsResponseURI(t *testing.T) {
	resp := &Response{V: 1, TenantID: "acme"}
	respURI, err := EncodeResponseURI(resp)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeRequestURI(respURI); !errkind.Is(err, errkind.TypeMismatch) {
		t.Fatalf("expected TypeMismatch decoding a response uri as a request, got %v", err)
	}
}

func TestApproveJoinRequestRejectsNonAdmin(t *testing.T) {
	ctx := context.Background()

	adminFactory, err := tenant.NewFactory(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	admin, err := adminFactory.Create("acme", "admin", []byte("admin-pw"))
	if err != nil {
		t.Fatal(err)
	}
	defer admin.Close()

	bobID, err := tenant.GenerateIdentity("bob", []byte("bob-pw"), nil)
	if err != nil {
		t.Fatal(err)
	}
	bobResp, err := ApproveJoinRequest(ctx, admin, CreateJoinRequest(bobID.PublicIdentity), []byte("share"))
	if err != nil {
		t.Fatal(err)
	}
	bobFactory, err := tenant.NewFactory(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	bob, err := JoinTenant(bobFactory, bobResp, bobID, []byte("bob-pw"), []byte("share"))
	if err != nil {
		t.Fatal(err)
	}
	defer bob.Close()

	carolReq := &Request{V: 1, Username: "carol", SigningPublicKeyPEM: "x", EncryptionPublicKeyPEM: "y"}
	if _, err := ApproveJoinRequest(ctx, bob, carolReq, []byte("share")); !errkind.Is(err, errkind.AdminOnly) {
		t.Fatalf("expected AdminOnly when a non-admin member approves a join request, got %v", err)
	}
}
