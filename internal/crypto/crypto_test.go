package crypto

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte("buy milk")
	aad := []byte("entry-id-123")
	ct, err := Encrypt(key, plaintext, aad)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := Decrypt(key, ct, aad)
	if err != nil {
		t.Fatal(err)
	}
	if string(pt) != string(plaintext) {
		t.Fatalf("round trip mismatch: got %q", pt)
	}
}

func TestDecryptWrongAADFails(t *testing.T) {
	key, _ := GenerateKey()
	ct, _ := Encrypt(key, []byte("secret"), []byte("aad-a"))
	if _, err := Decrypt(key, ct, []byte("aad-b")); err == nil {
		t.Fatal("expected decrypt failure under mismatched aad")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateSigningKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("ciphertext-bytes")
	sig := Sign(kp.Private, data)
	if !Verify(kp.Public, data, sig) {
		t.Fatal("expected signature to verify")
	}
	if Verify(kp.Public, []byte("tampered"), sig) {
		t.Fatal("expected signature to fail on tampered data")
	}
}

func TestSigningPublicKeyPEMRoundTrip(t *testing.T) {
	kp, _ := GenerateSigningKeyPair()
	pemStr, err := EncodeSigningPublicKeyPEM(kp.Public)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeSigningPublicKeyPEM(pemStr)
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded) != string(kp.Public) {
		t.Fatal("decoded public key does not match original")
	}
}

func TestRSAWrapUnwrapRoundTrip(t *testing.T) {
	priv, err := GenerateRSAKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte("wrapped symmetric key material")
	ct, err := RSAWrap(&priv.PublicKey, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := RSAUnwrap(priv, ct)
	if err != nil {
		t.Fatal(err)
	}
	if string(pt) != string(plaintext) {
		t.Fatal("rsa round trip mismatch")
	}
}

func TestRSAWrapHybridRoundTripHandlesOversizedPayload(t *testing.T) {
	priv, err := GenerateRSAKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	// A raw RSA-2048-OAEP-SHA256 message caps out around 190 bytes; this
	// payload stands in for a chunky CRDT change or an attachment chunk.
	plaintext := make([]byte, 256*1024)
	for i := range plaintext {
		plaintext[i] = byte(i)
	}
	wrappedKey, payload, err := RSAWrapHybrid(&priv.PublicKey, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := RSAUnwrapHybrid(priv, wrappedKey, payload)
	if err != nil {
		t.Fatal(err)
	}
	if string(pt) != string(plaintext) {
		t.Fatal("rsa hybrid round trip mismatch")
	}
}

func TestWrapUnwrapWithPasswordRoundTrip(t *testing.T) {
	secret := []byte("a symmetric key, 32 bytes long!")
	wrapped, err := WrapWithPassword(secret, []byte("hunter2"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if wrapped.Iterations < MinIterations {
		t.Fatalf("expected iterations clamped to >= %d, got %d", MinIterations, wrapped.Iterations)
	}
	got, err := UnwrapWithPassword(wrapped, []byte("hunter2"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(secret) {
		t.Fatal("password-wrap round trip mismatch")
	}
	if _, err := UnwrapWithPassword(wrapped, []byte("wrong")); err == nil {
		t.Fatal("expected failure for wrong password")
	}
}

func TestContentHashMatchesEncryptedData(t *testing.T) {
	data := []byte("iv||ciphertext||tag")
	h1 := ContentHash(data)
	h2 := ContentHash(data)
	if h1 != h2 {
		t.Fatal("content hash should be deterministic")
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64 hex chars (sha256), got %d", len(h1))
	}
}
