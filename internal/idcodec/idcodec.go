// Package idcodec builds and parses the structured, content-derived entry
// identifiers every StoreEntry is keyed by. Ids are a pure function of their
// inputs so independent peers encoding the same change converge on the same
// id without coordination.
package idcodec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/amaydixit11/mindoo/internal/errkind"
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// DepsFingerprint returns "0" for an empty dependency set, else the first 8
// hex characters of SHA-256 over the sorted, comma-joined hash list.
func DepsFingerprint(depHashes []string) string {
	if len(depHashes) == 0 {
		return "0"
	}
	sorted := append([]string(nil), depHashes...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(sum[:])[:8]
}

// DocEntryID builds "{docId}_d_{depsFp}_{crdtHash}".
func DocEntryID(docID string, crdtHash string, depHashes []string) string {
	return fmt.Sprintf("%s_d_%s_%s", docID, DepsFingerprint(depHashes), crdtHash)
}

// ParseDocEntryID inverts DocEntryID. It is partial: it fails on malformed
// input rather than guessing.
func ParseDocEntryID(id string) (docID, depsFp, crdtHash string, err error) {
	parts := strings.SplitN(id, "_d_", 2)
	if len(parts) != 2 {
		return "", "", "", errkind.New(errkind.InvalidInput, "not a doc entry id: "+id)
	}
	docID = parts[0]
	if _, uerr := uuid.Parse(docID); uerr != nil {
		return "", "", "", errkind.Wrap(errkind.InvalidInput, "invalid docId in entry id", uerr)
	}
	rest := strings.SplitN(parts[1], "_", 2)
	if len(rest) != 2 {
		return "", "", "", errkind.New(errkind.InvalidInput, "malformed doc entry id: "+id)
	}
	return docID, rest[0], rest[1], nil
}

var base62Base = big.NewInt(62)

// encodeBase62 renders raw bytes (typically a UUID's 16 bytes) in base62.
func encodeBase62(raw []byte) string {
	n := new(big.Int).SetBytes(raw)
	if n.Sign() == 0 {
		return string(base62Alphabet[0])
	}
	var out []byte
	mod := new(big.Int)
	for n.Sign() > 0 {
		n.DivMod(n, base62Base, mod)
		out = append([]byte{base62Alphabet[mod.Int64()]}, out...)
	}
	return string(out)
}

// decodeBase62 inverts encodeBase62 back to a 16-byte UUID payload.
func decodeBase62(s string) ([]byte, error) {
	n := new(big.Int)
	for _, c := range []byte(s) {
		idx := strings.IndexByte(base62Alphabet, c)
		if idx < 0 {
			return nil, errkind.New(errkind.InvalidInput, "invalid base62 character")
		}
		n.Mul(n, base62Base)
		n.Add(n, big.NewInt(int64(idx)))
	}
	raw := n.Bytes()
	if len(raw) > 16 {
		return nil, errkind.New(errkind.InvalidInput, "base62 payload too large for a uuid")
	}
	padded := make([]byte, 16)
	copy(padded[16-len(raw):], raw)
	return padded, nil
}

// AttachmentChunkID builds "{docId}_a_{fileUUID}_{base62(chunkUUID)}". If
// chunkUUID is the zero uuid, a fresh UUIDv7 is minted for it.
func AttachmentChunkID(docID string, fileUUID uuid.UUID, chunkUUID uuid.UUID) (string, error) {
	if chunkUUID == uuid.Nil {
		fresh, err := uuid.NewV7()
		if err != nil {
			return "", errkind.Wrap(errkind.CryptoFailure, "generate chunk uuid", err)
		}
		chunkUUID = fresh
	}
	chunkBytes, err := chunkUUID.MarshalBinary()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_a_%s_%s", docID, fileUUID.String(), encodeBase62(chunkBytes)), nil
}

// ParseAttachmentChunkID inverts AttachmentChunkID.
func ParseAttachmentChunkID(id string) (docID string, fileUUID, chunkUUID uuid.UUID, err error) {
	parts := strings.SplitN(id, "_a_", 2)
	if len(parts) != 2 {
		return "", uuid.Nil, uuid.Nil, errkind.New(errkind.InvalidInput, "not an attachment chunk id: "+id)
	}
	docID = parts[0]
	rest := strings.SplitN(parts[1], "_", 2)
	if len(rest) != 2 {
		return "", uuid.Nil, uuid.Nil, errkind.New(errkind.InvalidInput, "malformed attachment chunk id: "+id)
	}
	fileUUID, err = uuid.Parse(rest[0])
	if err != nil {
		return "", uuid.Nil, uuid.Nil, errkind.Wrap(errkind.InvalidInput, "invalid file uuid", err)
	}
	chunkBytes, err := decodeBase62(rest[1])
	if err != nil {
		return "", uuid.Nil, uuid.Nil, err
	}
	if err := chunkUUID.UnmarshalBinary(chunkBytes); err != nil {
		return "", uuid.Nil, uuid.Nil, errkind.Wrap(errkind.InvalidInput, "invalid chunk uuid bytes", err)
	}
	return docID, fileUUID, chunkUUID, nil
}

// NewDocID mints a fresh UUIDv7 document id.
func NewDocID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", errkind.Wrap(errkind.CryptoFailure, "generate docId", err)
	}
	return id.String(), nil
}
