package document

import (
	"context"
	"sort"

	"github.com/google/uuid"

	mcrypto "github.com/amaydixit11/mindoo/internal/crypto"
	"github.com/amaydixit11/mindoo/internal/errkind"
	"github.com/amaydixit11/mindoo/internal/idcodec"
	"github.com/amaydixit11/mindoo/internal/store"
)

// AttachmentChunkSize is the fixed chunk size attachments are split into
// before sealing each chunk as its own attachment_chunk entry, adapted from
// the teacher's content-addressed internal/blob/store.go (whole-file blobs
// on local disk) to fixed-size chained chunks inside the entry log.
const AttachmentChunkSize = 256 * 1024

// PutAttachment splits data into AttachmentChunkSize chunks, each sealed as
// an attachment_chunk entry depending on the one before it, and returns the
// ordered chunk entry ids (the last id is the handle ReassembleAttachment
// needs).
func (e *Engine) PutAttachment(ctx context.Context, docID string, data []byte, keyID string) ([]string, error) {
	if e.cfg.AdminOnly && !e.crypto.IsAdminKey(e.crypto.SigningPublicKeyPEM()) {
		return nil, errkind.New(errkind.AdminOnly, "only the admin key may write to this database")
	}
	if keyID == "" {
		keyID = "default"
	}
	fileUUID, err := uuid.NewV7()
	if err != nil {
		return nil, errkind.Wrap(errkind.CryptoFailure, "generate attachment file id", err)
	}

	var chunkIDs []string
	var prevChunkID string
	entries := make([]store.Entry, 0, (len(data)/AttachmentChunkSize)+1)

	for offset := 0; offset < len(data) || len(entries) == 0; offset += AttachmentChunkSize {
		end := offset + AttachmentChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[offset:end]

		chunkUUID, err := uuid.NewV7()
		if err != nil {
			return nil, errkind.Wrap(errkind.CryptoFailure, "generate chunk id", err)
		}
		entryID, err := idcodec.AttachmentChunkID(docID, fileUUID, chunkUUID)
		if err != nil {
			return nil, err
		}

		var deps []string
		if prevChunkID != "" {
			deps = []string{prevChunkID}
		}

		aad := []byte(entryID)
		ciphertext, err := e.crypto.Encrypt(keyID, chunk, aad)
		if err != nil {
			return nil, err
		}
		sig := e.crypto.Sign(ciphertext)

		entries = append(entries, store.Entry{
			EntryType:          store.TypeAttachmentChunk,
			ID:                 entryID,
			ContentHash:        mcrypto.ContentHash(ciphertext),
			DocID:              docID,
			DependencyIDs:      deps,
			CreatedAt:          nowMs(),
			CreatedByPublicKey: e.crypto.SigningPublicKeyPEM(),
			DecryptionKeyID:    keyID,
			Signature:          sig,
			OriginalSize:       len(chunk),
			EncryptedSize:      len(ciphertext),
			EncryptedData:      ciphertext,
		})
		chunkIDs = append(chunkIDs, entryID)
		prevChunkID = entryID

		if end == len(data) {
			break
		}
	}

	if err := e.store.PutEntries(ctx, entries); err != nil {
		return nil, err
	}
	return chunkIDs, nil
}

// ReassembleAttachment walks the dependency chain back from lastChunkID,
// decrypts each chunk and concatenates them in original order.
func (e *Engine) ReassembleAttachment(ctx context.Context, lastChunkID string) ([]byte, error) {
	ids, err := e.store.ResolveDependencies(ctx, lastChunkID, store.ResolveOptions{Transitive: true})
	if err != nil {
		return nil, err
	}
	ids = append(ids, lastChunkID)

	entries, err := e.store.GetEntries(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(entries) != len(ids) {
		return nil, errkind.New(errkind.NotFound, "attachment chunk missing from store: "+lastChunkID)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt != entries[j].CreatedAt {
			return entries[i].CreatedAt < entries[j].CreatedAt
		}
		return entries[i].ID < entries[j].ID
	})

	var out []byte
	for _, se := range entries {
		if !e.crypto.Verify(se.CreatedByPublicKey, se.EncryptedData, se.Signature) {
			return nil, errkind.New(errkind.InvalidSignature, "attachment chunk signature invalid: "+se.ID)
		}
		plaintext, err := e.crypto.Decrypt(se.DecryptionKeyID, se.EncryptedData, []byte(se.ID))
		if err != nil {
			return nil, errkind.Wrap(errkind.CryptoFailure, "decrypt attachment chunk "+se.ID, err)
		}
		out = append(out, plaintext...)
	}
	return out, nil
}
