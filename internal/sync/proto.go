// Package sync implements the sync protocol of spec.md §4.7/§6: a JWT
// challenge/response auth handshake followed by token-scoped, tenant/db
// scoped data-plane calls (findNewEntries, getEntries, putEntries, ...)
// carried as REST-over-JSON, with RSA-OAEP re-wrapping of entry ciphertext
// on egress. Grounded on the teacher's pkg/api/api.go (http.ServeMux route
// table, CORS handling, respondJSON helper) for the server half and its
// internal/sync/p2p.go retry/backoff shape for the client half.
package sync

import "github.com/amaydixit11/mindoo/internal/store"

// ProtocolVersion is the capability string this server/client pair speaks.
const ProtocolVersion = "sync-v1"

// Capabilities is the server's advertised feature set, per spec.md §4.7's
// negotiation step. A client that fails to fetch it (pre-capabilities
// server) assumes LegacyCapabilities.
type Capabilities struct {
	ProtocolVersion  string `json:"protocolVersion"`
	CursorScan       bool   `json:"cursorScan"`
	Bloom            bool   `json:"bloom"`
	CompactionStatus bool   `json:"compactionStatus"`
}

// LegacyCapabilities is assumed when getCapabilities is unavailable.
var LegacyCapabilities = Capabilities{ProtocolVersion: ProtocolVersion}

// FullCapabilities is what this package's server always actually offers.
var FullCapabilities = Capabilities{
	ProtocolVersion:  ProtocolVersion,
	CursorScan:       true,
	Bloom:            true,
	CompactionStatus: true,
}

// ChallengeRequest is POST /auth/challenge's body.
type ChallengeRequest struct {
	Username string `json:"username"`
}

// ChallengeResponse carries the single-use nonce the client must sign.
type ChallengeResponse struct {
	Challenge string `json:"challenge"`
}

// AuthenticateRequest is POST /auth/authenticate's body: the challenge
// nonce and the client's Ed25519 signature over it.
type AuthenticateRequest struct {
	Challenge string `json:"challenge"`
	Signature []byte `json:"signature"`
}

// AuthenticateResponse carries the issued JWT on success.
type AuthenticateResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Error   string `json:"error,omitempty"`
}

// dbScopedRequest is embedded by every data-plane request per spec.md §6's
// "scoped to {tenantId, dbId}".
type dbScopedRequest struct {
	TenantID string `json:"tenantId"`
	DBID     string `json:"dbId"`
}

// FindNewEntriesRequest is POST /sync/findNewEntries's body.
type FindNewEntriesRequest struct {
	dbScopedRequest
	HaveIDs []string `json:"haveIds"`
}

// FindNewEntriesForDocRequest is POST /sync/findNewEntriesForDoc's body.
type FindNewEntriesForDocRequest struct {
	dbScopedRequest
	HaveIDs []string `json:"haveIds"`
	DocID   string   `json:"docId"`
}

// FindEntriesRequest is POST /sync/findEntries's body.
type FindEntriesRequest struct {
	dbScopedRequest
	Type              store.EntryType `json:"type"`
	CreationDateFrom  *int64          `json:"creationDateFrom"`
	CreationDateUntil *int64          `json:"creationDateUntil"`
}

// EntriesResponse wraps a plain metadata list, the shape every metadata-only
// endpoint (findNewEntries, findNewEntriesForDoc, findEntries) responds with.
type EntriesResponse struct {
	Entries []store.Metadata `json:"entries"`
}

// ScanRequest is POST /sync/scanEntriesSince's body.
type ScanRequest struct {
	dbScopedRequest
	Cursor  string            `json:"cursor"`
	Limit   int               `json:"limit"`
	Filters *store.ScanFilter `json:"filters"`
}

// ScanResponse is POST /sync/scanEntriesSince's response.
type ScanResponse struct {
	Entries    []store.Metadata `json:"entries"`
	NextCursor string           `json:"nextCursor"`
	HasMore    bool             `json:"hasMore"`
}

// DBScopedRequest is POST /sync/getIdBloomSummary and getCompactionStatus's
// shared (bodyless beyond scope) request shape.
type DBScopedRequest = dbScopedRequest

// BloomResponse is POST /sync/getIdBloomSummary's response.
type BloomResponse struct {
	Summary store.BloomSummary `json:"summary"`
}

// CompactionResponse is POST /sync/getCompactionStatus's response.
type CompactionResponse struct {
	Status store.CompactionStatus `json:"status"`
}

// GetEntriesRequest is POST /sync/getEntries's body.
type GetEntriesRequest struct {
	dbScopedRequest
	IDs []string `json:"ids"`
}

// NetworkEncryptedEntry is one entry as delivered over getEntries: metadata
// in the clear, plus the entry's symmetric ciphertext hybrid-re-encrypted a
// second time for the caller — a fresh AES-256 key seals the payload and
// only that key is wrapped under the caller's RSA-OAEP public encryption
// key, since raw RSA-OAEP cannot carry a CRDT change or an attachment
// chunk's ciphertext directly — per spec.md §4.7.
type NetworkEncryptedEntry struct {
	store.Metadata
	WrappedKey []byte `json:"wrappedKey"`
	Payload    []byte `json:"payload"`
}

// GetEntriesResponse is POST /sync/getEntries's response.
type GetEntriesResponse struct {
	Entries []NetworkEncryptedEntry `json:"entries"`
}

// PutEntriesRequest is POST /sync/putEntries's body.
type PutEntriesRequest struct {
	dbScopedRequest
	Entries []store.Entry `json:"entries"`
}

// HasEntriesRequest is POST /sync/hasEntries's body.
type HasEntriesRequest struct {
	dbScopedRequest
	IDs []string `json:"ids"`
}

// IDsResponse wraps a plain id list, the shape hasEntries and getAllIds
// respond with.
type IDsResponse struct {
	IDs []string `json:"ids"`
}

// ResolveDependenciesRequest is POST /sync/resolveDependencies's body.
type ResolveDependenciesRequest struct {
	dbScopedRequest
	StartID string               `json:"startId"`
	Options store.ResolveOptions `json:"options"`
}

// ErrorBody is the JSON shape every non-2xx response carries, so a client
// can recover the precise errkind.Kind (InvalidToken/UserRevoked/
// InvalidSignature are non-retriable, per spec.md §4.7) rather than only
// the coarser HTTP status, per spec.md §6's status table.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
