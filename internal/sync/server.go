package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	mcrypto "github.com/amaydixit11/mindoo/internal/crypto"
	"github.com/amaydixit11/mindoo/internal/document"
	"github.com/amaydixit11/mindoo/internal/errkind"
	"github.com/amaydixit11/mindoo/internal/tenant"
)

// ChallengeTTL is how long an issued auth nonce remains valid before
// ChallengeExpired, per spec.md §4.7.
const ChallengeTTL = 2 * time.Minute

type pendingChallenge struct {
	username string
	expires  time.Time
	used     bool
}

// Server is the sync protocol's server half: it answers the REST surface of
// spec.md §6 against one Tenant's databases, opening them on demand via
// Tenant.OpenDB. Grounded on the teacher's pkg/api/api.go (ServeMux route
// table, CORS, respondJSON).
type Server struct {
	tenant    *tenant.Tenant
	jwtSecret []byte

	mux *http.ServeMux

	mu         sync.Mutex
	challenges map[string]*pendingChallenge
}

// NewServer constructs a Server over t, signing issued JWTs with jwtSecret.
func NewServer(t *tenant.Tenant, jwtSecret []byte) *Server {
	s := &Server{
		tenant:     t,
		jwtSecret:  jwtSecret,
		mux:        http.NewServeMux(),
		challenges: make(map[string]*pendingChallenge),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/auth/challenge", s.handleChallenge)
	s.mux.HandleFunc("/auth/authenticate", s.handleAuthenticate)
	s.mux.HandleFunc("/sync/capabilities", s.authed(s.handleCapabilities))
	s.mux.HandleFunc("/sync/findNewEntries", s.authed(s.handleFindNewEntries))
	s.mux.HandleFunc("/sync/findNewEntriesForDoc", s.authed(s.handleFindNewEntriesForDoc))
	s.mux.HandleFunc("/sync/findEntries", s.authed(s.handleFindEntries))
	s.mux.HandleFunc("/sync/scanEntriesSince", s.authed(s.handleScanEntriesSince))
	s.mux.HandleFunc("/sync/getIdBloomSummary", s.authed(s.handleGetIDBloomSummary))
	s.mux.HandleFunc("/sync/getCompactionStatus", s.authed(s.handleGetCompactionStatus))
	s.mux.HandleFunc("/sync/getEntries", s.authed(s.handleGetEntries))
	s.mux.HandleFunc("/sync/putEntries", s.authed(s.handlePutEntries))
	s.mux.HandleFunc("/sync/hasEntries", s.authed(s.handleHasEntries))
	s.mux.HandleFunc("/sync/getAllIds", s.authed(s.handleGetAllIDs))
	s.mux.HandleFunc("/sync/resolveDependencies", s.authed(s.handleResolveDependencies))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}

type authedHandler func(w http.ResponseWriter, r *http.Request, username string)

// authed wraps h with JWT bearer-token authentication, per spec.md §4.7's
// "data-plane calls are token-authenticated".
func (s *Server) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			writeError(w, errkind.New(errkind.InvalidToken, "missing bearer token"))
			return
		}
		username, err := parseToken(s.jwtSecret, header[len(prefix):])
		if err != nil {
			writeError(w, err)
			return
		}
		revoked, err := s.tenant.Directory().IsRevoked(r.Context(), username)
		if err != nil {
			writeError(w, err)
			return
		}
		if revoked {
			writeError(w, errkind.New(errkind.UserRevoked, "user revoked: "+username))
			return
		}
		h(w, r, username)
	}
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var req ChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errkind.Wrap(errkind.InvalidInput, "decode challenge request", err))
		return
	}
	if _, err := s.tenant.Directory().GetUserPublicKeys(r.Context(), req.Username); err != nil {
		writeError(w, err)
		return
	}
	nonce, err := uuid.NewV7()
	if err != nil {
		writeError(w, errkind.Wrap(errkind.ServerError, "generate challenge nonce", err))
		return
	}
	s.mu.Lock()
	s.challenges[nonce.String()] = &pendingChallenge{username: req.Username, expires: time.Now().Add(ChallengeTTL)}
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, ChallengeResponse{Challenge: nonce.String()})
}

func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req AuthenticateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errkind.Wrap(errkind.InvalidInput, "decode authenticate request", err))
		return
	}

	s.mu.Lock()
	pc, ok := s.challenges[req.Challenge]
	if ok {
		if pc.used || time.Now().After(pc.expires) {
			ok = false
		} else {
			pc.used = true
		}
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, errkind.New(errkind.ChallengeExpired, "challenge expired or already used"))
		return
	}

	ctx := r.Context()
	revoked, err := s.tenant.Directory().IsRevoked(ctx, pc.username)
	if err != nil {
		writeError(w, err)
		return
	}
	if revoked {
		writeError(w, errkind.New(errkind.UserRevoked, "user revoked: "+pc.username))
		return
	}

	keys, err := s.tenant.Directory().GetUserPublicKeys(ctx, pc.username)
	if err != nil {
		writeError(w, err)
		return
	}
	verified := false
	for _, pemKey := range keys {
		pub, err := mcrypto.DecodeSigningPublicKeyPEM(pemKey)
		if err != nil {
			continue
		}
		if !mcrypto.Verify(pub, []byte(req.Challenge), req.Signature) {
			continue
		}
		trusted, err := s.tenant.Directory().ValidatePublicSigningKey(ctx, pemKey)
		if err == nil && trusted {
			verified = true
			break
		}
	}
	if !verified {
		respondJSON(w, http.StatusUnauthorized, AuthenticateResponse{Success: false, Error: string(errkind.InvalidSignature)})
		return
	}

	token, err := issueToken(s.jwtSecret, pc.username)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, AuthenticateResponse{Success: true, Token: token})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request, _ string) {
	respondJSON(w, http.StatusOK, FullCapabilities)
}

// openDB resolves the scoped request's {tenantId, dbId} against the
// server's own tenant, per spec.md §6.
func (s *Server) openDB(ctx context.Context, scoped dbScopedRequest) (*document.Engine, error) {
	if scoped.TenantID != s.tenant.TenantID {
		return nil, errkind.New(errkind.NotFound, "unknown tenant: "+scoped.TenantID)
	}
	return s.tenant.OpenDB(ctx, scoped.DBID, document.DefaultConfig())
}

func (s *Server) handleFindNewEntries(w http.ResponseWriter, r *http.Request, _ string) {
	var req FindNewEntriesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	eng, err := s.openDB(r.Context(), req.dbScopedRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	metas, err := eng.Store().FindNewEntries(r.Context(), req.HaveIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, EntriesResponse{Entries: metas})
}

func (s *Server) handleFindNewEntriesForDoc(w http.ResponseWriter, r *http.Request, _ string) {
	var req FindNewEntriesForDocRequest
	if !decodeBody(w, r, &req) {
		return
	}
	eng, err := s.openDB(r.Context(), req.dbScopedRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	metas, err := eng.Store().FindNewEntriesForDoc(r.Context(), req.HaveIDs, req.DocID)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, EntriesResponse{Entries: metas})
}

func (s *Server) handleFindEntries(w http.ResponseWriter, r *http.Request, _ string) {
	var req FindEntriesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	eng, err := s.openDB(r.Context(), req.dbScopedRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	metas, err := eng.Store().FindEntries(r.Context(), req.Type, req.CreationDateFrom, req.CreationDateUntil)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, EntriesResponse{Entries: metas})
}

func (s *Server) handleScanEntriesSince(w http.ResponseWriter, r *http.Request, _ string) {
	var req ScanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	eng, err := s.openDB(r.Context(), req.dbScopedRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := eng.Store().ScanEntriesSince(r.Context(), req.Cursor, req.Limit, req.Filters)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ScanResponse{Entries: page.Entries, NextCursor: page.NextCursor, HasMore: page.HasMore})
}

func (s *Server) handleGetIDBloomSummary(w http.ResponseWriter, r *http.Request, _ string) {
	var req DBScopedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	eng, err := s.openDB(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := eng.Store().GetIDBloomSummary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, BloomResponse{Summary: summary})
}

func (s *Server) handleGetCompactionStatus(w http.ResponseWriter, r *http.Request, _ string) {
	var req DBScopedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	eng, err := s.openDB(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	status, err := eng.Store().GetCompactionStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, CompactionResponse{Status: status})
}

// handleGetEntries wraps each returned entry's ciphertext a second time
// under the caller's RSA-OAEP public key, per spec.md §4.7.
func (s *Server) handleGetEntries(w http.ResponseWriter, r *http.Request, username string) {
	var req GetEntriesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	eng, err := s.openDB(r.Context(), req.dbScopedRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := eng.Store().GetEntries(r.Context(), req.IDs)
	if err != nil {
		writeError(w, err)
		return
	}
	pubPEM, err := s.tenant.Directory().GetUserEncryptionKey(r.Context(), username)
	if err != nil {
		writeError(w, err)
		return
	}
	pub, err := mcrypto.DecodeRSAPublicKeyPEM(pubPEM)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]NetworkEncryptedEntry, 0, len(entries))
	for _, e := range entries {
		wrappedKey, payload, err := mcrypto.RSAWrapHybrid(pub, e.EncryptedData)
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, NetworkEncryptedEntry{Metadata: e.Metadata(), WrappedKey: wrappedKey, Payload: payload})
	}
	respondJSON(w, http.StatusOK, GetEntriesResponse{Entries: out})
}

// handlePutEntries rejects the whole batch on the first entry whose author
// is not a currently-trusted signing key, per spec.md §4.7.
func (s *Server) handlePutEntries(w http.ResponseWriter, r *http.Request, _ string) {
	var req PutEntriesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	eng, err := s.openDB(r.Context(), req.dbScopedRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, e := range req.Entries {
		if !s.tenant.Verify(e.CreatedByPublicKey, e.EncryptedData, e.Signature) {
			writeError(w, errkind.New(errkind.InvalidSignature, "untrusted author for entry "+e.ID))
			return
		}
	}
	if err := eng.Store().PutEntries(r.Context(), req.Entries); err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleHasEntries(w http.ResponseWriter, r *http.Request, _ string) {
	var req HasEntriesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	eng, err := s.openDB(r.Context(), req.dbScopedRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	ids, err := eng.Store().HasEntries(r.Context(), req.IDs)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, IDsResponse{IDs: ids})
}

func (s *Server) handleGetAllIDs(w http.ResponseWriter, r *http.Request, _ string) {
	q := r.URL.Query()
	scoped := dbScopedRequest{TenantID: q.Get("tenantId"), DBID: q.Get("dbId")}
	eng, err := s.openDB(r.Context(), scoped)
	if err != nil {
		writeError(w, err)
		return
	}
	ids, err := eng.Store().GetAllIDs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, IDsResponse{IDs: ids})
}

func (s *Server) handleResolveDependencies(w http.ResponseWriter, r *http.Request, _ string) {
	var req ResolveDependenciesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	eng, err := s.openDB(r.Context(), req.dbScopedRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	ids, err := eng.Store().ResolveDependencies(r.Context(), req.StartID, req.Options)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, IDsResponse{IDs: ids})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, errkind.Wrap(errkind.InvalidInput, "decode request body", err))
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusForKind maps an errkind.Kind to the HTTP status spec.md §6's table
// inverts: 401->InvalidToken, 403->UserRevoked, 404->UserNotFound/NotFound,
// everything else is a 400/500-class ServerError.
func statusForKind(kind errkind.Kind) int {
	switch kind {
	case errkind.InvalidToken, errkind.ChallengeExpired:
		return http.StatusUnauthorized
	case errkind.UserRevoked, errkind.AdminOnly:
		return http.StatusForbidden
	case errkind.UserNotFound, errkind.NotFound:
		return http.StatusNotFound
	case errkind.InvalidSignature, errkind.InvalidInput, errkind.TypeMismatch, errkind.CorruptEntry:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := errkind.Of(err)
	if kind == "" {
		kind = errkind.ServerError
	}
	respondJSON(w, statusForKind(kind), ErrorBody{Kind: string(kind), Message: err.Error()})
}
