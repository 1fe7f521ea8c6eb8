package sync

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"time"

	mcrypto "github.com/amaydixit11/mindoo/internal/crypto"
	"github.com/amaydixit11/mindoo/internal/errkind"
	"github.com/amaydixit11/mindoo/internal/store"
)

// ClientConfig tunes a Client's retry/backoff/timeout behavior, per
// spec.md §4.7 and §5's cancellation/timeout model.
type ClientConfig struct {
	BaseURL       string
	TenantID      string
	DBID          string
	RetryAttempts int
	RetryDelay    time.Duration
	Timeout       time.Duration
}

// DefaultClientConfig returns spec.md §4.7's defaults (30s timeout).
func DefaultClientConfig(baseURL, tenantID, dbID string) ClientConfig {
	return ClientConfig{
		BaseURL:       baseURL,
		TenantID:      tenantID,
		DBID:          dbID,
		RetryAttempts: 3,
		RetryDelay:    500 * time.Millisecond,
		Timeout:       30 * time.Second,
	}
}

// Client is the sync protocol's client half, implementing
// document.RemoteStore directly so a DocumentEngine can pull/push against
// it without an adapter. Grounded on the teacher's internal/sync/p2p.go
// retry-with-exponential-backoff shape, re-pointed from a libp2p stream to
// an HTTP round trip.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	token      string
	rsaPriv    *rsa.PrivateKey
}

// NewClient constructs a Client. rsaPriv unwraps getEntries' RSA-OAEP
// re-wrapped ciphertext; it may be nil if the caller never calls GetEntries.
func NewClient(cfg ClientConfig, rsaPriv *rsa.PrivateKey) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		rsaPriv:    rsaPriv,
	}
}

// Authenticate runs the challenge/response handshake for username, signing
// the server's nonce with signFn, and stores the issued JWT for subsequent
// calls.
func (c *Client) Authenticate(ctx context.Context, username string, signFn func(data []byte) []byte) error {
	var chResp ChallengeResponse
	if err := c.call(ctx, "/auth/challenge", ChallengeRequest{Username: username}, &chResp, false); err != nil {
		return err
	}
	sig := signFn([]byte(chResp.Challenge))
	var authResp AuthenticateResponse
	if err := c.call(ctx, "/auth/authenticate", AuthenticateRequest{Challenge: chResp.Challenge, Signature: sig}, &authResp, false); err != nil {
		return err
	}
	if !authResp.Success {
		return errkind.New(errkind.InvalidSignature, "authentication rejected: "+authResp.Error)
	}
	c.token = authResp.Token
	return nil
}

func (c *Client) scope() dbScopedRequest {
	return dbScopedRequest{TenantID: c.cfg.TenantID, DBID: c.cfg.DBID}
}

// GetCapabilities fetches the server's advertised feature set, falling back
// to LegacyCapabilities if the endpoint is unavailable, per spec.md §4.7's
// negotiation step.
func (c *Client) GetCapabilities(ctx context.Context) Capabilities {
	var resp Capabilities
	if err := c.call(ctx, "/sync/capabilities", nil, &resp, true); err != nil {
		return LegacyCapabilities
	}
	return resp
}

// FindNewEntries calls findNewEntries.
func (c *Client) FindNewEntries(ctx context.Context, haveIDs []string) ([]store.Metadata, error) {
	var resp EntriesResponse
	req := FindNewEntriesRequest{dbScopedRequest: c.scope(), HaveIDs: haveIDs}
	if err := c.call(ctx, "/sync/findNewEntries", req, &resp, true); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// FindNewEntriesForDoc calls findNewEntriesForDoc.
func (c *Client) FindNewEntriesForDoc(ctx context.Context, haveIDs []string, docID string) ([]store.Metadata, error) {
	var resp EntriesResponse
	req := FindNewEntriesForDocRequest{dbScopedRequest: c.scope(), HaveIDs: haveIDs, DocID: docID}
	if err := c.call(ctx, "/sync/findNewEntriesForDoc", req, &resp, true); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// FindEntries calls findEntries.
func (c *Client) FindEntries(ctx context.Context, entryType store.EntryType, fromMs, untilMs *int64) ([]store.Metadata, error) {
	var resp EntriesResponse
	req := FindEntriesRequest{dbScopedRequest: c.scope(), Type: entryType, CreationDateFrom: fromMs, CreationDateUntil: untilMs}
	if err := c.call(ctx, "/sync/findEntries", req, &resp, true); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// ScanEntriesSince calls scanEntriesSince.
func (c *Client) ScanEntriesSince(ctx context.Context, cursor string, limit int, filter *store.ScanFilter) (store.ScanPage, error) {
	var resp ScanResponse
	req := ScanRequest{dbScopedRequest: c.scope(), Cursor: cursor, Limit: limit, Filters: filter}
	if err := c.call(ctx, "/sync/scanEntriesSince", req, &resp, true); err != nil {
		return store.ScanPage{}, err
	}
	return store.ScanPage{Entries: resp.Entries, NextCursor: resp.NextCursor, HasMore: resp.HasMore}, nil
}

// GetIDBloomSummary calls getIdBloomSummary.
func (c *Client) GetIDBloomSummary(ctx context.Context) (store.BloomSummary, error) {
	var resp BloomResponse
	if err := c.call(ctx, "/sync/getIdBloomSummary", c.scope(), &resp, true); err != nil {
		return store.BloomSummary{}, err
	}
	return resp.Summary, nil
}

// GetCompactionStatus calls getCompactionStatus.
func (c *Client) GetCompactionStatus(ctx context.Context) (store.CompactionStatus, error) {
	var resp CompactionResponse
	if err := c.call(ctx, "/sync/getCompactionStatus", c.scope(), &resp, true); err != nil {
		return store.CompactionStatus{}, err
	}
	return resp.Status, nil
}

// GetEntries implements document.RemoteStore: fetches ids, RSA-unwraps each
// entry's re-wrapped ciphertext with the client's own RSA private key to
// recover the original symmetric ciphertext, per spec.md §4.7.
func (c *Client) GetEntries(ctx context.Context, ids []string) ([]store.Entry, error) {
	var resp GetEntriesResponse
	req := GetEntriesRequest{dbScopedRequest: c.scope(), IDs: ids}
	if err := c.call(ctx, "/sync/getEntries", req, &resp, true); err != nil {
		return nil, err
	}
	if c.rsaPriv == nil {
		return nil, errkind.New(errkind.CryptoFailure, "client has no rsa private key to unwrap getEntries response")
	}
	out := make([]store.Entry, 0, len(resp.Entries))
	for _, ne := range resp.Entries {
		plaintext, err := mcrypto.RSAUnwrapHybrid(c.rsaPriv, ne.WrappedKey, ne.Payload)
		if err != nil {
			return nil, err
		}
		m := ne.Metadata
		out = append(out, store.Entry{
			EntryType: m.EntryType, ID: m.ID, ContentHash: m.ContentHash, DocID: m.DocID,
			DependencyIDs: m.DependencyIDs, CreatedAt: m.CreatedAt,
			CreatedByPublicKey: m.CreatedByPublicKey, DecryptionKeyID: m.DecryptionKeyID,
			OriginalSize: m.OriginalSize, EncryptedSize: m.EncryptedSize,
			EncryptedData: plaintext,
		})
	}
	return out, nil
}

// PutEntries implements document.RemoteStore.
func (c *Client) PutEntries(ctx context.Context, entries []store.Entry) error {
	req := PutEntriesRequest{dbScopedRequest: c.scope(), Entries: entries}
	return c.call(ctx, "/sync/putEntries", req, &struct{}{}, true)
}

// HasEntries calls hasEntries.
func (c *Client) HasEntries(ctx context.Context, ids []string) ([]string, error) {
	var resp IDsResponse
	req := HasEntriesRequest{dbScopedRequest: c.scope(), IDs: ids}
	if err := c.call(ctx, "/sync/hasEntries", req, &resp, true); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

// StoreID implements document.RemoteStore: a Client is always scoped to one
// remote database id (c.cfg.DBID), so that is its reported store identity —
// no extra round trip is needed for the comparison PullChangesFrom/
// PushChangesTo run before transferring anything.
func (c *Client) StoreID(ctx context.Context) (string, error) {
	return c.cfg.DBID, nil
}

// GetAllIDs implements document.RemoteStore: calls GET /sync/getAllIds.
func (c *Client) GetAllIDs(ctx context.Context) ([]string, error) {
	var resp IDsResponse
	url := c.cfg.BaseURL + "/sync/getAllIds?tenantId=" + c.cfg.TenantID + "&dbId=" + c.cfg.DBID
	if err := c.doWithRetry(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

// ResolveDependencies calls resolveDependencies.
func (c *Client) ResolveDependencies(ctx context.Context, startID string, opts store.ResolveOptions) ([]string, error) {
	var resp IDsResponse
	req := ResolveDependenciesRequest{dbScopedRequest: c.scope(), StartID: startID, Options: opts}
	if err := c.call(ctx, "/sync/resolveDependencies", req, &resp, true); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

// call POSTs body to path and decodes the JSON response into out, retrying
// retriable failures with exponential backoff via doWithRetry. authed is not
// consulted: every call retries the same way, and the bearer token is sent
// whenever one is set.
func (c *Client) call(ctx context.Context, path string, body any, out any, authed bool) error {
	var raw []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errkind.Wrap(errkind.InvalidInput, "marshal request body", err)
		}
		raw = b
	}
	return c.doWithRetry(ctx, http.MethodPost, c.cfg.BaseURL+path, raw, out)
}

func (c *Client) doWithRetry(ctx context.Context, method, url string, body []byte, out any) error {
	attempts := c.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := c.cfg.RetryDelay
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := c.doOnce(ctx, method, url, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !errkind.Retriable(errkind.Of(err)) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return errkind.Wrap(errkind.Cancelled, "request cancelled during backoff", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, url string, body []byte, out any) error {
	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, url, bodyReader)
	if err != nil {
		return errkind.Wrap(errkind.NetworkError, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return errkind.Wrap(errkind.Timeout, "request timed out", err)
		}
		if ctx.Err() == context.Canceled {
			return errkind.Wrap(errkind.Cancelled, "request cancelled", err)
		}
		return errkind.Wrap(errkind.NetworkError, "http request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	var eb ErrorBody
	_ = json.NewDecoder(resp.Body).Decode(&eb)
	if eb.Kind != "" {
		return errkind.New(errkind.Kind(eb.Kind), eb.Message)
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return errkind.New(errkind.InvalidToken, "unauthorized")
	case http.StatusForbidden:
		return errkind.New(errkind.UserRevoked, "forbidden")
	case http.StatusNotFound:
		return errkind.New(errkind.UserNotFound, "not found")
	default:
		return errkind.New(errkind.ServerError, "server error: "+resp.Status)
	}
}
