// Package uri implements Mindoo URIs: mdb://<kind>/<base> where <base> is a
// base-URL-safe encoding of the join payload's JSON. A thin, pure codec — it
// carries no knowledge of what a join-request or join-response actually
// contains, matching how internal/idcodec stays agnostic of CRDT payloads.
package uri

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/amaydixit11/mindoo/internal/errkind"
)

const scheme = "mdb://"

// KindJoinRequest and KindJoinResponse are the only two Mindoo URI kinds
// defined by the join flow.
const (
	KindJoinRequest  = "join-request"
	KindJoinResponse = "join-response"
)

// IsMindooURI reports whether s has the mdb:// scheme.
func IsMindooURI(s string) bool {
	return strings.HasPrefix(s, scheme)
}

// EncodeMindooURI renders payload as "mdb://<kind>/<base>".
func EncodeMindooURI(kind string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", errkind.Wrap(errkind.InvalidInput, "marshal mindoo uri payload", err)
	}
	return scheme + kind + "/" + base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeMindooURI splits a Mindoo URI back into its kind and raw JSON
// payload. It does not unmarshal the payload into a concrete type — callers
// decode into the shape they expect (join.Request or join.Response) and must
// check kind against what they asked for, per spec.md §4.6's "joinTenant
// fails with TypeMismatch when handed a request URI and vice versa".
func DecodeMindooURI(s string) (kind string, payload json.RawMessage, err error) {
	if !IsMindooURI(s) {
		return "", nil, errkind.New(errkind.InvalidInput, "not a mindoo uri")
	}
	rest := strings.TrimPrefix(s, scheme)
	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return "", nil, errkind.New(errkind.InvalidInput, "malformed mindoo uri: missing kind separator")
	}
	kind = rest[:idx]
	encoded := rest[idx+1:]
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, errkind.Wrap(errkind.InvalidInput, "decode mindoo uri payload", err)
	}
	return kind, json.RawMessage(data), nil
}
