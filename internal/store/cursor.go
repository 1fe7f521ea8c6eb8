package store

import (
	"encoding/base64"
	"encoding/json"

	"github.com/amaydixit11/mindoo/internal/errkind"
)

// cursorPosition is the opaque-to-callers state scanEntriesSince paginates
// on: (createdAt, id) ascending, stable across restarts.
type cursorPosition struct {
	CreatedAt int64  `json:"createdAt"`
	ID        string `json:"id"`
}

// encodeCursor renders pos as the opaque cursor token callers pass back.
func encodeCursor(pos cursorPosition) string {
	raw, _ := json.Marshal(pos)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// decodeCursor inverts encodeCursor; an empty string decodes to the
// beginning-of-scan position (createdAt=0, id="").
func decodeCursor(cursor string) (cursorPosition, error) {
	if cursor == "" {
		return cursorPosition{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return cursorPosition{}, errkind.Wrap(errkind.InvalidInput, "decode cursor", err)
	}
	var pos cursorPosition
	if err := json.Unmarshal(raw, &pos); err != nil {
		return cursorPosition{}, errkind.Wrap(errkind.InvalidInput, "unmarshal cursor", err)
	}
	return pos, nil
}
