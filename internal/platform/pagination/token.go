package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidPageToken indicates the supplied page token could not be decoded.
var ErrInvalidPageToken = errors.New("pagination: invalid page token")

// Cursor marks the position after the last document of a page. List queries
// order by a timestamp field with the document ID as tie-breaker, so the pair
// identifies the resume point exactly.
type Cursor struct {
	Timestamp time.Time `json:"ts"`
	DocID     string    `json:"id"`
}

// EncodeToken serialises the cursor into a base64 URL-safe page token.
// A zero cursor yields an empty token.
func EncodeToken(cursor Cursor) string {
	if cursor.Timestamp.IsZero() && cursor.DocID == "" {
		return ""
	}
	cursor.Timestamp = cursor.Timestamp.UTC()
	data, err := json.Marshal(cursor)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeToken parses a page token produced by EncodeToken back into a cursor.
// An empty token decodes to the zero cursor.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if cursor.DocID == "" {
		return Cursor{}, fmt.Errorf("%w: missing document id", ErrInvalidPageToken)
	}
	return cursor, nil
}
