package persistence

import (
	"encoding/base64"
	"strings"
	"time"
)

// EncodeCursor builds the opaque forward cursor pointing after the given activity.
func EncodeCursor(scheduledOn time.Time, guid string) string {
	raw := scheduledOn.UTC().Format(time.RFC3339Nano) + "|" + guid
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor reverses EncodeCursor.
func DecodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", ErrInvalidCursor
	}
	instant, guid, ok := strings.Cut(string(raw), "|")
	if !ok || guid == "" {
		return time.Time{}, "", ErrInvalidCursor
	}
	at, err := time.Parse(time.RFC3339Nano, instant)
	if err != nil {
		return time.Time{}, "", ErrInvalidCursor
	}
	return at.UTC(), guid, nil
}
