package pagination

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// DefaultLimit is the standard page size when a limit is not provided.
	DefaultLimit = 25
	// MaxLimit caps how many rows any cursor query can request.
	MaxLimit = 100
)

// Cursor is the keyset position of the last row a client has seen.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// NormalizeLimit enforces the configured default and maximum limits.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Apply orders a query newest first, seeks past cursor and fetches one row
// beyond the page so Trim can tell whether another page exists.
func Apply(query *gorm.DB, cursor *Cursor, limit int) *gorm.DB {
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	return query.Order("created_at DESC, id DESC").Limit(NormalizeLimit(limit) + 1)
}

// Trim cuts rows to the page size and returns the cursor of the last row kept
// when more rows follow.
func Trim[T any](rows []T, limit int, cursorOf func(T) Cursor) ([]T, *Cursor) {
	size := NormalizeLimit(limit)
	if len(rows) <= size {
		return rows, nil
	}
	rows = rows[:size]
	next := cursorOf(rows[size-1])
	return rows, &next
}

// ErrInvalidCursor is returned for tokens EncodeCursor did not produce.
var ErrInvalidCursor = errors.New("invalid cursor")

// cursorSize is 8 bytes of unix nanoseconds followed by the 16 byte row id.
const cursorSize = 8 + 16

// EncodeCursor renders a cursor as an opaque URL-safe token.
func EncodeCursor(cursor Cursor) string {
	buf := make([]byte, cursorSize)
	binary.BigEndian.PutUint64(buf[:8], uint64(cursor.CreatedAt.UnixNano()))
	copy(buf[8:], cursor.ID[:])
	return base64.RawURLEncoding.EncodeToString(buf)
}

// ParseCursor decodes a token produced by EncodeCursor. Blank input yields nil.
func ParseCursor(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if len(raw) != cursorSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidCursor, len(raw))
	}
	id, err := uuid.FromBytes(raw[8:])
	if err != nil || id == uuid.Nil {
		return nil, fmt.Errorf("%w: bad row id", ErrInvalidCursor)
	}
	nanos := int64(binary.BigEndian.Uint64(raw[:8]))
	return &Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}
