package engine

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/maxdata-sh/max/internal/maxerr"
)

// PageRequest carries a page limit and an opaque cursor (§3).
type PageRequest struct {
	Limit  int
	Cursor string
}

// cursorPayload is what Cursor actually encodes: a plain offset. Opaque
// to callers, but a concrete shape internally so FetchSize/Offset can be
// derived.
type cursorPayload struct {
	Offset int `json:"offset"`
}

// Offset decodes the request's cursor into an offset, defaulting to 0 for
// an empty cursor (first page).
func (r PageRequest) Offset() (int, error) {
	if r.Cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(r.Cursor)
	if err != nil {
		return 0, maxerr.BadInputError("engine", fmt.Sprintf("malformed cursor: %v", err))
	}
	var c cursorPayload
	if err := json.Unmarshal(raw, &c); err != nil {
		return 0, maxerr.BadInputError("engine", fmt.Sprintf("malformed cursor: %v", err))
	}
	return c.Offset, nil
}

// FetchSize returns limit+1, the "fetch one extra to detect more"
// pattern this spec standardizes on. A non-positive Limit is treated as
// unbounded in the sense of "fetch everything" (FetchSize == 0 signals
// that to callers).
func (r PageRequest) FetchSize() int {
	if r.Limit <= 0 {
		return 0
	}
	return r.Limit + 1
}

func encodeCursor(offset int) string {
	raw, _ := json.Marshal(cursorPayload{Offset: offset})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Page is a single page of results.
type Page[T any] struct {
	Items   []T
	HasMore bool
	Cursor  string
}

// PaginateRows applies the "fetch limit+1, trim, compute cursor" pattern
// over an already-fetched overfetched slice (len(rows) may be
// req.FetchSize()). offset is the starting offset of rows within the
// full result set.
func PaginateRows[T any](rows []T, req PageRequest, offset int) Page[T] {
	if req.Limit <= 0 {
		return Page[T]{Items: rows, HasMore: false}
	}
	hasMore := len(rows) > req.Limit
	items := rows
	if hasMore {
		items = rows[:req.Limit]
	}
	p := Page[T]{Items: items, HasMore: hasMore}
	if hasMore {
		p.Cursor = encodeCursor(offset + req.Limit)
	}
	return p
}
