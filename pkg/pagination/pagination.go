package pagination

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
)

const (
	// DefaultLimit is the page size used when the server is not configured otherwise.
	DefaultLimit = 50

	// MaxLimit is the largest page a server hands out.
	MaxLimit = 200

	// MaxPages stops a collector that keeps receiving cursors.
	MaxPages = 10000
)

// cursorVersion lets the encoding change without misreading old cursors.
const cursorVersion = 1

type cursorState struct {
	V      int `json:"v"`
	Offset int `json:"o"`
}

// EncodeCursor returns the opaque cursor for the page starting at offset.
func EncodeCursor(offset int) string {
	raw, _ := json.Marshal(cursorState{V: cursorVersion, Offset: offset})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor returns the offset encoded by EncodeCursor. An empty cursor
// is the first page.
func DecodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, mcperrors.InvalidCursor(cursor)
	}
	var st cursorState
	if err := json.Unmarshal(raw, &st); err != nil || st.V != cursorVersion || st.Offset < 0 {
		return 0, mcperrors.InvalidCursor(cursor)
	}
	return st.Offset, nil
}

// NormalizeLimit maps a non-positive limit to DefaultLimit and caps it at MaxLimit.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

// Page returns the slice of items selected by cursor and the cursor of the
// following page, empty on the last page. A cursor past the end is invalid.
func Page[T any](items []T, cursor string, limit int) ([]T, string, error) {
	offset, err := DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	if offset > len(items) || (offset == len(items) && offset > 0) {
		return nil, "", mcperrors.InvalidCursor(cursor)
	}

	end := min(offset+NormalizeLimit(limit), len(items))
	page := items[offset:end:end]
	if end == len(items) {
		return page, "", nil
	}
	return page, EncodeCursor(end), nil
}

// Collector accumulates the pages of a list operation. Items with a key
// already seen are skipped, and a cursor that comes back a second time is
// reported as a loop.
type Collector[T any] struct {
	key        func(T) string
	items      []T
	seenKeys   map[string]struct{}
	seenCursor map[string]struct{}
	next       string
	pages      int
	done       bool
	duplicates int
}

// NewCollector creates a collector. key identifies an item; nil disables
// duplicate detection.
func NewCollector[T any](key func(T) string) *Collector[T] {
	return &Collector[T]{
		key:        key,
		seenKeys:   make(map[string]struct{}),
		seenCursor: make(map[string]struct{}),
	}
}

// Add records one page and the cursor it returned.
func (c *Collector[T]) Add(items []T, nextCursor string) error {
	if c.done {
		return fmt.Errorf("pagination: page added after the final page")
	}
	c.pages++
	for _, item := range items {
		if c.key != nil {
			k := c.key(item)
			if _, dup := c.seenKeys[k]; dup {
				c.duplicates++
				continue
			}
			c.seenKeys[k] = struct{}{}
		}
		c.items = append(c.items, item)
	}

	if nextCursor == "" {
		c.done = true
		c.next = ""
		return nil
	}
	if _, loop := c.seenCursor[nextCursor]; loop {
		return fmt.Errorf("pagination: cursor %q returned twice", nextCursor)
	}
	if c.pages >= MaxPages {
		return fmt.Errorf("pagination: more than %d pages", MaxPages)
	}
	c.seenCursor[nextCursor] = struct{}{}
	c.next = nextCursor
	return nil
}

// NextCursor is the cursor to request next.
func (c *Collector[T]) NextCursor() string { return c.next }

// Done reports whether the final page has been added.
func (c *Collector[T]) Done() bool { return c.done }

// Items returns everything collected so far.
func (c *Collector[T]) Items() []T { return c.items }

// Duplicates returns how many items were skipped as duplicates.
func (c *Collector[T]) Duplicates() int { return c.duplicates }

// FetchFunc fetches the page selected by cursor.
type FetchFunc[T any] func(ctx context.Context, cursor string) (items []T, nextCursor string, err error)

// FetchAll follows cursors from the first page until one comes back without
// a next cursor.
func FetchAll[T any](ctx context.Context, fetch FetchFunc[T], key func(T) string) ([]T, error) {
	c := NewCollector(key)
	for !c.Done() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items, next, err := fetch(ctx, c.NextCursor())
		if err != nil {
			return nil, err
		}
		if err := c.Add(items, next); err != nil {
			return nil, err
		}
	}
	return c.Items(), nil
}
