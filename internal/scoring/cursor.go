package scoring

import (
	"context"
	"fmt"

	"github.com/shadowcheck/shadowcheck/internal/threat"
)

// PageReader is the read half of Store.
type PageReader interface {
	AccessPointsAfter(ctx context.Context, after string, limit int) ([]threat.Stats, error)
}

// Cursor walks access points in the reader's bssid order, one keyset page at
// a time. The cursor position is the last bssid returned; an empty page ends
// the walk. Ordering belongs to the reader, so the cursor only rejects a page
// that ends where the previous one did.
type Cursor struct {
	reader   PageReader
	pageSize int
	after    string
	pages    int
	done     bool
}

// NewCursor starts a walk after the given bssid. An empty after starts at
// the beginning.
func NewCursor(r PageReader, after string, pageSize int) *Cursor {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Cursor{reader: r, pageSize: pageSize, after: after}
}

// Next returns the next page. After the walk ends it returns an empty page
// and a nil error.
func (c *Cursor) Next(ctx context.Context) ([]threat.Stats, error) {
	if c.done {
		return nil, nil
	}
	page, err := c.reader.AccessPointsAfter(ctx, c.after, c.pageSize)
	if err != nil {
		return nil, fmt.Errorf("read page after %q: %w", c.after, err)
	}
	if len(page) == 0 {
		c.done = true
		return nil, nil
	}
	last := page[len(page)-1].BSSID
	if last == c.after {
		return nil, fmt.Errorf("page after %q did not advance (last %q)", c.after, last)
	}
	c.after = last
	c.pages++
	return page, nil
}

// After is the resume position: the last bssid returned so far.
func (c *Cursor) After() string { return c.after }

// Pages is the number of non-empty pages returned.
func (c *Cursor) Pages() int { return c.pages }

// Done reports whether the walk has ended.
func (c *Cursor) Done() bool { return c.done }
