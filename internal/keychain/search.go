package keychain

import (
	"errors"

	"github.com/benaskins/keycache/internal/store"
)

// SearchCursor iterates the items matching a query across an ordered list of
// keychains. Keychains whose schema has no relation for the query's type are
// skipped, and so is the rest of a keychain that fails while being searched.
type SearchCursor struct {
	keychains []*Keychain
	query     store.Query

	next int
	cur  store.Cursor
	kc   *Keychain
	done bool
}

// NewSearchCursor returns a cursor over kcs in order. No store is touched
// until the first call to Next.
func NewSearchCursor(kcs []*Keychain, q store.Query) *SearchCursor {
	return &SearchCursor{
		keychains: append([]*Keychain(nil), kcs...),
		query:     q,
	}
}

// Next returns the next matching item. ok is false once every keychain has
// been searched. A keychain that fails is logged at Debug and skipped.
func (c *SearchCursor) Next() (*Item, bool, error) {
	for !c.done {
		if c.cur == nil {
			c.advance()
			continue
		}

		rec, ok, err := c.cur.Next()
		if err != nil {
			c.skip(c.kc, err)
			continue
		}
		if !ok {
			c.closeCurrent()
			continue
		}
		it, err := c.kc.ItemForRecord(rec)
		if err != nil {
			c.skip(c.kc, err)
			continue
		}
		return it, true, nil
	}
	return nil, false, nil
}

// advance opens the store cursor of the next keychain that knows the query's
// record type.
func (c *SearchCursor) advance() {
	for c.next < len(c.keychains) {
		kc := c.keychains[c.next]
		c.next++

		known, err := kc.HasRecordType(c.query.Type)
		if err != nil {
			c.skip(kc, err)
			continue
		}
		if !known {
			continue
		}
		cur, err := kc.Store().Cursor(c.query)
		if errors.Is(err, store.ErrInvalidRecordType) {
			continue
		}
		if err != nil {
			c.skip(kc, err)
			continue
		}
		c.cur, c.kc = cur, kc
		return
	}
	c.done = true
}

// skip gives up on kc for the rest of the search.
func (c *SearchCursor) skip(kc *Keychain, err error) {
	kc.logger.Debug("skipping keychain in search", "type", c.query.Type.String(), "error", err)
	if kc == c.kc {
		c.closeCurrent()
	}
}

func (c *SearchCursor) closeCurrent() {
	if c.cur != nil {
		c.cur.Close()
	}
	c.cur, c.kc = nil, nil
}

// Close releases the current store cursor. Next returns no more items after
// Close.
func (c *SearchCursor) Close() error {
	c.closeCurrent()
	c.done = true
	return nil
}
