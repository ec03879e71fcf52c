package wave

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/accesswatch/accesswatch/internal/errors"
)

// docCache holds item documentation fetched from the vendor. Entries never
// expire; the documentation corpus is static per API version. Concurrent
// first fetches for the same item collapse into one request.
type docCache struct {
	mu      sync.RWMutex
	entries map[string]*ItemDoc
	group   singleflight.Group
}

func (d *docCache) get(itemID string) (*ItemDoc, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.entries[itemID]
	return doc, ok
}

func (d *docCache) put(itemID string, doc *ItemDoc) {
	d.mu.Lock()
	if d.entries == nil {
		d.entries = make(map[string]*ItemDoc)
	}
	d.entries[itemID] = doc
	d.mu.Unlock()
}

// FetchDoc returns the vendor documentation for one issue item, cached
// indefinitely after the first successful fetch.
func (c *Client) FetchDoc(ctx context.Context, itemID string) (*ItemDoc, error) {
	if itemID == "" {
		return nil, apperrors.Validation("item id is required")
	}

	if doc, ok := c.docs.get(itemID); ok {
		return doc, nil
	}

	v, err, _ := c.docs.group.Do(itemID, func() (any, error) {
		if doc, ok := c.docs.get(itemID); ok {
			return doc, nil
		}
		doc, err := c.fetchDoc(ctx, itemID)
		if err != nil {
			return nil, err
		}
		c.docs.put(itemID, doc)
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ItemDoc), nil
}

func (c *Client) fetchDoc(ctx context.Context, itemID string) (*ItemDoc, error) {
	q := url.Values{}
	q.Set("id", itemID)

	_, body, err := c.get(ctx, c.docsURL+"?"+q.Encode(), &c.lastDoc)
	if err != nil {
		return nil, err
	}

	var doc ItemDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, apperrors.Upstream(fmt.Sprintf("invalid doc json for item %s", itemID), err)
	}
	doc.ItemID = itemID
	return &doc, nil
}
