package transport

import (
	"sync"
	"time"
)

// etagCache holds the last validated payload per request URL. Entries are
// replaced wholesale on every fresh 200 and carry no TTL; correctness relies
// on the server's ETag semantics.
type etagCache struct {
	mu      sync.Mutex
	entries map[string]etagEntry
}

type etagEntry struct {
	etag    string
	data    []byte
	created time.Time
}

func newEtagCache() *etagCache {
	return &etagCache{
		entries: make(map[string]etagEntry),
	}
}

// get returns the entry for the exact URL that produced it.
func (c *etagCache) get(url string) (etagEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[url]
	return entry, ok
}

func (c *etagCache) put(url, etag string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[url] = etagEntry{
		etag:    etag,
		data:    data,
		created: time.Now(),
	}
}

func (c *etagCache) drop(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, url)
}

func (c *etagCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]etagEntry)
}
