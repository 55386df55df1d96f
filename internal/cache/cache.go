package cache

import (
	"net/http"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Entry is a stored GET response.
type Entry struct {
	Key        string
	StatusCode int
	Header     http.Header
	Body       []byte
	ExpiresAt  time.Time
}

// ResponseCache keeps GET responses for a per-entry TTL. Expired entries are
// dropped when read, there is no background sweep.
type ResponseCache struct {
	items *ttlcache.Cache[string, Entry]
}

func NewResponseCache() *ResponseCache {
	return &ResponseCache{
		items: ttlcache.New[string, Entry](
			ttlcache.WithDisableTouchOnHit[string, Entry](),
		),
	}
}

func (c *ResponseCache) Get(key string) (Entry, bool) {
	item := c.items.Get(key)
	if item == nil || item.IsExpired() {
		return Entry{}, false
	}
	return item.Value(), true
}

// Set stores a response, replacing any previous entry for key.
// Non positive ttl stores nothing.
func (c *ResponseCache) Set(key string, statusCode int, header http.Header, body []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.items.Set(key, Entry{
		Key:        key,
		StatusCode: statusCode,
		Header:     header.Clone(),
		Body:       body,
		ExpiresAt:  time.Now().Add(ttl),
	}, ttl)
}

func (c *ResponseCache) Delete(key string) {
	c.items.Delete(key)
}

func (c *ResponseCache) Len() int {
	return c.items.Len()
}
