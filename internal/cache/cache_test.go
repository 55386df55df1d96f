package cache

import (
	"net/http"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestSetGet(t *testing.T) {
	c := NewResponseCache()
	header := http.Header{"Content-Type": []string{"application/json"}}
	c.Set("k", http.StatusOK, header, []byte(`{"a":1}`), time.Minute)

	e, ok := c.Get("k")
	assert.Assert(t, ok)
	assert.Equal(t, "k", e.Key)
	assert.Equal(t, `{"a":1}`, string(e.Body))
	assert.Equal(t, "application/json", e.Header.Get("Content-Type"))
	assert.Assert(t, e.ExpiresAt.After(time.Now()))

	header.Set("Content-Type", "text/plain")
	e, _ = c.Get("k")
	assert.Equal(t, "application/json", e.Header.Get("Content-Type"), "stored header must not alias the caller's")
}

func TestExpiry(t *testing.T) {
	c := NewResponseCache()
	c.Set("k", http.StatusOK, nil, []byte("v"), 50*time.Millisecond)
	time.Sleep(25 * time.Millisecond)
	_, ok := c.Get("k")
	assert.Assert(t, ok)
	time.Sleep(50 * time.Millisecond)
	_, ok = c.Get("k")
	assert.Assert(t, !ok)
}

func TestOverwrite(t *testing.T) {
	c := NewResponseCache()
	c.Set("k", http.StatusOK, nil, []byte("old"), time.Minute)
	c.Set("k", http.StatusOK, nil, []byte("new"), time.Minute)
	e, _ := c.Get("k")
	assert.Equal(t, "new", string(e.Body))
	assert.Equal(t, 1, c.Len())
}

func TestDisabledTTL(t *testing.T) {
	c := NewResponseCache()
	c.Set("k", http.StatusOK, nil, []byte("v"), 0)
	_, ok := c.Get("k")
	assert.Assert(t, !ok)
}
