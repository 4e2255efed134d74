// Package reading holds the latest valid sensor reading and shares it
// between the acquisition loop and its consumers.
package reading

import "sync"

// Reading is one validated measurement. Immutable once constructed.
// The JSON tags are the snapshot file format.
type Reading struct {
	Timestamp int64   `json:"dateTime"`
	PM25      float64 `json:"pm2_5"`
	PM100     float64 `json:"pm10_0"`
}

// Cache holds the most recent reading. A single writer (the duty-cycle
// controller) replaces the value wholesale; any number of readers may
// call Get concurrently and never observe a partial update.
type Cache struct {
	mu      sync.RWMutex
	current *Reading
}

func NewCache() *Cache {
	return &Cache{}
}

// Publish replaces the cached reading.
func (c *Cache) Publish(r Reading) {
	c.mu.Lock()
	c.current = &r
	c.mu.Unlock()
}

// Get returns the most recently published reading, or false if no
// sample has ever succeeded.
func (c *Cache) Get() (Reading, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.current == nil {
		return Reading{}, false
	}

	return *c.current, true
}

// MergeInto folds the PM fields of the cached reading into a host data
// packet under their fixed field names. Before the first successful
// sample nothing is added; the fields are omitted rather than
// fabricated as zeros.
func (c *Cache) MergeInto(packet map[string]float64) {
	r, ok := c.Get()
	if !ok {
		return
	}

	packet["pm2_5"] = r.PM25
	packet["pm10_0"] = r.PM100
}
