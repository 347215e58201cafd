package activity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const fingerprintContentPrefix = 100

// Fingerprint derives the cache key for a slice from its title, URL and a
// bounded content prefix. Identical inputs always produce the same key.
func Fingerprint(s Slice) string {
	content := truncateRunes(s.Content, fingerprintContentPrefix)
	sum := sha256.Sum256([]byte(s.Title + "|" + s.URL + "|" + content))
	return hex.EncodeToString(sum[:])
}

// Cache is the durable fingerprint -> category mapping. It grows unbounded
// over the life of one goal and is cleared wholesale on goal change.
type Cache struct {
	path string

	mu      sync.Mutex
	entries map[string]Category
	dirty   bool
}

// LoadCache reads the cache file. A missing or corrupt file starts empty.
func LoadCache(path string) *Cache {
	c := &Cache{path: path, entries: make(map[string]Category)}
	c.Reload()
	return c
}

// Reload replaces the in-memory entries with whatever is on disk,
// dropping unflushed ones. Called when another process cleared the cache
// file on goal change, so stale entries are never written back.
func (c *Cache) Reload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Category)
	c.dirty = false
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		c.entries = make(map[string]Category)
	}
}

func (c *Cache) Path() string {
	return c.path
}

func (c *Cache) Get(fp string) (Category, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cat, ok := c.entries[fp]
	return cat, ok
}

func (c *Cache) Put(fp string, cat Category) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fp] = cat
	c.dirty = true
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Flush persists the cache if new entries were added since the last flush.
// One write per aggregation call, not per slice.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	c.dirty = false
	return nil
}

// Clear drops all entries and removes the cache file. Used on goal change.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Category)
	c.dirty = false
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}
