package offline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Hi-dle-hancom/frontend-sub003/pkg/logger"
)

const defaultCacheCapacity = 100 * 1024 * 1024 // 100MB

// CachedResponse is one stored backend response keyed by request hash
type CachedResponse struct {
	ID          string         `json:"id"`
	RequestHash string         `json:"request_hash"`
	Request     map[string]any `json:"request"`
	Response    any            `json:"response"`
	Timestamp   time.Time      `json:"timestamp"`
	ExpiresAt   time.Time      `json:"expires_at"`
	SizeBytes   int64          `json:"size_bytes"`
}

// CacheStats summarizes cache occupancy
type CacheStats struct {
	Entries    int
	TotalBytes int64
	Capacity   int64
}

// ResponseCache is a size/TTL-bounded store of backend responses. Entries
// persist one file per request hash; the sum of entry sizes never exceeds
// the capacity, with oldest-by-timestamp evicted first.
type ResponseCache struct {
	mu         sync.Mutex
	entries    map[string]*CachedResponse
	totalBytes int64
	capacity   int64
	baseTTL    time.Duration
	dir        string
	persist    bool
	log        *logger.Logger
}

// NewResponseCache creates a cache persisted under dir. capacity <= 0
// falls back to 100MB, baseTTL <= 0 to one hour.
func NewResponseCache(dir string, capacity int64, baseTTL time.Duration) *ResponseCache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	if baseTTL <= 0 {
		baseTTL = time.Hour
	}
	return &ResponseCache{
		entries:  make(map[string]*CachedResponse),
		capacity: capacity,
		baseTTL:  baseTTL,
		dir:      dir,
		persist:  dir != "",
		log:      logger.WithComponent("response_cache"),
	}
}

// HashRequest computes the canonical hash of a request payload. Map keys
// marshal in sorted order, so equal payloads hash equal.
func HashRequest(payload map[string]any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", payload))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Load restores persisted entries. Corrupted files are deleted and never
// block startup.
func (c *ResponseCache) Load() error {
	if !c.persist {
		return nil
	}

	files, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		path := filepath.Join(c.dir, f.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry CachedResponse
		if err := json.Unmarshal(data, &entry); err != nil || entry.RequestHash == "" {
			c.log.Warn("corrupt cache file removed", "path", path)
			os.Remove(path)
			continue
		}

		c.entries[entry.RequestHash] = &entry
		c.totalBytes += entry.SizeBytes
	}

	c.evictToCapacityLocked(0)
	c.log.Info("cache restored", "entries", len(c.entries), "bytes", c.totalBytes)
	return nil
}

// Put stores a response under the hash of payload with an explicit TTL,
// evicting oldest entries until the new entry fits.
func (c *ResponseCache) Put(payload map[string]any, response any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.baseTTL
	}

	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("response is not serializable: %w", err)
	}
	size := int64(len(data))
	if size > c.capacity {
		return fmt.Errorf("response of %d bytes exceeds cache capacity", size)
	}

	hash := HashRequest(payload)
	now := time.Now()
	entry := &CachedResponse{
		ID:          uuid.NewString(),
		RequestHash: hash,
		Request:     payload,
		Response:    response,
		Timestamp:   now,
		ExpiresAt:   now.Add(ttl),
		SizeBytes:   size,
	}

	c.mu.Lock()
	c.removeLocked(hash) // replacing an entry must not double-count its size
	c.evictToCapacityLocked(size)
	c.entries[hash] = entry
	c.totalBytes += size
	c.mu.Unlock()

	if c.persist {
		if err := c.writeEntry(entry); err != nil {
			c.log.Error("failed to persist cache entry", "hash", hash, "error", err)
		}
	}
	return nil
}

// Get returns the cached response for payload if present and unexpired.
// An expired entry is evicted on access.
func (c *ResponseCache) Get(payload map[string]any) (any, bool) {
	hash := HashRequest(payload)

	c.mu.Lock()
	entry, ok := c.entries[hash]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	if time.Now().After(entry.ExpiresAt) {
		c.removeLocked(hash)
		c.mu.Unlock()
		return nil, false
	}
	response := entry.Response
	c.mu.Unlock()

	return response, true
}

// Remove evicts the entry for payload if present
func (c *ResponseCache) Remove(payload map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(HashRequest(payload))
}

// Stats returns current occupancy
func (c *ResponseCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Entries:    len(c.entries),
		TotalBytes: c.totalBytes,
		Capacity:   c.capacity,
	}
}

// Sweep evicts entries older than their category's dynamic TTL: base TTL
// scaled by a per-category multiplier, independent of the explicit TTL the
// entry was inserted with.
func (c *ResponseCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for hash, entry := range c.entries {
		limit := time.Duration(float64(c.baseTTL) * categoryMultiplier(entry.Request))
		if now.Sub(entry.Timestamp) > limit {
			c.removeLocked(hash)
			evicted++
		}
	}
	if evicted > 0 {
		c.log.Debug("sweep evicted entries", "count", evicted)
	}
	return evicted
}

// StartSweeper runs Sweep periodically until ctx is done
func (c *ResponseCache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				c.Sweep(now)
			}
		}
	}()
}

// categoryMultiplier scales the base TTL by request category: template-like
// responses stay valid longest, statistics go stale fastest.
func categoryMultiplier(request map[string]any) float64 {
	reqType, _ := request["type"].(string)
	switch {
	case strings.Contains(reqType, "template"):
		return 3.0
	case strings.Contains(reqType, "profile"), strings.Contains(reqType, "agent"):
		return 2.0
	case strings.Contains(reqType, "statistic"), strings.Contains(reqType, "stats"):
		return 0.5
	default:
		return 1.0
	}
}

// evictToCapacityLocked removes oldest-by-timestamp entries until incoming
// bytes fit; the caller holds the lock.
func (c *ResponseCache) evictToCapacityLocked(incoming int64) {
	for c.totalBytes+incoming > c.capacity && len(c.entries) > 0 {
		oldestHash := ""
		var oldestTime time.Time
		for hash, entry := range c.entries {
			if oldestHash == "" || entry.Timestamp.Before(oldestTime) {
				oldestHash = hash
				oldestTime = entry.Timestamp
			}
		}
		c.log.Debug("evicting oldest cache entry", "hash", oldestHash)
		c.removeLocked(oldestHash)
	}
}

// removeLocked drops an entry and its persisted mirror; lock held
func (c *ResponseCache) removeLocked(hash string) {
	entry, ok := c.entries[hash]
	if !ok {
		return
	}
	delete(c.entries, hash)
	c.totalBytes -= entry.SizeBytes

	if c.persist {
		os.Remove(c.entryPath(hash))
	}
}

func (c *ResponseCache) writeEntry(entry *CachedResponse) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return atomicWriteFile(c.entryPath(entry.RequestHash), data, 0644)
}

func (c *ResponseCache) entryPath(hash string) string {
	return filepath.Join(c.dir, hash+".json")
}
