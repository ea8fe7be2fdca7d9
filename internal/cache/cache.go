// Package cache memoizes AI responses keyed on a stable hash of the request
// parameters. Entries expire after a fixed TTL and are evicted lazily.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultTTL is how long an entry is served before it counts as a miss.
const DefaultTTL = 7 * 24 * time.Hour

// htmlPrefixLen bounds how much of an HTML parameter takes part in the key.
const htmlPrefixLen = 1000

// hashedFields are the only parameters that take part in the key. Anything
// else in Params (timestamps, request ids) is ignored.
var hashedFields = []string{"type", "instruction", "url", "html", "items"}

// Params are the structured inputs of a cacheable request.
type Params map[string]any

// Key identifies a cache entry. Type and URL are kept in clear so entries
// can be invalidated by pattern; Hash is the content address.
type Key struct {
	Type string
	URL  string
	Hash string
}

func (k Key) String() string {
	return k.Type + ":" + k.Hash
}

// GenerateKey hashes the JSON encoding of the hashed fields of p. The
// encoding has lexicographically sorted keys, so insertion order of p does
// not matter.
func GenerateKey(p Params) Key {
	subset := make(map[string]any, len(hashedFields))
	for _, name := range hashedFields {
		v, ok := p[name]
		if !ok || v == nil {
			continue
		}
		if name == "html" {
			if s, ok := v.(string); ok && len(s) > htmlPrefixLen {
				v = s[:htmlPrefixLen]
			}
		}
		subset[name] = v
	}

	// encoding/json writes map keys in sorted order.
	payload, err := json.Marshal(subset)
	if err != nil {
		// fmt also prints maps with sorted keys.
		payload = []byte(fmt.Sprintf("%v", subset))
	}
	sum := sha256.Sum256(payload)

	typ, _ := p["type"].(string)
	u, _ := p["url"].(string)
	return Key{Type: typ, URL: u, Hash: hex.EncodeToString(sum[:])}
}

// Entry is a stored response.
type Entry struct {
	Key       string          `json:"key"`
	URL       string          `json:"url,omitempty"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Pattern selects entries for invalidation. Empty fields match everything.
type Pattern struct {
	URL  string `json:"url,omitempty"`
	Type string `json:"type,omitempty"`
}

func (p Pattern) normalized() Pattern {
	return Pattern{
		URL:  strings.TrimRight(strings.ToLower(strings.TrimSpace(p.URL)), "/"),
		Type: strings.TrimSpace(p.Type),
	}
}

// matches is best-effort: a type prefix on the key plus a substring match on
// the recorded URL.
func (p Pattern) matches(key, entryURL string) bool {
	if p.Type != "" && !strings.HasPrefix(key, p.Type+":") {
		return false
	}
	if p.URL != "" && !strings.Contains(strings.ToLower(entryURL), p.URL) {
		return false
	}
	return true
}

// Cache is the storage contract shared by the in-memory and Redis backends.
type Cache interface {
	Get(ctx context.Context, key Key) ([]byte, bool)
	Set(ctx context.Context, key Key, data []byte)
	ClearByPattern(ctx context.Context, p Pattern) int
	ClearExpired(ctx context.Context) int
}

// GetJSON looks up key and decodes the stored data into a T.
func GetJSON[T any](ctx context.Context, c Cache, key Key) (T, bool) {
	var out T
	if c == nil {
		return out, false
	}
	data, ok := c.Get(ctx, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, false
	}
	return out, true
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c Cache, key Key, v any) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.Set(ctx, key, data)
	return nil
}
