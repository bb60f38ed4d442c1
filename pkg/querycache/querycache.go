// Package querycache is an optional client-side cache for GET query
// responses (nearby, contains, boundary, overlaps). Entries hold the raw
// status+body pair so a cached response decodes through whatever handler is
// registered at read time. Backend failures never surface to callers: a
// failed lookup is a miss, a failed write is dropped.
package querycache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Entry is one cached raw response.
type Entry struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// Store is a TTL'd entry cache scoped by layer.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool)
	Set(ctx context.Context, key string, e Entry, ttl time.Duration)
	// Invalidate drops every entry cached under the layer.
	Invalidate(ctx context.Context, layer string)
}

// Key derives the cache key for a request URL. The full URL participates in
// the hash, so distinct query parameters (cursor included) never collide.
func Key(layer, rawURL string) string {
	return layerPrefix(layer) + fmt.Sprintf("%016x", xxhash.Sum64String(rawURL))
}

func layerPrefix(layer string) string {
	return "geopin:q:" + sanitizeLayer(layer) + ":"
}

func sanitizeLayer(layer string) string {
	layer = strings.TrimSpace(layer)
	if layer == "" {
		return "-"
	}
	var b strings.Builder
	b.Grow(len(layer))
	for _, r := range layer {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
