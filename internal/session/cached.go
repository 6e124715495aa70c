package session

import (
	"context"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"

	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
)

// DefaultCacheSize is the number of distinct queries kept by Cached.
const DefaultCacheSize = 256

// Querier is the query surface shared by Session and Cached.
type Querier interface {
	Query(ctx context.Context, prompt string, topK int) ([]string, error)
	QueryWithThreshold(ctx context.Context, prompt string, topK int, threshold float64) ([]string, error)
	Threshold() float64
	IsStarted() bool
}

// Cached memoizes successful query results. Results depend on the index, so
// owners call Purge after a rebuild or restart.
type Cached struct {
	inner Querier
	cache *lru.Cache[string, []string]
}

// NewCached wraps inner with an LRU of the given size.
func NewCached(inner Querier, size int) *Cached {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, []string](size)
	return &Cached{inner: inner, cache: cache}
}

func cacheKey(prompt string, topK int, threshold float64) string {
	return strconv.Itoa(topK) + "\x00" + strconv.FormatFloat(ClampThreshold(threshold), 'f', -1, 64) + "\x00" + prompt
}

// Query returns a cached result or asks inner at inner's threshold. Errors are
// never cached. The returned slice is a copy.
func (c *Cached) Query(ctx context.Context, prompt string, topK int) ([]string, error) {
	ids, _, err := c.Search(ctx, prompt, topK, c.inner.Threshold())
	return ids, err
}

// QueryWithThreshold is Query at the given threshold.
func (c *Cached) QueryWithThreshold(ctx context.Context, prompt string, topK int, threshold float64) ([]string, error) {
	ids, _, err := c.Search(ctx, prompt, topK, threshold)
	return ids, err
}

// Search is QueryWithThreshold that also reports whether the result came from
// the cache. Nothing is answered, cached or not, unless inner is started.
func (c *Cached) Search(ctx context.Context, prompt string, topK int, threshold float64) ([]string, bool, error) {
	if !c.inner.IsStarted() {
		return nil, false, cberrors.New(cberrors.ErrCodeSessionNotStarted, "search session is not started", nil)
	}

	key := cacheKey(prompt, topK, threshold)
	if ids, ok := c.cache.Get(key); ok {
		return append([]string{}, ids...), true, nil
	}

	ids, err := c.inner.QueryWithThreshold(ctx, prompt, topK, threshold)
	if err != nil {
		return ids, false, err
	}
	c.cache.Add(key, append([]string{}, ids...))
	return ids, false, nil
}

// Lookup reports a cached result without querying.
func (c *Cached) Lookup(prompt string, topK int) ([]string, bool) {
	ids, ok := c.cache.Get(cacheKey(prompt, topK, c.inner.Threshold()))
	if !ok {
		return nil, false
	}
	return append([]string{}, ids...), true
}

// Threshold passes through to inner.
func (c *Cached) Threshold() float64 {
	return c.inner.Threshold()
}

// IsStarted passes through to inner.
func (c *Cached) IsStarted() bool {
	return c.inner.IsStarted()
}

// Len returns the number of cached queries.
func (c *Cached) Len() int {
	return c.cache.Len()
}

// Purge drops every cached result.
func (c *Cached) Purge() {
	c.cache.Purge()
}
