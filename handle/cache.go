package handle

import (
	"github.com/hashicorp/golang-lru"
)

// stmtCache is an LRU of prepared Statements keyed by statement text.
// Evicted Statements are finalized and returned to the Handle's pool.
type stmtCache struct {
	h     *Handle
	cache *lru.Cache
}

func newStmtCache(h *Handle, size int) *stmtCache {
	var c = &stmtCache{h: h}
	var cache, err = lru.NewWithEvict(size, c.onEvict)
	if err != nil {
		panic(err.Error()) // Only errors on size <= 0.
	}
	c.cache = cache
	return c
}

func (c *stmtCache) onEvict(_, value interface{}) {
	var s = value.(*Statement)
	_ = s.Finalize()
	c.h.ReturnStatement(s)
}

func (c *stmtCache) purge() { c.cache.Purge() }

// SetStatementCacheSize enables an LRU cache of prepared Statements of the
// given capacity, for reuse of hot statement text without re-preparing.
// A size of zero or less disables (and drains) the cache.
func (h *Handle) SetStatementCacheSize(size int) {
	if h.cache != nil {
		h.cache.purge()
		h.cache = nil
	}
	if size > 0 {
		h.cache = newStmtCache(h, size)
	}
}

// CachedStatement returns a prepared Statement of the given text, reusing a
// cached plan when available. Cached Statements are owned by the cache:
// callers Step/Reset them, but must not Finalize or ReturnStatement them.
// Without an enabled cache this is equivalent to GetStatement + Prepare,
// and the caller owns the result.
func (h *Handle) CachedStatement(sql string) (*Statement, error) {
	if h.cache != nil {
		if v, ok := h.cache.cache.Get(sql); ok {
			var s = v.(*Statement)
			if err := s.Reset(); err != nil {
				return nil, err
			}
			return s, nil
		}
	}

	var s = h.GetStatement()
	if err := s.Prepare(sql); err != nil {
		h.ReturnStatement(s)
		return nil, err
	}
	if h.cache != nil {
		h.cache.cache.Add(sql, s)
	}
	return s, nil
}
