package flightpath

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache memoizes generated paths by request. Callers always get their own
// copy so they may mutate it freely.
type Cache struct {
	gen   *Generator
	paths *expirable.LRU[string, *FlightPath]
}

// NewCache wraps gen with an LRU of the given size. Entries expire after ttl;
// a zero ttl keeps them until evicted.
func NewCache(gen *Generator, size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 64
	}
	return &Cache{
		gen:   gen,
		paths: expirable.NewLRU[string, *FlightPath](size, nil, ttl),
	}
}

// Generate returns a cached path for p or generates and stores a new one.
// Errors are not cached.
func (c *Cache) Generate(p Params) (*FlightPath, error) {
	key := p.key()
	if fp, ok := c.paths.Get(key); ok {
		return fp.Clone(), nil
	}
	fp, err := c.gen.Generate(p)
	if err != nil {
		return nil, err
	}
	c.paths.Add(key, fp)
	return fp.Clone(), nil
}

// Len returns the number of cached paths.
func (c *Cache) Len() int { return c.paths.Len() }
