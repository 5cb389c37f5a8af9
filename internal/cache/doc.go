// Package cache provides the keyed resource cache a backend uses to reuse
// device textures across frames.
//
// # Cache[H]
//
// Each entry is stored under a string key together with the request that
// produced it (width, height, format and usage). A request that matches
// the stored one returns the stored handle; any difference destroys the
// stale handle and creates a new one:
//
//	c := cache.New(dev.DestroyTexture)
//	id, err := c.GetOrCreate("outputTexture", cache.Spec{...}, create)
//
// There is no capacity bound and no eviction: a backend asks for a handful
// of fixed keys and entries live until dimensions change or Close is called.
//
// # Thread Safety
//
// Cache is safe for concurrent use, though a backend is its only owner.
// It must not be copied after creation (it contains a mutex).
package cache
