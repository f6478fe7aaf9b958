package cache

import "time"

// Cache is a lookaside byte cache used in front of slow external reads
// (weather, POI search). A nil Cache is valid and means no caching.
type Cache interface {
	Get(key string) ([]byte, error)
	Set(key string, content []byte, duration time.Duration) error
}
