package flags

import (
	"os"

	"github.com/spf13/pflag"

	"github.com/roamerhq/roamer/pkg/apis/cache"
	"github.com/roamerhq/roamer/pkg/cache/redis"
)

// CacheFlags holds the retrieval-cache configuration.
type CacheFlags struct {
	RedisURL string
}

func NewCacheFlags() *CacheFlags {
	return &CacheFlags{}
}

func (f *CacheFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.RedisURL,
		"cache-redis-url",
		os.Getenv("REDIS_URL"),
		"Redis URL for caching retrieved context")
}

func (f *CacheFlags) GetCacheClient() (cache.Cache, error) {
	if f.RedisURL != "" {
		return redis.NewRedisCache(f.RedisURL)
	}

	return nil, nil
}
