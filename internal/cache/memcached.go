package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const (
	keyPrefix = "station-forecast:"

	// memcached's default item size limit.
	maxItemBytes = 1 << 20
)

// ErrValueTooLarge is returned by Set for values memcached would reject.
var ErrValueTooLarge = errors.New("value exceeds memcached item size limit")

// MemcachedCache implements Cache using memcached, so several report server
// replicas share one copy of each report.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) *MemcachedCache {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// memcached keys may not contain spaces or control characters and are
// limited to 250 bytes; report keys are "<report>:<run id>".
func (c *MemcachedCache) key(k string) string {
	return keyPrefix + k
}

func (c *MemcachedCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return item.Value, true, nil
}

func (c *MemcachedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(value) > maxItemBytes {
		return ErrValueTooLarge
	}
	expSec := int32(ttl.Seconds())
	const maxRelativeExp = 30 * 24 * 60 * 60
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = 3600
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      value,
		Expiration: expSec,
	})
}

// Ping checks if memcached is reachable.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes idle connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
