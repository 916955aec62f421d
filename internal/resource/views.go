package resource

import (
	"log/slog"
	"sync"
	"time"

	shardedcache "github.com/simp-lee/cache"
)

// Defaults of a view registry.
const (
	DefaultViewTTL         = 30 * time.Minute
	DefaultMaxViews        = 5000
	DefaultCleanupInterval = time.Minute
)

// viewShards spreads a large registry over several locks. Small registries
// use one shard so MaxViews stays exact.
const viewShards = 16

// ViewsConfig tunes a view registry.
type ViewsConfig struct {
	// TTL is how long an unused view keeps its controller.
	TTL time.Duration
	// MaxViews bounds the registry; the least recently used view goes first.
	MaxViews int
	// CleanupInterval is how often expired views are evicted in the background.
	CleanupInterval time.Duration
}

// Views maps a browser view and a resource to the controller holding that
// list's state. Idle controllers are evicted and closed.
type Views struct {
	mu     sync.Mutex // serializes get-or-create
	cache  shardedcache.CacheInterface
	lister Lister
	logger *slog.Logger
	closed sync.Once
}

// NewViews creates an empty registry whose controllers fetch through lister.
func NewViews(cfg ViewsConfig, lister Lister, logger *slog.Logger) *Views {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultViewTTL
	}
	if cfg.MaxViews <= 0 {
		cfg.MaxViews = DefaultMaxViews
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	shards := 1
	if cfg.MaxViews >= viewShards*64 {
		shards = viewShards
	}
	cache := shardedcache.NewCache(shardedcache.Options{
		MaxSize:           (cfg.MaxViews + shards - 1) / shards,
		DefaultExpiration: cfg.TTL,
		CleanupInterval:   cfg.CleanupInterval,
		ShardCount:        shards,
	})
	// Runs under the shard lock: Close only cancels an in-flight fetch.
	cache.OnEvicted(func(key string, value interface{}) {
		if ctrl, ok := value.(*Controller); ok {
			ctrl.Close()
			logger.Debug("view evicted", "key", key)
		}
	})

	return &Views{cache: cache, lister: lister, logger: logger}
}

func viewKey(view, resource string) string {
	return resource + "|" + view
}

// Get returns the controller of (view, def.Name). created reports whether it
// is new and still needs its initial Load. Every hit renews the view's TTL.
func (v *Views) Get(view string, def *Definition) (ctrl *Controller, created bool) {
	key := viewKey(view, def.Name)

	v.mu.Lock()
	defer v.mu.Unlock()

	if ctrl, ok := shardedcache.GetTyped[*Controller](v.cache, key); ok {
		// Re-setting an existing key renews its expiry and its eviction age.
		v.cache.SetWithExpiration(key, ctrl, shardedcache.DefaultExpiration)
		return ctrl, false
	}

	ctrl = NewController(def, v.lister, v.logger)
	v.cache.SetWithExpiration(key, ctrl, shardedcache.DefaultExpiration)
	return ctrl, true
}

// Len returns the number of views held, including expired ones not yet swept.
func (v *Views) Len() int {
	return v.cache.Count()
}

// Close closes every controller and stops the background cleanup.
func (v *Views) Close() {
	v.closed.Do(func() {
		v.cache.Clear()
		v.cache.Close()
	})
}
