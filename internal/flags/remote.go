package flags

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	ca "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	logx "notifyd/pkg/logx"
)

// RemoteConfig configures the Redis-backed flag source.
type RemoteConfig struct {
	// Prefix of the per-feature hash keys, e.g. "flags:" -> "flags:notification_mapping".
	Prefix string
	// TTL of the local cache in front of Redis.
	TTL time.Duration
	// Timeout bounds a single Redis lookup.
	Timeout time.Duration
}

// Remote reads flags from Redis hashes.
//
// Layout: HGET <prefix><feature> "<variable>:<key>" first (per-user override),
// then HGET <prefix><feature> "<variable>". Values parse with strconv.ParseBool.
// Misses and errors fall back to Default; results (including fallbacks) are cached for TTL.
type Remote struct {
	rdb   redis.UniversalClient
	cfg   RemoteConfig
	cache *ca.Cache
	log   logx.Logger
}

func NewRemote(rdb redis.UniversalClient, cfg RemoteConfig, log logx.Logger) *Remote {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "flags:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 250 * time.Millisecond
	}
	return &Remote{
		rdb:   rdb,
		cfg:   cfg,
		cache: ca.New(cfg.TTL, 2*cfg.TTL),
		log:   log,
	}
}

func (r *Remote) Kind() Kind { return KindRemote }

func (r *Remote) Bool(ctx context.Context, feature, variable, key string) bool {
	if key == "" {
		key = Anonymous
	}
	ck := feature + "|" + variable + "|" + key
	if v, ok := r.cache.Get(ck); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}

	val := r.lookup(ctx, feature, variable, key)
	r.cache.Set(ck, val, ca.DefaultExpiration)
	return val
}

func (r *Remote) lookup(ctx context.Context, feature, variable, key string) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	cctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	hash := r.cfg.Prefix + feature
	fields := []string{variable}
	if key != Anonymous {
		fields = []string{variable + ":" + key, variable}
	}
	vals, err := r.rdb.HMGet(cctx, hash, fields...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		r.log.Debug("flag lookup failed; using default",
			logx.String("feature", feature), logx.String("variable", variable), logx.Err(err))
		return Default(feature, variable)
	}
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			r.log.Debug("flag value not a bool; ignoring",
				logx.String("feature", feature), logx.String("variable", variable), logx.String("value", s))
			continue
		}
		return b
	}
	return Default(feature, variable)
}

// Flush drops the local cache so the next lookups hit Redis.
func (r *Remote) Flush() { r.cache.Flush() }
