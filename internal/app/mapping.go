package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"notifyd/internal/config"
	"notifyd/internal/digest"
	"notifyd/internal/flags"
	"notifyd/internal/ingest"
	"notifyd/internal/mailer"
	"notifyd/internal/notifier"
	"notifyd/internal/notifier/broadcast"
	"notifyd/internal/observability/server"
	"notifyd/internal/push"
	"notifyd/internal/storage"
	"notifyd/internal/task/scheduler"
	logx "notifyd/pkg/logx"
)

// Default scheduler specs for the periodic jobs.
const (
	defaultStandardEvery     = "every:1s"
	defaultChainEvery        = "every:10s"
	defaultAnnouncementEvery = "every:30s"
	defaultDigestEvery       = "cron:0 * * * *"
	defaultDigestTimeout     = 50 * time.Minute
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{Driver: "sqlite", Path: "./notifyd.db", BusyTimeout: time.Second}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	out := storage.Config{
		Driver:  driver,
		Path:    strings.TrimSpace(sc.Path),
		DSN:     strings.TrimSpace(sc.DSN),
		MaxOpen: sc.MaxOpen,
		MaxIdle: sc.MaxIdle,
	}
	switch driver {
	case "none":
		return storage.Config{}, fmt.Errorf("storage.driver=none is not supported; the pipeline needs a datastore")
	case "", "sqlite", "sqlite3":
		if out.Path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		out.BusyTimeout = busy
	case "postgres", "postgresql":
		if out.DSN == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	return out, nil
}

func mapRemoteFlags(fc *config.FlagsConfig) (flags.RemoteConfig, error) {
	ttl, err := config.ParseDurationOrDefault("flags.cache_ttl", fc.CacheTTL, 30*time.Second)
	if err != nil {
		return flags.RemoteConfig{}, err
	}
	timeout, err := config.ParseDurationOrDefault("flags.timeout", fc.Timeout, 500*time.Millisecond)
	if err != nil {
		return flags.RemoteConfig{}, err
	}
	prefix := strings.TrimSpace(fc.Prefix)
	if prefix == "" {
		prefix = "flags:"
	}
	return flags.RemoteConfig{Prefix: prefix, TTL: ttl, Timeout: timeout}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg.Notifier == nil {
		return notifier.Config{Enabled: true}, nil
	}
	nc := cfg.Notifier
	if nc.BatchSize < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.batch_size must be >= 0")
	}
	timeout, err := config.ParseDurationOrDefault("notifier.send_timeout", nc.SendTimeout, notifier.DefaultSendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:              nc.Enabled,
		BatchSize:            nc.BatchSize,
		SendTimeout:          timeout,
		SkipCreateInitiators: nc.SkipCreateInitiators,
	}, nil
}

// drainSpecs returns the scheduler spec per buffer.
func drainSpecs(cfg *config.Config) map[notifier.BufferKind]string {
	specs := map[notifier.BufferKind]string{
		notifier.BufferStandard:     defaultStandardEvery,
		notifier.BufferChain:        defaultChainEvery,
		notifier.BufferAnnouncement: defaultAnnouncementEvery,
	}
	if nc := cfg.Notifier; nc != nil {
		for k, v := range map[notifier.BufferKind]string{
			notifier.BufferStandard:     nc.StandardEvery,
			notifier.BufferChain:        nc.ChainEvery,
			notifier.BufferAnnouncement: nc.AnnouncementEvery,
		} {
			if strings.TrimSpace(v) != "" {
				specs[k] = v
			}
		}
	}
	return specs
}

func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	if cfg.Announcement == nil {
		return broadcast.Config{Enabled: true}, nil
	}
	ac := cfg.Announcement
	if ac.Workers < 0 || ac.PageSize < 0 || ac.PagesPerSec < 0 {
		return broadcast.Config{}, fmt.Errorf("announcement: workers, page_size and pages_per_sec must be >= 0")
	}
	return broadcast.Config{
		Enabled:     ac.Enabled,
		Workers:     ac.Workers,
		PageSize:    ac.PageSize,
		PagesPerSec: ac.PagesPerSec,
	}, nil
}

func mapWebPushConfig(cfg *config.Config) (push.WebPushConfig, bool, error) {
	wc := cfg.Push.WebPush
	if !wc.Enabled {
		return push.WebPushConfig{}, false, nil
	}
	if wc.VAPIDPublicKey == "" || wc.VAPIDPrivateKey == "" {
		return push.WebPushConfig{}, false, fmt.Errorf("push.webpush: vapid_public_key and vapid_private_key are required")
	}
	ttl, err := config.ParseDurationOrDefault("push.webpush.ttl", wc.TTL, 24*time.Hour)
	if err != nil {
		return push.WebPushConfig{}, false, err
	}
	return push.WebPushConfig{
		Subscriber:      wc.Subscriber,
		VAPIDPublicKey:  wc.VAPIDPublicKey,
		VAPIDPrivateKey: wc.VAPIDPrivateKey,
		TTL:             ttl,
		RatePerSec:      cfg.Push.RatePerSec,
	}, true, nil
}

func mapMailerConfig(cfg *config.Config) mailer.Config {
	return mailer.Config{
		Region:     strings.TrimSpace(cfg.Email.Region),
		Endpoint:   strings.TrimSpace(cfg.Email.Endpoint),
		From:       cfg.Email.From,
		RatePerSec: cfg.Email.RatePerSec,
	}
}

func mapDigestConfig(cfg *config.Config) (digest.Config, string, time.Duration, error) {
	if cfg.Digest == nil {
		return digest.Config{}, defaultDigestEvery, defaultDigestTimeout, nil
	}
	dc := cfg.Digest
	if dc.ChunkSize < 0 || dc.MaxItems < 0 {
		return digest.Config{}, "", 0, fmt.Errorf("digest: chunk_size and max_items must be >= 0")
	}
	if tz := strings.TrimSpace(dc.DefaultTimezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return digest.Config{}, "", 0, fmt.Errorf("digest.default_timezone: invalid %q: %w", tz, err)
		}
	}
	timeout, err := config.ParseDurationOrDefault("digest.timeout", dc.Timeout, defaultDigestTimeout)
	if err != nil {
		return digest.Config{}, "", 0, err
	}
	every := strings.TrimSpace(dc.Every)
	if every == "" {
		every = defaultDigestEvery
	}
	var bcc []string
	for _, addr := range strings.Split(dc.BCC, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			bcc = append(bcc, addr)
		}
	}
	return digest.Config{
		Enabled:         dc.Enabled,
		ChunkSize:       dc.ChunkSize,
		MaxItems:        dc.MaxItems,
		BCC:             bcc,
		DefaultTimezone: strings.TrimSpace(dc.DefaultTimezone),
	}, every, timeout, nil
}

func mapIngestConfig(ic *config.IngestConfig) (ingest.Config, error) {
	if strings.TrimSpace(ic.RedisAddr) == "" {
		return ingest.Config{}, fmt.Errorf("ingest.redis_addr is required when ingest.enabled=true")
	}
	block, err := config.ParseDurationOrDefault("ingest.block", ic.Block, 5*time.Second)
	if err != nil {
		return ingest.Config{}, err
	}
	return ingest.Config{
		Stream:    ic.Stream,
		CursorKey: ic.CursorKey,
		Start:     ic.Start,
		Count:     ic.Count,
		Block:     block,
		Field:     ic.Field,
	}, nil
}

func mapServerConfig(cfg *config.Config) (server.Config, error) {
	mc := cfg.Metrics
	read, err := config.ParseDurationOrDefault("metrics.read_timeout", mc.ReadTimeout, 10*time.Second)
	if err != nil {
		return server.Config{}, err
	}
	write, err := config.ParseDurationField("metrics.write_timeout", mc.WriteTimeout)
	if err != nil {
		return server.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("metrics.idle_timeout", mc.IdleTimeout, 60*time.Second)
	if err != nil {
		return server.Config{}, err
	}
	sc := server.Config{
		Enabled:       mc.Enabled,
		Addr:          strings.TrimSpace(mc.Addr),
		Token:         strings.TrimSpace(mc.Token),
		AllowInsecure: mc.AllowInsecure,
		Pprof:         mc.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}
	return sc, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: tz}, nil
}

// validate rejects configs that would fail to map. It runs on load and
// before every hot reload is committed.
func validate(_ context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if cfg.Flags != nil && strings.TrimSpace(cfg.Flags.RedisAddr) != "" {
		if _, err := mapRemoteFlags(cfg.Flags); err != nil {
			return err
		}
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	for kind, spec := range drainSpecs(cfg) {
		if _, err := scheduler.ParseSchedule(spec); err != nil {
			return fmt.Errorf("notifier.%s_every: %w", kind, err)
		}
	}
	if _, err := mapBroadcastConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapWebPushConfig(cfg); err != nil {
		return err
	}
	_, every, _, err := mapDigestConfig(cfg)
	if err != nil {
		return err
	}
	if _, err := scheduler.ParseSchedule(every); err != nil {
		return fmt.Errorf("digest.every: %w", err)
	}
	if rc := cfg.RenderCache; rc != nil {
		if _, err := config.ParseDurationField("render_cache.ttl", rc.TTL); err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(rc.Driver)) {
		case "", "none", "dir", "redis":
		default:
			return fmt.Errorf("unknown render_cache.driver: %s", rc.Driver)
		}
	}
	if ic := cfg.Ingest; ic != nil && ic.Enabled {
		if _, err := mapIngestConfig(ic); err != nil {
			return err
		}
	}
	if _, err := mapServerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	return nil
}
