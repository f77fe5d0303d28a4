package config

import (
	"reflect"
	"sort"
	"strings"

	logx "notifyd/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. Secrets (DSN, tokens, VAPID private key) are never
// included; only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)
	section := func(name string, differs bool, fields ...logx.Field) {
		if !differs {
			return
		}
		changed = append(changed, name)
		attrs = append(attrs, fields...)
	}

	section("logging", oldCfg.Logging != newCfg.Logging,
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.console", newCfg.Logging.Console),
		logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
	)

	oS, nS := deref(oldCfg.Storage), deref(newCfg.Storage)
	section("storage", oS != nS,
		logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
		logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		logx.Bool("storage.dsn_set", strings.TrimSpace(nS.DSN) != ""),
	)

	oF, nF := deref(oldCfg.Flags), deref(newCfg.Flags)
	section("flags", !reflect.DeepEqual(oF, nF),
		logx.Bool("flags.remote", strings.TrimSpace(nF.RedisAddr) != ""),
		logx.Int("flags.overrides", len(nF.Overrides)),
	)

	oN, nN := deref(oldCfg.Notifier), deref(newCfg.Notifier)
	section("notifier", !reflect.DeepEqual(oN, nN),
		logx.Bool("notifier.enabled", newCfg.Notifier == nil || nN.Enabled),
		logx.Int("notifier.batch_size", nN.BatchSize),
		logx.String("notifier.send_timeout", strings.TrimSpace(nN.SendTimeout)),
	)

	oA, nA := deref(oldCfg.Announcement), deref(newCfg.Announcement)
	section("announcement", oA != nA,
		logx.Bool("announcement.enabled", nA.Enabled),
		logx.Int("announcement.workers", nA.Workers),
	)

	section("push", oldCfg.Push != newCfg.Push,
		logx.String("push.region", newCfg.Push.Region),
		logx.Bool("push.sandbox", newCfg.Push.Sandbox),
		logx.Bool("push.webpush", newCfg.Push.WebPush.Enabled),
		logx.Bool("push.vapid_set", newCfg.Push.WebPush.VAPIDPrivateKey != ""),
	)

	section("email", oldCfg.Email != newCfg.Email,
		logx.String("email.region", newCfg.Email.Region),
		logx.Int("email.rate_per_sec", newCfg.Email.RatePerSec),
	)

	oD, nD := deref(oldCfg.Digest), deref(newCfg.Digest)
	section("digest", oD != nD,
		logx.Bool("digest.enabled", nD.Enabled),
		logx.String("digest.every", strings.TrimSpace(nD.Every)),
		logx.Int("digest.chunk_size", nD.ChunkSize),
	)

	oR, nR := deref(oldCfg.RenderCache), deref(newCfg.RenderCache)
	section("render_cache", oR != nR, logx.String("render_cache.driver", nR.Driver))

	oI, nI := deref(oldCfg.Ingest), deref(newCfg.Ingest)
	section("ingest", oI != nI,
		logx.Bool("ingest.enabled", nI.Enabled),
		logx.String("ingest.stream", nI.Stream),
	)

	oM, nM := oldCfg.Metrics, newCfg.Metrics
	section("metrics", oM != nM,
		logx.Bool("metrics.enabled", nM.Enabled),
		logx.String("metrics.addr", strings.TrimSpace(nM.Addr)),
		logx.Bool("metrics.token_set", strings.TrimSpace(nM.Token) != ""),
		logx.Bool("metrics.pprof", nM.Pprof),
	)

	section("scheduler", oldCfg.Scheduler != newCfg.Scheduler,
		logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
		logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
	)

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports sections that only take effect on restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "storage", "flags", "push", "email", "render_cache", "ingest", "announcement":
			out = append(out, s)
		}
	}
	return out
}

func deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
