package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyd/internal/config"
	"notifyd/internal/notifier"
)

func TestValidateDefaults(t *testing.T) {
	cfg := &config.Config{Storage: &config.StorageConfig{Driver: "sqlite", Path: "x.db"}}
	require.NoError(t, validate(context.Background(), cfg))

	specs := drainSpecs(cfg)
	assert.Equal(t, defaultStandardEvery, specs[notifier.BufferStandard])
	assert.Equal(t, defaultChainEvery, specs[notifier.BufferChain])
	assert.Equal(t, defaultAnnouncementEvery, specs[notifier.BufferAnnouncement])

	ncfg, err := mapNotifierConfig(cfg)
	require.NoError(t, err)
	assert.True(t, ncfg.Enabled)
}

func TestValidateRejects(t *testing.T) {
	base := func() *config.Config {
		return &config.Config{Storage: &config.StorageConfig{Driver: "sqlite", Path: "x.db"}}
	}
	cases := map[string]func(c *config.Config){
		"storage none":      func(c *config.Config) { c.Storage.Driver = "none" },
		"postgres no dsn":   func(c *config.Config) { c.Storage.Driver = "postgres" },
		"unknown driver":    func(c *config.Config) { c.Storage.Driver = "mongo" },
		"bad send timeout":  func(c *config.Config) { c.Notifier = &config.NotifierConfig{SendTimeout: "fast"} },
		"bad drain spec":    func(c *config.Config) { c.Notifier = &config.NotifierConfig{ChainEvery: "often"} },
		"bad digest tz":     func(c *config.Config) { c.Digest = &config.DigestConfig{DefaultTimezone: "Mars/Olympus"} },
		"bad scheduler tz":  func(c *config.Config) { c.Scheduler.Timezone = "Nowhere/Land" },
		"webpush no keys":   func(c *config.Config) { c.Push.WebPush.Enabled = true },
		"ingest no redis":   func(c *config.Config) { c.Ingest = &config.IngestConfig{Enabled: true} },
		"bad render driver": func(c *config.Config) { c.RenderCache = &config.RenderCacheConfig{Driver: "s3"} },
		"bad metrics time":  func(c *config.Config) { c.Metrics.ReadTimeout = "later" },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(cfg)
		if err := validate(context.Background(), cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestMapDigestConfig(t *testing.T) {
	cfg := &config.Config{Digest: &config.DigestConfig{
		Enabled: true,
		BCC:     " a@example.com, ,b@example.com ",
		Timeout: "10m",
	}}
	dc, every, timeout, err := mapDigestConfig(cfg)
	require.NoError(t, err)
	assert.True(t, dc.Enabled)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, dc.BCC)
	assert.Equal(t, defaultDigestEvery, every)
	assert.Equal(t, 10*time.Minute, timeout)
}

func TestAppLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notifyd.yaml")
	body := "logging:\n  level: error\n" +
		"storage:\n  driver: sqlite\n  path: " + filepath.Join(dir, "notifyd.db") + "\n" +
		"render_cache:\n  driver: dir\n  dir: " + filepath.Join(dir, "renders") + "\n" +
		"scheduler:\n  enabled: true\n  timezone: UTC\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	a, err := NewApp(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	names := make([]string, 0, 4)
	for _, j := range a.sched.Jobs() {
		names = append(names, j.Name)
	}
	assert.Equal(t, []string{"digest", "drain.announcement", "drain.chain", "drain.standard"}, names)
	require.NoError(t, a.health(context.Background()))

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx, StopSIGTERM))
	select {
	case <-a.Done():
	default:
		t.Fatalf("supervisor context still live after Stop")
	}
}
