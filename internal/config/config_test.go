package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./notifyd.db
flags:
  overrides:
    email_notifications.live_disabled: true
notifier:
  enabled: true
  batch_size: 10
  send_timeout: 5s
  skip_create_initiators: [51, 52]
push:
  region: us-west-2
  webpush:
    enabled: false
email:
  region: us-west-2
digest:
  enabled: true
  every: "0 * * * *"
metrics:
  enabled: true
  addr: 127.0.0.1:9090
scheduler:
  enabled: true
  timezone: UTC
`

func TestDecodeYAML(t *testing.T) {
	cfg, err := Decode("notifyd.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	require.NotNil(t, cfg.Storage)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	require.NotNil(t, cfg.Flags)
	assert.True(t, cfg.Flags.Overrides["email_notifications.live_disabled"])
	require.NotNil(t, cfg.Notifier)
	assert.Equal(t, []int64{51, 52}, cfg.Notifier.SkipCreateInitiators)
	assert.Equal(t, "0 * * * *", cfg.Digest.Every)
	assert.Equal(t, "UTC", cfg.Scheduler.Timezone)
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"logging":{"level":"info"},"telegram":{}}`))
	require.Error(t, err)

	_, err = Decode("c.json", []byte(`{"logging":{}} {"logging":{}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing")

	_, err = Decode("c.yml", []byte("metrics:\n  enabled: true\n  bogus: 1\n"))
	require.Error(t, err)
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	d, err = ParseDurationOrDefault("x", " 250ms ", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = ParseDurationOrDefault("notifier.send_timeout", "soon", time.Second)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "notifier.send_timeout"))

	_, err = ParseDurationField("x", "-1s")
	require.Error(t, err)
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	oldCfg := &Config{Storage: &StorageConfig{Driver: "postgres", DSN: "postgres://a"}}
	newCfg := &Config{
		Storage: &StorageConfig{Driver: "postgres", DSN: "postgres://secret"},
		Metrics: MetricsConfig{Enabled: true, Token: "hunter2"},
		Logging: LoggingConfig{Level: "debug"},
	}
	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"logging", "metrics", "storage"}, sections)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"storage"}, RestartRequired(sections))

	sections, _ = SummarizeConfigChange(newCfg, newCfg)
	assert.Empty(t, sections)
}

func TestWatchPublishesValidatedChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notifyd.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"info"}}`), 0o600))

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Logging.Level == "bogus" {
			return assert.AnError
		}
		return nil
	})

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"bogus"}}`), 0o600))
	time.Sleep(600 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o600))

	select {
	case cfg := <-sub:
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "debug", m.Get().Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatalf("no config published")
	}
}
