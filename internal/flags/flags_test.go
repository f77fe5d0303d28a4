package flags

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "notifyd/pkg/logx"
)

func TestStaticDefaults(t *testing.T) {
	s := NewStatic(nil)
	ctx := context.Background()
	assert.False(t, s.Bool(ctx, FeatureNotificationMapping, "Follow", Anonymous))
	assert.False(t, s.Bool(ctx, FeaturePushNotifications, VarLegacyDisabled, Anonymous))
	assert.True(t, s.Bool(ctx, FeatureSupporterDethroned, VarEnabled, Anonymous))
	assert.False(t, s.Bool(ctx, FeatureEmailNotifications, VarLiveDisabled, "42"))
	assert.Equal(t, KindStatic, s.Kind())
}

func TestStaticOverrides(t *testing.T) {
	s := NewStatic(map[string]bool{FeatureEmailNotifications + "." + VarScheduledDisabled: true})
	assert.True(t, s.Bool(context.Background(), FeatureEmailNotifications, VarScheduledDisabled, Anonymous))
}

func newRemote(t *testing.T) (*miniredis.Miniredis, *Remote) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRemote(rdb, RemoteConfig{TTL: time.Minute}, logx.Nop())
}

func TestRemoteReadsHashAndPerUserOverride(t *testing.T) {
	mr, r := newRemote(t)
	mr.HSet("flags:"+FeatureNotificationMapping, "Repost", "true")
	mr.HSet("flags:"+FeatureNotificationMapping, "Follow", "false", "Follow:42", "1")

	ctx := context.Background()
	assert.True(t, r.Bool(ctx, FeatureNotificationMapping, "Repost", Anonymous))
	assert.False(t, r.Bool(ctx, FeatureNotificationMapping, "Follow", Anonymous))
	assert.True(t, r.Bool(ctx, FeatureNotificationMapping, "Follow", "42"))
	assert.False(t, r.Bool(ctx, FeatureNotificationMapping, "Follow", "7"))
	assert.Equal(t, KindRemote, r.Kind())
}

func TestRemoteFallsBackToDefaults(t *testing.T) {
	mr, r := newRemote(t)
	ctx := context.Background()
	assert.True(t, r.Bool(ctx, FeatureSupporterDethroned, VarEnabled, Anonymous))

	mr.HSet("flags:"+FeaturePushNotifications, VarLegacyDisabled, "not-a-bool")
	assert.False(t, r.Bool(ctx, FeaturePushNotifications, VarLegacyDisabled, Anonymous))

	mr.Close()
	assert.False(t, r.Bool(ctx, FeatureEmailNotifications, VarLiveDisabled, Anonymous))
}

func TestRemoteCachesUntilFlush(t *testing.T) {
	mr, r := newRemote(t)
	ctx := context.Background()
	require.False(t, r.Bool(ctx, FeatureEmailNotifications, VarLiveDisabled, Anonymous))

	mr.HSet("flags:"+FeatureEmailNotifications, VarLiveDisabled, "true")
	assert.False(t, r.Bool(ctx, FeatureEmailNotifications, VarLiveDisabled, Anonymous), "cached value")

	r.Flush()
	assert.True(t, r.Bool(ctx, FeatureEmailNotifications, VarLiveDisabled, Anonymous))
}
