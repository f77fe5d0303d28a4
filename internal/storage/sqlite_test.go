package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyd/internal/notification"
	logx "notifyd/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "notifyd.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	_, err := Open(Config{Driver: "none"}, logx.Nop())
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = Open(Config{Driver: "mongo"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(Config{Driver: "sqlite"}, logx.Nop())
	assert.Error(t, err, "path is required")
}

func TestUserStatusAndPreferences(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	got, err := st.UserStatus(ctx, 99)
	require.NoError(t, err)
	assert.Equal(t, notification.UserStatus{}, got, "unknown users are not suppressed")

	require.NoError(t, st.UpsertUser(ctx, User{ID: 1, Handle: "a", BlockedFromRelay: true, EmailDeliverable: true}))
	got, err = st.UserStatus(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.Abusive())
	assert.False(t, got.Deactivated)

	require.NoError(t, st.SetPreference(ctx, 1, notification.ChannelMobile, notification.SettingFollowers, true))
	require.NoError(t, st.SetPreference(ctx, 1, notification.ChannelBrowser, notification.SettingFollowers, false))
	require.NoError(t, st.SetPreference(ctx, 1, notification.ChannelBrowser, notification.SettingFollowers, true))
	prefs, err := st.Preferences(ctx, 1)
	require.NoError(t, err)
	assert.True(t, prefs.Enabled(notification.ChannelMobile, notification.SettingFollowers))
	assert.True(t, prefs.Enabled(notification.ChannelBrowser, notification.SettingFollowers))
	assert.False(t, prefs.Enabled(notification.ChannelMobile, notification.SettingReposts))

	users, err := st.Users(ctx, []int64{1, 2})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "a", users[0].Handle)
	assert.True(t, users[0].EmailDeliverable)
}

func TestDevicesAndBadges(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.RegisterDevice(ctx, Device{UserID: 7, Type: DeviceIOS, EndpointARN: "arn:ios"}))
	require.NoError(t, st.RegisterDevice(ctx, Device{UserID: 7, Type: DeviceSafari, EndpointARN: "arn:safari"}))
	require.NoError(t, st.RegisterDevice(ctx, Device{UserID: 8, Type: DeviceAndroid, EndpointARN: "arn:android"}))

	all, err := st.Devices(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	mobile, err := st.Devices(ctx, 7, DeviceIOS, DeviceAndroid)
	require.NoError(t, err)
	require.Len(t, mobile, 1)
	assert.Equal(t, "arn:ios", mobile[0].EndpointARN)

	require.NoError(t, st.RemoveDevice(ctx, "arn:ios"))
	mobile, err = st.Devices(ctx, 7, DeviceIOS, DeviceAndroid)
	require.NoError(t, err)
	assert.Empty(t, mobile)

	require.NoError(t, st.AddBrowserSubscription(ctx, BrowserSubscription{UserID: 7, Endpoint: "https://push/1", P256dh: "k", Auth: "a"}))
	subs, err := st.BrowserSubscriptions(ctx, 7)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.NoError(t, st.RemoveBrowserSubscription(ctx, "https://push/1"))
	subs, err = st.BrowserSubscriptions(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, subs)

	for want := 1; want <= 3; want++ {
		n, err := st.IncrementBadge(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	require.NoError(t, st.ResetBadge(ctx, 7))
	n, err := st.IncrementBadge(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDigestQueries(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	freq, err := st.EmailFrequency(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "live", freq, "missing settings default to live")
	require.NoError(t, st.SetEmailFrequency(ctx, 6, "weekly"))
	weekly, err := st.UsersByEmailFrequency(ctx, "weekly")
	require.NoError(t, err)
	assert.Equal(t, []int64{6}, weekly)

	_, err = st.InsertNotification(ctx, StoredNotification{UserID: 6, Type: notification.TypeFollow, Timestamp: now.Add(-3 * 24 * time.Hour),
		Metadata: notification.Metadata{"initiator_name": "x"}})
	require.NoError(t, err)
	_, err = st.InsertNotification(ctx, StoredNotification{UserID: 6, Type: notification.TypeRepost, Timestamp: now.Add(-2 * 24 * time.Hour)})
	require.NoError(t, err)
	_, err = st.InsertNotification(ctx, StoredNotification{UserID: 5, Type: notification.TypeRepost, Timestamp: now.Add(-10 * 24 * time.Hour)})
	require.NoError(t, err)

	users, err := st.UsersWithUnseenSince(ctx, []int64{5, 6}, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []int64{6}, users)

	items, total, err := st.UnseenNotifications(ctx, 6, now.Add(-7*24*time.Hour), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 1)
	assert.Equal(t, notification.TypeRepost, items[0].Type, "newest first")

	require.NoError(t, st.MarkViewed(ctx, 6, notification.TypeRepost, 0))
	_, total, err = st.UnseenNotifications(ctx, 6, now.Add(-7*24*time.Hour), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	_, err = st.LatestDigest(ctx, 6)
	assert.True(t, errors.Is(err, ErrNotFound))
	require.NoError(t, st.AppendDigest(ctx, DigestSendRecord{UserID: 6, EmailFrequency: "weekly", Timestamp: now.Add(-8 * 24 * time.Hour)}))
	require.NoError(t, st.AppendDigest(ctx, DigestSendRecord{UserID: 6, EmailFrequency: "weekly", Timestamp: now.Add(-1 * time.Hour)}))
	rec, err := st.LatestDigest(ctx, 6)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(-time.Hour), rec.Timestamp, time.Second)
}

func TestAnnouncements(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, st.UpsertUser(ctx, User{ID: 1, CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, st.UpsertUser(ctx, User{ID: 2, CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, st.UpsertUser(ctx, User{ID: 3, CreatedAt: now.Add(-48 * time.Hour), Deactivated: true}))
	require.NoError(t, st.UpsertUser(ctx, User{ID: 4, CreatedAt: now}))

	a := Announcement{EntityID: 500, Title: "Hi", DatePublished: now.Add(-time.Hour), ShortDescription: "short"}
	require.NoError(t, st.PutAnnouncement(ctx, a))
	list, err := st.AnnouncementsSince(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "short", list[0].ShortDescription)

	id, err := st.InsertNotification(ctx, StoredNotification{UserID: 2, Type: notification.TypeAnnouncement, EntityID: 500})
	require.NoError(t, err)
	assert.NotZero(t, id)
	require.NoError(t, st.MarkViewed(ctx, 2, notification.TypeAnnouncement, 500))

	audience, err := st.AnnouncementAudience(ctx, list[0])
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, audience)

	unviewed, err := st.UnviewedAnnouncements(ctx, 2, []int64{500, 501})
	require.NoError(t, err)
	assert.Equal(t, []int64{501}, unviewed)

	page, err := st.AnnouncementRecipients(ctx, a.DatePublished, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, page)
	page, err = st.AnnouncementRecipients(ctx, a.DatePublished, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, page, "deactivated and newer users are excluded")
}
