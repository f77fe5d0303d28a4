package storage

import (
	"context"
	"errors"
	"time"

	"notifyd/internal/notification"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "postgres": PostgreSQL via DSN
//
// If Driver is "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string // sqlite only
	DSN         string // postgres only
	BusyTimeout time.Duration
	MaxOpen     int
	MaxIdle     int
}

// User is the subset of an account the pipeline reads.
type User struct {
	ID                       int64
	Handle                   string
	Name                     string
	Email                    string
	Timezone                 string
	CreatedAt                time.Time
	Deactivated              bool
	BlockedFromRelay         bool
	BlockedFromNotifications bool
	EmailDeliverable         bool
	BlockedFromEmails        bool
}

// DeviceType is the SNS platform a mobile endpoint belongs to.
type DeviceType string

const (
	DeviceIOS     DeviceType = "ios"
	DeviceAndroid DeviceType = "android"
	DeviceSafari  DeviceType = "safari"
)

// Device is a registered SNS platform endpoint.
type Device struct {
	UserID      int64
	Type        DeviceType
	EndpointARN string
}

// BrowserSubscription is a VAPID push subscription.
type BrowserSubscription struct {
	UserID   int64
	Endpoint string
	P256dh   string
	Auth     string
}

// DigestSendRecord is an append-only audit of a sent digest email.
type DigestSendRecord struct {
	UserID         int64
	EmailFrequency string
	Timestamp      time.Time
}

// Announcement is a platform-wide notice.
type Announcement struct {
	ID               int64
	EntityID         int64
	Title            string
	DatePublished    time.Time
	ShortDescription string
	LongDescription  string
}

// StoredNotification is an unseen notification row used for digests.
type StoredNotification struct {
	ID        int64
	UserID    int64
	Type      notification.Type
	EntityID  int64
	Timestamp time.Time
	Metadata  notification.Metadata
}

// Store is the persistence API used by the pipeline. Consumers depend on
// narrower interfaces declared where they are used.
type Store interface {
	notification.Directory

	UpsertUser(ctx context.Context, u User) error
	Users(ctx context.Context, ids []int64) ([]User, error)
	SetPreference(ctx context.Context, userID int64, ch notification.Channel, key string, on bool) error

	RegisterDevice(ctx context.Context, d Device) error
	RemoveDevice(ctx context.Context, endpointARN string) error
	Devices(ctx context.Context, userID int64, types ...DeviceType) ([]Device, error)
	AddBrowserSubscription(ctx context.Context, sub BrowserSubscription) error
	RemoveBrowserSubscription(ctx context.Context, endpoint string) error
	BrowserSubscriptions(ctx context.Context, userID int64) ([]BrowserSubscription, error)
	IncrementBadge(ctx context.Context, userID int64) (int, error)
	ResetBadge(ctx context.Context, userID int64) error

	EmailFrequency(ctx context.Context, userID int64) (string, error)
	SetEmailFrequency(ctx context.Context, userID int64, freq string) error
	UsersByEmailFrequency(ctx context.Context, freq string) ([]int64, error)
	UsersWithUnseenSince(ctx context.Context, userIDs []int64, since time.Time) ([]int64, error)
	UnseenNotifications(ctx context.Context, userID int64, since time.Time, limit int) ([]StoredNotification, int, error)
	InsertNotification(ctx context.Context, n StoredNotification) (int64, error)
	MarkViewed(ctx context.Context, userID int64, typ notification.Type, entityID int64) error
	LatestDigest(ctx context.Context, userID int64) (DigestSendRecord, error)
	AppendDigest(ctx context.Context, rec DigestSendRecord) error

	PutAnnouncement(ctx context.Context, a Announcement) error
	AnnouncementsSince(ctx context.Context, since time.Time) ([]Announcement, error)
	AnnouncementAudience(ctx context.Context, a Announcement) ([]int64, error)
	UnviewedAnnouncements(ctx context.Context, userID int64, entityIDs []int64) ([]int64, error)
	AnnouncementRecipients(ctx context.Context, publishedAt time.Time, afterID int64, limit int) ([]int64, error)

	Ping(ctx context.Context) error
	Close() error
}
