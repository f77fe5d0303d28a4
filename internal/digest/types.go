package digest

import (
	"context"
	"errors"
	"time"

	"notifyd/internal/mailer"
	"notifyd/internal/storage"
)

var (
	// ErrBusy is returned when a run is already in progress.
	ErrBusy = errors.New("digest: run in progress")
	// ErrDisabled is returned when the digest is switched off in config.
	ErrDisabled = errors.New("digest: disabled")
)

// Frequency is a user's email cadence.
type Frequency string

const (
	Live   Frequency = "live"
	Daily  Frequency = "daily"
	Weekly Frequency = "weekly"
	Off    Frequency = "off"
)

// ParseFrequency maps a stored setting to a Frequency. Empty means Live.
func ParseFrequency(s string) (Frequency, bool) {
	switch Frequency(s) {
	case "", Live:
		return Live, true
	case Daily:
		return Daily, true
	case Weekly:
		return Weekly, true
	case Off:
		return Off, true
	default:
		return "", false
	}
}

// ResultKind is the outcome of one user's digest attempt.
type ResultKind string

const (
	ResultTurnedOff ResultKind = "USER_TURNED_OFF"
	ResultBlocked   ResultKind = "USER_BLOCKED"
	ResultSkip      ResultKind = "SHOULD_SKIP"
	ResultNotSent   ResultKind = "NOT_SENT"
	ResultError     ResultKind = "ERROR"
	ResultSent      ResultKind = "SENT"
)

// ResultKinds lists every outcome in reporting order.
var ResultKinds = []ResultKind{ResultSent, ResultNotSent, ResultSkip, ResultTurnedOff, ResultBlocked, ResultError}

type Result struct {
	UserID int64
	Kind   ResultKind
	Err    error
}

// Tally counts results by kind.
type Tally map[ResultKind]int

func (t Tally) Total() int {
	n := 0
	for _, v := range t {
		n += v
	}
	return n
}

const (
	DefaultChunkSize = 20
	DefaultMaxItems  = 5
	DefaultTimezone  = "America/Los_Angeles"
)

type Config struct {
	Enabled   bool
	ChunkSize int
	// MaxItems caps the notifications listed in one email.
	MaxItems        int
	BCC             []string
	DefaultTimezone string
}

// Store is the datastore surface the digest reads and appends to.
type Store interface {
	UsersByEmailFrequency(ctx context.Context, freq string) ([]int64, error)
	UsersWithUnseenSince(ctx context.Context, userIDs []int64, since time.Time) ([]int64, error)
	Users(ctx context.Context, ids []int64) ([]storage.User, error)
	EmailFrequency(ctx context.Context, userID int64) (string, error)
	UnseenNotifications(ctx context.Context, userID int64, since time.Time, limit int) ([]storage.StoredNotification, int, error)
	LatestDigest(ctx context.Context, userID int64) (storage.DigestSendRecord, error)
	AppendDigest(ctx context.Context, rec storage.DigestSendRecord) error
	AnnouncementsSince(ctx context.Context, since time.Time) ([]storage.Announcement, error)
	AnnouncementAudience(ctx context.Context, a storage.Announcement) ([]int64, error)
	UnviewedAnnouncements(ctx context.Context, userID int64, entityIDs []int64) ([]int64, error)
}

// Mailer delivers one rendered digest.
type Mailer interface {
	Configured() bool
	Send(ctx context.Context, msg mailer.Message) (string, error)
}

// RenderCache keeps a debug copy of each sent email.
type RenderCache interface {
	Put(ctx context.Context, key string, doc any) error
}

// EventFinished is published on the bus after every completed run.
const EventFinished = "digest.finished"

type FinishedEvent struct {
	Tally Tally
	Took  time.Duration
}
