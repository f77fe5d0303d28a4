// Package broadcast expands announcement events into one envelope per recipient.
package broadcast

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"notifyd/internal/notification"
	logx "notifyd/pkg/logx"
)

type Config struct {
	Enabled bool
	Workers int
	// PageSize is the number of recipients read per store query.
	PageSize int
	// PagesPerSec bounds recipient queries against the store.
	PagesPerSec int
}

// Sink receives the expanded envelopes (the notifier's announcement buffer).
type Sink interface {
	EnqueueAnnouncement(env notification.Envelope) bool
}

// Recipients pages through the users an announcement targets, ordered by id.
type Recipients interface {
	AnnouncementRecipients(ctx context.Context, publishedAt time.Time, afterID int64, limit int) ([]int64, error)
}

type job struct {
	id string
	ev notification.Event
}

type JobStatus struct {
	ID       string
	EntityID int64
	Total    int
	Enqueued int
	Failed   bool
	Err      string
	// CreatedAt is when Submit was called.
	CreatedAt time.Time
	StartedAt time.Time
	DoneAt    time.Time
	Running   bool
}

type Service struct {
	mu sync.Mutex

	cfg   Config
	sink  Sink
	users Recipients
	log   logx.Logger

	limiter *rate.Limiter
	queue   chan job
	stopCh  chan struct{}
	// stopDone is non-nil while a Stop() is in progress; it is closed when workers fully exit.
	stopDone chan struct{}

	statusMu sync.RWMutex
	status   map[string]*JobStatus
	// statusMax/statusTTL bound in-memory status retention.
	statusMax int
	statusTTL time.Duration
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}
