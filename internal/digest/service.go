package digest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	_ "time/tzdata"

	"golang.org/x/sync/errgroup"

	"notifyd/internal/eventbus"
	"notifyd/internal/flags"
	"notifyd/internal/mailer"
	"notifyd/internal/metrics"
	"notifyd/internal/rendercache"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

// Service assembles and sends notification digest emails.
type Service struct {
	mu  sync.RWMutex
	cfg Config

	store Store
	mail  Mailer
	cache RenderCache
	flags flags.Source
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	running atomic.Bool
}

type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithRenderCache enables debug copies of sent emails.
func WithRenderCache(c RenderCache) Option { return func(s *Service) { s.cache = c } }

func New(cfg Config, store Store, mail Mailer, src flags.Source, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if src == nil {
		src = flags.NewStatic(nil)
	}
	s := &Service{
		cfg:   withDefaults(cfg),
		store: store,
		mail:  mail,
		flags: src,
		log:   log,
		bus:   bus,
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func withDefaults(cfg Config) Config {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = DefaultTimezone
	}
	return cfg
}

func (s *Service) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Enabled
}

// Apply swaps the config used by the next run.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = withDefaults(cfg)
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// run holds the per-run inputs shared by every candidate.
type run struct {
	cfg           Config
	now           time.Time
	announcements []storage.Announcement
	frequency     map[int64]Frequency
}

// Run performs one digest pass over every candidate user.
func (s *Service) Run(ctx context.Context) (Tally, error) {
	cfg := s.config()
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if s.mail == nil || !s.mail.Configured() {
		s.log.Error("email transport not configured; skipping digest run")
		return Tally{}, nil
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.running.Store(false)

	start := time.Now()
	r := &run{cfg: cfg, now: s.now()}

	users, err := s.candidates(ctx, r)
	if err != nil {
		// The next scheduled run retries from scratch.
		s.log.Error("digest candidate selection failed; run aborted", logx.Err(err))
		return Tally{}, nil
	}

	results := make([]Result, len(users))
	for lo := 0; lo < len(users); lo += cfg.ChunkSize {
		hi := lo + cfg.ChunkSize
		if hi > len(users) {
			hi = len(users)
		}
		var eg errgroup.Group
		for i := lo; i < hi; i++ {
			i := i
			eg.Go(func() error {
				results[i] = s.processUser(ctx, r, users[i])
				return nil
			})
		}
		_ = eg.Wait()
	}

	tally := Tally{}
	for _, res := range results {
		tally[res.Kind]++
		metrics.DigestResults.WithLabelValues(string(res.Kind)).Inc()
		if res.Kind == ResultError {
			s.log.Info("digest failed for user", logx.Int64("user_id", res.UserID), logx.Err(res.Err))
		}
	}
	took := time.Since(start)
	metrics.DigestRunDuration.Observe(took.Seconds())

	fields := []logx.Field{logx.Int("users", len(users)), logx.Duration("took", took)}
	for _, k := range ResultKinds {
		if n := tally[k]; n > 0 {
			fields = append(fields, logx.Int(string(k), n))
		}
	}
	s.log.Info("digest run finished", fields...)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventFinished, Data: FinishedEvent{Tally: tally, Took: took}})
	}
	return tally, nil
}

// candidates buckets users by frequency and returns the deliverable set of
// users with pending announcements or unseen notifications.
func (s *Service) candidates(ctx context.Context, r *run) ([]storage.User, error) {
	liveOff := s.flags.Bool(ctx, flags.FeatureEmailNotifications, flags.VarLiveDisabled, flags.Anonymous)
	scheduledOff := s.flags.Bool(ctx, flags.FeatureEmailNotifications, flags.VarScheduledDisabled, flags.Anonymous)

	buckets := map[Frequency][]int64{}
	r.frequency = map[int64]Frequency{}
	for _, f := range []Frequency{Live, Daily, Weekly} {
		if (f == Live && liveOff) || (f != Live && scheduledOff) {
			continue
		}
		ids, err := s.store.UsersByEmailFrequency(ctx, string(f))
		if err != nil {
			return nil, fmt.Errorf("bucket %s: %w", f, err)
		}
		buckets[f] = ids
		for _, id := range ids {
			r.frequency[id] = f
		}
	}
	s.log.Info("digest buckets",
		logx.Int("live", len(buckets[Live])),
		logx.Int("daily", len(buckets[Daily])),
		logx.Int("weekly", len(buckets[Weekly])),
		logx.Bool("live_disabled", liveOff),
		logx.Bool("scheduled_disabled", scheduledOff))

	horizon := time.Duration(weekHours*1.5) * time.Hour
	anns, err := s.store.AnnouncementsSince(ctx, r.now.Add(-horizon))
	if err != nil {
		return nil, fmt.Errorf("announcements: %w", err)
	}
	pending := map[int64]struct{}{}
	for _, a := range anns {
		age := r.now.Sub(a.DatePublished)
		if age >= horizon {
			continue
		}
		r.announcements = append(r.announcements, a)
		audience, err := s.store.AnnouncementAudience(ctx, a)
		if err != nil {
			return nil, fmt.Errorf("announcement %d audience: %w", a.EntityID, err)
		}
		for _, id := range audience {
			if f, ok := r.frequency[id]; ok && announcementBucket(f, age) {
				pending[id] = struct{}{}
			}
		}
	}

	dayAgo := r.now.AddDate(0, 0, -1)
	weekAgo := r.now.AddDate(0, 0, -7)
	for f, since := range map[Frequency]time.Time{Live: dayAgo, Daily: dayAgo, Weekly: weekAgo} {
		if len(buckets[f]) == 0 {
			continue
		}
		ids, err := s.store.UsersWithUnseenSince(ctx, buckets[f], since)
		if err != nil {
			return nil, fmt.Errorf("unseen %s: %w", f, err)
		}
		for _, id := range ids {
			pending[id] = struct{}{}
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	users, err := s.store.Users(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	return users, nil
}

func (s *Service) processUser(ctx context.Context, r *run, u storage.User) (res Result) {
	res.UserID = u.ID
	defer func() {
		if p := recover(); p != nil {
			res = Result{UserID: u.ID, Kind: ResultError, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	if !u.EmailDeliverable || u.BlockedFromEmails {
		res.Kind = ResultBlocked
		return res
	}
	loc := s.location(u.Timezone, r.cfg.DefaultTimezone)

	raw, err := s.store.EmailFrequency(ctx, u.ID)
	if err != nil {
		return Result{UserID: u.ID, Kind: ResultError, Err: fmt.Errorf("email frequency: %w", err)}
	}
	freq, ok := ParseFrequency(raw)
	if !ok {
		return Result{UserID: u.ID, Kind: ResultError, Err: fmt.Errorf("invalid frequency %q", raw)}
	}
	if freq == Off {
		s.log.Debug("digest turned off", logx.Int64("user_id", u.ID))
		res.Kind = ResultTurnedOff
		return res
	}

	rec, err := s.store.LatestDigest(ctx, u.ID)
	hasRecord := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Result{UserID: u.ID, Kind: ResultError, Err: fmt.Errorf("latest digest: %w", err)}
	}
	lastSent := lastSentFrom(rec.Timestamp, hasRecord)
	if !shouldSend(freq, r.now, lastSent, hasRecord, hoursSinceMidnight(r.now, loc)) {
		res.Kind = ResultNotSent
		return res
	}
	since := startTime(freq, r.now, lastSent)

	stored, total, err := s.store.UnseenNotifications(ctx, u.ID, since, r.cfg.MaxItems)
	if err != nil {
		return Result{UserID: u.ID, Kind: ResultError, Err: fmt.Errorf("unseen notifications: %w", err)}
	}
	anns, err := s.relevantAnnouncements(ctx, r, u, since)
	if err != nil {
		return Result{UserID: u.ID, Kind: ResultError, Err: err}
	}
	count := total + len(anns)
	if count == 0 {
		res.Kind = ResultSkip
		return res
	}

	items := make([]Item, 0, r.cfg.MaxItems)
	for _, a := range anns {
		if len(items) == r.cfg.MaxItems {
			break
		}
		items = append(items, itemFromAnnouncement(a))
	}
	for _, n := range stored {
		if len(items) == r.cfg.MaxItems {
			break
		}
		items = append(items, itemFromStored(n))
	}

	subject := Subject(freq, count, r.now)
	props := buildProps(freq, u.Email, subject, r.now, items, count)
	html, err := renderHTML(props)
	if err != nil {
		return Result{UserID: u.ID, Kind: ResultError, Err: fmt.Errorf("render: %w", err)}
	}
	params := emailParams{From: mailer.DefaultFrom, To: u.Email, BCC: r.cfg.BCC, Subject: subject, HTML: html}
	if _, err := s.mail.Send(ctx, mailer.Message{
		From: params.From, To: params.To, BCC: params.BCC, Subject: params.Subject, HTML: params.HTML,
	}); err != nil {
		return Result{UserID: u.ID, Kind: ResultError, Err: err}
	}

	if err := s.store.AppendDigest(ctx, storage.DigestSendRecord{UserID: u.ID, EmailFrequency: string(freq), Timestamp: r.now}); err != nil {
		return Result{UserID: u.ID, Kind: ResultError, Err: fmt.Errorf("append digest: %w", err)}
	}
	if s.cache != nil {
		key := rendercache.Key(r.now)
		if err := s.cache.Put(ctx, key, cacheDoc{RenderProps: props, EmailParams: params}); err != nil {
			s.log.Warn("render cache write failed", logx.String("key", key), logx.Err(err))
		}
	}
	s.log.Debug("digest sent", logx.Int64("user_id", u.ID), logx.String("frequency", string(freq)), logx.Int("count", count))
	res.Kind = ResultSent
	return res
}

// relevantAnnouncements are the run's announcements published after since and
// after the user signed up that the user has not viewed.
func (s *Service) relevantAnnouncements(ctx context.Context, r *run, u storage.User, since time.Time) ([]storage.Announcement, error) {
	var ids []int64
	byID := map[int64]storage.Announcement{}
	for _, a := range r.announcements {
		if !a.DatePublished.After(since) || !u.CreatedAt.Before(a.DatePublished) {
			continue
		}
		ids = append(ids, a.EntityID)
		byID[a.EntityID] = a
	}
	if len(ids) == 0 {
		return nil, nil
	}
	unviewed, err := s.store.UnviewedAnnouncements(ctx, u.ID, ids)
	if err != nil {
		return nil, fmt.Errorf("unviewed announcements: %w", err)
	}
	out := make([]storage.Announcement, 0, len(unviewed))
	for _, id := range unviewed {
		out = append(out, byID[id])
	}
	return out, nil
}

func (s *Service) location(tz, def string) *time.Location {
	if tz == "" {
		tz = def
	}
	loc, err := time.LoadLocation(tz)
	if err == nil {
		return loc
	}
	s.log.Debug("unknown timezone; using default", logx.String("tz", tz))
	if loc, err = time.LoadLocation(def); err == nil {
		return loc
	}
	return time.UTC
}
