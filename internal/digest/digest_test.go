package digest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyd/internal/eventbus"
	"notifyd/internal/flags"
	"notifyd/internal/mailer"
	"notifyd/internal/notification"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

var la = mustLoc("America/Los_Angeles")

func mustLoc(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// 00:30 local time in Los Angeles, inside the scheduled send window.
var testNow = time.Date(2024, time.March, 12, 0, 30, 0, 0, la)

type memStore struct {
	mu            sync.Mutex
	buckets       map[string][]int64
	freq          map[int64]string
	users         map[int64]storage.User
	notifications []storage.StoredNotification
	records       []storage.DigestSendRecord
	announcements []storage.Announcement
	viewed        map[int64]map[int64]bool
	calls         atomic.Int64
	bucketErr     error
}

func newMemStore() *memStore {
	return &memStore{
		buckets: map[string][]int64{},
		freq:    map[int64]string{},
		users:   map[int64]storage.User{},
		viewed:  map[int64]map[int64]bool{},
	}
}

func (m *memStore) addUser(id int64, freq string) {
	m.users[id] = storage.User{ID: id, Email: fmt.Sprintf("user%d@example.com", id), EmailDeliverable: true,
		CreatedAt: testNow.AddDate(-1, 0, 0)}
	m.freq[id] = freq
	m.buckets[freq] = append(m.buckets[freq], id)
}

func (m *memStore) UsersByEmailFrequency(_ context.Context, freq string) ([]int64, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bucketErr != nil {
		return nil, m.bucketErr
	}
	return append([]int64(nil), m.buckets[freq]...), nil
}

func (m *memStore) UsersWithUnseenSince(_ context.Context, ids []int64, since time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	seen := map[int64]bool{}
	var out []int64
	for _, n := range m.notifications {
		if want[n.UserID] && n.Timestamp.After(since) && !seen[n.UserID] {
			seen[n.UserID] = true
			out = append(out, n.UserID)
		}
	}
	return out, nil
}

func (m *memStore) Users(_ context.Context, ids []int64) ([]storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.User
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memStore) EmailFrequency(_ context.Context, id int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.freq[id]; ok {
		return f, nil
	}
	return "live", nil
}

func (m *memStore) UnseenNotifications(_ context.Context, id int64, since time.Time, limit int) ([]storage.StoredNotification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.StoredNotification
	for _, n := range m.notifications {
		if n.UserID == id && n.Timestamp.After(since) {
			out = append(out, n)
		}
	}
	total := len(out)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *memStore) LatestDigest(_ context.Context, id int64) (storage.DigestSendRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best storage.DigestSendRecord
		ok   bool
	)
	for _, r := range m.records {
		if r.UserID == id && (!ok || r.Timestamp.After(best.Timestamp)) {
			best, ok = r, true
		}
	}
	if !ok {
		return best, storage.ErrNotFound
	}
	return best, nil
}

func (m *memStore) AppendDigest(_ context.Context, rec storage.DigestSendRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memStore) AnnouncementsSince(_ context.Context, since time.Time) ([]storage.Announcement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Announcement
	for _, a := range m.announcements {
		if a.DatePublished.After(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) AnnouncementAudience(_ context.Context, a storage.Announcement) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int64
	for id, u := range m.users {
		if u.CreatedAt.Before(a.DatePublished) && !m.viewed[id][a.EntityID] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memStore) UnviewedAnnouncements(_ context.Context, id int64, entityIDs []int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int64
	for _, e := range entityIDs {
		if !m.viewed[id][e] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) recordsFor(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.UserID == id {
			n++
		}
	}
	return n
}

type fakeMailer struct {
	mu       sync.Mutex
	sent     []mailer.Message
	failTo   string
	inflight atomic.Int64
	peak     atomic.Int64
	delay    time.Duration
	disabled bool
}

func (f *fakeMailer) Configured() bool { return !f.disabled }

func (f *fakeMailer) Send(_ context.Context, msg mailer.Message) (string, error) {
	cur := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failTo != "" && msg.To == f.failTo {
		return "", errors.New("mailbox unavailable")
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return "id", nil
}

type memCache struct {
	mu   sync.Mutex
	docs map[string]any
}

func (c *memCache) Put(_ context.Context, key string, doc any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.docs == nil {
		c.docs = map[string]any{}
	}
	c.docs[key] = doc
	return nil
}

func newService(st *memStore, m *fakeMailer, src flags.Source, opts ...Option) *Service {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return New(Config{Enabled: true, BCC: []string{"audit@example.com"}}, st, m, src, logx.Nop(), eventbus.New(), opts...)
}

func TestShouldSendRules(t *testing.T) {
	now := testNow
	cases := []struct {
		name      string
		freq      Frequency
		last      time.Time
		hasRecord bool
		hours     float64
		want      bool
	}{
		{"live always", Live, now.Add(-time.Minute), true, 15, true},
		{"daily first send", Daily, time.Time{}, false, 0.5, true},
		{"daily outside window", Daily, time.Time{}, false, 2, false},
		{"daily too soon", Daily, now.Add(-22 * time.Hour), true, 0.5, false},
		{"daily with slack", Daily, now.Add(-23 * time.Hour), true, 0.5, true},
		{"weekly six days", Weekly, now.AddDate(0, 0, -6), true, 0.5, false},
		{"weekly eight days", Weekly, now.AddDate(0, 0, -8), true, 0.5, true},
		{"weekly with slack", Weekly, now.Add(-167 * time.Hour), true, 1.9, true},
		{"off", Off, time.Time{}, false, 0, false},
	}
	for _, tc := range cases {
		if got := shouldSend(tc.freq, now, tc.last, tc.hasRecord, tc.hours); got != tc.want {
			t.Fatalf("%s: shouldSend=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestLastSentSlackAndStartTime(t *testing.T) {
	rec := testNow.Add(-time.Hour)
	last := lastSentFrom(rec, true)
	assert.Equal(t, rec.Add(-time.Second), last)
	assert.True(t, lastSentFrom(time.Time{}, false).Equal(time.Unix(0, 0)))

	assert.Equal(t, last, startTime(Live, testNow, last))
	assert.Equal(t, testNow.AddDate(0, 0, -1), startTime(Daily, testNow, last))
	assert.Equal(t, testNow.AddDate(0, 0, -7), startTime(Weekly, testNow, last))

	assert.InDelta(t, 0.5, hoursSinceMidnight(testNow.UTC(), la), 1e-9)
}

func TestRecordTimestampNotificationIsInNextLiveDigest(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "digest.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	sentAt := testNow.Add(-10 * time.Minute)
	require.NoError(t, st.UpsertUser(ctx, storage.User{ID: 7, Handle: "seven", Email: "seven@example.com",
		EmailDeliverable: true, CreatedAt: testNow.AddDate(-1, 0, 0)}))
	require.NoError(t, st.SetEmailFrequency(ctx, 7, "live"))
	require.NoError(t, st.AppendDigest(ctx, storage.DigestSendRecord{UserID: 7, EmailFrequency: "live", Timestamp: sentAt}))
	_, err = st.InsertNotification(ctx, storage.StoredNotification{UserID: 7, Type: notification.TypeRepost, EntityID: 3, Timestamp: sentAt,
		Metadata: notification.Metadata{notification.MetaInitiatorName: "dj"}})
	require.NoError(t, err)

	m := &fakeMailer{}
	svc := New(Config{Enabled: true}, st, m, nil, logx.Nop(), eventbus.New(), WithClock(func() time.Time { return testNow }))
	tally, err := svc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Tally{ResultSent: 1}, tally)
	require.Len(t, m.sent, 1)
	assert.Equal(t, "1 unread notification", m.sent[0].Subject)
}

func TestCandidateFailureEndsRunQuietly(t *testing.T) {
	st := newMemStore()
	st.addUser(1, "live")
	st.bucketErr = errors.New("connection reset")
	m := &fakeMailer{}

	tally, err := newService(st, m, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, tally.Total())
	assert.Empty(t, m.sent)
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "1 unread notification", Subject(Live, 1, testNow))
	assert.Equal(t, "3 unread notifications", Subject(Live, 3, testNow))
	assert.Equal(t, "2 unread notifications from March 11th 2024", Subject(Daily, 2, testNow))
	assert.Equal(t, "1 unread notification from March 5th - March 11th 2024", Subject(Weekly, 1, testNow))

	for n, want := range map[int]string{1: "1st", 2: "2nd", 3: "3rd", 4: "4th", 11: "11th", 12: "12th", 13: "13th", 21: "21st", 22: "22nd", 23: "23rd", 31: "31st"} {
		assert.Equal(t, want, ordinal(n))
	}
}

func TestWeeklyUserSentSixDaysAgoIsNotSent(t *testing.T) {
	st := newMemStore()
	st.addUser(6, "weekly")
	st.notifications = append(st.notifications, storage.StoredNotification{UserID: 6, Type: notification.TypeFollow, Timestamp: testNow.AddDate(0, 0, -2)})
	st.records = append(st.records, storage.DigestSendRecord{UserID: 6, EmailFrequency: "weekly", Timestamp: testNow.AddDate(0, 0, -6)})
	m := &fakeMailer{}

	tally, err := newService(st, m, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Tally{ResultNotSent: 1}, tally)
	assert.Empty(t, m.sent)
	assert.Equal(t, 1, st.recordsFor(6))
}

func TestWeeklyUserSentEightDaysAgoIsSent(t *testing.T) {
	st := newMemStore()
	st.addUser(6, "weekly")
	st.notifications = append(st.notifications, storage.StoredNotification{UserID: 6, Type: notification.TypeFollow, Timestamp: testNow.AddDate(0, 0, -2),
		Metadata: notification.Metadata{notification.MetaInitiatorName: "dj"}})
	st.records = append(st.records, storage.DigestSendRecord{UserID: 6, EmailFrequency: "weekly", Timestamp: testNow.AddDate(0, 0, -8)})
	m := &fakeMailer{}
	cache := &memCache{}

	tally, err := newService(st, m, nil, WithRenderCache(cache)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Tally{ResultSent: 1}, tally)
	require.Len(t, m.sent, 1)
	msg := m.sent[0]
	assert.Equal(t, "1 unread notification from March 5th - March 11th 2024", msg.Subject)
	assert.Equal(t, mailer.DefaultFrom, msg.From)
	assert.Equal(t, []string{"audit@example.com"}, msg.BCC)
	assert.Contains(t, msg.HTML, "dj followed you")
	assert.Contains(t, msg.HTML, "Weekly Email - ")

	assert.Equal(t, 2, st.recordsFor(6))
	rec, err := st.LatestDigest(context.Background(), 6)
	require.NoError(t, err)
	assert.True(t, rec.Timestamp.Equal(testNow))
	assert.Equal(t, "weekly", rec.EmailFrequency)

	require.Len(t, cache.docs, 1)
	for key, doc := range cache.docs {
		assert.True(t, strings.HasSuffix(key, "-"+strconv.FormatInt(testNow.UnixMilli(), 10)+".json"))
		cd, ok := doc.(cacheDoc)
		require.True(t, ok)
		assert.Equal(t, msg.Subject, cd.EmailParams.Subject)
		assert.Equal(t, "2024", cd.RenderProps.CopyrightYear)
	}
}

func TestRunOutcomeTally(t *testing.T) {
	st := newMemStore()
	recent := testNow.Add(-2 * time.Hour)

	st.addUser(1, "live") // sent
	st.addUser(2, "live") // blocked
	st.addUser(3, "live") // turned off after bucketing
	st.addUser(4, "live") // nothing new since last send
	st.addUser(5, "live") // mail failure

	u := st.users[2]
	u.BlockedFromEmails = true
	st.users[2] = u
	st.freq[3] = "off"
	st.records = append(st.records, storage.DigestSendRecord{UserID: 4, EmailFrequency: "live", Timestamp: testNow.Add(-time.Minute)})
	for id := int64(1); id <= 5; id++ {
		st.notifications = append(st.notifications, storage.StoredNotification{UserID: id, Type: notification.TypeRepost, Timestamp: recent})
	}
	m := &fakeMailer{failTo: st.users[5].Email}

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	svc := New(Config{Enabled: true}, st, m, nil, logx.Nop(), bus, WithClock(func() time.Time { return testNow }))

	tally, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Tally{ResultSent: 1, ResultBlocked: 1, ResultTurnedOff: 1, ResultSkip: 1, ResultError: 1}, tally)
	assert.Equal(t, 5, tally.Total())
	assert.Equal(t, 1, st.recordsFor(1))
	assert.Equal(t, 0, st.recordsFor(5))

	select {
	case ev := <-events:
		assert.Equal(t, EventFinished, ev.Type)
		fe, ok := ev.Data.(FinishedEvent)
		require.True(t, ok)
		assert.Equal(t, tally, fe.Tally)
	case <-time.After(time.Second):
		t.Fatalf("no %s event", EventFinished)
	}
}

func TestLiveDisabledFlagEmptiesLiveBucket(t *testing.T) {
	st := newMemStore()
	st.addUser(1, "live")
	st.addUser(2, "daily")
	for _, id := range []int64{1, 2} {
		st.notifications = append(st.notifications, storage.StoredNotification{UserID: id, Type: notification.TypeRepost, Timestamp: testNow.Add(-time.Hour)})
	}
	src := flags.NewStatic(map[string]bool{flags.FeatureEmailNotifications + "." + flags.VarLiveDisabled: true})
	m := &fakeMailer{}

	tally, err := newService(st, m, src).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Tally{ResultSent: 1}, tally)
	require.Len(t, m.sent, 1)
	assert.Equal(t, "1 unread notification from March 11th 2024", m.sent[0].Subject)
}

func TestAnnouncementsBucketByAge(t *testing.T) {
	st := newMemStore()
	st.addUser(1, "live")
	st.addUser(2, "daily")
	st.announcements = []storage.Announcement{{ID: 1, EntityID: 500, Title: "Big news", ShortDescription: "Read all about it",
		DatePublished: testNow.Add(-10 * time.Hour)}}
	m := &fakeMailer{}

	tally, err := newService(st, m, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Tally{ResultSent: 1}, tally, "the live user is past the one hour window")
	require.Len(t, m.sent, 1)
	assert.Equal(t, st.users[2].Email, m.sent[0].To)
	assert.Contains(t, m.sent[0].HTML, "Read all about it")
}

func TestChunksBoundConcurrency(t *testing.T) {
	st := newMemStore()
	for id := int64(1); id <= 45; id++ {
		st.addUser(id, "live")
		st.notifications = append(st.notifications, storage.StoredNotification{UserID: id, Type: notification.TypeRepost, Timestamp: testNow.Add(-time.Hour)})
	}
	m := &fakeMailer{delay: 5 * time.Millisecond}

	tally, err := newService(st, m, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 45, tally[ResultSent])
	assert.LessOrEqual(t, m.peak.Load(), int64(DefaultChunkSize))
}

func TestUnconfiguredMailerReturnsEarly(t *testing.T) {
	st := newMemStore()
	st.addUser(1, "live")

	tally, err := newService(st, &fakeMailer{disabled: true}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tally)
	assert.Zero(t, st.calls.Load())

	_, err = New(Config{}, st, &fakeMailer{}, nil, logx.Nop(), nil).Run(context.Background())
	assert.ErrorIs(t, err, ErrDisabled)
}
