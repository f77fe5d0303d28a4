package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"notifyd/internal/notification"
)

const defaultEmailFrequency = "live"

// EmailFrequency returns the stored frequency, creating the default row when missing.
func (s *sqlStore) EmailFrequency(ctx context.Context, userID int64) (string, error) {
	if s == nil || s.db == nil {
		return "", ErrDisabled
	}
	var freq string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT email_frequency FROM email_settings WHERE user_id = ?`), userID).Scan(&freq)
	if errors.Is(err, sql.ErrNoRows) {
		if err := s.SetEmailFrequency(ctx, userID, defaultEmailFrequency); err != nil {
			return "", err
		}
		return defaultEmailFrequency, nil
	}
	if err != nil {
		return "", err
	}
	if freq == "" {
		freq = defaultEmailFrequency
	}
	return freq, nil
}

func (s *sqlStore) SetEmailFrequency(ctx context.Context, userID int64, freq string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO email_settings(user_id, email_frequency) VALUES(?,?)
		 ON CONFLICT(user_id) DO UPDATE SET email_frequency=excluded.email_frequency`), userID, freq)
	return err
}

func (s *sqlStore) UsersByEmailFrequency(ctx context.Context, freq string) ([]int64, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	return s.queryIDs(ctx, s.q(`SELECT user_id FROM email_settings WHERE email_frequency = ? ORDER BY user_id`), freq)
}

// UsersWithUnseenSince returns the subset of userIDs with an unviewed notification newer than since.
func (s *sqlStore) UsersWithUnseenSince(ctx context.Context, userIDs []int64, since time.Time) ([]int64, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if len(userIDs) == 0 {
		return nil, nil
	}
	pred, args := s.inInt64("user_id", userIDs)
	args = append([]any{false, since.UnixMilli()}, args...)
	return s.queryIDs(ctx, s.q(
		`SELECT DISTINCT user_id FROM notifications WHERE is_viewed = ? AND ts > ? AND `+pred+` ORDER BY user_id`), args...)
}

// UnseenNotifications returns up to limit newest unviewed notifications since the given
// time, plus the total unviewed count in that window.
func (s *sqlStore) UnseenNotifications(ctx context.Context, userID int64, since time.Time, limit int) ([]StoredNotification, int, error) {
	if s == nil || s.db == nil {
		return nil, 0, ErrDisabled
	}
	var total int
	if err := s.db.QueryRowContext(ctx, s.q(
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_viewed = ? AND ts > ?`),
		userID, false, since.UnixMilli()).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count unseen: %w", err)
	}
	if total == 0 || limit <= 0 {
		return nil, total, nil
	}

	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, user_id, type, entity_id, ts, metadata FROM notifications
		 WHERE user_id = ? AND is_viewed = ? AND ts > ? ORDER BY ts DESC, id DESC LIMIT ?`),
		userID, false, since.UnixMilli(), limit)
	if err != nil {
		return nil, 0, fmt.Errorf("query unseen: %w", err)
	}
	defer rows.Close()

	var out []StoredNotification
	for rows.Next() {
		var (
			n    StoredNotification
			typ  string
			ts   int64
			meta sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.EntityID, &ts, &meta); err != nil {
			return nil, 0, err
		}
		n.Type = notification.Type(typ)
		n.Timestamp = time.UnixMilli(ts)
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &n.Metadata); err != nil {
				s.log.Debug("notification metadata not json; ignoring")
			}
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func (s *sqlStore) InsertNotification(ctx context.Context, n StoredNotification) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	var meta any
	if len(n.Metadata) > 0 {
		b, err := json.Marshal(n.Metadata)
		if err != nil {
			return 0, err
		}
		meta = string(b)
	}
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(
		`INSERT INTO notifications(user_id, type, entity_id, is_viewed, ts, metadata) VALUES(?,?,?,?,?,?) RETURNING id`),
		n.UserID, string(n.Type), n.EntityID, false, n.Timestamp.UnixMilli(), meta).Scan(&id)
	return id, err
}

func (s *sqlStore) MarkViewed(ctx context.Context, userID int64, typ notification.Type, entityID int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`UPDATE notifications SET is_viewed = ? WHERE user_id = ? AND type = ? AND entity_id = ?`),
		true, userID, string(typ), entityID)
	return err
}

// LatestDigest returns the newest send record or ErrNotFound.
func (s *sqlStore) LatestDigest(ctx context.Context, userID int64) (DigestSendRecord, error) {
	if s == nil || s.db == nil {
		return DigestSendRecord{}, ErrDisabled
	}
	var (
		rec DigestSendRecord
		ts  int64
	)
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT user_id, email_frequency, ts FROM digest_sends WHERE user_id = ? ORDER BY ts DESC LIMIT 1`),
		userID).Scan(&rec.UserID, &rec.EmailFrequency, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return DigestSendRecord{}, ErrNotFound
	}
	if err != nil {
		return DigestSendRecord{}, err
	}
	rec.Timestamp = time.UnixMilli(ts)
	return rec, nil
}

func (s *sqlStore) AppendDigest(ctx context.Context, rec DigestSendRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO digest_sends(user_id, email_frequency, ts) VALUES(?,?,?)`),
		rec.UserID, rec.EmailFrequency, rec.Timestamp.UnixMilli())
	return err
}

func (s *sqlStore) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
