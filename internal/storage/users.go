package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"notifyd/internal/notification"
)

func (s *sqlStore) UpsertUser(ctx context.Context, u User) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO users(user_id, handle, name, email, timezone, created_at, is_deactivated,
		   is_blocked_from_relay, is_blocked_from_notifications, is_email_deliverable, is_blocked_from_emails)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   handle=excluded.handle, name=excluded.name, email=excluded.email, timezone=excluded.timezone,
		   is_deactivated=excluded.is_deactivated, is_blocked_from_relay=excluded.is_blocked_from_relay,
		   is_blocked_from_notifications=excluded.is_blocked_from_notifications,
		   is_email_deliverable=excluded.is_email_deliverable, is_blocked_from_emails=excluded.is_blocked_from_emails`),
		u.ID, u.Handle, u.Name, u.Email, u.Timezone, u.CreatedAt.UnixMilli(), u.Deactivated,
		u.BlockedFromRelay, u.BlockedFromNotifications, u.EmailDeliverable, u.BlockedFromEmails,
	)
	return err
}

func (s *sqlStore) Users(ctx context.Context, ids []int64) ([]User, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pred, args := s.inInt64("user_id", ids)
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT user_id, handle, name, email, timezone, created_at, is_deactivated, is_blocked_from_relay,
		   is_blocked_from_notifications, is_email_deliverable, is_blocked_from_emails
		 FROM users WHERE `+pred+` ORDER BY user_id`), args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var (
			u       User
			created int64
		)
		if err := rows.Scan(&u.ID, &u.Handle, &u.Name, &u.Email, &u.Timezone, &created, &u.Deactivated,
			&u.BlockedFromRelay, &u.BlockedFromNotifications, &u.EmailDeliverable, &u.BlockedFromEmails); err != nil {
			return nil, err
		}
		u.CreatedAt = time.UnixMilli(created)
		out = append(out, u)
	}
	return out, rows.Err()
}

// UserStatus returns the suppression state of userID. Unknown users are not suppressed.
func (s *sqlStore) UserStatus(ctx context.Context, userID int64) (notification.UserStatus, error) {
	if s == nil || s.db == nil {
		return notification.UserStatus{}, ErrDisabled
	}
	var st notification.UserStatus
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT is_deactivated, is_blocked_from_relay, is_blocked_from_notifications FROM users WHERE user_id = ?`),
		userID).Scan(&st.Deactivated, &st.BlockedFromRelay, &st.BlockedFromNotifications)
	if errors.Is(err, sql.ErrNoRows) {
		return notification.UserStatus{}, nil
	}
	return st, err
}

func (s *sqlStore) Preferences(ctx context.Context, userID int64) (notification.Preferences, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT channel, setting, enabled FROM notification_preferences WHERE user_id = ?`), userID)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	prefs := notification.Preferences{}
	for rows.Next() {
		var (
			ch      int64
			setting string
			on      bool
		)
		if err := rows.Scan(&ch, &setting, &on); err != nil {
			return nil, err
		}
		prefs.Set(notification.Channel(ch), setting, on)
	}
	return prefs, rows.Err()
}

func (s *sqlStore) SetPreference(ctx context.Context, userID int64, ch notification.Channel, key string, on bool) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO notification_preferences(user_id, channel, setting, enabled) VALUES(?,?,?,?)
		 ON CONFLICT(user_id, channel, setting) DO UPDATE SET enabled=excluded.enabled`),
		userID, int64(ch), key, on)
	return err
}
