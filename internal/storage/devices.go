package storage

import (
	"context"
	"fmt"
)

func (s *sqlStore) RegisterDevice(ctx context.Context, d Device) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if d.EndpointARN == "" {
		return fmt.Errorf("device endpoint arn is required")
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO devices(endpoint_arn, user_id, device_type) VALUES(?,?,?)
		 ON CONFLICT(endpoint_arn) DO UPDATE SET user_id=excluded.user_id, device_type=excluded.device_type`),
		d.EndpointARN, d.UserID, string(d.Type))
	return err
}

func (s *sqlStore) RemoveDevice(ctx context.Context, endpointARN string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM devices WHERE endpoint_arn = ?`), endpointARN)
	return err
}

// Devices lists a user's endpoints, optionally restricted to types.
func (s *sqlStore) Devices(ctx context.Context, userID int64, types ...DeviceType) ([]Device, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	query := `SELECT endpoint_arn, user_id, device_type FROM devices WHERE user_id = ?`
	args := []any{userID}
	if len(types) > 0 {
		vals := make([]string, len(types))
		for i, t := range types {
			vals[i] = string(t)
		}
		pred, more := s.inStrings("device_type", vals)
		query += " AND " + pred
		args = append(args, more...)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query+` ORDER BY endpoint_arn`), args...)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		var (
			d   Device
			typ string
		)
		if err := rows.Scan(&d.EndpointARN, &d.UserID, &typ); err != nil {
			return nil, err
		}
		d.Type = DeviceType(typ)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqlStore) AddBrowserSubscription(ctx context.Context, sub BrowserSubscription) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO browser_subscriptions(endpoint, user_id, p256dh, auth) VALUES(?,?,?,?)
		 ON CONFLICT(endpoint) DO UPDATE SET user_id=excluded.user_id, p256dh=excluded.p256dh, auth=excluded.auth`),
		sub.Endpoint, sub.UserID, sub.P256dh, sub.Auth)
	return err
}

func (s *sqlStore) RemoveBrowserSubscription(ctx context.Context, endpoint string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM browser_subscriptions WHERE endpoint = ?`), endpoint)
	return err
}

func (s *sqlStore) BrowserSubscriptions(ctx context.Context, userID int64) ([]BrowserSubscription, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT endpoint, user_id, p256dh, auth FROM browser_subscriptions WHERE user_id = ? ORDER BY endpoint`), userID)
	if err != nil {
		return nil, fmt.Errorf("query browser subscriptions: %w", err)
	}
	defer rows.Close()

	var out []BrowserSubscription
	for rows.Next() {
		var sub BrowserSubscription
		if err := rows.Scan(&sub.Endpoint, &sub.UserID, &sub.P256dh, &sub.Auth); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// IncrementBadge bumps and returns the unread badge count shown on mobile.
func (s *sqlStore) IncrementBadge(ctx context.Context, userID int64) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	var n int
	err := s.db.QueryRowContext(ctx, s.q(
		`INSERT INTO badges(user_id, count) VALUES(?, 1)
		 ON CONFLICT(user_id) DO UPDATE SET count = badges.count + 1
		 RETURNING count`), userID).Scan(&n)
	return n, err
}

func (s *sqlStore) ResetBadge(ctx context.Context, userID int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE badges SET count = 0 WHERE user_id = ?`), userID)
	return err
}
