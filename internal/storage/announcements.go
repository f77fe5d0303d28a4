package storage

import (
	"context"
	"fmt"
	"time"

	"notifyd/internal/notification"
)

func (s *sqlStore) PutAnnouncement(ctx context.Context, a Announcement) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO announcements(entity_id, title, date_published, short_description, long_description)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(entity_id) DO UPDATE SET title=excluded.title, date_published=excluded.date_published,
		   short_description=excluded.short_description, long_description=excluded.long_description`),
		a.EntityID, a.Title, a.DatePublished.UnixMilli(), a.ShortDescription, a.LongDescription)
	return err
}

// AnnouncementsSince lists announcements published after since, oldest first.
func (s *sqlStore) AnnouncementsSince(ctx context.Context, since time.Time) ([]Announcement, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, entity_id, title, date_published, short_description, long_description
		 FROM announcements WHERE date_published > ? ORDER BY date_published`), since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query announcements: %w", err)
	}
	defer rows.Close()

	var out []Announcement
	for rows.Next() {
		var (
			a  Announcement
			ts int64
		)
		if err := rows.Scan(&a.ID, &a.EntityID, &a.Title, &ts, &a.ShortDescription, &a.LongDescription); err != nil {
			return nil, err
		}
		a.DatePublished = time.UnixMilli(ts)
		out = append(out, a)
	}
	return out, rows.Err()
}

// AnnouncementAudience lists users created before a was published who have not viewed it.
func (s *sqlStore) AnnouncementAudience(ctx context.Context, a Announcement) ([]int64, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	return s.queryIDs(ctx, s.q(
		`SELECT u.user_id FROM users u
		 WHERE u.created_at < ?
		   AND NOT EXISTS (
		     SELECT 1 FROM notifications n
		     WHERE n.user_id = u.user_id AND n.type = ? AND n.entity_id = ? AND n.is_viewed = ?)
		 ORDER BY u.user_id`),
		a.DatePublished.UnixMilli(), string(notification.TypeAnnouncement), a.EntityID, true)
}

// UnviewedAnnouncements filters entityIDs down to the ones userID has not viewed.
func (s *sqlStore) UnviewedAnnouncements(ctx context.Context, userID int64, entityIDs []int64) ([]int64, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if len(entityIDs) == 0 {
		return nil, nil
	}
	pred, args := s.inInt64("entity_id", entityIDs)
	args = append([]any{userID, string(notification.TypeAnnouncement), true}, args...)
	viewed, err := s.queryIDs(ctx, s.q(
		`SELECT entity_id FROM notifications WHERE user_id = ? AND type = ? AND is_viewed = ? AND `+pred), args...)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{}, len(viewed))
	for _, id := range viewed {
		seen[id] = struct{}{}
	}
	var out []int64
	for _, id := range entityIDs {
		if _, ok := seen[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// AnnouncementRecipients pages through active users created before publishedAt.
func (s *sqlStore) AnnouncementRecipients(ctx context.Context, publishedAt time.Time, afterID int64, limit int) ([]int64, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 500
	}
	return s.queryIDs(ctx, s.q(
		`SELECT user_id FROM users WHERE created_at < ? AND is_deactivated = ? AND user_id > ?
		 ORDER BY user_id LIMIT ?`),
		publishedAt.UnixMilli(), false, afterID, limit)
}
