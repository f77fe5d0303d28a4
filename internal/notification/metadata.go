package notification

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Metadata is the loosely-typed payload attached to an event.
// Getters never fail: a missing or malformed optional field reads as its zero value.
type Metadata map[string]any

// Metadata keys read by the resolver and the renderer.
const (
	MetaFolloweeUserID   = "followee_user_id"
	MetaEntityOwnerID    = "entity_owner_id"
	MetaSubscriberID     = "subscriber_id"
	MetaTipSenderID      = "tip_sender_id"
	MetaEntityID         = "entity_id"
	MetaInitiatorName    = "initiator_name"
	MetaEntityName       = "entity_name"
	MetaEntityType       = "entity_type"
	MetaTrackIDs         = "track_ids"
	MetaTrackCount       = "track_count"
	MetaParentTrackTitle = "parent_track_title"
	MetaRemixTitle       = "remix_title"
	MetaRemixUserName    = "remix_user_name"
	MetaTrackTitle       = "track_title"
	MetaPlaylistName     = "playlist_name"
	MetaPlaylistOwner    = "playlist_owner_name"
	MetaRank             = "rank"
	MetaAmount           = "amount"
	MetaChallengeID      = "challenge_id"
	MetaValue            = "value"
	MetaAchievement      = "achievement"
	MetaSenderName       = "sender_name"
	MetaSupportingName   = "supporting_name"
	MetaNewTopName       = "new_top_supporter_name"
	MetaTitle            = "title"
	MetaShortDescription = "short_description"
)

// Int64 reads an integer id. JSON numbers, numeric strings and Go ints are accepted.
func (m Metadata) Int64(key string) (int64, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	return toInt64(v)
}

// String reads a string field, formatting numbers when needed.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}

// Int64s reads a list of ids. Entries that are not integers are skipped.
func (m Metadata) Int64s(key string) []int64 {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	var out []int64
	switch x := v.(type) {
	case []int64:
		return append(out, x...)
	case []any:
		for _, it := range x {
			if n, ok := toInt64(it); ok {
				out = append(out, n)
			}
		}
	}
	return out
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case float64:
		if x != float64(int64(x)) {
			return 0, false
		}
		return int64(x), true
	case json.Number:
		n, err := x.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
