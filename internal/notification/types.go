package notification

import (
	"strings"
	"time"
)

// Type is a concrete notification subtype as emitted by the upstream indexer.
type Type string

const (
	TypeFollow Type = "Follow"

	TypeRepost         Type = "Repost"
	TypeRepostTrack    Type = "RepostTrack"
	TypeRepostAlbum    Type = "RepostAlbum"
	TypeRepostPlaylist Type = "RepostPlaylist"

	TypeFavorite         Type = "Favorite"
	TypeFavoriteTrack    Type = "FavoriteTrack"
	TypeFavoriteAlbum    Type = "FavoriteAlbum"
	TypeFavoritePlaylist Type = "FavoritePlaylist"

	TypeCreate         Type = "Create"
	TypeCreateTrack    Type = "CreateTrack"
	TypeCreateAlbum    Type = "CreateAlbum"
	TypeCreatePlaylist Type = "CreatePlaylist"

	TypeMilestone         Type = "Milestone"
	TypeMilestoneListen   Type = "MilestoneListen"
	TypeMilestoneRepost   Type = "MilestoneRepost"
	TypeMilestoneFavorite Type = "MilestoneFavorite"
	TypeMilestoneFollow   Type = "MilestoneFollow"

	TypeRemixCreate        Type = "RemixCreate"
	TypeRemixCosign        Type = "RemixCosign"
	TypeTrendingTrack      Type = "TrendingTrack"
	TypeChallengeReward    Type = "ChallengeReward"
	TypeAddTrackToPlaylist Type = "AddTrackToPlaylist"
	TypeReaction           Type = "Reaction"
	TypeTip                Type = "Tip"
	TypeTipReceive         Type = "TipReceive"
	TypeSupporterRankUp    Type = "SupporterRankUp"
	TypeSupportingRankUp   Type = "SupportingRankUp"
	TypeSupporterDethroned Type = "SupporterDethroned"
	TypeTierChange         Type = "TierChange"
	TypeAnnouncement       Type = "Announcement"
)

// Types lists the declared vocabulary. Classify is total over it.
var Types = []Type{
	TypeFollow,
	TypeRepost, TypeRepostTrack, TypeRepostAlbum, TypeRepostPlaylist,
	TypeFavorite, TypeFavoriteTrack, TypeFavoriteAlbum, TypeFavoritePlaylist,
	TypeCreate, TypeCreateTrack, TypeCreateAlbum, TypeCreatePlaylist,
	TypeMilestone, TypeMilestoneListen, TypeMilestoneRepost, TypeMilestoneFavorite, TypeMilestoneFollow,
	TypeRemixCreate, TypeRemixCosign, TypeTrendingTrack, TypeChallengeReward, TypeAddTrackToPlaylist,
	TypeReaction, TypeTip, TypeTipReceive,
	TypeSupporterRankUp, TypeSupportingRankUp, TypeSupporterDethroned,
	TypeTierChange, TypeAnnouncement,
}

// BaseType is the canonical category used for settings lookup and message selection.
type BaseType int

const (
	BaseNone BaseType = iota
	BaseFollow
	BaseRepost
	BaseFavorite
	BaseCreate
	BaseMilestone
	BaseRemixCreate
	BaseRemixCosign
	BaseTrendingTrack
	BaseChallengeReward
	BaseAddTrackToPlaylist
	BaseReaction
	BaseTipReceive
	BaseSupporterRankUp
	BaseSupportingRankUp
	BaseSupporterDethroned
	BaseTierChange
	BaseAnnouncement
)

func (b BaseType) String() string {
	switch b {
	case BaseFollow:
		return "Follow"
	case BaseRepost:
		return "Repost"
	case BaseFavorite:
		return "Favorite"
	case BaseCreate:
		return "Create"
	case BaseMilestone:
		return "Milestone"
	case BaseRemixCreate:
		return "RemixCreate"
	case BaseRemixCosign:
		return "RemixCosign"
	case BaseTrendingTrack:
		return "TrendingTrack"
	case BaseChallengeReward:
		return "ChallengeReward"
	case BaseAddTrackToPlaylist:
		return "AddTrackToPlaylist"
	case BaseReaction:
		return "Reaction"
	case BaseTipReceive:
		return "TipReceive"
	case BaseSupporterRankUp:
		return "SupporterRankUp"
	case BaseSupportingRankUp:
		return "SupportingRankUp"
	case BaseSupporterDethroned:
		return "SupporterDethroned"
	case BaseTierChange:
		return "TierChange"
	case BaseAnnouncement:
		return "Announcement"
	default:
		return "None"
	}
}

// Channel is a delivery surface.
type Channel uint8

const (
	ChannelMobile Channel = 1 << iota
	ChannelBrowser
)

func (c Channel) String() string {
	switch c {
	case ChannelMobile:
		return "mobile"
	case ChannelBrowser:
		return "browser"
	default:
		return "unknown"
	}
}

// ChannelSet is a subset of {Mobile, Browser}.
type ChannelSet uint8

// AllChannels is {Mobile, Browser}.
const AllChannels = ChannelSet(ChannelMobile | ChannelBrowser)

func NewChannelSet(chs ...Channel) ChannelSet {
	var s ChannelSet
	for _, c := range chs {
		s |= ChannelSet(c)
	}
	return s
}

func (s ChannelSet) Has(c Channel) bool { return s&ChannelSet(c) != 0 }
func (s ChannelSet) Empty() bool        { return s == 0 }

func (s ChannelSet) String() string {
	var parts []string
	if s.Has(ChannelMobile) {
		parts = append(parts, "mobile")
	}
	if s.Has(ChannelBrowser) {
		parts = append(parts, "browser")
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Action is one actor entry attached to an aggregated notification.
type Action struct {
	ActionEntityType string `json:"actionEntityType"`
	ActionEntityID   int64  `json:"actionEntityId,omitempty"`
}

// Event is a raw notification event. Immutable once produced.
type Event struct {
	Type        Type      `json:"type"`
	InitiatorID int64     `json:"initiator"`
	EntityID    int64     `json:"entity_id,omitempty"`
	Metadata    Metadata  `json:"metadata,omitempty"`
	Actions     []Action  `json:"actions,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Envelope is a fully-resolved, channel-annotated notification ready for dispatch.
type Envelope struct {
	UserID    int64
	Message   string
	Title     *string
	PlaySound bool
	Channels  ChannelSet
	Event     Event
}

// DedupKey identifies an envelope within a buffer.
type DedupKey struct {
	UserID   int64
	Message  string
	Title    string
	HasTitle bool
}

func (e Envelope) Key() DedupKey {
	k := DedupKey{UserID: e.UserID, Message: e.Message}
	if e.Title != nil {
		k.Title = *e.Title
		k.HasTitle = true
	}
	return k
}

// TitleOrEmpty returns the title or "" when unset.
func (e Envelope) TitleOrEmpty() string {
	if e.Title == nil {
		return ""
	}
	return *e.Title
}

// Settings keys in the user preference document.
const (
	SettingFollowers  = "followers"
	SettingReposts    = "reposts"
	SettingFavorites  = "favorites"
	SettingRemixes    = "remixes"
	SettingMilestones = "milestonesAndAchievements"
)

// Preferences maps channel -> settings key -> enabled. Read-only to this package.
type Preferences map[Channel]map[string]bool

// Enabled reports whether key is on for channel. Missing entries are off.
func (p Preferences) Enabled(c Channel, key string) bool {
	if p == nil {
		return false
	}
	return p[c][key]
}

// Set is a small helper for building preference documents.
func (p Preferences) Set(c Channel, key string, on bool) Preferences {
	if p == nil {
		p = Preferences{}
	}
	if p[c] == nil {
		p[c] = map[string]bool{}
	}
	p[c][key] = on
	return p
}

// UserStatus is the suppression state of an account.
type UserStatus struct {
	Deactivated              bool
	BlockedFromRelay         bool
	BlockedFromNotifications bool
}

// Abusive reports whether the account should not initiate notifications.
func (s UserStatus) Abusive() bool { return s.BlockedFromRelay || s.BlockedFromNotifications }
