package notification

import (
	"context"
	"fmt"

	"notifyd/internal/flags"
	logx "notifyd/pkg/logx"
)

// DropReason explains why an event produced no envelope.
type DropReason int

const (
	DropNone DropReason = iota
	DropUnclassified
	DropNoRecipient
	DropDeactivated
	DropAbusiveInitiator
	DropKillSwitch
	DropNoChannels
)

func (d DropReason) String() string {
	switch d {
	case DropNone:
		return "none"
	case DropUnclassified:
		return "unclassified"
	case DropNoRecipient:
		return "no_recipient"
	case DropDeactivated:
		return "deactivated"
	case DropAbusiveInitiator:
		return "abusive_initiator"
	case DropKillSwitch:
		return "kill_switch"
	case DropNoChannels:
		return "no_channels"
	default:
		return "unknown"
	}
}

// Resolution is the outcome of Resolve. Drop != DropNone means nothing is sent.
type Resolution struct {
	UserID   int64
	Channels ChannelSet
	Drop     DropReason
}

func (r Resolution) Dropped() bool { return r.Drop != DropNone }

// Directory is the read-only preference and suppression store.
type Directory interface {
	UserStatus(ctx context.Context, userID int64) (UserStatus, error)
	Preferences(ctx context.Context, userID int64) (Preferences, error)
}

// Resolver computes the recipient and eligible channels of an event.
type Resolver struct {
	dir   Directory
	flags flags.Source
	log   logx.Logger
}

func NewResolver(dir Directory, src flags.Source, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	if src == nil {
		src = flags.NewStatic(nil)
	}
	return &Resolver{dir: dir, flags: src, log: log}
}

// Resolve applies, in order: recipient extraction, suppression, remote kill-switches,
// then the always-send list or per-channel preferences.
// Errors are only returned for directory failures; every policy outcome is a Drop.
func (r *Resolver) Resolve(ctx context.Context, ev Event, base BaseType) (Resolution, error) {
	if base == BaseNone {
		return Resolution{Drop: DropUnclassified}, nil
	}
	userID, ok := Recipient(ev, base)
	if !ok {
		return Resolution{Drop: DropNoRecipient}, nil
	}
	res := Resolution{UserID: userID}

	st, err := r.dir.UserStatus(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("recipient status %d: %w", userID, err)
	}
	if st.Deactivated {
		res.Drop = DropDeactivated
		return res, nil
	}
	if ev.InitiatorID > 0 {
		ist := st
		if ev.InitiatorID != userID {
			ist, err = r.dir.UserStatus(ctx, ev.InitiatorID)
			if err != nil {
				return res, fmt.Errorf("initiator status %d: %w", ev.InitiatorID, err)
			}
		}
		if ist.Abusive() {
			r.log.Info("dropping notification from abusive initiator",
				logx.Int64("initiator", ev.InitiatorID),
				logx.Int64("user_id", userID),
				logx.String("type", string(ev.Type)))
			res.Drop = DropAbusiveInitiator
			return res, nil
		}
	}

	if r.Killed(ctx, base, userID) {
		res.Drop = DropKillSwitch
		return res, nil
	}

	// Announcements reach every channel and are never preference gated.
	if AlwaysSend(base) || base == BaseAnnouncement {
		res.Channels = AllChannels
		return res, nil
	}
	key, ok := SettingsKey(base)
	if !ok {
		res.Drop = DropNoChannels
		return res, nil
	}
	prefs, err := r.dir.Preferences(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("preferences %d: %w", userID, err)
	}
	for _, c := range []Channel{ChannelMobile, ChannelBrowser} {
		if prefs.Enabled(c, key) {
			res.Channels |= ChannelSet(c)
		}
	}
	if res.Channels.Empty() {
		res.Drop = DropNoChannels
	}
	return res, nil
}

// Killed reports whether a remote kill-switch vetoes base for userID.
// A userID <= 0 evaluates the flags anonymously.
func (r *Resolver) Killed(ctx context.Context, base BaseType, userID int64) bool {
	key := flags.UserKey(userID)
	if r.flags.Bool(ctx, flags.FeatureNotificationMapping, base.String(), key) {
		return true
	}
	if !legacyExempt(base) && r.flags.Bool(ctx, flags.FeaturePushNotifications, flags.VarLegacyDisabled, key) {
		return true
	}
	if base == BaseSupporterDethroned && !r.flags.Bool(ctx, flags.FeatureSupporterDethroned, flags.VarEnabled, key) {
		return true
	}
	return false
}

// Recipient extracts the target user id. ok is false when the required id is missing.
func Recipient(ev Event, base BaseType) (int64, bool) {
	var (
		id int64
		ok bool
	)
	switch base {
	case BaseFollow:
		id, ok = ev.Metadata.Int64(MetaFolloweeUserID)
	case BaseRepost, BaseFavorite:
		id, ok = ev.Metadata.Int64(MetaEntityOwnerID)
	case BaseCreate:
		id, ok = ev.Metadata.Int64(MetaSubscriberID)
	case BaseReaction:
		id, ok = ev.Metadata.Int64(MetaTipSenderID)
	case BaseSupportingRankUp:
		id, ok = ev.Metadata.Int64(MetaEntityID)
	case BaseMilestone, BaseRemixCreate, BaseRemixCosign, BaseTrendingTrack, BaseChallengeReward,
		BaseAddTrackToPlaylist, BaseTipReceive, BaseSupporterRankUp, BaseSupporterDethroned,
		BaseTierChange, BaseAnnouncement:
		id, ok = ev.InitiatorID, true
	default:
		return 0, false
	}
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}

// AlwaysSend reports whether base bypasses preference checks.
func AlwaysSend(base BaseType) bool {
	switch base {
	case BaseRemixCosign, BaseCreate, BaseChallengeReward, BaseAddTrackToPlaylist, BaseReaction,
		BaseTipReceive, BaseSupporterRankUp, BaseSupportingRankUp, BaseSupporterDethroned:
		return true
	default:
		return false
	}
}

// SettingsKey returns the preference key gating base, if any.
func SettingsKey(base BaseType) (string, bool) {
	switch base {
	case BaseFollow:
		return SettingFollowers, true
	case BaseRepost:
		return SettingReposts, true
	case BaseFavorite:
		return SettingFavorites, true
	case BaseRemixCreate:
		return SettingRemixes, true
	case BaseMilestone:
		return SettingMilestones, true
	default:
		return "", false
	}
}

func legacyExempt(base BaseType) bool {
	switch base {
	case BaseChallengeReward, BaseTipReceive, BaseReaction, BaseSupporterRankUp, BaseSupportingRankUp:
		return true
	default:
		return false
	}
}
