// Package flags resolves boolean feature flags.
//
// Two sources exist: Remote (Redis-backed, cached) and Static (compiled-in defaults).
// The app picks exactly one at startup; callers only see Source.
package flags

import (
	"context"
	"strconv"
)

// Kind names a Source variant.
type Kind string

const (
	KindStatic Kind = "static"
	KindRemote Kind = "remote"
)

// Anonymous is the lookup key used when a flag is not evaluated for a specific user.
const Anonymous = "anonymous"

// Features and variables consulted by the pipeline.
const (
	// FeatureNotificationMapping holds one variable per base type; true vetoes dispatch of that type.
	FeatureNotificationMapping = "notification_mapping"

	// FeaturePushNotifications carries the legacy kill-switch.
	FeaturePushNotifications = "push_notifications"
	VarLegacyDisabled        = "legacy_disabled"

	FeatureSupporterDethroned = "supporter_dethroned"
	VarEnabled                = "enabled"

	FeatureEmailNotifications = "email_notifications"
	VarLiveDisabled           = "live_disabled"
	VarScheduledDisabled      = "scheduled_disabled"
)

// Source answers (feature, variable, key) boolean lookups.
// Implementations never fail a lookup: they fall back to Defaults.
type Source interface {
	Bool(ctx context.Context, feature, variable, key string) bool
	Kind() Kind
}

// UserKey formats a user id as a lookup key.
func UserKey(userID int64) string {
	if userID <= 0 {
		return Anonymous
	}
	return strconv.FormatInt(userID, 10)
}

// Default returns the fallback value for a flag.
func Default(feature, variable string) bool {
	switch feature {
	case FeatureSupporterDethroned:
		return variable == VarEnabled
	default:
		return false
	}
}

// Static serves Default for every lookup, optionally overridden per (feature, variable).
type Static struct {
	Overrides map[string]bool
}

func NewStatic(overrides map[string]bool) Static {
	return Static{Overrides: overrides}
}

func (s Static) Bool(_ context.Context, feature, variable, _ string) bool {
	if v, ok := s.Overrides[feature+"."+variable]; ok {
		return v
	}
	return Default(feature, variable)
}

func (Static) Kind() Kind { return KindStatic }
