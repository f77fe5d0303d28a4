package notification

// Classify maps a concrete subtype to its base type.
// Unknown subtypes return BaseNone; callers drop them without error.
func Classify(ev Event) BaseType {
	return ClassifyType(ev.Type)
}

func ClassifyType(t Type) BaseType {
	switch t {
	case TypeFollow:
		return BaseFollow
	case TypeRepost, TypeRepostTrack, TypeRepostAlbum, TypeRepostPlaylist:
		return BaseRepost
	case TypeFavorite, TypeFavoriteTrack, TypeFavoriteAlbum, TypeFavoritePlaylist:
		return BaseFavorite
	case TypeCreate, TypeCreateTrack, TypeCreateAlbum, TypeCreatePlaylist:
		return BaseCreate
	case TypeMilestone, TypeMilestoneListen, TypeMilestoneRepost, TypeMilestoneFavorite, TypeMilestoneFollow:
		return BaseMilestone
	case TypeRemixCreate:
		return BaseRemixCreate
	case TypeRemixCosign:
		return BaseRemixCosign
	case TypeTrendingTrack:
		return BaseTrendingTrack
	case TypeChallengeReward:
		return BaseChallengeReward
	case TypeAddTrackToPlaylist:
		return BaseAddTrackToPlaylist
	case TypeReaction:
		return BaseReaction
	case TypeTip, TypeTipReceive:
		return BaseTipReceive
	case TypeSupporterRankUp:
		return BaseSupporterRankUp
	case TypeSupportingRankUp:
		return BaseSupportingRankUp
	case TypeSupporterDethroned:
		return BaseSupporterDethroned
	case TypeTierChange:
		return BaseTierChange
	case TypeAnnouncement:
		return BaseAnnouncement
	default:
		return BaseNone
	}
}

// ChainDerived reports whether events of type t come from the slower on-chain indexer.
// They are buffered and drained separately from the standard feed.
func ChainDerived(t Type) bool {
	switch t {
	case TypeChallengeReward, TypeMilestoneListen, TypeTip, TypeTipReceive, TypeReaction,
		TypeSupporterRankUp, TypeSupportingRankUp, TypeSupporterDethroned:
		return true
	default:
		return false
	}
}
