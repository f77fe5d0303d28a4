package notification

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	titleFollower     = "New Follower"
	titleFavorite     = "New Favorite"
	titleRepost       = "New Repost"
	titleMilestone    = "Congratulations! 🎉"
	titleSubscription = "New Artist Update"
	titleTrending     = "Congrats - You’re Trending! 📈"
	titleRemixCreate  = "New Remix Of Your Track ♻️"
	titleRemixCosign  = "New Track Co-Sign! 🔥"
	titlePlaylistAdd  = "Your track got on a playlist! 💿"
	titleTipReceive   = "You Received a Tip!"
	titleDethroned    = "👑 You've Been Dethroned!"
)

// Challenge describes a reward challenge as shown to the user.
type Challenge struct {
	Title  string
	Amount int
}

// Challenges is keyed by challenge id.
var Challenges = map[string]Challenge{
	"p":  {Title: "✅️ Complete your Profile", Amount: 1},
	"l":  {Title: "🎧 Listening Streak: 7 Days", Amount: 1},
	"u":  {Title: "🎶 Upload 3 Tracks", Amount: 1},
	"r":  {Title: "📨 Invite your Friends", Amount: 1},
	"rd": {Title: "📨 Invite your Friends", Amount: 1},
	"rv": {Title: "📨 Invite your Fans", Amount: 1},
	"v":  {Title: "✅️ Link Verified Accounts", Amount: 5},
	"m":  {Title: "📲 Get the App", Amount: 1},
	"ft": {Title: "🤑 Send Your First Tip", Amount: 2},
	"fp": {Title: "🎼 Create a Playlist", Amount: 2},
}

// Rendered is the user-facing text of a notification.
type Rendered struct {
	Title   *string
	Message string
}

// Render produces the push title and message for ev.
// Missing optional metadata renders as an empty string; Render never fails.
func Render(ev Event, base BaseType) Rendered {
	md := ev.Metadata
	switch base {
	case BaseFollow:
		return rendered(titleFollower, fmt.Sprintf("%s followed you", md.String(MetaInitiatorName)))
	case BaseFavorite:
		return rendered(titleFavorite, fmt.Sprintf("%s favorited your %s %s",
			md.String(MetaInitiatorName), entityType(ev), md.String(MetaEntityName)))
	case BaseRepost:
		return rendered(titleRepost, fmt.Sprintf("%s reposted your %s %s",
			md.String(MetaInitiatorName), entityType(ev), md.String(MetaEntityName)))
	case BaseMilestone:
		return rendered(titleMilestone, milestoneMessage(ev))
	case BaseCreate:
		return rendered(titleSubscription, createMessage(ev))
	case BaseRemixCreate:
		return rendered(titleRemixCreate, fmt.Sprintf("New remix of your track %s: %s uploaded %s",
			md.String(MetaParentTrackTitle), md.String(MetaRemixUserName), md.String(MetaRemixTitle)))
	case BaseRemixCosign:
		return rendered(titleRemixCosign, fmt.Sprintf("%s Co-Signed your Remix of %s",
			md.String(MetaInitiatorName), md.String(MetaRemixTitle)))
	case BaseTrendingTrack:
		rank, _ := md.Int64(MetaRank)
		return rendered(titleTrending, fmt.Sprintf("Your Track %s is %d%s on Trending Right Now! 🍾",
			md.String(MetaTrackTitle), rank, RankSuffix(rank)))
	case BaseChallengeReward:
		id := ChallengeID(ev)
		ch := Challenges[id]
		msg := fmt.Sprintf("You’ve earned %d $AUDIO for completing this challenge!", ch.Amount)
		if id == "rd" {
			msg = fmt.Sprintf("You’ve received %d $AUDIO for being referred! Invite your friends to join to earn more!", ch.Amount)
		}
		return rendered(ch.Title, msg)
	case BaseAddTrackToPlaylist:
		return rendered(titlePlaylistAdd, fmt.Sprintf("%s added %s to their playlist %s",
			md.String(MetaPlaylistOwner), md.String(MetaTrackTitle), md.String(MetaPlaylistName)))
	case BaseReaction:
		name := Capitalize(md.String(MetaInitiatorName))
		return rendered(name+" reacted", fmt.Sprintf("%s reacted to your tip of %s $AUDIO",
			name, FormatWei(md.String(MetaAmount))))
	case BaseTipReceive:
		return rendered(titleTipReceive, fmt.Sprintf("%s sent you a tip of %s $AUDIO",
			Capitalize(md.String(MetaSenderName)), FormatWei(md.String(MetaAmount))))
	case BaseSupporterRankUp:
		rank := md.String(MetaRank)
		return rendered("#"+rank+" Top Supporter", fmt.Sprintf("%s became your #%s Top Supporter!",
			Capitalize(md.String(MetaSenderName)), rank))
	case BaseSupportingRankUp:
		rank := md.String(MetaRank)
		return rendered("#"+rank+" Top Supporter", fmt.Sprintf("You're now %s's #%s Top Supporter!",
			md.String(MetaSupportingName), rank))
	case BaseSupporterDethroned:
		return rendered(titleDethroned, fmt.Sprintf("%s dethroned you as %s's #1 Top Supporter! Tip to reclaim your spot?",
			Capitalize(md.String(MetaNewTopName)), md.String(MetaSupportingName)))
	case BaseAnnouncement:
		return rendered(md.String(MetaTitle), md.String(MetaShortDescription))
	default:
		return Rendered{}
	}
}

func rendered(title, msg string) Rendered {
	return Rendered{Title: &title, Message: msg}
}

// ChallengeID reads the challenge id from the first action, falling back to metadata.
func ChallengeID(ev Event) string {
	if len(ev.Actions) > 0 && ev.Actions[0].ActionEntityType != "" {
		return ev.Actions[0].ActionEntityType
	}
	return ev.Metadata.String(MetaChallengeID)
}

func entityType(ev Event) string {
	if t := ev.Metadata.String(MetaEntityType); t != "" {
		return strings.ToLower(t)
	}
	switch ev.Type {
	case TypeRepostTrack, TypeFavoriteTrack, TypeCreateTrack, TypeMilestoneListen:
		return "track"
	case TypeRepostAlbum, TypeFavoriteAlbum, TypeCreateAlbum:
		return "album"
	case TypeRepostPlaylist, TypeFavoritePlaylist, TypeCreatePlaylist:
		return "playlist"
	default:
		return ""
	}
}

func milestoneMessage(ev Event) string {
	md := ev.Metadata
	value, _ := md.Int64(MetaValue)
	if ev.Type == TypeMilestoneFollow {
		return fmt.Sprintf("You have reached over %s Followers", groupThousands(value))
	}
	achievement := md.String(MetaAchievement)
	if achievement == "" {
		switch ev.Type {
		case TypeMilestoneListen:
			achievement = "listen"
		case TypeMilestoneRepost:
			achievement = "repost"
		case TypeMilestoneFavorite:
			achievement = "favorite"
		}
	}
	return fmt.Sprintf("Your %s %s has reached over %s %ss",
		entityType(ev), md.String(MetaEntityName), groupThousands(value), achievement)
}

func createMessage(ev Event) string {
	md := ev.Metadata
	typ := entityType(ev)
	if count, ok := md.Int64(MetaTrackCount); ok && count > 1 && typ == "track" {
		return fmt.Sprintf("%s released %d new %ss", md.String(MetaInitiatorName), count, typ)
	}
	return fmt.Sprintf("%s released a new %s %s", md.String(MetaInitiatorName), typ, md.String(MetaEntityName))
}

// RankSuffix returns the English ordinal suffix used in trending messages.
func RankSuffix(n int64) string {
	switch n {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}

// Capitalize upper-cases the first rune.
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

var weiPerAudio = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// FormatWei converts a wei amount (base-10 string) to $AUDIO with at most two decimals.
// Unparseable input is returned unchanged.
func FormatWei(wei string) string {
	wei = strings.TrimSpace(wei)
	if wei == "" {
		return ""
	}
	n, ok := new(big.Int).SetString(wei, 10)
	if !ok {
		return wei
	}
	whole, frac := new(big.Int).QuoRem(n, weiPerAudio, new(big.Int))
	if frac.Sign() == 0 {
		return whole.String()
	}
	digits := frac.Abs(frac).String()
	digits = strings.Repeat("0", 18-len(digits)) + digits
	decimals := strings.TrimRight(digits[:2], "0")
	if decimals == "" {
		return whole.String()
	}
	return whole.String() + "." + decimals
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
