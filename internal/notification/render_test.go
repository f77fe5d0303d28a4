package notification

import "testing"

func TestRenderMessages(t *testing.T) {
	cases := []struct {
		name  string
		ev    Event
		title string
		msg   string
	}{
		{
			name:  "favorite",
			ev:    Event{Type: TypeFavoriteTrack, Metadata: Metadata{MetaInitiatorName: "ana", MetaEntityName: "Song"}},
			title: "New Favorite",
			msg:   "ana favorited your track Song",
		},
		{
			name:  "repost album",
			ev:    Event{Type: TypeRepostAlbum, Metadata: Metadata{MetaInitiatorName: "ana", MetaEntityName: "LP"}},
			title: "New Repost",
			msg:   "ana reposted your album LP",
		},
		{
			name:  "milestone follow",
			ev:    Event{Type: TypeMilestoneFollow, Metadata: Metadata{MetaValue: float64(1000)}},
			title: "Congratulations! 🎉",
			msg:   "You have reached over 1,000 Followers",
		},
		{
			name:  "milestone listen",
			ev:    Event{Type: TypeMilestoneListen, Metadata: Metadata{MetaValue: 250, MetaEntityName: "Song"}},
			title: "Congratulations! 🎉",
			msg:   "Your track Song has reached over 250 listens",
		},
		{
			name:  "create single",
			ev:    Event{Type: TypeCreateTrack, Metadata: Metadata{MetaInitiatorName: "bo", MetaEntityName: "New One"}},
			title: "New Artist Update",
			msg:   "bo released a new track New One",
		},
		{
			name:  "create many",
			ev:    Event{Type: TypeCreateTrack, Metadata: Metadata{MetaInitiatorName: "bo", MetaTrackCount: 3}},
			title: "New Artist Update",
			msg:   "bo released 3 new tracks",
		},
		{
			name:  "trending",
			ev:    Event{Type: TypeTrendingTrack, Metadata: Metadata{MetaTrackTitle: "Hit", MetaRank: 2}},
			title: "Congrats - You’re Trending! 📈",
			msg:   "Your Track Hit is 2nd on Trending Right Now! 🍾",
		},
		{
			name:  "referred reward",
			ev:    Event{Type: TypeChallengeReward, Actions: []Action{{ActionEntityType: "rd"}}},
			title: "📨 Invite your Friends",
			msg:   "You’ve received 1 $AUDIO for being referred! Invite your friends to join to earn more!",
		},
		{
			name:  "verified reward",
			ev:    Event{Type: TypeChallengeReward, Metadata: Metadata{MetaChallengeID: "v"}},
			title: "✅️ Link Verified Accounts",
			msg:   "You’ve earned 5 $AUDIO for completing this challenge!",
		},
		{
			name:  "tip",
			ev:    Event{Type: TypeTipReceive, Metadata: Metadata{MetaSenderName: "cat", MetaAmount: "2500000000000000000"}},
			title: "You Received a Tip!",
			msg:   "Cat sent you a tip of 2.5 $AUDIO",
		},
		{
			name:  "reaction",
			ev:    Event{Type: TypeReaction, Metadata: Metadata{MetaInitiatorName: "dee", MetaAmount: "1000000000000000000"}},
			title: "Dee reacted",
			msg:   "Dee reacted to your tip of 1 $AUDIO",
		},
		{
			name:  "supporter rank up",
			ev:    Event{Type: TypeSupporterRankUp, Metadata: Metadata{MetaSenderName: "eve", MetaRank: 3}},
			title: "#3 Top Supporter",
			msg:   "Eve became your #3 Top Supporter!",
		},
		{
			name:  "supporting rank up",
			ev:    Event{Type: TypeSupportingRankUp, Metadata: Metadata{MetaSupportingName: "fay", MetaRank: 1}},
			title: "#1 Top Supporter",
			msg:   "You're now fay's #1 Top Supporter!",
		},
		{
			name:  "dethroned",
			ev:    Event{Type: TypeSupporterDethroned, Metadata: Metadata{MetaNewTopName: "gus", MetaSupportingName: "hal"}},
			title: "👑 You've Been Dethroned!",
			msg:   "Gus dethroned you as hal's #1 Top Supporter! Tip to reclaim your spot?",
		},
		{
			name:  "playlist add",
			ev:    Event{Type: TypeAddTrackToPlaylist, Metadata: Metadata{MetaPlaylistOwner: "ivy", MetaTrackTitle: "T", MetaPlaylistName: "P"}},
			title: "Your track got on a playlist! 💿",
			msg:   "ivy added T to their playlist P",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := Render(tc.ev, Classify(tc.ev))
			if r.Title == nil || *r.Title != tc.title {
				t.Fatalf("title: got %v want %q", r.Title, tc.title)
			}
			if r.Message != tc.msg {
				t.Fatalf("message: got %q want %q", r.Message, tc.msg)
			}
		})
	}
}

func TestRenderMissingOptionalMetadata(t *testing.T) {
	r := Render(Event{Type: TypeFollow}, BaseFollow)
	if r.Message != " followed you" {
		t.Fatalf("got %q", r.Message)
	}
	if r := Render(Event{Type: "Unknown"}, BaseNone); r.Title != nil || r.Message != "" {
		t.Fatalf("unknown base should render empty, got %+v", r)
	}
}

func TestFormatWei(t *testing.T) {
	cases := map[string]string{
		"":                        "",
		"0":                       "0",
		"1000000000000000000":     "1",
		"1230000000000000000":     "1.23",
		"1005000000000000000":     "1",
		"100000000000000000":      "0.1",
		"12345678000000000000000": "12345.67",
		"garbage":                 "garbage",
	}
	for in, want := range cases {
		if got := FormatWei(in); got != want {
			t.Fatalf("FormatWei(%q)=%q want %q", in, got, want)
		}
	}
}
