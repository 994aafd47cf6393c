// Package card holds the data model shared by the resolver, the renderer and
// the HTTP layer: the normalized ViewModel and the per-request DisplayConfig.
package card

import (
	"strings"
)

// DefaultSignature is shown when the user has no bio text.
const DefaultSignature = "这个人很神秘，什么都没有写"

// Level bounds of the platform's known tiers.
const (
	MinLevel = 0
	MaxLevel = 6
)

// Video is one video block on the card. Title and CoverURL are already
// escaped/rewritten.
type Video struct {
	Title     string `json:"title"`
	PlayCount int64  `json:"play_count"`
	CoverURL  string `json:"cover_url"`
}

// ViewModel is the fully-defaulted data every template consumes.
// Text fields are escaped exactly once, when the ViewModel is built.
type ViewModel struct {
	UID            string `json:"uid"`
	Name           string `json:"name"`
	AvatarURL      string `json:"avatar_url"`
	Level          int    `json:"level"`
	Signature      string `json:"signature"`
	FollowerCount  int64  `json:"follower_count"`
	FollowingCount int64  `json:"following_count"`
	LikeCount      int64  `json:"like_count"`
	VideoCount     int64  `json:"video_count"`
	Video          *Video `json:"video,omitempty"`
	PopularVideo   *Video `json:"popular_video,omitempty"`
}

// KnownLevel reports whether Level falls in the platform's tier range.
func (vm *ViewModel) KnownLevel() bool {
	return vm.Level >= MinLevel && vm.Level <= MaxLevel
}

// Hide tokens accepted by the "hide" query parameter.
const (
	HideSignature = "signature"
	HideLatest    = "latest"
	HidePopular   = "popular"
	HideStats     = "stats"
	HideFollowers = "followers"
)

// Stat counts a theme's stats section may print.
const (
	CountFollowing = "following"
	CountLikes     = "likes"
	CountVideos    = "videos"
)

// hideOrder fixes the canonical token order used for cache keys.
var hideOrder = []string{HideSignature, HideLatest, HidePopular, HideStats, HideFollowers}

// Visibility toggles optional card sections. true means shown.
type Visibility struct {
	Signature    bool
	LatestVideo  bool
	PopularVideo bool
	Stats        bool
	Followers    bool
}

// AllVisible returns a Visibility with every section shown.
func AllVisible() Visibility {
	return Visibility{
		Signature:    true,
		LatestVideo:  true,
		PopularVideo: true,
		Stats:        true,
		Followers:    true,
	}
}

// ParseHide builds a Visibility from a comma-separated list of hide tokens.
// Unknown tokens and surrounding whitespace are ignored.
func ParseHide(raw string) Visibility {
	v := AllVisible()
	for _, tok := range strings.Split(raw, ",") {
		switch strings.ToLower(strings.TrimSpace(tok)) {
		case HideSignature:
			v.Signature = false
		case HideLatest:
			v.LatestVideo = false
		case HidePopular:
			v.PopularVideo = false
		case HideStats:
			v.Stats = false
		case HideFollowers:
			v.Followers = false
		}
	}
	return v
}

// Hidden returns the hidden section tokens in canonical order.
func (v Visibility) Hidden() []string {
	shown := map[string]bool{
		HideSignature: v.Signature,
		HideLatest:    v.LatestVideo,
		HidePopular:   v.PopularVideo,
		HideStats:     v.Stats,
		HideFollowers: v.Followers,
	}
	var out []string
	for _, tok := range hideOrder {
		if !shown[tok] {
			out = append(out, tok)
		}
	}
	return out
}

// Canonical returns a stable string form of v, e.g. "latest,popular".
// Two Visibility values are equal iff their canonical forms are equal.
func (v Visibility) Canonical() string {
	return strings.Join(v.Hidden(), ",")
}

// DisplayConfig is the cosmetic part of a card request.
// Theme and Color may hold unknown ids; the renderer falls back silently.
type DisplayConfig struct {
	Theme        string
	Color        string
	Visibility   Visibility
	CacheEnabled bool
}

// ProfileQuery is one inbound card request.
type ProfileQuery struct {
	UID     string
	Display DisplayConfig
}
