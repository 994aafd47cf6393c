// Package resolver turns a user id into a fully-defaulted card.ViewModel.
//
// Each logical need (profile, relation, likes, latest and popular video) has
// an ordered list of upstream candidates. Needs are fetched concurrently and
// joined all-settled: only a missing profile aborts resolution, every other
// need degrades to a default value.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lsqkk/bili-card/internal/card"
	"github.com/lsqkk/bili-card/internal/sanitize"
	"github.com/lsqkk/bili-card/internal/upstream"
)

var (
	// ErrInvalidID is returned before any network call for malformed ids.
	ErrInvalidID = errors.New("invalid user id")
	// ErrUserNotFound is returned when no profile candidate produced an identity.
	ErrUserNotFound = errors.New("user not found")
)

const maxBatch = 100

// Config holds resolver configuration.
type Config struct {
	AggregatorBase string // e.g. "https://uapis.cn/api/v1/social/bilibili"
	APIBase        string // e.g. "https://api.bilibili.com"
	UIDMinLen      int    // default 1
	UIDMaxLen      int    // default 16
}

// ImageRewriter maps a raw upstream image URL to a safe attribute value.
type ImageRewriter interface {
	Rewrite(ctx context.Context, raw string) string
}

// Resolver builds ViewModels from upstream data.
type Resolver struct {
	cfg    Config
	client upstream.Getter
	images ImageRewriter
	logger *zap.Logger
}

// New creates a Resolver.
func New(client upstream.Getter, images ImageRewriter, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.AggregatorBase == "" {
		cfg.AggregatorBase = "https://uapis.cn/api/v1/social/bilibili"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.bilibili.com"
	}
	if cfg.UIDMinLen <= 0 {
		cfg.UIDMinLen = 1
	}
	if cfg.UIDMaxLen < cfg.UIDMinLen {
		cfg.UIDMaxLen = 16
	}
	return &Resolver{cfg: cfg, client: client, images: images, logger: logger}
}

// ValidateUID checks that uid is all ASCII digits within the configured length.
func (r *Resolver) ValidateUID(uid string) error {
	if len(uid) < r.cfg.UIDMinLen || len(uid) > r.cfg.UIDMaxLen {
		return fmt.Errorf("%w: length must be %d..%d", ErrInvalidID, r.cfg.UIDMinLen, r.cfg.UIDMaxLen)
	}
	for i := 0; i < len(uid); i++ {
		if uid[i] < '0' || uid[i] > '9' {
			return fmt.Errorf("%w: must be digits", ErrInvalidID)
		}
	}
	return nil
}

// Needs selects which optional upstream needs a resolution fetches.
// The profile need is always fetched.
type Needs struct {
	Relation     bool
	Likes        bool
	LatestVideo  bool
	PopularVideo bool
}

// AllNeeds fetches everything.
func AllNeeds() Needs {
	return Needs{Relation: true, Likes: true, LatestVideo: true, PopularVideo: true}
}

// Layout reports which sections and stat counts a theme draws.
type Layout interface {
	Visible(v card.Visibility) card.Visibility
	ShowsCount(count string) bool
}

// NeedsFor derives the needs a card drawn with l under visibility v reads.
// The video count comes from the latest-video search, so a stats section
// that prints it keeps that need even when the latest video is hidden.
func NeedsFor(l Layout, v card.Visibility) Needs {
	shown := l.Visible(v)
	stat := func(count string) bool { return shown.Stats && l.ShowsCount(count) }
	return Needs{
		Relation:     shown.Followers || stat(card.CountFollowing),
		Likes:        stat(card.CountLikes),
		LatestVideo:  shown.LatestVideo || stat(card.CountVideos),
		PopularVideo: shown.PopularVideo,
	}
}

// Resolve fetches every need for uid.
func (r *Resolver) Resolve(ctx context.Context, uid string) (*card.ViewModel, error) {
	return r.ResolveNeeds(ctx, uid, AllNeeds())
}

// ResolveFor fetches only the needs a card drawn with l displays.
func (r *Resolver) ResolveFor(ctx context.Context, uid string, l Layout, v card.Visibility) (*card.ViewModel, error) {
	return r.ResolveNeeds(ctx, uid, NeedsFor(l, v))
}

// ResolveNeeds validates uid, fans out the selected needs and assembles the
// ViewModel.
func (r *Resolver) ResolveNeeds(ctx context.Context, uid string, needs Needs) (*card.ViewModel, error) {
	if err := r.ValidateUID(uid); err != nil {
		return nil, err
	}

	start := time.Now()

	var (
		prof    upstream.Result[profile]
		rel     upstream.Result[relation]
		likes   upstream.Result[int64]
		latest  upstream.Result[videoPage]
		popular upstream.Result[videoPage]
	)

	// Functions never return errors: every need settles on its own.
	var g errgroup.Group
	g.Go(func() error {
		prof = upstream.Fallback(ctx, r.client, uid, r.profileCandidates())
		return nil
	})
	if needs.Relation {
		g.Go(func() error {
			rel = upstream.Fallback(ctx, r.client, uid, r.relationCandidates())
			return nil
		})
	}
	if needs.Likes {
		g.Go(func() error {
			likes = upstream.Fallback(ctx, r.client, uid, r.likeCandidates())
			return nil
		})
	}
	if needs.LatestVideo {
		g.Go(func() error {
			latest = upstream.Fallback(ctx, r.client, uid, r.latestCandidates())
			return nil
		})
	}
	if needs.PopularVideo {
		g.Go(func() error {
			popular = upstream.Fallback(ctx, r.client, uid, r.popularCandidates())
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("resolve %s: %w", uid, err)
	}

	if !prof.OK {
		r.logger.Info("profile unavailable",
			zap.String("uid", uid),
			zap.Errors("candidates", prof.Errors),
		)
		return nil, fmt.Errorf("%w: uid %s", ErrUserNotFound, uid)
	}

	vm := r.assemble(ctx, uid, prof.Value, rel, likes, latest, popular)

	r.logger.Info("resolved",
		zap.String("uid", uid),
		zap.String("profile_source", prof.Source),
		zap.Bool("relation", rel.OK),
		zap.Bool("likes", likes.OK),
		zap.Bool("latest_video", latest.OK),
		zap.Bool("popular_video", popular.OK),
		zap.Duration("latency", time.Since(start)),
	)

	return vm, nil
}

// assemble applies defaults and escaping. Fields are never merged across
// candidates of one need; the profile's own counts only fill needs that
// produced nothing.
func (r *Resolver) assemble(
	ctx context.Context,
	uid string,
	p profile,
	rel upstream.Result[relation],
	likes upstream.Result[int64],
	latest, popular upstream.Result[videoPage],
) *card.ViewModel {
	vm := &card.ViewModel{
		UID:       uid,
		Name:      sanitize.EscapeText(strings.TrimSpace(p.Name)),
		AvatarURL: r.images.Rewrite(ctx, p.Face),
		Level:     p.Level,
		Signature: card.DefaultSignature,
	}

	if sign := strings.TrimSpace(p.Sign); sign != "" {
		vm.Signature = sign
	}
	vm.Signature = sanitize.EscapeText(vm.Signature)

	if rel.OK {
		vm.FollowerCount = rel.Value.Follower
		vm.FollowingCount = rel.Value.Following
	} else {
		vm.FollowerCount = p.Follower
		vm.FollowingCount = p.Following
	}

	if likes.OK {
		vm.LikeCount = likes.Value
	}

	vm.VideoCount = p.Videos
	if latest.OK && latest.Value.Count > 0 {
		vm.VideoCount = latest.Value.Count
	}

	if latest.OK {
		vm.Video = r.video(ctx, latest.Value)
	}
	if popular.OK {
		vm.PopularVideo = r.video(ctx, popular.Value)
	}

	return vm
}

func (r *Resolver) video(ctx context.Context, p videoPage) *card.Video {
	title := strings.TrimSpace(p.Title)
	if title == "" && p.Pic == "" {
		return nil
	}
	return &card.Video{
		Title:     sanitize.EscapeText(title),
		PlayCount: p.Play,
		CoverURL:  r.images.Rewrite(ctx, p.Pic),
	}
}

// BatchResult is the outcome of one uid in ResolveMany.
type BatchResult struct {
	UID   string
	View  *card.ViewModel
	Error error
}

// ResolveMany resolves a batch of uids concurrently. A single failure does
// not abort the batch; results keep the input order.
func (r *Resolver) ResolveMany(ctx context.Context, uids []string, needs Needs) ([]BatchResult, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	if len(uids) > maxBatch {
		return nil, fmt.Errorf("batch size must not exceed %d", maxBatch)
	}

	type indexedResult struct {
		idx    int
		result BatchResult
	}

	resultCh := make(chan indexedResult, len(uids))
	for i, uid := range uids {
		go func() {
			vm, err := r.ResolveNeeds(ctx, uid, needs)
			resultCh <- indexedResult{idx: i, result: BatchResult{UID: uid, View: vm, Error: err}}
		}()
	}

	results := make([]BatchResult, len(uids))
	for range uids {
		ir := <-resultCh
		results[ir.idx] = ir.result
	}
	return results, nil
}

// Endpoint is one candidate request labelled with the need it serves.
type Endpoint struct {
	Need string
	upstream.Endpoint
}

// Endpoints lists every distinct candidate request made for uid, in need and
// priority order. Used by diagnostics and health probes.
func (r *Resolver) Endpoints(uid string) []Endpoint {
	var out []Endpoint
	seen := map[string]bool{}
	add := func(need, name string, fn func(string) upstream.Endpoint) {
		if seen[name] {
			return
		}
		seen[name] = true
		ep := fn(uid)
		ep.Name = name
		out = append(out, Endpoint{Need: need, Endpoint: ep})
	}
	for _, c := range r.profileCandidates() {
		add("profile", c.Name, c.Endpoint)
	}
	for _, c := range r.relationCandidates() {
		add("relation", c.Name, c.Endpoint)
	}
	for _, c := range r.likeCandidates() {
		add("likes", c.Name, c.Endpoint)
	}
	for _, c := range r.latestCandidates() {
		add("latest_video", c.Name, c.Endpoint)
	}
	for _, c := range r.popularCandidates() {
		add("popular_video", c.Name, c.Endpoint)
	}
	return out
}

// compile-time check
var _ ImageRewriter = (*sanitize.ImageRewriter)(nil)
