package resolver

import (
	"errors"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/lsqkk/bili-card/internal/upstream"
)

// Candidate names double as circuit breaker keys, so one endpoint shared by
// several needs shares one breaker.
const (
	candAggregator = "uapis_userinfo"
	candAccInfo    = "acc_info"
	candWebCard    = "web_card"
	candRelation   = "relation_stat"
	candUpstat     = "space_upstat"
	candLatest     = "arc_search_pubdate"
	candPopular    = "arc_search_click"
)

const (
	refererSpace = "https://space.bilibili.com"
	refererWWW   = "https://www.bilibili.com/"
)

var (
	errNoName  = errors.New("profile has no name")
	errNoVideo = errors.New("no public videos")
)

type profile struct {
	Name      string
	Face      string
	Sign      string
	Level     int
	Videos    int64
	Follower  int64
	Following int64
}

type relation struct {
	Follower  int64
	Following int64
}

type videoPage struct {
	Title string
	Pic   string
	Play  int64
	Count int64
}

// ── Endpoints ────────────────────────────────────────────────────────────────

func (r *Resolver) aggregatorEndpoint(uid string) upstream.Endpoint {
	return upstream.Endpoint{
		URL: strings.TrimRight(r.cfg.AggregatorBase, "/") + "/userinfo?uid=" + url.QueryEscape(uid),
	}
}

func (r *Resolver) apiEndpoint(path string, q url.Values, referer string) upstream.Endpoint {
	return upstream.Endpoint{
		URL:     strings.TrimRight(r.cfg.APIBase, "/") + path + "?" + q.Encode(),
		Referer: referer,
	}
}

func (r *Resolver) accInfoEndpoint(uid string) upstream.Endpoint {
	return r.apiEndpoint("/x/space/acc/info", url.Values{"mid": {uid}}, refererSpace)
}

func (r *Resolver) webCardEndpoint(uid string) upstream.Endpoint {
	return r.apiEndpoint("/x/web-interface/card", url.Values{"mid": {uid}, "photo": {"false"}}, refererWWW)
}

func (r *Resolver) relationEndpoint(uid string) upstream.Endpoint {
	return r.apiEndpoint("/x/relation/stat", url.Values{"vmid": {uid}}, refererSpace)
}

func (r *Resolver) upstatEndpoint(uid string) upstream.Endpoint {
	return r.apiEndpoint("/x/space/upstat", url.Values{"mid": {uid}}, refererSpace)
}

func (r *Resolver) videoEndpoint(order string) func(uid string) upstream.Endpoint {
	return func(uid string) upstream.Endpoint {
		return r.apiEndpoint("/x/space/arc/search", url.Values{
			"mid":   {uid},
			"order": {order},
			"ps":    {"1"},
			"pn":    {"1"},
		}, refererSpace)
	}
}

// ── Candidate tables ─────────────────────────────────────────────────────────

func (r *Resolver) profileCandidates() []upstream.Candidate[profile] {
	return []upstream.Candidate[profile]{
		{Name: candAggregator, Endpoint: r.aggregatorEndpoint, Decode: decodeAggregatorProfile},
		{Name: candAccInfo, Endpoint: r.accInfoEndpoint, Decode: decodeAccInfo},
		{Name: candWebCard, Endpoint: r.webCardEndpoint, Decode: decodeWebCardProfile},
	}
}

func (r *Resolver) relationCandidates() []upstream.Candidate[relation] {
	return []upstream.Candidate[relation]{
		{Name: candRelation, Endpoint: r.relationEndpoint, Decode: decodeRelationStat},
		{Name: candAggregator, Endpoint: r.aggregatorEndpoint, Decode: decodeAggregatorRelation},
	}
}

func (r *Resolver) likeCandidates() []upstream.Candidate[int64] {
	return []upstream.Candidate[int64]{
		{Name: candWebCard, Endpoint: r.webCardEndpoint, Decode: decodeWebCardLikes},
		{Name: candUpstat, Endpoint: r.upstatEndpoint, Decode: decodeUpstatLikes},
	}
}

func (r *Resolver) latestCandidates() []upstream.Candidate[videoPage] {
	return []upstream.Candidate[videoPage]{
		{Name: candLatest, Endpoint: r.videoEndpoint("pubdate"), Decode: decodeArcSearch},
	}
}

func (r *Resolver) popularCandidates() []upstream.Candidate[videoPage] {
	return []upstream.Candidate[videoPage]{
		{Name: candPopular, Endpoint: r.videoEndpoint("click"), Decode: decodeArcSearch},
	}
}

// ── Decoders ─────────────────────────────────────────────────────────────────

type aggregatorUser struct {
	Name         string  `json:"name"`
	Face         string  `json:"face"`
	Sign         string  `json:"sign"`
	Level        flexInt `json:"level"`
	Follower     flexInt `json:"follower"`
	Following    flexInt `json:"following"`
	ArchiveCount flexInt `json:"archive_count"`
}

func decodeAggregator(payload []byte) (aggregatorUser, error) {
	var u aggregatorUser
	if err := json.Unmarshal(payload, &u); err != nil {
		return u, err
	}
	if strings.TrimSpace(u.Name) == "" {
		return u, errNoName
	}
	return u, nil
}

func decodeAggregatorProfile(payload []byte) (profile, error) {
	u, err := decodeAggregator(payload)
	if err != nil {
		return profile{}, err
	}
	return profile{
		Name:      u.Name,
		Face:      u.Face,
		Sign:      u.Sign,
		Level:     int(u.Level),
		Videos:    u.ArchiveCount.count(),
		Follower:  u.Follower.count(),
		Following: u.Following.count(),
	}, nil
}

func decodeAggregatorRelation(payload []byte) (relation, error) {
	u, err := decodeAggregator(payload)
	if err != nil {
		return relation{}, err
	}
	return relation{Follower: u.Follower.count(), Following: u.Following.count()}, nil
}

func decodeAccInfo(payload []byte) (profile, error) {
	var d struct {
		Name  string  `json:"name"`
		Face  string  `json:"face"`
		Sign  string  `json:"sign"`
		Level flexInt `json:"level"`
	}
	if err := json.Unmarshal(payload, &d); err != nil {
		return profile{}, err
	}
	if strings.TrimSpace(d.Name) == "" {
		return profile{}, errNoName
	}
	return profile{Name: d.Name, Face: d.Face, Sign: d.Sign, Level: int(d.Level)}, nil
}

type webCard struct {
	Card struct {
		Name      string  `json:"name"`
		Face      string  `json:"face"`
		Sign      string  `json:"sign"`
		Fans      flexInt `json:"fans"`
		Attention flexInt `json:"attention"`
		LevelInfo struct {
			CurrentLevel flexInt `json:"current_level"`
		} `json:"level_info"`
	} `json:"card"`
	ArchiveCount flexInt  `json:"archive_count"`
	Follower     flexInt  `json:"follower"`
	LikeNum      *flexInt `json:"like_num"`
}

func decodeWebCardProfile(payload []byte) (profile, error) {
	var d webCard
	if err := json.Unmarshal(payload, &d); err != nil {
		return profile{}, err
	}
	if strings.TrimSpace(d.Card.Name) == "" {
		return profile{}, errNoName
	}
	follower := d.Follower.count()
	if follower == 0 {
		follower = d.Card.Fans.count()
	}
	return profile{
		Name:      d.Card.Name,
		Face:      d.Card.Face,
		Sign:      d.Card.Sign,
		Level:     int(d.Card.LevelInfo.CurrentLevel),
		Videos:    d.ArchiveCount.count(),
		Follower:  follower,
		Following: d.Card.Attention.count(),
	}, nil
}

func decodeWebCardLikes(payload []byte) (int64, error) {
	var d webCard
	if err := json.Unmarshal(payload, &d); err != nil {
		return 0, err
	}
	if d.LikeNum == nil {
		return 0, errors.New("like_num missing")
	}
	return d.LikeNum.count(), nil
}

func decodeRelationStat(payload []byte) (relation, error) {
	var d struct {
		Follower  *flexInt `json:"follower"`
		Following flexInt  `json:"following"`
	}
	if err := json.Unmarshal(payload, &d); err != nil {
		return relation{}, err
	}
	if d.Follower == nil {
		return relation{}, errors.New("follower missing")
	}
	return relation{Follower: d.Follower.count(), Following: d.Following.count()}, nil
}

func decodeUpstatLikes(payload []byte) (int64, error) {
	var d struct {
		Likes *flexInt `json:"likes"`
	}
	if err := json.Unmarshal(payload, &d); err != nil {
		return 0, err
	}
	if d.Likes == nil {
		return 0, errors.New("likes missing")
	}
	return d.Likes.count(), nil
}

func decodeArcSearch(payload []byte) (videoPage, error) {
	var d struct {
		List struct {
			Vlist []struct {
				Title string  `json:"title"`
				Pic   string  `json:"pic"`
				Play  flexInt `json:"play"`
			} `json:"vlist"`
		} `json:"list"`
		Page struct {
			Count flexInt `json:"count"`
		} `json:"page"`
	}
	if err := json.Unmarshal(payload, &d); err != nil {
		return videoPage{}, err
	}
	page := videoPage{Count: d.Page.Count.count()}
	if len(d.List.Vlist) == 0 {
		if page.Count == 0 {
			return page, errNoVideo
		}
		return page, nil
	}
	v := d.List.Vlist[0]
	page.Title = v.Title
	page.Pic = v.Pic
	page.Play = v.Play.count()
	return page, nil
}
