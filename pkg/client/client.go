package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// ErrNotFound is returned when a catalog entry does not exist.
var ErrNotFound = errors.New("not found")

const maxSVGBytes = 4 << 20

// CardOptions selects the presentation of a card. Zero values use the
// server defaults.
type CardOptions struct {
	Theme   string
	Color   string
	Hide    []string // signature, latest, popular, stats, followers
	NoCache bool
}

// Card is one rendered card document.
type Card struct {
	SVG    []byte
	Cache  string // HIT, MISS or BYPASS; empty for error cards
	ETag   string
	Failed bool
}

// Theme is a catalog theme entry.
type Theme struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Width          int      `json:"width,omitempty"`
	Height         int      `json:"height,omitempty"`
	DefaultPalette string   `json:"default_palette,omitempty"`
	Supports       []string `json:"supports,omitempty"`
	Counts         []string `json:"counts,omitempty"`
}

// Palette is a catalog color entry.
type Palette struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Background string `json:"background,omitempty"`
	Primary    string `json:"primary,omitempty"`
	Secondary  string `json:"secondary,omitempty"`
	Text       string `json:"text,omitempty"`
	Accent     string `json:"accent,omitempty"`
}

// Catalog is the summary returned by Themes.
type Catalog struct {
	Themes []Theme   `json:"themes"`
	Colors []Palette `json:"colors"`
}

// HealthStatus is the body of GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"`
	Upstream json.RawMessage `json:"upstream,omitempty"`
}

// Client talks to a bili-card server.
type Client struct {
	base       string
	httpClient *http.Client
	userAgent  string
	cache      *cardCache
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("nil http client")
		}
		c.httpClient = hc
		return nil
	}
}

// WithCacheTTL enables in-memory caching of successful cards with the given TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		if ttl <= 0 {
			return fmt.Errorf("cache ttl must be positive, got %s", ttl)
		}
		c.cache = newCardCache(ttl)
		return nil
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.userAgent = ua
		return nil
	}
}

// New creates a Client for the server at base, e.g. "https://card.example.com".
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithCacheTTL(5*time.Minute),
//	)
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", base)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		userAgent:  "bilicard-client/1",
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// CardURL returns the card URL for uid, suitable for embedding in markup.
func (c *Client) CardURL(uid string, opts CardOptions) string {
	q := url.Values{"uid": {uid}}
	if opts.Theme != "" {
		q.Set("theme", opts.Theme)
	}
	if opts.Color != "" {
		q.Set("color", opts.Color)
	}
	if len(opts.Hide) > 0 {
		q.Set("hide", strings.Join(opts.Hide, ","))
	}
	if opts.NoCache {
		q.Set("cache", "false")
	}
	return c.base + "/api/card?" + q.Encode()
}

// Card fetches the card for uid. A transport failure is an error; an error
// card is returned with Failed set.
func (c *Client) Card(ctx context.Context, uid string, opts CardOptions) (*Card, error) {
	target := c.CardURL(uid, opts)

	if c.cache != nil && !opts.NoCache {
		if card, ok := c.cache.get(target); ok {
			return card, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build card request: %w", err)
	}
	req.Header.Set("Accept", "image/svg+xml")

	resp, body, err := c.send(req, maxSVGBytes)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/svg+xml") {
		return nil, fmt.Errorf("unexpected content type %q", ct)
	}

	card := &Card{
		SVG:    body,
		Cache:  resp.Header.Get("X-Cache"),
		ETag:   resp.Header.Get("ETag"),
		Failed: strings.Contains(resp.Header.Get("Cache-Control"), "no-store"),
	}
	if c.cache != nil && !card.Failed {
		c.cache.set(target, card)
	}
	return card, nil
}

// Diagnose fetches the upstream diagnostic report for uid as SVG.
func (c *Client) Diagnose(ctx context.Context, uid string, debug bool) ([]byte, error) {
	q := url.Values{"uid": {uid}}
	if debug {
		q.Set("debug", "true")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/diagnose?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build diagnose request: %w", err)
	}
	resp, body, err := c.send(req, maxSVGBytes)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// Themes fetches the theme and color summary.
func (c *Client) Themes(ctx context.Context) (*Catalog, error) {
	var out struct {
		Data Catalog `json:"data"`
	}
	if err := c.getJSON(ctx, "/api/themes?action=list", &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Theme fetches one theme by id.
func (c *Client) Theme(ctx context.Context, id string) (*Theme, error) {
	var out struct {
		Kind string `json:"kind"`
		Data Theme  `json:"data"`
	}
	if err := c.getJSON(ctx, "/api/themes?action=details&id="+url.QueryEscape(id), &out); err != nil {
		return nil, err
	}
	if out.Kind != "theme" {
		return nil, fmt.Errorf("theme %q: %w", id, ErrNotFound)
	}
	return &out.Data, nil
}

// Palette fetches one color palette by id.
func (c *Client) Palette(ctx context.Context, id string) (*Palette, error) {
	var out struct {
		Kind string  `json:"kind"`
		Data Palette `json:"data"`
	}
	if err := c.getJSON(ctx, "/api/themes?action=details&id="+url.QueryEscape(id), &out); err != nil {
		return nil, err
	}
	if out.Kind != "color" {
		return nil, fmt.Errorf("color %q: %w", id, ErrNotFound)
	}
	return &out.Data, nil
}

// Health fetches the server health summary.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var out HealthStatus
	if err := c.getJSON(ctx, "/healthz", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, body, err := c.send(req, 1<<20)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", req.URL.Path, ErrNotFound)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// send executes req and reads at most limit bytes of the body.
func (c *Client) send(req *http.Request, limit int64) (*http.Response, []byte, error) {
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp, body, nil
}

// --- simple in-memory card cache ---

type cacheEntry struct {
	card      *Card
	expiresAt time.Time
}

type cardCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

func newCardCache(ttl time.Duration) *cardCache {
	return &cardCache{entries: make(map[string]*cacheEntry), ttl: ttl}
}

func (cc *cardCache) get(key string) (*Card, bool) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	e, ok := cc.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.card, true
}

func (cc *cardCache) set(key string, card *Card) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.entries[key] = &cacheEntry{card: card, expiresAt: time.Now().Add(cc.ttl)}
}
