package sanitize

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Mode selects how image URLs are made hotlink-safe.
type Mode string

const (
	// ModeCDN rewrites platform image hosts to the stable first-party CDN host.
	ModeCDN Mode = "cdn"
	// ModeProxy routes images through a neutral third-party image proxy.
	ModeProxy Mode = "proxy"
	// ModeEmbed fetches the bytes and inlines them as a data: URI.
	ModeEmbed Mode = "embed"
)

const (
	cdnHost         = "i0.hdslb.com"
	cdnDomainSuffix = ".hdslb.com"
	embedReferer    = "https://www.bilibili.com/"
)

var embeddableTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
	"image/avif": true,
}

// ImageOptions configures an ImageRewriter.
type ImageOptions struct {
	Mode          Mode
	ProxyBase     string        // e.g. "https://images.weserv.nl/?url="
	EmbedMaxBytes int64         // default 512 KiB
	EmbedTimeout  time.Duration // default 5s
	UserAgent     string
}

// ImageRewriter makes image URLs safe to reference from a card.
type ImageRewriter struct {
	opts   ImageOptions
	http   *http.Client
	logger *zap.Logger
}

// NewImageRewriter creates an ImageRewriter. An unknown mode behaves as ModeCDN.
func NewImageRewriter(opts ImageOptions, logger *zap.Logger) *ImageRewriter {
	if opts.EmbedMaxBytes <= 0 {
		opts.EmbedMaxBytes = 512 << 10
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = 5 * time.Second
	}
	return &ImageRewriter{
		opts:   opts,
		http:   &http.Client{Timeout: opts.EmbedTimeout},
		logger: logger,
	}
}

// Mode returns the effective rewrite mode.
func (r *ImageRewriter) Mode() Mode {
	switch r.opts.Mode {
	case ModeProxy, ModeEmbed:
		return r.opts.Mode
	default:
		return ModeCDN
	}
}

// Rewrite returns an attribute-safe, hotlink-safe form of raw, or "" when raw
// is empty or not an http(s) URL. Only ModeEmbed performs I/O; it falls back
// to the CDN form if the fetch fails.
func (r *ImageRewriter) Rewrite(ctx context.Context, raw string) string {
	normalized := normalizeImageURL(raw)
	if normalized == "" {
		return ""
	}

	switch r.Mode() {
	case ModeProxy:
		if r.opts.ProxyBase == "" {
			return EscapeText(normalized)
		}
		return EscapeText(r.opts.ProxyBase + url.QueryEscape(normalized))
	case ModeEmbed:
		dataURI, err := r.embed(ctx, normalized)
		if err != nil {
			r.logger.Debug("image embed failed, using CDN url",
				zap.String("url", normalized),
				zap.Error(err),
			)
			return EscapeText(normalized)
		}
		return dataURI
	default:
		return EscapeText(normalized)
	}
}

// SafeImageURL is the pure CDN rewrite: https scheme, first-party CDN host,
// and markup escaping. Non-http input yields "".
func SafeImageURL(raw string) string {
	return EscapeText(normalizeImageURL(raw))
}

// normalizeImageURL returns the unescaped CDN form of raw, or "".
func normalizeImageURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ""
	}

	u.Scheme = "https"
	u.User = nil
	if host := strings.ToLower(u.Hostname()); strings.HasSuffix(host, cdnDomainSuffix) {
		u.Host = cdnHost
	}
	return u.String()
}

// embed downloads imageURL and encodes it as a base64 data URI.
func (r *ImageRewriter) embed(ctx context.Context, imageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.EmbedTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("build image request: %w", err)
	}
	req.Header.Set("Referer", embedReferer)
	if r.opts.UserAgent != "" {
		req.Header.Set("User-Agent", r.opts.UserAgent)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image status %d", resp.StatusCode)
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !embeddableTypes[mediaType] {
		return "", fmt.Errorf("unsupported image content type %q", resp.Header.Get("Content-Type"))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.opts.EmbedMaxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if int64(len(body)) > r.opts.EmbedMaxBytes {
		return "", fmt.Errorf("image exceeds %d bytes", r.opts.EmbedMaxBytes)
	}

	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(body), nil
}
