// Package handler exposes the card, catalog, diagnostic and health routes.
package handler

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/lsqkk/bili-card/internal/card"
	"github.com/lsqkk/bili-card/internal/cardcache"
	"github.com/lsqkk/bili-card/internal/render"
	"github.com/lsqkk/bili-card/internal/resolver"
)

const (
	contentTypeSVG = "image/svg+xml; charset=utf-8"
	noStore        = "no-cache, no-store, must-revalidate"

	headerCache = "X-Cache"

	msgInvalidID    = "UID格式不正确，应为纯数字"
	msgUserNotFound = "用户不存在或数据获取失败"
	msgInternal     = "卡片生成失败，请稍后重试"
)

// CardResolver produces ViewModels for the card route.
type CardResolver interface {
	ValidateUID(uid string) error
	ResolveFor(ctx context.Context, uid string, l resolver.Layout, v card.Visibility) (*card.ViewModel, error)
}

// CardHandler serves GET /api/card.
type CardHandler struct {
	resolver CardResolver
	renderer *render.Renderer
	cache    cardcache.Store
	ttl      time.Duration
	logger   *zap.Logger
}

// NewCardHandler creates a CardHandler. cache may be nil to disable caching.
func NewCardHandler(res CardResolver, renderer *render.Renderer, cache cardcache.Store, ttl time.Duration, logger *zap.Logger) *CardHandler {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CardHandler{
		resolver: res,
		renderer: renderer,
		cache:    cache,
		ttl:      ttl,
		logger:   logger,
	}
}

// Register mounts the card route on rg.
func (h *CardHandler) Register(rg gin.IRoutes) {
	rg.GET("/card", h.ServeCard)
}

type cardQuery struct {
	UID   string `form:"uid"`
	Theme string `form:"theme"`
	Color string `form:"color"`
	Hide  string `form:"hide"`
	Cache string `form:"cache"`
}

// cacheEnabled treats only explicit negatives as a bypass.
func (q cardQuery) cacheEnabled() bool {
	switch strings.ToLower(strings.TrimSpace(q.Cache)) {
	case "false", "0", "no", "off":
		return false
	}
	return true
}

// ServeCard handles GET /api/card?uid=&theme=&color=&hide=&cache=
//
// The response is always 200 with an SVG body; failures render the error card.
func (h *CardHandler) ServeCard(c *gin.Context) {
	var q cardQuery
	_ = c.ShouldBindQuery(&q)

	if err := h.resolver.ValidateUID(q.UID); err != nil {
		recordOutcome("invalid_id")
		h.writeError(c, render.CodeInvalidID, msgInvalidID)
		return
	}

	theme := render.ResolveTheme(q.Theme)
	palette := render.ResolvePalette(theme, q.Color)
	query := card.ProfileQuery{
		UID: q.UID,
		Display: card.DisplayConfig{
			Theme:        theme.ID,
			Color:        palette.ID,
			Visibility:   card.ParseHide(q.Hide),
			CacheEnabled: q.cacheEnabled(),
		},
	}
	key := cardcache.Key{
		UID:        query.UID,
		Theme:      theme.ID,
		Color:      palette.ID,
		Visibility: query.Display.Visibility,
	}
	ctx := c.Request.Context()

	cacheStatus := "BYPASS"
	if h.cache != nil && query.Display.CacheEnabled {
		if doc, ok := h.cache.Get(ctx, key); ok {
			recordCache("hit")
			recordOutcome("ok")
			h.writeCard(c, doc, "HIT")
			return
		}
		recordCache("miss")
		cacheStatus = "MISS"
	} else {
		recordCache("bypass")
	}

	doc, err := h.build(ctx, query)
	if err != nil {
		h.fail(c, query, err)
		return
	}

	if h.cache != nil {
		h.cache.Put(ctx, key, doc, h.ttl)
	}
	recordOutcome("ok")
	h.writeCard(c, doc, cacheStatus)
}

// build resolves and renders, converting panics into errors so the caller
// can still answer with an error card.
func (h *CardHandler) build(ctx context.Context, q card.ProfileQuery) (doc string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic building card: %v", r)
		}
	}()

	theme := render.ResolveTheme(q.Display.Theme)
	vm, err := h.resolver.ResolveFor(ctx, q.UID, theme, q.Display.Visibility)
	if err != nil {
		return "", fmt.Errorf("resolve: %w", err)
	}
	return h.renderer.Render(vm, q.Display)
}

func (h *CardHandler) fail(c *gin.Context, q card.ProfileQuery, err error) {
	var renderErr *render.RenderError
	switch {
	case errors.Is(err, resolver.ErrUserNotFound):
		recordOutcome("not_found")
		h.writeError(c, render.CodeUserNotFound, msgUserNotFound)
	case errors.As(err, &renderErr):
		recordOutcome("render_error")
		h.logger.Error("render failed",
			zap.String("uid", q.UID),
			zap.String("theme", renderErr.Theme),
			zap.Error(err),
		)
		h.writeError(c, render.CodeInternal, msgInternal)
	default:
		recordOutcome("internal")
		h.logger.Error("card failed",
			zap.String("uid", q.UID),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err),
		)
		h.writeError(c, render.CodeInternal, msgInternal)
	}
}

func (h *CardHandler) writeCard(c *gin.Context, doc, cacheStatus string) {
	c.Header("Cache-Control", "public, max-age="+strconv.Itoa(int(h.ttl.Seconds())))
	c.Header("ETag", etag(doc))
	c.Header(headerCache, cacheStatus)
	c.Data(http.StatusOK, contentTypeSVG, []byte(doc))
}

func (h *CardHandler) writeError(c *gin.Context, code int, msg string) {
	c.Header("Cache-Control", noStore)
	c.Data(http.StatusOK, contentTypeSVG, []byte(h.renderer.ErrorDocument(code, msg)))
}

func etag(doc string) string {
	sum := blake2b.Sum256([]byte(doc))
	return `"` + hex.EncodeToString(sum[:12]) + `"`
}
