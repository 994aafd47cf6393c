package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lsqkk/bili-card/internal/card"
	"github.com/lsqkk/bili-card/internal/cardcache"
	"github.com/lsqkk/bili-card/internal/handler"
	"github.com/lsqkk/bili-card/internal/render"
	"github.com/lsqkk/bili-card/internal/resolver"
)

// ── Stub resolver ────────────────────────────────────────────────────────

type stubResolver struct {
	calls atomic.Int32

	mu        sync.Mutex
	views     map[string]*card.ViewModel
	lastNeeds resolver.Needs
	panics    bool
}

func newStubResolver() *stubResolver {
	return &stubResolver{views: map[string]*card.ViewModel{
		"2": {
			UID:            "2",
			Name:           "Alice",
			Level:          5,
			Signature:      "hello",
			FollowerCount:  15000,
			FollowingCount: 12,
			LikeCount:      4321,
			VideoCount:     31,
			Video:          &card.Video{Title: "New video", PlayCount: 987},
			PopularVideo:   &card.Video{Title: "Greatest hit", PlayCount: 123456},
		},
	}}
}

func (s *stubResolver) ValidateUID(uid string) error {
	if uid == "" || len(uid) > 16 {
		return resolver.ErrInvalidID
	}
	for _, r := range uid {
		if r < '0' || r > '9' {
			return resolver.ErrInvalidID
		}
	}
	return nil
}

func (s *stubResolver) ResolveFor(_ context.Context, uid string, l resolver.Layout, v card.Visibility) (*card.ViewModel, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastNeeds = resolver.NeedsFor(l, v)
	if s.panics {
		panic("template exploded")
	}
	vm, ok := s.views[uid]
	if !ok {
		return nil, resolver.ErrUserNotFound
	}
	cp := *vm
	return &cp, nil
}

// ── Setup ────────────────────────────────────────────────────────────────

func setupCardRouter(t *testing.T) (*gin.Engine, *stubResolver, *cardcache.Memory) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	res := newStubResolver()
	cache := cardcache.NewMemory(100, zap.NewNop())
	h := handler.NewCardHandler(res, render.MustNew(), cache, time.Hour, zap.NewNop())

	r := gin.New()
	h.Register(r.Group("/api"))
	return r, res, cache
}

func get(r http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	r.ServeHTTP(w, req)
	return w
}

func assertSVG(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "image/svg+xml") {
		t.Errorf("content type: got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "<svg") {
		t.Error("body is not an SVG document")
	}
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestServeCard_Success(t *testing.T) {
	r, _, _ := setupCardRouter(t)

	w := get(r, "/api/card?uid=2")
	assertSVG(t, w)

	body := w.Body.String()
	for _, want := range []string{"Alice", "1.5万", "Greatest hit"} {
		if !strings.Contains(body, want) {
			t.Errorf("card missing %q", want)
		}
	}
	if cc := w.Header().Get("Cache-Control"); cc != "public, max-age=3600" {
		t.Errorf("Cache-Control: got %q", cc)
	}
	if w.Header().Get("ETag") == "" {
		t.Error("expected ETag")
	}
}

func TestServeCard_HideRemovesSection(t *testing.T) {
	r, res, _ := setupCardRouter(t)

	w := get(r, "/api/card?uid=2&hide=popular")
	assertSVG(t, w)

	if strings.Contains(w.Body.String(), "Greatest hit") {
		t.Error("popular video should be hidden")
	}
	if res.lastNeeds.PopularVideo {
		t.Error("resolver should not be asked for the popular video")
	}
}

func TestServeCard_InvalidUID(t *testing.T) {
	r, res, cache := setupCardRouter(t)

	for _, uid := range []string{"abc", "", "12a", "12345678901234567"} {
		w := get(r, "/api/card?uid="+uid)
		assertSVG(t, w)
		if !strings.Contains(w.Body.String(), ">400<") {
			t.Errorf("uid %q: expected 400 error card", uid)
		}
		if cc := w.Header().Get("Cache-Control"); cc != "no-cache, no-store, must-revalidate" {
			t.Errorf("uid %q: Cache-Control %q", uid, cc)
		}
	}

	if n := res.calls.Load(); n != 0 {
		t.Errorf("resolver called %d times for invalid ids", n)
	}
	if cache.Len() != 0 {
		t.Errorf("cache written for invalid ids: %d entries", cache.Len())
	}
}

func TestServeCard_CacheStatus(t *testing.T) {
	r, res, cache := setupCardRouter(t)

	if got := get(r, "/api/card?uid=2").Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("first request: got %q, want MISS", got)
	}
	if got := get(r, "/api/card?uid=2").Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("second request: got %q, want HIT", got)
	}
	if n := res.calls.Load(); n != 1 {
		t.Errorf("resolver calls: got %d, want 1", n)
	}

	if got := get(r, "/api/card?uid=2&cache=false").Header().Get("X-Cache"); got != "BYPASS" {
		t.Errorf("bypass request: got %q, want BYPASS", got)
	}
	if n := res.calls.Load(); n != 2 {
		t.Errorf("bypass must resolve again: got %d calls", n)
	}
	if cache.Len() != 1 {
		t.Errorf("cache entries: got %d, want 1", cache.Len())
	}
}

func TestServeCard_BypassStillWrites(t *testing.T) {
	r, _, cache := setupCardRouter(t)

	get(r, "/api/card?uid=2&cache=0")
	if cache.Len() != 1 {
		t.Fatalf("bypass should refresh the cache, got %d entries", cache.Len())
	}
	if got := get(r, "/api/card?uid=2").Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("got %q, want HIT", got)
	}
}

func TestServeCard_DisplayIsPartOfKey(t *testing.T) {
	r, res, cache := setupCardRouter(t)

	get(r, "/api/card?uid=2")
	get(r, "/api/card?uid=2&theme=simple")
	get(r, "/api/card?uid=2&color=dark")
	get(r, "/api/card?uid=2&hide=stats")

	if cache.Len() != 4 {
		t.Errorf("cache entries: got %d, want 4", cache.Len())
	}
	if n := res.calls.Load(); n != 4 {
		t.Errorf("resolver calls: got %d, want 4", n)
	}
}

func TestServeCard_UnknownThemeSharesDefaultEntry(t *testing.T) {
	r, _, cache := setupCardRouter(t)

	get(r, "/api/card?uid=2")
	w := get(r, "/api/card?uid=2&theme=nope&color=nope")
	if got := w.Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("got %q, want HIT", got)
	}
	if cache.Len() != 1 {
		t.Errorf("cache entries: got %d, want 1", cache.Len())
	}
}

func TestServeCard_UserNotFound(t *testing.T) {
	r, _, cache := setupCardRouter(t)

	w := get(r, "/api/card?uid=999")
	assertSVG(t, w)
	if !strings.Contains(w.Body.String(), ">404<") {
		t.Error("expected 404 error card")
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-cache, no-store, must-revalidate" {
		t.Errorf("Cache-Control: got %q", cc)
	}
	if cache.Len() != 0 {
		t.Error("error cards must not be cached")
	}
}

func TestServeCard_PanicRendersInternalCard(t *testing.T) {
	r, res, cache := setupCardRouter(t)
	res.panics = true

	w := get(r, "/api/card?uid=2")
	assertSVG(t, w)
	if !strings.Contains(w.Body.String(), ">500<") {
		t.Error("expected 500 error card")
	}
	if cache.Len() != 0 {
		t.Error("error cards must not be cached")
	}
}

func TestServeCard_ConcurrentIdenticalRequests(t *testing.T) {
	r, _, cache := setupCardRouter(t)

	var wg sync.WaitGroup
	bodies := make([]string, 2)
	for i := range bodies {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := get(r, "/api/card?uid=2")
			bodies[i] = w.Body.String()
		}()
	}
	wg.Wait()

	if bodies[0] != bodies[1] {
		t.Error("identical requests should produce identical cards")
	}
	if cache.Len() != 1 {
		t.Errorf("cache entries: got %d, want 1", cache.Len())
	}
}

func TestServeCard_NilCache(t *testing.T) {
	gin.SetMode(gin.TestMode)
	res := newStubResolver()
	h := handler.NewCardHandler(res, render.MustNew(), nil, 0, zap.NewNop())
	r := gin.New()
	h.Register(r.Group("/api"))

	w := get(r, "/api/card?uid=2")
	assertSVG(t, w)
	if got := w.Header().Get("X-Cache"); got != "BYPASS" {
		t.Errorf("got %q, want BYPASS", got)
	}
}
