package upstream_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/lsqkk/bili-card/internal/upstream"
)

// ── Helpers ──────────────────────────────────────────────────────────────────

func newClient(t *testing.T, cfg upstream.Config) *upstream.Client {
	t.Helper()
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	return upstream.New(cfg, zap.NewNop())
}

func jsonServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func kindOf(t *testing.T, err error) upstream.Kind {
	t.Helper()
	var fe *upstream.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T: %v", err, err)
	}
	return fe.Kind
}

// ── Get ──────────────────────────────────────────────────────────────────────

func TestGet_FlatObject(t *testing.T) {
	srv, _ := jsonServer(t, http.StatusOK, `{"name":"alice","level":5}`)
	c := newClient(t, upstream.Config{})

	payload, err := c.Get(context.Background(), upstream.Endpoint{Name: "flat", URL: srv.URL})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !strings.Contains(string(payload), `"alice"`) {
		t.Errorf("payload = %s, want the flat object", payload)
	}
}

func TestGet_EnvelopeData(t *testing.T) {
	srv, _ := jsonServer(t, http.StatusOK, `{"code":0,"message":"0","data":{"mid":2}}`)
	c := newClient(t, upstream.Config{})

	payload, err := c.Get(context.Background(), upstream.Endpoint{Name: "env", URL: srv.URL})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(payload) != `{"mid":2}` {
		t.Errorf("payload = %s, want data field", payload)
	}
}

func TestGet_SendsHeaders(t *testing.T) {
	var gotUA, gotRef string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotRef = r.Header.Get("Referer")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newClient(t, upstream.Config{UserAgent: "card-test"})
	_, err := c.Get(context.Background(), upstream.Endpoint{
		Name: "hdr", URL: srv.URL, Referer: "https://space.bilibili.com",
	})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if gotUA != "card-test" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotRef != "https://space.bilibili.com" {
		t.Errorf("Referer = %q", gotRef)
	}
}

func TestGet_StatusError(t *testing.T) {
	srv, _ := jsonServer(t, http.StatusBadGateway, `{}`)
	c := newClient(t, upstream.Config{})

	_, err := c.Get(context.Background(), upstream.Endpoint{Name: "bad", URL: srv.URL})
	if got := kindOf(t, err); got != upstream.KindStatus {
		t.Errorf("kind = %s, want status", got)
	}
}

func TestGet_EnvelopeError(t *testing.T) {
	srv, _ := jsonServer(t, http.StatusOK, `{"code":-404,"message":"啥都木有","data":null}`)
	c := newClient(t, upstream.Config{})

	_, err := c.Get(context.Background(), upstream.Endpoint{Name: "env", URL: srv.URL})
	var fe *upstream.FetchError
	if !errors.As(err, &fe) || fe.Kind != upstream.KindEnvelope {
		t.Fatalf("expected envelope error, got %v", err)
	}
	if fe.Code != "-404" {
		t.Errorf("code = %q, want -404", fe.Code)
	}
}

func TestGet_StringSuccessCode(t *testing.T) {
	srv, _ := jsonServer(t, http.StatusOK, `{"code":"200","data":{"ok":true}}`)
	c := newClient(t, upstream.Config{})

	if _, err := c.Get(context.Background(), upstream.Endpoint{Name: "s", URL: srv.URL}); err != nil {
		t.Errorf("Get: %v", err)
	}
}

func TestGet_MalformedJSON(t *testing.T) {
	for _, body := range []string{`<html>blocked</html>`, `{"code":`, `[1,2]`, ``} {
		srv, _ := jsonServer(t, http.StatusOK, body)
		c := newClient(t, upstream.Config{})

		_, err := c.Get(context.Background(), upstream.Endpoint{Name: "m", URL: srv.URL})
		if got := kindOf(t, err); got != upstream.KindDecode {
			t.Errorf("body %q: kind = %s, want decode", body, got)
		}
	}
}

func TestGet_BodyTooLarge(t *testing.T) {
	srv, _ := jsonServer(t, http.StatusOK, `{"name":"`+strings.Repeat("x", 200)+`"}`)
	c := newClient(t, upstream.Config{MaxBodyBytes: 64})

	_, err := c.Get(context.Background(), upstream.Endpoint{Name: "big", URL: srv.URL})
	if got := kindOf(t, err); got != upstream.KindDecode {
		t.Errorf("kind = %s, want decode", got)
	}
}

func TestGet_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := newClient(t, upstream.Config{Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := c.Get(context.Background(), upstream.Endpoint{Name: "slow", URL: srv.URL})
	if got := kindOf(t, err); got != upstream.KindTransport {
		t.Errorf("kind = %s, want transport", got)
	}
	if time.Since(start) > time.Second {
		t.Errorf("timeout not enforced: took %v", time.Since(start))
	}
}

// ── Breaker ──────────────────────────────────────────────────────────────────

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	srv, hits := jsonServer(t, http.StatusInternalServerError, `{}`)
	c := newClient(t, upstream.Config{BreakerThreshold: 2, BreakerTimeout: time.Minute})

	var transitions []string
	c.SetBreakerObserver(func(candidate string, from, to gobreaker.State) {
		transitions = append(transitions, candidate+":"+to.String())
	})

	ep := upstream.Endpoint{Name: "flaky", URL: srv.URL}
	for i := 0; i < 2; i++ {
		_, _ = c.Get(context.Background(), ep)
	}
	if c.BreakerState("flaky") != gobreaker.StateOpen {
		t.Fatalf("state = %s, want open", c.BreakerState("flaky"))
	}

	_, err := c.Get(context.Background(), ep)
	if got := kindOf(t, err); got != upstream.KindBreaker {
		t.Errorf("kind = %s, want breaker", got)
	}
	if hits.Load() != 2 {
		t.Errorf("server hits = %d, want 2 (open breaker must not send)", hits.Load())
	}
	if len(transitions) != 1 || transitions[0] != "flaky:open" {
		t.Errorf("transitions = %v", transitions)
	}
}

func TestBreaker_EnvelopeErrorsDoNotTrip(t *testing.T) {
	srv, hits := jsonServer(t, http.StatusOK, `{"code":-404,"message":"not found"}`)
	c := newClient(t, upstream.Config{BreakerThreshold: 2})

	ep := upstream.Endpoint{Name: "missing", URL: srv.URL}
	for i := 0; i < 5; i++ {
		_, _ = c.Get(context.Background(), ep)
	}
	if c.BreakerState("missing") != gobreaker.StateClosed {
		t.Errorf("state = %s, want closed", c.BreakerState("missing"))
	}
	if hits.Load() != 5 {
		t.Errorf("server hits = %d, want 5", hits.Load())
	}
}

// ── Observer ─────────────────────────────────────────────────────────────────

func TestObserver_RecordsOutcome(t *testing.T) {
	okSrv, _ := jsonServer(t, http.StatusOK, `{}`)
	badSrv, _ := jsonServer(t, http.StatusNotFound, `{}`)
	c := newClient(t, upstream.Config{})

	outcomes := map[string]string{}
	c.SetObserver(func(candidate, outcome string, _ time.Duration) {
		outcomes[candidate] = outcome
	})

	_, _ = c.Get(context.Background(), upstream.Endpoint{Name: "ok", URL: okSrv.URL})
	_, _ = c.Get(context.Background(), upstream.Endpoint{Name: "bad", URL: badSrv.URL})

	if outcomes["ok"] != "success" {
		t.Errorf("ok outcome = %q", outcomes["ok"])
	}
	if outcomes["bad"] != string(upstream.KindStatus) {
		t.Errorf("bad outcome = %q", outcomes["bad"])
	}
}

// ── Probe ────────────────────────────────────────────────────────────────────

func TestProbe_ReportsEnvelope(t *testing.T) {
	srv, _ := jsonServer(t, http.StatusOK, `{"code":-352,"message":"风控校验失败"}`)
	c := newClient(t, upstream.Config{})

	p := c.Probe(context.Background(), upstream.Endpoint{Name: "acc_info", URL: srv.URL})
	if p.OK {
		t.Fatal("expected probe failure")
	}
	if p.Kind != upstream.KindEnvelope || p.Code != "-352" {
		t.Errorf("probe = %+v", p)
	}
	if p.Status != http.StatusOK {
		t.Errorf("status = %d", p.Status)
	}
}

func TestProbe_BypassesOpenBreaker(t *testing.T) {
	srv, hits := jsonServer(t, http.StatusServiceUnavailable, `{}`)
	c := newClient(t, upstream.Config{BreakerThreshold: 1, BreakerTimeout: time.Minute})

	ep := upstream.Endpoint{Name: "down", URL: srv.URL}
	_, _ = c.Get(context.Background(), ep)
	if c.BreakerState("down") != gobreaker.StateOpen {
		t.Fatal("breaker should be open")
	}

	p := c.Probe(context.Background(), ep)
	if p.OK || p.Status != http.StatusServiceUnavailable {
		t.Errorf("probe = %+v", p)
	}
	if hits.Load() != 2 {
		t.Errorf("server hits = %d, want 2", hits.Load())
	}
}
