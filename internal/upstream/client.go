// Package upstream issues GET requests to the third-party JSON APIs a card is
// built from.
//
// Every request is one candidate: it gets its own timeout, browser-like
// headers with a resource-appropriate Referer, an outbound pacing slot for its
// host, and a circuit breaker keyed by candidate name. Failures are returned
// as *FetchError values so callers can fall through to the next candidate.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultUserAgent mimics a desktop browser; the platform rejects unknown clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Config holds upstream client configuration.
type Config struct {
	Timeout          time.Duration // per candidate, default 5s
	UserAgent        string
	RatePerHost      float64       // requests/second per host, 0 = unlimited
	BreakerTimeout   time.Duration // open → half-open, default 30s
	BreakerThreshold uint32        // consecutive failures to open, default 5
	MaxBodyBytes     int64         // default 1 MiB
}

// Endpoint is one concrete candidate request.
type Endpoint struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Referer string `json:"referer,omitempty"`
}

// ObserveFunc is an optional callback invoked after every candidate request.
// outcome is "success" or a Kind.
type ObserveFunc func(candidate, outcome string, latency time.Duration)

// BreakerFunc is an optional callback invoked on breaker state transitions.
type BreakerFunc func(candidate string, from, to gobreaker.State)

// Client performs candidate requests.
type Client struct {
	cfg  Config
	http *http.Client

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[[]byte]
	limiters map[string]*rate.Limiter

	onObserve ObserveFunc
	onBreaker BreakerFunc
	logger    *zap.Logger
}

// New creates a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.Timeout}).DialContext,
		TLSHandshakeTimeout:   cfg.Timeout,
		ResponseHeaderTimeout: cfg.Timeout,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Client{
		cfg:      cfg,
		http:     &http.Client{Transport: transport},
		breakers: make(map[string]*gobreaker.CircuitBreaker[[]byte]),
		limiters: make(map[string]*rate.Limiter),
		logger:   logger,
	}
}

// SetObserver configures the per-request metrics callback.
func (c *Client) SetObserver(fn ObserveFunc) {
	c.onObserve = fn
}

// SetBreakerObserver configures the breaker transition callback.
func (c *Client) SetBreakerObserver(fn BreakerFunc) {
	c.onBreaker = fn
}

// Get performs one candidate request and returns its payload: the data field
// of a successful envelope, or the whole flat object.
func (c *Client) Get(ctx context.Context, ep Endpoint) ([]byte, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	payload, err := c.breaker(ep.Name).Execute(func() ([]byte, error) {
		return c.do(ctx, ep)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &FetchError{Candidate: ep.Name, Kind: KindBreaker, Err: err}
		}
		c.observe(ep.Name, string(KindOf(err)), time.Since(start))
		c.logger.Debug("upstream candidate failed",
			zap.String("candidate", ep.Name),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}

	c.observe(ep.Name, "success", time.Since(start))
	return payload, nil
}

// BreakerState reports the breaker state of a candidate.
func (c *Client) BreakerState(candidate string) gobreaker.State {
	return c.breaker(candidate).State()
}

func (c *Client) do(ctx context.Context, ep Endpoint) ([]byte, error) {
	status, body, err := c.send(ctx, ep)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &FetchError{Candidate: ep.Name, Kind: KindStatus, Status: status}
	}
	return unwrap(ep.Name, body)
}

// send paces, issues and reads one request without judging the response.
func (c *Client) send(ctx context.Context, ep Endpoint) (int, []byte, error) {
	u, err := url.Parse(ep.URL)
	if err != nil {
		return 0, nil, &FetchError{Candidate: ep.Name, Kind: KindTransport, Err: fmt.Errorf("parse url: %w", err)}
	}

	if lim := c.limiter(u.Host); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return 0, nil, &FetchError{Candidate: ep.Name, Kind: KindRateLimit, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return 0, nil, &FetchError{Candidate: ep.Name, Kind: KindTransport, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	if ep.Referer != "" {
		req.Header.Set("Referer", ep.Referer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &FetchError{Candidate: ep.Name, Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		return resp.StatusCode, nil, &FetchError{Candidate: ep.Name, Kind: KindTransport, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > c.cfg.MaxBodyBytes {
		return resp.StatusCode, nil, &FetchError{Candidate: ep.Name, Kind: KindDecode, Err: fmt.Errorf("body exceeds %d bytes", c.cfg.MaxBodyBytes)}
	}
	return resp.StatusCode, body, nil
}

func (c *Client) breaker(name string) *gobreaker.CircuitBreaker[[]byte] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[name]; ok {
		return cb
	}

	threshold := c.cfg.BreakerThreshold
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     c.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: healthyFailure,
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("upstream breaker state change",
				zap.String("candidate", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if c.onBreaker != nil {
				c.onBreaker(name, from, to)
			}
		},
	})
	c.breakers[name] = cb
	return cb
}

func (c *Client) limiter(host string) *rate.Limiter {
	if c.cfg.RatePerHost <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.limiters[host]; ok {
		return l
	}
	burst := int(c.cfg.RatePerHost)
	if burst < 1 {
		burst = 1
	}
	l := rate.NewLimiter(rate.Limit(c.cfg.RatePerHost), burst)
	c.limiters[host] = l
	return l
}

func (c *Client) observe(candidate, outcome string, latency time.Duration) {
	if c.onObserve != nil {
		c.onObserve(candidate, outcome, latency)
	}
}
