package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nao1215/fastcrawl/internal/model"
)

// maxRedirects stops redirect loops.
const maxRedirects = 10

// HTTPEngine fetches raw documents with net/http.
type HTTPEngine struct {
	limit         int
	timeout       time.Duration
	userAgent     string
	headers       map[string]string
	cookie        string
	maxBodySize   int64
	respectRobots bool
	rateInterval  time.Duration
	rateBurst     int
	proxy         *model.ProxySetting
	tor           *EmbeddedTor
	logger        *slog.Logger

	mu      sync.Mutex
	open    bool
	jar     http.CookieJar
	active  *model.ProxySetting
	clients map[string]*http.Client
	robots  *robotsGate
	limiter *hostLimiter
}

var _ Transport = (*HTTPEngine)(nil)

// HTTPOption configures an HTTPEngine.
type HTTPOption func(*HTTPEngine)

// WithConnectionLimit sets the maximum number of simultaneous requests.
func WithConnectionLimit(n int) HTTPOption {
	return func(e *HTTPEngine) {
		if n > 0 {
			e.limit = n
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(e *HTTPEngine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(e *HTTPEngine) { e.userAgent = ua }
}

// WithHeaders adds headers to every request.
func WithHeaders(h map[string]string) HTTPOption {
	return func(e *HTTPEngine) {
		for k, v := range h {
			e.headers[k] = v
		}
	}
}

// WithCookie sends a raw cookie string with every request.
func WithCookie(c string) HTTPOption {
	return func(e *HTTPEngine) { e.cookie = c }
}

// WithMaxBodySize limits response bodies. Zero means unlimited.
func WithMaxBodySize(n int64) HTTPOption {
	return func(e *HTTPEngine) { e.maxBodySize = n }
}

// WithRobots makes the engine honor robots.txt.
func WithRobots(respect bool) HTTPOption {
	return func(e *HTTPEngine) { e.respectRobots = respect }
}

// WithRateLimit spaces requests to one host by interval, allowing burst.
func WithRateLimit(interval time.Duration, burst int) HTTPOption {
	return func(e *HTTPEngine) {
		e.rateInterval = interval
		e.rateBurst = burst
	}
}

// WithProxy routes every request through p unless a request sets its own proxy.
func WithProxy(p *model.ProxySetting) HTTPOption {
	return func(e *HTTPEngine) { e.proxy = p }
}

// WithEmbeddedTor starts t at Open and routes every request through it.
func WithEmbeddedTor(t *EmbeddedTor) HTTPOption {
	return func(e *HTTPEngine) { e.tor = t }
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(e *HTTPEngine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewHTTPEngine returns a closed engine.
func NewHTTPEngine(opts ...HTTPOption) *HTTPEngine {
	e := &HTTPEngine{
		limit:   100,
		timeout: 30 * time.Second,
		headers: map[string]string{},
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ConnectionLimit implements Transport.
func (e *HTTPEngine) ConnectionLimit() int {
	return e.limit
}

// Open implements Transport. It starts the embedded Tor daemon when
// configured and checks SOCKS5 proxies before the first request.
func (e *HTTPEngine) Open(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.open {
		return nil
	}

	active := e.proxy
	if e.tor != nil {
		e.logger.Info("starting embedded Tor daemon, this may take a few minutes")
		if err := e.tor.Start(ctx); err != nil {
			return err
		}
		p, err := e.tor.Proxy()
		if err != nil {
			_ = e.tor.Stop()
			return err
		}
		active = p
		e.logger.Info("embedded Tor daemon ready", slog.String("socks", e.tor.SocksAddr()))
	}
	if active != nil && (active.Scheme() == "socks5" || active.Scheme() == "socks5h") {
		if status := CheckSOCKS5(ctx, active.Address()); status != ProxyStatusOK {
			e.stopTor()
			return fmt.Errorf("proxy %s: %w", active.Address(), status.Error())
		}
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		e.stopTor()
		return fmt.Errorf("failed to create cookie jar: %w", err)
	}
	e.jar = jar
	e.active = active
	e.clients = make(map[string]*http.Client)

	client, err := e.clientLocked(active)
	if err != nil {
		e.stopTor()
		return err
	}
	if e.respectRobots {
		e.robots = newRobotsGate(client, e.userAgent)
	}
	e.limiter = newHostLimiter(e.rateInterval, e.rateBurst)
	e.open = true
	return nil
}

// Close implements Transport.
func (e *HTTPEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open {
		return nil
	}
	for _, c := range e.clients {
		c.CloseIdleConnections()
	}
	e.clients = nil
	e.robots = nil
	e.open = false
	if e.tor != nil {
		return e.tor.Stop()
	}
	return nil
}

func (e *HTTPEngine) stopTor() {
	if e.tor != nil {
		_ = e.tor.Stop() //nolint:errcheck // Best effort cleanup
	}
}

// clientLocked returns the client for p, creating it on first use.
func (e *HTTPEngine) clientLocked(p *model.ProxySetting) (*http.Client, error) {
	key := ""
	if p != nil {
		key = p.URL().String()
	}
	if c, ok := e.clients[key]; ok {
		return c, nil
	}

	base, err := newHTTPTransport(p, e.timeout)
	if err != nil {
		return nil, err
	}
	c := &http.Client{
		Transport: &headerInjectingTransport{
			base:      base,
			userAgent: e.userAgent,
			cookie:    e.cookie,
			headers:   e.headers,
		},
		Timeout: e.timeout,
		Jar:     e.jar,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	e.clients[key] = c
	return c, nil
}

// Dispatch implements Transport.
func (e *HTTPEngine) Dispatch(ctx context.Context, reqs []*model.Request) (map[string]*model.RequestCycle, error) {
	e.mu.Lock()
	open := e.open
	e.mu.Unlock()
	if !open {
		return nil, ErrNotOpen
	}
	return dispatch(ctx, reqs, e.limit, e.fetch)
}

// dispatch runs fetch for every distinct request URL and waits for all of
// them. A request first waits out its sleep interval and only then takes one
// of the limit fetch slots, so sleeping requests do not hold capacity.
func dispatch(ctx context.Context, reqs []*model.Request, limit int,
	fetch func(context.Context, *model.Request) (*model.Response, error),
) (map[string]*model.RequestCycle, error) {
	cycles := make(map[string]*model.RequestCycle, len(reqs))
	ordered := make([]*model.RequestCycle, 0, len(reqs))
	for _, r := range reqs {
		if _, dup := cycles[r.URL]; dup {
			continue
		}
		c := &model.RequestCycle{Request: r}
		cycles[r.URL] = c
		ordered = append(ordered, c)
	}

	var slots *semaphore.Weighted
	if limit > 0 {
		slots = semaphore.NewWeighted(int64(limit))
	}
	var g errgroup.Group
	for _, c := range ordered {
		g.Go(func() error {
			if err := waitInterval(ctx, c.Request.SleepInterval); err != nil {
				c.Err = err
				return nil
			}
			if slots != nil {
				if err := slots.Acquire(ctx, 1); err != nil {
					c.Err = err
					return nil
				}
				defer slots.Release(1)
			}
			if err := ctx.Err(); err != nil {
				c.Err = err
				return nil
			}
			c.Response, c.Err = fetch(ctx, c.Request)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return cycles, err
	}
	return cycles, nil
}

// waitInterval sleeps for d unless ctx ends first.
func waitInterval(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *HTTPEngine) fetch(ctx context.Context, r *model.Request) (*model.Response, error) {

	target, err := url.Parse(r.URL)
	if err != nil || !target.IsAbs() {
		return nil, fmt.Errorf("invalid address %q", r.URL)
	}

	e.mu.Lock()
	if !e.open {
		e.mu.Unlock()
		return nil, ErrNotOpen
	}
	robots, limiter := e.robots, e.limiter
	proxySetting := e.active
	if r.Proxy != nil {
		proxySetting = r.Proxy
	}
	client, err := e.clientLocked(proxySetting)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if robots != nil && !robots.Allowed(ctx, target) {
		return nil, ErrRobotsDisallowed
	}
	if err := limiter.Wait(ctx, target.Host); err != nil {
		return nil, err
	}

	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.HTTPMethod(), r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	for _, c := range r.Cookies {
		req.AddCookie(c)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http fetch failed: %w", err)
	}

	raw, err := readBody(resp, e.maxBodySize)
	if err != nil {
		return nil, err
	}
	text, err := decodeText(raw, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	finalURL := r.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	e.logger.Debug("fetched",
		slog.String("url", r.URL),
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(raw)),
		slog.Duration("latency", time.Since(start)))

	return &model.Response{
		ID:         uuid.NewString(),
		Text:       text,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Cookies:    resp.Cookies(),
		URL:        finalURL,
	}, nil
}
