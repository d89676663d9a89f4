package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"github.com/nao1215/fastcrawl/internal/model"
)

// BrowserEngine renders documents in headless Chrome. Each request runs in
// its own tab of one browser started at Open.
type BrowserEngine struct {
	limit     int
	timeout   time.Duration
	userAgent string
	proxy     string
	settle    time.Duration
	logger    *slog.Logger

	mu            sync.Mutex
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
}

var _ Transport = (*BrowserEngine)(nil)

// BrowserOption configures a BrowserEngine.
type BrowserOption func(*BrowserEngine)

// WithBrowserConnectionLimit sets the maximum number of open tabs.
func WithBrowserConnectionLimit(n int) BrowserOption {
	return func(b *BrowserEngine) {
		if n > 0 {
			b.limit = n
		}
	}
}

// WithBrowserTimeout bounds the rendering of one page.
func WithBrowserTimeout(d time.Duration) BrowserOption {
	return func(b *BrowserEngine) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithBrowserUserAgent sets the browser user agent.
func WithBrowserUserAgent(ua string) BrowserOption {
	return func(b *BrowserEngine) { b.userAgent = ua }
}

// WithBrowserProxy passes a proxy URL to Chrome.
func WithBrowserProxy(p string) BrowserOption {
	return func(b *BrowserEngine) { b.proxy = p }
}

// WithSettleDelay waits after navigation before the DOM is captured.
func WithSettleDelay(d time.Duration) BrowserOption {
	return func(b *BrowserEngine) { b.settle = d }
}

// WithBrowserLogger sets the logger.
func WithBrowserLogger(l *slog.Logger) BrowserOption {
	return func(b *BrowserEngine) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBrowserEngine returns a closed browser engine.
func NewBrowserEngine(opts ...BrowserOption) *BrowserEngine {
	b := &BrowserEngine{
		limit:   4,
		timeout: 60 * time.Second,
		settle:  250 * time.Millisecond,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ConnectionLimit implements Transport.
func (b *BrowserEngine) ConnectionLimit() int {
	return b.limit
}

// Open implements Transport. It launches Chrome.
func (b *BrowserEngine) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCtx != nil {
		return nil
	}

	execOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	execOpts = append(execOpts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
	)
	if ua := strings.TrimSpace(b.userAgent); ua != "" {
		execOpts = append(execOpts, chromedp.UserAgent(ua))
	}
	if b.proxy != "" {
		execOpts = append(execOpts, chromedp.ProxyServer(b.proxy))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), execOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return fmt.Errorf("failed to start browser: %w", err)
	}

	b.browserCtx = browserCtx
	b.cancelBrowser = cancelBrowser
	b.cancelAlloc = cancelAlloc
	return nil
}

// Close implements Transport.
func (b *BrowserEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCtx == nil {
		return nil
	}
	b.cancelBrowser()
	b.cancelAlloc()
	b.browserCtx = nil
	return nil
}

// Dispatch implements Transport. Only GET requests can be rendered.
func (b *BrowserEngine) Dispatch(ctx context.Context, reqs []*model.Request) (map[string]*model.RequestCycle, error) {
	b.mu.Lock()
	browserCtx := b.browserCtx
	b.mu.Unlock()
	if browserCtx == nil {
		return nil, ErrNotOpen
	}
	return dispatch(ctx, reqs, b.limit, func(ctx context.Context, r *model.Request) (*model.Response, error) {
		return b.render(ctx, browserCtx, r)
	})
}

func (b *BrowserEngine) render(ctx, browserCtx context.Context, r *model.Request) (*model.Response, error) {
	if r.HTTPMethod() != http.MethodGet {
		return nil, fmt.Errorf("browser engine cannot send %s requests", r.HTTPMethod())
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.timeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var html, finalURL string
	actions := []chromedp.Action{
		chromedp.Navigate(r.URL),
	}
	if b.settle > 0 {
		actions = append(actions, chromedp.Sleep(b.settle))
	}
	actions = append(actions,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&finalURL),
	)

	start := time.Now()
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	if finalURL == "" {
		finalURL = r.URL
	}

	b.logger.Debug("rendered",
		slog.String("url", r.URL),
		slog.String("final_url", finalURL),
		slog.Int("bytes", len(html)),
		slog.Duration("latency", time.Since(start)))

	return &model.Response{
		ID:         uuid.NewString(),
		Text:       html,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		URL:        finalURL,
	}, nil
}
