package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nao1215/fastcrawl/internal/config"
	"github.com/nao1215/fastcrawl/internal/model"
)

// Transport fetches batches of requests.
type Transport interface {
	// Open prepares the transport. It is called once per run.
	Open(ctx context.Context) error
	// Close releases what Open acquired.
	Close() error
	// Dispatch fetches every request concurrently, bounded by ConnectionLimit,
	// and returns exactly one cycle per request keyed by its URL. Per-request
	// failures are stored on the cycle; the returned error is run-level.
	Dispatch(ctx context.Context, reqs []*model.Request) (map[string]*model.RequestCycle, error)
	// ConnectionLimit is the maximum number of simultaneous requests.
	ConnectionLimit() int
}

// New builds the transport selected by cfg.
func New(cfg *config.Config, logger *slog.Logger) (Transport, error) {
	switch cfg.Engine {
	case config.EngineHTTP, "":
		opts := []HTTPOption{
			WithConnectionLimit(cfg.ConnectionLimit),
			WithTimeout(cfg.Timeout),
			WithUserAgent(cfg.UserAgent),
			WithHeaders(cfg.Headers),
			WithCookie(cfg.Cookie),
			WithMaxBodySize(cfg.MaxBodySize),
			WithRobots(cfg.RespectRobots),
			WithRateLimit(cfg.RateInterval, cfg.RateBurst),
			WithHTTPLogger(logger),
		}
		if cfg.Proxy != "" {
			p, err := model.ParseProxy(cfg.Proxy)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", config.ErrInvalidProxy, err)
			}
			opts = append(opts, WithProxy(p))
		}
		if cfg.EmbeddedTor {
			opts = append(opts, WithEmbeddedTor(NewEmbeddedTor(WithStartupTimeout(cfg.TorStartupTimeout))))
		}
		return NewHTTPEngine(opts...), nil

	case config.EngineBrowser:
		return NewBrowserEngine(
			WithBrowserConnectionLimit(cfg.ConnectionLimit),
			WithBrowserTimeout(cfg.Timeout),
			WithBrowserUserAgent(cfg.UserAgent),
			WithBrowserProxy(cfg.Proxy),
			WithBrowserLogger(logger),
		), nil

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidEngine, cfg.Engine)
	}
}
