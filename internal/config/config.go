package config

import (
	"net/url"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is used for XDG directory paths and the default config file name.
	AppName = "fastcrawl"

	// DefaultEngine fetches documents with net/http.
	DefaultEngine = EngineHTTP

	// DefaultConnectionLimit caps simultaneous in-flight requests of one spider.
	// Batch size defaults to twice this value.
	DefaultConnectionLimit = 100

	// DefaultTimeout applies to each individual request.
	DefaultTimeout = 30 * time.Second

	// DefaultUserAgent identifies crawler traffic in server logs.
	DefaultUserAgent = "fastcrawl/1.0 (+https://github.com/nao1215/fastcrawl)"

	// DefaultMaxBodySize limits how much of a response body is read.
	DefaultMaxBodySize = 10 * 1024 * 1024 // 10MB

	// DefaultRateBurst is the per-host token bucket size used when a rate
	// interval is configured.
	DefaultRateBurst = 1

	// DefaultTorStartupTimeout bounds the embedded Tor bootstrap.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultMaxConcurrentChains is how many chains `run` executes at once.
	DefaultMaxConcurrentChains = 4

	// DefaultSchedule is used for chains registered with the scheduler
	// without an explicit schedule.
	DefaultSchedule = "every 1 minute"
)

// Engine kinds.
const (
	// EngineHTTP fetches raw documents with net/http.
	EngineHTTP = "http"
	// EngineBrowser renders documents in headless Chrome.
	EngineBrowser = "browser"
)

// Config holds runtime options shared by every spider of a run.
// It is built from defaults, then the crawl file's engine section, then
// command line flags.
type Config struct {
	// ConfigFilePath is the crawl file. Empty means search the default locations.
	ConfigFilePath string

	// Engine selects the transport: EngineHTTP or EngineBrowser.
	Engine string

	// ConnectionLimit is the maximum number of simultaneous requests per spider.
	ConnectionLimit int

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// UserAgent is sent with every request unless a header overrides it.
	UserAgent string

	// Headers are added to every request.
	Headers map[string]string

	// Cookie is a "name=value; name2=value2" string sent with every request.
	Cookie string

	// Proxy is a proxy URL: http://, https:// or socks5://, with optional
	// user:password. Empty means direct connections.
	Proxy string

	// EmbeddedTor starts a private Tor daemon and routes all traffic through it.
	// Mutually exclusive with Proxy.
	EmbeddedTor bool

	// TorStartupTimeout bounds the embedded Tor bootstrap.
	TorStartupTimeout time.Duration

	// RespectRobots skips addresses disallowed by the host's robots.txt.
	RespectRobots bool

	// RateInterval is the minimum spacing between requests to one host.
	// Zero disables per-host limiting.
	RateInterval time.Duration

	// RateBurst is the per-host token bucket size.
	RateBurst int

	// MaxBodySize is the maximum response body size in bytes.
	MaxBodySize int64

	// DBDir enables the SQLite record store in this directory.
	DBDir string

	// SaveToDB is set when DBDir is configured.
	SaveToDB bool

	// MongoURI enables the MongoDB record sink.
	MongoURI string

	// MongoDatabase is the database used by the MongoDB sink.
	MongoDatabase string

	// OutputFile receives every record as one JSON object per line.
	OutputFile string

	// Silent logs run failures instead of returning them.
	Silent bool

	// Verbose enables debug logging.
	Verbose bool

	// JSONReport and MarkdownReport select the run summary format.
	// Plain text is used when neither is set.
	JSONReport     bool
	MarkdownReport bool

	// ReportFile receives the run summary instead of stdout.
	ReportFile string

	// MaxConcurrentChains bounds how many chains run at the same time.
	MaxConcurrentChains int
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Engine:              DefaultEngine,
		ConnectionLimit:     DefaultConnectionLimit,
		Timeout:             DefaultTimeout,
		UserAgent:           DefaultUserAgent,
		Headers:             map[string]string{},
		TorStartupTimeout:   DefaultTorStartupTimeout,
		RateBurst:           DefaultRateBurst,
		MaxBodySize:         DefaultMaxBodySize,
		MongoDatabase:       AppName,
		Silent:              true,
		MaxConcurrentChains: DefaultMaxConcurrentChains,
	}
}

// ApplyEngine overrides c with every value set in the crawl file's engine section.
func (c *Config) ApplyEngine(e EngineConfig) {
	if e.Kind != "" {
		c.Engine = e.Kind
	}
	if e.ConnectionLimit != 0 {
		c.ConnectionLimit = e.ConnectionLimit
	}
	if !e.Timeout.IsZero() {
		c.Timeout = e.Timeout.Duration
	}
	if e.UserAgent != "" {
		c.UserAgent = e.UserAgent
	}
	if len(e.Headers) > 0 {
		if c.Headers == nil {
			c.Headers = make(map[string]string, len(e.Headers))
		}
		for k, v := range e.Headers {
			c.Headers[k] = v
		}
	}
	if e.Cookie != "" {
		c.Cookie = e.Cookie
	}
	if e.Proxy != "" {
		c.Proxy = e.Proxy
	}
	if e.EmbeddedTor {
		c.EmbeddedTor = true
	}
	if e.RespectRobots {
		c.RespectRobots = true
	}
	if !e.RateInterval.IsZero() {
		c.RateInterval = e.RateInterval.Duration
	}
	if e.RateBurst != 0 {
		c.RateBurst = e.RateBurst
	}
	if e.MaxBodySize != 0 {
		c.MaxBodySize = e.MaxBodySize
	}
}

// XDGDataDir returns the data directory, e.g. ~/.local/share/fastcrawl on Linux.
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the config directory, e.g. ~/.config/fastcrawl on Linux.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Engine != EngineHTTP && c.Engine != EngineBrowser {
		return ErrInvalidEngine
	}
	if c.ConnectionLimit <= 0 {
		return ErrInvalidConnectionLimit
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	if c.RateInterval < 0 || c.RateBurst < 0 {
		return ErrInvalidRate
	}
	if c.Proxy != "" {
		if c.EmbeddedTor {
			return ErrConflictingProxy
		}
		u, err := url.Parse(c.Proxy)
		if err != nil || u.Host == "" {
			return ErrInvalidProxy
		}
		switch u.Scheme {
		case "http", "https", "socks5", "socks5h":
		default:
			return ErrInvalidProxy
		}
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	if c.MaxConcurrentChains <= 0 {
		return ErrInvalidConcurrency
	}
	return nil
}
