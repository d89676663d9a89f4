package config

import "errors"

// Runtime configuration errors returned by Config.Validate.
var (
	// ErrInvalidEngine is returned for an engine kind other than http or browser.
	ErrInvalidEngine = errors.New("invalid engine: must be \"http\" or \"browser\"")

	// ErrInvalidConnectionLimit is returned when the connection limit is not positive.
	// Without it no batch size can be derived.
	ErrInvalidConnectionLimit = errors.New("invalid connection limit: must be positive")

	// ErrInvalidTimeout is returned when the request timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrInvalidRate is returned for a negative rate interval or burst.
	ErrInvalidRate = errors.New("invalid rate limit: interval and burst must be non-negative")

	// ErrInvalidProxy is returned when the proxy is not an http, https or socks5 URL.
	ErrInvalidProxy = errors.New("invalid proxy: expected http://, https:// or socks5:// URL with host")

	// ErrConflictingProxy is returned when both a proxy and the embedded Tor daemon are requested.
	ErrConflictingProxy = errors.New("conflicting proxy settings: proxy and embedded tor cannot be used together")

	// ErrConflictingReportFormats is returned when both --json and --markdown are set.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrInvalidConcurrency is returned when the chain concurrency is not positive.
	ErrInvalidConcurrency = errors.New("invalid chain concurrency: must be positive")
)

// Crawl file errors returned by File.Validate.
var (
	// ErrConfigNotFound is returned when the crawl file does not exist.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrNoChains is returned when the crawl file declares no chains.
	ErrNoChains = errors.New("no chains defined")

	// ErrEmptyName is returned for a chain or stage without a name.
	ErrEmptyName = errors.New("name must not be empty")

	// ErrDuplicateName is returned when two chains, or two stages of a chain, share a name.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrNoStages is returned for a chain without stages.
	ErrNoStages = errors.New("chain has no stages")

	// ErrNoSchema is returned for a stage without an extraction schema.
	ErrNoSchema = errors.New("stage has no schema")

	// ErrNoSeeds is returned when the first stage of a chain has neither seeds nor a sitemap.
	// Later stages may be seeded entirely by their predecessor.
	ErrNoSeeds = errors.New("first stage has no seeds or sitemap")

	// ErrInvalidStageSetting is returned for negative batch, depth, budget or sleep values.
	ErrInvalidStageSetting = errors.New("invalid stage setting: values must be non-negative")
)
