package config

import (
	"fmt"
)

// File is the crawl file (fastcrawl.yaml).
//
//	engine:
//	  connection_limit: 20
//	defaults:
//	  request_sleep: 250ms
//	chains:
//	  - name: books
//	    schedule: every 10 minutes
//	    stages:
//	      - name: listing
//	        seeds: [https://books.example.com/]
//	        schema: {...}
type File struct {
	// Engine overrides runtime defaults for every chain.
	Engine EngineConfig `yaml:"engine,omitempty"`

	// Defaults apply to every stage unless the stage overrides them.
	Defaults StageConfig `yaml:"defaults,omitempty"`

	// Chains are independent crawls. Chains run concurrently, their stages
	// run in order.
	Chains []ChainConfig `yaml:"chains"`
}

// EngineConfig is the engine section of the crawl file.
type EngineConfig struct {
	Kind            string            `yaml:"kind,omitempty"`
	ConnectionLimit int               `yaml:"connection_limit,omitempty"`
	Timeout         Duration          `yaml:"timeout,omitempty"`
	UserAgent       string            `yaml:"user_agent,omitempty"`
	Headers         map[string]string `yaml:"headers,omitempty"`
	Cookie          string            `yaml:"cookie,omitempty"`
	Proxy           string            `yaml:"proxy,omitempty"`
	EmbeddedTor     bool              `yaml:"embedded_tor,omitempty"`
	RespectRobots   bool              `yaml:"respect_robots,omitempty"`
	RateInterval    Duration          `yaml:"rate_interval,omitempty"`
	RateBurst       int               `yaml:"rate_burst,omitempty"`
	MaxBodySize     int64             `yaml:"max_body_size,omitempty"`
}

// ChainConfig is an ordered list of stages.
type ChainConfig struct {
	Name string `yaml:"name"`

	// Schedule is used by `fastcrawl serve`: "every 30 seconds" or a
	// five-field cron expression.
	Schedule string `yaml:"schedule,omitempty"`

	Stages []StageConfig `yaml:"stages"`
}

// StageConfig configures one spider.
type StageConfig struct {
	Name string `yaml:"name,omitempty"`

	// Seeds is the static initial address set.
	Seeds []string `yaml:"seeds,omitempty"`

	// Sitemap computes the seed set from a sitemap.xml at start.
	Sitemap string `yaml:"sitemap,omitempty"`

	// CacheSeeds reuses the sitemap result across runs instead of refetching it.
	CacheSeeds bool `yaml:"cache_seeds,omitempty"`

	// BatchSize is the number of addresses dispatched together.
	// Zero means twice the connection limit.
	BatchSize int `yaml:"batch_size,omitempty"`

	// MaxDepth is the maximum number of dispatched batches. Zero is unlimited.
	MaxDepth int `yaml:"max_depth,omitempty"`

	// MaxRequests is the total request budget. Zero is unlimited.
	MaxRequests int `yaml:"max_requests,omitempty"`

	// ConnectionLimit overrides the engine connection limit for this stage.
	ConnectionLimit int `yaml:"connection_limit,omitempty"`

	RequestSleep Duration `yaml:"request_sleep,omitempty"`
	CycleSleep   Duration `yaml:"cycle_sleep,omitempty"`

	// Ignore drops discovered addresses whose path matches one of these
	// glob patterns (e.g. "/admin/*", "*.pdf").
	Ignore []string `yaml:"ignore,omitempty"`

	// Follow keeps only discovered addresses whose path matches one of
	// these glob patterns. Empty keeps everything not ignored.
	Follow []string `yaml:"follow,omitempty"`

	Schema *SchemaConfig `yaml:"schema,omitempty"`
}

// SchemaConfig declares an extraction schema.
type SchemaConfig struct {
	Name string `yaml:"name,omitempty"`

	// Processor is the default document processor: html, xml or json.
	Processor string `yaml:"processor,omitempty"`

	// Method is the HTTP method used to fetch documents of this schema.
	Method string `yaml:"method,omitempty"`

	// Body is sent with every request, e.g. for POST search forms.
	Body string `yaml:"body,omitempty"`

	Fields []FieldConfig `yaml:"fields"`

	SameStageResolver *SelectorConfig `yaml:"same_stage_resolver,omitempty"`
	NextStageResolver *SelectorConfig `yaml:"next_stage_resolver,omitempty"`
}

// FieldConfig declares one schema field.
type FieldConfig struct {
	Name string `yaml:"name"`

	// Type is string, int, float, bool, any, object or a list of them
	// written as []int, []object...
	Type string `yaml:"type,omitempty"`

	// Optional allows a nil value.
	Optional bool `yaml:"optional,omitempty"`

	// Default is the literal value of a field without selector.
	Default any `yaml:"default,omitempty"`

	Selector *SelectorConfig `yaml:"selector,omitempty"`

	// Schema is the nested schema of object fields.
	Schema *SchemaConfig `yaml:"schema,omitempty"`
}

// SelectorConfig declares a selector. Exactly one of Path, Style or Pattern is set.
type SelectorConfig struct {
	Path    string `yaml:"path,omitempty"`
	Style   string `yaml:"style,omitempty"`
	Pattern string `yaml:"pattern,omitempty"`

	// Extract is "text", an attribute name, or empty for the raw node.
	Extract string `yaml:"extract,omitempty"`

	Many bool `yaml:"many,omitempty"`

	// Processor overrides the schema processor for this selector.
	Processor string `yaml:"processor,omitempty"`

	// Default is used when nothing matches.
	Default any `yaml:"default,omitempty"`
}

// Chain returns the chain with the given name.
func (f *File) Chain(name string) (ChainConfig, bool) {
	for _, c := range f.Chains {
		if c.Name == name {
			return c, true
		}
	}
	return ChainConfig{}, false
}

// StageSettings returns stage merged over the file defaults.
func (f *File) StageSettings(stage StageConfig) StageConfig {
	result := f.Defaults
	result.Name = stage.Name
	result.Seeds = stage.Seeds
	result.Schema = stage.Schema

	if stage.Sitemap != "" {
		result.Sitemap = stage.Sitemap
	}
	if stage.CacheSeeds {
		result.CacheSeeds = true
	}
	if stage.BatchSize != 0 {
		result.BatchSize = stage.BatchSize
	}
	if stage.MaxDepth != 0 {
		result.MaxDepth = stage.MaxDepth
	}
	if stage.MaxRequests != 0 {
		result.MaxRequests = stage.MaxRequests
	}
	if stage.ConnectionLimit != 0 {
		result.ConnectionLimit = stage.ConnectionLimit
	}
	if !stage.RequestSleep.IsZero() {
		result.RequestSleep = stage.RequestSleep
	}
	if !stage.CycleSleep.IsZero() {
		result.CycleSleep = stage.CycleSleep
	}
	if len(stage.Ignore) > 0 {
		result.Ignore = stage.Ignore
	}
	if len(stage.Follow) > 0 {
		result.Follow = stage.Follow
	}
	if result.Schema == nil {
		result.Schema = f.Defaults.Schema
	}
	return result
}

// Validate checks the structure of the crawl file. Schemas are compiled,
// and therefore fully checked, by the schema package.
func (f *File) Validate() error {
	if len(f.Chains) == 0 {
		return ErrNoChains
	}

	chains := make(map[string]bool, len(f.Chains))
	for i, c := range f.Chains {
		if c.Name == "" {
			return fmt.Errorf("chain #%d: %w", i+1, ErrEmptyName)
		}
		if chains[c.Name] {
			return fmt.Errorf("chain %q: %w", c.Name, ErrDuplicateName)
		}
		chains[c.Name] = true

		if len(c.Stages) == 0 {
			return fmt.Errorf("chain %q: %w", c.Name, ErrNoStages)
		}

		stages := make(map[string]bool, len(c.Stages))
		for j, raw := range c.Stages {
			s := f.StageSettings(raw)
			if s.Name == "" {
				return fmt.Errorf("chain %q stage #%d: %w", c.Name, j+1, ErrEmptyName)
			}
			if stages[s.Name] {
				return fmt.Errorf("chain %q stage %q: %w", c.Name, s.Name, ErrDuplicateName)
			}
			stages[s.Name] = true

			if s.Schema == nil {
				return fmt.Errorf("chain %q stage %q: %w", c.Name, s.Name, ErrNoSchema)
			}
			if j == 0 && len(s.Seeds) == 0 && s.Sitemap == "" {
				return fmt.Errorf("chain %q stage %q: %w", c.Name, s.Name, ErrNoSeeds)
			}
			if s.BatchSize < 0 || s.MaxDepth < 0 || s.MaxRequests < 0 || s.ConnectionLimit < 0 ||
				s.RequestSleep.Duration < 0 || s.CycleSleep.Duration < 0 {
				return fmt.Errorf("chain %q stage %q: %w", c.Name, s.Name, ErrInvalidStageSetting)
			}
		}
	}
	return nil
}
