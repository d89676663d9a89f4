package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/nao1215/fastcrawl/internal/config"
	"github.com/nao1215/fastcrawl/internal/crawler"
	"github.com/nao1215/fastcrawl/internal/database"
	"github.com/nao1215/fastcrawl/internal/engine"
	"github.com/nao1215/fastcrawl/internal/frontier"
	"github.com/nao1215/fastcrawl/internal/model"
	"github.com/nao1215/fastcrawl/internal/pipeline"
	"github.com/nao1215/fastcrawl/internal/schema"
)

// builtChain is a runnable chain with the configuration it came from.
type builtChain struct {
	chain  *crawler.Chain
	config config.ChainConfig
}

// selectChains returns the chains named in names, or every chain when
// names is empty.
func selectChains(file *config.File, names []string) ([]config.ChainConfig, error) {
	if len(names) == 0 {
		return file.Chains, nil
	}
	out := make([]config.ChainConfig, 0, len(names))
	for _, name := range names {
		c, ok := file.Chain(name)
		if !ok {
			return nil, fmt.Errorf("unknown chain %q", name)
		}
		out = append(out, c)
	}
	return out, nil
}

// compileStages compiles the schema of every stage of c.
func compileStages(file *config.File, c config.ChainConfig) ([]config.StageConfig, []*schema.Schema, error) {
	settings := make([]config.StageConfig, 0, len(c.Stages))
	schemas := make([]*schema.Schema, 0, len(c.Stages))
	for _, raw := range c.Stages {
		st := file.StageSettings(raw)
		sch, err := schema.FromConfig(st.Schema)
		if err != nil {
			return nil, nil, fmt.Errorf("chain %q stage %q: %w", c.Name, st.Name, err)
		}
		settings = append(settings, st)
		schemas = append(schemas, sch)
	}
	return settings, schemas, nil
}

// buildChains turns chain declarations into chains whose stages save
// through sinks.
func buildChains(cfg *config.Config, file *config.File, decls []config.ChainConfig, s *sinks, logger *slog.Logger) ([]builtChain, error) {
	out := make([]builtChain, 0, len(decls))
	for _, decl := range decls {
		settings, schemas, err := compileStages(file, decl)
		if err != nil {
			return nil, err
		}

		saver := s.pipeline(logger.With(slog.String("chain", decl.Name)))
		stages := make([]*crawler.Spider, 0, len(settings))
		for i, st := range settings {
			spider, err := buildSpider(cfg, st, schemas[i], saver, s, logger)
			if err != nil {
				return nil, fmt.Errorf("chain %q: %w", decl.Name, err)
			}
			stages = append(stages, spider)
		}

		chain, err := crawler.NewChain(decl.Name, stages...)
		if err != nil {
			return nil, fmt.Errorf("chain %q: %w", decl.Name, err)
		}
		out = append(out, builtChain{chain: chain, config: decl})
	}
	return out, nil
}

// buildSpider creates one stage with its own transport.
func buildSpider(cfg *config.Config, st config.StageConfig, sch *schema.Schema, saver crawler.Saver, s *sinks, logger *slog.Logger) (*crawler.Spider, error) {
	stageCfg := *cfg
	if st.ConnectionLimit > 0 {
		stageCfg.ConnectionLimit = st.ConnectionLimit
	}
	transport, err := engine.New(&stageCfg, logger)
	if err != nil {
		return nil, err
	}

	opts := []crawler.SpiderOption{
		crawler.WithBatchSize(st.BatchSize),
		crawler.WithMaxDepth(st.MaxDepth),
		crawler.WithMaxRequests(st.MaxRequests),
		crawler.WithRequestSleep(st.RequestSleep.Duration),
		crawler.WithCycleSleep(st.CycleSleep.Duration),
		crawler.WithIgnorePatterns(st.Ignore),
		crawler.WithFollowPatterns(st.Follow),
		crawler.WithSaver(saver),
		crawler.WithStatsHook(s.saveRun),
		crawler.WithLogger(logger),
	}
	switch {
	case st.Sitemap != "":
		client := &http.Client{Timeout: cfg.Timeout}
		opts = append(opts, crawler.WithSeeds(frontier.DynamicSeeds(engine.SitemapSeeds(client, st.Sitemap), st.CacheSeeds)))
	case len(st.Seeds) > 0:
		opts = append(opts, crawler.WithSeeds(frontier.StaticSeeds(st.Seeds...)))
	}
	return crawler.NewSpider(st.Name, sch, transport, opts...)
}

// sinks holds the record destinations of one invocation.
type sinks struct {
	store  *database.RecordStore
	mongo  *database.MongoStore
	output *os.File
	logger *slog.Logger
}

// openSinks opens every destination enabled in cfg.
func openSinks(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sinks, error) {
	s := &sinks{logger: logger}

	if cfg.SaveToDB {
		store, err := database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		s.store = store
		logger.Info("database opened", "path", store.Path())
	}

	if cfg.MongoURI != "" {
		m, err := database.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to connect to MongoDB: %w", err), s.Close(ctx))
		}
		s.mongo = m
		logger.Info("MongoDB connected", "database", cfg.MongoDatabase)
	}

	if cfg.OutputFile != "" {
		if dir := filepath.Dir(cfg.OutputFile); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, errors.Join(fmt.Errorf("failed to create output directory: %w", err), s.Close(ctx))
			}
		}
		f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to open record file: %w", err), s.Close(ctx))
		}
		s.output = f
	}
	return s, nil
}

// pipeline returns the item pipeline of one chain: dedup, then every
// open destination, then debug logging.
func (s *sinks) pipeline(logger *slog.Logger) *pipeline.Pipeline {
	p := pipeline.New(
		pipeline.WithLogger(logger),
		pipeline.WithContinueOnError(true),
	)
	p.AddStep(pipeline.NewDedupStep())
	if s.store != nil {
		p.AddStep(pipeline.NewStoreStep(s.store, logger))
	}
	if s.mongo != nil {
		p.AddStep(pipeline.NewMongoStep(s.mongo, logger))
	}
	if s.output != nil {
		p.AddStep(pipeline.NewJSONLinesStep(s.output))
	}
	p.AddStep(pipeline.NewLogStep(logger, slog.LevelDebug))
	return p
}

// saveRun records the statistics of a finished stage.
func (s *sinks) saveRun(st model.StageStats) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.store != nil {
		if _, err := s.store.SaveRun(ctx, st); err != nil {
			s.logger.Error("failed to save run", "stage", st.Stage, "error", err)
		}
	}
	if s.mongo != nil {
		if err := s.mongo.SaveRun(ctx, st); err != nil {
			s.logger.Error("failed to save run to MongoDB", "stage", st.Stage, "error", err)
		}
	}
}

// destinations names the open destinations for logging.
func (s *sinks) destinations() []string {
	var out []string
	if s.store != nil {
		out = append(out, "sqlite")
	}
	if s.mongo != nil {
		out = append(out, "mongo")
	}
	if s.output != nil {
		out = append(out, "jsonl")
	}
	return out
}

// Close closes every open destination.
func (s *sinks) Close(ctx context.Context) error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.mongo != nil {
		errs = append(errs, s.mongo.Close(ctx))
	}
	if s.output != nil {
		errs = append(errs, s.output.Close())
	}
	return errors.Join(errs...)
}
