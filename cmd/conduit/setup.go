package main

import (
	"context"
	"log/slog"
	"os"

	backend "github.com/redis/go-redis/v9"

	"github.com/lbreton/conduit/internal/config"
	"github.com/lbreton/conduit/internal/jobs"
	"github.com/lbreton/conduit/internal/llm"
	"github.com/lbreton/conduit/internal/memory"
	"github.com/lbreton/conduit/internal/metrics"
	"github.com/lbreton/conduit/internal/tools"
)

// services is the shared wiring used by both the serve and work commands.
type services struct {
	redis   *backend.Client
	queue   *jobs.Queue
	jobs    *jobs.Store
	memory  *memory.Store
	runner  *jobs.Runner
	remote  *tools.RemoteToolset
	metrics *metrics.Metrics
}

func buildServices(ctx context.Context, cfg config.Config, log *slog.Logger) (*services, error) {
	client := backend.NewClient(&backend.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis not reachable at startup", "addr", cfg.RedisAddr, "error", err)
	}

	queue := jobs.NewQueue(client, cfg.QueueName,
		jobs.WithMaxDeliveries(cfg.MaxDeliveries),
		jobs.WithQueueLogger(log),
	)
	jobStore := jobs.NewStore(client, jobs.WithStoreTTL(cfg.JobTTL))
	mem := memory.NewFromClient(client, memory.WithTTL(cfg.MemoryTTL))

	search := tools.NewSearchClient(cfg.Search.URL, cfg.Search.Key, cfg.Search.Timeout,
		cfg.Search.MaxResults, cfg.Search.MaxChars, log)
	doc := tools.NewDocClient(cfg.Docsvc.BaseURL, cfg.Docsvc.Key, log)
	registry := tools.NewRegistry(search, doc, log)

	var remote *tools.RemoteToolset
	remoteCfg, err := tools.ResolveRemote(cfg.MCP.ServerURL, cfg.MCP.Key, nil)
	if err != nil {
		return nil, err
	}
	if remoteCfg != nil {
		remote, err = tools.ConnectRemote(ctx, remoteCfg, log)
		if err != nil {
			log.Warn("remote tool server unavailable", "url", cfg.MCP.ServerURL, "error", err)
			remote = nil
		}
	}

	m := metrics.New()
	engine := llm.NewEngine(llm.NewClient(os.Getenv("ANTHROPIC_API_KEY")), log)
	prompts := llm.NewPromptSource(cfg.SystemPromptPath, cfg.SystemPromptURL, registry.HasSearch(), log)

	opts := []jobs.RunnerOption{}
	if remote != nil {
		opts = append(opts, jobs.WithRemoteToolset(remote))
	}
	runner := jobs.NewRunner(&cfg, engine, prompts, registry, mem, m, log, opts...)

	return &services{
		redis:   client,
		queue:   queue,
		jobs:    jobStore,
		memory:  mem,
		runner:  runner,
		remote:  remote,
		metrics: m,
	}, nil
}

func (s *services) close() {
	if s.remote != nil {
		s.remote.Close()
	}
	s.redis.Close()
}
