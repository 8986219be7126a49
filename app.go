package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rfi-assistant/server/internal/agent/graph"
	"github.com/rfi-assistant/server/internal/agent/graph/conversations"
	"github.com/rfi-assistant/server/internal/agent/graph/nodes"
	"github.com/rfi-assistant/server/internal/agent/guardrail"
	"github.com/rfi-assistant/server/internal/agent/lookup"
	"github.com/rfi-assistant/server/internal/agent/metrics"
	"github.com/rfi-assistant/server/internal/agent/model"
	"github.com/rfi-assistant/server/internal/agent/repo"
	"github.com/rfi-assistant/server/internal/agent/retrieval"
	"github.com/rfi-assistant/server/internal/dataset"
	logx "github.com/rfi-assistant/server/pkg/logger"
)

// app holds the process-wide services shared by every turn.
type app struct {
	service *conversations.Service
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logx.Warn().Err(err).Msg("Error during shutdown")
		}
	}
}

func newChatModels(ctx context.Context, cfg AppConfig) (*nodes.ChatModels, error) {
	cms, err := nodes.NewChatModels(ctx, nodes.ChatModelConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Classifier: cfg.Classifier.Settings(),
		Codegen:    cfg.Codegen.Settings(),
		Synthesis:  cfg.Synthesis.Settings(),
		Fast:       cfg.Fast.Settings(),
	})
	if err != nil {
		return nil, fmt.Errorf("init chat models: %w", err)
	}
	return cms, nil
}

func buildGuard(cfg AppConfig, cms *nodes.ChatModels, m *metrics.Metrics) (*guardrail.Filter, error) {
	opts := []guardrail.Option{
		guardrail.WithModerator(guardrail.NewGeminiModerator(cms.GenAI, cfg.Guardrail.ModerationModel)),
		guardrail.WithClassifier(guardrail.NewLLMClassifier(cms.Fast)),
		guardrail.WithMetrics(m),
	}
	if cfg.Guardrail.SecretScan {
		scanner, err := guardrail.NewGitleaksScanner()
		if err != nil {
			return nil, err
		}
		opts = append(opts, guardrail.WithSecretScanner(scanner))
	}
	return guardrail.New(cfg.Guardrail, opts...), nil
}

func newGuard(ctx context.Context, cfg AppConfig) (*guardrail.Filter, error) {
	cms, err := newChatModels(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return buildGuard(cfg, cms, metrics.New(prometheus.DefaultRegisterer))
}

func loadTable(cfg model.DatasetConfig) (*dataset.Table, error) {
	var (
		schema *dataset.Schema
		err    error
	)
	if cfg.SchemaPath != "" {
		schema, err = dataset.LoadSchema(cfg.SchemaPath)
	} else {
		schema, err = dataset.DefaultSchema()
	}
	if err != nil {
		return nil, fmt.Errorf("load dataset schema: %w", err)
	}

	table, err := dataset.LoadCSV(cfg.Path, dataset.DefaultLoadOptions(schema))
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	logx.Info().Str("path", cfg.Path).Int("rows", table.Len()).Msg("Dataset loaded")
	return table, nil
}

func newApp(ctx context.Context, cfg AppConfig) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	m := metrics.New(prometheus.DefaultRegisterer)

	cms, err := newChatModels(ctx, cfg)
	if err != nil {
		return nil, err
	}

	guard, err := buildGuard(cfg, cms, m)
	if err != nil {
		return nil, err
	}

	table, err := loadTable(cfg.Dataset)
	if err != nil {
		return nil, err
	}

	var index retrieval.Index
	switch cfg.Retrieval.Backend {
	case "qdrant":
		q, err := retrieval.NewQdrantIndex(cfg.Retrieval)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, q.Close)
		index = q
	case "chromem", "":
		c, err := retrieval.NewChromemIndex(cfg.Retrieval.ChromemPath, cfg.Retrieval.ChromemCollection)
		if err != nil {
			return nil, err
		}
		index = c
	default:
		return nil, fmt.Errorf("unknown retrieval backend %q", cfg.Retrieval.Backend)
	}

	var resolver lookup.Resolver = lookup.NopResolver{LinkColumn: cfg.Dataset.LinkColumn}
	if cfg.Dataset.DocumentsRoot != "" {
		resolver = lookup.FolderResolver{
			Root:       cfg.Dataset.DocumentsRoot,
			IDColumn:   cfg.Dataset.IDColumn,
			LinkColumn: cfg.Dataset.LinkColumn,
		}
	}

	runner, err := graph.BuildRunner(ctx, graph.Config{
		ChatModels:   cms,
		Guard:        guard,
		Table:        table,
		Embedder:     retrieval.NewValidatingEmbedder(retrieval.NewGeminiEmbedder(cms.GenAI, cfg.Retrieval.EmbeddingModel)),
		Index:        index,
		Resolver:     resolver,
		Metrics:      m,
		Retrieval:    cfg.Retrieval,
		Insight:      cfg.Insight,
		Dataset:      cfg.Dataset,
		Conversation: cfg.Conversation,
	})
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}

	var threads model.ThreadRepository = repo.NewMemoryThreadRepository()
	if cfg.Redis != nil {
		rdb, err := cfg.Redis.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)
		threads = repo.NewRedisThreadRepository(rdb, cfg.Conversation.TTL)
		logx.Info().Msg("Connected to Redis")
	}

	a.service = conversations.NewService(threads, runner, cfg.Conversation)
	ok = true
	return a, nil
}
