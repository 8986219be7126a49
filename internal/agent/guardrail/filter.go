// Package guardrail admits or rejects queries before any expensive work.
package guardrail

import (
	"context"
	"time"

	"github.com/rfi-assistant/server/internal/agent/metrics"
	"github.com/rfi-assistant/server/internal/agent/model"
	logx "github.com/rfi-assistant/server/pkg/logger"
)

// Layer names the check that decided.
type Layer string

const (
	LayerBlockedKeyword Layer = "blocked_keyword"
	LayerSecret         Layer = "secret"
	LayerInjection      Layer = "injection"
	LayerAllowlist      Layer = "allowlist"
	LayerOffTopic       Layer = "off_topic"
	LayerModeration     Layer = "moderation"
	LayerClassifier     Layer = "llm_classifier"
	LayerEmpty          Layer = "empty"
)

// Decision is the verdict for one query.
type Decision struct {
	Allowed bool
	Layer   Layer
	Reason  string
	Cached  bool
	Elapsed time.Duration
}

// Moderator flags harmful text.
type Moderator interface {
	Flagged(ctx context.Context, text string) (bool, error)
}

// Classifier is the final model-based relevance and safety check.
type Classifier interface {
	Blocked(ctx context.Context, text string) (bool, error)
}

// SecretScanner detects credential-shaped tokens.
type SecretScanner interface {
	Scan(text string) (rule string, found bool)
}

// Filter runs the layered checks. It is safe for concurrent use and is meant
// to be built once per process and shared.
type Filter struct {
	patterns   Patterns
	cache      *decisionCache
	moderator  Moderator
	classifier Classifier
	secrets    SecretScanner
	metrics    *metrics.Metrics
}

type Option func(*Filter)

func WithPatterns(p Patterns) Option {
	return func(f *Filter) { f.patterns = p }
}

func WithModerator(m Moderator) Option {
	return func(f *Filter) { f.moderator = m }
}

func WithClassifier(c Classifier) Option {
	return func(f *Filter) { f.classifier = c }
}

func WithSecretScanner(s SecretScanner) Option {
	return func(f *Filter) { f.secrets = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Filter) { f.metrics = m }
}

// New builds a filter with the default patterns.
func New(cfg model.GuardrailConfig, opts ...Option) *Filter {
	f := &Filter{
		patterns: DefaultPatterns(),
		cache:    newDecisionCache(cfg.CacheSize, cfg.CacheTTL),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Check evaluates query and logs one line per decision.
func (f *Filter) Check(ctx context.Context, query string) Decision {
	start := time.Now()
	d := f.check(ctx, query)
	d.Elapsed = time.Since(start)

	logx.Info().
		Str("layer", string(d.Layer)).
		Bool("allowed", d.Allowed).
		Bool("cached", d.Cached).
		Str("reason", d.Reason).
		Dur("elapsed", d.Elapsed).
		Str("query", query).
		Msg("Guardrail decision")
	f.metrics.GuardrailDecision(string(d.Layer), d.Allowed, d.Cached)
	return d
}

func (f *Filter) check(ctx context.Context, query string) Decision {
	key := Normalize(query)
	if key == "" {
		return Decision{Allowed: false, Layer: LayerEmpty, Reason: "empty query"}
	}

	// Deterministic rejections are recomputed every call so a cached allow
	// can never bypass them.
	if term, ok := containsAny(key, f.patterns.Blocked); ok {
		return Decision{Layer: LayerBlockedKeyword, Reason: term}
	}
	if f.secrets != nil {
		if rule, ok := f.secrets.Scan(query); ok {
			return Decision{Layer: LayerSecret, Reason: rule}
		}
	}
	if m, ok := matchAny(query, f.patterns.Injection); ok {
		return Decision{Layer: LayerInjection, Reason: m}
	}

	if d, ok := f.cache.Get(key); ok {
		d.Cached = true
		return d
	}
	d := f.decide(ctx, query, key)
	f.cache.Add(key, d)
	return d
}

func (f *Filter) decide(ctx context.Context, query, key string) Decision {
	if m, ok := matchAny(query, f.patterns.Allowlist); ok {
		return Decision{Allowed: true, Layer: LayerAllowlist, Reason: m}
	}
	if m, ok := matchAny(query, f.patterns.OffTopic); ok {
		return Decision{Layer: LayerOffTopic, Reason: m}
	}

	if term, ok := containsAny(key, f.patterns.Suspicious); ok && f.moderator != nil {
		flagged, err := f.moderator.Flagged(ctx, query)
		switch {
		case err != nil:
			logx.Warn().Err(err).Str("term", term).Msg("Moderation failed, continuing")
			f.metrics.FailOpen(string(LayerModeration))
		case flagged:
			return Decision{Layer: LayerModeration, Reason: term}
		}
	}

	if f.classifier == nil {
		return Decision{Allowed: true, Layer: LayerClassifier, Reason: "no classifier"}
	}
	blocked, err := f.classifier.Blocked(ctx, query)
	if err != nil {
		logx.Warn().Err(err).Msg("Guardrail classifier failed, allowing")
		f.metrics.FailOpen(string(LayerClassifier))
		return Decision{Allowed: true, Layer: LayerClassifier, Reason: "fail-open"}
	}
	return Decision{Allowed: !blocked, Layer: LayerClassifier}
}
