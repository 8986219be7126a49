package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	"github.com/rfi-assistant/server/internal/agent/llm"
	"github.com/rfi-assistant/server/internal/agent/model"
	logx "github.com/rfi-assistant/server/pkg/logger"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	APIKey     string
	BaseURL    string
	Classifier model.ChatModelSettings
	Codegen    model.ChatModelSettings
	Synthesis  model.ChatModelSettings
	Fast       model.ChatModelSettings
}

// ChatModels holds one client per role plus the shared genai client used for
// embeddings and moderation.
type ChatModels struct {
	GenAI      *genai.Client
	Classifier *llm.Client
	Codegen    *llm.Client
	Synthesis  *llm.Client
	Fast       *llm.Client
}

// NewGenAIClient creates the Gemini API client shared by every model.
func NewGenAIClient(ctx context.Context, apiKey, baseURL string) (*genai.Client, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		clientCfg.HTTPOptions.BaseURL = baseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return client, nil
}

// NewChatModels creates the four chat models with the given configuration
func NewChatModels(ctx context.Context, config ChatModelConfig) (*ChatModels, error) {
	client, err := NewGenAIClient(ctx, config.APIKey, config.BaseURL)
	if err != nil {
		return nil, err
	}

	build := func(role string, s model.ChatModelSettings, thinking bool) (*llm.Client, error) {
		temperature := s.Temperature
		maxTokens := s.MaxTokens
		cfg := &gemini.Config{
			Client:      client,
			Model:       s.Model,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
		}
		if thinking {
			cfg.ThinkingConfig = &genai.ThinkingConfig{
				IncludeThoughts: false,
				ThinkingBudget:  genai.Ptr(int32(2000)),
			}
		}
		cm, err := gemini.NewChatModel(ctx, cfg)
		if err != nil {
			logx.Error().Err(err).Str("role", role).Msg("Error creating chat model")
			return nil, fmt.Errorf("error creating %s model: %w", role, err)
		}
		return llm.New(cm, s.Model), nil
	}

	cms := &ChatModels{GenAI: client}
	if cms.Classifier, err = build("classifier", config.Classifier, false); err != nil {
		return nil, err
	}
	if cms.Codegen, err = build("codegen", config.Codegen, true); err != nil {
		return nil, err
	}
	if cms.Synthesis, err = build("synthesis", config.Synthesis, true); err != nil {
		return nil, err
	}
	if cms.Fast, err = build("fast", config.Fast, false); err != nil {
		return nil, err
	}

	logx.Debug().
		Str("classifier", config.Classifier.Model).
		Str("codegen", config.Codegen.Model).
		Str("synthesis", config.Synthesis.Model).
		Str("fast", config.Fast.Model).
		Msg("Chat models created")
	return cms, nil
}
