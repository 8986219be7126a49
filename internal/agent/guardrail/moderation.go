package guardrail

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiModerator uses Gemini safety filtering as a moderation verdict: a
// prompt that trips a safety block is flagged.
type GeminiModerator struct {
	client *genai.Client
	model  string
}

func NewGeminiModerator(client *genai.Client, model string) *GeminiModerator {
	return &GeminiModerator{client: client, model: model}
}

var moderationCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

func (m *GeminiModerator) Flagged(ctx context.Context, text string) (bool, error) {
	settings := make([]*genai.SafetySetting, 0, len(moderationCategories))
	for _, c := range moderationCategories {
		settings = append(settings, &genai.SafetySetting{
			Category:  c,
			Threshold: genai.HarmBlockThresholdBlockLowAndAbove,
		})
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.model, genai.Text(text), &genai.GenerateContentConfig{
		SafetySettings:  settings,
		MaxOutputTokens: 1,
	})
	if err != nil {
		return false, fmt.Errorf("moderation call: %w", err)
	}
	return safetyBlocked(resp), nil
}

func safetyBlocked(resp *genai.GenerateContentResponse) bool {
	if resp == nil {
		return false
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" && fb.BlockReason != genai.BlockedReasonUnspecified {
		return true
	}
	for _, c := range resp.Candidates {
		if c == nil {
			continue
		}
		if c.FinishReason == genai.FinishReasonSafety {
			return true
		}
		for _, r := range c.SafetyRatings {
			if r != nil && r.Blocked {
				return true
			}
		}
	}
	return false
}
