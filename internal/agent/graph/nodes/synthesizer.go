package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/rfi-assistant/server/internal/agent/graph/conversations"
	"github.com/rfi-assistant/server/internal/agent/graph/prompts"
	"github.com/rfi-assistant/server/internal/agent/llm"
	"github.com/rfi-assistant/server/internal/agent/model"
	logx "github.com/rfi-assistant/server/pkg/logger"
)

// Synthesis is the answer, summary and preview produced in one structured call.
type Synthesis struct {
	Answer         string `json:"answer"`
	UpdatedSummary string `json:"updated_summary"`
	ThreadPreview  string `json:"thread_preview"`
}

func (s Synthesis) Validate() error {
	if strings.TrimSpace(s.Answer) == "" {
		return errors.New("answer is empty")
	}
	return nil
}

// Synthesizer grounds the answer in the context gathered by the earlier
// nodes and folds the turn into the rolling summary.
type Synthesizer struct {
	client       *llm.Client
	contextTurns int
	wordCap      int
}

func NewSynthesizer(client *llm.Client, cfg model.ConversationConfig) *Synthesizer {
	return &Synthesizer{client: client, contextTurns: cfg.ContextTurns, wordCap: cfg.SummaryWordCap}
}

// Synthesize calls the model with one repair attempt and applies the summary,
// preview and source list guards to its reply.
func (s *Synthesizer) Synthesize(ctx context.Context, state *model.ConversationState) (Synthesis, error) {
	grounding, sources := synthesisContext(state)
	if len(state.Sources) == 0 {
		state.Sources = sources
	}

	system, err := prompts.RenderSynthesisSystem(ctx, prompts.SynthesisVars{
		Summary:        state.History,
		RecentTurns:    conversations.PriorTurns(state.Messages, s.contextTurns),
		Context:        grounding,
		SummaryWordCap: s.wordCap,
	})
	if err != nil {
		return Synthesis{}, err
	}

	out, err := llm.StructuredWithRepair[Synthesis](ctx, s.client, []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(state.Query()),
	}, prompts.SynthesisRepair())
	if err != nil {
		return Synthesis{}, err
	}

	out.Answer = EnsureSourceList(strings.TrimSpace(out.Answer), state.Sources)
	out.UpdatedSummary = MergeSummary(state.History, out.UpdatedSummary)
	if n := wordCount(out.UpdatedSummary); s.wordCap > 0 && n > s.wordCap {
		logx.Warn().
			Int("words", n).
			Int("word_cap", s.wordCap).
			Msg("Updated summary exceeds soft cap")
	}
	out.ThreadPreview = ClipPreview(out.ThreadPreview)
	return out, nil
}

// synthesisContext renders the numbered context for the answer and the
// source list it may cite.
func synthesisContext(state *model.ConversationState) (string, []model.Source) {
	switch state.QueryClass {
	case model.ClassRecordLookup:
		return state.LookupContext, state.Sources
	case model.ClassTabularInsight:
		if state.FinalAnswer != "" {
			return state.FinalAnswer, nil
		}
		return state.Output, nil
	}

	var b strings.Builder
	sources := make([]model.Source, 0, len(state.RankedChunks))
	for i, c := range state.RankedChunks {
		n := i + 1
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", n, c.Source, strings.TrimSpace(c.Snippet))
		sources = append(sources, model.Source{Index: n, Label: c.Source, Ref: c.ID})
	}
	return strings.TrimSpace(b.String()), sources
}
