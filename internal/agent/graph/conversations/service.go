package conversations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/rfi-assistant/server/internal/agent/model"
	logx "github.com/rfi-assistant/server/pkg/logger"
)

// Resolver runs one turn through the router.
type Resolver interface {
	Resolve(ctx context.Context, tc model.ThreadContext, newTurn string) (*model.Result, error)
}

// Service loads a thread, resolves a turn against it and persists the
// outcome.
type Service struct {
	repo     model.ThreadRepository
	resolver Resolver
	maxTurns int
	now      func() time.Time
}

func NewService(repo model.ThreadRepository, resolver Resolver, cfg model.ConversationConfig) *Service {
	return &Service{repo: repo, resolver: resolver, maxTurns: cfg.MaxTurns, now: time.Now}
}

// Ask answers message in thread threadID. The result is returned even when
// persisting it fails.
func (s *Service) Ask(ctx context.Context, threadID, message string) (*model.Result, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, fmt.Errorf("thread id is required")
	}

	thread, err := s.repo.Load(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}

	tc := thread.Context()
	tc.Messages = RecentTurns(thread.Messages, s.maxTurns)

	res, err := s.resolver.Resolve(ctx, tc, message)
	if err != nil {
		return nil, err
	}

	thread.Messages = append(thread.Messages,
		schema.UserMessage(message),
		schema.AssistantMessage(res.FinalAnswer, nil),
	)
	thread.Messages = RecentTurns(thread.Messages, s.maxTurns)
	thread.Summary = res.UpdatedSummary
	switch {
	case res.ThreadPreview != "":
		thread.Preview = res.ThreadPreview
	case thread.Preview == "":
		thread.Preview = model.NewChatPreview
	}
	thread.PreviousRewrites = res.PreviousRewrites
	thread.UpdatedAt = s.now()

	if err := s.repo.Save(ctx, thread); err != nil {
		logx.Error().Err(err).Str("thread_id", threadID).Msg("Error saving thread")
		return res, fmt.Errorf("save thread: %w", err)
	}

	logx.Debug().
		Str("thread_id", threadID).
		Int("messages", len(thread.Messages)).
		Str("preview", thread.Preview).
		Msg("Thread saved")
	return res, nil
}
