package model

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"
)

// Thread is the persisted view of one conversation.
type Thread struct {
	ID               string            `json:"id"`
	Messages         []*schema.Message `json:"messages"`
	Summary          string            `json:"summary"`
	Preview          string            `json:"preview"`
	PreviousRewrites []string          `json:"previous_rewrites"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Context converts a stored thread into the input expected by the router.
func (t *Thread) Context() ThreadContext {
	return ThreadContext{
		ThreadID:         t.ID,
		Messages:         t.Messages,
		Summary:          t.Summary,
		PreviousRewrites: t.PreviousRewrites,
	}
}

type ThreadRepository interface {
	// Load returns the thread, or an empty thread with the given ID when none is stored.
	Load(ctx context.Context, threadID string) (*Thread, error)

	// Save replaces the stored thread and refreshes its expiry.
	Save(ctx context.Context, thread *Thread) error

	// Delete removes the thread.
	Delete(ctx context.Context, threadID string) error
}
