package repo

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/rfi-assistant/server/internal/agent/model"
)

// MemoryThreadRepository keeps threads in process. It backs the CLI when no
// Redis URL is configured, and tests.
type MemoryThreadRepository struct {
	mu      sync.RWMutex
	threads map[string]*model.Thread
}

func NewMemoryThreadRepository() *MemoryThreadRepository {
	return &MemoryThreadRepository{threads: make(map[string]*model.Thread)}
}

func (r *MemoryThreadRepository) Load(_ context.Context, threadID string) (*model.Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.threads[threadID]; ok {
		return cloneThread(t), nil
	}
	return &model.Thread{ID: threadID, Messages: []*schema.Message{}}, nil
}

func (r *MemoryThreadRepository) Save(_ context.Context, thread *model.Thread) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads[thread.ID] = cloneThread(thread)
	return nil
}

func (r *MemoryThreadRepository) Delete(_ context.Context, threadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.threads, threadID)
	return nil
}

func cloneThread(t *model.Thread) *model.Thread {
	c := *t
	c.Messages = make([]*schema.Message, 0, len(t.Messages))
	for _, m := range t.Messages {
		if m == nil {
			continue
		}
		mc := *m
		c.Messages = append(c.Messages, &mc)
	}
	c.PreviousRewrites = append([]string(nil), t.PreviousRewrites...)
	return &c
}

var _ model.ThreadRepository = (*MemoryThreadRepository)(nil)
