package repo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfi-assistant/server/internal/agent/model"
	redisx "github.com/rfi-assistant/server/pkg/redis"
)

func sampleThread(id string) *model.Thread {
	return &model.Thread{
		ID: id,
		Messages: []*schema.Message{
			schema.UserMessage("What is the status of RFI 0016?"),
			schema.AssistantMessage("RFI 0016 is closed [1].", nil),
		},
		Summary:          "RFI 0016 is closed.",
		Preview:          "RFI 0016 status",
		PreviousRewrites: []string{"What is the status of RFI 0016?"},
		UpdatedAt:        time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC),
	}
}

func exercise(t *testing.T, r model.ThreadRepository) {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()

	empty, err := r.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, empty.ID)
	assert.Empty(t, empty.Messages)
	assert.Empty(t, empty.Summary)

	want := sampleThread(id)
	require.NoError(t, r.Save(ctx, want))

	got, err := r.Load(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, schema.User, got.Messages[0].Role)
	assert.Equal(t, "RFI 0016 is closed [1].", got.Messages[1].Content)
	assert.Equal(t, want.Summary, got.Summary)
	assert.Equal(t, want.Preview, got.Preview)
	assert.Equal(t, want.PreviousRewrites, got.PreviousRewrites)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))

	want.Messages = want.Messages[:1]
	want.Summary = "replaced"
	require.NoError(t, r.Save(ctx, want))
	got, err = r.Load(ctx, id)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 1)
	assert.Equal(t, "replaced", got.Summary)

	require.NoError(t, r.Delete(ctx, id))
	got, err = r.Load(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, got.Messages)
	assert.Empty(t, got.Summary)
}

func TestMemoryThreadRepository(t *testing.T) {
	exercise(t, NewMemoryThreadRepository())
}

func TestMemoryThreadRepositoryCopies(t *testing.T) {
	r := NewMemoryThreadRepository()
	th := sampleThread("t1")
	require.NoError(t, r.Save(context.Background(), th))

	th.Messages[0].Content = "mutated"
	th.PreviousRewrites[0] = "mutated"

	got, err := r.Load(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "What is the status of RFI 0016?", got.Messages[0].Content)
	assert.Equal(t, "What is the status of RFI 0016?", got.PreviousRewrites[0])
}

func TestRedisThreadRepository(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	cfg := redisx.Config{URL: url, ReadTimeout: 3, WriteTimeout: 3, DialTimeout: 5}
	rdb, err := cfg.New(context.Background())
	require.NoError(t, err)
	defer rdb.Close()

	exercise(t, NewRedisThreadRepository(rdb, time.Minute))
}
