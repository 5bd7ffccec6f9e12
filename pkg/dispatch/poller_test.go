package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptgate/promptgate/pkg/models"
	"github.com/promptgate/promptgate/pkg/parameterize"
	"github.com/promptgate/promptgate/pkg/persistence"
	"github.com/promptgate/promptgate/pkg/persistence/file"
)

func newPollerFixture(t *testing.T, gateway *fakeGateway, attempts int) (*Poller, persistence.Persistence) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	engine := parameterize.NewEngine(nodeStub{}, artifactStub{}, slog.Default())

	poller := NewPoller(PollerConfig{
		Persistence: store,
		Nodes:       gateway,
		Engine:      engine,
		Logger:      slog.Default(),
		Attempts:    attempts,
		Interval:    time.Millisecond,
	})

	return poller, store
}

func pendingTask(t *testing.T, store persistence.Persistence) *models.Task {
	t.Helper()

	task := &models.Task{
		ID:         "task-poll",
		WorkflowID: "wf-text",
		TenantID:   7,
		OutputParams: []models.OutputParam{
			{Name: "text", Type: "str"},
		},
		OutputMapping: map[string]string{"text": "$..text"},
		Node:          "http://node-a:8188",
		PromptID:      "p-1",
		Status:        models.TaskPending,
		CreatedAt:     time.Now().Add(-time.Second),
		UpdatedAt:     time.Now().Add(-time.Second),
	}
	require.NoError(t, store.TaskRepository().Create(context.Background(), task))

	return task
}

func TestAwaitFinishesAfterRetries(t *testing.T) {
	gateway := &fakeGateway{
		histories: []map[string]any{{}, {}, {}, completedHistory("p-1")},
	}

	poller, store := newPollerFixture(t, gateway, 10)
	task := pendingTask(t, store)

	output, err := poller.Await(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, "done", output["text"])
	assert.Equal(t, 4, gateway.polls)

	stored, err := store.TaskRepository().GetByID(context.Background(), 7, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFinished, stored.Status)
	assert.Equal(t, "success", stored.Result)
	assert.Positive(t, stored.DurationMs)
	assert.Contains(t, stored.Response, "done")
}

func TestAwaitExhaustionFailsTask(t *testing.T) {
	gateway := &fakeGateway{}

	poller, store := newPollerFixture(t, gateway, 3)
	task := pendingTask(t, store)

	_, err := poller.Await(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResultWait)
	assert.Equal(t, CodeResultWait, CodeOf(err))

	stored, err := store.TaskRepository().GetByID(context.Background(), 7, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, stored.Status)
	assert.Equal(t, "generation timed out", stored.Result)
}

func TestAwaitHistoryFailureIsTerminal(t *testing.T) {
	gateway := &fakeGateway{historyErr: errors.New("connection refused")}

	poller, store := newPollerFixture(t, gateway, 10)
	task := pendingTask(t, store)

	_, err := poller.Await(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvokeFailed)
	assert.Equal(t, CodeInvokeFailed, CodeOf(err))

	stored, err := store.TaskRepository().GetByID(context.Background(), 7, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, stored.Status)
	assert.Contains(t, stored.Result, "generation failed")
}

func TestAwaitExtractionFailureFailsTask(t *testing.T) {
	gateway := &fakeGateway{
		histories: []map[string]any{{
			"p-1": map[string]any{
				"outputs": map[string]any{"9": map[string]any{"text": "done"}},
			},
		}},
	}

	poller, store := newPollerFixture(t, gateway, 10)

	task := pendingTask(t, store)
	task.OutputParams = []models.OutputParam{{Name: "count", Type: "int"}}
	task.OutputMapping = map[string]string{"count": "$..text"}

	_, err := poller.Await(context.Background(), task)
	require.Error(t, err)

	stored, err := store.TaskRepository().GetByID(context.Background(), 7, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, stored.Status)
}

func TestAwaitPicksOwnPromptEntry(t *testing.T) {
	gateway := &fakeGateway{
		histories: []map[string]any{{
			"p-other": map[string]any{
				"outputs": map[string]any{"9": map[string]any{"text": "wrong"}},
			},
			"p-1": map[string]any{
				"outputs": map[string]any{"9": map[string]any{"text": "mine"}},
			},
		}},
	}

	poller, store := newPollerFixture(t, gateway, 3)
	task := pendingTask(t, store)

	output, err := poller.Await(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, "mine", output["text"])
}
