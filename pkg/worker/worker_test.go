package worker

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptgate/promptgate/pkg/channels/gochannel"
	"github.com/promptgate/promptgate/pkg/comfy"
	"github.com/promptgate/promptgate/pkg/dispatch"
	"github.com/promptgate/promptgate/pkg/eventbus"
	"github.com/promptgate/promptgate/pkg/events"
	"github.com/promptgate/promptgate/pkg/models"
	"github.com/promptgate/promptgate/pkg/parameterize"
	"github.com/promptgate/promptgate/pkg/persistence"
	"github.com/promptgate/promptgate/pkg/persistence/file"
)

type scriptedGateway struct {
	history map[string]any
}

func (g *scriptedGateway) SubmitPrompt(context.Context, string, comfy.PromptRequest) (comfy.SubmitResult, error) {
	return comfy.SubmitResult{StatusCode: 200}, nil
}

func (g *scriptedGateway) History(context.Context, string, string) (map[string]any, error) {
	if g.history == nil {
		return map[string]any{}, nil
	}

	return g.history, nil
}

type nodeStub struct{}

func (nodeStub) UploadImage(context.Context, string, string) (string, error) {
	return "staged.png", nil
}

func (nodeStub) View(context.Context, string, string, string) ([]byte, error) {
	return []byte("png"), nil
}

type artifactStub struct{}

func (artifactStub) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	return "file:///artifacts/" + key, nil
}

func seedPending(t *testing.T, store persistence.Persistence, id string, createdAt time.Time) *models.Task {
	t.Helper()

	task := &models.Task{
		ID:            id,
		WorkflowID:    "wf-1",
		TenantID:      7,
		OutputParams:  []models.OutputParam{{Name: "text", Type: "str"}},
		OutputMapping: map[string]string{"text": "$..text"},
		Node:          "http://node-a:8188",
		PromptID:      "p-" + id,
		Status:        models.TaskPending,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
	require.NoError(t, store.TaskRepository().Create(context.Background(), task))

	return task
}

func TestWorkerSettlesDispatchedTask(t *testing.T) {
	store := file.NewPersistence(t.TempDir())

	gateway := &scriptedGateway{
		history: map[string]any{
			"p-task-1": map[string]any{"outputs": map[string]any{"9": map[string]any{"text": "done"}}},
		},
	}

	logger := slog.Default()
	engine := parameterize.NewEngine(nodeStub{}, artifactStub{}, logger)
	poller := dispatch.NewPoller(dispatch.PollerConfig{
		Persistence: store,
		Nodes:       gateway,
		Engine:      engine,
		Logger:      logger,
		Attempts:    3,
		Interval:    time.Millisecond,
	})

	pub, sub, err := gochannel.CreateTestChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	task := seedPending(t, store, "task-1", time.Now())

	w := New("worker-test", store, bus, poller, 4, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, w.Start(ctx))

	require.NoError(t, bus.Publish(ctx, task.ID, events.TaskDispatched{
		BaseEvent:  events.NewBaseEvent(events.TaskDispatchedEvent, task.ID),
		WorkflowID: task.WorkflowID,
		TenantID:   task.TenantID,
		Node:       task.Node,
		PromptID:   task.PromptID,
	}))

	require.Eventually(t, func() bool {
		stored, err := store.TaskRepository().GetByID(ctx, 7, task.ID)

		return err == nil && stored.Status == models.TaskFinished
	}, 5*time.Second, 10*time.Millisecond)

	w.Drain()
}

func TestWorkerIgnoresSettledTask(t *testing.T) {
	store := file.NewPersistence(t.TempDir())

	logger := slog.Default()
	engine := parameterize.NewEngine(nodeStub{}, artifactStub{}, logger)
	poller := dispatch.NewPoller(dispatch.PollerConfig{
		Persistence: store,
		Nodes:       &scriptedGateway{},
		Engine:      engine,
		Logger:      logger,
		Attempts:    2,
		Interval:    time.Millisecond,
	})

	pub, sub, err := gochannel.CreateTestChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	task := seedPending(t, store, "task-done", time.Now())
	task.Status = models.TaskFinished
	task.Result = "success"
	require.NoError(t, store.TaskRepository().Update(context.Background(), task))

	w := New("worker-test", store, bus, poller, 4, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, w.Start(ctx))

	require.NoError(t, bus.Publish(ctx, task.ID, events.TaskDispatched{
		BaseEvent: events.NewBaseEvent(events.TaskDispatchedEvent, task.ID),
		TenantID:  task.TenantID,
	}))

	// Give the handler a moment, then confirm nothing was overwritten.
	time.Sleep(50 * time.Millisecond)
	w.Drain()

	stored, err := store.TaskRepository().GetByID(ctx, 7, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "success", stored.Result)
}

func TestJanitorFailsStalePending(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	logger := slog.Default()

	stale := seedPending(t, store, "task-stale", time.Now().Add(-time.Hour))
	fresh := seedPending(t, store, "task-fresh", time.Now())

	janitor := NewJanitor(store, 15*time.Minute, logger)
	janitor.Sweep(context.Background())

	storedStale, err := store.TaskRepository().GetByID(context.Background(), 7, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, storedStale.Status)
	assert.Contains(t, storedStale.Result, "abandoned")

	storedFresh, err := store.TaskRepository().GetByID(context.Background(), 7, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, storedFresh.Status)
}
