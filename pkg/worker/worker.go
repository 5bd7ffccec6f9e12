// Package worker consumes task dispatch events and drives each pending task
// to its terminal state by polling the owning node.
package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/promptgate/promptgate/pkg/dispatch"
	"github.com/promptgate/promptgate/pkg/eventbus"
	"github.com/promptgate/promptgate/pkg/events"
	"github.com/promptgate/promptgate/pkg/persistence"
)

const DefaultConcurrency = 16

// Worker subscribes to dispatch events and polls each task on a bounded
// pool. The bound caps concurrent history polling per process; beyond it,
// event handling blocks, which pushes back on the bus.
type Worker struct {
	id     string
	tasks  persistence.TaskRepository
	bus    eventbus.EventBus
	poller *dispatch.Poller
	logger *slog.Logger

	slots chan struct{}
	wg    sync.WaitGroup
}

func New(
	id string,
	store persistence.Persistence,
	bus eventbus.EventBus,
	poller *dispatch.Poller,
	concurrency int,
	logger *slog.Logger,
) *Worker {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return &Worker{
		id:     id,
		tasks:  store.TaskRepository(),
		bus:    bus,
		poller: poller,
		logger: logger.With("module", "worker", "worker_id", id),
		slots:  make(chan struct{}, concurrency),
	}
}

// Start registers the event handler and begins consuming. It returns once
// the subscription is established; polling runs in the background until the
// context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	err := w.bus.Handle(events.TaskDispatchedEvent, w.handleTaskDispatched)
	if err != nil {
		return err
	}

	err = w.bus.Subscribe(ctx)
	if err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started")

	return nil
}

// Drain waits for in-flight polls to finish.
func (w *Worker) Drain() {
	w.wg.Wait()
}

func (w *Worker) handleTaskDispatched(ctx context.Context, event any) error {
	dispatched, ok := event.(*events.TaskDispatched)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for TaskDispatched")

		return nil
	}

	task, err := w.tasks.GetByID(ctx, dispatched.TenantID, dispatched.TaskID)
	if err != nil {
		if persistence.IsTaskNotFound(err) {
			w.logger.WarnContext(ctx, "Dispatched task no longer exists", "task_id", dispatched.TaskID)

			return nil
		}

		return err
	}

	// Redelivered events for settled tasks are acked, not re-polled.
	if task.Terminal() {
		return nil
	}

	w.slots <- struct{}{}
	w.wg.Add(1)

	go func() {
		defer func() {
			<-w.slots
			w.wg.Done()
		}()

		output, err := w.poller.Await(ctx, task)
		if err != nil {
			failed := events.TaskFailed{
				BaseEvent:  events.NewBaseEvent(events.TaskFailedEvent, task.ID),
				Error:      err.Error(),
				StatusCode: task.StatusCode,
				DurationMs: task.DurationMs,
			}
			failed.WorkerID = w.id

			if publishErr := w.bus.Publish(ctx, task.ID, failed); publishErr != nil {
				w.logger.ErrorContext(ctx, "Failed to publish task failed event",
					"task_id", task.ID, "error", publishErr)
			}

			return
		}

		finished := events.TaskFinished{
			BaseEvent:  events.NewBaseEvent(events.TaskFinishedEvent, task.ID),
			Result:     output,
			DurationMs: task.DurationMs,
		}
		finished.WorkerID = w.id

		if publishErr := w.bus.Publish(ctx, task.ID, finished); publishErr != nil {
			w.logger.ErrorContext(ctx, "Failed to publish task finished event",
				"task_id", task.ID, "error", publishErr)
		}
	}()

	return nil
}
