package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/promptgate/promptgate/pkg/models"
	"github.com/promptgate/promptgate/pkg/persistence"
)

const (
	DefaultStaleAfter = 15 * time.Minute

	janitorSchedule = "@every 1m"
)

// Janitor sweeps tasks stuck in PENDING past the stale window. They are
// tasks whose poll loop died with its process; no poller will ever settle
// them, so the janitor fails them to keep the single-terminal-state promise.
type Janitor struct {
	tasks      persistence.TaskRepository
	cron       *cron.Cron
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewJanitor(store persistence.Persistence, staleAfter time.Duration, logger *slog.Logger) *Janitor {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	return &Janitor{
		tasks:      store.TaskRepository(),
		cron:       cron.New(),
		staleAfter: staleAfter,
		logger:     logger.With("module", "janitor"),
		now:        time.Now,
	}
}

func (j *Janitor) Start(ctx context.Context) error {
	_, err := j.cron.AddFunc(janitorSchedule, func() {
		j.Sweep(ctx)
	})
	if err != nil {
		return err
	}

	j.cron.Start()
	j.logger.InfoContext(ctx, "Janitor started", "stale_after", j.staleAfter)

	return nil
}

func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep fails every stale pending task. Exported so a sweep can be forced.
func (j *Janitor) Sweep(ctx context.Context) {
	cutoff := j.now().Add(-j.staleAfter)

	stale, err := j.tasks.ListStalePending(ctx, cutoff)
	if err != nil {
		j.logger.ErrorContext(ctx, "Failed to list stale tasks", "error", err)

		return
	}

	for _, task := range stale {
		task.Status = models.TaskFailed
		task.Result = "abandoned: no poller settled this task"
		task.DurationMs = j.now().Sub(task.CreatedAt).Milliseconds()
		task.UpdatedAt = j.now()

		if err := j.tasks.Update(ctx, task); err != nil {
			j.logger.ErrorContext(ctx, "Failed to fail stale task", "task_id", task.ID, "error", err)

			continue
		}

		j.logger.WarnContext(ctx, "Failed stale pending task",
			"task_id", task.ID, "created_at", task.CreatedAt)
	}
}
