package workers

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/authd-dev/authd/internal/session"
	"github.com/authd-dev/authd/internal/tasks"
)

// Enqueuer is the subset of *asynq.Client used to schedule tasks
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// HandleSessionCleanup removes expired sessions
func HandleSessionCleanup(ctx context.Context, _ *asynq.Task, db *gorm.DB, logger zerolog.Logger) error {
	deleted, err := session.DeleteExpired(ctx, db)
	if err != nil {
		logger.Error().Err(err).Msg("Session cleanup failed")
		return err
	}

	logger.Info().Int64("deleted", deleted).Msg("Expired sessions removed")
	return nil
}

// StartCleanupScheduler enqueues a session cleanup task on the given cron
// schedule. Stop the returned scheduler on shutdown.
func StartCleanupScheduler(client Enqueuer, schedule string, logger zerolog.Logger) (*cron.Cron, error) {
	scheduler := cron.New()

	_, err := scheduler.AddFunc(schedule, func() {
		enqueueSessionCleanup(client, logger)
	})
	if err != nil {
		return nil, err
	}

	scheduler.Start()
	logger.Info().Str("schedule", schedule).Msg("Session cleanup scheduler started")

	// Run immediately on startup, then on schedule
	enqueueSessionCleanup(client, logger)

	return scheduler, nil
}

func enqueueSessionCleanup(client Enqueuer, logger zerolog.Logger) {
	info, err := client.Enqueue(tasks.NewSessionCleanupTask())
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			logger.Debug().Msg("Session cleanup already queued")
			return
		}
		logger.Error().Err(err).Msg("Failed to enqueue session cleanup")
		return
	}

	logger.Debug().Str("task_id", info.ID).Msg("Session cleanup enqueued")
}
