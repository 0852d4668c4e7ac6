package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/authd-dev/authd/internal/models"
	"github.com/authd-dev/authd/internal/tasks"
)

// HandleLoginRecorded updates the user's login statistics and writes an
// audit event.
func HandleLoginRecorded(ctx context.Context, t *asynq.Task, db *gorm.DB, logger zerolog.Logger) error {
	payload, err := tasks.ParseLoginRecordedPayload(t)
	if err != nil {
		// Malformed payloads will never succeed
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log := logger.With().
		Str("user_id", payload.UserID).
		Str("provider", payload.Provider).
		Logger()

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.User{}).
			Where("id = ?", payload.UserID).
			Updates(map[string]interface{}{
				"last_login_at": payload.At,
				"login_count":   gorm.Expr("login_count + ?", 1),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		return tx.Create(&models.LoginEvent{
			UserID:    payload.UserID,
			Provider:  payload.Provider,
			ClientIP:  payload.ClientIP,
			UserAgent: payload.UserAgent,
		}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn().Msg("User no longer exists - dropping login record")
			return nil
		}
		log.Error().Err(err).Msg("Failed to record login")
		return err
	}

	log.Debug().Time("at", payload.At).Msg("Login recorded")
	return nil
}
