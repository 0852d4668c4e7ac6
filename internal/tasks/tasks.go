package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Task type constants
const (
	TypeLoginRecorded  = "auth:login_recorded"
	TypeSessionCleanup = "session:cleanup"
)

// LoginRecordedPayload describes a successful login
type LoginRecordedPayload struct {
	UserID    string    `json:"user_id"`
	Provider  string    `json:"provider"`
	ClientIP  string    `json:"client_ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	At        time.Time `json:"at"`
}

// NewLoginRecordedTask creates a task that records a login for auditing
func NewLoginRecordedTask(payload LoginRecordedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeLoginRecorded, data, asynq.MaxRetry(5)), nil
}

// ParseLoginRecordedPayload parses task payload from Asynq task
func ParseLoginRecordedPayload(task *asynq.Task) (LoginRecordedPayload, error) {
	var payload LoginRecordedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if payload.UserID == "" {
		return payload, fmt.Errorf("login payload is missing user_id")
	}
	return payload, nil
}

// NewSessionCleanupTask creates a task that removes expired sessions.
// Only one cleanup may be queued at a time.
func NewSessionCleanupTask() *asynq.Task {
	return asynq.NewTask(TypeSessionCleanup, nil, asynq.Unique(10*time.Minute), asynq.Queue("low"))
}
