package http

import (
	"time"

	"github.com/google/uuid"

	"jobrunner/internal/model"
)

// ErrorResponse is the error envelope shared by every endpoint.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error"`
}

// JobItem is the wire representation of a job.
type JobItem struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Payload     map[string]any    `json:"payload,omitempty"`
	Command     []string          `json:"command"`
	WorkingDir  string            `json:"working_dir,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Status      string            `json:"status"`
	Queue       string            `json:"queue"`
	Priority    int               `json:"priority"`
	OwnerID     string            `json:"owner_id"`
	BatchID     *string           `json:"batch_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Result      *model.JobResult  `json:"result,omitempty"`
	Error       *string           `json:"error,omitempty"`
}

// BatchItem is the wire representation of a batch with its counters.
type BatchItem struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   *string        `json:"description,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	OwnerID       string         `json:"owner_id"`
	TotalJobs     int            `json:"total_jobs"`
	PendingCount  int            `json:"pending_count"`
	RunningCount  int            `json:"running_count"`
	SuccessCount  int            `json:"success_count"`
	FailedCount   int            `json:"failed_count"`
	CanceledCount int            `json:"canceled_count"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// UserItem is the wire representation of a user. Password hashes
// never leave the server.
type UserItem struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	IsActive          bool      `json:"is_active"`
	Role              string    `json:"role"`
	MaxConcurrentJobs *int      `json:"max_concurrent_jobs,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func jobToItem(j *model.Job) JobItem {
	item := JobItem{
		ID:          j.ID.String(),
		Name:        j.Name,
		Payload:     j.Payload,
		Command:     j.Command,
		WorkingDir:  j.WorkingDir,
		Env:         j.Env,
		Status:      string(j.Status),
		Queue:       j.Queue,
		Priority:    j.Priority,
		OwnerID:     j.OwnerID.String(),
		CreatedAt:   j.CreatedAt,
		ScheduledAt: j.ScheduledAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		UpdatedAt:   j.UpdatedAt,
		Result:      j.Result,
		Error:       j.Error,
	}
	if j.BatchID != nil {
		s := j.BatchID.String()
		item.BatchID = &s
	}
	return item
}

func batchToItem(b *model.Batch) BatchItem {
	return BatchItem{
		ID:            b.ID.String(),
		Name:          b.Name,
		Description:   b.Description,
		Payload:       b.Payload,
		OwnerID:       b.OwnerID.String(),
		TotalJobs:     b.TotalJobs,
		PendingCount:  b.PendingCount,
		RunningCount:  b.RunningCount,
		SuccessCount:  b.SuccessCount,
		FailedCount:   b.FailedCount,
		CanceledCount: b.CanceledCount,
		CreatedAt:     b.CreatedAt,
		StartedAt:     b.StartedAt,
		CompletedAt:   b.CompletedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func userToItem(u *model.User) UserItem {
	return UserItem{
		ID:                u.ID.String(),
		Email:             u.Email,
		IsActive:          u.IsActive,
		Role:              string(u.Role),
		MaxConcurrentJobs: u.MaxConcurrentJobs,
		CreatedAt:         u.CreatedAt,
	}
}

func parseIDParam(raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	return id, err == nil
}
