// Package model holds the domain types shared across the service:
// users, jobs, batches, and their lifecycle statuses.
package model

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a job. These values
// must match the text values stored in the database (jobs.status).
//
// Centralizing these here avoids scattering string literals like
// "pending" or "canceled" across packages.
type JobStatus string

const (
	StatusPending  JobStatus = "pending"
	StatusRunning  JobStatus = "running"
	StatusSuccess  JobStatus = "success"
	StatusFailed   JobStatus = "failed"
	StatusCanceled JobStatus = "canceled"
)

// IsTerminal reports whether no further transitions are expected
// out of s under normal operation.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// IsCancelable reports whether a job in status s may still be
// canceled. Pending and running jobs count against a user's quota.
func (s JobStatus) IsCancelable() bool {
	return s == StatusPending || s == StatusRunning
}

// ValidStatus reports whether s is one of the known job statuses.
func ValidStatus(s JobStatus) bool {
	switch s {
	case StatusPending, StatusRunning, StatusSuccess, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// UserRole controls what API surface a user may reach.
type UserRole string

const (
	RoleAdmin    UserRole = "admin"
	RoleOperator UserRole = "operator"
	RoleViewer   UserRole = "viewer"
)

// ValidRole reports whether r is one of the known user roles.
func ValidRole(r UserRole) bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleViewer:
		return true
	}
	return false
}

// User is an account that owns jobs and batches. Users are never
// deleted, only deactivated.
type User struct {
	ID                uuid.UUID
	Email             string
	HashedPassword    string
	IsActive          bool
	Role              UserRole
	MaxConcurrentJobs *int
	CreatedAt         time.Time
}

// JobResult is the structured outcome of a job execution, stored as
// JSON on the job row. ReturnCode is nil when the command never ran
// (missing working directory, timeout before exit, and so on).
type JobResult struct {
	ReturnCode *int     `json:"return_code"`
	Stdout     string   `json:"stdout"`
	Stderr     string   `json:"stderr"`
	Command    []string `json:"command"`
	WorkingDir string   `json:"working_dir"`
}

// Job is a single unit of work wrapping a command to execute.
type Job struct {
	ID          uuid.UUID
	Name        string
	Payload     map[string]any
	Command     []string
	WorkingDir  string
	Env         map[string]string
	Status      JobStatus
	Queue       string
	Priority    int
	OwnerID     uuid.UUID
	BatchID     *uuid.UUID
	CreatedAt   time.Time
	ScheduledAt *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
	Result      *JobResult
	Error       *string
}

// Batch is a named group of jobs submitted together. The five
// status counters always sum to TotalJobs outside of a transition
// transaction.
type Batch struct {
	ID            uuid.UUID
	Name          string
	Description   *string
	Payload       map[string]any
	OwnerID       uuid.UUID
	TotalJobs     int
	PendingCount  int
	RunningCount  int
	SuccessCount  int
	FailedCount   int
	CanceledCount int
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	UpdatedAt     time.Time
}
