package http

import (
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"jobrunner/internal/config"
	"jobrunner/internal/lifecycle"
	"jobrunner/internal/model"
	"jobrunner/internal/store"
)

type JobSubmitRequest struct {
	Name        string            `json:"name"`
	Payload     map[string]any    `json:"payload,omitempty"`
	Queue       string            `json:"queue,omitempty"`
	Priority    *int              `json:"priority,omitempty"`
	Command     []string          `json:"command"`
	WorkingDir  string            `json:"working_dir,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
	BatchID     *uuid.UUID        `json:"batch_id,omitempty"`
}

// toJobSpec maps a submit request onto the lifecycle spec. Batch
// submission overrides BatchID with the new batch's id.
func toJobSpec(req JobSubmitRequest) lifecycle.JobSpec {
	return lifecycle.JobSpec{
		Name:        req.Name,
		Payload:     req.Payload,
		Queue:       req.Queue,
		Priority:    req.Priority,
		Command:     req.Command,
		WorkingDir:  req.WorkingDir,
		Env:         req.Env,
		ScheduledAt: req.ScheduledAt,
		BatchID:     req.BatchID,
	}
}

type JobResponse struct {
	Success bool     `json:"success"`
	Code    string   `json:"code,omitempty"`
	Error   string   `json:"error,omitempty"`
	Job     *JobItem `json:"job,omitempty"`
}

type ListJobsResponse struct {
	Success bool      `json:"success"`
	Code    string    `json:"code,omitempty"`
	Error   string    `json:"error,omitempty"`
	Jobs    []JobItem `json:"jobs"`
	Total   int       `json:"total"`
}

type JobStatsResponse struct {
	Success bool           `json:"success"`
	Code    string         `json:"code,omitempty"`
	Error   string         `json:"error,omitempty"`
	Counts  map[string]int `json:"counts,omitempty"`
	Total   int            `json:"total"`
}

type JobLogsResponse struct {
	Success    bool   `json:"success"`
	Code       string `json:"code,omitempty"`
	Error      string `json:"error,omitempty"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	ReturnCode *int   `json:"return_code,omitempty"`
}

type JobActionResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
	Status  string `json:"status,omitempty"`
}

// jobSubmitHandler admits a job and dispatches it to the worker
// queue. Returns 202 with the persisted job on success.
func jobSubmitHandler(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	engine := c.Locals("engine").(*lifecycle.Engine)

	user, ok := currentUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(JobResponse{
			Success: false,
			Code:    "UNAUTHENTICATED",
			Error:   "User context is not available for this request",
		})
	}

	var req JobSubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(JobResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid request body",
		})
	}

	if req.Queue != "" && !knownQueue(cfg, req.Queue) {
		return c.Status(fiber.StatusBadRequest).JSON(JobResponse{
			Success: false,
			Code:    "VALIDATION_FAILED",
			Error:   "unknown queue: " + req.Queue,
		})
	}

	job, err := engine.Enqueue(c.Context(), user, toJobSpec(req))
	if err != nil {
		return failFromError(c, err)
	}

	item := jobToItem(job)
	return c.Status(fiber.StatusAccepted).JSON(JobResponse{
		Success: true,
		Job:     &item,
	})
}

// jobsListHandler lists jobs visible to the current user. Non-admin
// users only see their own. Admins may filter by owner_id.
func jobsListHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	user, ok := currentUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(ListJobsResponse{
			Success: false,
			Code:    "UNAUTHENTICATED",
			Error:   "User context is not available for this request",
		})
	}

	filter := store.JobFilter{Limit: 50}
	if user.Role != model.RoleAdmin {
		id := user.ID
		filter.OwnerID = &id
	} else if v := c.Query("owner_id"); v != "" {
		id, ok := parseIDParam(v)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(ListJobsResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid owner_id value",
			})
		}
		filter.OwnerID = &id
	}

	if v := c.Query("status"); v != "" {
		status := model.JobStatus(v)
		if !model.ValidStatus(status) {
			return c.Status(fiber.StatusBadRequest).JSON(ListJobsResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid status value",
			})
		}
		filter.Status = &status
	}
	if v := c.Query("batch_id"); v != "" {
		id, ok := parseIDParam(v)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(ListJobsResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid batch_id value",
			})
		}
		filter.BatchID = &id
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ListJobsResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid limit value",
			})
		}
		if n > 500 {
			n = 500
		}
		filter.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ListJobsResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid offset value",
			})
		}
		filter.Offset = n
	}

	jobs, err := st.ListJobs(c.Context(), st.DB, filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ListJobsResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}
	total, err := st.CountJobs(c.Context(), st.DB, filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ListJobsResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}

	items := make([]JobItem, 0, len(jobs))
	for i := range jobs {
		items = append(items, jobToItem(&jobs[i]))
	}
	return c.JSON(ListJobsResponse{
		Success: true,
		Jobs:    items,
		Total:   total,
	})
}

// jobStatsHandler returns per-status job counts for the current user;
// admins see counts across all users.
func jobStatsHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	user, ok := currentUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(JobStatsResponse{
			Success: false,
			Code:    "UNAUTHENTICATED",
			Error:   "User context is not available for this request",
		})
	}

	var ownerID *uuid.UUID
	if user.Role != model.RoleAdmin {
		id := user.ID
		ownerID = &id
	}

	counts, err := st.CountJobsByStatus(c.Context(), st.DB, ownerID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(JobStatsResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}

	out := make(map[string]int, len(counts))
	total := 0
	for status, n := range counts {
		out[string(status)] = n
		total += n
	}
	return c.JSON(JobStatsResponse{
		Success: true,
		Counts:  out,
		Total:   total,
	})
}

// jobDetailHandler returns a single job. Jobs owned by other users
// are reported as not found.
func jobDetailHandler(c *fiber.Ctx) error {
	job, errResp := loadOwnedJob(c)
	if job == nil {
		return errResp
	}
	item := jobToItem(job)
	return c.JSON(JobResponse{
		Success: true,
		Job:     &item,
	})
}

// jobLogsHandler returns the captured stdout and stderr of a finished
// job. Jobs without a result yet answer 409.
func jobLogsHandler(c *fiber.Ctx) error {
	job, errResp := loadOwnedJob(c)
	if job == nil {
		return errResp
	}

	if job.Result == nil {
		return c.Status(fiber.StatusConflict).JSON(JobLogsResponse{
			Success: false,
			Code:    "CONFLICT",
			Error:   "job has not produced output yet",
		})
	}
	return c.JSON(JobLogsResponse{
		Success:    true,
		Stdout:     job.Result.Stdout,
		Stderr:     job.Result.Stderr,
		ReturnCode: job.Result.ReturnCode,
	})
}

// jobCancelHandler cancels a pending or running job.
func jobCancelHandler(c *fiber.Ctx) error {
	engine := c.Locals("engine").(*lifecycle.Engine)

	user, ok := currentUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(JobActionResponse{
			Success: false,
			Code:    "UNAUTHENTICATED",
			Error:   "User context is not available for this request",
		})
	}

	jobID, ok := parseIDParam(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(JobActionResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid job id",
		})
	}

	canceled, err := engine.Cancel(c.Context(), jobID, user)
	if err != nil {
		return failFromError(c, err)
	}
	if !canceled {
		return c.Status(fiber.StatusNotFound).JSON(JobActionResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   "job not found or not cancelable",
		})
	}
	return c.JSON(JobActionResponse{
		Success: true,
		Status:  string(model.StatusCanceled),
	})
}

type ForceCompleteRequest struct {
	Status string  `json:"status"`
	Stdout *string `json:"stdout,omitempty"`
	Stderr *string `json:"stderr,omitempty"`
}

// jobForceCompleteHandler overwrites a job's status with a terminal
// one, regardless of its current state.
func jobForceCompleteHandler(c *fiber.Ctx) error {
	engine := c.Locals("engine").(*lifecycle.Engine)

	user, ok := currentUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(JobResponse{
			Success: false,
			Code:    "UNAUTHENTICATED",
			Error:   "User context is not available for this request",
		})
	}

	jobID, ok := parseIDParam(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(JobResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid job id",
		})
	}

	var req ForceCompleteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(JobResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid request body",
		})
	}

	job, err := engine.ForceComplete(c.Context(), jobID, user, model.JobStatus(req.Status), req.Stdout, req.Stderr)
	if err != nil {
		return failFromError(c, err)
	}

	item := jobToItem(job)
	return c.JSON(JobResponse{
		Success: true,
		Job:     &item,
	})
}

// jobPurgeHandler deletes a terminal job row for good.
func jobPurgeHandler(c *fiber.Ctx) error {
	engine := c.Locals("engine").(*lifecycle.Engine)

	user, ok := currentUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(JobActionResponse{
			Success: false,
			Code:    "UNAUTHENTICATED",
			Error:   "User context is not available for this request",
		})
	}

	jobID, ok := parseIDParam(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(JobActionResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid job id",
		})
	}

	deleted, err := engine.DeleteJob(c.Context(), jobID, user)
	if err != nil {
		return failFromError(c, err)
	}
	if !deleted {
		return c.Status(fiber.StatusNotFound).JSON(JobActionResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   "job not found",
		})
	}
	return c.JSON(JobActionResponse{Success: true})
}

// loadOwnedJob resolves the :id param to a job visible to the current
// user. On failure it writes the error response itself and returns a
// nil job; callers must check the job, not the error.
func loadOwnedJob(c *fiber.Ctx) (*model.Job, error) {
	st := c.Locals("store").(*store.Store)

	user, ok := currentUser(c)
	if !ok {
		return nil, c.Status(fiber.StatusUnauthorized).JSON(JobResponse{
			Success: false,
			Code:    "UNAUTHENTICATED",
			Error:   "User context is not available for this request",
		})
	}

	jobID, ok := parseIDParam(c.Params("id"))
	if !ok {
		return nil, c.Status(fiber.StatusBadRequest).JSON(JobResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid job id",
		})
	}

	job, err := st.GetJob(c.Context(), st.DB, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, c.Status(fiber.StatusNotFound).JSON(JobResponse{
				Success: false,
				Code:    "NOT_FOUND",
				Error:   "job not found",
			})
		}
		return nil, c.Status(fiber.StatusInternalServerError).JSON(JobResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}

	if job.OwnerID != user.ID && user.Role != model.RoleAdmin {
		return nil, c.Status(fiber.StatusNotFound).JSON(JobResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   "job not found",
		})
	}
	return job, nil
}

func knownQueue(cfg *config.Config, name string) bool {
	for _, q := range cfg.Jobs.Queues {
		if q == name {
			return true
		}
	}
	return false
}
