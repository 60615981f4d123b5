package http

import (
	"database/sql"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"jobrunner/internal/apperr"
	"jobrunner/internal/config"
	"jobrunner/internal/lifecycle"
	"jobrunner/internal/model"
	"jobrunner/internal/store"
)

type BatchSubmitRequest struct {
	Name        string             `json:"name"`
	Description *string            `json:"description,omitempty"`
	Payload     map[string]any     `json:"payload,omitempty"`
	Jobs        []JobSubmitRequest `json:"jobs"`
}

type BatchResponse struct {
	Success bool       `json:"success"`
	Code    string     `json:"code,omitempty"`
	Error   string     `json:"error,omitempty"`
	Batch   *BatchItem `json:"batch,omitempty"`
	Jobs    []JobItem  `json:"jobs,omitempty"`
}

type ListBatchesResponse struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error,omitempty"`
	Batches []BatchItem `json:"batches"`
	Total   int         `json:"total"`
}

type BatchActionResponse struct {
	Success  bool   `json:"success"`
	Code     string `json:"code,omitempty"`
	Error    string `json:"error,omitempty"`
	Affected int    `json:"affected"`
}

// batchSubmitHandler admits a batch of jobs atomically and dispatches
// each member. A dispatch failure after commit still returns the
// persisted batch, with the failed member marked failed.
func batchSubmitHandler(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	engine := c.Locals("engine").(*lifecycle.Engine)

	user, ok := currentUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(BatchResponse{
			Success: false,
			Code:    "UNAUTHENTICATED",
			Error:   "User context is not available for this request",
		})
	}

	var req BatchSubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(BatchResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid request body",
		})
	}

	specs := make([]lifecycle.JobSpec, 0, len(req.Jobs))
	for _, j := range req.Jobs {
		if j.Queue != "" && !knownQueue(cfg, j.Queue) {
			return c.Status(fiber.StatusBadRequest).JSON(BatchResponse{
				Success: false,
				Code:    "VALIDATION_FAILED",
				Error:   "unknown queue: " + j.Queue,
			})
		}
		specs = append(specs, toJobSpec(j))
	}

	batch, jobs, err := engine.EnqueueBatch(c.Context(), user, lifecycle.BatchSpec{
		Name:        req.Name,
		Description: req.Description,
		Payload:     req.Payload,
		Jobs:        specs,
	})
	if err != nil {
		var dErr *apperr.DispatchError
		if !errors.As(err, &dErr) || batch == nil {
			return failFromError(c, err)
		}
		// Batch persisted; report it with a 202 anyway. The failed
		// member carries its error on the job row.
	}

	items := make([]JobItem, 0, len(jobs))
	for i := range jobs {
		items = append(items, jobToItem(&jobs[i]))
	}
	bi := batchToItem(batch)
	return c.Status(fiber.StatusAccepted).JSON(BatchResponse{
		Success: true,
		Batch:   &bi,
		Jobs:    items,
	})
}

// batchesListHandler lists batches visible to the current user.
func batchesListHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	user, ok := currentUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(ListBatchesResponse{
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

	batches, err := st.ListBatches(c.Context(), st.DB, ownerID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ListBatchesResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}
	total, err := st.CountBatches(c.Context(), st.DB, ownerID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ListBatchesResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}

	items := make([]BatchItem, 0, len(batches))
	for i := range batches {
		items = append(items, batchToItem(&batches[i]))
	}
	return c.JSON(ListBatchesResponse{
		Success: true,
		Batches: items,
		Total:   total,
	})
}

// batchDetailHandler returns a batch with its member jobs.
func batchDetailHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	user, ok := currentUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(BatchResponse{
			Success: false,
			Code:    "UNAUTHENTICATED",
			Error:   "User context is not available for this request",
		})
	}

	batchID, ok := parseIDParam(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(BatchResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid batch id",
		})
	}

	batch, err := st.GetBatch(c.Context(), st.DB, batchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(BatchResponse{
				Success: false,
				Code:    "NOT_FOUND",
				Error:   "batch not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(BatchResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}
	if batch.OwnerID != user.ID && user.Role != model.RoleAdmin {
		return c.Status(fiber.StatusNotFound).JSON(BatchResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   "batch not found",
		})
	}

	jobs, err := st.ListJobs(c.Context(), st.DB, store.JobFilter{BatchID: &batchID})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(BatchResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}

	items := make([]JobItem, 0, len(jobs))
	for i := range jobs {
		items = append(items, jobToItem(&jobs[i]))
	}
	bi := batchToItem(batch)
	return c.JSON(BatchResponse{
		Success: true,
		Batch:   &bi,
		Jobs:    items,
	})
}

// batchCancelHandler cancels every pending or running job in the
// batch. Zero affected jobs is still a success.
func batchCancelHandler(c *fiber.Ctx) error {
	engine := c.Locals("engine").(*lifecycle.Engine)

	user, ok := currentUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(BatchActionResponse{
			Success: false,
			Code:    "UNAUTHENTICATED",
			Error:   "User context is not available for this request",
		})
	}

	batchID, ok := parseIDParam(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(BatchActionResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid batch id",
		})
	}

	affected, err := engine.CancelBatch(c.Context(), batchID, user)
	if err != nil {
		return failFromError(c, err)
	}
	return c.JSON(BatchActionResponse{
		Success:  true,
		Affected: affected,
	})
}

// batchForceCompleteHandler applies a forced terminal status to every
// pending or running job in the batch.
func batchForceCompleteHandler(c *fiber.Ctx) error {
	engine := c.Locals("engine").(*lifecycle.Engine)

	user, ok := currentUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(BatchActionResponse{
			Success: false,
			Code:    "UNAUTHENTICATED",
			Error:   "User context is not available for this request",
		})
	}

	batchID, ok := parseIDParam(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(BatchActionResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid batch id",
		})
	}

	var req ForceCompleteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(BatchActionResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid request body",
		})
	}

	affected, err := engine.ForceCompleteBatch(c.Context(), batchID, user, model.JobStatus(req.Status), req.Stdout, req.Stderr)
	if err != nil {
		return failFromError(c, err)
	}
	return c.JSON(BatchActionResponse{
		Success:  true,
		Affected: affected,
	})
}

// batchDeleteHandler removes a stopped batch together with all of its
// jobs.
func batchDeleteHandler(c *fiber.Ctx) error {
	engine := c.Locals("engine").(*lifecycle.Engine)

	user, ok := currentUser(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(BatchActionResponse{
			Success: false,
			Code:    "UNAUTHENTICATED",
			Error:   "User context is not available for this request",
		})
	}

	batchID, ok := parseIDParam(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(BatchActionResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid batch id",
		})
	}

	deleted, err := engine.DeleteBatch(c.Context(), batchID, user)
	if err != nil {
		return failFromError(c, err)
	}
	if !deleted {
		return c.Status(fiber.StatusNotFound).JSON(BatchActionResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   "batch not found",
		})
	}
	return c.JSON(BatchActionResponse{Success: true})
}
