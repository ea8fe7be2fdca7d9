package http

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"pagesentry/internal/schema"
	"pagesentry/internal/services"
	"pagesentry/internal/store"
)

// validateTaskHandler runs the full validation pipeline. The response is
// 200 whenever the pipeline ran; the result's status says whether the task
// may be approved.
func validateTaskHandler(c *fiber.Ctx) error {
	var reqBody ValidateTaskRequest
	if err := c.BodyParser(&reqBody); err != nil {
		return badJSON(c)
	}
	if strings.TrimSpace(reqBody.URL) == "" {
		return missingField(c, "url")
	}
	if strings.TrimSpace(reqBody.Instruction) == "" {
		return missingField(c, "instruction")
	}

	deps := depsFrom(c)
	if deps.Validator == nil {
		return unavailable(c, "VALIDATOR_DISABLED", "Task validation is not configured")
	}

	res := deps.Validator.Validate(c.UserContext(), &services.ValidationRequest{
		URL:                   reqBody.URL,
		Instruction:           reqBody.Instruction,
		ScheduleIntervalHours: reqBody.ScheduleIntervalHours,
	})
	if res.ProviderName != "" {
		c.Locals("llm_provider", res.ProviderName)
	}

	return c.JSON(fiber.Map{
		"success": res.Status != services.StatusError,
		"data":    res,
	})
}

// approveTaskHandler activates a pending task so the scheduler picks it up.
func approveTaskHandler(c *fiber.Ctx) error {
	deps := depsFrom(c)
	if deps.Store == nil {
		return unavailable(c, "STORE_DISABLED", "Task storage is not configured")
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "Invalid task id",
		})
	}

	var reqBody ApproveTaskRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&reqBody); err != nil {
			return badJSON(c)
		}
	}
	if reqBody.Schema != nil {
		if err := schema.Validate(reqBody.Schema); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Code:    "INVALID_SCHEMA",
				Error:   err.Error(),
			})
		}
	}

	task, err := deps.Store.ActivateTask(c.UserContext(), id, reqBody.Schema)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   "Task not found",
		})
	case errors.Is(err, store.ErrNotPending):
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
			Success: false,
			Code:    "TASK_NOT_PENDING",
			Error:   "Task is not pending approval",
		})
	case err != nil:
		loggerFrom(c).Error("failed to activate task", "task_id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   "Failed to activate task",
		})
	}

	return c.JSON(fiber.Map{"success": true, "data": task})
}

func badJSON(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Success: false,
		Code:    "BAD_REQUEST_INVALID_JSON",
		Error:   "Bad request, malformed JSON",
	})
}

func missingField(c *fiber.Ctx, field string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Success: false,
		Code:    "BAD_REQUEST",
		Error:   "Missing required field '" + field + "'",
	})
}

func unavailable(c *fiber.Ctx, code, msg string) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
		Success: false,
		Code:    code,
		Error:   msg,
	})
}
