package server

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ytget/playlist-converter/internal/conversion"
)

// ConversionRequest is the body of start and enqueue requests
type ConversionRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// ConversionStartResponse is returned when a job was started or queued
type ConversionStartResponse struct {
	JobID  string `json:"job_id,omitempty"`
	TaskID string `json:"task_id,omitempty"`
	State  string `json:"state"`
}

// CancelResponse is returned by the cancel endpoint
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// TaskEnqueuer queues conversions for a background worker
type TaskEnqueuer interface {
	EnqueueConvert(ctx context.Context, url string) (string, error)
}

// Task states
const (
	TaskStateQueued = "Queued"
)

type ConversionHandler struct {
	converter Converter
	enqueuer  TaskEnqueuer
	validator *validator.Validate
}

func NewConversionHandler(converter Converter, enqueuer TaskEnqueuer, v *validator.Validate) *ConversionHandler {
	return &ConversionHandler{
		converter: converter,
		enqueuer:  enqueuer,
		validator: v,
	}
}

// Start handles POST /api/conversions
func (h *ConversionHandler) Start(c *fiber.Ctx) error {
	var req ConversionRequest
	if err := c.BodyParser(&req); err != nil {
		return ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	jobID, err := h.converter.Start(req.URL)
	switch {
	case errors.Is(err, conversion.ErrJobActive):
		return JobActive(c, "A conversion is already running")
	case errors.Is(err, conversion.ErrClosed):
		return Unavailable(c, "Conversion service is shutting down")
	case errors.Is(err, conversion.ErrEmptyURL):
		return ValidationError(c, err.Error(), nil)
	case err != nil:
		return ServiceError(c, err.Error())
	}

	return Accepted(c, ConversionStartResponse{
		JobID: jobID,
		State: h.converter.Status().State.String(),
	})
}

// Enqueue handles POST /api/conversions/enqueue
func (h *ConversionHandler) Enqueue(c *fiber.Ctx) error {
	if h.enqueuer == nil {
		return Unavailable(c, "Task queue is not configured")
	}

	var req ConversionRequest
	if err := c.BodyParser(&req); err != nil {
		return ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	taskID, err := h.enqueuer.EnqueueConvert(c.Context(), req.URL)
	if err != nil {
		return ServiceError(c, err.Error())
	}

	return Accepted(c, ConversionStartResponse{
		TaskID: taskID,
		State:  TaskStateQueued,
	})
}

// Cancel handles POST /api/conversions/cancel
func (h *ConversionHandler) Cancel(c *fiber.Ctx) error {
	return OK(c, CancelResponse{Cancelled: h.converter.CancelAll()})
}

// Status handles GET /api/conversions
func (h *ConversionHandler) Status(c *fiber.Ctx) error {
	return OK(c, h.converter.Status())
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
