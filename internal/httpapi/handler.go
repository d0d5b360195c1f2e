package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/events"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Sweeper fails calls stuck in a non-terminal status.
type Sweeper interface {
	SweepStale(ctx context.Context) (int, error)
}

type Handler struct {
	CallService *call.CallService
	Sweeper     Sweeper
	Now         func() time.Time
}

func NewHandler(callService *call.CallService, sweeper Sweeper) *Handler {
	return &Handler{
		CallService: callService,
		Sweeper:     sweeper,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

type ErrorResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

type SubmitRequest struct {
	call.Request

	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

type BulkRequest struct {
	Calls           []call.Request `json:"calls"`
	FirstTime       *time.Time     `json:"first_time,omitempty"`
	IntervalSeconds int            `json:"interval_seconds"`
}

type TerminateRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) SubmitCall(c *gin.Context) {
	var body SubmitRequest

	err := c.ShouldBindJSON(&body)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed request body: " + err.Error()})

		return
	}

	id, err := h.CallService.SubmitCall(c.Request.Context(), body.Request, body.ScheduledAt)
	if err != nil {
		writeError(c, err)

		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) SubmitBulk(c *gin.Context) {
	var body BulkRequest

	err := c.ShouldBindJSON(&body)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed request body: " + err.Error()})

		return
	}

	if len(body.Calls) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "calls must not be empty"})

		return
	}

	if body.IntervalSeconds < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "interval_seconds must not be negative"})

		return
	}

	first := h.Now()
	if body.FirstTime != nil {
		first = *body.FirstTime
	}

	ids, err := h.CallService.SubmitBulk(
		c.Request.Context(),
		body.Calls,
		first,
		time.Duration(body.IntervalSeconds)*time.Second,
	)
	if err != nil {
		writeError(c, err)

		return
	}

	c.JSON(http.StatusCreated, gin.H{"ids": ids})
}

func (h *Handler) ListCalls(c *gin.Context) {
	var statuses []call.Status

	for _, value := range strings.Split(c.Query("status"), ",") {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}

		status, ok := call.ParseStatus(strings.ToLower(value))
		if !ok {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown status " + value})

			return
		}

		statuses = append(statuses, status)
	}

	records, err := h.CallService.ListCalls(c.Request.Context(), statuses)
	if err != nil {
		writeError(c, err)

		return
	}

	if records == nil {
		records = []*call.Record{}
	}

	c.JSON(http.StatusOK, gin.H{"calls": records})
}

func (h *Handler) GetCall(c *gin.Context) {
	record, err := h.CallService.GetCall(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)

		return
	}

	c.JSON(http.StatusOK, record)
}

func (h *Handler) TerminateCall(c *gin.Context) {
	var body TerminateRequest

	err := c.ShouldBindJSON(&body)
	if err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed request body: " + err.Error()})

		return
	}

	record, err := h.CallService.TerminateCall(c.Request.Context(), c.Param("id"), body.Reason)
	if err != nil {
		writeError(c, err)

		return
	}

	c.JSON(http.StatusOK, record)
}

func (h *Handler) Cleanup(c *gin.Context) {
	terminated, err := h.Sweeper.SweepStale(c.Request.Context())
	if err != nil {
		writeError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"terminated": terminated})
}

// ProviderStatus accepts a status pushed by the provider.
func (h *Handler) ProviderStatus(c *gin.Context) {
	var update events.StatusUpdate

	err := c.ShouldBindJSON(&update)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed request body: " + err.Error()})

		return
	}

	record, err := update.Apply(c.Request.Context(), h.CallService)
	if err != nil {
		writeError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"id": record.ID, "status": record.Status})
}

func writeError(c *gin.Context, err error) {
	var validationError *call.ValidationError

	switch {
	case errors.As(err, &validationError):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:    call.ErrValidation.Error(),
			Problems: validationError.Problems,
		})
	case errors.Is(err, events.ErrMissingCallID):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, call.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, call.ErrInvalidTransition), errors.Is(err, call.ErrProviderCallIDMismatch):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	case errors.Is(err, call.ErrStore):
		logging.Logger.Error("[writeError] Store failure", zap.String("path", c.FullPath()), zap.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	default:
		logging.Logger.Error("[writeError] Request failed", zap.String("path", c.FullPath()), zap.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}
