package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/race-sync/internal/domain"
	"github.com/ErlanBelekov/race-sync/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"
)

const (
	errInternalServer      = "Internal server error"
	errEventNotFound       = "Event not found"
	errScheduleNotFound    = "Schedule not found"
	errAttemptNotFound     = "Attempt not found"
	errInvalidEventKey     = "Season and round must be positive integers"
	errInvalidOffsets      = "Offsets must be non-empty, non-negative and distinct"
	errEstimationFailed    = "Event end time cannot be estimated"
	errInvalidOrdinal      = "Attempt must be a positive integer"
	errInvalidLifecycle    = "Status must be one of pending, completed, failed"
	errStoreUnavailable    = "Schedule store unavailable"
	errScheduleUnreadable  = "Stored schedule is malformed"
	errInvalidSeasonFilter = "Season must be a positive integer"
)

// writeError maps domain errors to a status and logs anything unexpected.
func writeError(ctx *gin.Context, logger *slog.Logger, op string, err error) {
	var status int
	var msg string
	switch {
	case errors.Is(err, domain.ErrEventNotFound):
		status, msg = http.StatusNotFound, errEventNotFound
	case errors.Is(err, domain.ErrScheduleNotFound):
		status, msg = http.StatusNotFound, errScheduleNotFound
	case errors.Is(err, domain.ErrAttemptNotFound):
		status, msg = http.StatusNotFound, errAttemptNotFound
	case errors.Is(err, domain.ErrInvalidEventKey):
		status, msg = http.StatusBadRequest, errInvalidEventKey
	case errors.Is(err, domain.ErrInvalidOffsets):
		status, msg = http.StatusBadRequest, errInvalidOffsets
	case errors.Is(err, domain.ErrEstimationUnavailable):
		status, msg = http.StatusUnprocessableEntity, errEstimationFailed
	case errors.Is(err, domain.ErrMalformedSchedule):
		status, msg = http.StatusConflict, errScheduleUnreadable
	case errors.Is(err, domain.ErrStoreUnavailable):
		status, msg = http.StatusServiceUnavailable, errStoreUnavailable
	default:
		logger.ErrorContext(ctx.Request.Context(), op, "error", err, "operator", ctx.GetString(middleware.OperatorKey))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	ctx.JSON(status, gin.H{"error": msg})
}
