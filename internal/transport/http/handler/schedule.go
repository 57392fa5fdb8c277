package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ErlanBelekov/race-sync/internal/domain"
	"github.com/ErlanBelekov/race-sync/internal/transport/http/middleware"
	"github.com/ErlanBelekov/race-sync/internal/usecase"
	"github.com/gin-gonic/gin"
)

// PostRaceService is the slice of usecase.Service the admin API drives.
type PostRaceService interface {
	ScheduleEvent(ctx context.Context, key domain.EventKey, offsets []time.Duration) (*usecase.ScheduleSummary, error)
	GetSchedule(ctx context.Context, key domain.EventKey) (*domain.Schedule, error)
	CancelSchedule(ctx context.Context, key domain.EventKey) (bool, error)
	ExecuteNow(ctx context.Context, key domain.EventKey, ordinal int) (*usecase.AttemptOutcome, error)
	ListSchedules(ctx context.Context, season int, lifecycle domain.Lifecycle) ([]*usecase.ScheduleSummary, error)
	ListPendingDue(ctx context.Context, now time.Time) ([]usecase.AttemptRef, error)
	RunSweep(ctx context.Context) (*usecase.SweepResult, error)
	RunCleanup(ctx context.Context) (int, error)
	ScheduleSeason(ctx context.Context, season int) (*usecase.OrchestratorSummary, error)
	Stats(ctx context.Context, season int) (*usecase.Stats, error)
}

type ScheduleHandler struct {
	svc    PostRaceService
	logger *slog.Logger
}

func NewScheduleHandler(svc PostRaceService, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{svc: svc, logger: logger.With("component", "schedule_handler")}
}

type scheduleEventRequest struct {
	OffsetsHours []float64 `json:"offsets_hours" binding:"omitempty,min=1,max=48,dive,gte=0,lte=720"`
}

type attemptOutcomeResponse struct {
	Key     domain.EventKey `json:"event_key"`
	Ordinal int             `json:"attempt"`
	Status  domain.Status   `json:"status"`
	Results map[string]bool `json:"results,omitempty"`
	Error   string          `json:"error,omitempty"`
	Skipped bool            `json:"skipped"`
}

func eventKeyParam(ctx *gin.Context) (domain.EventKey, bool) {
	season, err1 := strconv.Atoi(ctx.Param("season"))
	round, err2 := strconv.Atoi(ctx.Param("round"))
	key := domain.EventKey{Season: season, Round: round}
	if err1 != nil || err2 != nil || !key.Valid() {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidEventKey})
		return key, false
	}
	return key, true
}

// seasonQuery reads ?season=, 0 when absent.
func seasonQuery(ctx *gin.Context) (int, bool) {
	raw := ctx.Query("season")
	if raw == "" {
		return 0, true
	}
	season, err := strconv.Atoi(raw)
	if err != nil || season <= 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidSeasonFilter})
		return 0, false
	}
	return season, true
}

func (h *ScheduleHandler) Schedule(ctx *gin.Context) {
	key, ok := eventKeyParam(ctx)
	if !ok {
		return
	}

	// an empty body means the manual default offsets
	var req scheduleEventRequest
	if err := ctx.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var offsets []time.Duration
	for _, hrs := range req.OffsetsHours {
		offsets = append(offsets, time.Duration(hrs*float64(time.Hour)))
	}

	sum, err := h.svc.ScheduleEvent(ctx.Request.Context(), key, offsets)
	if err != nil {
		writeError(ctx, h.logger, "schedule event", err)
		return
	}

	status := http.StatusOK
	if sum.Created {
		status = http.StatusCreated
		h.logger.InfoContext(ctx.Request.Context(), "schedule created via api",
			"event_key", key.String(), "operator", ctx.GetString(middleware.OperatorKey))
	}
	ctx.JSON(status, sum)
}

func (h *ScheduleHandler) Get(ctx *gin.Context) {
	key, ok := eventKeyParam(ctx)
	if !ok {
		return
	}

	s, err := h.svc.GetSchedule(ctx.Request.Context(), key)
	if err != nil {
		writeError(ctx, h.logger, "get schedule", err)
		return
	}
	ctx.JSON(http.StatusOK, usecase.Summarize(s))
}

func (h *ScheduleHandler) Cancel(ctx *gin.Context) {
	key, ok := eventKeyParam(ctx)
	if !ok {
		return
	}

	cancelled, err := h.svc.CancelSchedule(ctx.Request.Context(), key)
	if err != nil {
		writeError(ctx, h.logger, "cancel schedule", err)
		return
	}
	h.logger.InfoContext(ctx.Request.Context(), "cancel requested",
		"event_key", key.String(), "operator", ctx.GetString(middleware.OperatorKey), "cancelled", cancelled)
	ctx.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

func (h *ScheduleHandler) Execute(ctx *gin.Context) {
	key, ok := eventKeyParam(ctx)
	if !ok {
		return
	}
	ordinal, err := strconv.Atoi(ctx.Param("ordinal"))
	if err != nil || ordinal < 1 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidOrdinal})
		return
	}

	out, err := h.svc.ExecuteNow(ctx.Request.Context(), key, ordinal)
	if err != nil {
		writeError(ctx, h.logger, "execute attempt", err)
		return
	}

	resp := attemptOutcomeResponse{
		Key:     out.Key,
		Ordinal: out.Ordinal,
		Status:  out.Status,
		Error:   out.Error,
		Skipped: out.Skipped,
	}
	if out.Results != nil {
		resp.Results = out.Results.Map()
	}
	ctx.JSON(http.StatusOK, resp)
}

func (h *ScheduleHandler) List(ctx *gin.Context) {
	season, ok := seasonQuery(ctx)
	if !ok {
		return
	}
	var lifecycle domain.Lifecycle
	if raw := ctx.Query("status"); raw != "" {
		lc, err := domain.ParseLifecycle(raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidLifecycle})
			return
		}
		lifecycle = lc
	}

	items, err := h.svc.ListSchedules(ctx.Request.Context(), season, lifecycle)
	if err != nil {
		writeError(ctx, h.logger, "list schedules", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"schedules": items, "count": len(items)})
}

func (h *ScheduleHandler) Pending(ctx *gin.Context) {
	due, err := h.svc.ListPendingDue(ctx.Request.Context(), time.Now().UTC())
	if err != nil {
		writeError(ctx, h.logger, "list pending attempts", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"attempts": due, "count": len(due)})
}

func (h *ScheduleHandler) Sweep(ctx *gin.Context) {
	res, err := h.svc.RunSweep(ctx.Request.Context())
	if err != nil {
		writeError(ctx, h.logger, "sweep", err)
		return
	}
	ctx.JSON(http.StatusOK, res)
}

func (h *ScheduleHandler) Cleanup(ctx *gin.Context) {
	n, err := h.svc.RunCleanup(ctx.Request.Context())
	if err != nil {
		writeError(ctx, h.logger, "cleanup", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (h *ScheduleHandler) ScheduleSeason(ctx *gin.Context) {
	season, err := strconv.Atoi(ctx.Param("season"))
	if err != nil || season <= 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidSeasonFilter})
		return
	}

	sum, err := h.svc.ScheduleSeason(ctx.Request.Context(), season)
	if err != nil {
		writeError(ctx, h.logger, "schedule season", err)
		return
	}
	ctx.JSON(http.StatusOK, sum)
}

func (h *ScheduleHandler) Stats(ctx *gin.Context) {
	season, ok := seasonQuery(ctx)
	if !ok {
		return
	}

	st, err := h.svc.Stats(ctx.Request.Context(), season)
	if err != nil {
		writeError(ctx, h.logger, "stats", err)
		return
	}
	ctx.JSON(http.StatusOK, st)
}
