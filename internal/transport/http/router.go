package httptransport

import (
	"log/slog"

	"github.com/ErlanBelekov/race-sync/internal/transport/http/handler"
	"github.com/ErlanBelekov/race-sync/internal/transport/http/middleware"
	"github.com/ErlanBelekov/race-sync/internal/usecase"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

func NewRouter(logger *slog.Logger, scheduleHandler *handler.ScheduleHandler, jwtKey []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	pr := r.Group("/post-race", middleware.Auth(jwtKey, usecase.AdminScope))

	events := pr.Group("/events/:season/:round")
	events.POST("/schedule", scheduleHandler.Schedule)
	events.GET("/schedule", scheduleHandler.Get)
	events.DELETE("/schedule", scheduleHandler.Cancel)
	events.POST("/attempts/:ordinal/execute", scheduleHandler.Execute)

	pr.GET("/schedules", scheduleHandler.List)
	pr.GET("/pending", scheduleHandler.Pending)
	pr.POST("/sweep", scheduleHandler.Sweep)
	pr.POST("/cleanup", scheduleHandler.Cleanup)
	pr.POST("/seasons/:season/schedule", scheduleHandler.ScheduleSeason)
	pr.GET("/stats", scheduleHandler.Stats)

	return r
}
