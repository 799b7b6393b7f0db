package app

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tldrify/core/internal/middleware"
	"github.com/tldrify/core/internal/modules/summarize/pipeline"
	"github.com/tldrify/core/internal/pkg/response"
)

func (a *App) registerRoutes() {
	a.router.GET("/healthz", a.healthz)

	api := a.router.Group("/api/v1")
	api.Use(middleware.RateLimit(a.rc.Raw()))
	pipeline.NewHandler(a.coordinator).RegisterRoutes(api)
}

func (a *App) healthz(c *gin.Context) {
	status := gin.H{
		"status":         "ok",
		"uptime_seconds": int(time.Since(processStart).Seconds()),
	}

	if sqlDB, err := a.db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		status["status"] = "degraded"
		status["database"] = "down"
	}
	if err := a.rc.Raw().Ping(c.Request.Context()).Err(); err != nil {
		status["status"] = "degraded"
		status["redis"] = "down"
	}

	response.OK(c, status)
}
