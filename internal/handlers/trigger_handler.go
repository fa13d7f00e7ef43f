package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kay-darko/vybe/internal/scheduler"
)

// runner is any scheduler job: always returns a summary, never an error.
type runner interface {
	Run(ctx context.Context) scheduler.RunSummary
}

// Trigger wraps a scheduler job as an HTTP entry point for the external cron
// caller. The summary is always 200; partial failure lives in the body.
func Trigger(job runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary := job.Run(c.Request.Context())
		c.JSON(http.StatusOK, summary)
	}
}
