package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// StartScheduler starts the reconciliation scheduler
func (h *Handlers) StartScheduler(c *gin.Context) {
	if err := h.scheduler.Start(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to start scheduler",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler started successfully",
		"status":  "running",
	})
}

// StopScheduler stops the reconciliation scheduler
func (h *Handlers) StopScheduler(c *gin.Context) {
	if err := h.scheduler.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to stop scheduler",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler stopped successfully",
		"status":  "stopped",
	})
}

// RunOnce runs one reconciliation pass
func (h *Handlers) RunOnce(c *gin.Context) {
	// A pass must not stop halfway because the caller hung up.
	result, err := h.scheduler.RunOnce(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to run reconciliation pass",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	message := "Reconciliation pass completed successfully"
	if result.Skipped {
		message = "Reconciliation pass already running, skipped"
	}
	c.JSON(http.StatusOK, gin.H{
		"message": message,
		"result":  result,
	})
}

// GetSchedulerStatus returns the current scheduler status
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	status := "stopped"
	if h.scheduler.IsRunning() {
		status = "running"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      status,
		"next_run":    h.scheduler.GetNextRun(),
		"last_run":    h.scheduler.GetLastRun(),
		"last_result": h.scheduler.LastResult(),
	})
}
