package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/countdownstack/jobs"
	"github.com/cppla/countdownstack/utils"
)

// JobsController exposes the background job schedule to operators.
type JobsController struct {
	scheduler *jobs.Scheduler
}

// NewJobsController creates a JobsController.
func NewJobsController(scheduler *jobs.Scheduler) *JobsController {
	return &JobsController{scheduler: scheduler}
}

// ListJobs returns every registered job with its previous and next run.
func (j *JobsController) ListJobs(ctx *gin.Context) {
	utils.Success(ctx, gin.H{"items": j.scheduler.Entries()})
}

// RunJob runs one job immediately and returns its report.
func (j *JobsController) RunJob(ctx *gin.Context) {
	name := ctx.Param("name")
	report, err := j.scheduler.RunNow(ctx.Request.Context(), name)
	switch {
	case errors.Is(err, jobs.ErrUnknownJob):
		utils.Error(ctx, http.StatusNotFound, 40403, "unknown job")
	case errors.Is(err, jobs.ErrJobRunning):
		utils.Error(ctx, http.StatusConflict, 40902, "job already running")
	case err != nil:
		utils.Sugar.Errorw("manual job run failed", "job", name, "error", err)
		utils.Respond(ctx, http.StatusInternalServerError, 50030, err.Error(), gin.H{"report": report})
	default:
		utils.Success(ctx, gin.H{"job": name, "report": report})
	}
}
