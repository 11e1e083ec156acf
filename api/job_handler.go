package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/xraph/forge"

	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/job"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ListJobsRequest documents the query parameters of GET /v1/jobs.
type ListJobsRequest struct {
	Status string `query:"status" description:"Filter by job status"`
	Limit  int    `query:"limit" description:"Page size, at most 500"`
	Offset int    `query:"offset" description:"Number of jobs to skip"`
}

// jobOp is a job transition exposed as a POST action.
type jobOp func(context.Context, id.JobID) (*job.Job, error)

func (a *API) createJob(ctx forge.Context) error {
	var bom job.BillOfMaterials
	if err := ctx.Bind(&bom); err != nil {
		return badRequest(ctx, "invalid request body: "+err.Error())
	}
	j, err := a.eng.CreateJob(ctx.Context(), bom)
	if err != nil {
		return a.fail(ctx, err)
	}
	return ctx.JSON(http.StatusCreated, j)
}

func (a *API) listJobs(ctx forge.Context) error {
	opts := job.ListOpts{Limit: defaultListLimit, Status: job.Status(ctx.Query("status"))}
	if opts.Status != "" && !opts.Status.Valid() {
		return badRequest(ctx, fmt.Sprintf("invalid status %q", opts.Status))
	}

	var err error
	if v := ctx.Query("limit"); v != "" {
		if opts.Limit, err = strconv.Atoi(v); err != nil || opts.Limit <= 0 {
			return badRequest(ctx, "limit must be a positive integer")
		}
		opts.Limit = min(opts.Limit, maxListLimit)
	}
	if v := ctx.Query("offset"); v != "" {
		if opts.Offset, err = strconv.Atoi(v); err != nil || opts.Offset < 0 {
			return badRequest(ctx, "offset must be a non-negative integer")
		}
	}

	jobs, err := a.eng.ListJobs(ctx.Context(), opts)
	if err != nil {
		return a.fail(ctx, err)
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	return ctx.JSON(http.StatusOK, jobs)
}

func (a *API) getJob(ctx forge.Context) error {
	jobID, err := id.ParseJobID(ctx.Param("jobId"))
	if err != nil {
		return badRequest(ctx, "invalid job ID: "+err.Error())
	}
	j, err := a.eng.GetJob(ctx.Context(), jobID)
	if err != nil {
		return a.fail(ctx, err)
	}
	return ctx.JSON(http.StatusOK, j)
}

func (a *API) deleteJob(ctx forge.Context) error {
	jobID, err := id.ParseJobID(ctx.Param("jobId"))
	if err != nil {
		return badRequest(ctx, "invalid job ID: "+err.Error())
	}
	if err := a.eng.DeleteJob(ctx.Context(), jobID); err != nil {
		return a.fail(ctx, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// jobAction adapts a job transition to a POST handler returning the job.
func (a *API) jobAction(op jobOp) func(forge.Context) error {
	return func(ctx forge.Context) error {
		jobID, err := id.ParseJobID(ctx.Param("jobId"))
		if err != nil {
			return badRequest(ctx, "invalid job ID: "+err.Error())
		}
		j, err := op(ctx.Context(), jobID)
		if err != nil {
			return a.fail(ctx, err)
		}
		return ctx.JSON(http.StatusOK, j)
	}
}
