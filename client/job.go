package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xraph/cuttrack/dwp"
	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/ledger"
)

// CreateJob creates a waiting job from a bill of materials.
func (c *Client) CreateJob(ctx context.Context, bom job.BillOfMaterials) (*job.Job, error) {
	return call[job.Job](ctx, c, dwp.MethodJobCreate, bom)
}

// GetJob retrieves a job snapshot by ID.
func (c *Client) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return c.jobCall(ctx, dwp.MethodJobGet, jobID)
}

// ListJobs pages through jobs, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	jobs, err := call[[]*job.Job](ctx, c, dwp.MethodJobList, dwp.JobListRequest{
		Status: string(opts.Status),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
	if err != nil {
		return nil, err
	}
	return *jobs, nil
}

// StartJob starts or resumes a job and its timer.
func (c *Client) StartJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return c.jobCall(ctx, dwp.MethodJobStart, jobID)
}

// PauseJob pauses a running job and folds the elapsed time into its timer.
func (c *Client) PauseJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return c.jobCall(ctx, dwp.MethodJobPause, jobID)
}

// StopJob pauses a job because its operator left. It is a no-op on a job
// that is not running.
func (c *Client) StopJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return c.jobCall(ctx, dwp.MethodJobStop, jobID)
}

// CompleteJob marks a job done.
func (c *Client) CompleteJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return c.jobCall(ctx, dwp.MethodJobComplete, jobID)
}

// TouchJob records operator activity so the idle sweep leaves the job
// running.
func (c *Client) TouchJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return c.jobCall(ctx, dwp.MethodJobTouch, jobID)
}

// DeleteJob removes a job and everything it owns.
func (c *Client) DeleteJob(ctx context.Context, jobID id.JobID) error {
	_, err := c.request(ctx, dwp.MethodJobDelete, dwp.JobRequest{JobID: jobID.String()})
	return err
}

// SetSheetStatus sets the status of one material sheet. The value is
// stored as given; toggling is up to the caller.
func (c *Client) SetSheetStatus(ctx context.Context, materialID id.MaterialID, index int, status ledger.SheetStatus) (*ledger.Material, error) {
	return call[ledger.Material](ctx, c, dwp.MethodSheetSet, dwp.SheetSetRequest{
		MaterialID: materialID.String(),
		Index:      index,
		Status:     string(status),
	})
}

// AddRecut records quantity additional sheets of a material to recut.
func (c *Client) AddRecut(ctx context.Context, materialID id.MaterialID, quantity int) (*ledger.RecutEntry, error) {
	return call[ledger.RecutEntry](ctx, c, dwp.MethodRecutAdd, dwp.RecutAddRequest{
		MaterialID: materialID.String(),
		Quantity:   quantity,
	})
}

// SetRecutSheetStatus sets the status of one recut sheet.
func (c *Client) SetRecutSheetStatus(ctx context.Context, recutID id.RecutID, index int, status ledger.SheetStatus) (*ledger.RecutEntry, error) {
	return call[ledger.RecutEntry](ctx, c, dwp.MethodRecutSheetSet, dwp.RecutSheetSetRequest{
		RecutID: recutID.String(),
		Index:   index,
		Status:  string(status),
	})
}

func (c *Client) jobCall(ctx context.Context, method string, jobID id.JobID) (*job.Job, error) {
	return call[job.Job](ctx, c, method, dwp.JobRequest{JobID: jobID.String()})
}

// call sends a request and decodes the response payload into T.
func call[T any](ctx context.Context, c *Client, method string, data any) (*T, error) {
	resp, err := c.request(ctx, method, data)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, fmt.Errorf("cuttrack/client: decode %s response: %w", method, err)
	}
	return &out, nil
}
