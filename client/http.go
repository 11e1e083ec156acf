package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/ledger"
)

// HTTPClient talks to the cuttrack REST API. It offers the same job and
// ledger operations as Client and serves as the snapshot source while the
// event stream is down.
type HTTPClient struct {
	base  string
	token string
	hc    *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPToken sends token as a bearer credential on every request.
func WithHTTPToken(token string) HTTPOption {
	return func(c *HTTPClient) { c.token = token }
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.hc = hc }
}

// NewHTTPClient creates a REST client for the server at baseURL, for
// example "https://floor.example.com".
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		base: strings.TrimRight(baseURL, "/"),
		hc:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateJob creates a waiting job from a bill of materials.
func (c *HTTPClient) CreateJob(ctx context.Context, bom job.BillOfMaterials) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", bom, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// GetJob retrieves a job snapshot by ID.
func (c *HTTPClient) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+jobID.String(), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// ListJobs pages through jobs, optionally filtered by status.
func (c *HTTPClient) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/v1/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var jobs []*job.Job
	if err := c.do(ctx, http.MethodGet, path, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// StartJob starts or resumes a job and its timer.
func (c *HTTPClient) StartJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return c.jobAction(ctx, jobID, "start")
}

// PauseJob pauses a running job.
func (c *HTTPClient) PauseJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return c.jobAction(ctx, jobID, "pause")
}

// StopJob pauses a job because its operator left.
func (c *HTTPClient) StopJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return c.jobAction(ctx, jobID, "stop")
}

// CompleteJob marks a job done.
func (c *HTTPClient) CompleteJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return c.jobAction(ctx, jobID, "complete")
}

// TouchJob records operator activity.
func (c *HTTPClient) TouchJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return c.jobAction(ctx, jobID, "touch")
}

// DeleteJob removes a job.
func (c *HTTPClient) DeleteJob(ctx context.Context, jobID id.JobID) error {
	return c.do(ctx, http.MethodDelete, "/v1/jobs/"+jobID.String(), nil, nil)
}

// SetSheetStatus sets the status of one material sheet.
func (c *HTTPClient) SetSheetStatus(ctx context.Context, materialID id.MaterialID, index int, status ledger.SheetStatus) (*ledger.Material, error) {
	var m ledger.Material
	path := fmt.Sprintf("/v1/materials/%s/sheets/%d", materialID, index)
	if err := c.do(ctx, http.MethodPut, path, sheetBody{Status: string(status)}, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// AddRecut records quantity additional sheets of a material to recut.
func (c *HTTPClient) AddRecut(ctx context.Context, materialID id.MaterialID, quantity int) (*ledger.RecutEntry, error) {
	var r ledger.RecutEntry
	path := fmt.Sprintf("/v1/materials/%s/recuts", materialID)
	if err := c.do(ctx, http.MethodPost, path, recutBody{Quantity: quantity}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// SetRecutSheetStatus sets the status of one recut sheet.
func (c *HTTPClient) SetRecutSheetStatus(ctx context.Context, recutID id.RecutID, index int, status ledger.SheetStatus) (*ledger.RecutEntry, error) {
	var r ledger.RecutEntry
	path := fmt.Sprintf("/v1/recuts/%s/sheets/%d", recutID, index)
	if err := c.do(ctx, http.MethodPut, path, sheetBody{Status: string(status)}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

type sheetBody struct {
	Status string `json:"status"`
}

type recutBody struct {
	Quantity int `json:"quantity"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func (c *HTTPClient) jobAction(ctx context.Context, jobID id.JobID, action string) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/"+jobID.String()+"/"+action, nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// do sends a JSON request and decodes a JSON response into out. Non-2xx
// responses become *Error.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("cuttrack/client: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("cuttrack/client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("cuttrack/client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb errorBody
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&eb); err != nil || eb.Error == "" {
			eb.Error = resp.Status
		}
		return &Error{Code: resp.StatusCode, Message: eb.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("cuttrack/client: decode response: %w", err)
	}
	return nil
}
