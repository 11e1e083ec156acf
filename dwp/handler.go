package dwp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/xraph/cuttrack"
	"github.com/xraph/cuttrack/engine"
	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/job"
	"github.com/xraph/cuttrack/ledger"
	"github.com/xraph/cuttrack/stream"
)

// Handler dispatches DWP frames to engine operations.
type Handler struct {
	eng    *engine.Engine
	broker *stream.Broker
	conns  *ConnectionManager
	logger *slog.Logger
}

// NewHandler creates a new DWP method handler.
func NewHandler(eng *engine.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{eng: eng, broker: eng.Broker(), logger: logger}
}

// Handle processes a single DWP request frame and returns a response.
func (h *Handler) Handle(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	switch frame.Method {
	case MethodJobCreate:
		return h.handleJobCreate(ctx, frame)
	case MethodJobGet:
		return h.handleJob(ctx, frame, h.eng.GetJob)
	case MethodJobList:
		return h.handleJobList(ctx, frame)
	case MethodJobStart:
		return h.handleJob(ctx, frame, h.eng.StartJob)
	case MethodJobPause:
		return h.handleJob(ctx, frame, h.eng.PauseJob)
	case MethodJobComplete:
		return h.handleJob(ctx, frame, h.eng.CompleteJob)
	case MethodJobStop:
		return h.handleJob(ctx, frame, h.eng.StopJob)
	case MethodJobTouch:
		return h.handleJob(ctx, frame, h.eng.TouchJob)
	case MethodJobDelete:
		return h.handleJobDelete(ctx, frame)
	case MethodSheetSet:
		return h.handleSheetSet(ctx, frame)
	case MethodRecutAdd:
		return h.handleRecutAdd(ctx, frame)
	case MethodRecutSheetSet:
		return h.handleRecutSheetSet(ctx, frame)
	case MethodSubscribe:
		return h.handleSubscribe(ctx, frame, conn)
	case MethodUnsubscribe:
		return h.handleUnsubscribe(frame, conn)
	case MethodStats:
		return h.handleStats(frame)
	default:
		return NewErrorFrame(frame.ID, ErrCodeMethodNotFound, "unknown method: "+frame.Method)
	}
}

// CodeForError maps an engine error to a DWP error code. The codes line up
// with HTTP status codes.
func CodeForError(err error) int {
	switch {
	case cuttrack.IsNotFound(err):
		return ErrCodeNotFound
	case errors.Is(err, cuttrack.ErrValidation):
		return ErrCodeBadRequest
	case errors.Is(err, cuttrack.ErrInvalidTransition),
		errors.Is(err, cuttrack.ErrConcurrencyConflict),
		errors.Is(err, cuttrack.ErrJobAlreadyExists):
		return ErrCodeConflict
	default:
		return ErrCodeInternal
	}
}

func (h *Handler) errorFrame(frame *Frame, err error) *Frame {
	code := CodeForError(err)
	if code == ErrCodeInternal {
		h.logger.Error("dwp: request failed",
			slog.String("method", frame.Method),
			slog.String("error", err.Error()),
		)
	}
	return NewErrorFrame(frame.ID, code, err.Error())
}

// mustResponseFrame creates a response frame, returning an error frame on marshal failure.
func mustResponseFrame(frameID string, data any) *Frame {
	resp, err := NewResponseFrame(frameID, data)
	if err != nil {
		return NewErrorFrame(frameID, ErrCodeInternal, "marshal response: "+err.Error())
	}
	return resp
}

func decode(frame *Frame, v any) *Frame {
	if len(frame.Data) == 0 {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "missing request data")
	}
	if err := json.Unmarshal(frame.Data, v); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}
	return nil
}

// ──────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────

func (h *Handler) handleJobCreate(ctx context.Context, frame *Frame) *Frame {
	var bom job.BillOfMaterials
	if errFrame := decode(frame, &bom); errFrame != nil {
		return errFrame
	}
	j, err := h.eng.CreateJob(ctx, bom)
	if err != nil {
		return h.errorFrame(frame, err)
	}
	return mustResponseFrame(frame.ID, j)
}

// handleJob serves every method that takes a job ID and returns the job.
func (h *Handler) handleJob(ctx context.Context, frame *Frame, op func(context.Context, id.JobID) (*job.Job, error)) *Frame {
	var req JobRequest
	if errFrame := decode(frame, &req); errFrame != nil {
		return errFrame
	}
	jobID, err := id.ParseJobID(req.JobID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid job ID: "+err.Error())
	}
	j, err := op(ctx, jobID)
	if err != nil {
		return h.errorFrame(frame, err)
	}
	return mustResponseFrame(frame.ID, j)
}

func (h *Handler) handleJobList(ctx context.Context, frame *Frame) *Frame {
	var req JobListRequest
	if len(frame.Data) > 0 {
		if errFrame := decode(frame, &req); errFrame != nil {
			return errFrame
		}
	}
	status := job.Status(req.Status)
	if status != "" && !status.Valid() {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid status: "+req.Status)
	}
	jobs, err := h.eng.ListJobs(ctx, job.ListOpts{Status: status, Limit: req.Limit, Offset: req.Offset})
	if err != nil {
		return h.errorFrame(frame, err)
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	return mustResponseFrame(frame.ID, jobs)
}

func (h *Handler) handleJobDelete(ctx context.Context, frame *Frame) *Frame {
	var req JobRequest
	if errFrame := decode(frame, &req); errFrame != nil {
		return errFrame
	}
	jobID, err := id.ParseJobID(req.JobID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid job ID: "+err.Error())
	}
	if err := h.eng.DeleteJob(ctx, jobID); err != nil {
		return h.errorFrame(frame, err)
	}
	return mustResponseFrame(frame.ID, map[string]string{"job_id": req.JobID, "status": "deleted"})
}

// ──────────────────────────────────────────────────
// Ledger
// ──────────────────────────────────────────────────

func (h *Handler) handleSheetSet(ctx context.Context, frame *Frame) *Frame {
	var req SheetSetRequest
	if errFrame := decode(frame, &req); errFrame != nil {
		return errFrame
	}
	materialID, err := id.ParseMaterialID(req.MaterialID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid material ID: "+err.Error())
	}
	status, err := ledger.ParseSheetStatus(req.Status)
	if err != nil {
		return h.errorFrame(frame, err)
	}
	m, err := h.eng.SetSheetStatus(ctx, materialID, req.Index, status)
	if err != nil {
		return h.errorFrame(frame, err)
	}
	return mustResponseFrame(frame.ID, m)
}

func (h *Handler) handleRecutAdd(ctx context.Context, frame *Frame) *Frame {
	var req RecutAddRequest
	if errFrame := decode(frame, &req); errFrame != nil {
		return errFrame
	}
	materialID, err := id.ParseMaterialID(req.MaterialID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid material ID: "+err.Error())
	}
	r, err := h.eng.AddRecut(ctx, materialID, req.Quantity)
	if err != nil {
		return h.errorFrame(frame, err)
	}
	return mustResponseFrame(frame.ID, r)
}

func (h *Handler) handleRecutSheetSet(ctx context.Context, frame *Frame) *Frame {
	var req RecutSheetSetRequest
	if errFrame := decode(frame, &req); errFrame != nil {
		return errFrame
	}
	recutID, err := id.ParseRecutID(req.RecutID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid recut ID: "+err.Error())
	}
	status, err := ledger.ParseSheetStatus(req.Status)
	if err != nil {
		return h.errorFrame(frame, err)
	}
	r, err := h.eng.SetRecutSheetStatus(ctx, recutID, req.Index, status)
	if err != nil {
		return h.errorFrame(frame, err)
	}
	return mustResponseFrame(frame.ID, r)
}

// ──────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────

func (h *Handler) handleSubscribe(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	var req SubscribeRequest
	if errFrame := decode(frame, &req); errFrame != nil {
		return errFrame
	}
	if err := stream.ValidateTopic(req.Channel); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, err.Error())
	}

	// A job channel only exists while the job does.
	if entity, ok := stream.TopicJobID(req.Channel); ok {
		jobID, err := id.ParseJobID(entity)
		if err != nil {
			return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid job ID: "+err.Error())
		}
		if _, err := h.eng.GetJob(ctx, jobID); err != nil {
			return h.errorFrame(frame, err)
		}
	}

	if !h.broker.SubscribeTo(conn.ID, req.Channel) {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "subscriptions require a websocket connection")
	}
	if req.Credits > 0 {
		if sub, ok := h.broker.GetSubscriber(conn.ID); ok {
			sub.AddCredits(int64(req.Credits))
		}
	}
	conn.AddSubscription(req.Channel)

	return mustResponseFrame(frame.ID, SubscribeResponse{Channel: req.Channel, Status: "subscribed"})
}

func (h *Handler) handleUnsubscribe(frame *Frame, conn *Connection) *Frame {
	var req UnsubscribeRequest
	if errFrame := decode(frame, &req); errFrame != nil {
		return errFrame
	}
	h.broker.Unsubscribe(conn.ID, req.Channel)
	conn.RemoveSubscription(req.Channel)
	return mustResponseFrame(frame.ID, SubscribeResponse{Channel: req.Channel, Status: "unsubscribed"})
}

// StatsResponse reports broker and connection counters. Viewers maps a
// job ID to the number of sessions following it.
type StatsResponse struct {
	stream.BrokerStats
	Connections int            `json:"connections"`
	Viewers     map[string]int `json:"viewers,omitempty"`
}

func (h *Handler) handleStats(frame *Frame) *Frame {
	resp := StatsResponse{BrokerStats: h.broker.Stats()}
	if h.conns != nil {
		resp.Connections = h.conns.Count()
		resp.Viewers = h.conns.Viewers()
	}
	return mustResponseFrame(frame.ID, resp)
}
