package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/xraph/forge"

	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/stream"
)

// Event names sent on a job stream besides the stream.EventType set.
const (
	sseSnapshot  = "snapshot"
	sseHeartbeat = "heartbeat"
	sseError     = "error"
)

// jobEvents streams one job's changes as server-sent events. The stream
// opens with a snapshot of the job taken after subscribing, so no change
// can fall between the two. It ends when the job is deleted. A bad or
// unknown job ID gets a single error event carrying an ErrorResponse.
func (a *API) jobEvents(ctx forge.Context, s forge.Stream) error {
	jobID, err := id.ParseJobID(ctx.Param("jobId"))
	if err != nil {
		return a.sendError(s, ErrorResponse{Error: "invalid job ID: " + err.Error(), Code: http.StatusBadRequest})
	}

	subID := "sse-" + id.NewSubscriberID().String()
	sub, err := a.eng.Subscribe(s.Context(), subID, jobID)
	if err != nil {
		return a.sendError(s, a.errorResponse(err))
	}
	defer a.eng.Unsubscribe(subID)

	snapshot, err := a.eng.GetJob(s.Context(), jobID)
	if err != nil {
		return a.sendError(s, a.errorResponse(err))
	}

	log := a.logger.With(slog.String("job_id", jobID.String()), slog.String("subscriber", subID))
	log.Debug("api: event stream opened")
	defer log.Debug("api: event stream closed")

	if err := a.send(s, sseSnapshot, snapshot); err != nil {
		return err
	}

	heartbeat := time.NewTicker(a.heartbeat)
	defer heartbeat.Stop()

	resync := map[string]string{"job_id": jobID.String()}
	for {
		select {
		case <-s.Context().Done():
			return nil
		case now := <-heartbeat.C:
			if sub.TakeLagged() {
				err = a.send(s, string(stream.EventResync), resync)
			} else {
				err = a.send(s, sseHeartbeat, map[string]time.Time{"time": now.UTC()})
			}
			if err != nil {
				return err
			}
		case evt, ok := <-sub.C():
			if !ok {
				return nil
			}
			if sub.TakeLagged() {
				if err := a.send(s, string(stream.EventResync), resync); err != nil {
					return err
				}
			}
			if err := a.send(s, string(evt.Type), evt); err != nil {
				return err
			}
			if evt.Type == stream.EventJobDeleted {
				return nil
			}
		}
	}
}

func (a *API) send(s forge.Stream, event string, v any) error {
	if err := s.SendJSON(event, v); err != nil {
		return err
	}
	return s.Flush()
}

func (a *API) sendError(s forge.Stream, resp ErrorResponse) error {
	return a.send(s, sseError, resp)
}
