package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/cuttrack/dwp"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(ctx forge.Context, msg string) error {
	return ctx.Status(http.StatusBadRequest).JSON(ErrorResponse{Error: msg, Code: http.StatusBadRequest})
}

// errorResponse maps an engine error onto the status DWP would use for it.
// Failures the caller cannot fix are logged.
func (a *API) errorResponse(err error) ErrorResponse {
	status := dwp.CodeForError(err)
	if status == http.StatusInternalServerError {
		a.logger.Error("api: request failed", slog.String("error", err.Error()))
	}
	return ErrorResponse{Error: err.Error(), Code: status}
}

func (a *API) fail(ctx forge.Context, err error) error {
	resp := a.errorResponse(err)
	return ctx.Status(resp.Code).JSON(resp)
}
