package web

// errors.go provides unified error response handling for the web layer.
//
// Full technical details are logged server-side with the request ID;
// clients get a sanitized JSON body with a stable code. Database
// constraint failures never reach this path: they travel as structured
// save results, not transport errors.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pgboard/pgboard/internal/core"
)

// ErrorResponse is the JSON structure for API error responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// respondError classifies an error from the service layer and writes
// the matching status and body.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	resp := ErrorResponse{Error: "internal server error"}

	var notFound *core.ErrTableNotFound
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
		resp.Error = notFound.Error()
		resp.Code = "42P01"
	case errors.Is(err, core.ErrRowVanished):
		status = http.StatusConflict
		resp.Error = core.ErrRowVanished.Error()
		resp.Code = core.SchemaDriftCode
	case errors.As(err, &pgErr):
		verr := core.MapPgConnError(pgErr)
		status = http.StatusUnprocessableEntity
		resp.Error = verr.Message
		resp.Code = verr.Code
	}

	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"request_id", middleware.GetReqID(r.Context()),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// writeError writes a JSON error response with a plain message.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
