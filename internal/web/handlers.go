package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pgboard/pgboard/internal/core"
	"github.com/pgboard/pgboard/internal/logging"
)

// handleListTables returns the user tables visible to the connection.
func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.service.ListTables(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"tables": tables})
}

// handleColumns returns the column catalog for a table. Clients diff
// consecutive responses to detect schema drift for their open editors.
func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	schema, table, ok := tableParams(w, r)
	if !ok {
		return
	}

	columns, err := s.service.FetchColumns(r.Context(), schema, table)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"columns": columns})
}

// handleRows returns one page of rows, ordered by primary key.
func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	schema, table, ok := tableParams(w, r)
	if !ok {
		return
	}

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "pageSize", 50)

	result, err := s.service.FetchRows(r.Context(), schema, table, page, pageSize)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// handleSaveBatch commits a set of creates and updates in a single
// transaction. Constraint failures are not HTTP errors: the result body
// identifies the failing operation and the client annotates one cell.
func (s *Server) handleSaveBatch(w http.ResponseWriter, r *http.Request) {
	schema, table, ok := tableParams(w, r)
	if !ok {
		return
	}

	var batch core.BatchChanges
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(batch.Creates) == 0 && len(batch.Updates) == 0 {
		writeJSON(w, core.BatchSaveResult{Success: true})
		return
	}

	logger := logging.WithFields(r.Context(), "schema", schema, "table", table)
	result, err := s.service.SaveBatch(r.Context(), schema, table, batch)
	if err != nil {
		logger.Error("batch save failed", "error", err)
		s.respondError(w, r, err)
		return
	}
	if result.Success {
		logger.Info("batch save committed",
			"creates", len(batch.Creates),
			"updates", len(batch.Updates),
		)
	} else {
		logger.Warn("batch save rejected", "code", result.ErrorCode, "column", result.FailedColumn)
	}
	writeJSON(w, result)
}

// handleUpdateRow applies one row's column values, for the
// save-this-cell-only action.
func (s *Server) handleUpdateRow(w http.ResponseWriter, r *http.Request) {
	schema, table, ok := tableParams(w, r)
	if !ok {
		return
	}

	var upd core.RowUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(upd.PrimaryKey) == 0 || len(upd.Data) == 0 {
		writeError(w, http.StatusBadRequest, "primaryKey and data are required")
		return
	}

	if err := s.service.UpdateRow(r.Context(), schema, table, upd); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

// handleDeleteRow removes one row by primary key.
func (s *Server) handleDeleteRow(w http.ResponseWriter, r *http.Request) {
	schema, table, ok := tableParams(w, r)
	if !ok {
		return
	}

	var req struct {
		PrimaryKey core.RowData `json:"primaryKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.PrimaryKey) == 0 {
		writeError(w, http.StatusBadRequest, "primaryKey is required")
		return
	}

	if err := s.service.DeleteRow(r.Context(), schema, table, req.PrimaryKey); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

// handleHistory returns the retained committed operations, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"history": s.service.History().Entries()})
}

// tableParams extracts and checks the schema and table URL parameters.
func tableParams(w http.ResponseWriter, r *http.Request) (schema, table string, ok bool) {
	schema = chi.URLParam(r, "schema")
	table = chi.URLParam(r, "table")
	if schema == "" || table == "" {
		writeError(w, http.StatusBadRequest, "missing schema or table")
		return "", "", false
	}
	return schema, table, true
}

// queryInt reads an integer query parameter with a fallback.
func queryInt(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
