package core

// drift.go detects when the table's column catalog has changed under
// an active edit session and drives the recovery flow that reconciles
// pending edits against the new catalog.
//
// Drift is raised two ways:
//   - reactively, when a save attempt fails with a schema-category
//     error code (see schema_errors.go)
//   - proactively, when a fresh column fetch shows that a column some
//     pending edit references was removed or changed type, before the
//     next save would fail opaquely
//
// The recovery state machine:
//
//	Closed -> Open        (drift detected)
//	Open   -> Refreshing  (user confirms refresh)
//	Refreshing -> Closed  (refresh + optional retry succeeded)
//	Refreshing -> Open    (refresh or retry failed; edits kept)
//	Open   -> Closed      (user cancels, keeping stale schema and all edits)

import (
	"context"
	"sort"
)

// RecoveryPhase is the state of the drift recovery flow.
type RecoveryPhase int

const (
	RecoveryClosed RecoveryPhase = iota
	RecoveryOpen
	RecoveryRefreshing
)

// RecoveryState is the snapshot exposed to the recovery modal.
type RecoveryState struct {
	IsOpen           bool                `json:"isOpen"`
	ErrorDescription string              `json:"errorDescription,omitempty"`
	PendingEdits     *PendingEditSummary `json:"pendingEdits,omitempty"`
	IsRefreshing     bool                `json:"isRefreshing"`
}

// RecoveryHooks are the collaborator calls the recovery flow performs
// on refresh. FetchColumns and RefreshRows must be set; Retry is
// optional and re-attempts the operation that originally failed.
type RecoveryHooks struct {
	FetchColumns func(ctx context.Context) ([]Column, error)
	RefreshRows  func(ctx context.Context) error
	Retry        func(ctx context.Context) error
}

// Recovery owns the drift recovery flow for one edit session.
type Recovery struct {
	buffer *EditBuffer
	hooks  RecoveryHooks

	// applyColumns hands refreshed column metadata back to the session.
	applyColumns func([]Column)
	// currentColumns reads the catalog the buffer was built against.
	currentColumns func() []Column

	phase       RecoveryPhase
	description string
	summary     *PendingEditSummary
	lostColumns []string
}

// NewRecovery wires a recovery flow to a buffer and its session.
func NewRecovery(buffer *EditBuffer, hooks RecoveryHooks, currentColumns func() []Column, applyColumns func([]Column)) *Recovery {
	return &Recovery{
		buffer:         buffer,
		hooks:          hooks,
		currentColumns: currentColumns,
		applyColumns:   applyColumns,
	}
}

// Phase returns the current state machine phase.
func (r *Recovery) Phase() RecoveryPhase {
	return r.phase
}

// State returns the snapshot for the recovery modal.
func (r *Recovery) State() RecoveryState {
	return RecoveryState{
		IsOpen:           r.phase != RecoveryClosed,
		ErrorDescription: r.description,
		PendingEdits:     r.summary,
		IsRefreshing:     r.phase == RecoveryRefreshing,
	}
}

// TriggerReactive opens the recovery flow from a failed save carrying
// a schema-category error code. No cell is annotated: the failure is a
// catalog mismatch, not a bad value. Without fresh columns the summary
// assumes all edits are preservable until the refresh refines it.
func (r *Recovery) TriggerReactive(code string) {
	if r.phase == RecoveryRefreshing {
		return
	}
	desc := SchemaErrorDescription(code)
	if desc == "" {
		desc = SchemaErrorDescription(SchemaDriftCode)
	}
	total := len(r.buffer.editedCells())
	r.phase = RecoveryOpen
	r.description = desc
	r.summary = &PendingEditSummary{Total: total, Preservable: total, LostColumns: []string{}}
	r.lostColumns = nil
}

// TriggerProactive opens the recovery flow from a fresh column fetch
// that shows drift against the catalog the buffer was built on.
func (r *Recovery) TriggerProactive(newColumns []Column) {
	if r.phase == RecoveryRefreshing {
		return
	}
	summary := ComputePendingEditSummary(r.buffer, r.currentColumns(), newColumns)
	r.phase = RecoveryOpen
	r.description = SchemaErrorDescription(SchemaDriftCode)
	r.summary = &summary
	r.lostColumns = summary.LostColumns
}

// HandleRefresh runs the user-confirmed recovery sequence: refetch
// columns, refetch rows, discard edits on lost columns (never on
// preservable ones), then optionally retry the failed operation.
// Any failure returns to Open with the error recorded and every
// remaining pending edit intact for another attempt.
func (r *Recovery) HandleRefresh(ctx context.Context) error {
	if r.phase != RecoveryOpen {
		return nil
	}
	r.phase = RecoveryRefreshing

	newColumns, err := r.hooks.FetchColumns(ctx)
	if err != nil {
		r.reopen("schema refresh failed: " + err.Error())
		return err
	}

	// Refine the summary now that the real catalog is known.
	summary := ComputePendingEditSummary(r.buffer, r.currentColumns(), newColumns)
	r.summary = &summary
	r.lostColumns = summary.LostColumns

	if err := r.hooks.RefreshRows(ctx); err != nil {
		r.reopen("row refresh failed: " + err.Error())
		return err
	}

	r.applyColumns(newColumns)
	r.buffer.DiscardColumns(r.lostColumns)

	if r.hooks.Retry != nil {
		if err := r.hooks.Retry(ctx); err != nil {
			r.reopen("retry failed: " + err.Error())
			return err
		}
	}

	r.phase = RecoveryClosed
	r.description = ""
	r.summary = nil
	r.lostColumns = nil
	return nil
}

// HandleCancel closes the flow without refreshing or discarding
// anything. The user keeps working against possibly-stale schema; the
// next save re-triggers drift detection if the mismatch persists.
func (r *Recovery) HandleCancel() {
	if r.phase == RecoveryRefreshing {
		return
	}
	r.phase = RecoveryClosed
	r.description = ""
	r.summary = nil
	r.lostColumns = nil
}

// reopen returns from Refreshing to Open with an updated description,
// leaving all pending edits untouched.
func (r *Recovery) reopen(description string) {
	r.phase = RecoveryOpen
	r.description = description
}

// ComputePendingEditSummary classifies the buffer's pending edits
// against a new column catalog. An edit is preservable when its column
// still exists with an unchanged type; removed or retyped columns make
// it lost. Column type changes during drift are never coerced: such
// edits are always lost, never reinterpreted.
func ComputePendingEditSummary(buffer *EditBuffer, oldColumns, newColumns []Column) PendingEditSummary {
	newByName := make(map[string]Column, len(newColumns))
	for _, c := range newColumns {
		newByName[c.Name] = c
	}
	oldByName := make(map[string]Column, len(oldColumns))
	for _, c := range oldColumns {
		oldByName[c.Name] = c
	}

	summary := PendingEditSummary{LostColumns: []string{}}
	lostSet := make(map[string]struct{})

	for _, col := range buffer.editedCells() {
		summary.Total++
		if columnPreserved(col, oldByName, newByName) {
			summary.Preservable++
		} else {
			summary.Lost++
			lostSet[col] = struct{}{}
		}
	}

	for col := range lostSet {
		summary.LostColumns = append(summary.LostColumns, col)
	}
	sort.Strings(summary.LostColumns)
	return summary
}

// columnPreserved reports whether a column survived the catalog change
// with the same underlying type.
func columnPreserved(name string, oldByName, newByName map[string]Column) bool {
	newCol, exists := newByName[name]
	if !exists {
		return false
	}
	oldCol, hadOld := oldByName[name]
	if !hadOld {
		// The edit references a column the old catalog never had; only
		// existence in the new catalog can be checked.
		return true
	}
	return columnTypeName(oldCol) == columnTypeName(newCol)
}

// HasDrift reports whether any column referenced by a pending edit was
// removed or changed type between two catalog fetches. Drives the
// proactive trigger.
func HasDrift(buffer *EditBuffer, oldColumns, newColumns []Column) bool {
	if len(oldColumns) == 0 {
		return false
	}
	newByName := make(map[string]Column, len(newColumns))
	for _, c := range newColumns {
		newByName[c.Name] = c
	}
	oldByName := make(map[string]Column, len(oldColumns))
	for _, c := range oldColumns {
		oldByName[c.Name] = c
	}
	for _, col := range buffer.EditedColumns() {
		if !columnPreserved(col, oldByName, newByName) {
			return true
		}
	}
	return false
}

// columnTypeName is the type identity used for drift comparison.
func columnTypeName(c Column) string {
	if c.UdtName != "" {
		return c.UdtName
	}
	return c.Type
}
