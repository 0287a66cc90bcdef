package core

// buffer.go holds the in-memory diff between the rows a table view
// displays and what the user has typed but not yet saved.
//
// The buffer tracks two kinds of entries keyed by RowKey:
//   - UpdateRow: per-cell edits on an existing row (self-pruning: an
//     edit back to the original value disappears)
//   - CreateRow: staged new rows that only exist client-side
//
// A parallel map carries per-cell validation errors, set either by the
// local validator or by the PG error mapper after a failed save. Every
// operation is a synchronous total function over the current maps;
// invalid arguments are no-ops, never errors.

import "sort"

// cellRef addresses one cell in the buffer.
type cellRef struct {
	row    RowKey
	column string
}

// EditBuffer owns the canonical map of pending row and cell changes
// for one table-view session. It is not safe for concurrent use; all
// mutations happen on the session's event loop.
type EditBuffer struct {
	changes map[RowKey]RowChange
	order   []RowKey // insertion order, drives batch projection
	errors  map[cellRef]ValidationError
	version uint64
}

// NewEditBuffer returns an empty buffer.
func NewEditBuffer() *EditBuffer {
	return &EditBuffer{
		changes: make(map[RowKey]RowChange),
		errors:  make(map[cellRef]ValidationError),
	}
}

// Version returns a counter incremented on every mutation, so derived
// state can be cached and invalidated cheaply.
func (b *EditBuffer) Version() uint64 {
	return b.version
}

// bump marks the buffer as mutated.
func (b *EditBuffer) bump() {
	b.version++
}

// SetCellValue records a pending edit on an existing row. If newValue
// equals originalValue the pending change for that cell is removed
// instead (and the row entry collapses once its last change goes).
// The primaryKey snapshot is captured on the row's first edit only.
func (b *EditBuffer) SetCellValue(rowKey RowKey, primaryKey RowData, column string, originalValue, newValue any) {
	b.bump()
	delete(b.errors, cellRef{rowKey, column})

	if valuesEqual(newValue, originalValue) {
		b.removeUpdateChange(rowKey, column)
		return
	}

	change := CellChange{Column: column, OriginalValue: originalValue, NewValue: newValue}

	entry, ok := b.changes[rowKey]
	if !ok {
		b.changes[rowKey] = UpdateRow{
			PrimaryKey: cloneRowData(primaryKey),
			Changes:    []CellChange{change},
		}
		b.order = append(b.order, rowKey)
		return
	}

	upd, ok := entry.(UpdateRow)
	if !ok {
		// Row is a staged create; cell edits on it go through UpdateNewRow.
		return
	}

	cells := make([]CellChange, 0, len(upd.Changes)+1)
	replaced := false
	for _, c := range upd.Changes {
		if c.Column == column {
			cells = append(cells, change)
			replaced = true
		} else {
			cells = append(cells, c)
		}
	}
	if !replaced {
		cells = append(cells, change)
	}
	upd.Changes = cells
	b.changes[rowKey] = upd
}

// removeUpdateChange drops the pending change for one cell of an
// update entry, deleting the entry when it becomes empty.
func (b *EditBuffer) removeUpdateChange(rowKey RowKey, column string) {
	entry, ok := b.changes[rowKey]
	if !ok {
		return
	}
	upd, ok := entry.(UpdateRow)
	if !ok {
		return
	}

	cells := upd.Changes[:0:0]
	for _, c := range upd.Changes {
		if c.Column != column {
			cells = append(cells, c)
		}
	}
	if len(cells) == 0 {
		b.deleteRow(rowKey)
		return
	}
	upd.Changes = cells
	b.changes[rowKey] = upd
}

// deleteRow removes a row entry, its ordering slot, and any cell
// errors attached to it.
func (b *EditBuffer) deleteRow(rowKey RowKey) {
	delete(b.changes, rowKey)
	for i, k := range b.order {
		if k == rowKey {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	for ref := range b.errors {
		if ref.row == rowKey {
			delete(b.errors, ref)
		}
	}
}

// GetCellValue returns the pending value for a cell. ok is false when
// no pending value exists, letting callers fall back to the
// last-fetched server value.
func (b *EditBuffer) GetCellValue(rowKey RowKey, column string) (value any, ok bool) {
	entry, found := b.changes[rowKey]
	if !found {
		return nil, false
	}
	switch rc := entry.(type) {
	case UpdateRow:
		for _, c := range rc.Changes {
			if c.Column == column {
				return c.NewValue, true
			}
		}
	case CreateRow:
		if v, has := rc.Data[column]; has {
			return v, true
		}
	}
	return nil, false
}

// HasCellChange reports whether a cell has a pending edit.
func (b *EditBuffer) HasCellChange(rowKey RowKey, column string) bool {
	_, ok := b.GetCellValue(rowKey, column)
	return ok
}

// DiscardCellChange removes one pending cell edit, collapsing the row
// entry if it was the last one. No-op for cells without changes.
func (b *EditBuffer) DiscardCellChange(rowKey RowKey, column string) {
	b.bump()
	delete(b.errors, cellRef{rowKey, column})
	b.removeUpdateChange(rowKey, column)
}

// AddNewRow stages a new row under the given temp ID.
func (b *EditBuffer) AddNewRow(tempID string, data RowData) {
	b.bump()
	key := NewRowKey(tempID)
	if _, exists := b.changes[key]; !exists {
		b.order = append(b.order, key)
	}
	b.changes[key] = CreateRow{TempID: tempID, Data: cloneRowData(data)}
}

// UpdateNewRow sets one field of a staged new row. No-op if the temp
// ID was never staged.
func (b *EditBuffer) UpdateNewRow(tempID, column string, value any) {
	key := NewRowKey(tempID)
	entry, ok := b.changes[key]
	if !ok {
		return
	}
	create, ok := entry.(CreateRow)
	if !ok {
		return
	}
	b.bump()
	delete(b.errors, cellRef{key, column})

	data := cloneRowData(create.Data)
	if data == nil {
		data = make(RowData)
	}
	data[column] = value
	create.Data = data
	b.changes[key] = create
}

// RemoveNewRow unstages a new row. No-op if the temp ID is unknown.
func (b *EditBuffer) RemoveNewRow(tempID string) {
	key := NewRowKey(tempID)
	if _, ok := b.changes[key]; !ok {
		return
	}
	b.bump()
	b.deleteRow(key)
}

// GetNewRows returns all staged new rows in insertion order. The
// returned data maps are copies.
func (b *EditBuffer) GetNewRows() []RowCreate {
	var out []RowCreate
	for _, key := range b.order {
		if create, ok := b.changes[key].(CreateRow); ok {
			out = append(out, RowCreate{TempID: create.TempID, Data: cloneRowData(create.Data)})
		}
	}
	return out
}

// DiscardAll clears the entire buffer, dropping every pending change,
// staged row, and cell error.
func (b *EditBuffer) DiscardAll() {
	b.bump()
	b.changes = make(map[RowKey]RowChange)
	b.order = nil
	b.errors = make(map[cellRef]ValidationError)
}

// MarkSaved clears the buffer after a successful batch save. Same
// effect as DiscardAll; the name records caller intent.
func (b *EditBuffer) MarkSaved() {
	b.DiscardAll()
}

// ChangesForSave projects the buffer into the request shape of the
// transactional save endpoint. Creates and updates each appear in
// insertion order; each update's Data is the column-to-newValue map of
// its pending changes.
func (b *EditBuffer) ChangesForSave() BatchChanges {
	batch := BatchChanges{
		Creates: []RowCreate{},
		Updates: []RowUpdate{},
	}
	for _, key := range b.order {
		switch rc := b.changes[key].(type) {
		case CreateRow:
			batch.Creates = append(batch.Creates, RowCreate{TempID: rc.TempID, Data: cloneRowData(rc.Data)})
		case UpdateRow:
			data := make(RowData, len(rc.Changes))
			for _, c := range rc.Changes {
				data[c.Column] = c.NewValue
			}
			batch.Updates = append(batch.Updates, RowUpdate{PrimaryKey: cloneRowData(rc.PrimaryKey), Data: data})
		}
	}
	return batch
}

// CellChangeForSave returns the pending change for one cell of an
// update entry, for the save-this-cell-only path. ok is false for
// staged new rows and cells without changes.
func (b *EditBuffer) CellChangeForSave(rowKey RowKey, column string) (RowUpdate, bool) {
	upd, ok := b.changes[rowKey].(UpdateRow)
	if !ok {
		return RowUpdate{}, false
	}
	for _, c := range upd.Changes {
		if c.Column == column {
			return RowUpdate{
				PrimaryKey: cloneRowData(upd.PrimaryKey),
				Data:       RowData{column: c.NewValue},
			}, true
		}
	}
	return RowUpdate{}, false
}

// MarkCellSaved removes one cell's pending change after a successful
// single-cell save, collapsing the row entry if empty.
func (b *EditBuffer) MarkCellSaved(rowKey RowKey, column string) {
	b.DiscardCellChange(rowKey, column)
}

// SetCellError attaches a validation error to a cell.
func (b *EditBuffer) SetCellError(rowKey RowKey, column string, err ValidationError) {
	b.bump()
	b.errors[cellRef{rowKey, column}] = err
}

// ClearCellError removes a cell's validation error, if any.
func (b *EditBuffer) ClearCellError(rowKey RowKey, column string) {
	b.bump()
	delete(b.errors, cellRef{rowKey, column})
}

// CellError returns the validation error attached to a cell.
func (b *EditBuffer) CellError(rowKey RowKey, column string) (ValidationError, bool) {
	err, ok := b.errors[cellRef{rowKey, column}]
	return err, ok
}

// HasValidationErrors reports whether any cell carries an unresolved
// validation error. A save is blocked while this is true.
func (b *EditBuffer) HasValidationErrors() bool {
	return len(b.errors) > 0
}

// State computes the derived snapshot of the buffer.
func (b *EditBuffer) State() PendingChangesState {
	st := PendingChangesState{
		Version:    b.version,
		RowCount:   len(b.changes),
		ErrorCount: len(b.errors),
	}
	st.IsDirty = st.RowCount > 0
	for _, entry := range b.changes {
		switch rc := entry.(type) {
		case CreateRow:
			st.NewRowCount++
			st.ChangeCount += len(rc.Data)
		case UpdateRow:
			st.ChangeCount += len(rc.Changes)
		}
	}
	return st
}

// EditedColumns returns the distinct column names touched by any
// pending change, sorted. Staged new rows contribute their staged
// fields.
func (b *EditBuffer) EditedColumns() []string {
	seen := make(map[string]struct{})
	for _, entry := range b.changes {
		switch rc := entry.(type) {
		case CreateRow:
			for col := range rc.Data {
				seen[col] = struct{}{}
			}
		case UpdateRow:
			for _, c := range rc.Changes {
				seen[c.Column] = struct{}{}
			}
		}
	}
	cols := make([]string, 0, len(seen))
	for col := range seen {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// editedCells returns one entry per pending cell edit (column names,
// with repeats across rows). Used for drift summaries where each edit
// counts separately.
func (b *EditBuffer) editedCells() []string {
	var cells []string
	for _, key := range b.order {
		switch rc := b.changes[key].(type) {
		case CreateRow:
			cols := make([]string, 0, len(rc.Data))
			for col := range rc.Data {
				cols = append(cols, col)
			}
			sort.Strings(cols)
			cells = append(cells, cols...)
		case UpdateRow:
			for _, c := range rc.Changes {
				cells = append(cells, c.Column)
			}
		}
	}
	return cells
}

// DiscardColumns removes all pending edits touching the given columns,
// across update entries and staged-row fields. Rows left without any
// pending change collapse. Used by drift recovery to drop edits on
// columns that no longer exist.
func (b *EditBuffer) DiscardColumns(columns []string) {
	if len(columns) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		drop[c] = struct{}{}
	}
	b.bump()

	keys := append([]RowKey(nil), b.order...)
	for _, key := range keys {
		switch rc := b.changes[key].(type) {
		case CreateRow:
			data := cloneRowData(rc.Data)
			for col := range drop {
				delete(data, col)
				delete(b.errors, cellRef{key, col})
			}
			rc.Data = data
			b.changes[key] = rc
		case UpdateRow:
			cells := rc.Changes[:0:0]
			for _, c := range rc.Changes {
				if _, gone := drop[c.Column]; gone {
					delete(b.errors, cellRef{key, c.Column})
					continue
				}
				cells = append(cells, c)
			}
			if len(cells) == 0 {
				b.deleteRow(key)
				continue
			}
			rc.Changes = cells
			b.changes[key] = rc
		}
	}
}
