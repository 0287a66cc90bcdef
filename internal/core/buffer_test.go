package core

import (
	"reflect"
	"testing"
)

func pkRow(id float64) RowData {
	return RowData{"id": id}
}

func TestSetCellValueAndRevert(t *testing.T) {
	b := NewEditBuffer()
	key := KeyForPrimaryKey(pkRow(1))

	b.SetCellValue(key, pkRow(1), "name", "old", "new")
	if v, ok := b.GetCellValue(key, "name"); !ok || v != "new" {
		t.Fatalf("GetCellValue = %v, %v; want new, true", v, ok)
	}
	if st := b.State(); !st.IsDirty || st.RowCount != 1 || st.ChangeCount != 1 {
		t.Fatalf("state after edit = %+v", st)
	}

	// Editing back to the original prunes the change and the row entry.
	b.SetCellValue(key, pkRow(1), "name", "old", "old")
	if _, ok := b.GetCellValue(key, "name"); ok {
		t.Fatal("change survived revert to original value")
	}
	if st := b.State(); st.IsDirty || st.RowCount != 0 {
		t.Fatalf("state after revert = %+v", st)
	}
}

func TestSetCellValueNumericEquality(t *testing.T) {
	b := NewEditBuffer()
	key := KeyForPrimaryKey(pkRow(1))

	// int64 from the driver vs float64 from JSON are the same value.
	b.SetCellValue(key, pkRow(1), "count", int64(5), float64(5))
	if st := b.State(); st.IsDirty {
		t.Fatalf("numeric revert not detected, state = %+v", st)
	}
}

func TestSetCellValueLastWriteWins(t *testing.T) {
	b := NewEditBuffer()
	key := KeyForPrimaryKey(pkRow(1))

	b.SetCellValue(key, pkRow(1), "name", "old", "first")
	b.SetCellValue(key, pkRow(1), "name", "old", "second")

	if st := b.State(); st.ChangeCount != 1 {
		t.Fatalf("ChangeCount = %d, want 1", st.ChangeCount)
	}
	if v, _ := b.GetCellValue(key, "name"); v != "second" {
		t.Fatalf("GetCellValue = %v, want second", v)
	}
}

func TestDiscardCellChangeCollapsesRow(t *testing.T) {
	b := NewEditBuffer()
	key := KeyForPrimaryKey(pkRow(1))

	b.SetCellValue(key, pkRow(1), "a", 1, 2)
	b.SetCellValue(key, pkRow(1), "b", "x", "y")
	b.DiscardCellChange(key, "a")

	if st := b.State(); st.RowCount != 1 || st.ChangeCount != 1 {
		t.Fatalf("state after partial discard = %+v", st)
	}
	b.DiscardCellChange(key, "b")
	if st := b.State(); st.IsDirty {
		t.Fatalf("state after full discard = %+v", st)
	}
}

func TestNewRowLifecycle(t *testing.T) {
	b := NewEditBuffer()

	b.AddNewRow("t1", RowData{"name": "alpha"})
	b.AddNewRow("t2", nil)
	b.UpdateNewRow("t2", "name", "beta")
	b.UpdateNewRow("missing", "name", "nope")

	rows := b.GetNewRows()
	if len(rows) != 2 {
		t.Fatalf("GetNewRows returned %d rows, want 2", len(rows))
	}
	if rows[0].TempID != "t1" || rows[1].TempID != "t2" {
		t.Fatalf("rows out of insertion order: %v, %v", rows[0].TempID, rows[1].TempID)
	}
	if rows[1].Data["name"] != "beta" {
		t.Fatalf("UpdateNewRow not applied: %v", rows[1].Data)
	}

	st := b.State()
	if st.NewRowCount != 2 || st.RowCount != 2 {
		t.Fatalf("state = %+v", st)
	}

	b.RemoveNewRow("t1")
	rows = b.GetNewRows()
	if len(rows) != 1 || rows[0].TempID != "t2" {
		t.Fatalf("after RemoveNewRow: %v", rows)
	}
}

func TestChangesForSaveProjection(t *testing.T) {
	b := NewEditBuffer()
	key := KeyForPrimaryKey(pkRow(7))

	b.AddNewRow("t1", RowData{"name": "alpha"})
	b.SetCellValue(key, pkRow(7), "name", "old", "new")
	b.SetCellValue(key, pkRow(7), "age", float64(30), float64(31))

	batch := b.ChangesForSave()
	if len(batch.Creates) != 1 || batch.Creates[0].TempID != "t1" {
		t.Fatalf("creates = %+v", batch.Creates)
	}
	if len(batch.Updates) != 1 {
		t.Fatalf("updates = %+v", batch.Updates)
	}
	upd := batch.Updates[0]
	if !reflect.DeepEqual(upd.PrimaryKey, pkRow(7)) {
		t.Fatalf("primary key = %v", upd.PrimaryKey)
	}
	want := RowData{"name": "new", "age": float64(31)}
	if !reflect.DeepEqual(upd.Data, want) {
		t.Fatalf("update data = %v, want %v", upd.Data, want)
	}

	// Reverted cells never appear in the projection.
	b.SetCellValue(key, pkRow(7), "age", float64(30), float64(30))
	batch = b.ChangesForSave()
	if _, has := batch.Updates[0].Data["age"]; has {
		t.Fatal("reverted cell leaked into save batch")
	}
}

func TestCellChangeForSave(t *testing.T) {
	b := NewEditBuffer()
	key := KeyForPrimaryKey(pkRow(7))
	b.SetCellValue(key, pkRow(7), "name", "old", "new")
	b.AddNewRow("t1", RowData{"name": "alpha"})

	upd, ok := b.CellChangeForSave(key, "name")
	if !ok {
		t.Fatal("CellChangeForSave = false for pending update")
	}
	if !reflect.DeepEqual(upd.Data, RowData{"name": "new"}) {
		t.Fatalf("data = %v", upd.Data)
	}
	if _, ok := b.CellChangeForSave(NewRowKey("t1"), "name"); ok {
		t.Fatal("staged new row reachable through cell-save path")
	}
	if _, ok := b.CellChangeForSave(key, "untouched"); ok {
		t.Fatal("cell without a change reachable through cell-save path")
	}
}

func TestCellErrorsBlockAndClear(t *testing.T) {
	b := NewEditBuffer()
	key := KeyForPrimaryKey(pkRow(1))

	b.SetCellValue(key, pkRow(1), "age", float64(1), "abc")
	b.SetCellError(key, "age", ValidationError{Code: CodeInvalidInteger, Message: "age must be a whole number"})

	if !b.HasValidationErrors() {
		t.Fatal("HasValidationErrors = false")
	}
	if st := b.State(); st.ErrorCount != 1 {
		t.Fatalf("ErrorCount = %d", st.ErrorCount)
	}

	// A new value for the cell clears its error.
	b.SetCellValue(key, pkRow(1), "age", float64(1), float64(2))
	if b.HasValidationErrors() {
		t.Fatal("error survived a new cell value")
	}
}

func TestMarkSavedClearsEverything(t *testing.T) {
	b := NewEditBuffer()
	key := KeyForPrimaryKey(pkRow(1))
	b.SetCellValue(key, pkRow(1), "name", "old", "new")
	b.AddNewRow("t1", RowData{"name": "alpha"})
	b.SetCellError(key, "name", ValidationError{Code: CodeDatabaseError, Message: "x"})

	b.MarkSaved()
	st := b.State()
	if st.IsDirty || st.ErrorCount != 0 || len(b.GetNewRows()) != 0 {
		t.Fatalf("buffer not empty after MarkSaved: %+v", st)
	}
}

func TestDiscardColumns(t *testing.T) {
	b := NewEditBuffer()
	k1 := KeyForPrimaryKey(pkRow(1))
	k2 := KeyForPrimaryKey(pkRow(2))

	b.SetCellValue(k1, pkRow(1), "a", 1, 2)
	b.SetCellValue(k1, pkRow(1), "b", "x", "y")
	b.SetCellValue(k2, pkRow(2), "b", "p", "q")
	b.AddNewRow("t1", RowData{"a": 1, "c": 3})

	b.DiscardColumns([]string{"b"})

	if b.HasCellChange(k1, "b") || b.HasCellChange(k2, "b") {
		t.Fatal("edits on discarded column survived")
	}
	if !b.HasCellChange(k1, "a") {
		t.Fatal("edit on surviving column dropped")
	}
	// Row 2 only had the lost column; its entry collapses.
	if st := b.State(); st.RowCount != 2 {
		t.Fatalf("RowCount = %d, want 2", st.RowCount)
	}

	rows := b.GetNewRows()
	if len(rows) != 1 || !reflect.DeepEqual(rows[0].Data, RowData{"a": 1, "c": 3}) {
		t.Fatalf("staged row changed unexpectedly: %v", rows)
	}
}

func TestEditedColumns(t *testing.T) {
	b := NewEditBuffer()
	key := KeyForPrimaryKey(pkRow(1))
	b.SetCellValue(key, pkRow(1), "b", 1, 2)
	b.AddNewRow("t1", RowData{"a": 1, "b": 2})

	got := b.EditedColumns()
	want := []string{"a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("EditedColumns = %v, want %v", got, want)
	}
}

func TestKeyForPrimaryKeyDeterminism(t *testing.T) {
	a := KeyForPrimaryKey(RowData{"x": 1, "y": "two"})
	b := KeyForPrimaryKey(RowData{"y": "two", "x": 1})
	if a != b {
		t.Fatalf("keys differ for identical primary keys: %q vs %q", a, b)
	}
	if a == KeyForPrimaryKey(RowData{"x": 1, "y": "three"}) {
		t.Fatal("different primary keys produced the same RowKey")
	}
	if !NewRowKey("t1").IsNew() || a.IsNew() {
		t.Fatal("IsNew misclassified a key")
	}
}

func TestKeyForPrimaryKeySeparatorValues(t *testing.T) {
	// Values containing the separator characters must not collapse
	// distinct primary keys onto one RowKey.
	a := KeyForPrimaryKey(RowData{"a": "1|b=2"})
	b := KeyForPrimaryKey(RowData{"a": "1", "b": "2"})
	if a == b {
		t.Fatal("distinct primary keys produced the same RowKey")
	}
	if KeyForPrimaryKey(RowData{"a": `x\|y`}) == KeyForPrimaryKey(RowData{"a": "x|y"}) {
		t.Fatal("escaped and raw separators collided")
	}
	if KeyForPrimaryKey(RowData{"a": "x", "b": nil}) == KeyForPrimaryKey(RowData{"a": "x", "b": `\0`}) {
		t.Fatal("NULL marker collided with a literal string value")
	}
}
