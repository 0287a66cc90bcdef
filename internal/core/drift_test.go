package core

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func col(name, udt string) Column {
	return Column{Name: name, Type: udt, UdtName: udt}
}

func TestComputePendingEditSummary(t *testing.T) {
	b := NewEditBuffer()
	key := KeyForPrimaryKey(pkRow(1))
	b.SetCellValue(key, pkRow(1), "a", 1, 2)
	b.SetCellValue(key, pkRow(1), "b", "x", "y")

	oldCols := []Column{col("a", "int4"), col("b", "text")}
	newCols := []Column{col("a", "int4")} // b removed

	got := ComputePendingEditSummary(b, oldCols, newCols)
	want := PendingEditSummary{Total: 2, Preservable: 1, Lost: 1, LostColumns: []string{"b"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("summary = %+v, want %+v", got, want)
	}
}

func TestComputePendingEditSummaryTypeChange(t *testing.T) {
	b := NewEditBuffer()
	key := KeyForPrimaryKey(pkRow(1))
	b.SetCellValue(key, pkRow(1), "a", "1", "2")

	oldCols := []Column{col("a", "int4")}
	newCols := []Column{col("a", "text")} // retyped, never coerced

	got := ComputePendingEditSummary(b, oldCols, newCols)
	if got.Lost != 1 || got.Preservable != 0 {
		t.Fatalf("retyped column counted as preservable: %+v", got)
	}
}

func TestComputePendingEditSummaryCountsRepeats(t *testing.T) {
	b := NewEditBuffer()
	k1 := KeyForPrimaryKey(pkRow(1))
	k2 := KeyForPrimaryKey(pkRow(2))
	b.SetCellValue(k1, pkRow(1), "b", "x", "y")
	b.SetCellValue(k2, pkRow(2), "b", "p", "q")

	cols := []Column{col("b", "text")}
	got := ComputePendingEditSummary(b, cols, nil)
	if got.Total != 2 || got.Lost != 2 {
		t.Fatalf("per-cell counting wrong: %+v", got)
	}
	if !reflect.DeepEqual(got.LostColumns, []string{"b"}) {
		t.Fatalf("LostColumns = %v", got.LostColumns)
	}
}

func TestHasDrift(t *testing.T) {
	b := NewEditBuffer()
	key := KeyForPrimaryKey(pkRow(1))
	b.SetCellValue(key, pkRow(1), "a", 1, 2)

	oldCols := []Column{col("a", "int4"), col("b", "text")}

	// Removing an untouched column is not drift for this buffer.
	if HasDrift(b, oldCols, []Column{col("a", "int4")}) {
		t.Fatal("drift raised for untouched column")
	}
	if !HasDrift(b, oldCols, []Column{col("b", "text")}) {
		t.Fatal("no drift for removed edited column")
	}
	if !HasDrift(b, oldCols, []Column{col("a", "text"), col("b", "text")}) {
		t.Fatal("no drift for retyped edited column")
	}
	// Without a prior catalog nothing can be compared.
	if HasDrift(b, nil, []Column{col("a", "text")}) {
		t.Fatal("drift raised without a prior catalog")
	}
}

type recoveryEnv struct {
	buffer   *EditBuffer
	recovery *Recovery

	columns     []Column
	fetchErr    error
	refreshErr  error
	retryErr    error
	retried     int
	fetches     int
	applied     [][]Column
	fetchResult []Column
	onFetch     func()
}

func newRecoveryEnv(current, next []Column) *recoveryEnv {
	env := &recoveryEnv{buffer: NewEditBuffer(), columns: current, fetchResult: next}
	env.recovery = NewRecovery(
		env.buffer,
		RecoveryHooks{
			FetchColumns: func(context.Context) ([]Column, error) {
				env.fetches++
				if env.onFetch != nil {
					env.onFetch()
				}
				if env.fetchErr != nil {
					return nil, env.fetchErr
				}
				return env.fetchResult, nil
			},
			RefreshRows: func(context.Context) error { return env.refreshErr },
			Retry: func(context.Context) error {
				env.retried++
				return env.retryErr
			},
		},
		func() []Column { return env.columns },
		func(cols []Column) {
			env.columns = cols
			env.applied = append(env.applied, cols)
		},
	)
	return env
}

func TestRecoveryReactiveOpensAllPreservable(t *testing.T) {
	env := newRecoveryEnv([]Column{col("a", "int4")}, nil)
	key := KeyForPrimaryKey(pkRow(1))
	env.buffer.SetCellValue(key, pkRow(1), "a", 1, 2)

	env.recovery.TriggerReactive("42703")

	st := env.recovery.State()
	if !st.IsOpen || st.IsRefreshing {
		t.Fatalf("state = %+v", st)
	}
	if st.ErrorDescription == "" {
		t.Fatal("no error description")
	}
	if st.PendingEdits == nil || st.PendingEdits.Total != 1 || st.PendingEdits.Preservable != 1 {
		t.Fatalf("summary = %+v", st.PendingEdits)
	}
}

func TestRecoveryRefreshHappyPath(t *testing.T) {
	oldCols := []Column{col("a", "int4"), col("b", "text")}
	newCols := []Column{col("a", "int4")}
	env := newRecoveryEnv(oldCols, newCols)

	key := KeyForPrimaryKey(pkRow(1))
	env.buffer.SetCellValue(key, pkRow(1), "a", 1, 2)
	env.buffer.SetCellValue(key, pkRow(1), "b", "x", "y")

	env.recovery.TriggerReactive("42703")
	if err := env.recovery.HandleRefresh(context.Background()); err != nil {
		t.Fatalf("HandleRefresh: %v", err)
	}

	if env.recovery.Phase() != RecoveryClosed {
		t.Fatalf("phase = %v, want closed", env.recovery.Phase())
	}
	if len(env.applied) != 1 || !reflect.DeepEqual(env.applied[0], newCols) {
		t.Fatalf("new columns not applied: %v", env.applied)
	}
	// The lost column's edit is gone, the preservable one intact.
	if env.buffer.HasCellChange(key, "b") {
		t.Fatal("edit on removed column survived refresh")
	}
	if !env.buffer.HasCellChange(key, "a") {
		t.Fatal("preservable edit discarded")
	}
	if env.retried != 1 {
		t.Fatalf("retried = %d, want 1", env.retried)
	}
}

func TestRecoveryRefreshFetchFailureReopens(t *testing.T) {
	env := newRecoveryEnv([]Column{col("a", "int4")}, nil)
	key := KeyForPrimaryKey(pkRow(1))
	env.buffer.SetCellValue(key, pkRow(1), "a", 1, 2)
	env.fetchErr = errors.New("connection refused")

	env.recovery.TriggerReactive("42P01")
	if err := env.recovery.HandleRefresh(context.Background()); err == nil {
		t.Fatal("HandleRefresh swallowed the failure")
	}

	st := env.recovery.State()
	if !st.IsOpen || st.IsRefreshing {
		t.Fatalf("state after failed refresh = %+v", st)
	}
	if !env.buffer.HasCellChange(key, "a") {
		t.Fatal("pending edit lost on failed refresh")
	}
	if env.retried != 0 {
		t.Fatal("retry ran despite failed refresh")
	}
}

func TestRecoveryRetryFailureReopens(t *testing.T) {
	cols := []Column{col("a", "int4")}
	env := newRecoveryEnv(cols, cols)
	key := KeyForPrimaryKey(pkRow(1))
	env.buffer.SetCellValue(key, pkRow(1), "a", 1, 2)
	env.retryErr = errors.New("still failing")

	env.recovery.TriggerReactive("42703")
	if err := env.recovery.HandleRefresh(context.Background()); err == nil {
		t.Fatal("retry failure not surfaced")
	}
	if env.recovery.Phase() != RecoveryOpen {
		t.Fatalf("phase = %v, want open", env.recovery.Phase())
	}
	if !env.buffer.HasCellChange(key, "a") {
		t.Fatal("pending edit lost on failed retry")
	}
}

func TestRecoveryIgnoresReentryWhileRefreshing(t *testing.T) {
	cols := []Column{col("a", "int4")}
	env := newRecoveryEnv(cols, cols)
	key := KeyForPrimaryKey(pkRow(1))
	env.buffer.SetCellValue(key, pkRow(1), "a", 1, 2)

	env.recovery.TriggerReactive("42703")

	// While the refresh is outstanding, a second refresh, another
	// trigger, and a cancel must all be no-ops.
	var nestedErr error
	var phaseDuring RecoveryPhase
	env.onFetch = func() {
		nestedErr = env.recovery.HandleRefresh(context.Background())
		env.recovery.TriggerReactive("42P01")
		env.recovery.HandleCancel()
		phaseDuring = env.recovery.Phase()
	}

	if err := env.recovery.HandleRefresh(context.Background()); err != nil {
		t.Fatalf("HandleRefresh: %v", err)
	}
	if nestedErr != nil {
		t.Fatalf("nested HandleRefresh = %v, want nil no-op", nestedErr)
	}
	if phaseDuring != RecoveryRefreshing {
		t.Fatalf("phase during refresh = %v, want refreshing", phaseDuring)
	}
	// The nested refresh never ran the hooks again.
	if env.fetches != 1 {
		t.Fatalf("fetches = %d, want 1", env.fetches)
	}
	if env.retried != 1 {
		t.Fatalf("retried = %d, want 1", env.retried)
	}
	if env.recovery.Phase() != RecoveryClosed {
		t.Fatalf("final phase = %v, want closed", env.recovery.Phase())
	}
}

func TestRecoveryCancelKeepsEdits(t *testing.T) {
	env := newRecoveryEnv([]Column{col("a", "int4")}, nil)
	key := KeyForPrimaryKey(pkRow(1))
	env.buffer.SetCellValue(key, pkRow(1), "a", 1, 2)

	env.recovery.TriggerReactive("42703")
	env.recovery.HandleCancel()

	if env.recovery.Phase() != RecoveryClosed {
		t.Fatalf("phase = %v, want closed", env.recovery.Phase())
	}
	if !env.buffer.HasCellChange(key, "a") {
		t.Fatal("cancel discarded pending edits")
	}
	if len(env.applied) != 0 {
		t.Fatal("cancel applied new columns")
	}
}

func TestRecoveryProactiveSummary(t *testing.T) {
	oldCols := []Column{col("a", "int4"), col("b", "text")}
	newCols := []Column{col("a", "int4")}
	env := newRecoveryEnv(oldCols, newCols)

	key := KeyForPrimaryKey(pkRow(1))
	env.buffer.SetCellValue(key, pkRow(1), "a", 1, 2)
	env.buffer.SetCellValue(key, pkRow(1), "b", "x", "y")

	env.recovery.TriggerProactive(newCols)

	st := env.recovery.State()
	if st.PendingEdits == nil {
		t.Fatal("no summary")
	}
	want := PendingEditSummary{Total: 2, Preservable: 1, Lost: 1, LostColumns: []string{"b"}}
	if !reflect.DeepEqual(*st.PendingEdits, want) {
		t.Fatalf("summary = %+v, want %+v", *st.PendingEdits, want)
	}
}
