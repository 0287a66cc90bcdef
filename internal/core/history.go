package core

// history.go keeps a bounded in-memory log of committed operations
// for the history panel. Entries are recorded only after a successful
// commit and are never consulted by the save path; there is no undo.

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kinds of committed operations.
const (
	HistoryBatchSave  = "batch_save"
	HistoryCellUpdate = "cell_update"
	HistoryRowDelete  = "row_delete"
)

// HistoryEntry describes one committed operation.
type HistoryEntry struct {
	ID     string    `json:"id"`
	Time   time.Time `json:"time"`
	Kind   string    `json:"kind"`
	Schema string    `json:"schema"`
	Table  string    `json:"table"`
	Rows   int       `json:"rows"`
	Cells  int       `json:"cells,omitempty"`
}

// HistoryLog is a fixed-capacity ring of the most recent committed
// operations. Safe for concurrent use; handlers read it while saves
// record into it.
type HistoryLog struct {
	mu      sync.Mutex
	entries []HistoryEntry
	limit   int
}

// NewHistoryLog creates a log retaining at most limit entries.
func NewHistoryLog(limit int) *HistoryLog {
	return &HistoryLog{limit: limit}
}

// Record appends an entry, stamping ID and time, and evicts the oldest
// entries beyond the limit.
func (h *HistoryLog) Record(entry HistoryEntry) {
	entry.ID = uuid.NewString()
	entry.Time = time.Now().UTC()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
	if overflow := len(h.entries) - h.limit; overflow > 0 {
		h.entries = append(h.entries[:0:0], h.entries[overflow:]...)
	}
}

// Entries returns the retained entries, newest first.
func (h *HistoryLog) Entries() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HistoryEntry, len(h.entries))
	for i, e := range h.entries {
		out[len(h.entries)-1-i] = e
	}
	return out
}
