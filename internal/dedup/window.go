package dedup

import (
	"sync"
	"time"

	"github.com/snfwatch/billwatch/internal/models"
)

// Window holds recently emitted alerts per bill. Implementations must be
// safe for concurrent use.
type Window interface {
	Recent(billID string, since time.Time) ([]models.Alert, error)
	Add(alert models.Alert) error
}

// MemoryWindow is an in-process, time-bounded Window
type MemoryWindow struct {
	mu     sync.Mutex
	span   time.Duration
	byBill map[string][]models.Alert
}

var _ Window = (*MemoryWindow)(nil)

// NewMemoryWindow creates a window retaining alerts for span
func NewMemoryWindow(span time.Duration) *MemoryWindow {
	return &MemoryWindow{
		span:   span,
		byBill: make(map[string][]models.Alert),
	}
}

// Recent returns alerts for a bill created at or after since, oldest first
func (w *MemoryWindow) Recent(billID string, since time.Time) ([]models.Alert, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []models.Alert
	for _, a := range w.byBill[billID] {
		if !a.CreatedAt.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Add records an alert and drops entries for the bill older than the span
func (w *MemoryWindow) Add(alert models.Alert) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := alert.CreatedAt.Add(-w.span)
	kept := w.byBill[alert.BillID][:0]
	for _, a := range w.byBill[alert.BillID] {
		if !a.CreatedAt.Before(cutoff) {
			kept = append(kept, a)
		}
	}
	w.byBill[alert.BillID] = append(kept, alert)
	return nil
}

// Prune drops every entry older than before and returns how many were removed
func (w *MemoryWindow) Prune(before time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	removed := 0
	for billID, alerts := range w.byBill {
		kept := alerts[:0]
		for _, a := range alerts {
			if a.CreatedAt.Before(before) {
				removed++
				continue
			}
			kept = append(kept, a)
		}
		if len(kept) == 0 {
			delete(w.byBill, billID)
		} else {
			w.byBill[billID] = kept
		}
	}
	return removed
}

// Len returns the number of alerts held
func (w *MemoryWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := 0
	for _, alerts := range w.byBill {
		n += len(alerts)
	}
	return n
}
