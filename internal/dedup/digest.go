package dedup

import (
	"fmt"
	"sync"
	"time"

	"github.com/snfwatch/billwatch/internal/models"
)

// PeriodKey names the digest period containing t
func PeriodKey(mode models.FrequencyMode, t time.Time) string {
	if mode == models.FrequencyWeekly {
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	}
	return t.Format("2006-01-02")
}

type groupKey struct {
	userID string
	mode   models.FrequencyMode
	period string
}

// DigestBook collects grouped alerts keyed by (user, period) and alerts held
// back during quiet hours. Flushes preserve insertion order.
type DigestBook struct {
	mu     sync.Mutex
	order  []groupKey
	groups map[groupKey][]models.Alert
	held   []models.Alert
}

// NewDigestBook creates an empty book
func NewDigestBook() *DigestBook {
	return &DigestBook{groups: make(map[groupKey][]models.Alert)}
}

// Add appends an alert to the user's group for the period containing at
func (b *DigestBook) Add(userID string, mode models.FrequencyMode, at time.Time, alert models.Alert) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := groupKey{userID: userID, mode: mode, period: PeriodKey(mode, at)}
	if _, ok := b.groups[key]; !ok {
		b.order = append(b.order, key)
	}
	b.groups[key] = append(b.groups[key], alert)
}

// Hold queues an alert until the user's quiet hours end
func (b *DigestBook) Hold(alert models.Alert) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.held = append(b.held, alert)
}

// Flush removes and returns every group of the given mode
func (b *DigestBook) Flush(mode models.FrequencyMode) []models.Digest {
	b.mu.Lock()
	defer b.mu.Unlock()

	var digests []models.Digest
	var remaining []groupKey
	for _, key := range b.order {
		if key.mode != mode {
			remaining = append(remaining, key)
			continue
		}
		digests = append(digests, models.Digest{
			UserID: key.userID,
			Mode:   key.mode,
			Period: key.period,
			Alerts: b.groups[key],
		})
		delete(b.groups, key)
	}
	b.order = remaining
	return digests
}

// Release returns held alerts for which ready reports true, keeping the rest
func (b *DigestBook) Release(ready func(models.Alert) bool) []models.Alert {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out, kept []models.Alert
	for _, a := range b.held {
		if ready(a) {
			out = append(out, a)
		} else {
			kept = append(kept, a)
		}
	}
	b.held = kept
	return out
}

// Pending counts grouped and held alerts
func (b *DigestBook) Pending() (grouped, held int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, alerts := range b.groups {
		grouped += len(alerts)
	}
	return grouped, len(b.held)
}
