package registry

import (
	"sync"

	"github.com/example/resq-relay/internal/models"
)

// Alerts retains every issued alert so reconnecting clients can recover
// missed broadcasts through a sync snapshot. Alerts are immutable once
// appended.
type Alerts struct {
	mu    sync.RWMutex
	items []models.Alert
	seen  map[string]bool
}

func NewAlerts() *Alerts {
	return &Alerts{seen: make(map[string]bool)}
}

// Append stores the alert. Re-appending an id is a no-op, which keeps the
// snapshot path idempotent.
func (a *Alerts) Append(alert models.Alert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seen[alert.ID] {
		return
	}
	a.seen[alert.ID] = true
	a.items = append(a.items, alert)
}

// All returns the alerts in issuance order.
func (a *Alerts) All() []models.Alert {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.Alert, len(a.items))
	copy(out, a.items)
	return out
}
