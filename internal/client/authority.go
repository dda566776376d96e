package client

import (
	"time"

	"github.com/example/resq-relay/internal/alerts"
	"github.com/example/resq-relay/internal/models"
	"github.com/example/resq-relay/internal/protocol"
)

// RescueLogEntry is one completed rescue as the authority dashboard sees it.
type RescueLogEntry struct {
	RequestID string
	Location  models.Coord
	At        time.Time
}

type AuthorityState struct {
	Log    []RescueLogEntry
	Alerts []models.Alert
}

// Authority folds rescue_log events and tracks issued alerts. Not safe for
// concurrent use.
type Authority struct {
	state      AuthorityState
	seenLog    map[string]bool
	seenAlerts map[string]bool
}

func NewAuthority() *Authority {
	return &Authority{
		seenLog:    make(map[string]bool),
		seenAlerts: make(map[string]bool),
	}
}

func (a *Authority) State() AuthorityState { return a.state }

// BroadcastAlert produces the broadcast_alert envelope for a known disaster
// type. Unknown types are refused locally rather than bounced off the relay.
func (a *Authority) BroadcastAlert(disasterType string) (protocol.Message, error) {
	if !alerts.Known(disasterType) {
		return nil, alerts.ErrUnknownDisasterType
	}
	return &protocol.BroadcastAlert{DisasterType: disasterType}, nil
}

// Apply folds one remote envelope; duplicate rescue log entries (reconnect
// replay) are no-ops.
func (a *Authority) Apply(msg protocol.Message) bool {
	switch m := msg.(type) {
	case *protocol.RescueLog:
		return a.addLog(RescueLogEntry{RequestID: m.RequestID, Location: m.Location, At: m.Timestamp})
	case *protocol.SyncState:
		changed := false
		for _, ev := range m.RescueLog {
			if ev.Kind != models.EventRescued {
				continue
			}
			changed = a.addLog(RescueLogEntry{RequestID: ev.RequestID, Location: ev.Location, At: ev.At}) || changed
		}
		for _, al := range m.Alerts {
			changed = a.addAlert(al) || changed
		}
		return changed
	}
	return false
}

func (a *Authority) addLog(e RescueLogEntry) bool {
	if a.seenLog[e.RequestID] {
		return false
	}
	a.seenLog[e.RequestID] = true
	a.state.Log = append(a.state.Log, e)
	return true
}

func (a *Authority) addAlert(al models.Alert) bool {
	if a.seenAlerts[al.ID] {
		return false
	}
	a.seenAlerts[al.ID] = true
	a.state.Alerts = append([]models.Alert{al}, a.state.Alerts...)
	return true
}
