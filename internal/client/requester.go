package client

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/example/resq-relay/internal/models"
	"github.com/example/resq-relay/internal/protocol"
)

// Phase is the requester's SOS control state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseLocating  Phase = "locating"
	PhaseRequested Phase = "requested"
	PhaseAccepted  Phase = "accepted"
	PhaseRescued   Phase = "rescued"
)

// RescuedResetDelay is how long the rescued confirmation stays up before the
// control returns to idle.
const RescuedResetDelay = 30 * time.Second

var (
	ErrSOSInProgress = errors.New("an SOS is already in progress")
	ErrNotLocating   = errors.New("no location acquisition in progress")
)

// RequesterState is the view state derived from the envelope stream. Lists
// are newest first, the way the dashboards render them.
type RequesterState struct {
	Phase         Phase
	RequestID     string
	Responder     string
	LocationError bool
	Alerts        []models.Alert
	Resources     []models.Resource
}

// Requester folds remote envelopes and local actions into RequesterState.
// It is not safe for concurrent use; the runner owns it from one goroutine.
type Requester struct {
	state         RequesterState
	seenAlerts    map[string]bool
	seenResources map[string]bool

	now   func() time.Time
	newID func() string
}

func NewRequester() *Requester {
	return &Requester{
		state:         RequesterState{Phase: PhaseIdle},
		seenAlerts:    make(map[string]bool),
		seenResources: make(map[string]bool),
		now:           time.Now,
		newID:         func() string { return uuid.NewString() },
	}
}

func (r *Requester) State() RequesterState { return r.state }

// BeginSOS starts location acquisition. Valid from idle or rescued.
func (r *Requester) BeginSOS() error {
	switch r.state.Phase {
	case PhaseIdle, PhaseRescued:
		r.state.Phase = PhaseLocating
		r.state.LocationError = false
		return nil
	default:
		return ErrSOSInProgress
	}
}

// LocationAcquired emits the sos_request envelope and moves to requested.
func (r *Requester) LocationAcquired(loc models.Coord) (protocol.Message, error) {
	if r.state.Phase != PhaseLocating {
		return nil, ErrNotLocating
	}
	r.state.RequestID = r.newID()
	r.state.Responder = ""
	r.state.Phase = PhaseRequested
	return &protocol.SOSRequest{
		RequestID: r.state.RequestID,
		Location:  loc,
		Timestamp: r.now(),
	}, nil
}

// LocationFailed falls back to idle and flags the error for the UI layer.
func (r *Requester) LocationFailed() {
	if r.state.Phase == PhaseLocating {
		r.state.Phase = PhaseIdle
		r.state.LocationError = true
	}
}

// Cancel forces the machine back to idle from any state. If a request is
// still in flight it returns a cancel_request envelope to send; the relay
// applies it only while the request is pending.
func (r *Requester) Cancel() protocol.Message {
	var msg protocol.Message
	if r.state.Phase == PhaseRequested && r.state.RequestID != "" {
		msg = &protocol.CancelRequest{RequestID: r.state.RequestID}
	}
	r.state.Phase = PhaseIdle
	r.state.RequestID = ""
	r.state.Responder = ""
	return msg
}

// ResetAfterRescue returns the control to idle. The runner calls this
// RescuedResetDelay after entering rescued.
func (r *Requester) ResetAfterRescue() {
	if r.state.Phase == PhaseRescued {
		r.state.Phase = PhaseIdle
		r.state.RequestID = ""
		r.state.Responder = ""
	}
}

// Apply folds one remote envelope. Envelopes for foreign request ids, stale
// duplicates, and out-of-order deliveries are ignored; applying the same
// alert or resource twice is a no-op.
func (r *Requester) Apply(msg protocol.Message) bool {
	switch m := msg.(type) {
	case *protocol.SOSAccepted:
		if r.state.Phase == PhaseRequested && m.RequestID == r.state.RequestID {
			r.state.Phase = PhaseAccepted
			r.state.Responder = m.Responder
			return true
		}
	case *protocol.RequestUpdated:
		if m.RequestID != r.state.RequestID {
			return false
		}
		switch {
		case m.Status == models.StatusAccepted && r.state.Phase == PhaseRequested:
			r.state.Phase = PhaseAccepted
			r.state.Responder = m.Responder
			return true
		case m.Status == models.StatusRescued && r.state.Phase == PhaseAccepted:
			r.state.Phase = PhaseRescued
			return true
		}
	case *protocol.RescuedNotification:
		if r.state.Phase == PhaseAccepted && m.RequestID == r.state.RequestID {
			r.state.Phase = PhaseRescued
			return true
		}
	case *protocol.DisasterAlert:
		return r.addAlert(models.Alert{
			ID:           m.ID,
			DisasterType: m.DisasterType,
			Content:      m.Content,
			Guidelines:   m.Guidelines,
			IssuedAt:     m.Timestamp,
		})
	case *protocol.ResourceAdded:
		return r.addResource(m.Resource)
	case *protocol.SyncState:
		changed := false
		for _, a := range m.Alerts {
			changed = r.addAlert(a) || changed
		}
		for _, res := range m.Resources {
			changed = r.addResource(res) || changed
		}
		for _, req := range m.Requests {
			if req.ID != r.state.RequestID {
				continue
			}
			switch {
			case req.Status == models.StatusAccepted && r.state.Phase == PhaseRequested:
				r.state.Phase = PhaseAccepted
				r.state.Responder = req.Responder
				changed = true
			case req.Status == models.StatusRescued && (r.state.Phase == PhaseRequested || r.state.Phase == PhaseAccepted):
				r.state.Phase = PhaseRescued
				r.state.Responder = req.Responder
				changed = true
			}
		}
		return changed
	}
	return false
}

func (r *Requester) addAlert(a models.Alert) bool {
	if r.seenAlerts[a.ID] {
		return false
	}
	r.seenAlerts[a.ID] = true
	r.state.Alerts = append([]models.Alert{a}, r.state.Alerts...)
	return true
}

func (r *Requester) addResource(res models.Resource) bool {
	if r.seenResources[res.ID] {
		return false
	}
	r.seenResources[res.ID] = true
	r.state.Resources = append([]models.Resource{res}, r.state.Resources...)
	return true
}
