package client

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/example/resq-relay/internal/models"
	"github.com/example/resq-relay/internal/protocol"
)

var (
	ErrUnknownRequest    = errors.New("request not in local view")
	ErrRequestNotPending = errors.New("request is no longer pending")
	ErrRequestNotOurs    = errors.New("request is held by another responder")
	ErrEmptyResource     = errors.New("resource name and location are required")
)

// ResponderState is the responder org's derived view: a read-mostly cache of
// the registries, never their source of truth.
type ResponderState struct {
	Requests  []models.RescueRequest
	Resources []models.Resource
	Alerts    []models.Alert
}

// Responder folds registry envelopes into the org's view and produces the
// envelopes for its local actions. Not safe for concurrent use.
type Responder struct {
	// Handle identifies this org's team on accepted requests.
	Handle string

	state         ResponderState
	requestIdx    map[string]int
	seenResources map[string]bool
	seenAlerts    map[string]bool
}

func NewResponder() *Responder {
	return &Responder{
		Handle:        newTeamHandle(),
		requestIdx:    make(map[string]int),
		seenResources: make(map[string]bool),
		seenAlerts:    make(map[string]bool),
	}
}

func newTeamHandle() string {
	b := make([]byte, 2)
	_, _ = rand.Read(b)
	return "NGO-TEAM-" + strings.ToUpper(hex.EncodeToString(b))
}

func (r *Responder) State() ResponderState { return r.state }

// Accept produces the accept_request envelope for a request that is still
// pending in the local view. The relay remains the arbiter: a stale local
// view gets a request_already_accepted rejection back.
func (r *Responder) Accept(requestID string) (protocol.Message, error) {
	i, ok := r.requestIdx[requestID]
	if !ok {
		return nil, ErrUnknownRequest
	}
	if r.state.Requests[i].Status != models.StatusPending {
		return nil, ErrRequestNotPending
	}
	return &protocol.AcceptRequest{RequestID: requestID, Responder: r.Handle}, nil
}

// MarkRescued produces the mark_rescued envelope. Only valid for a request
// this org accepted.
func (r *Responder) MarkRescued(requestID string) (protocol.Message, error) {
	i, ok := r.requestIdx[requestID]
	if !ok {
		return nil, ErrUnknownRequest
	}
	req := r.state.Requests[i]
	if req.Status != models.StatusAccepted {
		return nil, ErrRequestNotPending
	}
	if req.Responder != r.Handle {
		return nil, ErrRequestNotOurs
	}
	return &protocol.MarkRescued{RequestID: requestID}, nil
}

// AddResource validates locally before transmission, per the input
// validation contract: empty required fields never reach the wire.
func (r *Responder) AddResource(name, category, location string) (protocol.Message, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(location) == "" {
		return nil, ErrEmptyResource
	}
	return &protocol.AddResource{Resource: protocol.NewResource{
		Name:     name,
		Category: category,
		Location: location,
	}}, nil
}

// Apply folds one remote envelope into the view. Unknown request ids on
// request_updated envelopes insert nothing; duplicate resources and alerts
// are no-ops.
func (r *Responder) Apply(msg protocol.Message) bool {
	switch m := msg.(type) {
	case *protocol.SOSRequest:
		return r.upsertRequest(models.RescueRequest{
			ID:        m.RequestID,
			Location:  m.Location,
			Status:    models.StatusPending,
			CreatedAt: m.Timestamp,
			UpdatedAt: m.Timestamp,
		})
	case *protocol.RequestUpdated:
		i, ok := r.requestIdx[m.RequestID]
		if !ok {
			return false
		}
		req := &r.state.Requests[i]
		if !statusAdvances(req.Status, m.Status) {
			return false
		}
		req.Status = m.Status
		if m.Responder != "" {
			req.Responder = m.Responder
		}
		return true
	case *protocol.RequestCanceled:
		i, ok := r.requestIdx[m.RequestID]
		if !ok {
			return false
		}
		r.state.Requests = append(r.state.Requests[:i], r.state.Requests[i+1:]...)
		delete(r.requestIdx, m.RequestID)
		for id, j := range r.requestIdx {
			if j > i {
				r.requestIdx[id] = j - 1
			}
		}
		return true
	case *protocol.ResourceAdded:
		return r.addResource(m.Resource)
	case *protocol.DisasterAlert:
		return r.addAlert(models.Alert{
			ID:           m.ID,
			DisasterType: m.DisasterType,
			Content:      m.Content,
			Guidelines:   m.Guidelines,
			IssuedAt:     m.Timestamp,
		})
	case *protocol.SyncState:
		changed := false
		for _, req := range m.Requests {
			changed = r.upsertRequest(req) || changed
		}
		for _, res := range m.Resources {
			changed = r.addResource(res) || changed
		}
		for _, a := range m.Alerts {
			changed = r.addAlert(a) || changed
		}
		return changed
	}
	return false
}

// statusAdvances enforces the monotonic lifecycle on the local cache so a
// late or replayed update can never regress a request.
func statusAdvances(from, to models.RequestStatus) bool {
	rank := map[models.RequestStatus]int{
		models.StatusPending:  0,
		models.StatusAccepted: 1,
		models.StatusRescued:  2,
	}
	return rank[to] > rank[from]
}

func (r *Responder) upsertRequest(req models.RescueRequest) bool {
	if i, ok := r.requestIdx[req.ID]; ok {
		existing := &r.state.Requests[i]
		if !statusAdvances(existing.Status, req.Status) {
			return false
		}
		existing.Status = req.Status
		if req.Responder != "" {
			existing.Responder = req.Responder
		}
		return true
	}
	// newest first
	r.state.Requests = append([]models.RescueRequest{req}, r.state.Requests...)
	for id, j := range r.requestIdx {
		r.requestIdx[id] = j + 1
	}
	r.requestIdx[req.ID] = 0
	return true
}

func (r *Responder) addResource(res models.Resource) bool {
	if r.seenResources[res.ID] {
		return false
	}
	r.seenResources[res.ID] = true
	r.state.Resources = append([]models.Resource{res}, r.state.Resources...)
	return true
}

func (r *Responder) addAlert(a models.Alert) bool {
	if r.seenAlerts[a.ID] {
		return false
	}
	r.seenAlerts[a.ID] = true
	r.state.Alerts = append([]models.Alert{a}, r.state.Alerts...)
	return true
}
