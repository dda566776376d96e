// Package registry holds the relay-owned authoritative state. All mutation
// goes through these types; client state machines only keep derived copies.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/resq-relay/internal/models"
)

var (
	ErrNotFound    = errors.New("request not found")
	ErrDuplicateID = errors.New("request id already exists")
	ErrNotPending  = errors.New("request is not pending")
	ErrNotAccepted = errors.New("request is not accepted")
)

// ConflictError reports an accept attempt that lost the race. Winner carries
// the responder that committed first so the loser can be told who holds the
// request.
type ConflictError struct {
	RequestID string
	Winner    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("request %s already accepted by %s", e.RequestID, e.Winner)
}

// Requests is the authoritative rescue request registry. A single mutex
// serializes every transition, which is what makes first-committed-wins hold
// for concurrent accepts: whichever caller takes the lock first commits, the
// rest observe the committed responder and fail.
type Requests struct {
	mu    sync.RWMutex
	byID  map[string]*models.RescueRequest
	order []string

	now func() time.Time
}

func NewRequests() *Requests {
	return &Requests{
		byID: make(map[string]*models.RescueRequest),
		now:  time.Now,
	}
}

// Create registers a new pending request with the client-assigned id.
func (r *Requests) Create(id string, loc models.Coord, issued time.Time) (models.RescueRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[id]; exists {
		return models.RescueRequest{}, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	if issued.IsZero() {
		issued = r.now()
	}
	req := &models.RescueRequest{
		ID:        id,
		Location:  loc,
		Status:    models.StatusPending,
		CreatedAt: issued,
		UpdatedAt: issued,
	}
	r.byID[id] = req
	r.order = append(r.order, id)
	return *req, nil
}

// Accept performs the pending->accepted transition. Exactly one caller per
// request id ever succeeds; later attempts get a ConflictError naming the
// winner.
func (r *Requests) Accept(id, responder string) (models.RescueRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.byID[id]
	if !ok {
		return models.RescueRequest{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if req.Status != models.StatusPending {
		return models.RescueRequest{}, &ConflictError{RequestID: id, Winner: req.Responder}
	}
	req.Status = models.StatusAccepted
	req.Responder = responder
	req.UpdatedAt = r.now()
	return *req, nil
}

// Rescue performs the accepted->rescued transition. Calling it on a pending
// or already-rescued request fails without touching state.
func (r *Requests) Rescue(id string) (models.RescueRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.byID[id]
	if !ok {
		return models.RescueRequest{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if req.Status != models.StatusAccepted {
		return models.RescueRequest{}, fmt.Errorf("%w: %s is %s", ErrNotAccepted, id, req.Status)
	}
	req.Status = models.StatusRescued
	req.UpdatedAt = r.now()
	return *req, nil
}

// Cancel marks a pending request as withdrawn by its owner. It is the only
// way an entry leaves the active set; accepted and rescued requests are
// retained for audit and cannot be canceled.
func (r *Requests) Cancel(id string) (models.RescueRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.byID[id]
	if !ok {
		return models.RescueRequest{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if req.Status != models.StatusPending {
		return models.RescueRequest{}, fmt.Errorf("%w: %s is %s", ErrNotPending, id, req.Status)
	}
	canceled := *req
	delete(r.byID, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return canceled, nil
}

// Get returns a copy of the request, if present.
func (r *Requests) Get(id string) (models.RescueRequest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.byID[id]
	if !ok {
		return models.RescueRequest{}, false
	}
	return *req, true
}

// All returns copies of every request in creation order.
func (r *Requests) All() []models.RescueRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.RescueRequest, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}

// Subset returns copies of the requests with the given ids, preserving
// creation order. Used to scope sync snapshots for requester sessions.
func (r *Requests) Subset(ids map[string]bool) []models.RescueRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.RescueRequest, 0, len(ids))
	for _, id := range r.order {
		if ids[id] {
			out = append(out, *r.byID[id])
		}
	}
	return out
}
