package models

import "time"

// Role identifies which side of the protocol a session speaks for.
type Role string

const (
	RoleRequester Role = "requester"
	RoleResponder Role = "responder_org"
	RoleAuthority Role = "authority"
)

// ParseRole maps an endpoint segment to a known role.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleRequester, RoleResponder, RoleAuthority:
		return Role(s), true
	}
	return "", false
}

type Coord struct {
	Lat float64 `json:"lat" validate:"min=-90,max=90"`
	Lng float64 `json:"lng" validate:"min=-180,max=180"`
}

// RequestStatus is monotonic: pending -> accepted -> rescued.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusAccepted RequestStatus = "accepted"
	StatusRescued  RequestStatus = "rescued"
)

// RescueRequest is the authoritative record of one SOS. The id is assigned by
// the requester at creation time; Responder is set exactly once at the
// pending->accepted transition and never changes afterwards.
type RescueRequest struct {
	ID        string        `json:"requestId"`
	Location  Coord         `json:"location"`
	Status    RequestStatus `json:"status"`
	Responder string        `json:"responder,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

type Resource struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Category string    `json:"type"`
	Location string    `json:"location"`
	AddedAt  time.Time `json:"timestamp"`
}

// Alert is immutable once issued; clients deduplicate by ID.
type Alert struct {
	ID           string    `json:"id"`
	DisasterType string    `json:"disasterType"`
	Content      string    `json:"content"`
	Guidelines   []string  `json:"guidelines"`
	IssuedAt     time.Time `json:"timestamp"`
}

// EventKind tags a rescue lifecycle audit event.
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventAccepted EventKind = "accepted"
	EventRescued  EventKind = "rescued"
	EventCanceled EventKind = "canceled"
)

// RescueEvent is the audit-stream record published for every lifecycle
// transition of a rescue request.
type RescueEvent struct {
	RequestID string    `json:"request_id"`
	Kind      EventKind `json:"kind"`
	Location  Coord     `json:"location"`
	Responder string    `json:"responder,omitempty"`
	At        time.Time `json:"at"`
}
