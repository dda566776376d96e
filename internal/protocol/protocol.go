// Package protocol defines the envelope types exchanged between clients and
// the relay. The variant set is closed: decoding goes through an exhaustive
// factory table keyed by the wire type tag, so adding a message is a
// compile-time-visible change rather than an open-ended string switch.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/resq-relay/internal/models"
)

// Type is the wire-level tag carried in every envelope.
type Type string

const (
	// Client -> relay.
	TypeSOSRequest     Type = "sos_request"
	TypeCancelRequest  Type = "cancel_request"
	TypeAcceptRequest  Type = "accept_request"
	TypeMarkRescued    Type = "mark_rescued"
	TypeAddResource    Type = "add_resource"
	TypeBroadcastAlert Type = "broadcast_alert"
	TypeSyncRequest    Type = "sync_request"

	// Relay -> clients.
	TypeRequestUpdated         Type = "request_updated"
	TypeSOSAccepted            Type = "sos_accepted"
	TypeRescuedNotification    Type = "rescued_notification"
	TypeResourceAdded          Type = "resource_added"
	TypeDisasterAlert          Type = "disaster_alert"
	TypeRescueLog              Type = "rescue_log"
	TypeRequestCanceled        Type = "request_canceled"
	TypeRequestAlreadyAccepted Type = "request_already_accepted"
	TypeProtocolError          Type = "protocol_error"
	TypeSyncState              Type = "sync_state"
)

// Message is implemented by every envelope payload.
type Message interface {
	MsgType() Type
}

// SOSRequest rejects an absent location outright: a missing coordinate pair
// decodes as (0,0), which must never pass for a rescue position.
type SOSRequest struct {
	RequestID string       `json:"requestId" validate:"required"`
	Location  models.Coord `json:"location" validate:"required"`
	Timestamp time.Time    `json:"timestamp" validate:"required"`
}

type CancelRequest struct {
	RequestID string `json:"requestId" validate:"required"`
}

type AcceptRequest struct {
	RequestID string `json:"requestId" validate:"required"`
	Responder string `json:"responder" validate:"required"`
}

type MarkRescued struct {
	RequestID string `json:"requestId" validate:"required"`
}

// NewResource is the client-supplied portion of a resource; the registry
// assigns the id and timestamp.
type NewResource struct {
	Name     string `json:"name" validate:"required"`
	Category string `json:"type" validate:"required"`
	Location string `json:"location" validate:"required"`
}

type AddResource struct {
	Resource NewResource `json:"resource"`
}

type BroadcastAlert struct {
	DisasterType string `json:"disasterType" validate:"required"`
}

type SyncRequest struct{}

type RequestUpdated struct {
	RequestID string               `json:"requestId"`
	Status    models.RequestStatus `json:"status"`
	Responder string               `json:"responder,omitempty"`
}

type SOSAccepted struct {
	RequestID string `json:"requestId"`
	Responder string `json:"responder"`
}

type RescuedNotification struct {
	RequestID string `json:"requestId"`
}

type ResourceAdded struct {
	Resource models.Resource `json:"resource"`
}

type DisasterAlert struct {
	ID           string    `json:"id"`
	DisasterType string    `json:"disasterType"`
	Content      string    `json:"content"`
	Guidelines   []string  `json:"guidelines"`
	Timestamp    time.Time `json:"timestamp"`
}

type RescueLog struct {
	RequestID string       `json:"requestId"`
	Location  models.Coord `json:"location"`
	Timestamp time.Time    `json:"timestamp"`
}

type RequestCanceled struct {
	RequestID string `json:"requestId"`
}

type RequestAlreadyAccepted struct {
	RequestID string `json:"requestId"`
	Responder string `json:"responder"`
}

type ProtocolError struct {
	Reason       string `json:"reason"`
	OriginalType string `json:"originalType,omitempty"`
}

// SyncState is the full-state snapshot returned for a sync_request. Requests
// are scoped by role at the relay: all for responder orgs, none for
// authorities (they receive the rescue log instead).
type SyncState struct {
	Requests  []models.RescueRequest `json:"requests,omitempty"`
	Resources []models.Resource      `json:"resources,omitempty"`
	Alerts    []models.Alert         `json:"alerts,omitempty"`
	RescueLog []models.RescueEvent   `json:"rescueLog,omitempty"`
}

func (SOSRequest) MsgType() Type             { return TypeSOSRequest }
func (CancelRequest) MsgType() Type          { return TypeCancelRequest }
func (AcceptRequest) MsgType() Type          { return TypeAcceptRequest }
func (MarkRescued) MsgType() Type            { return TypeMarkRescued }
func (AddResource) MsgType() Type            { return TypeAddResource }
func (BroadcastAlert) MsgType() Type         { return TypeBroadcastAlert }
func (SyncRequest) MsgType() Type            { return TypeSyncRequest }
func (RequestUpdated) MsgType() Type         { return TypeRequestUpdated }
func (SOSAccepted) MsgType() Type            { return TypeSOSAccepted }
func (RescuedNotification) MsgType() Type    { return TypeRescuedNotification }
func (ResourceAdded) MsgType() Type          { return TypeResourceAdded }
func (DisasterAlert) MsgType() Type          { return TypeDisasterAlert }
func (RescueLog) MsgType() Type              { return TypeRescueLog }
func (RequestCanceled) MsgType() Type        { return TypeRequestCanceled }
func (RequestAlreadyAccepted) MsgType() Type { return TypeRequestAlreadyAccepted }
func (ProtocolError) MsgType() Type          { return TypeProtocolError }
func (SyncState) MsgType() Type              { return TypeSyncState }

var ErrUnknownType = errors.New("unknown envelope type")

// factories covers every decodable envelope. Outbound-only types are included
// so clients can decode what the relay sends.
var factories = map[Type]func() Message{
	TypeSOSRequest:             func() Message { return &SOSRequest{} },
	TypeCancelRequest:          func() Message { return &CancelRequest{} },
	TypeAcceptRequest:          func() Message { return &AcceptRequest{} },
	TypeMarkRescued:            func() Message { return &MarkRescued{} },
	TypeAddResource:            func() Message { return &AddResource{} },
	TypeBroadcastAlert:         func() Message { return &BroadcastAlert{} },
	TypeSyncRequest:            func() Message { return &SyncRequest{} },
	TypeRequestUpdated:         func() Message { return &RequestUpdated{} },
	TypeSOSAccepted:            func() Message { return &SOSAccepted{} },
	TypeRescuedNotification:    func() Message { return &RescuedNotification{} },
	TypeResourceAdded:          func() Message { return &ResourceAdded{} },
	TypeDisasterAlert:          func() Message { return &DisasterAlert{} },
	TypeRescueLog:              func() Message { return &RescueLog{} },
	TypeRequestCanceled:        func() Message { return &RequestCanceled{} },
	TypeRequestAlreadyAccepted: func() Message { return &RequestAlreadyAccepted{} },
	TypeProtocolError:          func() Message { return &ProtocolError{} },
	TypeSyncState:              func() Message { return &SyncState{} },
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode parses one envelope and validates it against the payload schema of
// its declared type.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	factory, ok := factories[head.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
	msg := factory()
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	if err := validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", head.Type, err)
	}
	return msg, nil
}

// Encode marshals a message with its type tag spliced into the object.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	tag, err := json.Marshal(m.MsgType())
	if err != nil {
		return nil, err
	}
	fields["type"] = tag
	return json.Marshal(fields)
}

// MustEncode panics on marshal failure. Outbound envelopes are built from
// validated registry state, so failure here is a programming error.
func MustEncode(m Message) []byte {
	b, err := Encode(m)
	if err != nil {
		panic(err)
	}
	return b
}
