// Package relay implements the hub: the single authoritative mutator of the
// rescue, resource, and alert registries, and the router that fans envelopes
// out to role sets.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/resq-relay/internal/alerts"
	"github.com/example/resq-relay/internal/geo"
	"github.com/example/resq-relay/internal/models"
	"github.com/example/resq-relay/internal/observability"
	"github.com/example/resq-relay/internal/protocol"
	"github.com/example/resq-relay/internal/registry"
	"github.com/example/resq-relay/internal/storage"
)

// AuditPublisher receives every rescue lifecycle event. Implemented by the
// Kafka producer; nil-able at wiring time.
type AuditPublisher interface {
	PublishEvent(ev models.RescueEvent) error
}

type Config struct {
	// SessionSendBuffer bounds each session's outbound queue.
	SessionSendBuffer int
	// RescueLogLimit caps the authority sync snapshot.
	RescueLogLimit int
}

type Hub struct {
	cfg    Config
	logger *slog.Logger

	requests  *registry.Requests
	resources *registry.Resources
	alertLog  *registry.Alerts
	builder   *alerts.Builder
	geoIndex  geo.Index
	events    storage.EventStore
	audit     AuditPublisher

	mu    sync.RWMutex
	rooms map[models.Role]map[*Session]bool

	// dispatchMu serializes validate->apply->fan-out so the broadcast
	// order always matches the registry commit order.
	dispatchMu sync.Mutex
}

func NewHub(cfg Config, logger *slog.Logger, geoIndex geo.Index, events storage.EventStore, audit AuditPublisher) *Hub {
	if cfg.SessionSendBuffer <= 0 {
		cfg.SessionSendBuffer = 64
	}
	if cfg.RescueLogLimit <= 0 {
		cfg.RescueLogLimit = 200
	}
	if geoIndex == nil {
		geoIndex = geo.NewMemoryIndex()
	}
	if events == nil {
		events = storage.NewMemoryStore()
	}
	return &Hub{
		cfg:       cfg,
		logger:    logger,
		requests:  registry.NewRequests(),
		resources: registry.NewResources(),
		alertLog:  registry.NewAlerts(),
		builder:   alerts.NewBuilder(),
		geoIndex:  geoIndex,
		events:    events,
		audit:     audit,
		rooms:     make(map[models.Role]map[*Session]bool),
	}
}

// Register creates a session for the role and adds it to the fan-out set.
func (h *Hub) Register(role models.Role) *Session {
	s := newSession(role, h.cfg.SessionSendBuffer)
	h.mu.Lock()
	if h.rooms[role] == nil {
		h.rooms[role] = make(map[*Session]bool)
	}
	h.rooms[role][s] = true
	h.mu.Unlock()

	observability.SessionsConnected.WithLabelValues(string(role)).Inc()
	h.logger.Info("session registered", "session_id", s.ID, "role", role)
	return s
}

// Unregister removes the session and closes its outbox. Registry entries the
// session authored are untouched.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	room := h.rooms[s.Role]
	removed := room != nil && room[s]
	if removed {
		delete(room, s)
	}
	h.mu.Unlock()
	if !removed {
		return
	}
	s.closeSend()
	observability.SessionsConnected.WithLabelValues(string(s.Role)).Dec()
	h.logger.Info("session unregistered", "session_id", s.ID, "role", s.Role)
}

// Nearby returns the closest pending requests to a coordinate.
func (h *Hub) Nearby(loc models.Coord, limit int) []geo.Entry {
	return h.geoIndex.Nearest(loc, limit)
}

// Handle validates and applies one inbound envelope from a session. Invalid
// envelopes are discarded with a protocol_error echoed to the sender only;
// nothing reaches other clients unless the registry mutation committed.
func (h *Hub) Handle(ctx context.Context, s *Session, raw []byte) {
	h.dispatchMu.Lock()
	defer h.dispatchMu.Unlock()

	msg, err := protocol.Decode(raw)
	if err != nil {
		h.rejectRaw(s, err)
		return
	}
	if !protocol.AllowedFrom(msg.MsgType(), s.Role) {
		h.reject(s, msg.MsgType(), "envelope type not permitted for role "+string(s.Role))
		return
	}
	observability.EnvelopesReceived.WithLabelValues(string(msg.MsgType())).Inc()

	switch m := msg.(type) {
	case *protocol.SOSRequest:
		h.handleSOS(ctx, s, m)
	case *protocol.CancelRequest:
		h.handleCancel(ctx, s, m)
	case *protocol.AcceptRequest:
		h.handleAccept(ctx, s, m)
	case *protocol.MarkRescued:
		h.handleMarkRescued(ctx, s, m)
	case *protocol.AddResource:
		h.handleAddResource(s, m)
	case *protocol.BroadcastAlert:
		h.handleBroadcastAlert(s, m)
	case *protocol.SyncRequest:
		h.handleSync(ctx, s)
	default:
		// Relay-derived types arriving inbound are a client bug.
		h.reject(s, msg.MsgType(), "relay-derived envelope not accepted from clients")
	}
}

func (h *Hub) handleSOS(ctx context.Context, s *Session, m *protocol.SOSRequest) {
	req, err := h.requests.Create(m.RequestID, m.Location, m.Timestamp)
	if err != nil {
		h.reject(s, m.MsgType(), err.Error())
		return
	}
	s.markOwned(req.ID)
	h.geoIndex.Upsert(req.ID, req.Location)
	h.recordEvent(ctx, models.RescueEvent{
		RequestID: req.ID, Kind: models.EventCreated, Location: req.Location, At: req.CreatedAt,
	})
	h.broadcast(&protocol.SOSRequest{RequestID: req.ID, Location: req.Location, Timestamp: req.CreatedAt})
	h.logger.Info("sos request created", "request_id", req.ID, "lat", req.Location.Lat, "lng", req.Location.Lng)
}

func (h *Hub) handleCancel(ctx context.Context, s *Session, m *protocol.CancelRequest) {
	req, err := h.requests.Cancel(m.RequestID)
	if err != nil {
		// Best-effort: a cancel racing an accept simply loses.
		h.logger.Debug("cancel ignored", "request_id", m.RequestID, "error", err)
		return
	}
	h.geoIndex.Remove(req.ID)
	h.recordEvent(ctx, models.RescueEvent{
		RequestID: req.ID, Kind: models.EventCanceled, Location: req.Location, At: time.Now(),
	})
	h.broadcast(&protocol.RequestCanceled{RequestID: req.ID})
	h.logger.Info("sos request canceled", "request_id", req.ID)
}

func (h *Hub) handleAccept(ctx context.Context, s *Session, m *protocol.AcceptRequest) {
	req, err := h.requests.Accept(m.RequestID, m.Responder)
	if err != nil {
		var conflict *registry.ConflictError
		if errors.As(err, &conflict) {
			observability.AcceptConflicts.Inc()
			h.sendTo(s, &protocol.RequestAlreadyAccepted{RequestID: conflict.RequestID, Responder: conflict.Winner})
			h.logger.Info("accept rejected", "request_id", m.RequestID, "loser", m.Responder, "winner", conflict.Winner)
			return
		}
		h.reject(s, m.MsgType(), err.Error())
		return
	}
	// The geo index tracks pending requests only.
	h.geoIndex.Remove(req.ID)
	h.recordEvent(ctx, models.RescueEvent{
		RequestID: req.ID, Kind: models.EventAccepted, Location: req.Location, Responder: req.Responder, At: req.UpdatedAt,
	})
	h.broadcast(&protocol.RequestUpdated{RequestID: req.ID, Status: req.Status, Responder: req.Responder})
	h.broadcast(&protocol.SOSAccepted{RequestID: req.ID, Responder: req.Responder})
	h.logger.Info("sos request accepted", "request_id", req.ID, "responder", req.Responder)
}

func (h *Hub) handleMarkRescued(ctx context.Context, s *Session, m *protocol.MarkRescued) {
	req, err := h.requests.Rescue(m.RequestID)
	if err != nil {
		h.reject(s, m.MsgType(), err.Error())
		return
	}
	h.recordEvent(ctx, models.RescueEvent{
		RequestID: req.ID, Kind: models.EventRescued, Location: req.Location, Responder: req.Responder, At: req.UpdatedAt,
	})
	h.broadcast(&protocol.RequestUpdated{RequestID: req.ID, Status: req.Status, Responder: req.Responder})
	h.broadcast(&protocol.RescuedNotification{RequestID: req.ID})
	h.broadcast(&protocol.RescueLog{RequestID: req.ID, Location: req.Location, Timestamp: req.UpdatedAt})
	h.logger.Info("sos request rescued", "request_id", req.ID, "responder", req.Responder)
}

func (h *Hub) handleAddResource(s *Session, m *protocol.AddResource) {
	res, err := h.resources.Add(m.Resource.Name, m.Resource.Category, m.Resource.Location)
	if err != nil {
		h.reject(s, m.MsgType(), err.Error())
		return
	}
	h.broadcast(&protocol.ResourceAdded{Resource: res})
	h.logger.Info("resource added", "resource_id", res.ID, "name", res.Name, "category", res.Category)
}

func (h *Hub) handleBroadcastAlert(s *Session, m *protocol.BroadcastAlert) {
	alert, err := h.builder.Build(m.DisasterType)
	if err != nil {
		h.reject(s, m.MsgType(), err.Error())
		return
	}
	h.alertLog.Append(alert)
	h.broadcast(&protocol.DisasterAlert{
		ID:           alert.ID,
		DisasterType: alert.DisasterType,
		Content:      alert.Content,
		Guidelines:   alert.Guidelines,
		Timestamp:    alert.IssuedAt,
	})
	h.logger.Info("disaster alert broadcast", "alert_id", alert.ID, "disaster_type", alert.DisasterType)
}

func (h *Hub) handleSync(ctx context.Context, s *Session) {
	state := &protocol.SyncState{}
	switch s.Role {
	case models.RoleRequester:
		state.Requests = h.requests.Subset(s.ownedIDs())
		state.Resources = h.resources.All()
		state.Alerts = h.alertLog.All()
	case models.RoleResponder:
		state.Requests = h.requests.All()
		state.Resources = h.resources.All()
		state.Alerts = h.alertLog.All()
	case models.RoleAuthority:
		log, err := h.events.Recent(ctx, h.cfg.RescueLogLimit)
		if err != nil {
			h.logger.Error("rescue log read failed", "error", err)
		}
		state.RescueLog = log
		state.Alerts = h.alertLog.All()
	}
	h.sendTo(s, state)
}

// recordEvent appends to the audit store and publishes to the audit stream.
// Neither failure aborts the envelope: the registry mutation has already
// committed and the broadcast must follow it.
func (h *Hub) recordEvent(ctx context.Context, ev models.RescueEvent) {
	if err := h.events.Append(ctx, ev); err != nil {
		h.logger.Error("audit store append failed", "request_id", ev.RequestID, "kind", ev.Kind, "error", err)
	}
	if h.audit != nil {
		if err := h.audit.PublishEvent(ev); err != nil {
			h.logger.Warn("audit publish failed", "request_id", ev.RequestID, "kind", ev.Kind, "error", err)
		}
	}
}

// broadcast fans an envelope out to every connected session in its routed
// role set. Best-effort: sessions with full queues are dropped.
func (h *Hub) broadcast(m protocol.Message) {
	roles := protocol.RouteTo(m.MsgType())
	if len(roles) == 0 {
		return
	}
	data := protocol.MustEncode(m)

	var dead []*Session
	reached := 0
	h.mu.RLock()
	for _, role := range roles {
		for s := range h.rooms[role] {
			if s.enqueue(data) {
				reached++
				observability.EnvelopesDispatched.WithLabelValues(string(m.MsgType())).Inc()
			} else {
				dead = append(dead, s)
			}
		}
	}
	h.mu.RUnlock()

	observability.BroadcastFanout.Observe(float64(reached))
	for _, s := range dead {
		observability.SlowSessionDrops.Inc()
		h.logger.Warn("dropping slow session", "session_id", s.ID, "role", s.Role)
		h.Unregister(s)
	}
}

// sendTo delivers a point-to-point envelope to one session.
func (h *Hub) sendTo(s *Session, m protocol.Message) {
	data := protocol.MustEncode(m)
	if !s.enqueue(data) {
		observability.SlowSessionDrops.Inc()
		h.Unregister(s)
		return
	}
	observability.EnvelopesDispatched.WithLabelValues(string(m.MsgType())).Inc()
}

func (h *Hub) reject(s *Session, original protocol.Type, reason string) {
	observability.ProtocolErrors.Inc()
	h.logger.Warn("protocol error", "session_id", s.ID, "role", s.Role, "original_type", original, "reason", reason)
	h.sendTo(s, &protocol.ProtocolError{Reason: reason, OriginalType: string(original)})
}

func (h *Hub) rejectRaw(s *Session, err error) {
	observability.ProtocolErrors.Inc()
	h.logger.Warn("protocol error", "session_id", s.ID, "role", s.Role, "reason", err.Error())
	h.sendTo(s, &protocol.ProtocolError{Reason: err.Error()})
}
