// Package httpapi exposes the relay over HTTP: one WebSocket endpoint per
// role, a nearby-requests query for responder tooling, and the usual health
// and metrics surfaces.
package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/resq-relay/internal/config"
	"github.com/example/resq-relay/internal/models"
	"github.com/example/resq-relay/internal/relay"
)

type Server struct {
	hub    *relay.Hub
	cfg    config.RelayConfig
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(hub *relay.Hub, cfg config.RelayConfig, logger *slog.Logger) *Server {
	s := &Server{hub: hub, cfg: cfg, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/ws/{role}", s.handleWS)
	s.mux.HandleFunc("/api/v1/requests/nearby", s.handleNearby).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The session layer in front of the relay owns origin policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	role, ok := models.ParseRole(mux.Vars(r)["role"])
	if !ok {
		http.Error(w, "unknown role", http.StatusNotFound)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	session := s.hub.Register(role)
	go s.writePump(conn, session)
	go s.readPump(conn, session)
}

func (s *Server) readPump(conn *websocket.Conn, session *relay.Session) {
	defer func() {
		s.hub.Unregister(session)
		_ = conn.Close()
	}()
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "session_id", session.ID, "error", err)
			}
			return
		}
		s.hub.Handle(context.Background(), session, data)
	}
}

func (s *Server) writePump(conn *websocket.Conn, session *relay.Session) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case data, ok := <-session.Outbox():
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleNearby returns the closest pending rescue requests to a coordinate,
// for responder-org dispatch tooling.
func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if err1 != nil || err2 != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		http.Error(w, "lat and lng query parameters are required", http.StatusBadRequest)
		return
	}
	limit := s.cfg.NearbyLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= s.cfg.NearbyLimit {
			limit = n
		}
	}
	entries := s.hub.Nearby(models.Coord{Lat: lat, Lng: lng}, limit)
	type nearbyItem struct {
		RequestID string       `json:"requestId"`
		Location  models.Coord `json:"location"`
		DistM     float64      `json:"distanceMeters"`
	}
	out := make([]nearbyItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, nearbyItem{RequestID: e.RequestID, Location: e.Location, DistM: e.DistM})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"requests": out})
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
