package relay

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/resq-relay/internal/models"
	"github.com/example/resq-relay/internal/protocol"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHub(Config{SessionSendBuffer: 32}, logger, nil, nil, nil)
}

// drain decodes everything currently queued on a session's outbox.
func drain(t *testing.T, s *Session) []protocol.Message {
	t.Helper()
	var out []protocol.Message
	for {
		select {
		case data, ok := <-s.Outbox():
			if !ok {
				return out
			}
			msg, err := protocol.Decode(data)
			require.NoError(t, err)
			out = append(out, msg)
		default:
			return out
		}
	}
}

func send(t *testing.T, h *Hub, s *Session, m protocol.Message) {
	t.Helper()
	h.Handle(context.Background(), s, protocol.MustEncode(m))
}

func sosEnvelope(id string) *protocol.SOSRequest {
	return &protocol.SOSRequest{
		RequestID: id,
		Location:  models.Coord{Lat: 12.97, Lng: 77.59},
		Timestamp: time.Now().UTC(),
	}
}

func TestSOSRequestReachesRespondersOnly(t *testing.T) {
	h := newTestHub(t)
	requester := h.Register(models.RoleRequester)
	responder := h.Register(models.RoleResponder)
	authority := h.Register(models.RoleAuthority)

	send(t, h, requester, sosEnvelope("R1"))

	msgs := drain(t, responder)
	require.Len(t, msgs, 1)
	sos, ok := msgs[0].(*protocol.SOSRequest)
	require.True(t, ok)
	assert.Equal(t, "R1", sos.RequestID)
	assert.InDelta(t, 12.97, sos.Location.Lat, 1e-9)
	assert.InDelta(t, 77.59, sos.Location.Lng, 1e-9)

	assert.Empty(t, drain(t, requester))
	assert.Empty(t, drain(t, authority))
}

func TestConcurrentAcceptsExactlyOneWinner(t *testing.T) {
	h := newTestHub(t)
	requester := h.Register(models.RoleRequester)
	ngoA := h.Register(models.RoleResponder)
	ngoB := h.Register(models.RoleResponder)

	send(t, h, requester, sosEnvelope("R1"))
	drain(t, ngoA)
	drain(t, ngoB)

	var wg sync.WaitGroup
	for _, tc := range []struct {
		s         *Session
		responder string
	}{{ngoA, "NGO-A"}, {ngoB, "NGO-B"}} {
		wg.Add(1)
		go func(s *Session, responder string) {
			defer wg.Done()
			send(t, h, s, &protocol.AcceptRequest{RequestID: "R1", Responder: responder})
		}(tc.s, tc.responder)
	}
	wg.Wait()

	var updates []*protocol.RequestUpdated
	var rejections []*protocol.RequestAlreadyAccepted
	for _, s := range []*Session{ngoA, ngoB} {
		for _, m := range drain(t, s) {
			switch v := m.(type) {
			case *protocol.RequestUpdated:
				updates = append(updates, v)
			case *protocol.RequestAlreadyAccepted:
				rejections = append(rejections, v)
			}
		}
	}

	// Each responder session sees exactly one broadcast update; the loser
	// additionally gets a rejection naming the winner.
	require.Len(t, updates, 2)
	require.Len(t, rejections, 1)
	winner := updates[0].Responder
	assert.Contains(t, []string{"NGO-A", "NGO-B"}, winner)
	assert.Equal(t, winner, updates[1].Responder)
	assert.Equal(t, winner, rejections[0].Responder)
	assert.Equal(t, models.StatusAccepted, updates[0].Status)

	req, ok := h.requests.Get("R1")
	require.True(t, ok)
	assert.Equal(t, models.StatusAccepted, req.Status)
	assert.Equal(t, winner, req.Responder)
}

func TestMarkRescuedOnlyFromAccepted(t *testing.T) {
	h := newTestHub(t)
	requester := h.Register(models.RoleRequester)
	responder := h.Register(models.RoleResponder)
	authority := h.Register(models.RoleAuthority)

	send(t, h, requester, sosEnvelope("R1"))
	drain(t, responder)

	// pending -> rescued is rejected without state change
	send(t, h, responder, &protocol.MarkRescued{RequestID: "R1"})
	msgs := drain(t, responder)
	require.Len(t, msgs, 1)
	_, isErr := msgs[0].(*protocol.ProtocolError)
	assert.True(t, isErr)
	req, _ := h.requests.Get("R1")
	assert.Equal(t, models.StatusPending, req.Status)

	send(t, h, responder, &protocol.AcceptRequest{RequestID: "R1", Responder: "NGO-A"})
	drain(t, responder)
	drain(t, requester)

	send(t, h, responder, &protocol.MarkRescued{RequestID: "R1"})

	reqMsgs := drain(t, requester)
	var gotNotification bool
	for _, m := range reqMsgs {
		if n, ok := m.(*protocol.RescuedNotification); ok {
			gotNotification = true
			assert.Equal(t, "R1", n.RequestID)
		}
	}
	assert.True(t, gotNotification, "requester should receive rescued_notification")

	authMsgs := drain(t, authority)
	require.Len(t, authMsgs, 1)
	logEntry, ok := authMsgs[0].(*protocol.RescueLog)
	require.True(t, ok)
	assert.Equal(t, "R1", logEntry.RequestID)

	// rescued -> rescued fails without state change
	send(t, h, responder, &protocol.MarkRescued{RequestID: "R1"})
	msgs = drain(t, responder)
	var sawErr bool
	for _, m := range msgs {
		if _, ok := m.(*protocol.ProtocolError); ok {
			sawErr = true
		}
	}
	assert.True(t, sawErr)
}

func TestResponderImmutableOnceSet(t *testing.T) {
	h := newTestHub(t)
	requester := h.Register(models.RoleRequester)
	responder := h.Register(models.RoleResponder)

	send(t, h, requester, sosEnvelope("R1"))
	send(t, h, responder, &protocol.AcceptRequest{RequestID: "R1", Responder: "NGO-A"})
	send(t, h, responder, &protocol.AcceptRequest{RequestID: "R1", Responder: "NGO-B"})

	req, _ := h.requests.Get("R1")
	assert.Equal(t, "NGO-A", req.Responder)
}

func TestAddResourceFansOutToBothRoles(t *testing.T) {
	h := newTestHub(t)
	requester := h.Register(models.RoleRequester)
	responder := h.Register(models.RoleResponder)
	authority := h.Register(models.RoleAuthority)

	send(t, h, responder, &protocol.AddResource{Resource: protocol.NewResource{
		Name: "Central Shelter", Category: "shelter", Location: "12.97, 77.59",
	}})

	for _, s := range []*Session{requester, responder} {
		msgs := drain(t, s)
		require.Len(t, msgs, 1)
		added, ok := msgs[0].(*protocol.ResourceAdded)
		require.True(t, ok)
		assert.NotEmpty(t, added.Resource.ID)
		assert.Equal(t, "Central Shelter", added.Resource.Name)
	}
	assert.Empty(t, drain(t, authority))
}

func TestDisasterAlertBroadcastAndNoRetroactiveDelivery(t *testing.T) {
	h := newTestHub(t)
	requester := h.Register(models.RoleRequester)
	responder := h.Register(models.RoleResponder)
	authority := h.Register(models.RoleAuthority)

	send(t, h, authority, &protocol.BroadcastAlert{DisasterType: "flood"})

	for _, s := range []*Session{requester, responder} {
		msgs := drain(t, s)
		require.Len(t, msgs, 1)
		alert, ok := msgs[0].(*protocol.DisasterAlert)
		require.True(t, ok)
		assert.Equal(t, "flood", alert.DisasterType)
		assert.NotEmpty(t, alert.Guidelines)
	}

	// A session connecting afterwards receives nothing...
	late := h.Register(models.RoleRequester)
	assert.Empty(t, drain(t, late))

	// ...until it asks for a snapshot.
	send(t, h, late, &protocol.SyncRequest{})
	msgs := drain(t, late)
	require.Len(t, msgs, 1)
	state, ok := msgs[0].(*protocol.SyncState)
	require.True(t, ok)
	require.Len(t, state.Alerts, 1)
	assert.Equal(t, "flood", state.Alerts[0].DisasterType)
}

func TestUnknownDisasterTypeRejected(t *testing.T) {
	h := newTestHub(t)
	authority := h.Register(models.RoleAuthority)

	send(t, h, authority, &protocol.BroadcastAlert{DisasterType: "volcano"})

	msgs := drain(t, authority)
	require.Len(t, msgs, 1)
	perr, ok := msgs[0].(*protocol.ProtocolError)
	require.True(t, ok)
	assert.Equal(t, string(protocol.TypeBroadcastAlert), perr.OriginalType)
}

func TestCancelOnlyWhilePending(t *testing.T) {
	h := newTestHub(t)
	requester := h.Register(models.RoleRequester)
	responder := h.Register(models.RoleResponder)

	send(t, h, requester, sosEnvelope("R1"))
	drain(t, responder)

	send(t, h, requester, &protocol.CancelRequest{RequestID: "R1"})
	msgs := drain(t, responder)
	require.Len(t, msgs, 1)
	canceled, ok := msgs[0].(*protocol.RequestCanceled)
	require.True(t, ok)
	assert.Equal(t, "R1", canceled.RequestID)
	_, exists := h.requests.Get("R1")
	assert.False(t, exists)

	// Cancel after accept is ignored.
	send(t, h, requester, sosEnvelope("R2"))
	send(t, h, responder, &protocol.AcceptRequest{RequestID: "R2", Responder: "NGO-A"})
	drain(t, responder)
	send(t, h, requester, &protocol.CancelRequest{RequestID: "R2"})
	assert.Empty(t, drain(t, responder))
	req, _ := h.requests.Get("R2")
	assert.Equal(t, models.StatusAccepted, req.Status)
}

func TestMalformedEnvelopeDiscardedWithErrorToSenderOnly(t *testing.T) {
	h := newTestHub(t)
	requester := h.Register(models.RoleRequester)
	responder := h.Register(models.RoleResponder)

	h.Handle(context.Background(), requester, []byte(`{"type":"sos_request","location":{"lat":999}}`))

	msgs := drain(t, requester)
	require.Len(t, msgs, 1)
	_, ok := msgs[0].(*protocol.ProtocolError)
	assert.True(t, ok)
	assert.Empty(t, drain(t, responder))
}

func TestRoleEnforcement(t *testing.T) {
	h := newTestHub(t)
	requester := h.Register(models.RoleRequester)
	responder := h.Register(models.RoleResponder)

	// A requester cannot accept requests.
	send(t, h, requester, &protocol.AcceptRequest{RequestID: "R1", Responder: "X"})
	msgs := drain(t, requester)
	require.Len(t, msgs, 1)
	_, ok := msgs[0].(*protocol.ProtocolError)
	assert.True(t, ok)

	// A responder cannot broadcast alerts.
	send(t, h, responder, &protocol.BroadcastAlert{DisasterType: "flood"})
	msgs = drain(t, responder)
	require.Len(t, msgs, 1)
	_, ok = msgs[0].(*protocol.ProtocolError)
	assert.True(t, ok)
}

func TestDuplicateRequestIDRejected(t *testing.T) {
	h := newTestHub(t)
	requester := h.Register(models.RoleRequester)
	responder := h.Register(models.RoleResponder)

	send(t, h, requester, sosEnvelope("R1"))
	send(t, h, requester, sosEnvelope("R1"))

	assert.Len(t, drain(t, responder), 1)
	msgs := drain(t, requester)
	require.Len(t, msgs, 1)
	_, ok := msgs[0].(*protocol.ProtocolError)
	assert.True(t, ok)
}

func TestSyncScopedByRole(t *testing.T) {
	h := newTestHub(t)
	alice := h.Register(models.RoleRequester)
	bob := h.Register(models.RoleRequester)
	responder := h.Register(models.RoleResponder)
	authority := h.Register(models.RoleAuthority)

	send(t, h, alice, sosEnvelope("RA"))
	send(t, h, bob, sosEnvelope("RB"))
	send(t, h, responder, &protocol.AcceptRequest{RequestID: "RA", Responder: "NGO-A"})
	send(t, h, responder, &protocol.MarkRescued{RequestID: "RA"})
	drain(t, alice)
	drain(t, bob)
	drain(t, responder)
	drain(t, authority)

	// Requesters see only their own requests.
	send(t, h, alice, &protocol.SyncRequest{})
	msgs := drain(t, alice)
	require.Len(t, msgs, 1)
	state := msgs[0].(*protocol.SyncState)
	require.Len(t, state.Requests, 1)
	assert.Equal(t, "RA", state.Requests[0].ID)

	// Responders see everything.
	send(t, h, responder, &protocol.SyncRequest{})
	msgs = drain(t, responder)
	state = msgs[0].(*protocol.SyncState)
	assert.Len(t, state.Requests, 2)

	// The authority gets the rescue log.
	send(t, h, authority, &protocol.SyncRequest{})
	msgs = drain(t, authority)
	state = msgs[0].(*protocol.SyncState)
	var rescued int
	for _, ev := range state.RescueLog {
		if ev.Kind == models.EventRescued {
			rescued++
			assert.Equal(t, "RA", ev.RequestID)
		}
	}
	assert.Equal(t, 1, rescued)
}

func TestNearbyExcludesAcceptedRequests(t *testing.T) {
	h := newTestHub(t)
	requester := h.Register(models.RoleRequester)
	responder := h.Register(models.RoleResponder)

	send(t, h, requester, sosEnvelope("R1"))
	send(t, h, requester, &protocol.SOSRequest{
		RequestID: "R2",
		Location:  models.Coord{Lat: 13.05, Lng: 77.62},
		Timestamp: time.Now().UTC(),
	})

	entries := h.Nearby(models.Coord{Lat: 12.97, Lng: 77.59}, 10)
	require.Len(t, entries, 2)

	// Taking a request removes it from the pending index immediately, not
	// only at rescue.
	send(t, h, responder, &protocol.AcceptRequest{RequestID: "R1", Responder: "NGO-A"})
	entries = h.Nearby(models.Coord{Lat: 12.97, Lng: 77.59}, 10)
	require.Len(t, entries, 1)
	assert.Equal(t, "R2", entries[0].RequestID)
}

func TestDisconnectPreservesAuthoredEntries(t *testing.T) {
	h := newTestHub(t)
	requester := h.Register(models.RoleRequester)
	responder := h.Register(models.RoleResponder)

	send(t, h, requester, sosEnvelope("R1"))
	h.Unregister(requester)

	req, ok := h.requests.Get("R1")
	require.True(t, ok)
	assert.Equal(t, models.StatusPending, req.Status)

	// The request is still acceptable after its author left.
	send(t, h, responder, &protocol.AcceptRequest{RequestID: "R1", Responder: "NGO-A"})
	req, _ = h.requests.Get("R1")
	assert.Equal(t, models.StatusAccepted, req.Status)
}
