package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/resq-relay/internal/alerts"
	"github.com/example/resq-relay/internal/models"
	"github.com/example/resq-relay/internal/protocol"
)

func TestRescueLogIdempotent(t *testing.T) {
	a := NewAuthority()
	entry := &protocol.RescueLog{
		RequestID: "R1",
		Location:  models.Coord{Lat: 12.97, Lng: 77.59},
		Timestamp: time.Now().UTC(),
	}
	assert.True(t, a.Apply(entry))
	assert.False(t, a.Apply(entry))
	assert.Len(t, a.State().Log, 1)
}

func TestBroadcastAlertKnownType(t *testing.T) {
	a := NewAuthority()
	msg, err := a.BroadcastAlert("flood")
	require.NoError(t, err)
	assert.Equal(t, "flood", msg.(*protocol.BroadcastAlert).DisasterType)

	_, err = a.BroadcastAlert("volcano")
	assert.ErrorIs(t, err, alerts.ErrUnknownDisasterType)
}

func TestAuthoritySyncFold(t *testing.T) {
	a := NewAuthority()
	a.Apply(&protocol.RescueLog{RequestID: "R1", Timestamp: time.Now()})

	changed := a.Apply(&protocol.SyncState{
		RescueLog: []models.RescueEvent{
			{RequestID: "R1", Kind: models.EventRescued}, // already seen
			{RequestID: "R2", Kind: models.EventRescued},
			{RequestID: "R3", Kind: models.EventCreated}, // not a rescue
		},
		Alerts: []models.Alert{{ID: "A1", DisasterType: "flood"}},
	})
	assert.True(t, changed)
	assert.Len(t, a.State().Log, 2)
	assert.Len(t, a.State().Alerts, 1)
}
