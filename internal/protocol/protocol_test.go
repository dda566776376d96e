package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/resq-relay/internal/models"
)

func TestRoundTripSOSRequest(t *testing.T) {
	issued := time.Date(2026, 8, 14, 10, 30, 0, 0, time.UTC)
	in := &SOSRequest{
		RequestID: "R1",
		Location:  models.Coord{Lat: 12.97, Lng: 77.59},
		Timestamp: issued,
	}
	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	got, ok := out.(*SOSRequest)
	require.True(t, ok)
	assert.Equal(t, "R1", got.RequestID)
	assert.Equal(t, 12.97, got.Location.Lat)
	assert.Equal(t, 77.59, got.Location.Lng)
	assert.True(t, got.Timestamp.Equal(issued))
}

func TestRoundTripDisasterAlert(t *testing.T) {
	in := &DisasterAlert{
		ID:           "A1",
		DisasterType: "flood",
		Content:      "Flood warning issued for the region",
		Guidelines:   []string{"Evacuate low-lying areas", "Set up relief camps"},
		Timestamp:    time.Now().UTC().Truncate(time.Millisecond),
	}
	data, err := Encode(in)
	require.NoError(t, err)
	out, err := Decode(data)
	require.NoError(t, err)
	got := out.(*DisasterAlert)
	assert.Equal(t, in.Guidelines, got.Guidelines)
	assert.True(t, got.Timestamp.Equal(in.Timestamp))
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"verify_prediction","disaster":"flood"}`))
	assert.True(t, errors.Is(err, ErrUnknownType))
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte(`{nope`))
	assert.Error(t, err)
}

func TestDecodeSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing request id":  `{"type":"accept_request","responder":"NGO-A"}`,
		"missing responder":   `{"type":"accept_request","requestId":"R1"}`,
		"lat out of range":    `{"type":"sos_request","requestId":"R1","location":{"lat":95,"lng":0},"timestamp":"2026-08-14T10:30:00Z"}`,
		"lng out of range":    `{"type":"sos_request","requestId":"R1","location":{"lat":0,"lng":181},"timestamp":"2026-08-14T10:30:00Z"}`,
		"missing location":    `{"type":"sos_request","requestId":"R1","timestamp":"2026-08-14T10:30:00Z"}`,
		"null island":         `{"type":"sos_request","requestId":"R1","location":{"lat":0,"lng":0},"timestamp":"2026-08-14T10:30:00Z"}`,
		"empty resource name": `{"type":"add_resource","resource":{"name":"","type":"shelter","location":"x"}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(payload))
			assert.Error(t, err)
		})
	}
}

func TestEncodeSplicesTypeTag(t *testing.T) {
	data, err := Encode(&SyncRequest{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"sync_request"}`, string(data))
}

func TestRoutingTable(t *testing.T) {
	assert.ElementsMatch(t, []models.Role{models.RoleResponder}, RouteTo(TypeSOSRequest))
	assert.ElementsMatch(t, []models.Role{models.RoleRequester, models.RoleResponder}, RouteTo(TypeRequestUpdated))
	assert.ElementsMatch(t, []models.Role{models.RoleRequester, models.RoleResponder}, RouteTo(TypeDisasterAlert))
	assert.ElementsMatch(t, []models.Role{models.RoleAuthority}, RouteTo(TypeRescueLog))
	// point-to-point types have no fan-out set
	assert.Empty(t, RouteTo(TypeProtocolError))
	assert.Empty(t, RouteTo(TypeSyncState))
	assert.Empty(t, RouteTo(TypeRequestAlreadyAccepted))
}

func TestAllowedFrom(t *testing.T) {
	assert.True(t, AllowedFrom(TypeSOSRequest, models.RoleRequester))
	assert.False(t, AllowedFrom(TypeSOSRequest, models.RoleResponder))
	assert.True(t, AllowedFrom(TypeBroadcastAlert, models.RoleAuthority))
	assert.False(t, AllowedFrom(TypeBroadcastAlert, models.RoleResponder))
	assert.True(t, AllowedFrom(TypeSyncRequest, models.RoleAuthority))
	// relay-derived types are never accepted inbound
	assert.False(t, AllowedFrom(TypeRequestUpdated, models.RoleResponder))
	assert.False(t, AllowedFrom(TypeDisasterAlert, models.RoleAuthority))
}

// Decoding what a browser client actually sends: millisecond ISO timestamps.
func TestDecodeJavaScriptTimestamp(t *testing.T) {
	data := []byte(`{"type":"sos_request","requestId":"1755167400000","location":{"lat":12.97,"lng":77.59},"timestamp":"2026-08-14T10:30:00.000Z"}`)
	msg, err := Decode(data)
	require.NoError(t, err)
	sos := msg.(*SOSRequest)
	assert.Equal(t, 2026, sos.Timestamp.Year())
}
