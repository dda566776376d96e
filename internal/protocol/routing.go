package protocol

import "github.com/example/resq-relay/internal/models"

// routes is the static fan-out table for broadcast envelopes. Types absent
// from the table are point-to-point: the relay sends them only to a single
// session it already holds a handle for.
var routes = map[Type][]models.Role{
	TypeSOSRequest:          {models.RoleResponder},
	TypeRequestUpdated:      {models.RoleRequester, models.RoleResponder},
	TypeSOSAccepted:         {models.RoleRequester},
	TypeRescuedNotification: {models.RoleRequester},
	TypeResourceAdded:       {models.RoleResponder, models.RoleRequester},
	TypeDisasterAlert:       {models.RoleResponder, models.RoleRequester},
	TypeRescueLog:           {models.RoleAuthority},
	TypeRequestCanceled:     {models.RoleResponder},
}

// RouteTo returns the role fan-out set for a broadcast envelope type, or nil
// for point-to-point types.
func RouteTo(t Type) []models.Role {
	return routes[t]
}

// senders lists which role may submit each inbound type. sync_request is
// accepted from every role.
var senders = map[Type][]models.Role{
	TypeSOSRequest:     {models.RoleRequester},
	TypeCancelRequest:  {models.RoleRequester},
	TypeAcceptRequest:  {models.RoleResponder},
	TypeMarkRescued:    {models.RoleResponder},
	TypeAddResource:    {models.RoleResponder},
	TypeBroadcastAlert: {models.RoleAuthority},
	TypeSyncRequest:    {models.RoleRequester, models.RoleResponder, models.RoleAuthority},
}

// AllowedFrom reports whether a role may submit an envelope of the given
// type. Relay-derived types are never accepted from clients.
func AllowedFrom(t Type, role models.Role) bool {
	for _, r := range senders[t] {
		if r == role {
			return true
		}
	}
	return false
}
