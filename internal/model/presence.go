package model

import "time"

// Connection status values carried by a presence snapshot.
const (
	StatusOnline     = "online"
	StatusBackground = "background"
	StatusTyping     = "typing"
	StatusOffline    = "offline"
)

// Presence field names accepted by FilteredCopy.
const (
	FieldConnectionStatus = "connectionStatus"
	FieldClientName       = "clientName"
	FieldClientStatus     = "clientStatus"
	FieldAvatarURL        = "avatarUrl"
	FieldKeyID            = "keyId"
)

// Presence is the per-client liveness/status snapshot. One per client,
// overwritten on every meaningful change.
type Presence struct {
	ClientID         string
	ConnectionStatus string
	ClientName       string
	ClientStatus     string
	AvatarURL        string
	KeyID            string // id of the client's current public key
	Timestamp        time.Time
}

// FilteredCopy returns a copy carrying only the named fields (plus the client
// id), for the "modified" push variant. Unknown field names are ignored.
func (p *Presence) FilteredCopy(fields []string) *Presence {
	out := &Presence{ClientID: p.ClientID, Timestamp: p.Timestamp}
	for _, f := range fields {
		switch f {
		case FieldConnectionStatus:
			out.ConnectionStatus = p.ConnectionStatus
		case FieldClientName:
			out.ClientName = p.ClientName
		case FieldClientStatus:
			out.ClientStatus = p.ClientStatus
		case FieldAvatarURL:
			out.AvatarURL = p.AvatarURL
		case FieldKeyID:
			out.KeyID = p.KeyID
		}
	}
	return out
}
