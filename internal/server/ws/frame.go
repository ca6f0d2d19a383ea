// Package ws is the live client transport: a JSON-frame websocket carrying
// the login handshake, server-initiated notifications and the key-wrap
// request/response exchange.
package ws

import (
	"encoding/json"
	"time"

	"github.com/and161185/talkmesh/internal/model"
)

// Frame types sent by clients.
const (
	frameLogin      = "login"
	framePong       = "pong"
	frameResult     = "result"
	framePairIssue  = "pairIssue"
	framePairRedeem = "pairRedeem"
)

// Frame types sent by the server.
const (
	frameLoginOK             = "loginOk"
	frameError               = "error"
	framePing                = "ping"
	framePresenceUpdated     = "presenceUpdated"
	framePresenceModified    = "presenceModified"
	frameRelationshipUpdated = "relationshipUpdated"
	frameGroupUpdated        = "groupUpdated"
	frameGroupMemberUpdated  = "groupMemberUpdated"
	frameAlertUser           = "alertUser"
	frameSettingsChanged     = "settingsChanged"
	frameKeyRequest          = "getEncryptedGroupKeys"
	framePairIssued          = "pairIssued"
	framePairRedeemed        = "pairRedeemed"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxDecodeErrorsPerConn = 3
)

type frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type errorPayload struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retry_after_ms,omitempty"`
}

type loginPayload struct {
	ClientID string `json:"client_id"`
	Token    string `json:"token"`
}

type loginOKPayload struct {
	ClientID   string `json:"client_id"`
	ServerTime string `json:"server_time"`
}

type pingPayload struct {
	Nonce string `json:"nonce"`
}

type presencePayload struct {
	ClientID         string `json:"client_id"`
	ConnectionStatus string `json:"connection_status,omitempty"`
	ClientName       string `json:"client_name,omitempty"`
	ClientStatus     string `json:"client_status,omitempty"`
	AvatarURL        string `json:"avatar_url,omitempty"`
	KeyID            string `json:"key_id,omitempty"`
}

type relationshipPayload struct {
	ClientID      string `json:"client_id"`
	OtherClientID string `json:"other_client_id"`
	State         string `json:"state"`
	UnblockState  string `json:"unblock_state,omitempty"`
	Notifications string `json:"notifications,omitempty"`
	LastChanged   int64  `json:"last_changed"`
}

type groupPayload struct {
	GroupID         string `json:"group_id"`
	GroupName       string `json:"group_name,omitempty"`
	GroupType       string `json:"group_type,omitempty"`
	State           string `json:"state"`
	SharedKeyID     string `json:"shared_key_id,omitempty"`
	SharedKeyIDSalt string `json:"shared_key_id_salt,omitempty"`
	KeySupplier     string `json:"key_supplier,omitempty"`
	LastChanged     int64  `json:"last_changed"`
}

type membershipPayload struct {
	GroupID           string `json:"group_id"`
	ClientID          string `json:"client_id"`
	State             string `json:"state"`
	Role              string `json:"role,omitempty"`
	SharedKeyID       string `json:"shared_key_id,omitempty"`
	SharedKeyIDSalt   string `json:"shared_key_id_salt,omitempty"`
	MemberKeyID       string `json:"member_key_id,omitempty"`
	EncryptedGroupKey string `json:"encrypted_group_key,omitempty"`
	KeySupplier       string `json:"key_supplier,omitempty"`
	Notifications     string `json:"notifications,omitempty"`
	LastChanged       int64  `json:"last_changed"`
}

type alertPayload struct {
	Message string `json:"message"`
}

type settingsPayload struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Message string `json:"message,omitempty"`
}

type keyRequestPayload struct {
	GroupID         string   `json:"group_id"`
	SharedKeyID     string   `json:"shared_key_id"`
	SharedKeyIDSalt string   `json:"shared_key_id_salt"`
	ClientIDs       []string `json:"client_ids"`
	PublicKeyIDs    []string `json:"public_key_ids"`
}

type keyResultPayload struct {
	Keys []string `json:"keys"`
}

type pairIssuePayload struct {
	Purpose string `json:"purpose,omitempty"`
	MaxUses int    `json:"max_uses,omitempty"`
	TTLMS   int64  `json:"ttl_ms,omitempty"`
}

type pairIssuedPayload struct {
	TokenID string `json:"token_id"`
	Secret  string `json:"secret"`
	Expiry  string `json:"expiry,omitempty"`
}

type pairRedeemPayload struct {
	TokenID string `json:"token_id"`
	Secret  string `json:"secret"`
}

type pairRedeemedPayload struct {
	IssuerID string `json:"issuer_id"`
}

func presenceToPayload(p *model.Presence) presencePayload {
	return presencePayload{
		ClientID:         p.ClientID,
		ConnectionStatus: p.ConnectionStatus,
		ClientName:       p.ClientName,
		ClientStatus:     p.ClientStatus,
		AvatarURL:        p.AvatarURL,
		KeyID:            p.KeyID,
	}
}

func relationshipToPayload(r *model.Relationship) relationshipPayload {
	return relationshipPayload{
		ClientID:      r.ClientID,
		OtherClientID: r.OtherClientID,
		State:         r.State,
		UnblockState:  r.UnblockState,
		Notifications: r.Notifications,
		LastChanged:   r.LastChanged.UnixMilli(),
	}
}

func groupToPayload(g *model.GroupPresence) groupPayload {
	return groupPayload{
		GroupID:         g.GroupID,
		GroupName:       g.GroupName,
		GroupType:       g.GroupType,
		State:           g.State,
		SharedKeyID:     g.SharedKeyID,
		SharedKeyIDSalt: g.SharedKeyIDSalt,
		KeySupplier:     g.KeySupplier,
		LastChanged:     g.LastChanged.UnixMilli(),
	}
}

func membershipToPayload(m *model.GroupMembership) membershipPayload {
	return membershipPayload{
		GroupID:           m.GroupID,
		ClientID:          m.ClientID,
		State:             m.State,
		Role:              m.Role,
		SharedKeyID:       m.SharedKeyID,
		SharedKeyIDSalt:   m.SharedKeyIDSalt,
		MemberKeyID:       m.MemberKeyID,
		EncryptedGroupKey: m.EncryptedGroupKey,
		KeySupplier:       m.KeySupplier,
		Notifications:     m.Notifications,
		LastChanged:       m.LastChanged.UnixMilli(),
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func serverTime() string {
	return time.Now().UTC().Format(time.RFC3339)
}
