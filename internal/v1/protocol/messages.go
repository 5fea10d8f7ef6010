// Package protocol defines the wire format spoken over the signaling socket.
//
// Every frame is a single UTF-8 text payload encoding one JSON object with a
// "type" discriminator. Client frames decode into a single Inbound struct
// whose optional fields are populated per type; server events are dedicated
// structs that stamp their own type tag. Unknown inbound types are ignored by
// the router, never fatal.
package protocol

import (
	"encoding/json"
	"errors"

	"github.com/strangermesh/roulette/backend/go/internal/v1/types"
)

// Client -> server frame types.
const (
	TypeFindPartner    = "find_partner"
	TypeJoinRoom       = "join_room"
	TypeSkip           = "skip"
	TypeOffer          = "offer"
	TypeAnswer         = "answer"
	TypeICECandidate   = "ice-candidate"
	TypeRequestReoffer = "request_reoffer"
)

// Server -> client event types.
const (
	TypeWelcome             = "welcome"
	TypeReconnectSuccess    = "reconnect_success"
	TypeReconnectFailed     = "reconnect_failed"
	TypeRoomAssigned        = "room_assigned"
	TypeRoomJoined          = "room_joined"
	TypeJoinFailed          = "join_failed"
	TypePartnerSkipped      = "partner_skipped"
	TypePartnerDisconnected = "partner_disconnected"
	TypePartnerReconnected  = "partner_reconnected"
	TypeUserCount           = "user_count"
)

// Join failure reasons.
const (
	JoinFailNoRoom        = "no_room"
	JoinFailNotAuthorized = "not_authorized"
)

var errMissingType = errors.New("frame has no type field")

// Inbound is the decoded form of any client frame. Only the fields relevant
// to Type are populated; signaling payloads stay opaque RawMessages so the
// server never interprets SDP or ICE content.
type Inbound struct {
	Type string `json:"type"`

	Room string `json:"room,omitempty"`

	// find_partner advisory media flags
	AudioEnabled bool `json:"audio_enabled,omitempty"`
	VideoEnabled bool `json:"video_enabled,omitempty"`

	// opaque signaling payloads
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Decode parses a text frame into an Inbound. A frame without a type field is
// rejected so the router can count it as malformed.
func Decode(data []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	if in.Type == "" {
		return nil, errMissingType
	}
	return &in, nil
}

// --- Server events ---

// Welcome is sent once to a first-time client after identity issuance.
type Welcome struct {
	Type   string           `json:"type"`
	UserID types.UserIDType `json:"user_id"`
	Token  types.TokenType  `json:"token"`
}

// ReconnectSuccess is sent when a presented token reclaimed an identity.
// Room is present only if the identity still belongs to a live room.
type ReconnectSuccess struct {
	Type   string           `json:"type"`
	UserID types.UserIDType `json:"user_id"`
	Room   types.RoomIDType `json:"room,omitempty"`
}

// ReconnectFailed tells a client its presented token is unknown. It is always
// followed by a fresh Welcome.
type ReconnectFailed struct {
	Type string `json:"type"`
}

// RoomAssigned notifies a member that pairing completed.
type RoomAssigned struct {
	Type      string           `json:"type"`
	Room      types.RoomIDType `json:"room"`
	Role      types.RoleType   `json:"role"`
	PartnerID types.UserIDType `json:"partner_id"`
}

// RoomJoined is the success reply to a join_room frame.
type RoomJoined struct {
	Type      string           `json:"type"`
	Room      types.RoomIDType `json:"room"`
	Role      types.RoleType   `json:"role"`
	PartnerID types.UserIDType `json:"partner_id"`
}

// JoinFailed is the failure reply to a join_room frame.
type JoinFailed struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// PartnerSkipped tells the remaining member their partner issued a skip.
type PartnerSkipped struct {
	Type string `json:"type"`
}

// PartnerDisconnected tells the remaining member their partner's socket
// dropped. The room survives until the reconnect grace window lapses.
type PartnerDisconnected struct {
	Type      string           `json:"type"`
	Room      types.RoomIDType `json:"room"`
	PartnerID types.UserIDType `json:"partner_id"`
}

// PartnerReconnected tells a member their partner rebound within the grace
// window.
type PartnerReconnected struct {
	Type      string           `json:"type"`
	Room      types.RoomIDType `json:"room"`
	PartnerID types.UserIDType `json:"partner_id"`
}

// Signal is a relayed offer, answer or ice-candidate. Kind becomes the type
// tag; the payload field name matches the kind so clients see the same shape
// the sender produced, plus the server-stamped sender identity.
type Signal struct {
	Type      string           `json:"type"`
	Room      types.RoomIDType `json:"room"`
	SenderID  types.UserIDType `json:"sender_id"`
	Offer     json.RawMessage  `json:"offer,omitempty"`
	Answer    json.RawMessage  `json:"answer,omitempty"`
	Candidate json.RawMessage  `json:"candidate,omitempty"`
}

// NewSignal builds a relayed signaling event of the given kind.
func NewSignal(kind string, room types.RoomIDType, sender types.UserIDType, payload json.RawMessage) Signal {
	s := Signal{Type: kind, Room: room, SenderID: sender}
	switch kind {
	case TypeOffer:
		s.Offer = payload
	case TypeAnswer:
		s.Answer = payload
	case TypeICECandidate:
		s.Candidate = payload
	}
	return s
}

// RequestReoffer is delivered to a room's initiator when the responder asks
// for the offer to be re-sent.
type RequestReoffer struct {
	Type      string           `json:"type"`
	Room      types.RoomIDType `json:"room"`
	Requester types.UserIDType `json:"requester"`
}

// UserCount carries the number of currently attached sockets.
type UserCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// Encode marshals a server event. Marshal failures are programming errors;
// callers treat a nil return as a dropped frame.
func Encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
