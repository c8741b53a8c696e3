// Package protocol defines the JSON message envelope and payload types
// exchanged over the WebSocket transport. Inbound frames are dispatched by
// the tagged Type field; unknown tags are rejected at the boundary.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound message types (client → server).
const (
	TypeAuth          = "auth"
	TypeCreateGame    = "create_game"
	TypeJoinGame      = "join_game"
	TypeLeaveGame     = "leave_game"
	TypeReady         = "ready"
	TypeAction        = "action"
	TypeDMCommand     = "dm_command"
	TypeChat          = "chat"
	TypeCharacterSync = "character_sync"
	TypePing          = "ping"
)

// Outbound message types (server → client).
const (
	TypeAuthResult   = "auth_result"
	TypeGameCreated  = "game_created"
	TypeGameJoined   = "game_joined"
	TypeGameState    = "game_state"
	TypeStateDelta   = "state_delta"
	TypeEvents       = "events"
	TypeTurnChange   = "turn_change"
	TypePlayerJoined = "player_joined"
	TypePlayerLeft   = "player_left"
	TypePlayerReady  = "player_ready"
	TypeGameEnded    = "game_ended"
	TypeChatOut      = "chat"
	TypeError        = "error"
	TypePong         = "pong"
)

// Message is the wire envelope. Every frame carries a type, a payload, the
// sender's sequence number, and a millisecond timestamp. Server responses
// additionally echo the request's seq in reqSeq.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Seq     int64           `json:"seq"`
	TS      int64           `json:"ts"`

	ReqSeq  *int64 `json:"reqSeq,omitempty"`
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

// MaxFrameSize bounds a single inbound frame. Oversize frames are protocol
// errors.
const MaxFrameSize = 64 * 1024

// Decode parses a raw frame into the envelope.
func Decode(raw []byte) (*Message, error) {
	if len(raw) > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit %d", len(raw), MaxFrameSize)
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("parsing frame: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("frame missing type")
	}
	return &msg, nil
}

// New builds an outbound envelope with the payload marshalled in place.
// Marshal failures are programming errors and panic.
func New(msgType string, payload any) *Message {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("protocol: marshalling %s payload: %v", msgType, err))
	}
	return &Message{
		Type:    msgType,
		Payload: raw,
		TS:      time.Now().UnixMilli(),
	}
}

// NewResponse builds an outbound envelope replying to reqSeq.
func NewResponse(msgType string, payload any, reqSeq int64, success bool) *Message {
	msg := New(msgType, payload)
	msg.ReqSeq = &reqSeq
	msg.Success = &success
	return msg
}

// Encode serializes the envelope for the wire.
func (m *Message) Encode() ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", m.Type, err)
	}
	return raw, nil
}

// DecodePayload unmarshals the payload into dst.
func (m *Message) DecodePayload(dst any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s frame has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, dst); err != nil {
		return fmt.Errorf("parsing %s payload: %w", m.Type, err)
	}
	return nil
}
