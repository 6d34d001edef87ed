// Package v1 defines the TeamSync realtime protocol v1 contract.
//
// This package is dependency-light and shared between server and clients so
// the wire protocol stays authoritative in one place.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the websocket subprotocol clients must offer.
const Subprotocol = "teamsync.realtime.v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck reports who the connection authenticated as (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeChannelJoin subscribes the connection to a channel (client -> server).
	TypeChannelJoin = "channel_join"
	// TypeChannelJoined confirms a join (server -> client).
	TypeChannelJoined = "channel_joined"
	// TypeChannelLeave unsubscribes from a channel (client -> server).
	TypeChannelLeave = "channel_leave"

	// TypeMessageSend posts a message into a joined channel (client -> server).
	TypeMessageSend = "message_send"
	// TypeMessageAck acknowledges an accepted post (server -> client).
	TypeMessageAck = "message_ack"
	// TypeMessageNew relays an accepted post (server -> joined connections).
	TypeMessageNew = "message_new"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeChannelJoin,
		TypeChannelJoined,
		TypeChannelLeave,
		TypeMessageSend,
		TypeMessageAck,
		TypeMessageNew,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload is sent by the client to initiate a session.
type HelloPayload struct{}

// HelloAckPayload tells the client whether its credential was accepted.
type HelloAckPayload struct {
	SessionID  string `json:"session_id"`
	IdentityID string `json:"identity_id,omitempty"`
	Anonymous  bool   `json:"anonymous"`
}

// ChannelJoinPayload names the channel to join or leave.
type ChannelJoinPayload struct {
	ChannelID string `json:"channel_id"`
}

// ChannelJoinedPayload confirms a join.
type ChannelJoinedPayload struct {
	ChannelID   string `json:"channel_id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
}

// MessageSendPayload posts text into a joined channel.
type MessageSendPayload struct {
	ChannelID   string `json:"channel_id"`
	ClientMsgID string `json:"client_msg_id"`
	Text        string `json:"text"`
}

// MessageAckPayload acknowledges a post and returns the server id.
type MessageAckPayload struct {
	ChannelID   string `json:"channel_id"`
	ClientMsgID string `json:"client_msg_id"`
	ServerMsgID string `json:"server_msg_id"`
}

// MessageNewPayload is relayed to every connection joined to the channel.
type MessageNewPayload struct {
	ChannelID   string    `json:"channel_id"`
	ClientMsgID string    `json:"client_msg_id"`
	ServerMsgID string    `json:"server_msg_id"`
	SenderID    string    `json:"sender_id"`
	Text        string    `json:"text"`
	ServerTS    time.Time `json:"server_ts"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
