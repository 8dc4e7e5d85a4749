package models

import "errors"

var (
	ErrEmptyText        = errors.New("message text is empty")
	ErrRoomRequired     = errors.New("room is required")
	ErrIdentityRequired = errors.New("identity is required")
	ErrNotJoined        = errors.New("not joined to a room")
	ErrNotConnected     = errors.New("not connected")
	ErrAckTimeout       = errors.New("message not acknowledged by server")
)

// Message is a single chat message as stored in a room log and delivered
// on the wire. Immutable once accepted by the server.
type Message struct {
	ID        string `json:"id"`
	Seq       int64  `json:"seq,omitempty"`
	Room      string `json:"room,omitempty"`
	Author    string `json:"author,omitempty"`
	Text      string `json:"text"`
	HTML      string `json:"html,omitempty"`
	Timestamp int64  `json:"ts"` // Unix timestamp (milliseconds)
	System    bool   `json:"system,omitempty"`
}

type ClientEventType string

const (
	ClientEventJoin       ClientEventType = "join"
	ClientEventLeave      ClientEventType = "leave"
	ClientEventMessage    ClientEventType = "message"
	ClientEventTyping     ClientEventType = "typing"
	ClientEventStopTyping ClientEventType = "stopTyping"
)

// ClientEvent represents an event sent from the client to the server.
type ClientEvent struct {
	Type          ClientEventType `json:"type"`
	Identity      string          `json:"identity,omitempty"`
	Room          string          `json:"room,omitempty"`
	Text          string          `json:"text,omitempty"`
	Timestamp     int64           `json:"ts,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

type ServerEventType string

const (
	ServerEventUsers   ServerEventType = "users"
	ServerEventMessage ServerEventType = "message"
	ServerEventSystem  ServerEventType = "system"
	ServerEventTyping  ServerEventType = "typing"
	ServerEventHistory ServerEventType = "history"
	ServerEventAck     ServerEventType = "ack"
)

// ServerEvent represents an event pushed from the server to clients.
// Users and Typing are full replacements of the respective lists.
type ServerEvent struct {
	Type     ServerEventType `json:"type"`
	Room     string          `json:"room,omitempty"`
	Users    []string        `json:"users,omitempty"`
	Typing   []string        `json:"typing,omitempty"`
	Message  *Message        `json:"message,omitempty"`
	Messages []Message       `json:"messages,omitempty"`
	Ack      *Ack            `json:"ack,omitempty"`
}

// Ack is the point-to-point reply to a message submission,
// delivered only to the originating connection.
type Ack struct {
	CorrelationID string `json:"correlationId"`
	ID            string `json:"id,omitempty"`
	Error         string `json:"error,omitempty"`
}
