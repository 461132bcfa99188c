package model

import "time"

type MessageType string

const (
	TypeText   MessageType = "text"
	TypeCustom MessageType = "custom"
)

// MessageStatus moves forward only: Sending, Sent, Delivered, Read.
// Failed is reachable from Sending alone.
type MessageStatus int

const (
	StatusSending MessageStatus = iota
	StatusSent
	StatusDelivered
	StatusRead
	StatusFailed
)

var statusNames = map[MessageStatus]string{
	StatusSending:   "sending",
	StatusSent:      "sent",
	StatusDelivered: "delivered",
	StatusRead:      "read",
	StatusFailed:    "failed",
}

func (s MessageStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether s is one of the declared statuses.
func (s MessageStatus) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether no further transition is allowed from s.
func (s MessageStatus) Terminal() bool {
	return s == StatusRead || s == StatusFailed
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	if !next.Valid() || s == next {
		return false
	}
	if s == StatusFailed {
		return false
	}
	if next == StatusFailed {
		return s == StatusSending
	}
	return next > s
}

type Message struct {
	ID                int64          `json:"id"`
	UniqueID          string         `json:"unique_id"`
	RoomID            int64          `json:"room_id"`
	UserID            string         `json:"user_id"`
	Content           string         `json:"content"`
	Payload           map[string]any `json:"payload,omitempty"`
	Extras            map[string]any `json:"extras,omitempty"`
	PreviousMessageID int64          `json:"previous_message_id"`
	Timestamp         time.Time      `json:"timestamp"`
	Type              MessageType    `json:"type"`
	Status            MessageStatus  `json:"status"`
	Deleted           bool           `json:"deleted,omitempty"`
}

// Confirmed reports whether the server has assigned a numeric id.
func (m *Message) Confirmed() bool {
	return m.ID > 0
}

// MessageInput is what a caller hands to SendMessage.
type MessageInput struct {
	Type    MessageType    `json:"type"`
	Content string         `json:"message"`
	Payload map[string]any `json:"payload,omitempty"`
	Extras  map[string]any `json:"extras,omitempty"`
}

// Direction selects which side of an anchor a page is taken from.
type Direction int

const (
	Before Direction = iota
	After
)

func (d Direction) String() string {
	if d == After {
		return "after"
	}
	return "before"
}
