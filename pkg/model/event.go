package model

type EventKind string

const (
	EventMessage     EventKind = "message"
	EventStatus      EventKind = "status"
	EventParticipant EventKind = "participant"
)

type ParticipantAction string

const (
	ParticipantAdded   ParticipantAction = "added"
	ParticipantRemoved ParticipantAction = "removed"
)

// Event is the shape delivered by both the push channel and catch-up calls.
// Exactly one of Message, Status or Participant is set, matching Kind.
type Event struct {
	ID          int64              `json:"id"`
	Kind        EventKind          `json:"kind"`
	Message     *Message           `json:"message,omitempty"`
	Status      *StatusChange      `json:"status,omitempty"`
	Participant *ParticipantChange `json:"participant,omitempty"`
}

// StatusChange says UserID has read or received everything up to MessageID.
type StatusChange struct {
	RoomID    int64         `json:"room_id"`
	MessageID int64         `json:"message_id"`
	UserID    string        `json:"user_id"`
	Status    MessageStatus `json:"status"`
}

type ParticipantChange struct {
	RoomID       int64             `json:"room_id"`
	Action       ParticipantAction `json:"action"`
	Participants []Participant     `json:"participants"`
}
