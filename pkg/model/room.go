package model

type RoomType string

const (
	RoomSingle RoomType = "single"
	RoomGroup  RoomType = "group"
)

type User struct {
	ID          int64          `json:"id"`
	UserID      string         `json:"user_id"`
	DisplayName string         `json:"display_name"`
	AvatarURL   string         `json:"avatar_url,omitempty"`
	Extras      map[string]any `json:"extras,omitempty"`
}

// Participant is a User in the context of one room.
type Participant struct {
	User
	LastReadMessageID     int64 `json:"last_read_message_id"`
	LastReceivedMessageID int64 `json:"last_received_message_id"`
}

type Room struct {
	ID                 int64         `json:"id"`
	UniqueID           string        `json:"unique_id"`
	Name               string        `json:"name"`
	AvatarURL          string        `json:"avatar_url,omitempty"`
	Type               RoomType      `json:"type"`
	IsChannel          bool          `json:"is_channel"`
	Participants       []Participant `json:"participants,omitempty"`
	LastMessageID      int64         `json:"last_message_id"`
	LastMessageContent string        `json:"last_message_content"`
	UnreadCount        int           `json:"unread_count"`
	TotalParticipants  int           `json:"total_participants"`
	Options            string        `json:"options,omitempty"`

	// Removed is set when the current user is no longer a participant.
	Removed bool `json:"removed,omitempty"`
}

type RoomFilter struct {
	ShowParticipant bool `json:"show_participants"`
	ShowRemoved     bool `json:"show_removed"`
	ShowEmpty       bool `json:"show_empty"`
}

// RoomInput carries the caller-supplied fields of a room create or update.
type RoomInput struct {
	UniqueID  string         `json:"unique_id,omitempty"`
	Name      string         `json:"name,omitempty"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Extras    map[string]any `json:"extras,omitempty"`
}

// RoomQuery selects rooms by id, by unique id, or by filter and page when
// both id lists are empty.
type RoomQuery struct {
	IDs       []int64    `json:"room_ids,omitempty"`
	UniqueIDs []string   `json:"room_unique_ids,omitempty"`
	Filter    RoomFilter `json:"filter"`
	Page      int        `json:"page,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

type Nonce struct {
	Expired int64  `json:"expired"`
	Nonce   string `json:"nonce"`
}
