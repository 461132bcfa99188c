package chat

import (
	"context"
	"io"

	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/session"
	"github.com/mahaj/chatcore/pkg/syncengine"
)

// Remote is the request/response side of the messaging service used by the
// Client. api.Client is the production implementation.
type Remote interface {
	syncengine.Remote

	GetUserData(ctx context.Context) (model.User, error)
	UpdateUser(ctx context.Context, extra session.UserExtra) (model.User, error)
	GetUserList(ctx context.Context, query string, page, limit int) ([]model.User, error)
	BlockUser(ctx context.Context, userID string) (model.User, error)
	UnblockUser(ctx context.Context, userID string) (model.User, error)
	GetBlockedUserList(ctx context.Context, page, limit int) ([]model.User, error)

	ChatUser(ctx context.Context, userID string, in model.RoomInput) (model.Room, error)
	CreateGroupChat(ctx context.Context, userIDs []string, in model.RoomInput) (model.Room, error)
	CreateChannel(ctx context.Context, in model.RoomInput) (model.Room, error)
	UpdateChatRoom(ctx context.Context, roomID int64, in model.RoomInput) (model.Room, error)
	AddParticipants(ctx context.Context, roomID int64, userIDs []string) ([]model.Participant, error)
	RemoveParticipants(ctx context.Context, roomID int64, userIDs []string) ([]model.Participant, error)
	GetChatRoomWithMessages(ctx context.Context, roomID int64) (model.Room, []model.Message, error)
	GetChatRooms(ctx context.Context, q model.RoomQuery) ([]model.Room, error)
	GetParticipantList(ctx context.Context, roomID int64, offset int, sorting string) ([]model.Participant, error)
	GetTotalUnreadCount(ctx context.Context) (int, error)

	SendMessage(ctx context.Context, m model.Message) (model.Message, error)
	UpdateMessageStatus(ctx context.Context, roomID, messageID int64, status model.MessageStatus) error
	GetMessages(ctx context.Context, roomID, messageID int64, limit int, dir model.Direction) ([]model.Message, error)
	DeleteMessages(ctx context.Context, uniqueIDs []string) ([]model.Message, error)
	ClearMessages(ctx context.Context, roomIDs []int64) error
}

// Uploader stores a file and returns its URL, usable as message content.
type Uploader interface {
	Upload(ctx context.Context, name string, r io.Reader) (string, error)
}

// DeviceRegistry manages push notification device tokens.
type DeviceRegistry interface {
	RegisterDeviceToken(ctx context.Context, token string) error
	RemoveDeviceToken(ctx context.Context, token string) error
}

// TypingPublisher announces typing state in a room.
type TypingPublisher interface {
	PublishTyping(ctx context.Context, roomID int64, userID string, typing bool) error
}
