// Package api is the typed remote surface of the messaging service, carried
// over a transport.Transport.
package api

import (
	"context"

	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/session"
	"github.com/mahaj/chatcore/pkg/transport"
)

// Remote method names.
const (
	MethodLogin              = "auth/login"
	MethodIdentityToken      = "auth/identity_token"
	MethodNonce              = "auth/nonce"
	MethodMe                 = "users/me"
	MethodUpdateUser         = "users/update"
	MethodUserList           = "users/list"
	MethodBlock              = "users/block"
	MethodUnblock            = "users/unblock"
	MethodBlockedList        = "users/blocked"
	MethodChatUser           = "rooms/chat_user"
	MethodCreateGroup        = "rooms/create_group"
	MethodCreateChannel      = "rooms/create_channel"
	MethodUpdateRoom         = "rooms/update"
	MethodAddParticipants    = "rooms/add_participants"
	MethodRemoveParticipants = "rooms/remove_participants"
	MethodRoomWithMessages   = "rooms/with_messages"
	MethodRoomList           = "rooms/list"
	MethodParticipantList    = "rooms/participants"
	MethodTotalUnread        = "rooms/total_unread"
	MethodSend               = "messages/send"
	MethodUpdateStatus       = "messages/status"
	MethodLoadMessages       = "messages/load"
	MethodDeleteMessages     = "messages/delete"
	MethodClearMessages      = "messages/clear"
	MethodSyncMessages       = "sync/messages"
	MethodSyncEvents         = "sync/events"
)

// Client implements session.Authenticator and the chat and sync remotes.
type Client struct {
	t transport.Transport
}

func New(t transport.Transport) *Client {
	return &Client{t: t}
}

type loginRequest struct {
	UserID  string `json:"user_id"`
	UserKey string `json:"user_key"`
	session.UserExtra
}

type tokenRequest struct {
	Token string `json:"identity_token"`
}

func (c *Client) Login(ctx context.Context, userID, userKey string, extra session.UserExtra) (session.Credentials, error) {
	var out session.Credentials
	err := c.t.Call(ctx, MethodLogin, loginRequest{UserID: userID, UserKey: userKey, UserExtra: extra}, &out)
	return out, err
}

func (c *Client) SetUserFromIdentityToken(ctx context.Context, token string) (session.Credentials, error) {
	var out session.Credentials
	err := c.t.Call(ctx, MethodIdentityToken, tokenRequest{Token: token}, &out)
	return out, err
}

func (c *Client) GetNonce(ctx context.Context) (model.Nonce, error) {
	var out model.Nonce
	err := c.t.Call(ctx, MethodNonce, nil, &out)
	return out, err
}

type userResponse struct {
	User model.User `json:"user"`
}

type usersResponse struct {
	Users []model.User `json:"users"`
}

type userRequest struct {
	UserID string `json:"user_id"`
}

type listRequest struct {
	Query string `json:"query,omitempty"`
	Page  int    `json:"page,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

func (c *Client) GetUserData(ctx context.Context) (model.User, error) {
	var out userResponse
	err := c.t.Call(ctx, MethodMe, nil, &out)
	return out.User, err
}

func (c *Client) UpdateUser(ctx context.Context, extra session.UserExtra) (model.User, error) {
	var out userResponse
	err := c.t.Call(ctx, MethodUpdateUser, extra, &out)
	return out.User, err
}

func (c *Client) GetUserList(ctx context.Context, query string, page, limit int) ([]model.User, error) {
	var out usersResponse
	err := c.t.Call(ctx, MethodUserList, listRequest{Query: query, Page: page, Limit: limit}, &out)
	return out.Users, err
}

func (c *Client) BlockUser(ctx context.Context, userID string) (model.User, error) {
	var out userResponse
	err := c.t.Call(ctx, MethodBlock, userRequest{UserID: userID}, &out)
	return out.User, err
}

func (c *Client) UnblockUser(ctx context.Context, userID string) (model.User, error) {
	var out userResponse
	err := c.t.Call(ctx, MethodUnblock, userRequest{UserID: userID}, &out)
	return out.User, err
}

func (c *Client) GetBlockedUserList(ctx context.Context, page, limit int) ([]model.User, error) {
	var out usersResponse
	err := c.t.Call(ctx, MethodBlockedList, listRequest{Page: page, Limit: limit}, &out)
	return out.Users, err
}

type roomResponse struct {
	Room     model.Room      `json:"room"`
	Messages []model.Message `json:"messages,omitempty"`
}

type roomsResponse struct {
	Rooms []model.Room `json:"rooms"`
}

type participantsResponse struct {
	Participants []model.Participant `json:"participants"`
}

type chatUserRequest struct {
	UserID string `json:"user_id"`
	model.RoomInput
}

type groupRequest struct {
	UserIDs []string `json:"user_ids"`
	model.RoomInput
}

type updateRoomRequest struct {
	RoomID int64 `json:"room_id"`
	model.RoomInput
}

type participantsRequest struct {
	RoomID  int64    `json:"room_id"`
	UserIDs []string `json:"user_ids,omitempty"`
	Offset  int      `json:"offset,omitempty"`
	Sorting string   `json:"sorting,omitempty"`
}

type roomRequest struct {
	RoomID int64 `json:"room_id"`
}

func (c *Client) ChatUser(ctx context.Context, userID string, in model.RoomInput) (model.Room, error) {
	var out roomResponse
	err := c.t.Call(ctx, MethodChatUser, chatUserRequest{UserID: userID, RoomInput: in}, &out)
	return out.Room, err
}

func (c *Client) CreateGroupChat(ctx context.Context, userIDs []string, in model.RoomInput) (model.Room, error) {
	var out roomResponse
	err := c.t.Call(ctx, MethodCreateGroup, groupRequest{UserIDs: userIDs, RoomInput: in}, &out)
	return out.Room, err
}

func (c *Client) CreateChannel(ctx context.Context, in model.RoomInput) (model.Room, error) {
	var out roomResponse
	err := c.t.Call(ctx, MethodCreateChannel, in, &out)
	return out.Room, err
}

func (c *Client) UpdateChatRoom(ctx context.Context, roomID int64, in model.RoomInput) (model.Room, error) {
	var out roomResponse
	err := c.t.Call(ctx, MethodUpdateRoom, updateRoomRequest{RoomID: roomID, RoomInput: in}, &out)
	return out.Room, err
}

func (c *Client) AddParticipants(ctx context.Context, roomID int64, userIDs []string) ([]model.Participant, error) {
	var out participantsResponse
	err := c.t.Call(ctx, MethodAddParticipants, participantsRequest{RoomID: roomID, UserIDs: userIDs}, &out)
	return out.Participants, err
}

func (c *Client) RemoveParticipants(ctx context.Context, roomID int64, userIDs []string) ([]model.Participant, error) {
	var out participantsResponse
	err := c.t.Call(ctx, MethodRemoveParticipants, participantsRequest{RoomID: roomID, UserIDs: userIDs}, &out)
	return out.Participants, err
}

func (c *Client) GetChatRoomWithMessages(ctx context.Context, roomID int64) (model.Room, []model.Message, error) {
	var out roomResponse
	err := c.t.Call(ctx, MethodRoomWithMessages, roomRequest{RoomID: roomID}, &out)
	return out.Room, out.Messages, err
}

func (c *Client) GetChatRooms(ctx context.Context, q model.RoomQuery) ([]model.Room, error) {
	var out roomsResponse
	err := c.t.Call(ctx, MethodRoomList, q, &out)
	return out.Rooms, err
}

func (c *Client) GetParticipantList(ctx context.Context, roomID int64, offset int, sorting string) ([]model.Participant, error) {
	var out participantsResponse
	err := c.t.Call(ctx, MethodParticipantList, participantsRequest{RoomID: roomID, Offset: offset, Sorting: sorting}, &out)
	return out.Participants, err
}

func (c *Client) GetTotalUnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Total int `json:"total_unread_count"`
	}
	err := c.t.Call(ctx, MethodTotalUnread, nil, &out)
	return out.Total, err
}

type messageResponse struct {
	Message model.Message `json:"message"`
}

type messagesResponse struct {
	Messages []model.Message `json:"messages"`
}

type statusRequest struct {
	RoomID    int64  `json:"room_id"`
	MessageID int64  `json:"message_id"`
	Status    string `json:"status"`
}

type loadRequest struct {
	RoomID    int64  `json:"room_id"`
	MessageID int64  `json:"message_id"`
	Limit     int    `json:"limit"`
	Direction string `json:"direction"`
}

type uniqueIDsRequest struct {
	UniqueIDs []string `json:"unique_ids"`
}

type roomIDsRequest struct {
	RoomIDs []int64 `json:"room_ids"`
}

type syncRequest struct {
	LastMessageID int64 `json:"last_received_message_id,omitempty"`
	LastEventID   int64 `json:"start_event_id,omitempty"`
}

type eventsResponse struct {
	Events []model.Event `json:"events"`
}

func (c *Client) SendMessage(ctx context.Context, m model.Message) (model.Message, error) {
	var out messageResponse
	err := c.t.Call(ctx, MethodSend, m, &out)
	return out.Message, err
}

func (c *Client) UpdateMessageStatus(ctx context.Context, roomID, messageID int64, status model.MessageStatus) error {
	return c.t.Call(ctx, MethodUpdateStatus, statusRequest{RoomID: roomID, MessageID: messageID, Status: status.String()}, nil)
}

func (c *Client) GetMessages(ctx context.Context, roomID, messageID int64, limit int, dir model.Direction) ([]model.Message, error) {
	var out messagesResponse
	err := c.t.Call(ctx, MethodLoadMessages, loadRequest{RoomID: roomID, MessageID: messageID, Limit: limit, Direction: dir.String()}, &out)
	return out.Messages, err
}

func (c *Client) DeleteMessages(ctx context.Context, uniqueIDs []string) ([]model.Message, error) {
	var out messagesResponse
	err := c.t.Call(ctx, MethodDeleteMessages, uniqueIDsRequest{UniqueIDs: uniqueIDs}, &out)
	return out.Messages, err
}

func (c *Client) ClearMessages(ctx context.Context, roomIDs []int64) error {
	return c.t.Call(ctx, MethodClearMessages, roomIDsRequest{RoomIDs: roomIDs}, nil)
}

func (c *Client) Synchronize(ctx context.Context, lastMessageID int64) ([]model.Message, error) {
	var out messagesResponse
	err := c.t.Call(ctx, MethodSyncMessages, syncRequest{LastMessageID: lastMessageID}, &out)
	return out.Messages, err
}

func (c *Client) SynchronizeEvents(ctx context.Context, lastEventID int64) ([]model.Event, error) {
	var out eventsResponse
	err := c.t.Call(ctx, MethodSyncEvents, syncRequest{LastEventID: lastEventID}, &out)
	return out.Events, err
}
