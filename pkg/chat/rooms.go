package chat

import (
	"context"

	"github.com/mahaj/chatcore/pkg/async"
	"github.com/mahaj/chatcore/pkg/chaterr"
	"github.com/mahaj/chatcore/pkg/model"
)

// RoomWithMessages is a room together with its latest page of messages.
type RoomWithMessages struct {
	Room     model.Room      `json:"room"`
	Messages []model.Message `json:"messages"`
}

// Room mutations are remote-first: ids are assigned by the server, so
// nothing is written locally before it answers.

func (c *Client) ChatUser(ctx context.Context, userID string, in model.RoomInput) *async.Future[model.Room] {
	if userID == "" {
		return async.Failed[model.Room](chaterr.Validation("chatUser", "empty user id"))
	}
	return remoteCall(c, "chatUser", func(sc scope) (model.Room, error) {
		room, err := c.remote.ChatUser(ctx, userID, in)
		if err != nil {
			return room, err
		}
		return c.upsertRoom(sc, room)
	})
}

func (c *Client) CreateGroupChat(ctx context.Context, name string, userIDs []string, in model.RoomInput) *async.Future[model.Room] {
	if name == "" {
		return async.Failed[model.Room](chaterr.Validation("createGroupChat", "empty room name"))
	}
	if len(userIDs) == 0 {
		return async.Failed[model.Room](chaterr.Validation("createGroupChat", "no participants"))
	}
	in.Name = name
	return remoteCall(c, "createGroupChat", func(sc scope) (model.Room, error) {
		room, err := c.remote.CreateGroupChat(ctx, userIDs, in)
		if err != nil {
			return room, err
		}
		return c.upsertRoom(sc, room)
	})
}

// CreateChannel creates or joins the channel identified by uniqueID.
func (c *Client) CreateChannel(ctx context.Context, uniqueID string, in model.RoomInput) *async.Future[model.Room] {
	if uniqueID == "" {
		return async.Failed[model.Room](chaterr.Validation("createChannel", "empty channel unique id"))
	}
	in.UniqueID = uniqueID
	return remoteCall(c, "createChannel", func(sc scope) (model.Room, error) {
		room, err := c.remote.CreateChannel(ctx, in)
		if err != nil {
			return room, err
		}
		room.IsChannel = true
		return c.upsertRoom(sc, room)
	})
}

func (c *Client) UpdateChatRoom(ctx context.Context, roomID int64, in model.RoomInput) *async.Future[model.Room] {
	if roomID <= 0 {
		return async.Failed[model.Room](chaterr.Validation("updateChatRoom", "invalid room id %d", roomID))
	}
	return remoteCall(c, "updateChatRoom", func(sc scope) (model.Room, error) {
		room, err := c.remote.UpdateChatRoom(ctx, roomID, in)
		if err != nil {
			return room, err
		}
		if room.ID == 0 {
			room.ID = roomID
		}
		// The server echo does not carry summary and unread state.
		if known, err := c.rooms.Get(roomID); err == nil {
			room.UnreadCount = known.UnreadCount
			room.Removed = known.Removed
		}
		return c.upsertRoom(sc, room)
	})
}

func (c *Client) AddParticipants(ctx context.Context, roomID int64, userIDs []string) *async.Future[[]model.Participant] {
	if err := validRoster("addParticipants", roomID, userIDs); err != nil {
		return async.Failed[[]model.Participant](err)
	}
	return remoteCall(c, "addParticipants", func(sc scope) ([]model.Participant, error) {
		added, err := c.remote.AddParticipants(ctx, roomID, userIDs)
		if err != nil || !sc.live() {
			return added, err
		}
		c.rooms.Ensure(roomID)
		return c.rooms.AddParticipants(roomID, added)
	})
}

func (c *Client) RemoveParticipants(ctx context.Context, roomID int64, userIDs []string) *async.Future[[]model.Participant] {
	if err := validRoster("removeParticipants", roomID, userIDs); err != nil {
		return async.Failed[[]model.Participant](err)
	}
	return remoteCall(c, "removeParticipants", func(sc scope) ([]model.Participant, error) {
		removed, err := c.remote.RemoveParticipants(ctx, roomID, userIDs)
		if err != nil || !sc.live() {
			return removed, err
		}
		ids := userIDs
		if len(removed) > 0 {
			ids = make([]string, 0, len(removed))
			for _, p := range removed {
				ids = append(ids, p.UserID)
			}
		}
		c.rooms.Ensure(roomID)
		if _, err := c.rooms.RemoveParticipants(roomID, ids); err != nil {
			return nil, err
		}
		out := make([]model.Participant, 0, len(ids))
		for _, id := range ids {
			p := model.Participant{}
			p.UserID = id
			p.LastReadMessageID, p.LastReceivedMessageID = c.rooms.Watermark(roomID, id)
			out = append(out, p)
		}
		return out, nil
	})
}

func validRoster(op string, roomID int64, userIDs []string) error {
	if roomID <= 0 {
		return chaterr.Validation(op, "invalid room id %d", roomID)
	}
	if len(userIDs) == 0 {
		return chaterr.Validation(op, "no user ids")
	}
	for _, id := range userIDs {
		if id == "" {
			return chaterr.Validation(op, "empty user id")
		}
	}
	return nil
}

// GetChatRoomWithMessages fetches a room and its latest messages and folds
// both into the local stores.
func (c *Client) GetChatRoomWithMessages(ctx context.Context, roomID int64) *async.Future[RoomWithMessages] {
	if roomID <= 0 {
		return async.Failed[RoomWithMessages](chaterr.Validation("getChatRoomWithMessages", "invalid room id %d", roomID))
	}
	return remoteCall(c, "getChatRoomWithMessages", func(sc scope) (RoomWithMessages, error) {
		room, msgs, err := c.remote.GetChatRoomWithMessages(ctx, roomID)
		if err != nil {
			return RoomWithMessages{}, err
		}
		if room.ID == 0 {
			room.ID = roomID
		}
		if !sc.live() {
			return RoomWithMessages{Room: room, Messages: msgs}, nil
		}
		if _, err := c.rooms.Upsert(room); err != nil {
			return RoomWithMessages{}, err
		}
		c.applyMessages("getChatRoomWithMessages", msgs)
		stored, err := c.rooms.Get(room.ID)
		if err != nil {
			return RoomWithMessages{}, err
		}
		return RoomWithMessages{
			Room:     stored,
			Messages: c.messages.GetMessages(room.ID, 0, max(len(msgs), DefaultPageSize), model.Before),
		}, nil
	})
}

// GetChatRoom fetches one room by id, or by unique id when roomID is zero.
func (c *Client) GetChatRoom(ctx context.Context, roomID int64, uniqueID string) *async.Future[model.Room] {
	q := model.RoomQuery{Filter: model.RoomFilter{ShowParticipant: true, ShowRemoved: true}}
	switch {
	case roomID > 0:
		q.IDs = []int64{roomID}
	case uniqueID != "":
		q.UniqueIDs = []string{uniqueID}
	default:
		return async.Failed[model.Room](chaterr.Validation("getChatRoom", "room id or unique id required"))
	}
	return remoteCall(c, "getChatRoom", func(sc scope) (model.Room, error) {
		rooms, err := c.remote.GetChatRooms(ctx, q)
		if err != nil {
			return model.Room{}, err
		}
		if len(rooms) == 0 {
			return model.Room{}, chaterr.NotFound("getChatRoom", "room %d %q", roomID, uniqueID)
		}
		return c.upsertRoom(sc, rooms[0])
	})
}

// GetChatRooms lists rooms remotely and refreshes the local copies. Returned
// rooms carry participants only when the filter asks for them.
func (c *Client) GetChatRooms(ctx context.Context, filter model.RoomFilter, page, limit int) *async.Future[[]model.Room] {
	page, limit = paging(page, limit)
	q := model.RoomQuery{Filter: filter, Page: page, Limit: limit}
	return remoteCall(c, "getChatRooms", func(sc scope) ([]model.Room, error) {
		rooms, err := c.remote.GetChatRooms(ctx, q)
		if err != nil {
			return nil, err
		}
		out := make([]model.Room, 0, len(rooms))
		for _, r := range rooms {
			stored, err := c.upsertRoom(sc, r)
			if err != nil {
				c.logger.Printf("chat: skipping room in list: %v", err)
				continue
			}
			if !filter.ShowParticipant {
				stored.Participants = nil
			}
			out = append(out, stored)
		}
		return out, nil
	})
}

// GetParticipantList pages through a room's roster. sorting is "", "asc" or
// "desc".
func (c *Client) GetParticipantList(ctx context.Context, roomID int64, offset int, sorting string) *async.Future[[]model.Participant] {
	if roomID <= 0 {
		return async.Failed[[]model.Participant](chaterr.Validation("getParticipantList", "invalid room id %d", roomID))
	}
	if sorting != "" && sorting != "asc" && sorting != "desc" {
		return async.Failed[[]model.Participant](chaterr.Validation("getParticipantList", "invalid sorting %q", sorting))
	}
	offset = max(offset, 0)
	return remoteCall(c, "getParticipantList", func(sc scope) ([]model.Participant, error) {
		ps, err := c.remote.GetParticipantList(ctx, roomID, offset, sorting)
		if err != nil || !sc.live() {
			return ps, err
		}
		c.rooms.Ensure(roomID)
		if _, err := c.rooms.AddParticipants(roomID, ps); err != nil {
			return nil, err
		}
		return ps, nil
	})
}

// GetTotalUnreadCount asks the server. TotalUnread answers from local state.
func (c *Client) GetTotalUnreadCount(ctx context.Context) *async.Future[int] {
	return remoteCall(c, "getTotalUnreadCount", func(scope) (int, error) {
		return c.remote.GetTotalUnreadCount(ctx)
	})
}

func (c *Client) upsertRoom(sc scope, room model.Room) (model.Room, error) {
	if !sc.live() {
		return room, nil
	}
	return c.rooms.Upsert(room)
}
