package chat

import (
	"context"
	"errors"
	"time"

	"github.com/mahaj/chatcore/pkg/async"
	"github.com/mahaj/chatcore/pkg/chaterr"
	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/syncengine"
)

// SendMessage stores the message as Sending before returning, then delivers
// it. The returned Future always settles with the record in Sent or Failed.
func (c *Client) SendMessage(ctx context.Context, roomID int64, in model.MessageInput) *async.Future[model.Message] {
	if roomID <= 0 {
		return async.Failed[model.Message](chaterr.Validation("sendMessage", "invalid room id %d", roomID))
	}
	if in.Content == "" && len(in.Payload) == 0 {
		return async.Failed[model.Message](chaterr.Validation("sendMessage", "message has no content"))
	}
	if in.Type == "" {
		in.Type = model.TypeText
	}
	sc, err := c.scope("sendMessage")
	if err != nil {
		return async.Failed[model.Message](err)
	}

	m := model.Message{
		UniqueID:  c.ids.UniqueID(),
		RoomID:    roomID,
		UserID:    sc.user.UserID,
		Content:   in.Content,
		Payload:   in.Payload,
		Extras:    in.Extras,
		Timestamp: time.Now().UTC(),
		Type:      in.Type,
		Status:    model.StatusSending,
	}
	if latest, ok := c.messages.Latest(roomID); ok {
		m.PreviousMessageID = latest.ID
	}
	stored, err := c.messages.Insert(m)
	if err != nil {
		return async.Failed[model.Message](err)
	}
	c.rooms.ApplyMessage(stored)
	return c.deliver(ctx, sc, stored)
}

// ResendMessage retries a Failed message under its original unique id.
func (c *Client) ResendMessage(ctx context.Context, uniqueID string) *async.Future[model.Message] {
	sc, err := c.scope("resendMessage")
	if err != nil {
		return async.Failed[model.Message](err)
	}
	m, err := c.messages.Resend(uniqueID)
	if err != nil {
		return async.Failed[model.Message](err)
	}
	if latest, ok := c.messages.Latest(m.RoomID); ok {
		m.PreviousMessageID = latest.ID
	}
	return c.deliver(ctx, sc, m)
}

func (c *Client) deliver(ctx context.Context, sc scope, m model.Message) *async.Future[model.Message] {
	return async.Go(func() (model.Message, error) {
		defer func() {
			if r := recover(); r != nil {
				c.failSend(sc, m)
				panic(r)
			}
		}()

		resp, err := c.remote.SendMessage(ctx, m)
		if err != nil {
			return c.failSend(sc, m), chaterr.Transport("sendMessage", err)
		}
		if !sc.live() {
			return resp, nil
		}

		resp.UniqueID = m.UniqueID
		if resp.RoomID == 0 {
			resp.RoomID = m.RoomID
		}
		if !resp.Confirmed() {
			c.logger.Printf("chat: send of %s returned no message id", m.UniqueID)
			return c.failSend(sc, m), chaterr.E(chaterr.KindTransport, "sendMessage", errNoMessageID)
		}
		if resp.Status < model.StatusSent || resp.Status == model.StatusFailed {
			resp.Status = model.StatusSent
		}
		stored, err := c.messages.Insert(resp)
		if err != nil {
			return c.failSend(sc, m), err
		}
		c.rooms.ApplyMessage(stored)
		// Sending implies having read everything before it.
		if _, err := c.rooms.SetWatermark(stored.RoomID, sc.user.UserID, stored.ID, stored.ID); err != nil {
			return stored, err
		}
		return stored, nil
	})
}

func (c *Client) failSend(sc scope, m model.Message) model.Message {
	m.Status = model.StatusFailed
	if !sc.live() {
		return m
	}
	failed, err := c.messages.UpdateStatus(m.UniqueID, model.StatusFailed)
	if err != nil {
		c.logger.Printf("chat: could not mark %s failed: %v", m.UniqueID, err)
		return m
	}
	return failed
}

// MarkAsRead moves the current user's read watermark to messageID locally and
// then confirms it remotely. A remote failure is surfaced but not rolled
// back; the next catch-up reconciles.
func (c *Client) MarkAsRead(ctx context.Context, roomID, messageID int64) *async.Future[model.Message] {
	return c.markAs(ctx, "markAsRead", roomID, messageID, model.StatusRead)
}

func (c *Client) MarkAsDelivered(ctx context.Context, roomID, messageID int64) *async.Future[model.Message] {
	return c.markAs(ctx, "markAsDelivered", roomID, messageID, model.StatusDelivered)
}

func (c *Client) markAs(ctx context.Context, op string, roomID, messageID int64, status model.MessageStatus) *async.Future[model.Message] {
	if roomID <= 0 || messageID <= 0 {
		return async.Failed[model.Message](chaterr.Validation(op, "invalid room %d or message %d", roomID, messageID))
	}
	sc, err := c.scope(op)
	if err != nil {
		return async.Failed[model.Message](err)
	}

	var read int64
	if status == model.StatusRead {
		read = messageID
	}
	if _, err := c.messages.MarkStatus(roomID, messageID, status); err != nil {
		return async.Failed[model.Message](err)
	}
	if _, err := c.rooms.SetWatermark(roomID, sc.user.UserID, read, messageID); err != nil {
		return async.Failed[model.Message](err)
	}
	local, ok := c.messages.GetByID(roomID, messageID)
	if !ok {
		local = model.Message{ID: messageID, RoomID: roomID, Status: status}
	}

	return async.Go(func() (model.Message, error) {
		err := c.remote.UpdateMessageStatus(ctx, roomID, messageID, status)
		return local, chaterr.Transport(op, err)
	})
}

// GetPreviousMessagesByID loads up to limit messages older than messageID,
// or the latest page when messageID is zero.
func (c *Client) GetPreviousMessagesByID(ctx context.Context, roomID int64, limit int, messageID int64) *async.Future[[]model.Message] {
	return c.loadMessages(ctx, "getPreviousMessagesById", roomID, limit, messageID, model.Before)
}

// GetNextMessagesByID loads up to limit messages newer than messageID.
func (c *Client) GetNextMessagesByID(ctx context.Context, roomID int64, limit int, messageID int64) *async.Future[[]model.Message] {
	return c.loadMessages(ctx, "getNextMessagesById", roomID, limit, messageID, model.After)
}

func (c *Client) loadMessages(ctx context.Context, op string, roomID int64, limit int, anchor int64, dir model.Direction) *async.Future[[]model.Message] {
	if roomID <= 0 {
		return async.Failed[[]model.Message](chaterr.Validation(op, "invalid room id %d", roomID))
	}
	if dir == model.After && anchor <= 0 {
		return async.Failed[[]model.Message](chaterr.Validation(op, "an anchor message id is required"))
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return remoteCall(c, op, func(sc scope) ([]model.Message, error) {
		msgs, err := c.remote.GetMessages(ctx, roomID, anchor, limit, dir)
		if err != nil || !sc.live() {
			return msgs, err
		}
		c.applyMessages(op, msgs)
		return c.messages.GetMessages(roomID, anchor, limit, dir), nil
	})
}

// applyMessages inserts a fetched page item by item. Invalid items are
// skipped and logged.
func (c *Client) applyMessages(op string, msgs []model.Message) {
	stored, skipped := c.messages.InsertBatch(msgs)
	for _, m := range stored {
		c.rooms.ApplyMessage(m)
	}
	if skipped > 0 {
		c.logger.Printf("chat: %s skipped %d invalid messages", op, skipped)
	}
}

// DeleteMessages deletes remotely, then tombstones the local copies and
// repairs the affected room summaries.
func (c *Client) DeleteMessages(ctx context.Context, uniqueIDs []string) *async.Future[[]model.Message] {
	if len(uniqueIDs) == 0 {
		return async.Failed[[]model.Message](chaterr.Validation("deleteMessages", "no message ids"))
	}
	return remoteCall(c, "deleteMessages", func(sc scope) ([]model.Message, error) {
		if _, err := c.remote.DeleteMessages(ctx, uniqueIDs); err != nil || !sc.live() {
			return nil, err
		}
		deleted := c.messages.Delete(uniqueIDs)
		touched := make(map[int64]struct{})
		for _, m := range deleted {
			touched[m.RoomID] = struct{}{}
		}
		for id := range touched {
			if _, err := c.rooms.Recompute(id); err != nil && !errors.Is(err, chaterr.ErrNotFound) {
				return deleted, err
			}
		}
		return deleted, nil
	})
}

// ClearMessagesByChatRoomID clears the history of each room remotely and
// drops the cached messages.
func (c *Client) ClearMessagesByChatRoomID(ctx context.Context, roomIDs []int64) *async.Future[[]model.Room] {
	if len(roomIDs) == 0 {
		return async.Failed[[]model.Room](chaterr.Validation("clearMessagesByChatRoomId", "no room ids"))
	}
	for _, id := range roomIDs {
		if id <= 0 {
			return async.Failed[[]model.Room](chaterr.Validation("clearMessagesByChatRoomId", "invalid room id %d", id))
		}
	}
	return remoteCall(c, "clearMessagesByChatRoomId", func(sc scope) ([]model.Room, error) {
		if err := c.remote.ClearMessages(ctx, roomIDs); err != nil || !sc.live() {
			return nil, err
		}
		return c.rooms.Clear(roomIDs), nil
	})
}

// Synchronize runs one message catch-up pass. Zero resumes from the stored
// checkpoint.
func (c *Client) Synchronize(ctx context.Context, lastMessageID int64) *async.Future[syncengine.Report] {
	return async.Go(func() (syncengine.Report, error) {
		return c.engine.Synchronize(ctx, lastMessageID)
	})
}

// SynchronizeEvent runs one event catch-up pass.
func (c *Client) SynchronizeEvent(ctx context.Context, lastEventID int64) *async.Future[syncengine.Report] {
	return async.Go(func() (syncengine.Report, error) {
		return c.engine.SynchronizeEvents(ctx, lastEventID)
	})
}
