package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mahaj/chatcore/pkg/chaterr"
	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/session"
)

func TestSendIsVisibleBeforeRemoteAnswers(t *testing.T) {
	remote := newFakeRemote()
	release := make(chan struct{})
	remote.sendHook = func(m model.Message) (model.Message, error) {
		<-release
		m.ID = 500
		m.Status = model.StatusSent
		return m, nil
	}
	c := loggedIn(t, remote)

	f := c.SendMessage(context.Background(), 1, model.MessageInput{Content: "hello"})
	pending := c.Messages(1, 0, 10, model.Before)
	if len(pending) != 1 || pending[0].Status != model.StatusSending {
		t.Fatalf("pending = %+v", pending)
	}
	uid := pending[0].UniqueID

	close(release)
	sent, err := await(t, f)
	if err != nil {
		t.Fatal(err)
	}
	if sent.UniqueID != uid || sent.ID != 500 || sent.Status != model.StatusSent {
		t.Fatalf("sent = %+v", sent)
	}
	after := c.Messages(1, 0, 10, model.Before)
	if len(after) != 1 || after[0].Status != model.StatusSent || after[0].UniqueID != uid {
		t.Fatalf("after = %+v", after)
	}
}

func TestSendFailureLeavesOneFailedRecord(t *testing.T) {
	remote := newFakeRemote()
	c := loggedIn(t, remote)
	remote.failAll = true

	_, err := await(t, c.SendMessage(context.Background(), 1, model.MessageInput{Content: "hello"}))
	if !errors.Is(err, chaterr.ErrTransport) {
		t.Fatalf("err = %v, want transport", err)
	}
	msgs := c.Messages(1, 0, 10, model.Before)
	if len(msgs) != 1 || msgs[0].Status != model.StatusFailed {
		t.Fatalf("messages = %+v", msgs)
	}

	// Retrying under the same unique id converges on one Sent record.
	remote.failAll = false
	sent, err := await(t, c.ResendMessage(context.Background(), msgs[0].UniqueID))
	if err != nil {
		t.Fatal(err)
	}
	msgs = c.Messages(1, 0, 10, model.Before)
	if len(msgs) != 1 || msgs[0].Status != model.StatusSent || msgs[0].ID != sent.ID {
		t.Fatalf("messages after resend = %+v", msgs)
	}
	if _, err := await(t, c.ResendMessage(context.Background(), msgs[0].UniqueID)); !errors.Is(err, chaterr.ErrConflict) {
		t.Fatalf("resend of sent message: %v", err)
	}
}

func TestSendPanicStillTerminates(t *testing.T) {
	remote := newFakeRemote()
	remote.sendHook = func(model.Message) (model.Message, error) { panic("boom") }
	c := loggedIn(t, remote)

	_, err := await(t, c.SendMessage(context.Background(), 1, model.MessageInput{Content: "x"}))
	if chaterr.KindOf(err) != chaterr.KindUnknown {
		t.Fatalf("err = %v, want unknown", err)
	}
	msgs := c.Messages(1, 0, 10, model.Before)
	if len(msgs) != 1 || msgs[0].Status != model.StatusFailed {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestSendValidation(t *testing.T) {
	c := loggedIn(t, newFakeRemote())
	tests := []struct {
		name string
		room int64
		in   model.MessageInput
	}{
		{"no room", 0, model.MessageInput{Content: "x"}},
		{"empty", 1, model.MessageInput{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := await(t, c.SendMessage(context.Background(), tt.room, tt.in)); !errors.Is(err, chaterr.ErrValidation) {
				t.Fatalf("err = %v", err)
			}
		})
	}
	custom := model.MessageInput{Type: model.TypeCustom, Payload: map[string]any{"type": "card"}}
	if _, err := await(t, c.SendMessage(context.Background(), 1, custom)); err != nil {
		t.Fatalf("payload-only message rejected: %v", err)
	}
}

func TestMarkAsReadMovesWatermark(t *testing.T) {
	remote := newFakeRemote()
	remote.seed(1, 9, 10, 11, 12)
	c := loggedIn(t, remote)

	got, err := await(t, c.GetChatRoomWithMessages(context.Background(), 1))
	if err != nil {
		t.Fatal(err)
	}
	if got.Room.UnreadCount != 3 || len(got.Messages) != 3 {
		t.Fatalf("room = %+v, %d messages", got.Room, len(got.Messages))
	}

	f := c.MarkAsRead(context.Background(), 1, 11)
	// The local update is applied before the remote call completes.
	if r, _ := c.Room(1); r.UnreadCount != 1 {
		t.Fatalf("unread = %d, want 1", r.UnreadCount)
	}
	m, err := await(t, f)
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != 11 || m.Status != model.StatusRead {
		t.Fatalf("marked = %+v", m)
	}
	if len(remote.statuses) != 1 || remote.statuses[0].MessageID != 11 {
		t.Fatalf("remote statuses = %+v", remote.statuses)
	}
	if total := c.TotalUnread(); total != 1 {
		t.Fatalf("total unread = %d", total)
	}
}

func TestMarkAsReadFailureKeepsLocalState(t *testing.T) {
	remote := newFakeRemote()
	remote.seed(1, 0, 10, 11)
	c := loggedIn(t, remote)
	if _, err := await(t, c.GetChatRoomWithMessages(context.Background(), 1)); err != nil {
		t.Fatal(err)
	}
	remote.failAll = true

	_, err := await(t, c.MarkAsDelivered(context.Background(), 1, 11))
	if !errors.Is(err, chaterr.ErrTransport) {
		t.Fatalf("err = %v", err)
	}
	m, _ := c.Message("srv-10")
	if m.Status != model.StatusDelivered {
		t.Fatalf("status = %s", m.Status)
	}
}

func TestOwnSendClearsUnread(t *testing.T) {
	remote := newFakeRemote()
	remote.seed(1, 0, 10, 11)
	c := loggedIn(t, remote)
	if _, err := await(t, c.GetChatRoomWithMessages(context.Background(), 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := await(t, c.SendMessage(context.Background(), 1, model.MessageInput{Content: "reply"})); err != nil {
		t.Fatal(err)
	}
	r, _ := c.Room(1)
	if r.UnreadCount != 0 || r.LastMessageContent != "reply" {
		t.Fatalf("room = %+v", r)
	}
	msgs := c.Messages(1, 0, 10, model.Before)
	if last := msgs[len(msgs)-1]; last.PreviousMessageID != 11 {
		t.Fatalf("previous id = %d, want 11", last.PreviousMessageID)
	}
}

func TestRequiresSession(t *testing.T) {
	c := newClient(t, newFakeRemote())
	ctx := context.Background()

	if _, err := await(t, c.SendMessage(ctx, 1, model.MessageInput{Content: "x"})); !errors.Is(err, chaterr.ErrNotAuthenticated) {
		t.Fatalf("send: %v", err)
	}
	if _, err := await(t, c.GetChatRooms(ctx, model.RoomFilter{}, 1, 10)); !errors.Is(err, chaterr.ErrNotAuthenticated) {
		t.Fatalf("rooms: %v", err)
	}
	if _, err := await(t, c.MarkAsRead(ctx, 1, 2)); !errors.Is(err, chaterr.ErrNotAuthenticated) {
		t.Fatalf("mark: %v", err)
	}
	if _, err := await(t, c.Synchronize(ctx, 0)); !errors.Is(err, chaterr.ErrNotAuthenticated) {
		t.Fatalf("sync: %v", err)
	}
}

func TestRoomsAreRemoteFirst(t *testing.T) {
	remote := newFakeRemote()
	c := loggedIn(t, remote)
	ctx := context.Background()

	if _, err := await(t, c.CreateGroupChat(ctx, "", []string{"U2"}, model.RoomInput{})); !errors.Is(err, chaterr.ErrValidation) {
		t.Fatalf("empty name: %v", err)
	}
	if _, err := await(t, c.CreateGroupChat(ctx, "team", nil, model.RoomInput{})); !errors.Is(err, chaterr.ErrValidation) {
		t.Fatalf("no participants: %v", err)
	}

	remote.failAll = true
	if _, err := await(t, c.CreateGroupChat(ctx, "team", []string{"U2"}, model.RoomInput{})); !errors.Is(err, chaterr.ErrTransport) {
		t.Fatalf("err = %v", err)
	}
	if rooms := c.Rooms(model.RoomFilter{ShowEmpty: true}, 1, 10); len(rooms) != 0 {
		t.Fatalf("failed create left %d local rooms", len(rooms))
	}

	remote.failAll = false
	room, err := await(t, c.CreateGroupChat(ctx, "team", []string{"U2", "U3"}, model.RoomInput{}))
	if err != nil {
		t.Fatal(err)
	}
	local, err := c.Room(room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if local.Name != "team" || local.TotalParticipants != 3 {
		t.Fatalf("local = %+v", local)
	}

	updated, err := await(t, c.UpdateChatRoom(ctx, room.ID, model.RoomInput{Name: "renamed"}))
	if err != nil {
		t.Fatal(err)
	}
	if updated.Name != "renamed" || updated.TotalParticipants != 3 {
		t.Fatalf("updated = %+v", updated)
	}

	if _, err := await(t, c.RemoveParticipants(ctx, room.ID, []string{"U1"})); err != nil {
		t.Fatal(err)
	}
	if r, _ := c.Room(room.ID); !r.Removed {
		t.Fatal("room should be marked removed")
	}
	if rooms := c.Rooms(model.RoomFilter{ShowEmpty: true}, 1, 10); len(rooms) != 0 {
		t.Fatalf("removed room listed: %+v", rooms)
	}
	if _, err := await(t, c.AddParticipants(ctx, room.ID, []string{"U1"})); err != nil {
		t.Fatal(err)
	}
	if r, _ := c.Room(room.ID); r.Removed {
		t.Fatal("re-added user should see the room again")
	}
}

func TestChannelAndChatUser(t *testing.T) {
	c := loggedIn(t, newFakeRemote())
	ctx := context.Background()

	ch, err := await(t, c.CreateChannel(ctx, "news", model.RoomInput{Name: "News"}))
	if err != nil {
		t.Fatal(err)
	}
	if local, err := c.RoomByUniqueID("news"); err != nil || !local.IsChannel || local.ID != ch.ID {
		t.Fatalf("channel = %+v, %v", local, err)
	}

	dm, err := await(t, c.ChatUser(ctx, "U2", model.RoomInput{}))
	if err != nil {
		t.Fatal(err)
	}
	if dm.Type != model.RoomSingle {
		t.Fatalf("type = %s", dm.Type)
	}
	fetched, err := await(t, c.GetChatRoom(ctx, dm.ID, ""))
	if err != nil || fetched.ID != dm.ID {
		t.Fatalf("fetched = %+v, %v", fetched, err)
	}
	if _, err := await(t, c.GetChatRoom(ctx, 999, "")); !errors.Is(err, chaterr.ErrNotFound) {
		t.Fatalf("missing room: %v", err)
	}
	if _, err := await(t, c.GetChatRoom(ctx, 0, "")); !errors.Is(err, chaterr.ErrValidation) {
		t.Fatalf("no key: %v", err)
	}
}

func TestGetChatRoomsStripsParticipants(t *testing.T) {
	remote := newFakeRemote()
	remote.seed(1, 0, 10)
	remote.seed(2, 0, 20)
	c := loggedIn(t, remote)

	rooms, err := await(t, c.GetChatRooms(context.Background(), model.RoomFilter{}, 1, 10))
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 2 {
		t.Fatalf("rooms = %+v", rooms)
	}
	for _, r := range rooms {
		if r.Participants != nil {
			t.Fatalf("room %d carries participants", r.ID)
		}
	}
	if local := c.Rooms(model.RoomFilter{}, 1, 10); len(local) != 2 || local[0].ID != 2 {
		t.Fatalf("local order = %+v", local)
	}

	ps, err := await(t, c.GetParticipantList(context.Background(), 1, 0, "asc"))
	if err != nil || len(ps) != 2 {
		t.Fatalf("participants = %+v, %v", ps, err)
	}
	if _, err := await(t, c.GetParticipantList(context.Background(), 1, 0, "sideways")); !errors.Is(err, chaterr.ErrValidation) {
		t.Fatalf("sorting: %v", err)
	}
}

func TestHistoryPaging(t *testing.T) {
	remote := newFakeRemote()
	remote.seed(1, 0, 10, 11, 12, 13)
	c := loggedIn(t, remote)
	ctx := context.Background()

	older, err := await(t, c.GetPreviousMessagesByID(ctx, 1, 2, 13))
	if err != nil {
		t.Fatal(err)
	}
	if len(older) != 2 || older[0].ID != 11 || older[1].ID != 12 {
		t.Fatalf("older = %+v", older)
	}
	newer, err := await(t, c.GetNextMessagesByID(ctx, 1, 10, 11))
	if err != nil {
		t.Fatal(err)
	}
	if len(newer) != 2 || newer[0].ID != 12 || newer[1].ID != 13 {
		t.Fatalf("newer = %+v", newer)
	}
	if _, err := await(t, c.GetNextMessagesByID(ctx, 1, 10, 0)); !errors.Is(err, chaterr.ErrValidation) {
		t.Fatalf("missing anchor: %v", err)
	}
}

func TestDeleteAndClear(t *testing.T) {
	remote := newFakeRemote()
	remote.seed(1, 0, 10, 11, 12)
	c := loggedIn(t, remote)
	ctx := context.Background()
	if _, err := await(t, c.GetChatRoomWithMessages(ctx, 1)); err != nil {
		t.Fatal(err)
	}

	deleted, err := await(t, c.DeleteMessages(ctx, []string{"srv-12"}))
	if err != nil {
		t.Fatal(err)
	}
	if len(deleted) != 1 || !deleted[0].Deleted {
		t.Fatalf("deleted = %+v", deleted)
	}
	r, _ := c.Room(1)
	if r.LastMessageID != 11 || r.UnreadCount != 2 {
		t.Fatalf("room after delete = %+v", r)
	}

	cleared, err := await(t, c.ClearMessagesByChatRoomID(ctx, []int64{1}))
	if err != nil {
		t.Fatal(err)
	}
	if len(cleared) != 1 || cleared[0].UnreadCount != 0 || cleared[0].LastMessageID != 0 {
		t.Fatalf("cleared = %+v", cleared)
	}
	if msgs := c.Messages(1, 0, 10, model.Before); len(msgs) != 0 {
		t.Fatalf("messages remain: %+v", msgs)
	}
}

func TestSwitchingUserResetsState(t *testing.T) {
	remote := newFakeRemote()
	remote.seed(1, 0, 10)
	c := loggedIn(t, remote)
	ctx := context.Background()
	if _, err := await(t, c.GetChatRoomWithMessages(ctx, 1)); err != nil {
		t.Fatal(err)
	}

	if _, err := await(t, c.SetUser(ctx, "U9", "key", session.UserExtra{})); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Room(1); !errors.Is(err, chaterr.ErrNotFound) {
		t.Fatalf("previous user's room leaked: %v", err)
	}
	if c.Session().Token() != "tok-U9" {
		t.Fatalf("token = %q", c.Session().Token())
	}

	c.ClearUser()
	if _, ok := c.CurrentUser(); ok {
		t.Fatal("session still active")
	}
}

func TestIdentityTokenLogin(t *testing.T) {
	c := newClient(t, newFakeRemote())
	ctx := context.Background()
	fa := c.auth.(*fakeAuth)

	nonce, err := await(t, c.GetNonce(ctx))
	if err != nil {
		t.Fatal(err)
	}
	token, err := fa.signer.Sign(model.User{UserID: "alice", DisplayName: "Alice"}, nonce)
	if err != nil {
		t.Fatal(err)
	}
	user, err := await(t, c.SetUserWithIdentityToken(ctx, token))
	if err != nil {
		t.Fatal(err)
	}
	if user.UserID != "alice" || c.Session().CurrentUserID() != "alice" {
		t.Fatalf("user = %+v", user)
	}

	fa.nonce = "other"
	if _, err := await(t, c.SetUserWithIdentityToken(ctx, token)); !errors.Is(err, chaterr.ErrNotAuthenticated) {
		t.Fatalf("stale nonce: %v", err)
	}
}

func TestProfileUpdates(t *testing.T) {
	c := loggedIn(t, newFakeRemote())
	ctx := context.Background()

	u, err := await(t, c.UpdateUser(ctx, session.UserExtra{Name: "New Name"}))
	if err != nil {
		t.Fatal(err)
	}
	if u.DisplayName != "New Name" {
		t.Fatalf("user = %+v", u)
	}
	if me, _ := c.CurrentUser(); me.DisplayName != "New Name" {
		t.Fatalf("session = %+v", me)
	}
	if _, err := await(t, c.BlockUser(ctx, "")); !errors.Is(err, chaterr.ErrValidation) {
		t.Fatalf("block: %v", err)
	}
	if blocked, err := await(t, c.BlockUser(ctx, "U5")); err != nil || blocked.UserID != "U5" {
		t.Fatalf("blocked = %+v, %v", blocked, err)
	}
	if total, err := await(t, c.GetTotalUnreadCount(ctx)); err != nil || total != 7 {
		t.Fatalf("total = %d, %v", total, err)
	}
}

func TestCallbackAdapter(t *testing.T) {
	c := loggedIn(t, newFakeRemote())
	done := make(chan model.Message, 1)
	c.SendMessage(context.Background(), 3, model.MessageInput{Content: "cb"}).Then(func(m model.Message, err error) {
		if err != nil {
			t.Error(err)
		}
		done <- m
	})
	select {
	case m := <-done:
		if m.Status != model.StatusSent {
			t.Fatalf("status = %s", m.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}
}

func TestUnconfiguredCollaborators(t *testing.T) {
	c := loggedIn(t, newFakeRemote())
	ctx := context.Background()
	if _, err := await(t, c.Upload(ctx, "a.png", nil)); !errors.Is(err, chaterr.ErrValidation) {
		t.Fatalf("upload: %v", err)
	}
	if _, err := await(t, c.RegisterDeviceToken(ctx, "t")); !errors.Is(err, chaterr.ErrValidation) {
		t.Fatalf("device: %v", err)
	}
	if err := c.SetTyping(ctx, 1, true); !errors.Is(err, chaterr.ErrValidation) {
		t.Fatalf("typing: %v", err)
	}
}

func TestSynchronizeThroughFacade(t *testing.T) {
	remote := newFakeRemote()
	remote.seed(4, 0, 40, 41)
	c := loggedIn(t, remote)

	report, err := await(t, c.Synchronize(context.Background(), 0))
	if err != nil {
		t.Fatal(err)
	}
	if report.Applied != 2 || c.Engine().Checkpoints().LastMessageID != 41 {
		t.Fatalf("report = %+v", report)
	}
	if r, err := c.Room(4); err != nil || r.UnreadCount != 2 {
		t.Fatalf("room = %+v, %v", r, err)
	}
	if gaps := c.Integrity(4); len(gaps) != 0 {
		t.Fatalf("gaps = %v", gaps)
	}
}

func TestConcurrentSendReadAndSync(t *testing.T) {
	remote := newFakeRemote()
	remote.seed(1, 0, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20)
	c := loggedIn(t, remote)
	ctx := context.Background()
	if _, err := await(t, c.GetChatRoomWithMessages(ctx, 1)); err != nil {
		t.Fatal(err)
	}

	const sends = 10
	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		for i := 0; i < sends; i++ {
			if _, err := await(t, c.SendMessage(ctx, 1, model.MessageInput{Content: "m" + itoa(int64(i))})); err != nil {
				t.Error(err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for id := int64(10); id <= 20; id++ {
			if _, err := await(t, c.MarkAsRead(ctx, 1, id)); err != nil {
				t.Error(err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			if _, err := await(t, c.Synchronize(ctx, 0)); err != nil {
				t.Error(err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for id := int64(21); id <= 30; id++ {
			m := model.Message{ID: id, UniqueID: "push-" + itoa(id), RoomID: 1, UserID: "U2", Content: "p", Status: model.StatusSent}
			if err := c.Engine().Apply(model.Event{Kind: model.EventMessage, Message: &m}); err != nil {
				t.Error(err)
			}
		}
	}()
	wg.Wait()

	read, _ := c.rooms.Watermark(1, "U1")
	r, err := c.Room(1)
	if err != nil {
		t.Fatal(err)
	}
	if want := c.messages.CountAfter(1, read); r.UnreadCount != want {
		t.Fatalf("unread = %d, want %d after watermark %d", r.UnreadCount, want, read)
	}
	// Every pushed and seeded message is older than our last send.
	if r.UnreadCount != 0 || c.TotalUnread() != 0 {
		t.Fatalf("unread = %d, total = %d", r.UnreadCount, c.TotalUnread())
	}
	own := 0
	for _, m := range c.Messages(1, 0, 100, model.Before) {
		if m.UserID == "U1" {
			own++
			if m.Status != model.StatusSent {
				t.Errorf("own message %s left %s", m.UniqueID, m.Status)
			}
		}
	}
	if own != sends {
		t.Fatalf("own messages = %d, want %d", own, sends)
	}
}
