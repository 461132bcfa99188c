package chat

import (
	"context"
	"errors"
	"io"
	"log"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/mahaj/chatcore/pkg/async"
	"github.com/mahaj/chatcore/pkg/auth"
	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/session"
)

var errDown = errors.New("connection refused")

type fakeAuth struct {
	signer *auth.Signer
	nonce  string
	fail   bool
}

func (a *fakeAuth) Login(_ context.Context, userID, userKey string, extra session.UserExtra) (session.Credentials, error) {
	if a.fail {
		return session.Credentials{}, errDown
	}
	return session.Credentials{
		User:  model.User{UserID: userID, DisplayName: extra.Name},
		Token: "tok-" + userID,
	}, nil
}

func (a *fakeAuth) SetUserFromIdentityToken(_ context.Context, token string) (session.Credentials, error) {
	claims, err := a.signer.Verify(token, a.nonce)
	if err != nil {
		return session.Credentials{}, err
	}
	return session.Credentials{User: claims.User(), Token: "tok-" + claims.UserID}, nil
}

func (a *fakeAuth) GetNonce(context.Context) (model.Nonce, error) {
	return model.Nonce{Nonce: a.nonce, Expired: time.Now().Add(time.Minute).Unix()}, nil
}

// fakeRemote answers from in-memory state. Hooks override single calls.
type fakeRemote struct {
	mu       sync.Mutex
	nextID   int64
	rooms    map[int64]model.Room
	messages map[int64][]model.Message
	statuses []model.StatusChange
	events   []model.Event

	sendHook func(model.Message) (model.Message, error)
	failAll  bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		nextID:   100,
		rooms:    make(map[int64]model.Room),
		messages: make(map[int64][]model.Message),
	}
}

func (f *fakeRemote) down() error {
	if f.failAll {
		return errDown
	}
	return nil
}

func (f *fakeRemote) Synchronize(_ context.Context, last int64) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, msgs := range f.messages {
		for _, m := range msgs {
			if m.ID > last {
				out = append(out, m)
			}
		}
	}
	return out, f.down()
}

func (f *fakeRemote) SynchronizeEvents(_ context.Context, last int64) ([]model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Event
	for _, ev := range f.events {
		if ev.ID > last {
			out = append(out, ev)
		}
	}
	return out, f.down()
}

func (f *fakeRemote) GetUserData(context.Context) (model.User, error) {
	return model.User{UserID: "U1", DisplayName: "Server Name"}, f.down()
}

func (f *fakeRemote) UpdateUser(_ context.Context, extra session.UserExtra) (model.User, error) {
	return model.User{DisplayName: extra.Name, AvatarURL: extra.AvatarURL}, f.down()
}

func (f *fakeRemote) GetUserList(_ context.Context, query string, page, limit int) ([]model.User, error) {
	return []model.User{{UserID: query}}, f.down()
}

func (f *fakeRemote) BlockUser(_ context.Context, userID string) (model.User, error) {
	return model.User{UserID: userID}, f.down()
}

func (f *fakeRemote) UnblockUser(_ context.Context, userID string) (model.User, error) {
	return model.User{UserID: userID}, f.down()
}

func (f *fakeRemote) GetBlockedUserList(context.Context, int, int) ([]model.User, error) {
	return nil, f.down()
}

func (f *fakeRemote) newRoom(in model.RoomInput, typ model.RoomType, userIDs []string) model.Room {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	r := model.Room{ID: f.nextID, UniqueID: in.UniqueID, Name: in.Name, AvatarURL: in.AvatarURL, Type: typ}
	for _, id := range userIDs {
		p := model.Participant{}
		p.UserID = id
		r.Participants = append(r.Participants, p)
	}
	f.rooms[r.ID] = r
	return r
}

func (f *fakeRemote) ChatUser(_ context.Context, userID string, in model.RoomInput) (model.Room, error) {
	if err := f.down(); err != nil {
		return model.Room{}, err
	}
	return f.newRoom(in, model.RoomSingle, []string{"U1", userID}), nil
}

func (f *fakeRemote) CreateGroupChat(_ context.Context, userIDs []string, in model.RoomInput) (model.Room, error) {
	if err := f.down(); err != nil {
		return model.Room{}, err
	}
	return f.newRoom(in, model.RoomGroup, append([]string{"U1"}, userIDs...)), nil
}

func (f *fakeRemote) CreateChannel(_ context.Context, in model.RoomInput) (model.Room, error) {
	if err := f.down(); err != nil {
		return model.Room{}, err
	}
	return f.newRoom(in, model.RoomGroup, []string{"U1"}), nil
}

func (f *fakeRemote) UpdateChatRoom(_ context.Context, roomID int64, in model.RoomInput) (model.Room, error) {
	return model.Room{ID: roomID, Name: in.Name}, f.down()
}

func (f *fakeRemote) AddParticipants(_ context.Context, roomID int64, userIDs []string) ([]model.Participant, error) {
	var out []model.Participant
	for _, id := range userIDs {
		p := model.Participant{}
		p.UserID = id
		out = append(out, p)
	}
	return out, f.down()
}

func (f *fakeRemote) RemoveParticipants(_ context.Context, roomID int64, userIDs []string) ([]model.Participant, error) {
	return f.AddParticipants(context.Background(), roomID, userIDs)
}

func (f *fakeRemote) GetChatRoomWithMessages(_ context.Context, roomID int64) (model.Room, []model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rooms[roomID], append([]model.Message(nil), f.messages[roomID]...), f.down()
}

func (f *fakeRemote) GetChatRooms(_ context.Context, q model.RoomQuery) ([]model.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Room
	for _, id := range q.IDs {
		if r, ok := f.rooms[id]; ok {
			out = append(out, r)
		}
	}
	if len(q.IDs) == 0 {
		for _, r := range f.rooms {
			out = append(out, r)
		}
	}
	return out, f.down()
}

func (f *fakeRemote) GetParticipantList(_ context.Context, roomID int64, _ int, _ string) ([]model.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rooms[roomID].Participants, f.down()
}

func (f *fakeRemote) GetTotalUnreadCount(context.Context) (int, error) {
	return 7, f.down()
}

func (f *fakeRemote) SendMessage(_ context.Context, m model.Message) (model.Message, error) {
	if f.sendHook != nil {
		return f.sendHook(m)
	}
	if err := f.down(); err != nil {
		return model.Message{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	m.ID = f.nextID
	m.Status = model.StatusSent
	f.messages[m.RoomID] = append(f.messages[m.RoomID], m)
	return m, nil
}

func (f *fakeRemote) UpdateMessageStatus(_ context.Context, roomID, messageID int64, status model.MessageStatus) error {
	f.mu.Lock()
	f.statuses = append(f.statuses, model.StatusChange{RoomID: roomID, MessageID: messageID, Status: status})
	f.mu.Unlock()
	return f.down()
}

func (f *fakeRemote) GetMessages(_ context.Context, roomID, messageID int64, limit int, dir model.Direction) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, m := range f.messages[roomID] {
		if messageID == 0 || (dir == model.Before && m.ID < messageID) || (dir == model.After && m.ID > messageID) {
			out = append(out, m)
		}
	}
	return out, f.down()
}

func (f *fakeRemote) DeleteMessages(_ context.Context, uniqueIDs []string) ([]model.Message, error) {
	return nil, f.down()
}

func (f *fakeRemote) ClearMessages(context.Context, []int64) error {
	return f.down()
}

// seed puts a room with server messages from U2 on the fake.
func (f *fakeRemote) seed(roomID int64, myRead int64, ids ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	me := model.Participant{LastReadMessageID: myRead}
	me.UserID = "U1"
	other := model.Participant{}
	other.UserID = "U2"
	r := model.Room{ID: roomID, Name: "R1", Type: model.RoomGroup, Participants: []model.Participant{me, other}}
	var prev int64
	for _, id := range ids {
		f.messages[roomID] = append(f.messages[roomID], model.Message{
			ID: id, UniqueID: "srv-" + itoa(id), RoomID: roomID, UserID: "U2",
			Content: "m" + itoa(id), PreviousMessageID: prev, Status: model.StatusSent, Type: model.TypeText,
		})
		prev = id
		r.LastMessageID = id
	}
	f.rooms[roomID] = r
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

var quiet = log.New(io.Discard, "", 0)

func newClient(t *testing.T, remote *fakeRemote) *Client {
	t.Helper()
	signer, err := auth.NewSigner("test-secret", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(&fakeAuth{signer: signer, nonce: "n-1"}, remote, Options{Logger: quiet, Node: 1})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func loggedIn(t *testing.T, remote *fakeRemote) *Client {
	t.Helper()
	c := newClient(t, remote)
	if _, err := c.SetUser(context.Background(), "U1", "key", session.UserExtra{Name: "User One"}).Await(context.Background()); err != nil {
		t.Fatal(err)
	}
	return c
}

func await[T any](t *testing.T, f *async.Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return f.Await(ctx)
}
