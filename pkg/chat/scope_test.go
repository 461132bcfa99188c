package chat

import (
	"context"
	"testing"

	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/session"
)

func TestScopeEndsWithSession(t *testing.T) {
	c := loggedIn(t, newFakeRemote())

	sc, err := c.scope("op")
	if err != nil {
		t.Fatal(err)
	}
	if !sc.live() || sc.user.UserID != "U1" {
		t.Fatalf("fresh scope = %+v, live=%v", sc.user, sc.live())
	}

	c.ClearUser()
	if sc.live() {
		t.Fatal("scope must end when the session is cleared")
	}
	if _, err := c.scope("op"); err == nil {
		t.Fatal("no scope without a session")
	}
}

func TestLateSendIsNotAppliedToNextUser(t *testing.T) {
	remote := newFakeRemote()
	release := make(chan struct{})
	remote.sendHook = func(m model.Message) (model.Message, error) {
		<-release
		m.ID = 900
		m.Status = model.StatusSent
		return m, nil
	}
	c := loggedIn(t, remote)
	ctx := context.Background()

	f := c.SendMessage(ctx, 1, model.MessageInput{Content: "from U1"})
	if _, err := await(t, c.SetUser(ctx, "U9", "key", session.UserExtra{})); err != nil {
		t.Fatal(err)
	}
	close(release)

	sent, err := await(t, f)
	if err != nil {
		t.Fatal(err)
	}
	if sent.ID != 900 {
		t.Fatalf("caller still gets the server answer, got %+v", sent)
	}
	if msgs := c.Messages(1, 0, 10, model.Before); len(msgs) != 0 {
		t.Fatalf("U1's message leaked into U9's store: %+v", msgs)
	}
	if c.TotalUnread() != 0 {
		t.Fatalf("total unread = %d", c.TotalUnread())
	}
}
