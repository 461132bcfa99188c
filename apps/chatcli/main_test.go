package main

import (
	"testing"

	"github.com/mahaj/chatcore/pkg/model"
)

func TestTeeForwardsEverything(t *testing.T) {
	in := make(chan model.Event, 3)
	in <- model.Event{ID: 1, Kind: model.EventMessage, Message: &model.Message{ID: 5, RoomID: 2, UserID: "U2"}}
	in <- model.Event{ID: 2, Kind: model.EventStatus, Status: &model.StatusChange{RoomID: 2, MessageID: 5}}
	in <- model.Event{ID: 3, Kind: model.EventMessage}
	close(in)

	var got []int64
	for ev := range tee(in, 2, "U1") {
		got = append(got, ev.ID)
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("forwarded %v", got)
	}
}
