package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/mahaj/chatcore/pkg/api"
	"github.com/mahaj/chatcore/pkg/config"
	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/session"
	"github.com/mahaj/chatcore/pkg/transport"
)

func main() {
	userID := flag.String("user", "test_user", "user id")
	userKey := flag.String("key", "test_key", "user key")
	flag.Parse()

	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sess := session.New()
	client := api.New(transport.NewHTTP(cfg.APIURL, sess, transport.Options{Timeout: cfg.HTTPTimeout}))

	// 1. Login
	creds, err := client.Login(ctx, *userID, *userKey, session.UserExtra{})
	if err != nil {
		log.Fatal("Login failed: ", err)
	}
	sess.Set(creds)
	log.Printf("Logged in as %s (id %d)", creds.User.UserID, creds.User.ID)

	// 2. Rooms and unread total
	rooms, err := client.GetChatRooms(ctx, model.RoomQuery{Page: 1, Limit: 50})
	if err != nil {
		log.Fatal("Room list failed: ", err)
	}
	total, err := client.GetTotalUnreadCount(ctx)
	if err != nil {
		log.Fatal("Unread count failed: ", err)
	}
	log.Printf("Rooms: %d, total unread: %d", len(rooms), total)

	// 3. Catch-up from the beginning
	msgs, err := client.Synchronize(ctx, 0)
	if err != nil {
		log.Fatal("Message sync failed: ", err)
	}
	events, err := client.SynchronizeEvents(ctx, 0)
	if err != nil {
		log.Fatal("Event sync failed: ", err)
	}
	log.Printf("Sync: %d messages, %d events", len(msgs), len(events))
}
