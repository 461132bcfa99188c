package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/mahaj/chatcore/pkg/api"
	"github.com/mahaj/chatcore/pkg/auth"
	"github.com/mahaj/chatcore/pkg/chat"
	"github.com/mahaj/chatcore/pkg/checkpoint"
	"github.com/mahaj/chatcore/pkg/config"
	"github.com/mahaj/chatcore/pkg/db"
	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/realtime"
	"github.com/mahaj/chatcore/pkg/session"
	"github.com/mahaj/chatcore/pkg/transport"
	"github.com/redis/go-redis/v9"
)

// clientModel adds the engine checkpoints to the client's read models.
type clientModel struct {
	*chat.Client
}

func (m clientModel) Checkpoints() checkpoint.Checkpoints { return m.Engine().Checkpoints() }

func main() {
	userID := flag.String("user", "user1", "user id")
	userKey := flag.String("key", "", "user key (password)")
	name := flag.String("name", "", "display name")
	roomID := flag.Int64("room", 0, "room id to open")
	dmUser := flag.String("dm", "", "user id to chat with (overrides -room)")
	flag.Parse()

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sess := session.New()
	remote := api.New(transport.NewHTTP(cfg.APIURL, sess, transport.Options{Timeout: cfg.HTTPTimeout}))

	cps, closeCheckpoints, err := openCheckpoints(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s checkpoint store: %v", cfg.CheckpointBackend, err)
	}
	defer closeCheckpoints()

	var source realtime.Source
	opts := chat.Options{
		Session:      sess,
		Checkpoints:  cps,
		SyncInterval: cfg.SyncInterval,
		Node:         cfg.SnowflakeNode,
	}
	switch cfg.Realtime {
	case config.RealtimeWebSocket:
		ws := realtime.NewWebSocket(cfg.RealtimeURL, sess, realtime.WebSocketOptions{})
		source, opts.Typing = ws, ws
	case config.RealtimeKafka:
		k := realtime.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, realtime.KafkaOptions{GroupID: cfg.KafkaGroup + "-" + *userID})
		defer k.Close()
		source = k
	}

	client, err := chat.New(remote, remote, opts)
	if err != nil {
		log.Fatalf("Failed to create chat client: %v", err)
	}

	log.Printf("Logging in as %s...", *userID)
	me, err := login(ctx, client, cfg, *userID, *userKey, *name)
	if err != nil {
		log.Fatal("Login failed: ", err)
	}
	log.Printf("Login successful as %s (%s)", me.UserID, me.DisplayName)

	room, err := openRoom(ctx, client, *roomID, *dmUser)
	if err != nil {
		log.Fatal("Failed to open room: ", err)
	}

	var push <-chan model.Event
	if source != nil {
		push = tee(source.Events(), room.ID, me.UserID)
		go source.Run(ctx)
	}
	client.Start(ctx, push)
	defer client.Stop()

	if cfg.InspectAddr != "" {
		go func() {
			log.Printf("Inspector listening on %s", cfg.InspectAddr)
			if err := http.ListenAndServe(cfg.InspectAddr, newInspector(clientModel{client}, cfg.CORSOrigins)); err != nil {
				log.Printf("Inspector stopped: %v", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		repl(ctx, client, room.ID)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Println("interrupt")
	}
	if _, err := client.ClearUser().Await(context.Background()); err != nil {
		log.Printf("Logout failed: %v", err)
	}
}

// openCheckpoints builds the configured checkpoint store and its closer.
func openCheckpoints(ctx context.Context, cfg *config.Config) (checkpoint.Store, func(), error) {
	switch cfg.CheckpointBackend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, err
		}
		return checkpoint.NewRedis(rdb, ""), func() { rdb.Close() }, nil
	case config.BackendScylla:
		s, err := db.NewSession(cfg.Scylla())
		if err != nil {
			return nil, nil, err
		}
		return checkpoint.NewScylla(s), s.Close, nil
	}
	return checkpoint.NewMemory(), func() {}, nil
}

// login signs an identity token when a shared secret is configured and falls
// back to user id and key otherwise.
func login(ctx context.Context, client *chat.Client, cfg *config.Config, userID, userKey, name string) (model.User, error) {
	if cfg.IdentitySecret == "" {
		return client.SetUser(ctx, userID, userKey, session.UserExtra{Name: name}).Await(ctx)
	}
	nonce, err := client.GetNonce(ctx).Await(ctx)
	if err != nil {
		return model.User{}, err
	}
	signer, err := auth.NewSigner(cfg.IdentitySecret, 0)
	if err != nil {
		return model.User{}, err
	}
	token, err := signer.Sign(model.User{UserID: userID, DisplayName: name}, nonce)
	if err != nil {
		return model.User{}, err
	}
	return client.SetUserWithIdentityToken(ctx, token).Await(ctx)
}

func openRoom(ctx context.Context, client *chat.Client, roomID int64, dmUser string) (model.Room, error) {
	if dmUser != "" {
		return client.ChatUser(ctx, dmUser, model.RoomInput{}).Await(ctx)
	}
	if roomID == 0 {
		return model.Room{}, fmt.Errorf("one of -room or -dm is required")
	}
	rm, err := client.GetChatRoomWithMessages(ctx, roomID).Await(ctx)
	if err != nil {
		return model.Room{}, err
	}
	for _, m := range rm.Messages {
		printMessage(m)
	}
	return rm.Room, nil
}

// tee prints incoming messages for the open room and forwards every event.
func tee(in <-chan model.Event, roomID int64, me string) <-chan model.Event {
	out := make(chan model.Event, cap(in))
	go func() {
		defer close(out)
		for ev := range in {
			if m := ev.Message; ev.Kind == model.EventMessage && m != nil && m.RoomID == roomID && m.UserID != me {
				fmt.Printf("\r%s: %s\n> ", m.UserID, m.Content)
			}
			out <- ev
		}
	}()
	return out
}

func printMessage(m model.Message) {
	fmt.Printf("[%s] %s: %s (%s)\n", m.Timestamp.Format(time.Kitchen), m.UserID, m.Content, m.Status)
}

func repl(ctx context.Context, client *chat.Client, roomID int64) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		switch {
		case text == "":
		case text == "/quit":
			return
		case text == "/typing":
			if err := client.SetTyping(ctx, roomID, true); err != nil {
				log.Println("typing:", err)
			}
		case text == "/read":
			if latest := client.Messages(roomID, 0, 1, model.Before); len(latest) > 0 && latest[0].Confirmed() {
				if _, err := client.MarkAsRead(ctx, roomID, latest[0].ID).Await(ctx); err != nil {
					log.Println("read:", err)
				}
			}
		case text == "/history":
			for _, m := range client.Messages(roomID, 0, chat.DefaultPageSize, model.Before) {
				printMessage(m)
			}
		case text == "/rooms":
			for _, r := range client.Rooms(model.RoomFilter{}, 1, 50) {
				fmt.Printf("#%d %s unread=%d last=%q\n", r.ID, r.Name, r.UnreadCount, r.LastMessageContent)
			}
		case text == "/sync":
			rep, err := client.Synchronize(ctx, 0).Await(ctx)
			if err != nil {
				log.Println("sync:", err)
			} else {
				fmt.Printf("applied=%d duplicates=%d skipped=%d\n", rep.Applied, rep.Duplicates, rep.Skipped)
			}
		default:
			m, err := client.SendMessage(ctx, roomID, model.MessageInput{Type: model.TypeText, Content: text}).Await(ctx)
			if err != nil {
				log.Printf("send failed (%s kept as %s): %v", m.UniqueID, m.Status, err)
			}
		}
		fmt.Print("> ")
	}
}
