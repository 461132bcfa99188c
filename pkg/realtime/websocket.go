package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mahaj/chatcore/pkg/chaterr"
	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/transport"
)

const (
	// Time allowed to write a frame to the server.
	writeWait = 10 * time.Second

	// Time allowed between two pings from the server.
	pingWait = 60 * time.Second

	// Maximum frame size accepted from the server.
	maxFrameSize = 1 << 20
)

type WebSocketOptions struct {
	Dialer     *websocket.Dialer
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Logger     *log.Logger
}

// WebSocket keeps a connection to the realtime endpoint open, authenticating
// with the session token and reconnecting with exponential backoff.
type WebSocket struct {
	url    string
	tokens transport.TokenSource
	dialer *websocket.Dialer
	min    time.Duration
	max    time.Duration
	logger *log.Logger
	events chan model.Event

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWebSocket(url string, tokens transport.TokenSource, opts WebSocketOptions) *WebSocket {
	w := &WebSocket{
		url:    url,
		tokens: tokens,
		dialer: opts.Dialer,
		min:    opts.MinBackoff,
		max:    opts.MaxBackoff,
		logger: opts.Logger,
		events: make(chan model.Event, eventBuffer),
	}
	if w.dialer == nil {
		w.dialer = websocket.DefaultDialer
	}
	if w.min <= 0 {
		w.min = 500 * time.Millisecond
	}
	if w.max < w.min {
		w.max = 30 * time.Second
	}
	if w.logger == nil {
		w.logger = log.Default()
	}
	return w
}

func (w *WebSocket) Events() <-chan model.Event { return w.events }

func (w *WebSocket) Run(ctx context.Context) error {
	defer close(w.events)
	backoff := w.min
	for {
		connected, err := w.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			backoff = w.min
		}
		w.logger.Printf("realtime: connection lost: %v. Retrying in %v...", err, backoff)
		if !sleep(ctx, backoff) {
			return nil
		}
		backoff = min(backoff*2, w.max)
	}
}

// session dials once and pumps frames until the connection fails. It
// reports whether the dial succeeded.
func (w *WebSocket) session(ctx context.Context) (bool, error) {
	token := w.tokens.Token()
	if token == "" {
		return false, chaterr.NotAuthenticated("realtime")
	}
	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)

	conn, _, err := w.dialer.DialContext(ctx, w.url, header)
	if err != nil {
		return false, chaterr.Transport("realtime", err)
	}
	w.logger.Printf("realtime: connected to %s", w.url)

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
		conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() {
		w.mu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		w.mu.Unlock()
		conn.Close()
	})
	defer stop()

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pingWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pingWait))
		w.mu.Lock()
		defer w.mu.Unlock()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		conn.SetReadDeadline(time.Now().Add(pingWait))
		events, err := Decode(frame)
		if err != nil {
			w.logger.Printf("realtime: skipping malformed frame: %v", err)
		}
		for _, ev := range events {
			if !emit(ctx, w.events, ev) {
				return true, ctx.Err()
			}
		}
	}
}

type typingFrame struct {
	Kind   string `json:"kind"`
	RoomID int64  `json:"room_id"`
	UserID string `json:"user_id"`
	Typing bool   `json:"typing"`
}

// PublishTyping sends a typing frame on the live connection.
func (w *WebSocket) PublishTyping(ctx context.Context, roomID int64, userID string, typing bool) error {
	frame, err := json.Marshal(typingFrame{Kind: "typing", RoomID: roomID, UserID: userID, Typing: typing})
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return chaterr.E(chaterr.KindTransport, "setTyping", errors.New("realtime connection is down"))
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	w.conn.SetWriteDeadline(deadline)
	return w.conn.WriteMessage(websocket.TextMessage, frame)
}
