// Package chat is the public facade of the messaging core. Remote operations
// return an *async.Future; local read models answer synchronously.
package chat

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/mahaj/chatcore/pkg/async"
	"github.com/mahaj/chatcore/pkg/chaterr"
	"github.com/mahaj/chatcore/pkg/checkpoint"
	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/session"
	"github.com/mahaj/chatcore/pkg/snowflake"
	"github.com/mahaj/chatcore/pkg/store"
	"github.com/mahaj/chatcore/pkg/syncengine"
)

const DefaultPageSize = 20

var (
	errNoUser      = errors.New("identity token resolved to no user")
	errNoMessageID = errors.New("server returned no message id")
)

type Options struct {
	// Session is shared with collaborators that need the token, such as the
	// transport. A fresh one is created when nil.
	Session      *session.Session
	Checkpoints  checkpoint.Store
	SyncInterval time.Duration
	// Node is the snowflake node number used for client unique ids.
	Node   int64
	Logger *log.Logger

	Uploader Uploader
	Devices  DeviceRegistry
	Typing   TypingPublisher
}

type Client struct {
	sess     *session.Session
	auth     session.Authenticator
	remote   Remote
	messages *store.MessageStore
	rooms    *store.RoomStore
	engine   *syncengine.Engine
	ids      *snowflake.Node
	logger   *log.Logger

	uploader Uploader
	devices  DeviceRegistry
	typing   TypingPublisher

	mu      sync.Mutex
	running context.CancelFunc
}

func New(auth session.Authenticator, remote Remote, opts Options) (*Client, error) {
	ids, err := snowflake.NewNode(opts.Node)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	sess := opts.Session
	if sess == nil {
		sess = session.New()
	}
	messages := store.NewMessageStore()
	rooms := store.NewRoomStore(sess, messages)
	engine := syncengine.New(sess, messages, rooms, remote, syncengine.Options{
		Interval:    opts.SyncInterval,
		Checkpoints: opts.Checkpoints,
		Logger:      logger,
	})

	return &Client{
		sess:     sess,
		auth:     auth,
		remote:   remote,
		messages: messages,
		rooms:    rooms,
		engine:   engine,
		ids:      ids,
		logger:   logger,
		uploader: opts.Uploader,
		devices:  opts.Devices,
		typing:   opts.Typing,
	}, nil
}

// Session exposes the identity the Client acts as. It is the TokenSource for
// the transport.
func (c *Client) Session() *session.Session { return c.sess }

// Engine exposes the synchronization engine for checkpoint inspection.
func (c *Client) Engine() *syncengine.Engine { return c.engine }

// Start runs background catch-up polling and applies events from push until
// ctx is done. push may be nil.
func (c *Client) Start(ctx context.Context, push <-chan model.Event) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.running != nil {
		c.running()
	}
	c.running = cancel
	c.mu.Unlock()

	go c.engine.Run(ctx)
	if push != nil {
		go c.engine.Consume(ctx, push)
	}
}

// Stop halts what Start launched.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running != nil {
		c.running()
		c.running = nil
	}
}

// establish installs creds as the active session. Switching to another user
// drops every user-scoped local state first.
func (c *Client) establish(creds session.Credentials) model.User {
	switching := c.sess.CurrentUserID() != creds.User.UserID
	c.sess.Set(creds)
	if switching {
		c.reset()
	}
	return creds.User
}

func (c *Client) reset() {
	c.messages.Reset()
	c.rooms.Reset()
	c.engine.Reset()
}

func (c *Client) SetUser(ctx context.Context, userID, userKey string, extra session.UserExtra) *async.Future[model.User] {
	if userID == "" || userKey == "" {
		return async.Failed[model.User](chaterr.Validation("setUser", "user id and user key are required"))
	}
	return async.Go(func() (model.User, error) {
		creds, err := c.auth.Login(ctx, userID, userKey, extra)
		if err != nil {
			return model.User{}, chaterr.Transport("setUser", err)
		}
		if creds.User.UserID == "" {
			creds.User.UserID = userID
		}
		return c.establish(creds), nil
	})
}

func (c *Client) SetUserWithIdentityToken(ctx context.Context, token string) *async.Future[model.User] {
	if token == "" {
		return async.Failed[model.User](chaterr.Validation("setUserWithIdentityToken", "empty identity token"))
	}
	return async.Go(func() (model.User, error) {
		creds, err := c.auth.SetUserFromIdentityToken(ctx, token)
		if err != nil {
			return model.User{}, chaterr.Transport("setUserWithIdentityToken", err)
		}
		if creds.User.UserID == "" {
			return model.User{}, chaterr.E(chaterr.KindNotAuthenticated, "setUserWithIdentityToken", errNoUser)
		}
		return c.establish(creds), nil
	})
}

// ClearUser tears the session down along with its local state.
func (c *Client) ClearUser() *async.Future[struct{}] {
	c.sess.Clear()
	c.reset()
	return async.Resolved(struct{}{}, nil)
}

func (c *Client) GetNonce(ctx context.Context) *async.Future[model.Nonce] {
	return async.Go(func() (model.Nonce, error) {
		n, err := c.auth.GetNonce(ctx)
		return n, chaterr.Transport("getNonce", err)
	})
}

func (c *Client) GetUserData(ctx context.Context) *async.Future[model.User] {
	return remoteCall(c, "getUserData", func(sc scope) (model.User, error) {
		u, err := c.remote.GetUserData(ctx)
		if err != nil || !sc.live() {
			return u, err
		}
		c.sess.UpdateProfile(u)
		return u, nil
	})
}

// UpdateUser changes the profile remotely and then in the session snapshot.
func (c *Client) UpdateUser(ctx context.Context, extra session.UserExtra) *async.Future[model.User] {
	return remoteCall(c, "updateUser", func(sc scope) (model.User, error) {
		u, err := c.remote.UpdateUser(ctx, extra)
		if err != nil || !sc.live() {
			return u, err
		}
		if u.UserID == "" {
			u.UserID = sc.user.UserID
		}
		c.sess.UpdateProfile(u)
		current, _ := c.sess.CurrentUser()
		return current, nil
	})
}

func (c *Client) GetUserList(ctx context.Context, query string, page, limit int) *async.Future[[]model.User] {
	page, limit = paging(page, limit)
	return remoteCall(c, "getUserList", func(scope) ([]model.User, error) {
		return c.remote.GetUserList(ctx, query, page, limit)
	})
}

func (c *Client) BlockUser(ctx context.Context, userID string) *async.Future[model.User] {
	if userID == "" {
		return async.Failed[model.User](chaterr.Validation("blockUser", "empty user id"))
	}
	return remoteCall(c, "blockUser", func(scope) (model.User, error) {
		return c.remote.BlockUser(ctx, userID)
	})
}

func (c *Client) UnblockUser(ctx context.Context, userID string) *async.Future[model.User] {
	if userID == "" {
		return async.Failed[model.User](chaterr.Validation("unblockUser", "empty user id"))
	}
	return remoteCall(c, "unblockUser", func(scope) (model.User, error) {
		return c.remote.UnblockUser(ctx, userID)
	})
}

func (c *Client) GetBlockedUserList(ctx context.Context, page, limit int) *async.Future[[]model.User] {
	page, limit = paging(page, limit)
	return remoteCall(c, "getBlockedUserList", func(scope) ([]model.User, error) {
		return c.remote.GetBlockedUserList(ctx, page, limit)
	})
}

func (c *Client) Upload(ctx context.Context, name string, r io.Reader) *async.Future[string] {
	if c.uploader == nil {
		return async.Failed[string](chaterr.Validation("upload", "no uploader configured"))
	}
	return remoteCall(c, "upload", func(scope) (string, error) {
		return c.uploader.Upload(ctx, name, r)
	})
}

func (c *Client) RegisterDeviceToken(ctx context.Context, token string) *async.Future[bool] {
	return c.deviceCall("registerDeviceToken", token, func() error {
		return c.devices.RegisterDeviceToken(ctx, token)
	})
}

func (c *Client) RemoveDeviceToken(ctx context.Context, token string) *async.Future[bool] {
	return c.deviceCall("removeDeviceToken", token, func() error {
		return c.devices.RemoveDeviceToken(ctx, token)
	})
}

func (c *Client) deviceCall(op, token string, fn func() error) *async.Future[bool] {
	if c.devices == nil {
		return async.Failed[bool](chaterr.Validation(op, "no device registry configured"))
	}
	if token == "" {
		return async.Failed[bool](chaterr.Validation(op, "empty device token"))
	}
	return remoteCall(c, op, func(scope) (bool, error) {
		if err := fn(); err != nil {
			return false, err
		}
		return true, nil
	})
}

// SetTyping announces the current user's typing state. It is fire and forget.
func (c *Client) SetTyping(ctx context.Context, roomID int64, typing bool) error {
	user, err := c.sess.Require("setTyping")
	if err != nil {
		return err
	}
	if c.typing == nil {
		return chaterr.Validation("setTyping", "no typing publisher configured")
	}
	return chaterr.Transport("setTyping", c.typing.PublishTyping(ctx, roomID, user.UserID, typing))
}

// remoteCall checks the session synchronously, then runs fn asynchronously
// and classifies its error as a transport failure.
func remoteCall[T any](c *Client, op string, fn func(sc scope) (T, error)) *async.Future[T] {
	sc, err := c.scope(op)
	if err != nil {
		return async.Failed[T](err)
	}
	return async.Go(func() (T, error) {
		v, err := fn(sc)
		return v, chaterr.Transport(op, err)
	})
}

func paging(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return page, limit
}

// Local read models.

func (c *Client) CurrentUser() (model.User, bool) { return c.sess.CurrentUser() }

func (c *Client) Room(id int64) (model.Room, error) { return c.rooms.Get(id) }

func (c *Client) RoomByUniqueID(uniqueID string) (model.Room, error) {
	return c.rooms.GetByUniqueID(uniqueID)
}

func (c *Client) Rooms(filter model.RoomFilter, page, limit int) []model.Room {
	return c.rooms.List(filter, page, limit)
}

func (c *Client) Messages(roomID, anchor int64, limit int, dir model.Direction) []model.Message {
	return c.messages.GetMessages(roomID, anchor, limit, dir)
}

func (c *Client) Message(uniqueID string) (model.Message, error) {
	return c.messages.Get(uniqueID)
}

func (c *Client) TotalUnread() int { return c.rooms.TotalUnread() }

// Integrity lists previous-message ids referenced in the room that are not
// held locally.
func (c *Client) Integrity(roomID int64) []int64 { return c.messages.MissingLinks(roomID) }
