// Package syncengine applies remote messages and events to the local stores
// and tracks the checkpoints synchronization resumes from.
package syncengine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/mahaj/chatcore/pkg/chaterr"
	"github.com/mahaj/chatcore/pkg/checkpoint"
	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/session"
	"github.com/mahaj/chatcore/pkg/store"
)

const DefaultInterval = 5 * time.Second

// Remote is the catch-up side of the messaging service.
type Remote interface {
	// Synchronize returns the messages created after lastMessageID across
	// every room the user can access.
	Synchronize(ctx context.Context, lastMessageID int64) ([]model.Message, error)
	// SynchronizeEvents returns status and participant events after lastEventID.
	SynchronizeEvents(ctx context.Context, lastEventID int64) ([]model.Event, error)
}

type Options struct {
	Interval    time.Duration
	Checkpoints checkpoint.Store
	Logger      *log.Logger
}

// Report summarizes one catch-up pass.
type Report struct {
	Applied     int
	Skipped     int
	Duplicates  int
	Gaps        map[int64][]int64
	Checkpoints checkpoint.Checkpoints
}

type Engine struct {
	sess     *session.Session
	messages *store.MessageStore
	rooms    *store.RoomStore
	remote   Remote
	cps      checkpoint.Store
	logger   *log.Logger
	interval time.Duration

	mu     sync.Mutex
	cp     checkpoint.Checkpoints
	loaded string
	// seen holds event ids above the checkpoint: false while being applied,
	// true once applied.
	seen map[int64]bool
}

func New(sess *session.Session, messages *store.MessageStore, rooms *store.RoomStore, remote Remote, opts Options) *Engine {
	e := &Engine{
		sess:     sess,
		messages: messages,
		rooms:    rooms,
		remote:   remote,
		cps:      opts.Checkpoints,
		logger:   opts.Logger,
		interval: opts.Interval,
		seen:     make(map[int64]bool),
	}
	if e.cps == nil {
		e.cps = checkpoint.NewMemory()
	}
	if e.logger == nil {
		e.logger = log.Default()
	}
	if e.interval <= 0 {
		e.interval = DefaultInterval
	}
	return e
}

// Checkpoints returns the checkpoints of the current user as known in memory.
func (e *Engine) Checkpoints() checkpoint.Checkpoints {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cp
}

// Reset forgets in-memory checkpoints and dedup state. The next pass reloads
// them for whichever user is active then.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cp = checkpoint.Checkpoints{}
	e.loaded = ""
	e.seen = make(map[int64]bool)
}

func (e *Engine) load(ctx context.Context, userID string) checkpoint.Checkpoints {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded == userID {
		return e.cp
	}
	cp, err := e.cps.Load(ctx, userID)
	if err != nil {
		e.logger.Printf("sync: failed to load checkpoints for %s, starting from zero: %v", userID, err)
		cp = checkpoint.Checkpoints{}
	}
	e.cp = cp
	e.loaded = userID
	e.seen = make(map[int64]bool)
	return cp
}

func (e *Engine) advance(ctx context.Context, userID string, delta checkpoint.Checkpoints) checkpoint.Checkpoints {
	e.mu.Lock()
	if e.loaded != userID {
		cp := e.cp
		e.mu.Unlock()
		return cp
	}
	next := e.cp.Advance(delta)
	changed := next != e.cp
	e.cp = next
	for id := range e.seen {
		if id <= next.LastEventID {
			delete(e.seen, id)
		}
	}
	e.mu.Unlock()

	if changed {
		if err := e.cps.Save(ctx, userID, next); err != nil {
			e.logger.Printf("sync: failed to persist checkpoints for %s: %v", userID, err)
		}
	}
	return next
}

type claimResult int

const (
	claimed claimResult = iota
	applied
	inFlight
)

// claim marks an event id as being applied. Ids at or below the checkpoint,
// or already settled, report applied.
func (e *Engine) claim(id int64) claimResult {
	if id <= 0 {
		return claimed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if id <= e.cp.LastEventID {
		return applied
	}
	if done, ok := e.seen[id]; ok {
		if done {
			return applied
		}
		return inFlight
	}
	e.seen[id] = false
	return claimed
}

func (e *Engine) settle(id int64) {
	e.mu.Lock()
	if _, ok := e.seen[id]; ok {
		e.seen[id] = true
	}
	e.mu.Unlock()
}

func (e *Engine) release(id int64) {
	e.mu.Lock()
	delete(e.seen, id)
	e.mu.Unlock()
}

// Synchronize fetches and applies every message after lastMessageID, or
// after the stored checkpoint when lastMessageID is zero. The message
// checkpoint only moves once the batch has been applied.
func (e *Engine) Synchronize(ctx context.Context, lastMessageID int64) (Report, error) {
	user, err := e.sess.Require("synchronize")
	if err != nil {
		return Report{}, err
	}
	cp := e.load(ctx, user.UserID)
	from := lastMessageID
	if from <= 0 {
		from = cp.LastMessageID
	}

	msgs, err := e.remote.Synchronize(ctx, from)
	if err != nil {
		return Report{Checkpoints: cp}, chaterr.Transport("synchronize", err)
	}

	var report Report
	var top int64
	touched := make(map[int64]struct{})
	for _, m := range msgs {
		if _, err := e.messages.Get(m.UniqueID); err == nil {
			report.Duplicates++
		}
		if err := e.applyMessage(user.UserID, m); err != nil {
			report.Skipped++
			e.logger.Printf("sync: skipping message %d (%s): %v", m.ID, m.UniqueID, err)
			continue
		}
		report.Applied++
		touched[m.RoomID] = struct{}{}
		top = max(top, m.ID)
	}

	for roomID := range touched {
		if gaps := e.messages.MissingLinks(roomID); len(gaps) > 0 {
			if report.Gaps == nil {
				report.Gaps = make(map[int64][]int64)
			}
			report.Gaps[roomID] = gaps
			e.logger.Printf("sync: room %d is missing messages %v", roomID, gaps)
		}
	}

	report.Checkpoints = e.advance(ctx, user.UserID, checkpoint.Checkpoints{LastMessageID: top})
	return report, nil
}

// SynchronizeEvents fetches and applies status and participant events after
// lastEventID, or after the stored checkpoint when lastEventID is zero.
func (e *Engine) SynchronizeEvents(ctx context.Context, lastEventID int64) (Report, error) {
	user, err := e.sess.Require("synchronizeEvent")
	if err != nil {
		return Report{}, err
	}
	cp := e.load(ctx, user.UserID)
	from := lastEventID
	if from <= 0 {
		from = cp.LastEventID
	}

	events, err := e.remote.SynchronizeEvents(ctx, from)
	if err != nil {
		return Report{Checkpoints: cp}, chaterr.Transport("synchronizeEvent", err)
	}

	var report Report
	var top int64
	for _, ev := range events {
		switch e.claim(ev.ID) {
		case applied:
			// Already applied by push; the checkpoint still has to pass it.
			report.Duplicates++
			top = max(top, ev.ID)
			continue
		case inFlight:
			report.Duplicates++
			continue
		}
		if err := e.applyEvent(user.UserID, ev); err != nil {
			e.release(ev.ID)
			report.Skipped++
			e.logger.Printf("sync: skipping event %d (%s): %v", ev.ID, ev.Kind, err)
			continue
		}
		e.settle(ev.ID)
		report.Applied++
		top = max(top, ev.ID)
	}

	report.Checkpoints = e.advance(ctx, user.UserID, checkpoint.Checkpoints{LastEventID: top})
	return report, nil
}

// Apply handles one push-delivered event. Push application never moves a
// checkpoint; the next catch-up pass does. The push feed may carry rooms the
// user is not in, so events for rooms that are not known locally are ignored
// and left to catch-up, which is scoped to the user's rooms. A participant
// event adding the current user is the exception.
func (e *Engine) Apply(ev model.Event) error {
	user, err := e.sess.Require("applyEvent")
	if err != nil {
		return err
	}
	if ev.Kind == model.EventMessage {
		if ev.Message == nil {
			return chaterr.Validation("applyEvent", "message event %d has no message", ev.ID)
		}
		if !e.known(ev.Message.RoomID) {
			return nil
		}
		return e.applyMessage(user.UserID, *ev.Message)
	}
	if !e.relevant(user.UserID, ev) {
		return nil
	}

	e.load(context.Background(), user.UserID)
	if e.claim(ev.ID) != claimed {
		return nil
	}
	if err := e.applyEvent(user.UserID, ev); err != nil {
		e.release(ev.ID)
		return err
	}
	e.settle(ev.ID)
	return nil
}

func (e *Engine) known(roomID int64) bool {
	_, err := e.rooms.Get(roomID)
	return err == nil
}

// relevant reports whether a pushed status or participant event concerns a
// room of the current user. Malformed events pass so applyEvent rejects them.
func (e *Engine) relevant(me string, ev model.Event) bool {
	switch ev.Kind {
	case model.EventStatus:
		if ev.Status != nil && ev.Status.RoomID > 0 {
			return e.known(ev.Status.RoomID)
		}
	case model.EventParticipant:
		pc := ev.Participant
		if pc == nil || pc.RoomID <= 0 || e.known(pc.RoomID) {
			return true
		}
		if pc.Action == model.ParticipantAdded {
			for _, p := range pc.Participants {
				if p.UserID == me {
					return true
				}
			}
		}
		return false
	}
	return true
}

// Consume applies events from ch until it is closed or ctx is done.
func (e *Engine) Consume(ctx context.Context, ch <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := e.Apply(ev); err != nil {
				e.logger.Printf("sync: dropped push event %d (%s): %v", ev.ID, ev.Kind, err)
			}
		}
	}
}

// Run polls both catch-up calls every interval until ctx is done. Failures
// are logged and retried from the last confirmed checkpoint on the next tick.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Printf("sync: polling every %v", e.interval)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		e.poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *Engine) poll(ctx context.Context) {
	if !e.sess.Authenticated() {
		return
	}
	if _, err := e.Synchronize(ctx, 0); err != nil && !errors.Is(err, chaterr.ErrNotAuthenticated) {
		e.logger.Printf("sync: message catch-up failed: %v", err)
	}
	if _, err := e.SynchronizeEvents(ctx, 0); err != nil && !errors.Is(err, chaterr.ErrNotAuthenticated) {
		e.logger.Printf("sync: event catch-up failed: %v", err)
	}
}

func (e *Engine) applyMessage(me string, m model.Message) error {
	stored, err := e.messages.Insert(m)
	if err != nil {
		return err
	}
	e.rooms.ApplyMessage(stored)
	if stored.UserID == me && stored.Confirmed() {
		// Our own messages, sent from another device, are read by definition.
		if _, err := e.rooms.SetWatermark(stored.RoomID, me, stored.ID, stored.ID); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyEvent(me string, ev model.Event) error {
	switch ev.Kind {
	case model.EventMessage:
		if ev.Message == nil {
			return chaterr.Validation("applyEvent", "message event %d has no message", ev.ID)
		}
		return e.applyMessage(me, *ev.Message)

	case model.EventStatus:
		sc := ev.Status
		if sc == nil || sc.RoomID <= 0 || sc.MessageID <= 0 || sc.UserID == "" {
			return chaterr.Validation("applyEvent", "malformed status event %d", ev.ID)
		}
		if _, err := e.messages.MarkStatus(sc.RoomID, sc.MessageID, sc.Status); err != nil {
			return err
		}
		var read int64
		if sc.Status == model.StatusRead {
			read = sc.MessageID
		}
		_, err := e.rooms.SetWatermark(sc.RoomID, sc.UserID, read, sc.MessageID)
		return err

	case model.EventParticipant:
		pc := ev.Participant
		if pc == nil || pc.RoomID <= 0 {
			return chaterr.Validation("applyEvent", "malformed participant event %d", ev.ID)
		}
		e.rooms.Ensure(pc.RoomID)
		switch pc.Action {
		case model.ParticipantAdded:
			_, err := e.rooms.AddParticipants(pc.RoomID, pc.Participants)
			return err
		case model.ParticipantRemoved:
			ids := make([]string, 0, len(pc.Participants))
			for _, p := range pc.Participants {
				ids = append(ids, p.UserID)
			}
			_, err := e.rooms.RemoveParticipants(pc.RoomID, ids)
			return err
		}
		return chaterr.Validation("applyEvent", "unknown participant action %q", pc.Action)
	}
	return chaterr.Validation("applyEvent", "unknown event kind %q", ev.Kind)
}
