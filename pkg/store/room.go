package store

import (
	"sort"
	"sync"

	"github.com/mahaj/chatcore/pkg/chaterr"
	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/session"
)

const DefaultRoomPageSize = 100

// RoomStore owns known rooms, their rosters and the denormalized summaries
// derived from the MessageStore. Read state lives apart from the roster so a
// removed participant's watermark is frozen rather than lost.
type RoomStore struct {
	sess     *session.Session
	messages *MessageStore

	mu     sync.RWMutex
	rooms  map[int64]*roomEntry
	unique map[string]int64
}

type roomEntry struct {
	mu     sync.Mutex
	room   model.Room
	roster map[string]model.User
	order  []string
	reads  map[string]*watermark
}

type watermark struct {
	read     int64
	received int64
}

func NewRoomStore(sess *session.Session, messages *MessageStore) *RoomStore {
	return &RoomStore{
		sess:     sess,
		messages: messages,
		rooms:    make(map[int64]*roomEntry),
		unique:   make(map[string]int64),
	}
}

func newRoomEntry(id int64) *roomEntry {
	return &roomEntry{
		room:   model.Room{ID: id},
		roster: make(map[string]model.User),
		reads:  make(map[string]*watermark),
	}
}

func (s *RoomStore) entry(id int64, create bool) *roomEntry {
	s.mu.RLock()
	e := s.rooms[id]
	s.mu.RUnlock()
	if e != nil || !create {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e = s.rooms[id]; e == nil {
		e = newRoomEntry(id)
		s.rooms[id] = e
	}
	return e
}

func (s *RoomStore) mustEntry(op string, id int64) (*roomEntry, error) {
	e := s.entry(id, false)
	if e == nil {
		return nil, chaterr.NotFound(op, "room %d", id)
	}
	return e, nil
}

// Upsert inserts room or merges it field by field into the known record.
// The roster is replaced only when room.Participants is non-nil.
func (s *RoomStore) Upsert(room model.Room) (model.Room, error) {
	if room.ID <= 0 {
		return model.Room{}, chaterr.Validation("upsertRoom", "room has no id")
	}
	e := s.entry(room.ID, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	oldUnique := e.room.UniqueID
	r := &e.room
	if room.UniqueID != "" {
		r.UniqueID = room.UniqueID
	}
	if room.Name != "" {
		r.Name = room.Name
	}
	if room.AvatarURL != "" {
		r.AvatarURL = room.AvatarURL
	}
	if room.Type != "" {
		r.Type = room.Type
	}
	if room.Options != "" {
		r.Options = room.Options
	}
	r.IsChannel = r.IsChannel || room.IsChannel
	if room.LastMessageID >= r.LastMessageID {
		r.LastMessageID = room.LastMessageID
		if room.LastMessageContent != "" || room.LastMessageID == 0 {
			r.LastMessageContent = room.LastMessageContent
		}
	}
	r.UnreadCount = room.UnreadCount
	if room.TotalParticipants > 0 {
		r.TotalParticipants = room.TotalParticipants
	}
	r.Removed = room.Removed

	if room.Participants != nil {
		e.roster = make(map[string]model.User, len(room.Participants))
		e.order = e.order[:0]
		e.addParticipants(room.Participants)
		r.TotalParticipants = len(e.order)
		if me := s.sess.CurrentUserID(); me != "" {
			_, in := e.roster[me]
			r.Removed = !in
		}
	}
	s.recomputeLocked(e, false)

	if r.UniqueID != oldUnique {
		s.mu.Lock()
		if oldUnique != "" {
			delete(s.unique, oldUnique)
		}
		s.unique[r.UniqueID] = r.ID
		s.mu.Unlock()
	}
	return e.snapshot(true), nil
}

// Ensure returns the room, creating a bare record when it is not known yet.
func (s *RoomStore) Ensure(id int64) model.Room {
	e := s.entry(id, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(true)
}

func (s *RoomStore) Get(id int64) (model.Room, error) {
	e, err := s.mustEntry("getRoom", id)
	if err != nil {
		return model.Room{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(true), nil
}

func (s *RoomStore) GetByUniqueID(uniqueID string) (model.Room, error) {
	s.mu.RLock()
	id, ok := s.unique[uniqueID]
	s.mu.RUnlock()
	if !ok {
		return model.Room{}, chaterr.NotFound("getRoomByUniqueId", "room %q", uniqueID)
	}
	return s.Get(id)
}

// List returns a page of rooms, most recent activity first. Pages start at 1.
func (s *RoomStore) List(filter model.RoomFilter, page, limit int) []model.Room {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultRoomPageSize
	}

	s.mu.RLock()
	entries := make([]*roomEntry, 0, len(s.rooms))
	for _, e := range s.rooms {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	rooms := make([]model.Room, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		r := e.snapshot(filter.ShowParticipant)
		e.mu.Unlock()
		if r.Removed && !filter.ShowRemoved {
			continue
		}
		if r.LastMessageID == 0 && !filter.ShowEmpty {
			continue
		}
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].LastMessageID != rooms[j].LastMessageID {
			return rooms[i].LastMessageID > rooms[j].LastMessageID
		}
		return rooms[i].ID > rooms[j].ID
	})

	start := (page - 1) * limit
	if start >= len(rooms) {
		return []model.Room{}
	}
	return rooms[start:min(len(rooms), start+limit)]
}

// AddParticipants is a set union on the roster. Known users get their
// profile refreshed; watermarks only move forward.
func (s *RoomStore) AddParticipants(roomID int64, ps []model.Participant) ([]model.Participant, error) {
	e, err := s.mustEntry("addParticipants", roomID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.addParticipants(ps)
	e.room.TotalParticipants = len(e.order)
	me := s.sess.CurrentUserID()
	if _, in := e.roster[me]; in && me != "" {
		e.room.Removed = false
	}
	s.recomputeLocked(e, false)

	out := make([]model.Participant, 0, len(ps))
	for _, p := range ps {
		out = append(out, e.participant(p.UserID))
	}
	return out, nil
}

// RemoveParticipants is a set difference on the roster. Removed users keep
// their read state, frozen at its current value.
func (s *RoomStore) RemoveParticipants(roomID int64, userIDs []string) ([]string, error) {
	e, err := s.mustEntry("removeParticipants", roomID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	removed := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if _, ok := e.roster[id]; !ok {
			continue
		}
		delete(e.roster, id)
		removed = append(removed, id)
	}
	if len(removed) > 0 {
		kept := e.order[:0]
		for _, id := range e.order {
			if _, ok := e.roster[id]; ok {
				kept = append(kept, id)
			}
		}
		e.order = kept
		e.room.TotalParticipants = len(e.order)
	}
	if me := s.sess.CurrentUserID(); me != "" {
		for _, id := range removed {
			if id == me {
				e.room.Removed = true
			}
		}
	}
	return removed, nil
}

// SetWatermark raises userID's read/received watermarks in the room. Reading
// a message implies receiving it.
func (s *RoomStore) SetWatermark(roomID int64, userID string, read, received int64) (model.Participant, error) {
	if userID == "" {
		return model.Participant{}, chaterr.Validation("setWatermark", "empty user id")
	}
	e := s.entry(roomID, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.mark(userID, read, received)
	if userID == s.sess.CurrentUserID() {
		s.recomputeLocked(e, false)
	}
	return e.participant(userID), nil
}

// Watermark returns userID's read and received watermarks in the room.
func (s *RoomStore) Watermark(roomID int64, userID string) (read, received int64) {
	e := s.entry(roomID, false)
	if e == nil {
		return 0, 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if w := e.reads[userID]; w != nil {
		return w.read, w.received
	}
	return 0, 0
}

// ApplyMessage folds a stored message into the room summary and recomputes
// the current user's unread count.
func (s *RoomStore) ApplyMessage(m model.Message) model.Room {
	e := s.entry(m.RoomID, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	if m.Confirmed() && !m.Deleted && m.ID >= e.room.LastMessageID {
		e.room.LastMessageID = m.ID
		e.room.LastMessageContent = m.Content
	}
	s.recomputeLocked(e, false)
	return e.snapshot(false)
}

// RecomputeUnread derives userID's unread count for the room from the
// MessageStore. For the current user the room summary is updated too.
func (s *RoomStore) RecomputeUnread(roomID int64, userID string) (int, error) {
	e, err := s.mustEntry("recomputeUnread", roomID)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if userID == s.sess.CurrentUserID() {
		s.recomputeLocked(e, false)
		return e.room.UnreadCount, nil
	}
	var read int64
	if w := e.reads[userID]; w != nil {
		read = w.read
	}
	return s.messages.CountAfter(roomID, read), nil
}

// Recompute rebuilds the room's summary fields from the MessageStore. It is
// the repair path after bulk deletes and clears.
func (s *RoomStore) Recompute(roomID int64) (model.Room, error) {
	e, err := s.mustEntry("recompute", roomID)
	if err != nil {
		return model.Room{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s.recomputeLocked(e, true)
	return e.snapshot(true), nil
}

func (s *RoomStore) recomputeLocked(e *roomEntry, repair bool) {
	id := e.room.ID
	var read int64
	if w := e.reads[s.sess.CurrentUserID()]; w != nil {
		read = w.read
	}

	if s.messages.Len(id) == 0 {
		// Nothing cached locally: keep the server's summary unless the
		// watermark already covers it.
		if read >= e.room.LastMessageID {
			e.room.UnreadCount = 0
		}
		return
	}

	e.room.UnreadCount = s.messages.CountAfter(id, read)
	latest, ok := s.messages.Latest(id)
	switch {
	case ok && (repair || latest.ID >= e.room.LastMessageID):
		e.room.LastMessageID = latest.ID
		e.room.LastMessageContent = latest.Content
	case !ok && repair:
		e.room.LastMessageID = 0
		e.room.LastMessageContent = ""
	}
}

// Clear drops the cached messages of each room and resets its summary. Rooms
// not known locally are skipped.
func (s *RoomStore) Clear(roomIDs []int64) []model.Room {
	out := make([]model.Room, 0, len(roomIDs))
	for _, id := range roomIDs {
		s.messages.ClearRoom(id)
		e := s.entry(id, false)
		if e == nil {
			continue
		}
		e.mu.Lock()
		e.room.LastMessageID = 0
		e.room.LastMessageContent = ""
		e.room.UnreadCount = 0
		out = append(out, e.snapshot(false))
		e.mu.Unlock()
	}
	return out
}

// TotalUnread sums the unread counts of rooms the current user is still in.
func (s *RoomStore) TotalUnread() int {
	s.mu.RLock()
	entries := make([]*roomEntry, 0, len(s.rooms))
	for _, e := range s.rooms {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	total := 0
	for _, e := range entries {
		e.mu.Lock()
		if !e.room.Removed {
			total += e.room.UnreadCount
		}
		e.mu.Unlock()
	}
	return total
}

func (s *RoomStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = make(map[int64]*roomEntry)
	s.unique = make(map[string]int64)
}

func (e *roomEntry) addParticipants(ps []model.Participant) {
	for _, p := range ps {
		if p.UserID == "" {
			continue
		}
		if _, ok := e.roster[p.UserID]; !ok {
			e.order = append(e.order, p.UserID)
		}
		e.roster[p.UserID] = p.User
		e.mark(p.UserID, p.LastReadMessageID, p.LastReceivedMessageID)
	}
}

func (e *roomEntry) mark(userID string, read, received int64) {
	w := e.reads[userID]
	if w == nil {
		w = &watermark{}
		e.reads[userID] = w
	}
	w.read = max(w.read, read)
	w.received = max(w.received, received, w.read)
}

func (e *roomEntry) participant(userID string) model.Participant {
	p := model.Participant{User: e.roster[userID]}
	p.UserID = userID
	if w := e.reads[userID]; w != nil {
		p.LastReadMessageID = w.read
		p.LastReceivedMessageID = w.received
	}
	return p
}

func (e *roomEntry) snapshot(withParticipants bool) model.Room {
	r := e.room
	r.Participants = nil
	if withParticipants && len(e.order) > 0 {
		r.Participants = make([]model.Participant, 0, len(e.order))
		for _, id := range e.order {
			r.Participants = append(r.Participants, e.participant(id))
		}
	}
	return r
}
