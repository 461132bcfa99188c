package store

import (
	"sort"
	"sync"

	"github.com/mahaj/chatcore/pkg/chaterr"
	"github.com/mahaj/chatcore/pkg/model"
)

const DefaultPageSize = 20

// MessageStore owns every known message. Lookup is by unique id; each room
// keeps its messages ordered by server id, with unconfirmed messages after all
// confirmed ones in insertion order.
type MessageStore struct {
	mu    sync.RWMutex
	rooms map[int64]*roomMessages
	index map[string]int64 // unique id -> room id
	seq   uint64
}

type roomMessages struct {
	mu       sync.RWMutex
	byUnique map[string]*entry
	byID     map[int64]*entry
	ordered  []*entry
}

type entry struct {
	msg model.Message
	seq uint64
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		rooms: make(map[int64]*roomMessages),
		index: make(map[string]int64),
	}
}

func less(a, b *entry) bool {
	switch {
	case a.msg.ID > 0 && b.msg.ID > 0:
		if a.msg.ID != b.msg.ID {
			return a.msg.ID < b.msg.ID
		}
		return a.seq < b.seq
	case a.msg.ID > 0:
		return true
	case b.msg.ID > 0:
		return false
	}
	return a.seq < b.seq
}

func (s *MessageStore) room(roomID int64, create bool) *roomMessages {
	s.mu.RLock()
	rm := s.rooms[roomID]
	s.mu.RUnlock()
	if rm != nil || !create {
		return rm
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rm = s.rooms[roomID]; rm == nil {
		rm = &roomMessages{
			byUnique: make(map[string]*entry),
			byID:     make(map[int64]*entry),
		}
		s.rooms[roomID] = rm
	}
	return rm
}

func (s *MessageStore) nextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func (s *MessageStore) setIndex(uniqueID string, roomID int64) {
	s.mu.Lock()
	s.index[uniqueID] = roomID
	s.mu.Unlock()
}

func (s *MessageStore) lookup(uniqueID string) (*roomMessages, bool) {
	s.mu.RLock()
	roomID, ok := s.index[uniqueID]
	var rm *roomMessages
	if ok {
		rm = s.rooms[roomID]
	}
	s.mu.RUnlock()
	return rm, rm != nil
}

func validate(m *model.Message) error {
	if m.RoomID <= 0 {
		return chaterr.Validation("insert", "message %q has no room", m.UniqueID)
	}
	if m.UniqueID == "" {
		return chaterr.Validation("insert", "message %d has no unique id", m.ID)
	}
	if !m.Status.Valid() {
		return chaterr.Validation("insert", "message %q has invalid status %d", m.UniqueID, int(m.Status))
	}
	return nil
}

// Insert adds m or merges it into the record with the same unique id, keeping
// the higher status. A server id already held under another unique id is a
// Conflict. Inserting a message that has
// been deleted leaves the tombstone in place.
func (s *MessageStore) Insert(m model.Message) (model.Message, error) {
	if err := validate(&m); err != nil {
		return model.Message{}, err
	}
	if m.Confirmed() && m.Status == model.StatusSending {
		m.Status = model.StatusSent
	}
	if other, ok := s.indexedRoom(m.UniqueID); ok && other != m.RoomID {
		return model.Message{}, chaterr.Conflict("insert", "message %q belongs to room %d", m.UniqueID, other)
	}

	rm := s.room(m.RoomID, true)
	rm.mu.Lock()
	defer rm.mu.Unlock()

	e := rm.byUnique[m.UniqueID]
	if e == nil && m.Confirmed() {
		if e = rm.byID[m.ID]; e != nil && e.msg.UniqueID != m.UniqueID {
			return model.Message{}, chaterr.Conflict("insert", "id %d already belongs to %q", m.ID, e.msg.UniqueID)
		}
	}
	if e == nil {
		e = &entry{msg: cloneMessage(m), seq: s.nextSeq()}
		rm.byUnique[m.UniqueID] = e
		if m.Confirmed() {
			rm.byID[m.ID] = e
		}
		rm.place(e)
		s.setIndex(m.UniqueID, m.RoomID)
		return cloneMessage(e.msg), nil
	}

	if e.msg.Deleted {
		return cloneMessage(e.msg), nil
	}
	if e.msg.Confirmed() && m.Confirmed() && e.msg.ID != m.ID {
		return model.Message{}, chaterr.Conflict("insert", "message %q already has id %d, got %d", m.UniqueID, e.msg.ID, m.ID)
	}

	reorder := !e.msg.Confirmed() && m.Confirmed()
	if reorder {
		if other := rm.byID[m.ID]; other != nil && other != e {
			return model.Message{}, chaterr.Conflict("insert", "id %d already belongs to %q", m.ID, other.msg.UniqueID)
		}
		rm.remove(e)
		e.msg.ID = m.ID
		rm.byID[m.ID] = e
	}
	merge(&e.msg, &m)
	if reorder {
		rm.place(e)
	}
	return cloneMessage(e.msg), nil
}

func (s *MessageStore) indexedRoom(uniqueID string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.index[uniqueID]
	return id, ok
}

func merge(dst, src *model.Message) {
	if src.UserID != "" {
		dst.UserID = src.UserID
	}
	if src.Content != "" {
		dst.Content = src.Content
	}
	if src.Payload != nil {
		dst.Payload = src.Payload
	}
	if src.Extras != nil {
		dst.Extras = src.Extras
	}
	if src.PreviousMessageID != 0 {
		dst.PreviousMessageID = src.PreviousMessageID
	}
	if !src.Timestamp.IsZero() {
		dst.Timestamp = src.Timestamp
	}
	if src.Type != "" {
		dst.Type = src.Type
	}

	// A server copy of a failed placeholder proves the send went through.
	if dst.Status == model.StatusFailed && src.Confirmed() && src.Status != model.StatusFailed {
		dst.Status = src.Status
		return
	}
	if dst.Status.CanAdvanceTo(src.Status) {
		dst.Status = src.Status
	}
}

// InsertBatch applies each message independently. Invalid items are skipped
// and counted rather than aborting the batch.
func (s *MessageStore) InsertBatch(msgs []model.Message) ([]model.Message, int) {
	applied := make([]model.Message, 0, len(msgs))
	skipped := 0
	for _, m := range msgs {
		stored, err := s.Insert(m)
		if err != nil {
			skipped++
			continue
		}
		applied = append(applied, stored)
	}
	return applied, skipped
}

func (rm *roomMessages) place(e *entry) {
	i := sort.Search(len(rm.ordered), func(i int) bool { return less(e, rm.ordered[i]) })
	rm.ordered = append(rm.ordered, nil)
	copy(rm.ordered[i+1:], rm.ordered[i:])
	rm.ordered[i] = e
}

func (rm *roomMessages) remove(e *entry) {
	for i, o := range rm.ordered {
		if o == e {
			rm.ordered = append(rm.ordered[:i], rm.ordered[i+1:]...)
			return
		}
	}
}

// confirmedBelow returns the index of the first entry that is unconfirmed or
// has an id >= id.
func (rm *roomMessages) confirmedBelow(id int64) int {
	return sort.Search(len(rm.ordered), func(i int) bool {
		m := &rm.ordered[i].msg
		return !m.Confirmed() || m.ID >= id
	})
}

// confirmedAtOrBelow is the index of the first entry that is unconfirmed or
// has an id above id.
func (rm *roomMessages) confirmedAtOrBelow(id int64) int {
	return sort.Search(len(rm.ordered), func(i int) bool {
		m := &rm.ordered[i].msg
		return !m.Confirmed() || m.ID > id
	})
}

// GetMessages returns up to limit messages strictly before or after anchor,
// oldest first. A zero anchor returns the most recent page.
func (s *MessageStore) GetMessages(roomID, anchor int64, limit int, dir model.Direction) []model.Message {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	rm := s.room(roomID, false)
	if rm == nil {
		return []model.Message{}
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	n := len(rm.ordered)
	var lo, hi int
	switch {
	case anchor <= 0:
		lo, hi = max(0, n-limit), n
	case dir == model.After:
		lo = rm.confirmedAtOrBelow(anchor)
		hi = min(n, lo+limit)
	default:
		hi = rm.confirmedBelow(anchor)
		lo = max(0, hi-limit)
	}

	out := make([]model.Message, 0, hi-lo)
	for _, e := range rm.ordered[lo:hi] {
		out = append(out, cloneMessage(e.msg))
	}
	return out
}

func (s *MessageStore) Get(uniqueID string) (model.Message, error) {
	rm, ok := s.lookup(uniqueID)
	if !ok {
		return model.Message{}, chaterr.NotFound("getMessage", "message %q", uniqueID)
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	e := rm.byUnique[uniqueID]
	if e == nil {
		return model.Message{}, chaterr.NotFound("getMessage", "message %q", uniqueID)
	}
	return cloneMessage(e.msg), nil
}

func (s *MessageStore) GetByID(roomID, id int64) (model.Message, bool) {
	rm := s.room(roomID, false)
	if rm == nil {
		return model.Message{}, false
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	e := rm.byID[id]
	if e == nil {
		return model.Message{}, false
	}
	return cloneMessage(e.msg), true
}

// MarkStatus raises every confirmed, non-deleted message in the room with
// id <= messageID to at least status. Messages already past status are left
// alone. It returns how many messages changed.
func (s *MessageStore) MarkStatus(roomID, messageID int64, status model.MessageStatus) (int, error) {
	if status != model.StatusSent && status != model.StatusDelivered && status != model.StatusRead {
		return 0, chaterr.Validation("markStatus", "status %s is not a receipt status", status)
	}
	rm := s.room(roomID, false)
	if rm == nil {
		return 0, nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	changed := 0
	end := rm.confirmedAtOrBelow(messageID)
	for _, e := range rm.ordered[:end] {
		if e.msg.Deleted {
			continue
		}
		if e.msg.Status.CanAdvanceTo(status) {
			e.msg.Status = status
			changed++
		}
	}
	return changed, nil
}

// UpdateStatus moves one message forward. A backward move is ignored and the
// current record returned; updating a deleted message is a Conflict.
func (s *MessageStore) UpdateStatus(uniqueID string, status model.MessageStatus) (model.Message, error) {
	rm, ok := s.lookup(uniqueID)
	if !ok {
		return model.Message{}, chaterr.NotFound("updateStatus", "message %q", uniqueID)
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	e := rm.byUnique[uniqueID]
	if e == nil {
		return model.Message{}, chaterr.NotFound("updateStatus", "message %q", uniqueID)
	}
	if e.msg.Deleted {
		return cloneMessage(e.msg), chaterr.Conflict("updateStatus", "message %q is deleted", uniqueID)
	}
	if e.msg.Status.CanAdvanceTo(status) {
		e.msg.Status = status
	}
	return cloneMessage(e.msg), nil
}

// Resend moves a Failed message back to Sending for another attempt under
// the same unique id.
func (s *MessageStore) Resend(uniqueID string) (model.Message, error) {
	rm, ok := s.lookup(uniqueID)
	if !ok {
		return model.Message{}, chaterr.NotFound("resend", "message %q", uniqueID)
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	e := rm.byUnique[uniqueID]
	if e == nil {
		return model.Message{}, chaterr.NotFound("resend", "message %q", uniqueID)
	}
	if e.msg.Status != model.StatusFailed || e.msg.Deleted {
		return cloneMessage(e.msg), chaterr.Conflict("resend", "message %q is %s", uniqueID, e.msg.Status)
	}
	e.msg.Status = model.StatusSending
	return cloneMessage(e.msg), nil
}

// Delete tombstones the given messages and returns the ones it changed.
// Unknown ids are ignored.
func (s *MessageStore) Delete(uniqueIDs []string) []model.Message {
	affected := make([]model.Message, 0, len(uniqueIDs))
	for _, id := range uniqueIDs {
		rm, ok := s.lookup(id)
		if !ok {
			continue
		}
		rm.mu.Lock()
		if e := rm.byUnique[id]; e != nil && !e.msg.Deleted {
			e.msg.Deleted = true
			affected = append(affected, cloneMessage(e.msg))
		}
		rm.mu.Unlock()
	}
	return affected
}

// CountAfter counts confirmed, non-deleted messages with id > watermark.
func (s *MessageStore) CountAfter(roomID, watermark int64) int {
	rm := s.room(roomID, false)
	if rm == nil {
		return 0
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	count := 0
	for _, e := range rm.ordered[rm.confirmedAtOrBelow(watermark):] {
		if e.msg.Confirmed() && !e.msg.Deleted {
			count++
		}
	}
	return count
}

// Latest returns the newest confirmed message that is not deleted.
func (s *MessageStore) Latest(roomID int64) (model.Message, bool) {
	rm := s.room(roomID, false)
	if rm == nil {
		return model.Message{}, false
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	for i := len(rm.ordered) - 1; i >= 0; i-- {
		m := &rm.ordered[i].msg
		if m.Confirmed() && !m.Deleted {
			return cloneMessage(*m), true
		}
	}
	return model.Message{}, false
}

// Len reports how many messages, tombstones included, the room holds.
func (s *MessageStore) Len(roomID int64) int {
	rm := s.room(roomID, false)
	if rm == nil {
		return 0
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.ordered)
}

// MissingLinks lists previous-message ids referenced inside the room that
// are not stored locally. The oldest message's link is not a gap: it points
// at history that has not been fetched yet.
func (s *MessageStore) MissingLinks(roomID int64) []int64 {
	rm := s.room(roomID, false)
	if rm == nil {
		return nil
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var missing []int64
	first := true
	for _, e := range rm.ordered {
		if !e.msg.Confirmed() {
			break
		}
		if first {
			first = false
			continue
		}
		prev := e.msg.PreviousMessageID
		if prev > 0 && rm.byID[prev] == nil {
			missing = append(missing, prev)
		}
	}
	return missing
}

// ClearRoom drops every message of the room and returns how many there were.
func (s *MessageStore) ClearRoom(roomID int64) int {
	rm := s.room(roomID, false)
	if rm == nil {
		return 0
	}
	rm.mu.Lock()
	ids := make([]string, 0, len(rm.byUnique))
	for id := range rm.byUnique {
		ids = append(ids, id)
	}
	rm.byUnique = make(map[string]*entry)
	rm.byID = make(map[int64]*entry)
	rm.ordered = nil
	rm.mu.Unlock()

	s.mu.Lock()
	for _, id := range ids {
		if s.index[id] == roomID {
			delete(s.index, id)
		}
	}
	s.mu.Unlock()
	return len(ids)
}

// Reset forgets everything, used when the session changes identity.
func (s *MessageStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = make(map[int64]*roomMessages)
	s.index = make(map[string]int64)
}

func cloneMessage(m model.Message) model.Message {
	m.Payload = cloneMap(m.Payload)
	m.Extras = cloneMap(m.Extras)
	return m
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
