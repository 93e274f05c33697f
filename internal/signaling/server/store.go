// Package server implements the signaling backend the polling client talks
// to: in-memory rooms, client identities, and a per-room envelope log with
// monotonically increasing sequence markers.
package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"webdrop/internal/signaling"
)

// maxLogEntries bounds the per-room envelope log; clients poll every few
// seconds, so anything older than this is long since delivered.
const maxLogEntries = 512

type member struct {
	id       string
	lastSeen time.Time
}

type room struct {
	id      string
	seq     int64
	members map[string]*member
	log     []signaling.Envelope
}

// RoomStore tracks rooms, their members, and the envelope log. Members that
// have not been heard from within the TTL are expired and announced as left.
type RoomStore struct {
	mu    sync.Mutex
	rooms map[string]*room
	ttl   time.Duration
	now   func() time.Time
}

func NewRoomStore(ttl time.Duration) *RoomStore {
	return &RoomStore{
		rooms: make(map[string]*room),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Join adds a new member to the room (creating it if needed) and returns the
// assigned client identity plus the ids already present.
func (s *RoomStore) Join(roomID string) (string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[roomID]
	if r == nil {
		r = &room{id: roomID, members: make(map[string]*member)}
		s.rooms[roomID] = r
	}
	s.expireLocked(r)

	clientID := uuid.NewString()
	peers := make([]string, 0, len(r.members))
	for id := range r.members {
		peers = append(peers, id)
	}
	r.members[clientID] = &member{id: clientID, lastSeen: s.now()}

	s.appendLocked(r, signaling.Envelope{
		Kind:     signaling.KindPeerJoined,
		SenderID: clientID,
		Payload:  presencePayload(clientID),
		RoomID:   roomID,
	})
	s.appendLocked(r, signaling.Envelope{
		Kind:     signaling.KindRoomState,
		TargetID: clientID,
		Payload:  roomStatePayload(r),
		RoomID:   roomID,
	})
	s.appendLocked(r, signaling.Envelope{
		Kind:     signaling.KindConnectedAck,
		TargetID: clientID,
		RoomID:   roomID,
	})

	return clientID, peers
}

// Leave removes the member and announces it. Returns false for unknown ids.
func (s *RoomStore) Leave(roomID, clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[roomID]
	if r == nil {
		return false
	}
	if _, ok := r.members[clientID]; !ok {
		return false
	}
	delete(r.members, clientID)
	s.appendLocked(r, signaling.Envelope{
		Kind:     signaling.KindPeerLeft,
		SenderID: clientID,
		Payload:  presencePayload(clientID),
		RoomID:   roomID,
	})
	if len(r.members) == 0 {
		delete(s.rooms, roomID)
	}
	return true
}

// Append records an envelope from a known member, assigning its sequence
// marker. Returns false if the room or sender is unknown (or expired).
func (s *RoomStore) Append(roomID, senderID string, env signaling.Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[roomID]
	if r == nil {
		return false
	}
	s.expireLocked(r)
	m, ok := r.members[senderID]
	if !ok {
		return false
	}
	m.lastSeen = s.now()

	env.RoomID = roomID
	env.SenderID = senderID
	s.appendLocked(r, env)
	return true
}

// Since returns the envelopes newer than the given marker that are visible
// to the client: broadcasts plus anything addressed to it. Returns ok=false
// when the client is unknown or expired.
func (s *RoomStore) Since(roomID, clientID string, since int64) ([]signaling.Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[roomID]
	if r == nil {
		return nil, false
	}
	s.expireLocked(r)
	m, ok := r.members[clientID]
	if !ok {
		return nil, false
	}
	m.lastSeen = s.now()

	var out []signaling.Envelope
	for _, env := range r.log {
		if env.Seq <= since {
			continue
		}
		if env.TargetID != "" && env.TargetID != clientID {
			continue
		}
		out = append(out, env)
	}
	return out, true
}

// Members returns the current member ids of a room.
func (s *RoomStore) Members(roomID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[roomID]
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	return out
}

func (s *RoomStore) appendLocked(r *room, env signaling.Envelope) {
	r.seq++
	env.Seq = r.seq
	r.log = append(r.log, env)
	if len(r.log) > maxLogEntries {
		r.log = r.log[len(r.log)-maxLogEntries:]
	}
}

func (s *RoomStore) expireLocked(r *room) {
	if s.ttl <= 0 {
		return
	}
	cutoff := s.now().Add(-s.ttl)
	for id, m := range r.members {
		if m.lastSeen.Before(cutoff) {
			delete(r.members, id)
			s.appendLocked(r, signaling.Envelope{
				Kind:     signaling.KindPeerLeft,
				SenderID: id,
				Payload:  presencePayload(id),
				RoomID:   r.id,
			})
		}
	}
}

func presencePayload(peerID string) []byte {
	data, _ := json.Marshal(signaling.PresencePayload{PeerID: peerID})
	return data
}

func roomStatePayload(r *room) []byte {
	peers := make([]string, 0, len(r.members))
	for id := range r.members {
		peers = append(peers, id)
	}
	data, _ := json.Marshal(signaling.RoomStatePayload{Peers: peers})
	return data
}
