// Package engine ties signaling, room presence, peer sessions, and file
// transfer together behind one facade with an observable state snapshot.
package engine

import (
	"sync"

	"webdrop/internal/room"
	"webdrop/internal/transfer"
)

// ArtifactInfo describes the current received file.
type ArtifactInfo struct {
	FileID string
	Name   string
	Size   int64
	Path   string
}

// State is the engine's full observable snapshot. Values are copies, safe
// to hold across updates.
type State struct {
	Phase  room.Phase
	RoomID string
	SelfID string
	Peers  []string

	Target        string
	Connected     bool
	ConnectedPeer string

	Sending   *transfer.Progress
	Receiving *transfer.Progress
	Artifact  *ArtifactInfo
}

// Store holds the engine state and fans updates out to subscribers.
// Subscribers are invoked synchronously, in subscription order, with the
// state as of that update.
type Store struct {
	mu      sync.Mutex
	state   State
	nextID  int
	subs    map[int]func(State)
	subMu   sync.Mutex
	ordered []int
}

func NewStore() *Store {
	return &Store{subs: make(map[int]func(State))}
}

func (s *Store) Get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneState(s.state)
}

// Update applies mutate under the store lock, then notifies subscribers.
func (s *Store) Update(mutate func(*State)) {
	s.mu.Lock()
	mutate(&s.state)
	snapshot := cloneState(s.state)
	s.mu.Unlock()

	s.subMu.Lock()
	ids := make([]int, len(s.ordered))
	copy(ids, s.ordered)
	subs := make(map[int]func(State), len(s.subs))
	for id, fn := range s.subs {
		subs[id] = fn
	}
	s.subMu.Unlock()

	for _, id := range ids {
		if fn, ok := subs[id]; ok {
			fn(snapshot)
		}
	}
}

// Subscribe registers fn and immediately calls it with the current state.
// The returned function cancels the subscription.
func (s *Store) Subscribe(fn func(State)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.ordered = append(s.ordered, id)
	s.subMu.Unlock()

	fn(s.Get())

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		for i, v := range s.ordered {
			if v == id {
				s.ordered = append(s.ordered[:i], s.ordered[i+1:]...)
				break
			}
		}
		s.subMu.Unlock()
	}
}

func cloneState(st State) State {
	out := st
	out.Peers = append([]string(nil), st.Peers...)
	if st.Sending != nil {
		p := *st.Sending
		out.Sending = &p
	}
	if st.Receiving != nil {
		p := *st.Receiving
		out.Receiving = &p
	}
	if st.Artifact != nil {
		a := *st.Artifact
		out.Artifact = &a
	}
	return out
}
