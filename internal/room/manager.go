// Package room tracks the local client's room membership and the set of
// peers currently present.
package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"webdrop/internal/signaling"
)

type Phase int

const (
	Idle Phase = iota
	Joining
	Joined
)

func (p Phase) String() string {
	switch p {
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	default:
		return "idle"
	}
}

// State is the observable room snapshot. Peers never includes self.
type State struct {
	Phase  Phase
	RoomID string
	SelfID string
	Peers  []string
}

// Manager drives the Idle -> Joining -> Joined -> Idle lifecycle and keeps
// the peer set converged with presence notifications.
type Manager struct {
	logger   *logrus.Logger
	signaler signaling.Signaler

	mu     sync.Mutex
	phase  Phase
	roomID string
	selfID string
	peers  map[string]struct{}

	// onPeerLeft fires when a present peer disappears, so the coordinator
	// can tear down a session targeting it.
	onPeerLeft func(peerID string)
	onChange   func(State)
}

func NewManager(signaler signaling.Signaler, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		logger:   logger,
		signaler: signaler,
		peers:    make(map[string]struct{}),
	}
}

func (m *Manager) OnPeerLeft(fn func(peerID string)) { m.onPeerLeft = fn }

func (m *Manager) OnChange(fn func(State)) { m.onChange = fn }

// Join is reentrant: while Joining, or already Joined to the same room, it
// reports the current state without a second backend round trip.
func (m *Manager) Join(ctx context.Context, roomID string) error {
	m.mu.Lock()
	switch m.phase {
	case Joining:
		m.mu.Unlock()
		return nil
	case Joined:
		if m.roomID == roomID {
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()
		return fmt.Errorf("already joined to room %q", m.roomID)
	}
	m.phase = Joining
	m.mu.Unlock()
	m.changed()

	info, err := m.signaler.Join(ctx, roomID)
	if err != nil {
		m.mu.Lock()
		m.phase = Idle
		m.mu.Unlock()
		m.changed()
		m.logger.Errorf("Failed to join room %s: %v", roomID, err)
		return err
	}

	m.mu.Lock()
	// The user may have left while the join round trip was in flight.
	if m.phase != Joining {
		m.mu.Unlock()
		return nil
	}
	m.phase = Joined
	m.roomID = info.RoomID
	m.selfID = info.SelfID
	m.peers = make(map[string]struct{})
	for _, id := range info.Peers {
		if id != info.SelfID {
			m.peers[id] = struct{}{}
		}
	}
	m.mu.Unlock()
	m.changed()

	m.logger.Infof("Joined room %s as %s with %d peers", info.RoomID, info.SelfID, len(info.Peers))
	return nil
}

// Leave resets to Idle. Safe to call in any phase.
func (m *Manager) Leave(ctx context.Context) error {
	m.mu.Lock()
	wasJoined := m.phase == Joined
	m.reset()
	m.mu.Unlock()
	m.changed()

	if !wasJoined {
		return nil
	}
	if err := m.signaler.Leave(ctx); err != nil {
		m.logger.Warnf("Leave request failed: %v", err)
		return err
	}
	m.logger.Info("Left room")
	return nil
}

// Expire handles a backend-invalidated session: local state flips to Idle
// immediately, no leave round trip is attempted.
func (m *Manager) Expire() {
	m.mu.Lock()
	if m.phase == Idle {
		m.mu.Unlock()
		return
	}
	m.reset()
	m.mu.Unlock()
	m.changed()
	m.logger.Error("Room session expired, rejoin required")
}

func (m *Manager) reset() {
	m.phase = Idle
	m.roomID = ""
	m.selfID = ""
	m.peers = make(map[string]struct{})
}

// HandleEnvelope consumes presence envelopes; others are ignored.
func (m *Manager) HandleEnvelope(env signaling.Envelope) {
	switch env.Kind {
	case signaling.KindPeerJoined:
		var p signaling.PresencePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			m.logger.Warnf("Malformed peer-joined payload: %v", err)
			return
		}
		m.addPeer(p.PeerID)
	case signaling.KindPeerLeft:
		var p signaling.PresencePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			m.logger.Warnf("Malformed peer-left payload: %v", err)
			return
		}
		m.removePeer(p.PeerID)
	case signaling.KindRoomState:
		var p signaling.RoomStatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			m.logger.Warnf("Malformed room-state payload: %v", err)
			return
		}
		m.applySnapshot(p.Peers)
	}
}

func (m *Manager) addPeer(peerID string) {
	m.mu.Lock()
	if m.phase != Joined || peerID == "" || peerID == m.selfID {
		m.mu.Unlock()
		return
	}
	if _, exists := m.peers[peerID]; exists {
		m.mu.Unlock()
		return
	}
	m.peers[peerID] = struct{}{}
	m.mu.Unlock()
	m.changed()
	m.logger.Infof("Peer joined: %s", peerID)
}

func (m *Manager) removePeer(peerID string) {
	m.mu.Lock()
	if m.phase != Joined {
		m.mu.Unlock()
		return
	}
	if _, exists := m.peers[peerID]; !exists {
		m.mu.Unlock()
		return
	}
	delete(m.peers, peerID)
	onLeft := m.onPeerLeft
	m.mu.Unlock()
	m.changed()
	m.logger.Infof("Peer left: %s", peerID)

	if onLeft != nil {
		onLeft(peerID)
	}
}

func (m *Manager) applySnapshot(peers []string) {
	m.mu.Lock()
	if m.phase != Joined {
		m.mu.Unlock()
		return
	}
	next := make(map[string]struct{}, len(peers))
	for _, id := range peers {
		if id != m.selfID {
			next[id] = struct{}{}
		}
	}
	var gone []string
	for id := range m.peers {
		if _, still := next[id]; !still {
			gone = append(gone, id)
		}
	}
	m.peers = next
	onLeft := m.onPeerLeft
	m.mu.Unlock()
	m.changed()

	if onLeft != nil {
		for _, id := range gone {
			onLeft(id)
		}
	}
}

func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() State {
	peers := make([]string, 0, len(m.peers))
	for id := range m.peers {
		peers = append(peers, id)
	}
	sort.Strings(peers)
	return State{
		Phase:  m.phase,
		RoomID: m.roomID,
		SelfID: m.selfID,
		Peers:  peers,
	}
}

func (m *Manager) SelfID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selfID
}

func (m *Manager) Joined() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase == Joined
}

// HasPeer reports whether the peer is currently present in the room.
func (m *Manager) HasPeer(peerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.peers[peerID]
	return ok
}

func (m *Manager) changed() {
	if m.onChange != nil {
		m.onChange(m.Snapshot())
	}
}
