package signaling

import (
	"context"
	"errors"
)

var (
	// ErrUnauthorized means the backend rejected the session. The caller
	// must treat the room as left; there is no automatic retry.
	ErrUnauthorized = errors.New("signaling: unauthorized")

	ErrNotJoined = errors.New("signaling: not joined to a room")
)

// JoinInfo is the backend's response to a successful join.
type JoinInfo struct {
	SelfID string   `json:"clientId"`
	RoomID string   `json:"roomId"`
	Peers  []string `json:"peersInRoom"`
}

// Signaler abstracts the signaling backend. Implementations deliver inbound
// envelopes in non-decreasing Seq order with self-echo already suppressed
// (except room-state snapshots, which are backend-authoritative).
type Signaler interface {
	Join(ctx context.Context, roomID string) (JoinInfo, error)
	Leave(ctx context.Context) error
	Send(ctx context.Context, env Envelope) error

	// Envelopes is the inbound stream. It is never closed; consumers stop
	// reading when they shut down.
	Envelopes() <-chan Envelope

	// Expired fires when the backend invalidates the session (401). The
	// implementation has already flipped itself to not-joined.
	Expired() <-chan struct{}

	Close() error
}
