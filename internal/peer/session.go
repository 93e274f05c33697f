// Package peer manages the single live WebRTC connection to a selected
// room member: offer/answer negotiation, candidate exchange, and the data
// channel the transfer engine rides on.
package peer

import "errors"

var (
	ErrNoRoom           = errors.New("not joined to a room")
	ErrNoTarget         = errors.New("no target selected")
	ErrSelfTarget       = errors.New("cannot target self")
	ErrAlreadyConnected = errors.New("already connected to this peer")
)

// CandidateInit mirrors the trickle ICE fields exchanged over signaling.
type CandidateInit struct {
	Candidate     string
	SDPMid        *string
	SDPMLineIndex *uint16
}

// SessionEvents are callbacks a Session fires as negotiation and the data
// channel progress. Callbacks may arrive on arbitrary goroutines.
type SessionEvents struct {
	OnLocalCandidate func(c CandidateInit)
	OnConnected      func()
	OnDisconnected   func()
	OnChannelOpen    func()
	OnChannelText    func(text string)
	OnChannelBinary  func(data []byte)
	OnChannelClose   func()
}

// Session is one WebRTC connection attempt to one peer. Implementations
// wrap *webrtc.PeerConnection; tests substitute fakes.
type Session interface {
	PeerID() string

	// CreateOffer returns local SDP to signal to the peer. The session
	// opens the data channel on its side.
	CreateOffer() (sdp string, err error)
	// AcceptOffer applies remote SDP and returns the answer.
	AcceptOffer(sdp string) (answer string, err error)
	AcceptAnswer(sdp string) error
	AddCandidate(c CandidateInit) error
	// HasRemoteDescription reports whether remote SDP has been applied,
	// which gates candidate delivery.
	HasRemoteDescription() bool

	Channel() Channel
	Close() error
}

// Channel is the outbound face of the session's data channel.
type Channel interface {
	Send(data []byte) error
	SendText(text string) error
	BufferedAmount() uint64
}

// SessionFactory builds a session for a peer, wiring events up front.
type SessionFactory func(peerID string, events SessionEvents) (Session, error)
