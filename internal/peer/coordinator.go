package peer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"webdrop/internal/signaling"
)

// candidateRetryDelay is how long a candidate that beat the remote
// description to us waits before its one retry.
const candidateRetryDelay = 100 * time.Millisecond

// SendFunc delivers a signaling envelope to the backend.
type SendFunc func(ctx context.Context, env signaling.Envelope) error

// Events surface session lifecycle and data channel traffic to the caller.
type Events struct {
	OnConnected     func(peerID string)
	OnDisconnected  func(peerID string)
	OnChannelOpen   func(peerID string, ch Channel)
	OnChannelText   func(text string)
	OnChannelBinary func(data []byte)
	OnChannelClose  func()
}

// Coordinator holds at most one live session. A new outbound call or an
// accepted inbound offer replaces whatever came before it.
type Coordinator struct {
	logger  *logrus.Logger
	factory SessionFactory
	send    SendFunc
	events  Events

	mu           sync.Mutex
	selfID       string
	target       string
	session      Session
	epoch        int
	offerer      bool
	pendingOffer bool
	connected    bool
}

func NewCoordinator(factory SessionFactory, send SendFunc, events Events, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Coordinator{
		logger:  logger,
		factory: factory,
		send:    send,
		events:  events,
	}
}

// SetIdentity is called on room join. The self ID doubles as the joined
// flag and as the glare tie-breaker.
func (c *Coordinator) SetIdentity(selfID string) {
	c.mu.Lock()
	c.selfID = selfID
	c.mu.Unlock()
}

// Reset tears down any session and clears identity and target, for room
// leave or expiry.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	d := c.teardownLocked()
	c.selfID = ""
	c.target = ""
	c.mu.Unlock()
	c.closeSession(d)
}

// SetTarget selects the peer future calls go to. An empty ID clears the
// target. Switching away from a peer with a live session, or clearing,
// tears that session down; re-selecting the current target is a no-op.
func (c *Coordinator) SetTarget(peerID string) error {
	c.mu.Lock()
	if c.selfID == "" {
		c.mu.Unlock()
		return ErrNoRoom
	}
	if peerID == c.selfID {
		c.mu.Unlock()
		return ErrSelfTarget
	}
	if peerID == c.target {
		c.mu.Unlock()
		return nil
	}
	var d detached
	if c.session != nil && c.session.PeerID() != peerID {
		d = c.teardownLocked()
	}
	c.target = peerID
	c.mu.Unlock()
	c.closeSession(d)
	return nil
}

func (c *Coordinator) Target() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

func (c *Coordinator) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ConnectedPeer returns the peer of the live connected session, or "".
func (c *Coordinator) ConnectedPeer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.session == nil {
		return ""
	}
	return c.session.PeerID()
}

// SessionChannel returns the live session's data channel, or nil.
func (c *Coordinator) SessionChannel() Channel {
	c.mu.Lock()
	sess := c.session
	ok := c.connected
	c.mu.Unlock()
	if !ok || sess == nil {
		return nil
	}
	return sess.Channel()
}

// Call offers a connection to the current target, replacing any existing
// session to a different peer.
func (c *Coordinator) Call(ctx context.Context) error {
	c.mu.Lock()
	if c.selfID == "" {
		c.mu.Unlock()
		return ErrNoRoom
	}
	if c.target == "" {
		c.mu.Unlock()
		return ErrNoTarget
	}
	if c.connected && c.session != nil && c.session.PeerID() == c.target {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	stale := c.teardownLocked()
	sess, err := c.newSessionLocked(c.target)
	if err != nil {
		c.mu.Unlock()
		c.closeSession(stale)
		return err
	}
	c.offerer = true
	c.pendingOffer = true
	target := c.target
	c.mu.Unlock()
	c.closeSession(stale)

	sdp, err := sess.CreateOffer()
	if err != nil {
		c.dropSession(sess)
		return err
	}
	c.logger.Infof("Calling %s", target)
	env := signaling.NewSDPEnvelope(signaling.KindOffer, "", "", target, sdp)
	if err := c.send(ctx, env); err != nil {
		c.dropSession(sess)
		return err
	}
	return nil
}

// HangUp closes the live session and clears the target. Calling it with
// no session is a no-op.
func (c *Coordinator) HangUp() {
	c.mu.Lock()
	d := c.teardownLocked()
	c.target = ""
	c.mu.Unlock()
	if d.sess != nil {
		c.logger.Infof("Hung up on %s", d.sess.PeerID())
	}
	c.closeSession(d)
}

// PeerGone tears down the session if it targets the departed peer.
func (c *Coordinator) PeerGone(peerID string) {
	c.mu.Lock()
	var d detached
	if c.session != nil && c.session.PeerID() == peerID {
		d = c.teardownLocked()
	}
	if c.target == peerID {
		c.target = ""
	}
	c.mu.Unlock()
	if d.sess != nil {
		c.logger.Infof("Peer %s left, closing session", peerID)
	}
	c.closeSession(d)
}

// HandleOffer answers an inbound offer. The newest offer always wins; a
// glare with our own pending offer to the same peer is broken by ID, the
// smaller ID stays offerer.
func (c *Coordinator) HandleOffer(ctx context.Context, senderID, sdp string) {
	c.mu.Lock()
	if c.selfID == "" {
		c.mu.Unlock()
		c.logger.Warnf("Ignoring offer from %s, not in a room", senderID)
		return
	}
	if c.pendingOffer && c.session != nil && c.session.PeerID() == senderID && c.selfID < senderID {
		c.mu.Unlock()
		c.logger.Infof("Offer glare with %s, keeping our offer", senderID)
		return
	}
	stale := c.teardownLocked()
	sess, err := c.newSessionLocked(senderID)
	if err != nil {
		c.mu.Unlock()
		c.closeSession(stale)
		c.logger.Errorf("Failed to create session for offer from %s: %v", senderID, err)
		return
	}
	c.offerer = false
	c.target = senderID
	c.mu.Unlock()
	c.closeSession(stale)

	answer, err := sess.AcceptOffer(sdp)
	if err != nil {
		c.dropSession(sess)
		c.logger.Errorf("Failed to accept offer from %s: %v", senderID, err)
		return
	}
	c.logger.Infof("Answering offer from %s", senderID)
	env := signaling.NewSDPEnvelope(signaling.KindAnswer, "", "", senderID, answer)
	if err := c.send(ctx, env); err != nil {
		c.dropSession(sess)
		c.logger.Errorf("Failed to send answer to %s: %v", senderID, err)
	}
}

// HandleAnswer applies an answer to our pending offer. Answers from the
// wrong peer or with no offer outstanding are dropped.
func (c *Coordinator) HandleAnswer(senderID, sdp string) {
	c.mu.Lock()
	if c.session == nil || c.session.PeerID() != senderID || !c.offerer || !c.pendingOffer {
		c.mu.Unlock()
		c.logger.Warnf("Ignoring unexpected answer from %s", senderID)
		return
	}
	sess := c.session
	c.pendingOffer = false
	c.mu.Unlock()

	if err := sess.AcceptAnswer(sdp); err != nil {
		c.dropSession(sess)
		c.logger.Errorf("Failed to accept answer from %s: %v", senderID, err)
	}
}

// HandleCandidate feeds a remote candidate to the session. A candidate
// that outruns the remote description gets one delayed retry.
func (c *Coordinator) HandleCandidate(senderID string, cand CandidateInit) {
	c.mu.Lock()
	sess, ready := c.candidateTargetLocked(senderID)
	epoch := c.epoch
	c.mu.Unlock()

	if ready {
		if err := sess.AddCandidate(cand); err != nil {
			c.logger.Warnf("Failed to add candidate from %s: %v", senderID, err)
		}
		return
	}

	go func() {
		time.Sleep(candidateRetryDelay)
		c.mu.Lock()
		sess, ready := c.candidateTargetLocked(senderID)
		stillCurrent := c.epoch == epoch
		c.mu.Unlock()
		if !stillCurrent || !ready {
			c.logger.Warnf("Dropping candidate from %s, session not ready", senderID)
			return
		}
		if err := sess.AddCandidate(cand); err != nil {
			c.logger.Warnf("Failed to add candidate from %s: %v", senderID, err)
		}
	}()
}

func (c *Coordinator) candidateTargetLocked(senderID string) (Session, bool) {
	if c.session == nil || c.session.PeerID() != senderID {
		return nil, false
	}
	if !c.session.HasRemoteDescription() {
		return nil, false
	}
	return c.session, true
}

// newSessionLocked builds a session whose callbacks no-op once the
// session is replaced.
func (c *Coordinator) newSessionLocked(peerID string) (Session, error) {
	holder := &sessionHolder{}
	events := SessionEvents{
		OnLocalCandidate: func(cand CandidateInit) {
			c.sendCandidate(peerID, cand)
		},
		OnConnected: func() {
			if c.markConnected(holder.get(), true) && c.events.OnConnected != nil {
				c.events.OnConnected(peerID)
			}
		},
		OnDisconnected: func() {
			if !c.markConnected(holder.get(), false) {
				return
			}
			// Not initiated by us; coordinator teardowns detach first.
			c.logger.Warnf("Peer connection to %s lost", peerID)
			if c.events.OnDisconnected != nil {
				c.events.OnDisconnected(peerID)
			}
		},
		OnChannelOpen: func() {
			sess := holder.get()
			if !c.isCurrent(sess) {
				return
			}
			if c.events.OnChannelOpen != nil {
				c.events.OnChannelOpen(peerID, sess.Channel())
			}
		},
		OnChannelText: func(text string) {
			if c.isCurrent(holder.get()) && c.events.OnChannelText != nil {
				c.events.OnChannelText(text)
			}
		},
		OnChannelBinary: func(data []byte) {
			if c.isCurrent(holder.get()) && c.events.OnChannelBinary != nil {
				c.events.OnChannelBinary(data)
			}
		},
		OnChannelClose: func() {
			if c.isCurrent(holder.get()) && c.events.OnChannelClose != nil {
				c.events.OnChannelClose()
			}
		},
	}
	sess, err := c.factory(peerID, events)
	if err != nil {
		return nil, err
	}
	holder.set(sess)
	c.session = sess
	c.epoch++
	return sess, nil
}

func (c *Coordinator) sendCandidate(peerID string, cand CandidateInit) {
	env := signaling.NewCandidateEnvelope("", "", peerID, signaling.CandidatePayload{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	})
	if err := c.send(context.Background(), env); err != nil {
		c.logger.Warnf("Failed to send candidate to %s: %v", peerID, err)
	}
}

// markConnected flips the connected flag for the current session and
// reports whether the event should propagate.
func (c *Coordinator) markConnected(sess Session, up bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess == nil || c.session != sess {
		return false
	}
	if c.connected == up {
		return false
	}
	c.connected = up
	return true
}

func (c *Coordinator) isCurrent(sess Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sess != nil && c.session == sess
}

// dropSession closes sess and clears state if it is still current.
func (c *Coordinator) dropSession(sess Session) {
	c.mu.Lock()
	d := detached{sess: sess}
	if c.session == sess {
		d = c.teardownLocked()
	}
	c.mu.Unlock()
	c.closeSession(d)
}

// teardownLocked detaches the current session and returns it for closing
// outside the lock, since Close can fire callbacks that re-enter.
func (c *Coordinator) teardownLocked() detached {
	d := detached{sess: c.session, wasConnected: c.connected}
	c.session = nil
	c.connected = false
	c.offerer = false
	c.pendingOffer = false
	c.epoch++
	return d
}

type detached struct {
	sess         Session
	wasConnected bool
}

// closeSession closes a detached session and, if it was the connected
// one, reports the disconnect upward.
func (c *Coordinator) closeSession(d detached) {
	if d.sess == nil {
		return
	}
	d.sess.Close()
	if d.wasConnected && c.events.OnDisconnected != nil {
		c.events.OnDisconnected(d.sess.PeerID())
	}
}

type sessionHolder struct {
	mu sync.Mutex
	s  Session
}

func (h *sessionHolder) set(s Session) {
	h.mu.Lock()
	h.s = s
	h.mu.Unlock()
}

func (h *sessionHolder) get() Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.s
}
