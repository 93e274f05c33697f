package peer

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

// NewSessionFactory returns a SessionFactory backed by pion. The same
// factory serves every session the coordinator opens.
func NewSessionFactory(config webrtc.Configuration, logger *logrus.Logger) SessionFactory {
	if logger == nil {
		logger = logrus.New()
	}
	return func(peerID string, events SessionEvents) (Session, error) {
		pc, err := webrtc.NewPeerConnection(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create peer connection: %v", err)
		}
		s := &webrtcSession{
			peerID: peerID,
			logger: logger,
			events: events,
			pc:     pc,
		}
		s.wire()
		return s, nil
	}
}

type webrtcSession struct {
	peerID string
	logger *logrus.Logger
	events SessionEvents
	pc     *webrtc.PeerConnection

	mu      sync.Mutex
	channel *webrtc.DataChannel
	closed  bool
}

func (s *webrtcSession) PeerID() string { return s.peerID }

func (s *webrtcSession) wire() {
	s.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Infof("Peer connection state with %s: %s", s.peerID, state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			if s.events.OnConnected != nil {
				s.events.OnConnected()
			}
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if s.events.OnDisconnected != nil {
				s.events.OnDisconnected()
			}
		}
	})

	s.pc.OnICECandidate(func(ice *webrtc.ICECandidate) {
		if ice == nil || s.events.OnLocalCandidate == nil {
			return
		}
		init := ice.ToJSON()
		s.events.OnLocalCandidate(CandidateInit{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})

	// The answering side receives the channel the offerer created.
	s.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		s.logger.Infof("Received data channel from %s", s.peerID)
		s.setupDataChannel(dc)
	})
}

func (s *webrtcSession) setupDataChannel(dc *webrtc.DataChannel) {
	s.mu.Lock()
	s.channel = dc
	s.mu.Unlock()

	dc.OnOpen(func() {
		s.logger.Infof("Data channel '%s' open with %s", dc.Label(), s.peerID)
		if s.events.OnChannelOpen != nil {
			s.events.OnChannelOpen()
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			if s.events.OnChannelText != nil {
				s.events.OnChannelText(string(msg.Data))
			}
			return
		}
		if s.events.OnChannelBinary != nil {
			s.events.OnChannelBinary(msg.Data)
		}
	})

	dc.OnError(func(err error) {
		s.logger.Errorf("Data channel error with %s: %v", s.peerID, err)
	})

	dc.OnClose(func() {
		s.logger.Infof("Data channel '%s' closed with %s", dc.Label(), s.peerID)
		if s.events.OnChannelClose != nil {
			s.events.OnChannelClose()
		}
	})
}

func (s *webrtcSession) CreateOffer() (string, error) {
	dc, err := s.pc.CreateDataChannel("data", DefaultDataChannelConfig())
	if err != nil {
		return "", fmt.Errorf("failed to create data channel: %v", err)
	}
	s.setupDataChannel(dc)

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %v", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %v", err)
	}
	return offer.SDP, nil
}

func (s *webrtcSession) AcceptOffer(sdp string) (string, error) {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := s.pc.SetRemoteDescription(remote); err != nil {
		return "", fmt.Errorf("failed to set remote description: %v", err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %v", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to set local description: %v", err)
	}
	return answer.SDP, nil
}

func (s *webrtcSession) AcceptAnswer(sdp string) error {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := s.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("failed to set remote description: %v", err)
	}
	return nil
}

func (s *webrtcSession) AddCandidate(c CandidateInit) error {
	init := webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
	return s.pc.AddICECandidate(init)
}

func (s *webrtcSession) HasRemoteDescription() bool {
	return s.pc.RemoteDescription() != nil
}

func (s *webrtcSession) Channel() Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel == nil {
		return nil
	}
	return s.channel
}

func (s *webrtcSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dc := s.channel
	s.mu.Unlock()

	if dc != nil {
		dc.Close()
	}
	return s.pc.Close()
}
