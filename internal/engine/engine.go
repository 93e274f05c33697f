package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"webdrop/internal/history"
	"webdrop/internal/peer"
	"webdrop/internal/room"
	"webdrop/internal/signaling"
	"webdrop/internal/transfer"
)

var (
	ErrNotConnected = errors.New("no connected peer")
	ErrNoChannel    = errors.New("data channel not open")
)

type Config struct {
	Signaler       signaling.Signaler
	SessionFactory peer.SessionFactory
	DownloadDir    string
	History        *history.Store
	Logger         *logrus.Logger
}

// Engine is the application facade. One engine drives one client.
type Engine struct {
	logger   *logrus.Logger
	signaler signaling.Signaler
	rooms    *room.Manager
	coord    *peer.Coordinator
	sender   *transfer.Sender
	receiver *transfer.Receiver
	store    *Store
	hist     *history.Store

	done chan struct{}
	wg   sync.WaitGroup

	mu         sync.Mutex
	channel    peer.Channel
	sendCancel context.CancelFunc
	closed     bool
}

func New(cfg Config) (*Engine, error) {
	if cfg.Signaler == nil {
		return nil, errors.New("engine: signaler is required")
	}
	if cfg.SessionFactory == nil {
		return nil, errors.New("engine: session factory is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	dir := cfg.DownloadDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	e := &Engine{
		logger:   logger,
		signaler: cfg.Signaler,
		store:    NewStore(),
		hist:     cfg.History,
		done:     make(chan struct{}),
	}

	e.rooms = room.NewManager(cfg.Signaler, logger)
	e.rooms.OnChange(func(st room.State) {
		e.store.Update(func(s *State) {
			s.Phase = st.Phase
			s.RoomID = st.RoomID
			s.SelfID = st.SelfID
			s.Peers = st.Peers
		})
	})

	e.coord = peer.NewCoordinator(cfg.SessionFactory, cfg.Signaler.Send, peer.Events{
		OnConnected: func(peerID string) {
			e.store.Update(func(s *State) {
				s.Connected = true
				s.ConnectedPeer = peerID
			})
		},
		OnDisconnected: func(peerID string) {
			e.abortSend()
			e.setChannel(nil)
			e.receiver.Reset()
			e.store.Update(func(s *State) {
				s.Connected = false
				s.ConnectedPeer = ""
			})
		},
		OnChannelOpen: func(peerID string, ch peer.Channel) {
			e.setChannel(ch)
		},
		OnChannelText:   func(text string) { e.receiver.OnText(text) },
		OnChannelBinary: func(data []byte) { e.receiver.OnBinary(data) },
		OnChannelClose: func() {
			e.abortSend()
			e.setChannel(nil)
			e.receiver.Reset()
		},
	}, logger)

	e.rooms.OnPeerLeft(e.coord.PeerGone)

	e.sender = transfer.NewSender(logger, func(p transfer.Progress) {
		prog := p
		e.store.Update(func(s *State) { s.Sending = &prog })
	})
	e.receiver = transfer.NewReceiver(dir, logger, func(p transfer.Progress) {
		prog := p
		e.store.Update(func(s *State) { s.Receiving = &prog })
	}, e.onArtifact)

	e.wg.Add(1)
	go e.dispatchLoop()
	return e, nil
}

// Store exposes the observable state for subscribers.
func (e *Engine) Store() *Store { return e.store }

func (e *Engine) Join(ctx context.Context, roomID string) error {
	if err := e.rooms.Join(ctx, roomID); err != nil {
		return err
	}
	e.coord.SetIdentity(e.rooms.SelfID())
	return nil
}

func (e *Engine) Leave(ctx context.Context) error {
	e.abortSend()
	e.coord.Reset()
	e.setChannel(nil)
	e.receiver.Reset()
	e.clearConnectionState()
	return e.rooms.Leave(ctx)
}

func (e *Engine) SetTarget(peerID string) error {
	if err := e.coord.SetTarget(peerID); err != nil {
		return err
	}
	e.store.Update(func(s *State) { s.Target = peerID })
	return nil
}

func (e *Engine) Call(ctx context.Context) error {
	return e.coord.Call(ctx)
}

func (e *Engine) HangUp() {
	e.abortSend()
	e.coord.HangUp()
	e.setChannel(nil)
	e.receiver.Reset()
	e.clearConnectionState()
}

// SendFile starts streaming the file at path to the connected peer. It
// returns once the transfer is underway; progress lands in the store.
func (e *Engine) SendFile(ctx context.Context, path string) error {
	ch := e.currentChannel()
	if ch == nil {
		if !e.coord.Connected() {
			return ErrNotConnected
		}
		return ErrNoChannel
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if err := e.sender.Reserve(); err != nil {
		f.Close()
		return err
	}

	md := transfer.Metadata{
		Name:        filepath.Base(path),
		Size:        info.Size(),
		Type:        mimeTypeFor(path),
		TotalChunks: transfer.TotalChunks(info.Size()),
		FileID:      uuid.NewString(),
	}
	peerID := e.coord.ConnectedPeer()
	roomID := e.store.Get().RoomID

	sctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.sendCancel = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer f.Close()
		defer cancel()
		err := e.sender.Send(sctx, ch, md, f)
		e.recordHistory(md, history.DirectionSent, peerID, roomID, err)
	}()
	return nil
}

// abortSend cancels any in-flight outbound transfer. Hang-ups, leaves,
// expiry, and disconnects all route through here so a parked send cannot
// outlive the session that carried it.
func (e *Engine) abortSend() {
	e.mu.Lock()
	cancel := e.sendCancel
	e.sendCancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *Engine) Sending() bool { return e.sender.Sending() }

// Close leaves the room if joined and stops the dispatch loop.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.abortSend()
	e.coord.Reset()
	if e.rooms.Joined() {
		if err := e.rooms.Leave(context.Background()); err != nil {
			e.logger.Warnf("Leave on close failed: %v", err)
		}
	}
	close(e.done)
	err := e.signaler.Close()
	e.wg.Wait()
	return err
}

func (e *Engine) dispatchLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case <-e.signaler.Expired():
			e.onExpired()
		case env, ok := <-e.signaler.Envelopes():
			if !ok {
				return
			}
			e.dispatch(env)
		}
	}
}

func (e *Engine) dispatch(env signaling.Envelope) {
	switch env.Kind {
	case signaling.KindOffer, signaling.KindAnswer, signaling.KindCandidate:
		e.dispatchSignal(env)
	case signaling.KindPeerJoined, signaling.KindPeerLeft, signaling.KindRoomState:
		e.rooms.HandleEnvelope(env)
	case signaling.KindConnectedAck:
		e.logger.Debug("Signaling backend acknowledged join")
	case signaling.KindError:
		var p signaling.ErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil && p.Message != "" {
			e.logger.Errorf("Signaling error from backend: %s", p.Message)
		} else {
			e.logger.Error("Signaling error from backend")
		}
	default:
		e.logger.Warnf("Ignoring envelope of unknown kind %q", env.Kind)
	}
}

func (e *Engine) dispatchSignal(env signaling.Envelope) {
	// Addressed envelopes for someone else never reach the coordinator.
	if selfID := e.rooms.SelfID(); env.TargetID != "" && env.TargetID != selfID {
		return
	}
	switch env.Kind {
	case signaling.KindOffer:
		var p signaling.SDPPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			e.logger.Warnf("Malformed offer payload from %s: %v", env.SenderID, err)
			return
		}
		e.coord.HandleOffer(context.Background(), env.SenderID, p.SDP)
	case signaling.KindAnswer:
		var p signaling.SDPPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			e.logger.Warnf("Malformed answer payload from %s: %v", env.SenderID, err)
			return
		}
		e.coord.HandleAnswer(env.SenderID, p.SDP)
	case signaling.KindCandidate:
		var p signaling.CandidatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			e.logger.Warnf("Malformed candidate payload from %s: %v", env.SenderID, err)
			return
		}
		e.coord.HandleCandidate(env.SenderID, peer.CandidateInit{
			Candidate:     p.Candidate,
			SDPMid:        p.SDPMid,
			SDPMLineIndex: p.SDPMLineIndex,
		})
	}
}

func (e *Engine) onExpired() {
	e.abortSend()
	e.coord.Reset()
	e.setChannel(nil)
	e.receiver.Reset()
	e.rooms.Expire()
	e.clearConnectionState()
}

func (e *Engine) onArtifact(a *transfer.Artifact) {
	info := &ArtifactInfo{
		FileID: a.Meta.FileID,
		Name:   a.Meta.Name,
		Size:   a.Meta.Size,
		Path:   a.Path(),
	}
	e.store.Update(func(s *State) { s.Artifact = info })
	e.recordHistory(a.Meta, history.DirectionReceived, e.coord.ConnectedPeer(), e.store.Get().RoomID, nil)
}

func (e *Engine) recordHistory(md transfer.Metadata, dir history.Direction, peerID, roomID string, err error) {
	if e.hist == nil {
		return
	}
	rec := &history.Transfer{
		FileID:    md.FileID,
		Name:      md.Name,
		Size:      md.Size,
		MimeType:  md.Type,
		Direction: dir,
		PeerID:    peerID,
		RoomID:    roomID,
		Succeeded: err == nil,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if recErr := e.hist.Record(rec); recErr != nil {
		e.logger.Warnf("Failed to record transfer history: %v", recErr)
	}
}

func (e *Engine) setChannel(ch peer.Channel) {
	e.mu.Lock()
	e.channel = ch
	e.mu.Unlock()
}

func (e *Engine) currentChannel() peer.Channel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.channel
}

func (e *Engine) clearConnectionState() {
	e.store.Update(func(s *State) {
		s.Target = ""
		s.Connected = false
		s.ConnectedPeer = ""
	})
}

func mimeTypeFor(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}
