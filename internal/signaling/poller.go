package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultPollInterval = 3 * time.Second

type Config struct {
	BaseURL    string
	Interval   time.Duration
	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// PollClient implements Signaler with the stateless request/poll strategy:
// join, send, poll-since-marker, leave. It tracks the highest sequence
// marker it has processed and only requests newer envelopes.
type PollClient struct {
	baseURL  string
	interval time.Duration
	http     *http.Client
	logger   *logrus.Logger

	mu     sync.Mutex
	joined bool
	roomID string
	selfID string
	since  int64
	stop   chan struct{}

	envelopes chan Envelope
	expired   chan struct{}
}

func NewPollClient(cfg Config) *PollClient {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &PollClient{
		baseURL:   cfg.BaseURL,
		interval:  interval,
		http:      client,
		logger:    logger,
		envelopes: make(chan Envelope, 64),
		expired:   make(chan struct{}, 1),
	}
}

func (p *PollClient) Envelopes() <-chan Envelope { return p.envelopes }

func (p *PollClient) Expired() <-chan struct{} { return p.expired }

func (p *PollClient) Join(ctx context.Context, roomID string) (JoinInfo, error) {
	p.mu.Lock()
	if p.joined {
		info := JoinInfo{SelfID: p.selfID, RoomID: p.roomID}
		p.mu.Unlock()
		return info, nil
	}
	p.mu.Unlock()

	body, _ := json.Marshal(map[string]string{"roomId": roomID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/join", bytes.NewReader(body))
	if err != nil {
		return JoinInfo{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return JoinInfo{}, fmt.Errorf("join request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return JoinInfo{}, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return JoinInfo{}, fmt.Errorf("join rejected: status %d", resp.StatusCode)
	}

	var info JoinInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return JoinInfo{}, fmt.Errorf("decoding join response: %w", err)
	}

	stop := make(chan struct{})
	p.mu.Lock()
	p.joined = true
	p.roomID = info.RoomID
	p.selfID = info.SelfID
	p.since = 0
	p.stop = stop
	p.mu.Unlock()

	go p.pollLoop(info.RoomID, info.SelfID, stop)

	return info, nil
}

func (p *PollClient) Leave(ctx context.Context) error {
	p.mu.Lock()
	if !p.joined {
		p.mu.Unlock()
		return nil
	}
	roomID, selfID := p.roomID, p.selfID
	p.joined = false
	close(p.stop)
	p.stop = nil
	p.mu.Unlock()

	body, _ := json.Marshal(map[string]string{"roomId": roomID, "clientId": selfID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/leave", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("leave request: %w", err)
	}
	_ = resp.Body.Close()
	return nil
}

func (p *PollClient) Send(ctx context.Context, env Envelope) error {
	p.mu.Lock()
	if !p.joined {
		p.mu.Unlock()
		return ErrNotJoined
	}
	env.RoomID = p.roomID
	env.SenderID = p.selfID
	p.mu.Unlock()

	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		p.markExpired()
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send rejected: status %d", resp.StatusCode)
	}
	return nil
}

func (p *PollClient) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.joined {
		p.joined = false
		close(p.stop)
		p.stop = nil
	}
	return nil
}

// pollLoop issues an immediate poll so peer state is current right after
// join, then polls on the fixed interval until stopped.
func (p *PollClient) pollLoop(roomID, selfID string, stop chan struct{}) {
	p.pollOnce(roomID, selfID, stop)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.pollOnce(roomID, selfID, stop)
		}
	}
}

func (p *PollClient) pollOnce(roomID, selfID string, stop chan struct{}) {
	p.mu.Lock()
	since := p.since
	p.mu.Unlock()

	q := url.Values{}
	q.Set("roomId", roomID)
	q.Set("clientId", selfID)
	q.Set("since", strconv.FormatInt(since, 10))

	resp, err := p.http.Get(p.baseURL + "/receive?" + q.Encode())
	if err != nil {
		// A single failed poll is transient; the next cycle retries.
		p.logger.Warnf("Signaling poll failed: %v", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return
	case http.StatusUnauthorized:
		p.logger.Error("Signaling session expired")
		p.markExpired()
		return
	case http.StatusOK:
	default:
		p.logger.Warnf("Signaling poll failed: status %d", resp.StatusCode)
		return
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		p.logger.Warnf("Signaling poll read failed: %v", err)
		return
	}
	var envs []Envelope
	if err := json.Unmarshal(data, &envs); err != nil {
		p.logger.Warnf("Signaling poll decode failed: %v", err)
		return
	}

	// A response that lands after leave must be discarded wholesale.
	p.mu.Lock()
	if !p.joined || p.stop != stop {
		p.mu.Unlock()
		return
	}
	deliverable := envs[:0]
	for _, env := range envs {
		if env.Seq > p.since {
			p.since = env.Seq
		}
		// Self-echo suppression; room-state snapshots are
		// backend-authoritative and pass through.
		if env.SenderID == selfID && env.Kind != KindRoomState {
			continue
		}
		deliverable = append(deliverable, env)
	}
	p.mu.Unlock()

	for _, env := range deliverable {
		select {
		case p.envelopes <- env:
		case <-stop:
			return
		}
	}
}

func (p *PollClient) markExpired() {
	p.mu.Lock()
	if p.joined {
		p.joined = false
		close(p.stop)
		p.stop = nil
	}
	p.mu.Unlock()

	select {
	case p.expired <- struct{}{}:
	default:
	}
}
