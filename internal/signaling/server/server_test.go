package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"webdrop/internal/signaling"
)

func newTestServer(t *testing.T, ttl time.Duration) (*Server, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(nopWriter{})
	srv := New(Config{PresenceTTL: ttl, Logger: logger})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func join(t *testing.T, ts *httptest.Server, roomID string) signaling.JoinInfo {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"roomId": roomID})
	resp, err := http.Post(ts.URL+"/join", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join status %d", resp.StatusCode)
	}
	var info signaling.JoinInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decoding join: %v", err)
	}
	return info
}

func receive(t *testing.T, ts *httptest.Server, roomID, clientID string, since int64) ([]signaling.Envelope, int) {
	t.Helper()
	url := ts.URL + "/receive?roomId=" + roomID + "&clientId=" + clientID
	if since > 0 {
		url += "&since=" + strconv.FormatInt(since, 10)
	}
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode
	}
	var envs []signaling.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&envs); err != nil {
		t.Fatalf("decoding receive: %v", err)
	}
	return envs, resp.StatusCode
}

func TestJoinAssignsIdentityAndReportsPeers(t *testing.T) {
	_, ts := newTestServer(t, 0)

	a := join(t, ts, "demo")
	if a.SelfID == "" {
		t.Fatal("expected a client id")
	}
	if len(a.Peers) != 0 {
		t.Errorf("first joiner should see no peers, got %v", a.Peers)
	}

	b := join(t, ts, "demo")
	if len(b.Peers) != 1 || b.Peers[0] != a.SelfID {
		t.Errorf("second joiner should see [%s], got %v", a.SelfID, b.Peers)
	}
	if b.SelfID == a.SelfID {
		t.Error("client ids must be unique within a room")
	}
}

func TestReceiveDeliversPeerJoinedAndFiltersTargets(t *testing.T) {
	_, ts := newTestServer(t, 0)

	a := join(t, ts, "demo")
	b := join(t, ts, "demo")

	envs, status := receive(t, ts, "demo", a.SelfID, 0)
	if status != http.StatusOK {
		t.Fatalf("receive status %d", status)
	}

	// A sees its own join announcement plus B's, its own room-state and
	// connected-ack, but not the snapshot/ack addressed to B.
	var kinds []signaling.Kind
	for _, env := range envs {
		kinds = append(kinds, env.Kind)
		if env.TargetID != "" && env.TargetID != a.SelfID {
			t.Errorf("envelope targeted at %s leaked to %s", env.TargetID, a.SelfID)
		}
	}
	wantJoins := 0
	for _, k := range kinds {
		if k == signaling.KindPeerJoined {
			wantJoins++
		}
	}
	if wantJoins != 2 {
		t.Errorf("expected 2 peer-joined envelopes, got %d (%v)", wantJoins, kinds)
	}
	_ = b
}

func TestSequenceMarkersIncreaseAndFilter(t *testing.T) {
	_, ts := newTestServer(t, 0)

	a := join(t, ts, "demo")
	b := join(t, ts, "demo")

	envs, _ := receive(t, ts, "demo", b.SelfID, 0)
	if len(envs) == 0 {
		t.Fatal("expected envelopes")
	}
	var last int64
	for _, env := range envs {
		if env.Seq <= last {
			t.Fatalf("sequence markers not increasing: %d after %d", env.Seq, last)
		}
		last = env.Seq
	}

	// Polling with since=last must return nothing new.
	if _, status := receive(t, ts, "demo", b.SelfID, last); status != http.StatusNoContent {
		t.Errorf("expected 204 when caught up, got %d", status)
	}
	_ = a
}

func TestSendRoutesOfferToTarget(t *testing.T) {
	_, ts := newTestServer(t, 0)

	a := join(t, ts, "demo")
	b := join(t, ts, "demo")

	env := signaling.NewSDPEnvelope(signaling.KindOffer, "demo", a.SelfID, b.SelfID, "v=0 fake sdp")
	body, _ := json.Marshal(env)
	resp, err := http.Post(ts.URL+"/send", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send status %d", resp.StatusCode)
	}

	envs, _ := receive(t, ts, "demo", b.SelfID, 0)
	found := false
	for _, got := range envs {
		if got.Kind == signaling.KindOffer {
			found = true
			if got.SenderID != a.SelfID || got.TargetID != b.SelfID {
				t.Errorf("offer misaddressed: sender=%s target=%s", got.SenderID, got.TargetID)
			}
			var sdp signaling.SDPPayload
			if err := json.Unmarshal(got.Payload, &sdp); err != nil || sdp.SDP != "v=0 fake sdp" {
				t.Errorf("offer payload mangled: %s", got.Payload)
			}
		}
	}
	if !found {
		t.Error("offer never delivered to target")
	}

	// The same offer must not be visible to a third party.
	c := join(t, ts, "demo")
	envs, _ = receive(t, ts, "demo", c.SelfID, 0)
	for _, got := range envs {
		if got.Kind == signaling.KindOffer {
			t.Error("targeted offer leaked to non-addressee")
		}
	}
}

func TestSendFromUnknownClientIsUnauthorized(t *testing.T) {
	_, ts := newTestServer(t, 0)
	join(t, ts, "demo")

	env := signaling.NewSDPEnvelope(signaling.KindOffer, "demo", "ghost", "whoever", "sdp")
	body, _ := json.Marshal(env)
	resp, err := http.Post(ts.URL+"/send", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for unknown sender, got %d", resp.StatusCode)
	}
}

func TestLeaveAnnouncesPeerLeft(t *testing.T) {
	_, ts := newTestServer(t, 0)

	a := join(t, ts, "demo")
	b := join(t, ts, "demo")

	body, _ := json.Marshal(map[string]string{"roomId": "demo", "clientId": b.SelfID})
	resp, err := http.Post(ts.URL+"/leave", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	resp.Body.Close()

	envs, _ := receive(t, ts, "demo", a.SelfID, 0)
	found := false
	for _, env := range envs {
		if env.Kind == signaling.KindPeerLeft && env.SenderID == b.SelfID {
			found = true
		}
	}
	if !found {
		t.Error("peer-left never announced")
	}
}

func TestExpiredClientGets401(t *testing.T) {
	srv, ts := newTestServer(t, 50*time.Millisecond)

	a := join(t, ts, "demo")

	// Make the clock jump past the TTL.
	srv.rooms.now = func() time.Time { return time.Now().Add(time.Minute) }

	if _, status := receive(t, ts, "demo", a.SelfID, 0); status != http.StatusUnauthorized {
		t.Errorf("expected 401 after expiry, got %d", status)
	}
}
