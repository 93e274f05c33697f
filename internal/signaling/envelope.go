// Package signaling defines the envelope exchanged with the signaling
// backend and the polling client that delivers it.
package signaling

import "encoding/json"

type Kind string

const (
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindCandidate    Kind = "candidate"
	KindPeerJoined   Kind = "peer-joined"
	KindPeerLeft     Kind = "peer-left"
	KindRoomState    Kind = "room-state"
	KindConnectedAck Kind = "connected-ack"
	KindError        Kind = "error"
)

// Envelope is the unit exchanged through the signaling backend. SenderID is
// empty for backend-originated control messages; TargetID is set for
// offer/answer/candidate. Seq is assigned by the backend and is
// monotonically non-decreasing within a room.
type Envelope struct {
	Kind     Kind            `json:"kind"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	SenderID string          `json:"senderId,omitempty"`
	TargetID string          `json:"targetId,omitempty"`
	Seq      int64           `json:"seq"`
	RoomID   string          `json:"roomId"`
}

type SDPPayload struct {
	SDP string `json:"sdp"`
}

type CandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

type PresencePayload struct {
	PeerID string `json:"peerId"`
}

type RoomStatePayload struct {
	Peers []string `json:"peers"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// NewSDPEnvelope builds an offer or answer envelope addressed to a peer.
func NewSDPEnvelope(kind Kind, roomID, senderID, targetID, sdp string) Envelope {
	return Envelope{
		Kind:     kind,
		Payload:  mustMarshal(SDPPayload{SDP: sdp}),
		SenderID: senderID,
		TargetID: targetID,
		RoomID:   roomID,
	}
}

func NewCandidateEnvelope(roomID, senderID, targetID string, c CandidatePayload) Envelope {
	return Envelope{
		Kind:     KindCandidate,
		Payload:  mustMarshal(c),
		SenderID: senderID,
		TargetID: targetID,
		RoomID:   roomID,
	}
}
