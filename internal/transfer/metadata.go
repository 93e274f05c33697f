// Package transfer implements chunked file transfer over an ordered,
// reliable data channel. A transfer starts with a JSON control frame
// describing the file; the bytes follow as raw binary chunks.
package transfer

import "encoding/json"

const (
	// ChunkSize is the fixed payload size for binary chunks. The last
	// chunk of a file may be shorter.
	ChunkSize = 16 * 1024

	// HighWaterMark caps the channel's buffered backlog. The sender
	// pauses whenever BufferedAmount exceeds it.
	HighWaterMark = 16 * ChunkSize

	// BackpressureWait is how long a paused sender sleeps before it
	// rechecks the buffered amount.
	BackpressureWait = 50 // milliseconds

	controlTypeMetadata = "file_metadata"
)

// Metadata describes an incoming or outgoing file.
type Metadata struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	Type        string `json:"type"`
	TotalChunks int    `json:"totalChunks"`
	FileID      string `json:"fileId"`
}

type controlFrame struct {
	Type    string   `json:"type"`
	Payload Metadata `json:"payload"`
}

// EncodeMetadata renders the control frame announcing a file.
func EncodeMetadata(md Metadata) (string, error) {
	raw, err := json.Marshal(controlFrame{Type: controlTypeMetadata, Payload: md})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeMetadata parses a text frame. ok is false when the frame is not a
// metadata announcement.
func DecodeMetadata(text string) (Metadata, bool) {
	var frame controlFrame
	if err := json.Unmarshal([]byte(text), &frame); err != nil {
		return Metadata{}, false
	}
	if frame.Type != controlTypeMetadata {
		return Metadata{}, false
	}
	return frame.Payload, true
}

// TotalChunks computes the chunk count for a file of the given size.
// A zero-byte file has zero chunks.
func TotalChunks(size int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + ChunkSize - 1) / ChunkSize)
}
