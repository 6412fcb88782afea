package recorder

import "time"

// SessionID uniquely identifies a recording session.
type SessionID string

// RecordingState is the lifecycle state of a session's worker.
type RecordingState string

const (
	StateStopped   RecordingState = "stopped"
	StateRecording RecordingState = "recording"
	// StateFailed means the worker exited on its own with an error
	// (connection refused, non-2xx upstream, broken stream, disk failure).
	StateFailed RecordingState = "failed"
)

// SessionView is the JSON representation of a session returned by the API.
type SessionView struct {
	StreamID     SessionID      `json:"stream_id"`
	URL          string         `json:"url"`
	URI          string         `json:"uri"`
	LastAccessed time.Time      `json:"last_accessed"`
	State        RecordingState `json:"state"`
	Error        string         `json:"error,omitempty"`
}

// SessionListView wraps a list of sessions.
type SessionListView struct {
	Streams []SessionView `json:"streams"`
}

// CreateSessionRequest is the body accepted by POST /v1/streams.
type CreateSessionRequest struct {
	URI string `json:"uri"`
}
