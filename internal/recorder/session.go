package recorder

import (
	"sync"
	"time"
)

// Session is one independent recording of a network audio source.
// ID, SourceURI and LastAccessed are immutable after creation.
type Session struct {
	ID           SessionID
	SourceURI    string
	LastAccessed time.Time

	cfg WorkerConfig

	// lifecycle serialises StartRecording and StopRecording.
	lifecycle sync.Mutex

	mu      sync.Mutex
	worker  *Worker // non-nil iff its goroutine is alive
	lastErr error
}

func newSession(id SessionID, sourceURI string, cfg WorkerConfig) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		ID:           id,
		SourceURI:    sourceURI,
		LastAccessed: cfg.Now().UTC(),
		cfg:          cfg,
	}
}

// StartRecording spawns a worker. It is a no-op while one is alive.
func (s *Session) StartRecording() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.worker != nil {
		s.mu.Unlock()
		return
	}
	w := newWorker(s.ID, s.SourceURI, s.cfg)
	s.worker = w
	s.lastErr = nil
	s.mu.Unlock()

	w.Start()
	go s.reap(w)
}

// StopRecording stops the worker and waits for it to exit. It is a no-op
// when nothing is recording.
func (s *Session) StopRecording() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	w := s.worker
	s.mu.Unlock()
	if w == nil {
		return
	}

	w.Stop()
	s.release(w)
}

// State reports the recording state and, for StateFailed, the cause.
func (s *Session) State() (RecordingState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.worker != nil:
		return StateRecording, nil
	case s.lastErr != nil:
		return StateFailed, s.lastErr
	default:
		return StateStopped, nil
	}
}

// reap clears the worker handle when the worker exits on its own.
func (s *Session) reap(w *Worker) {
	<-w.Done()
	s.release(w)
}

func (s *Session) release(w *Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.worker != w {
		return
	}
	s.worker = nil
	s.lastErr = w.Err()
}

// View renders the session for the API; accessURI is the absolute URL of
// the session resource.
func (s *Session) View(accessURI string) SessionView {
	state, err := s.State()
	v := SessionView{
		StreamID:     s.ID,
		URL:          s.SourceURI,
		URI:          accessURI,
		LastAccessed: s.LastAccessed,
		State:        state,
	}
	if err != nil {
		v.Error = err.Error()
	}
	return v
}
