package recorder

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrRegistryClosed is returned by Create after Shutdown.
	ErrRegistryClosed = errors.New("session registry is shut down")
)

// shutdownParallelism bounds concurrent worker stops during Shutdown.
const shutdownParallelism = 16

// Registry is the concurrency-safe set of live sessions.
// A session is only ever removed after its worker has fully stopped.
type Registry struct {
	mu     sync.RWMutex
	store  Store
	cfg    WorkerConfig
	log    *slog.Logger
	newID  func() SessionID
	closed bool
}

// NewRegistry constructs a registry backed by an in-memory store.
func NewRegistry(cfg WorkerConfig) *Registry {
	return NewRegistryWithStore(NewInMemoryStore(), cfg)
}

// NewRegistryWithStore constructs a registry that uses the given Store.
func NewRegistryWithStore(store Store, cfg WorkerConfig) *Registry {
	cfg = cfg.withDefaults()
	return &Registry{
		store: store,
		cfg:   cfg,
		log:   cfg.Log,
		newID: func() SessionID { return SessionID(uuid.NewString()) },
	}
}

// Create allocates an id, starts recording sourceURI and registers the session.
func (r *Registry) Create(sourceURI string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	id := r.newID()
	for {
		if _, taken := r.store.GetSession(id); !taken {
			break
		}
		id = r.newID()
	}

	sess := newSession(id, sourceURI, r.cfg)
	sess.StartRecording()
	r.store.SetSession(sess)

	r.log.Info("session created", slog.String("session_id", string(id)), slog.String("url", sourceURI))
	return sess, nil
}

// Get returns the session with the given id.
func (r *Registry) Get(id SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.GetSession(id)
}

// List returns every registered session in no particular order.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.store.ListSessionIDs()
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		if sess, ok := r.store.GetSession(id); ok {
			out = append(out, sess)
		}
	}
	return out
}

// Delete stops the session's worker, waits for it to exit, then removes the
// session. When Delete returns nil no further write can happen under id.
// Of two concurrent Deletes for one id, exactly one succeeds.
func (r *Registry) Delete(id SessionID) (*Session, error) {
	sess, ok := r.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}

	// The registry lock is not held here: stopping waits on the network read.
	sess.StopRecording()

	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.store.GetSession(id); !ok || cur != sess {
		return nil, ErrSessionNotFound
	}
	r.store.DeleteSession(id)

	r.log.Info("session deleted", slog.String("session_id", string(id)))
	return sess, nil
}

// RecordingCount returns the number of sessions whose worker is alive.
func (r *Registry) RecordingCount() int {
	n := 0
	for _, sess := range r.List() {
		if state, _ := sess.State(); state == StateRecording {
			n++
		}
	}
	return n
}

// Shutdown refuses new sessions, stops every worker and empties the registry.
// It returns ctx.Err() if the stops do not finish before ctx is done; the
// remaining stops keep running in the background.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	sessions := r.List()
	r.log.Info("stopping sessions", slog.Int("count", len(sessions)))

	var g errgroup.Group
	g.SetLimit(shutdownParallelism)
	done := make(chan struct{})
	go func() {
		for _, sess := range sessions {
			sess := sess // per-iteration copy (pre-Go 1.22 loop semantics)
			g.Go(func() error {
				sess.StopRecording()
				return nil
			})
		}
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sess := range sessions {
		r.store.DeleteSession(sess.ID)
	}
	return nil
}
