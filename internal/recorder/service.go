package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"radio-recorder/internal/platform/logger"
)

// ErrInvalidSourceURI is returned for a source that is not an absolute http(s) URL.
var ErrInvalidSourceURI = errors.New("source uri must be an absolute http or https url")

// Service applies request-level rules and delegates session lifecycle to the Registry.
type Service struct {
	reg     *Registry
	dataDir string
	log     *slog.Logger
}

// NewService returns a Service over reg whose recordings live in dataDir.
func NewService(reg *Registry, dataDir string, log *slog.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{reg: reg, dataDir: dataDir, log: log}
}

// CreateSession validates sourceURI and starts recording it.
func (s *Service) CreateSession(sourceURI string) (*Session, error) {
	sourceURI = strings.TrimSpace(sourceURI)
	if err := validateSourceURI(sourceURI); err != nil {
		return nil, err
	}
	return s.reg.Create(sourceURI)
}

// GetSession returns the session with the given id.
func (s *Service) GetSession(id SessionID) (*Session, bool) {
	return s.reg.Get(id)
}

// ListSessions returns every registered session.
func (s *Service) ListSessions() []*Session {
	return s.reg.List()
}

// DeleteSession stops and removes a session. With purge, the session's
// recorded files are removed as well; a purge failure is returned alongside
// the already-deleted session.
func (s *Service) DeleteSession(id SessionID, purge bool) (*Session, error) {
	sess, err := s.reg.Delete(id)
	if err != nil {
		return nil, err
	}
	if !purge {
		return sess, nil
	}

	n, err := removeSessionFiles(s.dataDir, id)
	if err != nil {
		return sess, err
	}
	s.log.Info("session files purged", slog.String("session_id", string(id)), slog.Int("files", n))
	return sess, nil
}

// RecordingCount is used by the metrics scrape.
func (s *Service) RecordingCount() int {
	return s.reg.RecordingCount()
}

// Shutdown stops every live worker.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.reg.Shutdown(ctx)
}

func validateSourceURI(raw string) error {
	if raw == "" {
		return ErrInvalidSourceURI
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSourceURI, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidSourceURI
	}
	return nil
}

// removeSessionFiles deletes every file written under id. Ids are uuids, so
// the "<id>_" prefix cannot match another session's files.
func removeSessionFiles(dir string, id SessionID) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, string(id)+"_*"+fileExt))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
		}
		removed++
	}
	return removed, nil
}
