package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"radio-recorder/internal/platform/background"
	"radio-recorder/internal/platform/logger"
	"radio-recorder/internal/platform/metrics"
)

// JanitorConfig configures retention of recorded files.
type JanitorConfig struct {
	DataDir  string
	MaxAge   time.Duration // files not modified for longer are removed
	Interval time.Duration
	Now      func() time.Time
	Log      *slog.Logger
	Metrics  *metrics.Metrics
}

// Janitor periodically removes expired recordings from the data directory.
// Files still being appended to keep a fresh modification time and survive.
type Janitor struct {
	cfg    JanitorConfig
	task   *background.Task
	ticker *time.Ticker
}

// NewJanitor returns a stopped Janitor.
func NewJanitor(cfg JanitorConfig) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	j := &Janitor{cfg: cfg}
	j.task = background.New("retention", background.Funcs{
		Setup:    j.setup,
		Step:     j.step,
		Teardown: j.teardown,
	}, cfg.Log)
	return j
}

// Start begins periodic sweeps.
func (j *Janitor) Start() { j.task.Start() }

// Stop ends the sweeps and waits for an in-progress sweep to finish.
func (j *Janitor) Stop() { j.task.Stop() }

func (j *Janitor) setup(ctx context.Context) error {
	j.ticker = time.NewTicker(j.cfg.Interval)
	return nil
}

func (j *Janitor) step(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return background.ErrDone
	case <-j.ticker.C:
	}
	if _, err := j.Sweep(); err != nil {
		j.cfg.Log.Warn("retention sweep failed", slog.String("error", err.Error()))
	}
	return nil
}

func (j *Janitor) teardown() {
	j.ticker.Stop()
}

// Sweep removes recordings older than MaxAge and returns how many it removed.
func (j *Janitor) Sweep() (int, error) {
	entries, err := os.ReadDir(j.cfg.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read data dir: %w", err)
	}

	cutoff := j.cfg.Now().Add(-j.cfg.MaxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.cfg.DataDir, e.Name())); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove %s: %w", e.Name(), err)
		}
		removed++
	}

	if removed > 0 {
		j.cfg.Log.Info("expired recordings removed", slog.Int("files", removed))
		if j.cfg.Metrics != nil {
			j.cfg.Metrics.AddFilesExpired(removed)
		}
	}
	return removed, nil
}
