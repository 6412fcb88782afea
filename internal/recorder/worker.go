package recorder

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"radio-recorder/internal/platform/background"
	"radio-recorder/internal/platform/logger"
	"radio-recorder/internal/platform/metrics"
)

const (
	// DefaultBitrate (kbit/s) is used when the upstream sends no usable icy-br header.
	DefaultBitrate = 128
	// DefaultSizeFloor is the file size (bytes) past which the next chunk starts a new file.
	DefaultSizeFloor int64 = 128 * 1024
	// MaxBitrate is the largest icy-br value (kbit/s) accepted; larger values fall back to the default.
	MaxBitrate = 2048

	bitrateHeader  = "icy-br"
	fileTimeLayout = "02_01_2006_15_04_05"
	fileExt        = ".mp3"
)

var (
	// ErrConnect is returned when the stream request cannot be sent.
	ErrConnect = errors.New("stream connect failed")

	// ErrUpstreamStatus matches every *StatusError.
	ErrUpstreamStatus = errors.New("stream responded with non-success status")

	// ErrStreamInterrupted is returned when the stream body fails mid-read.
	ErrStreamInterrupted = errors.New("stream interrupted")

	// ErrWrite is returned when a chunk cannot be persisted. It is fatal to the session.
	ErrWrite = errors.New("recording write failed")
)

// StatusError carries the non-2xx status code of the stream response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("stream responded with status %d", e.Code)
}

// Is makes errors.Is(err, ErrUpstreamStatus) true for any StatusError.
func (e *StatusError) Is(target error) bool {
	return target == ErrUpstreamStatus
}

// Rotation triggers, also used as metric labels.
const (
	rotateNone  = ""
	rotateTitle = "title"
	rotateSize  = "size"
)

// WorkerConfig is shared by every worker a registry creates.
type WorkerConfig struct {
	DataDir        string
	Client         *http.Client
	DefaultBitrate int
	SizeFloor      int64
	Now            func() time.Time
	Log            *slog.Logger
	Metrics        *metrics.Metrics // nil disables metric recording
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Client == nil {
		c.Client = NewStreamClient(true, 0)
	}
	if c.DefaultBitrate <= 0 {
		c.DefaultBitrate = DefaultBitrate
	}
	if c.SizeFloor <= 0 {
		c.SizeFloor = DefaultSizeFloor
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Log == nil {
		c.Log = logger.Discard()
	}
	return c
}

// NewStreamClient returns the HTTP client used for stream requests.
// insecure disables TLS certificate verification: many radio endpoints serve
// expired or mismatched certificates and are recorded anyway.
// headerTimeout bounds the wait for response headers only; 0 means no limit.
// The body is never subject to a client timeout.
func NewStreamClient(insecure bool, headerTimeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: insecure} //nolint:gosec // see doc comment
	tr.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: tr}
}

// Worker records one session's stream into rotating files on its own goroutine.
type Worker struct {
	sessionID SessionID
	sourceURI string
	cfg       WorkerConfig
	log       *slog.Logger
	task      *background.Task

	// Owned by the task goroutine.
	resp    *http.Response
	chunk   []byte
	current string
}

func newWorker(id SessionID, sourceURI string, cfg WorkerConfig) *Worker {
	cfg = cfg.withDefaults()
	w := &Worker{
		sessionID: id,
		sourceURI: sourceURI,
		cfg:       cfg,
		log:       cfg.Log.With(slog.String("session_id", string(id))),
	}
	w.task = background.New("recording", background.Funcs{
		Setup:    w.setup,
		Step:     w.step,
		Teardown: w.teardown,
	}, w.log)
	return w
}

// Start begins recording; no-op while already running.
func (w *Worker) Start() { w.task.Start() }

// Stop cancels the in-flight read and blocks until the connection is released.
func (w *Worker) Stop() { w.task.Stop() }

// Running reports whether the worker goroutine is alive.
func (w *Worker) Running() bool { return w.task.Running() }

// Done is closed when the worker exits for any reason.
func (w *Worker) Done() <-chan struct{} { return w.task.Done() }

// Err is the error that ended the worker, nil for a stop or a finished stream.
func (w *Worker) Err() error { return w.task.Err() }

func (w *Worker) setup(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.DataDir, 0o755); err != nil {
		w.recordFailure("write")
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.sourceURI, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	resp, err := w.cfg.Client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			w.recordFailure("connect")
		}
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		w.recordFailure("status")
		return &StatusError{Code: resp.StatusCode}
	}

	bitrate := parseBitrate(resp.Header.Get(bitrateHeader), w.cfg.DefaultBitrate)
	w.resp = resp
	w.chunk = make([]byte, chunkSize(bitrate))
	w.current = w.nextFilePath()

	w.log.Info("recording started",
		slog.String("url", w.sourceURI),
		slog.Int("bitrate", bitrate),
		slog.Int("chunk_size", len(w.chunk)),
		slog.String("file", filepath.Base(w.current)))
	return nil
}

func (w *Worker) step(ctx context.Context) error {
	n, readErr := io.ReadFull(w.resp.Body, w.chunk)
	if ctx.Err() != nil {
		return background.ErrDone
	}

	if n > 0 {
		if err := w.persist(w.chunk[:n]); err != nil {
			w.recordFailure("write")
			return err
		}
	}

	switch {
	case readErr == nil:
		return nil
	case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF):
		w.log.Info("stream ended", slog.String("file", filepath.Base(w.current)))
		return background.ErrDone
	default:
		w.recordFailure("read")
		return fmt.Errorf("%w: %v", ErrStreamInterrupted, readErr)
	}
}

func (w *Worker) teardown() {
	if w.resp != nil {
		w.resp.Body.Close()
		w.resp = nil
	}
	w.log.Info("recording stopped", slog.String("file", filepath.Base(w.current)))
}

// persist decides rotation against the file as it stands, then appends chunk.
func (w *Worker) persist(chunk []byte) error {
	reason, err := w.rotation(chunk)
	if err != nil {
		return err
	}
	if reason != rotateNone {
		prev := w.current
		w.current = w.nextFilePath()
		w.log.Info("rotated output file",
			slog.String("reason", reason),
			slog.String("previous", filepath.Base(prev)),
			slog.String("file", filepath.Base(w.current)))
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.IncRotations(reason)
		}
	}

	if err := appendChunk(w.current, chunk); err != nil {
		return err
	}
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.AddChunkWritten(len(chunk))
	}
	return nil
}

func (w *Worker) rotation(chunk []byte) (string, error) {
	info, hasTitle := InspectChunk(chunk)
	if hasTitle {
		w.log.Debug("track metadata in chunk", slog.String("title", info.Title), slog.String("artist", info.Artist))
	}

	size := int64(-1)
	st, err := os.Stat(w.current)
	switch {
	case err == nil:
		size = st.Size()
	case errors.Is(err, fs.ErrNotExist):
	default:
		return rotateNone, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return decideRotation(hasTitle, size, w.cfg.SizeFloor), nil
}

// nextFilePath names a file from the session id and the current time. Two
// rotations inside the same second get a numeric suffix instead of sharing a file.
func (w *Worker) nextFilePath() string {
	return uniqueFilePath(w.cfg.DataDir, w.sessionID, w.cfg.Now(), w.current)
}

func (w *Worker) recordFailure(kind string) {
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.IncWorkerFailures(kind)
	}
}

// decideRotation is the rotation predicate. size is -1 when the current file
// does not exist yet, in which case the chunk already starts a fresh file.
// A title rotates; otherwise a file larger than floor does.
func decideRotation(hasTitle bool, size, floor int64) string {
	switch {
	case size < 0:
		return rotateNone
	case hasTitle:
		return rotateTitle
	case size > floor:
		return rotateSize
	default:
		return rotateNone
	}
}

// parseBitrate reads an icy-br value such as "128" or "128,128". Values
// outside 1..MaxBitrate are treated as unusable.
func parseBitrate(header string, fallback int) int {
	first, _, _ := strings.Cut(header, ",")
	n, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil || n <= 0 || n > MaxBitrate {
		return fallback
	}
	return n
}

// chunkSize is roughly one second of audio at bitrate kbit/s.
func chunkSize(bitrate int) int {
	return bitrate * 1024
}

// FileName is the base name of an output file started at t.
func FileName(id SessionID, t time.Time) string {
	return fmt.Sprintf("%s_%s%s", id, t.Format(fileTimeLayout), fileExt)
}

func uniqueFilePath(dir string, id SessionID, t time.Time, current string) string {
	base := strings.TrimSuffix(FileName(id, t), fileExt)
	path := filepath.Join(dir, base+fileExt)
	for n := 1; path == current || fileExists(path); n++ {
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, n, fileExt))
	}
	return path
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// appendChunk opens, appends and closes, so a crash loses at most one chunk.
func appendChunk(path string, chunk []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if _, err := f.Write(chunk); err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}
