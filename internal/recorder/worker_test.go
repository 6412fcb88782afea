package recorder

import (
	"bytes"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"
)

var clockStart = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func TestDecideRotation(t *testing.T) {
	const floor = DefaultSizeFloor
	tests := []struct {
		name     string
		hasTitle bool
		size     int64
		want     string
	}{
		{"no_file_no_title", false, -1, rotateNone},
		{"below_floor_no_title", false, 64 * 1024, rotateNone},
		{"at_floor_no_title", false, floor, rotateNone},
		{"above_floor_no_title", false, floor + 1, rotateSize},
		{"above_floor_with_title", true, 512 * 1024, rotateTitle},
		{"small_file_with_title", true, 10, rotateTitle},
		{"no_file_with_title", true, -1, rotateNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decideRotation(tt.hasTitle, tt.size, floor); got != tt.want {
				t.Errorf("got %q want %q", got, tt.want)
			}
		})
	}
}

func TestParseBitrate(t *testing.T) {
	tests := []struct {
		header string
		want   int
	}{
		{"", DefaultBitrate},
		{"not-a-number", DefaultBitrate},
		{"0", DefaultBitrate},
		{"-64", DefaultBitrate},
		{"192", 192},
		{" 96 ", 96},
		{"128,128", 128},
		{"2048", MaxBitrate},
		{"2049", DefaultBitrate},
		{"100000000", DefaultBitrate},
		{"9223372036854775807", DefaultBitrate},
		{"99999999999999999999999", DefaultBitrate},
	}
	for _, tt := range tests {
		if got := parseBitrate(tt.header, DefaultBitrate); got != tt.want {
			t.Errorf("parseBitrate(%q) = %d, want %d", tt.header, got, tt.want)
		}
	}
	if got := chunkSize(parseBitrate("not-a-number", DefaultBitrate)); got != 128*1024 {
		t.Errorf("default chunk size: got %d", got)
	}
}

func TestFileName_format(t *testing.T) {
	got := FileName("abc", time.Date(2024, 3, 7, 9, 5, 1, 0, time.UTC))
	if got != "abc_07_03_2024_09_05_01.mp3" {
		t.Errorf("got %q", got)
	}
}

func TestUniqueFilePath_same_second(t *testing.T) {
	dir := t.TempDir()
	first := uniqueFilePath(dir, "s1", clockStart, "")
	if filepath.Base(first) != "s1_16_10_2026_12_00_00.mp3" {
		t.Fatalf("first: got %q", first)
	}

	second := uniqueFilePath(dir, "s1", clockStart, first)
	if filepath.Base(second) != "s1_16_10_2026_12_00_00_1.mp3" {
		t.Errorf("same second as current: got %q", second)
	}

	writeFile(t, second, 10)
	third := uniqueFilePath(dir, "s1", clockStart, first)
	if filepath.Base(third) != "s1_16_10_2026_12_00_00_2.mp3" {
		t.Errorf("existing file must not be reused: got %q", third)
	}
}

func newPersistWorker(t *testing.T, current string) (*Worker, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := testWorkerConfig(t, dir)
	cfg.Now = steppingClock(clockStart.Add(time.Hour))
	w := newWorker("s1", "http://unused.invalid/", cfg)
	w.current = filepath.Join(dir, current)
	return w, dir
}

func TestWorker_persist_first_tagged_chunk_keeps_base_name(t *testing.T) {
	dir := t.TempDir()
	cfg := testWorkerConfig(t, dir)
	cfg.Now = func() time.Time { return clockStart }
	w := newWorker("s1", "http://unused.invalid/", cfg)
	w.current = w.nextFilePath()

	chunk := append(id3Tag(t, "Song A"), audio(1024)...)
	if err := w.persist(chunk); err != nil {
		t.Fatalf("persist: %v", err)
	}

	snap := snapshotDir(t, dir)
	if len(snap) != 1 || snap["s1_16_10_2026_12_00_00.mp3"] != int64(len(chunk)) {
		t.Errorf("first file should carry the plain name, got %v", snap)
	}
}

func TestWorker_persist_below_floor_appends(t *testing.T) {
	w, dir := newPersistWorker(t, "s1_current.mp3")
	writeFile(t, w.current, 1024)

	if err := w.persist(audio(2048)); err != nil {
		t.Fatalf("persist: %v", err)
	}

	snap := snapshotDir(t, dir)
	if len(snap) != 1 || snap["s1_current.mp3"] != 3072 {
		t.Errorf("expected chunk appended to the same file, got %v", snap)
	}
}

func TestWorker_persist_above_floor_rotates(t *testing.T) {
	w, dir := newPersistWorker(t, "s1_current.mp3")
	writeFile(t, w.current, 200*1024)

	chunk := audio(2048)
	if err := w.persist(chunk); err != nil {
		t.Fatalf("persist: %v", err)
	}

	snap := snapshotDir(t, dir)
	if len(snap) != 2 {
		t.Fatalf("expected a new file, got %v", snap)
	}
	if snap["s1_current.mp3"] != 200*1024 {
		t.Errorf("old file must not grow, got %d", snap["s1_current.mp3"])
	}
	if snap["s1_16_10_2026_13_00_00.mp3"] != int64(len(chunk)) {
		t.Errorf("new file should hold exactly the chunk, got %v", snap)
	}
}

func TestWorker_persist_title_rotates_small_file(t *testing.T) {
	w, dir := newPersistWorker(t, "s1_current.mp3")
	writeFile(t, w.current, 4096)

	chunk := append(id3Tag(t, "Song A"), audio(1024)...)
	if err := w.persist(chunk); err != nil {
		t.Fatalf("persist: %v", err)
	}

	snap := snapshotDir(t, dir)
	if snap["s1_current.mp3"] != 4096 {
		t.Errorf("old file must not grow, got %v", snap)
	}
	got := readFile(t, dir, "s1_16_10_2026_13_00_00.mp3")
	if !bytes.Equal(got, chunk) {
		t.Errorf("new file should start with the tagged chunk (len %d)", len(got))
	}
}

// Three logical chunks: 200 KiB of audio, a tagged "Track 2" chunk, 50 KiB of
// audio. At 200 kbit/s the first read is exactly chunk (a); the remainder
// arrives as one short final read that starts with the tag.
func TestWorker_records_and_rotates_on_track_change(t *testing.T) {
	a := audio(200 * 1024)
	b := append(id3Tag(t, "Track 2"), audio(1024)...)
	c := audio(50 * 1024)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("icy-br", "200")
		w.WriteHeader(http.StatusOK)
		fl := w.(http.Flusher)
		for _, part := range [][]byte{a, b, c} {
			w.Write(part)
			fl.Flush()
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := testWorkerConfig(t, dir)
	cfg.Now = steppingClock(clockStart)
	w := newWorker("s1", srv.URL, cfg)
	w.Start()

	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		w.Stop()
		t.Fatal("worker did not finish at end of stream")
	}
	if err := w.Err(); err != nil {
		t.Fatalf("end of stream should not be an error: %v", err)
	}

	snap := snapshotDir(t, dir)
	names := sortedNames(snap)
	if len(names) != 2 {
		t.Fatalf("expected exactly two files, got %v", snap)
	}
	if names[0] != "s1_16_10_2026_12_00_00.mp3" || names[1] != "s1_16_10_2026_12_00_01.mp3" {
		t.Errorf("unexpected names %v", names)
	}
	if snap[names[0]] != int64(len(a)) || snap[names[0]] < DefaultSizeFloor {
		t.Errorf("first file: got %d bytes", snap[names[0]])
	}
	second := readFile(t, dir, names[1])
	if len(second) != len(b)+len(c) || !bytes.HasPrefix(second, b) || !bytes.HasSuffix(second, c) {
		t.Errorf("second file should hold the tagged chunk then chunk (c), got %d bytes", len(second))
	}
}

func TestWorker_invalid_bitrate_uses_default_chunk(t *testing.T) {
	srv := newEndlessStream(t, "not-a-number")
	dir := t.TempDir()
	w := newWorker("s1", srv.URL, testWorkerConfig(t, dir))
	w.Start()
	t.Cleanup(w.Stop)

	waitFor(t, "first chunk", func() bool { return totalSize(snapshotDir(t, dir)) > 0 })
	w.Stop()

	total := totalSize(snapshotDir(t, dir))
	if total%(128*1024) != 0 {
		t.Errorf("every write should be a full 128 KiB chunk, total %d", total)
	}
	if err := w.Err(); err != nil {
		t.Errorf("stop should not be an error: %v", err)
	}
}

func TestWorker_oversized_bitrate_uses_default_chunk(t *testing.T) {
	srv := newEndlessStream(t, "9223372036854775807")
	dir := t.TempDir()
	w := newWorker("s1", srv.URL, testWorkerConfig(t, dir))
	w.Start()
	t.Cleanup(w.Stop)

	waitFor(t, "first chunk", func() bool { return totalSize(snapshotDir(t, dir)) > 0 })
	w.Stop()

	if total := totalSize(snapshotDir(t, dir)); total%(128*1024) != 0 {
		t.Errorf("every write should be a full 128 KiB chunk, total %d", total)
	}
	if err := w.Err(); err != nil {
		t.Errorf("stop should not be an error: %v", err)
	}
}

func TestWorker_non_success_status(t *testing.T) {
	srv := newStatusServer(t, http.StatusServiceUnavailable)
	dir := t.TempDir()
	w := newWorker("s1", srv.URL, testWorkerConfig(t, dir))
	w.Start()
	<-w.Done()

	var se *StatusError
	if !errors.As(w.Err(), &se) || se.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected StatusError 503, got %v", w.Err())
	}
	if !errors.Is(w.Err(), ErrUpstreamStatus) {
		t.Error("StatusError should match ErrUpstreamStatus")
	}
	if snap := snapshotDir(t, dir); len(snap) != 0 {
		t.Errorf("no file should be created, got %v", snap)
	}
	w.Stop()
}

func TestWorker_connection_refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	dir := t.TempDir()
	w := newWorker("s1", "http://"+addr+"/stream", testWorkerConfig(t, dir))
	w.Start()
	<-w.Done()

	if !errors.Is(w.Err(), ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", w.Err())
	}
	if snap := snapshotDir(t, dir); len(snap) != 0 {
		t.Errorf("no file should be created, got %v", snap)
	}
}

func TestWorker_data_dir_unusable(t *testing.T) {
	srv := newEndlessStream(t, "8")
	notADir := filepath.Join(t.TempDir(), "file")
	writeFile(t, notADir, 1)

	w := newWorker("s1", srv.URL, testWorkerConfig(t, notADir))
	w.Start()
	<-w.Done()

	if !errors.Is(w.Err(), ErrWrite) {
		t.Fatalf("expected ErrWrite, got %v", w.Err())
	}
}

func TestWorker_Stop_interrupts_stalled_stream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	dir := t.TempDir()
	w := newWorker("s1", srv.URL, testWorkerConfig(t, dir))
	w.Start()
	time.Sleep(100 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while the peer was stalled")
	}
	if w.Running() {
		t.Error("worker still running after Stop")
	}
	if snap := snapshotDir(t, dir); len(snap) != 0 {
		t.Errorf("nothing should be written, got %v", snap)
	}
}
