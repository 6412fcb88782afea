package recorder

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bogem/id3v2"
)

// audio returns n bytes that look like MPEG frame data and never contain a tag magic.
func audio(n int) []byte {
	return bytes.Repeat([]byte{0xFF, 0xFB, 0x90, 0x64}, n/4+1)[:n]
}

func id3Tag(t *testing.T, title string) []byte {
	t.Helper()
	tg := id3v2.NewEmptyTag()
	tg.SetTitle(title)
	tg.SetArtist("Test Artist")
	var buf bytes.Buffer
	if _, err := tg.WriteTo(&buf); err != nil {
		t.Fatalf("build id3 tag: %v", err)
	}
	return buf.Bytes()
}

func id3v1Trailer(title string) []byte {
	b := make([]byte, 128)
	copy(b, "TAG")
	copy(b[3:33], title)
	copy(b[33:63], "Test Artist")
	copy(b[93:97], "2024")
	b[127] = 12
	return b
}

// steppingClock advances one second per call so every rotation gets a new name.
func steppingClock(start time.Time) func() time.Time {
	var n atomic.Int64
	return func() time.Time {
		return start.Add(time.Duration(n.Add(1)-1) * time.Second)
	}
}

// newEndlessStream serves audio until the client goes away.
func newEndlessStream(t *testing.T, bitrate string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bitrate != "" {
			w.Header().Set("icy-br", bitrate)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusOK)
		fl := w.(http.Flusher)
		fl.Flush()

		payload := audio(4096)
		for {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(2 * time.Millisecond):
			}
			if _, err := w.Write(payload); err != nil {
				return
			}
			fl.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newStatusServer answers every request with code.
func newStatusServer(t *testing.T, code int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testWorkerConfig(t *testing.T, dir string) WorkerConfig {
	t.Helper()
	return WorkerConfig{
		DataDir: dir,
		Client:  NewStreamClient(false, 0),
	}
}

type fileSnapshot map[string]int64

func snapshotDir(t *testing.T, dir string) fileSnapshot {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read dir: %v", err)
	}
	snap := fileSnapshot{}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			t.Fatalf("stat %s: %v", e.Name(), err)
		}
		snap[e.Name()] = info.Size()
	}
	return snap
}

func sortedNames(snap fileSnapshot) []string {
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func totalSize(snap fileSnapshot) int64 {
	var n int64
	for _, size := range snap {
		n += size
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.WriteFile(path, audio(size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, dir, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	return b
}
