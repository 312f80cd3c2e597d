package objstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestClientPutFileSigned(t *testing.T) {
	var (
		mu   sync.Mutex
		got  *http.Request
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		got, body = r, string(b)
		mu.Unlock()
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{Endpoint: srv.URL, Bucket: "runs", AccessKeyID: "AK", SecretAccessKey: "SK"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	p := filepath.Join(t.TempDir(), "12.snap.zst")
	if err := os.WriteFile(p, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.PutFile(context.Background(), "/worlds/arena 1/12.snap.zst", p); err != nil {
		t.Fatalf("put: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got.Method != http.MethodPut || got.URL.EscapedPath() != "/runs/worlds/arena%201/12.snap.zst" {
		t.Fatalf("request %s %s", got.Method, got.URL.EscapedPath())
	}
	if body != "payload" {
		t.Fatalf("body=%q", body)
	}
	auth := got.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AK/20260304/auto/s3/aws4_request") || !strings.Contains(auth, "Signature=") {
		t.Fatalf("authorization=%q", auth)
	}
	if got.Header.Get("x-amz-date") != "20260304T050607Z" {
		t.Fatalf("date=%q", got.Header.Get("x-amz-date"))
	}
}

func TestClientPutFileError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()
	c, err := NewClient(ClientConfig{Endpoint: srv.URL, Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	if err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(t.TempDir(), "f")
	_ = os.WriteFile(p, []byte("x"), 0o644)
	if err := c.PutFile(context.Background(), "f", p); err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403, got %v", err)
	}
	if _, err := NewClient(ClientConfig{Endpoint: srv.URL}); err == nil {
		t.Fatalf("expected missing credentials error")
	}
}

type fakeUploader struct {
	mu    sync.Mutex
	fails int
	calls map[string]int
}

func (f *fakeUploader) PutFile(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[key]++
	if f.fails > 0 {
		f.fails--
		return errors.New("transient")
	}
	return nil
}

func TestMirrorRetriesAndKeys(t *testing.T) {
	dataDir := t.TempDir()
	up := &fakeUploader{fails: 2}
	m := NewMirror(up, dataDir, MirrorOptions{Prefix: "/prod/", Backoff: time.Millisecond}, nil)

	p := filepath.Join(dataDir, "worlds", "arena_1", "snapshots", "40.snap.zst")
	m.Enqueue(p)
	m.Enqueue(filepath.Join(t.TempDir(), "elsewhere"))
	m.Close()
	m.Close()
	m.Enqueue(p)

	up.mu.Lock()
	defer up.mu.Unlock()
	if n := up.calls["prod/worlds/arena_1/snapshots/40.snap.zst"]; n != 3 {
		t.Fatalf("calls=%v", up.calls)
	}
	st := m.Stats()
	if st.EnqueuedTotal != 2 || st.UploadedTotal != 1 || st.FailedTotal != 1 || st.DroppedTotal != 0 {
		t.Fatalf("stats=%+v", st)
	}
}
