package storage

import (
	"arxiv-notifier/pkg/watcher"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// fakeGCS serves the subset of the Cloud Storage JSON and XML APIs that
// the client uses for simple reads and single-request uploads.
type fakeGCS struct {
	mu          sync.Mutex
	objects     map[string][]byte // "bucket/object" -> content
	uploads     int
	failUploads int // uploads answered with 503 before accepting
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/upload/storage/v1/b/"):
		f.handleUpload(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/storage/v1/b/"):
		// JSON API: /storage/v1/b/{bucket}/o/{object}?alt=media
		rest := strings.TrimPrefix(r.URL.Path, "/storage/v1/b/")
		bucket, object, ok := strings.Cut(rest, "/o/")
		if !ok {
			http.NotFound(w, r)
			return
		}
		f.serveObject(w, bucket, object)
	case r.Method == http.MethodGet:
		// XML API: /{bucket}/{object}
		bucket, object, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
		if !ok {
			http.NotFound(w, r)
			return
		}
		f.serveObject(w, bucket, object)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeGCS) serveObject(w http.ResponseWriter, bucket, object string) {
	f.mu.Lock()
	data, ok := f.objects[bucket+"/"+object]
	f.mu.Unlock()
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":404,"message":"No such object"}}`)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Goog-Generation", "1")
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	_, _ = w.Write(data)
}

func (f *fakeGCS) handleUpload(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.uploads++
	fail := f.uploads <= f.failUploads
	f.mu.Unlock()
	if fail {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	bucket, _, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/upload/storage/v1/b/"), "/")

	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mr := multipart.NewReader(r.Body, params["boundary"])

	metaPart, err := mr.NextPart()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var meta struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(metaPart).Decode(&meta); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	dataPart, err := mr.NextPart()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(dataPart)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.objects[bucket+"/"+meta.Name] = data
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"bucket":      bucket,
		"name":        meta.Name,
		"size":        fmt.Sprint(len(data)),
		"generation":  "1",
		"contentType": "application/json",
	})
}

func (f *fakeGCS) object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	return data, ok
}

func newGCSStore(t *testing.T, f *fakeGCS) *Store {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	t.Setenv("STORAGE_EMULATOR_HOST", srv.URL)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewGCS(client, "watch-bucket", "state.json", logger)
}

func TestGCSLoadMissingObject(t *testing.T) {
	f := &fakeGCS{objects: map[string][]byte{}}
	s := newGCSStore(t, f)

	state, err := s.Load(context.Background())
	require.NoError(t, err)
	_, ok := state.CurrentVersion()
	assert.False(t, ok)
}

func TestGCSSaveLoadRoundTrip(t *testing.T) {
	f := &fakeGCS{objects: map[string][]byte{}}
	s := newGCSStore(t, f)
	ctx := context.Background()

	want := &watcher.State{Version: watcher.VersionPtr("date:Friday, 17 October 2025", true)}
	require.NoError(t, s.Save(ctx, want))

	raw, ok := f.object("watch-bucket/state.json")
	require.True(t, ok)
	assert.Equal(t, "{\n  \"version\": \"date:Friday, 17 October 2025\"\n}", string(raw))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestGCSLoadCorruptObject(t *testing.T) {
	f := &fakeGCS{objects: map[string][]byte{"watch-bucket/state.json": []byte(`{"version": `)}}
	s := newGCSStore(t, f)

	_, err := s.Load(context.Background())
	require.Error(t, err)
	assert.True(t, IsFormatError(err))
	assert.Contains(t, err.Error(), "gs://watch-bucket/state.json")
}

func TestGCSSaveRetriesTransientFailure(t *testing.T) {
	f := &fakeGCS{objects: map[string][]byte{}, failUploads: 1}
	s := newGCSStore(t, f)

	require.NoError(t, s.Save(context.Background(), &watcher.State{Version: watcher.VersionPtr("first_id:2510.01234", true)}))

	f.mu.Lock()
	uploads := f.uploads
	f.mu.Unlock()
	assert.GreaterOrEqual(t, uploads, 2)

	raw, ok := f.object("watch-bucket/state.json")
	require.True(t, ok)
	assert.Contains(t, string(raw), "first_id:2510.01234")
}
