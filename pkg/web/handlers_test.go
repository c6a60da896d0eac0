package web

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"

	"github.com/ghzip/github-zip-server/pkg/e"
	"github.com/ghzip/github-zip-server/pkg/s"
	"github.com/ghzip/github-zip-server/pkg/task"
)

// fakeOrigin emulates the GitHub contents API plus raw downloads for a small
// fixed tree. It records the Authorization header of the last request.
type fakeOrigin struct {
	server   *httptest.Server
	listings map[string][]s.PathEntry
	files    map[string]string

	mu       sync.Mutex
	lastAuth string
}

func (o *fakeOrigin) authHeader() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastAuth
}

func newFakeOrigin(t *testing.T) *fakeOrigin {
	t.Helper()
	o := &fakeOrigin{files: map[string]string{
		"README.md":     "# readme",
		"src/a.txt":     "alpha",
		"src/sub/b.txt": "bravo",
	}}

	o.server = httptest.NewServer(http.HandlerFunc(o.handle))
	t.Cleanup(o.server.Close)

	raw := func(p string) string { return o.server.URL + "/raw/" + p }
	o.listings = map[string][]s.PathEntry{
		"": {
			{Path: "README.md", Kind: s.EntryFile, DownloadURL: raw("README.md")},
			{Path: "src", Kind: s.EntryDir},
		},
		"src": {
			{Path: "src/a.txt", Kind: s.EntryFile, DownloadURL: raw("src/a.txt")},
			{Path: "src/sub", Kind: s.EntryDir},
		},
		"src/sub": {
			{Path: "src/sub/b.txt", Kind: s.EntryFile, DownloadURL: raw("src/sub/b.txt")},
		},
	}
	return o
}

func (o *fakeOrigin) handle(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	o.lastAuth = r.Header.Get("Authorization")
	o.mu.Unlock()

	if rest, ok := strings.CutPrefix(r.URL.Path, "/raw/"); ok {
		content, found := o.files[rest]
		if !found {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(content))
		return
	}

	// /repos/{owner}/{repo}/contents/{path}
	idx := strings.Index(r.URL.Path, "/contents")
	if idx < 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	path := strings.TrimPrefix(r.URL.Path[idx+len("/contents"):], "/")

	listing, found := o.listings[path]
	if !found {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
		return
	}
	_ = json.NewEncoder(w).Encode(listing)
}

// fakeBackend is an in-memory storage.Backend for the upload paths.
type fakeBackend struct {
	objects map[string][]byte
	putErr  error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{objects: make(map[string][]byte)}
}

func (f *fakeBackend) Setup() error { return nil }
func (f *fakeBackend) Type() string { return "fake" }

func (f *fakeBackend) Put(key string, data []byte, contentType string, ttl time.Duration) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	f.objects[key] = data
	return "https://storage.example/" + key, nil
}

func (f *fakeBackend) Presign(key string, ttl time.Duration) (string, error) {
	return "https://storage.example/" + key, nil
}

func (f *fakeBackend) Delete(key string) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeBackend) ListOlderThan(prefix string, cutoff time.Time) ([]string, error) {
	return nil, nil
}

func (f *fakeBackend) GetFilePath(key string) (string, error) {
	return "", e.ErrNotImplemented
}

func newTestRouter(t *testing.T, origin *fakeOrigin, handlers *Handlers) *gin.Engine {
	t.Helper()
	if handlers.Tasks == nil {
		handlers.Tasks = task.New(time.Hour)
		t.Cleanup(handlers.Tasks.Stop)
	}
	handlers.Config.APIBaseURL = origin.server.URL
	if handlers.Config.CacheTTL == 0 {
		handlers.Config.CacheTTL = time.Minute
	}
	if handlers.Config.Workers == 0 {
		handlers.Config.Workers = 4
	}
	if handlers.Config.DirConcurrency == 0 {
		handlers.Config.DirConcurrency = 4
	}
	if handlers.Config.QueueSize == 0 {
		handlers.Config.QueueSize = 16
	}
	return GetRouter("", handlers, false)
}

func doRequest(router *gin.Engine, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func zipEntries(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("zip.NewReader() error: %v", err)
	}
	entries := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %q: %v", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %q: %v", f.Name, err)
		}
		entries[f.Name] = string(content)
	}
	return entries
}

func TestDownloadFolderStreamsArchive(t *testing.T) {
	origin := newFakeOrigin(t)
	router := newTestRouter(t, origin, &Handlers{})

	rec := doRequest(router, http.MethodGet, "/api/github/download-folder?owner=o&repo=r&folder_path=src", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/zip" {
		t.Errorf("Content-Type = %q", got)
	}
	disposition := rec.Header().Get("Content-Disposition")
	if !strings.Contains(disposition, "attachment; filename=o_r_src_") {
		t.Errorf("Content-Disposition = %q", disposition)
	}

	want := map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "bravo",
	}
	if diff := cmp.Diff(want, zipEntries(t, rec.Body.Bytes())); diff != "" {
		t.Errorf("archive contents mismatch (-want +got):\n%s", diff)
	}
}

func TestDownloadFolderWholeRepository(t *testing.T) {
	origin := newFakeOrigin(t)
	router := newTestRouter(t, origin, &Handlers{})

	rec := doRequest(router, http.MethodGet, "/api/github/download-folder?owner=o&repo=r", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	entries := zipEntries(t, rec.Body.Bytes())
	var names []string
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	want := []string{"README.md", "src/a.txt", "src/sub/b.txt"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("entry names mismatch (-want +got):\n%s", diff)
	}
}

func TestDownloadFolderMissingParams(t *testing.T) {
	origin := newFakeOrigin(t)
	router := newTestRouter(t, origin, &Handlers{})

	for _, target := range []string{
		"/api/github/download-folder?repo=r",
		"/api/github/download-folder?owner=o",
		"/api/github/download-folder",
	} {
		if rec := doRequest(router, http.MethodGet, target, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", target, rec.Code)
		}
	}
}

func TestDownloadFolderErrorStatusMapping(t *testing.T) {
	tables := []struct {
		name       string
		status     int
		remaining  string
		wantStatus int
	}{
		{"authentication failure", http.StatusUnauthorized, "10", http.StatusUnauthorized},
		{"rate limited", http.StatusForbidden, "0", http.StatusTooManyRequests},
		{"permission denied", http.StatusForbidden, "10", http.StatusForbidden},
		{"path not found", http.StatusNotFound, "10", http.StatusNotFound},
		{"upstream failure", http.StatusInternalServerError, "10", http.StatusInternalServerError},
	}

	for _, table := range tables {
		t.Run(table.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-RateLimit-Remaining", table.remaining)
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
				w.WriteHeader(table.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))
			defer server.Close()

			router := newTestRouter(t, &fakeOrigin{server: server}, &Handlers{})
			rec := doRequest(router, http.MethodGet, "/api/github/download-folder?owner=o&repo=r", nil)
			if rec.Code != table.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, table.wantStatus, rec.Body.String())
			}

			var payload struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil || payload.Error == "" {
				t.Errorf("error body missing: %s", rec.Body.String())
			}
		})
	}
}

func TestBackgroundDownloadLifecycle(t *testing.T) {
	origin := newFakeOrigin(t)
	router := newTestRouter(t, origin, &Handlers{})

	rec := doRequest(router, http.MethodGet, "/api/github/download-folder?owner=o&repo=r&folder_path=src&background=true", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var accepted struct {
		TaskID      string `json:"task_id"`
		StatusURL   string `json:"status_url"`
		DownloadURL string `json:"download_url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &accepted); err != nil {
		t.Fatalf("decode accepted body: %v", err)
	}
	if accepted.TaskID == "" {
		t.Fatal("no task_id in response")
	}
	if accepted.StatusURL != "/api/github/tasks/"+accepted.TaskID {
		t.Errorf("status_url = %q", accepted.StatusURL)
	}

	var info s.TaskInfo
	deadline := time.Now().Add(5 * time.Second)
	for {
		statusRec := doRequest(router, http.MethodGet, accepted.StatusURL, nil)
		if statusRec.Code != http.StatusOK {
			t.Fatalf("status endpoint = %d", statusRec.Code)
		}
		if err := json.Unmarshal(statusRec.Body.Bytes(), &info); err != nil {
			t.Fatalf("decode task info: %v", err)
		}
		if info.Status == s.TaskCompleted || info.Status == s.TaskFailed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task stuck in %q", info.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if info.Status != s.TaskCompleted {
		t.Fatalf("task failed: %s", info.Error)
	}
	if info.Processed != 2 {
		t.Errorf("files_processed = %d, want 2", info.Processed)
	}
	if info.DownloadURL != accepted.DownloadURL {
		t.Errorf("download_url = %q, want %q", info.DownloadURL, accepted.DownloadURL)
	}

	dlRec := doRequest(router, http.MethodGet, accepted.DownloadURL, nil)
	if dlRec.Code != http.StatusOK {
		t.Fatalf("download endpoint = %d, body %s", dlRec.Code, dlRec.Body.String())
	}
	entries := zipEntries(t, dlRec.Body.Bytes())
	if _, ok := entries["a.txt"]; !ok {
		t.Errorf("archive missing a.txt, has %v", entries)
	}
}

func TestTaskEndpointsUnknownID(t *testing.T) {
	origin := newFakeOrigin(t)
	router := newTestRouter(t, origin, &Handlers{})

	if rec := doRequest(router, http.MethodGet, "/api/github/tasks/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("tasks status = %d, want 404", rec.Code)
	}
	if rec := doRequest(router, http.MethodGet, "/api/github/downloads/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("downloads status = %d, want 404", rec.Code)
	}
}

func TestCredentialPrecedence(t *testing.T) {
	origin := newFakeOrigin(t)
	router := newTestRouter(t, origin, &Handlers{Config: Config{DefaultToken: "default-token"}})

	header := http.Header{}
	header.Set("Authorization", "Bearer header-token")
	doRequest(router, http.MethodGet, "/api/github/download-folder?owner=o&repo=r&token=query-token", header)
	if origin.authHeader() != "Bearer header-token" {
		t.Errorf("auth with header = %q, want header token", origin.authHeader())
	}

	doRequest(router, http.MethodGet, "/api/github/download-folder?owner=o&repo=r&token=query-token", nil)
	if origin.authHeader() != "Bearer query-token" {
		t.Errorf("auth with query = %q, want query token", origin.authHeader())
	}

	doRequest(router, http.MethodGet, "/api/github/download-folder?owner=o&repo=r", nil)
	if origin.authHeader() != "Bearer default-token" {
		t.Errorf("auth with default = %q, want default token", origin.authHeader())
	}
}

func TestUploadedArchiveReturnsStorageResult(t *testing.T) {
	origin := newFakeOrigin(t)
	backend := newFakeBackend()
	router := newTestRouter(t, origin, &Handlers{
		Storage: backend,
		Config:  Config{StorageTTLDays: 7},
	})

	rec := doRequest(router, http.MethodGet, "/api/github/download-folder?owner=o&repo=r&folder_path=src", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var payload struct {
		Success bool             `json:"success"`
		Data    s.DownloadResult `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !payload.Success {
		t.Error("success = false")
	}
	if !strings.HasPrefix(payload.Data.DownloadURL, "https://storage.example/github-zips/o/r/") {
		t.Errorf("download_url = %q", payload.Data.DownloadURL)
	}
	if payload.Data.ExpiresInDays != 7 {
		t.Errorf("expires_in_days = %d, want 7", payload.Data.ExpiresInDays)
	}
	if payload.Data.SizeBytes <= 0 {
		t.Errorf("size_bytes = %d", payload.Data.SizeBytes)
	}
	want := s.DownloadSource{Owner: "o", Repo: "r", FolderPath: "src"}
	if diff := cmp.Diff(want, payload.Data.Source); diff != "" {
		t.Errorf("source mismatch (-want +got):\n%s", diff)
	}

	if len(backend.objects) != 1 {
		t.Errorf("stored objects = %d, want 1", len(backend.objects))
	}
	for _, data := range backend.objects {
		if _, ok := zipEntries(t, data)["a.txt"]; !ok {
			t.Error("stored archive missing a.txt")
		}
	}
}

func TestUploadFailureFallsBackToStreaming(t *testing.T) {
	origin := newFakeOrigin(t)
	backend := newFakeBackend()
	backend.putErr = errors.New("bucket on fire")
	router := newTestRouter(t, origin, &Handlers{Storage: backend, Config: Config{StorageTTLDays: 7}})

	rec := doRequest(router, http.MethodGet, "/api/github/download-folder?owner=o&repo=r&folder_path=src", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/zip" {
		t.Errorf("Content-Type = %q, want direct zip stream", got)
	}
	if _, ok := zipEntries(t, rec.Body.Bytes())["a.txt"]; !ok {
		t.Error("streamed archive missing a.txt")
	}
}

func TestArchivePathWithoutStorage(t *testing.T) {
	origin := newFakeOrigin(t)
	router := newTestRouter(t, origin, &Handlers{})

	if rec := doRequest(router, http.MethodGet, "/archive/github-zips/o/r/x.zip", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestServiceEndpoints(t *testing.T) {
	origin := newFakeOrigin(t)
	router := newTestRouter(t, origin, &Handlers{})

	wantStatus := map[string]int{
		"/":        http.StatusOK,
		"/healthz": http.StatusNoContent,
		"/ping":    http.StatusOK,
	}
	for target, want := range wantStatus {
		if rec := doRequest(router, http.MethodGet, target, nil); rec.Code != want {
			t.Errorf("GET %s = %d, want %d", target, rec.Code, want)
		}
	}
}

func TestArchiveFilename(t *testing.T) {
	now := time.Unix(1700000000, 0)

	tables := []struct {
		name       string
		folderPath string
		want       string
	}{
		{"nested folder uses last segment", "src/components", "owner_repo_components_1700000000.zip"},
		{"single segment", "docs", "owner_repo_docs_1700000000.zip"},
		{"empty path falls back to repo", "", "owner_repo_repo_1700000000.zip"},
		{"slashes are trimmed", "/src/", "owner_repo_src_1700000000.zip"},
	}

	for _, table := range tables {
		t.Run(table.name, func(t *testing.T) {
			if got := ArchiveFilename("owner", "repo", table.folderPath, now); got != table.want {
				t.Errorf("ArchiveFilename() = %q, want %q", got, table.want)
			}
		})
	}
}
