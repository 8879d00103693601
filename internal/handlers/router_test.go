package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maneesh/cloudspace/internal/ratelimit"
	"github.com/maneesh/cloudspace/internal/service"
	"github.com/maneesh/cloudspace/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *memBlobs) PutObject(_ context.Context, key string, data []byte, _ string, _ map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

func (b *memBlobs) RemoveObject(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *memBlobs) PublicURL(key string) string {
	return storage.PublicObjectURL("http://blobs.test", "workspace-files", key)
}

type staticNamer string

func (n staticNamer) NameFor(context.Context, string) string { return string(n) }

type testServer struct {
	handler http.Handler
	store   *storage.SQLStore
}

func newTestServer(t *testing.T, limiter *ratelimit.Limiter) *testServer {
	return newTestServerWithOptions(t, RouterOptions{CORSOrigins: []string{"*"}, Limiter: limiter})
}

func newTestServerWithOptions(t *testing.T, opts RouterOptions) *testServer {
	t.Helper()

	store, err := storage.NewSQLStore(storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	blobs := &memBlobs{objects: make(map[string][]byte)}

	api := NewAPI(
		service.NewWorkspaceStore(store, nil, logger, service.WorkspaceOptions{BcryptCost: bcrypt.MinCost}),
		service.NewFolderTree(store, nil, blobs, logger, service.FolderOptions{}),
		service.NewContentCatalog(store, blobs, staticNamer("Shopping List"), logger, service.CatalogOptions{MaxUploadBytes: 1024}),
		logger,
		4096,
	)

	return &testServer{
		handler: NewRouter(api, opts, logger),
		store:   store,
	}
}

func (s *testServer) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.doFrom(t, "192.0.2.10:4000", "", method, target, body)
}

func (s *testServer) doFrom(t *testing.T, remoteAddr, forwardedFor, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = strings.NewReader(string(data))
	}
	req := httptest.NewRequest(method, target, reader)
	req.RemoteAddr = remoteAddr
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestWorkspaceEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	creds := map[string]string{"name": "Team", "password": "secret"}

	rec := s.do(t, http.MethodPost, "/api/workspace/create", creds)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode[map[string]any](t, rec)
	assert.Equal(t, "Team", created["name"])
	assert.NotEmpty(t, created["id"])
	assert.Len(t, created, 2)

	rec = s.do(t, http.MethodPost, "/api/workspace/create", creds)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Workspace name already exists", decode[errorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/api/workspace/access", creds)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created["id"], decode[map[string]any](t, rec)["id"])

	rec = s.do(t, http.MethodPost, "/api/workspace/access", map[string]string{"name": "Team", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Incorrect password", decode[errorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/api/workspace/access", map[string]string{"name": "Nobody", "password": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/workspace/access", map[string]string{"name": "Team"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Name and password required", decode[errorResponse](t, rec).Error)

	rec = s.do(t, http.MethodGet, "/api/workspace?name=Team", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ws := decode[map[string]any](t, rec)
	assert.Equal(t, created["id"], ws["id"])
	assert.Contains(t, ws, "createdAt")
	assert.NotContains(t, rec.Body.String(), "password")

	rec = s.do(t, http.MethodGet, "/api/workspace?name=Nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Workspace not found", decode[errorResponse](t, rec).Error)

	rec = s.do(t, http.MethodGet, "/api/workspace", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFolderAndContentFlow(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/folder/create", map[string]any{"workspaceId": "ws", "name": "A"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	a := decode[map[string]any](t, rec)
	assert.Nil(t, a["parentFolderId"])

	rec = s.do(t, http.MethodPost, "/api/folder/create", map[string]any{"workspaceId": "ws", "parentFolderId": a["id"], "name": "B"})
	require.Equal(t, http.StatusOK, rec.Code)
	b := decode[map[string]any](t, rec)

	rec = s.do(t, http.MethodPost, "/api/text/create", map[string]any{"workspaceId": "ws", "folderId": b["id"], "content": "eggs"})
	require.Equal(t, http.StatusOK, rec.Code)
	text := decode[map[string]any](t, rec)
	assert.Equal(t, "Shopping List", text["name"])

	rec = s.do(t, http.MethodPost, "/api/file/upload", map[string]any{
		"workspaceId": "ws", "folderId": b["id"], "fileName": "hi.txt", "fileData": "aGk=", "mimeType": "text/plain", "size": 2,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	file := decode[map[string]any](t, rec)
	assert.Contains(t, file["url"], "http://blobs.test/workspace-files/ws/")
	assert.Equal(t, float64(2), file["size"])

	rec = s.do(t, http.MethodGet, "/api/folder/breadcrumb?folderId="+url.QueryEscape(b["id"].(string)), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	crumbs := decode[[]map[string]any](t, rec)
	require.Len(t, crumbs, 2)
	assert.Equal(t, "A", crumbs[0]["name"])
	assert.Equal(t, "B", crumbs[1]["name"])

	rec = s.do(t, http.MethodGet, "/api/folder/breadcrumb", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/workspace/contents?workspaceId=ws", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	root := decode[map[string][]map[string]any](t, rec)
	require.Len(t, root["folders"], 1)
	assert.Equal(t, "A", root["folders"][0]["name"])
	assert.Empty(t, root["textRecords"])
	assert.Empty(t, root["files"])

	rec = s.do(t, http.MethodGet, "/api/workspace/contents?workspaceId=ws&folderId="+b["id"].(string), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	inB := decode[map[string][]map[string]any](t, rec)
	assert.Empty(t, inB["folders"])
	assert.Len(t, inB["textRecords"], 1)
	require.Len(t, inB["files"], 1)
	assert.Equal(t, file["url"], inB["files"][0]["url"])

	rec = s.do(t, http.MethodDelete, "/api/file/delete?id="+file["id"].(string), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = s.do(t, http.MethodDelete, "/api/file/delete?id="+file["id"].(string), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "File not found", decode[errorResponse](t, rec).Error)

	rec = s.do(t, http.MethodDelete, "/api/text/delete?id="+text["id"].(string), nil)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = s.do(t, http.MethodDelete, "/api/folder/delete?id="+a["id"].(string), nil)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = s.do(t, http.MethodDelete, "/api/folder/delete", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Folder ID required", decode[errorResponse](t, rec).Error)
}

func TestUnknownRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/nothing"},
		{http.MethodPost, "/api/workspace"},
		{http.MethodDelete, "/api/workspace/create"},
		{http.MethodGet, "/elsewhere"},
	} {
		rec := s.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", tc.method, tc.path)
		assert.JSONEq(t, `{"error":"Not found"}`, rec.Body.String())
	}
}

func TestPassiveMethods(t *testing.T) {
	s := newTestServer(t, nil)

	for _, method := range []string{http.MethodPut, http.MethodPatch} {
		rec := s.do(t, method, "/api/anything", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"message":"the-CloudSpace API"}`, rec.Body.String())
	}

	rec := s.do(t, http.MethodHead, "/api/workspace", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = s.do(t, http.MethodOptions, "/api/workspace", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, allowMethods, rec.Header().Get("Allow"))
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/workspace/create", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Less(t, rec.Code, 300)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestInvalidBodies(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/folder/create", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", decode[errorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/api/folder/create", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Workspace ID and name required", decode[errorResponse](t, rec).Error)

	big := `{"workspaceId":"ws","fileName":"a","fileData":"` + strings.Repeat("A", 8192) + `"}`
	rec = s.do(t, http.MethodPost, "/api/file/upload", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestInternalErrorsAreMasked(t *testing.T) {
	s := newTestServer(t, nil)
	require.NoError(t, s.store.Close())

	rec := s.do(t, http.MethodGet, "/api/workspace/contents?workspaceId=ws", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to fetch contents", decode[errorResponse](t, rec).Error)
	assert.NotContains(t, rec.Body.String(), "sql")
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.NewLimiter(2, time.Minute)
	defer limiter.Close()
	s := newTestServer(t, limiter)

	creds := map[string]string{"name": "Team", "password": "secret"}
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/workspace/create", creds).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/workspace/access", creds).Code)

	rec := s.do(t, http.MethodPost, "/api/workspace/access", creds)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "Too many attempts, try again later", decode[errorResponse](t, rec).Error)

	// other routes are not limited
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/workspace?name=Team", nil).Code)
}

func TestRateLimit_ForwardedForCannotRotateKey(t *testing.T) {
	limiter := ratelimit.NewLimiter(2, time.Minute)
	defer limiter.Close()
	s := newTestServer(t, limiter)

	creds := map[string]string{"name": "Nobody", "password": "x"}
	throttled := 0
	for i := range 10 {
		rec := s.doFrom(t, "198.51.100.4:5000", fmt.Sprintf("203.0.113.%d", i), http.MethodPost, "/api/workspace/access", creds)
		if rec.Code == http.StatusTooManyRequests {
			throttled++
		}
	}
	assert.Equal(t, 8, throttled)
}

func TestRateLimit_TrustedProxyKeysOnForwardedClient(t *testing.T) {
	limiter := ratelimit.NewLimiter(1, time.Minute)
	defer limiter.Close()
	proxies, err := ratelimit.NewProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	s := newTestServerWithOptions(t, RouterOptions{Limiter: limiter, Proxies: proxies})

	creds := map[string]string{"name": "Nobody", "password": "x"}
	proxy := "10.0.0.2:6000"

	assert.Equal(t, http.StatusNotFound, s.doFrom(t, proxy, "203.0.113.1", http.MethodPost, "/api/workspace/access", creds).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.doFrom(t, proxy, "203.0.113.1", http.MethodPost, "/api/workspace/access", creds).Code)
	// a different client behind the same proxy has its own bucket
	assert.Equal(t, http.StatusNotFound, s.doFrom(t, proxy, "203.0.113.2", http.MethodPost, "/api/workspace/access", creds).Code)
}
