package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/maneesh/cloudspace/internal/models"
	"github.com/maneesh/cloudspace/internal/storage"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testNow = time.Date(2026, 10, 19, 14, 30, 0, 0, time.UTC)

// clock returns a strictly increasing time on every call
func clock() func() time.Time {
	var mu sync.Mutex
	t := testNow
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func ptr(s string) *string { return &s }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T) *storage.SQLStore {
	t.Helper()
	store, err := storage.NewSQLStore(storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

type fixture struct {
	store      *storage.SQLStore
	blobs      *fakeBlobs
	cache      *fakeCache
	workspaces *WorkspaceStore
	folders    *FolderTree
	catalog    *ContentCatalog
}

func newFixture(t *testing.T, policy DeletePolicy) *fixture {
	t.Helper()
	store := newStore(t)
	blobs := newFakeBlobs()
	cache := newFakeCache()
	now := clock()
	logger := discardLogger()

	return &fixture{
		store: store,
		blobs: blobs,
		cache: cache,
		workspaces: NewWorkspaceStore(store, cache, logger, WorkspaceOptions{
			BcryptCost: bcrypt.MinCost,
			Now:        now,
		}),
		folders: NewFolderTree(store, cache, blobs, logger, FolderOptions{
			DeletePolicy: policy,
			Now:          now,
		}),
		catalog: NewContentCatalog(store, blobs, staticNamer("Grocery List"), logger, CatalogOptions{
			MaxUploadBytes: 1024,
			Now:            now,
		}),
	}
}

func (f *fixture) mkdir(t *testing.T, ws string, parent *models.Folder, name string) *models.Folder {
	t.Helper()
	req := CreateFolderRequest{WorkspaceID: ws, Name: name}
	if parent != nil {
		req.ParentFolderID = &parent.ID
	}
	folder, err := f.folders.CreateFolder(context.Background(), req)
	require.NoError(t, err)
	return folder
}

type staticNamer string

func (n staticNamer) NameFor(context.Context, string) string { return string(n) }

type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	metadata  map[string]map[string]string
	putErr    error
	removeErr error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{
		objects:  make(map[string][]byte),
		metadata: make(map[string]map[string]string),
	}
}

func (b *fakeBlobs) PutObject(_ context.Context, key string, data []byte, _ string, metadata map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putErr != nil {
		return b.putErr
	}
	b.objects[key] = data
	b.metadata[key] = metadata
	return nil
}

func (b *fakeBlobs) RemoveObject(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.removeErr != nil {
		return b.removeErr
	}
	delete(b.objects, key)
	return nil
}

func (b *fakeBlobs) PublicURL(key string) string {
	return storage.PublicObjectURL("http://blobs.test", "workspace-files", key)
}

func (b *fakeBlobs) has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok
}

type fakeCache struct {
	mu         sync.Mutex
	folders    map[string]models.Folder
	workspaces map[string]models.Workspace
	err        error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		folders:    make(map[string]models.Folder),
		workspaces: make(map[string]models.Workspace),
	}
}

func (c *fakeCache) GetFolder(_ context.Context, id string) (*models.Folder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if f, ok := c.folders[id]; ok {
		return &f, nil
	}
	return nil, nil
}

func (c *fakeCache) SetFolder(_ context.Context, folder *models.Folder) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.folders[folder.ID] = *folder
	return nil
}

func (c *fakeCache) InvalidateFolder(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.folders, id)
	return c.err
}

func (c *fakeCache) GetWorkspace(_ context.Context, name string) (*models.Workspace, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if ws, ok := c.workspaces[name]; ok {
		return &ws, nil
	}
	return nil, nil
}

// SetWorkspace drops the hash the way the JSON encoding of the real cache does
func (c *fakeCache) SetWorkspace(_ context.Context, ws *models.Workspace) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	public := *ws
	public.PasswordHash = ""
	c.workspaces[ws.Name] = public
	return nil
}

var errUnavailable = errors.New("unavailable")
