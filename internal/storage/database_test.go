package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maneesh/cloudspace/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := NewSQLStore(DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

var base = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return base.Add(time.Duration(minutes) * time.Minute) }

func ptr(s string) *string { return &s }

func TestNewSQLStore_UnsupportedDriver(t *testing.T) {
	_, err := NewSQLStore("postgres", "")
	require.Error(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Migrate(context.Background()))
}

func TestWorkspace_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ws := &models.Workspace{ID: "ws-1", Name: "Team", PasswordHash: "hash", CreatedAt: at(0)}
	require.NoError(t, store.CreateWorkspace(ctx, ws))

	got, err := store.GetWorkspaceByName(ctx, "Team")
	require.NoError(t, err)
	assert.Equal(t, "ws-1", got.ID)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.True(t, got.CreatedAt.Equal(at(0)))

	_, err = store.GetWorkspaceByName(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWorkspace_DuplicateNameIsCaseSensitive(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateWorkspace(ctx, &models.Workspace{ID: "a", Name: "Team", PasswordHash: "h", CreatedAt: at(0)}))

	err := store.CreateWorkspace(ctx, &models.Workspace{ID: "b", Name: "Team", PasswordHash: "h", CreatedAt: at(1)})
	assert.ErrorIs(t, err, ErrDuplicate)

	require.NoError(t, store.CreateWorkspace(ctx, &models.Workspace{ID: "c", Name: "team", PasswordHash: "h", CreatedAt: at(2)}))
}

func TestListFolders_ExactParentMatch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateFolder(ctx, &models.Folder{ID: "f1", WorkspaceID: "ws", Name: "one", CreatedAt: at(0)}))
	require.NoError(t, store.CreateFolder(ctx, &models.Folder{ID: "f2", WorkspaceID: "ws", ParentFolderID: ptr("f1"), Name: "two", CreatedAt: at(1)}))
	require.NoError(t, store.CreateFolder(ctx, &models.Folder{ID: "f3", WorkspaceID: "ws", Name: "three", CreatedAt: at(2)}))
	require.NoError(t, store.CreateFolder(ctx, &models.Folder{ID: "other", WorkspaceID: "ws-2", Name: "elsewhere", CreatedAt: at(3)}))

	root, err := store.ListFolders(ctx, "ws", nil)
	require.NoError(t, err)
	require.Len(t, root, 2)
	assert.Equal(t, "f3", root[0].ID, "newest first")
	assert.Equal(t, "f1", root[1].ID)
	assert.Nil(t, root[0].ParentFolderID)

	children, err := store.ListFolders(ctx, "ws", ptr("f1"))
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "f2", children[0].ID)
	require.NotNil(t, children[0].ParentFolderID)
	assert.Equal(t, "f1", *children[0].ParentFolderID)

	none, err := store.ListFolders(ctx, "ws", ptr("f2"))
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestGetFolder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateFolder(ctx, &models.Folder{ID: "f1", WorkspaceID: "ws", Name: "one", CreatedAt: at(0)}))

	got, err := store.GetFolder(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "one", got.Name)

	_, err = store.GetFolder(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTextsAndFiles_ScopedByFolder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateText(ctx, &models.TextRecord{ID: "t1", WorkspaceID: "ws", Name: "root note", Content: "a", CreatedAt: at(0)}))
	require.NoError(t, store.CreateText(ctx, &models.TextRecord{ID: "t2", WorkspaceID: "ws", FolderID: ptr("f1"), Name: "inner note", Content: "b", CreatedAt: at(1)}))
	require.NoError(t, store.CreateFile(ctx, &models.FileRecord{
		ID: "file1", WorkspaceID: "ws", FolderID: ptr("f1"), Name: "a.txt",
		StoragePath: "ws/u_a.txt", Size: 3, MimeType: "text/plain", Checksum: "abc", CreatedAt: at(2),
	}))

	rootTexts, err := store.ListTexts(ctx, "ws", nil)
	require.NoError(t, err)
	require.Len(t, rootTexts, 1)
	assert.Equal(t, "t1", rootTexts[0].ID)

	innerTexts, err := store.ListTexts(ctx, "ws", ptr("f1"))
	require.NoError(t, err)
	require.Len(t, innerTexts, 1)
	assert.Equal(t, "t2", innerTexts[0].ID)

	rootFiles, err := store.ListFiles(ctx, "ws", nil)
	require.NoError(t, err)
	assert.Empty(t, rootFiles)

	innerFiles, err := store.ListFiles(ctx, "ws", ptr("f1"))
	require.NoError(t, err)
	require.Len(t, innerFiles, 1)
	assert.Equal(t, "ws/u_a.txt", innerFiles[0].StoragePath)
	assert.Equal(t, int64(3), innerFiles[0].Size)
	assert.Equal(t, "abc", innerFiles[0].Checksum)

	got, err := store.GetFile(ctx, "file1")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", got.MimeType)

	_, err = store.GetFile(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCountChildrenAndBulkDeletes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateFolder(ctx, &models.Folder{ID: "f1", WorkspaceID: "ws", Name: "one", CreatedAt: at(0)}))
	require.NoError(t, store.CreateFolder(ctx, &models.Folder{ID: "f2", WorkspaceID: "ws", ParentFolderID: ptr("f1"), Name: "two", CreatedAt: at(1)}))
	require.NoError(t, store.CreateText(ctx, &models.TextRecord{ID: "t1", WorkspaceID: "ws", FolderID: ptr("f1"), Name: "n", Content: "c", CreatedAt: at(2)}))
	require.NoError(t, store.CreateFile(ctx, &models.FileRecord{ID: "x", WorkspaceID: "ws", FolderID: ptr("f2"), Name: "x", StoragePath: "ws/x", CreatedAt: at(3)}))

	count, err := store.CountChildren(ctx, "ws", "f1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	ids, err := store.ListChildFolderIDs(ctx, "ws", "f1")
	require.NoError(t, err)
	assert.Equal(t, []string{"f2"}, ids)

	files, err := store.ListFilesInFolders(ctx, "ws", "f1", "f2")
	require.NoError(t, err)
	require.Len(t, files, 1)

	n, err := store.DeleteFilesInFolders(ctx, "ws", "f1", "f2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.DeleteTextsInFolders(ctx, "ws", "f1", "f2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.DeleteFolders(ctx, "f1", "f2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.DeleteFolders(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestChildQueries_ScopedToWorkspace(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateFolder(ctx, &models.Folder{ID: "a", WorkspaceID: "ws-a", Name: "mine", CreatedAt: at(0)}))
	// another workspace hangs its rows under ws-a's folder
	require.NoError(t, store.CreateFolder(ctx, &models.Folder{ID: "b", WorkspaceID: "ws-b", ParentFolderID: ptr("a"), Name: "theirs", CreatedAt: at(1)}))
	require.NoError(t, store.CreateText(ctx, &models.TextRecord{ID: "t", WorkspaceID: "ws-b", FolderID: ptr("a"), Name: "n", Content: "c", CreatedAt: at(2)}))
	require.NoError(t, store.CreateFile(ctx, &models.FileRecord{ID: "x", WorkspaceID: "ws-b", FolderID: ptr("a"), Name: "x", StoragePath: "ws-b/x", CreatedAt: at(3)}))

	count, err := store.CountChildren(ctx, "ws-a", "a")
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = store.CountChildren(ctx, "ws-b", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	ids, err := store.ListChildFolderIDs(ctx, "ws-a", "a")
	require.NoError(t, err)
	assert.Empty(t, ids)

	files, err := store.ListFilesInFolders(ctx, "ws-a", "a")
	require.NoError(t, err)
	assert.Empty(t, files)

	n, err := store.DeleteFilesInFolders(ctx, "ws-a", "a")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = store.DeleteTextsInFolders(ctx, "ws-a", "a")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = store.GetFile(ctx, "x")
	assert.NoError(t, err)
}

func TestLockFolder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateFolder(ctx, &models.Folder{ID: "f1", WorkspaceID: "ws", Name: "one", CreatedAt: at(0)}))

	err := store.InTx(ctx, func(ctx context.Context) error {
		folder, err := store.LockFolder(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, "ws", folder.WorkspaceID)

		_, err = store.LockFolder(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateFolder(ctx, &models.Folder{ID: "f1", WorkspaceID: "ws", Name: "one", CreatedAt: at(0)}))

	boom := errors.New("boom")
	err := store.InTx(ctx, func(ctx context.Context) error {
		if _, err := store.DeleteFolders(ctx, "f1"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetFolder(ctx, "f1")
	assert.NoError(t, err, "delete should have been rolled back")

	err = store.InTx(ctx, func(ctx context.Context) error {
		_, err := store.DeleteFolders(ctx, "f1")
		return err
	})
	require.NoError(t, err)

	_, err = store.GetFolder(ctx, "f1")
	assert.ErrorIs(t, err, ErrNotFound)
}
