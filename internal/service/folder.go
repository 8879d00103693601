package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/maneesh/cloudspace/internal/domain"
	"github.com/maneesh/cloudspace/internal/models"
	"github.com/maneesh/cloudspace/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DeletePolicy decides what happens to the contents of a deleted folder
type DeletePolicy string

const (
	// DeleteOrphan removes the folder row only. Children keep pointing at
	// the deleted ID and are no longer reachable from any listing.
	DeleteOrphan DeletePolicy = "orphan"
	// DeleteCascade removes the folder with every descendant folder, text
	// record and file.
	DeleteCascade DeletePolicy = "cascade"
	// DeleteReject refuses to delete a folder that still has children.
	DeleteReject DeletePolicy = "reject"
)

// DeletePolicies lists the accepted policy names
var DeletePolicies = []DeletePolicy{DeleteOrphan, DeleteCascade, DeleteReject}

// ParseDeletePolicy converts a configuration value to a DeletePolicy
func ParseDeletePolicy(s string) (DeletePolicy, error) {
	if s == "" {
		return DeleteOrphan, nil
	}
	p := DeletePolicy(s)
	if !slices.Contains(DeletePolicies, p) {
		return "", fmt.Errorf("unknown folder delete policy %q", s)
	}
	return p, nil
}

// maxBreadcrumbDepth bounds the ancestor walk
const maxBreadcrumbDepth = 256

// CreateFolderRequest is the body of folder/create
type CreateFolderRequest struct {
	WorkspaceID    string  `json:"workspaceId"`
	ParentFolderID *string `json:"parentFolderId"`
	Name           string  `json:"name"`
}

// FolderOptions tunes a FolderTree
type FolderOptions struct {
	DeletePolicy DeletePolicy
	// VerifyParent checks that a new folder's parent exists in the same
	// workspace. Off by default: parents were historically trusted as sent.
	VerifyParent bool
	Now          func() time.Time
}

// FolderTree creates, deletes and walks folders
type FolderTree struct {
	store        *storage.SQLStore
	cache        Cache
	blobs        BlobStore
	logger       *slog.Logger
	policy       DeletePolicy
	verifyParent bool
	now          func() time.Time
}

// NewFolderTree creates a FolderTree. blobs is only used by the cascade policy.
func NewFolderTree(store *storage.SQLStore, cache Cache, blobs BlobStore, logger *slog.Logger, opts FolderOptions) *FolderTree {
	policy := opts.DeletePolicy
	if policy == "" {
		policy = DeleteOrphan
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if cache == nil {
		cache = storage.NopCache{}
	}
	return &FolderTree{
		store:        store,
		cache:        cache,
		blobs:        blobs,
		logger:       logger,
		policy:       policy,
		verifyParent: opts.VerifyParent,
		now:          now,
	}
}

// Policy returns the configured delete policy
func (t *FolderTree) Policy() DeletePolicy {
	return t.policy
}

// CreateFolder creates a folder under req.ParentFolderID, or at root when it
// is nil or empty
func (t *FolderTree) CreateFolder(ctx context.Context, req CreateFolderRequest) (*models.Folder, error) {
	err := validate(&req,
		validation.Field(&req.WorkspaceID, validation.Required.Error("Workspace ID and name required"), idLength),
		validation.Field(&req.ParentFolderID, idLength),
		validation.Field(&req.Name,
			validation.Required.Error("Workspace ID and name required"),
			validation.RuneLength(1, maxNameRunes).Error("Folder name must be at most 255 characters"),
		),
	)
	if err != nil {
		return nil, err
	}

	parentID := normalizeID(req.ParentFolderID)

	ctx, span := tracer.Start(ctx, "folder.create",
		trace.WithAttributes(
			attribute.String("workspace_id", req.WorkspaceID),
			attribute.Bool("root", parentID == nil),
		),
	)
	defer span.End()

	if t.verifyParent && parentID != nil {
		parent, err := t.getFolder(ctx, *parentID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			span.RecordError(err)
			return nil, domain.Internal("Failed to create folder", err)
		}
		// a parent in another workspace is reported as missing
		if err != nil || parent.WorkspaceID != req.WorkspaceID {
			return nil, &domain.NotFoundError{Message: "Parent folder not found"}
		}
	}

	folder := &models.Folder{
		ID:             uuid.New().String(),
		WorkspaceID:    req.WorkspaceID,
		ParentFolderID: parentID,
		Name:           req.Name,
		CreatedAt:      stamp(t.now),
	}

	if err := t.store.CreateFolder(ctx, folder); err != nil {
		span.RecordError(err)
		return nil, domain.Internal("Failed to create folder", err)
	}

	return folder, nil
}

// DeleteFolder deletes a folder according to the configured policy.
// Deleting an unknown folder is not an error.
func (t *FolderTree) DeleteFolder(ctx context.Context, id string) error {
	if id == "" {
		return &domain.ValidationError{Message: "Folder ID required"}
	}

	ctx, span := tracer.Start(ctx, "folder.delete",
		trace.WithAttributes(
			attribute.String("folder_id", id),
			attribute.String("policy", string(t.policy)),
		),
	)
	defer span.End()

	var err error
	switch t.policy {
	case DeleteCascade:
		err = t.deleteCascade(ctx, id)
	case DeleteReject:
		err = t.deleteIfEmpty(ctx, id)
	default:
		_, err = t.store.DeleteFolders(ctx, id)
		t.invalidate(ctx, id)
	}

	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			return conflict
		}
		span.RecordError(err)
		return domain.Internal("Failed to delete folder", err)
	}
	return nil
}

// deleteIfEmpty removes the folder only when nothing in its workspace points
// at it. The folder row and the child ranges stay locked between the count
// and the delete.
func (t *FolderTree) deleteIfEmpty(ctx context.Context, id string) error {
	err := t.store.InTx(ctx, func(ctx context.Context) error {
		folder, err := t.store.LockFolder(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		} else if err != nil {
			return err
		}

		count, err := t.store.CountChildren(ctx, folder.WorkspaceID, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return &domain.ConflictError{Message: "Folder is not empty"}
		}
		_, err = t.store.DeleteFolders(ctx, id)
		return err
	})
	if err == nil {
		t.invalidate(ctx, id)
	}
	return err
}

func (t *FolderTree) deleteCascade(ctx context.Context, id string) error {
	var folderIDs []string
	var files []models.FileRecord

	err := t.store.InTx(ctx, func(ctx context.Context) error {
		folder, err := t.store.LockFolder(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		} else if err != nil {
			return err
		}

		ws := folder.WorkspaceID
		if folderIDs, err = t.descendants(ctx, ws, id); err != nil {
			return err
		}
		if files, err = t.store.ListFilesInFolders(ctx, ws, folderIDs...); err != nil {
			return err
		}
		if _, err = t.store.DeleteFilesInFolders(ctx, ws, folderIDs...); err != nil {
			return err
		}
		if _, err = t.store.DeleteTextsInFolders(ctx, ws, folderIDs...); err != nil {
			return err
		}
		_, err = t.store.DeleteFolders(ctx, folderIDs...)
		return err
	})
	if err != nil {
		return err
	}
	if len(folderIDs) == 0 {
		t.invalidate(ctx, id)
		return nil
	}

	for _, folderID := range folderIDs {
		t.invalidate(ctx, folderID)
	}

	// Metadata is gone already; a blob that fails to delete only leaks storage.
	for _, file := range files {
		if t.blobs == nil {
			break
		}
		if err := t.blobs.RemoveObject(ctx, file.StoragePath); err != nil {
			t.logger.Error("failed to remove blob of deleted folder",
				"folder_id", id,
				"file_id", file.ID,
				"storage_path", file.StoragePath,
				"error", err,
			)
		}
	}

	t.logger.Info("folder deleted with contents",
		"folder_id", id,
		"folders", len(folderIDs),
		"files", len(files),
	)
	return nil
}

// descendants returns id followed by every folder of workspaceID below it,
// breadth first. Folders of other workspaces that name one of these as
// parent are left alone.
func (t *FolderTree) descendants(ctx context.Context, workspaceID, id string) ([]string, error) {
	all := []string{id}
	seen := map[string]bool{id: true}

	for i := 0; i < len(all); i++ {
		children, err := t.store.ListChildFolderIDs(ctx, workspaceID, all[i])
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if !seen[child] {
				seen[child] = true
				all = append(all, child)
			}
		}
	}
	return all, nil
}

// Breadcrumb returns the ancestor chain of folderID, root first, ending with
// the folder itself. An empty ID yields an empty chain. The walk stops
// quietly at the first folder that cannot be loaded, on a parent cycle, or
// after maxBreadcrumbDepth folders.
func (t *FolderTree) Breadcrumb(ctx context.Context, folderID string) []models.Folder {
	crumbs := []models.Folder{}
	if folderID == "" {
		return crumbs
	}

	ctx, span := tracer.Start(ctx, "folder.breadcrumb",
		trace.WithAttributes(attribute.String("folder_id", folderID)),
	)
	defer span.End()

	seen := make(map[string]bool)
	for id := folderID; id != ""; {
		if seen[id] {
			t.logger.Warn("folder parent cycle detected", "folder_id", folderID, "cycle_at", id)
			break
		}
		if len(crumbs) == maxBreadcrumbDepth {
			t.logger.Warn("breadcrumb depth limit reached", "folder_id", folderID)
			break
		}
		seen[id] = true

		folder, err := t.getFolder(ctx, id)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				span.RecordError(err)
				t.logger.Warn("breadcrumb truncated", "folder_id", id, "error", err)
			}
			break
		}

		crumbs = append(crumbs, *folder)
		if folder.ParentFolderID == nil {
			break
		}
		id = *folder.ParentFolderID
	}

	slices.Reverse(crumbs)
	span.SetAttributes(attribute.Int("depth", len(crumbs)))
	return crumbs
}

// getFolder reads a folder through the cache
func (t *FolderTree) getFolder(ctx context.Context, id string) (*models.Folder, error) {
	cached, err := t.cache.GetFolder(ctx, id)
	if err != nil {
		t.logger.Warn("folder cache read failed", "folder_id", id, "error", err)
	} else if cached != nil {
		return cached, nil
	}

	folder, err := t.store.GetFolder(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := t.cache.SetFolder(ctx, folder); err != nil {
		t.logger.Warn("failed to cache folder", "folder_id", id, "error", err)
	}
	return folder, nil
}

func (t *FolderTree) invalidate(ctx context.Context, id string) {
	if err := t.cache.InvalidateFolder(ctx, id); err != nil {
		t.logger.Warn("failed to invalidate folder cache", "folder_id", id, "error", err)
	}
}
