package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/maneesh/cloudspace/internal/domain"
	"github.com/maneesh/cloudspace/internal/models"
	"github.com/maneesh/cloudspace/internal/payload"
	"github.com/maneesh/cloudspace/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// CreateTextRequest is the body of text/create
type CreateTextRequest struct {
	WorkspaceID string  `json:"workspaceId"`
	FolderID    *string `json:"folderId"`
	Content     string  `json:"content"`
}

// UploadFileRequest is the body of file/upload. FileData is base64.
type UploadFileRequest struct {
	WorkspaceID string  `json:"workspaceId"`
	FolderID    *string `json:"folderId"`
	FileName    string  `json:"fileName"`
	FileData    string  `json:"fileData"`
	MimeType    string  `json:"mimeType"`
	// Size is accepted for compatibility; the decoded length is what gets stored.
	Size int64 `json:"size"`
	// Checksum is an optional hex SHA-256 of the decoded data
	Checksum string `json:"checksum,omitempty"`
}

// CatalogOptions tunes a ContentCatalog
type CatalogOptions struct {
	MaxUploadBytes int64
	Now            func() time.Time
}

// ContentCatalog lists folder contents and manages text records and files
type ContentCatalog struct {
	store     *storage.SQLStore
	blobs     BlobStore
	namer     Namer
	logger    *slog.Logger
	maxUpload int64
	now       func() time.Time
}

// NewContentCatalog creates a ContentCatalog
func NewContentCatalog(store *storage.SQLStore, blobs BlobStore, namer Namer, logger *slog.Logger, opts CatalogOptions) *ContentCatalog {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &ContentCatalog{
		store:     store,
		blobs:     blobs,
		namer:     namer,
		logger:    logger,
		maxUpload: opts.MaxUploadBytes,
		now:       now,
	}
}

// ListContents returns the folders, text records and files whose parent is
// exactly folderID ("" = root), newest first. An unknown folderID lists as
// empty. Any failed query fails the call.
func (c *ContentCatalog) ListContents(ctx context.Context, workspaceID, folderID string) (*models.Contents, error) {
	if workspaceID == "" {
		return nil, &domain.ValidationError{Message: "Workspace ID required"}
	}
	parentID := optionalID(folderID)

	ctx, span := tracer.Start(ctx, "catalog.list_contents",
		trace.WithAttributes(
			attribute.String("workspace_id", workspaceID),
			attribute.String("folder_id", folderID),
		),
	)
	defer span.End()

	var contents models.Contents
	exists := true
	g, gctx := errgroup.WithContext(ctx)

	if parentID != nil {
		g.Go(func() error {
			_, err := c.store.GetFolder(gctx, *parentID)
			if errors.Is(err, storage.ErrNotFound) {
				exists = false
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		folders, err := c.store.ListFolders(gctx, workspaceID, parentID)
		contents.Folders = folders
		return err
	})
	g.Go(func() error {
		texts, err := c.store.ListTexts(gctx, workspaceID, parentID)
		contents.TextRecords = texts
		return err
	})
	g.Go(func() error {
		files, err := c.store.ListFiles(gctx, workspaceID, parentID)
		contents.Files = files
		return err
	})

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, domain.Internal("Failed to fetch contents", err)
	}

	// A deleted folder lists as empty even if orphaned children still point at it.
	if !exists {
		span.SetAttributes(attribute.Bool("folder_exists", false))
		return &models.Contents{
			Folders:     []models.Folder{},
			TextRecords: []models.TextRecord{},
			Files:       []models.FileRecord{},
		}, nil
	}

	for i := range contents.Files {
		contents.Files[i].URL = c.blobs.PublicURL(contents.Files[i].StoragePath)
	}

	span.SetAttributes(
		attribute.Int("folder_count", len(contents.Folders)),
		attribute.Int("text_count", len(contents.TextRecords)),
		attribute.Int("file_count", len(contents.Files)),
	)
	return &contents, nil
}

// CreateText stores a text record named by the naming assistant
func (c *ContentCatalog) CreateText(ctx context.Context, req CreateTextRequest) (*models.TextRecord, error) {
	err := validate(&req,
		validation.Field(&req.WorkspaceID, validation.Required.Error("Workspace ID and content required"), idLength),
		validation.Field(&req.FolderID, idLength),
		validation.Field(&req.Content, validation.Required.Error("Workspace ID and content required")),
	)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "catalog.create_text",
		trace.WithAttributes(attribute.String("workspace_id", req.WorkspaceID)),
	)
	defer span.End()

	text := &models.TextRecord{
		ID:          uuid.New().String(),
		WorkspaceID: req.WorkspaceID,
		FolderID:    normalizeID(req.FolderID),
		Name:        c.namer.NameFor(ctx, req.Content),
		Content:     req.Content,
		CreatedAt:   stamp(c.now),
	}

	if err := c.store.CreateText(ctx, text); err != nil {
		span.RecordError(err)
		return nil, domain.Internal("Failed to create text record", err)
	}

	return text, nil
}

// DeleteText deletes a text record. Unknown IDs are not an error.
func (c *ContentCatalog) DeleteText(ctx context.Context, id string) error {
	if id == "" {
		return &domain.ValidationError{Message: "Text record ID required"}
	}

	if _, err := c.store.DeleteText(ctx, id); err != nil {
		return domain.Internal("Failed to delete text record", err)
	}
	return nil
}

// UploadFile stores the blob first and the metadata row second
func (c *ContentCatalog) UploadFile(ctx context.Context, req UploadFileRequest) (*models.FileRecord, error) {
	err := validate(&req,
		validation.Field(&req.WorkspaceID, validation.Required.Error("Missing required fields"), idLength),
		validation.Field(&req.FolderID, idLength),
		validation.Field(&req.FileName,
			validation.Required.Error("Missing required fields"),
			validation.RuneLength(1, maxNameRunes).Error("File name must be at most 255 characters"),
		),
		validation.Field(&req.FileData, validation.Required.Error("Missing required fields")),
	)
	if err != nil {
		return nil, err
	}

	data, err := payload.Decode(req.FileData, req.MimeType, c.maxUpload)
	if err != nil {
		return nil, err
	}
	if req.Checksum != "" && !payload.VerifyHash(data.Data, strings.ToLower(req.Checksum)) {
		return nil, &domain.ValidationError{Message: "fileData does not match checksum"}
	}

	ctx, span := tracer.Start(ctx, "catalog.upload_file",
		trace.WithAttributes(
			attribute.String("workspace_id", req.WorkspaceID),
			attribute.String("file_name", req.FileName),
			attribute.Int64("file_size", data.Size),
		),
	)
	defer span.End()

	key := ObjectKey(req.WorkspaceID, uuid.New().String(), req.FileName)

	metadata := map[string]string{
		"checksum":     data.Checksum,
		"workspace-id": req.WorkspaceID,
	}
	if err := c.blobs.PutObject(ctx, key, data.Data, data.MimeType, metadata); err != nil {
		span.RecordError(err)
		return nil, domain.Internal("Failed to upload file", err)
	}

	file := &models.FileRecord{
		ID:          uuid.New().String(),
		WorkspaceID: req.WorkspaceID,
		FolderID:    normalizeID(req.FolderID),
		Name:        req.FileName,
		StoragePath: key,
		Size:        data.Size,
		MimeType:    data.MimeType,
		Checksum:    data.Checksum,
		CreatedAt:   stamp(c.now),
	}

	if err := c.store.CreateFile(ctx, file); err != nil {
		span.RecordError(err)
		c.logger.Error("file metadata insert failed, blob orphaned",
			"storage_path", key,
			"workspace_id", req.WorkspaceID,
			"error", err,
		)
		return nil, domain.Internal("Failed to save file metadata", err)
	}

	file.URL = c.blobs.PublicURL(key)
	return file, nil
}

// DeleteFile removes the blob and then the metadata row. A failed blob
// removal is logged and does not fail the call.
func (c *ContentCatalog) DeleteFile(ctx context.Context, id string) error {
	if id == "" {
		return &domain.ValidationError{Message: "File ID required"}
	}

	ctx, span := tracer.Start(ctx, "catalog.delete_file",
		trace.WithAttributes(attribute.String("file_id", id)),
	)
	defer span.End()

	file, err := c.store.GetFile(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return &domain.NotFoundError{Message: "File not found"}
	} else if err != nil {
		span.RecordError(err)
		return domain.Internal("Failed to delete file", err)
	}

	if err := c.blobs.RemoveObject(ctx, file.StoragePath); err != nil {
		span.RecordError(err)
		c.logger.Error("storage delete failed, blob left behind",
			"file_id", id,
			"storage_path", file.StoragePath,
			"error", err,
		)
	}

	if _, err := c.store.DeleteFile(ctx, id); err != nil {
		span.RecordError(err)
		return domain.Internal("Failed to delete file", err)
	}
	return nil
}

// ObjectKey builds the blob key {workspaceID}/{uniqueID}_{fileName}. Slashes
// in the file name are replaced so the key stays one level deep.
func ObjectKey(workspaceID, uniqueID, fileName string) string {
	return workspaceID + "/" + uniqueID + "_" + strings.ReplaceAll(fileName, "/", "_")
}
