package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/maneesh/cloudspace/internal/models"
	"github.com/maneesh/cloudspace/internal/service"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("cloudspace-handlers")

// API exposes the workspace, folder and content services over HTTP
type API struct {
	workspaces   *service.WorkspaceStore
	folders      *service.FolderTree
	catalog      *service.ContentCatalog
	logger       *slog.Logger
	maxBodyBytes int64
}

// NewAPI creates the API. maxBodyBytes caps JSON request bodies; 0 means no cap.
func NewAPI(
	workspaces *service.WorkspaceStore,
	folders *service.FolderTree,
	catalog *service.ContentCatalog,
	logger *slog.Logger,
	maxBodyBytes int64,
) *API {
	return &API{
		workspaces:   workspaces,
		folders:      folders,
		catalog:      catalog,
		logger:       logger,
		maxBodyBytes: maxBodyBytes,
	}
}

// Route maps a method and a path below /api to a typed handler
type Route struct {
	Method  string
	Path    string
	Handler http.Handler
	// Limited routes are subject to the per-client attempt limit
	Limited bool
}

// Routes returns the route table
func (a *API) Routes() []Route {
	return []Route{
		{Method: http.MethodGet, Path: "/workspace", Handler: handle(a, a.getWorkspace)},
		{Method: http.MethodGet, Path: "/workspace/contents", Handler: handle(a, a.getContents)},
		{Method: http.MethodGet, Path: "/folder/breadcrumb", Handler: handle(a, a.getBreadcrumb)},
		{Method: http.MethodPost, Path: "/workspace/create", Handler: handle(a, a.createWorkspace), Limited: true},
		{Method: http.MethodPost, Path: "/workspace/access", Handler: handle(a, a.accessWorkspace), Limited: true},
		{Method: http.MethodPost, Path: "/folder/create", Handler: handle(a, a.createFolder)},
		{Method: http.MethodPost, Path: "/text/create", Handler: handle(a, a.createText)},
		{Method: http.MethodPost, Path: "/file/upload", Handler: handle(a, a.uploadFile)},
		{Method: http.MethodDelete, Path: "/folder/delete", Handler: handle(a, a.deleteFolder)},
		{Method: http.MethodDelete, Path: "/text/delete", Handler: handle(a, a.deleteText)},
		{Method: http.MethodDelete, Path: "/file/delete", Handler: handle(a, a.deleteFile)},
	}
}

type workspaceQuery struct {
	Name string `query:"name"`
}

type contentsQuery struct {
	WorkspaceID string `query:"workspaceId"`
	FolderID    string `query:"folderId"`
}

type breadcrumbQuery struct {
	FolderID string `query:"folderId"`
}

type idQuery struct {
	ID string `query:"id"`
}

type successResponse struct {
	Success bool `json:"success"`
}

var deleted = &successResponse{Success: true}

func (a *API) getWorkspace(ctx context.Context, in *workspaceQuery) (*models.Workspace, error) {
	return a.workspaces.Lookup(ctx, in.Name)
}

func (a *API) getContents(ctx context.Context, in *contentsQuery) (*models.Contents, error) {
	return a.catalog.ListContents(ctx, in.WorkspaceID, in.FolderID)
}

func (a *API) getBreadcrumb(ctx context.Context, in *breadcrumbQuery) ([]models.Folder, error) {
	return a.folders.Breadcrumb(ctx, in.FolderID), nil
}

func (a *API) createWorkspace(ctx context.Context, in *service.WorkspaceCredentials) (*models.WorkspaceRef, error) {
	return a.workspaces.Create(ctx, *in)
}

func (a *API) accessWorkspace(ctx context.Context, in *service.WorkspaceCredentials) (*models.WorkspaceRef, error) {
	return a.workspaces.Access(ctx, *in)
}

func (a *API) createFolder(ctx context.Context, in *service.CreateFolderRequest) (*models.Folder, error) {
	return a.folders.CreateFolder(ctx, *in)
}

func (a *API) createText(ctx context.Context, in *service.CreateTextRequest) (*models.TextRecord, error) {
	return a.catalog.CreateText(ctx, *in)
}

func (a *API) uploadFile(ctx context.Context, in *service.UploadFileRequest) (*models.FileRecord, error) {
	return a.catalog.UploadFile(ctx, *in)
}

func (a *API) deleteFolder(ctx context.Context, in *idQuery) (*successResponse, error) {
	if err := a.folders.DeleteFolder(ctx, in.ID); err != nil {
		return nil, err
	}
	return deleted, nil
}

func (a *API) deleteText(ctx context.Context, in *idQuery) (*successResponse, error) {
	if err := a.catalog.DeleteText(ctx, in.ID); err != nil {
		return nil, err
	}
	return deleted, nil
}

func (a *API) deleteFile(ctx context.Context, in *idQuery) (*successResponse, error) {
	if err := a.catalog.DeleteFile(ctx, in.ID); err != nil {
		return nil, err
	}
	return deleted, nil
}
