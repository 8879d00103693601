package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/maneesh/cloudspace/internal/domain"
	"github.com/maneesh/cloudspace/internal/models"
	"github.com/maneesh/cloudspace/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"
)

const (
	msgNameAndPassword   = "Name and password required"
	msgWorkspaceExists   = "Workspace name already exists"
	msgWorkspaceNotFound = "Workspace not found"
	msgIncorrectPassword = "Incorrect password"
	msgInvalidCredential = "Invalid workspace name or password"

	// bcrypt ignores everything past 72 bytes; reject instead of truncating
	maxPasswordBytes = 72
	maxNameRunes     = 255
)

// WorkspaceCredentials is the body of workspace/create and workspace/access
type WorkspaceCredentials struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (c *WorkspaceCredentials) validate() error {
	return validate(c,
		validation.Field(&c.Name,
			validation.Required.Error(msgNameAndPassword),
			validation.RuneLength(1, maxNameRunes).Error("Workspace name must be at most 255 characters"),
		),
		validation.Field(&c.Password,
			validation.Required.Error(msgNameAndPassword),
			validation.Length(1, maxPasswordBytes).Error("Password must be at most 72 bytes"),
		),
	)
}

// WorkspaceOptions tunes a WorkspaceStore
type WorkspaceOptions struct {
	BcryptCost int
	// MaskAccessErrors reports unknown names and wrong passwords with the
	// same AuthError so names cannot be enumerated.
	MaskAccessErrors bool
	Now              func() time.Time
}

// WorkspaceStore creates and authenticates workspaces
type WorkspaceStore struct {
	store  *storage.SQLStore
	cache  Cache
	logger *slog.Logger
	cost   int
	mask   bool
	now    func() time.Time
}

// NewWorkspaceStore creates a WorkspaceStore
func NewWorkspaceStore(store *storage.SQLStore, cache Cache, logger *slog.Logger, opts WorkspaceOptions) *WorkspaceStore {
	cost := opts.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if cache == nil {
		cache = storage.NopCache{}
	}
	return &WorkspaceStore{
		store:  store,
		cache:  cache,
		logger: logger,
		cost:   cost,
		mask:   opts.MaskAccessErrors,
		now:    now,
	}
}

// Create registers a new workspace. The name must not be taken.
func (s *WorkspaceStore) Create(ctx context.Context, creds WorkspaceCredentials) (*models.WorkspaceRef, error) {
	if err := creds.validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "workspace.create",
		trace.WithAttributes(attribute.String("workspace_name", creds.Name)),
	)
	defer span.End()

	// Friendlier error for the common case. The UNIQUE constraint below is
	// what actually guarantees uniqueness.
	if _, err := s.store.GetWorkspaceByName(ctx, creds.Name); err == nil {
		return nil, &domain.ConflictError{Message: msgWorkspaceExists}
	} else if !errors.Is(err, storage.ErrNotFound) {
		span.RecordError(err)
		return nil, domain.Internal("Failed to create workspace", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), s.cost)
	if err != nil {
		span.RecordError(err)
		return nil, domain.Internal("Failed to create workspace", err)
	}

	ws := &models.Workspace{
		ID:           uuid.New().String(),
		Name:         creds.Name,
		PasswordHash: string(hash),
		CreatedAt:    stamp(s.now),
	}

	if err := s.store.CreateWorkspace(ctx, ws); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, &domain.ConflictError{Message: msgWorkspaceExists}
		}
		span.RecordError(err)
		return nil, domain.Internal("Failed to create workspace", err)
	}

	if err := s.cache.SetWorkspace(ctx, ws); err != nil {
		s.logger.Warn("failed to cache workspace", "workspace_id", ws.ID, "error", err)
	}

	s.logger.Info("workspace created", "workspace_id", ws.ID)
	return &models.WorkspaceRef{ID: ws.ID, Name: ws.Name}, nil
}

// Access checks a workspace password
func (s *WorkspaceStore) Access(ctx context.Context, creds WorkspaceCredentials) (*models.WorkspaceRef, error) {
	if err := creds.validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "workspace.access",
		trace.WithAttributes(attribute.String("workspace_name", creds.Name)),
	)
	defer span.End()

	// Always the store: the cached view carries no password hash.
	ws, err := s.store.GetWorkspaceByName(ctx, creds.Name)
	if errors.Is(err, storage.ErrNotFound) {
		if s.mask {
			return nil, &domain.AuthError{Message: msgInvalidCredential}
		}
		return nil, &domain.NotFoundError{Message: msgWorkspaceNotFound}
	} else if err != nil {
		span.RecordError(err)
		return nil, domain.Internal("Failed to access workspace", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(ws.PasswordHash), []byte(creds.Password)); err != nil {
		span.SetAttributes(attribute.Bool("password_match", false))
		if s.mask {
			return nil, &domain.AuthError{Message: msgInvalidCredential}
		}
		return nil, &domain.AuthError{Message: msgIncorrectPassword}
	}

	span.SetAttributes(attribute.Bool("password_match", true))
	return &models.WorkspaceRef{ID: ws.ID, Name: ws.Name}, nil
}

// Lookup returns the public view of a workspace by name
func (s *WorkspaceStore) Lookup(ctx context.Context, name string) (*models.Workspace, error) {
	if name == "" {
		return nil, &domain.ValidationError{Message: "Workspace name required"}
	}

	ctx, span := tracer.Start(ctx, "workspace.lookup",
		trace.WithAttributes(attribute.String("workspace_name", name)),
	)
	defer span.End()

	cached, err := s.cache.GetWorkspace(ctx, name)
	if err != nil {
		s.logger.Warn("workspace cache read failed", "error", err)
	} else if cached != nil {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return cached, nil
	}

	ws, err := s.store.GetWorkspaceByName(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &domain.NotFoundError{Message: msgWorkspaceNotFound}
	} else if err != nil {
		span.RecordError(err)
		return nil, domain.Internal("Failed to fetch workspace", err)
	}

	if err := s.cache.SetWorkspace(ctx, ws); err != nil {
		s.logger.Warn("failed to cache workspace", "workspace_id", ws.ID, "error", err)
	}

	ws.PasswordHash = ""
	return ws, nil
}
