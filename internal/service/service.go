// Package service implements workspace, folder and content operations on
// top of the metadata store, the blob store and the cache.
package service

import (
	"context"
	"errors"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/maneesh/cloudspace/internal/domain"
	"github.com/maneesh/cloudspace/internal/models"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("cloudspace-service")

// Cache is the cache-aside layer for folder rows and workspace lookups.
// A nil result with a nil error is a miss.
type Cache interface {
	GetFolder(ctx context.Context, id string) (*models.Folder, error)
	SetFolder(ctx context.Context, folder *models.Folder) error
	InvalidateFolder(ctx context.Context, id string) error
	GetWorkspace(ctx context.Context, name string) (*models.Workspace, error)
	SetWorkspace(ctx context.Context, ws *models.Workspace) error
}

// BlobStore holds uploaded file contents
type BlobStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error
	RemoveObject(ctx context.Context, key string) error
	PublicURL(key string) string
}

// Namer labels text records
type Namer interface {
	NameFor(ctx context.Context, text string) string
}

// maxIDRunes is the width of the ID columns (VARCHAR(36) on MySQL)
const maxIDRunes = 36

// idLength rejects IDs that could not be stored
var idLength = validation.RuneLength(0, maxIDRunes).Error("IDs must be at most 36 characters")

// validate runs ozzo rules and reports the first failure as a ValidationError
func validate(structPtr any, fields ...*validation.FieldRules) error {
	err := validation.ValidateStruct(structPtr, fields...)
	if err == nil {
		return nil
	}

	var errs validation.Errors
	if errors.As(err, &errs) && len(errs) > 0 {
		keys := make([]string, 0, len(errs))
		for k := range errs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return &domain.ValidationError{Message: errs[keys[0]].Error()}
	}
	return &domain.ValidationError{Message: err.Error()}
}

// normalizeID maps an empty or missing ID to nil (root)
func normalizeID(id *string) *string {
	if id == nil || *id == "" {
		return nil
	}
	return id
}

func optionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// stamp returns the creation time to persist. MySQL DATETIME(6) keeps
// microseconds, so finer precision would not round-trip.
func stamp(now func() time.Time) time.Time {
	return now().UTC().Truncate(time.Microsecond)
}
