package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/maneesh/cloudspace/internal/models"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultCacheTTL is the time-to-live for cached rows
const DefaultCacheTTL = 5 * time.Minute

// RedisClient caches folder rows and workspace lookups with tracing
type RedisClient struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient initializes a new Redis client
func NewRedisClient(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test the connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisClient{client: client, ttl: ttl}, nil
}

// Close closes the Redis connection
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

// GetFolder returns a cached folder, or nil on a cache miss
func (rc *RedisClient) GetFolder(ctx context.Context, id string) (*models.Folder, error) {
	var folder models.Folder
	hit, err := rc.get(ctx, "redis.get_folder", folderKey(id), &folder)
	if err != nil || !hit {
		return nil, err
	}
	return &folder, nil
}

// SetFolder caches a folder row
func (rc *RedisClient) SetFolder(ctx context.Context, folder *models.Folder) error {
	return rc.set(ctx, "redis.set_folder", folderKey(folder.ID), folder)
}

// InvalidateFolder removes a folder from the cache
func (rc *RedisClient) InvalidateFolder(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "redis.invalidate_folder",
		trace.WithAttributes(attribute.String("folder_id", id)),
	)
	defer span.End()

	if err := rc.client.Del(ctx, folderKey(id)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}

	span.SetAttributes(attribute.Bool("cache_invalidate_success", true))
	return nil
}

// GetWorkspace returns the cached public view of a workspace (no password
// hash), or nil on a cache miss
func (rc *RedisClient) GetWorkspace(ctx context.Context, name string) (*models.Workspace, error) {
	var ws models.Workspace
	hit, err := rc.get(ctx, "redis.get_workspace", workspaceKey(name), &ws)
	if err != nil || !hit {
		return nil, err
	}
	return &ws, nil
}

// SetWorkspace caches the public view of a workspace
func (rc *RedisClient) SetWorkspace(ctx context.Context, ws *models.Workspace) error {
	return rc.set(ctx, "redis.set_workspace", workspaceKey(ws.Name), ws)
}

func (rc *RedisClient) get(ctx context.Context, spanName, key string, dest any) (bool, error) {
	ctx, span := tracer.Start(ctx, spanName,
		trace.WithAttributes(attribute.String("cache_key", key)),
	)
	defer span.End()

	data, err := rc.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(
			attribute.Bool("cache_hit", false),
			attribute.String("cache_status", "miss"),
		)
		return false, nil // Cache miss, not an error
	} else if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to unmarshal cached data: %w", err)
	}

	span.SetAttributes(
		attribute.Bool("cache_hit", true),
		attribute.String("cache_status", "hit"),
	)
	return true, nil
}

func (rc *RedisClient) set(ctx context.Context, spanName, key string, value any) error {
	ctx, span := tracer.Start(ctx, spanName,
		trace.WithAttributes(attribute.String("cache_key", key)),
	)
	defer span.End()

	data, err := json.Marshal(value)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := rc.client.Set(ctx, key, data, rc.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set cache: %w", err)
	}

	span.SetAttributes(
		attribute.Bool("cache_set_success", true),
		attribute.Int64("ttl_seconds", int64(rc.ttl.Seconds())),
	)
	return nil
}

func folderKey(id string) string      { return "folder:" + id }
func workspaceKey(name string) string { return "workspace:" + name }

// NopCache satisfies the cache interface without storing anything. It is
// used when caching is disabled.
type NopCache struct{}

func (NopCache) GetFolder(context.Context, string) (*models.Folder, error)       { return nil, nil }
func (NopCache) SetFolder(context.Context, *models.Folder) error                 { return nil }
func (NopCache) InvalidateFolder(context.Context, string) error                  { return nil }
func (NopCache) GetWorkspace(context.Context, string) (*models.Workspace, error) { return nil, nil }
func (NopCache) SetWorkspace(context.Context, *models.Workspace) error           { return nil }
