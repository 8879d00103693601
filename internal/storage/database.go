package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/maneesh/cloudspace/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Supported database/sql driver names
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

var (
	// ErrNotFound is returned when a row lookup matches nothing
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert violates a unique constraint
	ErrDuplicate = errors.New("duplicate record")
)

type txKey struct{}

// dbtx is satisfied by both *sql.DB and *sql.Tx
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore wraps the relational metadata store (MySQL/TiDB or SQLite) with tracing
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore opens and pings a database using the given driver
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	if driver != DriverMySQL && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	if driver == DriverSQLite {
		// One connection: writers serialize and ":memory:" stays a single database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}

	return &SQLStore{db: db, driver: driver}, nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the tables if they do not exist
func (s *SQLStore) Migrate(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "db.migrate",
		trace.WithAttributes(attribute.String("db.driver", s.driver)),
	)
	defer span.End()

	statements := mysqlSchema
	if s.driver == DriverSQLite {
		statements = sqliteSchema
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// InTx runs fn inside a transaction. Store calls made with the context
// passed to fn join that transaction. Nested calls reuse the outer one.
func (s *SQLStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// forUpdate is the locking clause for reads inside a MySQL transaction.
// SQLite runs on a single connection, so a transaction already excludes
// every other statement.
func (s *SQLStore) forUpdate(ctx context.Context) string {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok && s.driver == DriverMySQL {
		return " FOR UPDATE"
	}
	return ""
}

func (s *SQLStore) conn(ctx context.Context) dbtx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// CreateWorkspace inserts a workspace. A taken name yields ErrDuplicate.
func (s *SQLStore) CreateWorkspace(ctx context.Context, ws *models.Workspace) error {
	ctx, span := tracer.Start(ctx, "db.create_workspace",
		trace.WithAttributes(
			attribute.String("workspace_id", ws.ID),
			attribute.String("workspace_name", ws.Name),
		),
	)
	defer span.End()

	query := `INSERT INTO workspaces (id, name, password_hash, created_at) VALUES (?, ?, ?, ?)`

	_, err := s.conn(ctx).ExecContext(ctx, query, ws.ID, ws.Name, ws.PasswordHash, ws.CreatedAt.UTC())
	if err != nil {
		if isDuplicateError(err) {
			span.SetAttributes(attribute.Bool("duplicate", true))
			return fmt.Errorf("workspace %q: %w", ws.Name, ErrDuplicate)
		}
		span.RecordError(err)
		return fmt.Errorf("failed to insert workspace: %w", err)
	}

	return nil
}

// GetWorkspaceByName looks a workspace up by its exact name
func (s *SQLStore) GetWorkspaceByName(ctx context.Context, name string) (*models.Workspace, error) {
	ctx, span := tracer.Start(ctx, "db.get_workspace_by_name",
		trace.WithAttributes(attribute.String("workspace_name", name)),
	)
	defer span.End()

	query := `SELECT id, name, password_hash, created_at FROM workspaces WHERE name = ?`

	var ws models.Workspace
	err := s.conn(ctx).QueryRowContext(ctx, query, name).Scan(
		&ws.ID,
		&ws.Name,
		&ws.PasswordHash,
		&ws.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, fmt.Errorf("workspace %q: %w", name, ErrNotFound)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query workspace: %w", err)
	}

	ws.CreatedAt = ws.CreatedAt.UTC()
	span.SetAttributes(attribute.Bool("found", true))
	return &ws, nil
}

// CreateFolder inserts a folder row
func (s *SQLStore) CreateFolder(ctx context.Context, folder *models.Folder) error {
	ctx, span := tracer.Start(ctx, "db.create_folder",
		trace.WithAttributes(
			attribute.String("folder_id", folder.ID),
			attribute.String("workspace_id", folder.WorkspaceID),
		),
	)
	defer span.End()

	query := `INSERT INTO folders (id, workspace_id, parent_folder_id, name, created_at)
			  VALUES (?, ?, ?, ?, ?)`

	_, err := s.conn(ctx).ExecContext(ctx, query,
		folder.ID, folder.WorkspaceID, nullable(folder.ParentFolderID), folder.Name, folder.CreatedAt.UTC())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert folder: %w", err)
	}

	return nil
}

// GetFolder retrieves a folder by ID
func (s *SQLStore) GetFolder(ctx context.Context, id string) (*models.Folder, error) {
	return s.getFolder(ctx, "db.get_folder", id, "")
}

// LockFolder reads a folder like GetFolder. Inside a MySQL transaction it
// also takes a row lock held until the transaction ends.
func (s *SQLStore) LockFolder(ctx context.Context, id string) (*models.Folder, error) {
	return s.getFolder(ctx, "db.lock_folder", id, s.forUpdate(ctx))
}

func (s *SQLStore) getFolder(ctx context.Context, spanName, id, lock string) (*models.Folder, error) {
	ctx, span := tracer.Start(ctx, spanName,
		trace.WithAttributes(attribute.String("folder_id", id)),
	)
	defer span.End()

	query := `SELECT id, workspace_id, parent_folder_id, name, created_at FROM folders WHERE id = ?` + lock

	folder, err := scanFolder(s.conn(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, fmt.Errorf("folder %s: %w", id, ErrNotFound)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query folder: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return folder, nil
}

// ListFolders returns the folders of a workspace whose parent is exactly
// parentID (nil matches root only), newest first
func (s *SQLStore) ListFolders(ctx context.Context, workspaceID string, parentID *string) ([]models.Folder, error) {
	ctx, span := tracer.Start(ctx, "db.list_folders",
		trace.WithAttributes(
			attribute.String("workspace_id", workspaceID),
			attribute.Bool("root", parentID == nil),
		),
	)
	defer span.End()

	cond, args := matchParent("parent_folder_id", workspaceID, parentID)
	query := `SELECT id, workspace_id, parent_folder_id, name, created_at FROM folders
			  WHERE ` + cond + ` ORDER BY created_at DESC, id DESC`

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query folders: %w", err)
	}
	defer rows.Close()

	folders := []models.Folder{}
	for rows.Next() {
		folder, err := scanFolder(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		folders = append(folders, *folder)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating folders: %w", err)
	}

	span.SetAttributes(attribute.Int("folder_count", len(folders)))
	return folders, nil
}

// ListChildFolderIDs returns the IDs of the folders of workspaceID whose
// parent is parentID
func (s *SQLStore) ListChildFolderIDs(ctx context.Context, workspaceID, parentID string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "db.list_child_folder_ids",
		trace.WithAttributes(
			attribute.String("workspace_id", workspaceID),
			attribute.String("folder_id", parentID),
		),
	)
	defer span.End()

	query := `SELECT id FROM folders WHERE workspace_id = ? AND parent_folder_id = ?` + s.forUpdate(ctx)

	rows, err := s.conn(ctx).QueryContext(ctx, query, workspaceID, parentID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query child folders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan child folder: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating child folders: %w", err)
	}
	return ids, nil
}

var childTables = []struct{ table, column string }{
	{"folders", "parent_folder_id"},
	{"text_records", "folder_id"},
	{"files", "folder_id"},
}

// CountChildren counts the folders, texts and files of workspaceID that
// point at folderID. Inside a MySQL transaction the matching index ranges
// stay locked, so no child can be added until the transaction ends.
func (s *SQLStore) CountChildren(ctx context.Context, workspaceID, folderID string) (int64, error) {
	ctx, span := tracer.Start(ctx, "db.count_children",
		trace.WithAttributes(
			attribute.String("workspace_id", workspaceID),
			attribute.String("folder_id", folderID),
		),
	)
	defer span.End()

	lock := s.forUpdate(ctx)
	var total int64
	for _, child := range childTables {
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE workspace_id = ? AND %s = ?%s`, child.table, child.column, lock)

		var count int64
		if err := s.conn(ctx).QueryRowContext(ctx, query, workspaceID, folderID).Scan(&count); err != nil {
			span.RecordError(err)
			return 0, fmt.Errorf("failed to count %s children: %w", child.table, err)
		}
		total += count
	}

	span.SetAttributes(attribute.Int64("child_count", total))
	return total, nil
}

// DeleteFolders removes folder rows by ID and reports how many were deleted
func (s *SQLStore) DeleteFolders(ctx context.Context, ids ...string) (int64, error) {
	return s.deleteByColumn(ctx, "db.delete_folders", "folders", "", "id", ids)
}

// CreateText inserts a text record
func (s *SQLStore) CreateText(ctx context.Context, text *models.TextRecord) error {
	ctx, span := tracer.Start(ctx, "db.create_text",
		trace.WithAttributes(
			attribute.String("text_id", text.ID),
			attribute.String("workspace_id", text.WorkspaceID),
			attribute.Int("content_length", len(text.Content)),
		),
	)
	defer span.End()

	query := `INSERT INTO text_records (id, workspace_id, folder_id, name, content, created_at)
			  VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.conn(ctx).ExecContext(ctx, query,
		text.ID, text.WorkspaceID, nullable(text.FolderID), text.Name, text.Content, text.CreatedAt.UTC())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert text record: %w", err)
	}

	return nil
}

// ListTexts returns the text records directly under folderID (nil = root), newest first
func (s *SQLStore) ListTexts(ctx context.Context, workspaceID string, folderID *string) ([]models.TextRecord, error) {
	ctx, span := tracer.Start(ctx, "db.list_texts",
		trace.WithAttributes(
			attribute.String("workspace_id", workspaceID),
			attribute.Bool("root", folderID == nil),
		),
	)
	defer span.End()

	cond, args := matchParent("folder_id", workspaceID, folderID)
	query := `SELECT id, workspace_id, folder_id, name, content, created_at FROM text_records
			  WHERE ` + cond + ` ORDER BY created_at DESC, id DESC`

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query text records: %w", err)
	}
	defer rows.Close()

	texts := []models.TextRecord{}
	for rows.Next() {
		var text models.TextRecord
		var folderID sql.NullString
		err := rows.Scan(
			&text.ID,
			&text.WorkspaceID,
			&folderID,
			&text.Name,
			&text.Content,
			&text.CreatedAt,
		)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan text record: %w", err)
		}
		text.FolderID = fromNullString(folderID)
		text.CreatedAt = text.CreatedAt.UTC()
		texts = append(texts, text)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating text records: %w", err)
	}

	span.SetAttributes(attribute.Int("text_count", len(texts)))
	return texts, nil
}

// DeleteText removes a text record by ID
func (s *SQLStore) DeleteText(ctx context.Context, id string) (int64, error) {
	return s.deleteByColumn(ctx, "db.delete_text", "text_records", "", "id", []string{id})
}

// DeleteTextsInFolders removes every text record of workspaceID stored in
// one of folderIDs
func (s *SQLStore) DeleteTextsInFolders(ctx context.Context, workspaceID string, folderIDs ...string) (int64, error) {
	return s.deleteByColumn(ctx, "db.delete_texts_in_folders", "text_records", workspaceID, "folder_id", folderIDs)
}

// CreateFile inserts file metadata
func (s *SQLStore) CreateFile(ctx context.Context, file *models.FileRecord) error {
	ctx, span := tracer.Start(ctx, "db.create_file",
		trace.WithAttributes(
			attribute.String("file_id", file.ID),
			attribute.String("file_name", file.Name),
			attribute.Int64("file_size", file.Size),
		),
	)
	defer span.End()

	query := `INSERT INTO files (id, workspace_id, folder_id, name, storage_path, size, mime_type, checksum, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.conn(ctx).ExecContext(ctx, query,
		file.ID, file.WorkspaceID, nullable(file.FolderID), file.Name, file.StoragePath,
		file.Size, file.MimeType, file.Checksum, file.CreatedAt.UTC())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert file: %w", err)
	}

	span.SetAttributes(attribute.Bool("insert_success", true))
	return nil
}

// GetFile retrieves file metadata by ID
func (s *SQLStore) GetFile(ctx context.Context, id string) (*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "db.get_file",
		trace.WithAttributes(attribute.String("file_id", id)),
	)
	defer span.End()

	query := `SELECT ` + fileColumns + ` FROM files WHERE id = ?`

	file, err := scanFile(s.conn(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query file: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return file, nil
}

// ListFiles returns the files directly under folderID (nil = root), newest first
func (s *SQLStore) ListFiles(ctx context.Context, workspaceID string, folderID *string) ([]models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "db.list_files",
		trace.WithAttributes(
			attribute.String("workspace_id", workspaceID),
			attribute.Bool("root", folderID == nil),
		),
	)
	defer span.End()

	cond, args := matchParent("folder_id", workspaceID, folderID)
	query := `SELECT ` + fileColumns + ` FROM files WHERE ` + cond + ` ORDER BY created_at DESC, id DESC`

	files, err := s.queryFiles(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("file_count", len(files)))
	return files, nil
}

// ListFilesInFolders returns every file of workspaceID stored in one of folderIDs
func (s *SQLStore) ListFilesInFolders(ctx context.Context, workspaceID string, folderIDs ...string) ([]models.FileRecord, error) {
	if len(folderIDs) == 0 {
		return []models.FileRecord{}, nil
	}

	ctx, span := tracer.Start(ctx, "db.list_files_in_folders",
		trace.WithAttributes(
			attribute.String("workspace_id", workspaceID),
			attribute.Int("folder_count", len(folderIDs)),
		),
	)
	defer span.End()

	query := `SELECT ` + fileColumns + ` FROM files WHERE workspace_id = ? AND folder_id IN (` + placeholders(len(folderIDs)) + `)`

	args := append([]any{workspaceID}, toArgs(folderIDs)...)
	files, err := s.queryFiles(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return files, nil
}

// DeleteFile removes file metadata by ID
func (s *SQLStore) DeleteFile(ctx context.Context, id string) (int64, error) {
	return s.deleteByColumn(ctx, "db.delete_file", "files", "", "id", []string{id})
}

// DeleteFilesInFolders removes the metadata of every file of workspaceID
// stored in one of folderIDs
func (s *SQLStore) DeleteFilesInFolders(ctx context.Context, workspaceID string, folderIDs ...string) (int64, error) {
	return s.deleteByColumn(ctx, "db.delete_files_in_folders", "files", workspaceID, "folder_id", folderIDs)
}

func (s *SQLStore) queryFiles(ctx context.Context, query string, args ...any) ([]models.FileRecord, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	files := []models.FileRecord{}
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, *file)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating files: %w", err)
	}
	return files, nil
}

// deleteByColumn runs DELETE FROM table WHERE column IN (values...),
// restricted to workspaceID unless it is empty
func (s *SQLStore) deleteByColumn(ctx context.Context, spanName, table, workspaceID, column string, values []string) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}

	ctx, span := tracer.Start(ctx, spanName,
		trace.WithAttributes(
			attribute.String("table", table),
			attribute.Int("key_count", len(values)),
		),
	)
	defer span.End()

	query := fmt.Sprintf(`DELETE FROM %s WHERE %s IN (%s)`, table, column, placeholders(len(values)))
	args := toArgs(values)
	if workspaceID != "" {
		span.SetAttributes(attribute.String("workspace_id", workspaceID))
		query += ` AND workspace_id = ?`
		args = append(args, workspaceID)
	}

	result, err := s.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to delete from %s: %w", table, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	span.SetAttributes(attribute.Int64("rows_deleted", affected))
	return affected, nil
}

const fileColumns = `id, workspace_id, folder_id, name, storage_path, size, mime_type, checksum, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFolder(row rowScanner) (*models.Folder, error) {
	var folder models.Folder
	var parentID sql.NullString
	err := row.Scan(
		&folder.ID,
		&folder.WorkspaceID,
		&parentID,
		&folder.Name,
		&folder.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	folder.ParentFolderID = fromNullString(parentID)
	folder.CreatedAt = folder.CreatedAt.UTC()
	return &folder, nil
}

func scanFile(row rowScanner) (*models.FileRecord, error) {
	var file models.FileRecord
	var folderID sql.NullString
	err := row.Scan(
		&file.ID,
		&file.WorkspaceID,
		&folderID,
		&file.Name,
		&file.StoragePath,
		&file.Size,
		&file.MimeType,
		&file.Checksum,
		&file.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	file.FolderID = fromNullString(folderID)
	file.CreatedAt = file.CreatedAt.UTC()
	return &file, nil
}

// matchParent builds the workspace + exact-parent filter. SQL "= NULL" never
// matches, so the root case needs IS NULL.
func matchParent(column, workspaceID string, parentID *string) (string, []any) {
	if parentID == nil {
		return "workspace_id = ? AND " + column + " IS NULL", []any{workspaceID}
	}
	return "workspace_id = ? AND " + column + " = ?", []any{workspaceID, *parentID}
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func toArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func isDuplicateError(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		// ER_DUP_ENTRY
		return myErr.Number == 1062
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch code := liteErr.Code(); {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case code&0xff == sqlite3.SQLITE_CONSTRAINT:
			// primary code only when extended codes are off
			return strings.Contains(liteErr.Error(), "UNIQUE")
		}
	}
	return false
}
