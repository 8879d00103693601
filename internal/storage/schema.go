package storage

// Workspace names compare byte-for-byte: utf8mb4_bin on MySQL, SQLite's
// default BINARY collation. The UNIQUE constraint on workspaces.name is
// what keeps concurrent creates from both succeeding.

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS workspaces (
		id            VARCHAR(36)  NOT NULL PRIMARY KEY,
		name          VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		created_at    DATETIME(6)  NOT NULL,
		UNIQUE KEY uq_workspaces_name (name)
	)`,
	`CREATE TABLE IF NOT EXISTS folders (
		id               VARCHAR(36)  NOT NULL PRIMARY KEY,
		workspace_id     VARCHAR(36)  NOT NULL,
		parent_folder_id VARCHAR(36)  NULL,
		name             VARCHAR(255) NOT NULL,
		created_at       DATETIME(6)  NOT NULL,
		KEY idx_folders_parent (workspace_id, parent_folder_id, created_at),
		KEY idx_folders_parent_only (parent_folder_id)
	)`,
	`CREATE TABLE IF NOT EXISTS text_records (
		id           VARCHAR(36)  NOT NULL PRIMARY KEY,
		workspace_id VARCHAR(36)  NOT NULL,
		folder_id    VARCHAR(36)  NULL,
		name         VARCHAR(255) NOT NULL,
		content      MEDIUMTEXT   NOT NULL,
		created_at   DATETIME(6)  NOT NULL,
		KEY idx_text_records_folder (workspace_id, folder_id, created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS files (
		id           VARCHAR(36)   NOT NULL PRIMARY KEY,
		workspace_id VARCHAR(36)   NOT NULL,
		folder_id    VARCHAR(36)   NULL,
		name         VARCHAR(255)  NOT NULL,
		storage_path VARCHAR(1024) NOT NULL,
		size         BIGINT        NOT NULL,
		mime_type    VARCHAR(255)  NOT NULL DEFAULT '',
		checksum     CHAR(64)      NOT NULL DEFAULT '',
		created_at   DATETIME(6)   NOT NULL,
		KEY idx_files_folder (workspace_id, folder_id, created_at)
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS workspaces (
		id            TEXT     NOT NULL PRIMARY KEY,
		name          TEXT     NOT NULL UNIQUE,
		password_hash TEXT     NOT NULL,
		created_at    DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS folders (
		id               TEXT     NOT NULL PRIMARY KEY,
		workspace_id     TEXT     NOT NULL,
		parent_folder_id TEXT     NULL,
		name             TEXT     NOT NULL,
		created_at       DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_folders_parent ON folders (workspace_id, parent_folder_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_folders_parent_only ON folders (parent_folder_id)`,
	`CREATE TABLE IF NOT EXISTS text_records (
		id           TEXT     NOT NULL PRIMARY KEY,
		workspace_id TEXT     NOT NULL,
		folder_id    TEXT     NULL,
		name         TEXT     NOT NULL,
		content      TEXT     NOT NULL,
		created_at   DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_text_records_folder ON text_records (workspace_id, folder_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS files (
		id           TEXT     NOT NULL PRIMARY KEY,
		workspace_id TEXT     NOT NULL,
		folder_id    TEXT     NULL,
		name         TEXT     NOT NULL,
		storage_path TEXT     NOT NULL,
		size         INTEGER  NOT NULL,
		mime_type    TEXT     NOT NULL DEFAULT '',
		checksum     TEXT     NOT NULL DEFAULT '',
		created_at   DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_files_folder ON files (workspace_id, folder_id, created_at)`,
}
