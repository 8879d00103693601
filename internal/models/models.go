package models

import "time"

// Workspace is a password-protected namespace owning a folder tree
type Workspace struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// WorkspaceRef is what create and access return
type WorkspaceRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Folder is a node in a workspace tree. A nil ParentFolderID means root.
type Folder struct {
	ID             string    `json:"id"`
	WorkspaceID    string    `json:"workspaceId"`
	ParentFolderID *string   `json:"parentFolderId"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"createdAt"`
}

// TextRecord is a named text snippet stored in a folder (or at root)
type TextRecord struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	FolderID    *string   `json:"folderId"`
	Name        string    `json:"name"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
}

// FileRecord is the metadata row of an uploaded blob.
// URL is derived from StoragePath at read time and never persisted.
type FileRecord struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	FolderID    *string   `json:"folderId"`
	Name        string    `json:"name"`
	StoragePath string    `json:"storagePath"`
	Size        int64     `json:"size"`
	MimeType    string    `json:"mimeType"`
	Checksum    string    `json:"checksum,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	URL         string    `json:"url,omitempty"`
}

// Contents is everything directly under one folder (or root) of a workspace
type Contents struct {
	Folders     []Folder     `json:"folders"`
	TextRecords []TextRecord `json:"textRecords"`
	Files       []FileRecord `json:"files"`
}

// Payload holds a decoded upload during file creation
type Payload struct {
	Data     []byte
	Size     int64
	Checksum string
	MimeType string
}
