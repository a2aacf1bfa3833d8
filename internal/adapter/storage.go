package adapter

import (
	"context"
	"fmt"
	"io"
	"time"
)

// FolderMIMEType is the Drive mime type of a folder.
const FolderMIMEType = "application/vnd.google-apps.folder"

// RootID addresses the top of My Drive.
const RootID = "root"

// ResumableChunkAlignment is the multiple every non-final resumable chunk
// must be sized to.
const ResumableChunkAlignment = 256 * 1024

// FileMetadata represents metadata about a file or folder in Drive.
type FileMetadata struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	MIMEType       string    `json:"mimeType"`
	ModifiedTime   time.Time `json:"modifiedTime,omitempty"`
	Size           int64     `json:"size,omitempty"`
	MD5Checksum    string    `json:"md5Checksum,omitempty"`
	Parents        []string  `json:"parents,omitempty"`
	DriveID        string    `json:"driveId,omitempty"`
	WebViewLink    string    `json:"webViewLink,omitempty"`
	OwnerEmails    []string  `json:"owners,omitempty"`
	CanAddChildren bool      `json:"canAddChildren,omitempty"`
}

// IsFolder reports whether the metadata describes a folder.
func (f *FileMetadata) IsFolder() bool {
	return f.MIMEType == FolderMIMEType
}

// FileInput is a whole file handed to CreateFile.
type FileInput struct {
	Name     string
	MIMEType string
	ParentID string
	Content  io.Reader
}

// ResumableRequest describes the file a resumable session is opened for.
type ResumableRequest struct {
	Name     string
	MIMEType string
	Size     int64
	ParentID string
}

// ByteRange is the inclusive byte span of one chunk. Total is 0 when unknown.
type ByteRange struct {
	Start int64
	End   int64
	Total int64
}

// ContentRange renders the range as a Content-Range header value.
func (r ByteRange) ContentRange() string {
	total := "*"
	if r.Total > 0 {
		total = fmt.Sprintf("%d", r.Total)
	}
	return fmt.Sprintf("bytes %d-%d/%s", r.Start, r.End, total)
}

// Len is the number of bytes the range covers.
func (r ByteRange) Len() int64 {
	return r.End - r.Start + 1
}

// ChunkResult is the outcome of one ranged PUT to a resumable session.
type ChunkResult struct {
	Complete bool
	// NextOffset is the first byte the upstream still expects; -1 when unknown.
	NextOffset int64
	File       *FileMetadata
}

// Drive is the slice of the Google Drive API the portal depends on.
// Tests substitute the in-memory implementation.
type Drive interface {
	// GetFolder fetches metadata for any file or folder id, across shared drives.
	GetFolder(ctx context.Context, id string) (*FileMetadata, error)

	// FindFolder looks up a non-trashed folder named exactly name whose
	// immediate parent is parentID. Returns ErrNotFound when absent.
	FindFolder(ctx context.Context, name, parentID string) (*FileMetadata, error)

	// CreateFolder creates a folder under parentID.
	CreateFolder(ctx context.Context, name, parentID string) (*FileMetadata, error)

	// FindFile looks up a non-trashed file by exact name under parentID.
	FindFile(ctx context.Context, name, parentID string) (*FileMetadata, error)

	// GetFile fetches file metadata by id.
	GetFile(ctx context.Context, id string) (*FileMetadata, error)

	// CreateFile uploads a whole file in one request.
	CreateFile(ctx context.Context, in FileInput) (*FileMetadata, error)

	// OpenResumableSession starts a resumable upload and returns the session URL.
	OpenResumableSession(ctx context.Context, req ResumableRequest) (string, error)

	// PutChunk sends one byte range to a resumable session URL.
	PutChunk(ctx context.Context, uploadURL string, chunk []byte, r ByteRange) (*ChunkResult, error)
}
