// Package upload moves files from the browser into the resolved Drive folder:
// whole small files, resumable session hand-off, and a chunk relay for
// clients that cannot reach Drive themselves.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/folder"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/logging"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/retry"
)

// DefaultMIMEType is used when the browser does not report a type.
const DefaultMIMEType = "application/octet-stream"

var (
	ErrPayloadTooLarge = errors.New("file is too large for a direct upload")
	ErrChunkTooLarge   = errors.New("chunk exceeds the relay size limit")
	ErrChunkAlignment  = errors.New("chunk size is not a multiple of 256 KiB")
	ErrInvalidRange    = errors.New("invalid chunk range")
	ErrInvalidRequest  = errors.New("invalid upload request")
)

// Limits are the size thresholds shared with the browser.
type Limits struct {
	SimpleMaxBytes int64 `json:"simpleMaxBytes"`
	ChunkMaxBytes  int64 `json:"chunkMaxBytes"`
	ChunkSizeBytes int64 `json:"chunkSizeBytes"`
}

// Service runs the three upload strategies.
type Service struct {
	provider adapter.Provider
	resolver *folder.Resolver
	policy   retry.Policy
	limits   Limits
	loc      *time.Location
	now      func() time.Time
}

// NewService creates a Service. Dated file names use loc.
func NewService(provider adapter.Provider, resolver *folder.Resolver, policy retry.Policy, limits Limits, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		provider: provider,
		resolver: resolver,
		policy:   policy,
		limits:   limits,
		loc:      loc,
		now:      time.Now,
	}
}

// Limits returns the configured thresholds.
func (s *Service) Limits() Limits {
	return s.limits
}

// DestinationName builds "{publication}_{yyyy-mm-dd}_{name}" from the base
// name of original. Browsers may send a Windows path such as C:\fakepath\x.pdf.
func DestinationName(publication, original string, date time.Time) string {
	base := path.Base(strings.ReplaceAll(original, `\`, "/"))
	return fmt.Sprintf("%s_%s_%s", strings.TrimSpace(publication), date.Format("2006-01-02"), base)
}

func (s *Service) destinationName(publication, original string) string {
	return DestinationName(publication, original, s.now().In(s.loc))
}

// File is a whole file for a simple upload.
type File struct {
	Name     string
	MIMEType string
	Content  []byte
}

// Simple uploads f into the folder for t in one request.
func (s *Service) Simple(ctx context.Context, t folder.Target, f File) (*adapter.FileMetadata, error) {
	if int64(len(f.Content)) > s.limits.SimpleMaxBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(f.Content), s.limits.SimpleMaxBytes)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(f.Name) == "" {
		return nil, fmt.Errorf("%w: missing file name", ErrInvalidRequest)
	}
	mimeType := f.MIMEType
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}

	d, err := s.provider.GetDrive(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.resolver.Resolve(ctx, d, t)
	if err != nil {
		return nil, err
	}

	name := s.destinationName(t.Publication, f.Name)
	file, err := retry.Value(ctx, s.policy, "create file", func(ctx context.Context) (*adapter.FileMetadata, error) {
		return d.CreateFile(ctx, adapter.FileInput{
			Name:     name,
			MIMEType: mimeType,
			ParentID: p.Leaf(),
			Content:  bytes.NewReader(f.Content),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %q: %w", name, err)
	}
	log.WithFields(log.Fields{"file_id": file.ID, "name": name, "bytes": len(f.Content)}).Info("uploaded file")
	return file, nil
}

// InitiateRequest asks for a resumable session.
type InitiateRequest struct {
	folder.Target
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MIMEType string `json:"mimeType"`
}

// Session is an open resumable upload.
type Session struct {
	UploadURL string `json:"uploadUrl"`
	FileName  string `json:"fileName"`
	FolderID  string `json:"folderId"`
}

// Initiate resolves the target folder and opens a resumable session there.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*Session, error) {
	if err := req.Target.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.FileName) == "" {
		return nil, fmt.Errorf("%w: missing file name", ErrInvalidRequest)
	}
	if req.FileSize <= 0 {
		return nil, fmt.Errorf("%w: file size must be positive", ErrInvalidRequest)
	}
	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}

	d, err := s.provider.GetDrive(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.resolver.Resolve(ctx, d, req.Target)
	if err != nil {
		return nil, err
	}

	name := s.destinationName(req.Publication, req.FileName)
	uploadURL, err := retry.Value(ctx, s.policy, "open resumable session", func(ctx context.Context) (string, error) {
		return d.OpenResumableSession(ctx, adapter.ResumableRequest{
			Name:     name,
			MIMEType: mimeType,
			Size:     req.FileSize,
			ParentID: p.Leaf(),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open upload session for %q: %w", name, err)
	}
	log.WithFields(log.Fields{
		"name":       name,
		"bytes":      req.FileSize,
		"folder_id":  p.Leaf(),
		"upload_url": logging.Redact(uploadURL),
	}).Info("opened resumable session")
	return &Session{UploadURL: uploadURL, FileName: name, FolderID: p.Leaf()}, nil
}

// ChunkRequest is one piece relayed to a resumable session.
type ChunkRequest struct {
	UploadURL   string
	Chunk       []byte
	ChunkIndex  int
	TotalChunks int
	Start       int64
	End         int64
	// TotalSize is 0 when the client does not know it.
	TotalSize int64
}

func (r ChunkRequest) last() bool {
	return r.ChunkIndex == r.TotalChunks-1
}

// ChunkResult is what the relay reports back to the client.
type ChunkResult struct {
	Complete   bool                  `json:"complete"`
	NextOffset int64                 `json:"nextOffset"`
	File       *adapter.FileMetadata `json:"file,omitempty"`
}

// RelayChunk forwards one chunk. It never retries: resending the same range
// is safe, so the caller decides.
func (s *Service) RelayChunk(ctx context.Context, req ChunkRequest) (*ChunkResult, error) {
	if int64(len(req.Chunk)) > s.limits.ChunkMaxBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrChunkTooLarge, len(req.Chunk), s.limits.ChunkMaxBytes)
	}
	r, err := req.byteRange()
	if err != nil {
		return nil, err
	}

	d, err := s.provider.GetDrive(ctx)
	if err != nil {
		return nil, err
	}
	res, err := d.PutChunk(ctx, req.UploadURL, req.Chunk, r)
	if err != nil {
		return nil, fmt.Errorf("failed to relay chunk %d/%d: %w", req.ChunkIndex+1, req.TotalChunks, err)
	}

	log.WithFields(log.Fields{
		"chunk":      req.ChunkIndex + 1,
		"total":      req.TotalChunks,
		"bytes":      len(req.Chunk),
		"complete":   res.Complete,
		"upload_url": logging.Redact(req.UploadURL),
	}).Info("relayed chunk")
	return &ChunkResult{Complete: res.Complete, NextOffset: res.NextOffset, File: res.File}, nil
}

func (r ChunkRequest) byteRange() (adapter.ByteRange, error) {
	if r.UploadURL == "" {
		return adapter.ByteRange{}, fmt.Errorf("%w: missing upload url", ErrInvalidRequest)
	}
	if len(r.Chunk) == 0 {
		return adapter.ByteRange{}, fmt.Errorf("%w: empty chunk", ErrInvalidRange)
	}
	if r.TotalChunks <= 0 || r.ChunkIndex < 0 || r.ChunkIndex >= r.TotalChunks {
		return adapter.ByteRange{}, fmt.Errorf("%w: chunk %d of %d", ErrInvalidRange, r.ChunkIndex, r.TotalChunks)
	}
	if r.Start < 0 || r.End < r.Start {
		return adapter.ByteRange{}, fmt.Errorf("%w: bytes %d-%d", ErrInvalidRange, r.Start, r.End)
	}
	br := adapter.ByteRange{Start: r.Start, End: r.End, Total: r.TotalSize}
	if br.Len() != int64(len(r.Chunk)) {
		return adapter.ByteRange{}, fmt.Errorf("%w: range covers %d bytes but chunk has %d", ErrInvalidRange, br.Len(), len(r.Chunk))
	}
	if r.TotalSize > 0 && r.End >= r.TotalSize {
		return adapter.ByteRange{}, fmt.Errorf("%w: range ends at %d past total %d", ErrInvalidRange, r.End, r.TotalSize)
	}
	// Drive only finalizes once it knows the total; the last chunk implies it.
	if br.Total == 0 && r.last() {
		br.Total = r.End + 1
	}
	return br, nil
}

// CompleteRequest identifies a finished upload, by id or by name and target.
type CompleteRequest struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	folder.Target
}

// Complete returns the metadata of a finished upload.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (*adapter.FileMetadata, error) {
	if req.FileID == "" {
		if err := req.Target.Validate(); err != nil {
			return nil, err
		}
		if strings.TrimSpace(req.FileName) == "" {
			return nil, fmt.Errorf("%w: fileId or fileName is required", ErrInvalidRequest)
		}
	}

	d, err := s.provider.GetDrive(ctx)
	if err != nil {
		return nil, err
	}

	if req.FileID != "" {
		return retry.Value(ctx, s.policy, "get file", func(ctx context.Context) (*adapter.FileMetadata, error) {
			return d.GetFile(ctx, req.FileID)
		})
	}

	p, err := s.resolver.Find(ctx, d, req.Target)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{s.destinationName(req.Publication, req.FileName), req.FileName} {
		f, err := retry.Value(ctx, s.policy, "find file", func(ctx context.Context) (*adapter.FileMetadata, error) {
			return d.FindFile(ctx, name, p.Leaf())
		})
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, adapter.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("uploaded file %q: %w", req.FileName, adapter.ErrNotFound)
}
