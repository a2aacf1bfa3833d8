package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter"
)

// SessionURLPrefix prefixes the upload URLs handed out by OpenResumableSession.
const SessionURLPrefix = "memory://upload/"

// Operation names accepted by FailNext and Calls.
const (
	OpGetFolder     = "GetFolder"
	OpFindFolder    = "FindFolder"
	OpCreateFolder  = "CreateFolder"
	OpFindFile      = "FindFile"
	OpGetFile       = "GetFile"
	OpCreateFile    = "CreateFile"
	OpOpenResumable = "OpenResumableSession"
	OpPutChunk      = "PutChunk"
)

type item struct {
	meta    adapter.FileMetadata
	content []byte
	trashed bool
}

type uploadSession struct {
	req adapter.ResumableRequest
	buf []byte
}

// Drive implements adapter.Drive in memory, including resumable sessions.
// It backs the tests and DEV_MODE.
type Drive struct {
	mu        sync.RWMutex
	files     map[string]*item
	order     []string
	sessions  map[string]*uploadSession
	forbidden map[string]bool
	faults    map[string][]error
	calls     map[string]int
	now       func() time.Time
}

// NewDrive returns an empty Drive.
func NewDrive() *Drive {
	return &Drive{
		files:     make(map[string]*item),
		sessions:  make(map[string]*uploadSession),
		forbidden: make(map[string]bool),
		faults:    make(map[string][]error),
		calls:     make(map[string]int),
		now:       time.Now,
	}
}

// FailNext queues err to be returned by the next call of op.
func (d *Drive) FailNext(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[op] = append(d.faults[op], err)
}

// Forbid makes every access to id fail with 403.
func (d *Drive) Forbid(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forbidden[id] = true
}

// Calls reports how many times op was invoked.
func (d *Drive) Calls(op string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.calls[op]
}

// TotalCalls reports the number of calls across all operations.
func (d *Drive) TotalCalls() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, c := range d.calls {
		n += c
	}
	return n
}

// Trash marks id as trashed so lookups skip it.
func (d *Drive) Trash(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if it, ok := d.files[id]; ok {
		it.trashed = true
	}
}

// Children lists the non-trashed items directly under parentID in creation order.
func (d *Drive) Children(parentID string) []adapter.FileMetadata {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := []adapter.FileMetadata{}
	for _, id := range d.order {
		it := d.files[id]
		if !it.trashed && hasParent(it.meta.Parents, parentID) {
			out = append(out, it.meta)
		}
	}
	return out
}

// Content returns the stored bytes of a file.
func (d *Drive) Content(id string) ([]byte, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	it, ok := d.files[id]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), it.content...), true
}

// begin counts a call and pops a queued fault. Caller must hold d.mu.
func (d *Drive) begin(ctx context.Context, op string) error {
	d.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if q := d.faults[op]; len(q) > 0 {
		d.faults[op] = q[1:]
		return q[0]
	}
	return nil
}

func (d *Drive) lookup(op, id string) (*item, error) {
	if d.forbidden[id] {
		return nil, &adapter.UpstreamError{Op: op, StatusCode: http.StatusForbidden, Body: "The user does not have sufficient permissions for file " + id + "."}
	}
	if id == adapter.RootID {
		return &item{meta: adapter.FileMetadata{ID: adapter.RootID, Name: "My Drive", MIMEType: adapter.FolderMIMEType, CanAddChildren: true}}, nil
	}
	it, ok := d.files[id]
	if !ok || it.trashed {
		return nil, &adapter.UpstreamError{Op: op, StatusCode: http.StatusNotFound, Body: "File not found: " + id + "."}
	}
	return it, nil
}

func (d *Drive) GetFolder(ctx context.Context, id string) (*adapter.FileMetadata, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, OpGetFolder); err != nil {
		return nil, err
	}
	it, err := d.lookup("get folder", id)
	if err != nil {
		return nil, err
	}
	meta := it.meta
	return &meta, nil
}

func (d *Drive) find(name, parentID string, folder bool) *adapter.FileMetadata {
	for _, id := range d.order {
		it := d.files[id]
		if it.trashed || it.meta.Name != name || !hasParent(it.meta.Parents, parentID) {
			continue
		}
		if it.meta.IsFolder() != folder {
			continue
		}
		meta := it.meta
		return &meta
	}
	return nil
}

func (d *Drive) FindFolder(ctx context.Context, name, parentID string) (*adapter.FileMetadata, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, OpFindFolder); err != nil {
		return nil, err
	}
	if _, err := d.lookup("find folder", parentID); err != nil {
		return nil, err
	}
	if f := d.find(name, parentID, true); f != nil {
		return f, nil
	}
	return nil, adapter.ErrNotFound
}

func (d *Drive) CreateFolder(ctx context.Context, name, parentID string) (*adapter.FileMetadata, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, OpCreateFolder); err != nil {
		return nil, err
	}
	if _, err := d.lookup("create folder", parentID); err != nil {
		return nil, err
	}
	return d.insert(name, adapter.FolderMIMEType, parentID, nil), nil
}

func (d *Drive) FindFile(ctx context.Context, name, parentID string) (*adapter.FileMetadata, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, OpFindFile); err != nil {
		return nil, err
	}
	if _, err := d.lookup("find file", parentID); err != nil {
		return nil, err
	}
	if f := d.find(name, parentID, false); f != nil {
		return f, nil
	}
	return nil, adapter.ErrNotFound
}

func (d *Drive) GetFile(ctx context.Context, id string) (*adapter.FileMetadata, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, OpGetFile); err != nil {
		return nil, err
	}
	it, err := d.lookup("get file", id)
	if err != nil {
		return nil, err
	}
	meta := it.meta
	return &meta, nil
}

func (d *Drive) CreateFile(ctx context.Context, in adapter.FileInput) (*adapter.FileMetadata, error) {
	// Read outside the lock; the reader may be slow.
	var content []byte
	if in.Content != nil {
		b, err := io.ReadAll(in.Content)
		if err != nil {
			return nil, fmt.Errorf("read upload content: %w", err)
		}
		content = b
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, OpCreateFile); err != nil {
		return nil, err
	}
	if _, err := d.lookup("create file", in.ParentID); err != nil {
		return nil, err
	}
	return d.insert(in.Name, in.MIMEType, in.ParentID, content), nil
}

func (d *Drive) OpenResumableSession(ctx context.Context, req adapter.ResumableRequest) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, OpOpenResumable); err != nil {
		return "", err
	}
	if _, err := d.lookup("open resumable session", req.ParentID); err != nil {
		return "", err
	}
	id := uuid.New().String()
	d.sessions[id] = &uploadSession{req: req}
	return SessionURLPrefix + id, nil
}

func (d *Drive) PutChunk(ctx context.Context, uploadURL string, chunk []byte, r adapter.ByteRange) (*adapter.ChunkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, OpPutChunk); err != nil {
		return nil, err
	}
	const op = "put chunk"
	if !strings.HasPrefix(uploadURL, SessionURLPrefix) {
		return nil, fmt.Errorf("%w: %q", adapter.ErrInvalidSessionURL, uploadURL)
	}
	s, ok := d.sessions[strings.TrimPrefix(uploadURL, SessionURLPrefix)]
	if !ok {
		return nil, &adapter.UpstreamError{Op: op, StatusCode: http.StatusNotFound, Body: "upload session not found"}
	}
	if int64(len(chunk)) != r.Len() {
		return nil, &adapter.UpstreamError{Op: op, StatusCode: http.StatusBadRequest, Body: "chunk length does not match Content-Range"}
	}
	received := int64(len(s.buf))
	if r.Start > received {
		return nil, &adapter.UpstreamError{Op: op, StatusCode: http.StatusBadRequest, Body: fmt.Sprintf("range starts at %d but only %d bytes received", r.Start, received)}
	}
	// Resending an already received range overwrites it.
	s.buf = append(s.buf[:r.Start], chunk...)
	received = int64(len(s.buf))

	if r.Total > 0 && received > r.Total {
		return nil, &adapter.UpstreamError{Op: op, StatusCode: http.StatusBadRequest, Body: "received more bytes than declared"}
	}
	if r.Total == 0 || received < r.Total {
		return &adapter.ChunkResult{Complete: false, NextOffset: received}, nil
	}

	id := strings.TrimPrefix(uploadURL, SessionURLPrefix)
	delete(d.sessions, id)
	meta := d.insert(s.req.Name, s.req.MIMEType, s.req.ParentID, s.buf)
	return &adapter.ChunkResult{Complete: true, NextOffset: received, File: meta}, nil
}

// insert stores a new item. Caller must hold d.mu.
func (d *Drive) insert(name, mimeType, parentID string, content []byte) *adapter.FileMetadata {
	id := uuid.New().String()
	sum := ""
	if mimeType != adapter.FolderMIMEType {
		h := md5.Sum(content)
		sum = hex.EncodeToString(h[:])
	}
	meta := adapter.FileMetadata{
		ID:             id,
		Name:           name,
		MIMEType:       mimeType,
		ModifiedTime:   d.now(),
		Size:           int64(len(content)),
		MD5Checksum:    sum,
		Parents:        []string{parentID},
		WebViewLink:    "https://drive.google.com/file/d/" + id + "/view",
		CanAddChildren: mimeType == adapter.FolderMIMEType,
	}
	d.files[id] = &item{meta: meta, content: bytes.Clone(content)}
	d.order = append(d.order, id)
	return &meta
}

func hasParent(parents []string, id string) bool {
	for _, p := range parents {
		if p == id {
			return true
		}
	}
	return false
}

var _ adapter.Drive = (*Drive)(nil)
