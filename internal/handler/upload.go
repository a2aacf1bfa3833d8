package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/auth"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/folder"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/model"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/upload"
)

// Uploader is the upload relay.
type Uploader interface {
	Limits() upload.Limits
	Simple(ctx context.Context, t folder.Target, f upload.File) (*adapter.FileMetadata, error)
	Initiate(ctx context.Context, req upload.InitiateRequest) (*upload.Session, error)
	RelayChunk(ctx context.Context, req upload.ChunkRequest) (*upload.ChunkResult, error)
	Complete(ctx context.Context, req upload.CompleteRequest) (*adapter.FileMetadata, error)
}

// UploadHandler exposes the three upload paths.
type UploadHandler struct {
	sessions *auth.SessionManager
	uploads  Uploader
}

// NewUploadHandler creates a new UploadHandler.
func NewUploadHandler(sessions *auth.SessionManager, uploads Uploader) *UploadHandler {
	return &UploadHandler{sessions: sessions, uploads: uploads}
}

// Limits returns the size thresholds the browser must honour.
func (h *UploadHandler) Limits(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, err := RequireRole(req, h.sessions, model.RoleUser); err != nil {
		return errorResponse(err), nil
	}
	return jsonResponse(http.StatusOK, h.uploads.Limits()), nil
}

// Initiate opens a resumable session in the target folder.
func (h *UploadHandler) Initiate(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, err := RequireRole(req, h.sessions, model.RoleUser); err != nil {
		return errorResponse(err), nil
	}
	var payload upload.InitiateRequest
	if err := decodeJSON(req, &payload); err != nil {
		return errorResponse(err), nil
	}
	sess, err := h.uploads.Initiate(ctx, payload)
	if err != nil {
		return errorResponse(err), nil
	}
	return jsonResponse(http.StatusOK, sess), nil
}

// intField parses an optional integer form field.
func intField(f *form, name string, def int64) (int64, error) {
	v := f.value(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errBadRequest, name)
	}
	return n, nil
}

func chunkRequest(f *form) (upload.ChunkRequest, error) {
	chunk := f.files["chunk"]
	uploadURL := f.value("uploadUrl")
	if uploadURL == "" || chunk == nil {
		return upload.ChunkRequest{}, fmt.Errorf("%w: missing uploadUrl or chunk", errBadRequest)
	}
	index, err := intField(f, "chunkIndex", 0)
	if err != nil {
		return upload.ChunkRequest{}, err
	}
	total, err := intField(f, "totalChunks", 1)
	if err != nil {
		return upload.ChunkRequest{}, err
	}
	start, err := intField(f, "startByte", 0)
	if err != nil {
		return upload.ChunkRequest{}, err
	}
	end, err := intField(f, "endByte", start+int64(len(chunk.Data))-1)
	if err != nil {
		return upload.ChunkRequest{}, err
	}
	size, err := intField(f, "totalSize", 0)
	if err != nil {
		return upload.ChunkRequest{}, err
	}
	return upload.ChunkRequest{
		UploadURL:   uploadURL,
		Chunk:       chunk.Data,
		ChunkIndex:  int(index),
		TotalChunks: int(total),
		Start:       start,
		End:         end,
		TotalSize:   size,
	}, nil
}

// Proxy relays one multipart chunk to a resumable session.
func (h *UploadHandler) Proxy(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, err := RequireRole(req, h.sessions, model.RoleUser); err != nil {
		return errorResponse(err), nil
	}
	f, err := parseForm(req, h.uploads.Limits().ChunkMaxBytes)
	if err != nil {
		return errorResponse(err), nil
	}
	cr, err := chunkRequest(f)
	if err != nil {
		return errorResponse(err), nil
	}
	res, err := h.uploads.RelayChunk(ctx, cr)
	if err != nil {
		return errorResponse(err), nil
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"ok":         true,
		"complete":   res.Complete,
		"chunkIndex": cr.ChunkIndex,
		"nextOffset": res.NextOffset,
		"file":       res.File,
	}), nil
}

// Complete confirms a finished upload and returns its metadata.
func (h *UploadHandler) Complete(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, err := RequireRole(req, h.sessions, model.RoleUser); err != nil {
		return errorResponse(err), nil
	}
	var payload upload.CompleteRequest
	if err := decodeJSON(req, &payload); err != nil {
		return errorResponse(err), nil
	}
	file, err := h.uploads.Complete(ctx, payload)
	if err != nil {
		return errorResponse(err), nil
	}
	return jsonResponse(http.StatusOK, map[string]any{"ok": true, "file": file}), nil
}

// Upload is the legacy single-request upload for small files.
func (h *UploadHandler) Upload(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, err := RequireRole(req, h.sessions, model.RoleUser); err != nil {
		return errorResponse(err), nil
	}
	f, err := parseForm(req, h.uploads.Limits().SimpleMaxBytes)
	if err != nil {
		return errorResponse(err), nil
	}
	t := folder.Target{Client: f.value("client"), Campaign: f.value("campaign"), Publication: f.value("publication")}
	file := f.files["file"]
	if file == nil {
		return errorResponse(fmt.Errorf("%w: missing fields", errBadRequest)), nil
	}
	meta, err := h.uploads.Simple(ctx, t, upload.File{Name: file.Name, MIMEType: file.ContentType, Content: file.Data})
	if err != nil {
		return errorResponse(err), nil
	}
	return jsonResponse(http.StatusOK, map[string]any{"ok": true, "fileId": meta.ID, "file": meta}), nil
}
