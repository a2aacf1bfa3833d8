package googledrive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter"
)

// DefaultUploadBaseURL is the Drive media upload endpoint.
const DefaultUploadBaseURL = "https://www.googleapis.com/upload/drive/v3/files"

// statusResumeIncomplete is what Drive answers to a chunk that did not finish the upload.
const statusResumeIncomplete = 308

const fileFields = "id, name, mimeType, modifiedTime, size, md5Checksum, parents, driveId, webViewLink, owners(emailAddress), capabilities(canAddChildren)"

var queryEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// DriveAdapter implements adapter.Drive for Google Drive.
type DriveAdapter struct {
	service       *drive.Service
	authed        *resty.Client
	transfer      *resty.Client
	uploadBaseURL string
	openTimeout   time.Duration
}

type settings struct {
	endpoint       string
	uploadBaseURL  string
	transferClient *http.Client
	openTimeout    time.Duration
	chunkTimeout   time.Duration
}

// Option customizes a DriveAdapter.
type Option func(*settings)

// WithEndpoint points the metadata API at another base URL (tests).
func WithEndpoint(url string) Option {
	return func(s *settings) { s.endpoint = url }
}

// WithUploadBaseURL overrides the media upload endpoint.
func WithUploadBaseURL(url string) Option {
	return func(s *settings) { s.uploadBaseURL = url }
}

// WithTransferClient sets the unauthenticated client used for chunk PUTs.
func WithTransferClient(c *http.Client) Option {
	return func(s *settings) { s.transferClient = c }
}

// WithTimeouts bounds session opening and each chunk PUT.
func WithTimeouts(open, chunk time.Duration) Option {
	return func(s *settings) {
		s.openTimeout = open
		s.chunkTimeout = chunk
	}
}

// NewDriveAdapter creates a DriveAdapter.
// client should be an authenticated http.Client for the Drive identity.
func NewDriveAdapter(ctx context.Context, client *http.Client, opts ...Option) (*DriveAdapter, error) {
	s := settings{
		uploadBaseURL: DefaultUploadBaseURL,
		openTimeout:   30 * time.Second,
		chunkTimeout:  60 * time.Second,
	}
	for _, opt := range opts {
		opt(&s)
	}

	clientOpts := []option.ClientOption{option.WithHTTPClient(client)}
	if s.endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(s.endpoint))
	}
	srv, err := drive.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Drive client: %w", err)
	}

	transfer := resty.New()
	if s.transferClient != nil {
		transfer = resty.NewWithClient(s.transferClient)
	}

	return &DriveAdapter{
		service:       srv,
		authed:        resty.NewWithClient(client),
		transfer:      transfer.SetTimeout(s.chunkTimeout),
		uploadBaseURL: s.uploadBaseURL,
		openTimeout:   s.openTimeout,
	}, nil
}

// GetFolder fetches metadata for id, which may live on a shared drive.
func (d *DriveAdapter) GetFolder(ctx context.Context, id string) (*adapter.FileMetadata, error) {
	f, err := d.service.Files.Get(id).
		SupportsAllDrives(true).
		Fields(googleapi.Field(fileFields)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapError("get folder", err)
	}
	meta := toMetadata(f)
	return &meta, nil
}

// FindFolder returns the oldest folder named name directly under parentID.
func (d *DriveAdapter) FindFolder(ctx context.Context, name, parentID string) (*adapter.FileMetadata, error) {
	return d.findOne(ctx, "find folder", folderQuery(name, parentID))
}

// FindFile returns the most recent non-folder named name directly under parentID.
func (d *DriveAdapter) FindFile(ctx context.Context, name, parentID string) (*adapter.FileMetadata, error) {
	q := fmt.Sprintf("name = '%s' and mimeType != '%s' and '%s' in parents and trashed = false",
		queryEscaper.Replace(name), adapter.FolderMIMEType, queryEscaper.Replace(parentID))
	return d.findOne(ctx, "find file", q, "createdTime desc")
}

func (d *DriveAdapter) findOne(ctx context.Context, op, q string, orderBy ...string) (*adapter.FileMetadata, error) {
	order := "createdTime"
	if len(orderBy) > 0 {
		order = orderBy[0]
	}
	r, err := d.service.Files.List().
		Q(q).
		OrderBy(order).
		PageSize(1).
		Corpora("allDrives").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Fields(googleapi.Field("files(" + fileFields + ")")).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapError(op, err)
	}
	if len(r.Files) == 0 {
		return nil, adapter.ErrNotFound
	}
	meta := toMetadata(r.Files[0])
	return &meta, nil
}

// CreateFolder creates a folder under parentID.
func (d *DriveAdapter) CreateFolder(ctx context.Context, name, parentID string) (*adapter.FileMetadata, error) {
	f := &drive.File{
		Name:     name,
		MimeType: adapter.FolderMIMEType,
		Parents:  []string{parentID},
	}
	res, err := d.service.Files.Create(f).
		SupportsAllDrives(true).
		Fields(googleapi.Field(fileFields)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapError("create folder", err)
	}
	meta := toMetadata(res)
	return &meta, nil
}

// GetFile fetches file metadata by id.
func (d *DriveAdapter) GetFile(ctx context.Context, id string) (*adapter.FileMetadata, error) {
	f, err := d.service.Files.Get(id).
		SupportsAllDrives(true).
		Fields(googleapi.Field(fileFields)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapError("get file", err)
	}
	meta := toMetadata(f)
	return &meta, nil
}

// CreateFile uploads a whole file with a single multipart request.
func (d *DriveAdapter) CreateFile(ctx context.Context, in adapter.FileInput) (*adapter.FileMetadata, error) {
	f := &drive.File{
		Name:     in.Name,
		MimeType: in.MIMEType,
		Parents:  []string{in.ParentID},
	}
	res, err := d.service.Files.Create(f).
		Media(in.Content, googleapi.ContentType(in.MIMEType)).
		SupportsAllDrives(true).
		Fields(googleapi.Field(fileFields)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapError("create file", err)
	}
	meta := toMetadata(res)
	return &meta, nil
}

// OpenResumableSession posts file metadata and returns the session URL from
// the Location header. The final chunk response carries fileFields.
func (d *DriveAdapter) OpenResumableSession(ctx context.Context, req adapter.ResumableRequest) (string, error) {
	const op = "open resumable session"
	// The authorized client is shared with the metadata service, so bound
	// this call through the context rather than a client timeout.
	ctx, cancel := context.WithTimeout(ctx, d.openTimeout)
	defer cancel()
	resp, err := d.authed.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"uploadType":        "resumable",
			"supportsAllDrives": "true",
			"fields":            fileFields,
		}).
		SetHeader("Content-Type", "application/json; charset=UTF-8").
		SetHeader("X-Upload-Content-Type", req.MIMEType).
		SetHeader("X-Upload-Content-Length", strconv.FormatInt(req.Size, 10)).
		SetBody(map[string]any{
			"name":     req.Name,
			"mimeType": req.MIMEType,
			"parents":  []string{req.ParentID},
		}).
		Post(d.uploadBaseURL)
	if err != nil {
		return "", mapError(op, err)
	}
	if !resp.IsSuccess() {
		return "", &adapter.UpstreamError{Op: op, StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	location := resp.Header().Get("Location")
	if location == "" {
		return "", &adapter.UpstreamError{Op: op, StatusCode: resp.StatusCode(), Body: "response has no Location header"}
	}
	return location, nil
}

// PutChunk sends one byte range to a session URL. The URL itself is the
// credential, so the request goes out without an Authorization header.
func (d *DriveAdapter) PutChunk(ctx context.Context, uploadURL string, chunk []byte, r adapter.ByteRange) (*adapter.ChunkResult, error) {
	const op = "put chunk"
	if err := d.checkSessionURL(uploadURL); err != nil {
		return nil, err
	}
	resp, err := d.transfer.R().
		SetContext(ctx).
		SetHeader("Content-Range", r.ContentRange()).
		SetBody(chunk).
		Put(uploadURL)
	if err != nil {
		return nil, mapError(op, err)
	}

	switch status := resp.StatusCode(); {
	case status == statusResumeIncomplete:
		return &adapter.ChunkResult{Complete: false, NextOffset: nextOffset(resp.Header().Get("Range"))}, nil
	case status >= 200 && status < 300:
		var f drive.File
		if err := json.Unmarshal(resp.Body(), &f); err != nil {
			return nil, fmt.Errorf("%s: decode file metadata: %w", op, err)
		}
		meta := toMetadata(&f)
		return &adapter.ChunkResult{Complete: true, NextOffset: r.End + 1, File: &meta}, nil
	default:
		return nil, &adapter.UpstreamError{Op: op, StatusCode: status, Body: resp.String()}
	}
}

// checkSessionURL refuses to relay bytes anywhere but the upload host.
func (d *DriveAdapter) checkSessionURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", adapter.ErrInvalidSessionURL, err)
	}
	base, err := url.Parse(d.uploadBaseURL)
	if err != nil {
		return fmt.Errorf("invalid upload base url: %w", err)
	}
	if u.Scheme != base.Scheme || u.Host != base.Host {
		return fmt.Errorf("%w: unexpected host %q", adapter.ErrInvalidSessionURL, u.Host)
	}
	return nil
}

// nextOffset parses a "bytes=0-N" Range header. No header means nothing was persisted.
func nextOffset(header string) int64 {
	if header == "" {
		return 0
	}
	_, span, ok := strings.Cut(header, "=")
	if !ok {
		return -1
	}
	_, end, ok := strings.Cut(span, "-")
	if !ok {
		return -1
	}
	n, err := strconv.ParseInt(end, 10, 64)
	if err != nil {
		return -1
	}
	return n + 1
}

func folderQuery(name, parentID string) string {
	return fmt.Sprintf("name = '%s' and mimeType = '%s' and '%s' in parents and trashed = false",
		queryEscaper.Replace(name), adapter.FolderMIMEType, queryEscaper.Replace(parentID))
}

func toMetadata(f *drive.File) adapter.FileMetadata {
	modTime, _ := time.Parse(time.RFC3339, f.ModifiedTime)
	meta := adapter.FileMetadata{
		ID:           f.Id,
		Name:         f.Name,
		MIMEType:     f.MimeType,
		ModifiedTime: modTime,
		Size:         f.Size,
		MD5Checksum:  f.Md5Checksum,
		Parents:      f.Parents,
		DriveID:      f.DriveId,
		WebViewLink:  f.WebViewLink,
	}
	for _, o := range f.Owners {
		meta.OwnerEmails = append(meta.OwnerEmails, o.EmailAddress)
	}
	if f.Capabilities != nil {
		meta.CanAddChildren = f.Capabilities.CanAddChildren
	}
	return meta
}

// mapError turns Google API and token errors into adapter errors.
func mapError(op string, err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		body := gErr.Message
		if body == "" {
			body = gErr.Body
		}
		return &adapter.UpstreamError{Op: op, StatusCode: gErr.Code, Body: body}
	}
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		return fmt.Errorf("%s: %w: %v", op, adapter.ErrCredentialsRejected, rErr)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ adapter.Drive = (*DriveAdapter)(nil)
