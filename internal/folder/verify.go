package folder

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter"
)

// FolderInfo describes a folder the Drive identity can see.
type FolderInfo struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	MIMEType      string   `json:"mimeType"`
	IsFolder      bool     `json:"isFolder"`
	DriveID       string   `json:"driveId,omitempty"`
	IsSharedDrive bool     `json:"isSharedDrive"`
	Parents       []string `json:"parents"`
	Owners        []string `json:"owners"`
}

// Verification is the admin-facing result of checking a folder.
type Verification struct {
	Success         bool        `json:"success"`
	FolderID        string      `json:"folderId"`
	Folder          *FolderInfo `json:"folder,omitempty"`
	Error           string      `json:"error,omitempty"`
	Code            int         `json:"code,omitempty"`
	Message         string      `json:"message"`
	Recommendations []string    `json:"recommendations"`
}

var accessRecommendations = []string{
	"Make sure the folder is shared with the service account email",
	"Give the service account \"Editor\" permissions",
	"Verify domain-wide delegation is configured correctly",
	"Check that the impersonated user has access to this folder",
}

// VerifyFolder checks whether idOrURL names a folder the Drive identity can
// use. Access failures are reported in the result; configuration errors and
// malformed input are returned as errors.
func VerifyFolder(ctx context.Context, d adapter.Drive, idOrURL string) (*Verification, error) {
	id, err := ParseFolderID(idOrURL)
	if err != nil {
		return nil, err
	}

	meta, err := d.GetFolder(ctx, id)
	if err != nil {
		if adapter.IsConfigError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return &Verification{
			Success:         false,
			FolderID:        id,
			Error:           err.Error(),
			Code:            adapter.UpstreamStatus(err),
			Message:         "Could not access folder",
			Recommendations: accessRecommendations,
		}, nil
	}

	info := &FolderInfo{
		ID:            meta.ID,
		Name:          meta.Name,
		MIMEType:      meta.MIMEType,
		IsFolder:      meta.IsFolder(),
		DriveID:       meta.DriveID,
		IsSharedDrive: meta.DriveID != "",
		Parents:       nonNil(meta.Parents),
		Owners:        nonNil(meta.OwnerEmails),
	}
	v := &Verification{
		Success:         true,
		FolderID:        id,
		Folder:          info,
		Recommendations: []string{},
	}
	if info.IsFolder {
		v.Message = fmt.Sprintf("Folder %q is accessible", meta.Name)
		if !meta.CanAddChildren {
			v.Recommendations = append(v.Recommendations, "The Drive identity cannot add files to this folder")
		}
	} else {
		v.Message = fmt.Sprintf("This is not a folder (%s)", meta.MIMEType)
		v.Recommendations = append(v.Recommendations, "The provided ID is not a folder")
	}
	return v, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
