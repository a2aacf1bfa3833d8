package handler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// maxFieldBytes bounds each non-file form field.
const maxFieldBytes = 64 * 1024

type formFile struct {
	Name        string
	ContentType string
	Data        []byte
}

type form struct {
	values map[string]string
	files  map[string]*formFile
}

func (f *form) value(name string) string {
	return strings.TrimSpace(f.values[name])
}

// parseForm reads a urlencoded or multipart body. File parts are read up to
// maxFileBytes+1 so callers can tell an oversize file from one at the limit
// without buffering the rest.
func parseForm(req events.APIGatewayProxyRequest, maxFileBytes int64) (*form, error) {
	raw, err := body(req)
	if err != nil {
		return nil, err
	}
	f := &form{values: map[string]string{}, files: map[string]*formFile{}}

	mediaType, params, err := mime.ParseMediaType(Header(req, "Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("%w: bad content type: %v", errBadRequest, err)
	}

	switch mediaType {
	case "application/x-www-form-urlencoded":
		vals, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		for k := range vals {
			f.values[k] = vals.Get(k)
		}
		return f, nil
	case "multipart/form-data":
	default:
		return nil, fmt.Errorf("%w: unsupported content type %q", errBadRequest, mediaType)
	}

	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("%w: multipart boundary missing", errBadRequest)
	}
	mr := multipart.NewReader(bytes.NewReader(raw), boundary)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return f, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: malformed multipart body: %v", errBadRequest, err)
		}
		name := part.FormName()
		if name == "" {
			part.Close()
			continue
		}
		if part.FileName() == "" {
			v, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			part.Close()
			if err != nil {
				return nil, fmt.Errorf("%w: read field %s: %v", errBadRequest, name, err)
			}
			f.values[name] = string(v)
			continue
		}
		data, err := io.ReadAll(io.LimitReader(part, maxFileBytes+1))
		part.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read file %s: %v", errBadRequest, name, err)
		}
		f.files[name] = &formFile{Name: part.FileName(), ContentType: part.Header.Get("Content-Type"), Data: data}
	}
}
