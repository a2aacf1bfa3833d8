//go:build integration

package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/cucumber/godog"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/folder"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/upload"
)

type chunkReply struct {
	OK         bool  `json:"ok"`
	Complete   bool  `json:"complete"`
	ChunkIndex int   `json:"chunkIndex"`
	NextOffset int64 `json:"nextOffset"`
}

var chunkReplies []chunkReply

func InitializeUploadScenario(ctx *godog.ScenarioContext) {
	ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
		chunkReplies = nil
		return c, nil
	})

	ctx.Step(`^I upload "([^"]*)" with (\d+) bytes to "([^"]*)" / "([^"]*)" / "([^"]*)" in one request$`, iUploadInOneRequest)
	ctx.Step(`^I send "([^"]*)" with (\d+) bytes to "([^"]*)" / "([^"]*)" / "([^"]*)" in chunks of (\d+) bytes$`, iSendInChunks)
	ctx.Step(`^I request the upload limits$`, iRequestTheUploadLimits)
	ctx.Step(`^(\d+) chunks should have been accepted$`, chunksShouldHaveBeenAccepted)
	ctx.Step(`^only the last chunk should complete the upload$`, onlyTheLastChunkShouldComplete)
	ctx.Step(`^the folder "([^"]*)" should contain a file named like "([^"]*)" with (\d+) bytes$`, theFolderShouldContainAFile)
	ctx.Step(`^nothing should have been written to Drive$`, nothingShouldHaveBeenWrittenToDrive)
}

func folderTarget(client, campaign, publication string) folder.Target {
	return folder.Target{Client: client, Campaign: campaign, Publication: publication}
}

func content(size int) []byte {
	return bytes.Repeat([]byte("x"), size)
}

// multipartBody encodes fields plus one file part.
func multipartBody(fields map[string]string, fileField, fileName string, data []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	fw, err := mw.CreateFormFile(fileField, fileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func iUploadInOneRequest(name string, size int, client, campaign, publication string) error {
	body, contentType, err := multipartBody(map[string]string{
		"client":      client,
		"campaign":    campaign,
		"publication": publication,
	}, "file", name, content(size))
	if err != nil {
		return err
	}
	world.do("POST", "/api/upload", contentType, body)
	return nil
}

func iSendInChunks(name string, size int, client, campaign, publication string, chunkSize int) error {
	rec, err := world.doJSON("POST", "/api/upload/initiate", upload.InitiateRequest{
		FileName: name,
		FileSize: int64(size),
		MIMEType: "application/pdf",
		Target:   folderTarget(client, campaign, publication),
	})
	if err != nil {
		return err
	}
	if rec.Code != http.StatusOK {
		return fmt.Errorf("initiate returned %d: %s", rec.Code, rec.Body.String())
	}
	var sess upload.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		return err
	}

	plan, err := upload.NewChunkPlan(int64(size), int64(chunkSize))
	if err != nil {
		return err
	}
	data := content(size)
	for _, piece := range plan.Pieces() {
		body, contentType, err := multipartBody(map[string]string{
			"uploadUrl":   sess.UploadURL,
			"chunkIndex":  strconv.Itoa(piece.Index),
			"totalChunks": strconv.Itoa(piece.Count),
			"startByte":   strconv.FormatInt(piece.Start, 10),
			"endByte":     strconv.FormatInt(piece.End, 10),
			"totalSize":   strconv.FormatInt(piece.Total, 10),
		}, "chunk", "blob", data[piece.Start:piece.End+1])
		if err != nil {
			return err
		}
		rec := world.do("POST", "/api/upload/proxy", contentType, body)
		if rec.Code != http.StatusOK {
			// Later steps assert on the failed response.
			return nil
		}
		var reply chunkReply
		if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
			return err
		}
		chunkReplies = append(chunkReplies, reply)
	}
	return nil
}

func iRequestTheUploadLimits() error {
	world.do("GET", "/api/upload/limits", "", nil)
	return nil
}

func chunksShouldHaveBeenAccepted(n int) error {
	if len(chunkReplies) != n {
		return fmt.Errorf("expected %d accepted chunks, got %d", n, len(chunkReplies))
	}
	for i, r := range chunkReplies {
		if !r.OK || r.ChunkIndex != i {
			return fmt.Errorf("chunk %d: unexpected reply %+v", i, r)
		}
	}
	return nil
}

func onlyTheLastChunkShouldComplete() error {
	for i, r := range chunkReplies {
		last := i == len(chunkReplies)-1
		if r.Complete != last {
			return fmt.Errorf("chunk %d: complete=%t", i, r.Complete)
		}
	}
	return nil
}

// findChild returns the child of parentID with the given name.
func findChild(parentID, name string) (*adapter.FileMetadata, error) {
	for _, c := range world.drive.Children(parentID) {
		if c.Name == name {
			c := c
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%q not found under %s", name, parentID)
}

func theFolderShouldContainAFile(folderPath, pattern string, size int) error {
	parent := adapter.RootID
	for _, name := range strings.Split(folderPath, "/") {
		f, err := findChild(parent, name)
		if err != nil {
			return err
		}
		if !f.IsFolder() {
			return fmt.Errorf("%q is not a folder", name)
		}
		parent = f.ID
	}

	for _, c := range world.drive.Children(parent) {
		ok, err := path.Match(pattern, c.Name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		data, _ := world.drive.Content(c.ID)
		if len(data) != size {
			return fmt.Errorf("%s has %d bytes, expected %d", c.Name, len(data), size)
		}
		return nil
	}
	return fmt.Errorf("no file matching %q in %s", pattern, folderPath)
}

func nothingShouldHaveBeenWrittenToDrive() error {
	if n := world.drive.TotalCalls(); n != 0 {
		return fmt.Errorf("expected no Drive calls, got %d", n)
	}
	return nil
}
