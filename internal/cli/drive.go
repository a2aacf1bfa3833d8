package cli

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/folder"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/upload"
)

var target folder.Target

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&target.Client, "client", "", "client name (required)")
	cmd.Flags().StringVar(&target.Campaign, "campaign", "", "campaign name (required)")
	cmd.Flags().StringVar(&target.Publication, "publication", "", "publication name (required)")
	cmd.MarkFlagRequired("client")
	cmd.MarkFlagRequired("campaign")
	cmd.MarkFlagRequired("publication")
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Find or create the folder chain for a client, campaign and publication",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := env(cmd)
		if err != nil {
			return err
		}
		_, err = RunResolve(cmd.Context(), e, target)
		return err
	},
}

var verifyFolderCmd = &cobra.Command{
	Use:   "verify-folder <id|url>",
	Short: "Check that the Drive identity can use a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := env(cmd)
		if err != nil {
			return err
		}
		return RunVerifyFolder(cmd.Context(), e, args[0])
	},
}

var uploadChunkSize int64

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a file through the chunked relay",
	Long: `Upload a local file the way the browser does: open a resumable session in the
target folder and relay the file in chunks.

Example:
  portalctl upload tearsheet.pdf --client Acme --campaign Spring24 --publication DailyPost`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := env(cmd)
		if err != nil {
			return err
		}
		_, err = RunUpload(cmd.Context(), e, args[0], target, uploadChunkSize)
		return err
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd, verifyFolderCmd, uploadCmd)
	addTargetFlags(resolveCmd)
	addTargetFlags(uploadCmd)
	uploadCmd.Flags().Int64Var(&uploadChunkSize, "chunk-size", 0, "bytes per chunk (default: the configured chunk size)")
}

// RunResolve resolves t and prints the folder ids.
func RunResolve(ctx context.Context, e *Env, t folder.Target) (*folder.Path, error) {
	d, err := e.Services.Provider.GetDrive(ctx)
	if err != nil {
		return nil, err
	}
	p, err := e.Services.Resolver.Resolve(ctx, d, t)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(e.Out, "root         %s\n", p.Root)
	fmt.Fprintf(e.Out, "client       %s  %s\n", p.Client, t.Client)
	fmt.Fprintf(e.Out, "campaign     %s  %s\n", p.Campaign, t.Campaign)
	fmt.Fprintf(e.Out, "publication  %s  %s\n", p.Publication, t.Publication)
	return p, nil
}

// RunVerifyFolder prints the folder diagnostics as YAML.
func RunVerifyFolder(ctx context.Context, e *Env, idOrURL string) error {
	d, err := e.Services.Provider.GetDrive(ctx)
	if err != nil {
		return err
	}
	v, err := folder.VerifyFolder(ctx, d, idOrURL)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = e.Out.Write(out)
	return err
}

// RunUpload sends path to the folder for t in chunks of chunkSize bytes.
func RunUpload(ctx context.Context, e *Env, path string, t folder.Target, chunkSize int64) (*adapter.FileMetadata, error) {
	if chunkSize > 0 && chunkSize%adapter.ResumableChunkAlignment != 0 {
		return nil, fmt.Errorf("%w: --chunk-size %d", upload.ErrChunkAlignment, chunkSize)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	uploads := e.Services.Uploads
	if chunkSize <= 0 {
		chunkSize = uploads.Limits().ChunkSizeBytes
	}
	sess, err := uploads.Initiate(ctx, upload.InitiateRequest{
		Target:   t,
		FileName: filepath.Base(path),
		FileSize: info.Size(),
		MIMEType: mime.TypeByExtension(filepath.Ext(path)),
	})
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(e.Out, "Uploading %s as %s (%d bytes)\n", path, sess.FileName, info.Size())

	file, err := uploads.SendFile(ctx, sess.UploadURL, f, info.Size(), chunkSize, func(p upload.Progress) {
		fmt.Fprintf(e.Out, "  chunk %d/%d  %d/%d bytes\n", p.Piece.Index+1, p.Piece.Count, p.Sent, p.Piece.Total)
	})
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(e.Out, "Uploaded %s (id %s)\n", file.Name, file.ID)
	if file.WebViewLink != "" {
		fmt.Fprintln(e.Out, file.WebViewLink)
	}
	return file, nil
}
