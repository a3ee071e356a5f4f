package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/D3MONSAUSAGE/teamtegrate-ingest/internal/catalog"
	"github.com/D3MONSAUSAGE/teamtegrate-ingest/internal/upload"
)

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload invoice documents",
		Long: `Upload one or more invoice documents to the configured storage bucket.

Each file is validated (size and type), uploaded with adaptive retry, and
verified after the write. Multiple files are dispatched through a bounded
worker pool. Exit code 1 if any upload fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runUpload,
	}
}

// uploadOutcome pairs a local path with its upload result for reporting.
type uploadOutcome struct {
	LocalPath string        `json:"local_path"`
	Result    upload.Result `json:"result"`
}

func runUpload(cmd *cobra.Command, args []string) error {
	env, err := newIngestEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	org, user, err := env.owner()
	if err != nil {
		return err
	}

	ctx := shutdownContext(cmd.Context(), env.logger, env.orch.InFlight)
	outcomes := make([]uploadOutcome, len(args))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(env.cfg.Ingest.ParallelUploads)

	for i, localPath := range args {
		env.health.UploadQueued()

		g.Go(func() error {
			env.health.UploadDequeued()

			outcomes[i] = uploadOutcome{
				LocalPath: localPath,
				Result:    ingestFile(gctx, env, localPath, org, user),
			}

			return nil
		})
	}

	// Workers never return errors; failures are reported per file.
	_ = g.Wait() //nolint:errcheck

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(outcomes); err != nil {
			return fmt.Errorf("encoding JSON output: %w", err)
		}
	} else {
		printUploadTable(outcomes)
	}

	var failed int

	for _, o := range outcomes {
		if !o.Result.Success {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(outcomes))
	}

	return nil
}

// ingestFile reads, uploads, and catalogs a single local file.
func ingestFile(ctx context.Context, env *ingestEnv, localPath, org, user string) upload.Result {
	file, err := readUploadFile(localPath)
	if err != nil {
		return upload.Result{Success: false, Err: err, Error: err.Error()}
	}

	res := env.orch.UploadInvoiceFile(ctx, file, org, user)

	if res.Success && env.catalog != nil {
		_, recErr := env.catalog.Record(ctx, catalog.Document{
			OrganizationID: org,
			UploaderID:     user,
			FileName:       file.Name,
			StoragePath:    res.FilePath,
			PublicURL:      res.PublicURL,
			SizeBytes:      int64(len(file.Data)),
			ContentType:    file.ContentType,
			RetryCount:     res.RetryAttempt,
			DurationMs:     res.DurationMs,
		})
		if recErr != nil {
			// The upload itself succeeded; a catalog miss is not a failure.
			env.logger.Warn("recording document in catalog failed",
				slog.String("path", res.FilePath),
				slog.String("error", recErr.Error()),
			)
		}
	}

	return res
}

// readUploadFile loads a local file and determines its content type from
// the extension, sniffing the content as a fallback.
func readUploadFile(localPath string) (upload.File, error) {
	fi, err := os.Stat(localPath)
	if err != nil {
		return upload.File{}, fmt.Errorf("stating local file: %w", err)
	}

	if fi.IsDir() {
		return upload.File{}, fmt.Errorf("%q is a directory, not a file", localPath)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return upload.File{}, fmt.Errorf("reading local file: %w", err)
	}

	return upload.File{
		Name:        filepath.Base(localPath),
		ContentType: detectContentType(localPath, data),
		Data:        data,
	}, nil
}

// detectContentType resolves a MIME type from the file extension, falling
// back to content sniffing. Parameters (e.g. "; charset=") are stripped so
// the validator sees the bare type.
func detectContentType(localPath string, data []byte) string {
	if byExt := mime.TypeByExtension(filepath.Ext(localPath)); byExt != "" {
		if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
			return mediaType
		}
	}

	sniffed := http.DetectContentType(data)
	if mediaType, _, err := mime.ParseMediaType(sniffed); err == nil {
		return mediaType
	}

	return sniffed
}

// printUploadTable renders upload outcomes as a table on stdout.
func printUploadTable(outcomes []uploadOutcome) {
	headers := []string{"FILE", "STATUS", "ATTEMPT", "DURATION", "DESTINATION"}
	rows := make([][]string, len(outcomes))

	for i, o := range outcomes {
		status := "ok"
		dest := o.Result.FilePath

		if !o.Result.Success {
			status = "FAILED"
			dest = truncateError(o.Result.Error)
		}

		rows[i] = []string{
			o.LocalPath,
			status,
			fmt.Sprintf("%d", o.Result.RetryAttempt),
			fmt.Sprintf("%dms", o.Result.DurationMs),
			dest,
		}
	}

	printColumns(os.Stdout, headers, rows)
}

// truncateError keeps table rows readable for long error chains.
func truncateError(msg string) string {
	const maxLen = 80

	msg = strings.ReplaceAll(msg, "\n", " ")
	if len(msg) > maxLen {
		return msg[:maxLen-3] + "..."
	}

	return msg
}
