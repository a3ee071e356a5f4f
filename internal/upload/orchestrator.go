package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/D3MONSAUSAGE/teamtegrate-ingest/internal/storage"
)

// Chunking and per-call timeout constants.
const (
	chunkSize      = 5 * 1024 * 1024
	chunkThreshold = 5 * chunkSize
	callTimeout    = 30 * time.Second
	cacheControl   = "3600"
)

// Orchestrator coordinates validation, the retry loop, verification,
// cleanup, and metrics for invoice uploads. Construct it with its
// collaborators injected; it holds no global state. Each upload runs as a
// single sequential task; independent uploads may run concurrently.
type Orchestrator struct {
	storage Storage
	gate    Gate
	ledger  *Ledger
	logger  *slog.Logger

	// Injectable for deterministic tests.
	sleepFunc func(ctx context.Context, d time.Duration) error
	nowFunc   func() time.Time
	idFunc    func() string
}

// NewOrchestrator creates an orchestrator with its own empty ledger.
func NewOrchestrator(st Storage, gate Gate, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		storage:   st,
		gate:      gate,
		ledger:    NewLedger(),
		logger:    logger,
		sleepFunc: sleepContext,
		nowFunc:   time.Now,
		idFunc:    newIDSuffix,
	}
}

// Metrics returns a read-only snapshot of the ledger for dashboards. It is
// observational only and must not drive retry decisions.
func (o *Orchestrator) Metrics() []AttemptRecord {
	return o.ledger.Snapshot()
}

// ClearMetric removes a terminally-failed ledger entry after inspection.
func (o *Orchestrator) ClearMetric(uploadID string) {
	o.ledger.Finalize(uploadID)
}

// InFlight reports how many uploads are currently between submission and a
// terminal outcome.
func (o *Orchestrator) InFlight() int {
	return o.ledger.InFlight()
}

// UploadInvoiceFile uploads an invoice document with pre-flight validation,
// adaptive retry, and post-upload verification. organizationID and userID
// are used only to build the destination path; authorization is the
// caller's responsibility. The context cancels the backoff wait and
// in-flight storage calls.
func (o *Orchestrator) UploadInvoiceFile(ctx context.Context, file File, organizationID, userID string) Result {
	// Pre-flight validation happens before any bookkeeping or network
	// activity: an invalid file never creates a ledger entry.
	if err := validateFile(file); err != nil {
		o.logger.Warn("upload rejected at pre-flight",
			slog.String("file", file.Name),
			slog.String("error", err.Error()),
		)

		return failure(err, 0, 0)
	}

	startedAt := o.nowFunc()
	cond := classifyCondition(o.gate)
	uploadID := fmt.Sprintf("%d_%s_%s", startedAt.UnixMilli(), o.idFunc(), sanitizeFilename(file.Name))

	o.ledger.Begin(uploadID, file.Name, int64(len(file.Data)), cond, startedAt)

	o.logger.Info("upload started",
		slog.String("upload_id", uploadID),
		slog.String("file", file.Name),
		slog.Int("size", len(file.Data)),
		slog.String("network_condition", cond.String()),
	)

	if cond == ConditionOffline {
		err := &Error{
			Kind:    KindNetworkUnavailable,
			Message: "network unstable, upload aborted before transfer; try again later",
		}
		o.terminalFailure(uploadID, err)

		return failure(err, 0, o.sinceStart(startedAt))
	}

	// Best-effort bucket probe: a failure here is advisory, not blocking.
	o.probeBucket(ctx)

	destPath := o.buildDestPath(startedAt, organizationID, userID, file.Name)
	vf := &verifier{storage: o.storage, logger: o.logger}

	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			err := &Error{Kind: KindCanceled, Attempt: attempt, Message: "upload canceled", Err: ctx.Err()}
			o.terminalFailure(uploadID, err)

			return failure(err, attempt, o.sinceStart(startedAt))
		}

		url, err := o.attempt(ctx, vf, file, destPath, attempt)
		if err == nil {
			duration := o.sinceStart(startedAt)
			o.ledger.Finalize(uploadID)
			o.logger.Info("upload succeeded",
				slog.String("upload_id", uploadID),
				slog.String("path", destPath),
				slog.Int("attempt", attempt),
				slog.Duration("duration", duration),
			)

			return Result{
				Success:      true,
				FilePath:     destPath,
				PublicURL:    url,
				RetryAttempt: attempt,
				Duration:     duration,
				DurationMs:   duration.Milliseconds(),
			}
		}

		lastErr = err
		o.ledger.RecordFailure(uploadID, err.Error())

		if !retryable(err) {
			o.logger.Warn("upload failed with non-retryable error",
				slog.String("upload_id", uploadID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			o.ledger.Close(uploadID, o.nowFunc())

			return failure(err, attempt, o.sinceStart(startedAt))
		}

		if attempt == maxAttempts-1 {
			break
		}

		delay := backoffDelay(attempt, cond)
		o.logger.Warn("retrying upload",
			slog.String("upload_id", uploadID),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)

		if sleepErr := o.sleepFunc(ctx, delay); sleepErr != nil {
			cancelErr := &Error{Kind: KindCanceled, Attempt: attempt, Message: "upload canceled during backoff", Err: sleepErr}
			o.terminalFailure(uploadID, cancelErr)

			return failure(cancelErr, attempt, o.sinceStart(startedAt))
		}
	}

	o.ledger.Close(uploadID, o.nowFunc())
	err := fmt.Errorf("upload failed after %d attempts: %w", maxAttempts, lastErr)
	o.logger.Error("upload exhausted retry budget",
		slog.String("upload_id", uploadID),
		slog.String("error", err.Error()),
	)

	return failure(err, maxAttempts-1, o.sinceStart(startedAt))
}

// attempt performs one write-and-verify cycle. On verification failure the
// just-written object is removed best-effort before the error is returned.
func (o *Orchestrator) attempt(
	ctx context.Context, vf *verifier, file File, destPath string, attemptNo int,
) (string, error) {
	putErr := o.put(ctx, file, destPath)
	if putErr != nil {
		return "", &Error{
			Kind:    classify(putErr),
			Attempt: attemptNo,
			Message: putErr.Error(),
			Err:     putErr,
		}
	}

	verifyCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	url, verifyErr := vf.verify(verifyCtx, destPath, int64(len(file.Data)))
	if verifyErr != nil {
		o.cleanup(ctx, destPath)

		var uerr *Error
		if errors.As(verifyErr, &uerr) {
			uerr.Attempt = attemptNo
			return "", uerr
		}

		return "", verifyErr
	}

	return url, nil
}

// put writes the object. Files over the chunk threshold are flagged for the
// chunked path, which currently performs the same atomic write; the size
// check is the hook point for a future resumable multipart upload.
func (o *Orchestrator) put(ctx context.Context, file File, destPath string) error {
	putCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	opts := storage.PutOptions{
		CacheControl: cacheControl,
		ContentType:  file.ContentType,
		Upsert:       false,
	}

	if int64(len(file.Data)) > chunkThreshold {
		o.logger.Debug("large file, using chunked path",
			slog.String("path", destPath),
			slog.Int("size", len(file.Data)),
		)
	}

	return o.storage.Put(putCtx, destPath, file.Data, opts)
}

// cleanup removes an orphaned object after failed verification. Failures
// are logged and swallowed, never escalated: the retry loop writes to a
// fresh probe of the same path and the orphan is harmless.
func (o *Orchestrator) cleanup(ctx context.Context, destPath string) {
	cleanupCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	if err := o.storage.Remove(cleanupCtx, destPath); err != nil {
		o.logger.Warn("cleanup of unverified object failed",
			slog.String("path", destPath),
			slog.String("error", err.Error()),
		)

		return
	}

	o.logger.Debug("removed unverified object", slog.String("path", destPath))
}

// probeBucket checks bucket existence best-effort at pre-flight. Advisory
// only: a probe failure is logged but does not block the attempt.
func (o *Orchestrator) probeBucket(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	ok, err := o.storage.BucketExists(probeCtx)
	if err != nil {
		o.logger.Warn("bucket probe failed", slog.String("error", err.Error()))

		return
	}

	if !ok {
		o.logger.Warn("bucket probe reports bucket missing")
	}
}

// buildDestPath builds the deterministic destination path:
// org/user/<unix-ms>_<suffix>_<sanitized-name>. The random suffix keeps two
// same-named uploads in the same millisecond from colliding.
func (o *Orchestrator) buildDestPath(startedAt time.Time, organizationID, userID, fileName string) string {
	return fmt.Sprintf("%s/%s/%d_%s_%s",
		organizationID, userID, startedAt.UnixMilli(), o.idFunc(), sanitizeFilename(fileName))
}

// terminalFailure records the error, stamps the end time, and leaves the
// entry in the ledger for inspection.
func (o *Orchestrator) terminalFailure(uploadID string, err error) {
	o.ledger.RecordFailure(uploadID, err.Error())
	o.ledger.Close(uploadID, o.nowFunc())
}

func (o *Orchestrator) sinceStart(startedAt time.Time) time.Duration {
	return o.nowFunc().Sub(startedAt)
}

// newIDSuffix returns a short random suffix for upload IDs and destination
// paths.
func newIDSuffix() string {
	return uuid.New().String()[:8]
}

// sanitizeFilename normalizes a filename to NFC and strips characters that
// would alter the destination path. Unicode filenames arrive in mixed
// normalization forms from different client platforms.
func sanitizeFilename(name string) string {
	name = norm.NFC.String(filepath.Base(name))
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}

		if r < 0x20 {
			return '_'
		}

		return r
	}, name)

	if name == "" || name == "." {
		return "file"
	}

	return name
}

// failure builds a failed Result from an error.
func failure(err error, attempt int, duration time.Duration) Result {
	return Result{
		Success:      false,
		Err:          err,
		Error:        err.Error(),
		RetryAttempt: attempt,
		Duration:     duration,
		DurationMs:   duration.Milliseconds(),
	}
}
