package upload

import (
	"context"
	"fmt"
	"log/slog"
	"path"
)

// sizeTolerance allows for storage-layer padding and metadata overhead in
// the reported object size. It does not guard against content corruption.
const sizeTolerance = 1024

// verifier confirms a just-written object actually exists with the expected
// size and is publicly resolvable. The three checks run in order and fail
// fast on the first that does not pass.
type verifier struct {
	storage Storage
	logger  *slog.Logger
}

// verify runs the existence, size, and accessibility checks for the object
// at destPath. On success it returns the object's resolved public URL.
func (v *verifier) verify(ctx context.Context, destPath string, expectedSize int64) (string, error) {
	folder, name := path.Split(destPath)
	folder = path.Clean(folder)

	// Existence: the containing folder must list an entry with the exact name.
	entries, err := v.storage.List(ctx, folder)
	if err != nil {
		return "", &Error{
			Kind:    KindVerificationFailed,
			Message: fmt.Sprintf("listing %s after upload: %v", folder, err),
			Err:     err,
		}
	}

	var found bool
	var reportedSize int64

	for i := range entries {
		if entries[i].Name == name {
			found = true
			reportedSize = entries[i].Metadata.Size

			break
		}
	}

	if !found {
		return "", &Error{
			Kind:    KindVerificationFailed,
			Message: fmt.Sprintf("file not found after upload: %s", destPath),
		}
	}

	// Size: when the storage metadata reports one, it must be within
	// tolerance of what was sent.
	if reportedSize > 0 {
		diff := reportedSize - expectedSize
		if diff < 0 {
			diff = -diff
		}

		if diff > sizeTolerance {
			return "", &Error{
				Kind: KindVerificationFailed,
				Message: fmt.Sprintf("size mismatch after upload: expected %d bytes, storage reports %d",
					expectedSize, reportedSize),
			}
		}
	}

	// Accessibility: listings can run ahead of readability, so the public
	// URL must resolve on its own.
	url, err := v.storage.ResolvePublic(ctx, destPath)
	if err != nil {
		return "", &Error{
			Kind:    KindVerificationFailed,
			Message: fmt.Sprintf("public URL not resolvable after upload: %v", err),
			Err:     err,
		}
	}

	v.logger.Debug("upload verified",
		slog.String("path", destPath),
		slog.Int64("size", expectedSize),
	)

	return url, nil
}
