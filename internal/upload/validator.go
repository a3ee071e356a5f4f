package upload

import "fmt"

// MaxFileSize is the largest accepted invoice document (50 MiB).
const MaxFileSize = 50 * 1024 * 1024

// allowedContentTypes is the invoice-document allow-list. Anything else is
// rejected at pre-flight.
var allowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/jpg":       true,
	"image/png":       true,
	"image/webp":      true,
}

// validateFile rejects files that are too large or of a disallowed type
// before any network activity. Failures are terminal: the same file fails
// identically on every attempt, so the orchestrator never retries them.
func validateFile(f File) error {
	if int64(len(f.Data)) > MaxFileSize {
		return &Error{
			Kind: KindValidation,
			Message: fmt.Sprintf("file too large: %d bytes exceeds the %d MiB limit",
				len(f.Data), MaxFileSize/(1024*1024)),
		}
	}

	if !allowedContentTypes[f.ContentType] {
		return &Error{
			Kind:    KindValidation,
			Message: fmt.Sprintf("invalid file type: %s (allowed: PDF, JPEG, PNG, WebP)", f.ContentType),
		}
	}

	return nil
}
