package photosync

import (
	"photosync/config"
	pshttp "photosync/http"
	"photosync/internal/retry"
	"photosync/photos"
	"photosync/storage"
)

// Type aliases for convenient error handling.
type (
	// ListError reports where listing stopped and how much was retrieved.
	ListError = photos.ListError
	// DownloadError reports an item that exhausted its attempts.
	DownloadError = photos.DownloadError
	// HTTPError is a non-2xx response.
	HTTPError = pshttp.HTTPError
	// RateLimitError is a throttled response (429 or 503).
	RateLimitError = pshttp.RateLimitError
	// RetryableError wraps errors that occurred after retries were exhausted.
	RetryableError = retry.RetryableError
	// StorageError wraps errors during state file operations.
	StorageError = storage.StorageError
)

// Sentinel errors exported from sub-packages.
var (
	// ErrInterrupted indicates the run was canceled; progress was saved.
	ErrInterrupted = photos.ErrInterrupted
	// ErrCursorLoop indicates the listing cursor stopped advancing.
	ErrCursorLoop = photos.ErrCursorLoop

	// ErrInvalidConfig indicates a configuration value is out of range.
	ErrInvalidConfig = config.ErrInvalidConfig
	// ErrMissingCredentials indicates the OAuth client secrets file is absent.
	ErrMissingCredentials = config.ErrMissingCredentials

	// Storage errors
	// ErrStorageCorrupt indicates the state file could not be decoded.
	ErrStorageCorrupt = storage.ErrStorageCorrupt
	// ErrLockTimeout indicates another process holds the state file.
	ErrLockTimeout = storage.ErrLockTimeout
)

// IsTransient reports whether err is a throttling or authorization response
// that listing retries.
func IsTransient(err error) bool {
	return pshttp.IsTransient(err)
}
