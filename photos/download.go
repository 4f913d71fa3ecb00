package photos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	pshttp "photosync/http"
	"photosync/internal/retry"
)

// chunkSize is the read/write unit of a download.
const chunkSize = 8 * 1024

// partSuffix marks a download in progress.
const partSuffix = ".part"

// ErrShortBody indicates the body ended before Content-Length bytes arrived.
var ErrShortBody = errors.New("photos: body shorter than content length")

// Outcome is the result of fetching one item.
type Outcome int

const (
	// OutcomeFailed means the item is not present locally.
	OutcomeFailed Outcome = iota
	// OutcomeDownloaded means the item was transferred in this call.
	OutcomeDownloaded
	// OutcomeExisting means a file was already at the destination.
	OutcomeExisting
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDownloaded:
		return "downloaded"
	case OutcomeExisting:
		return "existing"
	default:
		return "failed"
	}
}

// OK reports whether the item is present locally.
func (o Outcome) OK() bool { return o != OutcomeFailed }

// DownloadError reports an item that could not be fetched.
type DownloadError struct {
	// ItemID is the library identifier of the item.
	ItemID string
	// Name is the local filename.
	Name string
	// Attempts is the number of transfers tried.
	Attempts int
	// Err is the last error.
	Err error
}

// Error returns a string representation of the download error.
func (e *DownloadError) Error() string {
	return fmt.Sprintf("photos: download %s (%s) failed after %d attempts: %v", e.Name, e.ItemID, e.Attempts, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *DownloadError) Unwrap() error { return e.Err }

// Streamer opens a streamed GET. *http.Client from photosync/http
// satisfies it.
type Streamer interface {
	Stream(ctx context.Context, url string) (*http.Response, error)
}

// Refresher resolves a fresh base URL for an item whose URL has expired.
type Refresher interface {
	Refresh(ctx context.Context, item MediaItem) (string, error)
}

// DownloadProgress is reported after every chunk written.
type DownloadProgress struct {
	ItemID  string
	Name    string
	Written int64
	// Total is the Content-Length, or -1 when unknown.
	Total int64
}

// Downloader fetches media items into a directory.
type Downloader struct {
	client         Streamer
	retry          retry.Config
	verifyExisting bool
	refresher      Refresher
	log            zerolog.Logger

	// OnProgress, if set, is called as bytes are written.
	OnProgress func(DownloadProgress)
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithDownloadRetry replaces the attempt policy.
func WithDownloadRetry(cfg retry.Config) DownloaderOption {
	return func(d *Downloader) {
		d.retry = cfg
	}
}

// WithVerifyExisting makes existing empty files count as missing.
func WithVerifyExisting(verify bool) DownloaderOption {
	return func(d *Downloader) {
		d.verifyExisting = verify
	}
}

// WithRefresher re-resolves expired base URLs between attempts.
func WithRefresher(r Refresher) DownloaderOption {
	return func(d *Downloader) {
		d.refresher = r
	}
}

// WithDownloadLogger sets the logger.
func WithDownloadLogger(logger zerolog.Logger) DownloaderOption {
	return func(d *Downloader) {
		d.log = logger.With().Str("component", "downloader").Logger()
	}
}

// NewDownloader creates a downloader making 3 attempts 5 seconds apart.
func NewDownloader(client Streamer, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		client: client,
		retry:  retry.Fixed(3, 5*time.Second),
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fetch makes item present in destDir. An existing destination file counts
// as success without any request. Otherwise the content is streamed to a
// .part file and renamed into place; failed attempts are retried with the
// configured delay. A canceled context aborts the transfer and returns the
// context error.
func (d *Downloader) Fetch(ctx context.Context, item MediaItem, destDir string) (Outcome, error) {
	name := item.Name()
	dest := filepath.Join(destDir, name)
	log := d.log.With().Str("item", item.ID).Str("name", name).Logger()

	if d.existing(dest, log) {
		log.Debug().Msg("already present")
		return OutcomeExisting, nil
	}

	cfg := d.retry
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", cfg.MaxAttempts).Dur("wait", wait).Msg("download attempt failed")
	}

	attempts := 0
	var last error
	err := retry.Do(ctx, cfg, retryableDownload(ctx), func(ctx context.Context) error {
		attempts++
		if attempts > 1 && d.refresher != nil && urlExpired(last) {
			if fresh, err := d.refresher.Refresh(ctx, item); err != nil {
				log.Warn().Err(err).Msg("could not refresh base url")
			} else {
				item.BaseURL = fresh
				log.Debug().Msg("refreshed base url")
			}
		}
		last = d.transfer(ctx, item, dest)
		return last
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return OutcomeFailed, ctxErr
		}
		return OutcomeFailed, &DownloadError{ItemID: item.ID, Name: name, Attempts: attempts, Err: last}
	}

	if t, err := time.Parse(time.RFC3339, item.Metadata.CreationTime); err == nil {
		if err := os.Chtimes(dest, t, t); err != nil {
			log.Debug().Err(err).Msg("could not set modification time")
		}
	}
	return OutcomeDownloaded, nil
}

// existing reports whether dest can be taken as already downloaded.
func (d *Downloader) existing(dest string, log zerolog.Logger) bool {
	info, err := os.Stat(dest)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Msg("cannot stat destination")
		}
		return false
	}
	if info.IsDir() {
		return false
	}
	if d.verifyExisting && info.Size() == 0 {
		log.Info().Msg("existing file is empty, downloading again")
		return false
	}
	return true
}

// transfer performs one attempt.
func (d *Downloader) transfer(ctx context.Context, item MediaItem, dest string) error {
	resp, err := d.client.Stream(ctx, item.ContentURL())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	part := dest + partSuffix
	f, err := os.Create(part)
	if err != nil {
		return &localError{err}
	}

	written, err := d.copy(f, resp.Body, item, resp.ContentLength)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = &localError{closeErr}
	}
	if err == nil && resp.ContentLength >= 0 && written != resp.ContentLength {
		err = fmt.Errorf("%w: got %d of %d bytes", ErrShortBody, written, resp.ContentLength)
	}
	if err != nil {
		os.Remove(part)
		return err
	}

	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return &localError{err}
	}
	return nil
}

func (d *Downloader) copy(w io.Writer, r io.Reader, item MediaItem, total int64) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, &localError{werr}
			}
			written += int64(n)
			if d.OnProgress != nil {
				d.OnProgress(DownloadProgress{ItemID: item.ID, Name: item.Name(), Written: written, Total: total})
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// localError marks a failure of the local filesystem, which another attempt
// will not fix.
type localError struct{ err error }

func (e *localError) Error() string { return e.err.Error() }
func (e *localError) Unwrap() error { return e.err }

// retryableDownload classifies attempt failures. Only the caller's own
// cancellation stops retries; a context error raised under a live ctx came
// from a request-scoped deadline and is retried like any transfer failure.
func retryableDownload(ctx context.Context) retry.ErrorClassifier {
	return func(err error) bool {
		if ctx.Err() != nil {
			return false
		}
		var le *localError
		return !errors.As(err, &le)
	}
}

// urlExpired reports whether err looks like an expired base URL.
func urlExpired(err error) bool {
	switch pshttp.StatusCode(err) {
	case http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return true
	}
	return false
}
