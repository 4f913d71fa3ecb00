package photos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	pshttp "photosync/http"
	"photosync/internal/retry"
)

// ErrCursorLoop indicates the server handed back the cursor it was given.
var ErrCursorLoop = errors.New("photos: listing cursor did not advance")

// ListError reports a listing walk that stopped before the last page. The
// items gathered before the failure are returned alongside it.
// Use errors.As() to extract this error type:
//
//	var listErr *photos.ListError
//	if errors.As(err, &listErr) {
//		fmt.Printf("stopped at page %d after %d items\n", listErr.Page, listErr.Retrieved)
//	}
type ListError struct {
	// Page is the zero-based index of the page that failed.
	Page int
	// Cursor is the continuation token the failing request used.
	Cursor string
	// Retrieved is the number of items gathered before the failure.
	Retrieved int
	// Err is the underlying error.
	Err error
}

// Error returns a string representation of the listing error.
func (e *ListError) Error() string {
	return fmt.Sprintf("photos: listing stopped at page %d after %d items: %v", e.Page, e.Retrieved, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *ListError) Unwrap() error { return e.Err }

// ListProgress is reported after every page.
type ListProgress struct {
	Pages int
	Items int
}

// Lister enumerates the whole library by walking the paginated listing.
type Lister struct {
	source   PageSource
	pageSize int
	retry    retry.Config
	log      zerolog.Logger

	// OnProgress, if set, is called after each page.
	OnProgress func(ListProgress)
}

// ListerOption configures a Lister.
type ListerOption func(*Lister)

// WithPageSize sets the number of items requested per page.
func WithPageSize(n int) ListerOption {
	return func(l *Lister) {
		if n > 0 {
			l.pageSize = n
		}
	}
}

// WithListRetry replaces the transient-failure retry policy.
func WithListRetry(cfg retry.Config) ListerOption {
	return func(l *Lister) {
		l.retry = cfg
	}
}

// WithListLogger sets the logger.
func WithListLogger(logger zerolog.Logger) ListerOption {
	return func(l *Lister) {
		l.log = logger.With().Str("component", "lister").Logger()
	}
}

// NewLister creates a lister over source with 100-item pages and the
// default listing retry policy.
func NewLister(source PageSource, opts ...ListerOption) *Lister {
	l := &Lister{
		source:   source,
		pageSize: 100,
		retry:    ListingRetry(5*time.Second, 5*time.Minute, 10),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ListingRetry builds the retry policy for one listing page: exponential
// backoff with jitter starting at delay and capped at maxBackoff, with at
// most maxRetries retries. Zero maxRetries retries until the context ends.
func ListingRetry(delay, maxBackoff time.Duration, maxRetries int) retry.Config {
	attempts := 0
	if maxRetries > 0 {
		attempts = maxRetries + 1
	}
	return retry.Config{
		MaxAttempts:    attempts,
		InitialBackoff: delay,
		MaxBackoff:     maxBackoff,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}
}

// ListAll returns every item in listing order. Transient failures (401,
// 403, 429, 503) retry the same page; any other failure, or running out of
// retries, stops the walk and returns the items gathered so far together
// with a *ListError.
func (l *Lister) ListAll(ctx context.Context) ([]MediaItem, error) {
	var items []MediaItem
	cursor := ""

	for page := 0; ; page++ {
		cfg := l.retry
		cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
			l.log.Warn().Err(err).
				Int("page", page).
				Int("attempt", attempt).
				Dur("wait", wait).
				Msg("transient listing error, retrying page")
		}

		var p *Page
		err := retry.Do(ctx, cfg, pshttp.IsTransient, func(ctx context.Context) error {
			var err error
			p, err = l.source.ListPage(ctx, l.pageSize, cursor)
			return err
		})
		if err == nil && p.NextPageToken != "" && p.NextPageToken == cursor {
			// the page itself was served fine; keep its items
			items = append(items, p.Items...)
			return items, &ListError{Page: page, Cursor: cursor, Retrieved: len(items), Err: ErrCursorLoop}
		}
		if err != nil {
			return items, &ListError{Page: page, Cursor: cursor, Retrieved: len(items), Err: err}
		}

		items = append(items, p.Items...)
		l.log.Debug().Int("page", page).Int("page_items", len(p.Items)).Int("items", len(items)).Msg("listed page")
		if l.OnProgress != nil {
			l.OnProgress(ListProgress{Pages: page + 1, Items: len(items)})
		}

		if p.NextPageToken == "" {
			return items, nil
		}
		cursor = p.NextPageToken
	}
}
