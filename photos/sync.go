package photos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrInterrupted is returned by Run when the context was canceled while
// items were still pending. The ledger has been persisted.
var ErrInterrupted = errors.New("photos: sync interrupted")

// State is a phase of a sync run.
type State int

const (
	StateIdle State = iota
	StateAuthenticating
	StateListing
	StateDiffing
	StateDownloading
	StateInterrupted
	StateFinalizing
	StateDone
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateAuthenticating: "authenticating",
	StateListing:        "listing",
	StateDiffing:        "diffing",
	StateDownloading:    "downloading",
	StateInterrupted:    "interrupted",
	StateFinalizing:     "finalizing",
	StateDone:           "done",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Catalog enumerates the remote library. *Lister implements it.
type Catalog interface {
	ListAll(ctx context.Context) ([]MediaItem, error)
}

// Fetcher makes one item present locally. *Downloader implements it.
type Fetcher interface {
	Fetch(ctx context.Context, item MediaItem, destDir string) (Outcome, error)
}

// Ledger records which items are confirmed present. *storage.Ledger
// implements it.
type Ledger interface {
	Contains(id string) bool
	Mark(id string) bool
	Persist() error
	Len() int
}

// ItemResult is reported once per processed item.
type ItemResult struct {
	// Index is the 1-based position of the item among the pending items.
	Index   int
	Total   int
	Item    MediaItem
	Outcome Outcome
	Err     error
}

// SyncOptions configures a Syncer.
type SyncOptions struct {
	// DestDir is the directory items are written to.
	DestDir string
	// CheckpointEvery persists the ledger after this many successes.
	// Default: 10
	CheckpointEvery int
	// Workers is the number of concurrent downloads. Default: 1
	Workers int
	// CollisionPolicy is CollisionSuffix (default) or CollisionOverwrite.
	CollisionPolicy string

	// Authenticate, if set, runs before listing.
	Authenticate func(ctx context.Context) error
	// OnState, if set, observes every state transition.
	OnState func(State)
	// OnPending, if set, receives the number of items about to be fetched.
	OnPending func(n int)
	// OnItem, if set, is called on the aggregating goroutine after each item.
	OnItem func(ItemResult)

	Logger zerolog.Logger
}

// RunSummary describes a finished run.
type RunSummary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	DestDir    string

	// Listed is the number of items the catalog returned.
	Listed int
	// Pending is the number of listed items missing from the ledger.
	Pending int
	// Downloaded counts items transferred in this run.
	Downloaded int
	// Existing counts items found already present on disk.
	Existing int
	// Failed counts items that exhausted their attempts.
	Failed int
	// LedgerSize is the ledger cardinality after the final persist.
	LedgerSize int

	// Interrupted is set when the run stopped before every pending item
	// was processed.
	Interrupted bool
	// ListErr is the listing failure when the catalog is partial.
	ListErr error
	// PersistErr is the last ledger persist failure, if any.
	PersistErr error
}

// Succeeded is the number of items recorded in the ledger by this run.
func (s *RunSummary) Succeeded() int { return s.Downloaded + s.Existing }

// Duration is the wall time of the run.
func (s *RunSummary) Duration() time.Duration { return s.FinishedAt.Sub(s.StartedAt) }

// Syncer runs one incremental sync: list, diff against the ledger, fetch
// what is missing and record progress.
type Syncer struct {
	catalog Catalog
	fetcher Fetcher
	ledger  Ledger
	opts    SyncOptions
	log     zerolog.Logger
	now     func() time.Time
}

// NewSyncer creates a syncer. The syncer is the only writer of ledger for
// the duration of Run.
func NewSyncer(catalog Catalog, fetcher Fetcher, ledger Ledger, opts SyncOptions) *Syncer {
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = 10
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.CollisionPolicy == "" {
		opts.CollisionPolicy = CollisionSuffix
	}
	return &Syncer{
		catalog: catalog,
		fetcher: fetcher,
		ledger:  ledger,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "sync").Logger(),
		now:     time.Now,
	}
}

// Run performs the sync. It returns ErrInterrupted, together with the
// summary, when ctx is canceled at any step; once listing has started the
// ledger is persisted before returning in that case too. A partial listing is not an error: it
// is logged and recorded in RunSummary.ListErr.
func (s *Syncer) Run(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: s.now(),
		DestDir:   s.opts.DestDir,
	}
	log := s.log.With().Str("run", summary.RunID).Logger()
	defer func() { summary.FinishedAt = s.now() }()

	if s.opts.Authenticate != nil {
		s.transition(log, StateAuthenticating)
		if err := s.opts.Authenticate(ctx); err != nil {
			if ctx.Err() != nil {
				// nothing was marked yet, so there is nothing to persist
				summary.Interrupted = true
				summary.LedgerSize = s.ledger.Len()
				s.transition(log, StateInterrupted)
				s.transition(log, StateDone)
				return summary, ErrInterrupted
			}
			return summary, fmt.Errorf("authenticate: %w", err)
		}
	}

	s.transition(log, StateListing)
	items, err := s.catalog.ListAll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			summary.Interrupted = true
			summary.Listed = len(items)
			s.finalize(log, summary)
			return summary, ErrInterrupted
		}
		summary.ListErr = err
		log.Error().Err(err).Int("items", len(items)).Msg("listing incomplete, continuing with partial catalog")
	}
	summary.Listed = len(items)
	summary.LedgerSize = s.ledger.Len()
	if len(items) == 0 {
		log.Info().Msg("no items to sync")
		s.transition(log, StateDone)
		return summary, nil
	}

	s.transition(log, StateDiffing)
	AssignLocalNames(items, s.opts.CollisionPolicy)
	pending := make([]MediaItem, 0, len(items))
	for _, item := range items {
		if !s.ledger.Contains(item.ID) {
			pending = append(pending, item)
		}
	}
	summary.Pending = len(pending)
	if len(pending) == 0 {
		log.Info().Int("listed", summary.Listed).Msg("everything is already synced")
		s.transition(log, StateDone)
		return summary, nil
	}
	log.Info().
		Int("listed", summary.Listed).
		Int("pending", summary.Pending).
		Int("synced", s.ledger.Len()).
		Str("dest", s.opts.DestDir).
		Msg("downloading new items")

	if s.opts.OnPending != nil {
		s.opts.OnPending(len(pending))
	}
	s.transition(log, StateDownloading)
	processed := s.download(ctx, log, pending, summary)
	if processed < len(pending) {
		summary.Interrupted = true
		s.transition(log, StateInterrupted)
		log.Warn().Int("processed", processed).Int("pending", len(pending)).Msg("sync interrupted")
	}

	s.finalize(log, summary)
	if summary.Interrupted {
		return summary, ErrInterrupted
	}
	return summary, nil
}

// download fetches pending items in listing order and returns how many
// were processed. Ledger updates happen on the calling goroutine only.
func (s *Syncer) download(ctx context.Context, log zerolog.Logger, pending []MediaItem, summary *RunSummary) int {
	results := make(chan ItemResult)

	go func() {
		defer close(results)
		var g errgroup.Group
		g.SetLimit(s.opts.Workers)
		for i, item := range pending {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				outcome, err := s.fetcher.Fetch(ctx, item, s.opts.DestDir)
				results <- ItemResult{Index: i + 1, Total: len(pending), Item: item, Outcome: outcome, Err: err}
				return nil
			})
		}
		g.Wait()
	}()

	processed, successes := 0, 0
	for r := range results {
		if !r.Outcome.OK() && ctx.Err() != nil && errors.Is(r.Err, ctx.Err()) {
			// Aborted by the interruption, not a failure of the item.
			continue
		}
		processed++

		ilog := log.With().Int("index", r.Index).Int("total", r.Total).Str("item", r.Item.ID).Str("name", r.Item.Name()).Str("kind", r.Item.Kind().String()).Logger()
		switch r.Outcome {
		case OutcomeDownloaded:
			summary.Downloaded++
			ilog.Info().Msg("downloaded")
		case OutcomeExisting:
			summary.Existing++
			ilog.Info().Msg("already present")
		default:
			summary.Failed++
			ilog.Error().Err(r.Err).Msg("download failed")
		}

		if r.Outcome.OK() {
			s.ledger.Mark(r.Item.ID)
			successes++
			if successes%s.opts.CheckpointEvery == 0 {
				s.persist(log, summary)
			}
		}
		if s.opts.OnItem != nil {
			s.opts.OnItem(r)
		}
	}
	return processed
}

func (s *Syncer) finalize(log zerolog.Logger, summary *RunSummary) {
	s.transition(log, StateFinalizing)
	s.persist(log, summary)
	summary.LedgerSize = s.ledger.Len()
	log.Info().
		Int("downloaded", summary.Downloaded).
		Int("existing", summary.Existing).
		Int("failed", summary.Failed).
		Int("synced", summary.LedgerSize).
		Bool("interrupted", summary.Interrupted).
		Msg("sync finished")
	s.transition(log, StateDone)
}

func (s *Syncer) persist(log zerolog.Logger, summary *RunSummary) {
	if err := s.ledger.Persist(); err != nil {
		summary.PersistErr = err
		log.Error().Err(err).Msg("could not persist ledger")
		return
	}
	log.Debug().Int("synced", s.ledger.Len()).Msg("ledger persisted")
}

func (s *Syncer) transition(log zerolog.Logger, state State) {
	log.Debug().Stringer("state", state).Msg("state")
	if s.opts.OnState != nil {
		s.opts.OnState(state)
	}
}
