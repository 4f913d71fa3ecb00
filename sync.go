package photosync

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"photosync/auth"
	"photosync/config"
	pshttp "photosync/http"
	"photosync/internal/retry"
	"photosync/photos"
	"photosync/progress"
	"photosync/storage"
)

// Options carries the run hooks that do not belong in configuration.
type Options struct {
	// Logger receives structured logs. The zero value discards them.
	Logger zerolog.Logger
	// Prompt receives the consent URL when a login is needed; nil means
	// stderr.
	Prompt io.Writer
	// Progress, if set, is fed listing and download progress and stopped
	// before the run finalizes.
	Progress *progress.Reporter
	// Endpoint overrides the Library API base URL.
	Endpoint string
}

// Sync runs one incremental sync as configured by cfg, which should have
// passed Prepare. It holds the state file lock for the duration of the run.
// On interruption the summary is returned together with ErrInterrupted.
func Sync(ctx context.Context, cfg *config.Config, opts Options) (*photos.RunSummary, error) {
	log := opts.Logger

	ledger, err := storage.Open(cfg.StateFile, log)
	if err != nil {
		return nil, fmt.Errorf("open state file: %w", err)
	}
	defer ledger.Close()

	provider, err := auth.NewProvider(cfg.CredentialsFile, cfg.TokenFile, log)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	if opts.Prompt != nil {
		provider.Prompt = opts.Prompt
	}

	// The API client exists before authentication; its token source is
	// filled in by the Authenticating step.
	var tokens auth.Deferred
	apiCfg := pshttp.DefaultConfig()
	apiCfg.TokenSource = &tokens
	apiCfg.Pacing.RPS = cfg.ListingRPS
	api := pshttp.New(apiCfg)
	defer api.Close()

	// Base URLs are pre-authorized; media downloads go out anonymously.
	mediaCfg := pshttp.DefaultConfig()
	mediaCfg.ReadTimeout = cfg.DownloadTimeout
	mediaCfg.Pacing.RPS = 0
	mediaCfg.Transport.MaxIdleConnsPerHost = max(cfg.Workers, mediaCfg.Transport.MaxIdleConnsPerHost)
	media := pshttp.New(mediaCfg)
	defer media.Close()

	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = photos.DefaultEndpoint
	}
	library := photos.NewLibraryClient(api, endpoint)
	lister := photos.NewLister(library,
		photos.WithPageSize(cfg.PageSize),
		photos.WithListRetry(photos.ListingRetry(cfg.RetryDelay, cfg.ListingMaxBackoff, cfg.ListingMaxRetries)),
		photos.WithListLogger(log),
	)
	downloader := photos.NewDownloader(media,
		photos.WithDownloadRetry(retry.Fixed(cfg.MaxRetries, cfg.RetryDelay)),
		photos.WithVerifyExisting(cfg.VerifyExisting),
		photos.WithRefresher(library),
		photos.WithDownloadLogger(log),
	)

	syncOpts := photos.SyncOptions{
		DestDir:         cfg.DownloadDir,
		CheckpointEvery: cfg.CheckpointEvery,
		Workers:         cfg.Workers,
		CollisionPolicy: cfg.CollisionPolicy,
		Logger:          log,
		Authenticate: func(ctx context.Context) error {
			src, err := provider.TokenSource(ctx)
			if err != nil {
				return err
			}
			tokens.Set(src)
			return nil
		},
	}
	if r := opts.Progress; r != nil {
		lister.OnProgress = r.Listed
		downloader.OnProgress = r.Transferred
		syncOpts.OnPending = r.Start
		syncOpts.OnItem = r.ItemDone
		syncOpts.OnState = func(s photos.State) {
			if s == photos.StateFinalizing {
				r.Stop()
			}
		}
	}

	return photos.NewSyncer(lister, downloader, ledger, syncOpts).Run(ctx)
}
