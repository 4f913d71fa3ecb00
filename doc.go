// Package photosync mirrors a Google Photos library into a local directory.
//
// A run lists the whole library, subtracts the items recorded in a state
// file and downloads the rest. Progress is saved every few items and on
// interruption, so a later run resumes instead of starting over.
//
// # Overview
//
// The high-level entry point is Sync, which wires the sub-packages from a
// loaded configuration:
//
//	cfg, err := config.Load("", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Prepare(); err != nil {
//		log.Fatal(err)
//	}
//	summary, err := photosync.Sync(ctx, cfg, photosync.Options{})
//	if err != nil && !errors.Is(err, photosync.ErrInterrupted) {
//		log.Fatal(err)
//	}
//	fmt.Printf("%d new items\n", summary.Downloaded)
//
// # Configuration
//
// Settings are layered, lowest priority first:
//
//  1. Defaults
//  2. Config file (photosync.yaml, .json or .toml in the working directory
//     or ~/.config/photosync)
//  3. .env file in the working directory
//  4. Environment variables: PHOTOSYNC_<KEY>, plus the unprefixed names
//     CREDENTIALS_FILE, TOKEN_FILE, DOWNLOAD_PATH, STATE_FILE, PAGE_SIZE,
//     MAX_RETRIES and RETRY_DELAY
//  5. Command-line flags
//
// # Error Handling
//
// Checking for sentinel errors:
//
//	if errors.Is(err, photosync.ErrLockTimeout) {
//		fmt.Println("another sync is running")
//	}
//
// Extracting wrapped error details:
//
//	var listErr *photosync.ListError
//	if errors.As(err, &listErr) {
//		fmt.Printf("listing stopped at page %d: %v\n", listErr.Page, listErr.Err)
//	}
//
// # Advanced Usage
//
// For more control, use the sub-packages directly:
//
//   - photos: catalog listing, downloads and the sync state machine
//   - auth: OAuth consent flow and token cache
//   - storage: the progress ledger
//   - http: paced HTTP client
//   - config: configuration management
//   - progress: terminal progress display
package photosync
