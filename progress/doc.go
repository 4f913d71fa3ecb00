// Package progress renders sync progress for a terminal.
//
// On an interactive terminal the reporter redraws one status line in place.
// Otherwise it stays quiet until Stop, which prints a summary line, so that
// logs piped to a file are not flooded with carriage returns.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{Output: os.Stderr})
//	lister.OnProgress = reporter.Listed
//	downloader.OnProgress = reporter.Transferred
//
//	reporter.Start(len(pending))
//	defer reporter.Stop()
//
// # Output Format
//
//	[photosync] Listing: 12 pages | 1200 items
//	[photosync] 45/120 items | 1 failed | 310 MiB | 4.2 MiB/s | ETA: 1m 40s
package progress
