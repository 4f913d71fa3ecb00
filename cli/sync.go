package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"photosync"
	"photosync/config"
	"photosync/photos"
	"photosync/progress"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Download new items from the library",
	Long: `Lists the whole library, compares it with the state file and downloads
every item not recorded yet.

Ctrl-C stops the run after saving progress; the next run continues from there.

Examples:
  photosync sync
  photosync sync --download-dir ~/Pictures/google --workers 4
  PHOTOSYNC_PAGE_SIZE=50 photosync sync`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	d := config.DefaultConfig()
	flags := syncCmd.Flags()
	flags.String("credentials-file", d.CredentialsFile, "OAuth client secrets file")
	flags.String("token-file", d.TokenFile, "cached OAuth token")
	flags.StringP("download-dir", "d", d.DownloadDir, "directory to download into")
	flags.String("state-file", d.StateFile, "sync state file")
	flags.Int("page-size", d.PageSize, "items per listing page (1-100)")
	flags.Int("max-retries", d.MaxRetries, "download attempts per item")
	flags.Duration("retry-delay", d.RetryDelay, "delay between download attempts")
	flags.Duration("download-timeout", d.DownloadTimeout, "abort a download idle for this long")
	flags.IntP("workers", "w", d.Workers, "concurrent downloads (1-16)")
	flags.Int("checkpoint-every", d.CheckpointEvery, "save state after this many items")
	flags.String("collision-policy", d.CollisionPolicy, "duplicate filenames: suffix or overwrite")
	flags.Bool("verify-existing", d.VerifyExisting, "download again when an existing file is empty")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	cfg, log := e.cfg, e.log

	if err := cfg.Prepare(); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context(), cmd.ErrOrStderr())
	defer cancel()

	reporter := progress.NewReporter(progress.Options{Output: cmd.ErrOrStderr()})
	defer reporter.Stop()

	summary, err := photosync.Sync(ctx, cfg, photosync.Options{
		Logger:   log,
		Prompt:   cmd.ErrOrStderr(),
		Progress: reporter,
	})
	if err != nil && !errors.Is(err, photosync.ErrInterrupted) {
		return err
	}
	printSummary(cmd.OutOrStdout(), summary)
	return nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context, w io.Writer) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(w, "\n[photosync] Received interrupt, saving progress...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

func printSummary(w io.Writer, s *photos.RunSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	status := "complete"
	switch {
	case s.Interrupted:
		status = "interrupted, progress saved"
	case s.ListErr != nil:
		status = "listing incomplete"
	}
	fmt.Fprintf(tw, "Sync:\t%s\n", status)
	fmt.Fprintf(tw, "Run:\t%s\n", s.RunID)
	fmt.Fprintf(tw, "Listed:\t%s\n", humanize.Comma(int64(s.Listed)))
	fmt.Fprintf(tw, "New:\t%s\n", humanize.Comma(int64(s.Pending)))
	fmt.Fprintf(tw, "Downloaded:\t%s\n", humanize.Comma(int64(s.Downloaded)))
	if s.Existing > 0 {
		fmt.Fprintf(tw, "Already present:\t%s\n", humanize.Comma(int64(s.Existing)))
	}
	if s.Failed > 0 {
		fmt.Fprintf(tw, "Failed:\t%s\n", humanize.Comma(int64(s.Failed)))
	}
	fmt.Fprintf(tw, "Synced total:\t%s\n", humanize.Comma(int64(s.LedgerSize)))
	fmt.Fprintf(tw, "Directory:\t%s\n", s.DestDir)
	fmt.Fprintf(tw, "Duration:\t%s\n", s.Duration().Round(time.Millisecond))
	if s.ListErr != nil {
		fmt.Fprintf(tw, "Listing error:\t%v\n", s.ListErr)
	}
	if s.PersistErr != nil {
		fmt.Fprintf(tw, "State error:\t%v\n", s.PersistErr)
	}
	tw.Flush()
}
