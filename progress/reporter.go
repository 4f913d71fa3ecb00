package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"photosync/photos"
)

const prefix = "[photosync]"

// Options configures the progress reporter.
type Options struct {
	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to redraw the status line.
	// Default: 500ms
	UpdateInterval time.Duration

	// Interactive forces in-place redraws on or off. Nil detects a terminal
	// on Output.
	Interactive *bool
}

// Reporter tracks items and bytes of a sync run.
type Reporter struct {
	opts        Options
	interactive bool

	total      atomic.Int64
	done       atomic.Int64
	failed     atomic.Int64
	bytes      atomic.Int64
	pages      atomic.Int64
	listed     atomic.Int64
	inProgress sync.Map // item ID -> bytes written so far

	mu        sync.Mutex
	startTime time.Time
	lastDraw  time.Time
	lastBytes int64
	started   bool
	stopped   bool
	stopCh    chan struct{}
	loopDone  chan struct{}
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	interactive := false
	if opts.Interactive != nil {
		interactive = *opts.Interactive
	} else if f, ok := opts.Output.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}

	return &Reporter{
		opts:        opts,
		interactive: interactive,
		stopCh:      make(chan struct{}),
		loopDone:    make(chan struct{}),
	}
}

// Listed records listing progress. It matches photos.Lister.OnProgress.
func (r *Reporter) Listed(p photos.ListProgress) {
	r.pages.Store(int64(p.Pages))
	r.listed.Store(int64(p.Items))
	if r.interactive {
		fmt.Fprintf(r.opts.Output, "\r%s Listing: %d pages | %d items    ", prefix, p.Pages, p.Items)
	}
}

// Start begins reporting the download of total items.
func (r *Reporter) Start(total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.total.Store(int64(total))
	r.startTime = time.Now()
	r.lastDraw = r.startTime

	if r.interactive && r.listed.Load() > 0 {
		fmt.Fprintln(r.opts.Output)
	}
	go r.updateLoop()
}

// Transferred records bytes written for an item. It matches
// photos.Downloader.OnProgress and may be called from several goroutines.
func (r *Reporter) Transferred(p photos.DownloadProgress) {
	prev, _ := r.inProgress.Swap(p.ItemID, p.Written)
	var before int64
	if prev != nil {
		before = prev.(int64)
	}
	r.bytes.Add(p.Written - before)
}

// ItemDone records a processed item. It matches SyncOptions.OnItem.
func (r *Reporter) ItemDone(res photos.ItemResult) {
	r.inProgress.Delete(res.Item.ID)
	r.done.Add(1)
	if !res.Outcome.OK() {
		r.failed.Add(1)
	}
}

// Stop ends reporting and prints the final line. Stop without Start is a
// no-op.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.loopDone
}

func (r *Reporter) updateLoop() {
	defer close(r.loopDone)
	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			if r.interactive {
				r.printProgress()
			}
		}
	}
}

func (r *Reporter) printProgress() {
	now := time.Now()
	written := r.bytes.Load()

	elapsed := now.Sub(r.lastDraw).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(written-r.lastBytes) / elapsed
	r.lastDraw = now
	r.lastBytes = written

	done, total := r.done.Load(), r.total.Load()
	eta := "calculating..."
	if done > 0 && done < total {
		perItem := now.Sub(r.startTime) / time.Duration(done)
		eta = formatDuration(perItem * time.Duration(total-done))
	}

	fmt.Fprintf(r.opts.Output, "\r%s %s | %s | %s/s | ETA: %s    ",
		prefix, r.counts(), humanize.IBytes(uint64(written)), humanize.IBytes(uint64(speed)), eta)
}

func (r *Reporter) printFinalStatus() {
	duration := time.Since(r.startTime)
	written := r.bytes.Load()
	avg := float64(written)
	if s := duration.Seconds(); s > 0 {
		avg /= s
	}
	lead := ""
	if r.interactive {
		lead = "\r"
	}
	fmt.Fprintf(r.opts.Output, "%s%s %s | %s in %s | %s/s    \n",
		lead, prefix, r.counts(), humanize.IBytes(uint64(written)), formatDuration(duration), humanize.IBytes(uint64(avg)))
}

func (r *Reporter) counts() string {
	s := fmt.Sprintf("%d/%d items", r.done.Load(), r.total.Load())
	if failed := r.failed.Load(); failed > 0 {
		s += fmt.Sprintf(" | %d failed", failed)
	}
	return s
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
