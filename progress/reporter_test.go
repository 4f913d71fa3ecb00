package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"photosync/photos"
)

// syncBuffer is a bytes.Buffer safe for the reporter goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func boolPtr(v bool) *bool { return &v }

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{0, "0s"},
		{42 * time.Second, "42s"},
		{2*time.Minute + 5*time.Second, "2m 5s"},
		{3*time.Hour + 4*time.Minute + 5*time.Second, "3h 4m 5s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.input); got != tt.expected {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestReporterTracking(t *testing.T) {
	reporter := NewReporter(Options{Output: &syncBuffer{}, Interactive: boolPtr(false)})

	reporter.Transferred(photos.DownloadProgress{ItemID: "a", Written: 100})
	reporter.Transferred(photos.DownloadProgress{ItemID: "a", Written: 250})
	reporter.Transferred(photos.DownloadProgress{ItemID: "b", Written: 50})
	if got := reporter.bytes.Load(); got != 300 {
		t.Errorf("bytes = %d, want 300", got)
	}

	reporter.ItemDone(photos.ItemResult{Item: photos.MediaItem{ID: "a"}, Outcome: photos.OutcomeDownloaded})
	reporter.ItemDone(photos.ItemResult{Item: photos.MediaItem{ID: "b"}, Outcome: photos.OutcomeFailed})
	if reporter.done.Load() != 2 || reporter.failed.Load() != 1 {
		t.Errorf("done = %d, failed = %d", reporter.done.Load(), reporter.failed.Load())
	}

	reporter.Listed(photos.ListProgress{Pages: 3, Items: 250})
	if reporter.pages.Load() != 3 || reporter.listed.Load() != 250 {
		t.Errorf("pages = %d, listed = %d", reporter.pages.Load(), reporter.listed.Load())
	}
}

func TestReporterNonInteractiveOnlyPrintsSummary(t *testing.T) {
	out := &syncBuffer{}
	reporter := NewReporter(Options{Output: out, UpdateInterval: 5 * time.Millisecond, Interactive: boolPtr(false)})

	reporter.Listed(photos.ListProgress{Pages: 1, Items: 2})
	reporter.Start(2)
	reporter.Transferred(photos.DownloadProgress{ItemID: "a", Written: 2048})
	reporter.ItemDone(photos.ItemResult{Item: photos.MediaItem{ID: "a"}, Outcome: photos.OutcomeDownloaded})
	reporter.ItemDone(photos.ItemResult{Item: photos.MediaItem{ID: "b"}, Outcome: photos.OutcomeExisting})
	time.Sleep(20 * time.Millisecond)
	reporter.Stop()

	got := out.String()
	if strings.Contains(got, "\r") {
		t.Errorf("non-interactive output contains carriage returns: %q", got)
	}
	if strings.Count(got, "\n") != 1 {
		t.Errorf("expected a single summary line, got %q", got)
	}
	if !strings.Contains(got, "2/2 items") || !strings.Contains(got, "2.0 KiB") {
		t.Errorf("summary = %q", got)
	}
}

func TestReporterInteractiveRedraws(t *testing.T) {
	out := &syncBuffer{}
	reporter := NewReporter(Options{Output: out, UpdateInterval: 5 * time.Millisecond, Interactive: boolPtr(true)})

	reporter.Start(4)
	reporter.ItemDone(photos.ItemResult{Item: photos.MediaItem{ID: "a"}, Outcome: photos.OutcomeFailed})
	time.Sleep(30 * time.Millisecond)
	reporter.Stop()

	got := out.String()
	if !strings.Contains(got, "\r[photosync] 1/4 items | 1 failed") {
		t.Errorf("output = %q", got)
	}
	if !strings.HasSuffix(got, "\n") {
		t.Errorf("final line not terminated: %q", got)
	}
}

func TestReporterStopIsIdempotent(t *testing.T) {
	reporter := NewReporter(Options{Output: &syncBuffer{}, Interactive: boolPtr(false)})
	reporter.Stop()
	reporter.Start(0)
	reporter.Stop()
	reporter.Stop()
}
