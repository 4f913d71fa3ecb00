package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const libraryURL = "https://photoslibrary.googleapis.com/v1/mediaItems"

// fakeClock drives a Pacer's notion of time.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestPacer(cfg PacingConfig) (*Pacer, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	p := NewPacer(cfg)
	p.now = clock.now
	return p, clock
}

func TestPacerDefaults(t *testing.T) {
	p := NewPacer(PacingConfig{RPS: 8})
	if p.cfg.MinRPS != 1 {
		t.Errorf("MinRPS = %v, want 1", p.cfg.MinRPS)
	}
	if p.cfg.Cooldown != time.Minute || p.cfg.MaxHold != 2*time.Minute {
		t.Errorf("Cooldown = %v, MaxHold = %v", p.cfg.Cooldown, p.cfg.MaxHold)
	}
}

func TestPacerSpacesRequests(t *testing.T) {
	p := NewPacer(PacingConfig{RPS: 10})
	ctx := context.Background()

	if err := p.Wait(ctx, libraryURL); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	start := time.Now()
	if err := p.Wait(ctx, libraryURL); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("second Wait returned after %v, want about 100ms", elapsed)
	}
}

func TestPacerHostsAreIndependent(t *testing.T) {
	p := NewPacer(PacingConfig{RPS: 0.5})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := p.Wait(ctx, libraryURL); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if err := p.Wait(ctx, "https://lh3.googleusercontent.com/abc=d"); err != nil {
		t.Errorf("other host Wait() error = %v", err)
	}
}

func TestPacerDisabled(t *testing.T) {
	p, _ := newTestPacer(PacingConfig{})
	p.Throttled(libraryURL, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 50; i++ {
		if err := p.Wait(ctx, libraryURL); err != nil {
			t.Fatalf("Wait() error = %v on iteration %d", err, i)
		}
	}
	if got := p.Rate(libraryURL); got != 0 {
		t.Errorf("Rate() = %v, want 0", got)
	}
}

func TestPacerNilIsNoop(t *testing.T) {
	var p *Pacer
	if err := p.Wait(context.Background(), libraryURL); err != nil {
		t.Errorf("nil Wait() error = %v", err)
	}
	p.Throttled(libraryURL, time.Second)
	p.Succeeded(libraryURL)
	if p.Rate(libraryURL) != 0 {
		t.Error("nil Rate() should be 0")
	}
}

func TestPacerThrottleHalvesDownToFloor(t *testing.T) {
	p, _ := newTestPacer(PacingConfig{RPS: 4, MinRPS: 1})

	want := []float64{2, 1, 1}
	for i, w := range want {
		p.Throttled(libraryURL, 0)
		if got := p.Rate(libraryURL); got != w {
			t.Errorf("after %d throttles Rate() = %v, want %v", i+1, got, w)
		}
	}
}

func TestPacerRestoresStepwiseAfterCooldown(t *testing.T) {
	p, clock := newTestPacer(PacingConfig{RPS: 8, MinRPS: 1, Cooldown: time.Minute})
	for i := 0; i < 3; i++ {
		p.Throttled(libraryURL, 0)
	}
	if got := p.Rate(libraryURL); got != 1 {
		t.Fatalf("Rate() = %v, want 1", got)
	}

	clock.advance(30 * time.Second)
	p.Succeeded(libraryURL)
	if got := p.Rate(libraryURL); got != 1 {
		t.Errorf("within cooldown Rate() = %v, want 1", got)
	}

	for _, want := range []float64{2, 4, 8, 8} {
		clock.advance(time.Minute)
		p.Succeeded(libraryURL)
		if got := p.Rate(libraryURL); got != want {
			t.Errorf("Rate() = %v, want %v", got, want)
		}
	}
}

func TestPacerHoldsUntilRetryAfter(t *testing.T) {
	p, _ := newTestPacer(PacingConfig{RPS: 100})
	p.Throttled(libraryURL, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx, libraryURL); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
	if err := p.Wait(context.Background(), "https://lh3.googleusercontent.com/x"); err != nil {
		t.Errorf("unthrottled host Wait() error = %v", err)
	}
}

func TestPacerHoldIsCapped(t *testing.T) {
	p, clock := newTestPacer(PacingConfig{RPS: 100, MaxHold: time.Second})
	p.Throttled(libraryURL, time.Hour)

	clock.advance(2 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Wait(ctx, libraryURL); err != nil {
		t.Errorf("Wait() after capped hold error = %v", err)
	}
}

func TestPacerContextCanceled(t *testing.T) {
	p := NewPacer(PacingConfig{RPS: 0.5})
	ctx, cancel := context.WithCancel(context.Background())

	if err := p.Wait(ctx, libraryURL); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	cancel()
	if err := p.Wait(ctx, libraryURL); err == nil {
		t.Fatal("expected error from canceled context")
	}
}

func TestClientThrottleSlowsHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.Pacing = PacingConfig{RPS: 50}
	client := New(cfg)
	defer client.Close()

	if _, err := client.Get(context.Background(), server.URL); !IsTransient(err) {
		t.Fatalf("error = %v, want transient", err)
	}
	if got := client.pacer.Rate(server.URL); got != 25 {
		t.Errorf("Rate() = %v, want 25", got)
	}
}

func TestHostOf(t *testing.T) {
	tests := []struct {
		url  string
		host string
	}{
		{libraryURL, "photoslibrary.googleapis.com"},
		{"https://googleapis.com:443/test", "googleapis.com"},
		{"http://lh3.googleusercontent.com/x?param=value", "lh3.googleusercontent.com"},
		{"invalid url", "unknown"},
	}
	for _, tt := range tests {
		if got := hostOf(tt.url); got != tt.host {
			t.Errorf("hostOf(%q) = %q, want %q", tt.url, got, tt.host)
		}
	}
}
