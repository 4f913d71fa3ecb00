package photosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"photosync/auth"
	"photosync/config"
	"photosync/storage"
)

// library serves a two-page listing and the media bytes of each item.
func library(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/mediaItems":
			if got := r.Header.Get("Authorization"); got != "Bearer cached" {
				t.Errorf("Authorization = %q", got)
			}
			item := func(id, name, mime string) map[string]any {
				return map[string]any{"id": id, "filename": name, "mimeType": mime, "baseUrl": srv.URL + "/media/" + id}
			}
			var page map[string]any
			if r.URL.Query().Get("pageToken") == "" {
				page = map[string]any{
					"mediaItems":    []any{item("A", "a.jpg", "image/jpeg"), item("B", "b.mp4", "video/mp4")},
					"nextPageToken": "p2",
				}
			} else {
				page = map[string]any{"mediaItems": []any{item("C", "c.png", "image/png")}}
			}
			json.NewEncoder(w).Encode(page)
		default:
			if r.Header.Get("Authorization") != "" {
				t.Errorf("media request carries credentials")
			}
			fmt.Fprintf(w, "content of %s", r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.CredentialsFile = filepath.Join(dir, "credentials.json")
	cfg.TokenFile = filepath.Join(dir, "token.json")
	cfg.DownloadDir = filepath.Join(dir, "photos")
	cfg.StateFile = filepath.Join(dir, "sync_state.json")
	cfg.ListingRPS = 0

	os.WriteFile(cfg.CredentialsFile, []byte(`{"installed":{"client_id":"id","client_secret":"s",
		"auth_uri":"https://accounts.example.com/auth",
		"token_uri":"https://accounts.example.com/token",
		"redirect_uris":["http://localhost"]}}`), 0o600)
	tok := &oauth2.Token{AccessToken: "cached", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}
	if err := auth.SaveToken(cfg.TokenFile, tok); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Prepare(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestSyncEndToEnd(t *testing.T) {
	srv := library(t)
	cfg := testConfig(t)

	summary, err := Sync(context.Background(), cfg, Options{Endpoint: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if summary.Listed != 3 || summary.Downloaded != 3 || summary.LedgerSize != 3 {
		t.Errorf("summary = %+v", summary)
	}

	for name, want := range map[string]string{
		"a.jpg": "content of /media/A=d",
		"b.mp4": "content of /media/B=dv",
		"c.png": "content of /media/C=d",
	} {
		data, err := os.ReadFile(filepath.Join(cfg.DownloadDir, name))
		if err != nil {
			t.Errorf("read %s: %v", name, err)
			continue
		}
		if string(data) != want {
			t.Errorf("%s = %q, want %q", name, data, want)
		}
	}

	stats, err := storage.ReadStats(cfg.StateFile)
	if err != nil {
		t.Fatalf("ReadStats() error = %v", err)
	}
	if stats.TotalItems != 3 {
		t.Errorf("TotalItems = %d, want 3", stats.TotalItems)
	}

	again, err := Sync(context.Background(), cfg, Options{Endpoint: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("second Sync() error = %v", err)
	}
	if diff := cmp.Diff([]int{3, 0, 0}, []int{again.Listed, again.Pending, again.Downloaded}); diff != "" {
		t.Errorf("second run mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncStateFileLocked(t *testing.T) {
	cfg := testConfig(t)
	held, err := storage.Open(cfg.StateFile, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer held.Close()

	_, err = Sync(context.Background(), cfg, Options{Endpoint: "http://127.0.0.1:1"})
	if !errors.Is(err, ErrLockTimeout) {
		t.Errorf("Sync() error = %v, want ErrLockTimeout", err)
	}
}
