package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"photosync/storage"
)

// LoadToken reads a cached token. A missing file returns os.ErrNotExist.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode token %s: %w", path, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("decode token %s: no access or refresh token", path)
	}
	return &tok, nil
}

// SaveToken atomically writes tok to path, readable only by the owner.
func SaveToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}

	return storage.WriteFile(path, 0o600, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// persistingSource writes refreshed tokens back to the cache file so the
// next run starts from the latest refresh token.
type persistingSource struct {
	base oauth2.TokenSource
	path string
	log  zerolog.Logger

	mu   sync.Mutex
	last string
}

func newPersistingSource(base oauth2.TokenSource, path string, current *oauth2.Token, logger zerolog.Logger) *persistingSource {
	s := &persistingSource{base: base, path: path, log: logger}
	if current != nil {
		s.last = current.AccessToken
	}
	return s
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := SaveToken(s.path, tok); err != nil {
			s.log.Warn().Err(err).Str("path", s.path).Msg("could not save refreshed token")
		} else {
			s.log.Debug().Str("path", s.path).Msg("saved refreshed token")
		}
	}
	return tok, nil
}

// ErrNotAuthenticated is returned by a Deferred source used before Set.
var ErrNotAuthenticated = errors.New("auth: not authenticated")

// Deferred is a token source whose backing source is supplied later, so
// HTTP clients can be built before the credential flow has run.
type Deferred struct {
	mu  sync.RWMutex
	src oauth2.TokenSource
}

// Set installs the backing source.
func (d *Deferred) Set(src oauth2.TokenSource) {
	d.mu.Lock()
	d.src = src
	d.mu.Unlock()
}

// Token returns a token from the backing source.
func (d *Deferred) Token() (*oauth2.Token, error) {
	d.mu.RLock()
	src := d.src
	d.mu.RUnlock()
	if src == nil {
		return nil, ErrNotAuthenticated
	}
	return src.Token()
}
