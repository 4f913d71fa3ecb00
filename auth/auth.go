// Package auth supplies authorized OAuth2 token sources for the Photos
// Library API. Tokens are cached in a JSON file, refreshed when expired and,
// when no usable token exists, obtained through the installed-app loopback
// consent flow.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// PhotosLibraryReadonlyScope grants read access to the user's library.
const PhotosLibraryReadonlyScope = "https://www.googleapis.com/auth/photoslibrary.readonly"

var (
	// ErrConsentDenied indicates the user declined the consent screen.
	ErrConsentDenied = errors.New("auth: consent denied")
	// ErrStateMismatch indicates the loopback redirect carried a foreign state.
	ErrStateMismatch = errors.New("auth: state mismatch in redirect")
)

// Provider resolves credentials for a run.
type Provider struct {
	config    *oauth2.Config
	tokenFile string
	log       zerolog.Logger

	// Prompt receives the consent URL; defaults to stderr.
	Prompt io.Writer
	// ConsentTimeout bounds how long the loopback flow waits for the user.
	ConsentTimeout time.Duration
}

// NewProvider reads the OAuth client secrets file and prepares a provider
// that caches tokens in tokenFile.
func NewProvider(credentialsFile, tokenFile string, logger zerolog.Logger) (*Provider, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(data, PhotosLibraryReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", credentialsFile, err)
	}
	return newProvider(cfg, tokenFile, logger), nil
}

func newProvider(cfg *oauth2.Config, tokenFile string, logger zerolog.Logger) *Provider {
	return &Provider{
		config:         cfg,
		tokenFile:      tokenFile,
		log:            logger.With().Str("component", "auth").Logger(),
		Prompt:         os.Stderr,
		ConsentTimeout: 5 * time.Minute,
	}
}

// TokenSource returns an authorized token source. A cached token is reused
// and refreshed if possible; otherwise the consent flow runs. Refreshed
// tokens are written back to the cache.
func (p *Provider) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	tok, err := LoadToken(p.tokenFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		p.log.Info().Str("path", p.tokenFile).Msg("no cached token")
	case err != nil:
		p.log.Warn().Err(err).Msg("ignoring unreadable cached token")
		tok = nil
	}

	if tok != nil && !tok.Valid() {
		if tok.RefreshToken == "" {
			tok = nil
		} else {
			p.log.Info().Msg("refreshing expired token")
			fresh, err := p.config.TokenSource(ctx, tok).Token()
			if err != nil {
				p.log.Warn().Err(err).Msg("token refresh failed; new consent required")
				tok = nil
			} else {
				tok = fresh
				if err := SaveToken(p.tokenFile, tok); err != nil {
					p.log.Warn().Err(err).Msg("could not save token")
				}
			}
		}
	}

	if tok == nil {
		if tok, err = p.Login(ctx); err != nil {
			return nil, err
		}
	}

	base := oauth2.ReuseTokenSource(tok, p.config.TokenSource(ctx, tok))
	return newPersistingSource(base, p.tokenFile, tok, p.log), nil
}

// Login runs the loopback consent flow and caches the resulting token.
func (p *Provider) Login(ctx context.Context) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen for redirect: %w", err)
	}

	cfg := *p.config
	cfg.RedirectURL = "http://" + ln.Addr().String() + "/"

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))

	type result struct {
		code string
		err  error
	}
	results := make(chan result, 1)

	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			var res result
			switch {
			case q.Get("state") != state:
				res.err = ErrStateMismatch
			case q.Get("error") != "":
				res.err = fmt.Errorf("%w: %s", ErrConsentDenied, q.Get("error"))
			case q.Get("code") == "":
				http.NotFound(w, r)
				return
			default:
				res.code = q.Get("code")
			}
			if res.err != nil {
				http.Error(w, "Authorization failed. You may close this window.", http.StatusBadRequest)
			} else {
				fmt.Fprintln(w, "Authorization complete. You may close this window.")
			}
			select {
			case results <- res:
			default:
			}
		}),
	}
	go srv.Serve(ln)
	defer srv.Close()

	fmt.Fprintf(p.Prompt, "Open this URL in a browser to authorize photosync:\n\n  %s\n\n", authURL)
	p.log.Info().Str("redirect", cfg.RedirectURL).Msg("waiting for consent")

	waitCtx := ctx
	if p.ConsentTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.ConsentTimeout)
		defer cancel()
	}

	var res result
	select {
	case res = <-results:
	case <-waitCtx.Done():
		return nil, fmt.Errorf("waiting for consent: %w", waitCtx.Err())
	}
	if res.err != nil {
		return nil, res.err
	}

	tok, err := cfg.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	if err := SaveToken(p.tokenFile, tok); err != nil {
		p.log.Warn().Err(err).Msg("could not save token")
	} else {
		p.log.Info().Str("path", p.tokenFile).Msg("token saved")
	}
	return tok, nil
}
