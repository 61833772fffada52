package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Auth methods.
const (
	AuthServiceAccount = "service_account"
	AuthOAuth          = "oauth"
)

// DefaultTokenPath is used when no OAuth token path is configured.
const DefaultTokenPath = "token.json"

// Config selects and locates Google credentials.
type Config struct {
	AuthMethod         string
	ServiceAccountPath string
	DelegatedUser      string
	ClientSecretsPath  string
	TokenPath          string
	// TokenJSON seeds TokenPath when the file does not exist yet.
	TokenJSON string
}

// ErrNoToken is returned when OAuth is configured but no token was stored.
var ErrNoToken = errors.New("no Google OAuth token found; run the auth command first")

// NewHTTPClient returns a client authorized for the calendar scope.
// The client is configured to use HTTP/1.1 to avoid HTTP/2 protocol errors.
func NewHTTPClient(ctx context.Context, cfg Config) (*http.Client, error) {
	ts, err := TokenSource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &http.Client{
		Transport: &oauth2.Transport{
			Source: ts,
			Base:   &http.Transport{ForceAttemptHTTP2: false, Proxy: http.ProxyFromEnvironment},
		},
	}, nil
}

// TokenSource returns the token source for the configured auth method.
func TokenSource(ctx context.Context, cfg Config) (oauth2.TokenSource, error) {
	switch strings.ToLower(cfg.AuthMethod) {
	case AuthServiceAccount:
		return serviceAccountTokenSource(ctx, cfg)
	case AuthOAuth:
		return oauthTokenSource(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported Google auth method %q", cfg.AuthMethod)
	}
}

func serviceAccountTokenSource(ctx context.Context, cfg Config) (oauth2.TokenSource, error) {
	if cfg.ServiceAccountPath == "" {
		return nil, fmt.Errorf("service account path is required for service account auth")
	}
	data, err := os.ReadFile(cfg.ServiceAccountPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read service account file: %w", err)
	}

	jwtCfg, err := google.JWTConfigFromJSON(data, CalendarScopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account file: %w", err)
	}
	if cfg.DelegatedUser != "" {
		jwtCfg.Subject = cfg.DelegatedUser
	}
	return jwtCfg.TokenSource(ctx), nil
}

func oauthConfig(cfg Config) (*oauth2.Config, error) {
	if cfg.ClientSecretsPath == "" {
		return nil, fmt.Errorf("client secrets path is required for oauth auth")
	}
	data, err := os.ReadFile(cfg.ClientSecretsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read client secrets: %w", err)
	}
	conf, err := google.ConfigFromJSON(data, CalendarScopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse client secrets: %w", err)
	}
	return conf, nil
}

func tokenPath(cfg Config) string {
	if cfg.TokenPath == "" {
		return DefaultTokenPath
	}
	return cfg.TokenPath
}

func oauthTokenSource(ctx context.Context, cfg Config) (oauth2.TokenSource, error) {
	conf, err := oauthConfig(cfg)
	if err != nil {
		return nil, err
	}

	path := tokenPath(cfg)
	if err := seedToken(path, cfg.TokenJSON); err != nil {
		return nil, err
	}
	tok, err := readToken(path)
	if err != nil {
		return nil, err
	}

	return &savingTokenSource{
		base: conf.TokenSource(ctx, tok),
		path: path,
		last: tok.AccessToken,
	}, nil
}

// AuthURL returns the consent URL for the installed-app flow.
func AuthURL(cfg Config) (string, error) {
	conf, err := oauthConfig(cfg)
	if err != nil {
		return "", err
	}
	return conf.AuthCodeURL("state", oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// ExchangeCode trades an authorization code for a token and stores it.
func ExchangeCode(ctx context.Context, cfg Config, code string) error {
	conf, err := oauthConfig(cfg)
	if err != nil {
		return err
	}
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange auth code: %w", err)
	}
	return writeToken(tokenPath(cfg), tok)
}

// HasToken reports whether a token file exists for cfg.
func HasToken(cfg Config) bool {
	_, err := os.Stat(tokenPath(cfg))
	return err == nil
}

func seedToken(path, seed string) error {
	if seed == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		return fmt.Errorf("failed to seed token file: %w", err)
	}
	return nil
}

func readToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("invalid token file %s: %w", path, err)
	}
	if tok.RefreshToken == "" && tok.AccessToken == "" {
		return nil, fmt.Errorf("invalid token file %s: no tokens", path)
	}
	return &tok, nil
}

func writeToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("token file %s is not writable: %w", path, err)
	}
	return nil
}

// savingTokenSource writes refreshed tokens back to disk.
type savingTokenSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := writeToken(s.path, tok); err != nil {
			return nil, err
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}
