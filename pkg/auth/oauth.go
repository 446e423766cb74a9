package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	// ClientSecretsFile is the OAuth client downloaded from the Google Cloud console.
	ClientSecretsFile = "credentials.json"

	// TokenFile caches the user's access and refresh token.
	TokenFile = "token.json"

	// LocalhostAuthPort is where the local web server captures the OAuth redirect.
	LocalhostAuthPort = "6789"

	// DatastoreScope grants read/write access to Firestore.
	DatastoreScope = "https://www.googleapis.com/auth/datastore"
)

// ErrNoSession means no cached token or default credentials are available.
var ErrNoSession = errors.New("no remote session available, run with -auth")

// Session locates and refreshes the OAuth2 credentials of the remote backend.
type Session struct {
	// Dir holds credentials.json and token.json.
	Dir    string
	Scopes []string
	// UseDefaultCredentials falls back to Application Default Credentials when
	// there is no cached token.
	UseDefaultCredentials bool
	Logger                *zap.Logger
}

func NewSession(dir string, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		Dir:                   dir,
		Scopes:                []string{DatastoreScope},
		UseDefaultCredentials: true,
		Logger:                logger,
	}
}

func (s *Session) tokenPath() string {
	return filepath.Join(s.Dir, TokenFile)
}

// GetConfig creates an oauth2.Config from the client secrets file.
func (s *Session) GetConfig() (*oauth2.Config, error) {
	clientSecretsFile := filepath.Join(s.Dir, ClientSecretsFile)
	b, err := os.ReadFile(clientSecretsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file %s: %w", clientSecretsFile, err)
	}

	config, err := google.ConfigFromJSON(b, s.Scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = s.redirectURL(config.RedirectURL)
	return config, nil
}

// redirectURL pins localhost and out-of-band redirects to LocalhostAuthPort.
func (s *Session) redirectURL(raw string) string {
	if raw == "urn:ietf:wg:oauth:2.0:oob" || raw == "" {
		return fmt.Sprintf("http://localhost:%s/oauth2callback", LocalhostAuthPort)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		s.Logger.Warn("could not parse redirect URL, using it as is", zap.String("url", raw), zap.Error(err))
		return raw
	}
	if parsed.Hostname() != "localhost" && parsed.Hostname() != "127.0.0.1" {
		s.Logger.Warn("redirect URL is not a localhost callback", zap.String("url", raw))
		return raw
	}
	if parsed.Port() != LocalhostAuthPort {
		parsed.Host = net.JoinHostPort(parsed.Hostname(), LocalhostAuthPort)
	}
	return parsed.String()
}

// TokenSource returns a token source for the remote backend. It uses the
// cached token when present, runs the browser flow when interactive, and
// otherwise tries Application Default Credentials.
func (s *Session) TokenSource(ctx context.Context, interactive bool) (oauth2.TokenSource, error) {
	tok, err := tokenFromFile(s.tokenPath())
	if err == nil {
		config, err := s.GetConfig()
		if err != nil {
			return nil, err
		}
		return s.persisting(config.TokenSource(ctx, tok), tok), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		s.Logger.Warn("ignoring unreadable token file", zap.String("path", s.tokenPath()), zap.Error(err))
	}

	if interactive {
		config, err := s.GetConfig()
		if err != nil {
			return nil, err
		}
		s.Logger.Info("no cached token, starting web authorization flow", zap.String("path", s.tokenPath()))
		tok, err := getTokenFromWeb(ctx, config, s.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to get token from web: %w", err)
		}
		if err := saveToken(s.tokenPath(), tok); err != nil {
			return nil, err
		}
		return s.persisting(config.TokenSource(ctx, tok), tok), nil
	}

	if s.UseDefaultCredentials {
		creds, err := google.FindDefaultCredentials(ctx, s.Scopes...)
		if err == nil {
			return creds.TokenSource, nil
		}
		s.Logger.Debug("no application default credentials", zap.Error(err))
	}
	return nil, ErrNoSession
}

// Reset removes the cached token so the next interactive TokenSource starts over.
func (s *Session) Reset() error {
	if err := os.Remove(s.tokenPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("could not delete token file %s: %w", s.tokenPath(), err)
	}
	return nil
}

// Probe checks that ts can produce a valid token.
func Probe(ts oauth2.TokenSource) error {
	tok, err := ts.Token()
	if err != nil {
		return fmt.Errorf("remote session is not usable: %w", err)
	}
	if !tok.Valid() {
		return errors.New("remote session returned an invalid token")
	}
	return nil
}

// persisting writes refreshed tokens back to the token file.
func (s *Session) persisting(src oauth2.TokenSource, last *oauth2.Token) oauth2.TokenSource {
	return &savingTokenSource{src: src, path: s.tokenPath(), last: last, logger: s.Logger}
}

type savingTokenSource struct {
	mu     sync.Mutex
	src    oauth2.TokenSource
	path   string
	last   *oauth2.Token
	logger *zap.Logger
}

func (t *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := t.src.Token()
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil || tok.AccessToken != t.last.AccessToken || tok.RefreshToken != t.last.RefreshToken {
		if err := saveToken(t.path, tok); err != nil {
			t.logger.Warn("could not save refreshed token", zap.Error(err))
		}
		t.last = tok
	}
	return tok, nil
}

// getTokenFromWeb runs the authorization code flow with a local redirect server.
func getTokenFromWeb(ctx context.Context, config *oauth2.Config, logger *zap.Logger) (*oauth2.Token, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", LocalhostAuthPort))
	if err != nil {
		return nil, fmt.Errorf("failed to start listener on port %s: %w", LocalhostAuthPort, err)
	}
	defer listener.Close()

	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			code := r.URL.Query().Get("code")
			if code == "" {
				http.Error(w, "Authorization code not found", http.StatusBadRequest)
				select {
				case errCh <- errors.New("authorization code not found in redirect URL"):
				default:
				}
				return
			}
			fmt.Fprintf(w, "Authentication successful! You can close this window.")
			select {
			case codeCh <- code:
			default:
			}
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	defer server.Shutdown(context.Background())

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case errCh <- fmt.Errorf("HTTP server error: %w", err):
			default:
			}
		}
	}()

	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	fmt.Printf("Open the following URL in your browser to authorize promemoria:\n%s\n", authURL)
	logger.Info("waiting for authorization code", zap.String("redirect", config.RedirectURL))

	select {
	case code := <-codeCh:
		exCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		tok, err := config.Exchange(exCtx, code)
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve token from Google: %w", err)
		}
		return tok, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Minute):
		return nil, errors.New("authorization timed out, please try again")
	}
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token from file %s: %w", file, err)
	}
	return tok, nil
}

func saveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("could not create token directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache OAuth token to %s: %w", path, err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}
