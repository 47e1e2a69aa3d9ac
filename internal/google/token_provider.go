package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// OOB is the redirect URI for codes the user copies from the consent page.
const OOB = "urn:ietf:wg:oauth:2.0:oob"

var (
	// ErrNoToken is returned when an account has no stored token.
	ErrNoToken = errors.New("no Google OAuth token found")

	// ErrNoClientCredentials is returned by the authorization flow when
	// GOOGLE_CLIENT_ID is not set.
	ErrNoClientCredentials = errors.New("Google OAuth client credentials are not configured")
)

// TokenProvider supplies OAuth token sources per account.
type TokenProvider interface {
	TokenSource(ctx context.Context, account string) (oauth2.TokenSource, error)
	HasToken(account string) bool
}

// Config holds the OAuth client credentials and the token directory.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenDir     string
}

// DefaultTokenDir returns <user cache dir>/ash/tokens.
func DefaultTokenDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "ash", "tokens")
}

var accountNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validateAccountName(account string) error {
	if account == "" {
		return fmt.Errorf("account name cannot be empty")
	}
	if !accountNamePattern.MatchString(account) {
		return fmt.Errorf("invalid account name %q: only letters, digits, '-' and '_' are allowed", account)
	}
	return nil
}

// FileTokenProvider reads tokens from <TokenDir>/<account>.json.
type FileTokenProvider struct {
	config Config
}

// NewFileTokenProvider creates a token provider. An empty TokenDir selects
// DefaultTokenDir.
func NewFileTokenProvider(config Config) *FileTokenProvider {
	if config.TokenDir == "" {
		config.TokenDir = DefaultTokenDir()
	}
	return &FileTokenProvider{config: config}
}

func (p *FileTokenProvider) tokenPath(account string) string {
	return filepath.Join(p.config.TokenDir, account+".json")
}

// HasToken reports whether a token file exists for the account.
func (p *FileTokenProvider) HasToken(account string) bool {
	if validateAccountName(account) != nil {
		return false
	}
	_, err := os.Stat(p.tokenPath(account))
	return err == nil
}

// Token reads the stored token for the account.
func (p *FileTokenProvider) Token(account string) (*oauth2.Token, error) {
	if err := validateAccountName(account); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p.tokenPath(account))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w for account %s", ErrNoToken, account)
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("invalid token file for account %s: %w", account, err)
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, fmt.Errorf("token file for account %s holds neither an access nor a refresh token", account)
	}
	return &token, nil
}

// TokenSource returns a token source for the account. With client
// credentials configured the source renews expired tokens.
func (p *FileTokenProvider) TokenSource(ctx context.Context, account string) (oauth2.TokenSource, error) {
	token, err := p.Token(account)
	if err != nil {
		return nil, err
	}
	if p.config.ClientID == "" {
		return oauth2.StaticTokenSource(token), nil
	}
	return p.oauthConfig().TokenSource(ctx, token), nil
}

// SaveToken writes a token for the account, creating the directory if needed.
func (p *FileTokenProvider) SaveToken(account string, token *oauth2.Token) error {
	if err := validateAccountName(account); err != nil {
		return err
	}
	if err := os.MkdirAll(p.config.TokenDir, 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := os.WriteFile(p.tokenPath(account), data, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// AuthCodeURL returns the consent page URL for the account. The user pastes
// the code shown by Google into Exchange.
func (p *FileTokenProvider) AuthCodeURL(account string) (string, error) {
	if err := validateAccountName(account); err != nil {
		return "", err
	}
	if p.config.ClientID == "" {
		return "", ErrNoClientCredentials
	}
	return p.oauthConfig().AuthCodeURL(account, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange trades an authorization code for a token and stores it.
func (p *FileTokenProvider) Exchange(ctx context.Context, account, code string) error {
	if err := validateAccountName(account); err != nil {
		return err
	}
	if p.config.ClientID == "" {
		return ErrNoClientCredentials
	}
	token, err := p.oauthConfig().Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange auth code: %w", err)
	}
	return p.SaveToken(account, token)
}

func (p *FileTokenProvider) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: p.config.ClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  OOB,
		Scopes:       DefaultOAuthScopes,
	}
}
