package globus

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/gridstage/globus-go/internal/tokenfile"
)

// 'Parsl Application' OAuth2 client registered with Globus Auth.
const DefaultClientID = "8b8060fd-610e-4a74-885e-1051c71ad473"

// TransferResourceServer keys the transfer token record in the bundle.
const TransferResourceServer = "transfer.api.globus.org"

// nativeAppRedirectURI is Globus Auth's hosted page that displays the
// authorization code for the user to copy back into the terminal. No local
// callback server is involved in the native-app flow.
const nativeAppRedirectURI = "https://auth.globus.org/v2/web/auth-code"

var defaultScopes = []string{
	"openid",
	"urn:globus:auth:scope:transfer.api.globus.org:all",
}

// globusAuthEndpoint is the Globus Auth OAuth2 endpoint pair.
var globusAuthEndpoint = oauth2.Endpoint{
	AuthURL:  "https://auth.globus.org/v2/oauth2/authorize",
	TokenURL: "https://auth.globus.org/v2/oauth2/token",
}

// LoginOptions configures the interactive native-app flow.
type LoginOptions struct {
	// ClientID defaults to DefaultClientID.
	ClientID string

	// BundlePath is where the credential bundle is persisted.
	// Defaults to tokenfile.DefaultPath().
	BundlePath string

	// Display is called with the authorization URL the user must visit.
	// Defaults to printing the prompt to stderr.
	Display func(authURL string)

	// ReadCode reads the authorization code the user pastes back.
	// Defaults to reading one trimmed line from stdin.
	ReadCode func() (string, error)
}

func (o *LoginOptions) fill() error {
	if o.ClientID == "" {
		o.ClientID = DefaultClientID
	}

	if o.BundlePath == "" {
		path, err := tokenfile.DefaultPath()
		if err != nil {
			return err
		}

		o.BundlePath = path
	}

	if o.Display == nil {
		o.Display = func(authURL string) {
			fmt.Fprintf(os.Stderr, "Please visit the following URL to provide authorization:\n%s\n", authURL)
			fmt.Fprint(os.Stderr, "Enter the auth code: ")
		}
	}

	if o.ReadCode == nil {
		o.ReadCode = func() (string, error) {
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil {
				return "", fmt.Errorf("globus: reading auth code: %w", err)
			}

			return strings.TrimSpace(line), nil
		}
	}

	return nil
}

// Login performs the native-app OAuth2 flow:
//  1. Builds a PKCE authorization URL against Globus Auth
//  2. Calls opts.Display so the CLI can show the URL to visit
//  3. Reads the authorization code back via opts.ReadCode
//  4. Exchanges the code for a credential bundle keyed by resource server
//  5. Persists the bundle to opts.BundlePath (best effort — a save failure
//     is logged as a warning and does not fail the login)
//  6. Returns a refreshing TokenSource for the transfer resource server
//
// The returned TokenSource binds ctx to the underlying oauth2 token source.
// ctx must outlive the TokenSource — if ctx is canceled, silent token refresh
// will fail. Callers should pass context.Background() for long-lived sessions.
func Login(ctx context.Context, opts LoginOptions, logger *slog.Logger) (TokenSource, error) {
	if err := opts.fill(); err != nil {
		return nil, err
	}

	cfg := loginConfig(opts.ClientID)

	return doLogin(ctx, opts, cfg, logger)
}

// doLogin implements the native-app flow. Accepts a pre-built oauth2.Config
// so tests can inject a mock endpoint.
func doLogin(ctx context.Context, opts LoginOptions, cfg *oauth2.Config, logger *slog.Logger) (TokenSource, error) {
	logger.Info("starting native app auth flow",
		slog.String("path", opts.BundlePath),
	)

	verifier := oauth2.GenerateVerifier()

	// The redirect lands on Globus Auth's hosted code page, not a local
	// callback, so no state parameter round-trips back to us.
	authURL := cfg.AuthCodeURL("",
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)

	opts.Display(authURL)

	code, err := opts.ReadCode()
	if err != nil {
		return nil, err
	}

	logger.Info("received authorization code, exchanging for tokens")

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("globus: code exchange failed: %w", err)
	}

	bundle := bundleFromToken(tok)

	logger.Info("login successful",
		slog.Int("resource_servers", len(bundle)),
	)

	if saveErr := tokenfile.Save(opts.BundlePath, bundle); saveErr != nil {
		// Non-fatal: the transfer proceeds without a durable token cache.
		logger.Warn("failed to persist credential bundle",
			slog.String("path", opts.BundlePath),
			slog.String("error", saveErr.Error()),
		)
	}

	return authorizerFromBundle(ctx, opts.ClientID, opts.BundlePath, bundle, logger)
}

// Connect returns a refreshing TokenSource, loading the cached credential
// bundle when one is usable and falling back to the interactive login flow
// otherwise. Any load failure (missing file, malformed JSON, empty bundle)
// is an explicit "cache absent" outcome, never an error to the caller.
func Connect(ctx context.Context, opts LoginOptions, logger *slog.Logger) (TokenSource, error) {
	if err := opts.fill(); err != nil {
		return nil, err
	}

	bundle, err := tokenfile.Load(opts.BundlePath)
	if err != nil {
		logger.Debug("cached credentials unusable, falling back to login",
			slog.String("path", opts.BundlePath),
			slog.String("error", err.Error()),
		)

		bundle = nil
	}

	if bundle == nil {
		return Login(ctx, opts, logger)
	}

	logger.Info("loaded cached credential bundle",
		slog.String("path", opts.BundlePath),
		slog.Int("resource_servers", len(bundle)),
	)

	return authorizerFromBundle(ctx, opts.ClientID, opts.BundlePath, bundle, logger)
}

// AuthorizerFromPath builds a refreshing TokenSource from the bundle at the
// given path without any interactive fallback. Returns ErrNotLoggedIn if no
// bundle file exists.
func AuthorizerFromPath(ctx context.Context, clientID, path string, logger *slog.Logger) (TokenSource, error) {
	bundle, err := tokenfile.Load(path)
	if err != nil {
		return nil, err
	}

	if bundle == nil {
		return nil, ErrNotLoggedIn
	}

	return authorizerFromBundle(ctx, clientID, path, bundle, logger)
}

// authorizerFromBundle seeds a refreshing token source from the bundle's
// transfer record. Every silent refresh rewrites the whole on-disk bundle
// with the authorizer's current view via OnTokenChange.
func authorizerFromBundle(
	ctx context.Context,
	clientID, path string,
	bundle tokenfile.Bundle,
	logger *slog.Logger,
) (TokenSource, error) {
	rec, ok := bundle[TransferResourceServer]
	if !ok {
		return nil, ErrNoTransferToken
	}

	tok := &oauth2.Token{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		TokenType:    rec.TokenType,
		Expiry:       time.Unix(rec.ExpiresAtSeconds, 0),
	}

	cfg := authConfig(clientID, path, bundle, logger)
	src := cfg.TokenSource(ctx, tok)

	return &tokenBridge{src: src, logger: logger}, nil
}

// loginConfig builds the oauth2.Config used for the code exchange.
// No OnTokenChange here — the bundle does not exist until after exchange.
func loginConfig(clientID string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    clientID,
		Scopes:      defaultScopes,
		Endpoint:    globusAuthEndpoint,
		RedirectURL: nativeAppRedirectURI,
	}
}

// authConfig builds an oauth2.Config with OnTokenChange wired to persist
// refreshed tokens. bundle is captured by the closure: the transfer record
// is updated in place and the entire file rewritten, so the on-disk document
// always reflects the authorizer's current view.
func authConfig(clientID, path string, bundle tokenfile.Bundle, logger *slog.Logger) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Scopes:   defaultScopes,
		Endpoint: globusAuthEndpoint,
		// Called by ReuseTokenSource after each silent refresh, outside its mutex.
		OnTokenChange: func(tok *oauth2.Token) {
			rec := bundle[TransferResourceServer]
			rec.AccessToken = tok.AccessToken
			rec.ExpiresAtSeconds = tok.Expiry.Unix()

			if tok.RefreshToken != "" {
				rec.RefreshToken = tok.RefreshToken
			}

			bundle[TransferResourceServer] = rec

			logger.Info("token refreshed by oauth2 library",
				slog.String("path", path),
				slog.Time("new_expiry", tok.Expiry),
			)

			if err := tokenfile.Save(path, bundle); err != nil {
				logger.Warn("failed to persist refreshed bundle",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)

				return
			}

			logger.Info("persisted refreshed bundle to disk",
				slog.String("path", path),
			)
		},
	}
}

// bundleFromToken flattens a Globus Auth token response into the per-resource-
// server bundle format. The top-level token is keyed by its resource_server
// extra field; downstream tokens arrive in the other_tokens array.
func bundleFromToken(tok *oauth2.Token) tokenfile.Bundle {
	bundle := tokenfile.Bundle{}

	if rs, ok := tok.Extra("resource_server").(string); ok && rs != "" {
		rec := tokenfile.Record{
			AccessToken:      tok.AccessToken,
			RefreshToken:     tok.RefreshToken,
			ExpiresAtSeconds: tok.Expiry.Unix(),
			TokenType:        tok.TokenType,
			ResourceServer:   rs,
		}

		if scope, ok := tok.Extra("scope").(string); ok {
			rec.Scope = scope
		}

		bundle[rs] = rec
	}

	others, _ := tok.Extra("other_tokens").([]any)
	for _, raw := range others {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		rs, _ := m["resource_server"].(string)
		if rs == "" {
			continue
		}

		rec := tokenfile.Record{
			ResourceServer: rs,
		}
		rec.AccessToken, _ = m["access_token"].(string)
		rec.RefreshToken, _ = m["refresh_token"].(string)
		rec.Scope, _ = m["scope"].(string)
		rec.TokenType, _ = m["token_type"].(string)

		if expiresIn, ok := m["expires_in"].(float64); ok {
			rec.ExpiresAtSeconds = time.Now().Add(time.Duration(expiresIn) * time.Second).Unix()
		}

		bundle[rs] = rec
	}

	return bundle
}

// tokenBridge adapts oauth2.TokenSource to globus.TokenSource.
// Logs every token acquisition so refresh activity is visible.
type tokenBridge struct {
	src    oauth2.TokenSource
	logger *slog.Logger
}

func (b *tokenBridge) Token() (string, error) {
	t, err := b.src.Token()
	if err != nil {
		b.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("globus: obtaining token: %w", err)
	}

	b.logger.Debug("token acquired",
		slog.Time("expiry", t.Expiry),
		slog.Bool("valid", t.Valid()),
	)

	return t.AccessToken, nil
}
