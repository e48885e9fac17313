package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/twitch-go/tokenstore"
)

// TokenStore is the persistence surface the token source needs.
type TokenStore interface {
	Load() (*tokenstore.Token, error)
	Save(*tokenstore.Token) error
}

// AuthState tracks where the token lifecycle currently stands.
type AuthState int

const (
	StateUnauthenticated AuthState = iota
	StateAuthorizing
	StateValid
	StateExpired
	StateRefreshFailed
)

// String returns a human-readable name for the state.
func (s AuthState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthorizing:
		return "authorizing"
	case StateValid:
		return "valid"
	case StateExpired:
		return "expired"
	case StateRefreshFailed:
		return "refresh_failed"
	default:
		return "unknown"
	}
}

// UserTokenSource owns the stored user token: it hands out tokens that are
// valid beyond the safety margin, performs at most one refresh when the
// stored one has expired, and drives the interactive authorization flow.
// Persistence goes through the injected store; a failed refresh never
// touches the previous file.
type UserTokenSource struct {
	Store TokenStore
	OAuth *OAuthClient

	// SafetyMargin triggers proactive refresh this long before true expiry.
	// Defaults to 60 seconds.
	SafetyMargin time.Duration

	// Now is a test seam; defaults to time.Now.
	Now func() time.Time

	mu    sync.Mutex
	state AuthState
}

func (ts *UserTokenSource) margin() time.Duration {
	if ts.SafetyMargin > 0 {
		return ts.SafetyMargin
	}
	return 60 * time.Second
}

func (ts *UserTokenSource) now() time.Time {
	if ts.Now != nil {
		return ts.Now()
	}
	return time.Now()
}

// State returns the current lifecycle state.
func (ts *UserTokenSource) State() AuthState {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.state
}

// EnsureValid returns the stored token unchanged when it is valid beyond the
// safety margin (no network call). An expired token triggers exactly one
// refresh exchange; on success the new pair is persisted, on a provider
// rejection the result is AuthError{ReauthRequired} and the stored file is
// left untouched.
func (ts *UserTokenSource) EnsureValid(ctx context.Context) (*tokenstore.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	tok, err := ts.Store.Load()
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			ts.state = StateUnauthenticated
			return nil, &AuthError{Kind: AuthReauthRequired, Detail: "no stored token; run the authorization flow", Err: err}
		}
		return nil, fmt.Errorf("load stored token: %w", err)
	}

	if ts.now().Add(ts.margin()).Before(tok.ExpiresAt) {
		ts.state = StateValid
		return tok, nil
	}

	ts.state = StateExpired
	return ts.refreshLocked(ctx, tok)
}

// ForceRefresh performs one unconditional refresh exchange regardless of the
// stored expiry. Used for the single retry after a Helix 401.
func (ts *UserTokenSource) ForceRefresh(ctx context.Context) (*tokenstore.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	tok, err := ts.Store.Load()
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			ts.state = StateUnauthenticated
			return nil, &AuthError{Kind: AuthReauthRequired, Detail: "no stored token; run the authorization flow", Err: err}
		}
		return nil, fmt.Errorf("load stored token: %w", err)
	}
	return ts.refreshLocked(ctx, tok)
}

func (ts *UserTokenSource) refreshLocked(ctx context.Context, old *tokenstore.Token) (*tokenstore.Token, error) {
	newTok, err := ts.OAuth.Refresh(ctx, old.RefreshToken)
	if err != nil {
		if ae, ok := AsAuthError(err); ok && ae.Kind == AuthProviderRejected &&
			(ae.Status == http.StatusBadRequest || ae.Status == http.StatusUnauthorized) {
			// Refresh token revoked or invalid: the stored pair is dead.
			ts.state = StateRefreshFailed
			return nil, &AuthError{Kind: AuthReauthRequired, Status: ae.Status, Detail: "refresh token rejected; delete the token file or re-run authorization", Err: err}
		}
		return nil, err
	}

	if err := ts.Store.Save(newTok); err != nil {
		return nil, fmt.Errorf("persist refreshed token: %w", err)
	}
	ts.state = StateValid
	slog.Debug("token refreshed", slog.Time("expires_at", newTok.ExpiresAt))
	return newTok, nil
}

// Authorize drives the authorization-code grant: it builds the consent URL
// with a fresh state value, hands it to notify (print, open browser), waits
// for the browser redirect up to timeout, exchanges the code, and persists
// the resulting pair. This is the only operation allowed to block on user
// action.
func (ts *UserTokenSource) Authorize(ctx context.Context, notify func(authURL string), timeout time.Duration) (*tokenstore.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.state = StateAuthorizing

	state := uuid.NewString()
	authURL, err := ts.OAuth.AuthorizeURL(state)
	if err != nil {
		ts.state = StateUnauthenticated
		return nil, err
	}
	if notify != nil {
		notify(authURL)
	}

	code, err := WaitForCode(ctx, ts.OAuth.RedirectURI, state, timeout)
	if err != nil {
		ts.state = StateUnauthenticated
		return nil, err
	}

	tok, err := ts.OAuth.ExchangeAuthCode(ctx, code)
	if err != nil {
		ts.state = StateUnauthenticated
		return nil, err
	}
	if err := ts.Store.Save(tok); err != nil {
		ts.state = StateUnauthenticated
		return nil, fmt.Errorf("persist token: %w", err)
	}
	ts.state = StateValid
	slog.Info("authorization complete", slog.Time("expires_at", tok.ExpiresAt))
	return tok, nil
}
