// Package twitchapi implements the Twitch OAuth token lifecycle and the
// minimal Helix surface this tool needs: broadcaster lookup, category
// search, and channel updates.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/twitch-go/telemetry"
	"github.com/onnwee/twitch-go/tokenstore"
)

const defaultAuthBase = "https://id.twitch.tv/oauth2"

// OAuthClient performs the authorization-code and refresh-token exchanges
// against the Twitch token endpoint. The code grant goes through
// oauth2.Config; the refresh grant is a single explicit form POST so the
// caller controls exactly how many refresh calls happen.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       string

	AuthBaseURL string // OAuth endpoint base (configurable for testing)
	HTTPClient  *http.Client
}

func (c *OAuthClient) base() string {
	if c.AuthBaseURL != "" {
		return strings.TrimRight(c.AuthBaseURL, "/")
	}
	return defaultAuthBase
}

func (c *OAuthClient) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *OAuthClient) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Scopes:       strings.Fields(strings.ReplaceAll(c.Scopes, ",", " ")),
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.base() + "/authorize",
			TokenURL: c.base() + "/token",
		},
	}
}

// AuthorizeURL constructs the user consent URL for the code grant.
func (c *OAuthClient) AuthorizeURL(state string) (string, error) {
	if c.ClientID == "" || c.RedirectURI == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	return c.oauthConfig().AuthCodeURL(state), nil
}

// ExchangeAuthCode exchanges an authorization code for an access & refresh
// token pair. A non-2xx answer from the provider surfaces as
// AuthError{ProviderRejected} with status and body detail.
func (c *OAuthClient) ExchangeAuthCode(ctx context.Context, code string) (*tokenstore.Token, error) {
	if c.ClientID == "" || c.ClientSecret == "" || code == "" || c.RedirectURI == "" {
		return nil, errors.New("missing required parameter for auth code exchange")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http())
	tok, err := c.oauthConfig().Exchange(ctx, code)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			status := 0
			if rerr.Response != nil {
				status = rerr.Response.StatusCode
			}
			return nil, &AuthError{Kind: AuthProviderRejected, Status: status, Detail: strings.TrimSpace(string(rerr.Body)), Err: err}
		}
		return nil, fmt.Errorf("twitch auth code exchange failed: %w", err)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return nil, errors.New("incomplete token pair in twitch response")
	}

	return &tokenstore.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		Scopes:       scopesFromExtra(tok),
	}, nil
}

// scopesFromExtra pulls the granted scope list out of the token response.
// Twitch returns it as a JSON array under "scope".
func scopesFromExtra(tok *oauth2.Token) []string {
	raw, ok := tok.Extra("scope").([]interface{})
	if !ok {
		return nil
	}
	scopes := make([]string, 0, len(raw))
	for _, s := range raw {
		if str, ok := s.(string); ok {
			scopes = append(scopes, str)
		}
	}
	return scopes
}

// Refresh exchanges a refresh token for a new token pair. Exactly one HTTP
// call is made; there is no internal retry. Any non-2xx answer is
// AuthError{ProviderRejected} carrying the status for the caller's
// revocation check.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*tokenstore.Token, error) {
	if c.ClientID == "" || c.ClientSecret == "" || refreshToken == "" {
		return nil, errors.New("missing clientID/clientSecret/refreshToken")
	}

	form := url.Values{}
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	telemetry.Inc(telemetry.TokenRefreshes)
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, fmt.Errorf("twitch refresh failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		telemetry.Inc(telemetry.RefreshFailures)
		b, _ := io.ReadAll(resp.Body)
		return nil, &AuthError{Kind: AuthProviderRejected, Status: resp.StatusCode, Detail: strings.TrimSpace(string(b))}
	}

	var res struct {
		AccessToken  string   `json:"access_token"`
		RefreshToken string   `json:"refresh_token"`
		Scope        []string `json:"scope"`
		ExpiresIn    int      `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	if res.AccessToken == "" {
		return nil, errors.New("empty access_token in twitch response")
	}
	if res.RefreshToken == "" {
		// Twitch normally rotates the refresh token; keep the old one when
		// the response omits it.
		res.RefreshToken = refreshToken
	}

	return &tokenstore.Token{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    ComputeExpiry(res.ExpiresIn),
		Scopes:       res.Scope,
	}, nil
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to
// +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
