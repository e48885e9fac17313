package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/onnwee/twitch-go/telemetry"
	"github.com/onnwee/twitch-go/tokenstore"
)

const defaultHelixBase = "https://api.twitch.tv/helix"

// tokenSource is the token surface the Helix client needs.
type tokenSource interface {
	EnsureValid(ctx context.Context) (*tokenstore.Token, error)
	ForceRefresh(ctx context.Context) (*tokenstore.Token, error)
}

// ChannelUpdateRequest carries one channel metadata update. Constructed
// fresh per invocation; never persisted.
type ChannelUpdateRequest struct {
	BroadcasterID string
	Title         string
	GameID        string
	Tags          []string
}

// HelixClient calls the Helix REST API with a valid user token. On a 401 it
// performs exactly one token refresh and one retry; any failure after that
// is terminal for the run.
type HelixClient struct {
	Tokens     tokenSource
	ClientID   string
	BaseURL    string // Helix base URL (configurable for testing)
	HTTPClient *http.Client

	broadcasterID string // resolved once per run
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return strings.TrimRight(hc.BaseURL, "/")
	}
	return defaultHelixBase
}

// do issues one Helix request with the single-401-retry policy. The request
// is rebuilt per attempt so the body can be resent.
func (hc *HelixClient) do(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Response, error) {
	tok, err := hc.Tokens.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := hc.send(ctx, method, path, query, body, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// Exactly one refresh and one retry, never a loop. The provider's rate
	// limits make anything more aggressive counterproductive.
	closeBody(resp)
	telemetry.Inc(telemetry.HelixRetries)
	slog.Debug("helix 401, refreshing token and retrying once", slog.String("path", path))
	tok, err = hc.Tokens.ForceRefresh(ctx)
	if err != nil {
		return nil, err
	}
	return hc.send(ctx, method, path, query, body, tok.AccessToken)
}

func (hc *HelixClient) send(ctx context.Context, method, path string, query url.Values, body []byte, accessToken string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, hc.base()+path, reader)
	if err != nil {
		return nil, err
	}
	if query != nil {
		req.URL.RawQuery = query.Encode()
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	telemetry.Inc(telemetry.HelixRequests)
	return hc.http().Do(req)
}

func closeBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}

// GetBroadcasterID resolves the authenticated user's id. Cached for the
// lifetime of the client (one run).
func (hc *HelixClient) GetBroadcasterID(ctx context.Context) (string, error) {
	if hc.broadcasterID != "" {
		return hc.broadcasterID, nil
	}

	resp, err := hc.do(ctx, http.MethodGet, "/users", nil, nil)
	if err != nil {
		return "", err
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", &APIError{Kind: APIHTTPError, Status: resp.StatusCode, Detail: strings.TrimSpace(string(b))}
	}

	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 || body.Data[0].ID == "" {
		return "", fmt.Errorf("no user returned for token")
	}
	hc.broadcasterID = body.Data[0].ID
	return hc.broadcasterID, nil
}

// ResolveCategory looks up a category id by exact name. A case-sensitive
// match wins; a case-insensitive match is the fallback. Anything else is a
// NotFoundError carrying the requested name, never a guess.
func (hc *HelixClient) ResolveCategory(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("category name empty")
	}

	q := url.Values{}
	q.Set("query", name)
	q.Set("first", "100")
	resp, err := hc.do(ctx, http.MethodGet, "/search/categories", q, nil)
	if err != nil {
		return "", err
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", &APIError{Kind: APIHTTPError, Status: resp.StatusCode, Detail: strings.TrimSpace(string(b))}
	}

	var body struct {
		Data []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}

	for _, c := range body.Data {
		if c.Name == name {
			return c.ID, nil
		}
	}
	for _, c := range body.Data {
		if strings.EqualFold(c.Name, name) {
			return c.ID, nil
		}
	}
	return "", &NotFoundError{Name: name}
}

// UpdateChannel applies title, category, and tags in a single PATCH. Tags
// are sent verbatim; a 400 that blames the tag list surfaces as
// APIError{InvalidTags} rather than a silent truncation.
func (hc *HelixClient) UpdateChannel(ctx context.Context, req ChannelUpdateRequest) error {
	if req.BroadcasterID == "" {
		return fmt.Errorf("broadcaster id empty")
	}

	payload := struct {
		Title  string   `json:"title,omitempty"`
		GameID string   `json:"game_id,omitempty"`
		Tags   []string `json:"tags,omitempty"`
	}{Title: req.Title, GameID: req.GameID, Tags: req.Tags}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	q := url.Values{}
	q.Set("broadcaster_id", req.BroadcasterID)
	resp, err := hc.do(ctx, http.MethodPatch, "/channels", q, body)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	b, _ := io.ReadAll(resp.Body)
	detail := strings.TrimSpace(string(b))
	if resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(detail), "tag") {
		return &APIError{Kind: APIInvalidTags, Status: resp.StatusCode, Detail: detail}
	}
	return &APIError{Kind: APIHTTPError, Status: resp.StatusCode, Detail: detail}
}
