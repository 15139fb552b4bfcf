// Package twitchapi talks to Twitch: the Helix API for VOD metadata (app
// access token) and the web GraphQL endpoint for VOD chat replay comments.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultHelixURL is the Helix API base.
const DefaultHelixURL = "https://api.twitch.tv/helix"

// HelixClient fetches VOD metadata.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	BaseURL        string
	HTTPClient     *http.Client
}

// VideoMeta is the subset of a Helix video used for captioning.
type VideoMeta struct {
	ID        string
	Title     string
	UserLogin string
	CreatedAt time.Time
	// Duration in seconds.
	Duration int
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return defaultHTTPClient
}

// GetVideo returns metadata for a single VOD.
func (hc *HelixClient) GetVideo(ctx context.Context, id string) (VideoMeta, error) {
	if id == "" {
		return VideoMeta{}, fmt.Errorf("video id empty")
	}
	if hc.AppTokenSource == nil {
		return VideoMeta{}, fmt.Errorf("helix client has no token source")
	}
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return VideoMeta{}, err
	}
	base := hc.BaseURL
	if base == "" {
		base = DefaultHelixURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/videos", nil)
	if err != nil {
		return VideoMeta{}, err
	}
	q := req.URL.Query()
	q.Set("id", id)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return VideoMeta{}, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusNotFound {
		return VideoMeta{}, fmt.Errorf("%w: %s", ErrVideoNotFound, id)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return VideoMeta{}, fmt.Errorf("helix videos status %d: %s", resp.StatusCode, string(b))
	}
	var body struct {
		Data []struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			UserLogin string `json:"user_login"`
			Duration  string `json:"duration"`
			CreatedAt string `json:"created_at"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return VideoMeta{}, err
	}
	if len(body.Data) == 0 {
		return VideoMeta{}, fmt.Errorf("%w: %s", ErrVideoNotFound, id)
	}
	v := body.Data[0]
	created, _ := time.Parse(time.RFC3339, v.CreatedAt)
	return VideoMeta{
		ID:        v.ID,
		Title:     v.Title,
		UserLogin: v.UserLogin,
		CreatedAt: created,
		Duration:  ParseDuration(v.Duration),
	}, nil
}
