package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/chatcaptions/caption"
)

const (
	// DefaultGQLURL is the Twitch web GraphQL endpoint serving VOD chat replay.
	DefaultGQLURL = "https://gql.twitch.tv/gql"
	// WebClientID is the public client id of the Twitch web player.
	WebClientID = "kimne78kx3ncx6brgo4mv6wki5h1ko"

	commentsOperation = "VideoCommentsByOffsetOrCursor"
	commentsQueryHash = "b70a3591ff0f4e0313d126c6a1502d79a1c02baebb288227c582044aa76adf6a"
)

// ErrVideoNotFound is returned when Twitch has no video for the requested id.
var ErrVideoNotFound = errors.New("twitch video not found")

// CommentClient pages through the chat replay of a VOD.
type CommentClient struct {
	BaseURL    string
	ClientID   string
	HTTPClient *http.Client
	// PageDelay is waited between page requests.
	PageDelay time.Duration
	// MaxPages stops pagination early when > 0.
	MaxPages int
	// OnPage is called after each page with the page number and the running total.
	OnPage func(page, total int)
}

func (c *CommentClient) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return defaultHTTPClient
}

type commentPage struct {
	Comments    []caption.RawEvent
	Cursor      string
	HasNextPage bool
}

// FetchAll returns every comment of the VOD in arrival order, following
// pagination cursors until the last page. Comments repeated across pages are
// dropped by id.
func (c *CommentClient) FetchAll(ctx context.Context, vodID string) ([]caption.RawEvent, error) {
	if vodID == "" {
		return nil, fmt.Errorf("vodID empty")
	}
	logger := slog.Default().With(slog.String("component", "twitch_comments"), slog.String("vod_id", vodID))
	var (
		out    []caption.RawEvent
		cursor string
		seen   = make(map[string]struct{})
	)
	for page := 1; ; page++ {
		p, err := c.fetchPage(ctx, vodID, cursor)
		if err != nil {
			return out, fmt.Errorf("fetch comments page %d: %w", page, err)
		}
		for _, ev := range p.Comments {
			if ev.ID != "" {
				if _, ok := seen[ev.ID]; ok {
					continue
				}
				seen[ev.ID] = struct{}{}
			}
			out = append(out, ev)
		}
		if c.OnPage != nil {
			c.OnPage(page, len(out))
		}
		logger.Debug("comments page fetched", slog.Int("page", page), slog.Int("count", len(p.Comments)))
		if !p.HasNextPage || p.Cursor == "" || p.Cursor == cursor {
			break
		}
		if c.MaxPages > 0 && page >= c.MaxPages {
			logger.Warn("comment pagination stopped at page limit", slog.Int("max_pages", c.MaxPages))
			break
		}
		cursor = p.Cursor
		if c.PageDelay > 0 {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(c.PageDelay):
			}
		}
	}
	return out, nil
}

func (c *CommentClient) fetchPage(ctx context.Context, vodID, cursor string) (*commentPage, error) {
	vars := map[string]any{"videoID": vodID}
	if cursor != "" {
		vars["cursor"] = cursor
	} else {
		vars["contentOffsetSeconds"] = 0
	}
	payload, err := json.Marshal(map[string]any{
		"operationName": commentsOperation,
		"variables":     vars,
		"extensions": map[string]any{
			"persistedQuery": map[string]any{"version": 1, "sha256Hash": commentsQueryHash},
		},
	})
	if err != nil {
		return nil, err
	}
	base := c.BaseURL
	if base == "" {
		base = DefaultGQLURL
	}
	clientID := c.ClientID
	if clientID == "" {
		clientID = WebClientID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Id", clientID)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("comments status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var body struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
		Data struct {
			Video *struct {
				Comments struct {
					Edges []struct {
						Cursor string `json:"cursor"`
						Node   struct {
							ID                   string  `json:"id"`
							ContentOffsetSeconds float64 `json:"contentOffsetSeconds"`
							Commenter            *struct {
								Login       string `json:"login"`
								DisplayName string `json:"displayName"`
							} `json:"commenter"`
							Message struct {
								Fragments []struct {
									Text  string `json:"text"`
									Emote *struct {
										EmoteID string `json:"emoteID"`
									} `json:"emote"`
								} `json:"fragments"`
								UserColor string `json:"userColor"`
							} `json:"message"`
						} `json:"node"`
					} `json:"edges"`
					PageInfo struct {
						HasNextPage bool `json:"hasNextPage"`
					} `json:"pageInfo"`
				} `json:"comments"`
			} `json:"video"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode comments: %w", err)
	}
	if len(body.Errors) > 0 {
		msgs := make([]string, 0, len(body.Errors))
		for _, e := range body.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("comments query: %s", strings.Join(msgs, "; "))
	}
	if body.Data.Video == nil {
		return nil, fmt.Errorf("%w: %s", ErrVideoNotFound, vodID)
	}

	edges := body.Data.Video.Comments.Edges
	page := &commentPage{
		Comments:    make([]caption.RawEvent, 0, len(edges)),
		HasNextPage: body.Data.Video.Comments.PageInfo.HasNextPage,
	}
	for _, e := range edges {
		n := e.Node
		ev := caption.RawEvent{
			ID:     n.ID,
			Offset: secondsToDuration(n.ContentOffsetSeconds),
			Color:  n.Message.UserColor,
		}
		if n.Commenter != nil {
			ev.Author = n.Commenter.DisplayName
			if ev.Author == "" {
				ev.Author = n.Commenter.Login
			}
		}
		var text strings.Builder
		for _, f := range n.Message.Fragments {
			ev.Fragments = append(ev.Fragments, caption.Fragment{Text: f.Text, Emote: f.Emote != nil})
			text.WriteString(f.Text)
		}
		ev.Body = text.String()
		page.Comments = append(page.Comments, ev)
		page.Cursor = e.Cursor
	}
	return page, nil
}

// secondsToDuration converts fractional seconds, rounded to the millisecond.
func secondsToDuration(s float64) time.Duration {
	return time.Duration(math.Round(s*1000)) * time.Millisecond
}
