package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Comment is one chat replay comment served by MockTwitchServer.
type Comment struct {
	ID     string
	Offset float64
	Author string
	Color  string
	Text   string
	// Emotes are appended as emote fragments after Text.
	Emotes []string
}

// MockTwitchServer mocks the Twitch GraphQL comments endpoint (POST /gql),
// Helix videos (GET /helix/videos) and the app token endpoint (POST /oauth2/token).
type MockTwitchServer struct {
	*httptest.Server

	mu       sync.Mutex
	pages    map[string][][]Comment
	videos   map[string]map[string]string
	requests int
}

// NewMockTwitchServer creates a new mock Twitch server.
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		pages:  make(map[string][][]Comment),
		videos: make(map[string]map[string]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /gql", m.serveComments)
	mux.HandleFunc("GET /helix/videos", m.serveVideos)
	mux.HandleFunc("POST /oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "mock-app-token", "expires_in": 3600, "token_type": "bearer"}) //nolint:errcheck // test mock response
	})
	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

// GQLURL is the comments endpoint for twitchapi.CommentClient.BaseURL.
func (m *MockTwitchServer) GQLURL() string { return m.URL + "/gql" }

// HelixURL is the Helix base for twitchapi.HelixClient.BaseURL.
func (m *MockTwitchServer) HelixURL() string { return m.URL + "/helix" }

// TokenURL is the token endpoint for twitchapi.TokenSource.TokenURL.
func (m *MockTwitchServer) TokenURL() string { return m.URL + "/oauth2/token" }

// SetComments serves comments for vodID split into the given pages.
func (m *MockTwitchServer) SetComments(vodID string, pages ...[]Comment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[vodID] = pages
}

// SetVideo serves Helix metadata for a video.
func (m *MockTwitchServer) SetVideo(id, title, createdAt, duration string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos[id] = map[string]string{"id": id, "title": title, "user_login": "streamer", "created_at": createdAt, "duration": duration}
}

// CommentRequests returns how many comment pages were requested.
func (m *MockTwitchServer) CommentRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

func (m *MockTwitchServer) serveComments(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Variables struct {
			VideoID string `json:"videoID"`
			Cursor  string `json:"cursor"`
		} `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	m.requests++
	pages, ok := m.pages[req.Variables.VideoID]
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"video": nil}}) //nolint:errcheck // test mock response
		return
	}
	page := 0
	if req.Variables.Cursor != "" {
		if _, err := fmt.Sscanf(req.Variables.Cursor, "page-%d", &page); err != nil {
			http.Error(w, "bad cursor", http.StatusBadRequest)
			return
		}
	}
	var comments []Comment
	if page < len(pages) {
		comments = pages[page]
	}
	edges := make([]map[string]any, 0, len(comments))
	for _, c := range comments {
		frags := []map[string]any{{"text": c.Text, "emote": nil}}
		for _, e := range c.Emotes {
			frags = append(frags, map[string]any{"text": e, "emote": map[string]any{"emoteID": "1"}})
		}
		edges = append(edges, map[string]any{
			"cursor": fmt.Sprintf("page-%d", page+1),
			"node": map[string]any{
				"id":                   c.ID,
				"contentOffsetSeconds": c.Offset,
				"commenter":            map[string]any{"login": c.Author, "displayName": c.Author},
				"message":              map[string]any{"fragments": frags, "userColor": c.Color},
			},
		})
	}
	_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test mock response
		"data": map[string]any{"video": map[string]any{
			"id": req.Variables.VideoID,
			"comments": map[string]any{
				"edges":    edges,
				"pageInfo": map[string]any{"hasNextPage": page+1 < len(pages)},
			},
		}},
	})
}

func (m *MockTwitchServer) serveVideos(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	v, ok := m.videos[r.URL.Query().Get("id")]
	m.mu.Unlock()
	data := []map[string]string{}
	if ok {
		data = append(data, v)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data}) //nolint:errcheck // test mock response
}
