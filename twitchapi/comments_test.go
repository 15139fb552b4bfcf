package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type gqlRequest struct {
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

func commentEdge(id string, offset float64, name, color string, fragments ...map[string]any) map[string]any {
	return map[string]any{
		"cursor": "c-" + id,
		"node": map[string]any{
			"id":                   id,
			"contentOffsetSeconds": offset,
			"commenter":            map[string]any{"login": strings.ToLower(name), "displayName": name},
			"message":              map[string]any{"fragments": fragments, "userColor": color},
		},
	}
}

func textFrag(s string) map[string]any { return map[string]any{"text": s, "emote": nil} }

func emoteFrag(s string) map[string]any {
	return map[string]any{"text": s, "emote": map[string]any{"emoteID": "25"}}
}

func commentsBody(hasNext bool, edges ...map[string]any) map[string]any {
	return map[string]any{
		"data": map[string]any{
			"video": map[string]any{
				"id": "123",
				"comments": map[string]any{
					"edges":    edges,
					"pageInfo": map[string]any{"hasNextPage": hasNext},
				},
			},
		},
	}
}

func TestCommentClient_FetchAllPaginates(t *testing.T) {
	var cursors []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.Header.Get("Client-Id") != WebClientID {
			t.Errorf("Client-Id = %q", r.Header.Get("Client-Id"))
		}
		var req gqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.OperationName != commentsOperation || req.Variables["videoID"] != "123" {
			t.Errorf("unexpected request %+v", req)
		}
		cursor, _ := req.Variables["cursor"].(string)
		cursors = append(cursors, cursor)
		switch cursor {
		case "":
			_ = json.NewEncoder(w).Encode(commentsBody(true,
				commentEdge("a", 1.5, "Alice", "#FF0000", textFrag("hi "), emoteFrag("Kappa")),
				commentEdge("b", 2, "Bob", "", textFrag("yo")),
			))
		case "c-b":
			_ = json.NewEncoder(w).Encode(commentsBody(false,
				commentEdge("b", 2, "Bob", "", textFrag("yo")),
				commentEdge("c", 65.25, "Carol", "#00FF00", textFrag("gg")),
			))
		default:
			t.Errorf("unexpected cursor %q", cursor)
		}
	}))
	defer server.Close()

	var pages []int
	client := &CommentClient{BaseURL: server.URL, OnPage: func(page, total int) { pages = append(pages, total) }}
	events, err := client.FetchAll(context.Background(), "123")
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("FetchAll() returned %d events, want 3 (duplicate dropped)", len(events))
	}
	if fmt.Sprint(cursors) != "[ c-b]" {
		t.Errorf("cursors = %v", cursors)
	}
	if fmt.Sprint(pages) != "[2 3]" {
		t.Errorf("OnPage totals = %v, want [2 3]", pages)
	}

	a := events[0]
	if a.Author != "Alice" || a.Color != "#FF0000" || a.Body != "hi Kappa" {
		t.Errorf("first event = %+v", a)
	}
	if a.Offset != 1500*time.Millisecond {
		t.Errorf("Offset = %s, want 1.5s", a.Offset)
	}
	if len(a.Fragments) != 2 || a.Fragments[0].Emote || !a.Fragments[1].Emote {
		t.Errorf("fragments = %+v", a.Fragments)
	}
	if events[2].Offset != 65250*time.Millisecond {
		t.Errorf("third Offset = %s", events[2].Offset)
	}
}

func TestCommentClient_FetchAllErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        any
		errContains string
		notFound    bool
	}{
		{name: "http error", status: http.StatusBadGateway, body: "upstream", errContains: "status 502"},
		{name: "graphql error", status: http.StatusOK, body: map[string]any{"errors": []map[string]any{{"message": "service timeout"}}}, errContains: "service timeout"},
		{name: "video missing", status: http.StatusOK, body: map[string]any{"data": map[string]any{"video": nil}}, notFound: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(tt.body)
			}))
			defer server.Close()

			_, err := (&CommentClient{BaseURL: server.URL}).FetchAll(context.Background(), "123")
			if err == nil {
				t.Fatal("FetchAll() error = nil")
			}
			if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("FetchAll() error = %v, want %q", err, tt.errContains)
			}
			if tt.notFound && !errors.Is(err, ErrVideoNotFound) {
				t.Errorf("FetchAll() error = %v, want ErrVideoNotFound", err)
			}
		})
	}
}

func TestCommentClient_MaxPages(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		id := fmt.Sprintf("m%d", calls)
		_ = json.NewEncoder(w).Encode(commentsBody(true, commentEdge(id, float64(calls), "X", "", textFrag("spam"))))
	}))
	defer server.Close()

	events, err := (&CommentClient{BaseURL: server.URL, MaxPages: 3}).FetchAll(context.Background(), "123")
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if calls != 3 || len(events) != 3 {
		t.Errorf("calls = %d, events = %d; want 3 and 3", calls, len(events))
	}
}

func TestCommentClient_EmptyVODID(t *testing.T) {
	if _, err := (&CommentClient{}).FetchAll(context.Background(), ""); err == nil {
		t.Error("FetchAll(\"\") should fail")
	}
}
