package server

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/onnwee/chatcaptions/caption"
	"github.com/onnwee/chatcaptions/chat"
	"github.com/onnwee/chatcaptions/config"
	"github.com/onnwee/chatcaptions/vod"
	"github.com/onnwee/chatcaptions/youtubeapi"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
	oauthStateTTL  = 10 * time.Minute
)

// Deps are the collaborators the HTTP handlers need. Meta and YouTube may be nil
// when Helix or YouTube credentials are not configured.
type Deps struct {
	DB      *sql.DB
	Config  *config.Config
	Chat    *chat.Store
	Tracks  *vod.SQLTrackStore
	Meta    vod.MetaSource
	YouTube *youtubeapi.Service
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db      *sql.DB
	ctx     context.Context
	cfg     *config.Config
	chat    *chat.Store
	tracks  *vod.SQLTrackStore
	meta    vod.MetaSource
	youtube *youtubeapi.Service

	stateStore map[string]time.Time
	stateMu    sync.Mutex
}

// NewHandlers creates a new Handlers instance, filling in stores backed by deps.DB
// when they are not provided.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	h := &Handlers{
		db:         deps.DB,
		ctx:        ctx,
		cfg:        deps.Config,
		chat:       deps.Chat,
		tracks:     deps.Tracks,
		meta:       deps.Meta,
		youtube:    deps.YouTube,
		stateStore: make(map[string]time.Time),
	}
	if h.cfg == nil {
		h.cfg = &config.Config{}
	}
	if h.chat == nil {
		h.chat = chat.NewStore(deps.DB)
	}
	if h.tracks == nil {
		h.tracks = &vod.SQLTrackStore{DB: deps.DB}
	}
	return h
}

// captionDefaults are the rendering options used when a request does not override them.
func (h *Handlers) captionDefaults() caption.Options {
	if h.cfg.CaptionDuration <= 0 {
		return caption.DefaultOptions()
	}
	return h.cfg.CaptionOptions()
}

// cleanExpiredStates must be called with stateMu held.
func (h *Handlers) cleanExpiredStates(now time.Time) {
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState records state until it expires. It reports false when the store is full.
func (h *Handlers) addOAuthState(state string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates(time.Now())
	}
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = expiry
	return true
}

// consumeOAuthState removes state and reports whether it was known and unexpired.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	delete(h.stateStore, state)
	return ok && time.Now().Before(exp)
}
