// Package youtubeapi wraps Google OAuth2 client config and the YouTube Data API
// for the single purpose of attaching chat caption tracks to uploaded videos.
// Tokens are persisted via the provided TokenStore so they can be refreshed
// and reused by the caption job.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/chatcaptions/config"
)

// Provider is the oauth_tokens key for YouTube credentials.
const Provider = "youtube"

// ErrNoToken means the OAuth flow has not been completed yet.
var ErrNoToken = errors.New("no youtube token stored")

// refreshSkew refreshes tokens this long before they expire.
const refreshSkew = 2 * time.Minute

type TokenStore interface {
	UpsertOAuthToken(ctx context.Context, provider, accessToken, refreshToken string, expiry time.Time, scope string) error
	GetOAuthToken(ctx context.Context, provider string) (accessToken, refreshToken string, expiry time.Time, scope string, err error)
}

type Service struct {
	store TokenStore
	oauth *oauth2.Config
	// BaseURL overrides the YouTube API endpoint; empty uses Google's.
	BaseURL string
}

func New(cfg *config.Config, ts TokenStore) *Service {
	scopes := []string{yt.YoutubeForceSslScope}
	if cfg.YTScopes != "" {
		// allow comma or space separated
		if fields := strings.Fields(strings.ReplaceAll(cfg.YTScopes, ",", " ")); len(fields) > 0 {
			scopes = fields
		}
	}
	oauth := &oauth2.Config{
		ClientID:     cfg.YTClientID,
		ClientSecret: cfg.YTClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.YTRedirectURI,
		Scopes:       scopes,
	}
	return &Service{store: ts, oauth: oauth}
}

// AuthCodeURL returns the consent page URL; offline access yields a refresh token.
func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and persists it.
func (s *Service) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("youtube oauth exchange: %w", err)
	}
	if err := s.save(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// Refresh trades a refresh token for a new token. It matches oauth.RefreshFunc.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
	tok, err := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return "", "", time.Time{}, "", fmt.Errorf("youtube token refresh: %w", err)
	}
	return tok.AccessToken, tok.RefreshToken, tok.Expiry, strings.Join(s.oauth.Scopes, " "), nil
}

func (s *Service) save(ctx context.Context, tok *oauth2.Token) error {
	if err := s.store.UpsertOAuthToken(ctx, Provider, tok.AccessToken, tok.RefreshToken, tok.Expiry, strings.Join(s.oauth.Scopes, " ")); err != nil {
		return fmt.Errorf("store youtube token: %w", err)
	}
	return nil
}

// Token returns the stored token, refreshing it first when it is about to expire.
func (s *Service) Token(ctx context.Context) (*oauth2.Token, error) {
	access, refresh, expiry, _, err := s.store.GetOAuthToken(ctx, Provider)
	if err != nil {
		return nil, err
	}
	if access == "" {
		return nil, ErrNoToken
	}
	tok := &oauth2.Token{AccessToken: access, RefreshToken: refresh, Expiry: expiry, TokenType: "Bearer"}
	if expiry.IsZero() || time.Until(expiry) > refreshSkew {
		return tok, nil
	}
	if refresh == "" {
		return tok, errors.New("youtube token expired and no refresh token stored")
	}
	newTok, err := s.oauth.TokenSource(ctx, tok).Token()
	if err != nil {
		return tok, fmt.Errorf("youtube token refresh: %w", err)
	}
	if newTok.RefreshToken == "" {
		newTok.RefreshToken = refresh
	}
	if err := s.save(ctx, newTok); err != nil {
		slog.Warn("failed to persist refreshed youtube token", slog.String("component", "youtube"), slog.Any("err", err))
	}
	return newTok, nil
}

// Client builds an authorized YouTube service.
func (s *Service) Client(ctx context.Context) (*yt.Service, error) {
	tok, err := s.Token(ctx)
	if err != nil {
		return nil, err
	}
	opts := []option.ClientOption{option.WithHTTPClient(s.oauth.Client(ctx, tok))}
	if s.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(s.BaseURL))
	}
	return yt.NewService(ctx, opts...)
}

// UploadCaption attaches body as a caption track of videoID and returns the caption id.
func (s *Service) UploadCaption(ctx context.Context, videoID, language, name string, body io.Reader) (string, error) {
	svc, err := s.Client(ctx)
	if err != nil {
		return "", err
	}
	return UploadCaption(ctx, svc, videoID, language, name, body)
}

// UploadCaption inserts a caption track using the provided YouTube service.
func UploadCaption(ctx context.Context, svc *yt.Service, videoID, language, name string, body io.Reader) (string, error) {
	if svc == nil {
		return "", errors.New("nil youtube service")
	}
	if videoID == "" {
		return "", errors.New("youtube video id empty")
	}
	if language == "" {
		language = "en"
	}
	capt := &yt.Caption{Snippet: &yt.CaptionSnippet{VideoId: videoID, Language: language, Name: name}}
	res, err := svc.Captions.Insert([]string{"snippet"}, capt).Media(body).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("youtube caption upload: %w", err)
	}
	if res.Id == "" {
		return "", errors.New("youtube caption upload: empty id")
	}
	return res.Id, nil
}
