package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"quillmark-local-engine/internal/cloud"
	"quillmark-local-engine/internal/domain"
	"quillmark-local-engine/pkg/jwt"

	"golang.org/x/sync/singleflight"
)

// refreshLeeway is how close to expiry an access token may get before
// Token refreshes it instead of handing it out.
const refreshLeeway = 30 * time.Second

type SessionRefresher interface {
	RefreshSession(ctx context.Context, refreshToken string) (*cloud.Session, error)
}

// SessionService holds the cloud credential set the UI hands over after
// sign-in. Credentials live in memory only; restarting the engine means
// signing in again.
type SessionService struct {
	mu    sync.Mutex
	creds *domain.Credentials

	refresher SessionRefresher
	refreshes singleflight.Group

	onLogout []func()
}

func NewSessionService() *SessionService {
	return &SessionService{}
}

// SetRefresher breaks the construction cycle with the cloud client: the
// client needs this service as its token source, and this service needs
// the client to refresh. Wire it right after both exist.
func (s *SessionService) SetRefresher(r SessionRefresher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresher = r
}

// OnLogout registers a hook run after credentials are cleared. The
// registry's DestroyAll hangs off this.
func (s *SessionService) OnLogout(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLogout = append(s.onLogout, fn)
}

func (s *SessionService) SetSession(req *domain.SetSessionRequest) (*domain.SessionStatus, error) {
	info, err := jwt.Inspect(req.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}

	s.mu.Lock()
	s.creds = &domain.Credentials{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		UserID:       info.UserID,
	}
	s.mu.Unlock()

	return s.Status(), nil
}

func (s *SessionService) Logout() {
	s.mu.Lock()
	s.creds = nil
	hooks := make([]func(), len(s.onLogout))
	copy(hooks, s.onLogout)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

func (s *SessionService) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return false
	}
	// An expired access token is still a live session while a refresh
	// token remains; Token renews on demand.
	if s.creds.RefreshToken != "" {
		return true
	}
	return !jwt.Expired(s.creds.AccessToken, 0)
}

func (s *SessionService) Status() *domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := &domain.SessionStatus{}
	if s.creds == nil {
		return status
	}

	status.Authenticated = true
	status.UserID = s.creds.UserID
	if info, err := jwt.Inspect(s.creds.AccessToken); err == nil {
		status.ExpiresAt = &info.ExpiresAt
	}
	return status
}

// Token is the engine-wide token source the cloud client and transport
// dialing use. It refreshes expired tokens through the cloud API,
// collapsing concurrent callers into one refresh.
func (s *SessionService) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.creds == nil {
		s.mu.Unlock()
		return "", ErrNotAuthenticated
	}
	access := s.creds.AccessToken
	canRefresh := s.refresher != nil && s.creds.RefreshToken != ""
	s.mu.Unlock()

	if !jwt.Expired(access, refreshLeeway) || !canRefresh {
		return access, nil
	}

	return s.doRefresh(ctx)
}

// Refresh forces a token renewal regardless of expiry. The replica
// registry calls this after a transport authentication failure before
// its single reattach attempt.
func (s *SessionService) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.creds == nil {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	canRefresh := s.refresher != nil && s.creds.RefreshToken != ""
	s.mu.Unlock()

	if !canRefresh {
		return fmt.Errorf("no refresh token available")
	}

	_, err := s.doRefresh(ctx)
	return err
}

func (s *SessionService) doRefresh(ctx context.Context) (string, error) {
	token, err, _ := s.refreshes.Do("refresh", func() (interface{}, error) {
		s.mu.Lock()
		if s.creds == nil {
			s.mu.Unlock()
			return "", ErrNotAuthenticated
		}
		refresher := s.refresher
		refreshToken := s.creds.RefreshToken
		s.mu.Unlock()

		session, err := refresher.RefreshSession(ctx, refreshToken)
		if err != nil {
			return "", fmt.Errorf("failed to refresh session: %w", err)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.creds == nil {
			// Logged out mid-refresh; drop the new tokens.
			return "", ErrNotAuthenticated
		}
		s.creds.AccessToken = session.AccessToken
		if session.RefreshToken != "" {
			s.creds.RefreshToken = session.RefreshToken
		}
		log.Printf("[session] access token refreshed, expires in %ds", session.ExpiresIn)
		return session.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}
