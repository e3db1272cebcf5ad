package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"supportchat/api/internal/auth"
	"supportchat/api/internal/authpw"
	"supportchat/api/internal/config"
	"supportchat/api/internal/export"
	"supportchat/api/internal/identity"
	"supportchat/api/internal/metrics"
	"supportchat/api/internal/search"
	"supportchat/api/internal/store"
	"supportchat/api/internal/upload"
	"supportchat/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// Participant resolves the session into the party it acts as.
func (s Session) Participant() identity.Participant {
	return identity.Resolve(&identity.Identity{
		ID:          s.UserID,
		DisplayName: s.UserName,
		Role:        identity.Normalize(s.Role),
	})
}

// DataStore is the relational state the service needs.
type DataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	CreateUser(context.Context, store.User) error
	CreateConversation(context.Context, store.Conversation) (store.Conversation, error)
	GetConversation(context.Context, string) (store.Conversation, error)
	FindConversation(context.Context, string, string) (store.Conversation, error)
	ListConversationsForAdmin(context.Context, string) ([]store.ConversationSummary, error)
	ListMessages(context.Context, string) ([]store.Message, error)
	InsertMessage(context.Context, store.Message) (store.Message, bool, error)
	MarkRead(context.Context, string, string, time.Time) (int, error)
	Ping(ctx context.Context) error
}

// SessionStore keeps refresh sessions and revoked access tokens.
type SessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	// ConsumeRefreshSession atomically revokes an active session and returns
	// its owner. Only the ID of the returned user is relied on.
	ConsumeRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type UploadGranter interface {
	Grant(ctx context.Context, who identity.Participant, req upload.Request) (upload.Grant, error)
}

type MessageSearcher interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexMessage(rec search.MessageRecord)
}

type TranscriptExporter interface {
	Transcript(ctx context.Context, conversationID string) (*export.Result, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies wires the service. Store is required; Sessions defaults to
// Store when Store also implements SessionStore.
type Dependencies struct {
	Store       DataStore
	Sessions    SessionStore
	Uploads     UploadGranter
	Search      MessageSearcher
	Exporter    TranscriptExporter
	ObjectStore Pinger
	Log         zerolog.Logger
}

type Service struct {
	cfg         config.Config
	store       DataStore
	sessions    SessionStore
	passwords   *authpw.Service
	uploads     UploadGranter
	search      MessageSearcher
	exporter    TranscriptExporter
	objectStore Pinger
	limiter     *writeLimiter
	log         zerolog.Logger
	now         func() time.Time

	adminMu sync.RWMutex
	adminID string
}

func New(cfg config.Config, deps Dependencies) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("app: store is required")
	}
	sessions := deps.Sessions
	if sessions == nil {
		fallback, ok := deps.Store.(SessionStore)
		if !ok {
			return nil, errors.New("app: no session store configured")
		}
		sessions = fallback
	}
	return &Service{
		cfg:         cfg,
		store:       deps.Store,
		sessions:    sessions,
		passwords:   authpw.NewService(deps.Store),
		uploads:     deps.Uploads,
		search:      deps.Search,
		exporter:    deps.Exporter,
		objectStore: deps.ObjectStore,
		limiter:     newWriteLimiter(cfg.WriteRatePerSecond, cfg.WriteRateBurst),
		log:         deps.Log.With().Str("component", "service").Logger(),
		now:         time.Now,
	}, nil
}

// Bootstrap resolves the configured admin, creating the account when a
// password is configured and the account does not exist yet.
func (s *Service) Bootstrap(ctx context.Context) error {
	email := strings.TrimSpace(s.cfg.AdminEmail)
	if email == "" {
		s.log.Warn().Msg("ADMIN_EMAIL is empty; users cannot open conversations")
		return nil
	}

	var (
		admin store.User
		err   error
	)
	if s.cfg.AdminPassword != "" {
		admin, err = s.passwords.EnsureAdmin(ctx, authpw.SignUpRequest{
			Email:       email,
			Password:    s.cfg.AdminPassword,
			DisplayName: s.cfg.AdminDisplayName,
		})
		if err != nil {
			return fmt.Errorf("ensure admin: %w", err)
		}
	} else {
		admin, err = s.store.GetUserByEmail(ctx, email)
		if errors.Is(err, store.ErrNotFound) {
			s.log.Warn().Str("email", email).Msg("admin account missing and ADMIN_PASSWORD unset; users cannot open conversations")
			return nil
		}
		if err != nil {
			return fmt.Errorf("lookup admin: %w", err)
		}
		if identity.Normalize(admin.Role) != identity.RoleAdmin {
			return fmt.Errorf("account %s exists without the admin role", email)
		}
	}

	s.setAdmin(admin.ID)
	s.log.Info().Str("admin_id", admin.ID).Msg("admin resolved")
	return nil
}

func (s *Service) setAdmin(id string) {
	s.adminMu.Lock()
	defer s.adminMu.Unlock()
	s.adminID = id
}

func (s *Service) configuredAdmin() string {
	s.adminMu.RLock()
	defer s.adminMu.RUnlock()
	return s.adminID
}

// Sessions

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (store.User, error) {
	user, err := s.passwords.SignUp(ctx, authpw.SignUpRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	})
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, authpw.ErrInvalidInput):
		return store.User{}, errInvalidRequest(strings.TrimPrefix(err.Error(), authpw.ErrInvalidInput.Error()+": "), nil)
	case errors.Is(err, authpw.ErrEmailTaken):
		return store.User{}, errConflict("Email already registered", nil)
	default:
		return store.User{}, err
	}
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	switch {
	case err == nil:
		return s.issueSession(ctx, user)
	case errors.Is(err, authpw.ErrInvalidInput):
		return Session{}, errInvalidRequest("Email and password are required", nil)
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return Session{}, domainError(errUnauthenticated().Status, CodeUnauthenticated, "Invalid email or password", nil)
	default:
		return Session{}, err
	}
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, errUnauthenticated()
	}
	tokenHash := auth.HashToken(refreshToken)
	owner, err := s.sessions.ConsumeRefreshSession(ctx, tokenHash)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, errUnauthenticated()
	}
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, owner.ID)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, errUnauthenticated()
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")
	role := string(identity.Normalize(user.Role))

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken verifies an access token and reloads the user so role
// changes apply on the next request.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token, s.now())
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      string(identity.Normalize(user.Role)),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.log.Warn().Err(err).Msg("revoke access token")
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.log.Warn().Err(err).Msg("revoke refresh token")
		}
	}
	return nil
}

// Health

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingObjectStore reports object storage reachability; nil when uploads are
// not wired.
func (s *Service) PingObjectStore(ctx context.Context) error {
	if s.objectStore == nil {
		return nil
	}
	return s.objectStore.Ping(ctx)
}

func (s *Service) allowWrite(who identity.Participant, action string) error {
	if s.limiter.Allow(who.ParticipantID()) {
		return nil
	}
	metrics.RateLimited.WithLabelValues(action).Inc()
	return errRateLimited()
}
