package app

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"supportchat/api/internal/identity"
	"supportchat/api/internal/store"
)

type signInResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
	Role         string `json:"role"`
	ExpiresAt    int64  `json:"expiresAt"`
}

func TestSignUpSignInAndSession(t *testing.T) {
	h := newHarness(t)

	rr := h.do(http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":       "ana@example.com",
		"password":    "correct horse",
		"displayName": "Ana",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d %s", rr.Code, rr.Body.String())
	}
	var created struct {
		UserID string `json:"userId"`
		Role   string `json:"role"`
	}
	decodeJSON(t, rr, &created)
	if created.Role != string(identity.RoleUser) {
		t.Fatalf("expected USER role, got %s", created.Role)
	}

	rr = h.do(http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":       "ANA@example.com",
		"password":    "another password",
		"displayName": "Ana again",
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate signup: expected 409, got %d", rr.Code)
	}

	rr = h.do(http.MethodPost, "/api/auth/signin", "", map[string]any{"email": "ana@example.com", "password": "wrong password"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: expected 401, got %d", rr.Code)
	}

	rr = h.do(http.MethodPost, "/api/auth/signin", "", map[string]any{"email": "ana@example.com", "password": "correct horse"})
	if rr.Code != http.StatusOK {
		t.Fatalf("signin: expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	var signIn signInResponse
	decodeJSON(t, rr, &signIn)
	if signIn.AccessToken == "" || signIn.RefreshToken == "" || signIn.UserID != created.UserID {
		t.Fatalf("unexpected signin payload %+v", signIn)
	}

	rr = h.do(http.MethodGet, "/api/session", signIn.AccessToken, nil)
	var session struct {
		Authenticated bool   `json:"authenticated"`
		UserID        string `json:"userId"`
		Role          string `json:"role"`
	}
	decodeJSON(t, rr, &session)
	if !session.Authenticated || session.UserID != created.UserID || session.Role != "USER" {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestSignUpValidation(t *testing.T) {
	h := newHarness(t)
	rr := h.do(http.MethodPost, "/api/auth/signup", "", map[string]any{"email": "ana@example.com", "password": "short", "displayName": "Ana"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != CodeInvalidRequest {
		t.Fatalf("expected %s, got %s", CodeInvalidRequest, code)
	}
}

func TestSessionWithoutToken(t *testing.T) {
	h := newHarness(t)
	rr := h.do(http.MethodGet, "/api/session", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]any
	decodeJSON(t, rr, &body)
	if body["authenticated"] != false {
		t.Fatalf("expected unauthenticated, got %v", body)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	h := newHarness(t)
	user := h.addUser("Ana")
	session, err := h.svc.issueSession(context.Background(), user)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	rr := h.do(http.MethodPost, "/api/session/refresh", "", map[string]any{"refreshToken": session.RefreshToken})
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	var rotated signInResponse
	decodeJSON(t, rr, &rotated)
	if rotated.RefreshToken == "" || rotated.RefreshToken == session.RefreshToken {
		t.Fatalf("expected a new refresh token, got %q", rotated.RefreshToken)
	}

	rr = h.do(http.MethodPost, "/api/session/refresh", "", map[string]any{"refreshToken": session.RefreshToken})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("reused refresh token: expected 401, got %d", rr.Code)
	}
}

func TestConcurrentRefreshSucceedsOnce(t *testing.T) {
	h := newHarness(t)
	user := h.addUser("Ana")
	session, err := h.svc.issueSession(context.Background(), user)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := h.svc.Refresh(context.Background(), session.RefreshToken); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one refresh to succeed, got %d", successes)
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	h := newHarness(t)
	user := h.addUser("Ana")
	session, err := h.svc.issueSession(context.Background(), user)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if rr := h.do(http.MethodPost, "/api/conversations", session.Token, nil); rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 before logout, got %d", rr.Code)
	}

	rr := h.do(http.MethodPost, "/api/session/logout", session.Token, map[string]any{"refreshToken": session.RefreshToken})
	if rr.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rr.Code)
	}

	if rr := h.do(http.MethodGet, "/api/conversations", session.Token, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rr.Code)
	}
	rr = h.do(http.MethodPost, "/api/session/refresh", "", map[string]any{"refreshToken": session.RefreshToken})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: expected 401, got %d", rr.Code)
	}
}

func TestBootstrapCreatesAdminWithPassword(t *testing.T) {
	mem := store.NewMemoryStore()
	cfg := testConfig()
	cfg.AdminPassword = "admin password"
	cfg.AdminDisplayName = "Support"

	svc, err := New(cfg, Dependencies{Store: mem, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := svc.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	admin, err := mem.GetUserByEmail(ctx, testAdminEmail)
	if err != nil {
		t.Fatalf("admin not created: %v", err)
	}
	if admin.Role != string(identity.RoleAdmin) || svc.configuredAdmin() != admin.ID {
		t.Fatalf("unexpected admin %+v (configured %q)", admin, svc.configuredAdmin())
	}

	if err := svc.Bootstrap(ctx); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if svc.configuredAdmin() != admin.ID {
		t.Fatalf("second bootstrap changed the admin")
	}
}

func TestBootstrapRejectsNonAdminAccount(t *testing.T) {
	mem := store.NewMemoryStore()
	if err := mem.CreateUser(context.Background(), store.User{ID: "usr_1", Email: testAdminEmail, DisplayName: "Ana", Role: "USER"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	svc, err := New(testConfig(), Dependencies{Store: mem, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := svc.Bootstrap(context.Background()); err == nil {
		t.Fatal("expected bootstrap to refuse a non-admin account")
	}
}

func TestBootstrapWithoutAdminAccount(t *testing.T) {
	svc, err := New(testConfig(), Dependencies{Store: store.NewMemoryStore(), Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if svc.configuredAdmin() != "" {
		t.Fatalf("expected no admin, got %q", svc.configuredAdmin())
	}
}
