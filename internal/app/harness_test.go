package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"supportchat/api/internal/config"
	"supportchat/api/internal/identity"
	"supportchat/api/internal/store"
	"supportchat/api/internal/util"
)

const testAdminEmail = "support@example.com"

type harness struct {
	t      *testing.T
	store  *store.MemoryStore
	svc    *Service
	server http.Handler
	admin  store.User
}

type harnessOption func(*config.Config, *Dependencies)

func testConfig() config.Config {
	return config.Config{
		JWTSecret:          "test-secret",
		AccessTTL:          15 * time.Minute,
		RefreshTTL:         time.Hour,
		AdminEmail:         testAdminEmail,
		CORSOrigin:         "*",
		WriteRatePerSecond: 1000,
		WriteRateBurst:     1000,
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	return newHarnessWithStore(t, store.NewMemoryStore(), opts...)
}

func newHarnessWithStore(t *testing.T, mem *store.MemoryStore, opts ...harnessOption) *harness {
	t.Helper()
	cfg := testConfig()
	deps := Dependencies{Store: mem, Log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	h := &harness{t: t, store: mem}
	if cfg.AdminEmail != "" {
		h.admin = h.addUserWithRole("Support", cfg.AdminEmail, identity.RoleAdmin)
	}

	svc, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	h.svc = svc
	h.server = NewHTTPServer(svc, cfg.CORSOrigin, zerolog.Nop()).Handler()
	return h
}

func (h *harness) addUser(name string) store.User {
	return h.addUserWithRole(name, util.NewID("mail")+"@example.com", identity.RoleUser)
}

func (h *harness) addUserWithRole(name, email string, role identity.Role) store.User {
	h.t.Helper()
	user := store.User{
		ID:          util.NewID("usr"),
		DisplayName: name,
		Email:       email,
		Role:        string(role),
	}
	if err := h.store.CreateUser(context.Background(), user); err != nil {
		h.t.Fatalf("create user: %v", err)
	}
	return user
}

func (h *harness) token(user store.User) string {
	h.t.Helper()
	session, err := h.svc.issueSession(context.Background(), user)
	if err != nil {
		h.t.Fatalf("issue session: %v", err)
	}
	return session.Token
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.server.ServeHTTP(rr, req)
	return rr
}

// openConversation creates the user's conversation through the service.
func (h *harness) openConversation(user store.User) store.Conversation {
	h.t.Helper()
	conv, err := h.svc.CreateConversation(context.Background(), identity.User{ID: user.ID, DisplayName: user.DisplayName})
	if err != nil {
		h.t.Fatalf("create conversation: %v", err)
	}
	return conv
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	decodeJSON(t, rr, &body)
	return body.Code
}

func adminOf(u store.User) identity.Participant {
	return identity.Admin{ID: u.ID, DisplayName: u.DisplayName}
}

func userOf(u store.User) identity.Participant {
	return identity.User{ID: u.ID, DisplayName: u.DisplayName}
}
