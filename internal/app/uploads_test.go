package app

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"supportchat/api/internal/config"
	"supportchat/api/internal/upload"
)

type fakePresigner struct {
	err  error
	keys []string
}

func (f *fakePresigner) PresignPut(_ context.Context, key, _ string, _ time.Duration) (*url.URL, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.keys = append(f.keys, key)
	return url.Parse("https://storage.example.com/chat-uploads/" + key + "?X-Amz-Signature=abc")
}

func (f *fakePresigner) PublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

func (f *fakePresigner) Ping(context.Context) error { return nil }

func withBroker(presigner *fakePresigner) harnessOption {
	return func(_ *config.Config, deps *Dependencies) {
		deps.Uploads = upload.NewBroker(presigner, upload.DefaultTTL, zerolog.Nop())
	}
}

func TestUploadGrantIssued(t *testing.T) {
	presigner := &fakePresigner{}
	h := newHarness(t, withBroker(presigner))
	user := h.addUser("Ana")

	rr := h.do(http.MethodPost, "/api/uploads/grant", h.token(user), map[string]any{
		"filename":  "doc.pdf",
		"mediaType": "application/pdf",
		"size":      2 * 1024 * 1024,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	var grant upload.Grant
	decodeJSON(t, rr, &grant)
	if !strings.HasPrefix(grant.Key, "uploads/"+user.ID+"/") || !strings.HasSuffix(grant.Key, ".pdf") {
		t.Fatalf("unexpected key %q", grant.Key)
	}
	if grant.PublicURL != "https://cdn.example.com/"+grant.Key {
		t.Fatalf("unexpected public url %q", grant.PublicURL)
	}
	if !strings.Contains(grant.WriteURL, grant.Key) {
		t.Fatalf("write url %q does not address key", grant.WriteURL)
	}
	if time.Until(grant.ExpiresAt) > upload.DefaultTTL || time.Until(grant.ExpiresAt) <= 0 {
		t.Fatalf("unexpected expiry %v", grant.ExpiresAt)
	}
}

func TestUploadGrantErrors(t *testing.T) {
	cases := []struct {
		name      string
		presigner *fakePresigner
		body      map[string]any
		wantCode  int
		wantError string
	}{
		{
			name:      "missing filename",
			presigner: &fakePresigner{},
			body:      map[string]any{"mediaType": "image/png"},
			wantCode:  http.StatusBadRequest,
			wantError: CodeInvalidRequest,
		},
		{
			name:      "missing media type",
			presigner: &fakePresigner{},
			body:      map[string]any{"filename": "a.png"},
			wantCode:  http.StatusBadRequest,
			wantError: CodeInvalidRequest,
		},
		{
			name:      "disallowed media type",
			presigner: &fakePresigner{},
			body:      map[string]any{"filename": "a.zip", "mediaType": "application/zip"},
			wantCode:  http.StatusBadRequest,
			wantError: CodeInvalidRequest,
		},
		{
			name:      "too large",
			presigner: &fakePresigner{},
			body:      map[string]any{"filename": "a.png", "mediaType": "image/png", "size": 6 * 1024 * 1024},
			wantCode:  http.StatusBadRequest,
			wantError: CodeInvalidRequest,
		},
		{
			name:      "presign failure",
			presigner: &fakePresigner{err: errors.New("endpoint unreachable")},
			body:      map[string]any{"filename": "a.png", "mediaType": "image/png"},
			wantCode:  http.StatusBadGateway,
			wantError: CodeUpstreamUnavailable,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, withBroker(tc.presigner))
			rr := h.do(http.MethodPost, "/api/uploads/grant", h.token(h.addUser("Ana")), tc.body)
			if rr.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d %s", tc.wantCode, rr.Code, rr.Body.String())
			}
			if code := errorCode(t, rr); code != tc.wantError {
				t.Fatalf("expected %s, got %s", tc.wantError, code)
			}
		})
	}
}

func TestUploadGrantRequiresSession(t *testing.T) {
	h := newHarness(t, withBroker(&fakePresigner{}))
	rr := h.do(http.MethodPost, "/api/uploads/grant", "", map[string]any{"filename": "a.png", "mediaType": "image/png"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	_, err := h.svc.GrantUpload(context.Background(), nil, upload.Request{Filename: "a.png", MediaType: "image/png", Size: -1})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != CodeUnauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestUploadGrantWithoutStorage(t *testing.T) {
	h := newHarness(t)
	rr := h.do(http.MethodPost, "/api/uploads/grant", h.token(h.addUser("Ana")), map[string]any{"filename": "a.png", "mediaType": "image/png"})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
}

// Grant, upload, then register the file message.
func TestFileSendFlow(t *testing.T) {
	presigner := &fakePresigner{}
	h := newHarness(t, withBroker(presigner))
	user := h.addUser("Ana")
	conv := h.openConversation(user)
	token := h.token(user)

	rr := h.do(http.MethodPost, "/api/uploads/grant", token, map[string]any{"filename": "doc.pdf", "mediaType": "application/pdf", "size": 2 << 20})
	if rr.Code != http.StatusOK {
		t.Fatalf("grant: expected 200, got %d", rr.Code)
	}
	var grant upload.Grant
	decodeJSON(t, rr, &grant)

	rr = h.do(http.MethodPost, "/api/conversations/"+conv.ID+"/messages", token, map[string]any{
		"kind":          "FILE",
		"attachmentUrl": grant.PublicURL,
		"filename":      "doc.pdf",
		"mediaType":     "application/pdf",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("append: expected 201, got %d %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Message MessageView `json:"message"`
	}
	decodeJSON(t, rr, &body)
	if body.Message.AttachmentURL != grant.PublicURL {
		t.Fatalf("expected attachment url %s, got %s", grant.PublicURL, body.Message.AttachmentURL)
	}
}
