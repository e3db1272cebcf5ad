// Package chatclient is the client side of the support chat: a typed API
// client plus the polling views that keep optimistic messages and server
// state in step.
package chatclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const userAgent = "supportchat-client/1.0"

const (
	KindText = "TEXT"
	KindFile = "FILE"
)

var (
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not found")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrConflict            = errors.New("conflict")
	ErrRateLimited         = errors.New("rate limited")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// APIError is a non-2xx answer from the chat API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("chat api: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("chat api: %s: %s", e.Code, e.Message)
}

// Is lets callers test an APIError against the package sentinels.
func (e *APIError) Is(target error) bool {
	return e.sentinel() == target
}

func (e *APIError) sentinel() error {
	switch e.Code {
	case "UNAUTHENTICATED":
		return ErrUnauthenticated
	case "FORBIDDEN":
		return ErrForbidden
	case "NOT_FOUND":
		return ErrNotFound
	case "INVALID_REQUEST":
		return ErrInvalidRequest
	case "CONFLICT":
		return ErrConflict
	case "RATE_LIMITED":
		return ErrRateLimited
	case "UPSTREAM_UNAVAILABLE":
		return ErrUpstreamUnavailable
	}
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthenticated
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest:
		return ErrInvalidRequest
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusBadGateway:
		return ErrUpstreamUnavailable
	}
	return nil
}

type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	Kind           string     `json:"kind"`
	Content        string     `json:"content,omitempty"`
	AttachmentURL  string     `json:"attachmentUrl,omitempty"`
	Filename       string     `json:"filename,omitempty"`
	MediaType      string     `json:"mediaType,omitempty"`
	ClientToken    string     `json:"clientToken,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
}

type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	AdminID   string    `json:"adminId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// ConversationSummary is one row of the admin directory.
type ConversationSummary struct {
	Conversation
	User           Participant `json:"user"`
	LastMessage    *Message    `json:"lastMessage"`
	UnreadCount    int         `json:"unreadCount"`
	LastActivityAt time.Time   `json:"lastActivityAt"`
}

type Session struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	Role         string `json:"role"`
	ExpiresAt    int64  `json:"expiresAt"`
}

type Grant struct {
	WriteURL  string    `json:"writeUrl"`
	PublicURL string    `json:"publicUrl"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type AppendRequest struct {
	Kind          string `json:"kind"`
	Content       string `json:"content,omitempty"`
	AttachmentURL string `json:"attachmentUrl,omitempty"`
	Filename      string `json:"filename,omitempty"`
	MediaType     string `json:"mediaType,omitempty"`
	ClientToken   string `json:"clientToken,omitempty"`
}

type SearchResult struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Kind           string `json:"kind"`
	Snippet        string `json:"snippet"`
	CreatedAt      string `json:"createdAt"`
}

type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
	Query   string         `json:"query"`
}

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

type Option func(*Client)

// WithTimeout bounds every request made by the client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.api.SetTimeout(d)
		c.storage.SetTimeout(d)
	}
}

// WithHTTPClient routes API and storage traffic through hc.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.api = resty.NewWithClient(hc).SetBaseURL(c.baseURL).SetHeader("User-Agent", userAgent)
		c.storage = resty.NewWithClient(hc)
	}
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// Client talks to the chat API. It is safe for concurrent use.
type Client struct {
	baseURL string
	api     *resty.Client
	// storage carries presigned uploads and never sends the bearer token.
	storage *resty.Client
	log     zerolog.Logger

	mu    sync.RWMutex
	token string
}

func New(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	c := &Client{
		baseURL: baseURL,
		api: resty.New().
			SetBaseURL(baseURL).
			SetHeader("User-Agent", userAgent).
			SetTimeout(20 * time.Second),
		storage: resty.New().SetTimeout(60 * time.Second),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.api.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetError(&errorBody{})
	if token := c.Token(); token != "" {
		req.SetAuthToken(token)
	}
	return req
}

// do sends req and converts non-2xx answers into *APIError.
func (c *Client) do(req *resty.Request, method, path string) (*resty.Response, error) {
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr := &APIError{Status: resp.StatusCode(), Message: strings.TrimSpace(resp.String())}
		if body, ok := resp.Error().(*errorBody); ok && body.Code != "" {
			apiErr.Code = body.Code
			apiErr.Message = body.Error
		}
		c.log.Debug().Str("method", method).Str("path", path).Int("status", apiErr.Status).Str("code", apiErr.Code).Msg("chat api error")
		return resp, apiErr
	}
	return resp, nil
}

func (c *Client) SignUp(ctx context.Context, email, password, displayName string) error {
	_, err := c.do(c.request(ctx).SetBody(map[string]string{
		"email":       email,
		"password":    password,
		"displayName": displayName,
	}), http.MethodPost, "/api/auth/signup")
	return err
}

// SignIn authenticates and stores the access token on the client.
func (c *Client) SignIn(ctx context.Context, email, password string) (Session, error) {
	var session Session
	_, err := c.do(c.request(ctx).
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&session), http.MethodPost, "/api/auth/signin")
	if err != nil {
		return Session{}, err
	}
	c.SetToken(session.AccessToken)
	return session, nil
}

// Refresh rotates the refresh token and stores the new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	var session Session
	_, err := c.do(c.request(ctx).
		SetBody(map[string]string{"refreshToken": refreshToken}).
		SetResult(&session), http.MethodPost, "/api/session/refresh")
	if err != nil {
		return Session{}, err
	}
	c.SetToken(session.AccessToken)
	return session, nil
}

// Conversation returns the caller's own conversation (user role).
func (c *Client) Conversation(ctx context.Context) (Conversation, error) {
	var body struct {
		Conversation Conversation `json:"conversation"`
	}
	if _, err := c.do(c.request(ctx).SetResult(&body), http.MethodGet, "/api/conversations"); err != nil {
		return Conversation{}, err
	}
	return body.Conversation, nil
}

// Conversations returns the admin directory.
func (c *Client) Conversations(ctx context.Context) ([]ConversationSummary, error) {
	var body struct {
		Conversations []ConversationSummary `json:"conversations"`
	}
	if _, err := c.do(c.request(ctx).SetResult(&body), http.MethodGet, "/api/conversations"); err != nil {
		return nil, err
	}
	return body.Conversations, nil
}

func (c *Client) CreateConversation(ctx context.Context) (Conversation, error) {
	var body struct {
		Conversation Conversation `json:"conversation"`
	}
	if _, err := c.do(c.request(ctx).SetResult(&body), http.MethodPost, "/api/conversations"); err != nil {
		return Conversation{}, err
	}
	return body.Conversation, nil
}

func (c *Client) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	var body struct {
		Messages []Message `json:"messages"`
	}
	_, err := c.do(c.request(ctx).
		SetPathParam("id", conversationID).
		SetResult(&body), http.MethodGet, "/api/conversations/{id}/messages")
	if err != nil {
		return nil, err
	}
	return body.Messages, nil
}

// Append posts a message. replayed is true when the server already had a
// message with the same client token.
func (c *Client) Append(ctx context.Context, conversationID string, req AppendRequest) (msg Message, replayed bool, err error) {
	var body struct {
		Message Message `json:"message"`
	}
	resp, err := c.do(c.request(ctx).
		SetPathParam("id", conversationID).
		SetBody(req).
		SetResult(&body), http.MethodPost, "/api/conversations/{id}/messages")
	if err != nil {
		return Message{}, false, err
	}
	return body.Message, resp.StatusCode() == http.StatusOK, nil
}

func (c *Client) MarkRead(ctx context.Context, conversationID string) (int, error) {
	var body struct {
		Updated int `json:"updated"`
	}
	_, err := c.do(c.request(ctx).
		SetPathParam("id", conversationID).
		SetResult(&body), http.MethodPost, "/api/conversations/{id}/read")
	if err != nil {
		return 0, err
	}
	return body.Updated, nil
}

// RequestUpload asks for a presigned write. size is the declared byte count.
func (c *Client) RequestUpload(ctx context.Context, filename, mediaType string, size int64) (Grant, error) {
	var grant Grant
	_, err := c.do(c.request(ctx).
		SetBody(map[string]any{"filename": filename, "mediaType": mediaType, "size": size}).
		SetResult(&grant), http.MethodPost, "/api/uploads/grant")
	if err != nil {
		return Grant{}, err
	}
	return grant, nil
}

// Upload PUTs the bytes straight to object storage using the grant.
func (c *Client) Upload(ctx context.Context, grant Grant, body io.Reader, size int64, mediaType string) error {
	resp, err := c.storage.R().
		SetContext(ctx).
		SetHeader("Content-Type", mediaType).
		SetContentLength(true).
		SetBody(io.LimitReader(body, size)).
		Put(grant.WriteURL)
	if err != nil {
		return fmt.Errorf("upload %s: %w", grant.Key, err)
	}
	if resp.IsError() {
		return &APIError{Status: resp.StatusCode(), Message: fmt.Sprintf("upload %s rejected: %s", grant.Key, strings.TrimSpace(resp.String()))}
	}
	return nil
}

func (c *Client) Search(ctx context.Context, query string, limit int) (SearchResponse, error) {
	var body SearchResponse
	req := c.request(ctx).SetQueryParam("q", query).SetResult(&body)
	if limit > 0 {
		req.SetQueryParam("limit", fmt.Sprintf("%d", limit))
	}
	if _, err := c.do(req, http.MethodGet, "/api/search"); err != nil {
		return SearchResponse{}, err
	}
	return body, nil
}

// EnsureConversation returns the user's conversation, creating it on first
// use. A concurrent creator winning the race is resolved by reading again.
func EnsureConversation(ctx context.Context, c *Client) (Conversation, error) {
	conv, err := c.Conversation(ctx)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Conversation{}, err
	}
	conv, err = c.CreateConversation(ctx)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrConflict) {
		return Conversation{}, err
	}
	return c.Conversation(ctx)
}
