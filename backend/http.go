// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxResponseBytes caps how much of a backend response is read into
// memory. Thread listings and message pages are small; anything larger
// indicates a misbehaving server.
const maxResponseBytes = 8 << 20

// HTTPConfig holds configuration for creating an HTTPService.
type HTTPConfig struct {
	// BaseURL is the backend service endpoint (e.g. "https://chat.host.example").
	BaseURL string
	// ServiceToken authenticates privileged calls (identity creation,
	// token issuance, participant management, system notices).
	ServiceToken string
	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// HTTPService is the live Service implementation. It holds the backend
// base URL and HTTP transport; all methods honor the caller's context
// deadline and report transport failures as ErrUnavailable.
type HTTPService struct {
	baseURL      string
	serviceToken string
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewHTTPService creates a Service talking to the live backend.
func NewHTTPService(config HTTPConfig) (*HTTPService, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("backend: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("backend: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	if config.ServiceToken == "" {
		return nil, fmt.Errorf("backend: ServiceToken is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPService{
		baseURL:      strings.TrimRight(config.BaseURL, "/"),
		serviceToken: config.ServiceToken,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

type createIdentityRequest struct {
	DisplayName string `json:"display_name"`
}

type createIdentityResponse struct {
	IdentityID IdentityID `json:"identity_id"`
}

// CreateIdentity provisions a new backend identity. Privileged call.
func (s *HTTPService) CreateIdentity(ctx context.Context, displayName string) (IdentityID, error) {
	body, err := s.doRequest(ctx, http.MethodPost, "/v1/identities", s.serviceToken,
		createIdentityRequest{DisplayName: displayName})
	if err != nil {
		return "", fmt.Errorf("backend: create identity: %w", err)
	}

	var response createIdentityResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("backend: parsing create identity response: %w", err)
	}
	if response.IdentityID == "" {
		return "", fmt.Errorf("backend: create identity response missing identity_id")
	}

	s.logger.Info("created backend identity", "identity", response.IdentityID)
	return response.IdentityID, nil
}

type issueTokenRequest struct {
	Scopes []string `json:"scopes"`
}

type issueTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueToken issues a backend access token for an identity.
// Privileged call.
func (s *HTTPService) IssueToken(ctx context.Context, identity IdentityID, scopes []string) (AccessToken, error) {
	path := "/v1/identities/" + url.PathEscape(identity.String()) + "/tokens"
	body, err := s.doRequest(ctx, http.MethodPost, path, s.serviceToken, issueTokenRequest{Scopes: scopes})
	if err != nil {
		return AccessToken{}, fmt.Errorf("backend: issue token: %w", err)
	}

	var response issueTokenResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return AccessToken{}, fmt.Errorf("backend: parsing issue token response: %w", err)
	}
	if response.Token == "" {
		return AccessToken{}, fmt.Errorf("backend: issue token response missing token")
	}
	return AccessToken{Token: response.Token, ExpiresAt: response.ExpiresAt}, nil
}

type createThreadRequest struct {
	Topic   string     `json:"topic"`
	Creator IdentityID `json:"creator"`
}

type createThreadResponse struct {
	ThreadID ThreadID `json:"thread_id"`
}

// CreateThread creates a thread as the user identified by asToken.
func (s *HTTPService) CreateThread(ctx context.Context, topic string, creator IdentityID, asToken string) (ThreadID, error) {
	body, err := s.doRequest(ctx, http.MethodPost, "/v1/threads", asToken,
		createThreadRequest{Topic: topic, Creator: creator})
	if err != nil {
		return "", fmt.Errorf("backend: create thread: %w", err)
	}

	var response createThreadResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("backend: parsing create thread response: %w", err)
	}
	if response.ThreadID == "" {
		return "", fmt.Errorf("backend: create thread response missing thread_id")
	}

	s.logger.Info("created backend thread", "thread", response.ThreadID, "topic", topic)
	return response.ThreadID, nil
}

type addParticipantRequest struct {
	Identity    IdentityID `json:"identity"`
	DisplayName string     `json:"display_name"`
}

// AddParticipant adds an identity to a thread. Privileged call.
func (s *HTTPService) AddParticipant(ctx context.Context, thread ThreadID, participant IdentityID, displayName string) error {
	path := "/v1/threads/" + url.PathEscape(thread.String()) + "/participants"
	_, err := s.doRequest(ctx, http.MethodPost, path, s.serviceToken,
		addParticipantRequest{Identity: participant, DisplayName: displayName})
	if err != nil {
		return fmt.Errorf("backend: add participant: %w", err)
	}
	return nil
}

type sendMessageRequest struct {
	Body string `json:"body"`
}

type sendMessageResponse struct {
	MessageID MessageID `json:"message_id"`
}

// SendMessage posts a message as the user identified by asToken.
func (s *HTTPService) SendMessage(ctx context.Context, thread ThreadID, body string, asToken string) (MessageID, error) {
	path := "/v1/threads/" + url.PathEscape(thread.String()) + "/messages"
	responseBody, err := s.doRequest(ctx, http.MethodPost, path, asToken, sendMessageRequest{Body: body})
	if err != nil {
		return "", fmt.Errorf("backend: send message: %w", err)
	}

	var response sendMessageResponse
	if err := json.Unmarshal(responseBody, &response); err != nil {
		return "", fmt.Errorf("backend: parsing send message response: %w", err)
	}
	return response.MessageID, nil
}

// PostSystemMessage posts a system-authored notice. Privileged call.
func (s *HTTPService) PostSystemMessage(ctx context.Context, thread ThreadID, body string) (MessageID, error) {
	path := "/v1/threads/" + url.PathEscape(thread.String()) + "/notices"
	responseBody, err := s.doRequest(ctx, http.MethodPost, path, s.serviceToken, sendMessageRequest{Body: body})
	if err != nil {
		return "", fmt.Errorf("backend: post system message: %w", err)
	}

	var response sendMessageResponse
	if err := json.Unmarshal(responseBody, &response); err != nil {
		return "", fmt.Errorf("backend: parsing post system message response: %w", err)
	}
	return response.MessageID, nil
}

type listMessagesResponse struct {
	Messages []Message `json:"messages"`
}

// ListMessages returns a thread's messages, oldest first.
func (s *HTTPService) ListMessages(ctx context.Context, thread ThreadID) ([]Message, error) {
	path := "/v1/threads/" + url.PathEscape(thread.String()) + "/messages"
	body, err := s.doRequest(ctx, http.MethodGet, path, s.serviceToken, nil)
	if err != nil {
		return nil, fmt.Errorf("backend: list messages: %w", err)
	}

	var response listMessagesResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("backend: parsing list messages response: %w", err)
	}
	return response.Messages, nil
}

type listThreadsResponse struct {
	Threads []ThreadInfo `json:"threads"`
}

// ListThreads returns every thread known to the backend.
func (s *HTTPService) ListThreads(ctx context.Context) ([]ThreadInfo, error) {
	body, err := s.doRequest(ctx, http.MethodGet, "/v1/threads", s.serviceToken, nil)
	if err != nil {
		return nil, fmt.Errorf("backend: list threads: %w", err)
	}

	var response listThreadsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("backend: parsing list threads response: %w", err)
	}
	return response.Threads, nil
}

// doRequest performs an HTTP request against the backend and returns
// the response body. On 2xx, returns the body. On 4xx/5xx with a JSON
// error payload, returns a *ServiceError. Transport failures are
// wrapped to match ErrUnavailable.
func (s *HTTPService) doRequest(ctx context.Context, method, path, accessToken string, requestBody any) ([]byte, error) {
	requestURL := s.baseURL + path

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+accessToken)
	}

	response, err := s.httpClient.Do(request)
	if err != nil {
		return nil, transportError(method+" "+path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError("reading response from "+path, err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}
	if response.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%s %s returned %d: %w",
			method, path, response.StatusCode, ErrUnavailable)
	}

	// All backend error responses use the same JSON shape.
	var serviceErr ServiceError
	if jsonErr := json.Unmarshal(responseBody, &serviceErr); jsonErr != nil || serviceErr.Code == "" {
		// Non-JSON error body. Fail loud with the raw payload.
		return nil, fmt.Errorf("unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	serviceErr.StatusCode = response.StatusCode

	return nil, &serviceErr
}
