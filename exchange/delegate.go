// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/parley-foundation/parley/backend"
	"github.com/parley-foundation/parley/lib/clock"
	"github.com/parley-foundation/parley/realm"
)

// ErrDelegationDenied is returned when a realm's issuer rejects the
// delegated exchange: invalid assertion, denied scope, disabled
// client. Fatal; the caller must not retry.
var ErrDelegationDenied = errors.New("exchange: delegation denied")

// Grant is the result of a successful delegated exchange: a backend
// access token minted on behalf of the original credential's subject.
type Grant struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Delegate performs the delegated/on-behalf-of exchange: it presents
// an already-issued bearer credential as an assertion to one realm's
// confidential client and obtains a backend-scoped token without
// re-prompting the user. The realm that issued the credential is
// always the realm whose client performs the exchange.
type Delegate interface {
	Exchange(ctx context.Context, issuingRealm realm.Realm, assertion string) (Grant, error)
}

// DelegateFunc adapts a function to the Delegate interface.
type DelegateFunc func(ctx context.Context, issuingRealm realm.Realm, assertion string) (Grant, error)

// Exchange implements Delegate.
func (f DelegateFunc) Exchange(ctx context.Context, issuingRealm realm.Realm, assertion string) (Grant, error) {
	return f(ctx, issuingRealm, assertion)
}

// jwtBearerGrantType is the OAuth 2.0 assertion grant used for
// on-behalf-of exchange.
const jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// defaultTokenEndpointPath is appended to a realm's issuer authority
// to reach its token endpoint.
const defaultTokenEndpointPath = "/oauth2/v2.0/token"

// HTTPDelegateConfig holds configuration for creating an HTTPDelegate.
type HTTPDelegateConfig struct {
	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used.
	HTTPClient *http.Client
	// TokenEndpointPath overrides defaultTokenEndpointPath.
	TokenEndpointPath string
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// HTTPDelegate is the live Delegate: a form POST to the issuing
// realm's token endpoint with the bearer credential as the assertion,
// authenticated by the realm's registered client.
type HTTPDelegate struct {
	httpClient        *http.Client
	tokenEndpointPath string
	logger            *slog.Logger
	clock             clock.Clock
}

// NewHTTPDelegate creates a live delegate.
func NewHTTPDelegate(config HTTPDelegateConfig) *HTTPDelegate {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	path := config.TokenEndpointPath
	if path == "" {
		path = defaultTokenEndpointPath
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPDelegate{
		httpClient:        httpClient,
		tokenEndpointPath: path,
		logger:            logger,
		clock:             clock.Real(),
	}
}

// tokenEndpointResponse is the issuer's success payload.
type tokenEndpointResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// tokenEndpointError is the issuer's error payload.
type tokenEndpointError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// Exchange performs the on-behalf-of exchange against the issuing
// realm's token endpoint. Issuer rejections (4xx) map to
// ErrDelegationDenied; transport failures and 5xx responses map to
// backend.ErrUnavailable so callers can distinguish "retry later"
// from "give up".
func (d *HTTPDelegate) Exchange(ctx context.Context, issuingRealm realm.Realm, assertion string) (Grant, error) {
	endpoint := strings.TrimRight(issuingRealm.Issuer, "/") + d.tokenEndpointPath

	form := url.Values{
		"grant_type":          {jwtBearerGrantType},
		"client_id":           {issuingRealm.ClientID},
		"client_secret":       {issuingRealm.ClientSecret},
		"assertion":           {assertion},
		"scope":               {strings.Join(issuingRealm.Scopes, " ")},
		"requested_token_use": {"on_behalf_of"},
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return Grant{}, fmt.Errorf("exchange: creating token request: %w", err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := d.httpClient.Do(request)
	if err != nil {
		return Grant{}, fmt.Errorf("exchange: token endpoint for realm %s: %v: %w",
			issuingRealm.ID, err, backend.ErrUnavailable)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return Grant{}, fmt.Errorf("exchange: reading token response: %v: %w",
			err, backend.ErrUnavailable)
	}

	if response.StatusCode >= http.StatusInternalServerError {
		return Grant{}, fmt.Errorf("exchange: token endpoint for realm %s returned %d: %w",
			issuingRealm.ID, response.StatusCode, backend.ErrUnavailable)
	}
	if response.StatusCode != http.StatusOK {
		var issuerErr tokenEndpointError
		if jsonErr := json.Unmarshal(body, &issuerErr); jsonErr == nil && issuerErr.Error != "" {
			return Grant{}, fmt.Errorf("%w: %s: %s",
				ErrDelegationDenied, issuerErr.Error, issuerErr.Description)
		}
		return Grant{}, fmt.Errorf("%w: token endpoint returned %d: %s",
			ErrDelegationDenied, response.StatusCode, string(body))
	}

	var success tokenEndpointResponse
	if err := json.Unmarshal(body, &success); err != nil {
		return Grant{}, fmt.Errorf("exchange: parsing token response: %w", err)
	}
	if success.AccessToken == "" {
		return Grant{}, fmt.Errorf("exchange: token response missing access_token")
	}

	d.logger.Info("delegated exchange succeeded",
		"realm", issuingRealm.ID,
		"expires_in", success.ExpiresIn,
	)

	return Grant{
		AccessToken: success.AccessToken,
		ExpiresAt:   d.clock.Now().Add(time.Duration(success.ExpiresIn) * time.Second),
	}, nil
}
