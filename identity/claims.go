// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedCredential is returned when a bearer credential cannot
// be parsed or is missing a required claim. Fatal: a malformed
// credential is never retried.
var ErrMalformedCredential = errors.New("identity: malformed credential")

// Claims is the typed view of a bearer credential, populated once at
// parse time. Subject and Issuer are required; the rest are optional.
// There is no fallback chain through alternative claim names at use
// sites — missing required claims fail here, fast.
type Claims struct {
	// Subject is the principal's stable, opaque id within its realm.
	Subject string
	// Issuer is the authority URL of the realm that issued the
	// credential, resolved against the realm registry.
	Issuer string
	// DisplayName is the human-readable name, if the credential
	// carries one.
	DisplayName string
	// Address is the principal's email-like address, if present.
	Address string
	// ExpiresAt is the credential's expiry; zero when absent.
	ExpiresAt time.Time
}

// bearerClaims is the raw JWT claim set. The fields mirror standard
// OIDC claim names.
type bearerClaims struct {
	jwt.RegisteredClaims
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Email             string `json:"email,omitempty"`
}

// ParseCredential extracts the claims from a bearer credential without
// verifying its signature. Signature verification against a trust
// anchor is the job of the transport layer that accepted the original
// login — this layer only reads claims to route the exchange.
func ParseCredential(credential string) (*Claims, error) {
	if credential == "" {
		return nil, fmt.Errorf("%w: empty credential", ErrMalformedCredential)
	}

	var raw bearerClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(credential, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}

	if raw.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject claim", ErrMalformedCredential)
	}
	if raw.Issuer == "" {
		return nil, fmt.Errorf("%w: missing issuer claim", ErrMalformedCredential)
	}

	claims := &Claims{
		Subject:     raw.Subject,
		Issuer:      raw.Issuer,
		DisplayName: raw.Name,
		Address:     raw.Email,
	}
	if claims.Address == "" && strings.Contains(raw.PreferredUsername, "@") {
		claims.Address = raw.PreferredUsername
	}
	if raw.ExpiresAt != nil {
		claims.ExpiresAt = raw.ExpiresAt.Time
	}
	return claims, nil
}
