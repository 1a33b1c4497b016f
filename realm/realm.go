// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package realm

import (
	"errors"
	"fmt"
	"strings"
)

// ID identifies a trust domain (e.g. "origin", "host"). IDs are opaque
// labels chosen by the operator in configuration.
type ID string

func (id ID) String() string { return string(id) }

// Realm is the trust metadata for one domain: the issuer that signs
// its credentials and the confidential client registered with that
// issuer for delegated exchange. Immutable after load. Origin and host
// realms are modeled uniformly; exactly one realm carries Host.
type Realm struct {
	// ID is the operator-chosen label for this realm.
	ID ID `yaml:"id"`

	// Issuer is the authority URL appearing in the "iss" claim of
	// credentials this realm issues. Matched exactly (modulo a
	// trailing slash) by Registry.Resolve.
	Issuer string `yaml:"issuer"`

	// ClientID and ClientSecret identify the confidential client
	// registered with this realm's issuer. The delegated exchange for
	// a credential is always performed by the client of the realm
	// that issued it — the host realm is never asked to vouch for a
	// credential it did not issue.
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// Scopes are the backend-service scopes requested during the
	// delegated exchange.
	Scopes []string `yaml:"scopes"`

	// Host marks the realm that owns and bills the backend service.
	Host bool `yaml:"host"`
}

// ErrUnknownRealm is returned by Resolve for an issuer that is not
// registered. The token exchange engine treats this as fatal — it
// never defaults to any realm.
var ErrUnknownRealm = errors.New("realm: unknown issuer")

// Registry is the static issuer → realm table. Built once at startup,
// read-only afterward; lookups never block.
type Registry struct {
	byIssuer map[string]Realm
	byID     map[ID]Realm
	host     Realm
}

// NewRegistry validates the realm set and builds the lookup table.
// The set must be non-empty, carry exactly one host realm, and contain
// no duplicate IDs or issuers.
func NewRegistry(realms []Realm) (*Registry, error) {
	if len(realms) == 0 {
		return nil, fmt.Errorf("realm: no realms configured")
	}

	registry := &Registry{
		byIssuer: make(map[string]Realm, len(realms)),
		byID:     make(map[ID]Realm, len(realms)),
	}

	hostCount := 0
	for _, r := range realms {
		if r.ID == "" {
			return nil, fmt.Errorf("realm: realm with issuer %q has no id", r.Issuer)
		}
		if r.Issuer == "" {
			return nil, fmt.Errorf("realm: realm %q has no issuer", r.ID)
		}
		if r.ClientID == "" || r.ClientSecret == "" {
			return nil, fmt.Errorf("realm: realm %q is missing client credentials", r.ID)
		}
		if len(r.Scopes) == 0 {
			return nil, fmt.Errorf("realm: realm %q has no backend scopes", r.ID)
		}

		issuer := normalizeIssuer(r.Issuer)
		if _, exists := registry.byIssuer[issuer]; exists {
			return nil, fmt.Errorf("realm: duplicate issuer %q", r.Issuer)
		}
		if _, exists := registry.byID[r.ID]; exists {
			return nil, fmt.Errorf("realm: duplicate realm id %q", r.ID)
		}

		registry.byIssuer[issuer] = r
		registry.byID[r.ID] = r
		if r.Host {
			registry.host = r
			hostCount++
		}
	}

	if hostCount != 1 {
		return nil, fmt.Errorf("realm: exactly one host realm required, found %d", hostCount)
	}

	return registry, nil
}

// Resolve returns the realm whose issuer matches the given issuer
// claim. Returns ErrUnknownRealm (wrapped with the issuer) when the
// issuer is not registered.
func (reg *Registry) Resolve(issuer string) (Realm, error) {
	r, ok := reg.byIssuer[normalizeIssuer(issuer)]
	if !ok {
		return Realm{}, fmt.Errorf("%w: %q", ErrUnknownRealm, issuer)
	}
	return r, nil
}

// ByID returns the realm with the given ID.
func (reg *Registry) ByID(id ID) (Realm, bool) {
	r, ok := reg.byID[id]
	return r, ok
}

// Host returns the realm that owns the backend service.
func (reg *Registry) Host() Realm {
	return reg.host
}

// IDs returns the configured realm IDs, for logging and diagnostics.
func (reg *Registry) IDs() []ID {
	ids := make([]ID, 0, len(reg.byID))
	for id := range reg.byID {
		ids = append(ids, id)
	}
	return ids
}

// normalizeIssuer strips a trailing slash so that configuration and
// token claims that differ only in that respect still match.
func normalizeIssuer(issuer string) string {
	return strings.TrimRight(issuer, "/")
}
