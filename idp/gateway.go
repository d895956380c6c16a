// Package idp provides a narrow gateway to the upstream identity provider.
// The proxy never mints tokens itself; everything security-relevant is
// decided upstream, and this package exposes only the calls the flow needs.
package idp

import (
	"context"
	"net/http"
	"net/url"
)

//go:generate mockgen -destination=mock/gateway_mock.go -package=mock github.com/zorgbridge/smartproxy/idp Gateway

// Gateway is the identity provider as seen by the proxy. Implementations
// must not interpret upstream error bodies: pass-through handlers relay them
// verbatim, derived-call handlers convert them to generic errors.
type Gateway interface {
	// AuthorizeURL builds an authorization URL on the upstream authorize
	// endpoint carrying the given query parameters.
	AuthorizeURL(params url.Values) string

	// ExchangeAuthorizationCode redeems an authorization code using the
	// picker client's credentials and returns the granted access token.
	// Upstream rejections are returned as *UpstreamError.
	ExchangeAuthorizationCode(ctx context.Context, code string, redirectURI string) (string, error)

	// Introspect reports whether the given access token is active, using the
	// picker client's credentials.
	Introspect(ctx context.Context, token string) (bool, error)

	// GetClient returns the OAuth2 client registration for a client id from
	// the provider's management API.
	GetClient(ctx context.Context, clientID string) (*ClientRegistration, error)

	// GetApplication returns display metadata for an application.
	GetApplication(ctx context.Context, clientID string) (*Application, error)

	// ListScopes returns the scope definitions of the authorization server.
	ListScopes(ctx context.Context) ([]ScopeDefinition, error)

	// ProxyToken forwards a raw form to the upstream token endpoint and
	// returns the upstream response without interpretation.
	ProxyToken(ctx context.Context, form url.Values) (*UpstreamResponse, error)

	// ProxyIntrospect forwards a raw form to the upstream introspection
	// endpoint and returns the upstream response without interpretation.
	ProxyIntrospect(ctx context.Context, form url.Values) (*UpstreamResponse, error)
}

// ClientRegistration is the subset of the provider's client record used for
// redirect URI validation.
type ClientRegistration struct {
	ClientID     string   `json:"client_id"`
	RedirectURIs []string `json:"redirect_uris"`
}

// Application holds display metadata for the consent screen.
type Application struct {
	Name string
	Logo string
}

// ScopeDefinition describes a scope as registered on the authorization
// server, for display on the consent screen.
type ScopeDefinition struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
}

// UpstreamResponse is a verbatim upstream HTTP response.
type UpstreamResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

func (r *UpstreamResponse) Write(response http.ResponseWriter) {
	if r.ContentType != "" {
		response.Header().Set("Content-Type", r.ContentType)
	}
	response.WriteHeader(r.StatusCode)
	_, _ = response.Write(r.Body)
}
