// Package tokenproxy fronts the upstream token and introspection endpoints.
// It normalizes client authentication, forces the redirect URI back to the
// proxy's own callback, refuses tokens that never passed the consent hook,
// and surfaces SMART launch context claims alongside the token.
package tokenproxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog/log"

	"github.com/zorgbridge/smartproxy/idp"
	"github.com/zorgbridge/smartproxy/launchctx"
	"github.com/zorgbridge/smartproxy/signing"
)

const (
	assertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

	launchClaimPrefix = "launch_response"

	errInvalidTokenRequest = "An invalid token request was made. This authorization server does not support public client refresh tokens without PKCE."
	errConsentNotValidated = "Unable to validate user consent."
)

type Service struct {
	gateway            idp.Gateway
	store              launchctx.Store
	key                *signing.Key
	gatewayBaseURL     *url.URL
	serviceClientID    string
	tokenAudience      string
	introspectAudience string
}

// New wires the token proxy. upstreamIssuer is the upstream authorization
// server's issuer URL; serviceClientID identifies this proxy itself when it
// has to authenticate an introspection call on behalf of a public client.
func New(gateway idp.Gateway, store launchctx.Store, key *signing.Key, gatewayBaseURL *url.URL, upstreamIssuer string, serviceClientID string) *Service {
	return &Service{
		gateway:            gateway,
		store:              store,
		key:                key,
		gatewayBaseURL:     gatewayBaseURL,
		serviceClientID:    serviceClientID,
		tokenAudience:      upstreamIssuer + "/v1/token",
		introspectAudience: upstreamIssuer + "/v1/introspect",
	}
}

func (s *Service) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /token", s.handleToken)
	mux.HandleFunc("POST /introspect", s.handleIntrospect)
}

// clientAuth is the client authentication found on an inbound request,
// regardless of how it was transported.
type clientAuth struct {
	clientID      string
	clientSecret  string
	assertion     string
	assertionType string
}

func (a clientAuth) confidential() bool {
	return a.clientSecret != "" || a.assertion != ""
}

// normalizeClientAuth collects client credentials from the Basic
// authorization header and the form body. Body values win over the header,
// matching upstream behavior.
func normalizeClientAuth(request *http.Request) clientAuth {
	var auth clientAuth
	if id, secret, ok := request.BasicAuth(); ok {
		auth.clientID = id
		auth.clientSecret = secret
	}
	if id := request.PostFormValue("client_id"); id != "" {
		auth.clientID = id
	}
	if secret := request.PostFormValue("client_secret"); secret != "" {
		auth.clientSecret = secret
	}
	auth.assertion = request.PostFormValue("client_assertion")
	auth.assertionType = request.PostFormValue("client_assertion_type")
	return auth
}

func (s *Service) handleToken(response http.ResponseWriter, request *http.Request) {
	if err := request.ParseForm(); err != nil {
		http.Error(response, errInvalidTokenRequest, http.StatusBadRequest)
		return
	}
	auth := normalizeClientAuth(request)
	grantType := request.PostFormValue("grant_type")

	upstreamForm, err := s.buildTokenRequest(request, auth, grantType)
	if err != nil {
		log.Info().Err(err).Str("grant_type", grantType).Str("client_id", auth.clientID).Msg("Refusing token request")
		http.Error(response, errInvalidTokenRequest, http.StatusBadRequest)
		return
	}

	upstream, err := s.gateway.ProxyToken(request.Context(), upstreamForm)
	if err != nil {
		relayError(response, err, "Token")
		return
	}

	response.Header().Set("Cache-Control", "no-store")
	response.Header().Set("Pragma", "no-cache")
	if upstream.StatusCode != http.StatusOK {
		upstream.Write(response)
		return
	}

	var body map[string]any
	if err := json.Unmarshal(upstream.Body, &body); err != nil {
		log.Error().Err(err).Msg("Upstream token response is not valid JSON")
		http.Error(response, "Unable to process the token response.", http.StatusBadGateway)
		return
	}
	accessToken, _ := body["access_token"].(string)
	claims, err := decodeTokenClaims(accessToken)
	if err != nil {
		log.Error().Err(err).Msg("Unable to decode the upstream access token")
		http.Error(response, "Unable to process the token response.", http.StatusBadGateway)
		return
	}

	// The hook patches valid_consent into every token it approved. A token
	// without it was minted behind the picker's back; upstream said 200 but
	// the proxy refuses to hand it out.
	if _, ok := claims["valid_consent"]; !ok {
		log.Info().Str("client_id", auth.clientID).Msg("Upstream issued a token without validated consent, refusing it")
		http.Error(response, errConsentNotValidated, http.StatusBadRequest)
		return
	}

	promoteLaunchClaims(claims, body)
	s.cacheRefreshContext(request, claims)

	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(response).Encode(body); err != nil {
		log.Error().Err(err).Msg("Unable to write the token response")
	}
}

// buildTokenRequest maps the inbound request onto one of the upstream
// request shapes. Only three combinations are forwarded; everything else is
// rejected locally so upstream never sees a grant the proxy does not vouch
// for.
func (s *Service) buildTokenRequest(request *http.Request, auth clientAuth, grantType string) (url.Values, error) {
	form := url.Values{"grant_type": {grantType}}
	if verifier := request.PostFormValue("code_verifier"); verifier != "" {
		form.Set("code_verifier", verifier)
	}

	switch {
	case grantType == "authorization_code" && !auth.confidential():
		// Public client. Upstream requires client authentication, SMART
		// does not, so the proxy vouches for the client with its own key.
		assertion, err := s.key.ClientAssertion(auth.clientID, s.tokenAudience)
		if err != nil {
			return nil, err
		}
		form.Set("client_id", auth.clientID)
		form.Set("client_assertion_type", assertionTypeJWTBearer)
		form.Set("client_assertion", assertion)
	case grantType == "authorization_code":
		applyClientAuth(form, auth)
	case grantType == "refresh_token" && auth.confidential():
		applyClientAuth(form, auth)
		if scope := request.PostFormValue("scope"); scope != "" {
			form.Set("scope", scope)
		}
		form.Set("refresh_token", request.PostFormValue("refresh_token"))
	default:
		return nil, errors.New("unsupported grant or missing client authentication")
	}

	if grantType == "authorization_code" {
		form.Set("code", request.PostFormValue("code"))
		// The code was minted against the proxy's callback, never against
		// the application's own redirect URI.
		form.Set("redirect_uri", s.gatewayBaseURL.JoinPath("smart_proxy_callback").String())
	}
	return form, nil
}

func applyClientAuth(form url.Values, auth clientAuth) {
	if auth.assertion != "" {
		form.Set("client_assertion_type", assertionTypeJWTBearer)
		form.Set("client_assertion", auth.assertion)
		return
	}
	form.Set("client_id", auth.clientID)
	form.Set("client_secret", auth.clientSecret)
}

func (s *Service) handleIntrospect(response http.ResponseWriter, request *http.Request) {
	if err := request.ParseForm(); err != nil {
		http.Error(response, "Unable to parse the introspection request.", http.StatusBadRequest)
		return
	}
	auth := normalizeClientAuth(request)

	form := url.Values{}
	for name, values := range request.PostForm {
		form[name] = values
	}
	switch {
	case auth.clientID != "" && auth.clientSecret != "":
		form.Set("client_id", auth.clientID)
		form.Set("client_secret", auth.clientSecret)
	case auth.assertion != "" && auth.assertionType != "":
		// Keep the caller's private key assertion as-is.
	default:
		// No client authentication at all: legitimate under SMART, but the
		// upstream introspection endpoint requires it. Authenticate as the
		// proxy itself.
		assertion, err := s.key.ClientAssertion(s.serviceClientID, s.introspectAudience)
		if err != nil {
			log.Error().Err(err).Msg("Unable to sign the introspection client assertion")
			http.Error(response, "Unable to process the introspection request.", http.StatusInternalServerError)
			return
		}
		form.Set("client_id", s.serviceClientID)
		form.Set("client_assertion_type", assertionTypeJWTBearer)
		form.Set("client_assertion", assertion)
	}

	upstream, err := s.gateway.ProxyIntrospect(request.Context(), form)
	if err != nil {
		relayError(response, err, "Introspection")
		return
	}
	if upstream.StatusCode != http.StatusOK {
		upstream.Write(response)
		return
	}

	var body map[string]any
	if err := json.Unmarshal(upstream.Body, &body); err != nil {
		log.Error().Err(err).Msg("Upstream introspection response is not valid JSON")
		http.Error(response, "Unable to process the introspection response.", http.StatusBadGateway)
		return
	}
	if claims, err := decodeTokenClaims(request.PostFormValue("token")); err == nil {
		promoteLaunchClaims(claims, body)
	}

	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(response).Encode(body); err != nil {
		log.Error().Err(err).Msg("Unable to write the introspection response")
	}
}

// cacheRefreshContext records the selected patient under the refresh token's
// JTI so the token hook can reinstate it when the token is refreshed. The
// write is awaited but best-effort: a cache failure costs the patient
// context on refresh, not the token.
func (s *Service) cacheRefreshContext(request *http.Request, claims map[string]any) {
	patientID, _ := claims["launch_response_patient"].(string)
	if patientID == "" || !scopeGranted(claims, "offline_access") {
		return
	}
	compositeJTI, _ := claims["jti"].(string)
	segments := strings.Split(compositeJTI, ".")
	if len(segments) < 3 {
		log.Error().Str("jti", compositeJTI).Msg("Access token JTI does not carry a refresh token id")
		return
	}
	entry := launchctx.Entry{TokenID: segments[2], PatientID: patientID}
	if err := s.store.Put(request.Context(), entry); err != nil {
		log.Error().Err(err).Str("token_id", entry.TokenID).Msg("Unable to cache the refresh launch context")
		return
	}
	log.Info().Str("token_id", entry.TokenID).Msg("Cached the patient launch context for token refresh")
}

// decodeTokenClaims reads the claims of an upstream-issued token without
// verifying its signature. The proxy only surfaces claims; trust in the
// token itself stays with the resource server.
func decodeTokenClaims(token string) (map[string]any, error) {
	parsed, err := jwt.ParseInsecure([]byte(token))
	if err != nil {
		return nil, err
	}
	claims, err := parsed.AsMap(context.Background())
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// promoteLaunchClaims copies launch_response_* claims into the response body
// with the prefix stripped. The token itself is left untouched.
func promoteLaunchClaims(claims map[string]any, body map[string]any) {
	for name, value := range claims {
		if strings.HasPrefix(name, launchClaimPrefix) {
			body[strings.TrimPrefix(name, launchClaimPrefix+"_")] = value
		}
	}
}

func scopeGranted(claims map[string]any, scope string) bool {
	granted, _ := claims["scp"].([]any)
	for _, name := range granted {
		if name == scope {
			return true
		}
	}
	return false
}

func relayError(response http.ResponseWriter, err error, operation string) {
	var upstreamErr *idp.UpstreamError
	if errors.As(err, &upstreamErr) {
		response.WriteHeader(upstreamErr.StatusCode)
		_, _ = response.Write(upstreamErr.Body)
		return
	}
	log.Error().Err(err).Msgf("%s call to the upstream provider failed", operation)
	http.Error(response, "Unable to reach the authorization server.", http.StatusBadGateway)
}
