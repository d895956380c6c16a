// Package authproxy implements the outer half of the authorization flow:
// intercepting the inbound SMART authorization request, logging the end user
// into the picker application, and relaying the final authorization code
// back to the original application.
package authproxy

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zorgbridge/smartproxy/flow"
	"github.com/zorgbridge/smartproxy/idp"
	"github.com/zorgbridge/smartproxy/seal"
)

const pickerLoginScope = "openid profile email"

// Config holds the authproxy-specific settings.
type Config struct {
	// Audience is the expected value of the SMART "aud" parameter: the FHIR
	// server this authorization server protects.
	Audience string `koanf:"audience"`
	// DisableRedirectURIValidation skips the upstream redirect URI check.
	// FOR DEMO PURPOSES ONLY; refused in strict mode.
	DisableRedirectURIValidation bool `koanf:"disableredirecturivalidation"`
}

func (c Config) Validate(strictMode bool) error {
	if c.Audience == "" {
		return errors.New("audience is required")
	}
	if c.DisableRedirectURIValidation && strictMode {
		return errors.New("redirect URI validation cannot be disabled in strict mode")
	}
	return nil
}

type Service struct {
	config         Config
	codec          *seal.Codec
	gateway        idp.Gateway
	gatewayBaseURL *url.URL
	pickerClientID string
}

func New(config Config, codec *seal.Codec, gateway idp.Gateway, gatewayBaseURL *url.URL, pickerClientID string) *Service {
	if config.DisableRedirectURIValidation {
		log.Warn().Msg("DEMO ONLY: redirect URI validation is DISABLED. Any redirect_uri will be accepted. Never run production traffic like this.")
	}
	return &Service{
		config:         config,
		codec:          codec,
		gateway:        gateway,
		gatewayBaseURL: gatewayBaseURL,
		pickerClientID: pickerClientID,
	}
}

func (s *Service) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /authorize", s.handleAuthorize)
	mux.HandleFunc("GET /picker_oidc_callback", s.handlePickerCallback)
	mux.HandleFunc("GET /smart_proxy_callback", s.handleProxyCallback)
}

// handleAuthorize is step 1: capture the original request in a signed cookie
// and send the user to the upstream provider to log into the picker instead.
// Validation order matters: the audience check and redirect URI check are
// both cheaper rejects than anything that follows, so they run before any
// cookie is written.
func (s *Service) handleAuthorize(response http.ResponseWriter, request *http.Request) {
	query := request.URL.Query()

	aud := query.Get("aud")
	if aud != s.config.Audience {
		log.Info().
			Str("required_aud", s.config.Audience).
			Str("actual_aud", aud).
			Msg("An invalid audience was specified on the authorize request")
		http.Error(response, "An invalid audience was specified on the authorize request.", http.StatusBadRequest)
		return
	}

	original := flow.OriginalRequest{
		ClientID:            query.Get("client_id"),
		State:               query.Get("state"),
		Scope:               strings.Fields(query.Get("scope")),
		RedirectURI:         query.Get("redirect_uri"),
		CodeChallenge:       query.Get("code_challenge"),
		CodeChallengeMethod: query.Get("code_challenge_method"),
	}

	if err := s.validateRedirectURI(request, original.ClientID, original.RedirectURI); err != nil {
		log.Info().Err(err).Str("client_id", original.ClientID).Msg("Rejecting authorize request")
		http.Error(response, "Unable to validate the redirect_uri passed in.", http.StatusBadRequest)
		return
	}

	log.Info().
		Str("client_id", original.ClientID).
		Strs("scope", original.Scope).
		Msg("Caching inbound authorize request and starting picker login")

	pickerState := uuid.NewString()
	if err := s.codec.SetCookie(response, flow.CookieOriginalRequest, original); err != nil {
		http.Error(response, "Unable to process the authorize request.", http.StatusInternalServerError)
		return
	}
	if err := s.codec.SetCookie(response, flow.CookiePickerAuthzState, pickerState); err != nil {
		http.Error(response, "Unable to process the authorize request.", http.StatusInternalServerError)
		return
	}

	pickerAuthURL := s.gateway.AuthorizeURL(url.Values{
		"client_id":     {s.pickerClientID},
		"response_type": {"code"},
		"scope":         {pickerLoginScope},
		"redirect_uri":  {s.gatewayBaseURL.JoinPath("picker_oidc_callback").String()},
		"state":         {pickerState},
	})
	http.Redirect(response, request, pickerAuthURL, http.StatusFound)
}

// handlePickerCallback is step 2: the provider's OIDC callback for the picker
// login. The CSRF nonce must match before any code is exchanged.
func (s *Service) handlePickerCallback(response http.ResponseWriter, request *http.Request) {
	var cookieState string
	if err := s.codec.ReadCookie(request, flow.CookiePickerAuthzState, &cookieState); err != nil {
		cookieState = ""
	}
	queryState := request.URL.Query().Get("state")
	if cookieState == "" || queryState == "" || cookieState != queryState {
		log.Info().Msg("Picker callback state does not match the pickerAuthzState cookie")
		http.Error(response, "Invalid OAuth2 state detected!", http.StatusBadRequest)
		return
	}

	code := request.URL.Query().Get("code")
	accessToken, err := s.gateway.ExchangeAuthorizationCode(request.Context(), code, s.gatewayBaseURL.JoinPath("picker_oidc_callback").String())
	if err != nil {
		var upstreamErr *idp.UpstreamError
		if errors.As(err, &upstreamErr) {
			// Error minted by the provider: pass it through.
			response.WriteHeader(upstreamErr.StatusCode)
			_, _ = response.Write(upstreamErr.Body)
			return
		}
		log.Error().Err(err).Msg("Picker token exchange failed")
		http.Error(response, "Unable to reach the authorization server.", http.StatusBadGateway)
		return
	}

	if err := s.codec.SetCookie(response, flow.CookieAPIAccessToken, accessToken); err != nil {
		http.Error(response, "Unable to process the login response.", http.StatusInternalServerError)
		return
	}
	s.codec.ClearCookie(response, flow.CookiePickerAuthzState)
	log.Info().Msg("Picker login complete, sending the user to the consent picker")
	http.Redirect(response, request, s.gatewayBaseURL.JoinPath("patient_authorization").String(), http.StatusFound)
}

// handleProxyCallback is the final step: the provider has minted the real
// authorization code against our proxy redirect URI. Verify that the state
// round-tripped matches the attestation we sent, then hand the code to the
// original application with its own state value restored.
func (s *Service) handleProxyCallback(response http.ResponseWriter, request *http.Request) {
	// Terminal handler for the whole flow: every proxy cookie is cleared on
	// success and failure alike, so no state leaks into the next request.
	defer func() {
		s.codec.ClearCookie(response, flow.CookieOriginalRequest)
		s.codec.ClearCookie(response, flow.CookieProxyAuthzState)
		s.codec.ClearCookie(response, flow.CookieAPIAccessToken)
	}()

	var original flow.OriginalRequest
	if err := s.codec.ReadCookie(request, flow.CookieOriginalRequest, &original); err != nil {
		http.Error(response, "Invalid OAuth2 state detected!", http.StatusBadRequest)
		return
	}
	var sentState string
	if err := s.codec.ReadCookie(request, flow.CookieProxyAuthzState, &sentState); err != nil {
		sentState = ""
	}
	receivedState := request.URL.Query().Get("state")
	if sentState == "" || receivedState == "" || sentState != receivedState {
		log.Info().Msg("Final callback state does not match the appProxyAuthzState cookie")
		http.Error(response, "Invalid OAuth2 state detected!", http.StatusBadRequest)
		return
	}

	// Restore the original application's state value; the attestation that
	// Okta round-tripped is internal to the proxy.
	redirectURL := original.RedirectURI +
		"?code=" + url.QueryEscape(request.URL.Query().Get("code")) +
		"&state=" + url.QueryEscape(original.State)
	log.Info().Str("client_id", original.ClientID).Msg("Relaying authorization code to the original application")
	http.Redirect(response, request, redirectURL, http.StatusFound)
}
