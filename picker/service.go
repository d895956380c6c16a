// Package picker serves the patient/scope consent screen shown between the
// picker login and the final upstream authorization. The user's selections
// leave this package as a signed consent attestation that the token hook
// verifies later.
package picker

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/zorgbridge/smartproxy/attestation"
	"github.com/zorgbridge/smartproxy/flow"
	"github.com/zorgbridge/smartproxy/idp"
	"github.com/zorgbridge/smartproxy/patients"
	"github.com/zorgbridge/smartproxy/seal"
)

type Service struct {
	codec          *seal.Codec
	gateway        idp.Gateway
	directory      patients.Directory
	issuer         *attestation.Issuer
	gatewayBaseURL *url.URL
	renderer       Renderer
}

func New(codec *seal.Codec, gateway idp.Gateway, directory patients.Directory, issuer *attestation.Issuer, gatewayBaseURL *url.URL, renderer Renderer) *Service {
	if renderer == nil {
		renderer = DefaultRenderer()
	}
	return &Service{
		codec:          codec,
		gateway:        gateway,
		directory:      directory,
		issuer:         issuer,
		gatewayBaseURL: gatewayBaseURL,
		renderer:       renderer,
	}
}

func (s *Service) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /patient_authorization", s.handleShowPicker)
	mux.HandleFunc("POST /patient_authorization", s.handleConsent)
}

// authenticate proves the user completed the picker login: both signed
// cookies must unseal and the cached access token must still be active
// upstream. POST runs through this again, so submitting the consent form
// directly without a login gets the same 403 as viewing it.
func (s *Service) authenticate(response http.ResponseWriter, request *http.Request) (flow.OriginalRequest, bool) {
	var original flow.OriginalRequest
	var accessToken string
	if err := s.codec.ReadCookie(request, flow.CookieAPIAccessToken, &accessToken); err != nil {
		log.Info().Err(err).Msg("Consent picker request without a valid apiAccessToken cookie")
		http.Error(response, "A valid access token was not provided.", http.StatusForbidden)
		return original, false
	}
	if err := s.codec.ReadCookie(request, flow.CookieOriginalRequest, &original); err != nil {
		log.Info().Err(err).Msg("Consent picker request without a valid origRequest cookie")
		http.Error(response, "A valid access token was not provided.", http.StatusForbidden)
		return original, false
	}
	active, err := s.gateway.Introspect(request.Context(), accessToken)
	if err != nil || !active {
		log.Info().Err(err).Bool("active", active).Msg("Picker access token failed introspection")
		http.Error(response, "A valid access token was not provided.", http.StatusForbidden)
		return original, false
	}
	return original, true
}

func (s *Service) handleShowPicker(response http.ResponseWriter, request *http.Request) {
	original, ok := s.authenticate(response, request)
	if !ok {
		return
	}

	app, err := s.gateway.GetApplication(request.Context(), original.ClientID)
	if err != nil {
		log.Error().Err(err).Str("client_id", original.ClientID).Msg("Unable to retrieve application data")
		http.Error(response, "Unable to retrieve requested scope definitions and client info from the authorization server.", http.StatusInternalServerError)
		return
	}
	allScopes, err := s.gateway.ListScopes(request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Unable to retrieve scope definitions")
		http.Error(response, "Unable to retrieve requested scope definitions and client info from the authorization server.", http.StatusInternalServerError)
		return
	}

	data := ViewData{
		AppName:    app.Name,
		AppIcon:    app.Logo,
		Scopes:     requestedScopes(allScopes, original),
		GatewayURL: s.gatewayBaseURL.String(),
	}

	// skip_patient_selection lets a subject-less launch (e.g. backend
	// integration tests) opt out of the patient list.
	if original.HasScope("launch/patient") && !original.HasScope("skip_patient_selection") {
		data.Patients, err = s.directory.List(request.Context())
		if err != nil {
			log.Error().Err(err).Msg("Unable to retrieve the patient list")
			http.Error(response, "Unable to retrieve the patient list from the patient access service.", http.StatusInternalServerError)
			return
		}
		data.ShowPatientPicker = true
	}

	if err := s.renderer.RenderConsentPage(response, data); err != nil {
		log.Error().Err(err).Msg("Unable to render the consent page")
	}
}

func (s *Service) handleConsent(response http.ResponseWriter, request *http.Request) {
	original, ok := s.authenticate(response, request)
	if !ok {
		return
	}
	if err := request.ParseForm(); err != nil {
		http.Error(response, "Unable to parse the consent form.", http.StatusBadRequest)
		return
	}

	consentedScopes := request.PostForm["scopes"]
	patientID := request.PostFormValue("patient")
	log.Info().
		Str("client_id", original.ClientID).
		Strs("scopes", consentedScopes).
		Str("patient", patientID).
		Msg("User completed the consent picker, building the upstream authorize request")

	// The attestation rides the upstream state parameter; the token hook
	// verifies it before any access token is released. A user who skips the
	// picker has no way to produce one.
	token, err := s.issuer.Sign(attestation.Claims{
		ClientID: original.ClientID,
		Patient:  patientID,
		Scopes:   attestation.JoinScopes(consentedScopes),
	})
	if err != nil {
		log.Error().Err(err).Msg("Unable to sign the consent attestation")
		http.Error(response, "Unable to process the consent response.", http.StatusInternalServerError)
		return
	}
	if err := s.codec.SetCookie(response, flow.CookieProxyAuthzState, token); err != nil {
		http.Error(response, "Unable to process the consent response.", http.StatusInternalServerError)
		return
	}
	s.codec.ClearCookie(response, flow.CookieAPIAccessToken)

	params := url.Values{
		"client_id":     {original.ClientID},
		"response_type": {"code"},
		"redirect_uri":  {s.gatewayBaseURL.JoinPath("smart_proxy_callback").String()},
		"state":         {token},
		"scope":         {strings.Join(consentedScopes, " ")},
	}
	if original.CodeChallenge != "" {
		params.Set("code_challenge", original.CodeChallenge)
		params.Set("code_challenge_method", original.CodeChallengeMethod)
	}
	http.Redirect(response, request, s.gateway.AuthorizeURL(params), http.StatusFound)
}

func requestedScopes(all []idp.ScopeDefinition, original flow.OriginalRequest) []idp.ScopeDefinition {
	var result []idp.ScopeDefinition
	for _, definition := range all {
		if original.HasScope(definition.Name) {
			result = append(result, definition)
		}
	}
	return result
}
