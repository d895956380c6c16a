// Package metadata serves the discovery documents SMART clients use to find
// the authorization endpoints: the proxy's JWKS, the SMART configuration
// document and a FHIR CapabilityStatement.
package metadata

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zorgbridge/smartproxy/signing"
)

type Service struct {
	gatewayBaseURL *url.URL
	upstreamIssuer string
	orgURL         string
	key            *signing.Key
}

func New(gatewayBaseURL *url.URL, upstreamIssuer string, orgURL string, key *signing.Key) *Service {
	return &Service{
		gatewayBaseURL: gatewayBaseURL,
		upstreamIssuer: upstreamIssuer,
		orgURL:         orgURL,
		key:            key,
	}
}

func (s *Service) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /keys", s.handleKeys)
	mux.HandleFunc("GET /.well-known/smart-configuration", s.handleSMARTConfiguration)
	mux.HandleFunc("GET /metadata", s.handleCapabilityStatement)
}

// handleKeys publishes the proxy's public signing key. Upstream fetches it
// here to verify the client assertions the token proxy synthesizes for
// public clients.
func (s *Service) handleKeys(response http.ResponseWriter, _ *http.Request) {
	writeJSON(response, s.key.JWKSet())
}

type smartConfiguration struct {
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	Capabilities                      []string `json:"capabilities"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
}

func (s *Service) handleSMARTConfiguration(response http.ResponseWriter, _ *http.Request) {
	writeJSON(response, smartConfiguration{
		AuthorizationEndpoint:             s.gatewayBaseURL.JoinPath("authorize").String(),
		TokenEndpoint:                     s.gatewayBaseURL.JoinPath("token").String(),
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "private_key_jwt"},
		RegistrationEndpoint:              s.orgURL + "/oauth2/v1/clients",
		ScopesSupported:                   []string{"openid", "profile", "launch", "launch/patient", "patient/*.*", "user/*.*", "offline_access"},
		ResponseTypesSupported:            []string{"code", "code id_token", "id_token", "refresh_token"},
		IntrospectionEndpoint:             s.gatewayBaseURL.JoinPath("introspect").String(),
		RevocationEndpoint:                s.upstreamIssuer + "/v1/revoke",
		Capabilities:                      []string{"launch-ehr", "client-public", "client-confidential-symmetric", "context-ehr-patient", "sso-openid-connect"},
		CodeChallengeMethodsSupported:     []string{"S256"},
	})
}

// Minimal FHIR CapabilityStatement carrying the oauth-uris security
// extension; the resource server behind this proxy serves the real clinical
// capabilities.
type capabilityStatement struct {
	ResourceType string             `json:"resourceType"`
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Status       string             `json:"status"`
	Date         string             `json:"date"`
	Kind         string             `json:"kind"`
	Description  string             `json:"description"`
	Software     capabilitySoftware `json:"software"`
	FHIRVersion  string             `json:"fhirVersion"`
	Format       []string           `json:"format"`
	Rest         []capabilityRest   `json:"rest"`
}

type capabilitySoftware struct {
	Name string `json:"name"`
}

type capabilityRest struct {
	Mode     string             `json:"mode"`
	Security capabilitySecurity `json:"security"`
}

type capabilitySecurity struct {
	Extension []oauthURIsExtension `json:"extension"`
	Service   []securityService    `json:"service"`
}

type oauthURIsExtension struct {
	URL       string     `json:"url"`
	Extension []oauthURI `json:"extension"`
}

type oauthURI struct {
	URL      string `json:"url"`
	ValueURI string `json:"valueUri"`
}

type securityService struct {
	Coding []securityCoding `json:"coding"`
	Text   string           `json:"text"`
}

type securityCoding struct {
	System string `json:"system"`
	Code   string `json:"code"`
}

func (s *Service) handleCapabilityStatement(response http.ResponseWriter, _ *http.Request) {
	writeJSON(response, capabilityStatement{
		ResourceType: "CapabilityStatement",
		ID:           "smart-proxy",
		Name:         "SMART App Launch proxy capability statement",
		Status:       "active",
		Date:         time.Now().UTC().Format(time.RFC3339),
		Kind:         "capability",
		Description:  "SMART launch framework authorization proxy in front of an OAuth2/OIDC provider.",
		Software:     capabilitySoftware{Name: "smartproxy"},
		FHIRVersion:  "4.0.1",
		Format:       []string{"xml", "json"},
		Rest: []capabilityRest{{
			Mode: "server",
			Security: capabilitySecurity{
				Extension: []oauthURIsExtension{{
					URL: "http://fhir-registry.smarthealthit.org/StructureDefinition/oauth-uris",
					Extension: []oauthURI{
						{URL: "authorize", ValueURI: s.gatewayBaseURL.JoinPath("authorize").String()},
						{URL: "token", ValueURI: s.gatewayBaseURL.JoinPath("token").String()},
						{URL: "introspect", ValueURI: s.gatewayBaseURL.JoinPath("introspect").String()},
						{URL: "revoke", ValueURI: s.upstreamIssuer + "/v1/revoke"},
						{URL: "register", ValueURI: s.orgURL + "/oauth2/v1/clients"},
					},
				}},
				Service: []securityService{{
					Coding: []securityCoding{{
						System: "http://hl7.org/fhir/restful-security-service",
						Code:   "SMART-on-FHIR",
					}},
					Text: "OAuth2 using SMART-on-FHIR profile (see http://docs.smarthealthit.org)",
				}},
			},
		}},
	})
}

func writeJSON(response http.ResponseWriter, body any) {
	response.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(response).Encode(body); err != nil {
		log.Error().Err(err).Msg("Unable to write the metadata response")
	}
}
