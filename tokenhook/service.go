// Package tokenhook implements the inline hook the upstream provider calls
// while minting a token. The hook is the enforcement point for the consent
// attestation: a token request that did not come through the picker carries
// no valid attestation and is rejected here.
//
// The provider's hook contract inverts normal HTTP semantics: a non-200
// response makes the provider ignore the hook and issue the token anyway.
// Every path through this package therefore answers 200, carrying either
// patch commands or a structured error body.
package tokenhook

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/zorgbridge/smartproxy/attestation"
	"github.com/zorgbridge/smartproxy/launchctx"
)

const patchCommandType = "com.okta.access.patch"

const (
	errMissingContext  = "Invalid authorize request- the request is missing a valid picker context."
	errConsentMismatch = "Invalid authorize request- the application and/or scopes sent to the authorization server do not match those the user consented to."
	errUnexpected      = "An unexpected error has occurred in the token hook. See the cloud logs for more detail."
)

type hookRequest struct {
	Source string `json:"source"`
	Data   struct {
		Context struct {
			Request struct {
				URL struct {
					Value string `json:"value"`
				} `json:"url"`
			} `json:"request"`
			Protocol struct {
				Request struct {
					State    string `json:"state"`
					Scope    string `json:"scope"`
					ClientID string `json:"client_id"`
				} `json:"request"`
				OriginalGrant struct {
					RefreshToken struct {
						JTI string `json:"jti"`
					} `json:"refresh_token"`
				} `json:"originalGrant"`
			} `json:"protocol"`
		} `json:"context"`
	} `json:"data"`
}

type patchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value string `json:"value"`
}

type command struct {
	Type  string           `json:"type"`
	Value []patchOperation `json:"value"`
}

type hookError struct {
	ErrorSummary string `json:"errorSummary"`
}

type hookResponse struct {
	Commands []command  `json:"commands,omitempty"`
	Error    *hookError `json:"error,omitempty"`
}

type Service struct {
	verifier *attestation.Issuer
	store    launchctx.Store
}

func New(verifier *attestation.Issuer, store launchctx.Store) *Service {
	return &Service{verifier: verifier, store: store}
}

func (s *Service) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /tokenhook", s.handleHook)
}

func (s *Service) handleHook(response http.ResponseWriter, request *http.Request) {
	// Catch-all: a panic must still come out as a 200 with an error body,
	// otherwise the provider treats the hook as absent and allows the token.
	defer func() {
		if cause := recover(); cause != nil {
			log.Error().Any("panic", cause).Msg("Token hook panicked")
			writeHookResponse(response, hookResponse{Error: &hookError{ErrorSummary: errUnexpected}})
		}
	}()

	var hook hookRequest
	if err := json.NewDecoder(request.Body).Decode(&hook); err != nil {
		log.Info().Err(err).Msg("Token hook received an unparsable body")
		writeHookResponse(response, hookResponse{Error: &hookError{ErrorSummary: errUnexpected}})
		return
	}

	if refreshJTI := hook.Data.Context.Protocol.OriginalGrant.RefreshToken.JTI; refreshJTI != "" {
		s.handleRefreshGrant(response, request, refreshJTI)
		return
	}
	s.handleInitialGrant(response, hook)
}

// handleInitialGrant validates the consent attestation round-tripped through
// the state parameter and releases the token with consent claims patched in.
func (s *Service) handleInitialGrant(response http.ResponseWriter, hook hookRequest) {
	protocol := hook.Data.Context.Protocol.Request

	claims, err := s.verifier.Verify(protocol.State)
	if err != nil {
		log.Info().Err(err).Msg("Token hook rejected a request without a valid consent attestation")
		writeHookResponse(response, hookResponse{Error: &hookError{ErrorSummary: errMissingContext}})
		return
	}

	// Deliberate exact string comparison, as the attestation recorded the
	// scope list: a reordered but semantically equal scope set is rejected.
	if claims.ConsentedScopes() != protocol.Scope || claims.ClientID != protocol.ClientID {
		log.Info().
			Str("consented_client", claims.ClientID).
			Str("requested_client", protocol.ClientID).
			Str("consented_scopes", claims.ConsentedScopes()).
			Str("requested_scopes", protocol.Scope).
			Msg("Token hook rejected a request that does not match the recorded consent")
		writeHookResponse(response, hookResponse{Error: &hookError{ErrorSummary: errConsentMismatch}})
		return
	}

	var operations []patchOperation
	if claims.Patient != "" {
		operations = append(operations, patchOperation{
			Op:    "add",
			Path:  "/claims/launch_response_patient",
			Value: claims.Patient,
		})
	}
	operations = append(operations, patchOperation{
		Op:    "add",
		Path:  "/claims/valid_consent",
		Value: "true",
	})
	log.Info().Str("client_id", claims.ClientID).Msg("Token hook validated the consent attestation")
	writeHookResponse(response, hookResponse{Commands: []command{{Type: patchCommandType, Value: operations}}})
}

// handleRefreshGrant reinstates the patient context for a refresh call. The
// bare refresh request carries no attestation, so the patient id saved at
// initial issuance is looked up by the refresh token's JTI.
func (s *Service) handleRefreshGrant(response http.ResponseWriter, request *http.Request, refreshJTI string) {
	operations := []patchOperation{{
		Op:    "add",
		Path:  "/claims/valid_consent",
		Value: "true",
	}}

	entry, err := s.store.Get(request.Context(), refreshJTI)
	if err != nil {
		log.Error().Err(err).Str("token_id", refreshJTI).Msg("Launch context lookup failed, refreshing without patient context")
	} else if entry != nil {
		operations = append(operations, patchOperation{
			Op:    "add",
			Path:  "/claims/launch_response_patient",
			Value: entry.PatientID,
		})
		log.Info().Str("token_id", refreshJTI).Msg("Reinstated the patient launch context on token refresh")
	}
	writeHookResponse(response, hookResponse{Commands: []command{{Type: patchCommandType, Value: operations}}})
}

func writeHookResponse(response http.ResponseWriter, body hookResponse) {
	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(response).Encode(body); err != nil {
		log.Error().Err(err).Msg("Unable to write the token hook response")
	}
}
