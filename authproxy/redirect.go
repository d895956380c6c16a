package authproxy

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/rs/zerolog/log"
)

// validateRedirectURI confirms the redirect_uri is registered upstream for
// the client. The proxy sends the provider its own callback instead of the
// application's redirect_uri, so the provider never gets to validate it;
// this check is the only defense against authorization code leakage to an
// attacker-chosen URI.
//
// All failures collapse into one error: the caller must not reveal whether
// the client was unknown, the URI unregistered, or the provider unreachable.
func (s *Service) validateRedirectURI(request *http.Request, clientID string, redirectURI string) error {
	if s.config.DisableRedirectURIValidation {
		log.Warn().Msg("DEMO ONLY: skipping redirect URI validation")
		return nil
	}
	registration, err := s.gateway.GetClient(request.Context(), clientID)
	if err != nil {
		return fmt.Errorf("retrieve client registration: %w", err)
	}
	// Exact membership; no prefix or wildcard matching.
	if !slices.Contains(registration.RedirectURIs, redirectURI) {
		return fmt.Errorf("redirect_uri is not registered for client %s", clientID)
	}
	return nil
}
