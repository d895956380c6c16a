package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// UpstreamError is an error response from the provider on a call the proxy
// makes on its own behalf (as opposed to pure pass-through calls).
type UpstreamError struct {
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream identity provider returned status %d", e.StatusCode)
}

// Config holds the connection details for the upstream identity provider.
type Config struct {
	// Issuer is the base URL of the authorization server,
	// e.g. https://idp.example.com/oauth2/default. The OAuth2 endpoints live
	// under <issuer>/v1/.
	Issuer string `koanf:"issuer"`
	// OrgURL is the base URL of the provider's management API.
	OrgURL string `koanf:"orgurl"`
	// AuthServerID identifies the authorization server in the management API,
	// used to look up scope definitions.
	AuthServerID string `koanf:"authserverid"`
	// APIKey authenticates management API calls.
	APIKey string `koanf:"apikey"`
	// PickerClientID and PickerClientSecret identify the confidential client
	// used to log the end user into the consent picker.
	PickerClientID     string `koanf:"pickerclientid"`
	PickerClientSecret string `koanf:"pickerclientsecret"`
	// ServiceClientID identifies the proxy itself when it authenticates an
	// introspection call with its own private key.
	ServiceClientID string `koanf:"serviceclientid"`
}

func (c Config) Validate() error {
	if !strings.HasPrefix(c.Issuer, "https://") && !strings.HasPrefix(c.Issuer, "http://") {
		return errors.New("upstream.issuer must be a http(s) URL")
	}
	if c.OrgURL == "" {
		return errors.New("upstream.orgurl is required")
	}
	if c.AuthServerID == "" {
		return errors.New("upstream.authserverid is required")
	}
	if c.PickerClientID == "" || c.PickerClientSecret == "" {
		return errors.New("upstream.pickerclientid and upstream.pickerclientsecret are required")
	}
	return nil
}

// RESTGateway implements Gateway against the provider's REST APIs.
type RESTGateway struct {
	config     Config
	httpClient *http.Client
}

func NewRESTGateway(config Config) *RESTGateway {
	return &RESTGateway{
		config:     config,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient replaces the HTTP client, for tests.
func (g *RESTGateway) WithHTTPClient(client *http.Client) *RESTGateway {
	g.httpClient = client
	return g
}

func (g *RESTGateway) AuthorizeURL(params url.Values) string {
	return g.config.Issuer + "/v1/authorize?" + params.Encode()
}

func (g *RESTGateway) ExchangeAuthorizationCode(ctx context.Context, code string, redirectURI string) (string, error) {
	oauthConfig := oauth2.Config{
		ClientID:     g.config.PickerClientID,
		ClientSecret: g.config.PickerClientSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL:  g.config.Issuer + "/v1/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	token, err := oauthConfig.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return "", &UpstreamError{StatusCode: retrieveErr.Response.StatusCode, Body: retrieveErr.Body}
		}
		return "", fmt.Errorf("exchange authorization code: %w", err)
	}
	return token.AccessToken, nil
}

func (g *RESTGateway) Introspect(ctx context.Context, token string) (bool, error) {
	form := url.Values{
		"client_id":       {g.config.PickerClientID},
		"client_secret":   {g.config.PickerClientSecret},
		"token_type_hint": {"access_token"},
		"token":           {token},
	}
	response, err := g.postForm(ctx, g.config.Issuer+"/v1/introspect", form)
	if err != nil {
		return false, err
	}
	if response.StatusCode != http.StatusOK {
		return false, &UpstreamError{StatusCode: response.StatusCode, Body: response.Body}
	}
	var result struct {
		Active bool `json:"active"`
	}
	if err := json.Unmarshal(response.Body, &result); err != nil {
		return false, fmt.Errorf("parse introspection response: %w", err)
	}
	return result.Active, nil
}

func (g *RESTGateway) GetClient(ctx context.Context, clientID string) (*ClientRegistration, error) {
	var result ClientRegistration
	if err := g.getJSON(ctx, g.config.OrgURL+"/oauth2/v1/clients/"+url.PathEscape(clientID), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (g *RESTGateway) GetApplication(ctx context.Context, clientID string) (*Application, error) {
	var record struct {
		Label string `json:"label"`
		Links struct {
			Logo []struct {
				Href string `json:"href"`
			} `json:"logo"`
		} `json:"_links"`
	}
	if err := g.getJSON(ctx, g.config.OrgURL+"/api/v1/apps/"+url.PathEscape(clientID), &record); err != nil {
		return nil, err
	}
	result := &Application{Name: record.Label}
	if len(record.Links.Logo) > 0 {
		result.Logo = record.Links.Logo[0].Href
	}
	return result, nil
}

func (g *RESTGateway) ListScopes(ctx context.Context) ([]ScopeDefinition, error) {
	var result []ScopeDefinition
	endpoint := g.config.OrgURL + "/api/v1/authorizationServers/" + url.PathEscape(g.config.AuthServerID) + "/scopes"
	if err := g.getJSON(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (g *RESTGateway) ProxyToken(ctx context.Context, form url.Values) (*UpstreamResponse, error) {
	return g.postForm(ctx, g.config.Issuer+"/v1/token", form)
}

func (g *RESTGateway) ProxyIntrospect(ctx context.Context, form url.Values) (*UpstreamResponse, error) {
	return g.postForm(ctx, g.config.Issuer+"/v1/introspect", form)
}

func (g *RESTGateway) postForm(ctx context.Context, endpoint string, form url.Values) (*UpstreamResponse, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	response, err := g.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("call upstream %s: %w", endpoint, err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	return &UpstreamResponse{
		StatusCode:  response.StatusCode,
		ContentType: response.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func (g *RESTGateway) getJSON(ctx context.Context, endpoint string, target any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Authorization", "SSWS "+g.config.APIKey)
	response, err := g.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("call upstream %s: %w", endpoint, err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("read upstream response: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		log.Warn().Int("status", response.StatusCode).Str("endpoint", endpoint).Msg("Management API call failed")
		return &UpstreamError{StatusCode: response.StatusCode, Body: body}
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("parse upstream response: %w", err)
	}
	return nil
}
