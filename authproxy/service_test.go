package authproxy

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/zorgbridge/smartproxy/flow"
	"github.com/zorgbridge/smartproxy/idp"
	"github.com/zorgbridge/smartproxy/idp/mock"
	"github.com/zorgbridge/smartproxy/lib/must"
	"github.com/zorgbridge/smartproxy/seal"
)

const testAudience = "https://fhir.example.com"

func testService(t *testing.T) (*Service, *mock.MockGateway, *seal.Codec) {
	t.Helper()
	ctrl := gomock.NewController(t)
	gateway := mock.NewMockGateway(ctrl)
	codec := seal.New([]byte("0123456789abcdef0123456789abcdef"), false)
	service := New(
		Config{Audience: testAudience},
		codec,
		gateway,
		must.ParseURL("https://proxy.example.com"),
		"picker-client",
	)
	return service, gateway, codec
}

func sealedCookie(t *testing.T, codec *seal.Codec, name string, payload any) *http.Cookie {
	t.Helper()
	value, err := codec.Seal(name, payload)
	require.NoError(t, err)
	return &http.Cookie{Name: name, Value: value}
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, cookie := range cookies {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestHandleAuthorize(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		service, gateway, codec := testService(t)
		gateway.EXPECT().GetClient(gomock.Any(), "app-1").Return(&idp.ClientRegistration{
			ClientID:     "app-1",
			RedirectURIs: []string{"https://app.example.com/cb"},
		}, nil)
		gateway.EXPECT().AuthorizeURL(gomock.Any()).DoAndReturn(func(params url.Values) string {
			assert.Equal(t, "picker-client", params.Get("client_id"))
			assert.Equal(t, "openid profile email", params.Get("scope"))
			assert.Equal(t, "https://proxy.example.com/picker_oidc_callback", params.Get("redirect_uri"))
			assert.NotEmpty(t, params.Get("state"))
			return "https://idp.example.com/oauth2/default/v1/authorize?" + params.Encode()
		})

		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/authorize?client_id=app-1&state=app-state&scope=openid+email+launch/patient&redirect_uri=https://app.example.com/cb&aud="+url.QueryEscape(testAudience), nil)
		service.handleAuthorize(recorder, request)

		require.Equal(t, http.StatusFound, recorder.Code)
		assert.Contains(t, recorder.Header().Get("Location"), "/v1/authorize?")

		cookies := recorder.Result().Cookies()
		origCookie := cookieByName(cookies, flow.CookieOriginalRequest)
		stateCookie := cookieByName(cookies, flow.CookiePickerAuthzState)
		require.NotNil(t, origCookie)
		require.NotNil(t, stateCookie)
		assert.True(t, origCookie.HttpOnly)

		var original flow.OriginalRequest
		require.NoError(t, codec.Open(flow.CookieOriginalRequest, origCookie.Value, &original))
		assert.Equal(t, "app-1", original.ClientID)
		assert.Equal(t, "app-state", original.State)
		assert.Equal(t, []string{"openid", "email", "launch/patient"}, original.Scope)
		assert.Equal(t, "https://app.example.com/cb", original.RedirectURI)
	})

	t.Run("pkce parameters are captured", func(t *testing.T) {
		service, gateway, codec := testService(t)
		gateway.EXPECT().GetClient(gomock.Any(), "app-1").Return(&idp.ClientRegistration{
			RedirectURIs: []string{"https://app.example.com/cb"},
		}, nil)
		gateway.EXPECT().AuthorizeURL(gomock.Any()).Return("https://idp.example.com/authorize")

		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/authorize?client_id=app-1&scope=openid&redirect_uri=https://app.example.com/cb&aud="+url.QueryEscape(testAudience)+"&code_challenge=xyz&code_challenge_method=S256", nil)
		service.handleAuthorize(recorder, request)

		require.Equal(t, http.StatusFound, recorder.Code)
		origCookie := cookieByName(recorder.Result().Cookies(), flow.CookieOriginalRequest)
		require.NotNil(t, origCookie)
		var original flow.OriginalRequest
		require.NoError(t, codec.Open(flow.CookieOriginalRequest, origCookie.Value, &original))
		assert.Equal(t, "xyz", original.CodeChallenge)
		assert.Equal(t, "S256", original.CodeChallengeMethod)
	})

	t.Run("missing aud", func(t *testing.T) {
		service, _, _ := testService(t)
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/authorize?client_id=app-1&scope=openid&redirect_uri=https://app.example.com/cb", nil)
		service.handleAuthorize(recorder, request)

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
		assert.Contains(t, recorder.Body.String(), "invalid audience")
		assert.Empty(t, recorder.Result().Cookies(), "no cookies on rejected requests")
	})

	t.Run("wrong aud", func(t *testing.T) {
		service, _, _ := testService(t)
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/authorize?client_id=app-1&scope=openid&redirect_uri=https://app.example.com/cb&aud=https://other.example.com", nil)
		service.handleAuthorize(recorder, request)

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
		assert.Empty(t, recorder.Result().Cookies())
	})

	t.Run("unregistered redirect_uri", func(t *testing.T) {
		service, gateway, _ := testService(t)
		gateway.EXPECT().GetClient(gomock.Any(), "app-1").Return(&idp.ClientRegistration{
			RedirectURIs: []string{"https://app.example.com/cb"},
		}, nil)

		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/authorize?client_id=app-1&scope=openid&redirect_uri=https://evil.example.com/cb&aud="+url.QueryEscape(testAudience), nil)
		service.handleAuthorize(recorder, request)

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
		assert.Contains(t, recorder.Body.String(), "Unable to validate the redirect_uri passed in.")
	})

	t.Run("upstream lookup failure yields the same message", func(t *testing.T) {
		service, gateway, _ := testService(t)
		gateway.EXPECT().GetClient(gomock.Any(), "app-1").Return(nil, &idp.UpstreamError{StatusCode: http.StatusInternalServerError})

		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/authorize?client_id=app-1&scope=openid&redirect_uri=https://app.example.com/cb&aud="+url.QueryEscape(testAudience), nil)
		service.handleAuthorize(recorder, request)

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
		assert.Contains(t, recorder.Body.String(), "Unable to validate the redirect_uri passed in.")
	})

	t.Run("validation disabled accepts any redirect_uri", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		gateway := mock.NewMockGateway(ctrl)
		codec := seal.New([]byte("0123456789abcdef0123456789abcdef"), false)
		service := New(
			Config{Audience: testAudience, DisableRedirectURIValidation: true},
			codec, gateway, must.ParseURL("https://proxy.example.com"), "picker-client",
		)
		gateway.EXPECT().AuthorizeURL(gomock.Any()).Return("https://idp.example.com/authorize")
		// No GetClient expectation: the lookup must not happen.

		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/authorize?client_id=app-1&scope=openid&redirect_uri=https://anything.example.com/cb&aud="+url.QueryEscape(testAudience), nil)
		service.handleAuthorize(recorder, request)

		assert.Equal(t, http.StatusFound, recorder.Code)
	})
}

func TestHandlePickerCallback(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		service, gateway, codec := testService(t)
		gateway.EXPECT().
			ExchangeAuthorizationCode(gomock.Any(), "the-code", "https://proxy.example.com/picker_oidc_callback").
			Return("picker-access-token", nil)

		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/picker_oidc_callback?state=nonce-1&code=the-code", nil)
		request.AddCookie(sealedCookie(t, codec, flow.CookiePickerAuthzState, "nonce-1"))
		service.handlePickerCallback(recorder, request)

		require.Equal(t, http.StatusFound, recorder.Code)
		assert.Equal(t, "https://proxy.example.com/patient_authorization", recorder.Header().Get("Location"))

		cookies := recorder.Result().Cookies()
		tokenCookie := cookieByName(cookies, flow.CookieAPIAccessToken)
		require.NotNil(t, tokenCookie)
		var token string
		require.NoError(t, codec.Open(flow.CookieAPIAccessToken, tokenCookie.Value, &token))
		assert.Equal(t, "picker-access-token", token)

		stateCookie := cookieByName(cookies, flow.CookiePickerAuthzState)
		require.NotNil(t, stateCookie, "nonce cookie must be cleared")
		assert.Equal(t, -1, stateCookie.MaxAge)
	})

	t.Run("state matching is exact", func(t *testing.T) {
		for _, queryState := range []string{"nonce-1%20", "NONCE-1", "other"} {
			service, _, codec := testService(t)
			recorder := httptest.NewRecorder()
			request := httptest.NewRequest(http.MethodGet, "/picker_oidc_callback?state="+queryState+"&code=the-code", nil)
			request.AddCookie(sealedCookie(t, codec, flow.CookiePickerAuthzState, "nonce-1"))
			service.handlePickerCallback(recorder, request)

			assert.Equal(t, http.StatusBadRequest, recorder.Code, "state %q", queryState)
			assert.Contains(t, recorder.Body.String(), "Invalid OAuth2 state detected!")
		}
	})

	t.Run("missing cookie", func(t *testing.T) {
		service, _, _ := testService(t)
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/picker_oidc_callback?state=nonce-1&code=the-code", nil)
		service.handlePickerCallback(recorder, request)

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("missing query state", func(t *testing.T) {
		service, _, codec := testService(t)
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/picker_oidc_callback?code=the-code", nil)
		request.AddCookie(sealedCookie(t, codec, flow.CookiePickerAuthzState, "nonce-1"))
		service.handlePickerCallback(recorder, request)

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("upstream error passes through", func(t *testing.T) {
		service, gateway, codec := testService(t)
		gateway.EXPECT().
			ExchangeAuthorizationCode(gomock.Any(), gomock.Any(), gomock.Any()).
			Return("", &idp.UpstreamError{StatusCode: http.StatusUnauthorized, Body: []byte(`{"error":"invalid_client"}`)})

		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/picker_oidc_callback?state=nonce-1&code=stale-code", nil)
		request.AddCookie(sealedCookie(t, codec, flow.CookiePickerAuthzState, "nonce-1"))
		service.handlePickerCallback(recorder, request)

		assert.Equal(t, http.StatusUnauthorized, recorder.Code)
		assert.JSONEq(t, `{"error":"invalid_client"}`, recorder.Body.String())
	})
}

func TestHandleProxyCallback(t *testing.T) {
	original := flow.OriginalRequest{
		ClientID:    "app-1",
		State:       "app-state",
		Scope:       []string{"openid"},
		RedirectURI: "https://app.example.com/cb",
	}

	t.Run("ok", func(t *testing.T) {
		service, _, codec := testService(t)
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/smart_proxy_callback?state=attestation-jwt&code=real-code", nil)
		request.AddCookie(sealedCookie(t, codec, flow.CookieOriginalRequest, original))
		request.AddCookie(sealedCookie(t, codec, flow.CookieProxyAuthzState, "attestation-jwt"))
		service.handleProxyCallback(recorder, request)

		require.Equal(t, http.StatusFound, recorder.Code)
		location := recorder.Header().Get("Location")
		assert.Equal(t, "https://app.example.com/cb?code=real-code&state=app-state", location)

		// Every proxy cookie is expired on exit.
		for _, name := range []string{flow.CookieOriginalRequest, flow.CookieProxyAuthzState, flow.CookieAPIAccessToken} {
			cookie := cookieByName(recorder.Result().Cookies(), name)
			require.NotNil(t, cookie, name)
			assert.Equal(t, -1, cookie.MaxAge, name)
		}
	})

	t.Run("state mismatch", func(t *testing.T) {
		service, _, codec := testService(t)
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/smart_proxy_callback?state=other-jwt&code=real-code", nil)
		request.AddCookie(sealedCookie(t, codec, flow.CookieOriginalRequest, original))
		request.AddCookie(sealedCookie(t, codec, flow.CookieProxyAuthzState, "attestation-jwt"))
		service.handleProxyCallback(recorder, request)

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
		assert.Contains(t, recorder.Body.String(), "Invalid OAuth2 state detected!")
		for _, name := range []string{flow.CookieOriginalRequest, flow.CookieProxyAuthzState} {
			cookie := cookieByName(recorder.Result().Cookies(), name)
			require.NotNil(t, cookie, name)
			assert.Equal(t, -1, cookie.MaxAge, "cookies are cleared on failure too")
		}
	})

	t.Run("missing state cookie", func(t *testing.T) {
		service, _, codec := testService(t)
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/smart_proxy_callback?state=attestation-jwt&code=real-code", nil)
		request.AddCookie(sealedCookie(t, codec, flow.CookieOriginalRequest, original))
		service.handleProxyCallback(recorder, request)

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("missing original request cookie", func(t *testing.T) {
		service, _, codec := testService(t)
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/smart_proxy_callback?state=attestation-jwt&code=real-code", nil)
		request.AddCookie(sealedCookie(t, codec, flow.CookieProxyAuthzState, "attestation-jwt"))
		service.handleProxyCallback(recorder, request)

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})
}

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, Config{}.Validate(false))
	assert.NoError(t, Config{Audience: testAudience}.Validate(true))
	assert.Error(t, Config{Audience: testAudience, DisableRedirectURIValidation: true}.Validate(true))
	assert.NoError(t, Config{Audience: testAudience, DisableRedirectURIValidation: true}.Validate(false))
}
