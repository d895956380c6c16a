package tokenhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zorgbridge/smartproxy/attestation"
	"github.com/zorgbridge/smartproxy/launchctx"
)

const testSecret = "picker-secret-picker-secret-1234"

type failingStore struct{}

func (failingStore) Put(context.Context, launchctx.Entry) error { return errors.New("cache down") }
func (failingStore) Get(context.Context, string) (*launchctx.Entry, error) {
	return nil, errors.New("cache down")
}

func newHookBody(t *testing.T, state, scope, clientID, refreshJTI string) *bytes.Buffer {
	t.Helper()
	var hook hookRequest
	hook.Source = "https://idp.example.com/oauth2/default/v1/token"
	hook.Data.Context.Protocol.Request.State = state
	hook.Data.Context.Protocol.Request.Scope = scope
	hook.Data.Context.Protocol.Request.ClientID = clientID
	hook.Data.Context.Protocol.OriginalGrant.RefreshToken.JTI = refreshJTI
	body, err := json.Marshal(hook)
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func invokeHook(t *testing.T, service *Service, body *bytes.Buffer) (int, hookResponse) {
	t.Helper()
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/tokenhook", body)
	service.handleHook(recorder, request)

	var decoded hookResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &decoded))
	return recorder.Code, decoded
}

func TestHandleHook_InitialGrant(t *testing.T) {
	issuer := attestation.NewIssuer("picker-client", testSecret)
	store := launchctx.NewMemoryStore(time.Hour)
	defer store.Stop()
	service := New(issuer, store)

	signConsent := func(t *testing.T, clientID, patient string, scopes ...string) string {
		t.Helper()
		token, err := issuer.Sign(attestation.Claims{
			ClientID: clientID,
			Patient:  patient,
			Scopes:   attestation.JoinScopes(scopes),
		})
		require.NoError(t, err)
		return token
	}

	t.Run("consent with patient", func(t *testing.T) {
		state := signConsent(t, "app-1", "3758", "openid", "launch/patient")
		status, response := invokeHook(t, service, newHookBody(t, state, "openid launch/patient", "app-1", ""))

		assert.Equal(t, http.StatusOK, status)
		require.Nil(t, response.Error)
		require.Len(t, response.Commands, 1)
		assert.Equal(t, "com.okta.access.patch", response.Commands[0].Type)
		assert.Equal(t, []patchOperation{
			{Op: "add", Path: "/claims/launch_response_patient", Value: "3758"},
			{Op: "add", Path: "/claims/valid_consent", Value: "true"},
		}, response.Commands[0].Value)
	})

	t.Run("consent without patient", func(t *testing.T) {
		state := signConsent(t, "app-1", "", "openid")
		status, response := invokeHook(t, service, newHookBody(t, state, "openid", "app-1", ""))

		assert.Equal(t, http.StatusOK, status)
		require.Len(t, response.Commands, 1)
		assert.Equal(t, []patchOperation{
			{Op: "add", Path: "/claims/valid_consent", Value: "true"},
		}, response.Commands[0].Value)
	})

	t.Run("missing attestation", func(t *testing.T) {
		status, response := invokeHook(t, service, newHookBody(t, "", "openid", "app-1", ""))

		assert.Equal(t, http.StatusOK, status, "rejections still answer 200")
		require.NotNil(t, response.Error)
		assert.Equal(t, "Invalid authorize request- the request is missing a valid picker context.", response.Error.ErrorSummary)
		assert.Empty(t, response.Commands)
	})

	t.Run("attestation signed with another secret", func(t *testing.T) {
		forged, err := attestation.NewIssuer("picker-client", "wrong-secret-wrong-secret-wrong!").
			Sign(attestation.Claims{ClientID: "app-1", Scopes: "openid"})
		require.NoError(t, err)

		status, response := invokeHook(t, service, newHookBody(t, forged, "openid", "app-1", ""))
		assert.Equal(t, http.StatusOK, status)
		require.NotNil(t, response.Error)
	})

	t.Run("scope superset is rejected", func(t *testing.T) {
		state := signConsent(t, "app-1", "", "openid", "profile")
		status, response := invokeHook(t, service, newHookBody(t, state, "openid profile launch", "app-1", ""))

		assert.Equal(t, http.StatusOK, status)
		require.NotNil(t, response.Error)
		assert.Equal(t, "Invalid authorize request- the application and/or scopes sent to the authorization server do not match those the user consented to.", response.Error.ErrorSummary)
		assert.Empty(t, response.Commands, "no valid_consent patch on a mismatch")
	})

	t.Run("scope comparison is order sensitive", func(t *testing.T) {
		// Matching is exact string equality over the recorded scope list, so
		// a reordered but semantically identical scope set does not pass.
		state := signConsent(t, "app-1", "", "openid", "profile")
		status, response := invokeHook(t, service, newHookBody(t, state, "profile openid", "app-1", ""))

		assert.Equal(t, http.StatusOK, status)
		require.NotNil(t, response.Error)
	})

	t.Run("client id mismatch", func(t *testing.T) {
		state := signConsent(t, "app-1", "", "openid")
		status, response := invokeHook(t, service, newHookBody(t, state, "openid", "app-2", ""))

		assert.Equal(t, http.StatusOK, status)
		require.NotNil(t, response.Error)
	})
}

func TestHandleHook_RefreshGrant(t *testing.T) {
	issuer := attestation.NewIssuer("picker-client", testSecret)

	t.Run("cached patient context is reinstated", func(t *testing.T) {
		store := launchctx.NewMemoryStore(time.Hour)
		defer store.Stop()
		require.NoError(t, store.Put(context.Background(), launchctx.Entry{TokenID: "jti-1", PatientID: "123"}))
		service := New(issuer, store)

		status, response := invokeHook(t, service, newHookBody(t, "", "", "", "jti-1"))

		assert.Equal(t, http.StatusOK, status)
		require.Len(t, response.Commands, 1)
		assert.Equal(t, []patchOperation{
			{Op: "add", Path: "/claims/valid_consent", Value: "true"},
			{Op: "add", Path: "/claims/launch_response_patient", Value: "123"},
		}, response.Commands[0].Value)
	})

	t.Run("unknown refresh token still gets valid_consent", func(t *testing.T) {
		store := launchctx.NewMemoryStore(time.Hour)
		defer store.Stop()
		service := New(issuer, store)

		status, response := invokeHook(t, service, newHookBody(t, "", "", "", "jti-unknown"))

		assert.Equal(t, http.StatusOK, status)
		require.Len(t, response.Commands, 1)
		assert.Equal(t, []patchOperation{
			{Op: "add", Path: "/claims/valid_consent", Value: "true"},
		}, response.Commands[0].Value)
	})

	t.Run("cache failure does not block the refresh", func(t *testing.T) {
		service := New(issuer, failingStore{})

		status, response := invokeHook(t, service, newHookBody(t, "", "", "", "jti-1"))

		assert.Equal(t, http.StatusOK, status)
		require.Len(t, response.Commands, 1)
		assert.Equal(t, []patchOperation{
			{Op: "add", Path: "/claims/valid_consent", Value: "true"},
		}, response.Commands[0].Value)
	})
}

func TestHandleHook_UnparsableBody(t *testing.T) {
	issuer := attestation.NewIssuer("picker-client", testSecret)
	store := launchctx.NewMemoryStore(time.Hour)
	defer store.Stop()
	service := New(issuer, store)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/tokenhook", strings.NewReader("not json at all"))
	service.handleHook(recorder, request)

	assert.Equal(t, http.StatusOK, recorder.Code)
	var decoded hookResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &decoded))
	require.NotNil(t, decoded.Error)
	assert.Equal(t, "An unexpected error has occurred in the token hook. See the cloud logs for more detail.", decoded.Error.ErrorSummary)
}
