// Package flow holds the envelope types that travel through the
// authorization flow in signed cookies.
package flow

import "slices"

// Cookie slot names. Each slot is written by one handler and consumed (and
// cleared) by its terminal handler.
const (
	CookieOriginalRequest  = "origRequest"
	CookiePickerAuthzState = "pickerAuthzState"
	CookieAPIAccessToken   = "apiAccessToken"
	CookieProxyAuthzState  = "appProxyAuthzState"
)

// OriginalRequest is the inbound SMART authorization request, captured once
// at /authorize and carried opaquely until the original application receives
// its authorization code.
type OriginalRequest struct {
	ClientID            string   `json:"client_id"`
	State               string   `json:"state"`
	Scope               []string `json:"scope"`
	RedirectURI         string   `json:"redirect_uri"`
	CodeChallenge       string   `json:"code_challenge,omitempty"`
	CodeChallengeMethod string   `json:"code_challenge_method,omitempty"`
}

func (r OriginalRequest) HasScope(name string) bool {
	return slices.Contains(r.Scope, name)
}
