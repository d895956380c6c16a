// Package attestation issues and verifies the consent attestation: the
// signed, time-boxed JWT asserting that the end user consented to a specific
// client/scope/patient combination. The attestation travels to the upstream
// provider as the OAuth2 state parameter of the final authorization request
// and is verified again inside the provider-invoked token hook, so both
// halves of the flow share the picker client secret as signing key.
package attestation

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// Lifetime bounds how long a consent decision may sit between the picker
// submission and token issuance.
const Lifetime = 5 * time.Minute

// ErrInvalid is returned for any attestation that does not verify: bad
// signature, malformed token, or expired.
var ErrInvalid = errors.New("invalid consent attestation")

// Claims is the consented context recorded at picker submission time.
// Scopes is the url-encoded, space-joined list of consented scope names;
// it is compared by exact string equality in the token hook, so the joined
// form is part of the contract, not an encoding detail.
type Claims struct {
	ClientID string `json:"client_id"`
	Patient  string `json:"patient,omitempty"`
	Scopes   string `json:"scopes"`
}

// ConsentedScopes returns the decoded, space-separated scope list.
func (c Claims) ConsentedScopes() string {
	decoded, err := url.PathUnescape(c.Scopes)
	if err != nil {
		return c.Scopes
	}
	return decoded
}

// JoinScopes encodes a scope list the way the picker records it.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, "%20")
}

// Issuer signs and verifies attestations on behalf of the picker client.
type Issuer struct {
	clientID string
	secret   []byte
}

func NewIssuer(pickerClientID string, pickerClientSecret string) *Issuer {
	return &Issuer{
		clientID: pickerClientID,
		secret:   []byte(pickerClientSecret),
	}
}

// Sign issues an attestation valid for Lifetime from now,
// with issuer and subject both set to the picker client id.
func (i *Issuer) Sign(claims Claims) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: i.secret}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", fmt.Errorf("create attestation signer: %w", err)
	}
	now := time.Now()
	registered := jwt.Claims{
		Issuer:   i.clientID,
		Subject:  i.clientID,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(Lifetime)),
	}
	result, err := jwt.Signed(signer).Claims(registered).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize attestation: %w", err)
	}
	return result, nil
}

// Verify checks signature and expiry and returns the consented claims.
// All failures collapse into ErrInvalid; callers never learn why an
// attestation was rejected.
func (i *Issuer) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, ErrInvalid
	}
	var registered jwt.Claims
	var claims Claims
	if err := parsed.Claims(i.secret, &registered, &claims); err != nil {
		return nil, ErrInvalid
	}
	if err := registered.Validate(jwt.Expected{Time: time.Now()}); err != nil {
		return nil, ErrInvalid
	}
	return &claims, nil
}
