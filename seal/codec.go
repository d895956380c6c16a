// Package seal implements the signed envelope scheme used to carry flow state
// between requests. All cross-request state in this service travels in signed
// cookies and OAuth2 state parameters; there is no server-side session store,
// so every slot goes through this codec.
package seal

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

// ErrInvalid is returned when a sealed value is missing, malformed or fails
// signature verification. Callers branch on it to produce a 400 response;
// the codec never distinguishes the failure modes to them.
var ErrInvalid = errors.New("invalid signed value")

const defaultLifetime = 15 * time.Minute

type Codec struct {
	sc       *securecookie.SecureCookie
	secure   bool
	lifetime time.Duration
}

// New creates a codec that signs payloads with a keyed MAC over their JSON
// serialization. The signing key must be shared by every handler in the flow,
// since cookies written by one handler are opened by another.
// Values are signed, not encrypted: the flow carries no secrets that the
// browser may not see, and keeping them inspectable eases debugging.
func New(signingKey []byte, secureCookies bool) *Codec {
	sc := securecookie.New(signingKey, nil)
	sc.SetSerializer(securecookie.JSONEncoder{})
	sc.MaxAge(int(defaultLifetime.Seconds()))
	return &Codec{
		sc:       sc,
		secure:   secureCookies,
		lifetime: defaultLifetime,
	}
}

// Seal signs the payload for the given slot name. The name participates in
// the MAC, so a token sealed for one slot never verifies for another.
func (c *Codec) Seal(name string, payload any) (string, error) {
	return c.sc.Encode(name, payload)
}

// Open verifies and deserializes a sealed token into dst.
// Any failure (empty token, tampering, wrong slot, expiry) yields ErrInvalid.
func (c *Codec) Open(name, token string, dst any) error {
	if token == "" {
		return ErrInvalid
	}
	if err := c.sc.Decode(name, token, dst); err != nil {
		return ErrInvalid
	}
	return nil
}

// SetCookie seals the payload and writes it as an HttpOnly cookie.
func (c *Codec) SetCookie(response http.ResponseWriter, name string, payload any) error {
	value, err := c.Seal(name, payload)
	if err != nil {
		return err
	}
	http.SetCookie(response, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		MaxAge:   int(c.lifetime.Seconds()),
	})
	return nil
}

// ReadCookie opens the named cookie into dst, returning ErrInvalid when the
// cookie is absent or fails verification.
func (c *Codec) ReadCookie(request *http.Request, name string, dst any) error {
	cookie, err := request.Cookie(name)
	if err != nil {
		return ErrInvalid
	}
	return c.Open(name, cookie.Value, dst)
}

// ClearCookie expires the named cookie. Terminal handlers call this for every
// slot they consume, on success and failure paths alike.
func (c *Codec) ClearCookie(response http.ResponseWriter, name string) {
	http.SetCookie(response, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		MaxAge:   -1,
	})
}
