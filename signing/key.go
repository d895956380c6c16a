// Package signing manages the proxy's own asymmetric signing key, used to
// mint private-key client assertions towards the upstream provider and
// published as a JWK set on /keys.
package signing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const assertionLifetime = 5 * time.Minute

// Key wraps the private signing key and its public JWK set.
type Key struct {
	signingKey jose.SigningKey
	jwkSet     jose.JSONWebKeySet
}

// Load reads an RSA private key from a PEM file (PKCS#1 or PKCS#8).
func Load(file string) (*Key, error) {
	pemBytes, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read signing key file: %w", err)
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM data in signing key file %s", file)
	}
	var privateKey *rsa.PrivateKey
	if parsed, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		privateKey = parsed
	} else {
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse signing key: %w", err)
		}
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("signing key in %s is not an RSA key", file)
		}
		privateKey = rsaKey
	}
	return fromPrivateKey(privateKey), nil
}

// Generate creates an in-memory key for deployments without a configured key
// file. Tokens signed with it do not survive a restart.
func Generate() (*Key, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	log.Info().Msg("No signing key file configured, generated an in-memory RSA key")
	return fromPrivateKey(privateKey), nil
}

func fromPrivateKey(privateKey *rsa.PrivateKey) *Key {
	// Thumbprint-derived key id, so the same key gets the same id on every
	// load.
	thumbprint := sha256.Sum256(x509.MarshalPKCS1PublicKey(&privateKey.PublicKey))
	keyID := hex.EncodeToString(thumbprint[:])
	return &Key{
		signingKey: jose.SigningKey{Algorithm: jose.RS256, Key: privateKey},
		jwkSet: jose.JSONWebKeySet{
			Keys: []jose.JSONWebKey{
				{
					Key:       privateKey.Public(),
					KeyID:     keyID,
					Use:       "sig",
					Algorithm: string(jose.RS256),
				},
			},
		},
	}
}

// JWKSet returns the public half of the key for publication.
func (k *Key) JWKSet() jose.JSONWebKeySet {
	return k.jwkSet
}

// ClientAssertion signs a private_key_jwt client assertion for the given
// client id towards the given audience (the upstream endpoint URL).
func (k *Key) ClientAssertion(clientID string, audience string) (string, error) {
	signer, err := jose.NewSigner(k.signingKey, (&jose.SignerOptions{}).
		WithType("JWT").
		WithHeader("kid", k.jwkSet.Keys[0].KeyID))
	if err != nil {
		return "", fmt.Errorf("create assertion signer: %w", err)
	}
	now := time.Now()
	claims := jwt.Claims{
		Issuer:   clientID,
		Subject:  clientID,
		Audience: jwt.Audience{audience},
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(assertionLifetime)),
		ID:       uuid.NewString(),
	}
	result, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize client assertion: %w", err)
	}
	return result, nil
}
