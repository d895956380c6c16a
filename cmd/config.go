package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"

	"github.com/zorgbridge/smartproxy/authproxy"
	"github.com/zorgbridge/smartproxy/idp"
	"github.com/zorgbridge/smartproxy/launchctx"
)

type Config struct {
	// Public holds the configuration for the public interface.
	Public InterfaceConfig `koanf:"public"`
	// GatewayURL is the externally visible base URL of this proxy, as
	// registered with the upstream provider and advertised to SMART clients.
	GatewayURL string `koanf:"gatewayurl"`
	// CookieKey is the HMAC key for the signed state cookies.
	CookieKey string `koanf:"cookiekey"`
	// SigningKeyFile points to the PEM-encoded RSA private key used for
	// client assertions. When empty outside strict mode, an ephemeral key is
	// generated at startup.
	SigningKeyFile string `koanf:"signingkeyfile"`
	// PatientDirectoryURL is the endpoint of the patient directory service.
	// When empty, the built-in sample directory is served and used.
	PatientDirectoryURL string `koanf:"patientdirectoryurl"`
	// AuthProxy holds the configuration for the authorization proxy.
	AuthProxy authproxy.Config `koanf:"authproxy"`
	// Upstream holds the connection details for the identity provider.
	Upstream idp.Config `koanf:"upstream"`
	// Cache holds the configuration for the refresh-context cache.
	Cache      launchctx.Config `koanf:"cache"`
	LogLevel   zerolog.Level    `koanf:"loglevel"`
	StrictMode bool             `koanf:"strictmode"`
}

func (c Config) Validate() error {
	if c.GatewayURL == "" {
		return errors.New("gateway base URL is not configured")
	}
	if _, err := url.Parse(c.GatewayURL); err != nil {
		return errors.New("invalid gateway base URL")
	}
	if len(c.CookieKey) < 32 {
		return errors.New("cookie signing key must be at least 32 bytes")
	}
	if c.StrictMode && c.SigningKeyFile == "" {
		return errors.New("a signing key file is required in strict mode")
	}
	if err := c.AuthProxy.Validate(c.StrictMode); err != nil {
		return fmt.Errorf("invalid authproxy configuration: %w", err)
	}
	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("invalid upstream configuration: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("invalid cache configuration: %w", err)
	}
	return nil
}

// InterfaceConfig holds the configuration for an HTTP interface.
type InterfaceConfig struct {
	// Address holds the address to listen on.
	Address string `koanf:"address"`
}

// LoadConfig loads the configuration from the environment.
func LoadConfig() (*Config, error) {
	result := DefaultConfig()
	err := loadConfigInto(&result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func loadConfigInto(target any) error {
	k := koanf.New(".")
	err := k.Load(env.ProviderWithValue("SMARTPROXY_", ".", func(key string, value string) (string, interface{}) {
		key = strings.Replace(strings.ToLower(strings.TrimPrefix(key, "SMARTPROXY_")), "_", ".", -1)
		if len(value) == 0 {
			return key, nil
		}
		sliceValues := splitWithEscaping(value, ",", "\\")
		for i, s := range sliceValues {
			sliceValues[i] = strings.TrimSpace(s)
		}
		var parsedValue any = sliceValues
		if len(sliceValues) == 1 {
			parsedValue = sliceValues[0]
		}
		return key, parsedValue
	}), nil)
	if err != nil {
		return err
	}
	return k.Unmarshal("", target)
}

func splitWithEscaping(s, separator, escape string) []string {
	s = strings.ReplaceAll(s, escape+separator, "\x00")
	tokens := strings.Split(s, separator)
	for i, token := range tokens {
		tokens[i] = strings.ReplaceAll(token, "\x00", separator)
	}
	return tokens
}

// DefaultConfig returns sensible, but not complete, default configuration values.
func DefaultConfig() Config {
	return Config{
		LogLevel:   zerolog.InfoLevel,
		StrictMode: true,
		Public: InterfaceConfig{
			Address: ":8080",
		},
		Cache: launchctx.DefaultConfig(),
	}
}
