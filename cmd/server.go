package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zorgbridge/smartproxy/attestation"
	"github.com/zorgbridge/smartproxy/authproxy"
	"github.com/zorgbridge/smartproxy/healthcheck"
	"github.com/zorgbridge/smartproxy/idp"
	"github.com/zorgbridge/smartproxy/launchctx"
	"github.com/zorgbridge/smartproxy/metadata"
	"github.com/zorgbridge/smartproxy/patients"
	"github.com/zorgbridge/smartproxy/picker"
	"github.com/zorgbridge/smartproxy/seal"
	"github.com/zorgbridge/smartproxy/signing"
	"github.com/zorgbridge/smartproxy/tokenhook"
	"github.com/zorgbridge/smartproxy/tokenproxy"
)

// Start runs the proxy until the context is cancelled or an interrupt
// arrives, then shuts the HTTP server down gracefully.
func Start(ctx context.Context, config Config) error {
	zerolog.SetGlobalLevel(config.LogLevel)
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	httpHandler := http.NewServeMux()
	services, err := buildServices(config)
	if err != nil {
		return err
	}
	for _, service := range services {
		service.RegisterHandlers(httpHandler)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{Addr: config.Public.Address, Handler: httpHandler}
	serverErr := make(chan error, 1)
	go func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("failed to start HTTP server: %w", err)
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return <-serverErr
}

// buildServices wires all HTTP services onto their shared dependencies.
func buildServices(config Config) ([]Service, error) {
	gatewayBaseURL, err := url.Parse(config.GatewayURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway base URL: %w", err)
	}

	codec := seal.New([]byte(config.CookieKey), config.StrictMode)
	gateway := idp.NewRESTGateway(config.Upstream)
	issuer := attestation.NewIssuer(config.Upstream.PickerClientID, config.Upstream.PickerClientSecret)

	store, err := launchctx.New(config.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to create launch context store: %w", err)
	}

	key, err := loadSigningKey(config)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	directoryURL := config.PatientDirectoryURL
	if directoryURL == "" {
		directoryURL = gatewayBaseURL.JoinPath("patientMockService").String()
	}
	directory := patients.NewHTTPDirectory(directoryURL)

	services := []Service{
		healthcheck.New(),
		authproxy.New(config.AuthProxy, codec, gateway, gatewayBaseURL, config.Upstream.PickerClientID),
		picker.New(codec, gateway, directory, issuer, gatewayBaseURL, nil),
		tokenhook.New(issuer, store),
		tokenproxy.New(gateway, store, key, gatewayBaseURL, config.Upstream.Issuer, config.Upstream.ServiceClientID),
		metadata.New(gatewayBaseURL, config.Upstream.Issuer, config.Upstream.OrgURL, key),
	}
	if config.PatientDirectoryURL == "" {
		services = append(services, patients.NewMockService())
	}
	return services, nil
}

func loadSigningKey(config Config) (*signing.Key, error) {
	if config.SigningKeyFile != "" {
		return signing.Load(config.SigningKeyFile)
	}
	log.Warn().Msg("No signing key file configured, generating an ephemeral key. Published JWKS keys will change on restart.")
	return signing.Generate()
}

type Service interface {
	RegisterHandlers(mux *http.ServeMux)
}
