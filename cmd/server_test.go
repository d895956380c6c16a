package cmd

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testServerConfig() Config {
	config := validConfig()
	config.StrictMode = false
	config.SigningKeyFile = ""
	return config
}

func TestStart(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		config := testServerConfig()
		config.Public.Address = ":" + strconv.Itoa(freeTCPPort())
		ctx, cancel := context.WithCancel(context.Background())
		wg := sync.WaitGroup{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, Start(ctx, config))
		}()
		assertServerStarted(t, config.Public.Address)

		// Signal server to stop, then wait for graceful exit
		cancel()
		wg.Wait()
	})
	t.Run("invalid configuration", func(t *testing.T) {
		config := testServerConfig()
		config.CookieKey = ""
		err := Start(context.Background(), config)
		require.ErrorContains(t, err, "invalid configuration")
	})
	t.Run("port already in use", func(t *testing.T) {
		config := testServerConfig()
		config.Public.Address = ":" + strconv.Itoa(freeTCPPort())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		wg := sync.WaitGroup{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = Start(ctx, config)
		}()
		assertServerStarted(t, config.Public.Address)
		// Start second server, should fail
		err := Start(ctx, config)
		require.EqualError(t, err, "failed to start HTTP server: listen tcp "+config.Public.Address+": bind: address already in use")
		// Gracefully exit first server
		cancel()
		wg.Wait()
	})
}

func assertServerStarted(t *testing.T, port string) {
	t.Helper()
	// Wait for the server to start, time-out after 5 seconds
	started := false
	for i := 0; i < 500; i++ {
		httpResponse, _ := http.Get("http://localhost" + port + "/health")
		if httpResponse != nil && httpResponse.StatusCode == http.StatusOK {
			started = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, started)
}

// freeTCPPort asks the kernel for a free open port that is ready to use.
// Taken from https://gist.github.com/sevkin/96bdae9274465b2d09191384f86ef39d
func freeTCPPort() (port int) {
	if a, err := net.ResolveTCPAddr("tcp", "localhost:0"); err == nil {
		var l *net.TCPListener
		if l, err = net.ListenTCP("tcp", a); err == nil {
			defer l.Close()
			return l.Addr().(*net.TCPAddr).Port
		} else {
			panic(err)
		}
	} else {
		panic(err)
	}
}
