package testutil

import (
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// EnvPostgresDSN points integration tests at a disposable Postgres database.
	EnvPostgresDSN = "BANKNOTIFY_TEST_POSTGRES_DSN"
	// EnvRedisURL points integration tests at a disposable Redis database.
	EnvRedisURL = "BANKNOTIFY_TEST_REDIS_URL"
)

// FreePort reserves a local TCP port and returns it to the caller.
func FreePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// RequireIntegration skips the test in short mode.
func RequireIntegration(tb testing.TB) {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skip integration test in short mode")
	}
}

// RequireEnv returns a non-empty environment value or skips the test.
// Params: test handle and variable name.
// Returns: trimmed value.
func RequireEnv(tb testing.TB, name string) string {
	tb.Helper()
	RequireIntegration(tb)
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		tb.Skipf("%s is not set", name)
	}
	return value
}

// StartLocalNATSServer starts local nats-server with JetStream enabled for tests.
// Params: test handle; the server is also stopped on test cleanup.
// Returns: server URL and idempotent stop callback.
func StartLocalNATSServer(tb testing.TB) (string, func()) {
	tb.Helper()
	RequireIntegration(tb)

	port, err := FreePort()
	if err != nil {
		tb.Fatalf("free port: %v", err)
	}

	cmd := exec.Command("nats-server", "-js", "-p", strconv.Itoa(port), "-sd", tb.TempDir())
	if err := cmd.Start(); err != nil {
		tb.Skipf("nats-server is required for integration test: %v", err)
	}

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			_ = cmd.Process.Signal(syscall.SIGTERM)
			done := make(chan struct{})
			go func() {
				_, _ = cmd.Process.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				_ = cmd.Process.Kill()
				<-done
			}
		})
	}
	tb.Cleanup(stop)

	url := "nats://127.0.0.1:" + strconv.Itoa(port)
	WaitForNATSReady(tb, url, 8*time.Second)
	return url, stop
}

// WaitForNATSReady polls until a NATS endpoint accepts connections.
func WaitForNATSReady(tb testing.TB, url string, timeout time.Duration) {
	tb.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		nc, err := nats.Connect(url, nats.Timeout(time.Second))
		if err == nil {
			nc.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	tb.Fatalf("nats did not become ready at %s", url)
}
