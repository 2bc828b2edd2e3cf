package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestServer is a NATS server running in a container for integration tests
type TestServer struct {
	container testcontainers.Container
	URL       string
	Address   string
}

// testConfig holds configuration for the test server
type testConfig struct {
	jetstream    bool
	natsVersion  string
	startTimeout time.Duration
}

// TestOption configures the test server
type TestOption func(*testConfig)

// WithJetStream enables JetStream on the test server
func WithJetStream() TestOption {
	return func(cfg *testConfig) {
		cfg.jetstream = true
	}
}

// WithNATSVersion specifies the NATS server image tag
func WithNATSVersion(version string) TestOption {
	return func(cfg *testConfig) {
		cfg.natsVersion = version
	}
}

// WithStartTimeout sets the container startup timeout
func WithStartTimeout(timeout time.Duration) TestOption {
	return func(cfg *testConfig) {
		cfg.startTimeout = timeout
	}
}

// NewSharedTestServer starts a NATS container for use in TestMain.
// The caller must call Terminate.
func NewSharedTestServer(opts ...TestOption) (*TestServer, error) {
	cfg := &testConfig{
		natsVersion:  "2.10-alpine",
		startTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx := context.Background()

	args := []string{"--port", "4222", "--http_port", "8222"}
	if cfg.jetstream {
		args = append(args, "--js")
	}

	req := testcontainers.ContainerRequest{
		Image:        "nats:" + cfg.natsVersion,
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		Cmd:          args,
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4222/tcp"),
			wait.ForHTTP("/healthz").WithPort("8222/tcp").WithStartupTimeout(cfg.startTimeout),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start NATS container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	url := fmt.Sprintf("nats://%s:%s", host, port.Port())
	ep, err := ParseEndpoint(url)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	return &TestServer{container: container, URL: url, Address: ep.Address}, nil
}

// NewTestServer starts a NATS container that is terminated when the test ends.
// Accepts testing.TB so it works with both *testing.T and *testing.B
func NewTestServer(t testing.TB, opts ...TestOption) *TestServer {
	t.Helper()

	server, err := NewSharedTestServer(opts...)
	if err != nil {
		t.Fatalf("Failed to start NATS test server: %v", err)
	}
	t.Cleanup(func() {
		_ = server.Terminate()
	})
	return server
}

// Terminate stops the container
func (s *TestServer) Terminate() error {
	if s.container == nil {
		return nil
	}
	err := s.container.Terminate(context.Background())
	s.container = nil
	return err
}
