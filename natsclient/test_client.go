package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestServer is a disposable JetStream-enabled NATS container with a
// connected Client, for integration tests.
type TestServer struct {
	container testcontainers.Container
	Client    *Client
	URL       string
}

type testConfig struct {
	image        string
	buckets      []string
	timeout      time.Duration
	startTimeout time.Duration
}

// TestOption configures StartTestServer.
type TestOption func(*testConfig)

// WithImage selects the NATS image tag.
func WithImage(tag string) TestOption {
	return func(c *testConfig) { c.image = "nats:" + tag }
}

// WithBuckets pre-creates KV buckets.
func WithBuckets(names ...string) TestOption {
	return func(c *testConfig) { c.buckets = append(c.buckets, names...) }
}

// WithStartTimeout bounds container startup.
func WithStartTimeout(d time.Duration) TestOption {
	return func(c *testConfig) { c.startTimeout = d }
}

// StartTestServer starts a container and connects to it. It returns an
// error rather than failing a test so it can run from TestMain.
func StartTestServer(ctx context.Context, opts ...TestOption) (*TestServer, error) {
	cfg := testConfig{
		image:        "nats:2.11.7-alpine",
		timeout:      5 * time.Second,
		startTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        cfg.image,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          []string{"--js", "--port", "4222", "--http_port", "8222"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/healthz").WithPort("8222/tcp").WithStartupTimeout(cfg.startTimeout),
			),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start NATS container: %w", err)
	}
	srv := &TestServer{container: container}

	host, err := container.Host(ctx)
	if err != nil {
		srv.Terminate()
		return nil, fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		srv.Terminate()
		return nil, fmt.Errorf("container port: %w", err)
	}
	srv.URL = fmt.Sprintf("nats://%s:%s", host, port.Port())

	srv.Client, err = NewClient(srv.URL, WithTimeout(cfg.timeout), WithMaxReconnects(0))
	if err != nil {
		srv.Terminate()
		return nil, err
	}
	connectCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()
	if err := srv.Client.Connect(connectCtx); err != nil {
		srv.Terminate()
		return nil, err
	}

	for _, name := range cfg.buckets {
		if _, err := srv.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: name}); err != nil {
			srv.Terminate()
			return nil, err
		}
	}
	return srv, nil
}

// NewTestServer is StartTestServer for a single test; the container is
// removed when t ends.
func NewTestServer(t testing.TB, opts ...TestOption) *TestServer {
	t.Helper()
	srv, err := StartTestServer(context.Background(), opts...)
	if err != nil {
		t.Fatalf("NATS test server: %v", err)
	}
	t.Cleanup(srv.Terminate)
	return srv
}

// Terminate closes the client and removes the container.
func (s *TestServer) Terminate() {
	ctx := context.Background()
	if s.Client != nil {
		_ = s.Client.Close(ctx)
	}
	if s.container != nil {
		_ = s.container.Terminate(ctx)
	}
}
