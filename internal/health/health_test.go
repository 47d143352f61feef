package health

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

type togglePinger struct {
	mu  sync.Mutex
	err error
}

func (p *togglePinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *togglePinger) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func startBufServer(t *testing.T, s *Server) func(context.Context, string) (net.Conn, error) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)
	return func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}
}

func TestHealthTracksPinger(t *testing.T) {
	t.Parallel()
	pinger := &togglePinger{}
	s := NewServer(pinger, time.Hour, nil)
	dialer := startBufServer(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	probe := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		st, err := Probe(ctx, "passthrough:///bufnet", service, grpc.WithContextDialer(dialer))
		require.NoError(t, err)
		return st
	}

	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, probe(""))

	require.True(t, s.Check(ctx))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, probe(""))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, probe(ServiceName))

	pinger.set(errors.New("database is closed"))
	require.False(t, s.Check(ctx))
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, probe(ServiceName))
}

func TestProbeUnknownService(t *testing.T) {
	t.Parallel()
	s := NewServer(&togglePinger{}, time.Hour, nil)
	dialer := startBufServer(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Probe(ctx, "passthrough:///bufnet", "nope", grpc.WithContextDialer(dialer))
	require.Error(t, err)
}

func TestWatchStopsWithContext(t *testing.T) {
	t.Parallel()
	s := NewServer(&togglePinger{}, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Watch(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
