package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.olrik.dev/torcalc/internal/core"
)

func hostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := net.ResolveTCPAddr("tcp", rawURL[len("http://"):])
	require.NoError(t, err)
	return u.IP.String(), u.Port
}

func statusServer(t *testing.T, code int) (string, int) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)
	return hostPort(t, srv.URL)
}

func closedPort(t *testing.T) int {
	t.Helper()
	port, err := EphemeralPort("127.0.0.1")
	require.NoError(t, err)
	return port
}

func TestStatusPolicy_Accepts(t *testing.T) {
	p := DefaultStatusPolicy()
	assert.True(t, p.Accepts(200))
	assert.True(t, p.Accepts(302))
	assert.True(t, p.Accepts(404))
	assert.True(t, p.Accepts(499))
	assert.False(t, p.Accepts(199))
	assert.False(t, p.Accepts(500))
	assert.False(t, p.Accepts(503))
}

func TestProber_Healthy(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		healthy bool
	}{
		{"ok", http.StatusOK, true},
		{"not found still counts as up", http.StatusNotFound, true},
		{"server error", http.StatusInternalServerError, false},
		{"unavailable", http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port := statusServer(t, tt.code)
			p := NewProber(nil)
			assert.Equal(t, tt.healthy, p.Healthy(context.Background(), host, port))
		})
	}
}

func TestProber_HealthyConnectionRefused(t *testing.T) {
	p := NewProber(nil)
	assert.False(t, p.Healthy(context.Background(), "127.0.0.1", closedPort(t)))
}

func TestProber_RedirectNotFollowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/broken", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	host, port := hostPort(t, srv.URL)
	assert.True(t, NewProber(nil).Healthy(context.Background(), host, port))
}

func TestProber_CustomPolicy(t *testing.T) {
	host, port := statusServer(t, http.StatusNotFound)
	p := NewProberFromConfig(nil, core.HealthConfig{AcceptMin: 200, AcceptMax: 300})
	assert.False(t, p.Healthy(context.Background(), host, port))
}

func TestProber_HungServerDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	host, port := hostPort(t, srv.URL)
	p := NewProber(nil)
	p.RequestTimeout = 200 * time.Millisecond

	start := time.Now()
	assert.False(t, p.Healthy(context.Background(), host, port))
	assert.Less(t, time.Since(start), time.Second)
}

func TestProber_Reachable(t *testing.T) {
	host, port := statusServer(t, http.StatusOK)
	p := NewProber(nil)

	assert.True(t, p.Reachable(host, port))
	assert.False(t, p.Reachable("127.0.0.1", closedPort(t)))
}

func TestProber_Check(t *testing.T) {
	p := NewProber(nil)

	host, port := statusServer(t, http.StatusOK)
	assert.Equal(t, Healthy, p.Check(context.Background(), host, port))

	host, port = statusServer(t, http.StatusBadGateway)
	assert.Equal(t, ReachableNotHealthy, p.Check(context.Background(), host, port))

	assert.Equal(t, Unreachable, p.Check(context.Background(), "127.0.0.1", closedPort(t)))
	assert.Equal(t, "reachable-not-healthy", ReachableNotHealthy.String())
}

func TestWaitForHTTP_BecomesHealthy(t *testing.T) {
	readyAt := time.Now().Add(300 * time.Millisecond)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if time.Now().Before(readyAt) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	host, port := hostPort(t, srv.URL)
	p := NewProber(nil)

	start := time.Now()
	require.NoError(t, p.WaitForHTTP(context.Background(), host, port, 5*time.Second))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 250*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestWaitForHTTP_TimesOutAtDeadline(t *testing.T) {
	host, port := statusServer(t, http.StatusInternalServerError)
	p := NewProber(nil)

	start := time.Now()
	err := p.WaitForHTTP(context.Background(), host, port, 500*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHealthTimeout)
	assert.Equal(t, core.KindHealthTimeout, core.KindOf(err))
	assert.Contains(t, err.Error(), strconv.Itoa(port))
	assert.GreaterOrEqual(t, elapsed, 450*time.Millisecond)
	assert.Less(t, elapsed, 1500*time.Millisecond)
}

func TestWaitForHTTP_HungServerCappedByDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	host, port := hostPort(t, srv.URL)
	p := NewProber(nil)

	start := time.Now()
	err := p.WaitForHTTP(context.Background(), host, port, 400*time.Millisecond)
	require.ErrorIs(t, err, ErrHealthTimeout)
	assert.Less(t, time.Since(start), 1500*time.Millisecond, "a 2s request timeout must not outlive the wait")
}

func TestWaitForHTTP_ZeroTimeout(t *testing.T) {
	host, port := statusServer(t, http.StatusOK)
	err := NewProber(nil).WaitForHTTP(context.Background(), host, port, 0)
	assert.ErrorIs(t, err, ErrHealthTimeout)
}

func TestWaitForHTTP_ContextCancelled(t *testing.T) {
	host, port := statusServer(t, http.StatusInternalServerError)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := NewProber(nil).WaitForHTTP(ctx, host, port, 10*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForHTTP_PollsOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewProber(nil).WithClock(clock)

	var attempts atomic.Int32
	p.attempt = func(ctx context.Context, host string, port int, timeout time.Duration) bool {
		attempts.Add(1)
		return false
	}

	done := make(chan error, 1)
	go func() {
		done <- p.WaitForHTTP(context.Background(), "127.0.0.1", 1, time.Second)
	}()

	for range 10 {
		clock.BlockUntil(1)
		clock.Advance(DefaultPollInterval)
	}

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrHealthTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForHTTP did not return after the deadline")
	}
	assert.Equal(t, int32(10), attempts.Load())
}
