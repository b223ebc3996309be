package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"go.olrik.dev/torcalc/internal/core"
)

const (
	DefaultConnectTimeout = 250 * time.Millisecond
	DefaultRequestTimeout = 2 * time.Second
	DefaultPollInterval   = 100 * time.Millisecond

	// bodyPeek is how much of a probe response is drained before closing
	bodyPeek = 256
)

// ErrHealthTimeout is wrapped by WaitForHTTP when the deadline elapses
var ErrHealthTimeout = errors.New("health wait timed out")

// HealthStatus is the outcome of a single probe
type HealthStatus int

const (
	Unreachable HealthStatus = iota
	ReachableNotHealthy
	Healthy
)

func (s HealthStatus) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case ReachableNotHealthy:
		return "reachable-not-healthy"
	default:
		return "unreachable"
	}
}

// StatusPolicy is the half-open range [Min, Max) of HTTP status codes that
// count as healthy. The default accepts everything below 500, so redirects
// and client errors on "/" still mean the server is up.
type StatusPolicy struct {
	Min int
	Max int
}

// DefaultStatusPolicy accepts [200, 500)
func DefaultStatusPolicy() StatusPolicy {
	return StatusPolicy{Min: 200, Max: 500}
}

// Accepts reports whether code is inside the policy range
func (p StatusPolicy) Accepts(code int) bool {
	return code >= p.Min && code < p.Max
}

// Prober checks whether a host:port is listening and answering HTTP
type Prober struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	PollInterval   time.Duration
	Policy         StatusPolicy

	clock  clockwork.Clock
	client *http.Client
	logger *slog.Logger

	// attempt performs one bounded liveness check; replaced in tests
	attempt func(ctx context.Context, host string, port int, timeout time.Duration) bool
}

// NewProber creates a prober with the default timeouts and status policy
func NewProber(logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Prober{
		ConnectTimeout: DefaultConnectTimeout,
		RequestTimeout: DefaultRequestTimeout,
		PollInterval:   DefaultPollInterval,
		Policy:         DefaultStatusPolicy(),
		clock:          clockwork.NewRealClock(),
		logger:         logger.With("component", "probe"),
		client: &http.Client{
			// Every probe is a fresh connection; nothing is cached between probes
			Transport: &http.Transport{
				Proxy:             nil,
				DisableKeepAlives: true,
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	p.attempt = p.healthyWithin
	return p
}

// NewProberFromConfig creates a prober tuned by the health config section
func NewProberFromConfig(logger *slog.Logger, cfg core.HealthConfig) *Prober {
	p := NewProber(logger)
	if cfg.ConnectTimeout > 0 {
		p.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.RequestTimeout > 0 {
		p.RequestTimeout = cfg.RequestTimeout
	}
	if cfg.AcceptMax > cfg.AcceptMin {
		p.Policy = StatusPolicy{Min: cfg.AcceptMin, Max: cfg.AcceptMax}
	}
	return p
}

// WithClock replaces the clock used by WaitForHTTP
func (p *Prober) WithClock(clock clockwork.Clock) *Prober {
	p.clock = clock
	return p
}

// Address joins host and port the way every probe dials them
func Address(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Reachable reports whether something accepts TCP connections on host:port
func (p *Prober) Reachable(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", Address(host, port), p.ConnectTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Healthy reports whether GET / on host:port answers with an accepted status
// within RequestTimeout.
func (p *Prober) Healthy(ctx context.Context, host string, port int) bool {
	return p.attempt(ctx, host, port, p.RequestTimeout)
}

// Check classifies host:port as unreachable, listening-but-failing, or healthy
func (p *Prober) Check(ctx context.Context, host string, port int) HealthStatus {
	if !p.Reachable(host, port) {
		return Unreachable
	}
	if p.Healthy(ctx, host, port) {
		return Healthy
	}
	return ReachableNotHealthy
}

func (p *Prober) healthyWithin(ctx context.Context, host string, port int, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := "http://" + Address(host, port) + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("Health probe failed", "url", url, "error", err)
		return false
	}
	defer resp.Body.Close()

	// Drain a little so the server sees a complete exchange
	io.CopyN(io.Discard, resp.Body, bodyPeek)

	if !p.Policy.Accepts(resp.StatusCode) {
		p.logger.Debug("Health probe rejected status", "url", url, "status", resp.StatusCode)
		return false
	}
	return true
}

// WaitForHTTP polls liveness every PollInterval until it succeeds or timeout
// elapses. Each attempt is capped to the remaining time, so a hung server
// makes the wait fail at the deadline rather than after it.
func (p *Prober) WaitForHTTP(ctx context.Context, host string, port int, timeout time.Duration) error {
	deadline := p.clock.Now().Add(timeout)
	attempts := 0

	for {
		remaining := deadline.Sub(p.clock.Now())
		if remaining <= 0 {
			break
		}

		attempts++
		if p.attempt(ctx, host, port, min(p.RequestTimeout, remaining)) {
			p.logger.Debug("HTTP is healthy", "address", Address(host, port), "attempts", attempts)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(p.PollInterval):
		}
	}

	return core.Wrap(core.KindHealthTimeout, "wait for http",
		fmt.Errorf("%w: UI server at %s did not become healthy within %v (%d attempts)",
			ErrHealthTimeout, Address(host, port), timeout, attempts))
}
