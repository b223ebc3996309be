package probe

import (
	"fmt"
	"log/slog"
	"net"

	"go.olrik.dev/torcalc/internal/core"
)

// DefaultMaxTries is how many ports above the preferred one are scanned
const DefaultMaxTries = 25

const maxPort = 65535

// Source records how a port was chosen
type Source string

const (
	SourcePreferred    Source = "preferred"
	SourceFallbackScan Source = "fallback-scan"
	SourceOSAssigned   Source = "os-assigned"
)

// PortCandidate is a port picked for this launch
type PortCandidate struct {
	Port   int
	Source Source
}

// Arbiter picks a TCP port nobody is listening on. The check is
// point-in-time; a later bind can still lose a race.
type Arbiter struct {
	prober   *Prober
	maxTries int
	logger   *slog.Logger
}

// NewArbiter creates an arbiter that scans up to maxTries ports past the
// preferred one. A non-positive maxTries uses DefaultMaxTries.
func NewArbiter(prober *Prober, maxTries int) *Arbiter {
	if maxTries <= 0 {
		maxTries = DefaultMaxTries
	}
	return &Arbiter{
		prober:   prober,
		maxTries: maxTries,
		logger:   prober.logger.With("component", "ports"),
	}
}

// Pick returns preferred if free, else the first free port in
// preferred+1..preferred+maxTries, else an OS-assigned ephemeral port.
func (a *Arbiter) Pick(host string, preferred int) (PortCandidate, error) {
	if preferred >= 1 && preferred <= maxPort && !a.prober.Reachable(host, preferred) {
		return PortCandidate{Port: preferred, Source: SourcePreferred}, nil
	}

	for p := preferred + 1; p <= preferred+a.maxTries && p <= maxPort; p++ {
		if p < 1 {
			continue
		}
		if !a.prober.Reachable(host, p) {
			a.logger.Debug("Picked fallback port", "preferred", preferred, "port", p)
			return PortCandidate{Port: p, Source: SourceFallbackScan}, nil
		}
	}

	port, err := EphemeralPort(host)
	if err != nil {
		return PortCandidate{}, core.Wrap(core.KindPortConflict, "pick port",
			fmt.Errorf("ports %d..%d are in use and no ephemeral port is available: %w", preferred, preferred+a.maxTries, err))
	}
	a.logger.Debug("Picked OS-assigned port", "preferred", preferred, "port", port)
	return PortCandidate{Port: port, Source: SourceOSAssigned}, nil
}

// EphemeralPort binds host:0, reads back the assigned port and releases it
func EphemeralPort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
