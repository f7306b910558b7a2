// ABOUTME: Free TCP port discovery for the backend child process
// ABOUTME: Probes upward from a baseline by binding and releasing

package supervisor

import (
	"fmt"
	"net"
	"strconv"
)

// portProbeAttempts bounds the upward scan from the baseline port.
const portProbeAttempts = 100

// FindFreePort returns the first free TCP port at or above base, checked by
// binding and immediately releasing a loopback listener. The scan is
// bounded; exhausting it is a startup-fatal error.
func FindFreePort(base int) (int, error) {
	for port := base; port < base+portProbeAttempts; port++ {
		l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			continue
		}
		if err := l.Close(); err != nil {
			return 0, fmt.Errorf("releasing probe listener on port %d: %w", port, err)
		}
		return port, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", base, base+portProbeAttempts-1)
}
