package deployment

import "errors"

// ErrNoFreePort is returned when the scan exhausts the port range.
var ErrNoFreePort = errors.New("no available ports in range")

// PortRange defines the host ports a deployment may claim.
type PortRange struct {
	Start int // Inclusive, e.g., 8000
	End   int // Inclusive, e.g., 65535
}

// DefaultPortRange returns the default scan range: upward from 8000 to the
// highest valid port number.
func DefaultPortRange() PortRange {
	return PortRange{Start: 8000, End: 65535}
}

// AllocatePort finds the first free port in the range, scanning upward.
// Pure function - takes used ports as input, returns the allocated port.
// Ports bound on the host but unknown to the caller are excluded by feeding
// the result back through usedPorts and calling again.
func AllocatePort(usedPorts []int, portRange PortRange) (int, error) {
	used := make(map[int]bool, len(usedPorts))
	for _, p := range usedPorts {
		used[p] = true
	}

	for port := portRange.Start; port <= portRange.End; port++ {
		if !used[port] {
			return port, nil
		}
	}

	return 0, ErrNoFreePort
}

// ValidatePort checks if a port is within the allowed range.
func ValidatePort(port int, portRange PortRange) bool {
	return port >= portRange.Start && port <= portRange.End
}
