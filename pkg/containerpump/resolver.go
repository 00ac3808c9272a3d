package containerpump

import "github.com/MunsMan/autoForward/pkg/portscan"

// ScannerResolver implements forwarder.AddressResolver using the scanner's
// current view of listening ports: the forwarder dials a port's last known
// IP rather than always assuming localhost, so a service that only listens
// on a specific container-internal address is still reachable.
type ScannerResolver struct {
	Scanner *portscan.Scanner
}

// Resolve looks up port in the scanner's known set. It reports false if the
// port isn't currently tracked or has no recorded IP, leaving the caller to
// fall back to its own default.
func (r ScannerResolver) Resolve(port uint16) (string, bool) {
	for _, p := range r.Scanner.Known() {
		if p.Port == port && p.IP != "" {
			return p.IP, true
		}
	}
	return "", false
}
