package portscan

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
)

// LsofEnumerator implements PortEnumerator by invoking lsof -i -P -n and
// parsing its tabular output. commandRunner is overridable for tests so the
// parser can be exercised without forking a real lsof.
type LsofEnumerator struct {
	commandRunner func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewLsofEnumerator creates an enumerator that shells out to the system lsof.
func NewLsofEnumerator() *LsofEnumerator {
	return &LsofEnumerator{}
}

func (e *LsofEnumerator) runner() func(ctx context.Context, name string, args ...string) *exec.Cmd {
	if e.commandRunner != nil {
		return e.commandRunner
	}
	return exec.CommandContext
}

// SetCommandRunner overrides how the lsof process is launched, for testing.
func (e *LsofEnumerator) SetCommandRunner(r func(ctx context.Context, name string, args ...string) *exec.Cmd) {
	e.commandRunner = r
}

// Enumerate runs lsof -i -P -n and parses its output: the
// header row's NODE column locates the protocol column; only rows ending in
// "(LISTEN)" are kept; the port is the trailing numeric component of the
// address column; a wildcard address ("*") is rewritten to "localhost".
func (e *LsofEnumerator) Enumerate(ctx context.Context) ([]ListeningPort, error) {
	cmd := e.runner()(ctx, "lsof", "-i", "-P", "-n")
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	return ParseLsof(string(out)), nil
}

// ParseLsof parses the tabular output of lsof -i -P -n into ListeningPorts.
// It is exported so the parsing logic can be tested directly against
// captured lsof output.
func ParseLsof(output string) []ListeningPort {
	lines := strings.Split(output, "\n")
	if len(lines) == 0 {
		return nil
	}

	header := splitFields(lines[0])
	nodeCol := indexOf(header, "NODE")
	if nodeCol < 0 {
		nodeCol = len(header) - 2
	}

	var ports []ListeningPort
	for _, line := range lines[1:] {
		row := splitFields(line)
		// a listening row ends with a state field such as "(LISTEN)" that has
		// no header column, so it has exactly one more field than the header.
		if len(row) != len(header)+1 {
			continue
		}
		if row[len(row)-1] != "(LISTEN)" {
			continue
		}

		addrCol := len(header) - 1
		if addrCol < 0 || addrCol >= len(row) {
			continue
		}
		ip, port, ok := splitHostPort(row[addrCol])
		if !ok {
			continue
		}

		var proto Protocol
		switch strings.ToUpper(row[nodeCol]) {
		case "TCP":
			proto = TCP
		case "UDP":
			proto = UDP
		default:
			continue
		}

		app := "unknown"
		if len(row) > 0 && row[0] != "" {
			app = row[0]
		}

		ports = append(ports, ListeningPort{
			Port:     port,
			Protocol: proto,
			App:      app,
			IP:       ip,
		})
	}
	return ports
}

func splitFields(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func indexOf(fields []string, s string) int {
	for i, f := range fields {
		if f == s {
			return i
		}
	}
	return -1
}

// splitHostPort splits an lsof address field of the form "[ip:]port" (or
// "*:port") into an ip (defaulting to localhost for a wildcard) and a port.
func splitHostPort(s string) (ip string, port uint16, ok bool) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		p, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return "", 0, false
		}
		return "localhost", uint16(p), true
	}

	host, portStr := s[:i], s[i+1:]
	p, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, false
	}
	host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
	if host == "" || host == "*" {
		host = "localhost"
	}
	return host, uint16(p), true
}
