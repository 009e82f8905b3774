package deploy

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
)

var exposePattern = regexp.MustCompile(`EXPOSE (\d+)`)

// ErrNoExposedPort is returned when a Dockerfile has no usable EXPOSE directive.
var ErrNoExposedPort = errors.New("dockerfile does not EXPOSE a port")

// FindInternalPort returns the port named by the first EXPOSE directive.
func FindInternalPort(dockerfile string) (uint16, error) {
	match := exposePattern.FindStringSubmatch(dockerfile)
	if match == nil {
		return 0, ErrNoExposedPort
	}
	port, err := strconv.ParseUint(match[1], 10, 16)
	if err != nil || port == 0 {
		return 0, fmt.Errorf("%w: invalid port %q", ErrNoExposedPort, match[1])
	}
	return uint16(port), nil
}

// freePort asks the kernel for an unused loopback port. The listener is closed
// before returning, so another process may still claim the port first.
func freePort() (uint16, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("allocate port: %w", err)
	}
	defer l.Close()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("allocate port: unexpected address %s", l.Addr())
	}
	return uint16(addr.Port), nil
}
