package transport

import (
	"net"

	reuseport "github.com/kavu/go_reuseport"
)

// Listen binds a TCP listener with SO_REUSEPORT so several accept loops
// can share one address. ipv6 selects the tcp6 network.
func Listen(addr string, ipv6 bool) (net.Listener, error) {
	network := "tcp4"
	if ipv6 {
		network = "tcp6"
	}

	return reuseport.Listen(network, addr)
}
