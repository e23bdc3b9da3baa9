package transport

import (
	"fmt"
	"net"
)

// Endpoint is a network address, kept as a small value type so Connection
// and Session slots can hold it by value instead of chasing a pointer.
type Endpoint struct {
	IP   [4]byte
	Port uint16
}

// EndpointFromUDPAddr converts a resolved *net.UDPAddr into an Endpoint.
// Only IPv4 is supported, matching the scope of the original engine.
func EndpointFromUDPAddr(addr *net.UDPAddr) Endpoint {
	var ep Endpoint
	ip4 := addr.IP.To4()
	if ip4 != nil {
		copy(ep.IP[:], ip4)
	}
	ep.Port = uint16(addr.Port)
	return ep
}

// UDPAddr converts back to the stdlib representation for socket calls.
func (e Endpoint) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(e.IP[0], e.IP[1], e.IP[2], e.IP[3]), Port: int(e.Port)}
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", e.IP[0], e.IP[1], e.IP[2], e.IP[3], e.Port)
}

// Equal reports whether two endpoints refer to the same host and port.
func (e Endpoint) Equal(o Endpoint) bool {
	return e.IP == o.IP && e.Port == o.Port
}

// IsZero reports whether e is the unset zero value.
func (e Endpoint) IsZero() bool {
	return e.IP == [4]byte{} && e.Port == 0
}
