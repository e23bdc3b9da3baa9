package transport

import (
	"fmt"
	"net"

	"github.com/stephenmerendino/netcode/pkg/netlog"
)

// DefaultPort is the transport's default UDP listen port.
const DefaultPort = 1919

// Socket is a thin wrapper over a bound UDP connection, mirroring
// udp_socket.cpp's bind()/send()/receive() split. Receive is blocking;
// PacketChannel calls it from its own reader goroutine.
type Socket struct {
	conn  *net.UDPConn
	bound bool
}

// Bind attempts to bind to port, and if that fails because the port is
// taken, retries up to portRange-1 additional consecutive ports — the
// original engine's bind-with-retry behavior, useful when a stale
// listener is still holding the default port on a dev box.
func Bind(host string, port int, portRange int) (*Socket, error) {
	if portRange < 1 {
		portRange = 1
	}
	var lastErr error
	for i := 0; i < portRange; i++ {
		addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port + i}
		conn, err := net.ListenUDP("udp4", addr)
		if err != nil {
			lastErr = err
			continue
		}
		netlog.Info("bound UDP socket on %s:%d", host, port+i)
		return &Socket{conn: conn, bound: true}, nil
	}
	return nil, fmt.Errorf("transport: failed to bind to %s ports [%d, %d): %w", host, port, port+portRange, lastErr)
}

// IsBound reports whether the socket currently holds an open file descriptor.
func (s *Socket) IsBound() bool {
	return s.bound && s.conn != nil
}

// Send writes data to the given endpoint.
func (s *Socket) Send(data []byte, to Endpoint) error {
	if !s.IsBound() {
		return fmt.Errorf("transport: socket not bound")
	}
	_, err := s.conn.WriteToUDP(data, to.UDPAddr())
	return err
}

// Receive reads one datagram, returning its payload and sender endpoint.
// No read deadline is set: it blocks until a datagram arrives or the
// socket is closed.
func (s *Socket) Receive(buf []byte) (int, Endpoint, error) {
	if !s.IsBound() {
		return 0, Endpoint{}, fmt.Errorf("transport: socket not bound")
	}
	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, Endpoint{}, err
	}
	return n, EndpointFromUDPAddr(addr), nil
}

// Close releases the underlying file descriptor.
func (s *Socket) Close() error {
	if s.conn == nil {
		return nil
	}
	s.bound = false
	return s.conn.Close()
}
