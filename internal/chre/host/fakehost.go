package host

import (
	"bufio"
	"net"

	"golang.org/x/net/netutil"
)

// FakeHost is a minimal stand-in for the host daemon's socket server,
// used by integration tests and the demo binary to exercise Client's
// framing and reconnect behavior without a real application processor.
// netutil.LimitListener enforces the single-host-connection contract from
// the host's side: CHRE always has exactly one path to the host.
type FakeHost struct {
	listener net.Listener
	received chan Envelope
}

// ListenFakeHost starts a FakeHost on a Unix domain socket at path.
func ListenFakeHost(path string) (*FakeHost, error) {
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &FakeHost{
		listener: netutil.LimitListener(l, 1),
		received: make(chan Envelope, 64),
	}, nil
}

// Serve accepts the single permitted connection and echoes every frame it
// receives onto Received, until the listener is closed.
func (h *FakeHost) Serve() {
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			return
		}
		go h.handle(conn)
	}
}

func (h *FakeHost) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		env, err := ReadFrame(r)
		if err != nil {
			return
		}
		h.received <- env
	}
}

// Received delivers frames received from the connected client.
func (h *FakeHost) Received() <-chan Envelope {
	return h.received
}

// Close stops accepting new connections.
func (h *FakeHost) Close() error {
	return h.listener.Close()
}
