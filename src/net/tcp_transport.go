package net

import (
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// tcpKeepAlivePeriod keeps idle client connections open through NAT
// gateways between keepalive messages.
const tcpKeepAlivePeriod = 30 * time.Second

var errNotTCP = errors.New("local address is not a TCP address")

// TCPStreamLayer implements StreamLayer over TCP.
type TCPStreamLayer struct {
	advertise string
	listener  *net.TCPListener
}

// Dial implements the StreamLayer interface.
func (t *TCPStreamLayer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	dialer := net.Dialer{
		Timeout:   timeout,
		KeepAlive: tcpKeepAlivePeriod,
	}
	return dialer.Dial("tcp", address)
}

// Accept implements the net.Listener interface.
func (t *TCPStreamLayer) Accept() (net.Conn, error) {
	conn, err := t.listener.AcceptTCP()
	if err != nil {
		return nil, err
	}
	conn.SetKeepAlive(true)
	conn.SetKeepAlivePeriod(tcpKeepAlivePeriod)
	conn.SetNoDelay(true)
	return conn, nil
}

// Close implements the net.Listener interface.
func (t *TCPStreamLayer) Close() error {
	return t.listener.Close()
}

// Addr implements the net.Listener interface.
func (t *TCPStreamLayer) Addr() net.Addr {
	return t.listener.Addr()
}

// AdvertiseAddr implements the StreamLayer interface. Without an explicit
// advertise address it returns the bound address, possibly unspecified; the
// node replaces the host with the public IP reported by the network.
func (t *TCPStreamLayer) AdvertiseAddr() string {
	if t.advertise != "" {
		return t.advertise
	}
	return t.listener.Addr().String()
}

// NewTCPTransport returns a NetworkTransport listening on bindAddr. An
// advertiseAddr, when given, must resolve to a TCP address.
func NewTCPTransport(
	bindAddr string,
	advertiseAddr string,
	timeout time.Duration,
	maxFrameSize uint32,
	logger *logrus.Entry,
) (*NetworkTransport, error) {

	list, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}

	tcpList, ok := list.(*net.TCPListener)
	if !ok {
		list.Close()
		return nil, errNotTCP
	}

	if advertiseAddr != "" {
		if _, err := net.ResolveTCPAddr("tcp", advertiseAddr); err != nil {
			list.Close()
			return nil, err
		}
	}

	stream := &TCPStreamLayer{
		advertise: advertiseAddr,
		listener:  tcpList,
	}

	return NewNetworkTransport(stream, timeout, maxFrameSize, logger), nil
}
