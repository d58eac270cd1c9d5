package testutils

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/armon/go-socks5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/prepolicy/prepolicy/pkg/logging"
)

// TestTimeout is the default timeout for operations in tests.
const TestTimeout = 5 * time.Second

// TestInterval is the default interval for polling in tests.
const TestInterval = 10 * time.Millisecond

// NewTestLogger creates a debug-level logger that discards output.
func NewTestLogger() logging.Logger {
	logger, err := logging.New("debug", "console", zapcore.AddSync(io.Discard))
	if err != nil {
		panic(err)
	}
	return logger
}

// SOCKS5Server is a local SOCKS5 proxy that counts the connections it relays.
type SOCKS5Server struct {
	listener net.Listener
	dials    atomic.Int64
}

// NewSOCKS5Server starts a SOCKS5 proxy on a random loopback port and stops it
// when the test finishes.
func NewSOCKS5Server(t *testing.T) *SOCKS5Server {
	t.Helper()

	s := &SOCKS5Server{}
	var dialer net.Dialer
	conf := &socks5.Config{
		Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			s.dials.Add(1)
			return dialer.DialContext(ctx, network, addr)
		},
	}
	server, err := socks5.New(conf)
	require.NoError(t, err, "failed to create socks5 server")

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "failed to listen for socks5 server")
	s.listener = listener

	go func() {
		_ = server.Serve(listener)
	}()
	t.Cleanup(s.Close)
	return s
}

// Addr returns the proxy's host:port.
func (s *SOCKS5Server) Addr() string {
	return s.listener.Addr().String()
}

// Dials reports how many upstream connections the proxy has opened.
func (s *SOCKS5Server) Dials() int64 {
	return s.dials.Load()
}

// Close stops accepting connections.
func (s *SOCKS5Server) Close() {
	_ = s.listener.Close()
}

// ClosedAddr returns a loopback address with nothing listening on it.
func ClosedAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}
