package testutil

import (
	"testing"

	"github.com/lightforgemedia/go-swell/pkg/client"
)

// FakeConnection bundles a connection with the fakes driving it.
type FakeConnection struct {
	*client.Connection
	Dialer *FakeDialer
	Clock  *FakeClock
}

// NewFakeConnection creates a connection on a FakeDialer and FakeClock. The
// connection is shut down when the test ends.
func NewFakeConnection(t *testing.T, opts ...client.Option) *FakeConnection {
	t.Helper()
	dialer := NewFakeDialer()
	clock := NewFakeClock()
	finalOpts := append([]client.Option{
		client.WithLogger(DefaultLogger),
		client.WithDialer(dialer),
		client.WithClock(clock),
	}, opts...)
	conn := client.NewConnection("ws://fake.test/ws", finalOpts...)
	t.Cleanup(func() { conn.Shutdown() })
	return &FakeConnection{Connection: conn, Dialer: dialer, Clock: clock}
}

// NewTestConnection creates a connection to a real endpoint with the test
// logger. The connection is shut down when the test ends.
func NewTestConnection(t *testing.T, url string, opts ...client.Option) *client.Connection {
	t.Helper()
	finalOpts := append([]client.Option{client.WithLogger(DefaultLogger)}, opts...)
	conn := client.NewConnection(url, finalOpts...)
	t.Cleanup(func() { conn.Shutdown() })
	return conn
}
