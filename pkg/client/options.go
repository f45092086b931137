package client

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/lightforgemedia/go-swell/pkg/backoff"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultEventBuffer  = 16
)

type connConfig struct {
	logger       *slog.Logger
	dialer       Dialer
	dialTimeout  time.Duration
	writeTimeout time.Duration
	clock        Clock
	backoff      backoff.Sequence
	metrics      *Metrics
	eventBuffer  int
}

func defaultConnConfig() connConfig {
	return connConfig{
		logger:       slog.Default(),
		dialer:       &WebSocketDialer{Options: &websocket.DialOptions{HTTPClient: http.DefaultClient}},
		dialTimeout:  defaultDialTimeout,
		writeTimeout: defaultWriteTimeout,
		clock:        realClock{},
		backoff:      backoff.Default,
		eventBuffer:  defaultEventBuffer,
	}
}

// Option configures a Connection.
type Option func(*connConfig)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *connConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialer replaces the transport dialer. Tests use it to inject fakes.
func WithDialer(d Dialer) Option {
	return func(c *connConfig) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithDialOptions sets the websocket.DialOptions used by the default dialer.
func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(c *connConfig) {
		c.dialer = &WebSocketDialer{Options: opts}
	}
}

// WithDialTimeout bounds a single dial.
func WithDialTimeout(timeout time.Duration) Option {
	return func(c *connConfig) {
		if timeout > 0 {
			c.dialTimeout = timeout
		}
	}
}

// WithWriteTimeout bounds a single frame write.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *connConfig) {
		if timeout > 0 {
			c.writeTimeout = timeout
		}
	}
}

// WithClock sets the clock that schedules reopen attempts.
func WithClock(clock Clock) Option {
	return func(c *connConfig) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithBackoff replaces the reopen delay table.
func WithBackoff(seq backoff.Sequence) Option {
	return func(c *connConfig) {
		if len(seq) > 0 {
			c.backoff = seq
		}
	}
}

// WithMetrics records connection metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *connConfig) {
		c.metrics = m
	}
}

// WithEventBuffer sets the per-watcher buffer for lifecycle events.
func WithEventBuffer(n int) Option {
	return func(c *connConfig) {
		if n > 0 {
			c.eventBuffer = n
		}
	}
}

// Options contains configuration values for ConnectWithOptions.
type Options struct {
	Logger       *slog.Logger
	Dialer       Dialer
	DialOptions  *websocket.DialOptions
	ReadLimit    int64
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Clock        Clock
	Backoff      backoff.Sequence
	Metrics      *Metrics
	EventBuffer  int
}

// DefaultOptions returns an Options struct populated with library defaults.
func DefaultOptions() Options {
	return Options{
		Logger:       slog.Default(),
		DialOptions:  &websocket.DialOptions{HTTPClient: http.DefaultClient},
		DialTimeout:  defaultDialTimeout,
		WriteTimeout: defaultWriteTimeout,
		Backoff:      backoff.Default,
		EventBuffer:  defaultEventBuffer,
	}
}

// ConnectWithOptions creates a Connection from an Options struct. Zero values
// fall back to library defaults.
func ConnectWithOptions(url string, opts Options) *Connection {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &WebSocketDialer{Options: opts.DialOptions, ReadLimit: opts.ReadLimit}
	}
	return NewConnection(url,
		WithLogger(opts.Logger),
		WithDialer(dialer),
		WithDialTimeout(opts.DialTimeout),
		WithWriteTimeout(opts.WriteTimeout),
		WithClock(opts.Clock),
		WithBackoff(opts.Backoff),
		WithMetrics(opts.Metrics),
		WithEventBuffer(opts.EventBuffer),
	)
}
