package shinrai

import (
	"log/slog"
	"time"
)

// Option configures an App.
type Option func(*resolvedOptions)

type resolvedOptions struct {
	port        int
	databaseURL string
	logger      *slog.Logger
	version     string
	now         func() time.Time
	serveHTTP   bool
}

// WithPort overrides the TCP port from config (SHINRAI_PORT).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithClock replaces the wall clock used by detection and scoring.
func WithClock(now func() time.Time) Option {
	return func(o *resolvedOptions) { o.now = now }
}

// WithoutHTTP builds an App for one-shot runs. Run is unavailable on it.
func WithoutHTTP() Option {
	return func(o *resolvedOptions) { o.serveHTTP = false }
}

func resolve(opts []Option) resolvedOptions {
	o := resolvedOptions{serveHTTP: true}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.version == "" {
		o.version = "dev"
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}
