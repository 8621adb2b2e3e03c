package objectstore

import (
	"net/http"
	"time"
)

// Options configures a Client's transport behavior.
//
// Defaults:
// - MaxConnsPerHost: 8
// - RequestTimeout:  30s (stored only; Select does not apply it, so a
//                    request is bounded by the incoming context alone)
// - MaxRetries:      3
// - CacheDir:        "" (caching disabled)
//
// All options are safe to leave zero-valued to use defaults.
type Options struct {
	HTTPClient     *http.Client
	MaxConnsPerHost int
	RequestTimeout  time.Duration
	MaxRetries      int
	CacheDir        string
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		MaxConnsPerHost: 8,
		RequestTimeout:  30 * time.Second,
		MaxRetries:      3,
	}
}

func WithHTTPClient(c *http.Client) Option   { return func(o *Options) { o.HTTPClient = c } }
func WithMaxConnsPerHost(n int) Option       { return func(o *Options) { o.MaxConnsPerHost = n } }
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Options) { o.RequestTimeout = d }
}
func WithMaxRetries(n int) Option   { return func(o *Options) { o.MaxRetries = n } }
func WithCacheDir(dir string) Option { return func(o *Options) { o.CacheDir = dir } }
