package grpctp

import (
	"google.golang.org/grpc"
)

// Options configures Transport's pooling behavior.
//
// Defaults:
// - MaxConnsPerEndpoint: 2
// - DialOptions:         insecure credentials, default backoff
//
// Provider must be set (use NewStaticEndpoints or a custom implementation)
// or Dial always errors.

type Options struct {
	Provider EndpointProvider

	MaxConnsPerEndpoint int

	DialOptions []grpc.DialOption
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		MaxConnsPerEndpoint: 2,
	}
}

func WithProvider(p EndpointProvider) Option { return func(o *Options) { o.Provider = p } }
func WithMaxConnsPerEndpoint(n int) Option   { return func(o *Options) { o.MaxConnsPerEndpoint = n } }
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *Options) { o.DialOptions = opts }
}
