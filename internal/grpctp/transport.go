package grpctp

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/qflowdb/qflow/internal/eventbus"
	"github.com/qflowdb/qflow/internal/events"
)

// Transport hands out pooled, connection-reused gRPC connections to worker
// processes hosting internal/procworker.Server, resolved through an
// EndpointProvider keyed by operator name rather than a single fixed
// address. A plan wiring remote operators across several worker replicas
// uses one Transport to reach all of them.
type Transport struct {
	opts *Options

	mu     sync.RWMutex
	pools  map[string]*connPool // key: endpoint
	closed atomic.Bool
}

func New(opts ...Option) *Transport {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if len(o.DialOptions) == 0 {
		o.DialOptions = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig}),
		}
	}
	return &Transport{
		opts:  o,
		pools: make(map[string]*connPool),
	}
}

// Dial returns a pooled connection to one of the endpoints registered for
// operator, along with a release func the caller must invoke once done
// with it (typically once the remote operator's RemoteBody has finished
// its Exchange stream). The returned connection may be shared with other
// concurrent callers of the same operator name.
func (t *Transport) Dial(ctx context.Context, operator string) (cc *grpc.ClientConn, release func(), err error) {
	if t.closed.Load() {
		return nil, nil, fmt.Errorf("grpctp: closed")
	}
	if t.opts.Provider == nil {
		return nil, nil, fmt.Errorf("grpctp: provider not configured")
	}

	endpoints, err := t.opts.Provider.Endpoints(ctx, operator)
	if err != nil {
		return nil, nil, err
	}
	endpoint := endpoints[rand.Intn(len(endpoints))]

	start := time.Now()
	eventbus.Publish(ctx, events.GRPCClientStart{Service: operator, Method: "Exchange", Target: endpoint})
	cc, err = t.getConn(ctx, endpoint)
	eventbus.Publish(ctx, events.GRPCClientFinish{
		Service: operator, Method: "Exchange", Target: endpoint,
		Err: err, Duration: time.Since(start),
	})
	if err != nil {
		return nil, nil, err
	}
	return cc, func() { t.returnConn(endpoint, cc) }, nil
}

func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.pools {
		p.close()
	}
	t.pools = map[string]*connPool{}
	return nil
}

type connPool struct {
	endpoint string
	opts     *Options
	conns    chan *grpc.ClientConn
	closed   atomic.Bool
}

func newConnPool(endpoint string, opts *Options) *connPool {
	n := opts.MaxConnsPerEndpoint
	if n <= 0 {
		n = 2
	}
	return &connPool{
		endpoint: endpoint,
		opts:     opts,
		conns:    make(chan *grpc.ClientConn, n),
	}
}

func (p *connPool) get(ctx context.Context) (*grpc.ClientConn, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("grpctp: pool closed")
	}
	select {
	case cc := <-p.conns:
		return cc, nil
	default:
		return grpc.NewClient(p.endpoint, p.opts.DialOptions...)
	}
}

func (p *connPool) put(cc *grpc.ClientConn) {
	if cc == nil || p.closed.Load() {
		if cc != nil {
			_ = cc.Close()
		}
		return
	}
	select {
	case p.conns <- cc:
	default:
		_ = cc.Close()
	}
}

func (p *connPool) close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.conns)
	for cc := range p.conns {
		_ = cc.Close()
	}
}

func (t *Transport) getConn(ctx context.Context, endpoint string) (*grpc.ClientConn, error) {
	t.mu.RLock()
	pool := t.pools[endpoint]
	t.mu.RUnlock()
	if pool == nil {
		t.mu.Lock()
		pool = t.pools[endpoint]
		if pool == nil {
			pool = newConnPool(endpoint, t.opts)
			t.pools[endpoint] = pool
		}
		t.mu.Unlock()
	}
	return pool.get(ctx)
}

func (t *Transport) returnConn(endpoint string, cc *grpc.ClientConn) {
	t.mu.RLock()
	pool := t.pools[endpoint]
	t.mu.RUnlock()
	if pool != nil {
		pool.put(cc)
		return
	}
	_ = cc.Close()
}
