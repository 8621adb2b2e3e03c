package plan

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/qflowdb/qflow/internal/connector"
	"github.com/qflowdb/qflow/internal/eventbus"
	"github.com/qflowdb/qflow/internal/events"
	"github.com/qflowdb/qflow/internal/message"
	"github.com/qflowdb/qflow/internal/op"
	"github.com/qflowdb/qflow/internal/physical"
	"github.com/qflowdb/qflow/internal/qerr"
	"github.com/qflowdb/qflow/internal/runid"
)

// Body is implemented by a physical operator's logic: the Handler that
// processes messages plus the Bind hook that hands it a reference back to
// its wrapping *op.Operator (so it can call Emit). Every type in
// internal/physical satisfies this.
type Body interface {
	op.Handler
	Bind(*op.Operator)
}

// Plan owns one query's operator set: their names, wiring, start order,
// and completion/metrics tracking. Operators are added and connected while
// building the plan; Execute runs it exactly once.
type Plan struct {
	name string

	mu        sync.Mutex
	operators map[string]*op.Operator
	bodies    map[string]Body
	byPointer map[*op.Operator]string
	executed  bool
	stopOnce  sync.Once
	metrics   Metrics
}

// New constructs an empty Plan.
func New(opts ...Option) *Plan {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	return &Plan{
		name:      o.Name,
		operators: make(map[string]*op.Operator),
		bodies:    make(map[string]Body),
		byPointer: make(map[*op.Operator]string),
	}
}

// Add constructs an *op.Operator wrapping body in the given mode, binds
// the body to it, and registers it under name. Names must be unique
// within a plan; a duplicate is a plan-construction error.
func (p *Plan) Add(name string, mode op.Mode, body Body) (*op.Operator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.operators[name]; exists {
		return nil, qerr.New(qerr.KindPlan, name, "duplicate operator name %q", name)
	}

	o := op.New(name, mode, body)
	body.Bind(o)

	p.operators[name] = o
	p.bodies[name] = body
	p.byPointer[o] = name
	return o, nil
}

// OneToOne connects a single producer to a single consumer.
func (p *Plan) OneToOne(producer, consumer *op.Operator) {
	connector.OneToOne(producer, consumer)
}

// ManyToMany broadcasts every producer's output to every consumer.
func (p *Plan) ManyToMany(producers, consumers []*op.Operator) {
	connector.ManyToMany(producers, consumers)
}

// ManyToOne fans every producer's output into a single consumer.
func (p *Plan) ManyToOne(producers []*op.Operator, consumer *op.Operator) {
	connector.ManyToOne(producers, consumer)
}

// AllToAll wires every producer to every consumer and returns the shared
// Partitioner a Map repartitioner ahead of producers uses to pick one
// destination per row instead of broadcasting.
func (p *Plan) AllToAll(producers, consumers []*op.Operator) *connector.Partitioner {
	return connector.AllToAll(producers, consumers)
}

// Operator returns the registered operator by name, or nil.
func (p *Plan) Operator(name string) *op.Operator {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.operators[name]
}

// isRegistered reports whether o was added to this plan.
func (p *Plan) isRegistered(o *op.Operator) bool {
	if o == nil {
		return false
	}
	_, ok := p.byPointer[o]
	return ok
}

// validate checks the plan-construction invariants that must hold before
// Execute: every wired consumer is itself a registered operator, and every
// HashJoinBuild is paired with a probe registered in this same plan.
func (p *Plan) validate() error {
	for name, o := range p.operators {
		for _, c := range o.Consumers() {
			if !p.isRegistered(c) {
				return qerr.New(qerr.KindPlan, name, "operator %q has an unreachable consumer not registered in this plan", name)
			}
		}
	}
	for name, body := range p.bodies {
		build, ok := body.(*physical.HashJoinBuild)
		if !ok {
			continue
		}
		if !p.isRegistered(build.Probe()) {
			return qerr.New(qerr.KindPlan, name, "hash join build %q is paired with a probe operator not registered in this plan", name)
		}
	}
	return nil
}

// topologicalOrder computes a stable topological order over the producer
// -> consumer edges among registered operators (Kahn's algorithm, ties
// broken by name for determinism), plus the subset with no producers — the
// root operators the spec has start last. A non-DAG wiring (a cycle) is a
// plan-construction error.
func (p *Plan) topologicalOrder() (order, roots []string, err error) {
	indegree := make(map[string]int, len(p.operators))
	for name := range p.operators {
		indegree[name] = 0
	}
	for _, o := range p.operators {
		for _, c := range o.Consumers() {
			if cname, ok := p.byPointer[c]; ok {
				indegree[cname]++
			}
		}
	}

	for name, d := range indegree {
		if d == 0 {
			roots = append(roots, name)
		}
	}
	sort.Strings(roots)

	ready := append([]string(nil), roots...)
	for len(ready) > 0 {
		sort.Strings(ready)
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, c := range p.operators[name].Consumers() {
			cname, ok := p.byPointer[c]
			if !ok {
				continue
			}
			indegree[cname]--
			if indegree[cname] == 0 {
				ready = append(ready, cname)
			}
		}
	}

	if len(order) != len(p.operators) {
		return nil, nil, qerr.New(qerr.KindPlan, "", "operator graph contains a cycle")
	}
	return order, roots, nil
}

// Explain validates the plan and returns its execution order without
// running it: the topological order Execute would use to drive operators
// to completion.
func (p *Plan) Explain() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.validate(); err != nil {
		return nil, err
	}
	order, _, err := p.topologicalOrder()
	if err != nil {
		return nil, err
	}
	return order, nil
}

// reversed returns a clone of names in reverse order, leaving the
// topological order Execute computed untouched for any other caller
// holding a reference to it.
func reversed(names []string) []string {
	out := slices.Clone(names)
	slices.Reverse(out)
	return out
}

// completionTap is an Inline consumer Execute attaches to every registered
// operator so it can observe each one's own Complete message without a
// shared mutable queue — the Go analogue of the teacher's single
// multiprocessing queue every operator's worker posts completions to.
type completionTap struct {
	ch chan message.Complete
}

func (t *completionTap) Bind(*op.Operator) {}

func (t *completionTap) HandleMessage(ctx context.Context, msg message.Message) error {
	if c, ok := msg.(message.Complete); ok {
		select {
		case t.ch <- c:
		case <-ctx.Done():
		}
	}
	return nil
}

// Execute runs the plan to completion: it starts workers in reverse
// topological order (consumers ready before producers, roots last), sends
// Start to the root operators, waits for every operator to report
// completion, tears down async workers, and returns the first error any
// operator raised. Execute is one-shot; calling it twice is a
// plan-construction error.
func (p *Plan) Execute(ctx context.Context) error {
	p.mu.Lock()
	if p.executed {
		p.mu.Unlock()
		return qerr.New(qerr.KindPlan, "", "plan already executed")
	}
	p.executed = true
	p.mu.Unlock()

	if err := p.validate(); err != nil {
		return err
	}
	topoOrder, roots, err := p.topologicalOrder()
	if err != nil {
		return err
	}

	execCtx, _ := runid.NewContext(ctx)
	eventbus.Publish(execCtx, events.PlanStart{Plan: p.name})
	start := time.Now()

	completeCh := make(chan message.Complete, len(p.operators))
	remaining := make(map[string]bool, len(p.operators))
	opStart := make(map[string]time.Time, len(p.operators))
	for _, name := range topoOrder {
		remaining[name] = true
	}

	startOrder := reversed(topoOrder)
	for _, name := range startOrder {
		o := p.operators[name]
		tap := op.New(name+"~completion", op.Inline, &completionTap{ch: completeCh})
		tap.Run(execCtx)
		o.AddConsumer(tap)
		opStart[name] = time.Now()
		eventbus.Publish(execCtx, events.OperatorStart{Operator: name, Mode: modeString(o.Mode)})
		o.Run(execCtx)
	}

	var firstErr error
	for _, name := range roots {
		if sendErr := p.operators[name].Send(execCtx, message.Start{}); sendErr != nil && firstErr == nil {
			firstErr = sendErr
		}
	}

waitLoop:
	for len(remaining) > 0 {
		select {
		case c := <-completeCh:
			if !remaining[c.Operator] {
				continue
			}
			delete(remaining, c.Operator)
			snap := p.operators[c.Operator].Metrics.Snapshot()
			eventbus.Publish(execCtx, events.OperatorComplete{
				Operator: c.Operator,
				Err:      c.Err,
				RowsIn:   snap.RowsIn,
				RowsOut:  snap.RowsOut,
				Duration: time.Since(opStart[c.Operator]),
			})
			if c.Err != nil && firstErr == nil {
				firstErr = c.Err
			}
		case <-execCtx.Done():
			if firstErr == nil {
				firstErr = qerr.Wrap(qerr.KindShutdown, "", execCtx.Err())
			}
			break waitLoop
		}
	}

	p.Stop()
	if joinErr := p.join(execCtx, topoOrder); joinErr != nil && firstErr == nil {
		firstErr = joinErr
	}

	duration := time.Since(start)
	p.mu.Lock()
	p.metrics = p.buildMetrics(topoOrder, duration)
	p.mu.Unlock()

	eventbus.Publish(execCtx, events.PlanFinish{Plan: p.name, Err: firstErr, Duration: duration})
	return firstErr
}

// join waits for every async operator's worker loop to exit, using
// errgroup to fan the first non-nil operator error out as Execute's
// return value — the same reader/processor/writer-pipeline join pattern
// the domain stack uses elsewhere, applied here to the operator graph
// instead of a fixed three-stage pipeline.
func (p *Plan) join(ctx context.Context, names []string) error {
	g, _ := errgroup.WithContext(ctx)
	for _, name := range names {
		o := p.operators[name]
		if o.Mode != op.Async {
			continue
		}
		g.Go(func() error {
			<-o.Done()
			return o.Err()
		})
	}
	return g.Wait()
}

// Stop broadcasts Stop to every async operator and closes its inbound
// queue, causing its worker to drain and exit without processing further
// input. Idempotent; Execute calls it internally once the plan completes
// naturally, but a caller may also call it directly to cancel early.
func (p *Plan) Stop() {
	p.stopOnce.Do(func() {
		for _, o := range p.operators {
			if o.Mode != op.Async {
				continue
			}
			_ = o.Send(context.Background(), message.Stop{})
			o.Stop()
		}
	})
}

// Metrics returns the final per-operator report. Valid only after Execute
// returns.
func (p *Plan) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

func modeString(m op.Mode) string {
	if m == op.Async {
		return "async"
	}
	return "inline"
}
