package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/charterhq/charter/internal/orchestrator/action"
	"github.com/charterhq/charter/internal/orchestrator/executor"
	"github.com/charterhq/charter/internal/orchestrator/registry"
)

// Recorder receives one entry per completed command. Implementations must be
// safe for concurrent use; parallel commands record from worker goroutines.
type Recorder interface {
	Record(ctx context.Context, sessionID, method string, result action.Result)
}

// ArtifactSaver persists capture output. Must be safe for concurrent use.
type ArtifactSaver interface {
	Save(sessionID string, data []byte) (string, error)
}

// Options tunes the dispatch loop.
type Options struct {
	// QueueSize bounds how many commands may wait for scheduling.
	QueueSize int
	// CoalesceDelay is how long the loop keeps gathering after the first
	// command of a batch arrives.
	CoalesceDelay time.Duration
	// TickInterval is the backend pump cadence while no commands arrive.
	TickInterval time.Duration
	// MaxBatch caps how many commands one batch may carry.
	MaxBatch int
	// Artifacts persists capture output when set.
	Artifacts ArtifactSaver
}

func (o *Options) withDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.CoalesceDelay <= 0 {
		o.CoalesceDelay = 2 * time.Millisecond
	}
	if o.TickInterval <= 0 {
		o.TickInterval = 25 * time.Millisecond
	}
	if o.MaxBatch <= 0 {
		o.MaxBatch = 64
	}
}

// Dispatcher schedules commands from any number of concurrent submitters.
// Serialized-affinity commands run one at a time in arrival order on the
// dispatch goroutine; parallel-affinity commands fan out to worker
// goroutines. Every live backend is pumped once per loop iteration so
// asynchronous engine work keeps progressing between commands.
type Dispatcher struct {
	reg       *registry.Registry
	exec      *executor.Executor
	rec       Recorder
	artifacts ArtifactSaver
	opts      Options

	queue    chan *PendingCommand
	stop     chan struct{}
	done     chan struct{}
	closing  atomic.Bool
	stopOnce sync.Once
	inflight sync.WaitGroup
}

// New creates a Dispatcher. rec may be nil to disable recording. Run must be
// called before submitted commands make progress.
func New(reg *registry.Registry, exec *executor.Executor, rec Recorder, opts Options) *Dispatcher {
	opts.withDefaults()
	return &Dispatcher{
		reg:       reg,
		exec:      exec,
		rec:       rec,
		artifacts: opts.Artifacts,
		opts:      opts,
		queue:     make(chan *PendingCommand, opts.QueueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Submit queues a pending command for scheduling. Blocks while the queue is
// full. Fails once shutdown has begun.
func (d *Dispatcher) Submit(p *PendingCommand) error {
	if d.closing.Load() {
		return ErrShuttingDown
	}
	select {
	case d.queue <- p:
		return nil
	case <-d.stop:
		return ErrShuttingDown
	}
}

// SubmitRaw parses one protocol line and queues it. Parse failures, unknown
// methods, and shutdown all resolve the returned pending command immediately
// with an error reply, so the caller always gets exactly one reply to write.
func (d *Dispatcher) SubmitRaw(line []byte) *PendingCommand {
	cmd, err := parseRequest(line)
	p := NewPendingCommand(cmd)
	if err != nil {
		p.resolve(encodeError(cmd.ID, err.Error()))
		return p
	}
	if _, ok := methodTable[cmd.Method]; !ok {
		p.resolve(encodeError(cmd.ID, ErrUnknownMethod.Msg(cmd.Method).Error()))
		return p
	}
	if serr := d.Submit(p); serr != nil {
		p.resolve(encodeError(cmd.ID, serr.Error()))
	}
	return p
}

// Run drives the dispatch loop until Shutdown is called or ctx ends.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	ticker := time.NewTicker(d.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.flush(ctx)
			d.inflight.Wait()
			return
		case <-d.stop:
			d.flush(ctx)
			d.inflight.Wait()
			return
		case p := <-d.queue:
			d.runBatch(ctx, d.gather(p))
			d.reg.PumpAll()
		case <-ticker.C:
			d.reg.PumpAll()
		}
	}
}

// Shutdown stops intake, lets queued and in-flight commands finish, and
// waits for the loop to exit or ctx to end.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.closing.Store(true)
	d.stopOnce.Do(func() { close(d.stop) })
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// gather collects one batch: the triggering command plus whatever else
// arrives within the coalescing window, preserving arrival order.
func (d *Dispatcher) gather(first *PendingCommand) []*PendingCommand {
	batch := []*PendingCommand{first}
	window := time.NewTimer(d.opts.CoalesceDelay)
	defer window.Stop()
	for len(batch) < d.opts.MaxBatch {
		select {
		case p := <-d.queue:
			batch = append(batch, p)
		case <-window.C:
			return batch
		}
	}
	return batch
}

// runBatch partitions one batch by affinity. Parallel commands are handed to
// worker goroutines first so they overlap the serialized stream; serialized
// commands then run inline, in arrival order.
func (d *Dispatcher) runBatch(ctx context.Context, batch []*PendingCommand) {
	serialized := batch[:0:0]
	for _, p := range batch {
		spec := methodTable[p.cmd.Method]
		if spec.affinity == affinityParallel {
			d.inflight.Add(1)
			go func(p *PendingCommand, h handlerFunc) {
				defer d.inflight.Done()
				p.resolve(d.safeHandle(ctx, h, p.cmd))
			}(p, spec.handler)
			continue
		}
		serialized = append(serialized, p)
	}
	for _, p := range serialized {
		p.resolve(d.safeHandle(ctx, methodTable[p.cmd.Method].handler, p.cmd))
	}
}

// flush drains everything still queued at shutdown and runs it to
// completion. No new commands can arrive at this point.
func (d *Dispatcher) flush(ctx context.Context) {
	for {
		select {
		case p := <-d.queue:
			d.runBatch(ctx, []*PendingCommand{p})
		default:
			return
		}
	}
}

func (d *Dispatcher) safeHandle(ctx context.Context, h handlerFunc, cmd *Command) (r reply) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Ctx(ctx).Error().Any("panic", rec).Str("method", cmd.Method).Msg("command handler panicked")
			r = encodeError(cmd.ID, "internal error handling "+cmd.Method)
		}
	}()
	return h(ctx, d, cmd)
}

func (d *Dispatcher) record(ctx context.Context, cmd *Command, res action.Result) {
	if d.rec == nil {
		return
	}
	d.rec.Record(ctx, cmd.SessionID, cmd.Method, res)
}
