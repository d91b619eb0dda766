// Package workerpool runs the save pipeline's per-document-kind bulk
// command groups (spec §5: "within a state, document kinds are
// unordered") on a bounded set of goroutines, so a saveChanges call with
// many document kinds in one state doesn't spawn one goroutine per kind
// unbounded.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is one save group: a document kind's slice of bulk commands for a
// single lifecycle state, run under the caller's context.
type Task struct {
	ID      string
	Fn      func(context.Context) error
	Context context.Context
}

// Pool runs Tasks on a fixed-size goroutine set backed by a bounded queue.
type Pool struct {
	label    string
	workers  int
	queue    chan Task
	capacity int
	log      *zap.Logger

	wg       sync.WaitGroup
	closeOnce sync.Once
	done     chan struct{}

	running   int32
	submitted uint64
	succeeded uint64
	errored   uint64
	dropped   uint64
}

// WorkerPool is an alias kept for call sites that predate the Pool rename;
// both names refer to the same type.
type WorkerPool = Pool

// Config configures a Pool.
type Config struct {
	Name       string
	MaxWorkers int
	QueueSize  int
	Logger     *zap.Logger
}

// NewWorkerPool starts a Pool with cfg.MaxWorkers goroutines draining a
// queue of depth cfg.QueueSize. Zero or negative values fall back to
// defaults sized for the save pipeline's typical document-kind fan-out.
func NewWorkerPool(cfg *Config) *Pool {
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = 8
	}
	depth := cfg.QueueSize
	if depth <= 0 {
		depth = 128
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	p := &Pool{
		label:    cfg.Name,
		workers:  workers,
		capacity: depth,
		queue:    make(chan Task, depth),
		log:      log,
		done:     make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}

	p.log.Info("save worker pool started",
		zap.String("pool", p.label),
		zap.Int("workers", p.workers),
		zap.Int("queue_depth", p.capacity))

	return p
}

func (p *Pool) run(workerID int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.perform(workerID, task)
		}
	}
}

func (p *Pool) perform(workerID int, task Task) {
	atomic.AddInt32(&p.running, 1)
	defer atomic.AddInt32(&p.running, -1)

	start := time.Now()
	err := p.guard(task)
	elapsed := time.Since(start)

	fields := []zap.Field{
		zap.String("pool", p.label),
		zap.Int("worker", workerID),
		zap.String("task", task.ID),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		atomic.AddUint64(&p.errored, 1)
		p.log.Error("save group task failed", append(fields, zap.Error(err))...)
		return
	}
	atomic.AddUint64(&p.succeeded, 1)
	p.log.Debug("save group task completed", fields...)
}

// guard runs task.Fn, converting a panic into an error so one bad group
// never takes down a worker goroutine that the rest of the pipeline still
// depends on.
func (p *Pool) guard(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("save group %q panicked: %v", task.ID, r)
			p.log.Error("save group task panicked", zap.String("pool", p.label), zap.String("task", task.ID), zap.Any("panic", r))
		}
	}()

	if task.Context == nil {
		task.Context = context.Background()
	}
	return task.Fn(task.Context)
}

// Submit enqueues task without blocking. It fails if the pool is stopped
// or the queue is momentarily full.
func (p *Pool) Submit(task Task) error {
	select {
	case <-p.done:
		atomic.AddUint64(&p.dropped, 1)
		return fmt.Errorf("save worker pool %q is stopped", p.label)
	default:
	}

	select {
	case p.queue <- task:
		atomic.AddUint64(&p.submitted, 1)
		return nil
	default:
		atomic.AddUint64(&p.dropped, 1)
		return fmt.Errorf("save worker pool %q queue is full", p.label)
	}
}

// SubmitWithContext enqueues task, blocking until a slot frees up, the
// pool stops, or ctx is cancelled — saveChanges uses this so a transient
// queue-full moment backpressures the caller instead of failing the group.
func (p *Pool) SubmitWithContext(ctx context.Context, task Task) error {
	select {
	case <-p.done:
		atomic.AddUint64(&p.dropped, 1)
		return fmt.Errorf("save worker pool %q is stopped", p.label)
	default:
	}

	select {
	case <-p.done:
		atomic.AddUint64(&p.dropped, 1)
		return fmt.Errorf("save worker pool %q is stopped", p.label)
	case <-ctx.Done():
		atomic.AddUint64(&p.dropped, 1)
		return ctx.Err()
	case p.queue <- task:
		atomic.AddUint64(&p.submitted, 1)
		return nil
	}
}

// TrySubmit is Submit without an error return, for callers that only care
// whether the task was accepted.
func (p *Pool) TrySubmit(task Task) bool {
	return p.Submit(task) == nil
}

// Stop closes the pool and waits for in-flight tasks to finish, up to
// timeout. Safe to call more than once; only the first call has effect.
func (p *Pool) Stop(timeout time.Duration) error {
	var err error
	p.closeOnce.Do(func() {
		p.log.Info("stopping save worker pool", zap.String("pool", p.label))
		close(p.done)

		finished := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(finished)
		}()

		select {
		case <-finished:
			p.log.Info("save worker pool stopped", zap.String("pool", p.label))
		case <-time.After(timeout):
			err = fmt.Errorf("save worker pool %q did not stop within %v", p.label, timeout)
			p.log.Warn("save worker pool stop timed out", zap.String("pool", p.label))
		}
	})
	return err
}

// Stats snapshots the pool's counters for reporting.
func (p *Pool) Stats() Stats {
	return Stats{
		Name:      p.label,
		Workers:   p.workers,
		Active:    int(atomic.LoadInt32(&p.running)),
		Capacity:  p.capacity,
		Queued:    len(p.queue),
		Submitted: atomic.LoadUint64(&p.submitted),
		Succeeded: atomic.LoadUint64(&p.succeeded),
		Errored:   atomic.LoadUint64(&p.errored),
		Dropped:   atomic.LoadUint64(&p.dropped),
	}
}

// Stats is a point-in-time snapshot of a Pool's throughput.
type Stats struct {
	Name      string
	Workers   int
	Active    int
	Capacity  int
	Queued    int
	Submitted uint64
	Succeeded uint64
	Errored   uint64
	Dropped   uint64
}

// QueueUtilization is the fraction of queue capacity currently occupied,
// as a percentage.
func (s Stats) QueueUtilization() float64 {
	if s.Capacity == 0 {
		return 0
	}
	return (float64(s.Queued) / float64(s.Capacity)) * 100.0
}

// WorkerUtilization is the fraction of workers currently busy, as a
// percentage.
func (s Stats) WorkerUtilization() float64 {
	if s.Workers == 0 {
		return 0
	}
	return (float64(s.Active) / float64(s.Workers)) * 100.0
}

// SuccessRate is the fraction of submitted tasks that completed without
// error, as a percentage. A pool that has run nothing reports 100.
func (s Stats) SuccessRate() float64 {
	if s.Submitted == 0 {
		return 100.0
	}
	return (float64(s.Succeeded) / float64(s.Submitted)) * 100.0
}
