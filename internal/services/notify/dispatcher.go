// Package notify runs post-label side effects on a bounded queue. Failures are reported
// on an error channel instead of being dropped.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrQueueFull = errors.New("notification queue is full")
	ErrClosed    = errors.New("notification dispatcher is closed")
)

const defaultTaskTimeout = 30 * time.Second

type Task struct {
	Name       string
	ShipmentID uint64
	Run        func(ctx context.Context) error
}

type TaskError struct {
	Task       string
	ShipmentID uint64
	Err        error
}

func (e TaskError) Error() string {
	return fmt.Sprintf("%s for shipment %d: %v", e.Task, e.ShipmentID, e.Err)
}

type Dispatcher struct {
	queue   chan Task
	errs    chan TaskError
	workers int
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

func New(queueSize, workers int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 2
	}
	return &Dispatcher{
		queue:   make(chan Task, queueSize),
		errs:    make(chan TaskError, queueSize),
		workers: workers,
		timeout: defaultTaskTimeout,
	}
}

// Start launches the workers. Tasks run under ctx values but are not cancelled with it,
// so Close can drain whatever was accepted.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	base := context.WithoutCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for t := range d.queue {
				d.run(base, t)
			}
		}()
	}
}

// Submit enqueues t without blocking.
func (d *Dispatcher) Submit(t Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Errors reports failed tasks. The channel is closed by Close once all workers are done.
func (d *Dispatcher) Errors() <-chan TaskError {
	return d.errs
}

// Close stops accepting tasks, waits for the queued ones and closes Errors.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		for t := range d.queue {
			d.report(TaskError{Task: t.Name, ShipmentID: t.ShipmentID, Err: ErrClosed})
		}
	}
	d.wg.Wait()
	close(d.errs)
}

func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

func (d *Dispatcher) run(ctx context.Context, t Task) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := safeRun(ctx, t)
	if err == nil {
		return
	}
	d.report(TaskError{Task: t.Name, ShipmentID: t.ShipmentID, Err: err})
}

// report hands te to the Errors channel. The log is the fallback for when nobody drains it.
func (d *Dispatcher) report(te TaskError) {
	select {
	case d.errs <- te:
	default:
		slog.Error("notification task failed, error channel full",
			"task", te.Task, "shipment_id", te.ShipmentID, "error", te.Err.Error())
	}
}

func safeRun(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	if t.Run == nil {
		return errors.New("task has no body")
	}
	return t.Run(ctx)
}
