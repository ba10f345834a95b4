package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/chazu/mvm/vm"
)

var errWorkerStopped = errors.New("worker stopped")

// RunFunc is a unit of work for the worker. It receives the caller's
// context and should return once that context is done.
type RunFunc func(ctx context.Context, v *vm.VM) (any, error)

type job struct {
	ctx   context.Context
	run   RunFunc
	reply chan reply
}

type reply struct {
	value any
	err   error
}

// Worker serializes program runs through a single goroutine, so submitted
// programs never observe each other's side effects on the host.
type Worker struct {
	vm   *vm.VM
	jobs chan job
	quit chan struct{}
}

// NewWorker creates a Worker and starts its goroutine.
func NewWorker(v *vm.VM) *Worker {
	w := &Worker{
		vm:   v,
		jobs: make(chan job, 64),
		quit: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	for {
		select {
		case j := <-w.jobs:
			// Abandoned while queued.
			if err := j.ctx.Err(); err != nil {
				j.reply <- reply{err: err}
				continue
			}
			j.reply <- w.execute(j)
		case <-w.quit:
			return
		}
	}
}

func (w *Worker) execute(j job) (r reply) {
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("worker: recovered from panic: %v", p)
			r = reply{err: fmt.Errorf("panic: %v", p)}
		}
	}()
	r.value, r.err = j.run(j.ctx, w.vm)
	return r
}

// Do queues run and waits for its reply. A ctx that ends while the job is
// queued skips it; once started, run itself is responsible for stopping.
func (w *Worker) Do(ctx context.Context, run RunFunc) (any, error) {
	select {
	case <-w.quit:
		return nil, errWorkerStopped
	default:
	}
	j := job{ctx: ctx, run: run, reply: make(chan reply, 1)}
	select {
	case w.jobs <- j:
	case <-w.quit:
		return nil, errWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-j.reply:
		return r.value, r.err
	case <-w.quit:
		return nil, errWorkerStopped
	}
}

// Stop ends the worker goroutine. Queued jobs are dropped.
func (w *Worker) Stop() {
	close(w.quit)
}
