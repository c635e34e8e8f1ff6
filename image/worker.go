package image

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrStopped is returned by Do after the worker has been stopped.
var ErrStopped = errors.New("image worker stopped")

// request represents a unit of work to be executed on the worker goroutine.
type request struct {
	fn   func() (interface{}, error)
	done chan result
}

// result holds the return value from a worker operation.
type result struct {
	value interface{}
	err   error
}

// Worker serializes all access to an image through a single goroutine.
// Unit tables and the interpreter are not safe for concurrent use; every
// operation that touches them must go through Do.
type Worker struct {
	requests chan request
	quit     chan struct{}
	stop     sync.Once
}

// NewWorker creates a Worker and starts the processing goroutine.
func NewWorker() *Worker {
	w := &Worker{
		requests: make(chan request, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially on a dedicated goroutine.
func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn, recovering from panics.
func (w *Worker) execute(fn func() (interface{}, error)) (res result) {
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("panic in image worker: %v", r)
		}
	}()
	res.value, res.err = fn()
	return res
}

// Do submits fn for execution on the worker goroutine and blocks until it
// completes. If ctx ends first Do returns ctx.Err(); a request that was
// already queued still runs to completion.
func (w *Worker) Do(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	req := request{
		fn:   fn,
		done: make(chan result, 1),
	}
	select {
	case w.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.quit:
		return nil, ErrStopped
	}
	select {
	case res := <-req.done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.quit:
		return nil, ErrStopped
	}
}

// Stop shuts down the worker goroutine. Safe to call more than once.
func (w *Worker) Stop() {
	w.stop.Do(func() { close(w.quit) })
}
