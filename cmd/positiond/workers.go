package main

import (
	"context"
	"sync"
)

// workers runs long-lived loops on a shared context. Stop cancels them and
// returns only after every loop has returned.
type workers struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	errc   chan error
}

func newWorkers(parent context.Context, n int) *workers {
	ctx, cancel := context.WithCancel(parent)
	return &workers{ctx: ctx, cancel: cancel, errc: make(chan error, n)}
}

// Go starts fn. At most n loops may be started.
func (w *workers) Go(fn func(context.Context) error) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.errc <- fn(w.ctx)
	}()
}

// Err delivers each loop's return value.
func (w *workers) Err() <-chan error { return w.errc }

func (w *workers) Stop() {
	w.cancel()
	w.wg.Wait()
}
