package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkersStopWaitsForLoops(t *testing.T) {
	wk := newWorkers(context.Background(), 2)

	var finished atomic.Int32
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(100 * time.Millisecond)
		finished.Add(1)
		return ctx.Err()
	}
	wk.Go(slow)
	wk.Go(slow)

	wk.Stop()
	assert.Equal(t, int32(2), finished.Load())
}

func TestWorkersStopOnParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	wk := newWorkers(parent, 1)
	wk.Go(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	cancel()
	select {
	case err := <-wk.Err():
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on parent cancel")
	}
	wk.Stop()
}

func TestWorkersReportError(t *testing.T) {
	wk := newWorkers(context.Background(), 2)
	boom := errors.New("bind failed")
	wk.Go(func(context.Context) error { return boom })
	wk.Go(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	select {
	case err := <-wk.Err():
		require.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("no error delivered")
	}
	wk.Stop()
}
