package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/subrelay/internal/jobs"
)

type fakeRegistry struct {
	startErr error
	started  bool
	closed   bool
}

func (f *fakeRegistry) Start() error {
	f.started = true
	return f.startErr
}

func (f *fakeRegistry) Close() error {
	f.closed = true
	return nil
}

type fakeQueue struct {
	mu      sync.Mutex
	started bool
	stopped bool
}

func (f *fakeQueue) Start(jobs.Executor) {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
}

func (f *fakeQueue) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

type fakeHTTP struct {
	listenErr    error
	listenCalled chan struct{}
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

func newFakeHTTP() *fakeHTTP {
	return &fakeHTTP{
		listenCalled: make(chan struct{}),
		shutdownCh:   make(chan struct{}),
	}
}

func (f *fakeHTTP) ListenAndServe(string) error {
	close(f.listenCalled)
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.shutdownCh
	return http.ErrServerClosed
}

func (f *fakeHTTP) Shutdown(context.Context) error {
	f.shutdownOnce.Do(func() { close(f.shutdownCh) })
	return nil
}

type fakeMetrics struct {
	*fakeHTTP
}

func (f fakeMetrics) ListenAndServe() error {
	return f.fakeHTTP.ListenAndServe("")
}

func TestRunWithComponents_StartsAndStopsEverything(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := &fakeRegistry{}
	queue := &fakeQueue{}
	api := newFakeHTTP()
	metricsSrv := fakeMetrics{newFakeHTTP()}

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- runWithComponents(ctx, components{
			registry: registry,
			queue:    queue,
			api:      api,
			apiAddr:  "127.0.0.1:0",
			metrics:  metricsSrv,
		})
	}()

	for _, ch := range []chan struct{}{api.listenCalled, metricsSrv.listenCalled} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("server did not start")
		}
	}

	cancel()

	select {
	case err := <-doneCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runWithComponents did not exit after cancellation")
	}

	assert.True(t, registry.started)
	assert.True(t, registry.closed)
	assert.True(t, queue.started)
	assert.True(t, queue.stopped)
}

func TestRunWithComponents_RegistryStartFailure(t *testing.T) {
	queue := &fakeQueue{}
	err := runWithComponents(context.Background(), components{
		registry: &fakeRegistry{startErr: errors.New("another instance holds the lock")},
		queue:    queue,
		api:      newFakeHTTP(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start session registry")
	assert.False(t, queue.started)
}

func TestRunWithComponents_ServerFailureShutsDown(t *testing.T) {
	registry := &fakeRegistry{}
	queue := &fakeQueue{}
	api := newFakeHTTP()
	api.listenErr = errors.New("address already in use")

	err := runWithComponents(context.Background(), components{
		registry: registry,
		queue:    queue,
		api:      api,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address already in use")
	assert.True(t, registry.closed)
	assert.True(t, queue.stopped)
}
