package transport

import (
	"context"
	"testing"
	"time"
)

func TestJobsRegistryRunsTask(t *testing.T) {
	t.Parallel()
	r := NewJobsRegistry()
	done := make(chan struct{})
	r.Add(InetAddr{IP: "10.0.0.1", Port: 9042}, true, func(ctx context.Context) {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestJobsRegistryNoReplaceLeavesExistingRunning(t *testing.T) {
	t.Parallel()
	r := NewJobsRegistry()
	key := InetAddr{IP: "10.0.0.1", Port: 9042}

	started := make(chan struct{})
	release := make(chan struct{})
	r.Add(key, true, func(ctx context.Context) {
		close(started)
		<-release
	})
	<-started

	secondRan := make(chan struct{})
	r.Add(key, false, func(ctx context.Context) { close(secondRan) })

	select {
	case <-secondRan:
		t.Fatal("replace=false must not start a second task while one is live")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
}

func TestJobsRegistryReplaceCancelsPrior(t *testing.T) {
	t.Parallel()
	r := NewJobsRegistry()
	key := InetAddr{IP: "10.0.0.1", Port: 9042}

	started := make(chan struct{})
	canceled := make(chan struct{})
	r.Add(key, true, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(canceled)
	})
	<-started

	secondRan := make(chan struct{})
	r.Add(key, true, func(ctx context.Context) { close(secondRan) })

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("prior task was never cancelled")
	}
	select {
	case <-secondRan:
	case <-time.After(time.Second):
		t.Fatal("replacement task never ran")
	}
}

func TestJobsRegistryShowJobs(t *testing.T) {
	t.Parallel()
	r := NewJobsRegistry()
	key := InetAddr{IP: "10.0.0.1", Port: 9042}
	release := make(chan struct{})
	started := make(chan struct{})
	r.Add(key, true, func(ctx context.Context) {
		close(started)
		<-release
	})
	<-started

	keys := r.ShowJobs()
	if len(keys) != 1 || keys[0] != key {
		t.Fatalf("expected [%v], got %v", key, keys)
	}
	close(release)
}

func TestJobsRegistryDestroyCancelsAll(t *testing.T) {
	t.Parallel()
	r := NewJobsRegistry()
	canceled := make(chan struct{})
	r.Add(InetAddr{IP: "10.0.0.1", Port: 9042}, true, func(ctx context.Context) {
		<-ctx.Done()
		close(canceled)
	})

	r.Destroy()

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("Destroy must cancel all live tasks")
	}
}
