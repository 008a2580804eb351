package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestIdempotentStartCallsOnce(t *testing.T) {
	var calls int32
	l := NewIdempotent(Func{StartFunc: func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := l.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 underlying Start call, got %d", got)
	}

	if err := l.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start after Stop: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected a second Start call after Stop, got %d", got)
	}
}

func TestAutoStopsInReverseOrder(t *testing.T) {
	var order []string
	mk := func(name string) Lifecycle {
		return Func{
			StartFunc: func(context.Context) error { order = append(order, "start:"+name); return nil },
			StopFunc:  func(context.Context) error { order = append(order, "stop:"+name); return nil },
		}
	}

	lc := Auto(Seq(mk("a")), Seq(mk("b")), Seq(mk("c")))
	ctx := context.Background()
	if err := lc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := lc.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestAutoStopRunsAllDespiteErrors(t *testing.T) {
	var stopped []string
	mk := func(name string, stopErr error) Lifecycle {
		return Func{
			StopFunc: func(context.Context) error {
				stopped = append(stopped, name)
				return stopErr
			},
		}
	}
	lc := Auto(Seq(mk("a", errors.New("boom"))), Seq(mk("b", nil)))
	err := lc.Stop(context.Background())
	if err == nil {
		t.Fatal("expected Stop to report the underlying error")
	}
	if len(stopped) != 2 {
		t.Fatalf("expected both entries stopped despite error, got %v", stopped)
	}
}

func TestAutoStartFailureLeavesPriorEntriesStarted(t *testing.T) {
	var started []string
	mkOK := func(name string) Lifecycle {
		return Func{StartFunc: func(context.Context) error { started = append(started, name); return nil }}
	}
	failing := Func{StartFunc: func(context.Context) error { return errors.New("fail") }}

	lc := Auto(Seq(mkOK("a")), Seq(failing), Seq(mkOK("c")))
	err := lc.Start(context.Background())
	if err == nil {
		t.Fatal("expected Start to fail")
	}
	if len(started) != 1 || started[0] != "a" {
		t.Fatalf("expected only entry 'a' to have started, got %v", started)
	}
}
