// Package lifecycle implements the idempotent Lifecycle contract (§4.3):
// Start must be idempotent until a Stop runs; Stop runs unconditionally,
// best-effort. auto(deps) composes a sequence of dependencies into one
// Lifecycle whose Start walks forward (sequentially for single entries,
// concurrently for array entries) and whose Stop walks in reverse.
package lifecycle

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Lifecycle is the minimal start/stop contract every Supervised node
// composes.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Func adapts a pair of plain functions into a Lifecycle.
type Func struct {
	StartFunc func(ctx context.Context) error
	StopFunc  func(ctx context.Context) error
}

func (f Func) Start(ctx context.Context) error {
	if f.StartFunc == nil {
		return nil
	}
	return f.StartFunc(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.StopFunc == nil {
		return nil
	}
	return f.StopFunc(ctx)
}

// Idempotent wraps a Lifecycle so repeated Start calls, once Start has
// succeeded, are no-ops until Stop runs — the contract every Supervised
// node must provide regardless of how its own Start is implemented.
type Idempotent struct {
	inner   Lifecycle
	mu      sync.Mutex
	started bool
}

// NewIdempotent wraps inner.
func NewIdempotent(inner Lifecycle) *Idempotent {
	return &Idempotent{inner: inner}
}

func (i *Idempotent) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.started {
		return nil
	}
	if err := i.inner.Start(ctx); err != nil {
		return err
	}
	i.started = true
	return nil
}

func (i *Idempotent) Stop(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	err := i.inner.Stop(ctx)
	i.started = false
	return err
}

// Entry is one step of an auto()-composed lifecycle: either a single
// dependency (Concurrent == false) or a group of dependencies started
// together (Concurrent == true, Group populated).
type Entry struct {
	Single     Lifecycle
	Group      []Lifecycle
	Concurrent bool
}

// Seq wraps a single sequential dependency.
func Seq(l Lifecycle) Entry { return Entry{Single: l} }

// Par wraps a group of dependencies started/stopped concurrently as one
// entry.
func Par(ls ...Lifecycle) Entry { return Entry{Group: ls, Concurrent: true} }

// composed is the Lifecycle auto() returns.
type composed struct {
	entries []Entry
}

// Auto builds a Lifecycle whose Start walks entries forward — sequential
// entries one at a time, concurrent entries (Par) fanned out with
// errgroup — and whose Stop walks the same entries in reverse. If entry
// i's Start fails, entries 0..i-1 are left started (§4.3): the caller
// must still call Stop to reclaim them.
func Auto(entries ...Entry) Lifecycle {
	return &composed{entries: entries}
}

func (c *composed) Start(ctx context.Context) error {
	for _, e := range c.entries {
		if !e.Concurrent {
			if e.Single == nil {
				continue
			}
			if err := e.Single.Start(ctx); err != nil {
				return err
			}
			continue
		}
		g, gctx := errgroup.WithContext(ctx)
		for _, l := range e.Group {
			l := l
			g.Go(func() error { return l.Start(gctx) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (c *composed) Stop(ctx context.Context) error {
	var errs []error
	for i := len(c.entries) - 1; i >= 0; i-- {
		e := c.entries[i]
		if !e.Concurrent {
			if e.Single == nil {
				continue
			}
			if err := e.Single.Stop(ctx); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, l := range e.Group {
			l := l
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := l.Stop(ctx); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
