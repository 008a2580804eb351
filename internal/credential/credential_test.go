package credential

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type memStore struct {
	data map[string]string
}

func newMemStore(seed map[string]string) *memStore {
	m := &memStore{data: make(map[string]string)}
	for k, v := range seed {
		m.data[k] = v
	}
	return m
}

func (m *memStore) Get(key string) (string, bool) { v, ok := m.data[key]; return v, ok }
func (m *memStore) Set(key, value string) error   { m.data[key] = value; return nil }

func TestOAuthRefreshRotatesAndPersistsRefreshToken(t *testing.T) {
	store := newMemStore(map[string]string{"refresh_token": "rt-old"})
	calls := 0
	p := NewProvider(store)
	p.Register(Spec{
		Name:             "acme",
		AccessTokenName:  "access_token",
		RefreshTokenName: "refresh_token",
		Refresh: func(ctx context.Context, rt string) (string, string, time.Duration, error) {
			calls++
			if rt != "rt-old" {
				t.Fatalf("expected refresh called with rt-old, got %s", rt)
			}
			return "at-new", "rt-new", time.Hour, nil
		},
	})

	h, err := p.Get("acme")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	at, err := h.Get(context.Background())
	if err != nil {
		t.Fatalf("Handle.Get: %v", err)
	}
	if at != "at-new" {
		t.Fatalf("expected at-new, got %s", at)
	}
	if got, _ := store.Get("refresh_token"); got != "rt-new" {
		t.Fatalf("expected store refresh_token rotated to rt-new, got %s", got)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 refresh call, got %d", calls)
	}
}

func TestOAuthGetWithinTTLDoesNotRefreshAgain(t *testing.T) {
	store := newMemStore(map[string]string{"refresh_token": "rt-old"})
	calls := 0
	p := NewProvider(store)
	p.Register(Spec{
		Name:             "acme",
		AccessTokenName:  "access_token",
		RefreshTokenName: "refresh_token",
		Refresh: func(ctx context.Context, rt string) (string, string, time.Duration, error) {
			calls++
			return "at-1", "", time.Hour, nil
		},
	})

	h, _ := p.Get("acme")
	for i := 0; i < 5; i++ {
		if _, err := h.Get(context.Background()); err != nil {
			t.Fatalf("Handle.Get: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 refresh call within TTL across 5 gets, got %d", calls)
	}
}

func TestOAuthConcurrentRefreshCallersCoalesce(t *testing.T) {
	store := newMemStore(map[string]string{"refresh_token": "rt-old"})
	var calls int32
	release := make(chan struct{})
	p := NewProvider(store)
	p.Register(Spec{
		Name:             "acme",
		AccessTokenName:  "access_token",
		RefreshTokenName: "refresh_token",
		Refresh: func(ctx context.Context, rt string) (string, string, time.Duration, error) {
			atomic.AddInt32(&calls, 1)
			<-release
			return "at-new", "", time.Hour, nil
		},
	})

	h, _ := p.Get("acme")
	const racers = 10
	var wg sync.WaitGroup
	results := make([]string, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := h.Get(context.Background())
			if err != nil {
				t.Errorf("Handle.Get: %v", err)
				return
			}
			results[i] = v
		}(i)
	}
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected racing callers to coalesce into 1 refresh call, got %d", got)
	}
	for i, v := range results {
		if v != "at-new" {
			t.Fatalf("racer %d got %q, expected at-new", i, v)
		}
	}
}

func TestOAuthRefreshRetriesTransientFailure(t *testing.T) {
	store := newMemStore(map[string]string{"refresh_token": "rt-old"})
	var calls int32
	p := NewProvider(store)
	p.Register(Spec{
		Name:             "acme",
		AccessTokenName:  "access_token",
		RefreshTokenName: "refresh_token",
		Refresh: func(ctx context.Context, rt string) (string, string, time.Duration, error) {
			n := atomic.AddInt32(&calls, 1)
			if n < 3 {
				return "", "", 0, errors.New("transient upstream error")
			}
			return "at-new", "", time.Hour, nil
		},
	})

	h, _ := p.Get("acme")
	at, err := h.Get(context.Background())
	if err != nil {
		t.Fatalf("Handle.Get: %v", err)
	}
	if at != "at-new" {
		t.Fatalf("expected at-new after retries, got %s", at)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts before success, got %d", got)
	}
}

func TestUnregisteredOAuthReturnsSentinel(t *testing.T) {
	p := NewProvider(newMemStore(nil))
	_, err := p.Get("ghost")
	if err != ErrOAuthNotRegistered {
		t.Fatalf("expected ErrOAuthNotRegistered, got %v", err)
	}
}
