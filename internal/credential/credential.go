// Package credential implements the Credential discriminated union and
// CredentialProvider (§4.4): a lazy OAuth refresh cache with TTL
// memoization, rotated-refresh-token persistence, and a proactive
// scheduler. The persisted store shape is grounded on §6's
// credentials.json (object mapping credential name to a secret string,
// file mode 0600) rather than the teacher's SQL-backed credential
// vault (Mindburn-Labs-helm's pkg/credentials.Store), since Max's
// storage engine's SQL schema is an out-of-scope collaborator (§1).
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"
)

// ErrOAuthNotRegistered is returned by Get for a name with no registered
// OAuth credential (§4.4).
var ErrOAuthNotRegistered = errors.New("credential: oauth credential not registered")

// RefreshFunc exchanges a refresh token for a new access token, and
// optionally a rotated refresh token (empty string means unchanged).
type RefreshFunc func(ctx context.Context, refreshToken string) (accessToken, refreshToken2 string, expiresIn time.Duration, err error)

// Spec describes one credential: either a plain pass-through string
// secret, or an OAuth credential with a refresh function.
type Spec struct {
	Name string

	// String credentials read straight through to the store under Name.
	IsString bool

	// OAuth credentials: AccessTokenName/RefreshTokenName are the store
	// keys holding the current tokens; Refresh exchanges the refresh
	// token for a new access token (and optionally a new refresh token).
	AccessTokenName  string
	RefreshTokenName string
	Refresh          RefreshFunc
}

// Store maps string keys to secret values (§3, §5: single-writer from
// the provider, concurrent Get is safe, concurrent Set must serialize).
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// FileStore is the §6 credentials.json-backed Store: one JSON object,
// file mode 0600, rewritten atomically on every Set.
type FileStore struct {
	mu   sync.RWMutex
	path string
	data map[string]string
}

// NewFileStore loads path if it exists, or starts empty.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, data: make(map[string]string)}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credential: read %s: %w", path, err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fs.data); err != nil {
			return nil, fmt.Errorf("credential: parse %s: %w", path, err)
		}
	}
	return fs, nil
}

var _ Store = (*FileStore)(nil)

// Get implements Store.
func (fs *FileStore) Get(key string) (string, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	v, ok := fs.data[key]
	return v, ok
}

// Set implements Store, persisting the whole map back to disk.
func (fs *FileStore) Set(key, value string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.data[key] = value
	raw, err := json.MarshalIndent(fs.data, "", "  ")
	if err != nil {
		return fmt.Errorf("credential: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(fs.path), 0o700); err != nil {
		return fmt.Errorf("credential: mkdir: %w", err)
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("credential: write: %w", err)
	}
	return os.Rename(tmp, fs.path)
}

// Handle is a lazy accessor for one credential's current secret value:
// no I/O until Get is called (§4.4).
type Handle struct {
	provider *Provider
	spec     Spec
}

// Get returns the current secret value, refreshing if the cached OAuth
// access token is expired or absent. String credentials pass through to
// the store unchanged.
func (h Handle) Get(ctx context.Context) (string, error) {
	if h.spec.IsString {
		v, ok := h.provider.store.Get(h.spec.Name)
		if !ok {
			return "", fmt.Errorf("credential: %q not found in store", h.spec.Name)
		}
		return v, nil
	}
	return h.provider.oauthValue(ctx, h.spec)
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// Provider wraps a Store and memoizes OAuth access tokens with TTL
// (§4.4): cached.value is returned iff time.Now() is before expiresAt;
// otherwise Refresh runs, the result is cached, and a rotated refresh
// token is persisted back to the store before returning.
type Provider struct {
	store Store

	mu    sync.Mutex
	specs map[string]Spec
	cache map[string]cachedToken

	// refreshGroup coalesces concurrent refresh calls for the same
	// credential name into a single in-flight Refresh, so a burst of
	// callers racing a just-expired token share one round trip instead
	// of each kicking off their own (§4.4).
	refreshGroup singleflight.Group

	schedMu sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// NewProvider wraps store.
func NewProvider(store Store) *Provider {
	return &Provider{
		store:  store,
		specs:  make(map[string]Spec),
		cache:  make(map[string]cachedToken),
		timers: make(map[string]*time.Timer),
	}
}

// Register adds an OAuth credential spec under spec.Name.
func (p *Provider) Register(spec Spec) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.specs[spec.Name] = spec
}

// Get returns a lazy Handle for the named credential; it does not read
// the store or refresh anything until Handle.Get is called.
func (p *Provider) Get(name string) (Handle, error) {
	p.mu.Lock()
	spec, ok := p.specs[name]
	p.mu.Unlock()
	if !ok {
		return Handle{}, ErrOAuthNotRegistered
	}
	return Handle{provider: p, spec: spec}, nil
}

func (p *Provider) oauthValue(ctx context.Context, spec Spec) (string, error) {
	p.mu.Lock()
	if cached, ok := p.cache[spec.Name]; ok && time.Now().Before(cached.expiresAt) {
		p.mu.Unlock()
		return cached.value, nil
	}
	p.mu.Unlock()

	// singleflight.Do coalesces every caller that misses the TTL cache
	// at the same moment onto one refresh; latecomers get the winner's
	// result instead of each spending their own round trip (§4.4).
	v, err, _ := p.refreshGroup.Do(spec.Name, func() (any, error) {
		return p.refresh(ctx, spec)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *Provider) refresh(ctx context.Context, spec Spec) (string, error) {
	rt, ok := p.store.Get(spec.RefreshTokenName)
	if !ok {
		return "", fmt.Errorf("credential: refresh token %q not found", spec.RefreshTokenName)
	}

	var at, newRT string
	var expiresIn time.Duration

	// Transient refresh failures (network blips, upstream rate limits)
	// retry with backoff rather than failing the caller outright; a
	// non-transient failure from spec.Refresh should return a
	// *backoff.PermanentError to skip the retry loop.
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	err := backoff.Retry(func() error {
		var rerr error
		at, newRT, expiresIn, rerr = spec.Refresh(ctx, rt)
		return rerr
	}, policy)
	if err != nil {
		return "", err
	}

	if err := p.store.Set(spec.AccessTokenName, at); err != nil {
		return "", err
	}
	if newRT != "" && newRT != rt {
		if err := p.store.Set(spec.RefreshTokenName, newRT); err != nil {
			return "", err
		}
	}

	p.mu.Lock()
	p.cache[spec.Name] = cachedToken{value: at, expiresAt: time.Now().Add(expiresIn)}
	p.mu.Unlock()

	p.scheduleNext(spec, expiresIn)
	return at, nil
}

// StartRefreshSchedulers begins a periodic timer per registered OAuth
// credential at 0.9*expiresIn, proactively refreshing ahead of
// expiration. A failed proactive refresh is swallowed; the next
// on-demand Get (or the next tick) retries (§4.4).
func (p *Provider) StartRefreshSchedulers(ctx context.Context, initialExpiresIn map[string]time.Duration) {
	p.mu.Lock()
	specs := make([]Spec, 0, len(p.specs))
	for _, s := range p.specs {
		if !s.IsString {
			specs = append(specs, s)
		}
	}
	p.mu.Unlock()

	for _, spec := range specs {
		d, ok := initialExpiresIn[spec.Name]
		if !ok {
			continue
		}
		p.scheduleAt(ctx, spec, time.Duration(float64(d)*0.9))
	}
}

func (p *Provider) scheduleNext(spec Spec, expiresIn time.Duration) {
	p.scheduleAt(context.Background(), spec, time.Duration(float64(expiresIn)*0.9))
}

func (p *Provider) scheduleAt(ctx context.Context, spec Spec, d time.Duration) {
	p.schedMu.Lock()
	defer p.schedMu.Unlock()
	if p.stopped {
		return
	}
	if existing, ok := p.timers[spec.Name]; ok {
		existing.Stop()
	}
	p.timers[spec.Name] = time.AfterFunc(d, func() {
		// A successful refresh schedules its own next tick; a failed one
		// is swallowed and tried again one period later.
		if _, err := p.refresh(ctx, spec); err != nil && ctx.Err() == nil {
			p.scheduleAt(ctx, spec, d)
		}
	})
}

// Stop clears every scheduled timer.
func (p *Provider) Stop() {
	p.schedMu.Lock()
	defer p.schedMu.Unlock()
	p.stopped = true
	for _, t := range p.timers {
		t.Stop()
	}
	p.timers = make(map[string]*time.Timer)
}
