// Package deployer implements the stateless deployment-strategy
// factories of §4.8: in-process (direct object construction),
// subprocess (spawn a child process speaking the §6 subprocess
// contract over a Unix socket), and remote (connect-only, over the
// same JSONL protocol via TCP — the Open Questions resolution in §14
// of the project notes, since source leaves the remote wire format
// unspecified beyond "coincident with the subprocess protocol").
// Subprocess spawning is grounded on the teacher's use of
// exec.CommandContext plus signal.NotifyContext for graceful shutdown
// in cmd/bd/main.go.
package deployer

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/maxdata-sh/max/internal/ids"
	"github.com/maxdata-sh/max/internal/maxerr"
	"github.com/maxdata-sh/max/internal/nodehandle"
	"github.com/maxdata-sh/max/internal/rpcproto"
	"github.com/maxdata-sh/max/internal/transport"
)

// Config is a deployer's opaque, persisted configuration (§6: stored
// verbatim in a registry entry so it can reconstitute across restarts).
type Config map[string]any

// Deployer is a stateless factory bound to one DeployerKind (§4.8). It
// has no memory and does not assign identity — Supervisor does that
// after Create/Connect returns.
type Deployer[R nodehandle.Supervised] interface {
	Kind() ids.DeployerKind
	Create(ctx context.Context, config Config, spec json.RawMessage) (nodehandle.UnlabelledHandle[R], error)
	Connect(ctx context.Context, config Config, spec json.RawMessage) (nodehandle.UnlabelledHandle[R], error)
	Teardown(ctx context.Context, config Config, spec json.RawMessage) error
}

// InProcess builds R directly in this process, with no RPC indirection.
type InProcess[R nodehandle.Supervised] struct {
	KindValue ids.DeployerKind
	Build     func(ctx context.Context, config Config, spec json.RawMessage) (R, error)
}

func (d InProcess[R]) Kind() ids.DeployerKind { return d.KindValue }

func (d InProcess[R]) Create(ctx context.Context, config Config, spec json.RawMessage) (nodehandle.UnlabelledHandle[R], error) {
	client, err := d.Build(ctx, config, spec)
	if err != nil {
		var zero nodehandle.UnlabelledHandle[R]
		return zero, err
	}
	return nodehandle.UnlabelledHandle[R]{DeployerKind: d.KindValue, Client: client}, nil
}

func (d InProcess[R]) Connect(ctx context.Context, config Config, spec json.RawMessage) (nodehandle.UnlabelledHandle[R], error) {
	var zero nodehandle.UnlabelledHandle[R]
	return zero, maxerr.NotImplementedError("deployer", "in-process deployer does not support connect")
}

func (d InProcess[R]) Teardown(ctx context.Context, config Config, spec json.RawMessage) error {
	return nil
}

// Wrap adapts an rpcproto.Caller (a transport, or another dispatcher) and
// the underlying connection into the level-specific typed client R. Each
// level supplies its own Wrap (e.g. building an InstallationClient proxy
// over the caller).
type Wrap[R any] func(caller rpcproto.Caller, conn interface{ Close() error }) R

// Subprocess spawns a child process per the §6 contract: a role flag, a
// base64-JSON spec, a data directory, and a Unix socket path. The child
// binds the socket, installs a dispatcher, and writes one readiness line
// "{socketPath}\n" to stdout before this deployer dials it.
type Subprocess[R nodehandle.Supervised] struct {
	KindValue ids.DeployerKind
	Binary    string // usually the current executable, re-invoked as "host --role ..."
	Role      string
	Wrap      Wrap[R]

	mu   sync.Mutex
	pids map[string]*exec.Cmd // socketPath -> running subprocess, for Teardown
}

func (d *Subprocess[R]) Kind() ids.DeployerKind { return d.KindValue }

func (d *Subprocess[R]) Create(ctx context.Context, config Config, spec json.RawMessage) (nodehandle.UnlabelledHandle[R], error) {
	var zero nodehandle.UnlabelledHandle[R]

	dataDir, _ := config["dataDir"].(string)
	socketPath, _ := config["socketPath"].(string)
	if dataDir == "" || socketPath == "" {
		return zero, maxerr.BadInputError("deployer", "subprocess config requires dataDir and socketPath")
	}

	cmd := exec.CommandContext(ctx, d.Binary, "host",
		"--role", d.Role,
		"--spec", base64.StdEncoding.EncodeToString(spec),
		"--data-dir", dataDir,
		"--socket", socketPath,
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return zero, fmt.Errorf("deployer: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return zero, fmt.Errorf("deployer: start subprocess: %w", err)
	}

	line, err := bufio.NewReader(stdout).ReadString('\n')
	if err != nil {
		_ = cmd.Process.Kill()
		return zero, fmt.Errorf("deployer: waiting for readiness line: %w", err)
	}
	readySocket := strings.TrimSpace(line)
	if readySocket == "" {
		readySocket = socketPath
	}

	conn, err := net.DialTimeout("unix", readySocket, 5*time.Second)
	if err != nil {
		_ = cmd.Process.Kill()
		return zero, fmt.Errorf("deployer: dial subprocess socket: %w", err)
	}

	d.mu.Lock()
	if d.pids == nil {
		d.pids = make(map[string]*exec.Cmd)
	}
	d.pids[readySocket] = cmd
	d.mu.Unlock()

	tr := transport.New(conn)
	client := d.Wrap(transport.CallerAdapter{Transport: tr}, tr)
	return nodehandle.UnlabelledHandle[R]{DeployerKind: d.KindValue, Client: client}, nil
}

// Connect dials an already-running subprocess's socket without spawning
// it, used during startup reconciliation when the registry's persisted
// config still points at a live socket.
func (d *Subprocess[R]) Connect(ctx context.Context, config Config, spec json.RawMessage) (nodehandle.UnlabelledHandle[R], error) {
	var zero nodehandle.UnlabelledHandle[R]
	socketPath, _ := config["socketPath"].(string)
	if socketPath == "" {
		return zero, maxerr.BadInputError("deployer", "subprocess config requires socketPath")
	}
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return zero, fmt.Errorf("deployer: connect to subprocess socket: %w", err)
	}
	tr := transport.New(conn)
	client := d.Wrap(transport.CallerAdapter{Transport: tr}, tr)
	return nodehandle.UnlabelledHandle[R]{DeployerKind: d.KindValue, Client: client}, nil
}

// Teardown sends SIGTERM to the subprocess bound to config's socketPath,
// per the §6 contract (child calls client.stop() then exits 0 on
// SIGTERM). Teardown is best-effort: an already-exited process is not an
// error.
func (d *Subprocess[R]) Teardown(ctx context.Context, config Config, spec json.RawMessage) error {
	socketPath, _ := config["socketPath"].(string)
	d.mu.Lock()
	cmd, ok := d.pids[socketPath]
	if ok {
		delete(d.pids, socketPath)
	}
	d.mu.Unlock()
	if !ok || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return nil
	}
	_ = cmd.Wait()
	return nil
}

// Remote connects to an already-running node over TCP speaking the same
// JSONL envelope as Subprocess (§9 Open Questions: remote deployers are
// connect-only with no teardown).
type Remote[R nodehandle.Supervised] struct {
	KindValue ids.DeployerKind
	Wrap      Wrap[R]
}

func (d Remote[R]) Kind() ids.DeployerKind { return d.KindValue }

func (d Remote[R]) Create(ctx context.Context, config Config, spec json.RawMessage) (nodehandle.UnlabelledHandle[R], error) {
	var zero nodehandle.UnlabelledHandle[R]
	return zero, maxerr.NotImplementedError("deployer", "remote deployer does not support create")
}

func (d Remote[R]) Connect(ctx context.Context, config Config, spec json.RawMessage) (nodehandle.UnlabelledHandle[R], error) {
	var zero nodehandle.UnlabelledHandle[R]
	addr, _ := config["address"].(string)
	if addr == "" {
		return zero, maxerr.BadInputError("deployer", "remote config requires address")
	}
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return zero, fmt.Errorf("deployer: dial remote %s: %w", addr, err)
	}
	tr := transport.New(conn)
	client := d.Wrap(transport.CallerAdapter{Transport: tr}, tr)
	return nodehandle.UnlabelledHandle[R]{DeployerKind: d.KindValue, Client: client}, nil
}

func (d Remote[R]) Teardown(ctx context.Context, config Config, spec json.RawMessage) error {
	return nil
}

// Registry maps DeployerKind to Deployer, the "named deployment
// strategies -> handle factories" table each level consults to resolve
// `via` on createInstallation/createWorkspace (§2, §4.9). Grounded on
// the teacher's internal/storage/factory backend registry.
type Registry[R nodehandle.Supervised] struct {
	mu        sync.RWMutex
	deployers map[ids.DeployerKind]Deployer[R]
}

// NewRegistry builds an empty Registry.
func NewRegistry[R nodehandle.Supervised]() *Registry[R] {
	return &Registry[R]{deployers: make(map[ids.DeployerKind]Deployer[R])}
}

// Register adds d under its own Kind.
func (r *Registry[R]) Register(d Deployer[R]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deployers[d.Kind()] = d
}

// Get resolves kind to its Deployer.
func (r *Registry[R]) Get(kind ids.DeployerKind) (Deployer[R], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.deployers[kind]
	if !ok {
		return nil, maxerr.NotFoundError("deployer", "deployerKind", string(kind))
	}
	return d, nil
}
