package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/maxdata-sh/max/internal/connector"
	"github.com/maxdata-sh/max/internal/credential"
	"github.com/maxdata-sh/max/internal/deployer"
	"github.com/maxdata-sh/max/internal/dispatch"
	"github.com/maxdata-sh/max/internal/engine"
	"github.com/maxdata-sh/max/internal/idgen"
	"github.com/maxdata-sh/max/internal/installation"
	"github.com/maxdata-sh/max/internal/maxconfig"
	"github.com/maxdata-sh/max/internal/rpcproto"
	"github.com/maxdata-sh/max/internal/rpcproxy"
	"github.com/maxdata-sh/max/internal/transport"
	"github.com/maxdata-sh/max/internal/workspace"
	"github.com/spf13/cobra"
)

var (
	hostRole    string
	hostSpec    string
	hostDataDir string
	hostSocket  string
)

// hostCmd is the hidden entry point deployer.Subprocess re-invokes (§6):
// it binds hostSocket, serves one node (workspace or installation) over
// it, writes the readiness line, and on SIGTERM (sent when the parent
// deployer tears it down) stops the node and exits. Never invoked
// directly by an operator.
var hostCmd = &cobra.Command{
	Use:    "host",
	Short:  "Internal: run a single node out of process",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHost(rootCtx)
	},
}

func init() {
	hostCmd.Flags().StringVar(&hostRole, "role", "", "node role: workspace or installation")
	hostCmd.Flags().StringVar(&hostSpec, "spec", "", "base64-encoded JSON spec")
	hostCmd.Flags().StringVar(&hostDataDir, "data-dir", "", "per-node data directory")
	hostCmd.Flags().StringVar(&hostSocket, "socket", "", "unix socket path to bind")
	_ = hostCmd.MarkFlagRequired("role")
	_ = hostCmd.MarkFlagRequired("socket")
}

func runHost(ctx context.Context) error {
	spec, err := base64.StdEncoding.DecodeString(hostSpec)
	if err != nil {
		return fmt.Errorf("decode --spec: %w", err)
	}

	var caller rpcproto.Caller
	switch hostRole {
	case "installation":
		caller, err = buildInstallationHost(ctx, spec)
	case "workspace":
		caller, err = buildWorkspaceHost(ctx, spec)
	default:
		err = fmt.Errorf("unknown --role %q", hostRole)
	}
	if err != nil {
		return err
	}

	listener, err := transport.ListenUnix(hostSocket)
	if err != nil {
		return fmt.Errorf("listen %s: %w", hostSocket, err)
	}
	srv := &transport.Server{Caller: caller}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(listener) }()

	fmt.Println(hostSocket)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			slog.Error("host: rpc server failed", "error", err)
		}
	}
	if resp := caller.Call(rpcproto.Request{ID: "host-shutdown", Target: rpcproto.TargetRoot, Method: "stop"}); !resp.Ok {
		slog.Error("host: stop node failed", "error", string(resp.Error))
	}
	return srv.Close()
}

func buildInstallationHost(ctx context.Context, spec json.RawMessage) (rpcproto.Caller, error) {
	var locator connector.Locator
	if err := json.Unmarshal(spec, &locator); err != nil {
		return nil, fmt.Errorf("installation host: decode spec: %w", err)
	}
	c, ok := registeredConnectors.Get(locator.Connector)
	if !ok {
		return nil, fmt.Errorf("installation host: unknown connector %q", locator.Connector)
	}

	credStore, err := credential.NewFileStore(filepath.Join(hostDataDir, "credentials.json"))
	if err != nil {
		return nil, fmt.Errorf("installation host: credential store: %w", err)
	}
	instance, err := c.Initialise(ctx, locator.Config, credential.NewProvider(credStore))
	if err != nil {
		return nil, fmt.Errorf("installation host: initialise connector: %w", err)
	}

	cfg, err := maxconfig.Load(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("installation host: load config: %w", err)
	}
	var eng engine.Engine = engine.NewMemoryEngine(instance.Schema)
	if !cfg.GetBool("cache.disabled") {
		ttl := time.Duration(cfg.GetInt("cache.ttlSeconds")) * time.Second
		eng = engine.NewCachedEngine(eng, ttl)
	}

	// The Supervisor assigns identity only after Create returns (§4.8),
	// so a freshly spawned subprocess does not yet know its own id.
	im := installation.New("", "", locator.Connector, locator.Config, instance, eng, idgen.UUIDGenerator{})
	return &dispatch.Dispatcher{
		Domain: "installation",
		Root:   installation.RPCHandlers{Max: im},
		Engine: im.Engine(),
	}, nil
}

func buildWorkspaceHost(ctx context.Context, spec json.RawMessage) (rpcproto.Caller, error) {
	var named struct {
		Name string `json:"name"`
	}
	_ = json.Unmarshal(spec, &named)

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("workspace host: resolve executable: %w", err)
	}
	installationDeployers := deployer.NewRegistry[installation.Client]()
	installationDeployers.Register(&deployer.Subprocess[installation.Client]{
		KindValue: "subprocess",
		Binary:    self,
		Role:      "installation",
		Wrap: func(caller rpcproto.Caller, conn interface{ Close() error }) installation.Client {
			return rpcproxy.NewInstallationProxy(caller, nil, idgen.UUIDGenerator{})
		},
	})

	cfg, err := maxconfig.Load(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("workspace host: load config: %w", err)
	}
	registryDir := filepath.Join(hostDataDir, "installations")
	m := workspace.New("", named.Name, registeredConnectors, installationDeployers, idgen.UUIDGenerator{}, registryDir, cfg.GetInt("sync.concurrency"))
	if err := m.Start(ctx); err != nil {
		return nil, fmt.Errorf("workspace host: start: %w", err)
	}
	return m.Dispatcher(), nil
}
