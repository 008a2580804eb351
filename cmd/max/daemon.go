package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/maxdata-sh/max/internal/connector"
	"github.com/maxdata-sh/max/internal/deployer"
	"github.com/maxdata-sh/max/internal/global"
	"github.com/maxdata-sh/max/internal/idgen"
	"github.com/maxdata-sh/max/internal/installation"
	"github.com/maxdata-sh/max/internal/maxconfig"
	"github.com/maxdata-sh/max/internal/rpcproto"
	"github.com/maxdata-sh/max/internal/rpcproxy"
	"github.com/maxdata-sh/max/internal/telemetry"
	"github.com/maxdata-sh/max/internal/transport"
	"github.com/maxdata-sh/max/internal/workspace"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the GlobalMax daemon, listening on .max/max.sock",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(rootCtx)
	},
}

// registeredConnectors is the daemon's connector table. No concrete
// connector ships in this repo (business logic behind a specific
// upstream integration is out of scope); a deployment registers its own
// connector.Connector implementations here before Execute runs.
var registeredConnectors = connector.NewRegistry()

func runDaemon(ctx context.Context) error {
	cfg, err := maxconfig.Load(projectRoot)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.MaxDir(), 0o755); err != nil {
		return fmt.Errorf("create .max dir: %w", err)
	}

	telemetry.Install(telemetry.NewMeterProvider())

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	workspaceDeployers := deployer.NewRegistry[workspace.Client]()
	workspaceDeployers.Register(deployer.InProcess[workspace.Client]{
		KindValue: "in-process",
		Build:     buildWorkspace(cfg),
	})
	workspaceDeployers.Register(&deployer.Subprocess[workspace.Client]{
		KindValue: "subprocess",
		Binary:    self,
		Role:      "workspace",
		Wrap: func(caller rpcproto.Caller, conn interface{ Close() error }) workspace.Client {
			return rpcproxy.NewWorkspaceProxy(caller, nil, idgen.UUIDGenerator{})
		},
	})

	reconcileConcurrency := cfg.GetInt("sync.concurrency")
	g := global.New(workspaceDeployers, idgen.UUIDGenerator{}, filepath.Join(cfg.MaxDir(), "workspaces"), reconcileConcurrency)

	if err := g.Start(ctx); err != nil {
		return fmt.Errorf("start global: %w", err)
	}

	socketPath := filepath.Join(cfg.MaxDir(), "max.sock")
	listener, err := transport.ListenUnix(socketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", socketPath, err)
	}

	srv := &transport.Server{Caller: g.Dispatcher()}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(listener) }()

	slog.Info("max daemon ready", "socket", socketPath)

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			slog.Error("rpc server failed", "error", err)
		}
	}

	_ = srv.Close()
	return g.Stop(context.Background())
}

// buildWorkspace returns the in-process workspace factory used by the
// daemon's workspace deployer. Per-workspace installation registries
// live under .max/workspaces/<slug>/installations, where slug is the
// workspace name lowercased with spaces turned into hyphens ("default"
// for an empty name). Unlike WorkspaceMax's installation slugs, no id is
// appended.
func buildWorkspace(cfg *maxconfig.Config) func(ctx context.Context, config deployer.Config, spec json.RawMessage) (workspace.Client, error) {
	return func(ctx context.Context, config deployer.Config, spec json.RawMessage) (workspace.Client, error) {
		name, _ := config["name"].(string)
		slugged := slug(name)

		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
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

		registryDir := filepath.Join(cfg.MaxDir(), "workspaces", slugged, "installations")
		reconcileConcurrency := cfg.GetInt("sync.concurrency")
		return workspace.New("", name, registeredConnectors, installationDeployers, idgen.UUIDGenerator{}, registryDir, reconcileConcurrency), nil
	}
}

func slug(name string) string {
	if name == "" {
		return "default"
	}
	return strings.ToLower(strings.ReplaceAll(name, " ", "-"))
}
