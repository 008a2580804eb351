package dispatch_test

import (
	"context"
	"testing"

	"github.com/maxdata-sh/max/internal/dispatch"
	"github.com/maxdata-sh/max/internal/idgen"
	"github.com/maxdata-sh/max/internal/ids"
	"github.com/maxdata-sh/max/internal/maxerr"
	"github.com/maxdata-sh/max/internal/rpcproto"
	"github.com/maxdata-sh/max/internal/rpcproxy"
	"github.com/maxdata-sh/max/internal/scope"
)

type healthResult struct {
	Status string `json:"status"`
}

type fakeInstallationRoot struct{}

func (fakeInstallationRoot) Health(ctx context.Context) healthResult {
	return healthResult{Status: "healthy"}
}

func newInstallationDispatcher() *dispatch.Dispatcher {
	return &dispatch.Dispatcher{
		Domain: "installation",
		Root:   fakeInstallationRoot{},
	}
}

func TestWorkspaceDispatcherStripsOwnFieldAndRoutesToChild(t *testing.T) {
	inst1 := newInstallationDispatcher()
	workspaceDispatcher := &dispatch.Dispatcher{
		Domain:     "workspace",
		ChildField: dispatch.ChildInstallation,
		Children: func(id string) (rpcproto.Caller, bool) {
			if id == "inst-1" {
				return inst1, true
			}
			return nil, false
		},
	}

	instID := "inst-1"
	sc := &scope.Routing{InstallationID: installationIDPtr(instID)}
	proxy := rpcproxy.New(workspaceDispatcher, rpcproto.TargetRoot, sc, idgen.UUIDGenerator{})

	var result healthResult
	if err := proxy.Call("health", &result); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.Status != "healthy" {
		t.Fatalf("expected healthy, got %+v", result)
	}

	missingScope := &scope.Routing{InstallationID: installationIDPtr("nonexistent")}
	missingProxy := rpcproxy.New(workspaceDispatcher, rpcproto.TargetRoot, missingScope, idgen.UUIDGenerator{})
	err := missingProxy.Call("health", &result)
	if err == nil {
		t.Fatal("expected error for nonexistent child")
	}
	if !maxerr.Has(err, maxerr.NotFound) {
		t.Fatalf("expected NotFound facet, got %v", err)
	}
}

func installationIDPtr(s string) *ids.InstallationId {
	v := ids.InstallationId(s)
	return &v
}
