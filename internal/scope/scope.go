// Package scope implements the Scope lattice (§3, §4.1): a tagged sum of
// Global, Workspace(wsID) and Installation(wsID, instID), plus the
// ScopeRouting value carried on requests flowing down the hierarchy.
package scope

import "github.com/maxdata-sh/max/internal/ids"

// Level identifies which member of the Scope sum a value holds.
type Level int

const (
	LevelGlobal Level = iota
	LevelWorkspace
	LevelInstallation
)

func (l Level) String() string {
	switch l {
	case LevelGlobal:
		return "global"
	case LevelWorkspace:
		return "workspace"
	case LevelInstallation:
		return "installation"
	default:
		return "unknown"
	}
}

// Scope is an immutable value: Global, or Workspace(id), or
// Installation(workspaceId, installationId).
type Scope struct {
	level          Level
	workspaceID    ids.WorkspaceId
	installationID ids.InstallationId
}

// Global is the root scope.
var Global = Scope{level: LevelGlobal}

// NewWorkspace builds a Workspace-level scope.
func NewWorkspace(id ids.WorkspaceId) Scope {
	return Scope{level: LevelWorkspace, workspaceID: id}
}

// NewInstallation builds an Installation-level scope.
func NewInstallation(wsID ids.WorkspaceId, instID ids.InstallationId) Scope {
	return Scope{level: LevelInstallation, workspaceID: wsID, installationID: instID}
}

// Level reports which sum member this scope is.
func (s Scope) Level() Level { return s.level }

// WorkspaceID returns the workspace id, valid at Workspace and
// Installation levels.
func (s Scope) WorkspaceID() ids.WorkspaceId { return s.workspaceID }

// InstallationID returns the installation id, valid only at Installation
// level.
func (s Scope) InstallationID() ids.InstallationId { return s.installationID }

// UpgradeToWorkspace lifts a Global scope to Workspace(id). Upgrading a
// scope that is already at Workspace or Installation level is a no-op on
// the already-present fields: only Global can be upgraded this way.
func (s Scope) UpgradeToWorkspace(id ids.WorkspaceId) Scope {
	if s.level != LevelGlobal {
		return s
	}
	return NewWorkspace(id)
}

// UpgradeToInstallation lifts a Workspace scope to Installation(ws, id).
// Calling it on a Global or Installation scope returns the scope
// unchanged — callers must already hold a Workspace-scoped value; this
// mirrors the fact that data flowing UP the hierarchy always carries the
// stamp of its immediate parent.
func (s Scope) UpgradeToInstallation(id ids.InstallationId) Scope {
	switch s.level {
	case LevelWorkspace:
		return NewInstallation(s.workspaceID, id)
	case LevelInstallation:
		return s
	default:
		return s
	}
}

// Equal reports structural equality.
func (s Scope) Equal(o Scope) bool {
	return s.level == o.level && s.workspaceID == o.workspaceID && s.installationID == o.installationID
}

// Routing is the down-flowing request-scope shape carried on an
// RpcRequest: any field may be omitted (nil) when not applicable.
type Routing struct {
	WorkspaceID    *ids.WorkspaceId    `json:"workspaceId,omitempty"`
	InstallationID *ids.InstallationId `json:"installationId,omitempty"`
}

// ToRouting projects a Scope into its down-flowing wire shape.
func (s Scope) ToRouting() *Routing {
	switch s.level {
	case LevelGlobal:
		return nil
	case LevelWorkspace:
		ws := s.workspaceID
		return &Routing{WorkspaceID: &ws}
	case LevelInstallation:
		ws, inst := s.workspaceID, s.installationID
		return &Routing{WorkspaceID: &ws, InstallationID: &inst}
	default:
		return nil
	}
}

// StripInstallation returns a copy of r with the installation field
// cleared. Dispatcher does not call it: its childTarget builds the
// forwarded routing itself.
func (r *Routing) StripInstallation() *Routing {
	if r == nil {
		return nil
	}
	return &Routing{WorkspaceID: r.WorkspaceID}
}

// TargetsInstallation reports whether the routing names an installation.
func (r *Routing) TargetsInstallation() bool {
	return r != nil && r.InstallationID != nil
}

// TargetsWorkspace reports whether the routing names a workspace.
func (r *Routing) TargetsWorkspace() bool {
	return r != nil && r.WorkspaceID != nil
}
