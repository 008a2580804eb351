// Package ids defines the branded identifier types used across every
// federation level. Identifiers are opaque strings: equality is string
// equality, and creation is always the responsibility of the owning
// parent (a Supervisor, never the node itself).
package ids

// WorkspaceId identifies a workspace under the global root.
type WorkspaceId string

// InstallationId identifies an installation within a workspace.
type InstallationId string

// ConnectorType names a connector descriptor (e.g. "github", "linear").
type ConnectorType string

// DeployerKind names a registered deployment strategy (e.g. "in-process",
// "subprocess", "remote").
type DeployerKind string

// ProviderKind names a credential provider implementation.
type ProviderKind string

// Empty reports whether the id carries no value. Useful at the edges
// (RPC args, config parsing) before an id is known to be well-formed.
func (w WorkspaceId) Empty() bool     { return w == "" }
func (i InstallationId) Empty() bool  { return i == "" }
