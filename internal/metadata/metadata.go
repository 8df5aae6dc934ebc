// Package metadata annotates outgoing commands with the storage and
// attribution hints the gateway expects.
package metadata

import "github.com/rickgao/blip-connect/internal/lime"

// Metadata keys set on dispatched commands.
const (
	ShouldStoreKey = "server.shouldStore"
	AttributionKey = "blip_portal.email"
)

// Inject ensures cmd has a metadata map, marks state-changing commands for
// storage and attributes the command to authentication.
func Inject(cmd *lime.Command, authentication string) {
	if cmd.Metadata == nil {
		cmd.Metadata = make(map[string]string, 2)
	}
	if IsStored(cmd.Method) {
		cmd.Metadata[ShouldStoreKey] = "true"
	}
	cmd.Metadata[AttributionKey] = authentication
}

// IsStored reports whether commands with method must be persisted server side.
func IsStored(method string) bool {
	switch method {
	case lime.MethodSet, lime.MethodDelete, lime.MethodMerge:
		return true
	}
	return false
}
