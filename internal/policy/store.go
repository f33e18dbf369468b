// Package policy provides policy storage, validation, the action
// schema and the interchange formats.
package policy

import (
	"context"

	"github.com/mfa-engine/policy-core/pkg/types"
)

// Store defines the policy storage interface. Implementations keep
// insertion order: All returns policies in the order they were first
// created, and updating an existing policy keeps its position.
type Store interface {
	// Get retrieves a policy by name
	Get(ctx context.Context, name string) (*types.Policy, error)

	// All retrieves all policies in insertion order
	All(ctx context.Context) ([]types.Policy, error)

	// Set validates and upserts a policy, keyed by name
	Set(ctx context.Context, p *types.Policy) error

	// Delete removes a policy by name
	Delete(ctx context.Context, name string) error

	// Enable activates or deactivates a policy by name
	Enable(ctx context.Context, name string, enabled bool) error

	// Replace atomically swaps the full policy set
	Replace(ctx context.Context, policies []types.Policy) error

	// Count returns the number of policies
	Count(ctx context.Context) (int, error)
}

// errNotFound builds the error for operations on unknown policy names
func errNotFound(name string) error {
	return types.ParameterError("The policy with name '%s' does not exist", name)
}
