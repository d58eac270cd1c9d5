//go:generate mockgen -package=mocks -destination=../../mocks/mock_primitive.go github.com/prepolicy/prepolicy/core/reencrypt Primitive

package reencrypt

import "github.com/prepolicy/prepolicy/core/policy"

// Primitive is the external re-encryption capability: it applies one key fragment
// to a capsule. Implementations must be safe for concurrent use.
type Primitive interface {
	Reencrypt(fragment policy.KeyFragment, capsule policy.Capsule) (policy.CapsuleFragment, error)
}

// PrimitiveFunc adapts a function to Primitive.
type PrimitiveFunc func(fragment policy.KeyFragment, capsule policy.Capsule) (policy.CapsuleFragment, error)

// Reencrypt implements Primitive.
func (f PrimitiveFunc) Reencrypt(fragment policy.KeyFragment, capsule policy.Capsule) (policy.CapsuleFragment, error) {
	return f(fragment, capsule)
}
