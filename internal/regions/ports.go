package regions

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"six2five/pkg/domain"
)

// NameResolver maps a profile id to its current name. ok is false when no
// name could be obtained; the transformer leaves such ids in place.
type NameResolver interface {
	Resolve(ctx context.Context, id domain.ProfileID) (name string, ok bool)
}
