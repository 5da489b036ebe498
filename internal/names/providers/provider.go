package providers

import (
	"context"
	"time"

	"six2five/pkg/domain"
)

// Profile is the identity service's answer for one identifier.
type Profile struct {
	ID        domain.ProfileID
	Name      string
	CheckedAt time.Time
}

// Provider looks up the current display name for a profile identifier.
//
// Lookup performs exactly one request. Implementations return a
// *ProviderError on failure: ErrorNotFound when the service has no profile
// for the id, a retryable category for transient trouble, ErrorCancelled
// when ctx ended the call.
type Provider interface {
	ID() string
	Lookup(ctx context.Context, id domain.ProfileID) (*Profile, error)
}
