package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Caller,EventPublisher

import (
	"context"

	"trustindex/internal/index/models"
)

// Caller is the host's remote call capability. One call is one probe branch:
// it either returns the provider's raw answer or fails.
type Caller interface {
	Call(ctx context.Context, provider models.ProviderID, capability models.Capability, args []byte) ([]byte, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, provider models.ProviderID, capability models.Capability, args []byte) ([]byte, error)

func (f CallerFunc) Call(ctx context.Context, provider models.ProviderID, capability models.Capability, args []byte) ([]byte, error) {
	return f(ctx, provider, capability, args)
}

// EventPublisher announces completed aggregations to downstream consumers.
type EventPublisher interface {
	PublishIndexCalculated(ctx context.Context, event models.IndexCalculated) error
}
