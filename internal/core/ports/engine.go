package ports

import (
	"context"
	"time"

	"talkmix/internal/core/domain"
)

// Engine is the media pipeline capability the session drives. Apply reconciles
// the live graph against a declarative plan; applying the same plan twice is a no-op.
type Engine interface {
	Apply(ctx context.Context, plan *domain.RenderPlan) error
	Compose(ctx context.Context) (*domain.Frame, error)
	FrameInterval() time.Duration
	Close() error
}

// Blinder replaces a blinded stream's picture. Audio never passes through it.
type Blinder interface {
	Mode() domain.BlindMode
	Blind(last []byte, region domain.Region) []byte
}
