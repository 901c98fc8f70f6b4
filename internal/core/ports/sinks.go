package ports

import (
	"context"

	"talkmix/internal/core/domain"
)

// Sink consumes composed frames. Write returns domain.ErrSinkDone once the
// sink has finished on its own (e.g. a recording reached its max duration).
type Sink interface {
	Kind() domain.SinkKind
	Open(ctx context.Context) error
	Write(ctx context.Context, frame *domain.Frame) error
	Finalize(ctx context.Context) error
}

// SinkFactory builds a sink from a validated spec.
type SinkFactory interface {
	Create(spec domain.SinkSpec) (Sink, error)
}

// OutputGuard hands out exclusive claims on output paths. The returned
// release func gives the claim up.
type OutputGuard interface {
	Claim(ctx context.Context, output string) (release func(), err error)
}

type SinkManager interface {
	Add(ctx context.Context, spec domain.SinkSpec) (domain.SinkHandle, error)
	Remove(ctx context.Context, handle domain.SinkHandle) error
	AddChild(ctx context.Context, group domain.SinkHandle, spec domain.SinkSpec) (domain.SinkHandle, error)
	RemoveChild(ctx context.Context, group, child domain.SinkHandle) error
	// Dispatch hands a frame to every sink queue without blocking.
	Dispatch(frame *domain.Frame)
	FinalizeAll(ctx context.Context) domain.DrainReport
	List() []domain.SinkInfo
	Latest(handle domain.SinkHandle) (*domain.Frame, error)
}
