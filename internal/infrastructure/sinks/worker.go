package sinks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"talkmix/internal/core/domain"
	"talkmix/internal/core/ports"
	"talkmix/pkg/circuitbreaker"
	"talkmix/pkg/retry"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// WorkerConfig bounds every sink's queue, write retries and finalization.
type WorkerConfig struct {
	QueueSize int                   `yaml:"queue_size"`
	Retry     retry.Config          `yaml:"retry"`
	Breaker   circuitbreaker.Config `yaml:"breaker"`
	// FinalizeTimeout caps a single sink's finalize, whatever the caller's deadline.
	FinalizeTimeout time.Duration `yaml:"finalize_timeout"`
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		QueueSize:       64,
		Retry:           retry.DefaultConfig(),
		Breaker:         circuitbreaker.DefaultConfig(),
		FinalizeTimeout: 10 * time.Second,
	}
}

type stateListener func(handle domain.SinkHandle, kind domain.SinkKind, state domain.SinkState)

// Stats are the per-sink counters, updated without locks.
type Stats struct {
	Written  *atomic.Uint64
	Dropped  *atomic.Uint64
	Failures *atomic.Uint64
	LastErr  *atomic.String
}

func newStats() Stats {
	return Stats{
		Written:  atomic.NewUint64(0),
		Dropped:  atomic.NewUint64(0),
		Failures: atomic.NewUint64(0),
		LastErr:  atomic.NewString(""),
	}
}

// worker owns one sink: a bounded queue, a goroutine feeding the sink and the
// sink's health. Nothing outside the worker touches the sink concurrently.
type worker struct {
	handle domain.SinkHandle
	kind   domain.SinkKind
	name   string
	sink   ports.Sink

	queue    chan *domain.Frame
	finishCh chan context.Context
	done     chan struct{}
	once     sync.Once

	state     *atomic.Int32
	stats     Stats
	finalized bool
	finalErr  error
	timeout   time.Duration

	breaker  *circuitbreaker.CircuitBreaker
	retry    retry.Config
	metrics  ports.MetricsCollector
	listener stateListener
	logger   *zap.SugaredLogger

	release     func()
	releaseOnce sync.Once
}

func newWorker(
	handle domain.SinkHandle,
	spec domain.SinkSpec,
	sink ports.Sink,
	cfg WorkerConfig,
	metrics ports.MetricsCollector,
	listener stateListener,
	logger *zap.SugaredLogger,
) *worker {
	size := cfg.QueueSize
	if spec.QueueSize > 0 {
		size = spec.QueueSize
	}
	if size <= 0 {
		size = DefaultWorkerConfig().QueueSize
	}

	retryCfg := cfg.Retry
	retryCfg.NonRetryableErrors = append(append([]error(nil), cfg.Retry.NonRetryableErrors...), domain.ErrSinkDone)

	return &worker{
		handle:   handle,
		kind:     spec.Kind,
		name:     spec.Name,
		sink:     sink,
		queue:    make(chan *domain.Frame, size),
		finishCh: make(chan context.Context, 1),
		timeout:  cfg.FinalizeTimeout,
		done:     make(chan struct{}),
		state:    atomic.NewInt32(int32(domain.SinkStarting)),
		stats:    newStats(),
		breaker:  circuitbreaker.New(cfg.Breaker),
		retry:    retryCfg,
		metrics:  metrics,
		listener: listener,
		logger:   logger.With("sink", string(handle), "kind", spec.Kind.String()),
	}
}

func (w *worker) State() domain.SinkState {
	return domain.SinkState(w.state.Load())
}

// setState moves to next unless the worker already reached a terminal state.
func (w *worker) setState(next domain.SinkState) bool {
	for {
		current := w.state.Load()
		if domain.SinkState(current).Terminal() || domain.SinkState(current) == next {
			return false
		}
		if w.state.CompareAndSwap(current, int32(next)) {
			w.logger.Infow("Sink state changed", "from", domain.SinkState(current).String(), "to", next.String())
			w.metrics.RecordSinkState(w.handle, w.kind, next)
			if w.listener != nil {
				w.listener(w.handle, w.kind, next)
			}
			return true
		}
	}
}

func (w *worker) start(ctx context.Context) {
	w.setState(domain.SinkRunning)
	go w.run(ctx)
}

func (w *worker) run(ctx context.Context) {
	defer close(w.done)
	defer w.releaseOutput()

	for {
		select {
		case frame := <-w.queue:
			w.write(ctx, frame)
		case finishCtx := <-w.finishCh:
			w.drainAndFinalize(finishCtx)
			return
		case <-ctx.Done():
			w.fail(fmt.Errorf("torn down: %w", ctx.Err()))
			return
		}
	}
}

// offer enqueues without blocking. A full queue drops the frame and marks the
// sink degraded; siblings never wait on it.
func (w *worker) offer(frame *domain.Frame) bool {
	state := w.State()
	if state.Terminal() || state == domain.SinkFinishing {
		return false
	}

	select {
	case w.queue <- frame:
		return true
	default:
	}

	dropped := w.stats.Dropped.Inc()
	w.metrics.RecordSinkDrop(w.handle, w.kind)
	if w.state.CompareAndSwap(int32(domain.SinkRunning), int32(domain.SinkDegraded)) {
		w.metrics.RecordSinkState(w.handle, w.kind, domain.SinkDegraded)
		if w.listener != nil {
			w.listener(w.handle, w.kind, domain.SinkDegraded)
		}
	}
	if dropped == 1 || dropped%100 == 0 {
		w.logger.Warnw("Sink queue full, dropping frames", "dropped", dropped, "queue_size", cap(w.queue))
	}
	return false
}

func (w *worker) write(ctx context.Context, frame *domain.Frame) {
	if w.State().Terminal() {
		return
	}

	err := w.breaker.Execute(ctx, func() error {
		return retry.Retry(ctx, w.retry, func() error {
			return w.sink.Write(ctx, frame)
		})
	})

	switch {
	case err == nil:
		w.stats.Written.Inc()
		w.metrics.RecordSinkWrite(w.handle, w.kind)
		if w.State() == domain.SinkDegraded && w.breaker.GetState() == circuitbreaker.StateClosed {
			w.setState(domain.SinkRunning)
		}
	case errors.Is(err, domain.ErrSinkDone):
		w.logger.Infow("Sink finished on its own")
		w.finalize(ctx)
	case errors.Is(err, circuitbreaker.ErrOpen):
		w.stats.Dropped.Inc()
		w.metrics.RecordSinkDrop(w.handle, w.kind)
	default:
		w.stats.Failures.Inc()
		w.stats.LastErr.Store(err.Error())
		w.metrics.RecordSinkFailure(w.handle, w.kind)
		w.setState(domain.SinkDegraded)
		w.logger.Warnw("Sink write failed", "error", err, "breaker", w.breaker.GetState().String())
	}
}

func (w *worker) drainAndFinalize(ctx context.Context) {
	if !w.State().Terminal() {
		w.setState(domain.SinkFinishing)
	drain:
		for {
			select {
			case frame := <-w.queue:
				if ctx.Err() == nil {
					w.write(ctx, frame)
				}
			default:
				break drain
			}
		}
	}
	w.finalize(ctx)
}

func (w *worker) finalize(ctx context.Context) {
	if w.finalized {
		return
	}
	w.finalized = true

	start := time.Now()
	if err := w.sink.Finalize(ctx); err != nil {
		w.finalErr = fmt.Errorf("%w: finalize: %v", domain.ErrSinkFailure, err)
		w.fail(err)
		return
	}
	w.setState(domain.SinkFinished)
	w.logger.Infow("Sink finalized", "written", w.stats.Written.Load(), "dropped", w.stats.Dropped.Load(), "took", time.Since(start))
}

// releaseOutput gives up the worker's output claim, if it holds one.
func (w *worker) releaseOutput() {
	w.releaseOnce.Do(func() {
		if w.release != nil {
			w.release()
		}
	})
}

func (w *worker) fail(err error) {
	w.stats.LastErr.Store(err.Error())
	w.setState(domain.SinkFailed)
	w.logger.Errorw("Sink failed", "error", err)
}

// finish asks the worker to drain and finalize, waiting at most until ctx ends.
func (w *worker) finish(ctx context.Context) error {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	w.once.Do(func() { w.finishCh <- ctx })

	select {
	case <-w.done:
		return w.finalErr
	case <-ctx.Done():
		w.fail(errors.New("finalize timed out"))
		return fmt.Errorf("%w: finalize timed out", domain.ErrSinkFailure)
	}
}

func (w *worker) info() domain.SinkInfo {
	info := domain.SinkInfo{
		Handle:   w.handle,
		Kind:     w.kind,
		Name:     w.name,
		State:    w.State(),
		Written:  w.stats.Written.Load(),
		Dropped:  w.stats.Dropped.Load(),
		Failures: w.stats.Failures.Load(),
		LastErr:  w.stats.LastErr.Load(),
	}
	if group, ok := w.sink.(*FanoutSink); ok {
		info.Children = group.Children()
	}
	return info
}
