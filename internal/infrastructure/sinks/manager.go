package sinks

import (
	"context"
	"fmt"
	"sync"

	"talkmix/internal/core/domain"
	"talkmix/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager owns the registered sinks. Each sink runs behind its own worker so
// dispatching a frame never blocks on any sink.
type Manager struct {
	factory ports.SinkFactory
	cfg     WorkerConfig
	metrics ports.MetricsCollector
	logger  *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	workers map[domain.SinkHandle]*worker
	order   []domain.SinkHandle
	closed  bool

	listenerMu sync.RWMutex
	listener   stateListener

	guard ports.OutputGuard

	outputMu sync.Mutex
	outputs  map[string]domain.SinkKind
}

func NewManager(factory ports.SinkFactory, cfg WorkerConfig, metrics ports.MetricsCollector, logger *zap.SugaredLogger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		factory: factory,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[domain.SinkHandle]*worker),
		outputs: make(map[string]domain.SinkKind),
	}
}

// OnStateChange registers a callback for sink state transitions. It runs on
// the sink's worker goroutine and must not block.
func (m *Manager) OnStateChange(fn func(handle domain.SinkHandle, kind domain.SinkKind, state domain.SinkState)) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listener = fn
}

func (m *Manager) notify(handle domain.SinkHandle, kind domain.SinkKind, state domain.SinkState) {
	m.listenerMu.RLock()
	fn := m.listener
	m.listenerMu.RUnlock()
	if fn != nil {
		fn(handle, kind, state)
	}
}

// SetOutputGuard makes every file and segmented sink claim its output before
// opening, so two mixers never write the same path. Within one manager
// outputs are exclusive with or without a guard.
func (m *Manager) SetOutputGuard(guard ports.OutputGuard) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guard = guard
}

// claimLocal reserves output inside this process.
func (m *Manager) claimLocal(output string, kind domain.SinkKind) (func(), error) {
	m.outputMu.Lock()
	defer m.outputMu.Unlock()
	if owner, taken := m.outputs[output]; taken {
		return nil, fmt.Errorf("%w: %s is written by a %s sink", domain.ErrOutputInUse, output, owner)
	}
	m.outputs[output] = kind

	var once sync.Once
	return func() {
		once.Do(func() {
			m.outputMu.Lock()
			delete(m.outputs, output)
			m.outputMu.Unlock()
		})
	}, nil
}

func (m *Manager) claim(ctx context.Context, spec domain.SinkSpec) (func(), error) {
	output := spec.Output()
	if output == "" {
		return func() {}, nil
	}
	releaseLocal, err := m.claimLocal(output, spec.Kind)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	guard := m.guard
	m.mu.RUnlock()
	if guard == nil {
		return releaseLocal, nil
	}
	releaseShared, err := guard.Claim(ctx, output)
	if err != nil {
		releaseLocal()
		return nil, fmt.Errorf("%w: claim %s: %v", domain.ErrSinkFailure, output, err)
	}
	return func() {
		releaseShared()
		releaseLocal()
	}, nil
}

func newHandle() domain.SinkHandle {
	return domain.SinkHandle(uuid.New().String())
}

// spawn builds and opens one sink. Fanout groups get a spawn of their own
// for their children.
func (m *Manager) spawn(ctx context.Context, spec domain.SinkSpec) (*worker, error) {
	handle := newHandle()
	logger := m.logger.With("sink", string(handle))

	var sink ports.Sink
	if spec.Kind == domain.SinkFanout {
		sink = NewFanoutSink(m.ctx, *spec.Fanout, m.spawn, logger)
	} else {
		var err error
		if sink, err = m.factory.Create(spec); err != nil {
			return nil, err
		}
	}

	release, err := m.claim(ctx, spec)
	if err != nil {
		return nil, err
	}
	if err := sink.Open(ctx); err != nil {
		release()
		return nil, fmt.Errorf("%w: open %s sink: %v", domain.ErrSinkFailure, spec.Kind, err)
	}
	w := newWorker(handle, spec, sink, m.cfg, m.metrics, m.notify, m.logger)
	w.release = release
	return w, nil
}

func (m *Manager) Add(ctx context.Context, spec domain.SinkSpec) (domain.SinkHandle, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return "", domain.ErrNotRunning
	}

	w, err := m.spawn(ctx, spec)
	if err != nil {
		m.logger.Warnw("Failed to add sink", "kind", spec.Kind.String(), "error", err)
		return "", err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = w.sink.Finalize(ctx)
		w.releaseOutput()
		return "", domain.ErrNotRunning
	}
	m.workers[w.handle] = w
	m.order = append(m.order, w.handle)
	m.mu.Unlock()

	w.start(m.ctx)
	m.logger.Infow("Sink added", "sink", string(w.handle), "kind", spec.Kind.String(), "name", spec.Name)
	return w.handle, nil
}

func (m *Manager) detach(handle domain.SinkHandle) (*worker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[handle]
	if !ok {
		return nil, false
	}
	delete(m.workers, handle)
	for i, h := range m.order {
		if h == handle {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return w, true
}

// Remove finalizes one sink and forgets it. Its siblings keep receiving
// frames. A failed finalize is logged and still removes the sink.
func (m *Manager) Remove(ctx context.Context, handle domain.SinkHandle) error {
	w, ok := m.detach(handle)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSinkNotFound, handle)
	}

	if err := w.finish(ctx); err != nil {
		m.logger.Warnw("Sink finalize failed on removal", "sink", string(handle), "error", err)
	}
	m.metrics.RemoveSink(handle, w.kind)
	m.logger.Infow("Sink removed", "sink", string(handle), "state", w.State().String())
	return nil
}

func (m *Manager) group(handle domain.SinkHandle) (*FanoutSink, error) {
	m.mu.RLock()
	w, ok := m.workers[handle]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSinkNotFound, handle)
	}
	group, ok := w.sink.(*FanoutSink)
	if !ok {
		return nil, fmt.Errorf("%w: sink %s is not a fanout group", domain.ErrInvalidParameters, handle)
	}
	return group, nil
}

func (m *Manager) AddChild(ctx context.Context, group domain.SinkHandle, spec domain.SinkSpec) (domain.SinkHandle, error) {
	g, err := m.group(group)
	if err != nil {
		return "", err
	}
	return g.AddChild(ctx, spec)
}

func (m *Manager) RemoveChild(ctx context.Context, group, child domain.SinkHandle) error {
	g, err := m.group(group)
	if err != nil {
		return err
	}
	return g.RemoveChild(ctx, child)
}

// Dispatch offers the frame to every sink queue. Full queues drop.
func (m *Manager) Dispatch(frame *domain.Frame) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, handle := range m.order {
		m.workers[handle].offer(frame)
	}
}

// FinalizeAll finishes every sink concurrently within ctx and closes the
// manager. Fanout children that failed are reported next to top-level sinks.
func (m *Manager) FinalizeAll(ctx context.Context) domain.DrainReport {
	m.mu.Lock()
	m.closed = true
	workers := make([]*worker, 0, len(m.order))
	for _, handle := range m.order {
		workers = append(workers, m.workers[handle])
	}
	m.workers = make(map[domain.SinkHandle]*worker)
	m.order = nil
	m.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(workers))
	for i, w := range workers {
		wg.Add(1)
		go func(i int, w *worker) {
			defer wg.Done()
			errs[i] = w.finish(ctx)
		}(i, w)
	}
	wg.Wait()
	m.cancel()

	report := domain.DrainReport{Failed: make(map[domain.SinkHandle]string)}
	for i, w := range workers {
		if errs[i] != nil {
			report.Failed[w.handle] = errs[i].Error()
		} else {
			report.Finalized = append(report.Finalized, w.handle)
		}
		if group, ok := w.sink.(*FanoutSink); ok {
			for child, reason := range group.Failed() {
				report.Failed[child] = reason
			}
		}
	}

	m.logger.Infow("Sinks finalized", "finalized", len(report.Finalized), "failed", len(report.Failed))
	return report
}

func (m *Manager) List() []domain.SinkInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	infos := make([]domain.SinkInfo, 0, len(m.order))
	for _, handle := range m.order {
		infos = append(infos, m.workers[handle].info())
	}
	return infos
}

func (m *Manager) find(handle domain.SinkHandle) (*worker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if w, ok := m.workers[handle]; ok {
		return w, true
	}
	for _, w := range m.workers {
		if group, ok := w.sink.(*FanoutSink); ok {
			if child, ok := group.child(handle); ok {
				return child, true
			}
		}
	}
	return nil, false
}

// Latest returns the last frame shown by a display sink, including displays
// inside a fanout group. It is nil until the first frame arrives.
func (m *Manager) Latest(handle domain.SinkHandle) (*domain.Frame, error) {
	w, ok := m.find(handle)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSinkNotFound, handle)
	}
	display, ok := w.sink.(*DisplaySink)
	if !ok {
		return nil, fmt.Errorf("%w: sink %s is not a display", domain.ErrInvalidParameters, handle)
	}
	return display.Latest(), nil
}

var _ ports.SinkManager = (*Manager)(nil)
