package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"talkmix/internal/core/domain"
	"talkmix/internal/core/ports"
	"talkmix/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	instancePrefix = "talkmix:instance:"
	instancesKey   = "talkmix:instances"
	outputPrefix   = "talkmix:output:"
)

// InstanceStatus is what a mixer advertises about itself.
type InstanceStatus struct {
	InstanceID string                `json:"instance_id"`
	Metrics    domain.SessionMetrics `json:"metrics"`
	SeenAt     time.Time             `json:"seen_at"`
}

// InstanceRegistry advertises this mixer's session in Redis and arbitrates
// output paths between mixers sharing the same storage.
type InstanceRegistry struct {
	client     *redis.Client
	locks      *distributed.LockManager
	instanceID string
	ttl        time.Duration
	logger     *zap.SugaredLogger
}

func NewInstanceRegistry(client *redis.Client, instanceID string, ttl time.Duration, logger *zap.SugaredLogger) *InstanceRegistry {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &InstanceRegistry{
		client:     client,
		locks:      distributed.NewLockManager(client, outputPrefix),
		instanceID: instanceID,
		ttl:        ttl,
		logger:     logger,
	}
}

func instanceKey(instanceID string) string {
	return instancePrefix + instanceID
}

// Register stores a snapshot of the session under this instance with a TTL.
func (r *InstanceRegistry) Register(ctx context.Context, metrics domain.SessionMetrics) error {
	data, err := json.Marshal(InstanceStatus{
		InstanceID: r.instanceID,
		Metrics:    metrics,
		SeenAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal instance status: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, instanceKey(r.instanceID), data, r.ttl)
	pipe.SAdd(ctx, instancesKey, r.instanceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register instance: %w", err)
	}
	return nil
}

// Unregister removes this instance's entry.
func (r *InstanceRegistry) Unregister(ctx context.Context) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, instanceKey(r.instanceID))
	pipe.SRem(ctx, instancesKey, r.instanceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to unregister instance: %w", err)
	}
	r.logger.Infow("Instance unregistered", "instance_id", r.instanceID)
	return nil
}

// List returns every live instance. Members whose entry expired are pruned.
func (r *InstanceRegistry) List(ctx context.Context) ([]InstanceStatus, error) {
	ids, err := r.client.SMembers(ctx, instancesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	statuses := make([]InstanceStatus, 0, len(ids))
	for _, id := range ids {
		data, err := r.client.Get(ctx, instanceKey(id)).Bytes()
		if err == redis.Nil {
			r.client.SRem(ctx, instancesKey, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get instance %s: %w", id, err)
		}
		var status InstanceStatus
		if err := json.Unmarshal(data, &status); err != nil {
			r.logger.Warnw("Skipping malformed instance entry", "instance_id", id, "error", err)
			continue
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// Heartbeat re-registers the snapshot every half TTL until ctx ends, then
// unregisters.
func (r *InstanceRegistry) Heartbeat(ctx context.Context, snapshot func() domain.SessionMetrics) {
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()

	beat := func() {
		if err := r.Register(ctx, snapshot()); err != nil {
			r.logger.Warnw("Instance heartbeat failed", "error", err)
		}
	}

	beat()
	for {
		select {
		case <-ctx.Done():
			unregisterCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.Unregister(unregisterCtx); err != nil {
				r.logger.Warnw("Failed to unregister instance", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			beat()
		}
	}
}

// Claim takes a lease on an output path for as long as the sink writes it.
func (r *InstanceRegistry) Claim(ctx context.Context, output string) (func(), error) {
	lock := r.locks.New(output, r.ttl)
	acquired, err := lock.TryAcquire(ctx)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, fmt.Errorf("output %s is in use by another instance", output)
	}

	r.logger.Debugw("Output claimed", "output", output)
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			r.logger.Warnw("Failed to release output claim", "output", output, "error", err)
		}
	}, nil
}

var _ ports.OutputGuard = (*InstanceRegistry)(nil)
