package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"talkmix/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

// SessionStatus is the part of the session the health checks look at.
type SessionStatus interface {
	State() domain.SessionState
	Err() error
	Sinks() []domain.SinkInfo
}

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddSessionCheck fails once the session stopped, reporting the engine
// failure when there was one.
func (h *HealthChecker) AddSessionCheck(session SessionStatus, interval, timeout time.Duration) {
	h.AddCheck("session", func(ctx context.Context) (bool, error) {
		if session.State() != domain.SessionStopped {
			return true, nil
		}
		if err := session.Err(); err != nil {
			return false, err
		}
		return false, errors.New("session stopped")
	}, interval, timeout)
}

// AddSinksCheck fails when sinks are registered and every one of them failed.
func (h *HealthChecker) AddSinksCheck(session SessionStatus, interval, timeout time.Duration) {
	h.AddCheck("sinks", func(ctx context.Context) (bool, error) {
		infos := session.Sinks()
		if len(infos) == 0 {
			return true, nil
		}
		failed := 0
		for _, info := range infos {
			if info.State == domain.SinkFailed {
				failed++
			}
		}
		if failed == len(infos) {
			return false, fmt.Errorf("all %d sinks failed", failed)
		}
		return true, nil
	}, interval, timeout)
}

// GetReadinessStatus returns readiness status for load balancer
func (h *HealthChecker) GetReadinessStatus(ctx context.Context) HealthStatus {
	return h.CheckAll(ctx)
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	status := h.CheckAll(ctx)
	return status.Status == "healthy"
}
