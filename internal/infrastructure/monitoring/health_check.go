package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"roomview/internal/core/domain"
	"roomview/internal/core/ports"
)

type HealthChecker struct {
	checks []HealthCheck
	mu     sync.RWMutex
}

type HealthCheck struct {
	Name    string
	Check   func(ctx context.Context) (bool, error)
	Timeout time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks: make([]HealthCheck, 0),
	}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) (bool, error), timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:    name,
		Check:   check,
		Timeout: timeout,
	})
}

// AddSessionCheck reports the session ready once it streams. Unless
// requireStreaming is set, an idle session also counts as ready. A streaming
// session is not ready once its receive transport failed or closed, or once
// every track of its stream ended. Streaming implies an open signaling link,
// since losing the link stops the session.
func (h *HealthChecker) AddSessionCheck(session ports.SessionService, requireStreaming bool, timeout time.Duration) {
	h.AddCheck("session", func(ctx context.Context) (bool, error) {
		snap := session.Snapshot()
		if !snap.Streaming {
			if requireStreaming {
				return false, errors.New("session is not streaming")
			}
			return true, nil
		}
		switch snap.TransportState {
		case domain.TransportStateFailed, domain.TransportStateClosed:
			return false, fmt.Errorf("receive transport %s", snap.TransportState)
		}
		if snap.Stream == nil || len(snap.Stream.Tracks) == 0 {
			return true, nil
		}
		for _, t := range snap.Stream.Tracks {
			if !t.Ended {
				return true, nil
			}
		}
		return false, errors.New("all stream tracks ended")
	}, timeout)
}

func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	for _, check := range checks {
		healthy, err := runCheck(ctx, check)
		if err != nil || !healthy {
			status.Status = "unhealthy"
			if err != nil {
				status.Checks[check.Name] = err.Error()
			} else {
				status.Checks[check.Name] = "check failed"
			}
		} else {
			status.Checks[check.Name] = "healthy"
		}
	}

	return status
}

func runCheck(ctx context.Context, check HealthCheck) (bool, error) {
	if check.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, check.Timeout)
		defer cancel()
	}
	return check.Check(ctx)
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == "healthy"
}
