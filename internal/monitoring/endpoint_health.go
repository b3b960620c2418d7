package monitoring

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// HealthChecker is anything that can report whether its backend is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// MonitorEndpointHealth probes checker every interval until ctx is done and
// stores the latest answer in healthy. Only transitions are logged.
func MonitorEndpointHealth(ctx context.Context, name string, checker HealthChecker, healthy *atomic.Bool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, interval)
			isHealthy := checker.HealthCheck(probeCtx)
			cancel()

			if healthy.Swap(isHealthy) == isHealthy {
				continue
			}
			if isHealthy {
				slog.Info("[HealthCheck] Endpoint recovered", slog.String("endpoint", name))
			} else {
				slog.Warn("[HealthCheck] Endpoint is unhealthy, verdicts will be Unknown",
					slog.String("endpoint", name))
			}
		}
	}
}
