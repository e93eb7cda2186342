// Package health tracks readiness of the service's dependencies and publishes it through the
// standard gRPC health service.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"loginguard/internal/logging"
)

// ServiceName is the gRPC health service name reported for the login service.
const ServiceName = "loginguard.v1.Login"

const pingTimeout = 2 * time.Second

// Pinger is a dependency that can report reachability (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Checker pings its dependencies and mirrors the result into a gRPC health server.
type Checker struct {
	server  *health.Server
	pingers map[string]Pinger
	log     *slog.Logger

	mu      sync.RWMutex
	healthy bool
}

// NewChecker returns a Checker. With no pingers the service always reports SERVING.
func NewChecker(pingers map[string]Pinger, log *slog.Logger) *Checker {
	return &Checker{
		server:  health.NewServer(),
		pingers: pingers,
		log:     logging.OrDiscard(log),
		healthy: len(pingers) == 0,
	}
}

// Server returns the gRPC health server to register on the ops listener.
func (c *Checker) Server() *health.Server {
	return c.server
}

// Check pings every dependency once and updates the serving status.
func (c *Checker) Check(ctx context.Context) bool {
	healthy := true
	for name, p := range c.pingers {
		if p == nil {
			continue
		}
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := p.PingContext(pingCtx)
		cancel()
		if err != nil {
			c.log.WarnContext(ctx, "health: dependency unreachable", "dependency", name, "error", err)
			healthy = false
		}
	}

	c.mu.Lock()
	changed := c.healthy != healthy
	c.healthy = healthy
	c.mu.Unlock()
	if changed {
		c.log.InfoContext(ctx, "health: status changed", "healthy", healthy)
	}

	status := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	c.server.SetServingStatus("", status)
	c.server.SetServingStatus(ServiceName, status)
	return healthy
}

// Healthy returns the result of the last Check.
func (c *Checker) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

// Run checks immediately and then every interval until ctx is done, then marks the service
// NOT_SERVING so load balancers drain it.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	c.Check(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			c.server.Shutdown()
			return
		case <-t.C:
			c.Check(ctx)
		}
	}
}
