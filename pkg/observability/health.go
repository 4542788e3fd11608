package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc probes a single dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

type dependency struct {
	name     string
	required bool
	check    CheckFunc
}

// HealthChecker aggregates named dependency checks into a single status.
// A failing required dependency makes the service unhealthy; a failing
// optional one only degrades it.
type HealthChecker struct {
	version string
	timeout time.Duration

	mu   sync.RWMutex
	deps []dependency
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Required  bool          `json:"required"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewHealthChecker creates a checker with no dependencies registered
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version: version,
		timeout: 5 * time.Second,
	}
}

// Register adds a dependency check
func (h *HealthChecker) Register(name string, required bool, check CheckFunc) {
	if check == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deps = append(h.deps, dependency{name: name, required: required, check: check})
}

// RegisterRedis adds an optional Redis ping check
func (h *HealthChecker) RegisterRedis(client *redis.Client) {
	if client == nil {
		return
	}
	h.Register("redis", false, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// Names returns the registered dependency names, sorted
func (h *HealthChecker) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.deps))
	for _, d := range h.deps {
		names = append(names, d.name)
	}
	sort.Strings(names)
	return names
}

// Check runs every registered dependency check
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	deps := make([]dependency, len(h.deps))
	copy(deps, h.deps)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(deps)),
	}

	for _, d := range deps {
		ds := runCheck(ctx, d)
		status.Dependencies[d.name] = ds
		if ds.Status != StatusUnhealthy {
			continue
		}
		if d.required {
			status.Status = StatusUnhealthy
		} else if status.Status != StatusUnhealthy {
			status.Status = StatusDegraded
		}
	}

	return status
}

func runCheck(ctx context.Context, d dependency) DependencyStatus {
	start := time.Now()
	ds := DependencyStatus{
		Status:    StatusHealthy,
		Required:  d.required,
		Timestamp: start.UTC(),
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = MustRecover(r)
			}
		}()
		return d.check(ctx)
	}()
	ds.Latency = time.Since(start)

	if err != nil {
		ds.Status = StatusUnhealthy
		ds.Message = err.Error()
	}
	return ds
}

// StartProbes runs Check on a cron schedule and publishes each dependency's
// result to metrics.DependencyUp. The returned func stops the scheduler and
// waits for a running probe to finish.
func (h *HealthChecker) StartProbes(schedule string, metrics *Metrics, logger *Logger) (func(), error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	_, err := c.AddFunc(schedule, func() {
		defer RecoverPanic(logger, "dependency probe")

		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		status := h.Check(ctx)
		for name, dep := range status.Dependencies {
			up := 0.0
			if dep.Status == StatusHealthy {
				up = 1
			} else {
				logger.WithFields(map[string]interface{}{
					"dependency": name,
					"message":    dep.Message,
				}).Warn("Dependency probe failed")
			}
			if metrics != nil {
				metrics.DependencyUp.WithLabelValues(name).Set(up)
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid probe schedule %q: %w", schedule, err)
	}

	c.Start()
	return func() { <-c.Stop().Done() }, nil
}

// Liveness returns a simple liveness probe (always returns 200 if server is running)
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now().UTC(),
	})
}

// Readiness runs all dependency checks; 503 only when a required one fails
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	_ = json.NewEncoder(w).Encode(status)
}

// RegisterHealthRoutes registers the probe endpoints on the ops mux
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
