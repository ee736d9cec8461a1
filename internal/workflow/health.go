package workflow

import (
	"context"
	"sort"
	"time"
)

// HealthChecker is implemented by collaborators that can report readiness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CollaboratorHealth summarizes the readiness of one external collaborator.
type CollaboratorHealth struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready CollaboratorHealth record.
func Healthy(name string) CollaboratorHealth {
	return CollaboratorHealth{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy CollaboratorHealth record with context detail.
func Unhealthy(name, detail string) CollaboratorHealth {
	return CollaboratorHealth{Name: name, Ready: false, Detail: detail}
}

const healthCheckTimeout = 5 * time.Second

// Health probes every collaborator that implements HealthChecker. Collaborators
// without a probe are reported ready.
func (m *Manager) Health(ctx context.Context) []CollaboratorHealth {
	named := map[string]any{
		"parser":    m.deps.Parser,
		"privacy":   m.deps.Privacy,
		"inference": m.deps.Inference,
	}
	for name, checker := range m.deps.Probes {
		named[name] = checker
	}

	out := make([]CollaboratorHealth, 0, len(named))
	for name, dep := range named {
		checker, ok := dep.(HealthChecker)
		if !ok || checker == nil {
			out = append(out, Healthy(name))
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := checker.HealthCheck(probeCtx)
		cancel()
		if err != nil {
			out = append(out, Unhealthy(name, err.Error()))
			continue
		}
		out = append(out, Healthy(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
