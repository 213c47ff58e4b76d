package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smilequote/api/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// Probe is one dependency check run by /readyz.
type Probe struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// ProbeOption customises a ProbeHealthRepository.
type ProbeOption func(*ProbeHealthRepository)

// WithProbeTimeout sets the timeout used by probes that do not set one.
func WithProbeTimeout(timeout time.Duration) ProbeOption {
	return func(r *ProbeHealthRepository) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithProbeClock overrides the clock.
func WithProbeClock(clock func() time.Time) ProbeOption {
	return func(r *ProbeHealthRepository) {
		if clock != nil {
			r.now = clock
		}
	}
}

// ProbeHealthRepository runs every probe concurrently and folds the
// results into one report. A probe error degrades the report; a timeout
// or cancellation fails it.
type ProbeHealthRepository struct {
	probes  []Probe
	timeout time.Duration
	now     func() time.Time
}

var _ HealthRepository = (*ProbeHealthRepository)(nil)

// NewProbeHealthRepository validates the probe set.
func NewProbeHealthRepository(probes []Probe, opts ...ProbeOption) (*ProbeHealthRepository, error) {
	if len(probes) == 0 {
		return nil, errors.New("health: at least one probe is required")
	}
	seen := make(map[string]struct{}, len(probes))
	for _, p := range probes {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, errors.New("health: probe name is required")
		}
		if p.Check == nil {
			return nil, fmt.Errorf("health: probe %s has no check", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("health: duplicate probe %s", name)
		}
		seen[name] = struct{}{}
	}
	r := &ProbeHealthRepository{
		probes:  append([]Probe(nil), probes...),
		timeout: defaultProbeTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Collect runs the probes and returns the aggregated report.
func (r *ProbeHealthRepository) Collect(ctx context.Context) (domain.HealthReport, error) {
	if ctx == nil {
		return domain.HealthReport{}, errors.New("health: context is required")
	}
	var (
		mu      sync.Mutex
		results = make(map[string]domain.HealthCheck, len(r.probes))
		g       errgroup.Group
	)
	for _, p := range r.probes {
		g.Go(func() error {
			check := r.run(ctx, p)
			mu.Lock()
			results[strings.TrimSpace(p.Name)] = check
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := domain.HealthStatusOK
	for _, res := range results {
		switch res.Status {
		case domain.HealthStatusError:
			status = domain.HealthStatusError
		case domain.HealthStatusDegraded:
			if status == domain.HealthStatusOK {
				status = domain.HealthStatusDegraded
			}
		}
	}
	return domain.HealthReport{Status: status, Checks: results, GeneratedAt: r.now()}, nil
}

func (r *ProbeHealthRepository) run(ctx context.Context, p Probe) domain.HealthCheck {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := p.Check(probeCtx)
	if err == nil && probeCtx.Err() != nil {
		err = probeCtx.Err()
	}
	end := r.now()

	check := domain.HealthCheck{Status: domain.HealthStatusOK, Detail: "ok", Latency: end.Sub(start), CheckedAt: end}
	if err == nil {
		return check
	}
	check.Error = err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		check.Status = domain.HealthStatusError
		check.Detail = "timeout"
	case errors.Is(err, context.Canceled):
		check.Status = domain.HealthStatusError
		check.Detail = "cancelled"
	default:
		check.Status = domain.HealthStatusDegraded
		check.Detail = err.Error()
	}
	return check
}
