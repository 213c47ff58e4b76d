package services

import (
	"context"
	"errors"
	"time"

	"github.com/smilequote/api/internal/domain"
	"github.com/smilequote/api/internal/repositories"
)

const catalogCheckName = "catalog"

// BuildInfo is the release metadata echoed by the health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps wires NewSystemService. Catalog is optional; when set
// readiness also reports whether the shared catalog is served from the
// repository or from the built-in fallback.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Catalog          CatalogService
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	probes  repositories.HealthRepository
	catalog CatalogService
	now     func() time.Time
	build   BuildInfo
}

var _ SystemService = (*systemService)(nil)

func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc := &systemService{
		probes:  deps.HealthRepository,
		catalog: deps.Catalog,
		now:     func() time.Time { return clock().UTC() },
		build:   deps.Build,
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	return svc, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report, err := s.probes.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}
	now := s.now()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	if report.Checks == nil {
		report.Checks = make(map[string]domain.HealthCheck, 1)
	}
	if s.catalog != nil {
		report.Checks[catalogCheckName] = s.catalogCheck(ctx)
	}
	report.Status = worstStatus(report.Status, report.Checks)

	return SystemHealthReport{
		HealthReport: report,
		Version:      s.build.Version,
		CommitSHA:    s.build.CommitSHA,
		Environment:  s.build.Environment,
		Uptime:       now.Sub(s.build.StartedAt),
	}, nil
}

// catalogCheck resolves the unscoped catalog. Fallback or mixed sources are
// degraded, an empty catalog is an error.
func (s *systemService) catalogCheck(ctx context.Context) domain.HealthCheck {
	started := s.now()
	catalog, err := s.catalog.GetCatalog(ctx, CatalogQuery{})
	check := domain.HealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    string(catalog.Source),
		Latency:   s.now().Sub(started),
		CheckedAt: started,
	}
	switch {
	case err != nil:
		check.Status = domain.HealthStatusError
		check.Error = err.Error()
	case catalog.Degraded():
		check.Status = domain.HealthStatusDegraded
	}
	return check
}

// worstStatus folds the reported status with every check; error beats
// degraded beats ok.
func worstStatus(reported domain.HealthStatus, checks map[string]domain.HealthCheck) domain.HealthStatus {
	rank := func(st domain.HealthStatus) int {
		switch st {
		case domain.HealthStatusError:
			return 2
		case domain.HealthStatusOK, "":
			return 0
		default:
			return 1
		}
	}
	worst := domain.HealthStatusOK
	if rank(reported) > rank(worst) {
		worst = reported
	}
	for _, check := range checks {
		if rank(check.Status) > rank(worst) {
			worst = check.Status
		}
	}
	return worst
}
