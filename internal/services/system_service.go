package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
	"github.com/Francovarelav/pickpackpromx/internal/repositories"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SessionCounter reports the number of open bottle-control sessions.
type SessionCounter interface {
	ActiveSessions() int
}

type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Sessions         SessionCounter
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	probes   repositories.HealthRepository
	sessions SessionCounter
	now      func() time.Time
	build    BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService builds the readiness reporter. StartedAt defaults to construction time.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}
	build.StartedAt = build.StartedAt.UTC()

	return &systemService{
		probes:   deps.HealthRepository,
		sessions: deps.Sessions,
		now:      func() time.Time { return clock().UTC() },
		build:    build,
	}, nil
}

// HealthReport runs the dependency probes and stamps build metadata, uptime and the number
// of live bottle-control sessions on the result. The reported status is never better than
// the worst individual check.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}
	report, err := s.probes.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.now()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	} else {
		report.GeneratedAt = report.GeneratedAt.UTC()
	}
	fillBlank(&report.Version, s.build.Version)
	fillBlank(&report.CommitSHA, s.build.CommitSHA)
	fillBlank(&report.Environment, s.build.Environment)
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if s.sessions != nil {
		report.ActiveSessions = s.sessions.ActiveSessions()
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}

	status := strings.TrimSpace(report.Status)
	for _, check := range report.Checks {
		status = worseStatus(status, check.Status)
	}
	report.Status = worseStatus(status, domain.HealthStatusOK)
	return report, nil
}

func fillBlank(dst *string, fallback string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = fallback
	}
}

var statusRank = map[string]int{
	"":                          0,
	domain.HealthStatusOK:       1,
	domain.HealthStatusDegraded: 2,
	domain.HealthStatusError:    3,
}

// worseStatus returns the more severe of a and b. Unknown values count as degraded.
func worseStatus(a, b string) string {
	rank := func(s string) int {
		if r, ok := statusRank[s]; ok {
			return r
		}
		return statusRank[domain.HealthStatusDegraded]
	}
	normalize := func(s string) string {
		if _, ok := statusRank[s]; ok {
			return s
		}
		return domain.HealthStatusDegraded
	}
	if rank(a) >= rank(b) {
		return normalize(a)
	}
	return normalize(b)
}
