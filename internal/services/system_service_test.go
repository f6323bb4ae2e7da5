package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
	"github.com/Francovarelav/pickpackpromx/internal/repositories"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
}

var _ repositories.HealthRepository = (*stubHealthRepository)(nil)

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

type stubSessionCounter int

func (c stubSessionCounter) ActiveSessions() int { return int(c) }

func TestSystemServiceStampsBuildAndSessions(t *testing.T) {
	start := time.Date(2026, 4, 2, 3, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Minute)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK}},
		}},
		Sessions: stubSessionCounter(3),
		Clock:    func() time.Time { return now },
		Build:    BuildInfo{Version: "1.2.3", CommitSHA: "abc123", Environment: "prod", StartedAt: start},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok, got %s", report.Status)
	}
	if report.Version != "1.2.3" || report.CommitSHA != "abc123" || report.Environment != "prod" {
		t.Fatalf("unexpected build metadata %+v", report)
	}
	if report.Uptime != 5*time.Minute || !report.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected timing uptime=%s generated=%s", report.Uptime, report.GeneratedAt)
	}
	if report.ActiveSessions != 3 {
		t.Fatalf("expected 3 active sessions, got %d", report.ActiveSessions)
	}
}

func TestSystemServiceStatusFollowsWorstCheck(t *testing.T) {
	cases := []struct {
		name   string
		status string
		checks map[string]domain.SystemHealthCheck
		want   string
	}{
		{name: "no checks", want: domain.HealthStatusOK},
		{
			name:   "optional degraded",
			checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK}, "pubsub": {Status: domain.HealthStatusDegraded}},
			want:   domain.HealthStatusDegraded,
		},
		{
			name:   "error beats degraded",
			checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusError}, "storage": {Status: domain.HealthStatusDegraded}},
			want:   domain.HealthStatusError,
		},
		{
			name:   "reported ok masked by failing check",
			status: domain.HealthStatusOK,
			checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusError}},
			want:   domain.HealthStatusError,
		},
		{
			name:   "unknown check status",
			checks: map[string]domain.SystemHealthCheck{"vision": {Status: "flaky"}},
			want:   domain.HealthStatusDegraded,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewSystemService(SystemServiceDeps{
				HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{Status: tc.status, Checks: tc.checks}},
			})
			if err != nil {
				t.Fatalf("NewSystemService: %v", err)
			}
			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("HealthReport: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, report.Status)
			}
			if report.Checks == nil {
				t.Fatal("expected non-nil checks map")
			}
		})
	}
}

func TestSystemServicePropagatesCollectErrors(t *testing.T) {
	expected := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{err: expected}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, expected) {
		t.Fatalf("expected %v, got %v", expected, err)
	}
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatal("expected error when repository missing")
	}
}
