package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
)

type stubHealthRepository struct {
	report domain.HealthReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(context.Context) (domain.HealthReport, error) {
	s.calls++
	return s.report, s.err
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error without health repository")
	}
}

func TestSystemServiceHealthReport(t *testing.T) {
	started := testNow.Add(-90 * time.Second)
	repo := &stubHealthRepository{report: domain.HealthReport{
		Checks: map[string]domain.HealthCheck{
			"datastore": {Status: domain.HealthStatusOK},
			"redis":     {Status: domain.HealthStatusDegraded, Detail: "connection refused"},
		},
	}}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return testNow },
		Build:            BuildInfo{Version: "1.2.0", CommitSHA: "abc123", Environment: "test", StartedAt: started},
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if repo.calls != 1 {
		t.Fatalf("expected one collect call, got %d", repo.calls)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if !report.GeneratedAt.Equal(testNow) {
		t.Fatalf("expected generated at %s, got %s", testNow, report.GeneratedAt)
	}
	if report.Uptime != 90*time.Second {
		t.Fatalf("expected 90s uptime, got %s", report.Uptime)
	}
	if report.Build.Version != "1.2.0" || report.Build.CommitSHA != "abc123" {
		t.Fatalf("unexpected build info %+v", report.Build)
	}
}

func TestSystemServiceStatusDerivation(t *testing.T) {
	cases := []struct {
		name   string
		checks map[string]domain.HealthCheck
		want   domain.HealthStatus
	}{
		{"no checks", nil, domain.HealthStatusOK},
		{"all ok", map[string]domain.HealthCheck{"datastore": {Status: domain.HealthStatusOK}}, domain.HealthStatusOK},
		{"error wins", map[string]domain.HealthCheck{
			"datastore": {Status: domain.HealthStatusDegraded},
			"redis":     {Status: domain.HealthStatusError},
		}, domain.HealthStatusError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewSystemService(SystemServiceDeps{
				HealthRepository: &stubHealthRepository{report: domain.HealthReport{Checks: tc.checks}},
				Clock:            func() time.Time { return testNow },
			})
			if err != nil {
				t.Fatalf("new system service: %v", err)
			}
			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("health report: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, report.Status)
			}
			if report.Checks == nil {
				t.Fatalf("expected non-nil checks map")
			}
			if report.Uptime != 0 {
				t.Fatalf("expected zero uptime when started at clock, got %s", report.Uptime)
			}
		})
	}
}

func TestSystemServicePropagatesCollectError(t *testing.T) {
	boom := errors.New("boom")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{err: boom}})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
