package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates an optional component failed.
	Degraded Status = "degraded"
	// Unhealthy indicates the storage backend failed.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// StorageCheck is the name of the mandatory check.
const StorageCheck = "storage"

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

type namedChecker struct {
	name    string
	checker Checker
}

// Service coordinates health checks.
type Service struct {
	storage  Checker
	optional []namedChecker
}

// New creates a Service around the storage check.
func New(storage Checker) *Service {
	return &Service{storage: storage}
}

// With adds an optional component; its failure only degrades the report.
func (s *Service) With(name string, c Checker) *Service {
	s.optional = append(s.optional, namedChecker{name: name, checker: c})
	return s
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := map[string]CheckResult{StorageCheck: CheckOK}
	status := Healthy

	if err := s.storage.HealthCheck(ctx); err != nil {
		checks[StorageCheck] = CheckError
		status = Unhealthy
	}

	for _, c := range s.optional {
		if err := c.checker.HealthCheck(ctx); err != nil {
			checks[c.name] = CheckError
			if status == Healthy {
				status = Degraded
			}
			continue
		}
		checks[c.name] = CheckOK
	}

	return Report{Status: status, Checks: checks}
}
