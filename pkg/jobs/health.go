package jobs

import (
	"strings"
	"time"

	"github.com/owlmq/owlmq/pkg/health"
)

const defaultRepositoryHealthCheckName = "jobs-repository"

// NewRepositoryHealthChecker creates a standard health checker for a
// job repository.
func NewRepositoryHealthChecker(name string, repo Repository, timeout time.Duration) health.Checker {
	checkName := strings.TrimSpace(name)
	if checkName == "" {
		checkName = defaultRepositoryHealthCheckName
	}
	return health.NewAdapterChecker(checkName, repo, timeout)
}
