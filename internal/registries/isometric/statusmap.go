package isometric

import "charlog/internal/domain"

// statusMap translates registry-side verification statuses into the local
// domain vocabulary. Table-driven so the mapping is testable without I/O.
var statusMap = map[string]domain.CreditBatchStatus{
	"submitted":           domain.BatchSubmitted,
	"under_review":        domain.BatchPending,
	"pending":             domain.BatchPending,
	"verified":            domain.BatchVerified,
	"approved":            domain.BatchVerified,
	"issued":              domain.BatchIssued,
	"credits_issued":      domain.BatchIssued,
	"rejected":            domain.BatchRejected,
	"verification_failed": domain.BatchRejected,
}

// MapStatus returns the local status for a registry status. Unknown registry
// statuses map to false so the caller can leave the domain record untouched.
func MapStatus(registryStatus string) (domain.CreditBatchStatus, bool) {
	status, ok := statusMap[registryStatus]
	return status, ok
}
