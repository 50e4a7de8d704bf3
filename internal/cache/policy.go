package cache

// RefusalReason names the rule that blocked a write.
type RefusalReason string

const (
	RefusedResumeCritical RefusalReason = "resume_critical"
	RefusedJobCritical    RefusalReason = "job_critical"
	RefusedPIIBudget      RefusalReason = "pii_budget"
)

// Decision is the outcome of evaluating a write.
type Decision struct {
	Allowed bool
	Reason  RefusalReason
}

// WritePolicy decides whether an artifact may be cached given its provenance.
// Critical PII in any input blocks the write regardless of the payload.
type WritePolicy struct {
	MaxPIIBudget int
}

// Evaluate applies the policy to a snapshot.
func (p WritePolicy) Evaluate(s SeveritySnapshot) Decision {
	switch {
	case s.ResumeHadCritical:
		return Decision{Reason: RefusedResumeCritical}
	case s.JobHadCritical:
		return Decision{Reason: RefusedJobCritical}
	case s.TotalPIIItems > p.MaxPIIBudget:
		return Decision{Reason: RefusedPIIBudget}
	default:
		return Decision{Allowed: true}
	}
}
