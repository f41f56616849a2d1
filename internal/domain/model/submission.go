package model

import "time"

type SubmissionStatus string

const (
	SubmissionPending        SubmissionStatus = "PENDING"
	SubmissionScriptReady    SubmissionStatus = "SCRIPT_READY"
	SubmissionProcessing     SubmissionStatus = "PROCESSING"
	SubmissionCompleted      SubmissionStatus = "COMPLETED"
	SubmissionPartialFailure SubmissionStatus = "PARTIAL_FAILURE"
	SubmissionFailed         SubmissionStatus = "FAILED"
)

// Submission groups the outputs produced from one article in one language.
// Status is derived; only the aggregator writes it.
type Submission struct {
	ID             string
	OrganizationID string
	ArticleID      string
	Language       string
	Status         SubmissionStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Article is the source text. The pipeline only reads it.
type Article struct {
	ID             string
	OrganizationID string
	Title          string
	Content        string
}

// AggregateStatus derives a submission status from its outputs.
//
// Precedence: any PROCESSING wins; then all COMPLETED; then failures (all
// FAILED is FAILED, otherwise PARTIAL_FAILURE); then SCRIPT_READY awaiting
// review; then PENDING, or PROCESSING when some outputs already finished.
func AggregateStatus(statuses []OutputStatus) SubmissionStatus {
	if len(statuses) == 0 {
		return SubmissionPending
	}
	counts := make(map[OutputStatus]int, 5)
	for _, s := range statuses {
		counts[s]++
	}
	n := len(statuses)
	switch {
	case counts[OutputProcessing] > 0:
		return SubmissionProcessing
	case counts[OutputCompleted] == n:
		return SubmissionCompleted
	case counts[OutputFailed] == n:
		return SubmissionFailed
	case counts[OutputFailed] > 0:
		return SubmissionPartialFailure
	case counts[OutputScriptReady] > 0:
		return SubmissionScriptReady
	case counts[OutputCompleted] > 0:
		return SubmissionProcessing
	}
	return SubmissionPending
}

// ReclaimedOutput is one output failed by a timeout sweep.
type ReclaimedOutput struct {
	Kind         MediaKind
	OutputID     string
	SubmissionID string
	Reason       string
}

// SweepReport summarises one timeout sweep.
type SweepReport struct {
	Reclaimed   []ReclaimedOutput
	Submissions []string
	Errors      int
}
