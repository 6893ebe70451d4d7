package domain

import "time"

type WorkspaceID string

// ProgramInfo is what the cloud backend reports about a workspace's
// Free Connector Program eligibility.
type ProgramInfo struct {
	HasEligibleConnector   bool `json:"hasEligibleConnector"`
	HasPaymentAccountSaved bool `json:"hasPaymentAccountSaved"`
}

// EnrollmentStatus is the view the dashboard renders from.
type EnrollmentStatus struct {
	ShowEnrollmentUI bool `json:"showEnrollmentUi"`
	IsEnrolled       bool `json:"isEnrolled"`
}

// DeriveStatus turns backend info into rendering booleans. Both are false
// while the program is hidden behind its feature flag.
func DeriveStatus(info ProgramInfo, programVisible bool) EnrollmentStatus {
	eligibleToEnroll := info.HasEligibleConnector && !info.HasPaymentAccountSaved
	return EnrollmentStatus{
		ShowEnrollmentUI: programVisible && eligibleToEnroll,
		IsEnrolled:       programVisible && info.HasPaymentAccountSaved,
	}
}

type ErrorRecord struct {
	ID          string            `json:"id"`
	Message     string            `json:"message"`
	WorkspaceID WorkspaceID       `json:"workspace_id,omitempty"`
	Context     map[string]string `json:"context,omitempty"`
	RecordedAt  time.Time         `json:"recorded_at"`
}

// Confirmation is the last outcome of a post-payment enrollment check.
type Confirmation struct {
	WorkspaceID WorkspaceID `json:"workspace_id"`
	Enrolled    bool        `json:"enrolled"`
	ConfirmedAt time.Time   `json:"confirmed_at"`
}
