package model

import "time"

type ReportStatus string

const (
	ReportPending   ReportStatus = "pending"
	ReportSubmitted ReportStatus = "submitted"
	ReportReviewed  ReportStatus = "reviewed"
	ReportRejected  ReportStatus = "rejected"
)

// ProgressReport is a one-shot external progress submission gated by a
// bearer token. Only the token digest is persisted; ReportToken and URL are
// populated on issue and regenerate.
type ProgressReport struct {
	ID              int64        `json:"id"`
	TaskID          int64        `json:"task_id"`
	ReporterName    string       `json:"reporter_name"`
	ReporterEmail   string       `json:"reporter_email"`
	Progress        *int         `json:"progress"`
	Status          ReportStatus `json:"status"`
	Comment         string       `json:"comment"`
	AttachmentURLs  []string     `json:"attachment_urls"`
	ReportToken     string       `json:"report_token,omitempty"`
	URL             string       `json:"url,omitempty"`
	TokenHash       string       `json:"-"`
	TokenExpiresAt  time.Time    `json:"token_expires_at"`
	DeactivatedAt   *time.Time   `json:"deactivated_at,omitempty"`
	IsSubmitted     bool         `json:"is_submitted"`
	SubmittedAt     *time.Time   `json:"submitted_at,omitempty"`
	ReviewerID      *int64       `json:"reviewer_id,omitempty"`
	ReviewerComment string       `json:"reviewer_comment,omitempty"`
	ReviewedAt      *time.Time   `json:"reviewed_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Expired reports whether the token can no longer be used at now.
// Deactivation counts as expiry.
func (r *ProgressReport) Expired(now time.Time) bool {
	return r.DeactivatedAt != nil || now.After(r.TokenExpiresAt)
}

// Submission is the payload an external reporter sends.
type Submission struct {
	Progress       int      `json:"progress"`
	Comment        string   `json:"comment"`
	AttachmentURLs []string `json:"attachment_urls"`
}

// ReviewDecision is the reviewer's verdict on a submitted report.
type ReviewDecision struct {
	Status     ReportStatus `json:"status"`
	ReviewerID int64        `json:"reviewer_id"`
	Comment    string       `json:"comment"`
}
