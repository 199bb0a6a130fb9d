package mq

import "time"

// Routing keys published through the outbox.
const (
	RoutingNotificationCreated = "notification.created"
	RoutingReportSubmitted     = "report.submitted"
)

// NotificationCreatedPayload asks the delivery side to send one message to one
// user. Channel is EMAIL / PUSH / SMS / WEBHOOK.
type NotificationCreatedPayload struct {
	UserID    int64     `json:"user_id"`
	Email     string    `json:"email"`
	Channel   string    `json:"channel"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	TraceID   string    `json:"trace_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ReportSubmittedPayload is emitted in the same transaction as the
// submission write.
type ReportSubmittedPayload struct {
	ReportID    int64     `json:"report_id"`
	TaskID      int64     `json:"task_id"`
	Progress    int       `json:"progress"`
	Reporter    string    `json:"reporter_email"`
	TraceID     string    `json:"trace_id,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}
