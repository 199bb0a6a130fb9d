package escalation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"collabhub/internal/apperr"
	"collabhub/internal/model"
	"collabhub/pkg/metrics"
)

// Directory resolves principals for an entity. Missing principals are
// reported as nil / empty, never as an error.
type Directory interface {
	User(ctx context.Context, userID int64) (*model.Recipient, error)
	ProjectOwner(ctx context.Context, projectID int64) (*model.Recipient, error)
	Stakeholders(ctx context.Context, projectID int64) ([]model.Recipient, error)
	Admins(ctx context.Context, orgID int64) ([]model.Recipient, error)
}

// Sender delivers one message to a set of recipients.
type Sender interface {
	Send(ctx context.Context, recipients []model.Recipient, subject, body string) error
}

// resolver picks the recipients of one action kind.
type resolver func(ctx context.Context, dir Directory, entity model.Entity) ([]model.Recipient, error)

// Dispatcher executes a rule's action for one entity. The set of actions is
// closed; anything outside it fails with a DispatchError.
type Dispatcher struct {
	dir     Directory
	sender  Sender
	actions map[model.Action]resolver
	logger  *zap.Logger
}

func NewDispatcher(dir Directory, sender Sender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		dir:    dir,
		sender: sender,
		actions: map[model.Action]resolver{
			model.ActionNotifyOwner:        resolveOwner,
			model.ActionNotifyStakeholders: resolveStakeholders,
			model.ActionEscalateToManager:  resolveManagers,
		},
		logger: logger,
	}
}

// Dispatch runs action for entity and returns a human readable detail for the
// escalation log. An empty recipient set is a successful no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, rule model.EscalationRule, entity model.Entity) (string, error) {
	start := time.Now()
	detail, err := d.dispatch(ctx, rule, entity)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordDispatchLatency(string(rule.Action), status, time.Since(start))
	return detail, err
}

func (d *Dispatcher) dispatch(ctx context.Context, rule model.EscalationRule, entity model.Entity) (string, error) {
	resolve, ok := d.actions[rule.Action]
	if !ok {
		return "", &apperr.DispatchError{Action: string(rule.Action), Err: errors.New("unknown action")}
	}

	recipients, err := resolve(ctx, d.dir, entity)
	if err != nil {
		return "", &apperr.DispatchError{Action: string(rule.Action), Err: fmt.Errorf("resolve recipients: %w", err)}
	}
	if len(recipients) == 0 {
		d.logger.Info("No recipients for escalation",
			zap.Int64("rule_id", rule.ID),
			zap.String("entity_kind", string(entity.Kind)),
			zap.Int64("entity_id", entity.ID),
		)
		return "no recipients", nil
	}

	subject, body := renderMessage(rule, entity)
	if err := d.sender.Send(ctx, recipients, subject, body); err != nil {
		return "", &apperr.DispatchError{Action: string(rule.Action), Err: err}
	}

	emails := make([]string, 0, len(recipients))
	for _, r := range recipients {
		emails = append(emails, r.Email)
	}
	return fmt.Sprintf("%s: notified %d recipient(s): %s", rule.Action, len(recipients), strings.Join(emails, ", ")), nil
}

func renderMessage(rule model.EscalationRule, entity model.Entity) (string, string) {
	subject := fmt.Sprintf("[Escalation] %s %q needs attention", entity.Kind, entity.Title)

	var b strings.Builder
	fmt.Fprintf(&b, "Rule %q matched %s #%d (%s).\n", rule.Name, entity.Kind, entity.ID, entity.Title)
	switch rule.TriggerType {
	case model.TriggerDaysAfterDue:
		fmt.Fprintf(&b, "It is at least %d day(s) past its due date", rule.TriggerValue)
	case model.TriggerDaysBeforeDue:
		fmt.Fprintf(&b, "It is due within %d day(s)", rule.TriggerValue)
	case model.TriggerProgressBelow:
		fmt.Fprintf(&b, "Progress is %d%%, below %d%%", entity.Progress, rule.TriggerValue)
	}
	if entity.DueDate != nil {
		fmt.Fprintf(&b, " (due %s)", entity.DueDate.Format("2006-01-02"))
	}
	b.WriteString(".\n")
	return subject, b.String()
}

// owner 任务取负责人，项目取项目 owner
func owner(ctx context.Context, dir Directory, entity model.Entity) (*model.Recipient, error) {
	if entity.Kind == model.EntityProject {
		return dir.ProjectOwner(ctx, entity.ID)
	}
	if entity.AssigneeID == nil {
		return nil, nil
	}
	return dir.User(ctx, *entity.AssigneeID)
}

func resolveOwner(ctx context.Context, dir Directory, entity model.Entity) ([]model.Recipient, error) {
	r, err := owner(ctx, dir, entity)
	if err != nil || r == nil {
		return nil, err
	}
	return []model.Recipient{*r}, nil
}

func resolveStakeholders(ctx context.Context, dir Directory, entity model.Entity) ([]model.Recipient, error) {
	r, err := owner(ctx, dir, entity)
	if err != nil {
		return nil, err
	}
	var out []model.Recipient
	if r != nil {
		out = append(out, *r)
	}
	if entity.ProjectID == 0 {
		return out, nil
	}
	stakeholders, err := dir.Stakeholders(ctx, entity.ProjectID)
	if err != nil {
		return nil, err
	}
	return dedupe(append(out, stakeholders...)), nil
}

func resolveManagers(ctx context.Context, dir Directory, entity model.Entity) ([]model.Recipient, error) {
	admins, err := dir.Admins(ctx, entity.OrgID)
	if err != nil {
		return nil, err
	}
	return dedupe(admins), nil
}

func dedupe(in []model.Recipient) []model.Recipient {
	seen := make(map[int64]bool, len(in))
	out := in[:0]
	for _, r := range in {
		if seen[r.UserID] {
			continue
		}
		seen[r.UserID] = true
		out = append(out, r)
	}
	return out
}
