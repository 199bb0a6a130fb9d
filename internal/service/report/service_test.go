package report

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"collabhub/internal/apperr"
	"collabhub/internal/model"
	"collabhub/internal/repository/memstore"
)

type captureSender struct {
	mu   sync.Mutex
	to   []string
	err  error
	body []string
}

func (c *captureSender) Send(_ context.Context, recipients []model.Recipient, _, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	for _, r := range recipients {
		c.to = append(c.to, r.Email)
	}
	c.body = append(c.body, body)
	return nil
}

type harness struct {
	db     *memstore.DB
	svc    *Service
	sender *captureSender
	now    time.Time
	task   memstore.Task
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		db:     memstore.New(),
		sender: &captureSender{},
		now:    time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	h.db.WithClock(func() time.Time { return h.now })
	owner := h.db.PutUser(memstore.User{OrgID: 1, Name: "Olivia", Email: "olivia@example.com"})
	proj := h.db.PutProject(memstore.Project{OrgID: 1, OwnerID: &owner.ID, Title: "Launch"})
	h.task = h.db.PutTask(memstore.Task{ProjectID: proj.ID, Title: "Ship beta", Progress: 10})

	if cfg.FrontendBase == "" {
		cfg.FrontendBase = "https://app.example.com/"
	}
	h.svc = NewService(h.db.Reports(), h.db.Entities(), h.db.Directory(), h.sender, cfg, zap.NewNop()).
		WithClock(func() time.Time { return h.now })
	return h
}

func (h *harness) issue(t *testing.T) *model.ProgressReport {
	t.Helper()
	r, err := h.svc.Issue(context.Background(), h.task.ID, "partner@example.org", "Pat Partner")
	require.NoError(t, err)
	return r
}

func TestIssue(t *testing.T) {
	h := newHarness(t, Config{})
	r := h.issue(t)

	assert.NotEmpty(t, r.ReportToken)
	assert.Equal(t, "https://app.example.com/progress-report/"+r.ReportToken, r.URL)
	assert.Equal(t, h.now.Add(24*time.Hour), r.TokenExpiresAt)
	assert.Equal(t, model.ReportPending, r.Status)
	assert.False(t, r.IsSubmitted)
	assert.Equal(t, HashToken(r.ReportToken), r.TokenHash)

	other := h.issue(t)
	assert.NotEqual(t, r.ReportToken, other.ReportToken)

	stored, err := h.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.ReportToken)
}

func TestIssue_Invalid(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.svc.Issue(ctx, h.task.ID, "not-an-email", "")
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "reporter_email", ve.Field)

	_, err = h.svc.Issue(ctx, 9999, "a@b.org", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestIssue_ConfigurableTTL(t *testing.T) {
	h := newHarness(t, Config{TokenTTL: time.Hour})
	r := h.issue(t)
	assert.Equal(t, h.now.Add(time.Hour), r.TokenExpiresAt)
}

func TestValidate(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	r := h.issue(t)

	got, err := h.svc.Validate(ctx, r.ReportToken)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	// read-only: validating twice is fine
	_, err = h.svc.Validate(ctx, r.ReportToken)
	require.NoError(t, err)

	_, err = h.svc.Validate(ctx, "unknown-token")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = h.svc.Validate(ctx, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestValidate_AfterExpiryIsExpired(t *testing.T) {
	h := newHarness(t, Config{})
	r := h.issue(t)

	h.now = r.TokenExpiresAt
	_, err := h.svc.Validate(context.Background(), r.ReportToken)
	require.NoError(t, err)

	h.now = r.TokenExpiresAt.Add(time.Second)
	_, err = h.svc.Validate(context.Background(), r.ReportToken)
	assert.ErrorIs(t, err, apperr.ErrExpired)
}

func TestSubmit_UpdatesTaskAndNotifiesOwner(t *testing.T) {
	h := newHarness(t, Config{})
	r := h.issue(t)

	got, err := h.svc.Submit(context.Background(), r.ReportToken, model.Submission{
		Progress:       65,
		Comment:        "  halfway there ",
		AttachmentURLs: []string{"https://files.example.org/a.pdf"},
	})
	require.NoError(t, err)
	assert.True(t, got.IsSubmitted)
	assert.Equal(t, model.ReportSubmitted, got.Status)
	require.NotNil(t, got.Progress)
	assert.Equal(t, 65, *got.Progress)
	assert.Equal(t, "halfway there", got.Comment)
	require.NotNil(t, got.SubmittedAt)

	task, ok := h.db.Task(h.task.ID)
	require.True(t, ok)
	assert.Equal(t, 65, task.Progress)

	assert.Equal(t, []string{"olivia@example.com"}, h.sender.to)
	assert.Contains(t, h.sender.body[0], "65%")

	_, err = h.svc.Validate(context.Background(), r.ReportToken)
	assert.ErrorIs(t, err, apperr.ErrAlreadySubmitted)
}

func TestSubmit_NotificationFailureDoesNotUndo(t *testing.T) {
	h := newHarness(t, Config{})
	h.sender.err = errors.New("smtp down")
	r := h.issue(t)

	got, err := h.svc.Submit(context.Background(), r.ReportToken, model.Submission{Progress: 40})
	require.NoError(t, err)
	assert.True(t, got.IsSubmitted)

	stored, err := h.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsSubmitted)
}

func TestSubmit_ConcurrentOnlyOneWins(t *testing.T) {
	h := newHarness(t, Config{})
	r := h.issue(t)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.svc.Submit(context.Background(), r.ReportToken, model.Submission{Progress: 10 * i})
		}()
	}
	wg.Wait()

	ok, already := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrAlreadySubmitted):
			already++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, already)
}

func TestSubmit_InvalidPayload(t *testing.T) {
	h := newHarness(t, Config{})
	r := h.issue(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		sub   model.Submission
		field string
	}{
		{name: "negative", sub: model.Submission{Progress: -1}, field: "progress"},
		{name: "over 100", sub: model.Submission{Progress: 101}, field: "progress"},
		{name: "bad url", sub: model.Submission{Progress: 5, AttachmentURLs: []string{"ftp://x/y"}}, field: "attachment_urls"},
		{name: "long comment", sub: model.Submission{Progress: 5, Comment: strings.Repeat("x", maxCommentLen+1)}, field: "comment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Submit(ctx, r.ReportToken, tt.sub)
			var ve *apperr.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	// invalid payloads never consume the token
	_, err := h.svc.Validate(ctx, r.ReportToken)
	assert.NoError(t, err)
}

func TestSubmit_ExpiredAndDeactivated(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	expired := h.issue(t)
	deactivated := h.issue(t)
	_, err := h.svc.Deactivate(ctx, deactivated.ID)
	require.NoError(t, err)

	_, err = h.svc.Submit(ctx, deactivated.ReportToken, model.Submission{Progress: 5})
	assert.ErrorIs(t, err, apperr.ErrExpired)

	h.now = h.now.Add(25 * time.Hour)
	_, err = h.svc.Submit(ctx, expired.ReportToken, model.Submission{Progress: 5})
	assert.ErrorIs(t, err, apperr.ErrExpired)
}

func TestRegenerate(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	r := h.issue(t)
	_, err := h.svc.Deactivate(ctx, r.ID)
	require.NoError(t, err)

	h.now = h.now.Add(2 * time.Hour)
	fresh, err := h.svc.Regenerate(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, fresh.ID)
	assert.NotEqual(t, r.ReportToken, fresh.ReportToken)
	assert.Equal(t, h.now.Add(24*time.Hour), fresh.TokenExpiresAt)
	assert.Nil(t, fresh.DeactivatedAt)

	_, err = h.svc.Validate(ctx, r.ReportToken)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = h.svc.Validate(ctx, fresh.ReportToken)
	assert.NoError(t, err)
}

func TestRegenerate_AfterSubmitFails(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	r := h.issue(t)
	_, err := h.svc.Submit(ctx, r.ReportToken, model.Submission{Progress: 100})
	require.NoError(t, err)

	_, err = h.svc.Regenerate(ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadySubmitted)
	_, err = h.svc.Deactivate(ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadySubmitted)
	_, err = h.svc.Regenerate(ctx, 4242)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReview(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	r := h.issue(t)
	decision := model.ReviewDecision{Status: model.ReportRejected, ReviewerID: 77, Comment: "numbers look off"}

	_, err := h.svc.Review(ctx, r.ID, decision)
	assert.ErrorIs(t, err, apperr.ErrNotYetSubmitted)

	_, err = h.svc.Submit(ctx, r.ReportToken, model.Submission{Progress: 50})
	require.NoError(t, err)

	got, err := h.svc.Review(ctx, r.ID, decision)
	require.NoError(t, err)
	assert.Equal(t, model.ReportRejected, got.Status)
	require.NotNil(t, got.ReviewerID)
	assert.EqualValues(t, 77, *got.ReviewerID)
	assert.Equal(t, "numbers look off", got.ReviewerComment)
	require.NotNil(t, got.ReviewedAt)
	assert.Equal(t, h.now, *got.ReviewedAt)

	// single-shot by default
	_, err = h.svc.Review(ctx, r.ID, model.ReviewDecision{Status: model.ReportReviewed, ReviewerID: 77})
	assert.ErrorIs(t, err, apperr.ErrAlreadyReviewed)

	_, err = h.svc.Review(ctx, 4242, decision)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReview_RevisionAllowedWhenConfigured(t *testing.T) {
	h := newHarness(t, Config{AllowReviewRevision: true})
	ctx := context.Background()
	r := h.issue(t)
	_, err := h.svc.Submit(ctx, r.ReportToken, model.Submission{Progress: 50})
	require.NoError(t, err)

	_, err = h.svc.Review(ctx, r.ID, model.ReviewDecision{Status: model.ReportRejected, ReviewerID: 1})
	require.NoError(t, err)
	got, err := h.svc.Review(ctx, r.ID, model.ReviewDecision{Status: model.ReportReviewed, ReviewerID: 2})
	require.NoError(t, err)
	assert.Equal(t, model.ReportReviewed, got.Status)
}

func TestReview_InvalidDecision(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.svc.Review(context.Background(), 1, model.ReviewDecision{Status: model.ReportSubmitted, ReviewerID: 1})
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "status", ve.Field)
}

func TestPurgeExpired(t *testing.T) {
	h := newHarness(t, Config{PurgeGrace: time.Hour})
	ctx := context.Background()

	stale := h.issue(t)
	submitted := h.issue(t)
	_, err := h.svc.Submit(ctx, submitted.ReportToken, model.Submission{Progress: 1})
	require.NoError(t, err)

	h.now = h.now.Add(24*time.Hour + 30*time.Minute)
	live := h.issue(t)

	n, err := h.svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "still inside the grace period")

	h.now = h.now.Add(time.Hour)
	n, err = h.svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = h.svc.Get(ctx, stale.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = h.svc.Get(ctx, submitted.ID)
	assert.NoError(t, err)
	_, err = h.svc.Get(ctx, live.ID)
	assert.NoError(t, err)
}
