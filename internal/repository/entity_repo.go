package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"collabhub/internal/apperr"
	"collabhub/internal/model"
)

// EntityRepository is the task/project read model. The only write it
// performs is the progress update after a report submission.
type EntityRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewEntityRepository(db *pgxpool.Pool, logger *zap.Logger) *EntityRepository {
	return &EntityRepository{db: db, logger: logger}
}

const (
	taskDoneStatuses    = `('done', 'completed')`
	projectDoneStatuses = `('completed', 'archived')`
)

// ListEligible returns open tasks and projects. Due date triggers only see
// entities with a due date.
func (r *EntityRepository) ListEligible(ctx context.Context, trigger model.TriggerType) ([]model.Entity, error) {
	needDue := trigger != model.TriggerProgressBelow
	query := `
        SELECT 'task', t.id, t.title, t.project_id, p.org_id, t.assignee_id, t.due_date, t.progress, t.status
        FROM tasks t
        JOIN projects p ON p.id = t.project_id
        WHERE t.status NOT IN ` + taskDoneStatuses + `
          AND (NOT $1 OR t.due_date IS NOT NULL)
        UNION ALL
        SELECT 'project', p.id, p.title, p.id, p.org_id, NULL, p.due_date, p.progress, p.status
        FROM projects p
        WHERE p.status NOT IN ` + projectDoneStatuses + `
          AND (NOT $1 OR p.due_date IS NOT NULL)
        ORDER BY 1 DESC, 2 ASC`

	rows, err := r.db.Query(ctx, query, needDue)
	if err != nil {
		r.logger.Error("Failed to list eligible entities", zap.Error(err), zap.String("trigger_type", string(trigger)))
		return nil, err
	}
	defer rows.Close()

	entities := []model.Entity{}
	for rows.Next() {
		var e model.Entity
		if err := rows.Scan(
			&e.Kind,
			&e.ID,
			&e.Title,
			&e.ProjectID,
			&e.OrgID,
			&e.AssigneeID,
			&e.DueDate,
			&e.Progress,
			&e.Status,
		); err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func (r *EntityRepository) GetTask(ctx context.Context, id int64) (*model.Entity, error) {
	query := `
        SELECT t.id, t.title, t.project_id, p.org_id, t.assignee_id, t.due_date, t.progress, t.status,
               t.status IN ` + taskDoneStatuses + `
        FROM tasks t
        JOIN projects p ON p.id = t.project_id
        WHERE t.id = $1`
	e := model.Entity{Kind: model.EntityTask}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&e.ID,
		&e.Title,
		&e.ProjectID,
		&e.OrgID,
		&e.AssigneeID,
		&e.DueDate,
		&e.Progress,
		&e.Status,
		&e.Completed,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EntityRepository) UpdateProgress(ctx context.Context, taskID int64, progress int) error {
	tag, err := r.db.Exec(ctx, `UPDATE tasks SET progress = $2 WHERE id = $1`, taskID, progress)
	if err != nil {
		r.logger.Error("Failed to update task progress", zap.Error(err), zap.Int64("task_id", taskID))
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
