package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"collabhub/internal/model"
	"collabhub/pkg/rbac"
)

// DirectoryRepository resolves notification recipients from users,
// projects and project_stakeholders.
type DirectoryRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewDirectoryRepository(db *pgxpool.Pool, logger *zap.Logger) *DirectoryRepository {
	return &DirectoryRepository{db: db, logger: logger}
}

func (r *DirectoryRepository) one(ctx context.Context, query string, arg int64) (*model.Recipient, error) {
	var rc model.Recipient
	err := r.db.QueryRow(ctx, query, arg).Scan(&rc.UserID, &rc.Name, &rc.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rc, nil
}

func (r *DirectoryRepository) many(ctx context.Context, query string, args ...any) ([]model.Recipient, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Recipient
	for rows.Next() {
		var rc model.Recipient
		if err := rows.Scan(&rc.UserID, &rc.Name, &rc.Email); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (r *DirectoryRepository) User(ctx context.Context, userID int64) (*model.Recipient, error) {
	return r.one(ctx, `SELECT id, name, email FROM users WHERE id = $1`, userID)
}

func (r *DirectoryRepository) ProjectOwner(ctx context.Context, projectID int64) (*model.Recipient, error) {
	return r.one(ctx, `
        SELECT u.id, u.name, u.email
        FROM projects p
        JOIN users u ON u.id = p.owner_id
        WHERE p.id = $1`, projectID)
}

func (r *DirectoryRepository) Stakeholders(ctx context.Context, projectID int64) ([]model.Recipient, error) {
	return r.many(ctx, `
        SELECT u.id, u.name, u.email
        FROM project_stakeholders s
        JOIN users u ON u.id = s.user_id
        WHERE s.project_id = $1
        ORDER BY u.id`, projectID)
}

// Admins returns users holding the admin role in the organization.
func (r *DirectoryRepository) Admins(ctx context.Context, orgID int64) ([]model.Recipient, error) {
	return r.many(ctx, `
        SELECT id, name, email
        FROM users
        WHERE org_id = $1 AND role = $2
        ORDER BY id`, orgID, rbac.RoleAdmin)
}
