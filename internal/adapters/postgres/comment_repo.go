package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/annotation/internal/core/domain"
)

// CommentRepo implements ports.CommentRepository with pgx.
type CommentRepo struct {
	db *DB
}

// NewCommentRepo creates a new CommentRepo.
func NewCommentRepo(db *DB) *CommentRepo {
	return &CommentRepo{db: db}
}

// Create inserts a comment.
func (r *CommentRepo) Create(ctx context.Context, c *domain.Comment) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO rule_comments (id, rule_id, comment, created, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.RuleID, c.Comment, c.Created, c.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

// GetByID returns a comment, deleted or not.
func (r *CommentRepo) GetByID(ctx context.Context, id string) (*domain.Comment, error) {
	var c domain.Comment
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, rule_id, comment, created, created_by, deleted, COALESCE(deleted_by, '')
		FROM rule_comments WHERE id = $1
	`, id).Scan(&c.ID, &c.RuleID, &c.Comment, &c.Created, &c.CreatedBy, &c.Deleted, &c.DeletedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("comment %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListByRule returns the non-deleted comments of a rule, oldest first.
func (r *CommentRepo) ListByRule(ctx context.Context, ruleID string) ([]domain.Comment, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, rule_id, comment, created, created_by
		FROM rule_comments
		WHERE rule_id = $1 AND deleted IS NULL
		ORDER BY created
	`, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	comments := []domain.Comment{}
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.RuleID, &c.Comment, &c.Created, &c.CreatedBy); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// Delete marks a comment deleted.
func (r *CommentRepo) Delete(ctx context.Context, id, user string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE rule_comments SET deleted = now(), deleted_by = $2 WHERE id = $1 AND deleted IS NULL
	`, id, user)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("comment %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
