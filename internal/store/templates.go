package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/orellanin/campaignrunner/internal/engine"
	"github.com/orellanin/campaignrunner/internal/model"
	"github.com/orellanin/campaignrunner/internal/render"
)

// CreateTemplateCommand is the input to CreateTemplate.
type CreateTemplateCommand struct {
	UserID   int64
	Name     string
	Subject  string
	BodyHTML string
}

// CreateTemplate recomputes Variables from the subject+body tokens before
// inserting, so callers never need to supply it by hand.
func (s *Store) CreateTemplate(ctx context.Context, cmd CreateTemplateCommand) (*model.Template, error) {
	if cmd.Subject == "" || cmd.BodyHTML == "" {
		return nil, engine.Newf(engine.KindValidation, "subject and body are required")
	}
	vars := render.ExtractVariables(cmd.Subject, cmd.BodyHTML)

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO templates (user_id, name, subject, body_html, variables)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, uuid, user_id, name, subject, body_html, variables, created_at, updated_at`,
		cmd.UserID, cmd.Name, cmd.Subject, cmd.BodyHTML, pq.Array(vars))
	t, err := scanTemplate(row)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "insert template")
	}
	return t, nil
}

// UpdateTemplateCommand is the input to UpdateTemplate.
type UpdateTemplateCommand struct {
	UserID   int64
	ID       int64
	Name     string
	Subject  string
	BodyHTML string
}

// UpdateTemplate rewrites subject/body and recomputes Variables.
func (s *Store) UpdateTemplate(ctx context.Context, cmd UpdateTemplateCommand) (*model.Template, error) {
	vars := render.ExtractVariables(cmd.Subject, cmd.BodyHTML)
	row := s.db.QueryRowContext(ctx, `
		UPDATE templates SET name = $1, subject = $2, body_html = $3, variables = $4, updated_at = NOW()
		WHERE id = $5 AND user_id = $6
		RETURNING id, uuid, user_id, name, subject, body_html, variables, created_at, updated_at`,
		cmd.Name, cmd.Subject, cmd.BodyHTML, pq.Array(vars), cmd.ID, cmd.UserID)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.Newf(engine.KindNotFound, "template %d not found", cmd.ID)
	}
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "update template")
	}
	return t, nil
}

// GetTemplate loads one template, scoped to its owner.
func (s *Store) GetTemplate(ctx context.Context, userID, id int64) (*model.Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, uuid, user_id, name, subject, body_html, variables, created_at, updated_at
		FROM templates WHERE id = $1 AND user_id = $2`, id, userID)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.Newf(engine.KindNotFound, "template %d not found", id)
	}
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "get template")
	}
	return t, nil
}

// GetTemplateByIDUnscoped loads a template by id only, for the sender
// which renders a campaign's template without a user context.
func (s *Store) GetTemplateByIDUnscoped(ctx context.Context, id int64) (*model.Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, uuid, user_id, name, subject, body_html, variables, created_at, updated_at
		FROM templates WHERE id = $1`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.Newf(engine.KindNotFound, "template %d not found", id)
	}
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "get template")
	}
	return t, nil
}

// ListTemplates returns every template owned by a user, newest first.
func (s *Store) ListTemplates(ctx context.Context, userID int64) ([]*model.Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, uuid, user_id, name, subject, body_html, variables, created_at, updated_at
		FROM templates WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "list templates")
	}
	defer rows.Close()

	var out []*model.Template
	for rows.Next() {
		var t model.Template
		if err := rows.Scan(&t.ID, &t.UUID, &t.UserID, &t.Name, &t.Subject, &t.BodyHTML, pq.Array(&t.Variables), &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, engine.Wrap(engine.KindInternal, err, "scan template")
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func scanTemplate(row *sql.Row) (*model.Template, error) {
	var t model.Template
	err := row.Scan(&t.ID, &t.UUID, &t.UserID, &t.Name, &t.Subject, &t.BodyHTML, pq.Array(&t.Variables), &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
