package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"kickoff/internal/domain"
)

const templateColumns = `id,name,COALESCE(description,''),type,COALESCE(category,''),content_json,COALESCE(variables_json,''),COALESCE(tags_json,''),is_public,usage_count,rating_count,rating_average,created_by,created_at,updated_at`

func scanTemplate(row rowScanner) (domain.Template, error) {
	var (
		t                  domain.Template
		content, vars, tag string
	)
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Type, &t.Category, &content, &vars, &tag,
		&t.IsPublic, &t.UsageCount, &t.RatingCount, &t.RatingAverage, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Content = json.RawMessage(content)
	if vars != "" {
		if err := json.Unmarshal([]byte(vars), &t.Variables); err != nil {
			return t, fmt.Errorf("template %s variables: %w", t.ID, err)
		}
	}
	if tag != "" {
		if err := json.Unmarshal([]byte(tag), &t.Tags); err != nil {
			return t, fmt.Errorf("template %s tags: %w", t.ID, err)
		}
	}
	return t, nil
}

func templateArgs(t domain.Template) (vars, tags any, err error) {
	if len(t.Variables) > 0 {
		if vars, err = marshalJSON(t.Variables); err != nil {
			return nil, nil, err
		}
	}
	if len(t.Tags) > 0 {
		if tags, err = marshalJSON(t.Tags); err != nil {
			return nil, nil, err
		}
	}
	return vars, tags, nil
}

func (r Repo) InsertTemplateTx(ctx context.Context, tx *sql.Tx, t domain.Template) error {
	vars, tags, err := templateArgs(t)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO templates(id,name,description,type,category,content_json,variables_json,tags_json,is_public,usage_count,rating_count,rating_average,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Name, nullable(t.Description), t.Type, nullable(t.Category), string(t.Content), vars, tags,
		t.IsPublic, t.UsageCount, t.RatingCount, t.RatingAverage, t.CreatedBy, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	return scanTemplate(r.DB.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id=?`, id))
}

// UpdateTemplateTx rewrites the editable columns of t.
func (r Repo) UpdateTemplateTx(ctx context.Context, tx *sql.Tx, t domain.Template) error {
	vars, tags, err := templateArgs(t)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE templates SET name=?,description=?,category=?,content_json=?,variables_json=?,tags_json=?,is_public=?,updated_at=? WHERE id=?`,
		t.Name, nullable(t.Description), nullable(t.Category), string(t.Content), vars, tags, t.IsPublic, t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTemplateTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM templates WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type TemplateFilters struct {
	Type            string
	Category        string
	CreatedBy       string
	PublicOnly      bool
	Search          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTemplates(ctx context.Context, f TemplateFilters) ([]domain.Template, error) {
	var clauses []string
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.PublicOnly {
		clauses = append(clauses, "is_public=1")
	}
	if f.Search != "" {
		clauses = append(clauses, "(name LIKE ? OR description LIKE ?)")
		like := "%" + f.Search + "%"
		args = append(args, like, like)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + templateColumns + ` FROM templates ` + where(clauses) + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) IncrementTemplateUsage(ctx context.Context, id, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE templates SET usage_count=usage_count+1, updated_at=? WHERE id=?`, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddTemplateRatingTx folds score into the running average.
func (r Repo) AddTemplateRatingTx(ctx context.Context, tx *sql.Tx, id string, score int, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE templates SET rating_average=(rating_average*rating_count+?)/(rating_count+1), rating_count=rating_count+1, updated_at=? WHERE id=?`,
		float64(score), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
