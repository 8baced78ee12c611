package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"kickoff/internal/domain"
)

const deploymentColumns = `id,COALESCE(template_id,''),target,status,COALESCE(step,''),progress,COALESCE(result_json,''),COALESCE(error,''),actor_id,created_at,updated_at,finished_at`

func scanDeployment(row rowScanner) (domain.Deployment, error) {
	var (
		d        domain.Deployment
		result   string
		finished sql.NullString
	)
	err := row.Scan(&d.ID, &d.TemplateID, &d.Target, &d.Status, &d.Step, &d.Progress, &result, &d.Error, &d.ActorID, &d.CreatedAt, &d.UpdatedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if result != "" {
		d.Result = &domain.DeploymentResult{}
		if err := json.Unmarshal([]byte(result), d.Result); err != nil {
			return d, fmt.Errorf("deployment %s result: %w", d.ID, err)
		}
	}
	if finished.Valid {
		d.FinishedAt = &finished.String
	}
	return d, nil
}

func (r Repo) InsertDeploymentTx(ctx context.Context, tx *sql.Tx, d domain.Deployment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO deployments(id,template_id,target,status,step,progress,actor_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		d.ID, nullable(d.TemplateID), d.Target, d.Status, nullable(d.Step), d.Progress, d.ActorID, d.CreatedAt, d.UpdatedAt)
	return err
}

func (r Repo) GetDeployment(ctx context.Context, id string) (domain.Deployment, error) {
	return scanDeployment(r.DB.QueryRowContext(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE id=?`, id))
}

type DeploymentFilters struct {
	Status          string
	TemplateID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListDeployments(ctx context.Context, f DeploymentFilters) ([]domain.Deployment, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.TemplateID != "" {
		clauses = append(clauses, "template_id=?")
		args = append(args, f.TemplateID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + deploymentColumns + ` FROM deployments ` + where(clauses) + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// UpdateDeploymentProgress moves a deployment forward. Progress never decreases.
func (r Repo) UpdateDeploymentProgress(ctx context.Context, id, status, step string, progress int, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE deployments SET status=?, step=?, progress=MAX(progress, ?), updated_at=? WHERE id=?`,
		status, nullable(step), progress, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishDeploymentTx stores the terminal status together with the result.
func (r Repo) FinishDeploymentTx(ctx context.Context, tx *sql.Tx, id, status string, result *domain.DeploymentResult, errMsg string, finishedAt *string, updatedAt string) error {
	var resultJSON any
	if result != nil {
		var err error
		if resultJSON, err = marshalJSON(result); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, `UPDATE deployments SET status=?, result_json=COALESCE(?, result_json), error=?, finished_at=COALESCE(?, finished_at), updated_at=? WHERE id=?`,
		status, resultJSON, nullable(errMsg), nullableStringPtr(finishedAt), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertLog(ctx context.Context, e domain.LogEntry) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO deployment_logs(deployment_id,ts,level,message) VALUES (?,?,?,?)`,
		e.DeploymentID, e.TS, e.Level, e.Message)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

type LogFilters struct {
	DeploymentID string
	Levels       []string
	Limit        int
}

// ListLogs returns the most recent entries in chronological order.
func (r Repo) ListLogs(ctx context.Context, f LogFilters) ([]domain.LogEntry, error) {
	clauses := []string{"deployment_id=?"}
	args := []any{f.DeploymentID}
	if len(f.Levels) > 0 {
		in := "level IN (?"
		args = append(args, f.Levels[0])
		for _, l := range f.Levels[1:] {
			in += ",?"
			args = append(args, l)
		}
		clauses = append(clauses, in+")")
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}
	args = append(args, f.Limit)
	query := `SELECT id,deployment_id,ts,level,message FROM (SELECT * FROM deployment_logs ` + where(clauses) + ` ORDER BY id DESC LIMIT ?) ORDER BY id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&e.ID, &e.DeploymentID, &e.TS, &e.Level, &e.Message); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// CountLogs returns entry counts per level for one deployment.
func (r Repo) CountLogs(ctx context.Context, deploymentID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT level, COUNT(*) FROM deployment_logs WHERE deployment_id=? GROUP BY level`, deploymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var level string
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, err
		}
		counts[level] = n
	}
	return counts, rows.Err()
}
