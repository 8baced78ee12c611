// Package events appends audit events for templates and deployments.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types.
const (
	TemplateCreated    = "template.created"
	TemplateUpdated    = "template.updated"
	TemplateDeleted    = "template.deleted"
	TemplateRated      = "template.rated"
	DeploymentStarted  = "deployment.started"
	DeploymentFinished = "deployment.finished"
	DeploymentFailed   = "deployment.failed"
	DeploymentRollback = "deployment.rolled_back"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Append writes one event inside tx, or directly on the DB when tx is nil.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	var ex execer = w.DB
	if tx != nil {
		ex = tx
	}
	if actorID == "" {
		actorID = "system"
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
