// Package monitor records progress, log lines and outcomes of deployment
// runs and serves them back for polling and rollback decisions.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kickoff/internal/domain"
	"kickoff/internal/events"
	"kickoff/internal/repo"
)

// Deployment statuses.
const (
	StatusPending             = "pending"
	StatusRunning             = "running"
	StatusCompleted           = "completed"
	StatusCompletedWithErrors = "completed_with_errors"
	StatusFailed              = "failed"
	StatusRolledBack          = "rolled_back"
)

// Log levels accepted by RecordLog.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

var levelRank = map[string]int{LevelDebug: 0, LevelInfo: 1, LevelWarn: 2, LevelError: 3}

var ErrInvalidTransition = errors.New("invalid deployment status transition")

type Service struct {
	Repo   repo.Repo
	Events events.Writer
	Logger *zap.Logger
	Now    func() time.Time
}

func New(r repo.Repo, logger *zap.Logger) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Service{
		Repo:   r,
		Events: events.Writer{DB: r.DB},
		Logger: logger.Named("monitor"),
		Now:    time.Now,
	}
}

func (s Service) now() string {
	now := s.Now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339)
}

func (s Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// StartOptions describe a new deployment record.
type StartOptions struct {
	ID         string
	TemplateID string
	Target     string
	ActorID    string
}

// Start creates a pending deployment.
func (s Service) Start(ctx context.Context, opts StartOptions) (domain.Deployment, error) {
	if opts.Target == "" {
		return domain.Deployment{}, errors.New("deployment target is required")
	}
	if opts.ID == "" {
		opts.ID = "dep-" + uuid.NewString()
	}
	if opts.ActorID == "" {
		opts.ActorID = "system"
	}
	now := s.now()
	d := domain.Deployment{
		ID:         opts.ID,
		TemplateID: opts.TemplateID,
		Target:     opts.Target,
		Status:     StatusPending,
		ActorID:    opts.ActorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	tx, err := s.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Deployment{}, err
	}
	defer tx.Rollback()
	if err := s.Repo.InsertDeploymentTx(ctx, tx, d); err != nil {
		return domain.Deployment{}, fmt.Errorf("insert deployment: %w", err)
	}
	if err := s.Events.Append(ctx, tx, events.DeploymentStarted, "deployment", d.ID, d.ActorID, events.EventPayload{
		"template_id": d.TemplateID,
		"target":      d.Target,
	}); err != nil {
		return domain.Deployment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Deployment{}, err
	}
	s.logger().Info("deployment created", zap.String("deployment_id", d.ID), zap.String("target", d.Target))
	return d, nil
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

func terminal(status string) bool {
	switch status {
	case StatusCompleted, StatusCompletedWithErrors, StatusFailed, StatusRolledBack:
		return true
	}
	return false
}

// RecordProgress marks the deployment running at step with percent in [0,100].
func (s Service) RecordProgress(ctx context.Context, id, step string, percent int) error {
	d, err := s.Repo.GetDeployment(ctx, id)
	if err != nil {
		return err
	}
	if terminal(d.Status) {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, d.Status)
	}
	return s.Repo.UpdateDeploymentProgress(ctx, id, StatusRunning, step, clampPercent(percent), s.now())
}

// RecordLog appends one log line to the deployment.
func (s Service) RecordLog(ctx context.Context, id, level, message string) error {
	if _, ok := levelRank[level]; !ok {
		return fmt.Errorf("invalid log level %q", level)
	}
	_, err := s.Repo.InsertLog(ctx, domain.LogEntry{DeploymentID: id, TS: s.now(), Level: level, Message: message})
	return err
}

// StatusFor derives the terminal status of a finished run.
func StatusFor(result *domain.DeploymentResult, runErr error) string {
	switch {
	case runErr != nil:
		return StatusFailed
	case result != nil && len(result.Errors) > 0:
		return StatusCompletedWithErrors
	}
	return StatusCompleted
}

// Complete stores the result of a run that reached the end.
func (s Service) Complete(ctx context.Context, id string, result *domain.DeploymentResult) (domain.Deployment, error) {
	return s.finish(ctx, id, StatusFor(result, nil), result, nil)
}

// Fail stores a run that aborted. The partial result is kept for rollback.
func (s Service) Fail(ctx context.Context, id string, runErr error, result *domain.DeploymentResult) (domain.Deployment, error) {
	if runErr == nil {
		runErr = errors.New("deployment failed")
	}
	return s.finish(ctx, id, StatusFailed, result, runErr)
}

func (s Service) finish(ctx context.Context, id, status string, result *domain.DeploymentResult, runErr error) (domain.Deployment, error) {
	d, err := s.Repo.GetDeployment(ctx, id)
	if err != nil {
		return domain.Deployment{}, err
	}
	if terminal(d.Status) {
		return domain.Deployment{}, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, d.Status)
	}
	now := s.now()
	errMsg := ""
	evtType := events.DeploymentFinished
	if runErr != nil {
		errMsg = runErr.Error()
		evtType = events.DeploymentFailed
	}
	tx, err := s.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Deployment{}, err
	}
	defer tx.Rollback()
	if err := s.Repo.FinishDeploymentTx(ctx, tx, id, status, result, errMsg, &now, now); err != nil {
		return domain.Deployment{}, err
	}
	payload := events.EventPayload{"status": status}
	if result != nil {
		payload["project_id"] = result.ProjectID
		payload["errors"] = len(result.Errors)
		payload["warnings"] = len(result.Warnings)
	}
	if err := s.Events.Append(ctx, tx, evtType, "deployment", id, d.ActorID, payload); err != nil {
		return domain.Deployment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Deployment{}, err
	}
	if status != StatusFailed {
		if err := s.Repo.UpdateDeploymentProgress(ctx, id, status, "done", 100, now); err != nil {
			return domain.Deployment{}, err
		}
	}
	s.logger().Info("deployment finished", zap.String("deployment_id", id), zap.String("status", status))
	return s.Repo.GetDeployment(ctx, id)
}

// MarkRolledBack records that the remote records of a finished run were removed.
func (s Service) MarkRolledBack(ctx context.Context, id, actorID string, removed int) (domain.Deployment, error) {
	d, err := s.Repo.GetDeployment(ctx, id)
	if err != nil {
		return domain.Deployment{}, err
	}
	if !terminal(d.Status) || d.Status == StatusRolledBack {
		return domain.Deployment{}, fmt.Errorf("%w: cannot roll back %s deployment", ErrInvalidTransition, d.Status)
	}
	now := s.now()
	tx, err := s.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Deployment{}, err
	}
	defer tx.Rollback()
	if err := s.Repo.FinishDeploymentTx(ctx, tx, id, StatusRolledBack, nil, d.Error, nil, now); err != nil {
		return domain.Deployment{}, err
	}
	if err := s.Events.Append(ctx, tx, events.DeploymentRollback, "deployment", id, actorID, events.EventPayload{"removed": removed}); err != nil {
		return domain.Deployment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Deployment{}, err
	}
	return s.Repo.GetDeployment(ctx, id)
}

// GetDeploymentStatus returns the stored deployment record.
func (s Service) GetDeploymentStatus(ctx context.Context, id string) (domain.Deployment, error) {
	return s.Repo.GetDeployment(ctx, id)
}

// ErrorSummary aggregates what went wrong in one run.
type ErrorSummary struct {
	DeploymentID string         `json:"deployment_id"`
	Status       string         `json:"status"`
	Fatal        string         `json:"fatal,omitempty"`
	Errors       []string       `json:"errors"`
	Warnings     []string       `json:"warnings"`
	ErrorCount   int            `json:"error_count"`
	WarningCount int            `json:"warning_count"`
	LogCounts    map[string]int `json:"log_counts"`
	Created      CreatedCounts  `json:"created"`
}

// CreatedCounts tells how many remote records a run left behind.
type CreatedCounts struct {
	Project    bool `json:"project"`
	Stages     int  `json:"stages"`
	Tasks      int  `json:"tasks"`
	Subtasks   int  `json:"subtasks"`
	Milestones int  `json:"milestones"`
}

func (s Service) GetErrorSummary(ctx context.Context, id string) (ErrorSummary, error) {
	d, err := s.Repo.GetDeployment(ctx, id)
	if err != nil {
		return ErrorSummary{}, err
	}
	counts, err := s.Repo.CountLogs(ctx, id)
	if err != nil {
		return ErrorSummary{}, err
	}
	sum := ErrorSummary{
		DeploymentID: d.ID,
		Status:       d.Status,
		Fatal:        d.Error,
		Errors:       []string{},
		Warnings:     []string{},
		LogCounts:    counts,
	}
	if r := d.Result; r != nil {
		sum.Errors = append(sum.Errors, r.Errors...)
		sum.Warnings = append(sum.Warnings, r.Warnings...)
		sum.Created = CreatedCounts{
			Project:    r.ProjectID > 0,
			Stages:     len(r.StageIDs),
			Tasks:      len(r.TaskIDs),
			Subtasks:   len(r.SubtaskIDs),
			Milestones: len(r.MilestoneIDs),
		}
	}
	sum.ErrorCount = len(sum.Errors)
	sum.WarningCount = len(sum.Warnings)
	return sum, nil
}

// LogQuery limits GetDeploymentLogs. Level is a minimum severity.
type LogQuery struct {
	Limit int
	Level string
}

func (s Service) GetDeploymentLogs(ctx context.Context, id string, q LogQuery) ([]domain.LogEntry, error) {
	if _, err := s.Repo.GetDeployment(ctx, id); err != nil {
		return nil, err
	}
	f := repo.LogFilters{DeploymentID: id, Limit: q.Limit}
	if q.Level != "" {
		floor, ok := levelRank[q.Level]
		if !ok {
			return nil, fmt.Errorf("invalid log level %q", q.Level)
		}
		for level, rank := range levelRank {
			if rank >= floor {
				f.Levels = append(f.Levels, level)
			}
		}
	}
	return s.Repo.ListLogs(ctx, f)
}
