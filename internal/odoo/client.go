// Package odoo exposes the small slice of Odoo's object RPC surface that
// kick-off deployments need: create, search, read and (for rollback) unlink.
package odoo

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Models touched by deployments.
const (
	ModelProject   = "project.project"
	ModelStage     = "project.task.type"
	ModelTask      = "project.task"
	ModelMilestone = "project.milestone"
	ModelTag       = "project.tags"
)

// Values is a flat field payload for create.
type Values map[string]any

// Record is one row returned by read.
type Record map[string]any

// Criterion is a single [field, operator, value] search term.
type Criterion struct {
	Field    string
	Operator string
	Value    any
}

// Domain is a conjunctive list of criteria.
type Domain []Criterion

// Eq builds a field = value criterion.
func Eq(field string, value any) Criterion {
	return Criterion{Field: field, Operator: "=", Value: value}
}

func (d Domain) encode() []any {
	out := make([]any, 0, len(d))
	for _, c := range d {
		out = append(out, []any{c.Field, c.Operator, c.Value})
	}
	return out
}

// Client is the remote object RPC surface used by the deployment engine.
// Implementations do not retry and do not cache records.
type Client interface {
	Create(ctx context.Context, model string, values Values) (int64, error)
	Search(ctx context.Context, model string, domain Domain) ([]int64, error)
	Read(ctx context.Context, model string, ids []int64, fields []string) ([]Record, error)
}

// Unlinker is implemented by clients able to delete records. Only rollback uses it.
type Unlinker interface {
	Unlink(ctx context.Context, model string, ids []int64) error
}

var (
	ErrAuthentication = errors.New("odoo authentication failed")
	ErrInvalidFields  = errors.New("invalid fields")
)

// RemoteRPCError wraps any failure reported by, or on the way to, the remote side.
type RemoteRPCError struct {
	Model  string
	Method string
	Err    error
}

func (e *RemoteRPCError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("%s: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.Model, e.Err)
}

func (e *RemoteRPCError) Unwrap() error { return e.Err }

var modelMissingMarkers = []string{
	"doesn't exist",
	"does not exist",
	"keyerror",
	"unknown model",
}

// IsModelMissing reports whether err says the target model is not installed.
func IsModelMissing(err error) bool {
	var rpcErr *RemoteRPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	msg := strings.ToLower(rpcErr.Err.Error())
	for _, m := range modelMissingMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// ReplaceWith encodes the many2many "replace with these ids" command.
func ReplaceWith(ids []int64) []any {
	list := make([]any, 0, len(ids))
	for _, id := range ids {
		list = append(list, id)
	}
	return []any{[]any{6, 0, list}}
}
