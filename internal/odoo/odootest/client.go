// Package odootest provides an in-memory odoo.Client for tests.
package odootest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"kickoff/internal/odoo"
)

// Call records one invocation against the fake.
type Call struct {
	Method string
	Model  string
	Values odoo.Values
	Domain odoo.Domain
	IDs    []int64
}

// Client stores created records per model and assigns sequential ids.
type Client struct {
	mu      sync.Mutex
	nextID  int64
	records map[string]map[int64]odoo.Values
	calls   []Call

	// FailCreate, when set, is consulted before every create. A non-nil
	// return is surfaced as a *odoo.RemoteRPCError.
	FailCreate func(model string, values odoo.Values) error
	// FailSearch works like FailCreate for search.
	FailSearch func(model string, domain odoo.Domain) error
	// MissingModels makes every call against these models fail like an
	// uninstalled Odoo module would.
	MissingModels map[string]bool
}

var (
	_ odoo.Client   = (*Client)(nil)
	_ odoo.Unlinker = (*Client)(nil)
)

// New returns an empty fake whose first id is start.
func New(start int64) *Client {
	if start <= 0 {
		start = 1
	}
	return &Client{nextID: start, records: map[string]map[int64]odoo.Values{}}
}

func (c *Client) missing(model, method string) error {
	if c.MissingModels[model] {
		return &odoo.RemoteRPCError{Model: model, Method: method, Err: fmt.Errorf("Object %s doesn't exist", model)}
	}
	return nil
}

func (c *Client) Create(_ context.Context, model string, values odoo.Values) (int64, error) {
	c.mu.Lock()
	c.calls = append(c.calls, Call{Method: "create", Model: model, Values: copyValues(values)})
	err := c.missing(model, "create")
	hook := c.FailCreate
	c.mu.Unlock()
	if err != nil {
		return 0, err
	}
	// Hooks run unlocked so they may call back into the fake.
	if hook != nil {
		if err := hook(model, values); err != nil {
			return 0, &odoo.RemoteRPCError{Model: model, Method: "create", Err: err}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	if c.records[model] == nil {
		c.records[model] = map[int64]odoo.Values{}
	}
	c.records[model][id] = copyValues(values)
	return id, nil
}

func (c *Client) Search(_ context.Context, model string, domain odoo.Domain) ([]int64, error) {
	c.mu.Lock()
	c.calls = append(c.calls, Call{Method: "search", Model: model, Domain: domain})
	err := c.missing(model, "search")
	hook := c.FailSearch
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if hook != nil {
		if err := hook(model, domain); err != nil {
			return nil, &odoo.RemoteRPCError{Model: model, Method: "search", Err: err}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []int64
	for id, rec := range c.records[model] {
		if matches(rec, domain) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (c *Client) Read(_ context.Context, model string, ids []int64, fields []string) ([]odoo.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Method: "read", Model: model, IDs: ids})
	if err := c.missing(model, "read"); err != nil {
		return nil, err
	}
	var out []odoo.Record
	for _, id := range ids {
		rec, ok := c.records[model][id]
		if !ok {
			continue
		}
		row := odoo.Record{"id": id}
		for k, v := range rec {
			if len(fields) > 0 && !contains(fields, k) {
				continue
			}
			row[k] = v
		}
		out = append(out, row)
	}
	return out, nil
}

func (c *Client) Unlink(_ context.Context, model string, ids []int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Method: "unlink", Model: model, IDs: ids})
	for _, id := range ids {
		if _, ok := c.records[model][id]; !ok {
			return &odoo.RemoteRPCError{Model: model, Method: "unlink", Err: errors.New("record does not exist or has been deleted")}
		}
		delete(c.records[model], id)
	}
	return nil
}

// Calls returns a snapshot of every call made so far.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Creates returns the successful and failed create payloads for model, in call order.
func (c *Client) Creates(model string) []odoo.Values {
	var out []odoo.Values
	for _, call := range c.Calls() {
		if call.Method == "create" && call.Model == model {
			out = append(out, call.Values)
		}
	}
	return out
}

// Record returns the stored values of a created record.
func (c *Client) Record(model string, id int64) (odoo.Values, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[model][id]
	return rec, ok
}

// Count returns how many records of model currently exist.
func (c *Client) Count(model string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records[model])
}

func matches(rec odoo.Values, domain odoo.Domain) bool {
	for _, crit := range domain {
		if crit.Operator != "=" {
			return false
		}
		if fmt.Sprint(rec[crit.Field]) != fmt.Sprint(crit.Value) {
			return false
		}
	}
	return true
}

func contains(items []string, s string) bool {
	for _, it := range items {
		if it == s {
			return true
		}
	}
	return false
}

func copyValues(v odoo.Values) odoo.Values {
	out := make(odoo.Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}
