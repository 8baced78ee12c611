// Package validation checks the structure of kick-off templates before
// anything is sent to a remote instance. Every function here is pure.
package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"kickoff/internal/domain"
)

// Result is the outcome of a validation pass. Warnings never affect Valid.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (r *Result) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Result) seal() Result {
	r.Valid = len(r.Errors) == 0
	return *r
}

// TitlePhasePrefix matches task titles such as "F2-05: Go-live".
var TitlePhasePrefix = regexp.MustCompile(`^F(\d+)-`)

// PhaseIndexFromTitle returns N for a title starting with F<N>-.
func PhaseIndexFromTitle(title string) (int, bool) {
	m := TitlePhasePrefix.FindStringSubmatch(title)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// ValidateKickoffTemplate runs every structural rule over t.
func ValidateKickoffTemplate(t domain.KickoffTemplate) Result {
	r := &Result{Errors: []string{}, Warnings: []string{}}

	if len(t.Modules) == 0 {
		r.errorf("Template must have at least one module")
	}
	for i, m := range t.Modules {
		n := i + 1
		if strings.TrimSpace(m.Name) == "" {
			r.errorf("Module %d: name is required", n)
		}
		if strings.TrimSpace(m.TechnicalName) == "" {
			r.errorf("Module %d: technical_name is required", n)
		}
		if m.Priority != nil && !m.Priority.InRange() {
			r.warnf("Module %d: priority should be between 1 and 10", n)
		}
	}

	for i, f := range t.CustomFields {
		validateCustomField(r, i+1, f)
	}

	for i, w := range t.Workflows {
		n := i + 1
		if strings.TrimSpace(w.Name) == "" {
			r.errorf("Workflow %d: name is required", n)
		}
		states := make(map[string]bool, len(w.States))
		for _, s := range w.States {
			states[s.Name] = true
		}
		for j, tr := range w.Transitions {
			if tr.From != "" && !states[tr.From] {
				r.warnf("Workflow %d, Transition %d: 'from' state '%s' not found in states", n, j+1, tr.From)
			}
			if !states[tr.To] {
				r.warnf("Workflow %d, Transition %d: 'to' state '%s' not found in states", n, j+1, tr.To)
			}
		}
	}

	for i, d := range t.Dashboards {
		if strings.TrimSpace(d.Name) == "" {
			r.errorf("Dashboard %d: name is required", i+1)
		}
	}

	phases := make(map[string]bool, len(t.ProjectTimeline.Phases))
	for i, p := range t.ProjectTimeline.Phases {
		if strings.TrimSpace(p.Name) == "" {
			r.errorf("Phase %d: name is required", i+1)
		}
		phases[p.Name] = true
	}
	for i, d := range t.Departments {
		n := i + 1
		if strings.TrimSpace(d.Name) == "" {
			r.errorf("Department %d: name is required", n)
		}
		for j, task := range d.Tasks {
			if strings.TrimSpace(task.Title) == "" {
				r.errorf("Department %d, Task %d: title is required", n, j+1)
				continue
			}
			if len(phases) == 0 {
				continue
			}
			if task.Phase != "" {
				if !phases[task.Phase] {
					r.warnf("Department %d, Task %d: phase '%s' not found in project timeline", n, j+1, task.Phase)
				}
				continue
			}
			if idx, ok := PhaseIndexFromTitle(task.Title); ok && idx >= len(t.ProjectTimeline.Phases) {
				r.warnf("Department %d, Task %d: title prefix 'F%d' has no matching phase, first phase will be used", n, j+1, idx)
			}
		}
	}

	return r.seal()
}

func validateCustomField(r *Result, n int, f domain.CustomField) {
	if strings.TrimSpace(f.Model) == "" {
		r.errorf("Custom field %d: model is required", n)
	}
	if strings.TrimSpace(f.FieldName) == "" {
		r.errorf("Custom field %d: field_name is required", n)
	} else if !strings.HasPrefix(f.FieldName, "x_") {
		r.warnf("Custom field %d: field_name should start with 'x_' (will be auto-added during deployment)", n)
	}
	if strings.TrimSpace(f.FieldType) == "" {
		r.errorf("Custom field %d: field_type is required", n)
	}
	if f.FieldType != "selection" || f.Options == nil {
		return
	}
	for j, opt := range f.Options.Selection {
		pair, ok := opt.([]any)
		if !ok || len(pair) != 2 {
			r.errorf("Custom field %d: selection option %d must be [value, label] array", n, j+1)
		}
	}
}

// ValidateForDeployment dispatches on the stored template type. Only kickoff
// templates carry real rules today.
func ValidateForDeployment(templateType string, content json.RawMessage) Result {
	if templateType != "kickoff" {
		return Result{
			Valid:    true,
			Errors:   []string{},
			Warnings: []string{fmt.Sprintf("Validation for template type '%s' is not yet implemented", templateType)},
		}
	}
	var t domain.KickoffTemplate
	if err := json.Unmarshal(content, &t); err != nil {
		return Result{
			Errors:   []string{fmt.Sprintf("Invalid template data: %v", err)},
			Warnings: []string{},
		}
	}
	return ValidateKickoffTemplate(t)
}

// InvalidTemplateError carries the failed validation result of a template.
type InvalidTemplateError struct {
	Result Result
}

func (e *InvalidTemplateError) Error() string {
	if len(e.Result.Errors) == 0 {
		return "invalid template"
	}
	return fmt.Sprintf("invalid template: %s", strings.Join(e.Result.Errors, "; "))
}

// Check returns an *InvalidTemplateError when r is not valid.
func (r Result) Check() error {
	if r.Valid {
		return nil
	}
	return &InvalidTemplateError{Result: r}
}
