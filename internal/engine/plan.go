package engine

import (
	"fmt"
	"strings"
	"time"

	"kickoff/internal/domain"
	"kickoff/internal/odoo"
	"kickoff/internal/validation"
)

// DefaultPhaseName is used when a template declares no phases at all.
const DefaultPhaseName = "Genel"

var priorityCodes = map[string]string{
	"low":      "0",
	"medium":   "1",
	"high":     "2",
	"critical": "3",
}

// PriorityCode maps a template priority to Odoo's task priority code.
// Anything unrecognised is treated as medium.
func PriorityCode(p string) string {
	if code, ok := priorityCodes[strings.ToLower(strings.TrimSpace(p))]; ok {
		return code
	}
	return "1"
}

// DeterminePhase picks the phase name a task is filed under: the explicit
// phase, then an F<N>- title prefix, then the first phase.
func DeterminePhase(task domain.TaskTemplate, timeline domain.ProjectTimeline) string {
	if task.Phase != "" {
		return task.Phase
	}
	if n, ok := validation.PhaseIndexFromTitle(task.Title); ok && n < len(timeline.Phases) {
		return timeline.Phases[n].Name
	}
	if len(timeline.Phases) > 0 {
		return timeline.Phases[0].Name
	}
	return DefaultPhaseName
}

// ParseDate accepts YYYY-MM-DD or an RFC3339 timestamp.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(odoo.DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC3339", s)
	}
	return t, nil
}

// Deadline adds dueDays calendar days to start.
func Deadline(start time.Time, dueDays int) string {
	return start.AddDate(0, 0, dueDays).Format(odoo.DateLayout)
}

// TaskDescription renders the task body with its document, collaborator and
// dependency sections.
func TaskDescription(task domain.TaskTemplate) string {
	sections := []string{task.Description}

	if len(task.RequiredDocuments) > 0 {
		lines := make([]string, 0, len(task.RequiredDocuments))
		for _, doc := range task.RequiredDocuments {
			line := "- **" + doc.Name + "**"
			if doc.Description != "" {
				line += ": " + doc.Description
			}
			if doc.Required {
				line += " *(Zorunlu)*"
			}
			if len(doc.Formats) > 0 {
				line += " [Format: " + strings.Join(doc.Formats, ", ") + "]"
			}
			lines = append(lines, line)
		}
		sections = append(sections, "**Gerekli Belgeler:**\n"+strings.Join(lines, "\n"))
	}
	if len(task.CollaboratorDepartments) > 0 {
		sections = append(sections, "**İşbirliği Yapılacak Departmanlar:** "+strings.Join(task.CollaboratorDepartments, ", "))
	}
	if len(task.DependsOn) > 0 {
		lines := make([]string, 0, len(task.DependsOn))
		for _, dep := range task.DependsOn {
			lines = append(lines, "- "+dep)
		}
		sections = append(sections, "**Bağımlılıklar:**\n"+strings.Join(lines, "\n"))
	}
	return strings.TrimSpace(strings.Join(sections, "\n\n"))
}

// ProjectName is the name given to the remote project.
func ProjectName(c domain.ProjectCustomizations) string {
	if name := strings.TrimSpace(c.ProjectName); name != "" {
		return name
	}
	company := strings.TrimSpace(c.CompanyName)
	if company == "" {
		company = "Company"
	}
	return company + " ERP Kurulum Projesi"
}

type plannedTask struct {
	department string
	task       domain.TaskTemplate
}

func flattenTasks(departments []domain.Department) []plannedTask {
	var out []plannedTask
	for _, d := range departments {
		for _, t := range d.Tasks {
			out = append(out, plannedTask{department: d.Name, task: t})
		}
	}
	return out
}

func taskTagNames(department string, task domain.TaskTemplate) []string {
	names := []string{department, task.Type}
	if task.Priority != "" {
		names = append(names, "priority-"+task.Priority)
	}
	return names
}
