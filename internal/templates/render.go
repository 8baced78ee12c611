package templates

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"kickoff/internal/domain"
)

var ErrMissingVariable = errors.New("missing template variable")

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.-]*)\s*\}\}`)

// Interpolate replaces {{ name }} placeholders with values from vars.
// Placeholders without a value are left untouched.
func Interpolate(text string, vars map[string]string) string {
	return interpolate(text, vars, func(s string) string { return s })
}

func interpolate(text string, vars map[string]string, escape func(string) string) string {
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return escape(v)
		}
		return m
	})
}

// Placeholders lists the distinct variable names used in text, sorted.
func Placeholders(text string) []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range placeholder.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	sort.Strings(names)
	return names
}

// ResolveVariables merges caller values with declared defaults and reports
// every required variable left without a value.
func ResolveVariables(declared []domain.Variable, vars map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(vars)+len(declared))
	for k, v := range vars {
		out[k] = v
	}
	var missing []string
	for _, d := range declared {
		if _, ok := out[d.Name]; ok {
			continue
		}
		if d.Default != "" {
			out[d.Name] = d.Default
			continue
		}
		if d.Required {
			missing = append(missing, d.Name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingVariable, strings.Join(missing, ", "))
	}
	return out, nil
}

// jsonEscape makes v safe to place inside a JSON string literal.
func jsonEscape(v string) string {
	data, _ := json.Marshal(v)
	return string(data[1 : len(data)-1])
}

func renderContent(content json.RawMessage, declared []domain.Variable, vars map[string]string) (json.RawMessage, error) {
	resolved, err := ResolveVariables(declared, vars)
	if err != nil {
		return nil, err
	}
	out := interpolate(string(content), resolved, jsonEscape)
	if !json.Valid([]byte(out)) {
		return nil, errors.New("rendered template is not valid JSON")
	}
	return json.RawMessage(out), nil
}
