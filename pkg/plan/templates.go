package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Template is one plan template: a pattern matched against the user task, a
// parameter mapping from placeholder names to capture-group indexes (0 is the
// whole match), and a stages array whose string values may carry {{PARAM}}
// placeholders.
type Template struct {
	Name       string         `json:"name"`
	Pattern    string         `json:"pattern"`
	Parameters map[string]int `json:"parameters"`
	Steps      []Stage        `json:"steps"`

	compiled *regexp.Regexp
}

// LoadTemplates reads every *.json file in dir as a template, sorted by file
// name for deterministic match order. A missing directory yields no
// templates and no error.
func LoadTemplates(dir string) ([]Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("plan templates: read dir %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	templates := make([]Template, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		//nolint:gosec // G304: path comes from the configured template dir
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("plan templates: read %s: %w", path, err)
		}
		var tmpl Template
		if err := json.Unmarshal(data, &tmpl); err != nil {
			return nil, fmt.Errorf("plan templates: parse %s: %w", path, err)
		}
		if err := tmpl.compile(); err != nil {
			return nil, fmt.Errorf("plan templates: %s: %w", path, err)
		}
		templates = append(templates, tmpl)
	}
	return templates, nil
}

func (t *Template) compile() error {
	if t.Name == "" {
		return fmt.Errorf("template has no name")
	}
	if t.Pattern == "" {
		return fmt.Errorf("template %q has no pattern", t.Name)
	}
	if len(t.Steps) == 0 {
		return fmt.Errorf("template %q has no steps", t.Name)
	}
	re, err := regexp.Compile(t.Pattern)
	if err != nil {
		return fmt.Errorf("template %q pattern: %w", t.Name, err)
	}
	t.compiled = re
	return nil
}

// Match instantiates the template against a user task. It returns the
// substituted stages and true on a pattern match, or nil and false.
func (t *Template) Match(userTask string) ([]Stage, bool) {
	if t.compiled == nil {
		if err := t.compile(); err != nil {
			return nil, false
		}
	}
	groups := t.compiled.FindStringSubmatch(userTask)
	if groups == nil {
		return nil, false
	}

	values := make(map[string]string, len(t.Parameters))
	for param, groupIdx := range t.Parameters {
		if groupIdx < 0 || groupIdx >= len(groups) {
			continue
		}
		values[param] = groups[groupIdx]
	}

	stages := make([]Stage, 0, len(t.Steps))
	for _, stage := range t.Steps {
		out := make(Stage, 0, len(stage))
		for _, def := range stage {
			out = append(out, substituteSubTask(def, values))
		}
		stages = append(stages, out)
	}
	return stages, true
}

// substituteSubTask returns a copy of def with every {{PARAM}} placeholder in
// its string fields replaced. Substitution is whole-token replacement with no
// recursion or escaping.
func substituteSubTask(def SubTaskDefinition, values map[string]string) SubTaskDefinition {
	out := def
	out.NarrativeStep = substituteString(def.NarrativeStep, values)
	out.SubTaskInput = substituteMap(def.SubTaskInput, values)
	return out
}

func substituteMap(input map[string]interface{}, values map[string]string) map[string]interface{} {
	if input == nil {
		return nil
	}
	out := make(map[string]interface{}, len(input))
	for key, value := range input {
		out[key] = substituteValue(value, values)
	}
	return out
}

func substituteValue(value interface{}, values map[string]string) interface{} {
	switch v := value.(type) {
	case string:
		return substituteString(v, values)
	case map[string]interface{}:
		return substituteMap(v, values)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = substituteValue(item, values)
		}
		return out
	default:
		return value
	}
}

func substituteString(s string, values map[string]string) string {
	for param, value := range values {
		s = strings.ReplaceAll(s, "{{"+param+"}}", value)
	}
	return s
}
