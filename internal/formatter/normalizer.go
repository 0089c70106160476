// Package formatter normalizes Ansible YAML the same way the model was
// trained on it: content is loaded and re-serialized with ansible-lint style
// formatting so that editor input, additional context and model output all
// share one canonical shape.
package formatter

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Ansible file types understood by the context expander.
const (
	FileTypePlaybook    = "playbook"
	FileTypeTasksInRole = "tasks_in_role"
	FileTypeTasks       = "tasks"
)

// AdditionalContext carries the variable definitions an editor sends along
// with a completion request: contents of vars_files, include_vars and role
// vars/defaults files, keyed by file identifier. Values are raw YAML
// documents holding a variable mapping.
type AdditionalContext struct {
	PlaybookContext       PlaybookContext       `json:"playbookContext" yaml:"playbookContext"`
	RoleContext           RoleContext           `json:"roleContext" yaml:"roleContext"`
	StandaloneTaskContext StandaloneTaskContext `json:"standaloneTaskContext" yaml:"standaloneTaskContext"`
}

type PlaybookContext struct {
	VarInfiles  map[string]string `json:"varInfiles" yaml:"varInfiles"`
	IncludeVars map[string]string `json:"includeVars" yaml:"includeVars"`
}

type RoleContext struct {
	RoleVars    RoleVars          `json:"roleVars" yaml:"roleVars"`
	IncludeVars map[string]string `json:"includeVars" yaml:"includeVars"`
}

type StandaloneTaskContext struct {
	IncludeVars map[string]string `json:"includeVars" yaml:"includeVars"`
}

type RoleVars struct {
	Vars     map[string]string `json:"vars" yaml:"vars"`
	Defaults map[string]string `json:"defaults" yaml:"defaults"`
}

// Normalize loads yamlText with the safe node parser and re-serializes it
// with Ansible-style formatting. An empty document yields "". When
// additionalContext is present the parsed document is enriched with the
// supplied variable definitions before re-serialization. Malformed YAML is
// returned as a parse error; no recovery is attempted.
func Normalize(yamlText, fileType string, additionalContext *AdditionalContext) (string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(yamlText), &root); err != nil {
		return "", fmt.Errorf("loading yaml: %w", err)
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return "", nil
	}
	doc := root.Content[0]
	if doc.Kind == yaml.ScalarNode && doc.Tag == "!!null" {
		return "", nil
	}
	if err := inlineAliases(doc); err != nil {
		return "", err
	}
	blankNulls(doc)
	if additionalContext != nil {
		if err := ExpandVarsFiles(doc, fileType, additionalContext); err != nil {
			return "", err
		}
	}
	return newAnsibleEmitter().emit(doc), nil
}
