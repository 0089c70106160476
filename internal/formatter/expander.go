package formatter

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// setFactTaskName is the name given to the synthetic task that carries
// variables from include_vars / role vars files into a task list.
const setFactTaskName = "Set variables from context"

// ExpandVarsFiles enriches doc with the variable definitions from
// additionalContext so the model sees the same bindings a human author would
// have via included or role-default files. Dispatch is by fileType; an
// unknown type is a no-op. doc is mutated in place.
func ExpandVarsFiles(doc *yaml.Node, fileType string, additionalContext *AdditionalContext) error {
	switch fileType {
	case FileTypePlaybook:
		return expandVarsPlaybook(doc, additionalContext)
	case FileTypeTasksInRole:
		return expandVarsTasksInRole(doc, additionalContext)
	case FileTypeTasks:
		return expandVarsTasks(doc, additionalContext)
	}
	return nil
}

func expandVarsPlaybook(doc *yaml.Node, additionalContext *AdditionalContext) error {
	pc := additionalContext.PlaybookContext
	merged, err := mergeVarsInContext(orderedValues(pc.VarInfiles), orderedValues(pc.IncludeVars))
	if err != nil {
		return err
	}
	if merged == nil || len(merged.Content) == 0 {
		return nil
	}
	if doc.Kind != yaml.SequenceNode {
		return nil
	}
	for _, play := range doc.Content {
		if play.Kind != yaml.MappingNode || len(play.Content) < 2 {
			continue
		}
		// The play's action key ("tasks", "handlers", ...) has to stay
		// structurally last so the prompt still lands inside it.
		lastKey := play.Content[len(play.Content)-2]
		lastValue := play.Content[len(play.Content)-1]
		play.Content = play.Content[:len(play.Content)-2]

		if lastKey.Value == "vars" && lastValue.Kind == yaml.MappingNode {
			mergeMappings(lastValue, merged)
			play.Content = append(play.Content, lastKey, lastValue)
			pruneVarsFiles(play, pc.VarInfiles)
			continue
		}

		if _, existing := mappingLookup(play, "vars"); existing != nil {
			// An existing vars key keeps its position, merged keys override.
			mergeMappings(existing, merged)
		} else {
			mappingAppend(play, "vars", deepCopyNode(merged))
		}
		play.Content = append(play.Content, lastKey, lastValue)

		pruneVarsFiles(play, pc.VarInfiles)
	}
	return nil
}

// pruneVarsFiles drops vars_files entries whose file was consumed into vars,
// removing the key entirely once the list is empty.
func pruneVarsFiles(play *yaml.Node, varInfiles map[string]string) {
	_, varsFiles := mappingLookup(play, "vars_files")
	if varsFiles == nil || varsFiles.Kind != yaml.SequenceNode {
		return
	}
	kept := varsFiles.Content[:0]
	for _, entry := range varsFiles.Content {
		if _, consumed := varInfiles[entry.Value]; !consumed {
			kept = append(kept, entry)
		}
	}
	varsFiles.Content = kept
	if len(varsFiles.Content) == 0 {
		mappingDelete(play, "vars_files")
	}
}

func expandVarsTasksInRole(doc *yaml.Node, additionalContext *AdditionalContext) error {
	rc := additionalContext.RoleContext
	merged, err := mergeVarsInContext(
		orderedValues(rc.RoleVars.Defaults),
		orderedValues(rc.RoleVars.Vars),
		orderedValues(rc.IncludeVars),
	)
	if err != nil {
		return err
	}
	insertSetFactTask(doc, merged)
	return nil
}

func expandVarsTasks(doc *yaml.Node, additionalContext *AdditionalContext) error {
	merged, err := mergeVarsInContext(orderedValues(additionalContext.StandaloneTaskContext.IncludeVars))
	if err != nil {
		return err
	}
	insertSetFactTask(doc, merged)
	return nil
}

// insertSetFactTask prepends a synthetic set_fact task carrying merged vars
// to a task list. Empty vars are a no-op.
func insertSetFactTask(doc *yaml.Node, merged *yaml.Node) {
	if merged == nil || len(merged.Content) == 0 {
		return
	}
	if doc.Kind != yaml.SequenceNode {
		return
	}
	task := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	mappingAppend(task, "name", strScalar(setFactTaskName))
	mappingAppend(task, "ansible.builtin.set_fact", merged)
	doc.Content = append([]*yaml.Node{task}, doc.Content...)
}

// mergeVarsInContext parses each vars document and merges the resulting
// mappings in order, later entries overriding earlier ones on key collision.
func mergeVarsInContext(groups ...[]string) (*yaml.Node, error) {
	merged := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, group := range groups {
		for _, varsDoc := range group {
			var root yaml.Node
			if err := yaml.Unmarshal([]byte(varsDoc), &root); err != nil {
				return nil, fmt.Errorf("loading vars from context: %w", err)
			}
			if root.Kind == 0 || len(root.Content) == 0 {
				continue
			}
			m := root.Content[0]
			if m.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("vars in context is not a mapping")
			}
			if err := inlineAliases(m); err != nil {
				return nil, err
			}
			blankNulls(m)
			mergeMappings(merged, m)
		}
	}
	return merged, nil
}

// orderedValues returns map values sorted by key so merges are
// deterministic.
func orderedValues(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]string, 0, len(m))
	for _, k := range keys {
		values = append(values, m[k])
	}
	return values
}

// mergeMappings unions src into dst; src wins on key collision.
func mergeMappings(dst, src *yaml.Node) {
	for i := 0; i+1 < len(src.Content); i += 2 {
		key := src.Content[i]
		value := src.Content[i+1]
		if idx, _ := mappingLookup(dst, key.Value); idx >= 0 {
			dst.Content[idx+1] = value
			continue
		}
		dst.Content = append(dst.Content, key, value)
	}
}

// mappingLookup returns the content index of key and its value node, or
// (-1, nil) if absent.
func mappingLookup(m *yaml.Node, key string) (int, *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return i, m.Content[i+1]
		}
	}
	return -1, nil
}

func mappingDelete(m *yaml.Node, key string) {
	if idx, _ := mappingLookup(m, key); idx >= 0 {
		m.Content = append(m.Content[:idx], m.Content[idx+2:]...)
	}
}

func mappingAppend(m *yaml.Node, key string, value *yaml.Node) {
	m.Content = append(m.Content, strScalar(key), value)
}

func strScalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}
