package formatter

import (
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const taskNamePrefix = "- name: "

// IsMultiTaskPrompt reports whether prompt requests several tasks at once,
// encoded as a single "#"-prefixed comment line.
func IsMultiTaskPrompt(prompt string) bool {
	return strings.HasPrefix(strings.TrimLeft(prompt, " \t"), "#")
}

// Preprocess normalizes the combined context and prompt the way the model
// expects them. For multi-task prompts the whole normalized text becomes the
// context and the original comment line is kept as the prompt, since the
// normalizer does not preserve comments and the original line is needed to
// restore task names later. For single-task prompts the last line of the
// normalized text is split off as the prompt.
//
// A parse failure propagates; a normalization that yields nothing leaves the
// input untouched.
func Preprocess(context, prompt, fileType string, additionalContext *AdditionalContext) (string, string, error) {
	multiTask := IsMultiTaskPrompt(prompt)
	originalPrompt := prompt

	// A newline between context and prompt in case context doesn't end with one.
	formatted, err := Normalize(context+"\n"+prompt, fileType, additionalContext)
	if err != nil {
		return "", "", err
	}
	if formatted == "" {
		log.Warn().Msg("preprocess: normalization produced an empty document")
		return context, prompt, nil
	}

	if multiTask {
		return formatted, originalPrompt, nil
	}

	segs := rsplit(formatted, "\n", 2) // last segment is the final newline
	switch len(segs) {
	case 3:
		context = segs[0] + "\n"
		prompt = segs[1]
	case 2: // context is empty
		context = ""
		prompt = segs[0]
	default:
		log.Warn().Str("formatted", formatted).Msg("preprocess failed, too few newlines")
	}
	return context, handleSpaces(prompt), nil
}

// handleSpaces collapses interior whitespace runs in the task name while
// leaving everything before and including "- name: " verbatim.
func handleSpaces(prompt string) string {
	idx := strings.Index(prompt, taskNamePrefix)
	if idx < 0 {
		return prompt
	}
	head := prompt[:idx+len(taskNamePrefix)]
	tail := strings.Join(strings.Fields(prompt[idx+len(taskNamePrefix):]), " ")
	return head + tail
}

// rsplit splits s around the last n occurrences of sep, like Python's
// str.rsplit(sep, n).
func rsplit(s, sep string, n int) []string {
	var tail []string
	for i := 0; i < n; i++ {
		idx := strings.LastIndex(s, sep)
		if idx < 0 {
			break
		}
		tail = append([]string{s[idx+len(sep):]}, tail...)
		s = s[:idx]
	}
	return append([]string{s}, tail...)
}

// GetTaskNamesFromPrompt yields the ordered task names a prompt requests.
// Multi-task prompts list names after "#", joined by "&"; a single-task
// prompt contributes the text after its final "name:".
func GetTaskNamesFromPrompt(prompt string) []string {
	if IsMultiTaskPrompt(prompt) {
		_, after, _ := strings.Cut(prompt, "#")
		names := []string{}
		for _, segment := range strings.Split(strings.TrimSpace(after), "&") {
			name := strings.TrimSpace(segment)
			if strings.HasPrefix(name, "- name:") {
				name = strings.TrimSpace(strings.TrimPrefix(name, "- name:"))
			}
			names = append(names, name)
		}
		return names
	}
	parts := strings.Split(prompt, "name:")
	return []string{strings.TrimSpace(parts[len(parts)-1])}
}

// StripTaskPreambleFromMultiTaskPrompt rewrites a multi-task prompt to the
// canonical lower-cased "# a & b" form the WCA codegen endpoint expects.
func StripTaskPreambleFromMultiTaskPrompt(prompt string) string {
	if !IsMultiTaskPrompt(prompt) {
		return prompt
	}
	before, _, _ := strings.Cut(prompt, "#")
	names := GetTaskNamesFromPrompt(prompt)
	lowered := make([]string, len(names))
	for i, name := range names {
		lowered[i] = strings.ToLower(name)
	}
	return before + "# " + strings.Join(lowered, " & ")
}

// UnifyPromptEnding trims trailing ":" and whitespace and terminates the
// prompt with a single newline. The codegen endpoint requires the prompt to
// end with "\n" and rejects a trailing ":". Linear scan, no backtracking.
func UnifyPromptEnding(prompt string) string {
	runes := []rune(prompt)
	for i := len(runes) - 1; i > 0; i-- {
		if runes[i] != ':' && !unicode.IsSpace(runes[i]) {
			return string(runes[:i+1]) + "\n"
		}
	}
	return "\n"
}

// GetTaskCountFromPrompt counts the "&"-separated segments of a prompt.
func GetTaskCountFromPrompt(prompt string) int {
	if prompt == "" {
		return 0
	}
	return len(strings.Split(strings.TrimSpace(prompt), "&"))
}

// ExtractPromptAndContext splits editor input into its final line (the
// prompt) and everything above it (the context). Both parts keep a trailing
// newline; an empty input yields two empty strings.
func ExtractPromptAndContext(input string) (prompt, context string) {
	if input == "" {
		return "", ""
	}
	trimmed := strings.TrimRight(input, " \t\r\n")
	segs := rsplit(trimmed, "\n", 1)
	if len(segs) == 2 {
		return segs[1] + "\n", segs[0] + "\n"
	}
	return segs[0] + "\n", ""
}

// ExtractTask finds the full task named taskName inside a tasks blob,
// matching case-insensitively on the name prefix.
func ExtractTask(tasks, taskName string) (string, bool) {
	splits := strings.Split(tasks, taskNamePrefix)
	indent := splits[0]
	for _, split := range splits[1:] {
		if strings.HasPrefix(strings.ToLower(split), strings.ToLower(taskName)) {
			return indent + taskNamePrefix + strings.TrimRight(split, " \t\r\n"), true
		}
	}
	return "", false
}

// GetTaskNamesFromTasks returns the name of every task in a YAML task list.
func GetTaskNamesFromTasks(tasks string) ([]string, error) {
	var taskList []map[string]any
	if err := yaml.Unmarshal([]byte(tasks), &taskList); err != nil {
		return nil, err
	}
	if len(taskList) == 0 {
		return nil, errUnexpectedTasksYaml
	}
	if _, ok := taskList[0]["name"].(string); !ok {
		return nil, errUnexpectedTasksYaml
	}
	names := make([]string, 0, len(taskList))
	for _, task := range taskList {
		name, _ := task["name"].(string)
		names = append(names, name)
	}
	return names, nil
}

type tasksError string

func (e tasksError) Error() string { return string(e) }

const errUnexpectedTasksYaml = tasksError("unexpected tasks yaml")

// RestoreOriginalTaskNames puts the task names the user asked for back into
// a multi-task suggestion. Generated tasks are matched to prompt task names
// by position, skipping the tasks that already existed in payloadContext.
// The substitution is a first-occurrence textual replacement of the
// generated "- name:  <generated>" line; if two generated tasks produce an
// identical name line the wrong one may be rewritten. Parse failures leave
// outputYaml unchanged.
func RestoreOriginalTaskNames(outputYaml, prompt, payloadContext string) string {
	if outputYaml == "" || !IsMultiTaskPrompt(prompt) {
		return outputYaml
	}
	fullYaml := payloadContext + outputYaml

	var contextData, fullData any
	if err := yaml.Unmarshal([]byte(payloadContext), &contextData); err != nil {
		log.Error().Err(err).Msg("loading the result yaml for restoring the original task names")
		return outputYaml
	}
	if err := yaml.Unmarshal([]byte(fullYaml), &fullData); err != nil {
		log.Error().Err(err).Msg("loading the result yaml for restoring the original task names")
		return outputYaml
	}

	promptTaskNames := GetTaskNamesFromPrompt(prompt)
	fullTaskList := taskListFromYamlData(fullData)
	contextTaskCount := len(taskListFromYamlData(contextData))

	// Skip the first N tasks that came from the context; only the suggested
	// tasks get their names restored.
	for i, task := range fullTaskList[min(contextTaskCount, len(fullTaskList)):] {
		if i >= len(promptTaskNames) {
			log.Error().Msg("no match for the enumerated prompt task in the suggestion yaml")
			break
		}
		taskName, _ := task["name"].(string)
		taskLine := "- name:  " + taskName
		restoredTaskLine := "- name:  " + promptTaskNames[i]
		outputYaml = strings.Replace(outputYaml, taskLine, restoredTaskLine, 1)
	}
	return outputYaml
}

// taskListFromYamlData extracts the task list from a parsed document that is
// either a play list carrying a "tasks" key or a bare task list.
func taskListFromYamlData(data any) []map[string]any {
	list, ok := data.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	first, ok := list[0].(map[string]any)
	if !ok {
		return nil
	}
	if tasks, present := first["tasks"]; present {
		return toTaskList(tasks)
	}
	return toTaskList(data)
}

func toTaskList(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	tasks := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if task, ok := item.(map[string]any); ok {
			tasks = append(tasks, task)
		}
	}
	return tasks
}
