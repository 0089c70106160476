package langchain

import (
	"errors"
	"regexp"
	"strings"
)

var (
	playbookFencePattern = regexp.MustCompile("(?s).*?```(?:yaml)?\n+(.+)```(.*)")
	taskFencePattern     = regexp.MustCompile("(?s)```(?:yaml)?\n+(.+)```")
	jsonFencePattern     = regexp.MustCompile("(?s)```(?:json)?\n+(.+)```")
	taskNameLinePattern  = regexp.MustCompile(`- name: .+\n`)
)

var errEmptyAnswer = errors.New("model answered with no content")

// unwrapPlaybookAnswer splits a chat answer into the fenced playbook and the
// prose that follows the fence. An answer without a fence yields two empty
// strings.
func unwrapPlaybookAnswer(answer string) (playbook, outline string, err error) {
	if answer == "" {
		return "", "", errEmptyAnswer
	}
	m := playbookFencePattern.FindStringSubmatch(answer)
	if m == nil {
		return "", "", nil
	}
	return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), nil
}

// unwrapTaskAnswer extracts the last task of a chat answer: the fenced block
// if present, then everything after the final "- name:" line, dedented.
// Chatty models like to prefix the suggestion with prose or repeat the task
// name from the prompt.
func unwrapTaskAnswer(answer string) (string, error) {
	if answer == "" {
		return "", errEmptyAnswer
	}
	task := answer
	if m := taskFencePattern.FindStringSubmatch(task); m != nil {
		task = m[1]
	}
	parts := taskNameLinePattern.Split(task, -1)
	return strings.TrimRight(dedent(parts[len(parts)-1]), " \t\n"), nil
}

// dedent strips the longest common leading whitespace from every non-blank
// line.
func dedent(s string) string {
	lines := strings.Split(s, "\n")
	margin := ""
	first := true
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if first {
			margin = indent
			first = false
			continue
		}
		for !strings.HasPrefix(line, margin) {
			margin = margin[:len(margin)-1]
		}
	}
	if margin == "" {
		return s
	}
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines[i] = strings.TrimPrefix(line, margin)
	}
	return strings.Join(lines, "\n")
}
