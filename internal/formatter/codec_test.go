package formatter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMultiTaskPrompt(t *testing.T) {
	assert.True(t, IsMultiTaskPrompt("# install nginx & restart service"))
	assert.True(t, IsMultiTaskPrompt("   \t# install nginx"))
	assert.False(t, IsMultiTaskPrompt("- name: install nginx"))
	assert.False(t, IsMultiTaskPrompt(""))
}

func TestPreprocessSingleTask(t *testing.T) {
	context, prompt, err := Preprocess("- hosts: all\n", "- name: install nginx", FileTypePlaybook, nil)
	require.NoError(t, err)

	assert.True(t, context == "" || context[len(context)-1] == '\n')
	assert.Equal(t, "- name: install nginx", prompt)
}

func TestPreprocessSplitsContextAndPrompt(t *testing.T) {
	context, prompt, err := Preprocess(
		"- hosts: all\n  tasks:\n", "    - name: install   nginx", FileTypePlaybook, nil)
	require.NoError(t, err)

	assert.Equal(t, "- hosts: all\n  tasks:\n", context)
	// Interior whitespace after "- name: " collapses to single spaces.
	assert.Equal(t, "    - name: install nginx", prompt)
}

func TestPreprocessMultiTaskKeepsOriginalPrompt(t *testing.T) {
	original := "# install nginx & start nginx"
	context, prompt, err := Preprocess("- hosts: all\n  tasks:\n", original, FileTypePlaybook, nil)
	require.NoError(t, err)

	// Comments do not survive normalization, so the whole normalized text
	// becomes the context and the comment line is kept verbatim.
	assert.Equal(t, "- hosts: all\n  tasks:\n", context)
	assert.Equal(t, original, prompt)
}

func TestPreprocessEmptyDocumentLeavesInputUntouched(t *testing.T) {
	context, prompt, err := Preprocess("", "# comment only", FileTypePlaybook, nil)
	require.NoError(t, err)

	assert.Equal(t, "", context)
	assert.Equal(t, "# comment only", prompt)
}

func TestPreprocessParseError(t *testing.T) {
	_, _, err := Preprocess("- hosts: [unclosed\n", "- name: install nginx", FileTypePlaybook, nil)
	assert.Error(t, err)
}

func TestGetTaskNamesFromPrompt(t *testing.T) {
	assert.Equal(t, []string{"install nginx", "restart service"},
		GetTaskNamesFromPrompt("# install nginx & restart service"))
	assert.Equal(t, []string{"Install nginx", "Start nginx"},
		GetTaskNamesFromPrompt("  # - name: Install nginx & - name: Start nginx"))
	assert.Equal(t, []string{"install nginx"},
		GetTaskNamesFromPrompt("  - name: install nginx"))
}

func TestStripTaskPreambleFromMultiTaskPrompt(t *testing.T) {
	assert.Equal(t, "  # install ffmpeg on red hat enterprise linux & start the service",
		StripTaskPreambleFromMultiTaskPrompt(
			"  # - name: Install ffmpeg on Red Hat Enterprise Linux & - name: Start the service"))

	// Single-task prompts pass through unchanged.
	assert.Equal(t, "- name: install nginx",
		StripTaskPreambleFromMultiTaskPrompt("- name: install nginx"))
}

func TestUnifyPromptEnding(t *testing.T) {
	assert.Equal(t, "  - name: foo\n", UnifyPromptEnding("  - name: foo:  "))
	assert.Equal(t, "- name: foo\n", UnifyPromptEnding("- name: foo"))
	assert.Equal(t, "- name: foo\n", UnifyPromptEnding("- name: foo:::\n\t "))
	assert.Equal(t, "\n", UnifyPromptEnding(":::  "))
	assert.Equal(t, "\n", UnifyPromptEnding(""))
}

func TestGetTaskCountFromPrompt(t *testing.T) {
	assert.Equal(t, 0, GetTaskCountFromPrompt(""))
	assert.Equal(t, 1, GetTaskCountFromPrompt("# install nginx"))
	assert.Equal(t, 3, GetTaskCountFromPrompt("# a & b & c"))
}

func TestExtractPromptAndContext(t *testing.T) {
	prompt, context := ExtractPromptAndContext("")
	assert.Equal(t, "", prompt)
	assert.Equal(t, "", context)

	prompt, context = ExtractPromptAndContext("- name: install nginx")
	assert.Equal(t, "- name: install nginx\n", prompt)
	assert.Equal(t, "", context)

	prompt, context = ExtractPromptAndContext("- hosts: all\n  tasks:\n    - name: install nginx\n")
	assert.Equal(t, "    - name: install nginx\n", prompt)
	assert.Equal(t, "- hosts: all\n  tasks:\n", context)
}

func TestExtractTask(t *testing.T) {
	tasks := "  - name: Install nginx\n    ansible.builtin.package:\n      name: nginx\n" +
		"  - name: Start nginx\n    ansible.builtin.service:\n      name: nginx\n      state: started\n"

	task, found := ExtractTask(tasks, "start nginx")
	require.True(t, found)
	assert.Equal(t, "  - name: Start nginx\n    ansible.builtin.service:\n      name: nginx\n      state: started", task)

	_, found = ExtractTask(tasks, "remove nginx")
	assert.False(t, found)
}

func TestGetTaskNamesFromTasks(t *testing.T) {
	names, err := GetTaskNamesFromTasks("- name: Install nginx\n  ansible.builtin.package:\n    name: nginx\n- name: Start nginx\n  ansible.builtin.service:\n    name: nginx\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"Install nginx", "Start nginx"}, names)

	_, err = GetTaskNamesFromTasks("")
	assert.Error(t, err)

	_, err = GetTaskNamesFromTasks("- ansible.builtin.ping:\n")
	assert.Error(t, err)

	_, err = GetTaskNamesFromTasks("not a task list")
	assert.Error(t, err)
}

func TestRestoreOriginalTaskNames(t *testing.T) {
	payloadContext := "- hosts: all\n  tasks:\n"
	output := "    - name:  do the install\n      ansible.builtin.package:\n        name: nginx\n" +
		"    - name:  do the start\n      ansible.builtin.service:\n        name: nginx\n        state: started\n"

	restored := RestoreOriginalTaskNames(output, "# Install nginx & Start nginx", payloadContext)
	assert.Contains(t, restored, "- name:  Install nginx")
	assert.Contains(t, restored, "- name:  Start nginx")
	assert.NotContains(t, restored, "do the install")
}

func TestRestoreOriginalTaskNamesSkipsContextTasks(t *testing.T) {
	payloadContext := "- hosts: all\n  tasks:\n    - name: existing task\n      ansible.builtin.ping:\n"
	output := "    - name:  generated task\n      ansible.builtin.shell: echo hi\n"

	restored := RestoreOriginalTaskNames(output, "# Say hello", payloadContext)
	assert.Contains(t, restored, "- name:  Say hello")
}

func TestRestoreOriginalTaskNamesSingleTaskUnchanged(t *testing.T) {
	output := "    ansible.builtin.package:\n      name: nginx\n"
	assert.Equal(t, output, RestoreOriginalTaskNames(output, "- name: install nginx", "context"))
}

func TestRestoreOriginalTaskNamesParseFailureUnchanged(t *testing.T) {
	output := "    - name:  generated task\n      ansible.builtin.ping:\n"
	assert.Equal(t, output, RestoreOriginalTaskNames(output, "# Say hello", "not: [valid\n"))
}

func TestRestoreOriginalTaskNamesMorePredictionsThanNames(t *testing.T) {
	payloadContext := "- hosts: all\n  tasks:\n"
	output := "    - name:  first generated\n      ansible.builtin.ping:\n" +
		"    - name:  second generated\n      ansible.builtin.ping:\n"

	restored := RestoreOriginalTaskNames(output, "# Only one name", payloadContext)
	assert.Contains(t, restored, "- name:  Only one name")
	// The unmatched task keeps its generated name.
	assert.Contains(t, restored, "- name:  second generated")
}

func TestRsplit(t *testing.T) {
	assert.Equal(t, []string{"a\nb", "c", "d"}, rsplit("a\nb\nc\nd", "\n", 2))
	assert.Equal(t, []string{"a", "b"}, rsplit("a\nb", "\n", 2))
	assert.Equal(t, []string{"abc"}, rsplit("abc", "\n", 2))
}
