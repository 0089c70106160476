package formatter

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ansibleEmitter serializes a yaml.Node tree with the formatting rules
// ansible-lint applies to playbooks:
//   - double-quote is the preferred quote style, single-quote only when the
//     value itself contains a double-quote
//   - null scalars render as empty, never the literal "null"
//   - a blank line separates top-level sequence items
//   - sequence items are indented to the same column as mapping keys
//   - no anchors or aliases, unbounded line width, insertion order preserved
type ansibleEmitter struct {
	buf        strings.Builder
	indentStep int
}

func newAnsibleEmitter() *ansibleEmitter {
	return &ansibleEmitter{indentStep: 2}
}

func (e *ansibleEmitter) emit(doc *yaml.Node) string {
	e.writeNode(doc, 0, true)
	return e.buf.String()
}

func (e *ansibleEmitter) writeIndent(indent int) {
	for i := 0; i < indent; i++ {
		e.buf.WriteByte(' ')
	}
}

// writeNode emits a node in block context starting at a fresh line.
func (e *ansibleEmitter) writeNode(n *yaml.Node, indent int, topLevel bool) {
	switch n.Kind {
	case yaml.SequenceNode:
		if len(n.Content) == 0 {
			e.writeIndent(indent)
			e.buf.WriteString("[]\n")
			return
		}
		e.writeSequence(n, indent, topLevel)
	case yaml.MappingNode:
		if len(n.Content) == 0 {
			e.writeIndent(indent)
			e.buf.WriteString("{}\n")
			return
		}
		e.writeIndent(indent)
		e.writeMappingHanging(n, indent)
	case yaml.ScalarNode:
		e.writeIndent(indent)
		if !isNullNode(n) {
			e.writeScalar(n, indent)
		}
		e.buf.WriteByte('\n')
	}
}

func (e *ansibleEmitter) writeSequence(n *yaml.Node, indent int, topLevel bool) {
	for i, item := range n.Content {
		// Blank line before all top-level list items except the first.
		if topLevel && i > 0 {
			e.buf.WriteByte('\n')
		}
		e.writeIndent(indent)
		e.buf.WriteByte('-')
		e.writeItem(item, indent)
	}
}

// writeItem continues the current line after a "-" indicator.
func (e *ansibleEmitter) writeItem(item *yaml.Node, indent int) {
	switch item.Kind {
	case yaml.ScalarNode:
		if isNullNode(item) {
			e.buf.WriteByte('\n')
			return
		}
		e.buf.WriteByte(' ')
		e.writeScalar(item, indent+e.indentStep)
		e.buf.WriteByte('\n')
	case yaml.MappingNode:
		if len(item.Content) == 0 {
			e.buf.WriteString(" {}\n")
			return
		}
		e.buf.WriteByte(' ')
		e.writeMappingHanging(item, indent+e.indentStep)
	case yaml.SequenceNode:
		if len(item.Content) == 0 {
			e.buf.WriteString(" []\n")
			return
		}
		e.buf.WriteByte('\n')
		e.writeSequence(item, indent+e.indentStep, false)
	default:
		e.buf.WriteByte('\n')
	}
}

// writeMappingHanging emits a mapping whose first pair continues the current
// line ("- name: foo" compaction); subsequent pairs start at indent.
func (e *ansibleEmitter) writeMappingHanging(n *yaml.Node, indent int) {
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i]
		value := n.Content[i+1]
		if i > 0 {
			e.writeIndent(indent)
		}
		e.writeScalar(key, indent)
		e.buf.WriteByte(':')
		e.writeValue(value, indent)
	}
}

// writeValue continues the current line after a ":" indicator.
func (e *ansibleEmitter) writeValue(value *yaml.Node, indent int) {
	switch value.Kind {
	case yaml.ScalarNode:
		if isNullNode(value) {
			e.buf.WriteByte('\n')
			return
		}
		e.buf.WriteByte(' ')
		e.writeScalar(value, indent+e.indentStep)
		e.buf.WriteByte('\n')
	case yaml.MappingNode:
		if len(value.Content) == 0 {
			e.buf.WriteString(" {}\n")
			return
		}
		e.buf.WriteByte('\n')
		e.writeIndent(indent + e.indentStep)
		e.writeMappingHanging(value, indent+e.indentStep)
	case yaml.SequenceNode:
		if len(value.Content) == 0 {
			e.buf.WriteString(" []\n")
			return
		}
		e.buf.WriteByte('\n')
		// Sequence items align with mapping keys (no indentless sequences).
		e.writeSequence(value, indent+e.indentStep, false)
	default:
		e.buf.WriteByte('\n')
	}
}

func (e *ansibleEmitter) writeScalar(n *yaml.Node, indent int) {
	value := n.Value
	if !isStringTag(n.Tag) && n.Tag != "!!null" {
		// Numbers, booleans and timestamps round-trip verbatim.
		e.buf.WriteString(value)
		return
	}
	if n.Style == yaml.LiteralStyle || n.Style == yaml.FoldedStyle {
		e.writeBlockScalar(value, indent)
		return
	}
	if strings.ContainsAny(value, "\n\r") || containsControl(value) {
		e.buf.WriteString(escapeDoubleQuoted(value))
		return
	}
	if !scalarNeedsQuoting(value) && n.Style != yaml.SingleQuotedStyle && n.Style != yaml.DoubleQuotedStyle {
		e.buf.WriteString(value)
		return
	}
	// Quoting required or requested: " is preferred, ' only when the value
	// already contains a double-quote.
	if strings.Contains(value, `"`) {
		e.buf.WriteByte('\'')
		e.buf.WriteString(strings.ReplaceAll(value, "'", "''"))
		e.buf.WriteByte('\'')
		return
	}
	e.buf.WriteString(escapeDoubleQuoted(value))
}

func (e *ansibleEmitter) writeBlockScalar(value string, indent int) {
	e.buf.WriteByte('|')
	switch {
	case !strings.HasSuffix(value, "\n"):
		e.buf.WriteByte('-')
	case strings.HasSuffix(value, "\n\n"):
		e.buf.WriteByte('+')
	}
	e.buf.WriteByte('\n')
	lines := strings.Split(strings.TrimSuffix(value, "\n"), "\n")
	for _, line := range lines {
		if line != "" {
			e.writeIndent(indent)
			e.buf.WriteString(line)
		}
		e.buf.WriteByte('\n')
	}
}

func isStringTag(tag string) bool {
	switch tag {
	case "", "!!str", "!!binary":
		return true
	}
	return false
}

func isNullNode(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && (n.Tag == "!!null" || (n.Tag == "" && n.Value == ""))
}

func containsControl(s string) bool {
	for _, r := range s {
		if r < 0x20 && r != '\n' {
			return true
		}
		if r == 0x7f {
			return true
		}
	}
	return false
}

// Plain-scalar safety. Anything that would re-parse as a different type or
// that starts with a YAML indicator must be quoted.
var plainResolvePattern = regexp.MustCompile(`(?i)^(` +
	`null|~|` +
	`true|false|yes|no|on|off|y|n|` +
	`[-+]?[0-9][0-9_]*|` +
	`0x[0-9a-f_]+|0o?[0-7_]+|` +
	`[-+]?(\.[0-9]+|[0-9][0-9_]*(\.[0-9_]*)?)(e[-+]?[0-9]+)?|` +
	`[-+]?\.(inf)|\.nan|` +
	`[0-9]{4}-[0-9]{2}-[0-9]{2}([tT ].*)?` +
	`)$`)

func scalarNeedsQuoting(s string) bool {
	if s == "" {
		return true
	}
	if s != strings.TrimSpace(s) {
		return true
	}
	switch s[0] {
	case '!', '&', '*', '%', '@', '`', '"', '\'', '#', '|', '>', ',', '[', ']', '{', '}':
		return true
	case '-', '?', ':':
		if len(s) == 1 || s[1] == ' ' {
			return true
		}
	}
	if strings.Contains(s, ": ") || strings.HasSuffix(s, ":") {
		return true
	}
	if strings.Contains(s, " #") {
		return true
	}
	if strings.ContainsAny(s, "\t") {
		return true
	}
	if plainResolvePattern.MatchString(s) {
		return true
	}
	return false
}

// inlineAliases replaces every alias with a deep copy of its anchor target so
// the emitted document never contains anchors or aliases. Context expansion
// can attach the same variable mapping to several plays, which would
// otherwise be emitted as an alias.
func inlineAliases(n *yaml.Node) error {
	return inlineAliasesRec(n, map[*yaml.Node]bool{})
}

func inlineAliasesRec(n *yaml.Node, active map[*yaml.Node]bool) error {
	if n == nil {
		return nil
	}
	n.Anchor = ""
	for i, c := range n.Content {
		if c.Kind == yaml.AliasNode {
			if c.Alias == nil {
				continue
			}
			if active[c.Alias] {
				return fmt.Errorf("recursive alias %q cannot be inlined", c.Value)
			}
			active[c.Alias] = true
			copied := deepCopyNode(c.Alias)
			if err := inlineAliasesRec(copied, active); err != nil {
				return err
			}
			delete(active, c.Alias)
			n.Content[i] = copied
			continue
		}
		if err := inlineAliasesRec(c, active); err != nil {
			return err
		}
	}
	return nil
}

func deepCopyNode(n *yaml.Node) *yaml.Node {
	copied := *n
	copied.Anchor = ""
	if len(n.Content) > 0 {
		copied.Content = make([]*yaml.Node, len(n.Content))
		for i, c := range n.Content {
			copied.Content[i] = deepCopyNode(c)
		}
	}
	return &copied
}

// blankNulls rewrites every null scalar so it renders as an empty string
// rather than the literal "null".
func blankNulls(n *yaml.Node) {
	if n == nil {
		return
	}
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		n.Value = ""
	}
	for _, c := range n.Content {
		blankNulls(c)
	}
}

// escapeDoubleQuoted renders value as a YAML double-quoted scalar, escaping
// backslashes, quotes, and control characters.
func escapeDoubleQuoted(value string) string {
	var b strings.Builder
	b.Grow(len(value) + 2)
	b.WriteByte('"')
	for _, r := range value {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		case 0:
			b.WriteString(`\0`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\x%02X`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
