package formatter

import (
	"regexp"
	"strings"
)

var (
	fqcnPattern   = regexp.MustCompile(`^\s*(([a-z0-9_]+)\.([a-z0-9_]+)\.([a-z0-9_]+)):`)
	modulePattern = regexp.MustCompile(`^\s*([a-z0-9_.]+):`)
)

// ExtractFqcnOrModule scans a task snippet for the module it invokes and
// returns the fully qualified collection name and/or the short module name.
// Keys that are task attributes are skipped; a line matching the
// namespace.collection.module shape wins over a bare module name, and only
// the first hit of each kind is taken.
func ExtractFqcnOrModule(task string) (fqcn, module *string) {
	keywords := DefaultKeywordTable()
	for _, line := range strings.Split(task, "\n") {
		if fqcn == nil {
			if m := fqcnPattern.FindStringSubmatch(line); m != nil && !keywords.Contains(m[1]) {
				value := m[1]
				fqcn = &value
				continue
			}
		}
		if module == nil {
			if m := modulePattern.FindStringSubmatch(line); m != nil && !keywords.Contains(m[1]) {
				value := m[1]
				module = &value
			}
		}
		if fqcn != nil && module != nil {
			break
		}
	}
	return fqcn, module
}
