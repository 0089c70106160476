package formatter

import (
	"reflect"
	"strings"
	"sync"
)

// baseFields are the attributes every playbook object accepts.
type baseFields struct {
	Name              string `yaml:"name"`
	Connection        string `yaml:"connection"`
	Port              int    `yaml:"port"`
	RemoteUser        string `yaml:"remote_user"`
	Vars              any    `yaml:"vars"`
	ModuleDefaults    any    `yaml:"module_defaults"`
	Environment       any    `yaml:"environment"`
	NoLog             bool   `yaml:"no_log"`
	RunOnce           bool   `yaml:"run_once"`
	IgnoreErrors      bool   `yaml:"ignore_errors"`
	IgnoreUnreachable bool   `yaml:"ignore_unreachable"`
	CheckMode         bool   `yaml:"check_mode"`
	Diff              bool   `yaml:"diff"`
	AnyErrorsFatal    bool   `yaml:"any_errors_fatal"`
	Throttle          int    `yaml:"throttle"`
	Timeout           int    `yaml:"timeout"`
	Debugger          string `yaml:"debugger"`
}

type conditional struct {
	When any `yaml:"when"`
}

type taggable struct {
	Tags any `yaml:"tags"`
}

type collectionSearch struct {
	Collections []string `yaml:"collections"`
}

type notifiable struct {
	Notify any `yaml:"notify"`
}

type delegatable struct {
	DelegateTo    string `yaml:"delegate_to"`
	DelegateFacts bool   `yaml:"delegate_facts"`
}

type become struct {
	Become       bool   `yaml:"become"`
	BecomeMethod string `yaml:"become_method"`
	BecomeUser   string `yaml:"become_user"`
	BecomeFlags  string `yaml:"become_flags"`
	BecomeExe    string `yaml:"become_exe"`
}

// ansibleTask mirrors the attribute surface of an Ansible task. Its yaml tags
// are the playbook keywords; the "_val" suffix marks attributes whose keyword
// drops the suffix.
type ansibleTask struct {
	baseFields       `yaml:",inline"`
	conditional      `yaml:",inline"`
	taggable         `yaml:",inline"`
	collectionSearch `yaml:",inline"`
	notifiable       `yaml:",inline"`
	delegatable      `yaml:",inline"`
	become           `yaml:",inline"`

	AsyncVal    int    `yaml:"async_val"`
	ChangedWhen any    `yaml:"changed_when"`
	Delay       int    `yaml:"delay"`
	FailedWhen  any    `yaml:"failed_when"`
	LoopVal     any    `yaml:"loop_val"`
	LoopControl any    `yaml:"loop_control"`
	LoopWith    string `yaml:"loop_with"`
	PollVal     int    `yaml:"poll_val"`
	Register    string `yaml:"register"`
	Retries     int    `yaml:"retries"`
	Until       any    `yaml:"until"`
	Action      any    `yaml:"action"`
	Args        any    `yaml:"args"`
	LocalAction any    `yaml:"local_action"`
	Block       any    `yaml:"block"`
	Rescue      any    `yaml:"rescue"`
	Always      any    `yaml:"always"`
	Listen      any    `yaml:"listen"`
	VarsFiles   any    `yaml:"vars_files"`
	VarsPrompt  any    `yaml:"vars_prompt"`
}

// KeywordTable is the immutable set of playbook keywords that are task
// attributes rather than module invocations.
type KeywordTable struct {
	keywords map[string]struct{}
}

// NewKeywordTable builds a table from explicit keywords.
func NewKeywordTable(keywords ...string) KeywordTable {
	set := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		set[kw] = struct{}{}
	}
	return KeywordTable{keywords: set}
}

// Contains reports whether keyword is a task attribute.
func (t KeywordTable) Contains(keyword string) bool {
	_, ok := t.keywords[keyword]
	return ok
}

var (
	defaultKeywordsOnce sync.Once
	defaultKeywords     KeywordTable
)

// DefaultKeywordTable returns the table derived from ansibleTask's yaml tags.
func DefaultKeywordTable() KeywordTable {
	defaultKeywordsOnce.Do(func() {
		defaultKeywords = NewKeywordTable(collectKeywords(reflect.TypeOf(ansibleTask{}))...)
	})
	return defaultKeywords
}

func collectKeywords(t reflect.Type) []string {
	var keywords []string
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("yaml")
		name, _, _ := strings.Cut(tag, ",")
		if name == "" && field.Anonymous {
			keywords = append(keywords, collectKeywords(field.Type)...)
			continue
		}
		if name == "" || name == "-" {
			continue
		}
		keywords = append(keywords, strings.TrimSuffix(name, "_val"))
	}
	return keywords
}
