// Package healthcheck aggregates the self-test results of the configured
// model pipelines.
package healthcheck

import "sync"

// Item statuses reported by a Summary.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Item is the outcome of one provider check.
type Item struct {
	Provider string `json:"provider"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
}

// Summary collects provider check outcomes. Safe for concurrent use so
// pipelines can be probed in parallel.
type Summary struct {
	mu    sync.Mutex
	items []Item
}

// AddMessage records a passing check for provider.
func (s *Summary) AddMessage(provider, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, Item{Provider: provider, Status: StatusOK, Message: message})
}

// AddError records a failing check for provider.
func (s *Summary) AddError(provider string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, Item{Provider: provider, Status: StatusError, Message: err.Error()})
}

// Items returns a copy of the recorded outcomes.
func (s *Summary) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

// HasErrors reports whether any recorded check failed.
func (s *Summary) HasErrors() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.Status == StatusError {
			return true
		}
	}
	return false
}

// Status is "ok" when every check passed, "error" otherwise.
func (s *Summary) Status() string {
	if s.HasErrors() {
		return StatusError
	}
	return StatusOK
}
