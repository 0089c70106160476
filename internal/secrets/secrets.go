// Package secrets resolves per-organization credentials for the hosted
// model service.
package secrets

import (
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Suffix selects which secret of an organization to address.
type Suffix string

const (
	SuffixAPIKey  Suffix = "api_key"
	SuffixModelID Suffix = "model_id"
)

// Secret is one stored credential.
type Secret struct {
	Value     string
	CreatedAt time.Time
}

// Manager looks up organization secrets.
type Manager interface {
	Get(orgID int, suffix Suffix) (*Secret, error)
	Exists(orgID int, suffix Suffix) bool
}

// ErrNotFound is returned when an organization has no secret under a suffix.
type ErrNotFound struct {
	OrgID  int
	Suffix Suffix
}

func (e *ErrNotFound) Error() string {
	return "no secret " + string(e.Suffix) + " for organization"
}

// DummyManager serves secrets parsed from a static configuration string.
// The format is a comma-separated list of "org:api_key<sep>model_id"
// entries, with the model id part optional. Organizations not listed fall
// back to the shared key and model id when those are set.
type DummyManager struct {
	fallbackKey   string
	fallbackModel string
	byOrg         map[int]map[Suffix]string
}

// NewDummyManager parses spec into a DummyManager. Malformed entries are
// logged and skipped.
func NewDummyManager(spec, fallbackKey, fallbackModel string) *DummyManager {
	m := &DummyManager{
		fallbackKey:   fallbackKey,
		fallbackModel: fallbackModel,
		byOrg:         map[int]map[Suffix]string{},
	}
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		org, rest, found := strings.Cut(entry, ":")
		orgID, err := strconv.Atoi(org)
		if !found || err != nil {
			log.Warn().Str("entry", entry).Msg("skipping malformed secret entry")
			continue
		}
		key, model, _ := strings.Cut(rest, "<sep>")
		values := map[Suffix]string{SuffixAPIKey: key}
		if model != "" {
			values[SuffixModelID] = model
		}
		m.byOrg[orgID] = values
	}
	return m
}

func (m *DummyManager) lookup(orgID int, suffix Suffix) (string, bool) {
	if values, ok := m.byOrg[orgID]; ok {
		if v, ok := values[suffix]; ok {
			return v, true
		}
	}
	switch suffix {
	case SuffixAPIKey:
		if m.fallbackKey != "" {
			return m.fallbackKey, true
		}
	case SuffixModelID:
		if m.fallbackModel != "" {
			return m.fallbackModel, true
		}
	}
	return "", false
}

func (m *DummyManager) Get(orgID int, suffix Suffix) (*Secret, error) {
	value, ok := m.lookup(orgID, suffix)
	if !ok {
		return nil, &ErrNotFound{OrgID: orgID, Suffix: suffix}
	}
	return &Secret{Value: value, CreatedAt: time.Now()}, nil
}

func (m *DummyManager) Exists(orgID int, suffix Suffix) bool {
	_, ok := m.lookup(orgID, suffix)
	return ok
}
