// Package pipeline defines the capability surface of the model providers.
// Each provider implements whichever narrow interfaces it supports; callers
// discover a capability with a type assertion instead of relying on a
// provider hierarchy.
package pipeline

import "context"

// MetaData is the part every pipeline shares: credential and model-id
// resolution plus a liveness probe.
type MetaData interface {
	// GetModelID resolves the model to use for a request. Precedence:
	// the requested id, then the configured override, then the
	// organization default, then the one-click trial default.
	GetModelID(ctx context.Context, user *User, requested string) (string, error)

	// GetAPIKey resolves the credential for the user's organization.
	GetAPIKey(ctx context.Context, user *User) (string, error)

	// SelfTest probes the backing service.
	SelfTest(ctx context.Context) error
}

// Completions generates inline task suggestions.
type Completions interface {
	MetaData
	InvokeCompletions(ctx context.Context, params CompletionsParameters) (*CompletionsResponse, error)
}

// PlaybookGeneration generates a playbook, optionally with an outline.
type PlaybookGeneration interface {
	MetaData
	GeneratePlaybook(ctx context.Context, params PlaybookGenerationParameters) (*PlaybookGenerationResponse, error)
}

// RoleGeneration generates the files of an Ansible role.
type RoleGeneration interface {
	MetaData
	GenerateRole(ctx context.Context, params RoleGenerationParameters) (*RoleGenerationResponse, error)
}

// PlaybookExplanation explains an existing playbook in prose.
type PlaybookExplanation interface {
	MetaData
	ExplainPlaybook(ctx context.Context, params PlaybookExplanationParameters) (*PlaybookExplanationResponse, error)
}

// ContentMatch attributes suggestions to their training sources.
type ContentMatch interface {
	MetaData
	InvokeContentMatch(ctx context.Context, params ContentMatchParameters) (*ContentMatchResponse, error)
}

type CompletionsParameters struct {
	User         *User
	ModelID      string
	Context      string
	Prompt       string
	SuggestionID string
}

type CompletionsResponse struct {
	ModelID     string   `json:"model_id"`
	Predictions []string `json:"predictions"`
}

type PlaybookGenerationParameters struct {
	User          *User
	ModelID       string
	Text          string
	CustomPrompt  string
	CreateOutline bool
	Outline       string
	GenerationID  string
}

type PlaybookGenerationResponse struct {
	Playbook string   `json:"playbook"`
	Outline  string   `json:"outline,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

type RoleGenerationParameters struct {
	User          *User
	ModelID       string
	Text          string
	CustomPrompt  string
	CreateOutline bool
	Outline       string
	RoleName      string
	FileTypes     []string
	GenerationID  string
}

// RoleFile is one file of a generated role.
type RoleFile struct {
	Path     string `json:"path"`
	FileType string `json:"file_type"`
	Content  string `json:"content"`
}

type RoleGenerationResponse struct {
	Name     string     `json:"name"`
	Files    []RoleFile `json:"files"`
	Outline  string     `json:"outline,omitempty"`
	Warnings []string   `json:"warnings,omitempty"`
}

type PlaybookExplanationParameters struct {
	User          *User
	ModelID       string
	Content       string
	CustomPrompt  string
	ExplanationID string
}

type PlaybookExplanationResponse struct {
	Content string `json:"content"`
	Format  string `json:"format"`
}

type ContentMatchParameters struct {
	User        *User
	ModelID     string
	Suggestions []string
}

// CodeMatch is one attribution hit.
type CodeMatch struct {
	Repo       string  `json:"repo_name"`
	RepoURL    string  `json:"repo_url"`
	Path       string  `json:"path"`
	License    string  `json:"license"`
	DataSource string  `json:"data_source_description"`
	Score      float64 `json:"score"`
}

type ContentMatchResponse struct {
	ModelID     string      `json:"model_id"`
	CodeMatches []CodeMatch `json:"code_matches"`
}
