package wca

import (
	"context"
	"errors"
	"strings"

	"github.com/ansibleconnect/internal/formatter"
	"github.com/ansibleconnect/internal/metrics"
	"github.com/ansibleconnect/internal/pipeline"
	"github.com/ansibleconnect/internal/secrets"
)

// ProviderSaaS is the registry name of the hosted service.
const ProviderSaaS = "wca"

// SaaS talks to the hosted watsonx Code Assistant. Credentials and default
// model ids come from the per-organization secret store, with one-click
// trial defaults for users without a seat.
type SaaS struct {
	base
	tokens  *tokenSource
	secrets secrets.Manager
}

// NewSaaS builds the SaaS pipeline set.
func NewSaaS(config pipeline.Config, manager secrets.Manager) *SaaS {
	b := newBase(config)
	return &SaaS{
		base:    b,
		tokens:  newTokenSource(config, b.client),
		secrets: manager,
	}
}

func (s *SaaS) GetAPIKey(ctx context.Context, user *pipeline.User) (string, error) {
	if s.config.APIKey != "" {
		return s.config.APIKey, nil
	}
	if orgID, ok := user.OrgID(); ok && s.secrets != nil {
		secret, err := s.secrets.Get(orgID, secrets.SuffixAPIKey)
		if err == nil {
			return secret.Value, nil
		}
		var notFound *secrets.ErrNotFound
		if !errors.As(err, &notFound) {
			return "", err
		}
	}
	if user.HasActiveTrial() && s.config.OneClickDefaultAPIKey != "" {
		return s.config.OneClickDefaultAPIKey, nil
	}
	return "", &pipeline.KeyNotFoundError{}
}

// GetModelID resolves the model id with the documented precedence: the
// request override wins, then the configured override, then the
// organization's stored default, then the trial default.
func (s *SaaS) GetModelID(ctx context.Context, user *pipeline.User, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	if s.config.ModelID != "" {
		return s.config.ModelID, nil
	}
	orgID, hasOrg := user.OrgID()
	if hasOrg && s.secrets != nil {
		secret, err := s.secrets.Get(orgID, secrets.SuffixModelID)
		if err == nil {
			return secret.Value, nil
		}
		var notFound *secrets.ErrNotFound
		if !errors.As(err, &notFound) {
			return "", err
		}
	}
	if user.HasActiveTrial() && s.config.OneClickDefaultModelID != "" {
		return s.config.OneClickDefaultModelID, nil
	}
	if !hasOrg {
		return "", &pipeline.NoDefaultModelIDError{}
	}
	return "", &pipeline.ModelIDNotFoundError{}
}

// SelfTest mints a token for the configured credential; a pipeline that
// cannot authenticate is down for every caller.
func (s *SaaS) SelfTest(ctx context.Context) error {
	key := s.config.APIKey
	if key == "" {
		key = s.config.OneClickDefaultAPIKey
	}
	if key == "" {
		return &pipeline.KeyNotFoundError{}
	}
	_, err := s.tokens.Get(ctx, key)
	return err
}

func (s *SaaS) bearerHeaders(ctx context.Context, user *pipeline.User, requestID string) (map[string]string, error) {
	apiKey, err := s.GetAPIKey(ctx, user)
	if err != nil {
		return nil, err
	}
	token, err := s.tokens.Get(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{"Authorization": "Bearer " + token}
	if requestID != "" {
		headers[RequestIDHeader] = requestID
	}
	return headers, nil
}

type codegenRequest struct {
	ModelID string `json:"model_id"`
	Prompt  string `json:"prompt"`
}

type codegenResponse struct {
	Predictions []string `json:"predictions"`
}

func (s *SaaS) InvokeCompletions(ctx context.Context, params pipeline.CompletionsParameters) (*pipeline.CompletionsResponse, error) {
	modelID, err := s.GetModelID(ctx, params.User, params.ModelID)
	if err != nil {
		return nil, err
	}
	headers, err := s.bearerHeaders(ctx, params.User, params.SuggestionID)
	if err != nil {
		return nil, pipeline.WithModelID(err, modelID)
	}

	prompt := params.Prompt
	taskCount := 1
	if formatter.IsMultiTaskPrompt(prompt) {
		// The service wants the bare lower-cased task list, without any
		// "- name:" preamble the editor may have sent.
		prompt = strings.ToLower(formatter.StripTaskPreambleFromMultiTaskPrompt(prompt))
		taskCount = formatter.GetTaskCountFromPrompt(prompt)
	}
	payload := codegenRequest{
		ModelID: modelID,
		Prompt:  formatter.UnifyPromptEnding(params.Context + prompt),
	}

	var response codegenResponse
	err = s.invokeEndpoint(ctx, metrics.OpCodegen, s.config.BaseURL+codegenPath,
		headers, payload, params.SuggestionID, modelID, s.config.TaskTimeout(taskCount), &response)
	if err != nil {
		return nil, asFailure(err, modelID, func(err error) error {
			return &pipeline.InferenceError{Err: err}
		})
	}
	return &pipeline.CompletionsResponse{ModelID: modelID, Predictions: response.Predictions}, nil
}

type playbookGenerationRequest struct {
	ModelID       string `json:"model_id"`
	Text          string `json:"text"`
	CreateOutline bool   `json:"create_outline"`
	CustomPrompt  string `json:"custom_prompt,omitempty"`
	Outline       string `json:"outline,omitempty"`
}

type playbookGenerationResponse struct {
	Playbook string   `json:"playbook"`
	Outline  string   `json:"outline"`
	Warnings []string `json:"warnings"`
}

func (s *SaaS) GeneratePlaybook(ctx context.Context, params pipeline.PlaybookGenerationParameters) (*pipeline.PlaybookGenerationResponse, error) {
	modelID, err := s.GetModelID(ctx, params.User, params.ModelID)
	if err != nil {
		return nil, err
	}
	headers, err := s.bearerHeaders(ctx, params.User, params.GenerationID)
	if err != nil {
		return nil, pipeline.WithModelID(err, modelID)
	}
	payload := playbookGenerationRequest{
		ModelID:       modelID,
		Text:          params.Text,
		CreateOutline: params.CreateOutline,
		CustomPrompt:  terminatePrompt(params.CustomPrompt),
		Outline:       params.Outline,
	}

	var response playbookGenerationResponse
	err = s.invokeEndpoint(ctx, metrics.OpCodegenPlaybook, s.config.BaseURL+codegenPlaybookPath,
		headers, payload, params.GenerationID, modelID, s.config.TaskTimeout(1), &response)
	if err != nil {
		return nil, asFailure(err, modelID, func(err error) error {
			return &pipeline.InferenceError{Err: err}
		})
	}
	return &pipeline.PlaybookGenerationResponse{
		Playbook: response.Playbook,
		Outline:  response.Outline,
		Warnings: response.Warnings,
	}, nil
}

type roleGenerationRequest struct {
	ModelID       string   `json:"model_id"`
	Text          string   `json:"text"`
	CreateOutline bool     `json:"create_outline"`
	CustomPrompt  string   `json:"custom_prompt,omitempty"`
	Outline       string   `json:"outline,omitempty"`
	RoleName      string   `json:"role_name,omitempty"`
	FileTypes     []string `json:"file_types,omitempty"`
}

type roleGenerationResponse struct {
	Name     string              `json:"name"`
	Files    []pipeline.RoleFile `json:"files"`
	Outline  string              `json:"outline"`
	Warnings []string            `json:"warnings"`
}

func (s *SaaS) GenerateRole(ctx context.Context, params pipeline.RoleGenerationParameters) (*pipeline.RoleGenerationResponse, error) {
	modelID, err := s.GetModelID(ctx, params.User, params.ModelID)
	if err != nil {
		return nil, err
	}
	headers, err := s.bearerHeaders(ctx, params.User, params.GenerationID)
	if err != nil {
		return nil, pipeline.WithModelID(err, modelID)
	}
	payload := roleGenerationRequest{
		ModelID:       modelID,
		Text:          params.Text,
		CreateOutline: params.CreateOutline,
		CustomPrompt:  terminatePrompt(params.CustomPrompt),
		Outline:       params.Outline,
		RoleName:      params.RoleName,
		FileTypes:     params.FileTypes,
	}

	var response roleGenerationResponse
	err = s.invokeEndpoint(ctx, metrics.OpCodegenRole, s.config.BaseURL+codegenRolePath,
		headers, payload, params.GenerationID, modelID, s.config.TaskTimeout(1), &response)
	if err != nil {
		return nil, asFailure(err, modelID, func(err error) error {
			return &pipeline.InferenceError{Err: err}
		})
	}
	return &pipeline.RoleGenerationResponse{
		Name:     response.Name,
		Files:    response.Files,
		Outline:  response.Outline,
		Warnings: response.Warnings,
	}, nil
}

type playbookExplanationRequest struct {
	ModelID      string `json:"model_id"`
	Playbook     string `json:"playbook"`
	CustomPrompt string `json:"custom_prompt,omitempty"`
}

type playbookExplanationResponse struct {
	Explanation string `json:"explanation"`
}

func (s *SaaS) ExplainPlaybook(ctx context.Context, params pipeline.PlaybookExplanationParameters) (*pipeline.PlaybookExplanationResponse, error) {
	modelID, err := s.GetModelID(ctx, params.User, params.ModelID)
	if err != nil {
		return nil, err
	}
	headers, err := s.bearerHeaders(ctx, params.User, params.ExplanationID)
	if err != nil {
		return nil, pipeline.WithModelID(err, modelID)
	}
	payload := playbookExplanationRequest{
		ModelID:      modelID,
		Playbook:     params.Content,
		CustomPrompt: terminatePrompt(params.CustomPrompt),
	}

	var response playbookExplanationResponse
	err = s.invokeEndpoint(ctx, metrics.OpExplainPlaybook, s.config.BaseURL+explainPlaybookPath,
		headers, payload, params.ExplanationID, modelID, s.config.TaskTimeout(1), &response)
	if err != nil {
		return nil, asFailure(err, modelID, func(err error) error {
			return &pipeline.InferenceError{Err: err}
		})
	}
	return &pipeline.PlaybookExplanationResponse{Content: response.Explanation, Format: "markdown"}, nil
}

type contentMatchRequest struct {
	ModelID string   `json:"model_id"`
	Input   []string `json:"input"`
}

type contentMatchResponse struct {
	CodeMatches []pipeline.CodeMatch `json:"code_matches"`
}

func (s *SaaS) InvokeContentMatch(ctx context.Context, params pipeline.ContentMatchParameters) (*pipeline.ContentMatchResponse, error) {
	modelID, err := s.GetModelID(ctx, params.User, params.ModelID)
	if err != nil {
		return nil, err
	}
	headers, err := s.bearerHeaders(ctx, params.User, "")
	if err != nil {
		return nil, pipeline.WithModelID(err, modelID)
	}
	payload := contentMatchRequest{ModelID: modelID, Input: params.Suggestions}

	var response contentMatchResponse
	err = s.invokeEndpoint(ctx, metrics.OpCodematch, s.config.BaseURL+codematchPath,
		headers, payload, "", modelID, s.config.TaskTimeout(1), &response)
	if err != nil {
		return nil, asFailure(err, modelID, func(err error) error {
			return &pipeline.ContentMatchError{Err: err}
		})
	}
	return &pipeline.ContentMatchResponse{ModelID: modelID, CodeMatches: response.CodeMatches}, nil
}

// terminatePrompt guarantees a trailing newline on a non-empty custom
// prompt; the service is strict about it.
func terminatePrompt(prompt string) string {
	if prompt == "" || strings.HasSuffix(prompt, "\n") {
		return prompt
	}
	return prompt + "\n"
}
