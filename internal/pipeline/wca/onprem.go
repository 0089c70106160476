package wca

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/ansibleconnect/internal/formatter"
	"github.com/ansibleconnect/internal/metrics"
	"github.com/ansibleconnect/internal/pipeline"
)

// ProviderOnPrem is the registry name of the self-hosted service.
const ProviderOnPrem = "wca-onprem"

// OnPrem talks to a self-hosted watsonx Code Assistant behind Cloud Pak.
// Authentication is a static ZenApiKey, there is no identity provider and no
// per-organization secret store.
type OnPrem struct {
	base
	authHeader string
}

// NewOnPrem validates the deployment credentials and builds the pipeline
// set. Username and api key are both mandatory.
func NewOnPrem(config pipeline.Config) (*OnPrem, error) {
	if config.Username == "" {
		return nil, errors.New("username is required for the on-prem deployment")
	}
	if config.APIKey == "" {
		return nil, errors.New("api key is required for the on-prem deployment")
	}
	token := base64.StdEncoding.EncodeToString([]byte(config.Username + ":" + config.APIKey))
	return &OnPrem{
		base:       newBase(config),
		authHeader: "ZenApiKey " + token,
	}, nil
}

func (o *OnPrem) GetAPIKey(ctx context.Context, user *pipeline.User) (string, error) {
	return o.config.APIKey, nil
}

func (o *OnPrem) GetModelID(ctx context.Context, user *pipeline.User, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	if o.config.ModelID != "" {
		return o.config.ModelID, nil
	}
	return "", &pipeline.ModelIDNotFoundError{}
}

// SelfTest checks that the deployment still answers codegen calls.
func (o *OnPrem) SelfTest(ctx context.Context) error {
	modelID := o.config.ModelID
	payload := codegenRequest{ModelID: modelID, Prompt: "- name: ping the service\n"}
	var response codegenResponse
	return o.invokeEndpoint(ctx, metrics.OpCodegen, o.config.BaseURL+codegenPath,
		o.headers(""), payload, "", modelID, o.config.TaskTimeout(1), &response)
}

func (o *OnPrem) headers(requestID string) map[string]string {
	headers := map[string]string{"Authorization": o.authHeader}
	if requestID != "" {
		headers[RequestIDHeader] = requestID
	}
	return headers
}

func (o *OnPrem) InvokeCompletions(ctx context.Context, params pipeline.CompletionsParameters) (*pipeline.CompletionsResponse, error) {
	modelID, err := o.GetModelID(ctx, params.User, params.ModelID)
	if err != nil {
		return nil, err
	}

	prompt := params.Prompt
	taskCount := 1
	if formatter.IsMultiTaskPrompt(prompt) {
		prompt = strings.ToLower(formatter.StripTaskPreambleFromMultiTaskPrompt(prompt))
		taskCount = formatter.GetTaskCountFromPrompt(prompt)
	}
	payload := codegenRequest{
		ModelID: modelID,
		Prompt:  formatter.UnifyPromptEnding(params.Context + prompt),
	}

	var response codegenResponse
	err = o.invokeEndpoint(ctx, metrics.OpCodegen, o.config.BaseURL+codegenPath,
		o.headers(params.SuggestionID), payload, params.SuggestionID, modelID,
		o.config.TaskTimeout(taskCount), &response)
	if err != nil {
		return nil, asFailure(err, modelID, func(err error) error {
			return &pipeline.InferenceError{Err: err}
		})
	}
	return &pipeline.CompletionsResponse{ModelID: modelID, Predictions: response.Predictions}, nil
}

func (o *OnPrem) InvokeContentMatch(ctx context.Context, params pipeline.ContentMatchParameters) (*pipeline.ContentMatchResponse, error) {
	modelID, err := o.GetModelID(ctx, params.User, params.ModelID)
	if err != nil {
		return nil, err
	}
	payload := contentMatchRequest{ModelID: modelID, Input: params.Suggestions}

	var response contentMatchResponse
	err = o.invokeEndpoint(ctx, metrics.OpCodematch, o.config.BaseURL+codematchPath,
		o.headers(""), payload, "", modelID, o.config.TaskTimeout(1), &response)
	if err != nil {
		return nil, asFailure(err, modelID, func(err error) error {
			return &pipeline.ContentMatchError{Err: err}
		})
	}
	return &pipeline.ContentMatchResponse{ModelID: modelID, CodeMatches: response.CodeMatches}, nil
}
