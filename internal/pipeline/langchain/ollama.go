// Package langchain implements the model pipelines backed by a chat model
// behind langchaingo, with Ollama as the default backend.
package langchain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/ansibleconnect/internal/metrics"
	"github.com/ansibleconnect/internal/pipeline"
)

// ProviderOllama is the registry name of this pipeline set.
const ProviderOllama = "ollama"

const completionsSystemMessage = "You are an Ansible expert. Return a single task that best completes the " +
	"partial playbook. Return only the task as YAML. Do not return multiple tasks. " +
	"Do not explain your response. Do not include the prompt in your response."

const playbookSystemMessage = `You are an Ansible expert.
Your role is to help Ansible developers write playbooks.
You answer with an Ansible playbook.`

const playbookOutlineSystemMessage = `You are an Ansible expert.
Your role is to help Ansible developers write playbooks.
The first part of the answer is an Ansible playbook.
The second part is a step by step explanation of this.
Use a new line to explain each step.`

const roleSystemMessage = `You are an Ansible expert.
Your role is to help Ansible developers write roles.
You answer with a single JSON object of the shape
{"name": ..., "files": [{"path": ..., "file_type": ..., "content": ...}], "outline": ...}.
Do not add any text around the JSON object.`

const explainSystemMessage = `You're an Ansible expert.
You format your output with Markdown.
You only answer with text paragraphs.
Write one paragraph per Ansible task.
Markdown title starts with the '#' character.
Write a title before every paragraph.
Do not return any YAML or Ansible in the output.
Give a lot of details regarding the parameters of each Ansible plugin.`

// chatModelFactory builds the chat model for one request; swapped out in
// tests.
type chatModelFactory func(modelID string) (llms.Model, error)

// Ollama serves every pipeline capability from a local chat model. There is
// no credential store; the api key is whatever the configuration carries,
// usually empty.
type Ollama struct {
	config   pipeline.Config
	newModel chatModelFactory
}

// NewOllama builds the pipeline set against config.BaseURL.
func NewOllama(config pipeline.Config) *Ollama {
	return &Ollama{
		config: config,
		newModel: func(modelID string) (llms.Model, error) {
			return ollama.New(
				ollama.WithServerURL(config.BaseURL),
				ollama.WithModel(modelID),
			)
		},
	}
}

func (o *Ollama) GetAPIKey(ctx context.Context, user *pipeline.User) (string, error) {
	return o.config.APIKey, nil
}

func (o *Ollama) GetModelID(ctx context.Context, user *pipeline.User, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	if o.config.ModelID != "" {
		return o.config.ModelID, nil
	}
	return "", &pipeline.ModelIDNotFoundError{}
}

// SelfTest sends a trivial prompt through the model.
func (o *Ollama) SelfTest(ctx context.Context) error {
	modelID, err := o.GetModelID(ctx, nil, "")
	if err != nil {
		return err
	}
	_, err = o.chat(ctx, metrics.OpOllamaCompletion, modelID, "You are a health check.", "Say hello.", 1)
	return err
}

// chat runs one system+human exchange and returns the answer text.
func (o *Ollama) chat(ctx context.Context, operation, modelID, systemMessage, humanMessage string, taskCount int) (answer string, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveDuration(operation, start)
		if err != nil {
			metrics.CountError(operation)
		}
	}()

	if timeout := o.config.TaskTimeout(taskCount); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	llm, err := o.newModel(modelID)
	if err != nil {
		return "", fmt.Errorf("failed to build the chat model: %w", err)
	}
	response, err := llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemMessage),
		llms.TextParts(llms.ChatMessageTypeHuman, humanMessage),
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", pipeline.WithModelID(&pipeline.ModelTimeoutError{}, modelID)
		}
		return "", pipeline.WithModelID(&pipeline.InferenceError{Err: err}, modelID)
	}
	if len(response.Choices) == 0 {
		return "", pipeline.WithModelID(&pipeline.EmptyResponseError{}, modelID)
	}
	return response.Choices[0].Content, nil
}

func (o *Ollama) InvokeCompletions(ctx context.Context, params pipeline.CompletionsParameters) (*pipeline.CompletionsResponse, error) {
	modelID, err := o.GetModelID(ctx, params.User, params.ModelID)
	if err != nil {
		return nil, err
	}
	prompt := params.Context + params.Prompt + "\n"

	answer, err := o.chat(ctx, metrics.OpOllamaCompletion, modelID, completionsSystemMessage, prompt, 1)
	if err != nil {
		return nil, err
	}
	task, err := unwrapTaskAnswer(answer)
	if err != nil {
		return nil, pipeline.WithModelID(&pipeline.EmptyResponseError{}, modelID)
	}
	return &pipeline.CompletionsResponse{ModelID: modelID, Predictions: []string{task}}, nil
}

func (o *Ollama) GeneratePlaybook(ctx context.Context, params pipeline.PlaybookGenerationParameters) (*pipeline.PlaybookGenerationResponse, error) {
	modelID, err := o.GetModelID(ctx, params.User, params.ModelID)
	if err != nil {
		return nil, err
	}
	if params.CustomPrompt != "" {
		log.Info().Msg("custom prompts are not supported for playbook generation, ignoring")
	}

	systemMessage := playbookSystemMessage
	if params.CreateOutline {
		systemMessage = playbookOutlineSystemMessage
	}
	humanMessage := "This is what the playbook should do: " + params.Text
	if params.Outline != "" {
		humanMessage += "\nThis is a break down of the expected Playbook: " + params.Outline
	}

	answer, err := o.chat(ctx, metrics.OpOllamaGeneration, modelID, systemMessage, humanMessage, 1)
	if err != nil {
		return nil, err
	}
	playbook, outline, err := unwrapPlaybookAnswer(answer)
	if err != nil {
		return nil, pipeline.WithModelID(&pipeline.EmptyResponseError{}, modelID)
	}
	if !params.CreateOutline {
		outline = ""
	}
	return &pipeline.PlaybookGenerationResponse{Playbook: playbook, Outline: outline}, nil
}

type roleAnswer struct {
	Name    string              `json:"name"`
	Files   []pipeline.RoleFile `json:"files"`
	Outline string              `json:"outline"`
}

func (o *Ollama) GenerateRole(ctx context.Context, params pipeline.RoleGenerationParameters) (*pipeline.RoleGenerationResponse, error) {
	modelID, err := o.GetModelID(ctx, params.User, params.ModelID)
	if err != nil {
		return nil, err
	}
	humanMessage := "This is what the role should do: " + params.Text
	if params.RoleName != "" {
		humanMessage += "\nThe role is named " + params.RoleName
	}
	if params.Outline != "" {
		humanMessage += "\nThis is a break down of the expected role: " + params.Outline
	}

	answer, err := o.chat(ctx, metrics.OpOllamaGeneration, modelID, roleSystemMessage, humanMessage, 1)
	if err != nil {
		return nil, err
	}

	role, err := parseRoleAnswer(answer)
	if err != nil {
		log.Error().Err(err).Msg("could not parse the generated role")
		return nil, pipeline.WithModelID(&pipeline.InferenceError{Err: err}, modelID)
	}
	outline := role.Outline
	if !params.CreateOutline {
		outline = ""
	}
	return &pipeline.RoleGenerationResponse{Name: role.Name, Files: role.Files, Outline: outline}, nil
}

// parseRoleAnswer decodes the role JSON, running the answer through a JSON
// repair pass first since chat models routinely emit trailing commas or
// unquoted keys.
func parseRoleAnswer(answer string) (*roleAnswer, error) {
	text := answer
	if m := jsonFencePattern.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	text = strings.TrimSpace(text)
	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return nil, err
	}
	var role roleAnswer
	if err := json.Unmarshal([]byte(repaired), &role); err != nil {
		return nil, err
	}
	return &role, nil
}

func (o *Ollama) ExplainPlaybook(ctx context.Context, params pipeline.PlaybookExplanationParameters) (*pipeline.PlaybookExplanationResponse, error) {
	modelID, err := o.GetModelID(ctx, params.User, params.ModelID)
	if err != nil {
		return nil, err
	}
	if params.CustomPrompt != "" {
		log.Info().Msg("custom prompts are not supported for playbook explanation, ignoring")
	}
	humanMessage := "Please explain the following Ansible playbook:\n\n" + params.Content

	answer, err := o.chat(ctx, metrics.OpOllamaExplain, modelID, explainSystemMessage, humanMessage, 1)
	if err != nil {
		return nil, err
	}
	return &pipeline.PlaybookExplanationResponse{Content: answer, Format: "markdown"}, nil
}
