package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/ansibleconnect/internal/formatter"
	"github.com/ansibleconnect/internal/healthcheck"
	"github.com/ansibleconnect/internal/pipeline"
)

// Handler serves the model-facing endpoints against a configured set of
// pipelines. The default pipeline answers requests; every registered
// pipeline is probed by the health endpoint.
type Handler struct {
	pipeline     pipeline.MetaData
	pipelines    map[string]pipeline.MetaData
	multiTaskMax int
}

// NewHandler creates a handler backed by the named default pipeline.
func NewHandler(defaultPipeline pipeline.MetaData, pipelines map[string]pipeline.MetaData, multiTaskMax int) *Handler {
	return &Handler{
		pipeline:     defaultPipeline,
		pipelines:    pipelines,
		multiTaskMax: multiTaskMax,
	}
}

type completionMetadata struct {
	AnsibleFileType   string                       `json:"ansibleFileType"`
	AdditionalContext *formatter.AdditionalContext `json:"additionalContext"`
}

type completionRequest struct {
	Prompt       string              `json:"prompt"`
	SuggestionID string              `json:"suggestionId"`
	Model        string              `json:"model"`
	Metadata     *completionMetadata `json:"metadata"`
}

type completionResponse struct {
	Model        string   `json:"model"`
	SuggestionID string   `json:"suggestionId"`
	Predictions  []string `json:"predictions"`
}

// Completions generates one inline task suggestion from an editor prompt.
func (h *Handler) Completions(c echo.Context) error {
	backend, ok := h.pipeline.(pipeline.Completions)
	if !ok {
		return echo.NewHTTPError(http.StatusNotImplemented, "completions are not supported by the configured pipeline")
	}

	var req completionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Prompt == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt is required")
	}
	if req.SuggestionID == "" {
		req.SuggestionID = uuid.NewString()
	}

	prompt, promptContext := formatter.ExtractPromptAndContext(req.Prompt)
	if err := h.validatePrompt(prompt); err != nil {
		return err
	}

	fileType := formatter.FileTypePlaybook
	var additionalContext *formatter.AdditionalContext
	if req.Metadata != nil {
		if req.Metadata.AnsibleFileType != "" {
			fileType = req.Metadata.AnsibleFileType
		}
		additionalContext = req.Metadata.AdditionalContext
	}

	originalPrompt := prompt
	processedContext, processedPrompt, err := formatter.Preprocess(promptContext, prompt, fileType, additionalContext)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	resp, err := backend.InvokeCompletions(c.Request().Context(), pipeline.CompletionsParameters{
		User:         userFromContext(c),
		ModelID:      req.Model,
		Context:      processedContext,
		Prompt:       processedPrompt,
		SuggestionID: req.SuggestionID,
	})
	if err != nil {
		return pipelineError(err)
	}

	predictions := resp.Predictions
	if formatter.IsMultiTaskPrompt(originalPrompt) {
		restored := make([]string, len(predictions))
		for i, prediction := range predictions {
			restored[i] = formatter.RestoreOriginalTaskNames(prediction, originalPrompt, processedContext)
		}
		predictions = restored
	}

	return c.JSON(http.StatusOK, completionResponse{
		Model:        resp.ModelID,
		SuggestionID: req.SuggestionID,
		Predictions:  predictions,
	})
}

// validatePrompt rejects prompts the model cannot act on before any network
// round trip is spent on them.
func (h *Handler) validatePrompt(prompt string) error {
	if formatter.IsMultiTaskPrompt(prompt) {
		if strings.Contains(prompt, "&&") {
			return echo.NewHTTPError(http.StatusBadRequest, "multiple task requests should be separated by a single '&'")
		}
		if formatter.GetTaskCountFromPrompt(prompt) > h.multiTaskMax {
			return echo.NewHTTPError(http.StatusBadRequest, "maximum task request size exceeded")
		}
		return nil
	}

	// A single-task prompt must be exactly one "- name: ..." entry.
	var tasks []map[string]any
	if err := yaml.Unmarshal([]byte(prompt), &tasks); err != nil || len(tasks) != 1 || len(tasks[0]) != 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt does not contain the name parameter")
	}
	name, ok := tasks[0]["name"]
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt does not contain the name parameter")
	}
	switch name.(type) {
	case []any:
		return echo.NewHTTPError(http.StatusBadRequest, "prompt contains a list")
	case map[string]any:
		return echo.NewHTTPError(http.StatusBadRequest, "prompt contains a dictionary")
	}
	return nil
}

type playbookGenerationRequest struct {
	Text          string `json:"text"`
	CustomPrompt  string `json:"customPrompt"`
	CreateOutline bool   `json:"createOutline"`
	Outline       string `json:"outline"`
	GenerationID  string `json:"generationId"`
	Model         string `json:"model"`
}

type playbookGenerationResponse struct {
	Playbook     string   `json:"playbook"`
	Outline      string   `json:"outline"`
	Format       string   `json:"format"`
	GenerationID string   `json:"generationId"`
	Warnings     []string `json:"warnings,omitempty"`
}

// GeneratePlaybook converts a natural-language goal into a playbook.
func (h *Handler) GeneratePlaybook(c echo.Context) error {
	backend, ok := h.pipeline.(pipeline.PlaybookGeneration)
	if !ok {
		return echo.NewHTTPError(http.StatusNotImplemented, "playbook generation is not supported by the configured pipeline")
	}

	var req playbookGenerationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	if req.CustomPrompt != "" {
		if !strings.Contains(req.CustomPrompt, "{goal}") {
			return echo.NewHTTPError(http.StatusBadRequest, "'{goal}' placeholder expected")
		}
		if req.Outline != "" && !strings.Contains(req.CustomPrompt, "{outline}") {
			return echo.NewHTTPError(http.StatusBadRequest, "'{outline}' placeholder expected when 'outline' provided")
		}
	}
	if req.GenerationID == "" {
		req.GenerationID = uuid.NewString()
	}

	resp, err := backend.GeneratePlaybook(c.Request().Context(), pipeline.PlaybookGenerationParameters{
		User:          userFromContext(c),
		ModelID:       req.Model,
		Text:          req.Text,
		CustomPrompt:  req.CustomPrompt,
		CreateOutline: req.CreateOutline,
		Outline:       req.Outline,
		GenerationID:  req.GenerationID,
	})
	if err != nil {
		return pipelineError(err)
	}

	return c.JSON(http.StatusOK, playbookGenerationResponse{
		Playbook:     resp.Playbook,
		Outline:      resp.Outline,
		Format:       "plaintext",
		GenerationID: req.GenerationID,
		Warnings:     resp.Warnings,
	})
}

type roleGenerationRequest struct {
	Text          string   `json:"text"`
	CustomPrompt  string   `json:"customPrompt"`
	CreateOutline bool     `json:"createOutline"`
	Outline       string   `json:"outline"`
	RoleName      string   `json:"name"`
	FileTypes     []string `json:"fileTypes"`
	GenerationID  string   `json:"generationId"`
	Model         string   `json:"model"`
}

type roleGenerationResponse struct {
	Role         string              `json:"role"`
	Files        []pipeline.RoleFile `json:"files"`
	Outline      string              `json:"outline"`
	Format       string              `json:"format"`
	GenerationID string              `json:"generationId"`
	Warnings     []string            `json:"warnings,omitempty"`
}

// GenerateRole converts a natural-language goal into the files of a role.
func (h *Handler) GenerateRole(c echo.Context) error {
	backend, ok := h.pipeline.(pipeline.RoleGeneration)
	if !ok {
		return echo.NewHTTPError(http.StatusNotImplemented, "role generation is not supported by the configured pipeline")
	}

	var req roleGenerationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	if req.GenerationID == "" {
		req.GenerationID = uuid.NewString()
	}

	resp, err := backend.GenerateRole(c.Request().Context(), pipeline.RoleGenerationParameters{
		User:          userFromContext(c),
		ModelID:       req.Model,
		Text:          req.Text,
		CustomPrompt:  req.CustomPrompt,
		CreateOutline: req.CreateOutline,
		Outline:       req.Outline,
		RoleName:      req.RoleName,
		FileTypes:     req.FileTypes,
		GenerationID:  req.GenerationID,
	})
	if err != nil {
		return pipelineError(err)
	}

	return c.JSON(http.StatusOK, roleGenerationResponse{
		Role:         resp.Name,
		Files:        resp.Files,
		Outline:      resp.Outline,
		Format:       "plaintext",
		GenerationID: req.GenerationID,
		Warnings:     resp.Warnings,
	})
}

type explanationRequest struct {
	Content       string `json:"content"`
	CustomPrompt  string `json:"customPrompt"`
	ExplanationID string `json:"explanationId"`
	Model         string `json:"model"`
}

type explanationResponse struct {
	Content       string `json:"content"`
	Format        string `json:"format"`
	ExplanationID string `json:"explanationId"`
}

// ExplainPlaybook renders a prose explanation of an existing playbook.
func (h *Handler) ExplainPlaybook(c echo.Context) error {
	backend, ok := h.pipeline.(pipeline.PlaybookExplanation)
	if !ok {
		return echo.NewHTTPError(http.StatusNotImplemented, "playbook explanation is not supported by the configured pipeline")
	}

	var req explanationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	if req.CustomPrompt != "" && !strings.Contains(req.CustomPrompt, "{playbook}") {
		return echo.NewHTTPError(http.StatusBadRequest, "'{playbook}' placeholder expected")
	}
	if req.ExplanationID == "" {
		req.ExplanationID = uuid.NewString()
	}

	resp, err := backend.ExplainPlaybook(c.Request().Context(), pipeline.PlaybookExplanationParameters{
		User:          userFromContext(c),
		ModelID:       req.Model,
		Content:       req.Content,
		CustomPrompt:  req.CustomPrompt,
		ExplanationID: req.ExplanationID,
	})
	if err != nil {
		return pipelineError(err)
	}

	return c.JSON(http.StatusOK, explanationResponse{
		Content:       resp.Content,
		Format:        resp.Format,
		ExplanationID: req.ExplanationID,
	})
}

type contentMatchRequest struct {
	Suggestions []string `json:"suggestions"`
	Model       string   `json:"model"`
}

type contentMatchList struct {
	ContentMatch []pipeline.CodeMatch `json:"contentmatch"`
}

type contentMatchResponse struct {
	ContentMatches []contentMatchList `json:"contentmatches"`
	Model          string             `json:"model"`
}

// ContentMatches attributes suggestions to their likely training sources.
func (h *Handler) ContentMatches(c echo.Context) error {
	backend, ok := h.pipeline.(pipeline.ContentMatch)
	if !ok {
		return echo.NewHTTPError(http.StatusNotImplemented, "content match is not supported by the configured pipeline")
	}

	var req contentMatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if len(req.Suggestions) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "suggestions are required")
	}

	resp, err := backend.InvokeContentMatch(c.Request().Context(), pipeline.ContentMatchParameters{
		User:        userFromContext(c),
		ModelID:     req.Model,
		Suggestions: req.Suggestions,
	})
	if err != nil {
		return pipelineError(err)
	}

	return c.JSON(http.StatusOK, contentMatchResponse{
		ContentMatches: []contentMatchList{{ContentMatch: resp.CodeMatches}},
		Model:          resp.ModelID,
	})
}

// Health probes every configured pipeline and reports per-provider status.
func (h *Handler) Health(c echo.Context) error {
	summary := &healthcheck.Summary{}
	for name, backend := range h.pipelines {
		if err := backend.SelfTest(c.Request().Context()); err != nil {
			summary.AddError(name, err)
			continue
		}
		summary.AddMessage(name, "ok")
	}

	status := http.StatusOK
	if summary.HasErrors() {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, map[string]any{
		"status":    summary.Status(),
		"providers": summary.Items(),
	})
}

// userFromContext lifts the authenticated caller off the request. The bundled
// auth layer is a stub: an X-Organization-ID header stands in for a session.
func userFromContext(c echo.Context) *pipeline.User {
	user := &pipeline.User{Username: c.Request().Header.Get("X-Username")}
	var orgID int
	if _, err := fmt.Sscanf(c.Request().Header.Get("X-Organization-ID"), "%d", &orgID); err == nil {
		user.Organization = &pipeline.Organization{ID: orgID}
	}
	return user
}

// pipelineError translates the pipeline error taxonomy into HTTP responses.
func pipelineError(err error) error {
	var (
		invalidModel  *pipeline.InvalidModelIDError
		keyNotFound   *pipeline.KeyNotFoundError
		noDefault     *pipeline.NoDefaultModelIDError
		modelNotFound *pipeline.ModelIDNotFoundError
		empty         *pipeline.EmptyResponseError
		validation    *pipeline.ValidationError
		badRequest    *pipeline.BadRequestError
		timeout       *pipeline.ModelTimeoutError
		correlation   *pipeline.RequestIDCorrelationError
		token         *pipeline.TokenError
	)
	switch {
	case errors.As(err, &invalidModel):
		return echo.NewHTTPError(http.StatusForbidden, "model id is invalid")
	case errors.As(err, &keyNotFound), errors.As(err, &noDefault), errors.As(err, &modelNotFound):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.As(err, &empty):
		return echo.NewHTTPError(http.StatusNoContent, err.Error())
	case errors.As(err, &validation), errors.As(err, &badRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &timeout):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &correlation):
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	case errors.As(err, &token):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		log.Error().Err(err).Msg("model pipeline call failed")
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
}
