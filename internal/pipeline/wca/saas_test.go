package wca

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ansibleconnect/internal/pipeline"
	"github.com/ansibleconnect/internal/secrets"
)

func fastSaaS(t *testing.T, backend *httptest.Server, idp *httptest.Server, manager secrets.Manager) *SaaS {
	t.Helper()
	config := pipeline.Config{
		Provider:   ProviderSaaS,
		RetryCount: 2,
		VerifySSL:  true,
		APIKey:     "abc123",
		ModelID:    "zavala",
	}
	if backend != nil {
		config.BaseURL = backend.URL
	}
	if idp != nil {
		config.IdpURL = idp.URL
	}
	s := NewSaaS(config, manager)
	// near-instant backoff in tests
	s.retryConfig.BaseDelay = time.Millisecond
	s.retryConfig.MaxDelay = 2 * time.Millisecond
	s.tokens.retryConfig = s.retryConfig
	return s
}

func idpStub(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ibm:params:oauth:grant-type:apikey", r.PostForm.Get("grant_type"))
		assert.Equal(t, "abc123", r.PostForm.Get("apikey"))
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "a-token",
			"expires_in":   3600,
			"expiration":   time.Now().Add(time.Hour).Unix(),
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func user(orgID int) *pipeline.User {
	return &pipeline.User{
		Username:     "meg",
		Organization: &pipeline.Organization{ID: orgID},
	}
}

func TestCompletionsSendsCodegenPayload(t *testing.T) {
	var got codegenRequest
	var gotRequestID, gotAuth string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, codegenPath, r.URL.Path)
		gotRequestID = r.Header.Get(RequestIDHeader)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set(RequestIDHeader, r.Header.Get(RequestIDHeader))
		json.NewEncoder(w).Encode(codegenResponse{Predictions: []string{"      ansible.builtin.apt:\n        name: apache2"}})
	}))
	defer backend.Close()

	s := fastSaaS(t, backend, idpStub(t), nil)
	response, err := s.InvokeCompletions(context.Background(), pipeline.CompletionsParameters{
		User:         user(123),
		Context:      "",
		Prompt:       "- name: install ffmpeg on Red Hat Enterprise Linux",
		SuggestionID: "suggestion-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "zavala", got.ModelID)
	assert.Equal(t, "- name: install ffmpeg on Red Hat Enterprise Linux\n", got.Prompt)
	assert.Equal(t, "suggestion-1", gotRequestID)
	assert.Equal(t, "Bearer a-token", gotAuth)
	assert.Equal(t, "zavala", response.ModelID)
	assert.Len(t, response.Predictions, 1)
}

func TestCompletionsStripsMultiTaskPreamble(t *testing.T) {
	var got codegenRequest
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(codegenResponse{Predictions: []string{"ok"}})
	}))
	defer backend.Close()

	s := fastSaaS(t, backend, idpStub(t), nil)
	_, err := s.InvokeCompletions(context.Background(), pipeline.CompletionsParameters{
		User:   user(123),
		Prompt: "# - name: install ffmpeg on Red Hat Enterprise Linux",
	})
	require.NoError(t, err)
	assert.Equal(t, "# install ffmpeg on red hat enterprise linux\n", got.Prompt)
}

func TestCompletionsInvalidModelIDForAPIKey(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer backend.Close()

	s := fastSaaS(t, backend, idpStub(t), nil)
	_, err := s.InvokeCompletions(context.Background(), pipeline.CompletionsParameters{
		User:   user(123),
		Prompt: "- name: a task",
	})
	var invalid *pipeline.InvalidModelIDError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "zavala", invalid.ModelID)
}

func TestCompletionsGarbageModelID(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "Bad request: [('value_error', ('body', 'model_id'))]"}`))
	}))
	defer backend.Close()

	s := fastSaaS(t, backend, idpStub(t), nil)
	_, err := s.InvokeCompletions(context.Background(), pipeline.CompletionsParameters{
		User:   user(123),
		Prompt: "- name: a task",
	})
	var invalid *pipeline.InvalidModelIDError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "zavala", invalid.ModelID)
}

func TestCompletionsPreprocessFailureIsBadRequest(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"detail": "Failed to preprocess the prompt: mapping values are not allowed here"}`))
	}))
	defer backend.Close()

	s := fastSaaS(t, backend, idpStub(t), nil)
	_, err := s.InvokeCompletions(context.Background(), pipeline.CompletionsParameters{
		User:   user(123),
		Prompt: "#Install Apache & say hello fred@redhat.com\n",
	})
	var badRequest *pipeline.BadRequestError
	require.ErrorAs(t, err, &badRequest)
}

func TestCompletionsEmptyResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer backend.Close()

	s := fastSaaS(t, backend, idpStub(t), nil)
	_, err := s.InvokeCompletions(context.Background(), pipeline.CompletionsParameters{
		User:   user(123),
		Prompt: "- name: a task",
	})
	var empty *pipeline.EmptyResponseError
	require.ErrorAs(t, err, &empty)
	assert.Equal(t, "zavala", empty.ModelID)
}

func TestCompletionsValidationFailure(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail": "ARI processing failed"}`))
	}))
	defer backend.Close()

	s := fastSaaS(t, backend, idpStub(t), nil)
	_, err := s.InvokeCompletions(context.Background(), pipeline.CompletionsParameters{
		User:   user(123),
		Prompt: "- name: delete virtual server with rate limit 50",
	})
	var validation *pipeline.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "zavala", validation.ModelID)
}

func TestCompletionsRequestIDCorrelationFailure(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(RequestIDHeader, "some-other-uuid")
		json.NewEncoder(w).Encode(codegenResponse{Predictions: []string{"ok"}})
	}))
	defer backend.Close()

	s := fastSaaS(t, backend, idpStub(t), nil)
	_, err := s.InvokeCompletions(context.Background(), pipeline.CompletionsParameters{
		User:         user(123),
		Prompt:       "- name: a task",
		SuggestionID: "suggestion-1",
	})
	var correlation *pipeline.RequestIDCorrelationError
	require.ErrorAs(t, err, &correlation)
	assert.Equal(t, "some-other-uuid", correlation.ReceivedID)
	assert.Equal(t, "zavala", correlation.ModelID)
}

func TestCompletionsRetriesServerErrors(t *testing.T) {
	// A persistent 500 is retried until the budget is spent, then surfaces
	// as an inference failure.
	calls := 0
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	s := fastSaaS(t, backend, idpStub(t), nil)
	_, err := s.InvokeCompletions(context.Background(), pipeline.CompletionsParameters{
		User:   user(123),
		Prompt: "- name: a task",
	})
	var inference *pipeline.InferenceError
	require.ErrorAs(t, err, &inference)
	assert.Equal(t, "zavala", inference.ModelID)
	// RetryCount is the total attempt budget, not extra attempts on top of
	// the first call.
	assert.Equal(t, 2, calls)
}

func TestContentMatchSendsInput(t *testing.T) {
	var got contentMatchRequest
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, codematchPath, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(contentMatchResponse{CodeMatches: []pipeline.CodeMatch{
			{Repo: "fiaasco.solr", Path: "tasks/cores.yml", License: "mit", Score: 0.7182885},
		}})
	}))
	defer backend.Close()

	suggestions := []string{"- name: install ffmpeg\n", "- name: This is another test"}
	s := fastSaaS(t, backend, idpStub(t), nil)
	response, err := s.InvokeContentMatch(context.Background(), pipeline.ContentMatchParameters{
		User:        user(123),
		Suggestions: suggestions,
	})
	require.NoError(t, err)
	assert.Equal(t, suggestions, got.Input)
	assert.Equal(t, "zavala", response.ModelID)
	require.Len(t, response.CodeMatches, 1)
	assert.Equal(t, "fiaasco.solr", response.CodeMatches[0].Repo)
}

func TestContentMatchFailureWrapsError(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	s := fastSaaS(t, backend, idpStub(t), nil)
	s.retryConfig.MaxRetries = 1
	_, err := s.InvokeContentMatch(context.Background(), pipeline.ContentMatchParameters{
		User:        user(123),
		Suggestions: []string{"- name: a task"},
	})
	var matchErr *pipeline.ContentMatchError
	require.ErrorAs(t, err, &matchErr)
	assert.Equal(t, "zavala", matchErr.ModelID)
}

func TestPlaybookGenerationTerminatesCustomPrompt(t *testing.T) {
	var got playbookGenerationRequest
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, codegenPlaybookPath, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(playbookGenerationResponse{Playbook: "Oh!", Outline: "Ahh!"})
	}))
	defer backend.Close()

	s := fastSaaS(t, backend, idpStub(t), nil)
	response, err := s.GeneratePlaybook(context.Background(), pipeline.PlaybookGenerationParameters{
		User:          user(123),
		Text:          "Install Wordpress",
		CustomPrompt:  "You are an Ansible expert",
		CreateOutline: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "You are an Ansible expert\n", got.CustomPrompt)
	assert.True(t, got.CreateOutline)
	assert.Equal(t, "Oh!", response.Playbook)
	assert.Equal(t, "Ahh!", response.Outline)

	// An already terminated prompt is left alone.
	_, err = s.GeneratePlaybook(context.Background(), pipeline.PlaybookGenerationParameters{
		User:         user(123),
		Text:         "Install Wordpress",
		CustomPrompt: "You are an Ansible expert\n",
	})
	require.NoError(t, err)
	assert.Equal(t, "You are an Ansible expert\n", got.CustomPrompt)
}

func TestRoleGenerationParsesFiles(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, codegenRolePath, r.URL.Path)
		json.NewEncoder(w).Encode(roleGenerationResponse{
			Name: "foo_bar",
			Files: []pipeline.RoleFile{
				{Path: "roles/foo_bar/tasks/main.yml", Content: "some content", FileType: "task"},
				{Path: "roles/foo_bar/defaults/main.yml", Content: "some content", FileType: "default"},
			},
			Outline:  "Ahh!",
			Warnings: []string{},
		})
	}))
	defer backend.Close()

	s := fastSaaS(t, backend, idpStub(t), nil)
	response, err := s.GenerateRole(context.Background(), pipeline.RoleGenerationParameters{
		User:          user(123),
		Text:          "Install Wordpress",
		CreateOutline: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "foo_bar", response.Name)
	assert.Equal(t, "Ahh!", response.Outline)
	require.Len(t, response.Files, 2)
	assert.Equal(t, "task", response.Files[0].FileType)
}

func TestPlaybookExplanation(t *testing.T) {
	var got playbookExplanationRequest
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, explainPlaybookPath, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(playbookExplanationResponse{Explanation: "It installs things."})
	}))
	defer backend.Close()

	s := fastSaaS(t, backend, idpStub(t), nil)
	response, err := s.ExplainPlaybook(context.Background(), pipeline.PlaybookExplanationParameters{
		User:         user(123),
		Content:      "Some playbook",
		CustomPrompt: "Explain this",
	})
	require.NoError(t, err)
	assert.Equal(t, "Some playbook", got.Playbook)
	assert.Equal(t, "Explain this\n", got.CustomPrompt)
	assert.Equal(t, "It installs things.", response.Content)
}

func TestGetModelIDPrecedence(t *testing.T) {
	manager := secrets.NewDummyManager("123:org-key<sep>org-model", "", "")
	ctx := context.Background()

	s := NewSaaS(pipeline.Config{ModelID: "configured"}, manager)
	modelID, err := s.GetModelID(ctx, user(123), "requested")
	require.NoError(t, err)
	assert.Equal(t, "requested", modelID)

	modelID, err = s.GetModelID(ctx, user(123), "")
	require.NoError(t, err)
	assert.Equal(t, "configured", modelID)

	s = NewSaaS(pipeline.Config{}, manager)
	modelID, err = s.GetModelID(ctx, user(123), "")
	require.NoError(t, err)
	assert.Equal(t, "org-model", modelID)
}

func TestGetModelIDTrialDefault(t *testing.T) {
	manager := secrets.NewDummyManager("", "", "")
	s := NewSaaS(pipeline.Config{OneClickDefaultModelID: "trial-model"}, manager)

	trialUser := user(123)
	trialUser.Plans = []pipeline.Plan{{Name: "trial", Active: true}}
	modelID, err := s.GetModelID(context.Background(), trialUser, "")
	require.NoError(t, err)
	assert.Equal(t, "trial-model", modelID)
}

func TestGetModelIDErrors(t *testing.T) {
	manager := secrets.NewDummyManager("", "", "")
	s := NewSaaS(pipeline.Config{}, manager)
	ctx := context.Background()

	// no organization at all
	_, err := s.GetModelID(ctx, &pipeline.User{Username: "meg"}, "")
	var noDefault *pipeline.NoDefaultModelIDError
	assert.ErrorAs(t, err, &noDefault)

	// organization without a stored default
	_, err = s.GetModelID(ctx, user(123), "")
	var notFound *pipeline.ModelIDNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestGetAPIKeyFromSecrets(t *testing.T) {
	manager := secrets.NewDummyManager("123:org-key<sep>org-model", "", "")
	s := NewSaaS(pipeline.Config{}, manager)

	key, err := s.GetAPIKey(context.Background(), user(123))
	require.NoError(t, err)
	assert.Equal(t, "org-key", key)

	_, err = s.GetAPIKey(context.Background(), user(456))
	var keyErr *pipeline.KeyNotFoundError
	assert.ErrorAs(t, err, &keyErr)
}

func TestTokenIsCachedUntilExpiry(t *testing.T) {
	mints := 0
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mints++
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "a-token",
			"expires_in":   3600,
			"expiration":   time.Now().Add(time.Hour).Unix(),
		})
	}))
	defer idp.Close()

	ts := newTokenSource(pipeline.Config{IdpURL: idp.URL}, http.DefaultClient)
	for i := 0; i < 3; i++ {
		token, err := ts.Get(context.Background(), "abc123")
		require.NoError(t, err)
		assert.Equal(t, "a-token", token)
	}
	assert.Equal(t, 1, mints)
}

func TestTokenFailureIsWrapped(t *testing.T) {
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer idp.Close()

	ts := newTokenSource(pipeline.Config{IdpURL: idp.URL}, http.DefaultClient)
	_, err := ts.Get(context.Background(), "bad-key")
	var tokenErr *pipeline.TokenError
	require.ErrorAs(t, err, &tokenErr)
	var statusErr *StatusError
	assert.True(t, errors.As(tokenErr.Err, &statusErr))
}
