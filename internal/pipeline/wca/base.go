// Package wca implements the model pipelines backed by the watsonx Code
// Assistant service, in its SaaS and on-prem variants.
package wca

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ansibleconnect/internal/metrics"
	"github.com/ansibleconnect/internal/pipeline"
	"github.com/ansibleconnect/internal/retry"
)

// RequestIDHeader carries the suggestion id on requests; the service echoes
// it back so responses can be correlated.
const RequestIDHeader = "X-Request-ID"

const (
	codegenPath         = "/v1/wca/codegen/ansible"
	codegenPlaybookPath = "/v1/wca/codegen/ansible/playbook"
	codegenRolePath     = "/v1/wca/codegen/ansible/role"
	explainPlaybookPath = "/v1/wca/explain/ansible/playbook"
	codematchPath       = "/v1/wca/codematch/ansible"
)

// StatusError is an HTTP response the service answered with a non-2xx code.
type StatusError struct {
	Code        int
	ContentType string
	Body        []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with %d. Content-Type:%s, Content:%s",
		e.Code, e.ContentType, e.Body)
}

// errTimeout marks a timed-out attempt inside the retry loop; it maps to
// ModelTimeoutError once the budget is spent.
var errTimeout = errors.New("model request timed out")

type base struct {
	config      pipeline.Config
	client      *http.Client
	retryConfig retry.Config
}

func newBase(config pipeline.Config) base {
	transport := http.DefaultTransport
	if !config.VerifySSL {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return base{
		config:      config,
		client:      &http.Client{Transport: transport},
		retryConfig: retry.ModelConfig(config.RetryCount),
	}
}

type postResult struct {
	status      int
	contentType string
	body        []byte
	requestID   string
}

func (b *base) doPost(ctx context.Context, url string, headers map[string]string, payload any, timeout time.Duration) (*postResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, errTimeout
		}
		return nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &postResult{
		status:      resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		body:        respBody,
		requestID:   resp.Header.Get(RequestIDHeader),
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return os.IsTimeout(err)
}

// invokeEndpoint posts payload and decodes the answer into out, retrying
// retryable failures. The latency histogram observes error paths too, so
// slow failures stay visible.
func (b *base) invokeEndpoint(ctx context.Context, operation, url string, headers map[string]string, payload any, requestID, modelID string, timeout time.Duration, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveDuration(operation, start)
		if err != nil {
			metrics.CountError(operation)
		}
	}()

	config := b.retryConfig
	config.OnRetry = func(attempt int, err error) {
		metrics.CountRetry(operation)
	}

	err = retry.Do(ctx, config, func() error {
		result, err := b.doPost(ctx, url, headers, payload, timeout)
		if err != nil {
			return err
		}
		// The correlation check comes before status mapping: a response
		// for somebody else's request must never be interpreted.
		if requestID != "" && result.requestID != "" && result.requestID != requestID {
			return pipeline.WithModelID(&pipeline.RequestIDCorrelationError{ReceivedID: result.requestID}, modelID)
		}
		if result.status == http.StatusNoContent {
			return pipeline.WithModelID(&pipeline.EmptyResponseError{}, modelID)
		}
		if result.status < 200 || result.status > 299 {
			return b.mapStatus(result, modelID)
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(result.body, out)
	}, fatalError)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, errTimeout):
		return pipeline.WithModelID(&pipeline.ModelTimeoutError{}, modelID)
	default:
		return err
	}
}

// mapStatus converts a non-2xx response into the matching pipeline error.
// 429 and 5xx stay as StatusError so the retry loop picks them up.
func (b *base) mapStatus(result *postResult, modelID string) error {
	statusErr := &StatusError{Code: result.status, ContentType: result.contentType, Body: result.body}
	switch result.status {
	case http.StatusBadRequest:
		if bytes.Contains(result.body, []byte("model_id")) {
			return pipeline.WithModelID(&pipeline.InvalidModelIDError{}, modelID)
		}
		log.Error().Msg(statusErr.Error())
		return pipeline.WithModelID(&pipeline.BadRequestError{Detail: string(result.body)}, modelID)
	case http.StatusForbidden:
		return pipeline.WithModelID(&pipeline.InvalidModelIDError{}, modelID)
	case http.StatusUnprocessableEntity:
		log.Error().Msg(statusErr.Error())
		return pipeline.WithModelID(&pipeline.ValidationError{Detail: string(result.body)}, modelID)
	}
	log.Error().Msg(statusErr.Error())
	return statusErr
}

// fatalError stops the retry loop. Retryable: timeouts, transport errors,
// 429 and server-side status codes. Everything already mapped to a pipeline
// error is terminal.
func fatalError(err error) bool {
	if errors.Is(err, errTimeout) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= 500 {
			return false
		}
		return true
	}
	var setter interface{ SetModelID(string) }
	if errors.As(err, &setter) {
		return true
	}
	// Transport-level errors are worth another try.
	return false
}

// asFailure wraps a leftover StatusError or transport error into the
// operation's terminal failure type. Already mapped pipeline errors pass
// through untouched.
func asFailure(err error, modelID string, wrap func(error) error) error {
	if err == nil {
		return nil
	}
	var setter interface{ SetModelID(string) }
	if errors.As(err, &setter) {
		return err
	}
	return pipeline.WithModelID(wrap(err), modelID)
}
