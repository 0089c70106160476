package wca

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/ansibleconnect/internal/metrics"
	"github.com/ansibleconnect/internal/pipeline"
	"github.com/ansibleconnect/internal/retry"
)

const defaultIdpURL = "https://iam.cloud.ibm.com/identity"

// refreshMargin renews cached tokens slightly before they expire.
const refreshMargin = 30 * time.Second

type accessToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Expiration  int64  `json:"expiration"`
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// tokenSource mints and caches IBM Cloud Identity access tokens, one cache
// slot per api key.
type tokenSource struct {
	config      pipeline.Config
	client      *http.Client
	retryConfig retry.Config

	mu    sync.Mutex
	cache map[string]cachedToken
}

func newTokenSource(config pipeline.Config, client *http.Client) *tokenSource {
	return &tokenSource{
		config:      config,
		client:      client,
		retryConfig: retry.ModelConfig(config.RetryCount),
		cache:       map[string]cachedToken{},
	}
}

func (ts *tokenSource) idpURL() string {
	if ts.config.IdpURL != "" {
		return strings.TrimRight(ts.config.IdpURL, "/")
	}
	return defaultIdpURL
}

// Get returns a bearer token for apiKey, minting a fresh one when the
// cached token is absent or about to expire.
func (ts *tokenSource) Get(ctx context.Context, apiKey string) (string, error) {
	ts.mu.Lock()
	cached, ok := ts.cache[apiKey]
	ts.mu.Unlock()
	if ok && time.Now().Before(cached.expiresAt.Add(-refreshMargin)) {
		return cached.value, nil
	}

	token, err := ts.mint(ctx, apiKey)
	if err != nil {
		return "", &pipeline.TokenError{Err: err}
	}

	ts.mu.Lock()
	ts.cache[apiKey] = cachedToken{value: token.AccessToken, expiresAt: tokenExpiry(token)}
	ts.mu.Unlock()
	return token.AccessToken, nil
}

func (ts *tokenSource) mint(ctx context.Context, apiKey string) (token *accessToken, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveDuration(metrics.OpToken, start)
		if err != nil {
			metrics.CountError(metrics.OpToken)
		}
	}()

	config := ts.retryConfig
	config.OnRetry = func(attempt int, err error) {
		metrics.CountRetry(metrics.OpToken)
	}
	err = retry.Do(ctx, config, func() error {
		token, err = ts.requestToken(ctx, apiKey)
		return err
	}, fatalError)
	if err != nil {
		log.Error().Err(err).Msg("failed to mint an access token")
		return nil, err
	}
	return token, nil
}

func (ts *tokenSource) requestToken(ctx context.Context, apiKey string) (*accessToken, error) {
	form := url.Values{}
	form.Set("grant_type", "urn:ibm:params:oauth:grant-type:apikey")
	form.Set("apikey", apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.idpURL()+"/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if ts.config.IdpLogin != "" {
		req.SetBasicAuth(ts.config.IdpLogin, ts.config.IdpPassword)
	}

	resp, err := ts.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, errTimeout
		}
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, ContentType: resp.Header.Get("Content-Type"), Body: body}
	}

	var token accessToken
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, errors.New("token response carried no access token")
	}
	return &token, nil
}

// tokenExpiry reads the expiry out of the token itself when it is a JWT,
// falling back to the envelope fields.
func tokenExpiry(token *accessToken) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	if token.Expiration > 0 {
		return time.Unix(token.Expiration, 0)
	}
	return time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
}
