// Package synthflow implements gateway.Gateway against the Synthflow v2 API.
package synthflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/gateway"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	"github.com/avast/retry-go"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const responseStatusOK = "ok"

var (
	ErrMissingCallID  = errors.New("synthflow response has no call id")
	ErrCallNotListed  = errors.New("synthflow response lists no call")
	ErrUnexpectedBody = errors.New("synthflow response is not ok")
)

type createCallRequest struct {
	ModelID  string `json:"model_id"`
	Phone    string `json:"phone"`
	Name     string `json:"name"`
	Prompt   string `json:"prompt"`
	Greeting string `json:"greeting"`
}

type createCallResponse struct {
	Status   string `json:"status"`
	Response struct {
		CallID string `json:"call_id"`
	} `json:"response"`
}

type callInfo struct {
	Status     string  `json:"status"`
	Duration   float64 `json:"duration"`
	Transcript string  `json:"transcript"`
}

type getCallResponse struct {
	Status   string `json:"status"`
	Response struct {
		Calls []callInfo `json:"calls"`
	} `json:"response"`
}

type Client struct {
	BaseURL        string
	APIKey         string
	ModelID        string
	HTTPClient     *http.Client
	CircuitBreaker *gobreaker.CircuitBreaker[[]byte]

	PollAttempts   uint
	PollBackoffMin time.Duration
	PollBackoffMax time.Duration
}

// NewClient builds a client from config.Conf.
func NewClient() *Client {
	client := New(
		config.Conf.SynthflowBaseURL,
		config.Conf.SynthflowAPIKey,
		config.Conf.SynthflowModelID,
		time.Duration(config.Conf.SynthflowTimeout)*time.Second,
	)

	cbSettings := circuitbreak.Settings(
		circuitbreak.SynthflowService,
		time.Duration(config.Conf.SynthflowIntervalCB)*time.Second,
		max(config.Conf.SynthflowConsecutiveFailuresCB, 1),
	)
	cbSettings.IsSuccessful = isBreakerSuccess

	client.CircuitBreaker = gobreaker.NewCircuitBreaker[[]byte](cbSettings)
	client.PollAttempts = config.Conf.SynthflowPollRetryMaxAttempts
	client.PollBackoffMin = time.Duration(config.Conf.SynthflowPollRetryBackoffMin) * time.Second
	client.PollBackoffMax = time.Duration(config.Conf.SynthflowPollRetryBackoffMax) * time.Second

	return client
}

// New builds a client with a breaker that never trips on its own and a single poll attempt.
func New(baseURL, apiKey, modelID string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		ModelID:    modelID,
		HTTPClient: &http.Client{Timeout: timeout},
		CircuitBreaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:         circuitbreak.SynthflowService,
			ReadyToTrip:  func(gobreaker.Counts) bool { return false },
			IsSuccessful: isBreakerSuccess,
		}),
		PollAttempts:   1,
		PollBackoffMin: time.Second,
		PollBackoffMax: time.Second,
	}
}

// Rejections and our own cancellations do not count against the provider.
func isBreakerSuccess(err error) bool {
	return err == nil || gateway.IsPermanent(err) || errors.Is(err, context.Canceled)
}

// Submit places a call. It sends exactly one request.
func (client *Client) Submit(ctx context.Context, spec gateway.CallSpec) (string, error) {
	apiURL, err := url.JoinPath(client.BaseURL, "calls")
	if err != nil {
		return "", gateway.NewPermanent("submit", 0, err)
	}

	reqBody, err := json.Marshal(createCallRequest{
		ModelID:  client.ModelID,
		Phone:    spec.Destination,
		Name:     spec.CallerName,
		Prompt:   BuildPrompt(spec),
		Greeting: BuildGreeting(spec),
	})
	if err != nil {
		return "", gateway.NewPermanent("submit", 0, err)
	}

	body, err := client.CircuitBreaker.Execute(func() ([]byte, error) {
		return client.do(ctx, "submit", http.MethodPost, apiURL, reqBody)
	})
	if err != nil {
		return "", err
	}

	var response createCallResponse

	err = json.Unmarshal(body, &response)
	if err != nil {
		return "", gateway.NewPermanent("submit", http.StatusOK, err)
	}

	if response.Status != responseStatusOK {
		return "", gateway.NewPermanent("submit", http.StatusOK, fmt.Errorf("%w: %q", ErrUnexpectedBody, response.Status))
	}

	if response.Response.CallID == "" {
		return "", gateway.NewPermanent("submit", http.StatusOK, ErrMissingCallID)
	}

	logging.Logger.Info("[Submit] Synthflow accepted call",
		zap.String("call_id", spec.ExternalID),
		zap.String("provider_call_id", response.Response.CallID),
	)

	return response.Response.CallID, nil
}

// Poll fetches the provider's view of a call, retrying transient failures.
func (client *Client) Poll(ctx context.Context, providerCallID string) (gateway.ProviderStatus, error) {
	apiURL, err := url.JoinPath(client.BaseURL, "calls", providerCallID)
	if err != nil {
		return gateway.ProviderStatus{}, gateway.NewPermanent("poll", 0, err)
	}

	body, err := client.CircuitBreaker.Execute(func() ([]byte, error) {
		var body []byte

		err := retry.Do(
			func() error {
				var err error

				body, err = client.do(ctx, "poll", http.MethodGet, apiURL, nil)

				return err
			},
			retry.Context(ctx),
			retry.RetryIf(gateway.IsTransient),
			retry.LastErrorOnly(true),
			retry.Attempts(max(client.PollAttempts, 1)),
			retry.DelayType(retry.BackOffDelay),
			retry.Delay(client.PollBackoffMin),
			retry.MaxDelay(client.PollBackoffMax),
		)

		return body, err
	})
	if err != nil {
		return gateway.ProviderStatus{}, err
	}

	var response getCallResponse

	err = json.Unmarshal(body, &response)
	if err != nil {
		return gateway.ProviderStatus{}, gateway.NewPermanent("poll", http.StatusOK, err)
	}

	if response.Status != responseStatusOK {
		return gateway.ProviderStatus{}, gateway.NewPermanent("poll", http.StatusOK,
			fmt.Errorf("%w: %q", ErrUnexpectedBody, response.Status))
	}

	if len(response.Response.Calls) == 0 {
		return gateway.ProviderStatus{}, gateway.NewTransient("poll", http.StatusOK, ErrCallNotListed)
	}

	info := response.Response.Calls[0]

	return gateway.ProviderStatus{
		Status:          info.Status,
		DurationSeconds: info.Duration,
		Transcript:      info.Transcript,
	}, nil
}

func (client *Client) do(ctx context.Context, op, method, apiURL string, reqBody []byte) ([]byte, error) {
	var reader io.Reader
	if reqBody != nil {
		reader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, reader)
	if err != nil {
		return nil, gateway.NewPermanent(op, 0, err)
	}

	req.Header.Set("Authorization", "Bearer "+client.APIKey)
	req.Header.Set("Accept", "application/json")

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.HTTPClient.Do(req)
	if err != nil {
		return nil, gateway.NewTransient(op, 0, err)
	}

	defer func() {
		cerr := resp.Body.Close()
		if cerr != nil {
			logging.Logger.Error("[do] Failed to close response body", zap.String("error", cerr.Error()))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gateway.NewTransient(op, resp.StatusCode, err)
	}

	err = classifyStatus(op, resp.StatusCode, body)
	if err != nil {
		logging.Logger.Warn("[do] Synthflow request failed",
			zap.String("operation", op),
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("response_body", body),
		)

		return nil, err
	}

	return body, nil
}

func classifyStatus(op string, statusCode int, body []byte) error {
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	err := errors.New(strings.TrimSpace(string(body)))
	if len(body) == 0 {
		err = errors.New(http.StatusText(statusCode))
	}

	if statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusRequestTimeout ||
		statusCode >= http.StatusInternalServerError {
		return gateway.NewTransient(op, statusCode, err)
	}

	return gateway.NewPermanent(op, statusCode, err)
}
