package main

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

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/httpapi"
	"github.com/goccy/go-json"
)

var ErrAPI = errors.New("dialer api error")

type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (client *apiClient) listCalls(ctx context.Context, statuses []string) ([]call.Record, error) {
	path := "/api/calls"
	if len(statuses) > 0 {
		path += "?status=" + url.QueryEscape(strings.Join(statuses, ","))
	}

	var out struct {
		Calls []call.Record `json:"calls"`
	}

	return out.Calls, client.do(ctx, http.MethodGet, path, nil, http.StatusOK, &out)
}

func (client *apiClient) getCall(ctx context.Context, id string) (*call.Record, error) {
	var record call.Record

	err := client.do(ctx, http.MethodGet, "/api/calls/"+url.PathEscape(id), nil, http.StatusOK, &record)
	if err != nil {
		return nil, err
	}

	return &record, nil
}

func (client *apiClient) terminateCall(ctx context.Context, id, reason string) (*call.Record, error) {
	var record call.Record

	err := client.do(ctx, http.MethodPost, "/api/calls/"+url.PathEscape(id)+"/terminate",
		httpapi.TerminateRequest{Reason: reason}, http.StatusOK, &record)
	if err != nil {
		return nil, err
	}

	return &record, nil
}

func (client *apiClient) cleanup(ctx context.Context) (int, error) {
	var out struct {
		Terminated int `json:"terminated"`
	}

	return out.Terminated, client.do(ctx, http.MethodPost, "/api/calls/cleanup", nil, http.StatusOK, &out)
}

func (client *apiClient) submitCall(ctx context.Context, request httpapi.SubmitRequest) (string, error) {
	var out struct {
		ID string `json:"id"`
	}

	return out.ID, client.do(ctx, http.MethodPost, "/api/calls", request, http.StatusCreated, &out)
}

func (client *apiClient) do(ctx context.Context, method, path string, body any, wantStatus int, out any) error {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, client.baseURL+path, reader)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.httpClient.Do(req)
	if err != nil {
		return err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != wantStatus {
		var apiError httpapi.ErrorResponse

		if json.Unmarshal(respBody, &apiError) == nil && apiError.Error != "" {
			if len(apiError.Problems) > 0 {
				return fmt.Errorf("%w (status %d): %s: %s",
					ErrAPI, resp.StatusCode, apiError.Error, strings.Join(apiError.Problems, "; "))
			}

			return fmt.Errorf("%w (status %d): %s", ErrAPI, resp.StatusCode, apiError.Error)
		}

		return fmt.Errorf("%w (status %d): %s", ErrAPI, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return json.Unmarshal(respBody, out)
}
