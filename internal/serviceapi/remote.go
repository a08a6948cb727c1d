package serviceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cmdbridge/internal/dispatch"
	"cmdbridge/internal/model"
	"cmdbridge/internal/registry"
)

// RemoteCore talks to a running cmdbridge server over its JSON API.
type RemoteCore struct {
	baseURL string
	client  *http.Client
}

func NewRemoteCore(baseURL string, timeout time.Duration) *RemoteCore {
	baseURL = strings.TrimSpace(baseURL)
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RemoteCore{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *RemoteCore) Shutdown() {}

func (r *RemoteCore) Health(ctx context.Context) (Health, error) {
	var response Health
	if err := r.doJSON(ctx, http.MethodGet, "/api/v1/health", nil, &response); err != nil {
		return Health{}, err
	}
	return response, nil
}

func (r *RemoteCore) AsyncAvailable() bool {
	health, err := r.Health(context.Background())
	if err != nil {
		return false
	}
	return health.AsyncAvailable
}

func (r *RemoteCore) Groups(ctx context.Context) ([]model.Group, error) {
	var response struct {
		Groups []model.Group `json:"groups"`
	}
	if err := r.doJSON(ctx, http.MethodGet, "/api/v1/list", nil, &response); err != nil {
		return nil, err
	}
	return response.Groups, nil
}

func (r *RemoteCore) Describe(ctx context.Context, name string) (model.Operation, error) {
	var response struct {
		Command model.Operation `json:"command"`
	}
	if err := r.doJSON(ctx, http.MethodGet, "/api/v1/describe/"+url.PathEscape(strings.TrimSpace(name)), nil, &response); err != nil {
		return model.Operation{}, err
	}
	return response.Command, nil
}

func (r *RemoteCore) Run(ctx context.Context, name string, submission model.Submission) (model.ExecutionResult, error) {
	var response struct {
		Result model.ExecutionResult `json:"result"`
	}
	if err := r.doJSON(ctx, http.MethodPost, "/api/v1/run/"+url.PathEscape(strings.TrimSpace(name)), submission, &response); err != nil {
		return model.ExecutionResult{}, err
	}
	return response.Result, nil
}

func (r *RemoteCore) doJSON(ctx context.Context, method string, path string, body any, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/json")
	if method == http.MethodPost {
		request.Header.Set("Content-Type", "application/json")
	}
	response, err := r.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		return decodeRemoteError(response.StatusCode, payload)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(response.Body).Decode(out)
}

// decodeRemoteError maps the server's error envelope back onto the
// sentinel errors callers compare against.
func decodeRemoteError(status int, payload []byte) error {
	var wrapper struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(payload, &wrapper); err == nil && strings.TrimSpace(wrapper.Error.Code) != "" {
		message := strings.TrimSpace(wrapper.Error.Message)
		switch wrapper.Error.Code {
		case "not_found":
			return fmt.Errorf("%w (http %d): %s", registry.ErrNotFound, status, message)
		case "async_unavailable":
			return fmt.Errorf("%w (http %d)", dispatch.ErrUnavailable, status)
		}
		return fmt.Errorf("%s (http %d): %s", wrapper.Error.Code, status, message)
	}
	return fmt.Errorf("http %d: %s", status, strings.TrimSpace(string(payload)))
}
