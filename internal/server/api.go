package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"cmdbridge/internal/dispatch"
	"cmdbridge/internal/model"
	"cmdbridge/internal/registry"
)

const maxRunBodyBytes = 1 << 20

func (r *Runtime) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/health", r.handleHealth)
	mux.HandleFunc("/api/v1/list", r.handleList)
	mux.HandleFunc("/api/v1/describe/", r.handleDescribe)
	mux.HandleFunc("/api/v1/run/", r.handleRun)
	mux.HandleFunc("/api/", r.handleNotFound)
}

func (r *Runtime) handleList(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}
	groups, err := r.service.Groups(req.Context())
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"groups":          groups,
		"async_available": r.service.AsyncAvailable(),
	})
}

func (r *Runtime) handleDescribe(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}
	name, err := commandNameFromPath(req, "/api/v1/describe/")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_command_name", err.Error())
		return
	}
	op, err := r.service.Describe(req.Context(), name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"command": op})
}

func (r *Runtime) handleRun(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}
	name, err := commandNameFromPath(req, "/api/v1/run/")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_command_name", err.Error())
		return
	}
	var submission model.Submission
	req.Body = http.MaxBytesReader(w, req.Body, maxRunBodyBytes)
	if err := decodeJSON(req, &submission); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	result, err := r.service.Run(req.Context(), name, submission)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func commandNameFromPath(req *http.Request, prefix string) (string, error) {
	raw := req.URL.EscapedPath()
	if !strings.HasPrefix(raw, prefix) {
		return "", fmt.Errorf("command name is required")
	}
	name, err := url.PathUnescape(strings.TrimPrefix(raw, prefix))
	if err != nil {
		return "", err
	}
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("command name is required")
	}
	return name, nil
}

// decodeJSON accepts an empty body as an empty submission. Unknown
// top-level keys are ignored.
func decodeJSON(req *http.Request, out any) error {
	if req.Body == nil {
		return nil
	}
	defer req.Body.Close()
	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeAPIError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": apiError{
			Code:    strings.TrimSpace(code),
			Message: strings.TrimSpace(message),
		},
	})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeAPIError(w, http.StatusNotFound, "not_found", registry.ErrNotFound.Error())
	case errors.Is(err, dispatch.ErrUnavailable):
		writeAPIError(w, http.StatusServiceUnavailable, "async_unavailable", "asynchronous execution is not available: no message transport is configured")
	default:
		writeAPIError(w, http.StatusInternalServerError, "run_failed", err.Error())
	}
}
