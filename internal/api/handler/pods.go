package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/podpilot/internal/api/middleware"
	"github.com/kiranshivaraju/podpilot/internal/api/response"
	"github.com/kiranshivaraju/podpilot/internal/runpod"
)

// PodClientFactory returns a provider client that authenticates with key.
type PodClientFactory func(key string) runpod.Client

// DeletePodResponse is the body returned after a pod is terminated.
type DeletePodResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// NewListPodsHandler returns an http.HandlerFunc for GET /api/v1/pods.
func NewListPodsHandler(clients PodClientFactory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, _ := mw.GetProviderKey(r)

		pods, err := clients(key).ListPods(r.Context())
		if err != nil {
			writeProviderError(w, "list pods", err)
			return
		}
		response.JSON(w, pods)
	}
}

// NewGetPodHandler returns an http.HandlerFunc for GET /api/v1/pods/{podId}.
func NewGetPodHandler(clients PodClientFactory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		podID, ok := podIDParam(w, r)
		if !ok {
			return
		}
		key, _ := mw.GetProviderKey(r)

		pod, err := clients(key).GetPod(r.Context(), podID)
		if err != nil {
			writeProviderError(w, "get pod", err)
			return
		}
		response.JSON(w, pod)
	}
}

// NewCreatePodHandler returns an http.HandlerFunc for POST /api/v1/pods. The
// body is forwarded to the provider as-is apart from the self-termination key.
func NewCreatePodHandler(clients PodClientFactory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload == nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		key, _ := mw.GetProviderKey(r)

		pod, err := clients(key).CreatePod(r.Context(), payload)
		if err != nil {
			writeProviderError(w, "create pod", err)
			return
		}
		slog.Info("pod created", "name", payload["name"])
		response.Created(w, pod)
	}
}

// NewStopPodHandler returns an http.HandlerFunc for POST /api/v1/pods/{podId}/stop.
func NewStopPodHandler(clients PodClientFactory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		podID, ok := podIDParam(w, r)
		if !ok {
			return
		}
		key, _ := mw.GetProviderKey(r)

		pod, err := clients(key).StopPod(r.Context(), podID)
		if err != nil {
			writeProviderError(w, "stop pod", err)
			return
		}
		if pod == nil {
			response.JSON(w, map[string]string{"id": podID})
			return
		}
		response.JSON(w, pod)
	}
}

// NewDeletePodHandler returns an http.HandlerFunc for DELETE /api/v1/pods/{podId}.
func NewDeletePodHandler(clients PodClientFactory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		podID, ok := podIDParam(w, r)
		if !ok {
			return
		}
		key, _ := mw.GetProviderKey(r)

		if err := clients(key).DeletePod(r.Context(), podID); err != nil {
			writeProviderError(w, "delete pod", err)
			return
		}
		slog.Info("pod terminated", "pod_id", podID)
		response.JSON(w, DeletePodResponse{
			Success: true,
			Message: fmt.Sprintf("Pod %s terminated successfully", podID),
		})
	}
}

func podIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	podID := chi.URLParam(r, "podId")
	if podID == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "podId is required", nil)
		return "", false
	}
	return podID, true
}

// writeProviderError maps a runpod client error onto the error envelope.
func writeProviderError(w http.ResponseWriter, op string, err error) {
	var upstream *runpod.UpstreamError
	switch {
	case errors.As(err, &upstream) && upstream.Status == http.StatusNotFound:
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Pod not found", upstream.Body)
	case errors.As(err, &upstream):
		slog.Warn("provider rejected request", "op", op, "status", upstream.Status)
		response.Upstream(w, upstream.Status, upstream.Body)
	case errors.Is(err, runpod.ErrNotConfigured):
		response.Error(w, http.StatusInternalServerError, "CONFIGURATION_ERROR", err.Error(), nil)
	case errors.Is(err, runpod.ErrTimeout):
		response.Error(w, http.StatusGatewayTimeout, "PROVIDER_TIMEOUT", "RunPod did not respond in time", nil)
	case errors.Is(err, runpod.ErrUnreachable):
		slog.Error("provider unreachable", "op", op, "error", err)
		response.Error(w, http.StatusBadGateway, "PROVIDER_UNAVAILABLE", "RunPod is unreachable", nil)
	case errors.Is(err, runpod.ErrBadResponse):
		slog.Error("provider returned malformed body", "op", op, "error", err)
		response.Error(w, http.StatusBadGateway, "PROVIDER_UNAVAILABLE", "RunPod returned a malformed response", nil)
	default:
		slog.Error("provider request failed", "op", op, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to "+op, nil)
	}
}
