package http

import (
	"encoding/json"
	"errors"
	"net/http"

	commandsapp "robot-fleet-cloud/internal/commands/application"
	"robot-fleet-cloud/internal/dispatch"
	fleet "robot-fleet-cloud/internal/fleet/domain"
)

// DeliveryHandler accepts inbound deliveries from the transport gateway
// and returns the engine verdict.
type DeliveryHandler struct {
	service *commandsapp.Service
}

// NewDeliveryHandler constructs a delivery handler.
func NewDeliveryHandler(service *commandsapp.Service) (*DeliveryHandler, error) {
	if service == nil {
		return nil, errors.New("delivery handler: nil service")
	}
	return &DeliveryHandler{service: service}, nil
}

type deliveryRequest struct {
	Command   fleet.Command `json:"command"`
	Message   []byte        `json:"message"`
	Signature []byte        `json:"signature"`
}

// ServeHTTP handles POST /api/v1/deliveries. When the gateway does not
// forward the raw wire bytes the canonical encoding of the decoded command
// is verified instead.
func (h *DeliveryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req deliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	message := req.Message
	if len(message) == 0 {
		canonical, err := req.Command.SigningBytes()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		message = canonical
	}

	verdict, err := h.service.HandleDelivery(r.Context(), dispatch.Delivery{
		Command:   req.Command,
		Message:   message,
		Signature: req.Signature,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(verdict)
}

// FailureHandler accepts execution failure reports and returns the retry or
// dead-letter verdict.
type FailureHandler struct {
	service *commandsapp.Service
}

// NewFailureHandler constructs a failure handler.
func NewFailureHandler(service *commandsapp.Service) (*FailureHandler, error) {
	if service == nil {
		return nil, errors.New("failure handler: nil service")
	}
	return &FailureHandler{service: service}, nil
}

type failureRequest struct {
	Command fleet.Command `json:"command"`
}

// ServeHTTP handles POST /api/v1/failures.
func (h *FailureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req failureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if req.Command.CommandID == "" {
		http.Error(w, "command_id required", http.StatusBadRequest)
		return
	}

	verdict, err := h.service.HandleFailure(r.Context(), req.Command)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(verdict)
}

// CompletionHandler accepts terminal completion reports from the transport.
type CompletionHandler struct {
	service *commandsapp.Service
}

// NewCompletionHandler constructs a completion handler.
func NewCompletionHandler(service *commandsapp.Service) (*CompletionHandler, error) {
	if service == nil {
		return nil, errors.New("completion handler: nil service")
	}
	return &CompletionHandler{service: service}, nil
}

type completionRequest struct {
	CommandID  string           `json:"command_id"`
	Completion fleet.Completion `json:"completion"`
}

// ServeHTTP handles POST /api/v1/completions.
func (h *CompletionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if req.Completion.Status == "" {
		http.Error(w, "status required", http.StatusBadRequest)
		return
	}

	if err := h.service.HandleCompletion(r.Context(), req.CommandID, req.Completion); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
