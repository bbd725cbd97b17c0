package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"robot-fleet-cloud/internal/audit"
	"robot-fleet-cloud/internal/auth"
	commandsapp "robot-fleet-cloud/internal/commands/application"
	fleet "robot-fleet-cloud/internal/fleet/domain"
)

// HaltHandler provides the emergency halt endpoint.
type HaltHandler struct {
	service     *commandsapp.Service
	auditLogger audit.Logger
}

// NewHaltHandler constructs a halt handler.
func NewHaltHandler(service *commandsapp.Service, auditLogger audit.Logger) (*HaltHandler, error) {
	if service == nil {
		return nil, errors.New("halt handler: nil service")
	}
	return &HaltHandler{service: service, auditLogger: auditLogger}, nil
}

type haltRequest struct {
	Zone          *int   `json:"zone"`
	Reason        string `json:"reason"`
	CorrelationID string `json:"correlation_id"`
}

// ServeHTTP handles POST /api/v1/halt and GET /api/v1/halt.
func (h *HaltHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *HaltHandler) handlePost(w http.ResponseWriter, r *http.Request) {
	var req haltRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if req.Reason == "" {
		http.Error(w, "reason required", http.StatusBadRequest)
		return
	}
	zone := fleet.ZoneAll
	if req.Zone != nil {
		zone = *req.Zone
	}

	if err := h.service.Halt(r.Context(), zone, req.Reason, req.CorrelationID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "halted", "zone": zone})

	h.logAudit(r, "halt.apply", zone, req.Reason)
}

func (h *HaltHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	halts, err := h.service.ActiveHalts(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(halts)
}

func (h *HaltHandler) logAudit(r *http.Request, action string, zone int, reason string) {
	fleetID := auth.FleetIDFromContext(r.Context())
	if h.auditLogger == nil || fleetID == "" {
		return
	}
	meta, _ := json.Marshal(map[string]any{"reason": reason})
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		FleetID:      fleetID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "halt",
		Zone:         zone,
		Metadata:     meta,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

// ResumeHandler clears emergency halts.
type ResumeHandler struct {
	service     *commandsapp.Service
	auditLogger audit.Logger
}

// NewResumeHandler constructs a resume handler.
func NewResumeHandler(service *commandsapp.Service, auditLogger audit.Logger) (*ResumeHandler, error) {
	if service == nil {
		return nil, errors.New("resume handler: nil service")
	}
	return &ResumeHandler{service: service, auditLogger: auditLogger}, nil
}

// ServeHTTP handles POST /api/v1/resume.
func (h *ResumeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req haltRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	zone := fleet.ZoneAll
	if req.Zone != nil {
		zone = *req.Zone
	}

	if err := h.service.Resume(r.Context(), zone); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "resumed", "zone": zone})

	fleetID := auth.FleetIDFromContext(r.Context())
	if h.auditLogger != nil && fleetID != "" {
		_ = h.auditLogger.Log(r.Context(), audit.Entry{
			FleetID:      fleetID,
			Actor:        auth.SubjectFromContext(r.Context()),
			Role:         string(auth.RoleFromContext(r.Context())),
			Action:       "halt.resume",
			ResourceType: "halt",
			Zone:         zone,
			IP:           audit.ClientIP(r),
			UserAgent:    r.UserAgent(),
		})
	}
}
