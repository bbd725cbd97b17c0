package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"robot-fleet-cloud/internal/audit"
	"robot-fleet-cloud/internal/auth"
	commandsapp "robot-fleet-cloud/internal/commands/application"
)

// Handler provides command HTTP endpoints.
type Handler struct {
	service      *commandsapp.Service
	robotChecker auth.RobotFleetChecker
	auditLogger  audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *commandsapp.Service, robotChecker auth.RobotFleetChecker, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("commands handler: nil service")
	}
	return &Handler{service: service, robotChecker: robotChecker, auditLogger: auditLogger}, nil
}

// ServeHTTP handles POST/GET /api/v1/commands.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req commandsapp.IssueRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	fleetID := auth.FleetIDFromContext(r.Context())
	if fleetID != "" {
		if err := ensureRobotFleet(r, h.robotChecker, fleetID, req.RobotID); err != nil {
			respondFleetError(w, err)
			return
		}
	}

	resp, err := h.service.Issue(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)

	h.logAudit(r, fleetID, resp)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	robotValue := r.URL.Query().Get("robot_id")
	if robotValue == "" {
		http.Error(w, "robot_id required", http.StatusBadRequest)
		return
	}
	robotID, err := strconv.Atoi(robotValue)
	if err != nil || robotID <= 0 {
		http.Error(w, "robot_id must be a positive integer", http.StatusBadRequest)
		return
	}
	limit := 50
	if limitValue := r.URL.Query().Get("limit"); limitValue != "" {
		limit, err = strconv.Atoi(limitValue)
		if err != nil || limit <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
	}

	fleetID := auth.FleetIDFromContext(r.Context())
	if fleetID != "" {
		if err := ensureRobotFleet(r, h.robotChecker, fleetID, robotID); err != nil {
			respondFleetError(w, err)
			return
		}
	}

	list, err := h.service.ListByRobot(r.Context(), robotID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *Handler) logAudit(r *http.Request, fleetID string, resp *commandsapp.IssueResponse) {
	if h.auditLogger == nil || fleetID == "" {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"action":  resp.Command.Action,
		"dry_run": resp.Command.DryRun,
	})
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		FleetID:      fleetID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       "command.issue",
		ResourceType: "command",
		ResourceID:   resp.Command.CommandID,
		RobotID:      resp.Command.RobotID,
		Zone:         resp.Zone,
		Metadata:     meta,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func ensureRobotFleet(r *http.Request, checker auth.RobotFleetChecker, fleetID string, robotID int) error {
	if checker == nil || fleetID == "" || robotID <= 0 {
		return nil
	}
	return checker.EnsureRobotFleet(r.Context(), fleetID, robotID)
}

func respondFleetError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, auth.ErrFleetMismatch) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if errors.Is(err, auth.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, "fleet check failed", http.StatusInternalServerError)
}
