package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"robot-fleet-cloud/internal/audit"
	"robot-fleet-cloud/internal/auth"
	commandsapp "robot-fleet-cloud/internal/commands/application"
	commandsrepo "robot-fleet-cloud/internal/commands/infrastructure/postgres"
	fleet "robot-fleet-cloud/internal/fleet/domain"
)

// DLQLister lists dead-letter entries.
type DLQLister interface {
	List(ctx context.Context, limit int) ([]commandsrepo.DLQEntry, error)
}

// DLQHandler provides dead-letter inspection endpoints.
type DLQHandler struct {
	store       DLQLister
	service     *commandsapp.Service
	fleetID     string
	auditLogger audit.Logger
}

// NewDLQHandler constructs a DLQ handler.
func NewDLQHandler(store DLQLister, service *commandsapp.Service, fleetID string, auditLogger audit.Logger) (*DLQHandler, error) {
	if store == nil {
		return nil, errors.New("dlq handler: nil store")
	}
	return &DLQHandler{store: store, service: service, fleetID: fleetID, auditLogger: auditLogger}, nil
}

// ServeHTTP handles GET /api/v1/dlq.
func (h *DLQHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entries, ok := h.listEntries(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

// ExportXLSX handles GET /api/v1/exports/dlq.xlsx.
func (h *DLQHandler) ExportXLSX(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entries, ok := h.listEntries(w, r)
	if !ok {
		return
	}
	halts, err := h.activeHalts(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data, err := BuildDLQReportXLSX(h.fleetID, entries, halts, time.Now().UTC())
	if err != nil {
		http.Error(w, "export xlsx error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, "xlsx", len(entries))
}

// ExportPDF handles GET /api/v1/exports/dlq.pdf.
func (h *DLQHandler) ExportPDF(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entries, ok := h.listEntries(w, r)
	if !ok {
		return
	}
	data, err := BuildDLQReportPDF(h.fleetID, entries, time.Now().UTC())
	if err != nil {
		http.Error(w, "export pdf error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, "pdf", len(entries))
}

func (h *DLQHandler) listEntries(w http.ResponseWriter, r *http.Request) ([]commandsrepo.DLQEntry, bool) {
	limit := 100
	if limitValue := r.URL.Query().Get("limit"); limitValue != "" {
		parsed, err := strconv.Atoi(limitValue)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return nil, false
		}
		limit = parsed
	}
	entries, err := h.store.List(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return entries, true
}

func (h *DLQHandler) activeHalts(ctx context.Context) ([]fleet.EmergencyHalt, error) {
	if h.service == nil {
		return nil, nil
	}
	return h.service.ActiveHalts(ctx)
}

func (h *DLQHandler) logAudit(r *http.Request, format string, entryCount int) {
	fleetID := auth.FleetIDFromContext(r.Context())
	if h.auditLogger == nil || fleetID == "" {
		return
	}
	meta, _ := json.Marshal(map[string]any{"format": format, "entries": entryCount})
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		FleetID:      fleetID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       "dlq.export",
		ResourceType: "dlq",
		Metadata:     meta,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}
