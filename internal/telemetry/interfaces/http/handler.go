package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	fleet "robot-fleet-cloud/internal/fleet/domain"
	"robot-fleet-cloud/internal/observability/metrics"
	telemetryapp "robot-fleet-cloud/internal/telemetry/application"
)

// IngestHandler handles telemetry ingestion from the fleet gateway.
type IngestHandler struct {
	aggregator *telemetryapp.StateAggregator
	logger     *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(aggregator *telemetryapp.StateAggregator, logger *log.Logger) (*IngestHandler, error) {
	if aggregator == nil {
		return nil, errors.New("telemetry ingest: nil aggregator")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{aggregator: aggregator, logger: logger}, nil
}

type ingestRequest struct {
	Reports []fleet.Telemetry `json:"reports"`
}

// ServeHTTP handles POST /api/v1/telemetry. The body is either a batch
// under "reports" or a single bare telemetry object.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("telemetry ingest: read body error: %v", err)
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var batch ingestRequest
	if err := json.Unmarshal(body, &batch); err != nil {
		h.logger.Printf("telemetry ingest: decode error: %v", err)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	reports := batch.Reports
	if len(reports) == 0 {
		var single fleet.Telemetry
		if err := json.Unmarshal(body, &single); err != nil || single.RobotID <= 0 {
			http.Error(w, "no telemetry reports", http.StatusBadRequest)
			return
		}
		reports = []fleet.Telemetry{single}
	}

	for _, report := range reports {
		if err := h.aggregator.Ingest(r.Context(), report); err != nil {
			h.logger.Printf("telemetry ingest: robot %d: %v", report.RobotID, err)
			http.Error(w, "ingest error", http.StatusInternalServerError)
			return
		}
		metrics.IncTelemetrySent()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ingested": len(reports)})
}

// StateHandler serves the latest recorded state per robot.
type StateHandler struct {
	aggregator *telemetryapp.StateAggregator
}

// NewStateHandler constructs a state handler.
func NewStateHandler(aggregator *telemetryapp.StateAggregator) (*StateHandler, error) {
	if aggregator == nil {
		return nil, errors.New("state handler: nil aggregator")
	}
	return &StateHandler{aggregator: aggregator}, nil
}

// ServeHTTP handles GET /api/v1/robots/state.
func (h *StateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	robotValue := r.URL.Query().Get("robot_id")
	robotID, err := strconv.Atoi(robotValue)
	if err != nil || robotID <= 0 {
		http.Error(w, "robot_id must be a positive integer", http.StatusBadRequest)
		return
	}

	row, err := h.aggregator.Lookup(r.Context(), robotID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if row == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(row.State)
}
