package apihttp

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"
)

const timeLayout = time.RFC3339

// StatsHandler serves fleet operations statistics.
type StatsHandler struct {
	db *sql.DB
}

// NewStatsHandler constructs a StatsHandler.
func NewStatsHandler(db *sql.DB) *StatsHandler {
	return &StatsHandler{db: db}
}

// ServeHTTP handles GET /api/v1/stats.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.db == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	stats, err := queryFleetStats(r.Context(), h.db, from, to)
	if err != nil {
		http.Error(w, "query stats error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

// ExportCommandsCSVHandler serves command history CSV exports.
type ExportCommandsCSVHandler struct {
	db *sql.DB
}

// NewExportCommandsCSVHandler constructs a ExportCommandsCSVHandler.
func NewExportCommandsCSVHandler(db *sql.DB) *ExportCommandsCSVHandler {
	return &ExportCommandsCSVHandler{db: db}
}

// ServeHTTP handles GET /api/v1/exports/commands.csv.
func (h *ExportCommandsCSVHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.db == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	rows, err := queryCommandRows(r.Context(), h.db, from, to)
	if err != nil {
		http.Error(w, "query commands error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{
		"command_id",
		"robot_id",
		"zone",
		"action",
		"status",
		"reason",
		"retry_count",
		"issued_by",
		"created_at",
		"updated_at",
	})
	for _, row := range rows {
		_ = writer.Write([]string{
			row.CommandID,
			strconv.Itoa(row.RobotID),
			strconv.Itoa(row.Zone),
			row.Action,
			row.Status,
			row.Reason,
			strconv.Itoa(row.RetryCount),
			row.IssuedBy,
			formatTime(row.CreatedAt),
			formatTime(row.UpdatedAt),
		})
	}
	writer.Flush()
}

// FleetStats is the operations dashboard summary.
type FleetStats struct {
	From          time.Time      `json:"from"`
	To            time.Time      `json:"to"`
	ByStatus      map[string]int `json:"commands_by_status"`
	TotalCommands int            `json:"total_commands"`
	DLQDepth      int            `json:"dlq_depth"`
	ActiveHalts   int            `json:"active_halts"`
}

type commandRow struct {
	CommandID  string
	RobotID    int
	Zone       int
	Action     string
	Status     string
	Reason     string
	RetryCount int
	IssuedBy   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func queryFleetStats(ctx context.Context, db *sql.DB, from, to time.Time) (*FleetStats, error) {
	stats := &FleetStats{From: from, To: to, ByStatus: make(map[string]int)}

	rows, err := db.QueryContext(ctx, `
SELECT status, COUNT(*)
FROM fleet_commands
WHERE created_at >= $1 AND created_at < $2
GROUP BY status`, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = count
		stats.TotalCommands += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_commands`).Scan(&stats.DLQDepth); err != nil {
		return nil, err
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emergency_halts`).Scan(&stats.ActiveHalts); err != nil {
		return nil, err
	}
	return stats, nil
}

func queryCommandRows(ctx context.Context, db *sql.DB, from, to time.Time) ([]commandRow, error) {
	rows, err := db.QueryContext(ctx, `
SELECT
	command_id,
	robot_id,
	zone,
	action,
	status,
	reason,
	retry_count,
	issued_by,
	created_at,
	updated_at
FROM fleet_commands
WHERE created_at >= $1 AND created_at < $2
ORDER BY created_at ASC`, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []commandRow
	for rows.Next() {
		var row commandRow
		if err := rows.Scan(
			&row.CommandID,
			&row.RobotID,
			&row.Zone,
			&row.Action,
			&row.Status,
			&row.Reason,
			&row.RetryCount,
			&row.IssuedBy,
			&row.CreatedAt,
			&row.UpdatedAt,
		); err != nil {
			return nil, err
		}
		row.CreatedAt = row.CreatedAt.UTC()
		row.UpdatedAt = row.UpdatedAt.UTC()
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}
