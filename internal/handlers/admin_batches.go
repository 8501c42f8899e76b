package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"ticket-batch-platform/internal/models"
	"ticket-batch-platform/internal/services"
)

// AdminBatchHandler serves batch administration, diagnosis and repairs
type AdminBatchHandler struct {
	batchService     services.BatchServiceInterface
	diagnosisService services.BatchDiagnosisServiceInterface
	reconciler       services.BatchReconcilerInterface
	auditLogs        services.AuditLogReader
	logger           *slog.Logger
}

// AdminBatchHandlerConfig holds the dependencies of AdminBatchHandler
type AdminBatchHandlerConfig struct {
	BatchService     services.BatchServiceInterface
	DiagnosisService services.BatchDiagnosisServiceInterface
	Reconciler       services.BatchReconcilerInterface
	AuditLogs        services.AuditLogReader
	Logger           *slog.Logger
}

// NewAdminBatchHandler creates a new admin batch handler
func NewAdminBatchHandler(config AdminBatchHandlerConfig) *AdminBatchHandler {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminBatchHandler{
		batchService:     config.BatchService,
		diagnosisService: config.DiagnosisService,
		reconciler:       config.Reconciler,
		auditLogs:        config.AuditLogs,
		logger:           logger,
	}
}

// ResetAvailabilityRequest is the body of the availability reset endpoints
type ResetAvailabilityRequest struct {
	Confirmation string `json:"confirmation"`
}

// RepairResponse wraps a multi-batch repair report with its summary
type RepairResponse struct {
	Summary services.RepairSummary `json:"summary"`
	Report  *services.RepairReport `json:"report"`
}

// SingleRepairResponse wraps the outcome of a single-batch status repair
type SingleRepairResponse struct {
	Summary services.RepairSummary  `json:"summary"`
	Outcome *services.RepairOutcome `json:"outcome"`
}

// CreateBatch creates a batch under the event in the URL
func (h *AdminBatchHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	eventID, ok := uuidParam(w, r, "eventID")
	if !ok {
		return
	}

	var req models.BatchCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.EventID = eventID

	view, err := h.batchService.CreateBatch(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, view)
}

// UpdateBatch applies a partial edit to a batch
func (h *AdminBatchHandler) UpdateBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := uuidParam(w, r, "batchID")
	if !ok {
		return
	}

	var req models.BatchUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	view, err := h.batchService.UpdateBatch(r.Context(), batchID, &req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// DebugBatch returns the stored and computed state of one batch
func (h *AdminBatchHandler) DebugBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := uuidParam(w, r, "batchID")
	if !ok {
		return
	}

	info, err := h.diagnosisService.DebugBatch(r.Context(), batchID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// DiagnoseEvent reports status drift for every batch of an event.
// ?fresh=true bypasses the diagnosis cache.
func (h *AdminBatchHandler) DiagnoseEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := uuidParam(w, r, "eventID")
	if !ok {
		return
	}

	fresh := false
	if raw := r.URL.Query().Get("fresh"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", "fresh must be a boolean")
			return
		}
		fresh = v
	}

	diagnose := h.diagnosisService.DiagnoseEvent
	if fresh {
		diagnose = h.diagnosisService.DiagnoseEventFresh
	}
	report, err := diagnose(r.Context(), eventID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// FixBatchStatus writes the computed status of one batch
func (h *AdminBatchHandler) FixBatchStatus(w http.ResponseWriter, r *http.Request) {
	batchID, ok := uuidParam(w, r, "batchID")
	if !ok {
		return
	}

	outcome := h.reconciler.FixSingleBatchStatus(r.Context(), batchID)
	if outcome.Result == services.RepairNotFound {
		writeError(w, http.StatusNotFound, "not_found", outcome.Error)
		return
	}

	summary := services.NewSingleRepairReport(outcome).Summary()
	status := http.StatusOK
	if summary == services.SummaryFailed {
		status = http.StatusBadGateway
		h.logger.Error("batch status repair failed", "batch_id", batchID, "error", outcome.Err)
	}

	writeJSON(w, status, SingleRepairResponse{Summary: summary, Outcome: outcome})
}

// FixEventBatchStatus writes the computed status of every batch of an event
func (h *AdminBatchHandler) FixEventBatchStatus(w http.ResponseWriter, r *http.Request) {
	eventID, ok := uuidParam(w, r, "eventID")
	if !ok {
		return
	}

	report, err := h.reconciler.FixAllBatchesForEvent(r.Context(), eventID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeRepairReport(w, report)
}

// ResetBatchAvailability resets available tickets of one batch
func (h *AdminBatchHandler) ResetBatchAvailability(w http.ResponseWriter, r *http.Request) {
	batchID, ok := uuidParam(w, r, "batchID")
	if !ok {
		return
	}
	h.resetAvailability(w, r, services.RepairTarget{BatchID: batchID})
}

// ResetEventAvailability resets available tickets of every batch of an event
func (h *AdminBatchHandler) ResetEventAvailability(w http.ResponseWriter, r *http.Request) {
	eventID, ok := uuidParam(w, r, "eventID")
	if !ok {
		return
	}
	h.resetAvailability(w, r, services.RepairTarget{EventID: eventID})
}

func (h *AdminBatchHandler) resetAvailability(w http.ResponseWriter, r *http.Request, target services.RepairTarget) {
	var req ResetAvailabilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	report, err := h.reconciler.FixAvailableTickets(r.Context(), target, req.Confirmation)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if target.BatchID != "" && report.NotFound == report.Checked && report.Checked > 0 {
		writeError(w, http.StatusNotFound, "not_found", "batch not found")
		return
	}
	writeRepairReport(w, report)
}

// BatchAuditLog pages through the audit entries recorded for a batch
func (h *AdminBatchHandler) BatchAuditLog(w http.ResponseWriter, r *http.Request) {
	batchID, ok := uuidParam(w, r, "batchID")
	if !ok {
		return
	}

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}

	logs, total, err := h.auditLogs.GetAuditLogsByTarget(r.Context(), models.AuditTargetBatch, batchID, page, limit)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"batch_id": batchID,
		"page":     page,
		"limit":    limit,
		"total":    total,
		"entries":  logs,
	})
}

func writeRepairReport(w http.ResponseWriter, report *services.RepairReport) {
	summary := report.Summary()

	status := http.StatusOK
	switch summary {
	case services.SummaryPartialFailure:
		status = http.StatusMultiStatus
	case services.SummaryFailed:
		status = http.StatusBadGateway
	}

	writeJSON(w, status, RepairResponse{Summary: summary, Report: report})
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	value, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || value < 1 {
		return defaultValue
	}
	return value
}
