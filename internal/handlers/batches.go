package handlers

import (
	"log/slog"
	"net/http"

	"ticket-batch-platform/internal/services"
)

// BatchHandler serves the public batch read path and ticket reservations
type BatchHandler struct {
	batchService services.BatchServiceInterface
	logger       *slog.Logger
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(batchService services.BatchServiceInterface, logger *slog.Logger) *BatchHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchHandler{
		batchService: batchService,
		logger:       logger,
	}
}

// ReserveRequest is the body of a reservation
type ReserveRequest struct {
	Quantity int `json:"quantity"`
}

// ListEventBatches returns the visible batches of an event with their
// computed status
func (h *BatchHandler) ListEventBatches(w http.ResponseWriter, r *http.Request) {
	eventID, ok := uuidParam(w, r, "eventID")
	if !ok {
		return
	}

	views, err := h.batchService.ListEventBatches(r.Context(), eventID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	visible := make([]*services.BatchView, 0, len(views))
	for _, v := range views {
		if v.Visible() {
			visible = append(visible, v)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_id": eventID,
		"batches":  visible,
	})
}

// GetBatch returns one batch; hidden batches are reported as not found
func (h *BatchHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := uuidParam(w, r, "batchID")
	if !ok {
		return
	}

	view, err := h.batchService.GetBatch(r.Context(), batchID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if !view.Visible() {
		writeError(w, http.StatusNotFound, "not_found", "batch not found")
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// ReserveTickets takes tickets from a batch that is on sale
func (h *BatchHandler) ReserveTickets(w http.ResponseWriter, r *http.Request) {
	batchID, ok := uuidParam(w, r, "batchID")
	if !ok {
		return
	}

	var req ReserveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	view, err := h.batchService.ReserveTickets(r.Context(), batchID, req.Quantity)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("tickets reserved", "batch_id", batchID, "quantity", req.Quantity, "remaining", view.AvailableTickets)
	writeJSON(w, http.StatusOK, view)
}
