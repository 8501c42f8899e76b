package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ticket-batch-platform/internal/middleware"
	"ticket-batch-platform/internal/models"
	"ticket-batch-platform/internal/services"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the JSON body of every error reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// writeServiceError maps domain errors to HTTP responses. Unknown errors
// are logged and reported as 500 without their details.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, models.ErrBatchNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrEmptyUpdate):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, models.ErrConfirmationRequired):
		writeError(w, http.StatusPreconditionRequired, "confirmation_required",
			`send {"confirmation": "`+models.ResetAvailabilityConfirmation+`"} to confirm`)
	case errors.Is(err, models.ErrBatchNotPurchasable):
		writeError(w, http.StatusConflict, "not_purchasable", err.Error())
	case errors.Is(err, models.ErrInsufficientTickets):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_tickets", err.Error())
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// uuidParam reads a UUID route parameter, answering 400 when it is malformed
func uuidParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid "+name)
		return "", false
	}
	return id.String(), true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// AuditActor attaches the authenticated user and client address to the
// request context so the services can attribute audit entries
func AuditActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := services.ActorFromRequest(middleware.UserIDFromContext(r.Context()), r)
		next.ServeHTTP(w, r.WithContext(services.WithActor(r.Context(), actor)))
	})
}
