package services

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"ticket-batch-platform/internal/models"
)

// Actor identifies who triggered an administrative action
type Actor struct {
	UserID    string
	IPAddress string
	UserAgent string
}

type actorKey struct{}

// WithActor attaches the acting administrator to ctx
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor attached to ctx, if any
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}

// ActorFromRequest builds an actor from the request's client address and
// user agent
func ActorFromRequest(userID string, r *http.Request) Actor {
	return Actor{
		UserID:    userID,
		IPAddress: getClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// AuditEntry is a single administrative action to record
type AuditEntry struct {
	Action     string
	TargetType string
	TargetID   string
	Details    interface{}
}

// AuditService handles audit logging operations
type AuditService struct {
	auditRepo AuditLogRepository
}

// NewAuditService creates a new audit service
func NewAuditService(auditRepo AuditLogRepository) *AuditService {
	return &AuditService{
		auditRepo: auditRepo,
	}
}

// LogAction logs an administrative action on behalf of the actor in ctx
func (s *AuditService) LogAction(ctx context.Context, entry AuditEntry) error {
	var detailsJSON json.RawMessage
	if entry.Details != nil {
		detailsBytes, err := json.Marshal(entry.Details)
		if err != nil {
			return err
		}
		detailsJSON = detailsBytes
	}

	actor, _ := ActorFromContext(ctx)
	req := &models.AuditLogCreateRequest{
		AdminUserID: actor.UserID,
		Action:      entry.Action,
		TargetType:  entry.TargetType,
		TargetID:    entry.TargetID,
		Details:     detailsJSON,
		IPAddress:   actor.IPAddress,
		UserAgent:   actor.UserAgent,
	}

	_, err := s.auditRepo.Create(ctx, req)
	return err
}

// GetAuditLogsByTarget retrieves audit logs for a specific target
func (s *AuditService) GetAuditLogsByTarget(ctx context.Context, targetType, targetID string, page, limit int) ([]*models.AuditLog, int, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit
	return s.auditRepo.GetByTarget(ctx, targetType, targetID, limit, offset)
}

// getClientIP prefers the first X-Forwarded-For hop, then X-Real-IP
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
