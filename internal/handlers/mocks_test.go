package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ticket-batch-platform/internal/models"
	"ticket-batch-platform/internal/services"
)

const (
	testEventID = "4f1c2b7e-8a51-4d0c-9a44-2f6f0d0b9c11"
	testBatchID = "9b2e6a1d-3c7f-4e85-b0d2-51a8c6f4e7a3"
)

// MockBatchService is a mock implementation of BatchServiceInterface
type MockBatchService struct {
	mock.Mock
}

func (m *MockBatchService) ListEventBatches(ctx context.Context, eventID string) ([]*services.BatchView, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*services.BatchView), args.Error(1)
}

func (m *MockBatchService) GetBatch(ctx context.Context, id string) (*services.BatchView, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.BatchView), args.Error(1)
}

func (m *MockBatchService) CreateBatch(ctx context.Context, req *models.BatchCreateRequest) (*services.BatchView, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.BatchView), args.Error(1)
}

func (m *MockBatchService) UpdateBatch(ctx context.Context, id string, req *models.BatchUpdateRequest) (*services.BatchView, error) {
	args := m.Called(ctx, id, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.BatchView), args.Error(1)
}

func (m *MockBatchService) CheckPurchasable(ctx context.Context, batchID string, quantity int) (*models.Batch, error) {
	args := m.Called(ctx, batchID, quantity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Batch), args.Error(1)
}

func (m *MockBatchService) ReserveTickets(ctx context.Context, batchID string, quantity int) (*services.BatchView, error) {
	args := m.Called(ctx, batchID, quantity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.BatchView), args.Error(1)
}

// MockDiagnosisService is a mock implementation of BatchDiagnosisServiceInterface
type MockDiagnosisService struct {
	mock.Mock
}

func (m *MockDiagnosisService) DiagnoseEvent(ctx context.Context, eventID string) (*services.DiagnosisReport, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.DiagnosisReport), args.Error(1)
}

func (m *MockDiagnosisService) DiagnoseEventFresh(ctx context.Context, eventID string) (*services.DiagnosisReport, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.DiagnosisReport), args.Error(1)
}

func (m *MockDiagnosisService) DebugBatch(ctx context.Context, batchID string) (*models.BatchDebugInfo, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BatchDebugInfo), args.Error(1)
}

// MockReconciler is a mock implementation of BatchReconcilerInterface
type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) FixSingleBatchStatus(ctx context.Context, batchID string) *services.RepairOutcome {
	args := m.Called(ctx, batchID)
	return args.Get(0).(*services.RepairOutcome)
}

func (m *MockReconciler) FixAllBatchesForEvent(ctx context.Context, eventID string) (*services.RepairReport, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.RepairReport), args.Error(1)
}

func (m *MockReconciler) FixAvailableTickets(ctx context.Context, target services.RepairTarget, confirmation string) (*services.RepairReport, error) {
	args := m.Called(ctx, target, confirmation)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.RepairReport), args.Error(1)
}

// MockAuditLogReader is a mock implementation of AuditLogReader
type MockAuditLogReader struct {
	mock.Mock
}

func (m *MockAuditLogReader) GetAuditLogsByTarget(ctx context.Context, targetType, targetID string, page, limit int) ([]*models.AuditLog, int, error) {
	args := m.Called(ctx, targetType, targetID, page, limit)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*models.AuditLog), args.Int(1), args.Error(2)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func boolPtr(v bool) *bool { return &v }

func serve(t *testing.T, router chi.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}
