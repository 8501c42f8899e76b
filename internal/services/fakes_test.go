package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"ticket-batch-platform/internal/models"
	"ticket-batch-platform/internal/queue"
)

// Mock implementations for testing

type mockBatchStore struct {
	mu            sync.Mutex
	batches       map[string]*models.Batch
	order         []string
	listSnapshot  []*models.Batch
	updates       map[string][]models.BatchFieldUpdate
	shouldFailOps map[string]bool
	failUpdateFor map[string]bool
	onGet         func(id string)
}

func newMockBatchStore(batches ...*models.Batch) *mockBatchStore {
	s := &mockBatchStore{
		batches:       make(map[string]*models.Batch),
		updates:       make(map[string][]models.BatchFieldUpdate),
		shouldFailOps: make(map[string]bool),
		failUpdateFor: make(map[string]bool),
	}
	for _, b := range batches {
		s.put(b)
	}
	return s
}

func (m *mockBatchStore) put(b *models.Batch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.batches[b.ID]; !exists {
		m.order = append(m.order, b.ID)
	}
	clone := *b
	m.batches[b.ID] = &clone
}

func (m *mockBatchStore) get(id string) *models.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *m.batches[id]
	return &clone
}

func (m *mockBatchStore) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.updates {
		n += len(u)
	}
	return n
}

func (m *mockBatchStore) GetBatch(_ context.Context, id string) (*models.Batch, error) {
	if m.onGet != nil {
		m.onGet(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFailOps["GetBatch"] {
		return nil, errors.New("mock error")
	}
	b, exists := m.batches[id]
	if !exists {
		return nil, models.ErrBatchNotFound
	}
	clone := *b
	return &clone, nil
}

func (m *mockBatchStore) ListBatches(_ context.Context, eventID string) ([]*models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFailOps["ListBatches"] {
		return nil, errors.New("mock error")
	}
	if m.listSnapshot != nil {
		return m.listSnapshot, nil
	}
	var result []*models.Batch
	for _, id := range m.order {
		if b := m.batches[id]; b.EventID == eventID {
			clone := *b
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (m *mockBatchStore) UpdateBatchFields(_ context.Context, id string, fields models.BatchFieldUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFailOps["UpdateBatchFields"] || m.failUpdateFor[id] {
		return errors.New("mock write error")
	}
	if fields.IsEmpty() {
		return models.ErrEmptyUpdate
	}
	b, exists := m.batches[id]
	if !exists {
		return models.ErrBatchNotFound
	}
	m.batches[id] = fields.ApplyTo(b)
	m.updates[id] = append(m.updates[id], fields)
	return nil
}

func (m *mockBatchStore) CreateBatch(_ context.Context, batch *models.Batch) error {
	if m.shouldFailOps["CreateBatch"] {
		return errors.New("mock error")
	}
	m.put(batch)
	return nil
}

func (m *mockBatchStore) DecrementAvailable(_ context.Context, id string, quantity int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFailOps["DecrementAvailable"] {
		return 0, errors.New("mock error")
	}
	b, exists := m.batches[id]
	if !exists {
		return 0, models.ErrBatchNotFound
	}
	if b.AvailableTickets < quantity {
		return 0, models.ErrInsufficientTickets
	}
	b.AvailableTickets -= quantity
	return b.AvailableTickets, nil
}

// MockNotifier is a mock implementation of RepairNotifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) PublishBatchRepaired(ctx context.Context, event queue.BatchRepairedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// MockAuditRecorder is a mock implementation of AuditRecorder
type MockAuditRecorder struct {
	mock.Mock
}

func (m *MockAuditRecorder) LogAction(ctx context.Context, entry AuditEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

// MockDiagnosisCache is a mock implementation of DiagnosisCache
type MockDiagnosisCache struct {
	mock.Mock
}

func (m *MockDiagnosisCache) Get(ctx context.Context, eventID string) (*DiagnosisReport, bool) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).(*DiagnosisReport), args.Bool(1)
}

func (m *MockDiagnosisCache) Set(ctx context.Context, eventID string, report *DiagnosisReport) {
	m.Called(ctx, eventID, report)
}

func (m *MockDiagnosisCache) Invalidate(ctx context.Context, eventID string) {
	m.Called(ctx, eventID)
}

var testNow = time.Date(2026, 6, 15, 18, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func boolPtr(v bool) *bool { return &v }

func strPtr(s string) *string { return &s }

func rfc(t time.Time) string { return t.Format(time.RFC3339) }

// soldOutButActive started yesterday, has no tickets left and is still
// stored as active
func soldOutButActive(id, eventID string) *models.Batch {
	return &models.Batch{
		ID:               id,
		EventID:          eventID,
		Title:            "1st lot",
		IsVisible:        boolPtr(true),
		StartDate:        rfc(testNow.Add(-24 * time.Hour)),
		AvailableTickets: 0,
		TotalTickets:     100,
		Status:           models.BatchActive,
	}
}

func healthyActive(id, eventID string) *models.Batch {
	return &models.Batch{
		ID:               id,
		EventID:          eventID,
		Title:            "2nd lot",
		StartDate:        rfc(testNow.Add(-time.Hour)),
		EndDate:          strPtr(rfc(testNow.Add(48 * time.Hour))),
		AvailableTickets: 20,
		TotalTickets:     50,
		Status:           models.BatchActive,
	}
}

func endedButActive(id, eventID string) *models.Batch {
	return &models.Batch{
		ID:               id,
		EventID:          eventID,
		Title:            "Early bird",
		StartDate:        rfc(testNow.Add(-72 * time.Hour)),
		EndDate:          strPtr(rfc(testNow.Add(-24 * time.Hour))),
		AvailableTickets: 5,
		TotalTickets:     50,
		Status:           models.BatchActive,
	}
}
