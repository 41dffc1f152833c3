package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/invoice-matcher/internal/application/gate"
	"github.com/garyjia/invoice-matcher/internal/application/port"
	"github.com/garyjia/invoice-matcher/internal/clock"
	"github.com/garyjia/invoice-matcher/internal/domain/entity"
	"github.com/garyjia/invoice-matcher/internal/domain/event"
	"github.com/garyjia/invoice-matcher/internal/domain/workflow"
	"github.com/garyjia/invoice-matcher/internal/infrastructure/persistence/repository"
	"github.com/garyjia/invoice-matcher/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/invoice-matcher/pkg/database"
	"github.com/garyjia/invoice-matcher/pkg/utils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	testNow = time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)

	pdfBytes  = []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n1 0 obj\n")
	jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0x01}
	pngBytes  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D, 'I', 'H', 'D', 'R'}
)

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }
func int64Ptr(v int64) *int64       { return &v }

// mockExtractor is a testify mock of port.Extractor
type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, data []byte, mediaType, fileName string) (*port.ExtractionResult, error) {
	args := m.Called(ctx, data, mediaType, fileName)
	res, _ := args.Get(0).(*port.ExtractionResult)
	return res, args.Error(1)
}

// mockNotifier is a testify mock of port.Notifier
type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, title, body string) error {
	return m.Called(ctx, title, body).Error(0)
}

// memBlobStore keeps blobs in memory
type memBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	deleted []string
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{objects: map[string][]byte{}}
}

func (s *memBlobStore) Put(ctx context.Context, key string, data []byte, mediaType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.objects[key] = data
	return nil
}

func (s *memBlobStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *memBlobStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://blobs.test/%s?ttl=%d", key, int(ttl.Seconds())), nil
}

func (s *memBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, port.ErrBlobNotFound
	}
	return data, nil
}

func (s *memBlobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// recordingPublisher keeps dispatched events in order
type recordingPublisher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (p *recordingPublisher) DispatchAsync(ctx context.Context, evt *event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) Types() []event.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]event.Type, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

// faultyInvoices injects failures into selected invoice repository calls
type faultyInvoices struct {
	port.InvoiceRepository
	createErr         error
	failCompletedOnce bool
}

func (f *faultyInvoices) Create(ctx context.Context, rec *entity.InvoiceRecord) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.InvoiceRepository.Create(ctx, rec)
}

func (f *faultyInvoices) ApplyOutcome(ctx context.Context, id int64, o entity.ExtractionOutcome) error {
	if f.failCompletedOnce && o.Status == "COMPLETED" {
		f.failCompletedOnce = false
		return errors.New("disk I/O error")
	}
	return f.InvoiceRepository.ApplyOutcome(ctx, id, o)
}

type harness struct {
	db        *sqlite.DB
	invoices  *repository.InvoiceRepository
	usage     *repository.UsageRepository
	ledger    *repository.LedgerEntryRepository
	audit     *repository.AuditRepository
	settings  *repository.SettingsRepository
	blobs     *memBlobStore
	extractor *mockExtractor
	clock     *clock.Fake
	events    *recordingPublisher
	logger    Logger

	budget  *BudgetService
	matcher *MatchService
	ingest  *IngestService
	svc     *InvoiceService
}

type harnessOption func(*harness, *IngestDependencies)

func newHarness(t *testing.T, budgetCents int64, opts ...harnessOption) *harness {
	t.Helper()

	raw, err := database.NewMemory(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	db := sqlite.NewDB(raw.DB, zap.NewNop())

	h := &harness{
		db:        db,
		invoices:  repository.NewInvoiceRepository(db, zap.NewNop()),
		usage:     repository.NewUsageRepository(db, zap.NewNop()),
		ledger:    repository.NewLedgerEntryRepository(db, zap.NewNop()),
		audit:     repository.NewAuditRepository(db, zap.NewNop()),
		settings:  repository.NewSettingsRepository(db, zap.NewNop()),
		blobs:     newMemBlobStore(),
		extractor: &mockExtractor{},
		clock:     clock.NewFake(testNow),
		events:    &recordingPublisher{},
		logger:    utils.NewSugaredLogger(zap.NewNop()),
	}

	h.budget = NewBudgetService(h.usage, h.settings, h.clock,
		BudgetConfig{MonthlyBudgetCents: budgetCents, AlertThresholdPercent: 80}, h.logger)
	h.matcher = NewMatchService(h.ledger, DefaultMatchLimit, h.logger)

	deps := IngestDependencies{
		Invoices:  h.invoices,
		Usage:     h.usage,
		Blobs:     h.blobs,
		Extractor: h.extractor,
		Tx:        db,
		Budget:    h.budget,
		Matcher:   h.matcher,
		Cost:      NewCostEstimator(250, 1000),
		Gate:      gate.New(),
		Clock:     h.clock,
		Events:    h.events,
		Logger:    h.logger,
	}
	for _, opt := range opts {
		opt(h, &deps)
	}

	h.ingest = NewIngestService(deps, IngestConfig{MaxBatchFiles: DefaultMaxBatchFiles, MaxFileBytes: 1 << 20})
	h.svc = NewInvoiceService(deps.Invoices, h.ledger, h.blobs, db, h.matcher, h.events, time.Hour, h.logger)
	return h
}

// extractionResult builds a reply costing 3 cents with the default rates
func extractionResult(amount float64, date, vendor string) *port.ExtractionResult {
	return &port.ExtractionResult{
		Amount:    floatPtr(amount),
		Date:      strPtr(date),
		Vendor:    strPtr(vendor),
		TokensIn:  10000,
		TokensOut: 100,
		RawText:   fmt.Sprintf(`{"amount": %v, "date": %q, "vendor": %q}`, amount, date, vendor),
		Model:     "gpt-4o",
	}
}

func (h *harness) addEntry(t *testing.T, amountCents int64, date, description string) *entity.LedgerEntry {
	t.Helper()
	e := &entity.LedgerEntry{AmountCents: amountCents, EntryDate: date, Description: description}
	require.NoError(t, h.ledger.Create(context.Background(), e))
	return e
}

func (h *harness) spend(t *testing.T, cents int64, at time.Time) {
	t.Helper()
	require.NoError(t, h.usage.Record(context.Background(), &entity.UsageLogEntry{
		UserID:    "seed",
		CostCents: cents,
		Model:     "gpt-4o",
		CreatedAt: at,
	}))
}

func (h *harness) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, h.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func noFieldsResult() *port.ExtractionResult {
	return &port.ExtractionResult{
		TokensIn:  10000,
		TokensOut: 100,
		RawText:   "I cannot read this",
		Model:     "gpt-4o",
	}
}

// seedInvoice stores a record and moves it to status with the given fields
func (h *harness) seedInvoice(t *testing.T, status workflow.State, fields entity.ExtractedFields) *entity.InvoiceRecord {
	t.Helper()
	ctx := context.Background()
	rec := &entity.InvoiceRecord{
		StorageKey: fmt.Sprintf("invoices/orphan/%d-seed.pdf", time.Now().UnixNano()),
		FileName:   "seed.pdf",
		MediaType:  entity.MediaTypePDF,
		FileSize:   int64(len(pdfBytes)),
		UploadedBy: "ana",
	}
	require.NoError(t, h.invoices.Create(ctx, rec))
	require.NoError(t, h.blobs.Put(ctx, rec.StorageKey, pdfBytes, rec.MediaType))

	if status != workflow.StatePending {
		outcome := entity.ExtractionOutcome{Status: status, Fields: fields}
		if status != workflow.StateBudgetExceeded {
			outcome.Ran = true
			outcome.CostCents = 3
			outcome.Model = "gpt-4o"
		}
		require.NoError(t, h.invoices.ApplyOutcome(ctx, rec.ID, outcome))
	}

	stored, err := h.invoices.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	return stored
}
