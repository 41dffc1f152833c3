package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/invoice-matcher/internal/application/service"
	"github.com/garyjia/invoice-matcher/internal/domain/entity"
	"github.com/garyjia/invoice-matcher/internal/domain/workflow"
	"github.com/garyjia/invoice-matcher/internal/infrastructure/storage"
	"github.com/garyjia/invoice-matcher/pkg/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockIngester struct{ mock.Mock }

func (m *mockIngester) IngestBatch(ctx context.Context, userID string, files []service.UploadFile) (*service.BatchResult, error) {
	args := m.Called(ctx, userID, files)
	if r := args.Get(0); r != nil {
		return r.(*service.BatchResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockInvoices struct{ mock.Mock }

func (m *mockInvoices) Get(ctx context.Context, id int64) (*entity.InvoiceRecord, error) {
	args := m.Called(ctx, id)
	if r := args.Get(0); r != nil {
		return r.(*entity.InvoiceRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockInvoices) Matches(ctx context.Context, id int64, limit int) ([]entity.MatchSuggestion, error) {
	args := m.Called(ctx, id, limit)
	s, _ := args.Get(0).([]entity.MatchSuggestion)
	return s, args.Error(1)
}

func (m *mockInvoices) Correct(ctx context.Context, userID string, id int64, c service.Correction) (*entity.InvoiceRecord, []entity.MatchSuggestion, error) {
	args := m.Called(ctx, userID, id, c)
	r, _ := args.Get(0).(*entity.InvoiceRecord)
	s, _ := args.Get(1).([]entity.MatchSuggestion)
	return r, s, args.Error(2)
}

func (m *mockInvoices) Link(ctx context.Context, userID string, id, ledgerEntryID int64) (*entity.InvoiceRecord, error) {
	args := m.Called(ctx, userID, id, ledgerEntryID)
	r, _ := args.Get(0).(*entity.InvoiceRecord)
	return r, args.Error(1)
}

func (m *mockInvoices) Remove(ctx context.Context, userID string, id int64) error {
	return m.Called(ctx, userID, id).Error(0)
}

func (m *mockInvoices) DownloadURL(ctx context.Context, id int64) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

type mockBudget struct{ mock.Mock }

func (m *mockBudget) CheckBudget(ctx context.Context) (entity.BudgetSnapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(entity.BudgetSnapshot), args.Error(1)
}

func (m *mockBudget) Settings(ctx context.Context) (entity.ExtractionSettings, error) {
	args := m.Called(ctx)
	return args.Get(0).(entity.ExtractionSettings), args.Error(1)
}

func (m *mockBudget) UpdateSettings(ctx context.Context, s entity.ExtractionSettings) error {
	return m.Called(ctx, s).Error(0)
}

type mockReporter struct{ mock.Mock }

func (m *mockReporter) UsageReportXLSX(ctx context.Context, monthStart time.Time) ([]byte, error) {
	args := m.Called(ctx, monthStart)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

type testServer struct {
	ingest   *mockIngester
	invoices *mockInvoices
	budget   *mockBudget
	reports  *mockReporter
	router   *gin.Engine
}

func newTestServer(t *testing.T, blobs BlobServer) *testServer {
	t.Helper()
	ts := &testServer{
		ingest:   &mockIngester{},
		invoices: &mockInvoices{},
		budget:   &mockBudget{},
		reports:  &mockReporter{},
	}
	cfg := DefaultServerConfig()
	cfg.MaxBatchFiles = 3
	cfg.MaxFileBytes = 1024

	server := NewServer(cfg, Services{
		Ingest:   ts.ingest,
		Invoices: ts.invoices,
		Budget:   ts.budget,
		Reports:  ts.reports,
		Blobs:    blobs,
		Metrics:  http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
	}, utils.NewSugaredLogger(zap.NewNop()))
	ts.router = server.Router()

	t.Cleanup(func() {
		ts.ingest.AssertExpectations(t)
		ts.invoices.AssertExpectations(t)
		ts.budget.AssertExpectations(t)
		ts.reports.AssertExpectations(t)
	})
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(UserIDHeader, "ana")
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

type part struct {
	name, contentType string
	data              []byte
}

func multipartRequest(t *testing.T, parts ...part) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, p.name))
		h.Set("Content-Type", p.contentType)
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/invoices/bulk", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(UserIDHeader, "ana")
	return req
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode(t, w).Success)
}

func TestMetricsRoute(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "# metrics", w.Body.String())
}

func TestBulkUpload_PassesFilesInOrder(t *testing.T) {
	ts := newTestServer(t, nil)

	result := &service.BatchResult{
		Outcomes: []service.FileOutcome{
			{FileName: "a.pdf", Kind: service.OutcomeCompleted},
			{FileName: "b.png", Kind: service.OutcomeInvalid, Error: "unsupported"},
		},
		Budget: entity.NewBudgetSnapshot(3, 1000, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)),
	}
	ts.ingest.On("IngestBatch", mock.Anything, "ana", mock.MatchedBy(func(files []service.UploadFile) bool {
		return len(files) == 2 &&
			files[0].FileName == "a.pdf" && files[0].MediaType == "application/pdf" && string(files[0].Data) == "%PDF-a" &&
			files[1].FileName == "b.png" && files[1].MediaType == "image/png"
	})).Return(result, nil).Once()

	w := ts.do(multipartRequest(t,
		part{"a.pdf", "application/pdf", []byte("%PDF-a")},
		part{"b.png", "image/png; charset=binary", []byte("png")},
	))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data struct {
			Outcomes []struct {
				FileName string `json:"file_name"`
				Outcome  string `json:"outcome"`
			} `json:"outcomes"`
			Budget struct {
				Allowed    bool  `json:"allowed"`
				SpentCents int64 `json:"spent_cents"`
			} `json:"budget"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data.Outcomes, 2)
	assert.Equal(t, "COMPLETED", body.Data.Outcomes[0].Outcome)
	assert.Equal(t, "INVALID", body.Data.Outcomes[1].Outcome)
	assert.True(t, body.Data.Budget.Allowed)
	assert.Equal(t, int64(3), body.Data.Budget.SpentCents)
}

func TestBulkUpload_OversizedFileIsTruncatedForService(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.ingest.On("IngestBatch", mock.Anything, "ana", mock.MatchedBy(func(files []service.UploadFile) bool {
		return len(files) == 1 && len(files[0].Data) == 1025
	})).Return(&service.BatchResult{Outcomes: []service.FileOutcome{{Kind: service.OutcomeInvalid}}}, nil).Once()

	w := ts.do(multipartRequest(t, part{"big.pdf", "application/pdf", bytes.Repeat([]byte("x"), 4096)}))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBulkUpload_Rejections(t *testing.T) {
	ts := newTestServer(t, nil)

	t.Run("missing user", func(t *testing.T) {
		req := multipartRequest(t, part{"a.pdf", "application/pdf", []byte("%PDF")})
		req.Header.Del(UserIDHeader)
		assert.Equal(t, http.StatusBadRequest, ts.do(req).Code)
	})

	t.Run("not multipart", func(t *testing.T) {
		w := ts.do(jsonRequest(http.MethodPost, "/api/invoices/bulk", `{}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("too many files", func(t *testing.T) {
		p := part{"a.pdf", "application/pdf", []byte("%PDF")}
		w := ts.do(multipartRequest(t, p, p, p, p))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode(t, w).Error, "too many files")
	})

	t.Run("empty batch rejected by service", func(t *testing.T) {
		ts.ingest.On("IngestBatch", mock.Anything, "ana", mock.Anything).
			Return(nil, &service.ValidationError{Field: "files", Message: "at least one file is required"}).Once()
		w := ts.do(multipartRequest(t))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "files: at least one file is required", decode(t, w).Error)
	})
}

func TestGetInvoice(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.invoices.On("Get", mock.Anything, int64(7)).
		Return(&entity.InvoiceRecord{ID: 7, OCRStatus: workflow.StateCompleted}, nil).Once()
	ts.invoices.On("Get", mock.Anything, int64(8)).
		Return(nil, fmt.Errorf("invoice 8: %w", service.ErrNotFound)).Once()

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/invoices/7", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ocr_status":"COMPLETED"`)

	assert.Equal(t, http.StatusNotFound, ts.do(httptest.NewRequest(http.MethodGet, "/api/invoices/8", nil)).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(httptest.NewRequest(http.MethodGet, "/api/invoices/abc", nil)).Code)
}

func TestGetMatches(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.invoices.On("Matches", mock.Anything, int64(3), 2).
		Return([]entity.MatchSuggestion{{LedgerEntryID: 11, Score: 88}}, nil).Once()

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/invoices/3/matches?limit=2", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ledger_entry_id":11`)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/invoices/3/matches?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCorrectExtraction(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.invoices.On("Correct", mock.Anything, "ana", int64(5), mock.MatchedBy(func(c service.Correction) bool {
		return c.Amount != nil && *c.Amount == 42.5 && c.Vendor != nil && *c.Vendor == "Acme" && c.Date == nil
	})).Return(&entity.InvoiceRecord{ID: 5}, []entity.MatchSuggestion{{LedgerEntryID: 2, Score: 70}}, nil).Once()

	w := ts.do(jsonRequest(http.MethodPut, "/api/invoices/5/extraction", `{"amount": 42.5, "vendor": "Acme"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"suggestions":[{"ledger_entry_id":2`)
}

func TestCorrectExtraction_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &service.ValidationError{Field: "date", Message: "must be YYYY-MM-DD"}, http.StatusBadRequest},
		{"missing", fmt.Errorf("invoice 5: %w", service.ErrNotFound), http.StatusNotFound},
		{"linked", fmt.Errorf("invoice 5: %w", service.ErrAlreadyLinked), http.StatusConflict},
		{"pending", fmt.Errorf("invoice 5: %w", service.ErrExtractionBusy), http.StatusConflict},
		{"database", fmt.Errorf("%w: boom", service.ErrPersistence), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.invoices.On("Correct", mock.Anything, "ana", int64(5), mock.Anything).Return(nil, nil, tt.err).Once()

			w := ts.do(jsonRequest(http.MethodPut, "/api/invoices/5/extraction", `{"date": "2026-13-01"}`))
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusInternalServerError {
				assert.NotContains(t, decode(t, w).Error, "boom")
			}
		})
	}

	ts := newTestServer(t, nil)
	w := ts.do(jsonRequest(http.MethodPut, "/api/invoices/5/extraction", `{"amount": "lots"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLinkInvoice(t *testing.T) {
	ts := newTestServer(t, nil)
	entryID := int64(9)
	ts.invoices.On("Link", mock.Anything, "ana", int64(4), int64(9)).
		Return(&entity.InvoiceRecord{ID: 4, LedgerEntryID: &entryID}, nil).Once()
	ts.invoices.On("Link", mock.Anything, "ana", int64(4), int64(10)).
		Return(nil, fmt.Errorf("invoice 4: %w", service.ErrNotLinkable)).Once()

	w := ts.do(jsonRequest(http.MethodPost, "/api/invoices/4/link", `{"ledger_entry_id": 9}`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ledger_entry_id":9`)

	w = ts.do(jsonRequest(http.MethodPost, "/api/invoices/4/link", `{"ledger_entry_id": 10}`))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(jsonRequest(http.MethodPost, "/api/invoices/4/link", `{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteInvoice(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.invoices.On("Remove", mock.Anything, "ana", int64(6)).Return(nil).Once()
	ts.invoices.On("Remove", mock.Anything, "ana", int64(7)).Return(fmt.Errorf("invoice 7: %w", service.ErrNotFound)).Once()

	assert.Equal(t, http.StatusNoContent, ts.do(jsonRequest(http.MethodDelete, "/api/invoices/6", "")).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(jsonRequest(http.MethodDelete, "/api/invoices/7", "")).Code)
}

func TestGetDownloadURL(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.invoices.On("DownloadURL", mock.Anything, int64(2)).Return("https://example.test/blob?sig=x", nil).Once()
	ts.invoices.On("DownloadURL", mock.Anything, int64(3)).Return("", fmt.Errorf("%w: signer down", service.ErrStorage)).Once()

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/invoices/2/download", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "https://example.test/blob?sig=x")

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/invoices/3/download", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestBudgetAndSettings(t *testing.T) {
	ts := newTestServer(t, nil)
	periodStart := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	ts.budget.On("CheckBudget", mock.Anything).Return(entity.NewBudgetSnapshot(1000, 1000, periodStart), nil).Once()

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/budget", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"allowed":false`)
	assert.Contains(t, w.Body.String(), `"remaining_cents":0`)

	budget := int64(2000)
	settings := entity.ExtractionSettings{MonthlyBudgetCents: &budget}
	ts.budget.On("UpdateSettings", mock.Anything, settings).Return(nil).Once()
	ts.budget.On("CheckBudget", mock.Anything).Return(entity.NewBudgetSnapshot(1000, 2000, periodStart), nil).Once()

	w = ts.do(jsonRequest(http.MethodPut, "/api/settings/extraction", `{"monthly_budget_cents": 2000}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"allowed":true`)

	bad := entity.ExtractionSettings{AlertThresholdPercent: 150}
	ts.budget.On("UpdateSettings", mock.Anything, bad).
		Return(&service.ValidationError{Field: "settings", Message: "alert_threshold_percent must be between 0 and 100"}).Once()
	w = ts.do(jsonRequest(http.MethodPut, "/api/settings/extraction", `{"alert_threshold_percent": 150}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ts.budget.On("Settings", mock.Anything).Return(settings, nil).Once()
	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/settings/extraction", nil))
	assert.Contains(t, w.Body.String(), `"monthly_budget_cents":2000`)
}

func TestUsageReport(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.reports.On("UsageReportXLSX", mock.Anything, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)).
		Return([]byte("PK-xlsx"), nil).Once()

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/usage/report?month=2026-01", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "extraction-usage-2026-01.xlsx")
	assert.Equal(t, "PK-xlsx", w.Body.String())

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/usage/report?month=January", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServeBlob(t *testing.T) {
	store, err := storage.NewLocalBlobStore(t.TempDir(), "0123456789abcdef", "http://files.test", zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()
	key := "invoices/orphan/1700000000000-abcd1234-receipt.pdf"
	require.NoError(t, store.Put(ctx, key, []byte("%PDF-1.7"), "application/pdf"))

	ts := newTestServer(t, store)

	signed, err := store.SignedURL(ctx, key, time.Hour)
	require.NoError(t, err)
	target := strings.TrimPrefix(signed, "http://files.test")

	w := ts.do(httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.7", w.Body.String())

	tampered := strings.Replace(target, "receipt.pdf", "other.pdf", 1)
	assert.Equal(t, http.StatusForbidden, ts.do(httptest.NewRequest(http.MethodGet, tampered, nil)).Code)

	expired, err := store.SignedURL(ctx, key, -time.Minute)
	require.NoError(t, err)
	w = ts.do(httptest.NewRequest(http.MethodGet, strings.TrimPrefix(expired, "http://files.test"), nil))
	assert.Equal(t, http.StatusGone, w.Code)

	require.NoError(t, store.Delete(ctx, key))
	w = ts.do(httptest.NewRequest(http.MethodGet, target, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("unknown")))
	assert.Equal(t, http.StatusBadGateway, statusFor(fmt.Errorf("%w: timeout", service.ErrExtractionTransport)))
	assert.Equal(t, http.StatusConflict, statusFor(fmt.Errorf("invoice 1: %w", service.ErrAlreadyLinked)))
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(httptest.NewRequest(http.MethodOptions, "/api/invoices/bulk", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), UserIDHeader)
}
