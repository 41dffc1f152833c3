package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/invoice-matcher/internal/application/port"
	"github.com/garyjia/invoice-matcher/internal/application/service"
	"github.com/garyjia/invoice-matcher/internal/domain/entity"
	"github.com/garyjia/invoice-matcher/internal/infrastructure/storage"
	"github.com/garyjia/invoice-matcher/pkg/utils"
)

// Ingester runs bulk uploads
type Ingester interface {
	IngestBatch(ctx context.Context, userID string, files []service.UploadFile) (*service.BatchResult, error)
}

// InvoiceOperations are the single-invoice operations
type InvoiceOperations interface {
	Get(ctx context.Context, id int64) (*entity.InvoiceRecord, error)
	Matches(ctx context.Context, id int64, limit int) ([]entity.MatchSuggestion, error)
	Correct(ctx context.Context, userID string, id int64, c service.Correction) (*entity.InvoiceRecord, []entity.MatchSuggestion, error)
	Link(ctx context.Context, userID string, id, ledgerEntryID int64) (*entity.InvoiceRecord, error)
	Remove(ctx context.Context, userID string, id int64) error
	DownloadURL(ctx context.Context, id int64) (string, error)
}

// BudgetOperations expose the extraction budget
type BudgetOperations interface {
	CheckBudget(ctx context.Context) (entity.BudgetSnapshot, error)
	Settings(ctx context.Context) (entity.ExtractionSettings, error)
	UpdateSettings(ctx context.Context, settings entity.ExtractionSettings) error
}

// UsageReporter builds the monthly usage workbook
type UsageReporter interface {
	UsageReportXLSX(ctx context.Context, monthStart time.Time) ([]byte, error)
}

// BlobServer serves locally stored blobs behind signed URLs
type BlobServer interface {
	Verify(key, expires, sig string, now time.Time) error
	Get(ctx context.Context, key string) ([]byte, error)
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handlers contains all HTTP request handlers
type Handlers struct {
	services Services
	config   ServerConfig
	logger   Logger
	now      func() time.Time
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, config ServerConfig, logger Logger) *Handlers {
	return &Handlers{
		services: services,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// CorrectionRequest is the body of PUT /api/invoices/:id/extraction
type CorrectionRequest struct {
	Amount        *float64 `json:"amount"`
	Date          *string  `json:"date"`
	Vendor        *string  `json:"vendor"`
	InvoiceNumber *string  `json:"invoice_number"`
}

// CorrectionResponse carries the updated record and fresh suggestions
type CorrectionResponse struct {
	Invoice     *entity.InvoiceRecord    `json:"invoice"`
	Suggestions []entity.MatchSuggestion `json:"suggestions"`
}

// LinkRequest is the body of POST /api/invoices/:id/link
type LinkRequest struct {
	LedgerEntryID int64 `json:"ledger_entry_id" binding:"required,gt=0"`
}

// DownloadResponse carries a time-limited download URL
type DownloadResponse struct {
	URL string `json:"url"`
}

// SettingsResponse carries the override and the resulting budget
type SettingsResponse struct {
	Settings entity.ExtractionSettings `json:"settings"`
	Budget   entity.BudgetSnapshot     `json:"budget"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    response,
	})
}

// BulkUpload handles POST /api/invoices/bulk
func (h *Handlers) BulkUpload(c *gin.Context) {
	limit := int64(h.config.MaxBatchFiles)*h.config.MaxFileBytes + 1<<20
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	form, err := c.MultipartForm()
	if err != nil {
		h.logger.Warn("Malformed multipart upload", "error", err)
		badRequest(c, "malformed multipart body")
		return
	}

	headers := form.File["files"]
	if len(headers) > h.config.MaxBatchFiles {
		badRequest(c, fmt.Sprintf("too many files: %d, maximum is %d", len(headers), h.config.MaxBatchFiles))
		return
	}

	files := make([]service.UploadFile, 0, len(headers))
	for _, fh := range headers {
		file, err := h.readUpload(fh)
		if err != nil {
			h.logger.Warn("Failed to read uploaded file", "file_name", fh.Filename, "error", err)
			badRequest(c, "malformed multipart body")
			return
		}
		files = append(files, file)
	}

	result, err := h.services.Ingest.IngestBatch(c.Request.Context(), c.GetString(userIDKey), files)
	if err != nil {
		h.writeError(c, "bulk_upload", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    result,
	})
}

// readUpload reads at most one byte past the size limit so the service can
// reject oversized files per file
func (h *Handlers) readUpload(fh *multipart.FileHeader) (service.UploadFile, error) {
	f, err := fh.Open()
	if err != nil {
		return service.UploadFile{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.config.MaxFileBytes+1))
	if err != nil {
		return service.UploadFile{}, err
	}

	mediaType := fh.Header.Get("Content-Type")
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}

	return service.UploadFile{FileName: fh.Filename, MediaType: mediaType, Data: data}, nil
}

// GetInvoice handles GET /api/invoices/:id
func (h *Handlers) GetInvoice(c *gin.Context) {
	id, ok := invoiceID(c)
	if !ok {
		return
	}

	record, err := h.services.Invoices.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "get_invoice", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    record,
	})
}

// GetMatches handles GET /api/invoices/:id/matches
func (h *Handlers) GetMatches(c *gin.Context) {
	id, ok := invoiceID(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 50 {
			badRequest(c, "limit must be between 1 and 50")
			return
		}
		limit = n
	}

	suggestions, err := h.services.Invoices.Matches(c.Request.Context(), id, limit)
	if err != nil {
		h.writeError(c, "get_matches", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    suggestions,
	})
}

// CorrectExtraction handles PUT /api/invoices/:id/extraction
func (h *Handlers) CorrectExtraction(c *gin.Context) {
	id, ok := invoiceID(c)
	if !ok {
		return
	}

	var req CorrectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid correction body")
		return
	}

	record, suggestions, err := h.services.Invoices.Correct(c.Request.Context(), c.GetString(userIDKey), id, service.Correction{
		Amount:        req.Amount,
		Date:          req.Date,
		Vendor:        req.Vendor,
		InvoiceNumber: req.InvoiceNumber,
	})
	if err != nil {
		h.writeError(c, "correct_extraction", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    CorrectionResponse{Invoice: record, Suggestions: suggestions},
	})
}

// LinkInvoice handles POST /api/invoices/:id/link
func (h *Handlers) LinkInvoice(c *gin.Context) {
	id, ok := invoiceID(c)
	if !ok {
		return
	}

	var req LinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "ledger_entry_id is required")
		return
	}

	record, err := h.services.Invoices.Link(c.Request.Context(), c.GetString(userIDKey), id, req.LedgerEntryID)
	if err != nil {
		h.writeError(c, "link_invoice", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    record,
	})
}

// DeleteInvoice handles DELETE /api/invoices/:id
func (h *Handlers) DeleteInvoice(c *gin.Context) {
	id, ok := invoiceID(c)
	if !ok {
		return
	}

	if err := h.services.Invoices.Remove(c.Request.Context(), c.GetString(userIDKey), id); err != nil {
		h.writeError(c, "delete_invoice", err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetDownloadURL handles GET /api/invoices/:id/download
func (h *Handlers) GetDownloadURL(c *gin.Context) {
	id, ok := invoiceID(c)
	if !ok {
		return
	}

	url, err := h.services.Invoices.DownloadURL(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "download_url", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    DownloadResponse{URL: url},
	})
}

// GetBudget handles GET /api/budget
func (h *Handlers) GetBudget(c *gin.Context) {
	snapshot, err := h.services.Budget.CheckBudget(c.Request.Context())
	if err != nil {
		h.writeError(c, "get_budget", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    snapshot,
	})
}

// GetSettings handles GET /api/settings/extraction
func (h *Handlers) GetSettings(c *gin.Context) {
	settings, err := h.services.Budget.Settings(c.Request.Context())
	if err != nil {
		h.writeError(c, "get_settings", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    settings,
	})
}

// UpdateSettings handles PUT /api/settings/extraction
func (h *Handlers) UpdateSettings(c *gin.Context) {
	var req entity.ExtractionSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid settings body")
		return
	}

	ctx := c.Request.Context()
	if err := h.services.Budget.UpdateSettings(ctx, req); err != nil {
		h.writeError(c, "update_settings", err)
		return
	}

	snapshot, err := h.services.Budget.CheckBudget(ctx)
	if err != nil {
		h.writeError(c, "update_settings", err)
		return
	}

	h.logger.Info("Extraction settings changed", "user_id", c.GetString(userIDKey))
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    SettingsResponse{Settings: req, Budget: snapshot},
	})
}

// UsageReport handles GET /api/usage/report?month=YYYY-MM
func (h *Handlers) UsageReport(c *gin.Context) {
	month := c.Query("month")
	if month == "" {
		month = h.now().UTC().Format("2006-01")
	}

	monthStart, err := utils.ParseMonth(month, time.UTC)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	data, err := h.services.Reports.UsageReportXLSX(c.Request.Context(), monthStart)
	if err != nil {
		h.writeError(c, "usage_report", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="extraction-usage-%s.xlsx"`, month))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// ServeBlob handles GET /blobs/*key for locally stored files
func (h *Handlers) ServeBlob(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")

	if err := h.services.Blobs.Verify(key, c.Query("expires"), c.Query("sig"), h.now()); err != nil {
		status := http.StatusForbidden
		if errors.Is(err, storage.ErrURLExpired) {
			status = http.StatusGone
		}
		c.JSON(status, Response{Success: false, Error: err.Error()})
		return
	}

	data, err := h.services.Blobs.Get(c.Request.Context(), key)
	if errors.Is(err, port.ErrBlobNotFound) {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "blob not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to read blob", "key", key, "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: http.StatusText(http.StatusInternalServerError)})
		return
	}

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename=%q`, path.Base(key)))
	c.Data(http.StatusOK, contentType, data)
}

// invoiceID parses the :id path parameter, answering 400 when malformed
func invoiceID(c *gin.Context) (int64, bool) {
	idStr := c.Param("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid invoice ID")
		return 0, false
	}
	return id, true
}

var (
	_ Ingester          = (*service.IngestService)(nil)
	_ InvoiceOperations = (*service.InvoiceService)(nil)
	_ BudgetOperations  = (*service.BudgetService)(nil)
	_ UsageReporter     = (*service.ReportService)(nil)
	_ BlobServer        = (*storage.LocalBlobStore)(nil)
)
