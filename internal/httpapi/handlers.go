package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const defaultMovementsLimit = 50

// SaleRegistrar регистрирует продажу одной транзакцией.
type SaleRegistrar interface {
	Register(ctx context.Context, sale domain.Sale) (domain.Sale, error)
}

// HistoryService отвечает на read-only запросы по продажам.
type HistoryService interface {
	ByDocumentNumber(ctx context.Context, number string) ([]domain.Sale, error)
	ByDateRange(ctx context.Context, from, to string) ([]domain.Sale, error)
	Report(ctx context.Context, from, to string) ([]domain.ReportLine, error)
	Summary(ctx context.Context) (domain.DashboardSummary, error)
	InvalidateSummary(ctx context.Context)
}

// Handler содержит HTTP-обработчики API продаж.
type Handler struct {
	registrar SaleRegistrar
	history   HistoryService
	products  domain.ProductReader
	logger    *log.Entry
}

// NewHandler создаёт обработчики API.
func NewHandler(registrar SaleRegistrar, historyService HistoryService, products domain.ProductReader, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	return &Handler{
		registrar: registrar,
		history:   historyService,
		products:  products,
		logger:    logger,
	}
}

// RegisterSale обрабатывает POST /api/sales.
func (h *Handler) RegisterSale(c *gin.Context) {
	var req RegisterSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("failed to bind register sale request")
		respondBadRequest(c, "invalid request payload")
		return
	}

	sale, err := h.registrar.Register(c.Request.Context(), req.toDomain())
	if err != nil {
		h.logger.WithError(err).WithField("items", len(req.Items)).Warn("sale registration rejected")
		respondError(c, err)
		return
	}

	// Сводка считается по продажам, поэтому после регистрации её кэш устарел.
	h.history.InvalidateSummary(c.Request.Context())

	h.logger.WithFields(log.Fields{
		"sale_id":         sale.ID,
		"document_number": sale.DocumentNumber,
		"total":           sale.Total.StringFixed(2),
	}).Info("sale registered")

	respondOK(c, http.StatusCreated, toSaleResponse(sale))
}

// SalesHistory обрабатывает GET /api/sales/history.
func (h *Handler) SalesHistory(c *gin.Context) {
	var (
		sales []domain.Sale
		err   error
	)

	switch strings.ToLower(strings.TrimSpace(c.DefaultQuery("search_by", "date"))) {
	case "date":
		sales, err = h.history.ByDateRange(c.Request.Context(), c.Query("from"), c.Query("to"))
	case "number":
		sales, err = h.history.ByDocumentNumber(c.Request.Context(), c.Query("number"))
	default:
		respondBadRequest(c, "search_by must be one of: date, number")
		return
	}
	if err != nil {
		h.logger.WithError(err).Warn("failed to load sales history")
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, toSaleResponses(sales))
}

// SalesReport обрабатывает GET /api/sales/report.
func (h *Handler) SalesReport(c *gin.Context) {
	lines, err := h.history.Report(c.Request.Context(), c.Query("from"), c.Query("to"))
	if err != nil {
		h.logger.WithError(err).Warn("failed to build sales report")
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, toReportResponses(lines))
}

// DashboardSummary обрабатывает GET /api/dashboard/summary.
func (h *Handler) DashboardSummary(c *gin.Context) {
	summary, err := h.history.Summary(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("failed to build dashboard summary")
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, toSummaryResponse(summary))
}

// GetProduct обрабатывает GET /api/products/:id.
func (h *Handler) GetProduct(c *gin.Context) {
	id, ok := productIDParam(c)
	if !ok {
		return
	}
	product, err := h.products.GetProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, toProductResponse(product))
}

// ProductMovements обрабатывает GET /api/products/:id/movements.
func (h *Handler) ProductMovements(c *gin.Context) {
	id, ok := productIDParam(c)
	if !ok {
		return
	}

	limit := defaultMovementsLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondBadRequest(c, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	if _, err := h.products.GetProduct(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	movements, err := h.products.ListStockMovements(c.Request.Context(), id, limit)
	if err != nil {
		h.logger.WithError(err).WithField("product_id", id).Error("failed to list stock movements")
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, toMovementResponses(movements))
}

func productIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondBadRequest(c, "product id must be a positive integer")
		return 0, false
	}
	return id, true
}
